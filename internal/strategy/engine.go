package strategy

import (
	"sort"
	"time"

	"predict-agent/internal/domain"
)

// Engine owns optional instances of the three strategies and is the only
// thing the orchestrator talks to (§4.9). Any of Maker, LiveArb, or StatEdge
// may be nil when its ENABLE_* flag is off.
type Engine struct {
	Maker    *Maker
	LiveArb  *LiveArb
	StatEdge *StatEdge

	// OddsSnapshots is the latest snapshot per slug from the odds feed,
	// consumed by Tick. The orchestrator owns writes to this map between
	// ticks; Tick only reads it.
	OddsSnapshots map[string]domain.OddsSnapshot
}

// NewEngine builds the engine from whichever strategies are configured.
func NewEngine(maker *Maker, liveArb *LiveArb, statEdge *StatEdge) *Engine {
	return &Engine{
		Maker:         maker,
		LiveArb:       liveArb,
		StatEdge:      statEdge,
		OddsSnapshots: make(map[string]domain.OddsSnapshot),
	}
}

// OnMarketUpdate runs the market maker and its stop-loss check for the one
// market that changed. Live arb and stat edge are tick-driven only (§4.9).
func (e *Engine) OnMarketUpdate(m domain.Market, now time.Time) []domain.Signal {
	if e.Maker == nil {
		return nil
	}
	return e.Maker.Evaluate(m, now)
}

// Tick runs every configured strategy against the full market set: the
// maker (+ stop-loss) per market, then the live-arb tick, then the
// stat-edge tick. The concatenation order is stable (maker, live arb, stat
// edge); the result is sorted descending by urgency before it's returned so
// risk evaluation sees the most urgent signals first.
func (e *Engine) Tick(markets map[string]domain.Market, now time.Time) []domain.Signal {
	var out []domain.Signal

	if e.Maker != nil {
		for _, m := range markets {
			out = append(out, e.Maker.Evaluate(m, now)...)
		}
	}

	if e.LiveArb != nil {
		out = append(out, e.LiveArb.Tick(markets, now)...)
	}

	if e.StatEdge != nil {
		for slug, snap := range e.OddsSnapshots {
			m, ok := markets[slug]
			if !ok {
				continue
			}
			out = append(out, e.StatEdge.Tick(snap, m, now)...)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Urgency > out[j].Urgency
	})
	return out
}
