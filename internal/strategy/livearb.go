package strategy

import (
	"log/slog"
	"sync"
	"time"

	"predict-agent/internal/domain"
	"predict-agent/internal/money"
)

// LiveArbConfig holds the per-deployment tunables for the live-arbitrage
// strategy (§4.7, §6).
type LiveArbConfig struct {
	Enabled        bool
	CooldownPeriod time.Duration // default 5s
	MaxProbShift   float64
	LeadMultiplier float64
	MinEdge        float64
	// MaxQuantity is the requested size before the risk pipeline's Kelly
	// sizer clamps it down from true_probability metadata (§4.5 step 6).
	MaxQuantity int64
}

// LiveArb derives a fair-YES-probability estimate from in-game score
// differentials and trades the larger of the YES/NO edge when it clears
// min_edge.
type LiveArb struct {
	cfg LiveArbConfig

	mu        sync.Mutex
	snapshots map[string]domain.GameState // keyed by slug
	cooldowns map[string]time.Time

	logger *slog.Logger
}

// NewLiveArb builds the live-arbitrage strategy.
func NewLiveArb(cfg LiveArbConfig, logger *slog.Logger) *LiveArb {
	return &LiveArb{
		cfg:       cfg,
		snapshots: make(map[string]domain.GameState),
		cooldowns: make(map[string]time.Time),
		logger:    logger.With("component", "strategy.livearb"),
	}
}

// OnGameState records the latest score snapshot for its slug. Signal
// emission happens on Tick, matching §4.9's ordering (the engine ticks every
// registered strategy after draining market updates).
func (a *LiveArb) OnGameState(gs domain.GameState) {
	if gs.Slug == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.snapshots[gs.Slug] = gs
}

// Tick evaluates every tracked game against its matching market and emits at
// most one signal per market: the best single-side edge that clears
// min_edge, at High urgency.
func (a *LiveArb) Tick(markets map[string]domain.Market, now time.Time) []domain.Signal {
	if !a.cfg.Enabled {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	var out []domain.Signal
	for slug, gs := range a.snapshots {
		if gs.IsFinal {
			continue
		}
		if until, ok := a.cooldowns[slug]; ok && now.Before(until) {
			continue
		}
		m, ok := markets[slug]
		if !ok || m.YesAsk == nil {
			continue
		}

		p := fairYesProbability(gs, a.cfg.MaxProbShift, a.cfg.LeadMultiplier)
		lead := abs(gs.HomeScore - gs.AwayScore)

		sig, ok := a.bestEdgeSignal(slug, m, p, lead, now)
		if !ok {
			continue
		}
		out = append(out, sig)
		a.cooldowns[slug] = now.Add(a.cfg.CooldownPeriod)
	}
	return out
}

// fairYesProbability implements the §4.7 lead-driven probability estimate:
// a signed shift off 0.5 capped at max_prob_shift, flipped when the home
// team is NO, clamped to [0.05, 0.95].
func fairYesProbability(gs domain.GameState, maxShift, leadMultiplier float64) float64 {
	lead := float64(abs(gs.HomeScore - gs.AwayScore))
	shift := leadMultiplier * lead
	if shift > maxShift {
		shift = maxShift
	}

	p := 0.5
	if gs.HomeScore >= gs.AwayScore {
		p = 0.5 + shift
	} else {
		p = 0.5 - shift
	}
	if !gs.HomeIsYes {
		p = 1 - p
	}
	if p < 0.05 {
		p = 0.05
	}
	if p > 0.95 {
		p = 0.95
	}
	return p
}

// bestEdgeSignal picks whichever of the YES/NO side has the larger edge
// against the fair probability p, returning it as a High-urgency signal with
// true_probability metadata for the risk pipeline's Kelly sizer.
func (a *LiveArb) bestEdgeSignal(slug string, m domain.Market, p float64, lead int, now time.Time) (domain.Signal, bool) {
	yesAsk := m.YesAsk.InexactFloat64()

	var noAsk float64
	haveNoAsk := false
	if m.NoAsk != nil {
		noAsk = m.NoAsk.InexactFloat64()
		haveNoAsk = true
	} else if m.YesBid != nil {
		noAsk = 1 - m.YesBid.InexactFloat64()
		haveNoAsk = true
	}

	yesEdge := p - yesAsk
	noEdge := -1.0
	if haveNoAsk {
		noEdge = (1 - p) - noAsk
	}

	confidence := 0.55 + 0.05*float64(lead)
	if confidence > 0.9 {
		confidence = 0.9
	}

	if yesEdge >= noEdge && yesEdge >= a.cfg.MinEdge {
		return domain.Signal{
			Slug: slug, Action: domain.BuyYes, Price: *m.YesAsk, Quantity: a.cfg.MaxQuantity,
			Urgency: domain.High, Confidence: confidence, StrategyName: "live_arbitrage",
			Reason: "score_driven_edge", Timestamp: now,
			Metadata: map[string]any{"true_probability": p},
		}, true
	}
	if haveNoAsk && noEdge > yesEdge && noEdge >= a.cfg.MinEdge {
		return domain.Signal{
			Slug: slug, Action: domain.BuyNo, Price: money.FromLossyFloat(noAsk), Quantity: a.cfg.MaxQuantity,
			Urgency: domain.High, Confidence: confidence, StrategyName: "live_arbitrage",
			Reason: "score_driven_edge", Timestamp: now,
			Metadata: map[string]any{"true_probability": 1 - p},
		}, true
	}
	return domain.Signal{}, false
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
