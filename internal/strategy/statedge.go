package strategy

import (
	"log/slog"
	"sync"
	"time"

	"predict-agent/internal/domain"
	"predict-agent/internal/money"
)

// StatEdgeConfig holds the per-deployment tunables for the statistical-edge
// strategy (§4.8, §6).
type StatEdgeConfig struct {
	Enabled        bool
	CooldownPeriod time.Duration // default 10s
	MinEdge        float64
	MaxQuantity    int64
}

// StatEdge compares sportsbook-derived fair probabilities against the
// market's own quotes and trades the deviation.
type StatEdge struct {
	cfg StatEdgeConfig

	mu        sync.Mutex
	cooldowns map[string]time.Time

	logger *slog.Logger
}

// NewStatEdge builds the statistical-edge strategy.
func NewStatEdge(cfg StatEdgeConfig, logger *slog.Logger) *StatEdge {
	return &StatEdge{
		cfg:       cfg,
		cooldowns: make(map[string]time.Time),
		logger:    logger.With("component", "strategy.statedge"),
	}
}

// Tick evaluates one odds snapshot against its matching market, cooldown-
// gated per slug. Unlike the live-arbitrage strategy it may emit both a YES
// and a NO signal in the same tick if both sides clear min_edge.
func (e *StatEdge) Tick(snap domain.OddsSnapshot, m domain.Market, now time.Time) []domain.Signal {
	if !e.cfg.Enabled {
		return nil
	}
	if snap.Slug == "" || m.YesAsk == nil {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if until, ok := e.cooldowns[snap.Slug]; ok && now.Before(until) {
		return nil
	}

	var out []domain.Signal
	yesAsk := m.YesAsk.InexactFloat64()
	yesEdge := snap.YesProbability - yesAsk
	if yesEdge >= e.cfg.MinEdge {
		out = append(out, domain.Signal{
			Slug: snap.Slug, Action: domain.BuyYes, Price: *m.YesAsk, Quantity: e.cfg.MaxQuantity,
			Urgency: domain.Medium, Confidence: snap.Confidence, StrategyName: "statistical_edge",
			Reason: "odds_vs_market:" + snap.Provider, Timestamp: now,
			Metadata: map[string]any{"true_probability": snap.YesProbability},
		})
	}

	var noAsk float64
	haveNoAsk := false
	if m.NoAsk != nil {
		noAsk = m.NoAsk.InexactFloat64()
		haveNoAsk = true
	} else if m.YesBid != nil {
		noAsk = 1 - m.YesBid.InexactFloat64()
		haveNoAsk = true
	}
	if haveNoAsk {
		noProbability := 1 - snap.YesProbability
		noEdge := noProbability - noAsk
		if noEdge >= e.cfg.MinEdge {
			out = append(out, domain.Signal{
				Slug: snap.Slug, Action: domain.BuyNo, Price: money.FromLossyFloat(noAsk), Quantity: e.cfg.MaxQuantity,
				Urgency: domain.Medium, Confidence: snap.Confidence, StrategyName: "statistical_edge",
				Reason: "odds_vs_market:" + snap.Provider, Timestamp: now,
				Metadata: map[string]any{"true_probability": noProbability},
			})
		}
	}

	if len(out) > 0 {
		e.cooldowns[snap.Slug] = now.Add(e.cfg.CooldownPeriod)
	}
	return out
}
