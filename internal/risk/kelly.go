// Package risk implements the fixed-order signal evaluation pipeline
// (§4.5): Kelly Criterion position sizing, exposure monitoring, and a
// one-way circuit breaker, composed by Manager.EvaluateSignal.
package risk

import (
	"math"

	"predict-agent/internal/money"
)

// EdgeEstimate is the strategy's estimate of the true outcome probability
// and its confidence in that estimate, in [0, 1].
type EdgeEstimate struct {
	Probability float64
	Confidence  float64
}

// PositionSizeResult is the outcome of a Kelly sizing calculation.
type PositionSizeResult struct {
	Edge          float64
	KellyFull     float64
	KellyAdjusted float64
	Notional      money.Money
	Contracts     int64
}

// KellyPositionSizer sizes a buy using fractional Kelly scaled by estimate
// confidence, for a contract that pays $1 if the outcome occurs and $0
// otherwise.
type KellyPositionSizer struct {
	KellyFraction  float64
	MaxPositionPct float64
	MinEdge        float64
}

// NewKellyPositionSizer builds a sizer from its three tunables.
func NewKellyPositionSizer(kellyFraction, maxPositionPct, minEdge float64) *KellyPositionSizer {
	return &KellyPositionSizer{
		KellyFraction:  kellyFraction,
		MaxPositionPct: maxPositionPct,
		MinEdge:        minEdge,
	}
}

// CalculatePositionSize returns the sized position, or ok=false when the
// trade should be skipped (no edge, non-positive Kelly fraction, or the
// sized notional rounds to zero contracts).
func (k *KellyPositionSizer) CalculatePositionSize(bankroll, marketPrice money.Money, edge EdgeEstimate) (PositionSizeResult, bool) {
	if !bankroll.IsPositive() {
		return PositionSizeResult{}, false
	}
	if !marketPrice.IsPositive() || marketPrice.GreaterThanOrEqual(money.One) {
		return PositionSizeResult{}, false
	}

	price := marketPrice.InexactFloat64()
	impliedEdge := edge.Probability - price
	if math.Abs(impliedEdge) < k.MinEdge {
		return PositionSizeResult{}, false
	}

	p := edge.Probability
	q := 1 - p

	// Net odds ratio for a binary $1 payout: b = (1-P)/P.
	b := (1 - price) / price
	if b <= 0 {
		return PositionSizeResult{}, false
	}

	kellyFull := (p*b - q) / b
	if kellyFull <= 0 {
		return PositionSizeResult{}, false
	}

	kellyAdjusted := kellyFull * k.KellyFraction * edge.Confidence
	if kellyAdjusted < 0 {
		kellyAdjusted = 0
	}
	if kellyAdjusted > k.MaxPositionPct {
		kellyAdjusted = k.MaxPositionPct
	}

	notional := bankroll.Mul(money.FromLossyFloat(kellyAdjusted))
	if !notional.IsPositive() {
		return PositionSizeResult{}, false
	}

	contracts := notional.Div(marketPrice).Floor()
	if contracts <= 0 {
		return PositionSizeResult{}, false
	}

	return PositionSizeResult{
		Edge:          impliedEdge,
		KellyFull:     kellyFull,
		KellyAdjusted: kellyAdjusted,
		Notional:      notional,
		Contracts:     contracts,
	}, true
}
