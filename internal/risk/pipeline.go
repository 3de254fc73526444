package risk

import (
	"fmt"
	"log/slog"
	"sync"

	"predict-agent/internal/domain"
	"predict-agent/internal/money"
	"predict-agent/internal/state"
)

// Config is the full set of risk tunables (§6 env vars map onto these).
type Config struct {
	KellyFraction                     float64
	MaxKellyPositionPct               float64
	MinEdge                           float64
	MaxPositionPerMarket              money.Money
	MaxPortfolioExposure              money.Money
	MaxPortfolioExposurePct           float64
	MaxCorrelatedExposure             money.Money
	MaxPositions                      int
	MaxDailyLoss                      money.Money
	MaxDrawdownPct                    float64
	MaxTotalPnLDrawdownPctForNewBuys  float64
	MinTradeSize                      money.Money
}

// Decision is the outcome of evaluating one signal: either approved (with a
// possibly resized signal) or rejected with a reason.
type Decision struct {
	Approved bool
	Signal   *domain.Signal
	Reason   string
}

// cashBuffer reserves 2% of cash as a haircut against price movement between
// sizing and fill (§4.5 step 4).
var cashBuffer = money.New("0.98")

// Manager is the complete risk pipeline: Kelly sizing, exposure monitoring,
// and the circuit breaker, composed behind one fixed evaluation order.
type Manager struct {
	mu sync.Mutex

	cfg   Config
	state *state.Store

	sizer    *KellyPositionSizer
	exposure *ExposureMonitor
	breaker  *CircuitBreaker

	startingEquity money.Money
	logger         *slog.Logger
}

// NewManager builds the risk pipeline, seeding the circuit breaker and
// drawdown gate from the store's current total equity.
func NewManager(cfg Config, st *state.Store, logger *slog.Logger) *Manager {
	logger = logger.With("component", "risk")
	startingEquity := st.GetTotalEquity()

	maxPositionPct := cfg.MaxKellyPositionPct
	if maxPositionPct <= 0 {
		maxPositionPct = 0.1
	}
	sizer := NewKellyPositionSizer(cfg.KellyFraction, maxPositionPct, cfg.MinEdge)
	exposure := NewExposureMonitor(ExposureConfig{
		MaxPositionPerMarket:  cfg.MaxPositionPerMarket,
		MaxPortfolioExposure:  cfg.MaxPortfolioExposure,
		MaxCorrelatedExposure: cfg.MaxCorrelatedExposure,
		MaxPositions:          cfg.MaxPositions,
	})
	breaker := NewCircuitBreaker(cfg.MaxDailyLoss, cfg.MaxDrawdownPct, logger)
	breaker.Initialize(startingEquity)

	logger.Info("risk manager initialized",
		"max_position_per_market", cfg.MaxPositionPerMarket,
		"max_portfolio_exposure", cfg.MaxPortfolioExposure,
		"max_daily_loss", cfg.MaxDailyLoss,
		"kelly_fraction", cfg.KellyFraction,
		"starting_equity", startingEquity,
	)

	return &Manager{
		cfg:            cfg,
		state:          st,
		sizer:          sizer,
		exposure:       exposure,
		breaker:        breaker,
		startingEquity: startingEquity,
		logger:         logger,
	}
}

// OnStateUpdate refreshes the circuit breaker from the store's latest
// equity figure. EvaluateSignal always calls this first.
func (m *Manager) OnStateUpdate() {
	m.breaker.Update(m.state.GetTotalEquity())
}

// ResetStartingEquity re-baselines the drawdown gate and circuit breaker,
// e.g. after the initial venue sync completes.
func (m *Manager) ResetStartingEquity() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startingEquity = m.state.GetTotalEquity()
	m.breaker.Initialize(m.startingEquity)
	m.logger.Info("starting equity reset", "starting_equity", m.startingEquity)
}

// SetCorrelationGroup forwards to the exposure monitor.
func (m *Manager) SetCorrelationGroup(name string, markets []string) {
	m.exposure.SetCorrelationGroup(name, markets)
}

// EmergencyStop trips the circuit breaker immediately.
func (m *Manager) EmergencyStop(reason string) {
	m.breaker.EmergencyStop(reason)
}

// EvaluateSignal runs a signal through the fixed ten-step check order
// (§4.5): cancels always pass; equity refresh; circuit breaker (sells still
// pass to allow exits); non-positive quantity; cash-buffered affordability
// clamp; Kelly sizing clamp; min trade size; portfolio drawdown gate;
// exposure-ceiling clamp; final min-trade-size re-check. The returned
// signal may carry a reduced quantity relative to the input.
func (m *Manager) EvaluateSignal(sig domain.Signal) Decision {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sig.Action.IsCancel() {
		return Decision{Approved: true, Signal: &sig, Reason: "approved: cancel"}
	}

	m.OnStateUpdate()

	if canTrade, reason := m.breaker.CanTrade(); !canTrade {
		if sig.Action.IsSell() {
			return Decision{Approved: true, Signal: &sig, Reason: "approved: circuit breaker allows exits"}
		}
		return Decision{Approved: false, Reason: fmt.Sprintf("circuit breaker: %s", reason)}
	}

	qty := sig.Quantity
	price := sig.Price

	if qty <= 0 {
		return Decision{Approved: false, Reason: "rejected: non-positive quantity"}
	}

	if sig.Action.IsBuy() && price.IsPositive() {
		availableCash := m.state.GetBalance()
		maxAffordable := availableCash.Mul(cashBuffer).Div(price)
		maxAffordableQty := maxAffordable.Floor()

		if maxAffordableQty <= 0 {
			return Decision{Approved: false, Reason: fmt.Sprintf("rejected: insufficient cash (%s available)", availableCash)}
		}
		if qty > maxAffordableQty {
			qty = maxAffordableQty
		}
	}

	if sig.Action.IsBuy() {
		if trueProb, ok := sig.TrueProbability(); ok {
			edge := EdgeEstimate{Probability: trueProb, Confidence: sig.Confidence}
			result, ok := m.sizer.CalculatePositionSize(m.state.GetTotalEquity(), price, edge)
			if !ok {
				return Decision{Approved: false, Reason: "rejected: insufficient edge/confidence"}
			}
			if result.Contracts < qty {
				qty = result.Contracts
			}
		}
	}

	notional := price.MulInt64(qty)
	if notional.LessThan(m.cfg.MinTradeSize) {
		return Decision{Approved: false, Reason: fmt.Sprintf("rejected: below min trade size %s", notional)}
	}

	if sig.Action.IsBuy() {
		if m.isNewBuyBlockedByDrawdown() {
			return Decision{Approved: false, Reason: "rejected: portfolio drawdown blocks new buys"}
		}

		check := m.exposure.CanAddExposure(m.state, sig.Slug, notional)

		currentTotal := m.exposure.TotalExposure(m.state)
		equity := m.state.GetTotalEquity()
		maxByPct := equity.Mul(money.FromLossyFloat(m.cfg.MaxPortfolioExposurePct))
		maxAdditionalPct := nonNegative(maxByPct.Sub(currentTotal))
		maxAdditional := check.MaxAdditionalExposure.Min(maxAdditionalPct)

		if !check.Allowed && !maxAdditional.IsPositive() {
			return Decision{Approved: false, Reason: fmt.Sprintf("rejected: %s", check.Reason)}
		}

		if notional.GreaterThan(maxAdditional) {
			if maxAdditional.GreaterThanOrEqual(m.cfg.MinTradeSize) {
				reducedQty := maxAdditional.Div(price).Floor()
				if reducedQty <= 0 {
					return Decision{Approved: false, Reason: "rejected: exposure limits"}
				}
				if qty > reducedQty {
					qty = reducedQty
				}
			} else {
				return Decision{Approved: false, Reason: "rejected: exposure limits"}
			}
		}

		finalNotional := price.MulInt64(qty)
		if finalNotional.LessThan(m.cfg.MinTradeSize) {
			return Decision{Approved: false, Reason: fmt.Sprintf("rejected: below min trade size %s", finalNotional)}
		}
	}

	approved := sig
	approved.Quantity = qty
	return Decision{Approved: true, Signal: &approved, Reason: "approved"}
}

func (m *Manager) isNewBuyBlockedByDrawdown() bool {
	if m.cfg.MaxTotalPnLDrawdownPctForNewBuys <= 0 {
		return false
	}
	if !m.startingEquity.IsPositive() {
		return false
	}
	current := m.state.GetTotalEquity()
	drawdownPct := m.startingEquity.Sub(current).Div(m.startingEquity).InexactFloat64()
	return drawdownPct >= m.cfg.MaxTotalPnLDrawdownPctForNewBuys
}
