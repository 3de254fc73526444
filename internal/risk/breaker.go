package risk

import (
	"fmt"
	"log/slog"
	"sync"

	"predict-agent/internal/money"
)

// CircuitBreaker halts new trading once the equity loss against starting
// equity, or the drawdown from peak equity, crosses a configured threshold. It is one-way: once
// tripped it stays tripped until Reset is called explicitly (§4.5.2).
type CircuitBreaker struct {
	mu sync.Mutex

	dailyLossLimit money.Money
	maxDrawdownPct float64

	startingEquity money.Money
	peakEquity     money.Money
	tripped        bool
	tripReason     string

	logger *slog.Logger
}

// NewCircuitBreaker builds a breaker with the given loss/drawdown limits.
// Call Initialize before first use.
func NewCircuitBreaker(dailyLossLimit money.Money, maxDrawdownPct float64, logger *slog.Logger) *CircuitBreaker {
	return &CircuitBreaker{
		dailyLossLimit: dailyLossLimit,
		maxDrawdownPct: maxDrawdownPct,
		logger:         logger.With("component", "circuit_breaker"),
	}
}

// Initialize (re)seeds starting/peak equity and clears any trip.
func (c *CircuitBreaker) Initialize(equity money.Money) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.startingEquity = equity
	c.peakEquity = equity
	c.tripped = false
	c.tripReason = ""
}

// Update feeds the latest equity reading and checks both trip conditions.
// A no-op once already tripped.
func (c *CircuitBreaker) Update(currentEquity money.Money) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.tripped {
		return
	}

	if currentEquity.GreaterThan(c.peakEquity) {
		c.peakEquity = currentEquity
	}

	dailyLoss := c.startingEquity.Sub(currentEquity)
	if dailyLoss.GreaterThanOrEqual(c.dailyLossLimit) {
		c.trip(fmt.Sprintf("daily loss limit exceeded: %s >= %s", dailyLoss, c.dailyLossLimit))
		return
	}

	if c.peakEquity.IsPositive() {
		drawdownPct := c.peakEquity.Sub(currentEquity).Div(c.peakEquity).InexactFloat64()
		if drawdownPct >= c.maxDrawdownPct {
			c.trip(fmt.Sprintf("max drawdown exceeded: %.2f%% >= %.2f%%", drawdownPct*100, c.maxDrawdownPct*100))
		}
	}
}

// CanTrade reports whether new trading is currently allowed, and the trip
// reason if not.
func (c *CircuitBreaker) CanTrade() (bool, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tripped {
		return false, c.tripReason
	}
	return true, ""
}

// EmergencyStop trips the breaker immediately regardless of equity.
func (c *CircuitBreaker) EmergencyStop(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.trip(reason)
}

// Reset re-initializes the breaker with a new baseline equity, e.g. at the
// start of a new trading day.
func (c *CircuitBreaker) Reset(newEquity money.Money) {
	c.Initialize(newEquity)
}

// IsTripped reports the current trip state.
func (c *CircuitBreaker) IsTripped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tripped
}

// trip must be called with c.mu held.
func (c *CircuitBreaker) trip(reason string) {
	c.tripped = true
	c.tripReason = reason
	c.logger.Warn("circuit breaker tripped", "reason", reason)
}
