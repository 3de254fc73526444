package risk

import (
	"fmt"
	"sync"

	"predict-agent/internal/domain"
	"predict-agent/internal/money"
	"predict-agent/internal/state"
)

// ExposureConfig carries the per-market, portfolio, correlation-group, and
// position-count ceilings enforced by ExposureMonitor.
type ExposureConfig struct {
	MaxPositionPerMarket  money.Money
	MaxPortfolioExposure  money.Money
	MaxCorrelatedExposure money.Money
	MaxPositions          int
}

// ExposureCheck is the result of an exposure headroom check.
type ExposureCheck struct {
	Allowed               bool
	Reason                string
	MaxAdditionalExposure money.Money
}

// ExposureMonitor enforces exposure ceilings in the fixed order: per-market,
// then portfolio-wide, then position count, then correlation group.
type ExposureMonitor struct {
	cfg ExposureConfig

	mu                sync.RWMutex
	correlationGroups map[string][]string
}

// NewExposureMonitor builds a monitor from its limit configuration.
func NewExposureMonitor(cfg ExposureConfig) *ExposureMonitor {
	return &ExposureMonitor{
		cfg:               cfg,
		correlationGroups: make(map[string][]string),
	}
}

// SetCorrelationGroup defines a named set of markets that move together, so
// exposure to all of them is capped jointly.
func (e *ExposureMonitor) SetCorrelationGroup(name string, markets []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.correlationGroups[name] = markets
}

// CanAddExposure checks whether additionalExposure can be added to slug
// without breaching any configured ceiling, given the store's current
// positions.
func (e *ExposureMonitor) CanAddExposure(st *state.Store, slug string, additionalExposure money.Money) ExposureCheck {
	e.mu.RLock()
	groups := e.correlationGroups
	e.mu.RUnlock()

	currentMarket := st.MarketExposure(slug)
	marketHeadroom := e.cfg.MaxPositionPerMarket.Sub(currentMarket)

	if currentMarket.Add(additionalExposure).GreaterThan(e.cfg.MaxPositionPerMarket) {
		return ExposureCheck{
			Allowed: false,
			Reason: fmt.Sprintf("per-market limit: current %s + %s > %s",
				currentMarket, additionalExposure, e.cfg.MaxPositionPerMarket),
			MaxAdditionalExposure: nonNegative(marketHeadroom),
		}
	}

	totalExposure := e.TotalExposure(st)
	portfolioHeadroom := e.cfg.MaxPortfolioExposure.Sub(totalExposure)

	if totalExposure.Add(additionalExposure).GreaterThan(e.cfg.MaxPortfolioExposure) {
		return ExposureCheck{
			Allowed: false,
			Reason: fmt.Sprintf("portfolio limit: current %s + %s > %s",
				totalExposure, additionalExposure, e.cfg.MaxPortfolioExposure),
			MaxAdditionalExposure: nonNegative(portfolioHeadroom.Min(marketHeadroom)),
		}
	}

	positionCount := st.PositionCount()
	_, hasYes := st.GetPosition(slug, domain.Yes)
	_, hasNo := st.GetPosition(slug, domain.No)
	isNewPosition := !hasYes && !hasNo
	if isNewPosition && positionCount >= e.cfg.MaxPositions {
		return ExposureCheck{
			Allowed:               false,
			Reason:                fmt.Sprintf("max positions: %d >= %d", positionCount, e.cfg.MaxPositions),
			MaxAdditionalExposure: money.Zero,
		}
	}

	for _, groupMarkets := range groups {
		if !contains(groupMarkets, slug) {
			continue
		}
		groupExposure := money.Zero
		for _, m := range groupMarkets {
			groupExposure = groupExposure.Add(st.MarketExposure(m))
		}
		corrHeadroom := e.cfg.MaxCorrelatedExposure.Sub(groupExposure)

		if groupExposure.Add(additionalExposure).GreaterThan(e.cfg.MaxCorrelatedExposure) {
			return ExposureCheck{
				Allowed:               false,
				Reason:                "correlation group limit exceeded",
				MaxAdditionalExposure: nonNegative(corrHeadroom.Min(marketHeadroom).Min(portfolioHeadroom)),
			}
		}
	}

	return ExposureCheck{
		Allowed:               true,
		Reason:                "OK",
		MaxAdditionalExposure: nonNegative(marketHeadroom.Min(portfolioHeadroom)),
	}
}

// TotalExposure returns the portfolio-wide cost-basis notional.
func (e *ExposureMonitor) TotalExposure(st *state.Store) money.Money {
	return st.GetTotalPositionValue()
}

func nonNegative(m money.Money) money.Money {
	if m.IsNegative() {
		return money.Zero
	}
	return m
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
