package risk

import (
	"testing"

	"predict-agent/internal/domain"
	"predict-agent/internal/money"
	"predict-agent/internal/state"
)

func testConfig() Config {
	return Config{
		KellyFraction:                    0.25,
		MaxKellyPositionPct:              0.1,
		MinEdge:                          0.02,
		MaxPositionPerMarket:             money.New("1000"),
		MaxPortfolioExposure:             money.New("5000"),
		MaxPortfolioExposurePct:          0.50,
		MaxCorrelatedExposure:            money.New("2000"),
		MaxPositions:                     20,
		MaxDailyLoss:                     money.New("1000"),
		MaxDrawdownPct:                   0.20,
		MaxTotalPnLDrawdownPctForNewBuys: 0.15,
		MinTradeSize:                     money.New("1"),
	}
}

func newManagerWithBalance(t *testing.T, balance money.Money) (*Manager, *state.Store) {
	t.Helper()
	st := state.NewStore()
	st.SetBalance(balance)
	return NewManager(testConfig(), st, testLogger()), st
}

func TestEvaluateSignalAlwaysApprovesCancelAll(t *testing.T) {
	t.Parallel()
	m, _ := newManagerWithBalance(t, money.New("10000"))
	sig := domain.Signal{Slug: "m1", Action: domain.CancelAll}

	d := m.EvaluateSignal(sig)
	if !d.Approved {
		t.Fatalf("expected cancel-all to always approve, got %q", d.Reason)
	}
}

func TestEvaluateSignalRejectsNonPositiveQuantity(t *testing.T) {
	t.Parallel()
	m, _ := newManagerWithBalance(t, money.New("10000"))
	sig := domain.Signal{Slug: "m1", Action: domain.BuyYes, Price: money.New("0.5"), Quantity: 0}

	d := m.EvaluateSignal(sig)
	if d.Approved {
		t.Fatal("expected rejection for non-positive quantity")
	}
}

func TestEvaluateSignalClampsToAffordableQuantity(t *testing.T) {
	t.Parallel()
	m, _ := newManagerWithBalance(t, money.New("100"))
	sig := domain.Signal{Slug: "m1", Action: domain.BuyYes, Price: money.New("0.50"), Quantity: 1000}

	d := m.EvaluateSignal(sig)
	if !d.Approved {
		t.Fatalf("expected approval with clamped quantity, got %q", d.Reason)
	}
	// Cash affords floor(100*0.98/0.50)=196, but the 50%-of-equity exposure
	// ceiling (equity=100, cap=50) binds tighter: floor(50/0.50)=100.
	if d.Signal.Quantity != 100 {
		t.Errorf("Quantity = %d, want 100", d.Signal.Quantity)
	}
}

func TestEvaluateSignalRejectsInsufficientCash(t *testing.T) {
	t.Parallel()
	m, _ := newManagerWithBalance(t, money.New("0.10"))
	sig := domain.Signal{Slug: "m1", Action: domain.BuyYes, Price: money.New("0.50"), Quantity: 10}

	d := m.EvaluateSignal(sig)
	if d.Approved {
		t.Fatal("expected rejection for insufficient cash")
	}
}

func TestEvaluateSignalRejectsBelowMinTradeSize(t *testing.T) {
	t.Parallel()
	m, _ := newManagerWithBalance(t, money.New("10000"))
	sig := domain.Signal{Slug: "m1", Action: domain.BuyYes, Price: money.New("0.01"), Quantity: 50}
	m.cfg.MinTradeSize = money.New("5")

	d := m.EvaluateSignal(sig)
	if d.Approved {
		t.Fatal("expected rejection below min trade size")
	}
}

func TestEvaluateSignalAppliesKellySizingFromTrueProbability(t *testing.T) {
	t.Parallel()
	m, _ := newManagerWithBalance(t, money.New("10000"))
	sig := domain.Signal{
		Slug: "m1", Action: domain.BuyYes, Price: money.New("0.50"), Quantity: 10000,
		Confidence: 1.0,
		Metadata:   map[string]any{"true_probability": 0.65},
	}

	d := m.EvaluateSignal(sig)
	if !d.Approved {
		t.Fatalf("expected approval, got %q", d.Reason)
	}
	if d.Signal.Quantity >= 10000 {
		t.Errorf("expected Kelly sizing to shrink the requested quantity, got %d", d.Signal.Quantity)
	}
}

func TestEvaluateSignalRejectsInsufficientEdge(t *testing.T) {
	t.Parallel()
	m, _ := newManagerWithBalance(t, money.New("10000"))
	sig := domain.Signal{
		Slug: "m1", Action: domain.BuyYes, Price: money.New("0.50"), Quantity: 10,
		Confidence: 1.0,
		Metadata:   map[string]any{"true_probability": 0.505},
	}

	d := m.EvaluateSignal(sig)
	if d.Approved {
		t.Fatal("expected rejection: edge below min_edge")
	}
}

func TestEvaluateSignalCircuitBreakerBlocksBuysButAllowsSells(t *testing.T) {
	t.Parallel()
	m, st := newManagerWithBalance(t, money.New("10000"))
	m.EmergencyStop("test halt")

	buy := domain.Signal{Slug: "m1", Action: domain.BuyYes, Price: money.New("0.5"), Quantity: 10}
	if d := m.EvaluateSignal(buy); d.Approved {
		t.Error("expected buy rejected while breaker tripped")
	}

	st.UpsertPosition(domain.Position{Slug: "m1", Side: domain.Yes, Quantity: 10, AvgPrice: money.New("0.5")})
	sell := domain.Signal{Slug: "m1", Action: domain.SellYes, Price: money.New("0.6"), Quantity: 10}
	if d := m.EvaluateSignal(sell); !d.Approved {
		t.Errorf("expected sell approved to allow exits while breaker tripped, got %q", d.Reason)
	}
}

func TestEvaluateSignalRejectsNewBuyOnPortfolioDrawdown(t *testing.T) {
	t.Parallel()
	st := state.NewStore()
	st.SetBalance(money.New("10000"))
	cfg := testConfig()
	cfg.MaxDailyLoss = money.New("5000") // wide enough that the breaker itself won't trip
	cfg.MaxDrawdownPct = 0.50
	m := NewManager(cfg, st, testLogger())

	// Drop equity by 16% to trip the new-buy drawdown gate (15%) without
	// tripping the wider circuit breaker limits above.
	st.SetBalance(money.New("8400"))

	sig := domain.Signal{Slug: "m1", Action: domain.BuyYes, Price: money.New("0.5"), Quantity: 10}
	d := m.EvaluateSignal(sig)
	if d.Approved {
		t.Fatal("expected rejection: portfolio drawdown blocks new buys")
	}
	if d.Reason != "rejected: portfolio drawdown blocks new buys" {
		t.Errorf("reason = %q", d.Reason)
	}
}

func TestEvaluateSignalClampsToExposureHeadroom(t *testing.T) {
	t.Parallel()
	st := state.NewStore()
	st.SetBalance(money.New("100000"))
	cfg := testConfig()
	cfg.MaxPositionPerMarket = money.New("100")
	m := NewManager(cfg, st, testLogger())

	sig := domain.Signal{Slug: "m1", Action: domain.BuyYes, Price: money.New("0.50"), Quantity: 1000}
	d := m.EvaluateSignal(sig)
	if !d.Approved {
		t.Fatalf("expected approval with reduced quantity, got %q", d.Reason)
	}
	// 100 / 0.50 = 200 contracts max
	if d.Signal.Quantity > 200 {
		t.Errorf("Quantity = %d, want <= 200", d.Signal.Quantity)
	}
}
