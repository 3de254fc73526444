package execution

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"predict-agent/internal/book"
	"predict-agent/internal/domain"
	"predict-agent/internal/money"
	"predict-agent/internal/state"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestPaperExecutor(t *testing.T, balance money.Money) (*PaperExecutor, *state.Store, *book.Tracker) {
	t.Helper()
	st := state.NewStore()
	st.SetBalance(balance)
	tracker := book.NewTracker()
	cfg := PaperConfig{FeeRate: 0.001, SlippageBps: 0.0005}
	return NewPaperExecutor(cfg, st, tracker, testLogger()), st, tracker
}

func seedBook(tracker *book.Tracker, slug string) {
	tracker.Update(domain.OrderBook{
		Slug: slug,
		Yes: domain.OrderBookSide{
			Bids: []domain.PriceLevel{{Price: money.New("0.48"), Quantity: money.New("100")}},
			Asks: []domain.PriceLevel{{Price: money.New("0.50"), Quantity: money.New("50")}, {Price: money.New("0.52"), Quantity: money.New("100")}},
		},
	})
}

func TestDispatchMarketOrderWalksBookAndAppliesSlippage(t *testing.T) {
	t.Parallel()
	p, st, tracker := newTestPaperExecutor(t, money.New("10000"))
	seedBook(tracker, "m1")

	sig := domain.Signal{Slug: "m1", Action: domain.BuyYes, Price: money.New("0.60"), Quantity: 50, Urgency: domain.High}
	if err := p.Dispatch(context.Background(), sig); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	pos, ok := st.GetPosition("m1", domain.Yes)
	if !ok || pos.Quantity != 50 {
		t.Fatalf("expected a 50-contract YES position, got %+v (ok=%v)", pos, ok)
	}
	// VWAP at best ask 0.50 for all 50 contracts, then +5bps slippage.
	wantAvg := money.New("0.50").Mul(money.New("1.0005"))
	if !pos.AvgPrice.Equal(wantAvg) {
		t.Errorf("AvgPrice = %s, want %s", pos.AvgPrice, wantAvg)
	}
}

func TestDispatchMarketOrderWalksMultipleLevels(t *testing.T) {
	t.Parallel()
	p, st, tracker := newTestPaperExecutor(t, money.New("10000"))
	seedBook(tracker, "m1")

	sig := domain.Signal{Slug: "m1", Action: domain.BuyYes, Price: money.New("0.60"), Quantity: 80, Urgency: domain.Critical}
	if err := p.Dispatch(context.Background(), sig); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	pos, ok := st.GetPosition("m1", domain.Yes)
	if !ok || pos.Quantity != 80 {
		t.Fatalf("expected 80 contracts filled across both levels, got %+v", pos)
	}
}

func TestDispatchMarketOrderEmptyBookFallsBackToSignalPrice(t *testing.T) {
	t.Parallel()
	p, st, _ := newTestPaperExecutor(t, money.New("10000"))

	sig := domain.Signal{Slug: "nobookhere", Action: domain.BuyYes, Price: money.New("0.40"), Quantity: 10, Urgency: domain.High}
	if err := p.Dispatch(context.Background(), sig); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	pos, ok := st.GetPosition("nobookhere", domain.Yes)
	if !ok || pos.Quantity != 10 {
		t.Fatalf("expected fallback fill at signal price, got %+v", pos)
	}
}

func TestDispatchBuyRejectedWhenUnaffordable(t *testing.T) {
	t.Parallel()
	p, _, tracker := newTestPaperExecutor(t, money.New("1"))
	seedBook(tracker, "m1")

	sig := domain.Signal{Slug: "m1", Action: domain.BuyYes, Price: money.New("0.60"), Quantity: 50, Urgency: domain.High}
	if err := p.Dispatch(context.Background(), sig); err == nil {
		t.Fatal("expected rejection: insufficient balance")
	}
}

func TestDispatchSellRejectedWithoutPosition(t *testing.T) {
	t.Parallel()
	p, _, tracker := newTestPaperExecutor(t, money.New("10000"))
	seedBook(tracker, "m1")

	sig := domain.Signal{Slug: "m1", Action: domain.SellYes, Price: money.New("0.48"), Quantity: 10, Urgency: domain.High}
	if err := p.Dispatch(context.Background(), sig); err == nil {
		t.Fatal("expected rejection: no position to sell")
	}
}

func TestDispatchLimitOrderPartialFillRests(t *testing.T) {
	t.Parallel()
	p, st, tracker := newTestPaperExecutor(t, money.New("10000"))
	seedBook(tracker, "m1") // best ask 0.50 x 50

	sig := domain.Signal{Slug: "m1", Action: domain.BuyYes, Price: money.New("0.50"), Quantity: 80, Urgency: domain.Low}
	if err := p.Dispatch(context.Background(), sig); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	pos, ok := st.GetPosition("m1", domain.Yes)
	if !ok || pos.Quantity != 50 {
		t.Fatalf("expected the crossing 50 contracts filled immediately, got %+v", pos)
	}
	if len(p.resting) != 1 {
		t.Fatalf("expected the remaining 30 contracts to rest, got %d resting orders", len(p.resting))
	}
}

func TestCheckRestingOrdersFillsOnBookMovement(t *testing.T) {
	t.Parallel()
	p, st, tracker := newTestPaperExecutor(t, money.New("10000"))
	seedBook(tracker, "m1") // best ask 0.50 x 50

	sig := domain.Signal{Slug: "m1", Action: domain.BuyYes, Price: money.New("0.50"), Quantity: 80, Urgency: domain.Low}
	if err := p.Dispatch(context.Background(), sig); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	// A new ask at 0.49 appears, crossing the resting limit for the remainder.
	tracker.Update(domain.OrderBook{
		Slug: "m1",
		Yes: domain.OrderBookSide{
			Asks: []domain.PriceLevel{{Price: money.New("0.49"), Quantity: money.New("30")}},
		},
	})

	if err := p.Tick(context.Background(), 1); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	pos, ok := st.GetPosition("m1", domain.Yes)
	if !ok || pos.Quantity != 80 {
		t.Fatalf("expected the resting order to fully fill, got %+v", pos)
	}
	if len(p.resting) != 0 {
		t.Errorf("expected no resting orders left, got %d", len(p.resting))
	}
}

func TestCancelAllRemovesRestingOrdersForSlug(t *testing.T) {
	t.Parallel()
	p, _, tracker := newTestPaperExecutor(t, money.New("10000"))
	seedBook(tracker, "m1")

	sig := domain.Signal{Slug: "m1", Action: domain.BuyYes, Price: money.New("0.50"), Quantity: 80, Urgency: domain.Low}
	_ = p.Dispatch(context.Background(), sig)
	if len(p.resting) != 1 {
		t.Fatalf("expected one resting order before cancel, got %d", len(p.resting))
	}

	_ = p.Dispatch(context.Background(), domain.Signal{Slug: "m1", Action: domain.CancelAll})
	if len(p.resting) != 0 {
		t.Errorf("expected CancelAll to clear resting orders for the slug, got %d", len(p.resting))
	}
}

func TestSettleRealizesPnLOnSell(t *testing.T) {
	t.Parallel()
	p, st, tracker := newTestPaperExecutor(t, money.New("10000"))
	st.UpsertPosition(domain.Position{Slug: "m1", Side: domain.Yes, Quantity: 100, AvgPrice: money.New("0.40"), CreatedAt: time.Now()})
	tracker.Update(domain.OrderBook{
		Slug: "m1",
		Yes: domain.OrderBookSide{
			Bids: []domain.PriceLevel{{Price: money.New("0.60"), Quantity: money.New("100")}},
		},
	})

	sig := domain.Signal{Slug: "m1", Action: domain.SellYes, Price: money.New("0.55"), Quantity: 100, Urgency: domain.High}
	if err := p.Dispatch(context.Background(), sig); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	if _, ok := st.GetPosition("m1", domain.Yes); ok {
		t.Error("expected the position fully closed")
	}
	balance := st.GetBalance()
	if !balance.GreaterThan(money.New("10000")) {
		t.Errorf("expected balance to grow from the realized gain, got %s", balance)
	}
}
