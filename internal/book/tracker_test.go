package book

import (
	"testing"

	"predict-agent/internal/domain"
	"predict-agent/internal/money"
)

func lvl(price, qty string) domain.PriceLevel {
	return domain.PriceLevel{Price: money.New(price), Quantity: money.New(qty)}
}

func TestUpdateThenGetTopMatchesComputedTop(t *testing.T) {
	t.Parallel()
	tr := NewTracker()

	b := domain.OrderBook{
		Slug: "nba-lal-bos",
		Yes: domain.OrderBookSide{
			Bids: []domain.PriceLevel{lvl("0.48", "100")},
			Asks: []domain.PriceLevel{lvl("0.52", "100")},
		},
		No: domain.OrderBookSide{
			Bids: []domain.PriceLevel{lvl("0.47", "100")},
			Asks: []domain.PriceLevel{lvl("0.53", "100")},
		},
	}
	tr.Update(b)

	top, ok := tr.GetTop("nba-lal-bos")
	if !ok {
		t.Fatal("expected top to be present")
	}
	if top.YesBestBid == nil || !top.YesBestBid.Equal(money.New("0.48")) {
		t.Errorf("YesBestBid = %v, want 0.48", top.YesBestBid)
	}
	if top.YesBestAsk == nil || !top.YesBestAsk.Equal(money.New("0.52")) {
		t.Errorf("YesBestAsk = %v, want 0.52", top.YesBestAsk)
	}
	if mid, ok := top.YesMid(); !ok || !mid.Equal(money.New("0.50")) {
		t.Errorf("YesMid = %v, want 0.50", mid)
	}
}

func TestBestBidLessThanBestAsk(t *testing.T) {
	t.Parallel()
	side := domain.OrderBookSide{
		Bids: []domain.PriceLevel{lvl("0.40", "10"), lvl("0.45", "20")},
		Asks: []domain.PriceLevel{lvl("0.55", "10"), lvl("0.50", "20")},
	}
	bid, _ := side.BestBid()
	ask, _ := side.BestAsk()
	if !bid.Equal(money.New("0.45")) {
		t.Errorf("BestBid = %v, want 0.45", bid)
	}
	if !ask.Equal(money.New("0.50")) {
		t.Errorf("BestAsk = %v, want 0.50", ask)
	}
	if !bid.LessThan(ask) {
		t.Error("invariant violated: best_bid must be < best_ask")
	}
}

func TestScanCompletenessArbEmitsAboveMinMargin(t *testing.T) {
	t.Parallel()
	tr := NewTracker()
	tr.Update(domain.OrderBook{
		Slug: "m1",
		Yes:  domain.OrderBookSide{Asks: []domain.PriceLevel{lvl("0.50", "100")}},
		No:   domain.OrderBookSide{Asks: []domain.PriceLevel{lvl("0.45", "100")}},
	})

	sigs := tr.ScanCompletenessArb(money.New("0.01"))
	if len(sigs) != 1 {
		t.Fatalf("len(sigs) = %d, want 1", len(sigs))
	}
	s := sigs[0]
	if !s.Combined.Equal(money.New("0.95")) {
		t.Errorf("Combined = %v, want 0.95", s.Combined)
	}
	if !s.Gross.Equal(money.New("0.05")) {
		t.Errorf("Gross = %v, want 0.05", s.Gross)
	}
	if !s.Fee.Equal(money.New("0.00095")) {
		t.Errorf("Fee = %v, want 0.00095", s.Fee)
	}
	if !s.Net.Equal(money.New("0.04905")) {
		t.Errorf("Net = %v, want 0.04905", s.Net)
	}
}

func TestScanCompletenessArbSkipsBelowMinMargin(t *testing.T) {
	t.Parallel()
	tr := NewTracker()
	tr.Update(domain.OrderBook{
		Slug: "m1",
		Yes:  domain.OrderBookSide{Asks: []domain.PriceLevel{lvl("0.50", "100")}},
		No:   domain.OrderBookSide{Asks: []domain.PriceLevel{lvl("0.49", "100")}},
	})

	sigs := tr.ScanCompletenessArb(money.New("0.01"))
	if len(sigs) != 0 {
		t.Fatalf("len(sigs) = %d, want 0 (combined 0.99, net below margin)", len(sigs))
	}
}

func TestRemoveEvictsSlug(t *testing.T) {
	t.Parallel()
	tr := NewTracker()
	tr.Update(domain.OrderBook{Slug: "m1"})
	tr.Remove("m1")
	if _, ok := tr.GetTop("m1"); ok {
		t.Error("expected m1 to be evicted")
	}
}

func TestDeriveNoSideComplementsPrice(t *testing.T) {
	t.Parallel()
	yes := domain.OrderBookSide{
		Bids: []domain.PriceLevel{lvl("0.48", "100")},
		Asks: []domain.PriceLevel{lvl("0.52", "200")},
	}
	no := DeriveNoSide(yes)

	bid, ok := no.BestBid()
	if !ok || !bid.Equal(money.New("0.48")) {
		t.Errorf("no BestBid = %v, want 0.48 (from yes ask 0.52)", bid)
	}
	ask, ok := no.BestAsk()
	if !ok || !ask.Equal(money.New("0.52")) {
		t.Errorf("no BestAsk = %v, want 0.52 (from yes bid 0.48)", ask)
	}
}
