// Package book maintains a thread-safe, in-memory mirror of order books for
// every tracked market, publishing a cached top-of-book snapshot alongside
// each full book so readers never observe a torn state (§4.2, §5).
package book

import (
	"sync"

	"predict-agent/internal/domain"
	"predict-agent/internal/money"
)

// entry bundles a full book with its precomputed top so the two are always
// replaced together under one write lock.
type entry struct {
	book domain.OrderBook
	top  domain.TopOfBook
}

// Tracker is a concurrency-safe map from slug to order book state. Many
// goroutines read; the feed is the only regular writer.
type Tracker struct {
	mu      sync.RWMutex
	entries map[string]entry
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{entries: make(map[string]entry)}
}

// Update replaces the full book for a slug and recomputes its top atomically.
func (t *Tracker) Update(b domain.OrderBook) {
	top := computeTop(b)
	t.mu.Lock()
	t.entries[b.Slug] = entry{book: b, top: top}
	t.mu.Unlock()
}

// UpdateSide replaces one leg (YES or NO) of an already-tracked book and
// recomputes its top. No-op if the slug is not yet tracked (the feed always
// calls Update first for a new slug).
func (t *Tracker) UpdateSide(slug string, side domain.Side, bookSide domain.OrderBookSide) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[slug]
	if !ok {
		return
	}
	if side == domain.Yes {
		e.book.Yes = bookSide
	} else {
		e.book.No = bookSide
	}
	e.top = computeTop(e.book)
	t.entries[slug] = e
}

// GetTop returns a snapshot copy of the cached top-of-book for slug.
func (t *Tracker) GetTop(slug string) (domain.TopOfBook, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[slug]
	if !ok {
		return domain.TopOfBook{}, false
	}
	return e.top, true
}

// GetFull returns a snapshot copy of the full order book for slug.
func (t *Tracker) GetFull(slug string) (domain.OrderBook, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[slug]
	if !ok {
		return domain.OrderBook{}, false
	}
	return e.book, true
}

// Remove evicts a slug from tracking.
func (t *Tracker) Remove(slug string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, slug)
}

// TrackedSlugs returns every slug currently tracked.
func (t *Tracker) TrackedSlugs() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.entries))
	for slug := range t.entries {
		out = append(out, slug)
	}
	return out
}

func computeTop(b domain.OrderBook) domain.TopOfBook {
	var top domain.TopOfBook
	if p, ok := b.Yes.BestBid(); ok {
		top.YesBestBid = &p
	}
	if p, ok := b.Yes.BestAsk(); ok {
		top.YesBestAsk = &p
	}
	if p, ok := b.No.BestBid(); ok {
		top.NoBestBid = &p
	}
	if p, ok := b.No.BestAsk(); ok {
		top.NoBestAsk = &p
	}
	return top
}

// DeriveNoSide builds the NO side of a book from the YES side by price
// complement (NO_price = 1 - YES_price), carrying quantities across
// unchanged. A resting bid to buy YES at p is equivalent to a resting offer
// to sell NO at 1-p, and vice versa.
func DeriveNoSide(yes domain.OrderBookSide) domain.OrderBookSide {
	var out domain.OrderBookSide
	for _, lvl := range yes.Bids {
		out.Asks = append(out.Asks, domain.PriceLevel{
			Price:    money.One.Sub(lvl.Price),
			Quantity: lvl.Quantity,
		})
	}
	for _, lvl := range yes.Asks {
		out.Bids = append(out.Bids, domain.PriceLevel{
			Price:    money.One.Sub(lvl.Price),
			Quantity: lvl.Quantity,
		})
	}
	return out
}

// ScanCompletenessArb iterates every tracked top-of-book and emits a signal
// for each market whose YES+NO asks undercut $1 by more than minMargin after
// the 10bps taker fee (§4.2, invariant 7 in §8).
func (t *Tracker) ScanCompletenessArb(minMargin money.Money) []domain.CompletenessArbSignal {
	t.mu.RLock()
	defer t.mu.RUnlock()

	feeRate := money.New("0.001")
	one := money.One
	var out []domain.CompletenessArbSignal
	for slug, e := range t.entries {
		combined, ok := e.top.CompletenessSum()
		if !ok {
			continue
		}
		if !combined.LessThan(one) {
			continue
		}
		gross := one.Sub(combined)
		fee := combined.Mul(feeRate)
		net := gross.Sub(fee)
		if net.GreaterThan(minMargin) {
			out = append(out, domain.CompletenessArbSignal{
				Slug:     slug,
				YesAsk:   *e.top.YesBestAsk,
				NoAsk:    *e.top.NoBestAsk,
				Combined: combined,
				Gross:    gross,
				Fee:      fee,
				Net:      net,
			})
		}
	}
	return out
}
