// Package feed implements the market-data feed (§4.3): a background polling
// loop that fans out bounded-concurrency order-book fetches for the active
// slug set, writes results into the book tracker and state store, and
// emits a MarketUpdate per successfully fetched slug for the strategy engine
// to consume. Per-slug failures are local — after a threshold the slug is
// evicted from polling rather than propagated as an error (§7).
package feed

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"predict-agent/internal/book"
	"predict-agent/internal/domain"
	"predict-agent/internal/money"
	"predict-agent/internal/state"
	"predict-agent/internal/venue"
)

// Fetcher is the subset of *venue.Client the feed needs, so tests can
// substitute a fake book source without a real signed client.
type Fetcher interface {
	GetOrderBook(ctx context.Context, slug string) (*venue.BookResponse, error)
}

// Config controls the feed's polling cadence and fan-out bound (§6).
type Config struct {
	PollInterval           time.Duration
	MaxConcurrency         int
	MaxConsecutiveFailures int // default 3
	StalenessThreshold     time.Duration
}

// Feed is the market-data polling loop. One instance owns one active slug
// set; the orchestrator seeds it from the discovery scan and the feed
// evicts slugs on its own after repeated failures.
type Feed struct {
	fetcher Fetcher
	tracker *book.Tracker
	store   *state.Store
	cfg     Config
	logger  *slog.Logger

	mu       sync.Mutex
	slugs    map[string]struct{}
	failures map[string]int

	updates chan domain.MarketUpdate
	done    chan struct{}
}

// NewFeed builds a Feed. Call AddSlug for every discovered slug before Run.
func NewFeed(fetcher Fetcher, tracker *book.Tracker, store *state.Store, cfg Config, logger *slog.Logger) *Feed {
	if cfg.MaxConsecutiveFailures <= 0 {
		cfg.MaxConsecutiveFailures = 3
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 1
	}
	return &Feed{
		fetcher:  fetcher,
		tracker:  tracker,
		store:    store,
		cfg:      cfg,
		logger:   logger.With("component", "feed"),
		slugs:    make(map[string]struct{}),
		failures: make(map[string]int),
		updates:  make(chan domain.MarketUpdate, 256),
		done:     make(chan struct{}),
	}
}

// Updates returns the channel the strategy engine drains between ticks.
func (f *Feed) Updates() <-chan domain.MarketUpdate { return f.updates }

// Done is closed once Run's loop has actually exited, so the orchestrator
// can bound its shutdown wait (§5: up to 5 seconds).
func (f *Feed) Done() <-chan struct{} { return f.done }

// AddSlug adds a slug to the active polling set.
func (f *Feed) AddSlug(slug string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.slugs[slug] = struct{}{}
	f.failures[slug] = 0
}

// RemoveSlug removes a slug from the active polling set.
func (f *Feed) RemoveSlug(slug string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.slugs, slug)
	delete(f.failures, slug)
}

func (f *Feed) activeSlugs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.slugs))
	for s := range f.slugs {
		out = append(out, s)
	}
	return out
}

// Run drives the polling loop until ctx is cancelled.
func (f *Feed) Run(ctx context.Context) {
	defer close(f.done)

	ticker := time.NewTicker(f.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.pollCycle(ctx)
			f.checkStaleness(time.Now())
		}
	}
}

// pollCycle fans out one order-book fetch per active slug, bounded by a
// semaphore of size MaxConcurrency (§5).
func (f *Feed) pollCycle(ctx context.Context) {
	slugs := f.activeSlugs()
	if len(slugs) == 0 {
		return
	}

	sem := make(chan struct{}, f.cfg.MaxConcurrency)
	var wg sync.WaitGroup
	for _, slug := range slugs {
		wg.Add(1)
		sem <- struct{}{}
		go func(slug string) {
			defer wg.Done()
			defer func() { <-sem }()
			f.pollOne(ctx, slug)
		}(slug)
	}
	wg.Wait()
}

func (f *Feed) pollOne(ctx context.Context, slug string) {
	resp, err := f.fetcher.GetOrderBook(ctx, slug)
	if err != nil {
		f.recordFailure(slug, err)
		return
	}

	ob, err := toOrderBook(slug, resp)
	if err != nil {
		f.recordFailure(slug, err)
		return
	}

	f.resetFailure(slug)
	f.tracker.Update(ob)

	now := time.Now()
	top, _ := f.tracker.GetTop(slug)
	existing, _ := f.store.GetMarket(slug)
	m := domain.Market{
		Slug:        slug,
		Title:       existing.Title,
		YesBid:      top.YesBestBid,
		YesAsk:      top.YesBestAsk,
		NoBid:       top.NoBestBid,
		NoAsk:       top.NoBestAsk,
		LastUpdated: now,
	}
	f.store.UpsertMarket(m)

	select {
	case f.updates <- domain.MarketUpdate{Slug: slug, Market: m, Timestamp: now}:
	default:
		f.logger.Warn("market update channel full, dropping update", "slug", slug)
	}
}

// recordFailure increments the per-slug failure counter and evicts the slug
// from the active set once it crosses max_consecutive_failures (§4.3, §7:
// feed errors are local and never propagate).
func (f *Feed) recordFailure(slug string, cause error) {
	f.mu.Lock()
	f.failures[slug]++
	count := f.failures[slug]
	f.mu.Unlock()

	f.logger.Warn("order book fetch failed", "slug", slug, "error", cause, "consecutive_failures", count)

	if count >= f.cfg.MaxConsecutiveFailures {
		f.RemoveSlug(slug)
		f.logger.Warn("evicting slug after repeated failures", "slug", slug, "failures", count)
	}
}

func (f *Feed) resetFailure(slug string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[slug] = 0
}

// checkStaleness warns for any tracked market whose last update predates
// StalenessThreshold (§4.3).
func (f *Feed) checkStaleness(now time.Time) {
	if f.cfg.StalenessThreshold <= 0 {
		return
	}
	for _, slug := range f.activeSlugs() {
		m, ok := f.store.GetMarket(slug)
		if !ok || m.LastUpdated.IsZero() {
			continue
		}
		if now.Sub(m.LastUpdated) > f.cfg.StalenessThreshold {
			f.logger.Warn("market data stale", "slug", slug, "age", now.Sub(m.LastUpdated))
		}
	}
}

// toOrderBook converts the venue's bids/offers complement response into a
// domain.OrderBook, deriving the NO side by price complement (§3, §6).
func toOrderBook(slug string, resp *venue.BookResponse) (domain.OrderBook, error) {
	yes := domain.OrderBookSide{}
	for _, lvl := range resp.MarketData.Bids {
		price, err := money.NewFromString(lvl.Px.Value)
		if err != nil {
			return domain.OrderBook{}, err
		}
		qty, err := money.NewFromString(lvl.Qty)
		if err != nil {
			return domain.OrderBook{}, err
		}
		yes.Bids = append(yes.Bids, domain.PriceLevel{Price: price, Quantity: qty})
	}
	for _, lvl := range resp.MarketData.Offers {
		price, err := money.NewFromString(lvl.Px.Value)
		if err != nil {
			return domain.OrderBook{}, err
		}
		qty, err := money.NewFromString(lvl.Qty)
		if err != nil {
			return domain.OrderBook{}, err
		}
		yes.Asks = append(yes.Asks, domain.PriceLevel{Price: price, Quantity: qty})
	}

	return domain.OrderBook{
		Slug: slug,
		Yes:  yes,
		No:   book.DeriveNoSide(yes),
	}, nil
}
