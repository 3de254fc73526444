package feed

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"predict-agent/internal/book"
	"predict-agent/internal/money"
	"predict-agent/internal/state"
	"predict-agent/internal/venue"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeFetcher serves a scripted response per slug. Responses are built by
// unmarshaling JSON rather than a struct literal, since the venue package's
// wire types nest unexported shapes behind exported, json-tagged fields.
type fakeFetcher struct {
	mu        sync.Mutex
	responses map[string]*venue.BookResponse
	errs      map[string]error
	calls     map[string]int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		responses: make(map[string]*venue.BookResponse),
		errs:      make(map[string]error),
		calls:     make(map[string]int),
	}
}

func (f *fakeFetcher) setBook(slug string, bidPrice, bidQty, askPrice, askQty string) {
	raw := `{"marketData":{"marketSlug":"` + slug + `","bids":[{"px":{"value":"` + bidPrice + `","currency":"USD"},"qty":"` + bidQty + `"}],"offers":[{"px":{"value":"` + askPrice + `","currency":"USD"},"qty":"` + askQty + `"}]}}`
	var resp venue.BookResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		panic(err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[slug] = &resp
}

func (f *fakeFetcher) setErr(slug string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[slug] = err
}

func (f *fakeFetcher) GetOrderBook(ctx context.Context, slug string) (*venue.BookResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[slug]++
	if err, ok := f.errs[slug]; ok {
		return nil, err
	}
	return f.responses[slug], nil
}

func (f *fakeFetcher) callCount(slug string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[slug]
}

func TestPollOneUpdatesTrackerStoreAndChannel(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher()
	fetcher.setBook("m1", "0.48", "100", "0.52", "50")

	tracker := book.NewTracker()
	st := state.NewStore()
	f := NewFeed(fetcher, tracker, st, Config{MaxConcurrency: 4}, testLogger())
	f.AddSlug("m1")

	f.pollOne(context.Background(), "m1")

	m, ok := st.GetMarket("m1")
	if !ok || m.YesAsk == nil || !m.YesAsk.Equal(money.New("0.52")) {
		t.Fatalf("expected m1 in store with YesAsk=0.52, got %+v (ok=%v)", m, ok)
	}

	select {
	case update := <-f.Updates():
		if update.Slug != "m1" {
			t.Errorf("update.Slug = %q, want m1", update.Slug)
		}
	default:
		t.Fatal("expected a MarketUpdate on the updates channel")
	}
}

func TestRecordFailureEvictsAfterThreshold(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher()
	fetcher.setErr("m1", errors.New("boom"))

	f := NewFeed(fetcher, book.NewTracker(), state.NewStore(), Config{MaxConcurrency: 4, MaxConsecutiveFailures: 2}, testLogger())
	f.AddSlug("m1")

	f.pollOne(context.Background(), "m1")
	if _, ok := f.slugs["m1"]; !ok {
		t.Fatal("slug should still be active after one failure")
	}

	f.pollOne(context.Background(), "m1")
	if _, ok := f.slugs["m1"]; ok {
		t.Fatal("slug should be evicted after reaching max_consecutive_failures")
	}
}

func TestResetFailureClearsCounterOnSuccess(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher()
	fetcher.setErr("m1", errors.New("boom"))

	f := NewFeed(fetcher, book.NewTracker(), state.NewStore(), Config{MaxConcurrency: 4, MaxConsecutiveFailures: 3}, testLogger())
	f.AddSlug("m1")
	f.pollOne(context.Background(), "m1")

	fetcher.setBook("m1", "0.48", "100", "0.52", "50")
	delete(fetcher.errs, "m1")
	f.pollOne(context.Background(), "m1")

	if f.failures["m1"] != 0 {
		t.Errorf("failures[m1] = %d, want 0 after a successful poll", f.failures["m1"])
	}
}

func TestPollCycleFansOutOverActiveSlugs(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher()
	fetcher.setBook("m1", "0.48", "100", "0.52", "50")
	fetcher.setBook("m2", "0.30", "100", "0.35", "50")

	f := NewFeed(fetcher, book.NewTracker(), state.NewStore(), Config{MaxConcurrency: 2}, testLogger())
	f.AddSlug("m1")
	f.AddSlug("m2")

	f.pollCycle(context.Background())

	if fetcher.callCount("m1") != 1 || fetcher.callCount("m2") != 1 {
		t.Fatalf("expected one fetch per slug, got m1=%d m2=%d", fetcher.callCount("m1"), fetcher.callCount("m2"))
	}
}

func TestRunExitsOnContextCancellation(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher()
	f := NewFeed(fetcher, book.NewTracker(), state.NewStore(), Config{PollInterval: time.Millisecond}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	go f.Run(ctx)
	cancel()

	select {
	case <-f.Done():
	case <-time.After(time.Second):
		t.Fatal("Run did not exit within 1s of context cancellation")
	}
}
