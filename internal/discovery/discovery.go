// Package discovery implements the orchestrator's tradeable-slug scan
// (§4.12 step 2): a paginated walk of the venue's market index filtered by
// status, market-type prefix, league tag, and trailing date, bounded by
// max_markets. A short-TTL ristretto cache sits in front of the scan so a
// re-scan within the TTL window does not re-walk every page (§4.15).
package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/dgraph-io/ristretto"

	"predict-agent/internal/venue"
)

// lister is the subset of *venue.Client discovery needs, so tests can supply
// a fake without standing up a real signed client.
type lister interface {
	ListMarkets(ctx context.Context, p venue.ListMarketsParams) ([]venue.MarketResponse, int, error)
}

// Config controls the scan's filters and the cache fronting it.
type Config struct {
	Leagues      []string
	MarketTypes  []string
	MinLiquidity float64
	MaxMarkets   int
	PageSize     int
	CacheTTL     time.Duration
}

// Scanner discovers the tradeable slug set. One scan result is cached for
// CacheTTL so repeated orchestrator re-scans don't re-walk the index.
type Scanner struct {
	client lister
	cfg    Config
	cache  *ristretto.Cache
	logger *slog.Logger
}

const cacheKey = "discovery:slugs"

// NewScanner builds a Scanner backed by the given client and a ristretto
// cache sized for a handful of small cached entries (this cache holds one
// slice of slugs, not per-market rows — NumCounters/MaxCost are generous
// relative to that, matching the ristretto docs' 10x-items sizing rule).
func NewScanner(client lister, cfg Config, logger *slog.Logger) (*Scanner, error) {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e4,
		MaxCost:     1 << 20,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("discovery: create cache: %w", err)
	}
	return &Scanner{
		client: client,
		cfg:    cfg,
		cache:  cache,
		logger: logger.With("component", "discovery"),
	}, nil
}

// Discover returns the tradeable slug set, serving a cached result when one
// is still fresh within CacheTTL.
func (s *Scanner) Discover(ctx context.Context, now time.Time) ([]string, error) {
	if cached, ok := s.cache.Get(cacheKey); ok {
		if slugs, ok := cached.([]string); ok {
			return slugs, nil
		}
	}

	slugs, err := s.scan(ctx, now)
	if err != nil {
		return nil, err
	}

	s.cache.SetWithTTL(cacheKey, slugs, 1, s.cfg.CacheTTL)
	s.cache.Wait()
	return slugs, nil
}

// scan paginates the venue's market index, applying the §4.12 step 2 filter
// set, until max_markets slugs are collected or the index is exhausted.
func (s *Scanner) scan(ctx context.Context, now time.Time) ([]string, error) {
	closed := false
	var slugs []string
	offset := 0

	for {
		page, total, err := s.client.ListMarkets(ctx, venue.ListMarketsParams{
			Limit:  s.cfg.PageSize,
			Offset: offset,
			Status: "open",
			Closed: &closed,
		})
		if err != nil {
			return nil, fmt.Errorf("discovery: list markets at offset %d: %w", offset, err)
		}

		for _, m := range page {
			if !s.accepts(m, now) {
				continue
			}
			slugs = append(slugs, m.Slug)
			if len(slugs) >= s.cfg.MaxMarkets {
				s.logger.Info("discovery scan bounded by max_markets", "max_markets", s.cfg.MaxMarkets)
				return slugs, nil
			}
		}

		offset += len(page)
		if len(page) == 0 || offset >= total {
			break
		}
	}

	s.logger.Info("discovery scan complete", "slugs", len(slugs))
	return slugs, nil
}

// accepts applies the filter set: open, not closed (already server-side
// filtered), market-type prefix, league membership, and a trailing date no
// earlier than today when the slug encodes one.
func (s *Scanner) accepts(m venue.MarketResponse, now time.Time) bool {
	if m.Closed {
		return false
	}
	if len(s.cfg.MarketTypes) > 0 && !hasAnyPrefix(m.Slug, s.cfg.MarketTypes) {
		return false
	}
	if len(s.cfg.Leagues) > 0 && !containsFold(s.cfg.Leagues, m.League) {
		return false
	}
	if liquidity, err := strconv.ParseFloat(m.Liquidity, 64); err == nil && liquidity < s.cfg.MinLiquidity {
		return false
	}
	if date, ok := trailingDate(m.Slug); ok && date.Before(startOfDay(now)) {
		return false
	}
	return true
}

func hasAnyPrefix(slug string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(slug, p) {
			return true
		}
	}
	return false
}

func containsFold(list []string, v string) bool {
	for _, item := range list {
		if strings.EqualFold(item, v) {
			return true
		}
	}
	return false
}

// trailingDate extracts a YYYY-MM-DD suffix from a slug, the convention the
// venue uses for date-scoped markets (e.g. "nba-lal-bos-2026-03-05").
func trailingDate(slug string) (time.Time, bool) {
	parts := strings.Split(slug, "-")
	if len(parts) < 3 {
		return time.Time{}, false
	}
	candidate := strings.Join(parts[len(parts)-3:], "-")
	t, err := time.Parse("2006-01-02", candidate)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
