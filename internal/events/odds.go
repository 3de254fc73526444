package events

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"predict-agent/internal/domain"
)

const (
	oddsReadTimeout = 90 * time.Second
	oddsBaseBackoff = time.Second
	oddsMaxBackoff  = 30 * time.Second
	oddsBufferSize  = 128
)

// OddsFeed connects to the configured odds endpoint and decodes
// newline-delimited OddsSnapshot frames — already devigged and
// market-matched upstream, per the statistical-edge strategy's contract
// (§4.8) — publishing them on a buffered channel.
type OddsFeed struct {
	url string

	connMu sync.Mutex
	conn   *websocket.Conn

	ch     chan domain.OddsSnapshot
	logger *slog.Logger
}

// NewOddsFeed builds an OddsFeed. Run must be called to actually connect.
func NewOddsFeed(url string, logger *slog.Logger) *OddsFeed {
	return &OddsFeed{
		url:    url,
		ch:     make(chan domain.OddsSnapshot, oddsBufferSize),
		logger: logger.With("component", "events.odds"),
	}
}

// Events returns the read-only channel of decoded odds snapshots.
func (f *OddsFeed) Events() <-chan domain.OddsSnapshot { return f.ch }

// Run connects and maintains the websocket connection with jittered
// exponential backoff on disconnect. Blocks until ctx is cancelled.
func (f *OddsFeed) Run(ctx context.Context) {
	backoff := oddsBaseBackoff
	for {
		err := f.connectAndRead(ctx)
		if ctx.Err() != nil {
			return
		}

		wait := jitter(backoff)
		f.logger.Warn("odds feed disconnected, reconnecting", "error", err, "backoff", wait)

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}

		backoff *= 2
		if backoff > oddsMaxBackoff {
			backoff = oddsMaxBackoff
		}
	}
}

func (f *OddsFeed) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	f.connMu.Lock()
	f.conn = conn
	f.connMu.Unlock()

	defer func() {
		f.connMu.Lock()
		conn.Close()
		f.conn = nil
		f.connMu.Unlock()
	}()

	f.logger.Info("odds feed connected")

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn.SetReadDeadline(time.Now().Add(oddsReadTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		f.dispatch(msg)
	}
}

func (f *OddsFeed) dispatch(frame []byte) {
	for _, line := range bytes.Split(frame, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		var snap domain.OddsSnapshot
		if err := json.Unmarshal(line, &snap); err != nil {
			f.logger.Error("unmarshal odds snapshot", "error", err)
			continue
		}
		select {
		case f.ch <- snap:
		default:
			f.logger.Warn("odds channel full, dropping event", "slug", snap.Slug)
		}
	}
}
