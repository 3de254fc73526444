// Package events implements the websocket adapters that feed live score and
// odds data into the strategy engine (§4.13). Both feeds are thin,
// swappable transports: they satisfy the ingestion contract the
// live-arbitrage and statistical-edge strategies expect and nothing more —
// the devig/team-matching logic upstream of OddsSnapshot is explicitly out
// of scope.
package events

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"predict-agent/internal/domain"
)

const (
	scoresReadTimeout  = 90 * time.Second
	scoresWriteTimeout = 10 * time.Second
	scoresBaseBackoff  = time.Second
	scoresMaxBackoff   = 30 * time.Second
	scoresBufferSize   = 128
)

// ScoresFeed connects to the configured scores endpoint, decodes
// newline-delimited GameState frames, and publishes them on a buffered
// channel for the live-arbitrage strategy tick to consume.
type ScoresFeed struct {
	url string

	connMu sync.Mutex
	conn   *websocket.Conn

	ch     chan domain.GameState
	logger *slog.Logger
}

// NewScoresFeed builds a ScoresFeed. Run must be called to actually connect.
func NewScoresFeed(url string, logger *slog.Logger) *ScoresFeed {
	return &ScoresFeed{
		url:    url,
		ch:     make(chan domain.GameState, scoresBufferSize),
		logger: logger.With("component", "events.scores"),
	}
}

// Events returns the read-only channel of decoded game states.
func (f *ScoresFeed) Events() <-chan domain.GameState { return f.ch }

// Run connects and maintains the websocket connection with jittered
// exponential backoff on disconnect (1s up to 30s, mirroring the donor's
// reconnect loop). Connection failures are local: logged and retried, never
// propagated to the strategy engine. Blocks until ctx is cancelled.
func (f *ScoresFeed) Run(ctx context.Context) {
	backoff := scoresBaseBackoff
	for {
		err := f.connectAndRead(ctx)
		if ctx.Err() != nil {
			return
		}

		wait := jitter(backoff)
		f.logger.Warn("scores feed disconnected, reconnecting", "error", err, "backoff", wait)

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}

		backoff *= 2
		if backoff > scoresMaxBackoff {
			backoff = scoresMaxBackoff
		}
	}
}

func (f *ScoresFeed) connectAndRead(ctx context.Context) error {
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

	f.logger.Info("scores feed connected")

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn.SetReadDeadline(time.Now().Add(scoresReadTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		f.dispatch(msg)
	}
}

// dispatch decodes every newline-delimited JSON line in a frame into a
// GameState and publishes it, dropping on a full channel.
func (f *ScoresFeed) dispatch(frame []byte) {
	for _, line := range bytes.Split(frame, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		var gs domain.GameState
		if err := json.Unmarshal(line, &gs); err != nil {
			f.logger.Error("unmarshal game state", "error", err)
			continue
		}
		select {
		case f.ch <- gs:
		default:
			f.logger.Warn("scores channel full, dropping event", "slug", gs.Slug)
		}
	}
}

func jitter(d time.Duration) time.Duration {
	spread := d / 4
	if spread <= 0 {
		return d
	}
	return d - spread + time.Duration(rand.Int64N(int64(2*spread)))
}
