// Package relay implements the multi-endpoint event source client. It opens
// one WebSocket per configured relay, issues a filtered subscription, and
// collects signed events until the relay signals end-of-stored-events or a
// per-relay timeout elapses. Endpoints are fully independent: one failing or
// stalling relay never blocks the others, and partial results are expected.
package relay

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/bohemia111/RUNSTR-sub015/internal/domain/merge"
	"github.com/bohemia111/RUNSTR-sub015/internal/domain/model"
	"github.com/bohemia111/RUNSTR-sub015/pkg/logger"
	"github.com/bohemia111/RUNSTR-sub015/pkg/metrics"
)

// Default client timeouts.
const (
	defaultPerRelayTimeout  = 15 * time.Second
	defaultGlobalTimeout    = 30 * time.Second
	defaultHandshakeTimeout = 10 * time.Second
)

// Filter is the subscription filter sent to every relay. An empty author
// set means all authors.
type Filter struct {
	IDs     []string `json:"ids,omitempty"`
	Authors []string `json:"authors,omitempty"`
	Kinds   []int    `json:"kinds,omitempty"`
	Since   *int64   `json:"since,omitempty"`
	Until   *int64   `json:"until,omitempty"`
	Limit   int      `json:"limit,omitempty"`
}

// Stats holds cumulative per-relay fetch counters.
type Stats struct {
	Relay     string `json:"relay"`
	Events    int64  `json:"events"`
	EOSECount int64  `json:"eose_count"`
	Errors    int64  `json:"errors"`
}

// Client fetches events from a fixed set of relay endpoints.
type Client struct {
	urls             []string
	perRelayTimeout  time.Duration
	globalTimeout    time.Duration
	handshakeTimeout time.Duration
	log              logger.Logger

	mu    sync.Mutex
	stats map[string]*Stats
}

// New creates a Client for the given relay URLs.
func New(urls []string, opts ...Option) *Client {
	c := &Client{
		urls:             urls,
		perRelayTimeout:  defaultPerRelayTimeout,
		globalTimeout:    defaultGlobalTimeout,
		handshakeTimeout: defaultHandshakeTimeout,
		stats:            make(map[string]*Stats, len(urls)),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = logger.Get().Named("relay")
	}
	for _, u := range urls {
		c.stats[u] = &Stats{Relay: u}
	}
	metrics.UpdateRelaysConfigured(len(urls))
	return c
}

// Fetch returns the union of matching events observed across all endpoints
// within the global timeout, deduplicated by event ID. Individual relay
// failures surface as fewer events, not as an error; no retries happen here,
// callers decide whether to re-issue a query.
func (c *Client) Fetch(ctx context.Context, f Filter) ([]model.RawEvent, error) {
	if len(c.urls) == 0 {
		return nil, ErrNoRelays
	}

	ctx, cancel := context.WithTimeout(ctx, c.globalTimeout)
	defer cancel()

	batches := make([][]model.RawEvent, len(c.urls))

	var wg sync.WaitGroup
	for i, url := range c.urls {
		wg.Add(1)
		go func(i int, url string) {
			defer wg.Done()
			err := c.fetchOne(ctx, url, f, func(ev model.RawEvent) {
				c.bumpEvents(url)
				metrics.RecordRelayEvent(url)
				batches[i] = append(batches[i], ev)
			})
			if err != nil {
				c.bumpErrors(url)
				c.log.Warn(ctx, "relay fetch failed",
					logger.String("relay", url),
					logger.Error(err),
				)
			}
		}(i, url)
	}
	wg.Wait()

	return merge.Events(batches...), nil
}

// fetchOne drives one relay subscription to completion: EOSE, per-relay
// timeout, or context cancellation, whichever comes first.
func (c *Client) fetchOne(ctx context.Context, url string, f Filter, emit func(model.RawEvent)) error {
	dialer := websocket.Dialer{HandshakeTimeout: c.handshakeTimeout}
	conn, resp, err := dialer.DialContext(ctx, url, nil)
	if resp != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		metrics.RecordRelayFetchError(url, "dial")
		return err
	}
	defer conn.Close()

	// Unblock the read loop when the context is cancelled.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	subID := uuid.NewString()
	req, err := json.Marshal([]any{"REQ", subID, f})
	if err != nil {
		return err
	}
	if err := conn.WriteMessage(websocket.TextMessage, req); err != nil {
		metrics.RecordRelayFetchError(url, "write")
		return err
	}

	started := time.Now()
	deadline := started.Add(c.perRelayTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetReadDeadline(deadline)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			// Timeouts and cancellations end the backlog collection
			// with whatever was gathered so far.
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				metrics.RecordRelayFetchError(url, "timeout")
				return nil
			}
			if ctx.Err() != nil {
				return nil
			}
			metrics.RecordRelayFetchError(url, "read")
			return err
		}

		var frame []json.RawMessage
		if err := json.Unmarshal(data, &frame); err != nil || len(frame) == 0 {
			continue
		}
		var typ string
		if err := json.Unmarshal(frame[0], &typ); err != nil {
			continue
		}

		switch typ {
		case "EVENT":
			if len(frame) < 3 {
				continue
			}
			var ev model.RawEvent
			if err := json.Unmarshal(frame[2], &ev); err != nil {
				c.log.Debug(ctx, "malformed event frame", logger.String("relay", url))
				continue
			}
			emit(ev)
		case "EOSE":
			// Stored backlog is complete; unsubscribe and hang up.
			c.bumpEOSE(url)
			metrics.RecordRelayEOSELatency(url, float64(time.Since(started).Milliseconds()))
			if closeReq, err := json.Marshal([]any{"CLOSE", subID}); err == nil {
				_ = conn.WriteMessage(websocket.TextMessage, closeReq)
			}
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return nil
		case "NOTICE":
			c.log.Debug(ctx, "relay notice", logger.String("relay", url), logger.String("notice", string(data)))
		}
	}
}

// RelayStats returns a snapshot of the cumulative per-relay counters.
func (c *Client) RelayStats() []Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Stats, 0, len(c.urls))
	for _, u := range c.urls {
		out = append(out, *c.stats[u])
	}
	return out
}

func (c *Client) bumpEvents(url string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats[url].Events++
}

func (c *Client) bumpEOSE(url string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats[url].EOSECount++
}

func (c *Client) bumpErrors(url string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats[url].Errors++
}
