package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/signalrun/internal/errs"
	"github.com/sawpanic/signalrun/internal/models"
)

// WSClient speaks the chat gateway protocol: history over HTTP, realtime
// over a websocket. One instance per process.
type WSClient struct {
	wsURL      string
	httpURL    string
	token      string
	httpClient *http.Client

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
}

// NewWSClient builds a gateway client. wsURL is the ws:// or wss://
// endpoint; history requests go to the same host over HTTP.
func NewWSClient(wsURL, token string) (*WSClient, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, errs.E(errs.KindFatal, "transport.NewWSClient", err)
	}
	httpScheme := "http"
	if u.Scheme == "wss" {
		httpScheme = "https"
	}
	return &WSClient{
		wsURL:      wsURL,
		httpURL:    httpScheme + "://" + u.Host,
		token:      token,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}, nil
}

// FetchRecent pulls up to limit messages, newest first.
func (c *WSClient) FetchRecent(ctx context.Context, channelID string, limit int) ([]models.MessageEvent, error) {
	const op = "transport.FetchRecent"

	endpoint := c.httpURL + "/channels/" + url.PathEscape(channelID) + "/messages?limit=" + strconv.Itoa(limit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, errs.E(errs.KindFatal, op, err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errs.E(errs.KindOf(err), op, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, errs.Tag(errs.KindRateLimited, op, "gateway rate limit")
	case resp.StatusCode >= 400:
		return nil, errs.Tag(errs.KindTransientNetwork, op, "gateway returned "+resp.Status)
	}

	var events []models.MessageEvent
	if err := json.NewDecoder(resp.Body).Decode(&events); err != nil {
		return nil, errs.E(errs.KindTransientNetwork, op, err)
	}
	return events, nil
}

// Subscribe reads events off the websocket until ctx is cancelled. Frames
// that fail to decode are logged and skipped.
func (c *WSClient) Subscribe(ctx context.Context, h Handler) error {
	const op = "transport.Subscribe"

	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.wsURL, header)
	if err != nil {
		return errs.E(errs.KindOf(err), op, err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return errs.E(errs.KindFatal, op, errs.ErrShuttingDown)
	}
	c.conn = conn
	c.mu.Unlock()

	// Unblock ReadMessage when the context goes away.
	stop := context.AfterFunc(ctx, func() {
		conn.SetReadDeadline(time.Now())
	})
	defer stop()
	// A dropped subscription releases only its own connection; the closed
	// latch belongs to lifecycle Close so the caller can resubscribe.
	defer func() {
		conn.Close()
		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		c.mu.Unlock()
	}()

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return errs.E(errs.KindCancelled, op, ctx.Err())
			}
			return errs.E(errs.KindTransientNetwork, op, err)
		}

		var ev models.MessageEvent
		if err := json.Unmarshal(frame, &ev); err != nil {
			log.Warn().Err(err).Msg("undecodable gateway frame skipped")
			continue
		}
		h(ev)
	}
}

// Close shuts the websocket down. Safe to call twice.
func (c *WSClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
