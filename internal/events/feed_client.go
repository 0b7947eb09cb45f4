package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"token-ledger/internal/domain"
	"token-ledger/internal/observability"
)

// FeedConfig configures FeedClient behavior.
type FeedConfig struct {
	// ReconnectDelay is initial delay before reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay is maximum delay between reconnect attempts.
	MaxReconnectDelay time.Duration
	// PingInterval is interval for sending ping frames.
	PingInterval time.Duration
	// ReadTimeout is timeout for reading messages.
	ReadTimeout time.Duration
	// WriteTimeout is timeout for writing messages.
	WriteTimeout time.Duration
}

// DefaultFeedConfig returns default feed configuration.
func DefaultFeedConfig() FeedConfig {
	return FeedConfig{
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		PingInterval:      30 * time.Second,
		ReadTimeout:       90 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
}

// Handler receives events from the feed in sequence order.
type Handler func(ctx context.Context, events []*domain.Event) error

// FeedClient follows a server's websocket event feed. After a disconnect it
// reconnects with exponential backoff and resumes after the last sequence
// the handler accepted.
type FeedClient struct {
	endpoint string
	config   FeedConfig
	handler  Handler
	logger   zerolog.Logger

	mu      sync.Mutex
	lastSeq uint64
}

// NewFeedClient creates a client for endpoint (ws:// or wss:// URL of /v1/events).
// Delivery resumes after startAfter.
func NewFeedClient(endpoint string, config FeedConfig, startAfter uint64, handler Handler, logger zerolog.Logger) *FeedClient {
	defaults := DefaultFeedConfig()
	if config.ReconnectDelay <= 0 {
		config.ReconnectDelay = defaults.ReconnectDelay
	}
	if config.MaxReconnectDelay < config.ReconnectDelay {
		config.MaxReconnectDelay = config.ReconnectDelay
	}
	if config.PingInterval <= 0 {
		config.PingInterval = defaults.PingInterval
	}
	if config.ReadTimeout <= 0 {
		config.ReadTimeout = defaults.ReadTimeout
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = defaults.WriteTimeout
	}

	return &FeedClient{
		endpoint: endpoint,
		config:   config,
		handler:  handler,
		logger:   logger,
		lastSeq:  startAfter,
	}
}

// LastSequence returns the last sequence passed to the handler successfully.
func (c *FeedClient) LastSequence() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSeq
}

// Run follows the feed until ctx is cancelled or the handler fails.
func (c *FeedClient) Run(ctx context.Context) error {
	delay := c.config.ReconnectDelay

	for {
		delivered, err := c.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var herr *handlerError
		if errors.As(err, &herr) {
			return herr.err
		}

		// Reset delay once a session made progress.
		if delivered {
			delay = c.config.ReconnectDelay
		}

		c.logger.Warn().Err(err).
			Dur("delay", delay).
			Uint64("last_seq", c.LastSequence()).
			Msg("feed disconnected, reconnecting")
		observability.RecordFeedReconnect()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		delay *= 2
		if delay > c.config.MaxReconnectDelay {
			delay = c.config.MaxReconnectDelay
		}
	}
}

type handlerError struct {
	err error
}

func (e *handlerError) Error() string {
	return fmt.Sprintf("handler: %v", e.err)
}

// session runs one connection. It reports whether any event was delivered.
func (c *FeedClient) session(ctx context.Context) (bool, error) {
	u, err := c.url()
	if err != nil {
		return false, &handlerError{err: err}
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	conn, _, err := dialer.DialContext(ctx, u, nil)
	if err != nil {
		return false, fmt.Errorf("websocket dial: %w", err)
	}
	defer conn.Close()

	c.logger.Info().Str("endpoint", u).Msg("feed connected")

	sessionDone := make(chan struct{})
	defer close(sessionDone)
	go c.pingLoop(conn, sessionDone)

	// Unblock the read when ctx is cancelled.
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-sessionDone:
		}
	}()

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
	})

	delivered := false
	for {
		conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
		_, message, err := conn.ReadMessage()
		if err != nil {
			return delivered, fmt.Errorf("read: %w", err)
		}

		var e domain.Event
		if err := json.Unmarshal(message, &e); err != nil {
			c.logger.Warn().Err(err).Msg("skipping malformed feed message")
			continue
		}
		if e.Sequence <= c.LastSequence() {
			continue
		}

		if err := c.handler(ctx, []*domain.Event{&e}); err != nil {
			return delivered, &handlerError{err: err}
		}
		delivered = true

		c.mu.Lock()
		c.lastSeq = e.Sequence
		c.mu.Unlock()
	}
}

// url returns the endpoint with the resume position.
func (c *FeedClient) url() (string, error) {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return "", fmt.Errorf("parse feed endpoint: %w", err)
	}
	q := u.Query()
	q.Set("from", strconv.FormatUint(c.LastSequence()+1, 10))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// pingLoop sends periodic ping frames to keep connection alive.
func (c *FeedClient) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				// Reader sees the failure and reconnects.
				return
			}
		}
	}
}
