package events

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"token-ledger/internal/domain"
	"token-ledger/internal/observability"
	"token-ledger/internal/storage"
	"token-ledger/internal/token"
)

// HubConfig configures the websocket hub.
type HubConfig struct {
	// SendBuffer is the per-subscriber queue length. A subscriber that falls
	// this far behind is disconnected.
	SendBuffer int
	// PingInterval is interval for sending ping frames.
	PingInterval time.Duration
	// WriteTimeout is timeout for writing messages.
	WriteTimeout time.Duration
}

// DefaultHubConfig returns default hub configuration.
func DefaultHubConfig() HubConfig {
	return HubConfig{
		SendBuffer:   1024,
		PingInterval: 30 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// Hub broadcasts published events to websocket subscribers. When a backlog
// store is configured, subscribers may request replay with ?from=<sequence>.
type Hub struct {
	config   HubConfig
	backlog  storage.EventStore
	logger   zerolog.Logger
	upgrader websocket.Upgrader

	mu   sync.Mutex
	subs map[*subscriber]struct{}
}

type subscriber struct {
	send chan *domain.Event
}

var _ token.Sink = (*Hub)(nil)

// NewHub creates a hub. backlog may be nil.
func NewHub(config HubConfig, backlog storage.EventStore, logger zerolog.Logger) *Hub {
	defaults := DefaultHubConfig()
	if config.SendBuffer <= 0 {
		config.SendBuffer = defaults.SendBuffer
	}
	if config.PingInterval <= 0 {
		config.PingInterval = defaults.PingInterval
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = defaults.WriteTimeout
	}

	return &Hub{
		config:  config,
		backlog: backlog,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		subs: make(map[*subscriber]struct{}),
	}
}

// Publish implements token.Sink. It never blocks on a subscriber.
func (h *Hub) Publish(_ context.Context, events []*domain.Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	for sub := range h.subs {
		for _, e := range events {
			select {
			case sub.send <- e:
			default:
				h.logger.Warn().Msg("subscriber too slow, disconnecting")
				h.removeLocked(sub)
			}
			if _, ok := h.subs[sub]; !ok {
				break
			}
		}
	}
	return nil
}

// Subscribers returns the number of connected subscribers.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// ServeHTTP upgrades the request and streams events until the client leaves.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var from uint64
	if v := r.URL.Query().Get("from"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			http.Error(w, "invalid from", http.StatusBadRequest)
			return
		}
		from = n
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug().Err(err).Msg("websocket upgrade")
		return
	}
	defer conn.Close()

	// Register before reading the backlog so nothing committed in between is lost.
	sub := &subscriber{send: make(chan *domain.Event, h.config.SendBuffer)}
	h.add(sub)
	defer h.remove(sub)

	done := make(chan struct{})
	go h.drainReads(conn, done)

	var sent uint64
	if from > 0 {
		sent = from - 1
	}
	if from > 0 && h.backlog != nil {
		last, err := h.backlog.LastSequence(r.Context())
		if err == nil && last >= from {
			var backlog []*domain.Event
			backlog, err = h.backlog.GetBySequenceRange(r.Context(), from, last)
			for _, e := range backlog {
				if err = h.write(conn, e); err != nil {
					break
				}
				sent = e.Sequence
			}
		}
		if err != nil {
			h.logger.Debug().Err(err).Msg("send backlog")
			return
		}
	}

	ticker := time.NewTicker(h.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case e, ok := <-sub.send:
			if !ok {
				return
			}
			if e.Sequence <= sent {
				continue
			}
			if err := h.write(conn, e); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) write(conn *websocket.Conn, e *domain.Event) error {
	conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
	return conn.WriteJSON(e)
}

// drainReads consumes control frames and signals when the peer goes away.
func (h *Hub) drainReads(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) add(sub *subscriber) {
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	n := len(h.subs)
	h.mu.Unlock()
	observability.UpdateFeedSubscribers(n)
}

func (h *Hub) remove(sub *subscriber) {
	h.mu.Lock()
	h.removeLocked(sub)
	h.mu.Unlock()
}

func (h *Hub) removeLocked(sub *subscriber) {
	if _, ok := h.subs[sub]; !ok {
		return
	}
	delete(h.subs, sub)
	close(sub.send)
	observability.UpdateFeedSubscribers(len(h.subs))
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		h.removeLocked(sub)
	}
}
