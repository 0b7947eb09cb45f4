// Package api exposes the token ledger over HTTP JSON.
//
// Mutating requests carry their arguments and the signatures authorizing
// them in one envelope:
//
//	{"args": {...}, "nonce": 7, "expiration_ledger": 1200,
//	 "signatures": {"<address>": "<base64 ed25519 signature>"}}
//
// Each signature covers auth.Payload(operation, nonce, expiration_ledger, args)
// where args is the exact JSON text of the "args" field. A signer's nonce
// authorizes one committed operation, and the proof is void once the ledger
// reaches expiration_ledger.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"token-ledger/internal/observability"
	"token-ledger/internal/token"
)

// Server serves the public API.
type Server struct {
	token   *token.Token
	feed    http.Handler
	limiter *rate.Limiter
	logger  zerolog.Logger
	started time.Time

	mux  *http.ServeMux
	once sync.Once
}

// Option configures Server.
type Option func(*Server)

// WithFeed mounts the websocket event feed at /v1/events.
func WithFeed(h http.Handler) Option {
	return func(s *Server) {
		s.feed = h
	}
}

// WithRateLimit limits requests to rps per second with the given burst.
// rps <= 0 disables limiting.
func WithRateLimit(rps float64, burst int) Option {
	return func(s *Server) {
		if rps <= 0 {
			s.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// NewServer creates an API server for t.
func NewServer(t *token.Token, opts ...Option) *Server {
	s := &Server{
		token:   t,
		logger:  zerolog.Nop(),
		started: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the HTTP handler serving every route.
func (s *Server) Handler() http.Handler {
	s.once.Do(s.routes)
	return s.mux
}

func (s *Server) routes() {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.Handle("GET /metrics", observability.Handler())

	// Reads
	s.handle(mux, "GET /v1/name", s.handleName)
	s.handle(mux, "GET /v1/symbol", s.handleSymbol)
	s.handle(mux, "GET /v1/decimals", s.handleDecimals)
	s.handle(mux, "GET /v1/total_supply", s.handleTotalSupply)
	s.handle(mux, "GET /v1/paused", s.handlePaused)
	s.handle(mux, "GET /v1/owner", s.handleOwner)
	s.handle(mux, "GET /v1/balance/{holder}", s.handleBalance)
	s.handle(mux, "GET /v1/allowance/{owner}/{spender}", s.handleAllowance)

	// Mutations
	s.handle(mux, "POST /v1/transfer", s.handleTransfer)
	s.handle(mux, "POST /v1/transfer_from", s.handleTransferFrom)
	s.handle(mux, "POST /v1/approve", s.handleApprove)
	s.handle(mux, "POST /v1/mint", s.handleMint)
	s.handle(mux, "POST /v1/burn", s.handleBurn)
	s.handle(mux, "POST /v1/burn_from", s.handleBurnFrom)
	s.handle(mux, "POST /v1/pause", s.handlePause)
	s.handle(mux, "POST /v1/unpause", s.handleUnpause)
	s.handle(mux, "POST /v1/transfer_ownership", s.handleTransferOwnership)
	s.handle(mux, "POST /v1/renounce_ownership", s.handleRenounceOwnership)

	if s.feed != nil {
		mux.Handle("GET /v1/events", s.feed)
	}

	s.mux = mux
}

// handle registers h behind rate limiting and request metrics.
func (s *Server) handle(mux *http.ServeMux, pattern string, h http.HandlerFunc) {
	mux.Handle(pattern, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		if s.limiter != nil && !s.limiter.Allow() {
			observability.RecordRateLimited()
			writeJSON(rec, http.StatusTooManyRequests, errorResponse{Code: "rate_limited", Error: "too many requests"})
		} else {
			h(rec, r)
		}

		observability.RecordHTTPRequest(pattern, strconv.Itoa(rec.status), time.Since(start).Seconds())
	}))
}

// StatusResponse is the JSON response for /status endpoint.
type StatusResponse struct {
	Status      string `json:"status"`
	Uptime      string `json:"uptime"`
	TotalSupply string `json:"total_supply"`
	Paused      bool   `json:"paused"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		Status: "running",
		Uptime: time.Since(s.started).Round(time.Second).String(),
	}
	if supply, err := s.token.TotalSupply(r.Context()); err == nil {
		resp.TotalSupply = supply.String()
	}
	if paused, err := s.token.Paused(r.Context()); err == nil {
		resp.Paused = paused
	}
	writeJSON(w, http.StatusOK, resp)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
