package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"token-ledger/internal/observability"
	"token-ledger/internal/token"
)

// Default configuration values.
const (
	DefaultTimeout     = 30 * time.Second
	DefaultMaxRetries  = 3
	DefaultRetryDelay  = 1 * time.Second
	DefaultMaxDelay    = 10 * time.Second
	DefaultBackoffMult = 2.0

	// MethodLatestLedger is the Soroban RPC method reporting the latest ledger.
	MethodLatestLedger = "getLatestLedger"
)

// RPCHeightSource reads the ledger height from a JSON-RPC 2.0 endpoint.
// It never reports a height lower than one it has already returned.
type RPCHeightSource struct {
	endpoint    string
	method      string
	client      *http.Client
	maxRetries  int
	retryDelay  time.Duration
	maxDelay    time.Duration
	backoffMult float64
	requestID   atomic.Uint64
	logger      zerolog.Logger

	mu   sync.Mutex
	last uint32
}

var _ token.HeightSource = (*RPCHeightSource)(nil)

// RPCOption configures RPCHeightSource.
type RPCOption func(*RPCHeightSource)

// WithTimeout sets HTTP client timeout.
func WithTimeout(d time.Duration) RPCOption {
	return func(s *RPCHeightSource) {
		s.client.Timeout = d
	}
}

// WithMaxRetries sets maximum retry attempts.
func WithMaxRetries(n int) RPCOption {
	return func(s *RPCHeightSource) {
		s.maxRetries = n
	}
}

// WithRetryDelay sets initial retry delay.
func WithRetryDelay(d time.Duration) RPCOption {
	return func(s *RPCHeightSource) {
		s.retryDelay = d
	}
}

// WithMaxDelay sets maximum retry delay.
func WithMaxDelay(d time.Duration) RPCOption {
	return func(s *RPCHeightSource) {
		s.maxDelay = d
	}
}

// WithHTTPClient sets custom http.Client.
func WithHTTPClient(client *http.Client) RPCOption {
	return func(s *RPCHeightSource) {
		s.client = client
	}
}

// WithMethod overrides the RPC method. The result must carry a "sequence"
// field or be a bare number.
func WithMethod(method string) RPCOption {
	return func(s *RPCHeightSource) {
		s.method = method
	}
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) RPCOption {
	return func(s *RPCHeightSource) {
		s.logger = l
	}
}

// NewRPCHeightSource creates a height source for endpoint.
func NewRPCHeightSource(endpoint string, opts ...RPCOption) *RPCHeightSource {
	s := &RPCHeightSource{
		endpoint:    endpoint,
		method:      MethodLatestLedger,
		client:      &http.Client{Timeout: DefaultTimeout},
		maxRetries:  DefaultMaxRetries,
		retryDelay:  DefaultRetryDelay,
		maxDelay:    DefaultMaxDelay,
		backoffMult: DefaultBackoffMult,
		logger:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CurrentHeight implements token.HeightSource.
func (s *RPCHeightSource) CurrentHeight(ctx context.Context) (uint32, error) {
	var result json.RawMessage
	if err := s.call(ctx, s.method, nil, &result); err != nil {
		return 0, fmt.Errorf("%s: %w", s.method, err)
	}

	h, err := parseHeight(result)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", s.method, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if h < s.last {
		s.logger.Warn().
			Uint32("reported", h).
			Uint32("last", s.last).
			Msg("rpc height went backwards, keeping last")
		return s.last, nil
	}
	s.last = h
	return h, nil
}

// parseHeight accepts {"sequence": n} or a bare number.
func parseHeight(raw json.RawMessage) (uint32, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, fmt.Errorf("empty result")
	}
	var obj struct {
		Sequence *uint32 `json:"sequence"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Sequence != nil {
		return *obj.Sequence, nil
	}
	var n uint32
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, fmt.Errorf("unexpected result %s", string(raw))
	}
	return n, nil
}

// rpcRequest represents a JSON-RPC 2.0 request.
type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params,omitempty"`
}

// rpcResponse represents a JSON-RPC 2.0 response.
type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

// rpcError represents a JSON-RPC 2.0 error.
type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// call performs a JSON-RPC call with retries and exponential backoff.
func (s *RPCHeightSource) call(ctx context.Context, method string, params []interface{}, result interface{}) error {
	start := time.Now()
	defer func() {
		observability.RecordRPCLatency(method, time.Since(start).Seconds())
	}()

	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      s.requestID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	delay := s.retryDelay
	var lastErr error

	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if attempt > 0 {
			s.logger.Debug().Err(lastErr).Int("attempt", attempt).Str("method", method).Msg("retrying rpc call")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay = time.Duration(float64(delay) * s.backoffMult)
			if delay > s.maxDelay {
				delay = s.maxDelay
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := s.client.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("http request: %w", err)
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("read response: %w", err)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			lastErr = fmt.Errorf("rate limited (429)")
			continue
		}

		if resp.StatusCode != http.StatusOK {
			lastErr = fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
			continue
		}

		var rpcResp rpcResponse
		if err := json.Unmarshal(respBody, &rpcResp); err != nil {
			lastErr = fmt.Errorf("unmarshal response: %w", err)
			continue
		}

		// RPC errors are not retried
		if rpcResp.Error != nil {
			return rpcResp.Error
		}

		if result != nil && rpcResp.Result != nil {
			if err := json.Unmarshal(rpcResp.Result, result); err != nil {
				return fmt.Errorf("unmarshal result: %w", err)
			}
		}
		return nil
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}
