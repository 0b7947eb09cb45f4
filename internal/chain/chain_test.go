package chain

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestCounter(t *testing.T) {
	c := NewCounter(10)
	ctx := context.Background()

	h, err := c.CurrentHeight(ctx)
	if err != nil || h != 10 {
		t.Fatalf("expected 10, got %d (%v)", h, err)
	}

	if h, err = c.Advance(5); err != nil || h != 15 {
		t.Fatalf("expected 15, got %d (%v)", h, err)
	}

	if err := c.Set(15); err != nil {
		t.Fatalf("set to same height: %v", err)
	}
	if err := c.Set(14); !errors.Is(err, ErrHeightDecrease) {
		t.Fatalf("expected ErrHeightDecrease, got %v", err)
	}

	c.Set(^uint32(0))
	if _, err := c.Advance(1); err == nil {
		t.Fatal("expected overflow error")
	}
}

func rpcServer(t *testing.T, results ...string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		n := int(calls.Add(1)) - 1
		if n >= len(results) {
			n = len(results) - 1
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"jsonrpc":"2.0","id":` + jsonUint(req.ID) + `,"result":` + results[n] + `}`))
	}))
	t.Cleanup(server.Close)
	return server, &calls
}

func jsonUint(v uint64) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func TestRPCHeightSource_LatestLedger(t *testing.T) {
	server, _ := rpcServer(t, `{"id":"abc","protocolVersion":21,"sequence":51234}`)

	src := NewRPCHeightSource(server.URL)
	h, err := src.CurrentHeight(context.Background())
	if err != nil {
		t.Fatalf("CurrentHeight: %v", err)
	}
	if h != 51234 {
		t.Errorf("expected 51234, got %d", h)
	}
}

func TestRPCHeightSource_BareNumber(t *testing.T) {
	server, _ := rpcServer(t, `777`)

	src := NewRPCHeightSource(server.URL, WithMethod("getSlot"))
	h, err := src.CurrentHeight(context.Background())
	if err != nil {
		t.Fatalf("CurrentHeight: %v", err)
	}
	if h != 777 {
		t.Errorf("expected 777, got %d", h)
	}
}

func TestRPCHeightSource_Monotonic(t *testing.T) {
	server, _ := rpcServer(t, `{"sequence":200}`, `{"sequence":150}`, `{"sequence":210}`)

	src := NewRPCHeightSource(server.URL)
	ctx := context.Background()

	want := []uint32{200, 200, 210}
	for i, w := range want {
		h, err := src.CurrentHeight(ctx)
		if err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
		if h != w {
			t.Errorf("call %d: expected %d, got %d", i, w, h)
		}
	}
}

func TestRPCHeightSource_Retry(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		json.NewDecoder(r.Body).Decode(&req)
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"jsonrpc":"2.0","id":` + jsonUint(req.ID) + `,"result":{"sequence":9}}`))
	}))
	defer server.Close()

	src := NewRPCHeightSource(server.URL, WithRetryDelay(time.Millisecond), WithMaxDelay(5*time.Millisecond))
	h, err := src.CurrentHeight(context.Background())
	if err != nil {
		t.Fatalf("CurrentHeight: %v", err)
	}
	if h != 9 {
		t.Errorf("expected 9, got %d", h)
	}
	if calls.Load() != 3 {
		t.Errorf("expected 3 calls, got %d", calls.Load())
	}
}

func TestRPCHeightSource_RPCErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`{"jsonrpc":"2.0","id":1,"error":{"code":-32601,"message":"method not found"}}`))
	}))
	defer server.Close()

	src := NewRPCHeightSource(server.URL, WithRetryDelay(time.Millisecond))
	_, err := src.CurrentHeight(context.Background())

	var rpcErr *rpcError
	if !errors.As(err, &rpcErr) {
		t.Fatalf("expected rpcError, got %v", err)
	}
	if rpcErr.Code != -32601 {
		t.Errorf("expected code -32601, got %d", rpcErr.Code)
	}
	if calls.Load() != 1 {
		t.Errorf("expected 1 call, got %d", calls.Load())
	}
}

func TestRPCHeightSource_MaxRetries(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	src := NewRPCHeightSource(server.URL,
		WithMaxRetries(2),
		WithRetryDelay(time.Millisecond),
		WithMaxDelay(2*time.Millisecond),
	)
	if _, err := src.CurrentHeight(context.Background()); err == nil {
		t.Fatal("expected error after retries")
	}
}

func TestRPCHeightSource_NullResult(t *testing.T) {
	server, _ := rpcServer(t, `null`)

	src := NewRPCHeightSource(server.URL)
	if _, err := src.CurrentHeight(context.Background()); err == nil {
		t.Fatal("expected error for null result")
	}
}
