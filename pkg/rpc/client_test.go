package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/verus-network/vrscx/pkg/ratelimit"
	"github.com/verus-network/vrscx/pkg/retry"
)

// fastOpts returns options that keep tests quick: tiny backoff, loose
// budget, minimal method spacing.
func fastOpts(t *testing.T, url string) Opts {
	t.Helper()
	return Opts{
		URL:           url,
		Timeout:       2 * time.Second,
		MethodSpacing: time.Millisecond,
		Limit:         ratelimit.Config{PerSecond: 1000, PerMinute: 10000, PerHour: 100000, Burst: 1000, RefillEvery: time.Millisecond},
		Retry:         retry.Config{MaxAttempts: 3, InitialDelay: 10 * time.Millisecond, MaxDelay: 40 * time.Millisecond, Multiplier: 2.0},
		Logger:        zaptest.NewLogger(t),
	}
}

func rpcResult(t *testing.T, w http.ResponseWriter, id uint64, result any) {
	t.Helper()
	raw, err := json.Marshal(result)
	require.NoError(t, err)
	_ = json.NewEncoder(w).Encode(map[string]any{"id": id, "result": json.RawMessage(raw), "error": nil})
}

func decodeRequest(t *testing.T, r *http.Request) rpcRequest {
	t.Helper()
	var req rpcRequest
	require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
	return req
}

func TestCall_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := decodeRequest(t, r)
		assert.Equal(t, "getblockcount", req.Method)
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "rpcuser", user)
		assert.Equal(t, "rpcpass", pass)
		rpcResult(t, w, req.ID, 123456)
	}))
	defer srv.Close()

	opts := fastOpts(t, srv.URL)
	opts.User = "rpcuser"
	opts.Password = "rpcpass"
	c := New(opts)

	count, err := c.GetBlockCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(123456), count)
}

func TestCall_PermanentErrorNotRetried(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		req := decodeRequest(t, r)
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":     req.ID,
			"result": nil,
			"error":  map[string]any{"code": -32601, "message": "Method not found"},
		})
	}))
	defer srv.Close()

	c := New(fastOpts(t, srv.URL))
	raw, err := c.Call(context.Background(), "bogusmethod")

	require.Error(t, err)
	var gerr *Error
	require.ErrorAs(t, err, &gerr)
	assert.Equal(t, KindPermanent, gerr.Kind)
	assert.Equal(t, -32601, gerr.Code)
	assert.JSONEq(t, `null`, string(raw))
	assert.Equal(t, int32(1), attempts.Load(), "permanent errors get exactly one attempt")
}

func TestCall_TransientRetriedThenSucceeds(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := attempts.Add(1)
		req := decodeRequest(t, r)
		if n < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		rpcResult(t, w, req.ID, 7)
	}))
	defer srv.Close()

	c := New(fastOpts(t, srv.URL))
	count, err := c.GetBlockCount(context.Background())

	require.NoError(t, err)
	assert.Equal(t, int64(7), count)
	assert.Equal(t, int32(3), attempts.Load())
}

func TestCall_TransientExhaustsThreeAttempts(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := New(fastOpts(t, srv.URL))
	raw, err := c.Call(context.Background(), "getrawmempool")

	require.Error(t, err)
	var gerr *Error
	require.ErrorAs(t, err, &gerr)
	assert.Equal(t, KindTransient, gerr.Kind)
	assert.JSONEq(t, `[]`, string(raw), "fallback value after exhausted retries")
	assert.Equal(t, int32(3), attempts.Load())
}

func TestCall_RateLimitHonorsRetryAfter(t *testing.T) {
	var attempts atomic.Int32
	var mu sync.Mutex
	var times []time.Time

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		times = append(times, time.Now())
		mu.Unlock()
		n := attempts.Add(1)
		req := decodeRequest(t, r)
		if n == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		rpcResult(t, w, req.ID, 42)
	}))
	defer srv.Close()

	c := New(fastOpts(t, srv.URL))
	count, err := c.GetBlockCount(context.Background())

	require.NoError(t, err)
	assert.Equal(t, int64(42), count)
	require.Equal(t, int32(2), attempts.Load())

	mu.Lock()
	gap := times[1].Sub(times[0])
	mu.Unlock()
	assert.GreaterOrEqual(t, gap, 900*time.Millisecond, "the server hint overrides the backoff schedule")
}

func TestCall_CancellationAbortsImmediately(t *testing.T) {
	var attempts atomic.Int32
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts.Add(1)
		<-release
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	defer close(release)

	opts := fastOpts(t, srv.URL)
	opts.Timeout = 15 * time.Second
	c := New(opts)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	raw, err := c.Call(ctx, "getblockcount")
	elapsed := time.Since(start)

	require.Error(t, err)
	var gerr *Error
	require.ErrorAs(t, err, &gerr)
	assert.Equal(t, KindCancelled, gerr.Kind)
	assert.JSONEq(t, `0`, string(raw))
	assert.Less(t, elapsed, 500*time.Millisecond, "cancellation must not wait out the timeout")
	assert.Equal(t, int32(1), attempts.Load(), "no retries after cancellation")
}

func TestCall_GatewayTimeoutIsTransient(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	opts := fastOpts(t, srv.URL)
	opts.Timeout = 50 * time.Millisecond
	c := New(opts)

	_, err := c.Call(context.Background(), "getblockcount")
	require.Error(t, err)
	var gerr *Error
	require.ErrorAs(t, err, &gerr)
	assert.Equal(t, KindTransient, gerr.Kind)
	assert.Equal(t, int32(3), attempts.Load(), "internal timeouts are retried")
}

func TestCall_InvalidParamsNeverReachWire(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
		attempts.Add(1)
	}))
	defer srv.Close()

	c := New(fastOpts(t, srv.URL))
	raw, err := c.Call(context.Background(), "getidentity", "")

	require.Error(t, err)
	var gerr *Error
	require.ErrorAs(t, err, &gerr)
	assert.Equal(t, KindPermanent, gerr.Kind)
	assert.JSONEq(t, `null`, string(raw))
	assert.Equal(t, int32(0), attempts.Load(), "shape-check failures must not consume rate budget")
}

func TestCall_MethodSpacingSmoothsRepeats(t *testing.T) {
	var mu sync.Mutex
	var times []time.Time
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		times = append(times, time.Now())
		mu.Unlock()
		req := decodeRequest(t, r)
		rpcResult(t, w, req.ID, 1)
	}))
	defer srv.Close()

	opts := fastOpts(t, srv.URL)
	opts.MethodSpacing = 100 * time.Millisecond
	c := New(opts)

	for i := 0; i < 3; i++ {
		_, err := c.Call(context.Background(), "getblockcount")
		require.NoError(t, err)
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, times, 3)
	for i := 1; i < len(times); i++ {
		assert.GreaterOrEqual(t, times[i].Sub(times[i-1]), 80*time.Millisecond,
			"repeated calls to one method must be at least ~100ms apart")
	}
}

func TestGetIdentity_DecodesResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := decodeRequest(t, r)
		require.Equal(t, "getidentity", req.Method)
		require.Equal(t, "alice@", req.Params[0])
		rpcResult(t, w, req.ID, map[string]any{
			"identity": map[string]any{
				"name":             "alice",
				"friendlyname":     "alice",
				"identityaddress":  "iAliceAddr",
				"primaryaddresses": []string{"RAlicePrimary"},
			},
			"status":      "active",
			"blockheight": 1000,
		})
	}))
	defer srv.Close()

	c := New(fastOpts(t, srv.URL))
	res, err := c.GetIdentity(context.Background(), "alice@")
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "iAliceAddr", res.Identity.IdentityAddress)
	assert.Equal(t, int64(1000), res.BlockHeight)
	assert.Equal(t, []string{"RAlicePrimary"}, res.Identity.PrimaryAddresses)
}

func TestFallbacks(t *testing.T) {
	tests := []struct {
		method string
		want   string
	}{
		{"getblockcount", `0`},
		{"getaddresstxids", `[]`},
		{"getrawmempool", `[]`},
		{"getidentity", `null`},
		{"getrawtransaction", `null`},
		{"getinfo", `{}`},
		{"unregistered-method", `null`},
	}
	for _, tc := range tests {
		t.Run(tc.method, func(t *testing.T) {
			assert.JSONEq(t, tc.want, string(fallbackFor(tc.method)))
		})
	}
}

func TestValidateParams(t *testing.T) {
	tests := []struct {
		name    string
		method  string
		params  []any
		wantErr bool
	}{
		{"identity ok", "getidentity", []any{"alice@"}, false},
		{"identity empty", "getidentity", []any{""}, true},
		{"identity missing", "getidentity", []any{}, true},
		{"txids ok", "getaddresstxids", []any{AddressesArg{Addresses: []string{"Raddr"}}}, false},
		{"txids empty set", "getaddresstxids", []any{AddressesArg{}}, true},
		{"rawtx ok", "getrawtransaction", []any{validTxid(), 1}, false},
		{"rawtx short txid", "getrawtransaction", []any{"abc"}, true},
		{"blockcount extra param", "getblockcount", []any{1}, true},
		{"unknown method passes", "someothermethod", []any{1, 2, 3}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := validateParams(tc.method, tc.params)
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func validTxid() string {
	return fmt.Sprintf("%064d", 7)
}
