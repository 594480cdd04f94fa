// Package rpc is the single chokepoint for talking to the chain
// daemon. Every call passes the shared rate limiter, a per-method
// spacing gate, bounded retries with backoff, and per-method result
// typing, so upstream code only ever sees "usable result" or "fallback
// plus classified error".
package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/zap"

	"github.com/verus-network/vrscx/pkg/ratelimit"
	"github.com/verus-network/vrscx/pkg/retry"
	"github.com/verus-network/vrscx/pkg/utils"
)

const defaultMethodSpacing = 100 * time.Millisecond

// Opts is the set of options for a new Client.
type Opts struct {
	URL      string
	User     string
	Password string
	Timeout  time.Duration
	// MethodSpacing is the minimum gap between two calls to the same
	// method, on top of the global limiter.
	MethodSpacing time.Duration
	Limit         ratelimit.Config
	Retry         retry.Config
	HTTPClient    *http.Client
	Logger        *zap.Logger
}

// OptsFromEnv reads the daemon connection settings the way the rest of
// the process reads configuration.
func OptsFromEnv(logger *zap.Logger) Opts {
	return Opts{
		URL:      utils.Env("VERUSD_URL", "http://127.0.0.1:27486"),
		User:     utils.Env("VERUSD_RPC_USER", ""),
		Password: utils.Env("VERUSD_RPC_PASSWORD", ""),
		Timeout:  utils.EnvDuration("RPC_TIMEOUT", 15*time.Second),
		Limit: ratelimit.Config{
			PerSecond: utils.EnvInt("RPC_LIMIT_PER_SECOND", 10),
			PerMinute: utils.EnvInt("RPC_LIMIT_PER_MINUTE", 300),
			PerHour:   utils.EnvInt("RPC_LIMIT_PER_HOUR", 6000),
			Burst:     utils.EnvInt("RPC_LIMIT_BURST", 20),
		},
		Logger: logger,
	}
}

// Client is the RPC gateway.
type Client struct {
	url     string
	user    string
	pass    string
	timeout time.Duration
	client  *http.Client
	limiter *ratelimit.Limiter
	retry   retry.Config
	spacing time.Duration
	logger  *zap.Logger

	gates *xsync.Map[string, *methodGate]
	id    atomic.Uint64
}

// methodGate smooths bursts of identical calls: it hands out send slots
// at least `spacing` apart per method name.
type methodGate struct {
	mu   sync.Mutex
	next time.Time
}

func (g *methodGate) reserve(spacing time.Duration) time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := time.Now()
	if g.next.Before(now) {
		g.next = now
	}
	wait := g.next.Sub(now)
	g.next = g.next.Add(spacing)
	return wait
}

// New creates a gateway client with the given options.
func New(o Opts) *Client {
	if o.Timeout <= 0 {
		o.Timeout = 15 * time.Second
	}
	if o.MethodSpacing <= 0 {
		o.MethodSpacing = defaultMethodSpacing
	}
	if o.Retry.MaxAttempts <= 0 {
		o.Retry = retry.DefaultConfig()
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	client := o.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	return &Client{
		timeout: o.Timeout,
		url:     o.URL,
		user:    o.User,
		pass:    o.Password,
		client:  client,
		limiter: ratelimit.New(o.Limit),
		retry:   o.Retry,
		spacing: o.MethodSpacing,
		logger:  o.Logger,
		gates:   xsync.NewMap[string, *methodGate](),
	}
}

func (c *Client) gate(method string) *methodGate {
	g, _ := c.gates.LoadOrStore(method, &methodGate{})
	return g
}

// Call issues one JSON-RPC method call. On any failure the returned
// RawMessage is the method's fallback value and the error carries the
// classification; a nil error always means a real wire result.
func (c *Client) Call(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	if params == nil {
		params = []any{}
	}
	if err := validateParams(method, params); err != nil {
		// Predictably-invalid request: synthesize the fallback without
		// touching the wire or the rate budget.
		c.logger.Warn("rpc params failed shape check",
			zap.String("method", method),
			zap.Error(err))
		return fallbackFor(method), &Error{Kind: KindPermanent, Method: method, Message: err.Error()}
	}

	var gerr *Error
	for attempt := 1; attempt <= c.retry.MaxAttempts; attempt++ {
		if err := c.waitTurn(ctx, method); err != nil {
			return fallbackFor(method), &Error{Kind: KindCancelled, Method: method, Message: err.Error(), Err: err}
		}

		result, err := c.do(ctx, method, params)
		if err == nil {
			return result, nil
		}
		gerr = AsError(method, err)

		switch gerr.Kind {
		case KindCancelled:
			c.logger.Debug("rpc call cancelled", zap.String("method", method), zap.Int("attempt", attempt))
			return fallbackFor(method), gerr
		case KindPermanent:
			c.logger.Warn("rpc permanent error",
				zap.String("method", method),
				zap.Int("code", gerr.Code),
				zap.String("message", gerr.Message))
			return fallbackFor(method), gerr
		}

		if attempt == c.retry.MaxAttempts {
			break
		}

		delay := c.retry.Delay(attempt)
		if gerr.Kind == KindRateLimited && gerr.RetryAfter > 0 {
			delay = gerr.RetryAfter
		}
		c.logger.Warn("rpc attempt failed, retrying",
			zap.String("method", method),
			zap.Int("attempt", attempt),
			zap.Duration("retry_in", delay),
			zap.String("kind", gerr.Kind.String()),
			zap.Error(gerr))

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fallbackFor(method), &Error{Kind: KindCancelled, Method: method, Message: ctx.Err().Error(), Err: ctx.Err()}
		case <-timer.C:
		}
	}

	c.logger.Error("rpc failed after retries, returning fallback",
		zap.String("method", method),
		zap.Int("attempts", c.retry.MaxAttempts),
		zap.Error(gerr))
	return fallbackFor(method), gerr
}

// waitTurn honors the per-method spacing gate and the global limiter.
func (c *Client) waitTurn(ctx context.Context, method string) error {
	if wait := c.gate(method).reserve(c.spacing); wait > 0 {
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return c.limiter.Acquire(ctx, 1)
}

// do performs a single wire attempt. The gateway's own timeout is
// layered on the caller context so the effective deadline is whichever
// fires first.
func (c *Client) do(callerCtx context.Context, method string, params []any) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(callerCtx, c.timeout)
	defer cancel()

	payload := rpcRequest{
		Jsonrpc: "1.0",
		ID:      c.id.Add(1),
		Method:  method,
		Params:  params,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, &Error{Kind: KindPermanent, Method: method, Message: err.Error(), Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Kind: KindPermanent, Method: method, Message: err.Error(), Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if c.user != "" {
		req.SetBasicAuth(c.user, c.pass)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, classifyTransport(callerCtx, method, err)
	}
	defer func() { _ = utils.DrainAndClose(resp.Body) }()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable {
		return nil, &Error{
			Kind:       KindRateLimited,
			Method:     method,
			Message:    fmt.Sprintf("daemon over capacity (http %d)", resp.StatusCode),
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, &Error{Kind: KindPermanent, Method: method, Message: fmt.Sprintf("auth rejected (http %d)", resp.StatusCode)}
	}

	// The daemon reports RPC-level errors with non-200 statuses too, so
	// decode the envelope before judging the status code.
	var decoded rpcResponse
	if derr := json.NewDecoder(resp.Body).Decode(&decoded); derr != nil {
		if resp.StatusCode != http.StatusOK {
			return nil, &Error{Kind: KindTransient, Method: method, Message: fmt.Sprintf("http %d", resp.StatusCode), Err: derr}
		}
		return nil, &Error{Kind: KindTransient, Method: method, Message: "malformed response body", Err: derr}
	}
	if decoded.Error != nil {
		return nil, classifyRPCError(method, decoded.Error.Code, decoded.Error.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &Error{Kind: KindTransient, Method: method, Message: fmt.Sprintf("http %d", resp.StatusCode)}
	}
	if decoded.Result == nil {
		decoded.Result = nullResult
	}
	return decoded.Result, nil
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}
