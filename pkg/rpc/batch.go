package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/verus-network/vrscx/pkg/utils"
)

// BatchCall is one sub-call of a batch round trip.
type BatchCall struct {
	Method string
	Params []any
}

// BatchResult reports each sub-call independently: a failed entry
// carries its fallback value plus the classified error, and never
// poisons its neighbours.
type BatchResult struct {
	Result json.RawMessage
	Err    error
}

// Batch issues the given calls in a single HTTP round trip. The
// returned slice always has the same length and order as calls.
// Isolation is per sub-call: indexing depends on one malformed
// transaction not blocking the rest of a batch.
func (c *Client) Batch(ctx context.Context, calls []BatchCall) []BatchResult {
	results := make([]BatchResult, len(calls))
	if len(calls) == 0 {
		return results
	}

	wire := make([]rpcRequest, 0, len(calls))
	byID := make(map[uint64]int, len(calls))
	methods := map[string]struct{}{}
	for i, call := range calls {
		params := call.Params
		if params == nil {
			params = []any{}
		}
		if err := validateParams(call.Method, params); err != nil {
			c.logger.Warn("batch entry failed shape check",
				zap.String("method", call.Method),
				zap.Int("index", i),
				zap.Error(err))
			results[i] = BatchResult{
				Result: fallbackFor(call.Method),
				Err:    &Error{Kind: KindPermanent, Method: call.Method, Message: err.Error()},
			}
			continue
		}
		id := c.id.Add(1)
		byID[id] = i
		methods[call.Method] = struct{}{}
		wire = append(wire, rpcRequest{Jsonrpc: "1.0", ID: id, Method: call.Method, Params: params})
	}
	if len(wire) == 0 {
		return results
	}

	var gerr *Error
	for attempt := 1; attempt <= c.retry.MaxAttempts; attempt++ {
		// Every round trip pays for its sub-calls: one spacing
		// reservation per distinct method, budget for the whole trip.
		// Retries must not ride on the first attempt's grant.
		if err := c.waitTurnBatch(ctx, methods, len(wire)); err != nil {
			c.failRemaining(results, calls, byID, &Error{Kind: KindCancelled, Method: "batch", Message: err.Error(), Err: err})
			return results
		}

		responses, err := c.doBatch(ctx, wire)
		if err == nil {
			c.fillBatch(results, calls, byID, responses)
			return results
		}
		gerr = AsError("batch", err)
		if gerr.Kind == KindCancelled || gerr.Kind == KindPermanent || attempt == c.retry.MaxAttempts {
			break
		}

		delay := c.retry.Delay(attempt)
		if gerr.Kind == KindRateLimited && gerr.RetryAfter > 0 {
			delay = gerr.RetryAfter
		}
		c.logger.Warn("batch attempt failed, retrying",
			zap.Int("attempt", attempt),
			zap.Int("size", len(wire)),
			zap.Duration("retry_in", delay),
			zap.Error(gerr))
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			c.failRemaining(results, calls, byID, &Error{Kind: KindCancelled, Method: "batch", Message: ctx.Err().Error(), Err: ctx.Err()})
			return results
		case <-timer.C:
		}
	}

	c.failRemaining(results, calls, byID, gerr)
	return results
}

func (c *Client) waitTurnBatch(ctx context.Context, methods map[string]struct{}, weight int) error {
	for method := range methods {
		if wait := c.gate(method).reserve(c.spacing); wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
	}
	return c.limiter.Acquire(ctx, weight)
}

// doBatch performs a single round trip carrying every wire entry.
func (c *Client) doBatch(callerCtx context.Context, wire []rpcRequest) ([]rpcResponse, error) {
	ctx, cancel := context.WithTimeout(callerCtx, c.timeout)
	defer cancel()

	body, err := json.Marshal(wire)
	if err != nil {
		return nil, &Error{Kind: KindPermanent, Method: "batch", Message: err.Error(), Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Kind: KindPermanent, Method: "batch", Message: err.Error(), Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if c.user != "" {
		req.SetBasicAuth(c.user, c.pass)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, classifyTransport(callerCtx, "batch", err)
	}
	defer func() { _ = utils.DrainAndClose(resp.Body) }()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable {
		return nil, &Error{
			Kind:       KindRateLimited,
			Method:     "batch",
			Message:    fmt.Sprintf("daemon over capacity (http %d)", resp.StatusCode),
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, &Error{Kind: KindPermanent, Method: "batch", Message: fmt.Sprintf("auth rejected (http %d)", resp.StatusCode)}
	}

	var responses []rpcResponse
	if derr := json.NewDecoder(resp.Body).Decode(&responses); derr != nil {
		return nil, &Error{Kind: KindTransient, Method: "batch", Message: fmt.Sprintf("malformed batch response (http %d)", resp.StatusCode), Err: derr}
	}
	return responses, nil
}

// fillBatch distributes per-entry outcomes; entries the daemon never
// answered get a transient error with their fallback.
func (c *Client) fillBatch(results []BatchResult, calls []BatchCall, byID map[uint64]int, responses []rpcResponse) {
	answered := make(map[int]struct{}, len(responses))
	for _, r := range responses {
		i, ok := byID[r.ID]
		if !ok {
			continue
		}
		answered[i] = struct{}{}
		if r.Error != nil {
			results[i] = BatchResult{
				Result: fallbackFor(calls[i].Method),
				Err:    classifyRPCError(calls[i].Method, r.Error.Code, r.Error.Message),
			}
			continue
		}
		result := r.Result
		if result == nil {
			result = nullResult
		}
		results[i] = BatchResult{Result: result}
	}
	for _, i := range byID {
		if _, ok := answered[i]; !ok {
			results[i] = BatchResult{
				Result: fallbackFor(calls[i].Method),
				Err:    &Error{Kind: KindTransient, Method: calls[i].Method, Message: "missing batch response"},
			}
		}
	}
}

func (c *Client) failRemaining(results []BatchResult, calls []BatchCall, byID map[uint64]int, gerr *Error) {
	for _, i := range byID {
		if results[i].Result == nil && results[i].Err == nil {
			entryErr := *gerr
			entryErr.Method = calls[i].Method
			results[i] = BatchResult{Result: fallbackFor(calls[i].Method), Err: &entryErr}
		}
	}
}
