package rpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// Kind classifies a gateway failure so callers never need to know
// daemon-specific error codes.
type Kind int

const (
	// KindTransient covers timeouts and connection failures; retried.
	KindTransient Kind = iota
	// KindRateLimited means the daemon signalled over-capacity; waited
	// out and retried, not counted as a hard failure.
	KindRateLimited
	// KindPermanent covers malformed requests (unknown method, invalid
	// params); never retried.
	KindPermanent
	// KindCancelled means the caller's context fired; never retried and
	// logged separately from true failures.
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindRateLimited:
		return "rate-limited"
	case KindPermanent:
		return "permanent"
	case KindCancelled:
		return "cancelled"
	}
	return "unknown"
}

// Error is the single error type surfaced by the gateway.
type Error struct {
	Kind    Kind
	Method  string
	Code    int // JSON-RPC error code, if any
	Message string
	// RetryAfter carries the server's Retry-After hint on rate-limit
	// responses; zero when absent.
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("rpc %s: %s error %d: %s", e.Method, e.Kind, e.Code, e.Message)
	}
	return fmt.Sprintf("rpc %s: %s: %s", e.Method, e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether another attempt can change the outcome.
func (e *Error) Retryable() bool {
	return e.Kind == KindTransient || e.Kind == KindRateLimited
}

// Permanent JSON-RPC error codes: parse error, invalid request, method
// not found, invalid params.
func permanentCode(code int) bool {
	switch code {
	case -32700, -32600, -32601, -32602:
		return true
	}
	return false
}

// classifyRPCError maps a daemon JSON-RPC error object to a Kind.
// Application-level codes (bad address, unknown tx) are permanent too:
// retrying the same request cannot change the answer. Only the daemon's
// internal-error code is worth another attempt.
func classifyRPCError(method string, code int, message string) *Error {
	kind := KindPermanent
	if code == -32603 {
		kind = KindTransient
	}
	return &Error{Kind: kind, Method: method, Code: code, Message: message}
}

// classifyTransport maps transport-level failures. callerCtx is the
// context supplied by the caller, before the gateway's own timeout is
// layered on: if the caller cancelled, the outcome is KindCancelled
// even when the transport reports it as a deadline error.
func classifyTransport(callerCtx context.Context, method string, err error) *Error {
	if callerCtx.Err() != nil {
		return &Error{Kind: KindCancelled, Method: method, Message: callerCtx.Err().Error(), Err: err}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTransient, Method: method, Message: "gateway timeout", Err: err}
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return &Error{Kind: KindTransient, Method: method, Message: "network timeout", Err: err}
	}
	return &Error{Kind: KindTransient, Method: method, Message: err.Error(), Err: err}
}

// AsError unwraps any error into a gateway *Error, classifying unknown
// errors as transient.
func AsError(method string, err error) *Error {
	var gerr *Error
	if errors.As(err, &gerr) {
		return gerr
	}
	return &Error{Kind: KindTransient, Method: method, Message: err.Error(), Err: err}
}

// IsFallback reports whether err marks a fallback result (any gateway
// failure after retries were exhausted). Callers that must distinguish
// a real empty result from a fallback inspect this.
func IsFallback(err error) bool {
	var gerr *Error
	return errors.As(err, &gerr)
}
