// Package kerrors defines the gateway's error taxonomy: a small set of
// classified errors that carry the HTTP status their cause should
// surface as, the way pkg/errors.AppError does in the wider corpus.
package kerrors

import (
	"errors"
	"fmt"
)

// Kind classifies a gateway error for retry policy and client response.
type Kind string

const (
	// KindAuthInvalid means the refresh endpoint rejected the refresh
	// token (401 / invalid_grant). Terminal — surfaced as 401.
	KindAuthInvalid Kind = "auth_invalid"

	// KindProxyAuthMissing means the inbound bearer key was missing or wrong.
	KindProxyAuthMissing Kind = "proxy_auth_missing"

	// KindValidation means the inbound request failed schema validation.
	KindValidation Kind = "validation"

	// KindUpstreamTransient means the upstream returned 429/5xx or timed
	// out. Retryable with backoff; surfaced as 503 on exhaustion.
	KindUpstreamTransient Kind = "upstream_transient"

	// KindUpstreamAuth means the upstream returned 403. One
	// force-refresh-and-retry is attempted before this becomes terminal.
	KindUpstreamAuth Kind = "upstream_auth"

	// KindUpstreamPermanent means the upstream returned a 4xx other than
	// 401/403. Not retried; body echoed to the client as 502.
	KindUpstreamPermanent Kind = "upstream_permanent"

	// KindStreamParse means the event-stream parser hit an
	// unrecoverable invariant violation.
	KindStreamParse Kind = "stream_parse"

	// KindNetwork means a transport-level failure (dial/read/timeout)
	// not tied to an HTTP status code.
	KindNetwork Kind = "network"

	// KindUnavailable means retries were exhausted without success.
	KindUnavailable Kind = "unavailable"
)

// HTTPStatus returns the status code a Kind surfaces as, per spec §7.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindAuthInvalid:
		return 401
	case KindProxyAuthMissing:
		return 401
	case KindValidation:
		return 422
	case KindUpstreamTransient:
		return 503
	case KindUpstreamAuth, KindUpstreamPermanent:
		return 502
	case KindNetwork:
		return 502
	case KindUnavailable:
		return 503
	case KindStreamParse:
		return 502
	default:
		return 500
	}
}

// GatewayError is a classified error with an HTTP-status-bearing Kind.
type GatewayError struct {
	Kind       Kind
	Message    string
	StatusCode int // upstream status code, if any (0 if unknown)
	Body       string
	Cause      error
}

func (e *GatewayError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

func (e *GatewayError) Unwrap() error { return e.Cause }

// IsRetryable reports whether the driver should retry this error.
func (e *GatewayError) IsRetryable() bool {
	return e.Kind == KindUpstreamTransient
}

func New(kind Kind, message string) *GatewayError {
	return &GatewayError{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, cause error) *GatewayError {
	return &GatewayError{Kind: kind, Message: message, Cause: cause}
}

// AuthError is a convenience constructor for a terminal refresh rejection.
func AuthError(message string, cause error) *GatewayError {
	return &GatewayError{Kind: KindAuthInvalid, Message: message, Cause: cause}
}

// NetworkError is a convenience constructor for transport failures.
func NetworkError(message string, cause error) *GatewayError {
	return &GatewayError{Kind: KindNetwork, Message: message, Cause: cause}
}

// UpstreamError wraps a non-retryable upstream 4xx response.
func UpstreamError(statusCode int, body string) *GatewayError {
	return &GatewayError{
		Kind:       KindUpstreamPermanent,
		Message:    "upstream rejected request",
		StatusCode: statusCode,
		Body:       body,
	}
}

// UpstreamUnavailable signals retry exhaustion.
func UpstreamUnavailable(cause error) *GatewayError {
	return &GatewayError{Kind: KindUnavailable, Message: "upstream unavailable after retries", Cause: cause}
}

// As extracts a *GatewayError from err, the way pkg/errors.IsNotFound does.
func As(err error) (*GatewayError, bool) {
	var ge *GatewayError
	if errors.As(err, &ge) {
		return ge, true
	}
	return nil, false
}

// KindOf returns the Kind of err, or 0-value if err is not a GatewayError.
func KindOf(err error) Kind {
	if ge, ok := As(err); ok {
		return ge.Kind
	}
	return ""
}
