package check

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrorKind buckets failures into retry-relevant categories.
type ErrorKind string

// Supported error kinds.
const (
	// KindNetwork covers connect, DNS, and reset failures.
	KindNetwork ErrorKind = "network"
	// KindTimeout covers per-attempt deadline expiry.
	KindTimeout ErrorKind = "timeout"
	// KindRateLimited means the source is explicitly throttling us.
	KindRateLimited ErrorKind = "rate_limited"
	// KindNotFound means the package or endpoint does not exist upstream.
	KindNotFound ErrorKind = "not_found"
	// KindParse means the response body could not be interpreted.
	KindParse ErrorKind = "parse"
	// KindUnauthorized is a credential or permission problem.
	KindUnauthorized ErrorKind = "unauthorized"
	// KindConfiguration is a bad source kind or spec.
	KindConfiguration ErrorKind = "configuration"
	// KindUnknown is the default bucket.
	KindUnknown ErrorKind = "unknown"
)

// Error is a classified failure raised by transports and checkers.
type Error struct {
	Kind    ErrorKind
	Op      string
	Message string
	Err     error
}

// Error renders the failure including the wrapped cause.
func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

// Unwrap exposes the cause for errors.Is/As chains.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError builds a classified error.
func NewError(kind ErrorKind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// WrapError classifies an underlying error under the given kind.
func WrapError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Classify maps a raised failure to an ErrorKind. Already-classified
// errors keep their kind; otherwise the chain is inspected for context
// deadline and net errors before falling back to unknown.
func Classify(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}
	var cerr *Error
	if errors.As(err, &cerr) {
		return cerr.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return KindTimeout
		}
		return KindNetwork
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return KindNetwork
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return KindNetwork
	}
	return KindUnknown
}
