package outreach

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
)

// Kind tags an error with how the pipelines should treat it. Classification
// is a type-level match; substring inspection is kept only as a fallback for
// opaque errors from third-party clients.
type Kind int

// Error kinds, from transient to fatal.
const (
	KindUnknown Kind = iota
	KindTimeout
	KindConnReset
	KindConnRefused
	KindDNS
	KindNetwork
	KindRateLimited
	KindNoProfile
	KindNoForm
	KindValidation
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindConnReset:
		return "connection_reset"
	case KindConnRefused:
		return "connection_refused"
	case KindDNS:
		return "dns_failure"
	case KindNetwork:
		return "network_error"
	case KindRateLimited:
		return "rate_limited"
	case KindNoProfile:
		return "no_profile"
	case KindNoForm:
		return "no_form"
	case KindValidation:
		return "validation_error"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Retryable reports whether errors of this kind may consume a retry slot.
// Everything else fails immediately.
func (k Kind) Retryable() bool {
	switch k {
	case KindTimeout, KindConnReset, KindConnRefused, KindDNS, KindNetwork, KindRateLimited:
		return true
	default:
		return false
	}
}

// Error is a tagged error produced at the network/IO boundary.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// E wraps err with a kind and operation name.
func E(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// transient failure signatures seen from clients that only surface strings.
var retryableSubstrings = []string{
	"ETIMEDOUT",
	"ECONNRESET",
	"ECONNREFUSED",
	"ENOTFOUND",
	"socket hang up",
	"network error",
	"failed to fetch",
	"connection reset",
	"connection refused",
}

// Classify determines the Kind of an arbitrary error. Tagged errors keep
// their kind; net/syscall errors map structurally; anything else falls back
// to the known transient signatures and is otherwise fatal.
func Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}

	var tagged *Error
	if errors.As(err, &tagged) {
		return tagged.Kind
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return KindDNS
	}
	if errors.Is(err, syscall.ECONNRESET) {
		return KindConnReset
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return KindConnRefused
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return KindNetwork
	}

	msg := strings.ToLower(err.Error())
	for _, sig := range retryableSubstrings {
		if strings.Contains(msg, strings.ToLower(sig)) {
			return KindNetwork
		}
	}
	return KindFatal
}

// Retryable reports whether err is a transient failure.
func Retryable(err error) bool {
	return Classify(err).Retryable()
}
