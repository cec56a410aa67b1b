package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Kind is the closed error taxonomy used to classify failures. Adapters tag
// errors with a Kind at the point an external call fails; classification never
// inspects Go types beyond the fallbacks in KindOf.
type Kind string

const (
	KindValidation  Kind = "validation"
	KindPermission  Kind = "permission"
	KindSecurity    Kind = "security"
	KindInternal    Kind = "internal" // programmer error, e.g. a recovered panic
	KindNotFound    Kind = "not_found"
	KindIntegrity   Kind = "integrity"
	KindConnection  Kind = "connection"
	KindTimeout     Kind = "timeout"
	KindCircuitOpen Kind = "circuit_open"
	KindUnknown     Kind = "unknown"
)

// Severity ranks how bad a failure is. The zero value is SeverityLow.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

// String returns the upper-case label used in results and logs.
func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "LOW"
	case SeverityMedium:
		return "MEDIUM"
	case SeverityHigh:
		return "HIGH"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Severity) UnmarshalText(b []byte) error {
	for c := SeverityLow; c <= SeverityCritical; c++ {
		if c.String() == string(b) {
			*s = c
			return nil
		}
	}
	return fmt.Errorf("resilience: unknown severity %q", b)
}

// SeverityOf maps a Kind to its Severity.
func SeverityOf(k Kind) Severity {
	switch k {
	case KindValidation, KindPermission, KindSecurity, KindInternal:
		return SeverityCritical
	case KindNotFound, KindIntegrity:
		return SeverityHigh
	case KindConnection, KindTimeout, KindCircuitOpen:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// ParseKind converts a config string into a Kind.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindValidation, KindPermission, KindSecurity, KindInternal, KindNotFound,
		KindIntegrity, KindConnection, KindTimeout, KindCircuitOpen, KindUnknown:
		return k, nil
	}
	return "", fmt.Errorf("resilience: unknown error kind %q", s)
}

// Error carries a Kind alongside the underlying failure.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// Tag attaches kind to err. A nil err stays nil. An err that already carries
// a Kind is re-tagged with the new one.
func Tag(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}

// Tagf builds a new tagged error from a format string.
func Tagf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the Kind attached to err. Untagged context deadlines are
// timeouts, untagged net errors are connection failures (or timeouts), and
// everything else is KindUnknown.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return KindTimeout
		}
		return KindConnection
	}
	return KindUnknown
}

// IsKind reports whether err is tagged (or falls back) to kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
