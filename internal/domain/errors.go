package domain

import (
	"errors"
	"fmt"
)

// Kind classifies failures so callers can decide whether to retry,
// re-authenticate or give up without inspecting error strings.
type Kind string

const (
	// KindCredential means the broker rejected the username/password. Never retriable.
	KindCredential Kind = "credential"

	// KindAuthorization means the account is not entitled to the requested
	// environment or operation. Never retriable.
	KindAuthorization Kind = "authorization"

	// KindConnectivity covers timeouts and unreachable endpoints. Retriable with backoff.
	KindConnectivity Kind = "connectivity"

	// KindDataUnavailable means no quote could be produced after all paths were exhausted.
	KindDataUnavailable Kind = "data_unavailable"

	// KindValidation marks malformed input (pair, settlement, size) rejected before any network call.
	KindValidation Kind = "validation"

	// KindPartialExecution means one leg of a pair was submitted and the other
	// failed. The submitted leg is NOT reversed.
	KindPartialExecution Kind = "partial_execution"

	// KindUnknown is everything the broker could not classify.
	KindUnknown Kind = "unknown"
)

// RetriableError defines an interface for errors that can be retried
type RetriableError interface {
	error
	IsRetriable() bool
}

// IsRetriable checks if an error is retriable
func IsRetriable(err error) bool {
	var re RetriableError
	if errors.As(err, &re) {
		return re.IsRetriable()
	}
	return false
}

// Error is the discriminated failure returned by every public operation.
// Kind is machine-readable; Op/Symbol/Settlement name the offending call.
type Error struct {
	Kind       Kind
	Op         string
	Symbol     string
	Settlement string
	Msg        string
	Err        error
}

func (e *Error) Error() string {
	s := e.Op + ": " + string(e.Kind)
	if e.Symbol != "" {
		s += " [" + e.Symbol
		if e.Settlement != "" {
			s += "@" + e.Settlement
		}
		s += "]"
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsRetriable reports whether the failure class is worth another attempt.
// Only connectivity failures qualify; credential and authorization failures
// will fail identically on every retry.
func (e *Error) IsRetriable() bool {
	return e.Kind == KindConnectivity
}

// E builds a domain Error wrapping err. msg may be empty.
func E(kind Kind, op string, msg string, err error) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg, Err: err}
}

// Ef is E with a formatted message and no wrapped error.
func Ef(kind Kind, op string, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// KindOf extracts the Kind from any error chain. Unclassified errors report KindUnknown.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindUnknown
}
