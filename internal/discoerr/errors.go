// Package discoerr defines the closed set of error kinds returned by the
// querier, trackers, and graph. None of them are used as panics or
// unwindable control flow; they are ordinary returned values.
package discoerr

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind identifies which of the closed set of failure categories an Error
// belongs to.
type Kind int

const (
	// OperationInvalid indicates the callee was not in a state that
	// allows the requested operation (e.g. Start on an already-started
	// tracker).
	OperationInvalid Kind = iota + 1
	// ParameterInvalid indicates bad input, such as a mismatched
	// RecordKey passed to Update.
	ParameterInvalid
	// ItemAlreadyExists indicates an attempt to create something that is
	// already present (e.g. StartTracking a domain twice).
	ItemAlreadyExists
	// ItemNotFound indicates a lookup failed because nothing is tracked
	// under the given key.
	ItemNotFound
	// OperationCancelled indicates the operation could not proceed given
	// the current graph/cache state (e.g. ApplyDataRecordChange on a name
	// with no corresponding node).
	OperationCancelled
	// UpdateReceivedRecordFailure indicates a record received over the
	// wire could not be applied to existing tracked state.
	UpdateReceivedRecordFailure
)

func (k Kind) String() string {
	switch k {
	case OperationInvalid:
		return "OperationInvalid"
	case ParameterInvalid:
		return "ParameterInvalid"
	case ItemAlreadyExists:
		return "ItemAlreadyExists"
	case ItemNotFound:
		return "ItemNotFound"
	case OperationCancelled:
		return "OperationCancelled"
	case UpdateReceivedRecordFailure:
		return "UpdateReceivedRecordFailure"
	default:
		return "Unknown"
	}
}

// Error is the concrete type returned for every failure in this module.
type Error struct {
	Kind Kind
	Op   string
	err  error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

// Unwrap exposes the underlying cause, if any, so errors.Is/As work.
func (e *Error) Unwrap() error { return e.err }

// New builds an Error with a stack-capturing cause of msg.
func New(kind Kind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, err: errors.New(msg)}
}

// Wrap builds an Error around an existing cause, capturing a stack trace
// at the point cause first became a discoerr.Error (via pkg/errors.Wrap).
func Wrap(kind Kind, op string, cause error) *Error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, err: errors.Wrap(cause, op)}
}

// Is reports whether err is a *Error of the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}
