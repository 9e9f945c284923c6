// Package engineerr defines the error kinds shared across the storage and
// replication engine. Leaf packages return these wrapped with context;
// orchestrators compare with errors.Is/errors.As to decide whether to
// retry, skip, or abort.
package engineerr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for orchestrator-level handling.
type Kind int

const (
	// KindTransient marks a retryable I/O hiccup.
	KindTransient Kind = iota
	// KindIntegrity marks a hash mismatch, torn Merkle tree, or invalid
	// encoded document. Fatal for the current item.
	KindIntegrity
	KindNotLoaded
	KindNotFound
	KindAlreadyExists
	KindLockHeld
	KindTypeMismatch
	// KindFatal marks an unrecoverable condition for the whole operation,
	// e.g. a database-identity mismatch on replicate without force.
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "Transient"
	case KindIntegrity:
		return "IntegrityError"
	case KindNotLoaded:
		return "NotLoaded"
	case KindNotFound:
		return "NotFound"
	case KindAlreadyExists:
		return "AlreadyExists"
	case KindLockHeld:
		return "LockHeld"
	case KindTypeMismatch:
		return "TypeMismatch"
	case KindFatal:
		return "Fatal"
	default:
		return "Unknown"
	}
}

// Error is the engine's structured error value. Operation and Subject carry
// "which file/record, which operation" context for callers and logs.
type Error struct {
	Kind      Kind
	Operation string
	Subject   string
	Err       error
}

func (e *Error) Error() string {
	if e.Subject != "" {
		return fmt.Sprintf("%s: %s (%s): %v", e.Operation, e.Kind, e.Subject, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Operation, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is supports errors.Is(err, engineerr.Transient) style comparisons against
// the sentinel Kind markers below.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New wraps err with a kind, operation, and subject.
func New(kind Kind, operation, subject string, err error) *Error {
	return &Error{Kind: kind, Operation: operation, Subject: subject, Err: err}
}

// Sentinels for errors.Is comparisons where only the kind matters.
var (
	Transient     = &Error{Kind: KindTransient}
	Integrity     = &Error{Kind: KindIntegrity}
	NotLoaded     = &Error{Kind: KindNotLoaded}
	NotFound      = &Error{Kind: KindNotFound}
	AlreadyExists = &Error{Kind: KindAlreadyExists}
	LockHeld      = &Error{Kind: KindLockHeld}
	TypeMismatch  = &Error{Kind: KindTypeMismatch}
	Fatal         = &Error{Kind: KindFatal}
)

// KindOf extracts the Kind from err, if it (or something it wraps) is an
// *Error. The second return is false otherwise.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}
