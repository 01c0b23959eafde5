package store

import (
	"errors"
	"fmt"
)

// NoRow is returned as the key by ConflictSentinel writes that hit an
// existing row.
const NoRow int64 = -1

var (
	// ErrConflict matches every *ConflictError.
	ErrConflict = errors.New("natural key conflict")

	// ErrStorageFatal matches every *FatalError.
	ErrStorageFatal = errors.New("storage fatal")

	// ErrSequenceConsumed is yielded when a single-pass result sequence is
	// ranged over a second time.
	ErrSequenceConsumed = errors.New("result sequence already consumed")
)

// ConflictPolicy selects how an insert reacts to a natural key that is
// already stored.
type ConflictPolicy int

const (
	// ConflictRaise returns a *ConflictError.
	ConflictRaise ConflictPolicy = iota
	// ConflictSentinel returns NoRow and a nil error.
	ConflictSentinel
	// ConflictResolve returns the key of the existing row.
	ConflictResolve
)

func (p ConflictPolicy) String() string {
	switch p {
	case ConflictRaise:
		return "raise"
	case ConflictSentinel:
		return "sentinel"
	case ConflictResolve:
		return "resolve"
	default:
		return fmt.Sprintf("ConflictPolicy(%d)", int(p))
	}
}

// ConflictError reports an insert whose natural key already exists.
// ExistingPK is the key of the stored row.
type ConflictError struct {
	Table      string
	ExistingPK int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s: row already exists (pk %d)", e.Table, e.ExistingPK)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// FatalError reports a store that cannot be opened, created or migrated.
// The store must not be used afterwards. Backup names the copy taken before
// a destructive migration, if any.
type FatalError struct {
	Op     string
	Backup string
	Err    error
}

func (e *FatalError) Error() string {
	if e.Backup != "" {
		return fmt.Sprintf("%s: %v (backup at %s)", e.Op, e.Err, e.Backup)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

func (e *FatalError) Is(target error) bool {
	return target == ErrStorageFatal
}

func fatal(op string, err error) *FatalError {
	return &FatalError{Op: op, Err: err}
}
