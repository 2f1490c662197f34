package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidInput      = errors.New("invalid input")
	ErrTemporary         = errors.New("temporary failure")
	ErrInvalidTransition = errors.New("invalid state transition")

	// Per-field kinds. They degrade a single field and never abort a document.
	ErrUnresolvedTerm    = errors.New("unresolved term")
	ErrInvalidPattern    = errors.New("invalid rule pattern")
	ErrClassifierTimeout = errors.New("classifier timeout")

	// ErrDuplicateSuggestion is swallowed by the suggestion trigger.
	ErrDuplicateSuggestion = errors.New("duplicate pending suggestion")

	ErrRollback        = errors.New("rollback rejected")
	ErrThresholdConfig = errors.New("invalid threshold configuration")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}

// RollbackError describes why a version transition was refused. It matches
// ErrRollback under errors.Is.
type RollbackError struct {
	Lineage       LineageKey
	TargetVersion int
	Reason        string
}

func (e *RollbackError) Error() string {
	return fmt.Sprintf("rollback %s to v%d: %s", e.Lineage, e.TargetVersion, e.Reason)
}

func (e *RollbackError) Is(target error) bool {
	return target == ErrRollback
}
