// Package cxerr defines the error kinds shared across CXDB's core
// subsystems (spec §7). Callers classify an error with Kind; the core
// never retries internally and never substitutes or skips data on a
// classified error.
package cxerr

import (
	"errors"
	"fmt"
)

// Sentinel errors. Wrap with fmt.Errorf("...: %w", ErrX) to attach
// context; Kind unwraps back to one of these.
var (
	ErrNotFound          = errors.New("not found")
	ErrContextNotFound   = errors.New("context not found")
	ErrParentNotFound    = errors.New("parent turn not found")
	ErrParentMismatch    = errors.New("parent violates lineage invariant")
	ErrDescriptorMissing = errors.New("type descriptor missing")
	ErrDescriptorConflict = errors.New("descriptor conflict")
	ErrFieldTypeMismatch = errors.New("field type mismatch")
	ErrCorrupt           = errors.New("corrupt data")
	ErrIO                = errors.New("io error")
	ErrConflict          = errors.New("conflict")
)

// Kind reports which of the sentinel errors above an error wraps, or
// "" if it wraps none of them. Intended for protocol/gateway layers
// that need to map an error onto a wire status code without depending
// on the core's concrete error types.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return "NotFound"
	case errors.Is(err, ErrContextNotFound):
		return "ContextNotFound"
	case errors.Is(err, ErrParentNotFound):
		return "ParentNotFound"
	case errors.Is(err, ErrParentMismatch):
		return "ParentMismatch"
	case errors.Is(err, ErrDescriptorMissing):
		return "DescriptorMissing"
	case errors.Is(err, ErrDescriptorConflict):
		return "DescriptorConflict"
	case errors.Is(err, ErrFieldTypeMismatch):
		return "FieldTypeMismatch"
	case errors.Is(err, ErrCorrupt):
		return "Corrupt"
	case errors.Is(err, ErrIO):
		return "Io"
	case errors.Is(err, ErrConflict):
		return "Conflict"
	default:
		return ""
	}
}

// DescriptorConflictError reports a registry publish that violated
// R1 (immutability), R2 (add-only tags), or R3 (dense versions) for a
// specific (type_id, version) pair.
type DescriptorConflictError struct {
	TypeID  string
	Version uint32
	Reason  string
}

func (e *DescriptorConflictError) Error() string {
	return fmt.Sprintf("descriptor conflict for %s@%d: %s", e.TypeID, e.Version, e.Reason)
}

func (e *DescriptorConflictError) Unwrap() error { return ErrDescriptorConflict }

// NewDescriptorConflict builds a DescriptorConflictError.
func NewDescriptorConflict(typeID string, version uint32, reason string) error {
	return &DescriptorConflictError{TypeID: typeID, Version: version, Reason: reason}
}

// ParentMismatchError reports that an explicit parent_turn_id exists
// but violates the lineage invariant the caller expected (T2).
type ParentMismatchError struct {
	ParentTurnID uint64
	Reason       string
}

func (e *ParentMismatchError) Error() string {
	return fmt.Sprintf("parent %d: %s", e.ParentTurnID, e.Reason)
}

func (e *ParentMismatchError) Unwrap() error { return ErrParentMismatch }

// NewParentMismatch builds a ParentMismatchError.
func NewParentMismatch(parentTurnID uint64, reason string) error {
	return &ParentMismatchError{ParentTurnID: parentTurnID, Reason: reason}
}
