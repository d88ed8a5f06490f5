// Package errdefs defines the failure taxonomy shared by the storage,
// tensor, registry and defaults packages.
//
// Every error returned by those packages wraps exactly one of the sentinels
// below, so callers branch with errors.Is and read context with errors.As.
package errdefs

import (
	"errors"
	"fmt"
)

var (
	ErrDuplicateRegistration  = errors.New("duplicate registration")
	ErrUnknownType            = errors.New("unknown type")
	ErrMalformedTypeName      = errors.New("malformed type name")
	ErrAllocationFailure      = errors.New("allocation failure")
	ErrUnsupportedDefaultKind = errors.New("unsupported default kind")
	ErrShapeStrideMismatch    = errors.New("shape/stride mismatch")
	ErrIncompatibleShape      = errors.New("incompatible shape")
	ErrIndexOutOfRange        = errors.New("index out of range")
)

// TypeError reports a failure tied to a (backend, kind) pair.
type TypeError struct {
	Err     error
	Backend string
	Kind    string
}

func (e *TypeError) Error() string {
	return fmt.Sprintf("%v: backend=%s kind=%s", e.Err, e.Backend, e.Kind)
}

func (e *TypeError) Unwrap() error { return e.Err }

// NameError reports a type name that could not be resolved.
type NameError struct {
	Err    error
	Name   string
	Reason string
}

func (e *NameError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("%v: %q", e.Err, e.Name)
	}
	return fmt.Sprintf("%v: %q (%s)", e.Err, e.Name, e.Reason)
}

func (e *NameError) Unwrap() error { return e.Err }

// ShapeError carries the geometry that failed validation.
type ShapeError struct {
	Err      error
	Shape    []int
	Stride   []int
	Offset   int
	Target   []int
	Capacity int
	Reason   string
}

func (e *ShapeError) Error() string {
	msg := fmt.Sprintf("%v: shape=%v stride=%v offset=%d", e.Err, e.Shape, e.Stride, e.Offset)
	if e.Target != nil {
		msg += fmt.Sprintf(" target=%v", e.Target)
	}
	if e.Capacity >= 0 {
		msg += fmt.Sprintf(" capacity=%d", e.Capacity)
	}
	if e.Reason != "" {
		msg += " (" + e.Reason + ")"
	}
	return msg
}

func (e *ShapeError) Unwrap() error { return e.Err }

// IndexError reports an element access outside a dimension's extent.
type IndexError struct {
	Index []int
	Shape []int
	Dim   int
}

func (e *IndexError) Error() string {
	if e.Dim < 0 {
		return fmt.Sprintf("%v: index %v for shape %v", ErrIndexOutOfRange, e.Index, e.Shape)
	}
	return fmt.Sprintf("%v: index %v for shape %v (dim %d)", ErrIndexOutOfRange, e.Index, e.Shape, e.Dim)
}

func (e *IndexError) Unwrap() error { return ErrIndexOutOfRange }

// AllocError reports a backend that could not satisfy a request.
// Cause is the backend's own error, if any.
type AllocError struct {
	Backend string
	Kind    string
	Count   int
	Bytes   int
	Cause   error
}

func (e *AllocError) Error() string {
	msg := fmt.Sprintf("%v: backend=%s kind=%s count=%d bytes=%d", ErrAllocationFailure, e.Backend, e.Kind, e.Count, e.Bytes)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap exposes both the sentinel and the backend cause.
func (e *AllocError) Unwrap() []error {
	if e.Cause == nil {
		return []error{ErrAllocationFailure}
	}
	return []error{ErrAllocationFailure, e.Cause}
}
