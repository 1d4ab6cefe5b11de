// Package fderrors defines the distinct error kinds used throughout the
// upload/download stack, named by contract rather than by concrete type,
// mirroring the way the teacher's SDO abort codes form a small closed set
// with a description map — but expressed as ordinary Go error values
// since none of these ever cross the wire.
package fderrors

import (
	"errors"
	"fmt"
)

// Kind is a closed set of error categories used to classify failures for
// logging, retry policy, and propagation decisions.
type Kind uint8

const (
	KindIO Kind = iota
	KindTimeout
	KindTimeoutExhausted
	KindProtocol
	KindDanglingReference
	KindStorage
	KindCoreRejected
	KindCancelled
)

var kindDescription = map[Kind]string{
	KindIO:                "io",
	KindTimeout:            "timeout",
	KindTimeoutExhausted:   "timeout-exhausted",
	KindProtocol:           "protocol-error",
	KindDanglingReference:  "dangling-reference",
	KindStorage:            "storage-error",
	KindCoreRejected:       "core-rejected",
	KindCancelled:          "cancelled",
}

func (k Kind) String() string {
	if s, ok := kindDescription[k]; ok {
		return s
	}
	return "unknown"
}

// Error wraps an underlying cause with a Kind and the board/core/operation
// context needed for the user-visible failure summary (spec.md §7).
type Error struct {
	Kind      Kind
	Board     string
	Core      string
	Operation string
	Err       error
}

func (e *Error) Error() string {
	loc := e.Operation
	if e.Board != "" {
		loc = fmt.Sprintf("board=%s", e.Board)
		if e.Core != "" {
			loc += fmt.Sprintf(" core=%s", e.Core)
		}
		if e.Operation != "" {
			loc += fmt.Sprintf(" op=%s", e.Operation)
		}
	}
	if loc == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s [%s]: %v", e.Kind, loc, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is allows errors.Is(err, fderrors.ErrTimeout) style matching against a
// Kind sentinel such as those declared below: only the Kind is compared.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == other.Kind
}

// New constructs a bare *Error of the given kind, for use as an
// errors.Is sentinel or as a quick wrap with no location context.
func New(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// WithLocation attaches board/core/operation context to an existing error
// by wrapping it in a new *Error of the given kind, even if err already
// is one.
func WithLocation(kind Kind, board, core, operation string, err error) *Error {
	return &Error{Kind: kind, Board: board, Core: core, Operation: operation, Err: err}
}

// Sentinels usable directly with errors.Is for kind-only matching.
var (
	ErrTimeout           = New(KindTimeout, errors.New("operation timed out"))
	ErrTimeoutExhausted  = New(KindTimeoutExhausted, errors.New("retry budget exhausted"))
	ErrProtocol          = New(KindProtocol, errors.New("protocol violation"))
	ErrDanglingReference = New(KindDanglingReference, errors.New("dangling cross-core reference"))
	ErrCancelled         = New(KindCancelled, errors.New("operation cancelled"))
)

// IsKind reports whether err (or anything it wraps) is a *Error of the
// given Kind.
func IsKind(err error, kind Kind) bool {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind == kind
	}
	return false
}
