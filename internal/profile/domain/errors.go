package domain

import (
	"errors"
	"fmt"
)

// Kind classifies a pipeline failure.
type Kind string

const (
	KindParse       Kind = "parse_error"
	KindMerge       Kind = "merge_error"
	KindProjection  Kind = "projection_error"
	KindTimeout     Kind = "timeout_error"
	KindTransientIO Kind = "transient_io_error"
)

var (
	ErrParse       = errors.New("parse_error")
	ErrMerge       = errors.New("merge_error")
	ErrProjection  = errors.New("projection_error")
	ErrTimeout     = errors.New("timeout_error")
	ErrTransientIO = errors.New("transient_io_error")
)

var kindSentinel = map[Kind]error{
	KindParse:       ErrParse,
	KindMerge:       ErrMerge,
	KindProjection:  ErrProjection,
	KindTimeout:     ErrTimeout,
	KindTransientIO: ErrTransientIO,
}

// Error is a classified pipeline failure for one float.
// errors.Is(err, ErrParse) matches any Error of KindParse.
type Error struct {
	Kind    Kind
	FloatID int64
	Op      string
	Err     error
}

func (e *Error) Error() string {
	if e.FloatID != 0 {
		return fmt.Sprintf("%s: float %d: %s: %v", e.Kind, e.FloatID, e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	return kindSentinel[e.Kind] == target
}

func newError(kind Kind, floatID int64, op string, err error) error {
	if err == nil {
		err = errors.New("unknown")
	}
	return &Error{Kind: kind, FloatID: floatID, Op: op, Err: err}
}

func ParseError(floatID int64, op string, err error) error {
	return newError(KindParse, floatID, op, err)
}

func MergeError(floatID int64, op string, err error) error {
	return newError(KindMerge, floatID, op, err)
}

func ProjectionError(floatID int64, op string, err error) error {
	return newError(KindProjection, floatID, op, err)
}

func TimeoutError(floatID int64, op string, err error) error {
	return newError(KindTimeout, floatID, op, err)
}

func TransientIOError(floatID int64, op string, err error) error {
	return newError(KindTransientIO, floatID, op, err)
}

// KindOf returns the kind of the first classified error in the chain.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// Retryable reports whether a failure may succeed on a later attempt
// within the same run. Parse failures are deterministic and never are.
func Retryable(err error) bool {
	kind, ok := KindOf(err)
	if !ok {
		return false
	}
	return kind == KindTransientIO
}
