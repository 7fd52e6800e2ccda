package tinystan

import (
	"context"
	"errors"
	"fmt"

	"github.com/WardBrian/tinystan/pkg/jsondata"
	"github.com/WardBrian/tinystan/pkg/model"
)

// ErrorKind classifies errors returned by the entry points. The numeric
// values are part of the public contract.
type ErrorKind int

const (
	// KindRuntime is a failure inside an algorithm or the model.
	KindRuntime ErrorKind = iota
	// KindInvalidArgument is a bad call-site parameter.
	KindInvalidArgument
	// KindInterrupt is a run cancelled by the caller.
	KindInterrupt
)

func (k ErrorKind) String() string {
	switch k {
	case KindRuntime:
		return "runtime"
	case KindInvalidArgument:
		return "invalid argument"
	case KindInterrupt:
		return "interrupt"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

// Sentinels matching every *Error of the corresponding kind under
// errors.Is.
var (
	ErrRuntime         = &Error{Kind: KindRuntime}
	ErrInvalidArgument = &Error{Kind: KindInvalidArgument}
	ErrInterrupt       = &Error{Kind: KindInterrupt, Msg: "interrupted"}
)

// Error is the error type returned by every entry point in this package.
type Error struct {
	Kind ErrorKind
	Msg  string
	err  error
}

func (e *Error) Error() string { return e.Msg }
func (e *Error) Unwrap() error { return e.err }

// Is matches the kind sentinels.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrRuntime:
		return e.Kind == KindRuntime
	case ErrInvalidArgument:
		return e.Kind == KindInvalidArgument
	case ErrInterrupt:
		return e.Kind == KindInterrupt
	}
	return false
}

func invalidArgument(format string, args ...any) *Error {
	return &Error{Kind: KindInvalidArgument, Msg: fmt.Sprintf(format, args...)}
}

// classify wraps err in an *Error of the matching kind. Nil stays nil.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	kind := KindRuntime
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return &Error{Kind: KindInterrupt, Msg: "interrupted", err: err}
	case errors.Is(err, jsondata.ErrOpen),
		errors.Is(err, jsondata.ErrInitCount),
		errors.Is(err, model.ErrArgument):
		kind = KindInvalidArgument
	}
	return &Error{Kind: kind, Msg: err.Error(), err: err}
}

// KindOf reports the kind of err, KindRuntime for errors from elsewhere.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindRuntime
}
