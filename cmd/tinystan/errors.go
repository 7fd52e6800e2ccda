package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/WardBrian/tinystan/internal/catalog"
	"github.com/WardBrian/tinystan/pkg/tinystan"
)

const (
	exitRuntime   = 1
	exitUsage     = 2
	exitInterrupt = 130
)

// usageError is a command line mistake caught before any engine call.
type usageError struct{ msg string }

func (e *usageError) Error() string { return e.msg }

func usagef(format string, args ...any) error {
	return &usageError{msg: fmt.Sprintf(format, args...)}
}

// exitStatus maps err to a process exit code and the line printed to
// stderr.
func exitStatus(err error) (int, string) {
	var usage *usageError
	switch {
	case err == nil:
		return 0, ""
	case errors.Is(err, tinystan.ErrInterrupt), errors.Is(err, context.Canceled):
		return exitInterrupt, "interrupted"
	case errors.As(err, &usage),
		errors.Is(err, catalog.ErrUnknownModel),
		errors.Is(err, tinystan.ErrInvalidArgument):
		return exitUsage, fmt.Sprintf("error: %s: %v", tinystan.KindInvalidArgument, err)
	}
	return exitRuntime, fmt.Sprintf("error: %s: %v", tinystan.KindOf(err), err)
}
