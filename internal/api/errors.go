package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/WardBrian/tinystan/internal/catalog"
	"github.com/WardBrian/tinystan/pkg/tinystan"
)

var (
	ErrInvalidRequest = errors.New("invalid_request")
	ErrFitNotFound    = errors.New("fit not found")
)

type invalidRequestError struct {
	msg string
}

func (e invalidRequestError) Error() string {
	return e.msg
}

func (e invalidRequestError) Unwrap() error {
	return ErrInvalidRequest
}

func newInvalidRequest(format string, args ...any) error {
	return invalidRequestError{msg: fmt.Sprintf(format, args...)}
}

// errorStatus maps a fit error to an HTTP status and error type.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, ErrInvalidRequest), errors.Is(err, tinystan.ErrInvalidArgument):
		return http.StatusBadRequest, "invalid_request_error"
	case errors.Is(err, catalog.ErrUnknownModel), errors.Is(err, ErrFitNotFound):
		return http.StatusNotFound, "not_found_error"
	case errors.Is(err, tinystan.ErrInterrupt):
		return http.StatusConflict, "interrupted_error"
	default:
		return http.StatusUnprocessableEntity, "runtime_error"
	}
}

// toResponseError describes err in the error envelope. Code carries the
// engine error kind.
func toResponseError(err error) *ResponseError {
	_, typ := errorStatus(err)
	re := &ResponseError{Message: err.Error(), Type: typ}
	var e *tinystan.Error
	if errors.As(err, &e) {
		re.Code = strings.ReplaceAll(e.Kind.String(), " ", "_")
	}
	return re
}
