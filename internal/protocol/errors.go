package protocol

import (
	"errors"

	"github.com/dkeye/huddle/internal/core"
)

type Code string

const (
	CodeNotFound           Code = "not_found"
	CodeCapabilityMismatch Code = "capability_mismatch"
	CodeProtocol           Code = "protocol"
	CodeForbidden          Code = "forbidden"
	CodeInternal           Code = "internal"
)

// Error is the error body of a rejected response.
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string { return string(e.Code) + ": " + e.Message }

// Unwrap maps the wire code back to the core sentinel, so callers can use
// errors.Is(err, core.ErrCapabilityMismatch) on a rejected request.
func (e *Error) Unwrap() error {
	switch e.Code {
	case CodeNotFound:
		return core.ErrNotFound
	case CodeCapabilityMismatch:
		return core.ErrCapabilityMismatch
	case CodeForbidden:
		return core.ErrForbidden
	case CodeProtocol:
		return core.ErrProtocol
	}
	return nil
}

func ErrorFrom(err error) *Error {
	var perr *Error
	if errors.As(err, &perr) {
		return perr
	}
	code := CodeInternal
	switch {
	case errors.Is(err, core.ErrNotFound):
		code = CodeNotFound
	case errors.Is(err, core.ErrCapabilityMismatch):
		code = CodeCapabilityMismatch
	case errors.Is(err, core.ErrForbidden):
		code = CodeForbidden
	case errors.Is(err, core.ErrProtocol):
		code = CodeProtocol
	}
	return &Error{Code: code, Message: err.Error()}
}
