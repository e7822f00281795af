// Package apperror defines the typed errors that cross service boundaries.
// The HTTP layer maps them onto the wire format {"code","message"}; anything
// that is not an *Error becomes INTERNAL_ERROR 500.
package apperror

import (
	"errors"
	"net/http"
)

const (
	CodeValidation          = "VALIDATION_ERROR"
	CodeAuthExpired         = "AUTH_EXPIRED"
	CodePermissionDenied    = "PERMISSION_DENIED"
	CodeNotFound            = "NOT_FOUND"
	CodeDuplicateNickname   = "DUPLICATE_NICKNAME"
	CodeDuplicateChunk      = "DUPLICATE_CHUNK"
	CodeAlreadyCompleted    = "ALREADY_COMPLETED"
	CodeAlreadyImported     = "ALREADY_IMPORTED"
	CodeNoChunks            = "NO_CHUNKS"
	CodeInvalidSessionState = "INVALID_SESSION_STATE"
	CodeUploadTooLarge      = "UPLOAD_TOO_LARGE"
	CodeInternal            = "INTERNAL_ERROR"
)

type Error struct {
	Code    string
	Message string
	Status  int
}

func (e *Error) Error() string {
	return e.Message
}

func New(code, message string, status int) *Error {
	return &Error{Code: code, Message: message, Status: status}
}

func NotFound(message string) *Error {
	return New(CodeNotFound, message, http.StatusNotFound)
}

func Validation(message string) *Error {
	return New(CodeValidation, message, http.StatusUnprocessableEntity)
}

// BadRequest is for malformed input that never reached domain validation.
func BadRequest(message string) *Error {
	return New(CodeValidation, message, http.StatusBadRequest)
}

func Unauthorized(message string) *Error {
	return New(CodeAuthExpired, message, http.StatusUnauthorized)
}

func Forbidden(message string) *Error {
	return New(CodePermissionDenied, message, http.StatusForbidden)
}

func Conflict(code, message string) *Error {
	return New(code, message, http.StatusConflict)
}

func UploadTooLarge(message string) *Error {
	return New(CodeUploadTooLarge, message, http.StatusRequestEntityTooLarge)
}

// Recovery preconditions report 400, not 409.
func NoChunks(message string) *Error {
	return New(CodeNoChunks, message, http.StatusBadRequest)
}

func InvalidSessionState(message string) *Error {
	return New(CodeInvalidSessionState, message, http.StatusBadRequest)
}

// From extracts the typed error from an error chain. The second return is
// false when the chain carries no *Error and the caller should treat it as
// internal.
func From(err error) (*Error, bool) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}
