package api

import (
	"fmt"
	"net/http"
	"strings"
)

// Machine-distinguishable error codes carried in the response envelope.
const (
	CodeValidationFailed   = "validation_failed"
	CodeTokenMissing       = "token_missing"
	CodeTokenMalformed     = "token_malformed"
	CodeTokenInvalid       = "token_invalid"
	CodeInvalidCredentials = "invalid_credentials"
	CodeForbidden          = "forbidden"
	CodeNotFound           = "not_found"
	CodeRateLimited        = "rate_limited"
	CodeInternalError      = "internal_error"
)

type ApiError struct {
	StatusCode int    `json:"status_code"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retry_after,omitempty"`
	Err        error  `json:"-"`
}

func (e *ApiError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Message, e.Err.Error())
	}

	return e.Message
}

func (e *ApiError) Unwrap() error {
	return e.Err
}

func lower(s string) string {
	return strings.ToLower(s)
}

// NewValidationError names the offending field in the message.
func NewValidationError(field string) *ApiError {
	return &ApiError{
		StatusCode: http.StatusBadRequest,
		Code:       CodeValidationFailed,
		Message:    fmt.Sprintf("invalid or missing field: %s", field),
	}
}

func NewBadRequestError() *ApiError {
	return &ApiError{
		StatusCode: http.StatusBadRequest,
		Code:       CodeValidationFailed,
		Message:    lower(http.StatusText(http.StatusBadRequest)),
	}
}

// NewUnauthorizedError carries a code distinguishing a missing or malformed
// header from a failed verification, but never which verification check
// failed.
func NewUnauthorizedError(code string) *ApiError {
	return &ApiError{
		StatusCode: http.StatusUnauthorized,
		Code:       code,
		Message:    lower(http.StatusText(http.StatusUnauthorized)),
	}
}

func NewForbiddenError() *ApiError {
	return &ApiError{
		StatusCode: http.StatusForbidden,
		Code:       CodeForbidden,
		Message:    lower(http.StatusText(http.StatusForbidden)),
	}
}

func NewNotFoundError() *ApiError {
	return &ApiError{
		StatusCode: http.StatusNotFound,
		Code:       CodeNotFound,
		Message:    lower(http.StatusText(http.StatusNotFound)),
	}
}

func NewRateLimitError(retryAfter int) *ApiError {
	return &ApiError{
		StatusCode: http.StatusTooManyRequests,
		Code:       CodeRateLimited,
		Message:    lower(http.StatusText(http.StatusTooManyRequests)),
		RetryAfter: retryAfter,
	}
}

func NewInternalServerError(err error) *ApiError {
	return &ApiError{
		StatusCode: http.StatusInternalServerError,
		Code:       CodeInternalError,
		Message:    lower(http.StatusText(http.StatusInternalServerError)),
		Err:        err,
	}
}

func NewMethodNotAllowedError() *ApiError {
	return &ApiError{
		StatusCode: http.StatusMethodNotAllowed,
		Code:       CodeValidationFailed,
		Message:    lower(http.StatusText(http.StatusMethodNotAllowed)),
	}
}
