package core

import (
	"errors"
	"fmt"
	"net/http"
)

type ErrorCode string

const (
	ErrorValidation           ErrorCode = "VALIDATION_ERROR"
	ErrorInvalidMessage       ErrorCode = "INVALID_MESSAGE"
	ErrorInvalidTitle         ErrorCode = "INVALID_TITLE"
	ErrorUnauthorized         ErrorCode = "UNAUTHORIZED"
	ErrorTokenExpired         ErrorCode = "TOKEN_EXPIRED"
	ErrorConversationNotFound ErrorCode = "CONVERSATION_NOT_FOUND"
	ErrorUserNotFound         ErrorCode = "USER_NOT_FOUND"
	ErrorNotFound             ErrorCode = "NOT_FOUND"
	ErrorSignup               ErrorCode = "SIGNUP_ERROR"
	ErrorEmailTaken           ErrorCode = "EMAIL_TAKEN"
	ErrorLogin                ErrorCode = "LOGIN_ERROR"
	ErrorRefresh              ErrorCode = "REFRESH_ERROR"
	ErrorLLM                  ErrorCode = "LLM_ERROR"
	ErrorLLMEmptyResponse     ErrorCode = "LLM_EMPTY_RESPONSE"
	ErrorLLMStreaming         ErrorCode = "LLM_STREAMING_ERROR"
	ErrorLLMGeneration        ErrorCode = "LLM_GENERATION_ERROR"
	ErrorDB                   ErrorCode = "DB_ERROR"
	ErrorInternal             ErrorCode = "INTERNAL_ERROR"
)

func (c ErrorCode) HTTPStatus() int {
	switch c {
	case ErrorValidation, ErrorInvalidMessage, ErrorInvalidTitle, ErrorSignup:
		return http.StatusBadRequest
	case ErrorUnauthorized, ErrorTokenExpired, ErrorLogin, ErrorRefresh:
		return http.StatusUnauthorized
	case ErrorConversationNotFound, ErrorUserNotFound, ErrorNotFound:
		return http.StatusNotFound
	case ErrorEmailTaken:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Error is the only error type that crosses the service boundary. Reason
// is safe to show to end users; Err keeps the underlying cause for logs.
type Error struct {
	Code   ErrorCode
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("core: %s (%s)", e.Code, e.Reason)
	}
	return fmt.Sprintf("core: %s (%s): %v", e.Code, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *Error) HTTPStatus() int {
	return e.Code.HTTPStatus()
}

func newError(code ErrorCode, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}

// AsError extracts a *Error from err, wrapping anything else as an
// internal error with a generic reason.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return newError(ErrorInternal, "An unexpected error occurred. Please try again later.", err)
}

func IsCode(err error, code ErrorCode) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == code
}

func ValidationError(reason string) *Error {
	return newError(ErrorValidation, reason, nil)
}

func dbError(reason string, err error) *Error {
	return newError(ErrorDB, reason, err)
}

func conversationNotFound(err error) *Error {
	return newError(ErrorConversationNotFound, "Conversation not found", err)
}
