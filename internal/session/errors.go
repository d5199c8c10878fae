package session

import (
	"errors"
	"fmt"
)

// ErrorCode classifies a rejected engine operation. A rejected operation
// leaves all state unchanged.
type ErrorCode string

const (
	ErrorBusy           ErrorCode = "BUSY"
	ErrorBlankPrompt    ErrorCode = "BLANK_PROMPT"
	ErrorBlankTitle     ErrorCode = "BLANK_TITLE"
	ErrorNoActiveChat   ErrorCode = "NO_ACTIVE_CHAT"
	ErrorNotRetryable   ErrorCode = "NOT_RETRYABLE"
	ErrorNotEditable    ErrorCode = "NOT_EDITABLE"
	ErrorInvalidHistory ErrorCode = "INVALID_HISTORY"
	ErrorCorruptHistory ErrorCode = "CORRUPT_HISTORY"
	ErrorNotFound       ErrorCode = "NOT_FOUND"
	ErrorExport         ErrorCode = "EXPORT_ERROR"
)

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
		return fmt.Sprintf("session: %s (%s)", e.Code, e.Reason)
	}
	return fmt.Sprintf("session: %s (%s): %v", e.Code, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(code ErrorCode, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}

// IsRejected reports whether err is an engine rejection with code.
func IsRejected(err error, code ErrorCode) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == code
}
