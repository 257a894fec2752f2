package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidTarget   = errors.New("target id must be non-zero")
	ErrSessionNotFound = errors.New("session not found")
	ErrTimeout         = errors.New("call timed out")
	ErrUnsupported     = errors.New("method not supported by service")
)

// ErrorCode identifies failures surfaced to callers and notifications.
type ErrorCode string

const (
	ErrorCodeInvalidTarget       ErrorCode = "invalid_target"
	ErrorCodeNoModel             ErrorCode = "no_model"
	ErrorCodeRecorderBusy        ErrorCode = "recorder_busy"
	ErrorCodeRecorderUnavailable ErrorCode = "recorder_unavailable"
	ErrorCodeTranscriptionFailed ErrorCode = "transcription_failed"
	ErrorCodeFocusUnavailable    ErrorCode = "focus_unavailable"
	ErrorCodeSwitchFailed        ErrorCode = "switch_failed"
	ErrorCodeStartFailed         ErrorCode = "start_failed"
	ErrorCodeStopFailed          ErrorCode = "stop_failed"
)

// Error carries a machine readable code alongside a human readable detail.
type Error struct {
	Code   ErrorCode
	Detail string
	Err    error
}

func NewError(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Detail: fmt.Sprintf(format, args...)}
}

// WrapError attaches a code to an underlying error.
func WrapError(code ErrorCode, err error, format string, args ...any) *Error {
	return &Error{Code: code, Detail: fmt.Sprintf(format, args...), Err: err}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Detail)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// CodeOf extracts the error code from err, or fallback when none is attached.
func CodeOf(err error, fallback ErrorCode) ErrorCode {
	var de *Error
	if errors.As(err, &de) && de.Code != "" {
		return de.Code
	}
	return fallback
}

// DetailOf returns the human readable detail of err.
func DetailOf(err error) string {
	if err == nil {
		return ""
	}
	var de *Error
	if errors.As(err, &de) {
		if de.Err != nil {
			return fmt.Sprintf("%s: %v", de.Detail, de.Err)
		}
		return de.Detail
	}
	return err.Error()
}
