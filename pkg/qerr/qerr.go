package qerr

import (
	"errors"
	"fmt"
)

// Code represents a stable error category that callers can switch on.
type Code string

const (
	CodeUnknown          Code = "unknown"
	CodeValidation       Code = "validation"
	CodeMissingOutput    Code = "missing_output"
	CodeMissingResultKey Code = "missing_result_key"
	CodeExecution        Code = "execution"
	CodeNotFound         Code = "not_found"
)

// exit statuses reported to the calculation engine and used by the CLI
var exitStatus = map[Code]int{
	CodeUnknown:          1,
	CodeExecution:        1,
	CodeValidation:       2,
	CodeNotFound:         3,
	CodeMissingOutput:    100,
	CodeMissingResultKey: 500,
}

// Error is a simple value type that carries a Code plus the underlying error.
type Error struct {
	Code Code
	err  error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.err == nil {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %v", e.Code, e.err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.err
}

// New wraps an error with the provided code. If err is nil a nil is returned.
func New(code Code, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, err: err}
}

// CodeOf returns the code of the first *Error in err's chain, or
// CodeUnknown.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}

// IsCode helps callers compare codes without type assertions.
func IsCode(err error, code Code) bool {
	if err == nil {
		return false
	}
	return CodeOf(err) == code
}

// ExitStatus maps a code to a process exit status. Zero is never returned.
func ExitStatus(code Code) int {
	if s, ok := exitStatus[code]; ok {
		return s
	}
	return 1
}
