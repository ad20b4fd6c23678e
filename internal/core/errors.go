package core

import (
	"errors"
	"fmt"
)

// Domain errors returned across component boundaries.
var (
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	ErrNotFound            = errors.New("not found")
	ErrMediaUnavailable    = errors.New("media unavailable")
	ErrAccessDenied        = errors.New("access denied")
)

// Exit codes.
const (
	ExitOK       = 0
	ExitRuntime  = 1
	ExitUsage    = 2
	ExitNotFound = 3
	ExitAccess   = 4
	ExitUpstream = 5
	ExitConflict = 6
)

// Reply codes carried in player reply envelopes.
const (
	CodeInvalid  = "INVALID"
	CodeNotFound = "NOT_FOUND"
	CodeAccess   = "ACCESS_DENIED"
	CodeUpstream = "UPSTREAM"
	CodeMedia    = "MEDIA"
	CodeConflict = "CONFLICT"
)

// CLIError carries a user-visible message and exit code.
type CLIError struct {
	Code int
	Msg  string
	Err  error
}

func (e *CLIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *CLIError) Unwrap() error {
	return e.Err
}

// WrapError creates a CLIError with an underlying error.
func WrapError(code int, msg string, err error) *CLIError {
	return &CLIError{Code: code, Msg: msg, Err: err}
}

// UsageError reports bad input.
func UsageError(msg string) *CLIError {
	return &CLIError{Code: ExitUsage, Msg: msg}
}

// ErrorForReplyCode maps protocol error codes to CLI exit codes.
func ErrorForReplyCode(code string, message string) *CLIError {
	switch code {
	case CodeNotFound:
		return &CLIError{Code: ExitNotFound, Msg: message, Err: ErrNotFound}
	case CodeAccess:
		return &CLIError{Code: ExitAccess, Msg: message, Err: ErrAccessDenied}
	case CodeUpstream:
		return &CLIError{Code: ExitUpstream, Msg: message, Err: ErrUpstreamUnavailable}
	case CodeMedia:
		return &CLIError{Code: ExitRuntime, Msg: message, Err: ErrMediaUnavailable}
	case CodeConflict:
		return &CLIError{Code: ExitConflict, Msg: message}
	case CodeInvalid:
		return &CLIError{Code: ExitUsage, Msg: message}
	default:
		return &CLIError{Code: ExitRuntime, Msg: message}
	}
}

// ReplyCode maps an error to the reply code sent back to controllers.
func ReplyCode(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrAccessDenied):
		return CodeAccess
	case errors.Is(err, ErrUpstreamUnavailable):
		return CodeUpstream
	case errors.Is(err, ErrMediaUnavailable):
		return CodeMedia
	default:
		return CodeInvalid
	}
}

// ExitCode returns the CLI exit code from error.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var cliErr *CLIError
	if errors.As(err, &cliErr) {
		return cliErr.Code
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return ExitNotFound
	case errors.Is(err, ErrAccessDenied):
		return ExitAccess
	case errors.Is(err, ErrUpstreamUnavailable):
		return ExitUpstream
	}
	return ExitRuntime
}
