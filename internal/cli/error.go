package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"

	"github.com/ppiankov/spool/internal/forward"
	"github.com/ppiankov/spool/internal/ringfile"
)

// Exit codes for scripted callers.
const (
	ExitOK         = 0
	ExitInternal   = 1
	ExitUsage      = 2
	ExitNotFound   = 3
	ExitPermission = 4
	ExitNetwork    = 5
	ExitCorrupt    = 6
	ExitBusy       = 7
)

// CLIError is a structured error with a category for scripted callers.
type CLIError struct {
	Code    int    `json:"exit_code"`
	Type    string `json:"error"`
	Message string `json:"message"`
	Recover bool   `json:"recoverable"`
}

func (e *CLIError) Error() string {
	return e.Message
}

// NewUsageError creates an error for invalid arguments.
func NewUsageError(msg string) *CLIError {
	return &CLIError{Code: ExitUsage, Type: "invalid_args", Message: msg}
}

// NewNotFoundError creates an error for a missing queue file.
func NewNotFoundError(msg string) *CLIError {
	return &CLIError{Code: ExitNotFound, Type: "not_found", Message: msg}
}

// NewPermissionError creates an error for access denied.
func NewPermissionError(msg string) *CLIError {
	return &CLIError{Code: ExitPermission, Type: "permission", Message: msg}
}

// NewNetworkError creates a recoverable delivery error. Undelivered records
// stay queued.
func NewNetworkError(msg string) *CLIError {
	return &CLIError{Code: ExitNetwork, Type: "network", Message: msg, Recover: true}
}

// NewCorruptError creates an error for a queue file with an invalid header.
func NewCorruptError(msg string) *CLIError {
	return &CLIError{Code: ExitCorrupt, Type: "corrupt", Message: msg}
}

// NewBusyError creates a recoverable error for a queue file held by another
// user in this process.
func NewBusyError(msg string) *CLIError {
	return &CLIError{Code: ExitBusy, Type: "busy", Message: msg, Recover: true}
}

// NewInternalError creates an error for unexpected failures.
func NewInternalError(msg string) *CLIError {
	return &CLIError{Code: ExitInternal, Type: "internal", Message: msg}
}

// Classify maps queue and delivery errors onto a CLIError. CLIErrors pass
// through unchanged; nil stays nil.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var ce *CLIError
	if errors.As(err, &ce) {
		return ce
	}

	msg := err.Error()
	var se *forward.StatusError
	var ne net.Error
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return NewNotFoundError(msg)
	case errors.Is(err, fs.ErrPermission):
		return NewPermissionError(msg)
	case errors.Is(err, ringfile.ErrCorrupt):
		return NewCorruptError(msg)
	case errors.Is(err, ringfile.ErrAlreadyOpen):
		return NewBusyError(msg)
	case errors.Is(err, forward.ErrOffline), errors.As(err, &se), errors.As(err, &ne):
		return NewNetworkError(msg)
	default:
		return NewInternalError(msg)
	}
}

// ExitCode extracts the exit code from an error.
// Returns ExitInternal (1) for non-CLIError errors, ExitOK (0) for nil.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var ce *CLIError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ExitInternal
}

// FormatError writes the error to w. In JSON mode, it writes structured JSON.
// In text mode, it writes "error: <message>".
func FormatError(w io.Writer, err error, jsonMode bool) {
	if err == nil {
		return
	}

	if jsonMode {
		var ce *CLIError
		if !errors.As(err, &ce) {
			ce = NewInternalError(err.Error())
		}
		data, _ := json.Marshal(ce)
		_, _ = fmt.Fprintln(w, string(data))
		return
	}

	_, _ = fmt.Fprintf(w, "error: %v\n", err)
}
