package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"chronolog/internal/core/apperror"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Domain error (not found, tamper detected, validation)
	ExitCommandError = 2 // Command error (bad flags, config, database unreachable)
)

// ExitError represents an error with a specific exit code.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure if the error is not an ExitError.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// describeError picks the response code: the AppError code when one is in
// the chain, COMMAND_ERROR otherwise.
func describeError(err error) (string, map[string]any) {
	if appErr, ok := apperror.AsAppError(err); ok {
		return appErr.Code, appErr.Details
	}
	return "COMMAND_ERROR", nil
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format string
	Writer io.Writer
}

// CLIResponse is the standard JSON response format for CLI output.
type CLIResponse struct {
	Status string    `json:"status"`
	Data   any       `json:"data,omitempty"`
	Error  *CLIError `json:"error,omitempty"`
}

// CLIError is the error structure for CLI responses.
type CLIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// Success outputs data. In text format render writes the human-readable form.
func (f *OutputFormatter) Success(data any, render func(w io.Writer) error) error {
	if f.Format == FormatJSON {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{Status: "ok", Data: data})
	}
	return render(f.Writer)
}

// Error outputs an error in the configured format.
func (f *OutputFormatter) Error(code, message string, details map[string]any) error {
	if f.Format == FormatJSON {
		resp := CLIResponse{
			Status: "error",
			Error:  &CLIError{Code: code, Message: message},
		}
		if len(details) > 0 {
			resp.Error.Details = details
		}
		return json.NewEncoder(f.Writer).Encode(resp)
	}

	_, err := fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
	return err
}
