package errors

import (
	"errors"
	"fmt"

	"probecal/domain/core"
)

// AppError represents a structured application error
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Message == "" && e.Cause != nil {
		return e.Cause.Error()
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// New creates a new AppError
func New(code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an error with additional context, keeping the code of a wrapped AppError
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return &AppError{
			Code:    appErr.Code,
			Message: message,
			Cause:   err,
		}
	}
	return &AppError{
		Code:    CodeInternalError,
		Message: message,
		Cause:   err,
	}
}

// Wrapf wraps an error with formatted additional context
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return Wrap(err, fmt.Sprintf(format, args...))
}

// WithCode wraps err under the given code, keeping the original error reachable via errors.Is.
// The message is the cause's own.
func WithCode(code string, err error) error {
	if err == nil {
		return nil
	}
	return &AppError{
		Code:  code,
		Cause: err,
	}
}

// IsAppError checks if an error is an AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// GetCode returns the outermost AppError code, otherwise "UNKNOWN"
func GetCode(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return "UNKNOWN"
}

// Error codes, one per failure class of a calibration run
const (
	CodeConfigInvalid  = "CONFIG_INVALID"
	CodeInvalidInput   = "INVALID_INPUT"
	CodeIngestion      = "INGESTION_ERROR"
	CodeFitInstability = "FIT_INSTABILITY"
	CodeSerialization  = "SERIALIZATION_ERROR"
	CodeVerification   = "VERIFICATION_ERROR"
	CodeInternalError  = "INTERNAL_ERROR"
)

// exitCodes maps error codes to process exit statuses so scripts driving the
// CLI can tell a bad sweep from a bad configuration.
var exitCodes = map[string]int{
	CodeConfigInvalid:  2,
	CodeInvalidInput:   2,
	CodeIngestion:      3,
	CodeFitInstability: 4,
	CodeSerialization:  5,
	CodeVerification:   6,
}

// ExitCode returns the process exit status for err: 0 for nil, 1 when the
// code is unknown. Uncoded domain errors are classified by their sentinel.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	if code, ok := exitCodes[GetCode(err)]; ok {
		return code
	}
	switch {
	case core.IsIngestionError(err):
		return exitCodes[CodeIngestion]
	case core.IsFitError(err):
		return exitCodes[CodeFitInstability]
	case errors.Is(err, core.ErrSerialization):
		return exitCodes[CodeSerialization]
	}
	return 1
}

// ConfigInvalid reports an unusable configuration value
func ConfigInvalid(message string) *AppError {
	return New(CodeConfigInvalid, message)
}

// InvalidInput reports a bad command-line argument or request
func InvalidInput(message string) *AppError {
	return New(CodeInvalidInput, message)
}
