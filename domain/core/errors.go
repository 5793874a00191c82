package core

import (
	"errors"
	"fmt"
)

// Domain errors - centralized error definitions
var (
	// Ingestion contract violations
	ErrSchemaMismatch = errors.New("measurement schema mismatch")
	ErrLengthMismatch = errors.New("measurement column length mismatch")

	// Sample validity
	ErrDegenerateSample = errors.New("degenerate sample: reference pressure dp0 is zero or below noise floor")
	ErrInsufficientData = errors.New("insufficient data for fit")

	// Fitting
	ErrFitInstability = errors.New("fit instability")

	// Table construction and lookup
	ErrInvalidGrid     = errors.New("invalid grid specification")
	ErrInvalidTable    = errors.New("invalid calibration table")
	ErrMissingVariable = errors.New("missing response variable")
	ErrOutOfTable      = errors.New("lookup outside calibration table")

	// Artifact handling
	ErrSerialization = errors.New("table serialization failed")
	ErrHashMismatch  = errors.New("table fingerprint mismatch")

	// Verification boundary
	ErrConsumerFailure = errors.New("reference consumer reported failure")
)

// FitError reports a least-squares fit that did not produce a usable model.
type FitError struct {
	Variable     string
	Basis        string
	ResidualNorm float64
	Iterations   int
	Reason       string
}

func (e *FitError) Error() string {
	return fmt.Sprintf("%v: variable %q (basis %s) after %d iterations, residual norm %g: %s",
		ErrFitInstability, e.Variable, e.Basis, e.Iterations, e.ResidualNorm, e.Reason)
}

func (e *FitError) Unwrap() error {
	return ErrFitInstability
}

// Error constructors with context
func NewSchemaError(label string, reason string) error {
	return fmt.Errorf("%w: %s: %s", ErrSchemaMismatch, label, reason)
}

func NewLengthError(channel string, got, want int) error {
	return fmt.Errorf("%w: channel %s has %d values, expected %d", ErrLengthMismatch, channel, got, want)
}

func NewDegenerateError(index int, dp0 float64) error {
	return fmt.Errorf("%w (sample %d, dp0=%g)", ErrDegenerateSample, index, dp0)
}

func NewSerializationError(path string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrSerialization, path, err)
}

func NewOutOfTableError(variable string, x, y float64) error {
	return fmt.Errorf("%w: %s at (%g, %g)", ErrOutOfTable, variable, x, y)
}

// Error checking helpers
func IsIngestionError(err error) bool {
	return errors.Is(err, ErrSchemaMismatch) || errors.Is(err, ErrLengthMismatch)
}

func IsFitError(err error) bool {
	return errors.Is(err, ErrFitInstability)
}
