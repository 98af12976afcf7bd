// Package errors provides standardized error handling for the inferlet system.
// It implements structured error types with proper wrapping and classification
// following Go 1.20+ error handling conventions.
package errors

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors for common error conditions
var (
	// Model-related errors
	ErrModelNotFound      = errors.New("model not found")
	ErrModelMalformed     = errors.New("malformed model description")
	ErrVersionUnsupported = errors.New("unsupported model version")

	// Configuration-related errors
	ErrConfigRejected       = errors.New("run configuration rejected")
	ErrInvalidConfig        = errors.New("invalid configuration")
	ErrMissingValue         = errors.New("value required")
	ErrStepCountMismatch    = errors.New("processing step count mismatch")
	ErrRequiredStepDisabled = errors.New("required step cannot be disabled")

	// Processing-related errors
	ErrUnknownOperation   = errors.New("unknown processing operation")
	ErrDuplicateOperation = errors.New("processing operation already registered")

	// Execution-related errors
	ErrExecutionFailed    = errors.New("model command failed")
	ErrBackendUnavailable = errors.New("backend unavailable")
	ErrUnsupportedHandle  = errors.New("unsupported file handle type")

	// Session-related errors
	ErrSessionNotFound   = errors.New("session not found")
	ErrSessionNotWaiting = errors.New("session is not awaiting inputs")
	ErrSessionActive     = errors.New("session is still active")
	ErrUnknownInput      = errors.New("input not declared by model")
	ErrOutputNotFound    = errors.New("output not available")

	// System-related errors
	ErrTimeout = errors.New("operation timed out")
)

// ValidationError represents a rejected value in a run configuration
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validate %s: %v", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// ModelError represents an error related to a model description
type ModelError struct {
	Model     string
	Operation string
	Err       error
}

func (e *ModelError) Error() string {
	return fmt.Sprintf("model %s: operation %s: %v", e.Model, e.Operation, e.Err)
}

func (e *ModelError) Unwrap() error {
	return e.Err
}

// ProcessingError represents a failed processing step
type ProcessingError struct {
	Operation string
	Target    string
	Err       error
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("processing %s: target %s: %v", e.Operation, e.Target, e.Err)
}

func (e *ProcessingError) Unwrap() error {
	return e.Err
}

// ExecutionError represents a model command that exited non-zero.
// Output carries whatever the command wrote before it died.
type ExecutionError struct {
	Model    string
	ExitCode int
	Output   string
	Err      error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execute %s: exit code %d: %v", e.Model, e.ExitCode, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// TransferError represents an error moving files to or from a backend
type TransferError struct {
	Path      string
	Operation string
	Err       error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("transfer %s: operation %s: %v", e.Path, e.Operation, e.Err)
}

func (e *TransferError) Unwrap() error {
	return e.Err
}

// SessionError represents an error related to a relay session
type SessionError struct {
	SessionID string
	Operation string
	Err       error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("session %s: operation %s: %v", e.SessionID, e.Operation, e.Err)
}

func (e *SessionError) Unwrap() error {
	return e.Err
}

// ConfigError represents an error related to daemon configuration
type ConfigError struct {
	Component string
	Field     string
	Err       error
}

func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("config %s.%s: %v", e.Component, e.Field, e.Err)
	}
	return fmt.Sprintf("config %s: %v", e.Component, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// Error wrapping constructors
func WrapValidationError(field string, err error) error {
	if err == nil {
		return nil
	}
	return &ValidationError{Field: field, Err: err}
}

func WrapModelError(model, operation string, err error) error {
	if err == nil {
		return nil
	}
	return &ModelError{Model: model, Operation: operation, Err: err}
}

func WrapProcessingError(operation, target string, err error) error {
	if err == nil {
		return nil
	}
	return &ProcessingError{Operation: operation, Target: target, Err: err}
}

func WrapTransferError(path, operation string, err error) error {
	if err == nil {
		return nil
	}
	return &TransferError{Path: path, Operation: operation, Err: err}
}

func WrapSessionError(sessionID, operation string, err error) error {
	if err == nil {
		return nil
	}
	return &SessionError{SessionID: sessionID, Operation: operation, Err: err}
}

func WrapConfigError(component, field string, err error) error {
	if err == nil {
		return nil
	}
	return &ConfigError{Component: component, Field: field, Err: err}
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Error classification functions
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func IsModelError(err error) bool {
	var me *ModelError
	return errors.As(err, &me)
}

func IsProcessingError(err error) bool {
	var pe *ProcessingError
	return errors.As(err, &pe)
}

func IsExecutionError(err error) bool {
	var ee *ExecutionError
	return errors.As(err, &ee)
}

func IsTransferError(err error) bool {
	var te *TransferError
	return errors.As(err, &te)
}

func IsSessionError(err error) bool {
	var se *SessionError
	return errors.As(err, &se)
}

func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// Specific error type checks
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrModelNotFound) ||
		errors.Is(err, ErrSessionNotFound) ||
		errors.Is(err, ErrOutputNotFound) ||
		errors.Is(err, ErrUnknownInput)
}

func IsRejectedError(err error) bool {
	return errors.Is(err, ErrConfigRejected) || IsValidationError(err)
}

func IsTimeoutError(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// Error extraction helpers
func GetField(err error) (string, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Field, true
	}
	return "", false
}

func GetExitCode(err error) (int, bool) {
	var ee *ExecutionError
	if errors.As(err, &ee) {
		return ee.ExitCode, true
	}
	return 0, false
}

func GetOutput(err error) (string, bool) {
	var ee *ExecutionError
	if errors.As(err, &ee) {
		return ee.Output, true
	}
	return "", false
}

func GetSessionID(err error) (string, bool) {
	var se *SessionError
	if errors.As(err, &se) {
		return se.SessionID, true
	}
	return "", false
}

// Convenience functions for common error patterns
func NewValidationError(field string, err error) error {
	return WrapValidationError(field, fmt.Errorf("%w: %v", ErrConfigRejected, err))
}

func NewModelNotFoundError(model string) error {
	return WrapModelError(model, "lookup", ErrModelNotFound)
}

func NewSessionNotFoundError(sessionID string) error {
	return WrapSessionError(sessionID, "lookup", ErrSessionNotFound)
}

func NewExecutionError(model string, exitCode int, output string) error {
	return &ExecutionError{
		Model:    model,
		ExitCode: exitCode,
		Output:   output,
		Err:      ErrExecutionFailed,
	}
}

func NewConfigError(component, field string, err error) error {
	return WrapConfigError(component, field, fmt.Errorf("%w: %v", ErrInvalidConfig, err))
}

// Context-aware error handling
func IsContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// JoinErrors combines multiple errors into a single error
// Similar to errors.Join in Go 1.20+
func JoinErrors(errs ...error) error {
	var validErrs []error
	for _, err := range errs {
		if err != nil {
			validErrs = append(validErrs, err)
		}
	}

	if len(validErrs) == 0 {
		return nil
	}
	if len(validErrs) == 1 {
		return validErrs[0]
	}

	return &multiError{errors: validErrs}
}

// multiError represents multiple errors
type multiError struct {
	errors []error
}

func (e *multiError) Error() string {
	if len(e.errors) == 0 {
		return ""
	}
	if len(e.errors) == 1 {
		return e.errors[0].Error()
	}

	msg := e.errors[0].Error()
	for _, err := range e.errors[1:] {
		msg += "; " + err.Error()
	}
	return msg
}

func (e *multiError) Unwrap() []error {
	return e.errors
}

// Is implements error comparison for multiError
func (e *multiError) Is(target error) bool {
	for _, err := range e.errors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// As implements error conversion for multiError
func (e *multiError) As(target interface{}) bool {
	for _, err := range e.errors {
		if errors.As(err, target) {
			return true
		}
	}
	return false
}
