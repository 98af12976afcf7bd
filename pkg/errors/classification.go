package errors

import (
	"context"
	"errors"
	"fmt"
)

// ErrorCategory helps us group errors by what kind of problem they represent.
// Makes it easier to handle different types of issues appropriately.
type ErrorCategory string

const (
	CategoryValidation     ErrorCategory = "validation"
	CategoryModel          ErrorCategory = "model"
	CategoryProcessing     ErrorCategory = "processing"
	CategoryExecution      ErrorCategory = "execution"
	CategoryTransfer       ErrorCategory = "transfer"
	CategorySession        ErrorCategory = "session"
	CategoryConfiguration  ErrorCategory = "configuration"
	CategoryInfrastructure ErrorCategory = "infrastructure"
	CategoryTimeout        ErrorCategory = "timeout"
	CategoryNotFound       ErrorCategory = "not_found"
	CategoryConflict       ErrorCategory = "conflict"
	CategoryUnknown        ErrorCategory = "unknown"
)

// ErrorSeverity tells us how serious an error is, from "not a big deal"
// up to "everything is on fire".
type ErrorSeverity string

const (
	SeverityCritical ErrorSeverity = "critical"
	SeverityHigh     ErrorSeverity = "high"
	SeverityMedium   ErrorSeverity = "medium"
	SeverityLow      ErrorSeverity = "low"
	SeverityInfo     ErrorSeverity = "info"
)

// ClassifiedError is like a regular error but with extra info attached.
// It tells us what kind of error it is, how serious it is, and whether we should try again.
type ClassifiedError struct {
	Err       error
	Category  ErrorCategory
	Severity  ErrorSeverity
	Retryable bool
	UserMsg   string // What we actually tell the user (without scary technical details)
}

func (e *ClassifiedError) Error() string {
	return e.Err.Error()
}

func (e *ClassifiedError) Unwrap() error {
	return e.Err
}

// ClassifyError automatically classifies an error based on its type and content
func ClassifyError(err error) *ClassifiedError {
	if err == nil {
		return nil
	}

	// Check for already classified errors
	var classified *ClassifiedError
	if errors.As(err, &classified) {
		return classified
	}

	// Classify based on error type
	switch {
	case errors.Is(err, ErrSessionNotWaiting):
		return &ClassifiedError{
			Err:       err,
			Category:  CategoryConflict,
			Severity:  SeverityLow,
			Retryable: false,
			UserMsg:   "Session no longer accepts inputs.",
		}

	case IsNotFoundError(err):
		return &ClassifiedError{
			Err:       err,
			Category:  CategoryNotFound,
			Severity:  SeverityLow,
			Retryable: false,
			UserMsg:   "Requested resource not found.",
		}

	case IsRejectedError(err):
		return &ClassifiedError{
			Err:       err,
			Category:  CategoryValidation,
			Severity:  SeverityLow,
			Retryable: false,
			UserMsg:   "Run configuration was rejected. Check the reported fields.",
		}

	case IsExecutionError(err):
		return &ClassifiedError{
			Err:       err,
			Category:  CategoryExecution,
			Severity:  SeverityHigh,
			Retryable: false,
			UserMsg:   "The model command failed. Check the captured logs.",
		}

	case IsProcessingError(err):
		return &ClassifiedError{
			Err:       err,
			Category:  CategoryProcessing,
			Severity:  SeverityMedium,
			Retryable: false,
			UserMsg:   "A processing step failed.",
		}

	case errors.Is(err, ErrBackendUnavailable):
		return &ClassifiedError{
			Err:       err,
			Category:  CategoryInfrastructure,
			Severity:  SeverityHigh,
			Retryable: true,
			UserMsg:   "Execution backend is unavailable. Please try again later.",
		}

	case IsTransferError(err):
		return &ClassifiedError{
			Err:       err,
			Category:  CategoryTransfer,
			Severity:  SeverityMedium,
			Retryable: true,
			UserMsg:   "File transfer failed. Please try again.",
		}

	case IsModelError(err):
		return &ClassifiedError{
			Err:       err,
			Category:  CategoryModel,
			Severity:  SeverityHigh,
			Retryable: false,
			UserMsg:   "Model description could not be used. Check the model file.",
		}

	case IsSessionError(err):
		return &ClassifiedError{
			Err:       err,
			Category:  CategorySession,
			Severity:  SeverityMedium,
			Retryable: false,
			UserMsg:   "Session operation failed.",
		}

	case IsConfigError(err):
		return &ClassifiedError{
			Err:       err,
			Category:  CategoryConfiguration,
			Severity:  SeverityHigh,
			Retryable: false,
			UserMsg:   "Configuration error. Please check your configuration settings.",
		}

	case IsTimeoutError(err):
		return &ClassifiedError{
			Err:       err,
			Category:  CategoryTimeout,
			Severity:  SeverityMedium,
			Retryable: true,
			UserMsg:   "Operation timed out. Please try again.",
		}

	case errors.Is(err, context.Canceled):
		return &ClassifiedError{
			Err:       err,
			Category:  CategoryTimeout,
			Severity:  SeverityLow,
			Retryable: false,
			UserMsg:   "Operation was canceled.",
		}

	case errors.Is(err, context.DeadlineExceeded):
		return &ClassifiedError{
			Err:       err,
			Category:  CategoryTimeout,
			Severity:  SeverityMedium,
			Retryable: true,
			UserMsg:   "Operation timed out. Please try again.",
		}

	default:
		return &ClassifiedError{
			Err:       err,
			Category:  CategoryUnknown,
			Severity:  SeverityMedium,
			Retryable: false,
			UserMsg:   "An unexpected error occurred.",
		}
	}
}

// ShouldRetry determines if an operation should be retried based on the error
func ShouldRetry(err error) bool {
	classified := ClassifyError(err)
	if classified == nil {
		return false
	}
	return classified.Retryable
}

// GetSeverity tells you how serious an error is.
// If we can't figure it out, we just assume it's not too bad.
func GetSeverity(err error) ErrorSeverity {
	classified := ClassifyError(err)
	if classified == nil {
		return SeverityLow
	}
	return classified.Severity
}

// GetCategory figures out what type of error we're dealing with.
// When in doubt, it just says "unknown" rather than guessing.
func GetCategory(err error) ErrorCategory {
	classified := ClassifyError(err)
	if classified == nil {
		return CategoryUnknown
	}
	return classified.Category
}

// GetUserMessage gets a user-friendly message you can actually show to people
// without leaking internals.
func GetUserMessage(err error) string {
	classified := ClassifyError(err)
	if classified == nil {
		return "An error occurred."
	}
	return classified.UserMsg
}

// IsRetryable checks if we should give this error another shot.
// Same as ShouldRetry, just a different name because some people prefer it.
func IsRetryable(err error) bool {
	return ShouldRetry(err)
}

// IsCritical checks if an error is critical severity
func IsCritical(err error) bool {
	return GetSeverity(err) == SeverityCritical
}

// NewCriticalError creates a critical error - these are the "drop everything and fix this"
// type of errors that usually mean something is seriously broken.
func NewCriticalError(category ErrorCategory, err error, userMsg string) *ClassifiedError {
	return &ClassifiedError{
		Err:       err,
		Category:  category,
		Severity:  SeverityCritical,
		Retryable: false,
		UserMsg:   userMsg,
	}
}

// NewRetryableError creates an error that we think might work if we try again.
// Perfect for those "network hiccup" or "backend temporarily busy" situations.
func NewRetryableError(category ErrorCategory, err error, userMsg string) *ClassifiedError {
	return &ClassifiedError{
		Err:       err,
		Category:  category,
		Severity:  SeverityMedium,
		Retryable: true,
		UserMsg:   userMsg,
	}
}

// NewUserError creates a new error with a user-friendly message
func NewUserError(err error, userMsg string) *ClassifiedError {
	classified := ClassifyError(err)
	if classified == nil {
		classified = &ClassifiedError{
			Err:      err,
			Category: CategoryUnknown,
			Severity: SeverityMedium,
		}
	}
	classified.UserMsg = userMsg
	return classified
}

// FormatErrorForLogging formats an error for structured logging
func FormatErrorForLogging(err error) map[string]interface{} {
	if err == nil {
		return nil
	}

	classified := ClassifyError(err)
	result := map[string]interface{}{
		"error":     err.Error(),
		"category":  string(classified.Category),
		"severity":  string(classified.Severity),
		"retryable": classified.Retryable,
	}

	// Add specific error type information
	if field, ok := GetField(err); ok {
		result["field"] = field
	}
	if exitCode, ok := GetExitCode(err); ok {
		result["exit_code"] = exitCode
	}
	if sessionID, ok := GetSessionID(err); ok {
		result["session_id"] = sessionID
	}

	return result
}

// LogError logs an error with appropriate context and classification
func LogError(logger interface{ Error(string, ...interface{}) }, err error, msg string) {
	if err == nil {
		return
	}

	logData := FormatErrorForLogging(err)
	args := make([]interface{}, 0, len(logData)*2)
	for k, v := range logData {
		args = append(args, k, v)
	}

	logger.Error(msg, args...)
}

// WrapWithUserMessage wraps an error with a user-friendly message while preserving the original error
func WrapWithUserMessage(err error, userMsg string) error {
	if err == nil {
		return nil
	}

	classified := NewUserError(err, userMsg)
	return fmt.Errorf("%s: %w", userMsg, classified)
}
