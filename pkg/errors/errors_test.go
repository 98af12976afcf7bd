package errors

import (
	"errors"
	"fmt"
	"testing"
)

// Test custom error types
func TestValidationError(t *testing.T) {
	originalErr := errors.New("must be at most 10")
	valErr := &ValidationError{
		Field: "params.threshold",
		Err:   originalErr,
	}

	expectedMsg := "validate params.threshold: must be at most 10"
	if valErr.Error() != expectedMsg {
		t.Errorf("ValidationError.Error() = %v, want %v", valErr.Error(), expectedMsg)
	}

	// Test Unwrap
	if unwrapped := valErr.Unwrap(); unwrapped != originalErr {
		t.Errorf("ValidationError.Unwrap() = %v, want %v", unwrapped, originalErr)
	}
}

func TestModelError(t *testing.T) {
	originalErr := errors.New("missing docker image")
	modelErr := &ModelError{
		Model:     "lung-seg",
		Operation: "verify",
		Err:       originalErr,
	}

	expectedMsg := "model lung-seg: operation verify: missing docker image"
	if modelErr.Error() != expectedMsg {
		t.Errorf("ModelError.Error() = %v, want %v", modelErr.Error(), expectedMsg)
	}

	// Test Unwrap
	if unwrapped := modelErr.Unwrap(); unwrapped != originalErr {
		t.Errorf("ModelError.Unwrap() = %v, want %v", unwrapped, originalErr)
	}
}

func TestProcessingError(t *testing.T) {
	originalErr := errors.New("handler exploded")
	procErr := &ProcessingError{
		Operation: "threshold",
		Target:    "input.volume",
		Err:       originalErr,
	}

	expectedMsg := "processing threshold: target input.volume: handler exploded"
	if procErr.Error() != expectedMsg {
		t.Errorf("ProcessingError.Error() = %v, want %v", procErr.Error(), expectedMsg)
	}

	// Test Unwrap
	if unwrapped := procErr.Unwrap(); unwrapped != originalErr {
		t.Errorf("ProcessingError.Unwrap() = %v, want %v", unwrapped, originalErr)
	}
}

func TestExecutionError(t *testing.T) {
	execErr := &ExecutionError{
		Model:    "lung-seg",
		ExitCode: 137,
		Output:   "killed",
		Err:      ErrExecutionFailed,
	}

	expectedMsg := "execute lung-seg: exit code 137: model command failed"
	if execErr.Error() != expectedMsg {
		t.Errorf("ExecutionError.Error() = %v, want %v", execErr.Error(), expectedMsg)
	}

	if unwrapped := execErr.Unwrap(); unwrapped != ErrExecutionFailed {
		t.Errorf("ExecutionError.Unwrap() = %v, want %v", unwrapped, ErrExecutionFailed)
	}
}

func TestTransferError(t *testing.T) {
	originalErr := errors.New("connection reset")
	transErr := &TransferError{
		Path:      "/data/input.nrrd",
		Operation: "save",
		Err:       originalErr,
	}

	expectedMsg := "transfer /data/input.nrrd: operation save: connection reset"
	if transErr.Error() != expectedMsg {
		t.Errorf("TransferError.Error() = %v, want %v", transErr.Error(), expectedMsg)
	}

	if unwrapped := transErr.Unwrap(); unwrapped != originalErr {
		t.Errorf("TransferError.Unwrap() = %v, want %v", unwrapped, originalErr)
	}
}

func TestSessionError(t *testing.T) {
	originalErr := errors.New("store closed")
	sessErr := &SessionError{
		SessionID: "sess-123",
		Operation: "upload",
		Err:       originalErr,
	}

	expectedMsg := "session sess-123: operation upload: store closed"
	if sessErr.Error() != expectedMsg {
		t.Errorf("SessionError.Error() = %v, want %v", sessErr.Error(), expectedMsg)
	}

	if unwrapped := sessErr.Unwrap(); unwrapped != originalErr {
		t.Errorf("SessionError.Unwrap() = %v, want %v", unwrapped, originalErr)
	}
}

// Test sentinel errors
func TestSentinelErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		msg  string
	}{
		{"ErrModelNotFound", ErrModelNotFound, "model not found"},
		{"ErrModelMalformed", ErrModelMalformed, "malformed model description"},
		{"ErrVersionUnsupported", ErrVersionUnsupported, "unsupported model version"},
		{"ErrConfigRejected", ErrConfigRejected, "run configuration rejected"},
		{"ErrUnknownOperation", ErrUnknownOperation, "unknown processing operation"},
		{"ErrDuplicateOperation", ErrDuplicateOperation, "processing operation already registered"},
		{"ErrExecutionFailed", ErrExecutionFailed, "model command failed"},
		{"ErrBackendUnavailable", ErrBackendUnavailable, "backend unavailable"},
		{"ErrUnsupportedHandle", ErrUnsupportedHandle, "unsupported file handle type"},
		{"ErrSessionNotFound", ErrSessionNotFound, "session not found"},
		{"ErrSessionNotWaiting", ErrSessionNotWaiting, "session is not awaiting inputs"},
		{"ErrUnknownInput", ErrUnknownInput, "input not declared by model"},
		{"ErrOutputNotFound", ErrOutputNotFound, "output not available"},
		{"ErrTimeout", ErrTimeout, "operation timed out"},
		{"ErrInvalidConfig", ErrInvalidConfig, "invalid configuration"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Error() != tt.msg {
				t.Errorf("Error message = %v, want %v", tt.err.Error(), tt.msg)
			}
		})
	}
}

// Test error classification
func TestIsValidationError(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		isValid bool
	}{
		{"ValidationError", &ValidationError{Field: "params.x", Err: errors.New("test")}, true},
		{"Wrapped ValidationError", fmt.Errorf("wrapped: %w", &ValidationError{Field: "params.x", Err: errors.New("test")}), true},
		{"Regular error", errors.New("not a validation error"), false},
		{"Nil error", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := IsValidationError(tt.err)
			if result != tt.isValid {
				t.Errorf("IsValidationError() = %v, want %v", result, tt.isValid)
			}
		})
	}
}

func TestIsExecutionError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		isExec bool
	}{
		{"ExecutionError", NewExecutionError("lung-seg", 1, "boom"), true},
		{"Wrapped ExecutionError", fmt.Errorf("wrapped: %w", NewExecutionError("lung-seg", 1, "boom")), true},
		{"Regular error", errors.New("not an execution error"), false},
		{"Nil error", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := IsExecutionError(tt.err)
			if result != tt.isExec {
				t.Errorf("IsExecutionError() = %v, want %v", result, tt.isExec)
			}
		})
	}
}

func TestIsNotFoundError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		isNotFound bool
	}{
		{"ErrModelNotFound", ErrModelNotFound, true},
		{"ErrSessionNotFound", ErrSessionNotFound, true},
		{"ErrOutputNotFound", ErrOutputNotFound, true},
		{"ErrUnknownInput", ErrUnknownInput, true},
		{"Wrapped model not found", NewModelNotFoundError("lung-seg"), true},
		{"Regular error", errors.New("something else"), false},
		{"Nil error", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := IsNotFoundError(tt.err)
			if result != tt.isNotFound {
				t.Errorf("IsNotFoundError() = %v, want %v", result, tt.isNotFound)
			}
		})
	}
}

func TestIsRejectedError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		isRejected bool
	}{
		{"ErrConfigRejected", ErrConfigRejected, true},
		{"NewValidationError", NewValidationError("inputs.volume", errors.New("required")), true},
		{"Plain ValidationError", &ValidationError{Field: "x", Err: errors.New("bad")}, true},
		{"Regular error", errors.New("unrelated"), false},
		{"Nil error", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := IsRejectedError(tt.err)
			if result != tt.isRejected {
				t.Errorf("IsRejectedError() = %v, want %v", result, tt.isRejected)
			}
		})
	}
}

func TestIsTimeoutError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		isTimeout bool
	}{
		{"ErrTimeout", ErrTimeout, true},
		{"Wrapped timeout error", fmt.Errorf("operation failed: %w", ErrTimeout), true},
		{"Regular error", errors.New("not a timeout error"), false},
		{"Nil error", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := IsTimeoutError(tt.err)
			if result != tt.isTimeout {
				t.Errorf("IsTimeoutError() = %v, want %v", result, tt.isTimeout)
			}
		})
	}
}

// Test error joining
func TestJoinErrors(t *testing.T) {
	err1 := errors.New("first error")
	err2 := errors.New("second error")
	err3 := errors.New("third error")

	tests := []struct {
		name  string
		errs  []error
		want  string
		isNil bool
	}{
		{
			name:  "No errors",
			errs:  []error{},
			isNil: true,
		},
		{
			name:  "Single error",
			errs:  []error{err1},
			want:  "first error",
			isNil: false,
		},
		{
			name:  "Multiple errors",
			errs:  []error{err1, err2, err3},
			want:  "first error; second error; third error",
			isNil: false,
		},
		{
			name:  "Errors with nils",
			errs:  []error{err1, nil, err2},
			want:  "first error; second error",
			isNil: false,
		},
		{
			name:  "Only nils",
			errs:  []error{nil, nil, nil},
			isNil: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := JoinErrors(tt.errs...)
			if tt.isNil {
				if result != nil {
					t.Errorf("JoinErrors() = %v, want nil", result)
				}
			} else {
				if result == nil {
					t.Error("JoinErrors() = nil, want non-nil")
				} else if result.Error() != tt.want {
					t.Errorf("JoinErrors() = %v, want %v", result.Error(), tt.want)
				}
			}
		})
	}
}

func TestJoinErrors_IsFindsMembers(t *testing.T) {
	joined := JoinErrors(ErrModelNotFound, ErrTimeout)

	if !errors.Is(joined, ErrModelNotFound) {
		t.Error("errors.Is() should find ErrModelNotFound in joined error")
	}
	if !errors.Is(joined, ErrTimeout) {
		t.Error("errors.Is() should find ErrTimeout in joined error")
	}
	if errors.Is(joined, ErrSessionNotFound) {
		t.Error("errors.Is() should not find ErrSessionNotFound in joined error")
	}
}

// Test error wrapping helpers
func TestWrapModelError(t *testing.T) {
	originalErr := errors.New("original error")
	wrappedErr := WrapModelError("lung-seg", "load", originalErr)

	modelErr, ok := wrappedErr.(*ModelError)
	if !ok {
		t.Fatalf("WrapModelError() returned %T, want *ModelError", wrappedErr)
	}

	if modelErr.Model != "lung-seg" {
		t.Errorf("Model = %v, want lung-seg", modelErr.Model)
	}
	if modelErr.Operation != "load" {
		t.Errorf("Operation = %v, want load", modelErr.Operation)
	}
	if modelErr.Err != originalErr {
		t.Errorf("Err = %v, want %v", modelErr.Err, originalErr)
	}
}

func TestWrapErrors_NilPassthrough(t *testing.T) {
	if WrapValidationError("f", nil) != nil {
		t.Error("WrapValidationError(nil) should be nil")
	}
	if WrapModelError("m", "op", nil) != nil {
		t.Error("WrapModelError(nil) should be nil")
	}
	if WrapProcessingError("op", "t", nil) != nil {
		t.Error("WrapProcessingError(nil) should be nil")
	}
	if WrapTransferError("p", "op", nil) != nil {
		t.Error("WrapTransferError(nil) should be nil")
	}
	if WrapSessionError("s", "op", nil) != nil {
		t.Error("WrapSessionError(nil) should be nil")
	}
	if WrapConfigError("c", "f", nil) != nil {
		t.Error("WrapConfigError(nil) should be nil")
	}
}

// Test error cause extraction
func TestGetExitCode(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		code    int
		hasCode bool
	}{
		{
			name:    "Direct ExecutionError",
			err:     NewExecutionError("lung-seg", 2, "bad args"),
			code:    2,
			hasCode: true,
		},
		{
			name:    "Wrapped ExecutionError",
			err:     fmt.Errorf("context: %w", NewExecutionError("lung-seg", 137, "oom")),
			code:    137,
			hasCode: true,
		},
		{
			name:    "Non-ExecutionError",
			err:     errors.New("regular error"),
			code:    0,
			hasCode: false,
		},
		{
			name:    "Nil error",
			err:     nil,
			code:    0,
			hasCode: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, hasCode := GetExitCode(tt.err)
			if code != tt.code {
				t.Errorf("GetExitCode() code = %v, want %v", code, tt.code)
			}
			if hasCode != tt.hasCode {
				t.Errorf("GetExitCode() hasCode = %v, want %v", hasCode, tt.hasCode)
			}
		})
	}
}

func TestGetOutput(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", NewExecutionError("lung-seg", 1, "stack trace here"))

	output, ok := GetOutput(err)
	if !ok {
		t.Fatal("GetOutput() should find output in chain")
	}
	if output != "stack trace here" {
		t.Errorf("GetOutput() = %v, want 'stack trace here'", output)
	}

	if _, ok := GetOutput(errors.New("plain")); ok {
		t.Error("GetOutput() on plain error should report false")
	}
}

func TestGetField(t *testing.T) {
	err := NewValidationError("params.smoothing", errors.New("expected bool"))

	field, ok := GetField(err)
	if !ok {
		t.Fatal("GetField() should find field in chain")
	}
	if field != "params.smoothing" {
		t.Errorf("GetField() = %v, want params.smoothing", field)
	}
}

// Test error chain operations
func TestErrorChain(t *testing.T) {
	baseErr := errors.New("base error")
	sessErr := WrapSessionError("sess-123", "run", baseErr)
	wrappedErr := fmt.Errorf("context: %w", sessErr)

	// Test that we can unwrap to the base error
	if !errors.Is(wrappedErr, baseErr) {
		t.Error("errors.Is() should find base error in chain")
	}

	// Test that we can find SessionError in chain
	var se *SessionError
	if !errors.As(wrappedErr, &se) {
		t.Error("errors.As() should find SessionError in chain")
	}
	if se.SessionID != "sess-123" {
		t.Errorf("Found SessionError has SessionID = %v, want sess-123", se.SessionID)
	}
}

func TestNewValidationError_CarriesRejectedSentinel(t *testing.T) {
	err := NewValidationError("outputs.mask", errors.New("unknown member"))

	if !errors.Is(err, ErrConfigRejected) {
		t.Error("NewValidationError should wrap ErrConfigRejected")
	}

	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatal("NewValidationError should produce a *ValidationError")
	}
	if ve.Field != "outputs.mask" {
		t.Errorf("Field = %v, want outputs.mask", ve.Field)
	}
}

// Benchmark tests
func BenchmarkExecutionError_Error(b *testing.B) {
	err := &ExecutionError{
		Model:    "lung-seg-v2",
		ExitCode: 1,
		Output:   "traceback",
		Err:      ErrExecutionFailed,
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = err.Error()
	}
}

func BenchmarkIsValidationError(b *testing.B) {
	err := fmt.Errorf("wrapped: %w", &ValidationError{
		Field: "params.threshold",
		Err:   errors.New("test"),
	})

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = IsValidationError(err)
	}
}
