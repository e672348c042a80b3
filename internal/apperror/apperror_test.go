package apperror

import (
	"errors"
	"fmt"
	"testing"
)

// Table-driven: each case checks that errors.Is() identifies the error class,
// including through fmt.Errorf("%w") wrapping as the service layer does it.
func TestErrorsIs(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		target    error
		wantMatch bool
	}{
		{
			name:      "NotFound wraps ErrNotFound",
			err:       NotFound("execution", "abc123"),
			target:    ErrNotFound,
			wantMatch: true,
		},
		{
			name:      "ValidationFailed wraps ErrValidation",
			err:       ValidationFailed("code", "Invalid code provided"),
			target:    ErrValidation,
			wantMatch: true,
		},
		{
			name:      "Unavailable wraps ErrUnavailable",
			err:       Unavailable("server is busy"),
			target:    ErrUnavailable,
			wantMatch: true,
		},
		{
			name:      "Internal wraps ErrInternal",
			err:       Internal("boom", errors.New("worker crashed")),
			target:    ErrInternal,
			wantMatch: true,
		},
		{
			name:      "wrapped ValidationFailed still matches",
			err:       fmt.Errorf("submitting: %w", ValidationFailed("language", "nope")),
			target:    ErrValidation,
			wantMatch: true,
		},
		{
			name:      "NotFound does NOT match ErrValidation",
			err:       NotFound("execution", "abc123"),
			target:    ErrValidation,
			wantMatch: false,
		},
		{
			name:      "Internal does NOT match ErrUnavailable",
			err:       Internal("boom", nil),
			target:    ErrUnavailable,
			wantMatch: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := errors.Is(tt.err, tt.target)
			if got != tt.wantMatch {
				t.Errorf("errors.Is(%v, %v) = %v, want %v", tt.err, tt.target, got, tt.wantMatch)
			}
		})
	}
}

func TestErrorMessages(t *testing.T) {
	tests := []struct {
		name        string
		err         *AppError
		wantMessage string
	}{
		{
			name:        "NotFound message includes resource and id",
			err:         NotFound("execution", "abc123"),
			wantMessage: "execution not found with id abc123",
		},
		{
			name:        "ValidationFailed uses custom message",
			err:         ValidationFailed("code", "Invalid code provided"),
			wantMessage: "Invalid code provided",
		},
		{
			name:        "Internal hides the cause",
			err:         Internal("Internal server error during code execution", errors.New("exec: no such file")),
			wantMessage: "Internal server error during code execution",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantMessage {
				t.Errorf("Error() = %q, want %q", got, tt.wantMessage)
			}
		})
	}
}

func TestUnwrap(t *testing.T) {
	err := NotFound("execution", "abc123")
	if unwrapped := err.Unwrap(); unwrapped != ErrNotFound {
		t.Errorf("Unwrap() = %v, want %v", unwrapped, ErrNotFound)
	}
}

func TestInternalKeepsCause(t *testing.T) {
	cause := errors.New("worker exited before boot")
	err := Internal("generic", cause)

	if err.Cause != cause {
		t.Errorf("Cause = %v, want %v", err.Cause, cause)
	}
}

func TestValidationFailedField(t *testing.T) {
	err := ValidationFailed("language", "Language python is not supported yet")

	if err.Field != "language" {
		t.Errorf("Field = %q, want %q", err.Field, "language")
	}
}
