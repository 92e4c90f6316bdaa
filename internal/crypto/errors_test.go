package crypto

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorCodes(t *testing.T) {
	cause := errors.New("bad key")

	tests := []struct {
		err  error
		code ErrorCode
	}{
		{NewValidationError("missing transaction"), ErrCodeValidation},
		{WrapValidationError(cause, "decode header"), ErrCodeValidation},
		{NewSignatureError("vendor signature"), ErrCodeInvalidSignature},
		{WrapSignatureError(cause, "url signature"), ErrCodeInvalidSignature},
		{NewKeyManagementError("unknown kid"), ErrCodeKeyManagement},
		{WrapKeyManagementError(cause, "load jwk"), ErrCodeKeyManagement},
		{NewDecryptionError("revision"), ErrCodeDecryption},
		{NewInternalError("rand"), ErrCodeInternal},
		{WrapInternalError(cause, "rand"), ErrCodeInternal},
	}

	for _, tt := range tests {
		t.Run(string(tt.code)+"/"+tt.err.Error(), func(t *testing.T) {
			// callers usually see the error after it has been wrapped again
			wrapped := fmt.Errorf("handle hello: %w", tt.err)

			var e Error
			if !errors.As(wrapped, &e) {
				t.Fatalf("%v does not carry a crypto error", wrapped)
			}
			if e.Code() != tt.code {
				t.Errorf("Code() = %q, want %q", e.Code(), tt.code)
			}
		})
	}
}

func TestWrappedErrorMessage(t *testing.T) {
	base := errors.New("message authentication failed")
	err := WrapDecryptionError(base, "could not open revision")

	if !errors.Is(err, base) {
		t.Errorf("errors.Is() did not find the wrapped error")
	}
	if got, want := err.Error(), "could not open revision: message authentication failed"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if got := NewValidationError("amount required").Error(); got != "amount required" {
		t.Errorf("Error() = %q, want %q", got, "amount required")
	}
}
