package stp

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestProtocolErrorIs(t *testing.T) {
	err := fmt.Errorf("confirm failed: %w", WrapProtocolError(errors.New("bad kid"), CodeIncorrectTokenSign, "wrong key"))

	if !errors.Is(err, ErrIncorrectTokenSign) {
		t.Errorf("wrapped protocol error does not match its code sentinel")
	}
	if errors.Is(err, ErrIncorrectToken) {
		t.Errorf("protocol error matched a different code")
	}

	var protocolErr *ProtocolError
	if !errors.As(err, &protocolErr) {
		t.Fatalf("errors.As failed")
	}
	rejection := protocolErr.Rejection()
	if rejection.Success || rejection.ErrorCode != CodeIncorrectTokenSign || rejection.ErrorMessage != "wrong key" {
		t.Errorf("Rejection() = %+v", rejection)
	}
}

func TestTransportError(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantStatus  int
		wantTimeout bool
	}{
		{name: "status", err: NewStatusError(http.StatusServiceUnavailable, ""), wantStatus: http.StatusServiceUnavailable},
		{name: "connection", err: WrapConnectionError(errors.New("refused"), "failed to reach peer"), wantStatus: http.StatusBadGateway},
		{name: "timeout", err: WrapTimeoutError(errors.New("deadline"), "slow"), wantStatus: http.StatusGatewayTimeout, wantTimeout: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var transportErr *TransportError
			if !errors.As(tt.err, &transportErr) {
				t.Fatalf("not a TransportError: %T", tt.err)
			}
			if transportErr.StatusCode != tt.wantStatus {
				t.Errorf("StatusCode = %d, want %d", transportErr.StatusCode, tt.wantStatus)
			}
			if transportErr.Message == "" {
				t.Errorf("Message is empty")
			}
			if got := errors.Is(tt.err, ErrTimeout); got != tt.wantTimeout {
				t.Errorf("errors.Is(ErrTimeout) = %v, want %v", got, tt.wantTimeout)
			}
			if errors.Is(tt.err, ErrIDNotFound) {
				t.Errorf("transport error matched a protocol error")
			}
		})
	}
}
