package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/information-sharing-networks/stp-demo/internal/crypto"
	"github.com/information-sharing-networks/stp-demo/internal/stp"
	"github.com/information-sharing-networks/stp-demo/internal/stp/stphandlers"
	"github.com/information-sharing-networks/stp-demo/internal/token"
	"gopkg.in/yaml.v3"
)

func TestPrintResult(t *testing.T) {
	v := stphandlers.CreateRequestResponse{
		RequestID:  "0b1c4f0e-3f5e-4a4f-9d7b-2b0c6d7f8e90",
		RequestURL: "stp://vendor.example.com/api/stp/request/0b1c4f0e-3f5e-4a4f-9d7b-2b0c6d7f8e90",
	}

	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		if err := printResult(&buf, "json", v); err != nil {
			t.Fatalf("printResult() error = %v", err)
		}
		var got stphandlers.CreateRequestResponse
		if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
			t.Fatalf("output is not JSON: %v", err)
		}
		if got != v {
			t.Errorf("got %+v, want %+v", got, v)
		}
	})

	t.Run("yaml uses json field names", func(t *testing.T) {
		var buf bytes.Buffer
		if err := printResult(&buf, "yaml", v); err != nil {
			t.Fatalf("printResult() error = %v", err)
		}
		var got map[string]string
		if err := yaml.Unmarshal(buf.Bytes(), &got); err != nil {
			t.Fatalf("output is not YAML: %v", err)
		}
		if got["request_id"] != v.RequestID || got["request_url"] != v.RequestURL {
			t.Errorf("got %v", got)
		}
	})
}

func TestAdminClientErrors(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		body          string
		wantRejection stp.ErrorCode
	}{
		{
			name:          "rejection",
			status:        http.StatusConflict,
			body:          `{"success":false,"error_code":"NON_RECURRING","error_message":"token is not recurring"}`,
			wantRejection: stp.CodeNonRecurring,
		},
		{
			name:   "peer unreachable",
			status: http.StatusBadGateway,
			body:   `{"HTTP_error_code":502,"HTTP_error_msg":"connection refused"}`,
		},
		{
			name:   "not found",
			status: http.StatusNotFound,
			body:   `{"statusCode":404}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			err := newAdminClient(server.URL).do(context.Background(), http.MethodPost, "/admin/tokens/x/refresh", nil, nil)
			apiErr, ok := err.(*APIError)
			if !ok {
				t.Fatalf("do() error = %v, want *APIError", err)
			}
			if apiErr.StatusCode != tt.status {
				t.Errorf("StatusCode = %d, want %d", apiErr.StatusCode, tt.status)
			}
			if tt.wantRejection != "" {
				if !isRejection(err, tt.wantRejection) {
					t.Errorf("error %v is not a %s rejection", err, tt.wantRejection)
				}
			} else if apiErr.Rejection != nil {
				t.Errorf("unexpected rejection %+v", apiErr.Rejection)
			}
		})
	}
}

func TestWaitPIN(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/pin") {
			http.NotFound(w, r)
			return
		}
		// the first poll times out on the server side
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		_, _ = w.Write([]byte("4821"))
	}))
	defer server.Close()

	pin, err := newAdminClient(server.URL).waitPIN(context.Background(), "0b1c4f0e-3f5e-4a4f-9d7b-2b0c6d7f8e90")
	if err != nil {
		t.Fatalf("waitPIN() error = %v", err)
	}
	if pin != "4821" {
		t.Errorf("pin = %q, want 4821", pin)
	}
	if calls.Load() != 2 {
		t.Errorf("polled %d times, want 2", calls.Load())
	}
}

func TestRequestCreateCommand(t *testing.T) {
	var got stphandlers.CreateRequestRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/admin/requests" {
			http.NotFound(w, r)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(stphandlers.CreateRequestResponse{
			RequestID:  "0b1c4f0e-3f5e-4a4f-9d7b-2b0c6d7f8e90",
			RequestURL: "stp://vendor.example.com/api/stp/request/0b1c4f0e-3f5e-4a4f-9d7b-2b0c6d7f8e90",
		})
	}))
	defer server.Close()

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"--vendor", server.URL, "--log-level", "none", "-o", "yaml",
		"request", "create", "--amount", "9.99", "--currency", "GBP", "--period", "monthly"})
	t.Cleanup(func() { rootCmd.SetArgs(nil); rootCmd.SetOut(nil) })

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("request create error = %v", err)
	}

	if got.Amount != "9.99" || got.Currency != "GBP" || got.Period != "monthly" {
		t.Errorf("vendor received %+v", got)
	}
	if !strings.Contains(out.String(), "request_url: stp://vendor.example.com/api/stp/request/") {
		t.Errorf("unexpected output:\n%s", out.String())
	}
}

func newTestSigner(t *testing.T) *crypto.KeySigner {
	t.Helper()
	pk, err := crypto.GenerateEd25519KeyPair()
	if err != nil {
		t.Fatalf("GenerateEd25519KeyPair() error = %v", err)
	}
	s, err := crypto.NewEd25519Signer(pk)
	if err != nil {
		t.Fatalf("NewEd25519Signer() error = %v", err)
	}
	return s
}

// serveJWKS publishes the signer's key set
func serveJWKS(t *testing.T, s *crypto.KeySigner) string {
	t.Helper()
	set, err := s.JWKSet()
	if err != nil {
		t.Fatalf("JWKSet() error = %v", err)
	}
	data, err := json.Marshal(set)
	if err != nil {
		t.Fatalf("failed to encode JWK set: %v", err)
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(data)
	}))
	t.Cleanup(server.Close)
	return server.URL + "/.well-known/jwks.json"
}

func TestVerifyCommand(t *testing.T) {
	vendor := newTestSigner(t)
	provider := newTestSigner(t)

	now := time.Now()
	tx, err := token.NewTransaction("7d3c8a51-7a7e-4d3e-9a55-0c8f4a4e2b11", "TESTGB2L", "customer-42",
		token.Terms{Amount: token.MustAmount("12.50"), Currency: "GBP", Period: token.PeriodMonthly}, now)
	if err != nil {
		t.Fatalf("NewTransaction() error = %v", err)
	}
	offered, err := token.IssueVendorToken(tx, vendor)
	if err != nil {
		t.Fatalf("IssueVendorToken() error = %v", err)
	}
	issued, err := token.CounterSign(offered, provider, now)
	if err != nil {
		t.Fatalf("CounterSign() error = %v", err)
	}

	dir := t.TempDir()
	write := func(name string, tok *token.Token) string {
		data, err := token.Encode(tok)
		if err != nil {
			t.Fatalf("Encode() error = %v", err)
		}
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, data, 0o644); err != nil {
			t.Fatalf("failed to write token: %v", err)
		}
		return path
	}
	offeredPath := write("offered.json", offered)
	issuedPath := write("issued.json", issued)

	tests := []struct {
		name      string
		args      []string
		wantErr   string
		wantKeyID string
	}{
		{
			name: "vendor signed only",
			args: []string{offeredPath},
		},
		{
			name:      "countersigned",
			args:      []string{issuedPath},
			wantKeyID: provider.KeyID(),
		},
		{
			name:      "provider key published",
			args:      []string{issuedPath, "--bank-jwks", serveJWKS(t, provider)},
			wantKeyID: provider.KeyID(),
		},
		{
			name:    "provider key not published",
			args:    []string{issuedPath, "--bank-jwks", serveJWKS(t, vendor)},
			wantErr: "is not published",
		},
		{
			name:    "jwks check needs a countersignature",
			args:    []string{offeredPath, "--bank-jwks", serveJWKS(t, provider)},
			wantErr: "needs a countersigned token",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			rootCmd.SetOut(&out)
			rootCmd.SetArgs(append([]string{"--log-level", "none", "-o", "json", "verify"}, tt.args...))
			t.Cleanup(func() {
				rootCmd.SetArgs(nil)
				rootCmd.SetOut(nil)
				bankJWKS = ""
			})

			err := rootCmd.ExecuteContext(context.Background())
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("verify error = %v, want %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("verify error = %v", err)
			}

			var got verifyResult
			if err := json.Unmarshal(out.Bytes(), &got); err != nil {
				t.Fatalf("output is not JSON: %v\n%s", err, out.String())
			}
			if got.TransactionID != tx.ID {
				t.Errorf("transaction id = %s, want %s", got.TransactionID, tx.ID)
			}
			if got.ProviderKeyID != tt.wantKeyID {
				t.Errorf("provider key id = %q, want %q", got.ProviderKeyID, tt.wantKeyID)
			}
			if got.Countersigned != (tt.wantKeyID != "") {
				t.Errorf("countersigned = %v", got.Countersigned)
			}
		})
	}
}
