//go:build integration

// functions that are useful in integration tests

package integration

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/information-sharing-networks/stp-demo/internal/stp"
	"github.com/information-sharing-networks/stp-demo/internal/stp/stphandlers"
	"github.com/information-sharing-networks/stp-demo/internal/token"
)

var httpClient = &http.Client{Timeout: 30 * time.Second}

// call sends body as JSON and decodes the response into out. Error bodies are decoded too,
// so callers can inspect a Rejection or ErrorResponse.
func call(t *testing.T, method, url string, body any, out any) int {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to encode request: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("failed to create request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, url, err)
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode != http.StatusNoContent {
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			t.Fatalf("failed to read response: %v", err)
		}
		if len(data) > 0 {
			if err := json.Unmarshal(data, out); err != nil && resp.StatusCode < 300 {
				t.Fatalf("%s %s: failed to decode response %q: %v", method, url, data, err)
			}
		}
	}
	return resp.StatusCode
}

// createRequest creates a transaction request on the vendor and starts waiting for its PIN
func (d *deployment) createRequest(t *testing.T, amount, currency string, period token.Period) (string, <-chan string) {
	t.Helper()

	var created stphandlers.CreateRequestResponse
	status := call(t, http.MethodPost, d.vendor.baseURL+"/admin/requests",
		stphandlers.CreateRequestRequest{Amount: amount, Currency: currency, Period: period}, &created)
	if status != http.StatusCreated {
		t.Fatalf("POST /admin/requests status = %d, want 201", status)
	}

	pins := make(chan string, 1)
	go func() {
		defer close(pins)
		resp, err := httpClient.Get(d.vendor.baseURL + stp.RequestPath + "/" + created.RequestID + "/pin")
		if err != nil {
			return
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return
		}
		pin, _ := io.ReadAll(resp.Body)
		pins <- string(pin)
	}()

	return created.RequestURL, pins
}

// startNegotiation asks the provider to open requestURL. The vendor fetches the bank key
// from the provider's JWKS endpoint in the background after it starts, so an
// INVALID_SIGNATURE rejection is retried for a short while. A rejected Hello does not
// consume the request.
func (d *deployment) startNegotiation(t *testing.T, requestURL string) stp.Negotiation {
	t.Helper()

	deadline := time.Now().Add(10 * time.Second)
	for {
		var raw json.RawMessage
		status := call(t, http.MethodPost, d.provider.baseURL+"/admin/negotiations",
			stphandlers.StartNegotiationRequest{RequestURL: requestURL, CustomerRef: "customer-42"}, &raw)
		if status == http.StatusCreated {
			var n stp.Negotiation
			if err := json.Unmarshal(raw, &n); err != nil {
				t.Fatalf("failed to decode negotiation: %v", err)
			}
			return n
		}

		var rejection stp.Rejection
		_ = json.Unmarshal(raw, &rejection)
		if status != http.StatusConflict || rejection.ErrorCode != stp.CodeInvalidSignature || time.Now().After(deadline) {
			t.Fatalf("POST /admin/negotiations status = %d (%s), want 201", status, rejection.ErrorCode)
		}
		time.Sleep(200 * time.Millisecond)
	}
}

// negotiate runs the exchange up to the provider's decision and returns the transaction id and PIN
func (d *deployment) negotiate(t *testing.T, amount, currency string, period token.Period) (string, string) {
	t.Helper()

	requestURL, pins := d.createRequest(t, amount, currency, period)
	n := d.startNegotiation(t, requestURL)

	select {
	case pin, ok := <-pins:
		if !ok {
			t.Fatalf("vendor did not publish a PIN")
		}
		return n.TransactionID, pin
	case <-time.After(15 * time.Second):
		t.Fatalf("timed out waiting for the PIN")
	}
	return "", ""
}

// issue completes an issuance and returns the transaction id
func (d *deployment) issue(t *testing.T, amount, currency string, period token.Period) string {
	t.Helper()

	id, pin := d.negotiate(t, amount, currency, period)

	var issued stphandlers.TokenResponse
	status := call(t, http.MethodPost, d.provider.baseURL+"/admin/negotiations/"+id+"/decision",
		stphandlers.DecisionRequest{Accept: true, PIN: pin}, &issued)
	if status != http.StatusOK {
		t.Fatalf("POST decision status = %d, want 200", status)
	}
	return id
}

func getToken(t *testing.T, baseURL, id string) (stphandlers.TokenResponse, int) {
	t.Helper()
	var rec stphandlers.TokenResponse
	status := call(t, http.MethodGet, baseURL+"/admin/tokens/"+id, nil, &rec)
	return rec, status
}
