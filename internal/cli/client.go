package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/information-sharing-networks/stp-demo/internal/stp"
)

// adminClient calls the /admin API of a vendor or a provider
type adminClient struct {
	baseURL    string
	httpClient *http.Client
}

func newAdminClient(baseURL string) *adminClient {
	return &adminClient{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// APIError is a non-2xx admin API response.
// Rejection is set when the counterparty (or this party) refused the exchange.
type APIError struct {
	StatusCode int
	Rejection  *stp.Rejection
	Body       string
}

func (e *APIError) Error() string {
	if e.Rejection != nil {
		return fmt.Sprintf("rejected (%d): %s: %s", e.StatusCode, e.Rejection.ErrorCode, e.Rejection.ErrorMessage)
	}
	return fmt.Sprintf("request failed (%d): %s", e.StatusCode, e.Body)
}

// do sends body as JSON (if not nil) and decodes a successful response into out (if not nil)
func (c *adminClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	appLogger.Debug("admin request", slog.String("method", method), slog.String("url", req.URL.String()))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, req.URL, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
		if resp.StatusCode == http.StatusConflict {
			var rejection stp.Rejection
			if json.Unmarshal(respBody, &rejection) == nil && rejection.ErrorCode != "" {
				apiErr.Rejection = &rejection
			}
		}
		return apiErr
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// waitPIN polls the vendor's PIN endpoint until the provider's Hello arrives
func (c *adminClient) waitPIN(ctx context.Context, requestID string) (string, error) {
	url := c.baseURL + stp.RequestPath + "/" + requestID + "/pin"

	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return "", err
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return "", fmt.Errorf("GET %s: %w", url, err)
		}
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return "", fmt.Errorf("failed to read PIN: %w", err)
		}

		switch resp.StatusCode {
		case http.StatusOK:
			return string(body), nil
		case http.StatusNoContent:
			appLogger.Debug("no Hello yet, waiting again", slog.String("request_id", requestID))
			if err := ctx.Err(); err != nil {
				return "", err
			}
		default:
			return "", &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
		}
	}
}

// isRejection reports whether err is a protocol rejection with the given code
func isRejection(err error, code stp.ErrorCode) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Rejection != nil && apiErr.Rejection.ErrorCode == code
}
