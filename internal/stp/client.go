package stp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/information-sharing-networks/stp-demo/internal/logger"
)

// Client posts STP messages to a peer.
//
// Each call is bounded by the configured timeout. Nothing is retried: a timeout is reported as a
// TransportError matching ErrTimeout, a non-2xx answer as a TransportError with the status code
// and a {success:false} answer as the peer's ProtocolError.
type Client struct {
	httpClient *http.Client

	// scheme is the transport scheme stp:// URLs are mapped to (http or https)
	scheme  string
	timeout time.Duration
}

func NewClient(scheme string, timeout time.Duration) *Client {
	return &Client{
		httpClient: &http.Client{},
		scheme:     scheme,
		timeout:    timeout,
	}
}

// Post sends msg to the stp:// URL and decodes the reply into reply
func (c *Client) Post(ctx context.Context, stpURL string, msg any, reply Message) error {
	reqLogger := logger.ContextRequestLogger(ctx)

	target, err := ToHTTP(stpURL, c.scheme)
	if err != nil {
		return err
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return WrapInternalError(err, "failed to encode message")
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return WrapInternalError(err, "failed to create request")
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			reqLogger.Warn("peer request timed out",
				slog.String("url", target),
				slog.Duration("timeout", c.timeout))
			return WrapTimeoutError(err, "peer did not respond in time")
		}
		return WrapConnectionError(err, "failed to reach peer")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxMessageSize+1))
	if err != nil {
		if isTimeout(err) {
			return WrapTimeoutError(err, "peer did not respond in time")
		}
		return WrapConnectionError(err, "failed to read peer response")
	}

	reqLogger.Debug("peer responded",
		slog.String("url", target),
		slog.Int("status", resp.StatusCode),
		slog.Duration("duration", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return NewStatusError(resp.StatusCode, statusMessage(data))
	}
	if len(data) > MaxMessageSize {
		return NewValidationError("peer response exceeds the maximum message size")
	}

	if rejection, ok := asRejection(data); ok {
		return rejection
	}

	if err := DecodeBytes(data, reply); err != nil {
		return WrapValidationError(err, "malformed reply from peer")
	}
	return nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// statusMessage extracts a short description from an error body
func statusMessage(data []byte) string {
	var errResp ErrorResponse
	if err := json.Unmarshal(data, &errResp); err == nil && len(errResp.Errors) > 0 {
		return errResp.Errors[0].ErrorCodeMessage
	}
	msg := strings.TrimSpace(string(data))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}
