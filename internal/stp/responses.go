package stp

// responses.go provides the helpers used by the protocol and admin handlers to write responses.

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/information-sharing-networks/stp-demo/internal/logger"
)

// RespondWithErrorResponse sends an ErrorResponse.
//
// Use this when a request failed because it was malformed or because of a server-side error.
// The full error is logged and a sanitized response is sent to the client.
func RespondWithErrorResponse(w http.ResponseWriter, r *http.Request, err error) {
	errorResponse := MapErrorToResponse(err, r)

	reqLogger := logger.ContextRequestLogger(r.Context())
	reqLogger.Warn("Request failed",
		slog.String("error", err.Error()),
		slog.Int("status_code", errorResponse.StatusCode),
		slog.String("error_code_text", errorResponse.StatusCodeMessage),
		slog.String("request_id", errorResponse.CorrelationReference),
	)

	RespondWithJSONPayload(w, errorResponse.StatusCode, errorResponse)
}

// RespondWithJSONPayload sends a JSON response with the given status code
func RespondWithJSONPayload(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if payload != nil {
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			// headers are already written
			slog.Error("Failed to encode JSON response",
				slog.String("error", err.Error()),
			)
		}
	}
}

// RespondWithStatusCodeOnly sends a response with only a status code (no body)
func RespondWithStatusCodeOnly(w http.ResponseWriter, statusCode int) {
	w.WriteHeader(statusCode)
}

// RespondToPeer answers a peer on a protocol route.
//
// Protocol errors are sent as a 200 {success:false} rejection so the peer can tell them apart from
// transport failures. Everything else is sent as an ErrorResponse.
func RespondToPeer(w http.ResponseWriter, r *http.Request, err error) {
	var protocolErr *ProtocolError
	if errors.As(err, &protocolErr) {
		reqLogger := logger.ContextRequestLogger(r.Context())
		reqLogger.Info("Protocol rejection sent",
			slog.String("error_code", string(protocolErr.Code())),
			slog.String("error", err.Error()),
		)
		logger.ContextWithLogAttrs(r.Context(), slog.String("error_code", string(protocolErr.Code())))

		RespondWithJSONPayload(w, http.StatusOK, protocolErr.Rejection())
		return
	}
	RespondWithErrorResponse(w, r, err)
}

// RespondToOperator reports the outcome of a failed admin operation:
//   - a transport failure is a 502 {HTTP_error_code, HTTP_error_msg}
//   - a peer timeout is a 504 with the same body
//   - a protocol rejection is a 409 {success:false, error_code, error_message}
//
// Other errors are sent as an ErrorResponse.
func RespondToOperator(w http.ResponseWriter, r *http.Request, err error) {
	reqLogger := logger.ContextRequestLogger(r.Context())

	var transportErr *TransportError
	if errors.As(err, &transportErr) {
		status := http.StatusBadGateway
		if transportErr.Timeout() {
			status = http.StatusGatewayTimeout
		}
		reqLogger.Warn("Peer exchange failed",
			slog.Int("peer_status", transportErr.StatusCode),
			slog.String("error", err.Error()),
		)
		RespondWithJSONPayload(w, status, transportErr)
		return
	}

	var protocolErr *ProtocolError
	if errors.As(err, &protocolErr) {
		reqLogger.Warn("Exchange rejected",
			slog.String("error_code", string(protocolErr.Code())),
			slog.String("error", err.Error()),
		)
		RespondWithJSONPayload(w, http.StatusConflict, protocolErr.Rejection())
		return
	}

	RespondWithErrorResponse(w, r, err)
}
