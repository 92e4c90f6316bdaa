package stp

// error_response.go maps local failures (malformed messages, internal errors, middleware rejections)
// to an ErrorResponse. Protocol rejections are not errors responses: they are sent as a Rejection.

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/information-sharing-networks/stp-demo/internal/crypto"
	"github.com/information-sharing-networks/stp-demo/internal/logger"
	"github.com/information-sharing-networks/stp-demo/internal/store"
	"github.com/information-sharing-networks/stp-demo/internal/token"
)

// ErrorResponse is the body of every non-2xx response
type ErrorResponse struct {
	HTTPMethod        string `json:"httpMethod"`
	RequestURI        string `json:"requestUri"`
	StatusCode        int    `json:"statusCode"`
	StatusCodeText    string `json:"statusCodeText"`
	StatusCodeMessage string `json:"statusCodeMessage,omitempty"`

	// CorrelationReference is the chi request id
	CorrelationReference string `json:"correlationReference,omitempty"`

	ErrorDateTime string          `json:"errorDateTime"`
	Errors        []DetailedError `json:"errors"`
}

type DetailedError struct {
	ErrorCode        string `json:"errorCode"`
	ErrorCodeText    string `json:"errorCodeText"`
	ErrorCodeMessage string `json:"errorCodeMessage"`
}

// MapErrorToResponse maps stp, token, crypto and store errors to an ErrorResponse.
//
// The HTTP status is chosen from the error type. The full error is logged by RespondWithErrorResponse.
func MapErrorToResponse(err error, r *http.Request) *ErrorResponse {
	requestID := middleware.GetReqID(r.Context())

	var (
		validationErr *ValidationError
		serverErr     *ServerError
		tokenErr      *token.TokenError
		cryptoErr     *crypto.CryptoError
		storeErr      *store.StoreError
	)

	switch {
	case errors.As(err, &validationErr):
		return newErrorResponse(r, requestID, http.StatusBadRequest, "MALFORMED_REQUEST", "Malformed request", err)

	case errors.As(err, &serverErr):
		switch serverErr.Code() {
		case ServerErrCodeRateLimit:
			return newErrorResponse(r, requestID, http.StatusTooManyRequests, string(serverErr.Code()), "Rate limit exceeded", err)
		case ServerErrCodeRequestTooLarge:
			return newErrorResponse(r, requestID, http.StatusRequestEntityTooLarge, string(serverErr.Code()), "Request too large", err)
		case ServerErrCodeNotFound:
			return newErrorResponse(r, requestID, http.StatusNotFound, string(serverErr.Code()), "Not found", err)
		}
		return internalErrorResponse(r, requestID)

	case errors.As(err, &tokenErr):
		if tokenErr.Code() == token.ErrCodeInvalid {
			return newErrorResponse(r, requestID, http.StatusBadRequest, "MALFORMED_REQUEST", "Invalid token", err)
		}
		return internalErrorResponse(r, requestID)

	case errors.As(err, &cryptoErr):
		if cryptoErr.Code() == crypto.ErrCodeValidation {
			return newErrorResponse(r, requestID, http.StatusBadRequest, "MALFORMED_REQUEST", "Malformed request", err)
		}
		return internalErrorResponse(r, requestID)

	case errors.As(err, &storeErr):
		if storeErr.Code() == store.ErrCodeNotFound {
			return newErrorResponse(r, requestID, http.StatusNotFound, string(ServerErrCodeNotFound), "Not found", err)
		}
		return internalErrorResponse(r, requestID)
	}

	reqLogger := logger.ContextRequestLogger(r.Context())
	reqLogger.Error("BUG: Unmapped error type in MapErrorToResponse",
		slog.String("error_type", fmt.Sprintf("%T", err)),
		slog.String("error", err.Error()),
		slog.String("request_id", requestID),
	)
	return internalErrorResponse(r, requestID)
}

func newErrorResponse(r *http.Request, requestID string, statusCode int, code, text string, err error) *ErrorResponse {
	return &ErrorResponse{
		HTTPMethod:           r.Method,
		RequestURI:           r.RequestURI,
		StatusCode:           statusCode,
		StatusCodeText:       http.StatusText(statusCode),
		StatusCodeMessage:    text,
		CorrelationReference: requestID,
		ErrorDateTime:        time.Now().UTC().Format(time.RFC3339),
		Errors: []DetailedError{
			{
				ErrorCode:        code,
				ErrorCodeText:    text,
				ErrorCodeMessage: err.Error(),
			},
		},
	}
}

// internal errors are not described to the client
func internalErrorResponse(r *http.Request, requestID string) *ErrorResponse {
	return &ErrorResponse{
		HTTPMethod:           r.Method,
		RequestURI:           r.RequestURI,
		StatusCode:           http.StatusInternalServerError,
		StatusCodeText:       http.StatusText(http.StatusInternalServerError),
		StatusCodeMessage:    "Internal Error",
		CorrelationReference: requestID,
		ErrorDateTime:        time.Now().UTC().Format(time.RFC3339),
		Errors: []DetailedError{
			{
				ErrorCode:        string(ServerErrCodeInternal),
				ErrorCodeText:    "Internal Error",
				ErrorCodeMessage: "An internal error occurred",
			},
		},
	}
}
