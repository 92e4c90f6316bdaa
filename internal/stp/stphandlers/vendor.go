package stphandlers

// vendor.go implements the vendor's protocol endpoints under /api/stp.

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/information-sharing-networks/stp-demo/internal/logger"
	"github.com/information-sharing-networks/stp-demo/internal/stp"
)

// VendorHandler handles the protocol messages sent to the vendor by providers
type VendorHandler struct {
	vendor *stp.Vendor

	// pinWait bounds GET /api/stp/request/{uuid}/pin
	pinWait time.Duration
}

func NewVendorHandler(vendor *stp.Vendor, pinWait time.Duration) *VendorHandler {
	return &VendorHandler{vendor: vendor, pinWait: pinWait}
}

// decodeMessage reads a single protocol message from the request body
func decodeMessage(w http.ResponseWriter, r *http.Request, msg stp.Message) error {
	return stp.Decode(http.MaxBytesReader(w, r.Body, stp.MaxMessageSize), msg)
}

// writeRawJSON sends a reply that is already encoded
func writeRawJSON(w http.ResponseWriter, reply []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(reply)
}

// HandleHello godoc
//
//	@Summary		Hello
//	@Description	A provider opens a negotiation for the transaction request identified by the URL.
//	@Description
//	@Description	The `url_signature` must be a detached JWS over the request uuid made with a key of a bank in the vendor's registry.
//	@Description	On success the vendor issues the vendor-signed token and replies with an Offer.
//	@Description	The request URL is single use.
//	@Description
//	@Description	Protocol failures are answered with `200 {success:false, error_code, error_message}`:
//	@Description	`ID_NOT_FOUND` (unknown or consumed request) or `INVALID_SIGNATURE`.
//	@Tags			Vendor
//	@Accept			json
//	@Produce		json
//	@Param			uuid	path		string				true	"Request id"
//	@Param			request	body		stp.Hello			true	"Hello"
//	@Success		200		{object}	stp.Offer			"Offer, or a rejection"
//	@Failure		400		{object}	stp.ErrorResponse	"Malformed message"
//	@Router			/api/stp/request/{uuid} [post]
func (h *VendorHandler) HandleHello(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	reqLogger := logger.ContextRequestLogger(ctx)
	requestID := chi.URLParam(r, "uuid")

	var hello stp.Hello
	if err := decodeMessage(w, r, &hello); err != nil {
		stp.RespondWithErrorResponse(w, r, err)
		return
	}

	reqLogger.Info("Hello received",
		slog.String("request_id", requestID),
		slog.String("bic", hello.BIC),
		slog.String("transaction_id", hello.TransactionID))

	offer, err := h.vendor.HandleHello(ctx, requestID, &hello)
	if err != nil {
		stp.RespondToPeer(w, r, err)
		return
	}

	logger.ContextWithLogAttrs(ctx, slog.String("transaction_id", hello.TransactionID))
	stp.RespondWithJSONPayload(w, http.StatusOK, offer)
}

// HandlePIN godoc
//
//	@Summary		Wait for the verification PIN
//	@Description	Blocks until the provider's Hello for this request arrives and returns the verification PIN as text,
//	@Description	so the vendor can show it to the user.
//	@Description
//	@Description	`204 No Content` is returned if no Hello arrived within the PIN wait timeout; the caller may ask again.
//	@Tags			Vendor
//	@Produce		plain
//	@Param			uuid	path		string				true	"Request id"
//	@Success		200		{string}	string				"PIN"
//	@Success		204		"No Hello yet"
//	@Failure		400		{object}	stp.ErrorResponse	"Unknown request"
//	@Router			/api/stp/request/{uuid}/pin [get]
func (h *VendorHandler) HandlePIN(w http.ResponseWriter, r *http.Request) {
	requestID := chi.URLParam(r, "uuid")

	ctx, cancel := context.WithTimeout(r.Context(), h.pinWait)
	defer cancel()

	pin, err := h.vendor.AwaitPIN(ctx, requestID)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			stp.RespondWithStatusCodeOnly(w, http.StatusNoContent)
			return
		}
		if errors.Is(err, context.Canceled) {
			// client went away
			return
		}
		stp.RespondWithErrorResponse(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(pin))
}

// HandleConfirm godoc
//
//	@Summary		Confirm
//	@Description	The provider returns the countersigned token, or tells the vendor that the user did not accept the offer.
//	@Description
//	@Description	For an accepted offer the vendor checks that the token is the offered one (`INCORRECT_TOKEN`),
//	@Description	that both signatures verify and that the provider key is the key that signed the Hello (`INCORRECT_TOKEN_SIGN`).
//	@Description	The Ack carries the vendor's revision URL. A decline is acknowledged without one.
//	@Tags			Vendor
//	@Accept			json
//	@Produce		json
//	@Param			uuid	path		string				true	"Confirmation id"
//	@Param			request	body		stp.Confirm			true	"Confirm"
//	@Success		200		{object}	stp.Ack				"Ack, or a rejection"
//	@Failure		400		{object}	stp.ErrorResponse	"Malformed message"
//	@Router			/api/stp/response/{uuid} [post]
func (h *VendorHandler) HandleConfirm(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	confirmationID := chi.URLParam(r, "uuid")

	var confirm stp.Confirm
	if err := decodeMessage(w, r, &confirm); err != nil {
		stp.RespondWithErrorResponse(w, r, err)
		return
	}

	ack, err := h.vendor.HandleConfirm(ctx, confirmationID, &confirm)
	if err != nil {
		stp.RespondToPeer(w, r, err)
		return
	}

	stp.RespondWithJSONPayload(w, http.StatusOK, ack)
}

// HandleRevision godoc
//
//	@Summary		Revision
//	@Description	The provider revises an issued token: `REVOKE`, or `FINISH_MODIFICATION` to report its decision
//	@Description	on a modification the vendor proposed earlier.
//	@Description
//	@Description	The reply carries the vendor's signature over the challenge.
//	@Tags			Vendor
//	@Accept			json
//	@Produce		json
//	@Param			uuid	path		string				true	"Revision id"
//	@Param			request	body		stp.Revise			true	"Revise"
//	@Success		200		{object}	stp.Response		"Response, or a rejection"
//	@Failure		400		{object}	stp.ErrorResponse	"Malformed message"
//	@Router			/api/stp/revision/{uuid} [post]
func (h *VendorHandler) HandleRevision(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var msg stp.Revise
	if err := decodeMessage(w, r, &msg); err != nil {
		stp.RespondWithErrorResponse(w, r, err)
		return
	}

	logger.ContextWithLogAttrs(ctx,
		slog.String("transaction_id", msg.TransactionID),
		slog.String("verb", string(msg.RevisionVerb)))

	reply, err := h.vendor.HandleRevision(ctx, chi.URLParam(r, "uuid"), &msg)
	if err != nil {
		stp.RespondToPeer(w, r, err)
		return
	}

	writeRawJSON(w, reply)
}
