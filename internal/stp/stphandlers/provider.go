package stphandlers

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/information-sharing-networks/stp-demo/internal/logger"
	"github.com/information-sharing-networks/stp-demo/internal/stp"
)

// ProviderHandler handles the protocol messages sent to the provider by vendors
type ProviderHandler struct {
	provider *stp.Provider
}

func NewProviderHandler(provider *stp.Provider) *ProviderHandler {
	return &ProviderHandler{provider: provider}
}

// HandleRemediation godoc
//
//	@Summary		Remediation
//	@Description	The vendor revises an issued token: `REVOKE`, `REFRESH` or `MODIFY`.
//	@Description
//	@Description	`REFRESH` and `MODIFY` carry the vendor-signed successor token encrypted under the current token.
//	@Description	A refreshed token is countersigned and returned encrypted.
//	@Description	A modification is accepted immediately when auto-accept is on, otherwise it is queued for the operator
//	@Description	and the reply has `modification_status: PENDING`.
//	@Tags			Provider
//	@Accept			json
//	@Produce		json
//	@Param			uuid	path		string				true	"Remediation id"
//	@Param			request	body		stp.Revise			true	"Revise"
//	@Success		200		{object}	stp.Response		"Response, or a rejection"
//	@Failure		400		{object}	stp.ErrorResponse	"Malformed message"
//	@Router			/api/stp/remediation/{uuid} [post]
func (h *ProviderHandler) HandleRemediation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var msg stp.Revise
	if err := decodeMessage(w, r, &msg); err != nil {
		stp.RespondWithErrorResponse(w, r, err)
		return
	}

	logger.ContextWithLogAttrs(ctx,
		slog.String("transaction_id", msg.TransactionID),
		slog.String("verb", string(msg.RevisionVerb)))

	reply, err := h.provider.HandleRemediation(ctx, chi.URLParam(r, "uuid"), &msg)
	if err != nil {
		stp.RespondToPeer(w, r, err)
		return
	}

	writeRawJSON(w, reply)
}
