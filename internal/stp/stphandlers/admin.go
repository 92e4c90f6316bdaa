package stphandlers

// admin.go implements the operator API under /admin.
//
// Failed exchanges with the peer are reported with RespondToOperator:
// 502/504 for transport failures, 409 for protocol rejections.

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/information-sharing-networks/stp-demo/internal/logger"
	"github.com/information-sharing-networks/stp-demo/internal/store"
	"github.com/information-sharing-networks/stp-demo/internal/stp"
	"github.com/information-sharing-networks/stp-demo/internal/token"
)

// request and responses

type CreateRequestRequest struct {
	Amount   string `json:"amount" example:"9.99"`
	Currency string `json:"currency" example:"GBP"`

	// Period is monthly, quarterly or annual; omit for a one-off payment
	Period token.Period `json:"period,omitempty" swaggertype:"string" example:"monthly"`
}

type CreateRequestResponse struct {
	RequestID  string `json:"request_id"`
	RequestURL string `json:"request_url" example:"stp://vendor.example.com/api/stp/request/0b1c4f0e-3f5e-4a4f-9d7b-2b0c6d7f8e90"`
}

// TokenResponse is an issued token as held by this party
type TokenResponse struct {
	TransactionID string       `json:"transaction_id"`
	Token         *token.Token `json:"token"`
	Fingerprint   string       `json:"fingerprint"`
	PeerURL       string       `json:"peer_url"`
	Sequence      uint64       `json:"sequence"`

	// PendingModification is the vendor's proposal still waiting for the provider's decision
	PendingModification *token.Modification `json:"pending_modification,omitempty"`
	UpdatedAt           time.Time           `json:"updated_at"`
}

type ModifyRequest struct {
	Amount   string `json:"amount" example:"12.50"`
	Currency string `json:"currency,omitempty" example:"EUR"`
}

type ModificationResponse struct {
	ModificationStatus stp.ModificationStatus `json:"modification_status" example:"PENDING"`
	Token              *token.Token           `json:"token"`
}

type StartNegotiationRequest struct {
	RequestURL  string `json:"request_url"`
	CustomerRef string `json:"customer_ref" example:"customer-42"`
}

type DecisionRequest struct {
	Accept bool   `json:"accept"`
	PIN    string `json:"pin" example:"4821"`
}

type ResolveModificationRequest struct {
	Accept bool `json:"accept"`
}

type AutoAcceptSetting struct {
	Enabled bool `json:"enabled"`
}

func recordToResponse(rec *store.IssuedRecord) TokenResponse {
	return TokenResponse{
		TransactionID:       rec.ID(),
		Token:               rec.Token,
		Fingerprint:         rec.Fingerprint,
		PeerURL:             rec.PeerURL,
		Sequence:            rec.Sequence,
		PendingModification: rec.PendingModification,
		UpdatedAt:           rec.UpdatedAt,
	}
}

// decodeRequest strictly decodes an admin request body
func decodeRequest(r *http.Request, v any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(v); err != nil {
		return stp.WrapValidationError(err, "invalid request body")
	}
	return nil
}

// parseAmount accepts any decimal notation and normalizes it
func parseAmount(s string) (token.Amount, error) {
	a, err := token.ParseAmount(s)
	if err != nil {
		return token.Amount{}, stp.WrapValidationError(err, "invalid amount")
	}
	return a, nil
}

// transactionID reads and checks the {id} path parameter
func transactionID(r *http.Request) (string, error) {
	id := chi.URLParam(r, "id")
	if err := uuid.Validate(id); err != nil {
		return "", stp.WrapValidationError(err, "transaction id must be a UUID")
	}
	return id, nil
}

// TokenHolder is implemented by both *stp.Vendor and *stp.Provider
type TokenHolder interface {
	ListTokens(ctx context.Context) ([]*store.IssuedRecord, error)
	GetToken(ctx context.Context, id string) (*store.IssuedRecord, error)
	Revoke(ctx context.Context, id string) error
}

// TokenAdminHandler serves the token routes common to both roles
type TokenAdminHandler struct {
	tokens TokenHolder
}

func NewTokenAdminHandler(tokens TokenHolder) *TokenAdminHandler {
	return &TokenAdminHandler{tokens: tokens}
}

// HandleListTokens godoc
//
//	@Summary	List issued tokens
//	@Tags		Admin
//	@Produce	json
//	@Success	200	{array}		TokenResponse
//	@Failure	500	{object}	stp.ErrorResponse
//	@Router		/admin/tokens [get]
func (h *TokenAdminHandler) HandleListTokens(w http.ResponseWriter, r *http.Request) {
	recs, err := h.tokens.ListTokens(r.Context())
	if err != nil {
		stp.RespondWithErrorResponse(w, r, err)
		return
	}

	out := make([]TokenResponse, 0, len(recs))
	for _, rec := range recs {
		out = append(out, recordToResponse(rec))
	}
	stp.RespondWithJSONPayload(w, http.StatusOK, out)
}

// HandleGetToken godoc
//
//	@Summary	Get an issued token
//	@Tags		Admin
//	@Produce	json
//	@Param		id	path		string	true	"Transaction id"
//	@Success	200	{object}	TokenResponse
//	@Failure	400	{object}	stp.ErrorResponse
//	@Failure	404	{object}	stp.ErrorResponse
//	@Router		/admin/tokens/{id} [get]
func (h *TokenAdminHandler) HandleGetToken(w http.ResponseWriter, r *http.Request) {
	id, err := transactionID(r)
	if err != nil {
		stp.RespondWithErrorResponse(w, r, err)
		return
	}

	rec, err := h.tokens.GetToken(r.Context(), id)
	if err != nil {
		if errors.Is(err, stp.ErrIDNotFound) {
			stp.RespondWithErrorResponse(w, r, stp.NewNotFoundError(fmt.Sprintf("no issued token %s", id)))
			return
		}
		stp.RespondWithErrorResponse(w, r, err)
		return
	}
	stp.RespondWithJSONPayload(w, http.StatusOK, recordToResponse(rec))
}

// HandleRevoke godoc
//
//	@Summary		Revoke an issued token
//	@Description	Sends REVOKE to the counterparty. Both parties forget the token once the counterparty confirms.
//	@Tags			Admin
//	@Param			id	path	string	true	"Transaction id"
//	@Success		204
//	@Failure		409	{object}	stp.Rejection		"Rejected by this party or the counterparty"
//	@Failure		502	{object}	stp.TransportError	"Counterparty unreachable"
//	@Failure		504	{object}	stp.TransportError	"Counterparty timed out"
//	@Router			/admin/tokens/{id}/revoke [post]
func (h *TokenAdminHandler) HandleRevoke(w http.ResponseWriter, r *http.Request) {
	id, err := transactionID(r)
	if err != nil {
		stp.RespondWithErrorResponse(w, r, err)
		return
	}

	if err := h.tokens.Revoke(r.Context(), id); err != nil {
		stp.RespondToOperator(w, r, err)
		return
	}
	stp.RespondWithStatusCodeOnly(w, http.StatusNoContent)
}

// VendorAdminHandler serves the vendor-only admin routes
type VendorAdminHandler struct {
	vendor *stp.Vendor
}

func NewVendorAdminHandler(vendor *stp.Vendor) *VendorAdminHandler {
	return &VendorAdminHandler{vendor: vendor}
}

// HandleCreateRequest godoc
//
//	@Summary		Create a transaction request
//	@Description	Stores the draft terms and returns the single-use request URL to hand to the customer's bank.
//	@Description	Use `GET /api/stp/request/{uuid}/pin` to wait for the verification PIN.
//	@Tags			Admin
//	@Accept			json
//	@Produce		json
//	@Param			request	body		CreateRequestRequest	true	"Terms"
//	@Success		201		{object}	CreateRequestResponse
//	@Failure		400		{object}	stp.ErrorResponse
//	@Router			/admin/requests [post]
func (h *VendorAdminHandler) HandleCreateRequest(w http.ResponseWriter, r *http.Request) {
	var req CreateRequestRequest
	if err := decodeRequest(r, &req); err != nil {
		stp.RespondWithErrorResponse(w, r, err)
		return
	}

	amount, err := parseAmount(req.Amount)
	if err != nil {
		stp.RespondWithErrorResponse(w, r, err)
		return
	}

	requestURL, requestID, err := h.vendor.CreateRequest(r.Context(), token.Terms{
		Amount:   amount,
		Currency: req.Currency,
		Period:   req.Period,
	})
	if err != nil {
		stp.RespondWithErrorResponse(w, r, err)
		return
	}

	stp.RespondWithJSONPayload(w, http.StatusCreated, CreateRequestResponse{
		RequestID:  requestID,
		RequestURL: requestURL,
	})
}

// HandleRefresh godoc
//
//	@Summary		Refresh a recurring token
//	@Description	Advances the token by one period. The provider countersigns the refreshed token.
//	@Tags			Admin
//	@Produce		json
//	@Param			id	path		string	true	"Transaction id"
//	@Success		200	{object}	TokenResponse
//	@Failure		409	{object}	stp.Rejection		"e.g. NON_RECURRING"
//	@Failure		502	{object}	stp.TransportError	"Provider unreachable"
//	@Failure		504	{object}	stp.TransportError	"Provider timed out"
//	@Router			/admin/tokens/{id}/refresh [post]
func (h *VendorAdminHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := transactionID(r)
	if err != nil {
		stp.RespondWithErrorResponse(w, r, err)
		return
	}

	if _, err := h.vendor.Refresh(ctx, id); err != nil {
		stp.RespondToOperator(w, r, err)
		return
	}

	rec, err := h.vendor.GetToken(ctx, id)
	if err != nil {
		stp.RespondWithErrorResponse(w, r, err)
		return
	}
	stp.RespondWithJSONPayload(w, http.StatusOK, recordToResponse(rec))
}

// HandleModify godoc
//
//	@Summary		Propose a modification
//	@Description	Proposes a new amount (and optionally currency). The provider either accepts it immediately
//	@Description	or queues it for a decision (`PENDING`); the token only changes once the modification is accepted.
//	@Tags			Admin
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string			true	"Transaction id"
//	@Param			request	body		ModifyRequest	true	"Modification"
//	@Success		200		{object}	ModificationResponse
//	@Failure		400		{object}	stp.ErrorResponse
//	@Failure		409		{object}	stp.Rejection
//	@Failure		502		{object}	stp.TransportError
//	@Failure		504		{object}	stp.TransportError
//	@Router			/admin/tokens/{id}/modify [post]
func (h *VendorAdminHandler) HandleModify(w http.ResponseWriter, r *http.Request) {
	id, err := transactionID(r)
	if err != nil {
		stp.RespondWithErrorResponse(w, r, err)
		return
	}

	var req ModifyRequest
	if err := decodeRequest(r, &req); err != nil {
		stp.RespondWithErrorResponse(w, r, err)
		return
	}

	amount, err := parseAmount(req.Amount)
	if err != nil {
		stp.RespondWithErrorResponse(w, r, err)
		return
	}

	status, t, err := h.vendor.Modify(r.Context(), id, token.Modification{Amount: amount, Currency: req.Currency})
	if err != nil {
		stp.RespondToOperator(w, r, err)
		return
	}
	stp.RespondWithJSONPayload(w, http.StatusOK, ModificationResponse{ModificationStatus: status, Token: t})
}

// ProviderAdminHandler serves the provider-only admin routes
type ProviderAdminHandler struct {
	provider *stp.Provider
}

func NewProviderAdminHandler(provider *stp.Provider) *ProviderAdminHandler {
	return &ProviderAdminHandler{provider: provider}
}

// HandleStartNegotiation godoc
//
//	@Summary		Start a negotiation
//	@Description	Sends a Hello to the vendor request URL and returns the vendor's offer for the user to review.
//	@Description	The verification PIN is shown to the user by the vendor.
//	@Tags			Admin
//	@Accept			json
//	@Produce		json
//	@Param			request	body		StartNegotiationRequest	true	"Request URL and customer reference"
//	@Success		201		{object}	stp.Negotiation
//	@Failure		400		{object}	stp.ErrorResponse
//	@Failure		409		{object}	stp.Rejection
//	@Failure		502		{object}	stp.TransportError
//	@Failure		504		{object}	stp.TransportError
//	@Router			/admin/negotiations [post]
func (h *ProviderAdminHandler) HandleStartNegotiation(w http.ResponseWriter, r *http.Request) {
	var req StartNegotiationRequest
	if err := decodeRequest(r, &req); err != nil {
		stp.RespondWithErrorResponse(w, r, err)
		return
	}

	n, err := h.provider.StartNegotiation(r.Context(), req.RequestURL, req.CustomerRef)
	if err != nil {
		stp.RespondToOperator(w, r, err)
		return
	}
	stp.RespondWithJSONPayload(w, http.StatusCreated, n)
}

// HandleListNegotiations godoc
//
//	@Summary	List offers waiting for a decision
//	@Tags		Admin
//	@Produce	json
//	@Success	200	{array}	stp.Negotiation
//	@Router		/admin/negotiations [get]
func (h *ProviderAdminHandler) HandleListNegotiations(w http.ResponseWriter, r *http.Request) {
	stp.RespondWithJSONPayload(w, http.StatusOK, h.provider.ListNegotiations())
}

// HandleDecision godoc
//
//	@Summary		Accept or decline an offer
//	@Description	Accepting requires the PIN shown by the vendor. The token is countersigned and sent to the vendor.
//	@Description	A decline or a wrong PIN is reported to the vendor and returned as a 409 rejection
//	@Description	(`USER_DECLINED`, `INCORRECT_PIN`, `INCORRECT_SIGNATURE`).
//	@Tags			Admin
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string			true	"Transaction id"
//	@Param			request	body		DecisionRequest	true	"Decision"
//	@Success		200		{object}	TokenResponse
//	@Failure		400		{object}	stp.ErrorResponse
//	@Failure		409		{object}	stp.Rejection
//	@Failure		502		{object}	stp.TransportError
//	@Failure		504		{object}	stp.TransportError
//	@Router			/admin/negotiations/{id}/decision [post]
func (h *ProviderAdminHandler) HandleDecision(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	reqLogger := logger.ContextRequestLogger(ctx)

	id, err := transactionID(r)
	if err != nil {
		stp.RespondWithErrorResponse(w, r, err)
		return
	}

	var req DecisionRequest
	if err := decodeRequest(r, &req); err != nil {
		stp.RespondWithErrorResponse(w, r, err)
		return
	}

	reqLogger.Info("User decision", slog.String("transaction_id", id), slog.Bool("accept", req.Accept))

	if _, err := h.provider.Decide(ctx, id, req.Accept, req.PIN); err != nil {
		stp.RespondToOperator(w, r, err)
		return
	}

	rec, err := h.provider.GetToken(ctx, id)
	if err != nil {
		stp.RespondWithErrorResponse(w, r, err)
		return
	}
	stp.RespondWithJSONPayload(w, http.StatusOK, recordToResponse(rec))
}

// HandleListModifications godoc
//
//	@Summary	List modifications waiting for a decision
//	@Tags		Admin
//	@Produce	json
//	@Success	200	{array}	stp.PendingModification
//	@Router		/admin/modifications [get]
func (h *ProviderAdminHandler) HandleListModifications(w http.ResponseWriter, r *http.Request) {
	stp.RespondWithJSONPayload(w, http.StatusOK, h.provider.ListModifications())
}

// HandleResolveModification godoc
//
//	@Summary		Accept or reject a queued modification
//	@Description	Sends FINISH_MODIFICATION to the vendor. If the vendor cannot be reached the modification stays queued.
//	@Tags			Admin
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string						true	"Transaction id"
//	@Param			request	body		ResolveModificationRequest	true	"Decision"
//	@Success		200		{object}	ModificationResponse
//	@Failure		400		{object}	stp.ErrorResponse
//	@Failure		409		{object}	stp.Rejection	"e.g. MODIFICATION_NOT_FOUND"
//	@Failure		502		{object}	stp.TransportError
//	@Failure		504		{object}	stp.TransportError
//	@Router			/admin/modifications/{id} [post]
func (h *ProviderAdminHandler) HandleResolveModification(w http.ResponseWriter, r *http.Request) {
	id, err := transactionID(r)
	if err != nil {
		stp.RespondWithErrorResponse(w, r, err)
		return
	}

	var req ResolveModificationRequest
	if err := decodeRequest(r, &req); err != nil {
		stp.RespondWithErrorResponse(w, r, err)
		return
	}

	status, t, err := h.provider.ResolveModification(r.Context(), id, req.Accept)
	if err != nil {
		stp.RespondToOperator(w, r, err)
		return
	}
	stp.RespondWithJSONPayload(w, http.StatusOK, ModificationResponse{ModificationStatus: status, Token: t})
}

// HandleSetAutoAccept godoc
//
//	@Summary	Switch modification auto-accept on or off
//	@Tags		Admin
//	@Accept		json
//	@Produce	json
//	@Param		request	body		AutoAcceptSetting	true	"Setting"
//	@Success	200		{object}	AutoAcceptSetting
//	@Failure	400		{object}	stp.ErrorResponse
//	@Router		/admin/settings/auto-accept [put]
func (h *ProviderAdminHandler) HandleSetAutoAccept(w http.ResponseWriter, r *http.Request) {
	var req AutoAcceptSetting
	if err := decodeRequest(r, &req); err != nil {
		stp.RespondWithErrorResponse(w, r, err)
		return
	}

	h.provider.SetAutoAccept(req.Enabled)
	logger.ContextRequestLogger(r.Context()).Info("Modification auto-accept changed", slog.Bool("enabled", req.Enabled))

	stp.RespondWithJSONPayload(w, http.StatusOK, AutoAcceptSetting{Enabled: h.provider.AutoAccept()})
}
