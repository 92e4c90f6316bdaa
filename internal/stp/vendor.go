package stp

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/information-sharing-networks/stp-demo/internal/crypto"
	"github.com/information-sharing-networks/stp-demo/internal/logger"
	"github.com/information-sharing-networks/stp-demo/internal/store"
	"github.com/information-sharing-networks/stp-demo/internal/token"
)

// OngoingRequest is a draft transaction waiting for a bank's Hello
type OngoingRequest struct {
	Terms     token.Terms `json:"terms"`
	CreatedAt time.Time   `json:"created_at"`
}

// pendingOffer is an issued vendor token waiting for the provider's Confirm
type pendingOffer struct {
	token     *token.Token
	requestID string

	// bankKeyID is the thumbprint kid of the key that signed the Hello
	bankKeyID string
	createdAt time.Time
}

// Vendor runs the vendor side of the protocol
type Vendor struct {
	*party

	keys   *KeyManager
	info   VendorInfo
	offers *store.Table[pendingOffer]

	requests *store.Table[OngoingRequest]
	pins     *store.Waiters[string]
}

func NewVendor(opts Options, keys *KeyManager, info VendorInfo) (*Vendor, error) {
	p, err := newParty(RoleVendor, opts)
	if err != nil {
		return nil, err
	}
	if keys == nil {
		return nil, NewInternalError("key manager is required")
	}
	if info.Name == "" {
		return nil, NewInternalError("vendor name is required")
	}

	return &Vendor{
		party:    p,
		keys:     keys,
		info:     info,
		offers:   store.NewTable[pendingOffer](),
		requests: store.NewTable[OngoingRequest](),
		pins:     store.NewWaiters[string](),
	}, nil
}

// CreateRequest stores draft terms and returns the one-time request URL handed to the customer's bank
// together with its id
func (v *Vendor) CreateRequest(ctx context.Context, terms token.Terms) (string, string, error) {
	if err := terms.Validate(); err != nil {
		return "", "", WrapValidationError(err, "invalid terms")
	}

	id := uuid.NewString()
	if err := v.requests.Insert(id, OngoingRequest{Terms: terms, CreatedAt: v.now().UTC()}); err != nil {
		return "", "", WrapInternalError(err, "failed to store request")
	}
	v.pins.Register(id)

	requestURL := NewURL(v.publicHost, RequestPath, id)

	logger.ContextRequestLogger(ctx).Info("Transaction request created",
		slog.String("request_id", id),
		slog.String("amount", terms.Amount.String()),
		slog.String("currency", terms.Currency),
		slog.String("period", string(terms.Period)))

	return requestURL, id, nil
}

// ExpireStale drops requests that never received a Hello and offers that never received a Confirm
// once they are older than ttl, together with their PIN slots. It returns the number of entries removed.
func (v *Vendor) ExpireStale(ctx context.Context, ttl time.Duration) int {
	cutoff := v.now().Add(-ttl)

	requests := v.requests.DeleteFunc(func(_ string, r OngoingRequest) bool {
		return r.CreatedAt.Before(cutoff)
	})
	for _, id := range requests {
		v.pins.Remove(id)
	}

	var offers []pendingOffer
	v.offers.DeleteFunc(func(_ string, o pendingOffer) bool {
		if o.createdAt.Before(cutoff) {
			offers = append(offers, o)
			return true
		}
		return false
	})
	for _, o := range offers {
		v.pins.Remove(o.requestID)
	}

	n := len(requests) + len(offers)
	if n > 0 {
		logger.ContextRequestLogger(ctx).Info("Expired stale negotiation state",
			slog.Int("requests", len(requests)),
			slog.Int("offers", len(offers)))
	}
	return n
}

// AwaitPIN blocks until the Hello for the request arrives and returns its verification PIN.
// An unknown request id is a ValidationError.
func (v *Vendor) AwaitPIN(ctx context.Context, requestID string) (string, error) {
	pin, err := v.pins.Await(ctx, requestID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", NewValidationError("unknown request id")
		}
		return "", err
	}
	return pin, nil
}

// HandleHello verifies a provider's Hello and answers with an Offer carrying the vendor token.
//
//  1. the request id is known (ID_NOT_FOUND)
//  2. url_signature verifies with a key from the bank registry (INVALID_SIGNATURE)
//  3. the key belongs to the bank named in the Hello (INVALID_SIGNATURE)
//
// The request is then consumed, the PIN is published and the vendor token issued.
func (v *Vendor) HandleHello(ctx context.Context, requestID string, hello *Hello) (*Offer, error) {
	reqLogger := logger.ContextRequestLogger(ctx)

	if _, ok := v.requests.Get(requestID); !ok {
		return nil, NewProtocolError(CodeIDNotFound, "unknown transaction request")
	}

	bank, keyID, err := v.keys.VerifyURLSignature(ctx, hello.URLSignature, []byte(requestID))
	if err != nil {
		return nil, WrapProtocolError(err, CodeInvalidSignature, "url_signature does not verify with a trusted bank key")
	}
	if bank.BIC != hello.BIC {
		return nil, NewProtocolError(CodeInvalidSignature, "url_signature was made by a different bank")
	}

	reqLogger.Info("Hello verified",
		slog.String("request_id", requestID),
		slog.String("bic", bank.BIC),
		slog.String("kid", keyID))

	if _, err := v.repo.Get(ctx, hello.TransactionID); err == nil {
		return nil, NewValidationError("transaction_id is already in use")
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, WrapInternalError(err, "failed to check transaction id")
	}

	req, ok := v.requests.Pop(requestID)
	if !ok {
		// consumed by a concurrent Hello
		return nil, NewProtocolError(CodeIDNotFound, "unknown transaction request")
	}
	v.pins.Publish(requestID, hello.VerificationPIN)

	tx, err := token.NewTransaction(hello.TransactionID, hello.BIC, hello.Customer, req.Terms, v.now())
	if err != nil {
		return nil, WrapValidationError(err, "failed to build transaction")
	}
	t, err := token.IssueVendorToken(tx, v.signer)
	if err != nil {
		return nil, WrapInternalError(err, "failed to issue vendor token")
	}

	confirmationID := uuid.NewString()
	if err := v.offers.Insert(confirmationID, pendingOffer{token: t, requestID: requestID, bankKeyID: keyID, createdAt: v.now()}); err != nil {
		return nil, WrapInternalError(err, "failed to store offer")
	}

	summary := OfferSummary{Amount: req.Terms.Amount, CurrencyCode: req.Terms.Currency}
	if req.Terms.Period != "" {
		period := req.Terms.Period
		summary.Recurrence = &period
	}

	reqLogger.Info("Offer issued",
		slog.String("transaction_id", tx.ID),
		slog.String("confirmation_id", confirmationID))

	return &Offer{
		Success:        true,
		ConfirmationID: confirmationID,
		ResponseURL:    NewURL(v.publicHost, ResponsePath, confirmationID),
		Vendor:         v.info,
		Transaction:    summary,
		Token:          t,
	}, nil
}

// HandleConfirm completes a negotiation. The offer is removed whatever the outcome.
//
// A decline (allowed=false) is acknowledged without a revision URL. Otherwise:
//  1. the countersigned token is the offered one (INCORRECT_TOKEN)
//  2. both signatures verify (INCORRECT_TOKEN_SIGN)
//  3. the provider key is the key that signed the Hello (INCORRECT_TOKEN_SIGN)
func (v *Vendor) HandleConfirm(ctx context.Context, confirmationID string, confirm *Confirm) (*Ack, error) {
	reqLogger := logger.ContextRequestLogger(ctx)

	offer, ok := v.offers.Pop(confirmationID)
	if !ok {
		return nil, NewProtocolError(CodeIDNotFound, "unknown confirmation id")
	}
	v.pins.Remove(offer.requestID)

	if !confirm.Allowed {
		reqLogger.Info("Offer declined by provider",
			slog.String("transaction_id", offer.token.Transaction.ID),
			slog.String("error_code", string(confirm.ErrorCode)),
			slog.String("error_message", confirm.ErrorMessage))
		return &Ack{Success: true}, nil
	}

	t := confirm.Token
	if !token.SameVendorIssuance(offer.token, t) {
		return nil, NewProtocolError(CodeIncorrectToken, "token differs from the offered token")
	}
	if err := token.VerifyFullyIssued(t); err != nil {
		return nil, WrapProtocolError(err, CodeIncorrectTokenSign, "token is not signed properly")
	}
	providerKeyID, err := crypto.PortableKeyID(t.Signatures.ProviderKey)
	if err != nil {
		return nil, WrapProtocolError(err, CodeIncorrectTokenSign, "invalid provider key")
	}
	if providerKeyID != offer.bankKeyID {
		return nil, NewProtocolError(CodeIncorrectTokenSign, "token was countersigned with a different key than the Hello")
	}

	revisionID := uuid.NewString()
	if err := v.storeIssued(ctx, t, confirm.RemediationURL, revisionID); err != nil {
		return nil, err
	}

	reqLogger.Info("Token issued",
		slog.String("transaction_id", t.Transaction.ID),
		slog.String("fingerprint", token.Fingerprint(t)))

	return &Ack{Success: true, RevisionURL: NewURL(v.publicHost, RevisionPath, revisionID)}, nil
}

// HandleRevision answers a Revise posted by the provider to the revision URL with id inboundID.
// The reply is the JSON of a Response.
func (v *Vendor) HandleRevision(ctx context.Context, inboundID string, msg *Revise) ([]byte, error) {
	return v.respond(ctx, inboundID, msg, map[Verb]verbHandler{
		VerbRevoke:             handleRevoke,
		VerbFinishModification: v.handleFinishModification,
	})
}

// handleFinishModification applies the provider's decision on a modification the vendor proposed.
// An accepted token must match the recorded proposal and carry both agreed keys.
func (v *Vendor) handleFinishModification(ctx context.Context, rec *store.IssuedRecord, msg *Revise) (*revisionResult, error) {
	if msg.ModificationStatus == ModificationRejected {
		logger.ContextRequestLogger(ctx).Info("Modification rejected by provider",
			slog.String("transaction_id", rec.ID()))
		rec.PendingModification = nil
		return &revisionResult{reply: &Response{}}, nil
	}

	if rec.PendingModification == nil {
		return nil, NewProtocolError(CodeModificationNotFound, "no modification is awaiting a decision")
	}

	t, err := openRevision(rec.Token, msg.Token)
	if err != nil {
		return nil, err
	}
	if err := token.CheckModification(rec.Token, t, *rec.PendingModification); err != nil {
		return nil, WrapProtocolError(err, CodeIncorrectToken, "modified token does not match the proposal")
	}
	if err := checkCountersigned(rec.Token, t); err != nil {
		return nil, err
	}

	rec.Token = t
	rec.PendingModification = nil
	return &revisionResult{reply: &Response{}}, nil
}

// Revoke revokes an issued token at the provider and forgets it
func (v *Vendor) Revoke(ctx context.Context, id string) error {
	return v.revoke(ctx, id)
}

// Refresh advances a recurring token by one period. The provider returns the countersigned token.
func (v *Vendor) Refresh(ctx context.Context, id string) (*token.Token, error) {
	reqLogger := logger.ContextRequestLogger(ctx)

	unlock, err := v.lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	rec, err := v.record(ctx, id)
	if err != nil {
		return nil, err
	}

	refreshed, err := token.Refresh(rec.Token, v.signer)
	if err != nil {
		if errors.Is(err, token.ErrNonRecurring) {
			return nil, NewProtocolError(CodeNonRecurring, "token is not recurring")
		}
		return nil, WrapInternalError(err, "failed to refresh token")
	}
	sealed, err := token.Seal(rec.Token, refreshed)
	if err != nil {
		return nil, WrapInternalError(err, "failed to seal refreshed token")
	}

	reply, err := v.exchange(ctx, rec, &Revise{RevisionVerb: VerbRefresh, Token: sealed})
	if err != nil {
		return nil, err
	}

	full, err := v.acceptCountersigned(rec, refreshed, reply)
	if err != nil {
		v.keepSequence(ctx, rec)
		return nil, err
	}

	rec.Token = full
	if err := v.saveRecord(ctx, rec); err != nil {
		return nil, err
	}

	reqLogger.Info("Token refreshed",
		slog.String("transaction_id", id),
		slog.Uint64("cycle_index", full.Transaction.Recurring.CycleIndex))
	return full, nil
}

// Modify proposes a new amount (and optionally currency). When the provider defers the decision
// the proposal is recorded and the status is PENDING; the token is unchanged until
// FINISH_MODIFICATION arrives.
func (v *Vendor) Modify(ctx context.Context, id string, m token.Modification) (ModificationStatus, *token.Token, error) {
	reqLogger := logger.ContextRequestLogger(ctx)

	if err := m.Validate(); err != nil {
		return "", nil, WrapValidationError(err, "invalid modification")
	}

	unlock, err := v.lock(ctx, id)
	if err != nil {
		return "", nil, err
	}
	defer unlock()

	rec, err := v.record(ctx, id)
	if err != nil {
		return "", nil, err
	}

	modified, err := token.Modify(rec.Token, m, v.signer)
	if err != nil {
		return "", nil, WrapInternalError(err, "failed to modify token")
	}
	sealed, err := token.Seal(rec.Token, modified)
	if err != nil {
		return "", nil, WrapInternalError(err, "failed to seal modified token")
	}

	amount := m.Amount
	reply, err := v.exchange(ctx, rec, &Revise{
		RevisionVerb:     VerbModify,
		ModifiedAmount:   &amount,
		ModifiedCurrency: m.Currency,
		Token:            sealed,
	})
	if err != nil {
		return "", nil, err
	}

	switch reply.ModificationStatus {
	case ModificationAccepted:
		full, err := v.acceptCountersigned(rec, modified, reply)
		if err != nil {
			v.keepSequence(ctx, rec)
			return "", nil, err
		}
		rec.Token = full
		rec.PendingModification = nil

	case ModificationPending:
		proposal := m
		rec.PendingModification = &proposal

	case ModificationRejected:
		rec.PendingModification = nil

	default:
		v.keepSequence(ctx, rec)
		return "", nil, NewProtocolError(CodeIncorrectToken, "reply to MODIFY has no modification_status")
	}

	if err := v.saveRecord(ctx, rec); err != nil {
		return "", nil, err
	}

	reqLogger.Info("Modification sent",
		slog.String("transaction_id", id),
		slog.String("status", string(reply.ModificationStatus)))
	return reply.ModificationStatus, rec.Token, nil
}

// acceptCountersigned opens the provider's countersigned version of the token we proposed and
// checks it before it replaces the agreed token
func (v *Vendor) acceptCountersigned(rec *store.IssuedRecord, proposed *token.Token, reply *Response) (*token.Token, error) {
	if reply.Token == "" {
		return nil, NewProtocolError(CodeIncorrectToken, "reply carries no token")
	}
	full, err := openRevision(rec.Token, reply.Token)
	if err != nil {
		return nil, err
	}
	if !token.SameVendorIssuance(proposed, full) {
		return nil, NewProtocolError(CodeIncorrectToken, "returned token differs from the proposed token")
	}
	if err := checkCountersigned(rec.Token, full); err != nil {
		return nil, err
	}
	return full, nil
}

// keepSequence records the sequence number used by a failed exchange; the peer has already applied it
func (p *party) keepSequence(ctx context.Context, rec *store.IssuedRecord) {
	if err := p.saveRecord(ctx, rec); err != nil {
		logger.ContextRequestLogger(ctx).Error("failed to record revision sequence",
			slog.String("transaction_id", rec.ID()),
			slog.String("error", err.Error()))
	}
}
