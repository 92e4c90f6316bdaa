package stp

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/information-sharing-networks/stp-demo/internal/crypto"
	"github.com/information-sharing-networks/stp-demo/internal/logger"
	"github.com/information-sharing-networks/stp-demo/internal/store"
	"github.com/information-sharing-networks/stp-demo/internal/token"
)

// Negotiation is an offer received from a vendor and waiting for the user's decision
type Negotiation struct {
	TransactionID string       `json:"transaction_id"`
	Vendor        VendorInfo   `json:"vendor"`
	Transaction   OfferSummary `json:"transaction"`
	Token         *token.Token `json:"token"`
	CreatedAt     time.Time    `json:"created_at"`
}

type negotiation struct {
	Negotiation
	responseURL string
	pin         string
}

// PendingModification is a vendor proposal waiting for the provider's decision
type PendingModification struct {
	TransactionID string             `json:"transaction_id"`
	Proposal      token.Modification `json:"proposal"`

	// Candidate is the vendor-signed modified token
	Candidate  *token.Token `json:"candidate"`
	ReceivedAt time.Time    `json:"received_at"`
}

// Provider runs the bank side of the protocol
type Provider struct {
	*party

	bic      string
	bankName string

	negotiations  *store.Table[negotiation]
	modifications *store.Table[PendingModification]
	autoAccept    atomic.Bool
}

func NewProvider(opts Options, bic, bankName string, autoAccept bool) (*Provider, error) {
	if err := ValidateBIC(bic); err != nil {
		return nil, err
	}
	if bankName == "" {
		return nil, NewInternalError("bank name is required")
	}
	p, err := newParty(RoleProvider, opts)
	if err != nil {
		return nil, err
	}

	provider := &Provider{
		party:         p,
		bic:           bic,
		bankName:      bankName,
		negotiations:  store.NewTable[negotiation](),
		modifications: store.NewTable[PendingModification](),
	}
	provider.autoAccept.Store(autoAccept)
	return provider, nil
}

func (p *Provider) BIC() string { return p.bic }

// ExpireStale drops negotiations the user has not decided on within ttl.
// Queued modifications are kept until they are resolved.
func (p *Provider) ExpireStale(ctx context.Context, ttl time.Duration) int {
	cutoff := p.now().Add(-ttl)
	expired := p.negotiations.DeleteFunc(func(_ string, n negotiation) bool {
		return n.CreatedAt.Before(cutoff)
	})
	for _, id := range expired {
		logger.ContextRequestLogger(ctx).Info("Negotiation expired", slog.String("transaction_id", id))
	}
	return len(expired)
}

// SetAutoAccept switches between accepting modifications immediately and queueing them
func (p *Provider) SetAutoAccept(on bool) { p.autoAccept.Store(on) }

func (p *Provider) AutoAccept() bool { return p.autoAccept.Load() }

// generatePIN returns a 4 digit verification PIN
func generatePIN() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(9000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d", n.Int64()+1000), nil
}

// StartNegotiation sends a Hello to a vendor request URL and records the resulting offer.
//
// The offered token must be for the transaction id, BIC and customer reference we sent and must
// match the summary shown to the user (INCORRECT_TOKEN). Its vendor signature must verify (INCORRECT_SIGNATURE).
func (p *Provider) StartNegotiation(ctx context.Context, requestURL, customerRef string) (*Negotiation, error) {
	reqLogger := logger.ContextRequestLogger(ctx)

	if customerRef == "" {
		return nil, NewValidationError("customer reference is required")
	}
	requestID, err := LastSegment(requestURL)
	if err != nil {
		return nil, err
	}

	// Step 1: build the Hello
	pin, err := generatePIN()
	if err != nil {
		return nil, WrapInternalError(err, "failed to generate PIN")
	}
	random, err := crypto.NewChallenge()
	if err != nil {
		return nil, WrapInternalError(err, "failed to generate nonce")
	}
	urlSignature, err := p.signer.Sign([]byte(requestID))
	if err != nil {
		return nil, WrapInternalError(err, "failed to sign request URL")
	}

	hello := &Hello{
		Version:         ProtocolVersion,
		BankName:        p.bankName,
		BIC:             p.bic,
		Random:          random,
		TransactionID:   uuid.NewString(),
		Customer:        customerRef,
		URLSignature:    urlSignature,
		VerificationPIN: pin,
	}

	// Step 2: send it
	var offer Offer
	if err := p.client.Post(ctx, requestURL, hello, &offer); err != nil {
		return nil, err
	}

	// Step 3: check the offered token
	if err := checkOffer(hello, &offer); err != nil {
		return nil, err
	}
	if err := token.VerifyVendorSignature(offer.Token); err != nil {
		return nil, WrapProtocolError(err, CodeIncorrectSignature, "vendor signature does not verify")
	}

	// Step 4: wait for the user
	n := negotiation{
		Negotiation: Negotiation{
			TransactionID: hello.TransactionID,
			Vendor:        offer.Vendor,
			Transaction:   offer.Transaction,
			Token:         offer.Token,
			CreatedAt:     p.now().UTC(),
		},
		responseURL: offer.ResponseURL,
		pin:         pin,
	}
	if err := p.negotiations.Insert(hello.TransactionID, n); err != nil {
		return nil, WrapInternalError(err, "failed to store negotiation")
	}

	reqLogger.Info("Offer received",
		slog.String("transaction_id", hello.TransactionID),
		slog.String("vendor", offer.Vendor.Name),
		slog.String("amount", offer.Transaction.Amount.String()),
		slog.String("currency", offer.Transaction.CurrencyCode))

	view := n.Negotiation
	return &view, nil
}

// checkOffer compares the offered token with the Hello it answers and the summary in the Offer
func checkOffer(hello *Hello, offer *Offer) error {
	tx := offer.Token.Transaction

	switch {
	case tx.ID != hello.TransactionID:
		return NewProtocolError(CodeIncorrectToken, "offered token has a different transaction id")
	case tx.ProviderBIC != hello.BIC:
		return NewProtocolError(CodeIncorrectToken, "offered token is for a different bank")
	case tx.CustomerRef != hello.Customer:
		return NewProtocolError(CodeIncorrectToken, "offered token has a different customer reference")
	case offer.Token.Signatures.Provider != "" || offer.Token.Signatures.ProviderKey != "":
		return NewProtocolError(CodeIncorrectToken, "offered token is already countersigned")
	case !tx.Amount.Equal(offer.Transaction.Amount) || tx.Currency != offer.Transaction.CurrencyCode:
		return NewProtocolError(CodeIncorrectToken, "offered token does not match the offer summary")
	}

	summary := offer.Transaction.Recurrence
	switch {
	case tx.Recurring == nil && summary == nil:
	case tx.Recurring != nil && summary != nil && tx.Recurring.Period == *summary:
	default:
		return NewProtocolError(CodeIncorrectToken, "offered token recurrence does not match the offer summary")
	}
	return nil
}

// ListNegotiations returns the offers waiting for a decision
func (p *Provider) ListNegotiations() []Negotiation {
	entries := p.negotiations.List()
	out := make([]Negotiation, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Value.Negotiation)
	}
	return out
}

// Decide completes a negotiation with the user's decision. The checks are made in order:
//  1. the user accepted (USER_DECLINED)
//  2. the PIN matches the one sent in the Hello (INCORRECT_PIN)
//  3. the vendor signature verifies (INCORRECT_SIGNATURE)
//
// A failed check is reported to the vendor with Confirm{allowed:false} so it can drop the offer.
// Otherwise the token is countersigned, sent in a Confirm and stored once the vendor acks.
func (p *Provider) Decide(ctx context.Context, id string, accept bool, pin string) (*token.Token, error) {
	reqLogger := logger.ContextRequestLogger(ctx)

	n, ok := p.negotiations.Pop(id)
	if !ok {
		return nil, NewProtocolError(CodeIDNotFound, "no negotiation with this transaction id")
	}

	var rejection error
	switch {
	case !accept:
		rejection = NewProtocolError(CodeUserDeclined, "user declined the transaction")
	case subtle.ConstantTimeCompare([]byte(pin), []byte(n.pin)) != 1:
		rejection = NewProtocolError(CodeIncorrectPIN, "incorrect verification PIN")
	default:
		if err := token.VerifyVendorSignature(n.Token); err != nil {
			rejection = WrapProtocolError(err, CodeIncorrectSignature, "vendor signature does not verify")
		}
	}
	if rejection != nil {
		p.notifyDecline(ctx, n, rejection)
		return nil, rejection
	}

	full, err := token.CounterSign(n.Token, p.signer, p.now())
	if err != nil {
		return nil, WrapInternalError(err, "failed to countersign token")
	}

	remediationID := uuid.NewString()
	confirm := &Confirm{
		Allowed:        true,
		Token:          full,
		RemediationURL: NewURL(p.publicHost, RemediationPath, remediationID),
	}

	var ack Ack
	if err := p.client.Post(ctx, n.responseURL, confirm, &ack); err != nil {
		return nil, err
	}
	if ack.RevisionURL == "" {
		return nil, NewValidationError("ack for an accepted token carries no revision_url")
	}

	if err := p.storeIssued(ctx, full, ack.RevisionURL, remediationID); err != nil {
		return nil, err
	}

	reqLogger.Info("Token issued",
		slog.String("transaction_id", id),
		slog.String("fingerprint", token.Fingerprint(full)))
	return full, nil
}

// notifyDecline tells the vendor that the offer will not be countersigned. Failures are only logged.
func (p *Provider) notifyDecline(ctx context.Context, n negotiation, reason error) {
	reqLogger := logger.ContextRequestLogger(ctx)

	var protocolErr *ProtocolError
	if !errors.As(reason, &protocolErr) {
		return
	}

	confirm := &Confirm{
		Allowed:      false,
		ErrorCode:    protocolErr.Code(),
		ErrorMessage: protocolErr.Message(),
	}
	var ack Ack
	if err := p.client.Post(ctx, n.responseURL, confirm, &ack); err != nil {
		reqLogger.Warn("Failed to notify vendor of declined offer",
			slog.String("transaction_id", n.TransactionID),
			slog.String("error", err.Error()))
		return
	}

	reqLogger.Info("Offer declined",
		slog.String("transaction_id", n.TransactionID),
		slog.String("error_code", string(protocolErr.Code())))
}

// HandleRemediation answers a Revise posted by the vendor to the remediation URL with id inboundID
func (p *Provider) HandleRemediation(ctx context.Context, inboundID string, msg *Revise) ([]byte, error) {
	return p.respond(ctx, inboundID, msg, map[Verb]verbHandler{
		VerbRevoke:  p.handleRevoke,
		VerbRefresh: p.handleRefresh,
		VerbModify:  p.handleModify,
	})
}

func (p *Provider) handleRevoke(ctx context.Context, rec *store.IssuedRecord, msg *Revise) (*revisionResult, error) {
	p.modifications.Delete(rec.ID())
	return handleRevoke(ctx, rec, msg)
}

// checkVendorProposal verifies the signatures of a vendor-signed revision of the agreed token
func checkVendorProposal(agreed, next *token.Token) error {
	if err := token.VerifyFullyIssued(agreed); err != nil {
		return WrapProtocolError(err, CodeIncorrectTokenSign, "agreed token is not signed properly")
	}
	if err := token.VerifyVendorSignature(next); err != nil {
		return WrapProtocolError(err, CodeIncorrectTokenSign, "revised token vendor signature does not verify")
	}
	if next.Signatures.VendorKey != agreed.Signatures.VendorKey {
		return NewProtocolError(CodeIncorrectTokenSign, "revised token is signed with a different vendor key")
	}
	if next.Signatures.Provider != "" || next.Signatures.ProviderKey != "" {
		return NewProtocolError(CodeIncorrectTokenSign, "revised token is already countersigned")
	}
	return nil
}

// countersignRevision countersigns next and seals it under the agreed token for the reply
func (p *Provider) countersignRevision(agreed, next *token.Token) (*token.Token, string, error) {
	full, err := token.CounterSign(next, p.signer, p.now())
	if err != nil {
		return nil, "", WrapInternalError(err, "failed to countersign revised token")
	}
	sealed, err := token.Seal(agreed, full)
	if err != nil {
		return nil, "", WrapInternalError(err, "failed to seal revised token")
	}
	return full, sealed, nil
}

func (p *Provider) handleRefresh(_ context.Context, rec *store.IssuedRecord, msg *Revise) (*revisionResult, error) {
	if rec.Token.Transaction.Recurring == nil {
		return nil, NewProtocolError(CodeNonRecurring, "token is not recurring")
	}

	next, err := openRevision(rec.Token, msg.Token)
	if err != nil {
		return nil, err
	}
	if err := token.CheckRefresh(rec.Token, next); err != nil {
		if errors.Is(err, token.ErrNonRecurring) {
			return nil, WrapProtocolError(err, CodeNonRecurring, "refreshed token is not recurring")
		}
		return nil, WrapProtocolError(err, CodeIncorrectToken, "token is not a valid refresh")
	}
	if err := checkVendorProposal(rec.Token, next); err != nil {
		return nil, err
	}

	full, sealed, err := p.countersignRevision(rec.Token, next)
	if err != nil {
		return nil, err
	}

	// a queued modification was made against the old token
	p.modifications.Delete(rec.ID())

	rec.Token = full
	return &revisionResult{reply: &Response{Token: sealed}}, nil
}

func (p *Provider) handleModify(ctx context.Context, rec *store.IssuedRecord, msg *Revise) (*revisionResult, error) {
	proposal := msg.Modification()

	next, err := openRevision(rec.Token, msg.Token)
	if err != nil {
		return nil, err
	}
	if err := token.CheckModification(rec.Token, next, proposal); err != nil {
		return nil, WrapProtocolError(err, CodeIncorrectToken, "token does not match the proposed modification")
	}
	if err := checkVendorProposal(rec.Token, next); err != nil {
		return nil, err
	}

	if !p.AutoAccept() {
		// a newer proposal replaces any undecided one
		p.modifications.Put(rec.ID(), PendingModification{
			TransactionID: rec.ID(),
			Proposal:      proposal,
			Candidate:     next,
			ReceivedAt:    p.now().UTC(),
		})
		logger.ContextRequestLogger(ctx).Info("Modification queued",
			slog.String("transaction_id", rec.ID()),
			slog.String("amount", proposal.Amount.String()))
		return &revisionResult{reply: &Response{ModificationStatus: ModificationPending}}, nil
	}

	full, sealed, err := p.countersignRevision(rec.Token, next)
	if err != nil {
		return nil, err
	}
	p.modifications.Delete(rec.ID())

	rec.Token = full
	return &revisionResult{reply: &Response{Token: sealed, ModificationStatus: ModificationAccepted}}, nil
}

// ListModifications returns the modifications waiting for a decision
func (p *Provider) ListModifications() []PendingModification {
	entries := p.modifications.List()
	out := make([]PendingModification, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Value)
	}
	return out
}

// ResolveModification accepts or rejects a queued modification and reports the decision to the vendor
// with FINISH_MODIFICATION. The modification leaves the queue only once the vendor has acknowledged the
// decision; after any failure it stays queued so it can be retried or rejected.
func (p *Provider) ResolveModification(ctx context.Context, id string, accept bool) (ModificationStatus, *token.Token, error) {
	reqLogger := logger.ContextRequestLogger(ctx)

	unlock, err := p.lock(ctx, id)
	if err != nil {
		return "", nil, err
	}
	defer unlock()

	pm, ok := p.modifications.Pop(id)
	if !ok {
		return "", nil, NewProtocolError(CodeModificationNotFound, "no modification is waiting for a decision")
	}
	resolved := false
	defer func() {
		if !resolved {
			p.modifications.Put(id, pm)
		}
	}()

	rec, err := p.record(ctx, id)
	if err != nil {
		return "", nil, err
	}

	status := ModificationRejected
	msg := &Revise{RevisionVerb: VerbFinishModification, ModificationStatus: status}

	var full *token.Token
	if accept {
		if err := token.CheckModification(rec.Token, pm.Candidate, pm.Proposal); err != nil {
			return "", nil, WrapProtocolError(err, CodeIncorrectToken, "modification no longer applies to the current token")
		}
		var sealed string
		full, sealed, err = p.countersignRevision(rec.Token, pm.Candidate)
		if err != nil {
			return "", nil, err
		}
		status = ModificationAccepted
		msg.ModificationStatus = status
		msg.Token = sealed
	}

	if _, err := p.exchange(ctx, rec, msg); err != nil {
		reqLogger.Warn("Modification decision not delivered, kept in queue",
			slog.String("transaction_id", id),
			slog.String("error", err.Error()))
		return "", nil, err
	}
	resolved = true

	if full != nil {
		rec.Token = full
	}
	if err := p.saveRecord(ctx, rec); err != nil {
		return "", nil, err
	}

	reqLogger.Info("Modification resolved",
		slog.String("transaction_id", id),
		slog.String("status", string(status)))
	return status, rec.Token, nil
}

// Revoke revokes an issued token at the vendor and forgets it
func (p *Provider) Revoke(ctx context.Context, id string) error {
	if err := p.revoke(ctx, id); err != nil {
		return err
	}
	p.modifications.Delete(id)
	return nil
}
