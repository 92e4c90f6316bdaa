package stp

// state.go holds the per-party runtime state and the revision exchange shared by both roles.
//
// Every read-modify-write on a transaction runs under the per-transaction lock. The initiator of a
// revision holds its lock for the whole round trip; an inbound request that cannot get the lock
// within LockWait is rejected with REVISION_IN_PROGRESS so that two parties revising the same
// transaction at the same time cannot deadlock.
//
// There is no two-phase commit: if the reply to a revision is lost after the responder applied it,
// the two parties diverge. Sequence numbers make an exact resend detectable so it is answered from
// the cached reply instead of being applied twice. The initiator resends once after a broken
// connection. Past that, its next message reuses the sequence number the responder already
// consumed; the responder takes that as a new exchange when the challenge is new, so revocation
// still works from a side that missed a reply.

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/information-sharing-networks/stp-demo/internal/crypto"
	"github.com/information-sharing-networks/stp-demo/internal/logger"
	"github.com/information-sharing-networks/stp-demo/internal/store"
	"github.com/information-sharing-networks/stp-demo/internal/token"
)

// Role is vendor or provider
type Role string

const (
	RoleVendor   Role = "vendor"
	RoleProvider Role = "provider"
)

// Options are the dependencies shared by both roles
type Options struct {
	// PublicHost is the host[:port] used in the stp:// URLs this party hands out
	PublicHost string

	Signer     crypto.Signer
	Repository store.Repository
	Client     *Client

	// LockWait bounds how long an inbound request waits for a transaction held by another exchange
	LockWait time.Duration

	Logger *slog.Logger

	// Now defaults to time.Now
	Now func() time.Time
}

// party is the runtime common to the vendor and the provider
type party struct {
	role       Role
	publicHost string
	signer     crypto.Signer
	repo       store.Repository
	client     *Client
	locks      *store.KeyedMutex
	lockWait   time.Duration
	logger     *slog.Logger
	now        func() time.Time
}

func newParty(role Role, opts Options) (*party, error) {
	if opts.Signer == nil {
		return nil, NewInternalError("signer is required")
	}
	if opts.Repository == nil {
		return nil, NewInternalError("repository is required")
	}
	if opts.Client == nil {
		return nil, NewInternalError("client is required")
	}
	if opts.PublicHost == "" {
		return nil, NewInternalError("public host is required")
	}

	p := &party{
		role:       role,
		publicHost: opts.PublicHost,
		signer:     opts.Signer,
		repo:       opts.Repository,
		client:     opts.Client,
		locks:      store.NewKeyedMutex(),
		lockWait:   opts.LockWait,
		logger:     opts.Logger,
		now:        opts.Now,
	}
	if p.lockWait <= 0 {
		p.lockWait = 2 * time.Second
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	if p.now == nil {
		p.now = time.Now
	}
	return p, nil
}

// lock takes the transaction lock, waiting at most lockWait
func (p *party) lock(ctx context.Context, id string) (func(), error) {
	ctx, cancel := context.WithTimeout(ctx, p.lockWait)
	defer cancel()

	unlock, err := p.locks.Lock(ctx, id)
	if err != nil {
		return nil, WrapProtocolError(err, CodeRevisionInProgress, "another exchange is in progress for this transaction")
	}
	return unlock, nil
}

// counterpartyKey is the portable key of the other party in the token
func (p *party) counterpartyKey(t *token.Token) string {
	if p.role == RoleVendor {
		return t.Signatures.ProviderKey
	}
	return t.Signatures.VendorKey
}

// record loads an issued record; a missing id is ID_NOT_FOUND
func (p *party) record(ctx context.Context, id string) (*store.IssuedRecord, error) {
	rec, err := p.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, NewProtocolError(CodeIDNotFound, "no issued token with this transaction id")
		}
		return nil, WrapInternalError(err, "failed to load issued token")
	}
	return rec, nil
}

// ListTokens returns every issued record held by this party
func (p *party) ListTokens(ctx context.Context) ([]*store.IssuedRecord, error) {
	recs, err := p.repo.List(ctx)
	if err != nil {
		return nil, WrapInternalError(err, "failed to list issued tokens")
	}
	return recs, nil
}

// GetToken returns the issued record for id
func (p *party) GetToken(ctx context.Context, id string) (*store.IssuedRecord, error) {
	return p.record(ctx, id)
}

// storeIssued persists a newly issued token
func (p *party) storeIssued(ctx context.Context, t *token.Token, peerURL, inboundID string) error {
	unlock, err := p.lock(ctx, t.Transaction.ID)
	if err != nil {
		return err
	}
	defer unlock()

	rec := &store.IssuedRecord{
		Token:       t,
		PeerURL:     peerURL,
		InboundID:   inboundID,
		Fingerprint: token.Fingerprint(t),
		UpdatedAt:   p.now().UTC(),
	}
	if err := p.repo.Put(ctx, rec); err != nil {
		return WrapInternalError(err, "failed to store issued token")
	}
	return nil
}

// saveRecord persists rec after an exchange
func (p *party) saveRecord(ctx context.Context, rec *store.IssuedRecord) error {
	rec.Fingerprint = token.Fingerprint(rec.Token)
	rec.UpdatedAt = p.now().UTC()
	if err := p.repo.Put(ctx, rec); err != nil {
		return WrapInternalError(err, "failed to store issued token")
	}
	return nil
}

// revisionResult is what a verb handler decided
type revisionResult struct {
	reply   *Response
	revoked bool
}

// verbHandler applies a verified Revise to rec (in place) and returns the reply to send
type verbHandler func(ctx context.Context, rec *store.IssuedRecord, msg *Revise) (*revisionResult, error)

// respond runs the responder side of a revision exchange. Checks are made in this order:
//  1. the transaction exists (ID_NOT_FOUND)
//  2. the message was posted to the URL handed out for this transaction and url_signature verifies
//     with the counterparty key in the token (INVALID_SIGNATURE)
//  3. the sequence number is fresh, or an exact duplicate which is answered from the cache, or the
//     sequence of the last reply with a new challenge from an initiator that lost it (STALE_SEQUENCE)
//  4. the verb is known to this role (UNKNOWN_REVISION_VERB)
//  5. the verb-specific checks
func (p *party) respond(ctx context.Context, inboundID string, msg *Revise, handlers map[Verb]verbHandler) (json.RawMessage, error) {
	reqLogger := logger.ContextRequestLogger(ctx)
	id := msg.TransactionID

	unlock, err := p.lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	// 1. transaction
	rec, err := p.record(ctx, id)
	if err != nil {
		return nil, err
	}

	// 2. url and signature
	if inboundID != rec.InboundID {
		return nil, NewProtocolError(CodeInvalidSignature, "revision URL does not belong to this transaction")
	}
	if err := crypto.VerifySignature(msg.URLSignature, []byte(inboundID), p.counterpartyKey(rec.Token)); err != nil {
		return nil, WrapProtocolError(err, CodeInvalidSignature, "url_signature does not verify")
	}

	// 3. sequence
	if msg.Sequence > 0 {
		last := rec.LastReply
		lastAnswered := last != nil && last.Sequence == msg.Sequence && msg.Sequence == rec.Sequence
		switch {
		case lastAnswered && last.Challenge == msg.Challenge:
			reqLogger.Info("Duplicate revision answered from cache",
				slog.String("transaction_id", id),
				slog.Uint64("sequence", msg.Sequence))
			return last.Reply, nil
		case lastAnswered:
			reqLogger.Warn("Peer reused the last sequence number, its previous reply was lost",
				slog.String("transaction_id", id),
				slog.Uint64("sequence", msg.Sequence))
		case msg.Sequence <= rec.Sequence:
			return nil, NewProtocolError(CodeStaleSequence, "revision sequence number was already used")
		}
	}

	// 4. verb
	handle, ok := handlers[msg.RevisionVerb]
	if !ok {
		return nil, NewProtocolError(CodeUnknownRevisionVerb, "Unsupported revision_verb")
	}

	// 5. verb checks and apply
	result, err := handle(ctx, rec, msg)
	if err != nil {
		return nil, err
	}

	signed, err := crypto.RespondToChallenge(msg.Challenge, p.signer)
	if err != nil {
		return nil, WrapValidationError(err, "invalid challenge")
	}
	result.reply.Success = true
	result.reply.Response = signed

	reply, err := json.Marshal(result.reply)
	if err != nil {
		return nil, WrapInternalError(err, "failed to encode reply")
	}

	if result.revoked {
		if err := p.repo.Delete(ctx, id); err != nil {
			return nil, WrapInternalError(err, "failed to delete revoked token")
		}
	} else {
		if msg.Sequence > 0 {
			rec.Sequence = msg.Sequence
			rec.LastReply = &store.CachedReply{Sequence: msg.Sequence, Challenge: msg.Challenge, Reply: reply}
		}
		if err := p.saveRecord(ctx, rec); err != nil {
			return nil, err
		}
	}

	reqLogger.Info("Revision applied",
		slog.String("transaction_id", id),
		slog.String("verb", string(msg.RevisionVerb)),
		slog.Uint64("sequence", msg.Sequence),
		slog.Bool("revoked", result.revoked))

	return reply, nil
}

// exchange sends a Revise for rec to the peer and authenticates the reply. The caller holds the lock.
//
// The message is completed with the transaction id, a fresh challenge, the signature over the peer's
// URL id and the next sequence number. If the connection breaks the identical message is sent once
// more, a responder that already applied it answers from its cache. A reply is accepted only if its
// challenge signature verifies with the counterparty key (AUTH_FAILED).
func (p *party) exchange(ctx context.Context, rec *store.IssuedRecord, msg *Revise) (*Response, error) {
	peerID, err := LastSegment(rec.PeerURL)
	if err != nil {
		return nil, WrapInternalError(err, "stored peer URL is invalid")
	}

	urlSignature, err := p.signer.Sign([]byte(peerID))
	if err != nil {
		return nil, WrapInternalError(err, "failed to sign peer URL")
	}
	challenge, err := crypto.NewChallenge()
	if err != nil {
		return nil, WrapInternalError(err, "failed to create challenge")
	}

	msg.TransactionID = rec.ID()
	msg.Challenge = challenge
	msg.URLSignature = urlSignature
	msg.Sequence = rec.Sequence + 1

	var reply Response
	err = p.client.Post(ctx, rec.PeerURL, msg, &reply)
	if lostReply(err) && ctx.Err() == nil {
		logger.ContextRequestLogger(ctx).Warn("Resending revision after a broken exchange",
			slog.String("transaction_id", msg.TransactionID),
			slog.Uint64("sequence", msg.Sequence),
			slog.String("error", err.Error()))
		err = p.client.Post(ctx, rec.PeerURL, msg, &reply)
	}
	if err != nil {
		return nil, err
	}

	if err := crypto.VerifyChallengeResponse(challenge, reply.Response, p.counterpartyKey(rec.Token)); err != nil {
		return nil, WrapProtocolError(err, CodeAuthFailed, "challenge response does not verify")
	}

	rec.Sequence = msg.Sequence
	return &reply, nil
}

// revoke is the initiator side of REVOKE, available to both roles
func (p *party) revoke(ctx context.Context, id string) error {
	reqLogger := logger.ContextRequestLogger(ctx)

	unlock, err := p.lock(ctx, id)
	if err != nil {
		return err
	}
	defer unlock()

	rec, err := p.record(ctx, id)
	if err != nil {
		return err
	}

	if _, err := p.exchange(ctx, rec, &Revise{RevisionVerb: VerbRevoke}); err != nil {
		return err
	}

	if err := p.repo.Delete(ctx, id); err != nil {
		return WrapInternalError(err, "failed to delete revoked token")
	}

	reqLogger.Info("Token revoked", slog.String("transaction_id", id), slog.String("role", string(p.role)))
	return nil
}

// handleRevoke is the responder side of REVOKE
func handleRevoke(_ context.Context, _ *store.IssuedRecord, _ *Revise) (*revisionResult, error) {
	return &revisionResult{reply: &Response{}, revoked: true}, nil
}

// openRevision decrypts a token sealed under the agreed token
func openRevision(agreed *token.Token, sealed string) (*token.Token, error) {
	t, err := token.Open(agreed, sealed)
	if err != nil {
		return nil, WrapProtocolError(err, CodeIncorrectToken, "token could not be decrypted with the agreed token")
	}
	return t, nil
}

// checkCountersigned verifies a token returned countersigned by the provider during a revision:
// both signatures verify, the vendor key is ours and the provider key is the one already agreed.
func checkCountersigned(agreed, t *token.Token) error {
	if err := token.VerifyFullyIssued(t); err != nil {
		return WrapProtocolError(err, CodeIncorrectTokenSign, "revised token is not signed properly")
	}
	if t.Signatures.VendorKey != agreed.Signatures.VendorKey {
		return NewProtocolError(CodeIncorrectTokenSign, "revised token carries a different vendor key")
	}
	if t.Signatures.ProviderKey != agreed.Signatures.ProviderKey {
		return NewProtocolError(CodeIncorrectTokenSign, "revised token carries a different provider key")
	}
	return nil
}
