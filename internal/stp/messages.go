package stp

// messages.go defines the STP wire messages.
//
// Every message is decoded strictly (unknown fields and trailing data are rejected) and validated
// before any protocol logic sees it. A message that fails here is answered with a 400.

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"regexp"

	"github.com/google/uuid"
	"github.com/information-sharing-networks/stp-demo/internal/token"
)

// ProtocolVersion is sent in the Hello
const ProtocolVersion = "v1"

// MaxMessageSize bounds the body read from a peer
const MaxMessageSize = 1 << 20

var (
	bicPattern = regexp.MustCompile(`^[A-Z]{4}[A-Z0-9]{4,7}$`)
	pinPattern = regexp.MustCompile(`^[0-9]{4,8}$`)
)

// Verb is a revision_verb
type Verb string

const (
	VerbRevoke             Verb = "REVOKE"
	VerbRefresh            Verb = "REFRESH"
	VerbModify             Verb = "MODIFY"
	VerbFinishModification Verb = "FINISH_MODIFICATION"
)

// ModificationStatus is the outcome of a MODIFY as reported by the provider
type ModificationStatus string

const (
	ModificationAccepted ModificationStatus = "ACCEPTED"
	ModificationRejected ModificationStatus = "REJECTED"
	ModificationPending  ModificationStatus = "PENDING"
)

// Message is implemented by every wire message
type Message interface {
	Validate() error
}

// ValidateBIC checks the shape of a bank identification code
func ValidateBIC(bic string) error {
	if !bicPattern.MatchString(bic) {
		return NewValidationError(fmt.Sprintf("invalid BIC %q", bic))
	}
	return nil
}

// Hello opens a negotiation. It is sent by the provider to the vendor request URL.
type Hello struct {
	Version       string `json:"version"`
	BankName      string `json:"bank_name"`
	BIC           string `json:"bic"`
	Random        string `json:"random"`
	TransactionID string `json:"transaction_id"`

	// Customer is the provider's opaque customer reference, copied into customer_ref
	Customer string `json:"customer"`

	// URLSignature is a detached JWS over the trailing id of the request URL
	URLSignature string `json:"url_signature"`

	// VerificationPIN is shown to the user by the vendor and entered at the provider
	VerificationPIN string `json:"verification_pin"`
}

func (h *Hello) Validate() error {
	if h.Version != ProtocolVersion {
		return NewValidationError(fmt.Sprintf("unsupported protocol version %q", h.Version))
	}
	if h.BankName == "" {
		return NewValidationError("bank_name is required")
	}
	if err := ValidateBIC(h.BIC); err != nil {
		return err
	}
	if h.Random == "" {
		return NewValidationError("random is required")
	}
	if err := uuid.Validate(h.TransactionID); err != nil {
		return WrapValidationError(err, "transaction_id must be a UUID")
	}
	if h.Customer == "" {
		return NewValidationError("customer is required")
	}
	if h.URLSignature == "" {
		return NewValidationError("url_signature is required")
	}
	if !pinPattern.MatchString(h.VerificationPIN) {
		return NewValidationError("verification_pin must be 4 to 8 digits")
	}
	return nil
}

// VendorInfo is the vendor presentation shown to the user at the provider
type VendorInfo struct {
	Name    string `json:"name"`
	LogoURL string `json:"logo_url"`
	Address string `json:"address"`
}

// OfferSummary restates the terms in the Offer
type OfferSummary struct {
	Amount       token.Amount `json:"amount"`
	CurrencyCode string       `json:"currency_code"`

	// Recurrence is null for a one-off payment
	Recurrence *token.Period `json:"recurrence"`
}

// Offer is the vendor's reply to a Hello
type Offer struct {
	Success        bool         `json:"success"`
	ConfirmationID string       `json:"confirmation_id"`
	ResponseURL    string       `json:"response_url"`
	Vendor         VendorInfo   `json:"vendor"`
	Transaction    OfferSummary `json:"transaction"`
	Token          *token.Token `json:"token"`
}

func (o *Offer) Validate() error {
	if !o.Success {
		return NewValidationError("offer must have success=true")
	}
	if err := uuid.Validate(o.ConfirmationID); err != nil {
		return WrapValidationError(err, "confirmation_id must be a UUID")
	}
	id, err := LastSegment(o.ResponseURL)
	if err != nil {
		return err
	}
	if id != o.ConfirmationID {
		return NewValidationError("response_url does not end with the confirmation_id")
	}
	if o.Vendor.Name == "" {
		return NewValidationError("vendor name is required")
	}
	if o.Token == nil {
		return NewValidationError("token is required")
	}
	if err := o.Token.Validate(); err != nil {
		return WrapValidationError(err, "invalid token")
	}
	return nil
}

// Confirm carries the countersigned token, or the reason the user did not accept the offer
type Confirm struct {
	Allowed        bool         `json:"allowed"`
	Token          *token.Token `json:"token,omitempty"`
	RemediationURL string       `json:"remediation_url,omitempty"`
	ErrorCode      ErrorCode    `json:"error_code,omitempty"`
	ErrorMessage   string       `json:"error_message,omitempty"`
}

func (c *Confirm) Validate() error {
	if !c.Allowed {
		if c.ErrorCode == "" {
			return NewValidationError("error_code is required when allowed=false")
		}
		if c.Token != nil {
			return NewValidationError("token must not be sent when allowed=false")
		}
		return nil
	}
	if c.Token == nil {
		return NewValidationError("token is required")
	}
	if err := c.Token.Validate(); err != nil {
		return WrapValidationError(err, "invalid token")
	}
	if _, err := LastSegment(c.RemediationURL); err != nil {
		return err
	}
	return nil
}

// Ack closes the negotiation. RevisionURL is empty when acknowledging a decline.
type Ack struct {
	Success     bool   `json:"success"`
	RevisionURL string `json:"revision_url,omitempty"`
}

func (a *Ack) Validate() error {
	if !a.Success {
		return NewValidationError("ack must have success=true")
	}
	if a.RevisionURL != "" {
		if _, err := LastSegment(a.RevisionURL); err != nil {
			return err
		}
	}
	return nil
}

// Revise starts a revision exchange
type Revise struct {
	TransactionID string `json:"transaction_id"`
	Challenge     string `json:"challenge"`

	// URLSignature is a detached JWS over the trailing id of the revision URL the message is posted to
	URLSignature string `json:"url_signature"`
	RevisionVerb Verb   `json:"revision_verb"`

	// Sequence is the initiator's revision counter for the transaction; 0 disables duplicate detection
	Sequence uint64 `json:"sequence,omitempty"`

	ModifiedAmount     *token.Amount      `json:"modified_amount,omitempty"`
	ModifiedCurrency   string             `json:"modified_currency,omitempty"`
	ModificationStatus ModificationStatus `json:"modification_status,omitempty"`

	// Token is a token sealed under the currently agreed token
	Token string `json:"token,omitempty"`
}

// Validate checks the envelope only. Unknown verbs are rejected later with UNKNOWN_REVISION_VERB
// so that the rejection can be authenticated.
func (r *Revise) Validate() error {
	if err := uuid.Validate(r.TransactionID); err != nil {
		return WrapValidationError(err, "transaction_id must be a UUID")
	}
	if r.Challenge == "" {
		return NewValidationError("challenge is required")
	}
	if r.URLSignature == "" {
		return NewValidationError("url_signature is required")
	}
	if r.RevisionVerb == "" {
		return NewValidationError("revision_verb is required")
	}

	switch r.RevisionVerb {
	case VerbRefresh:
		if r.Token == "" {
			return NewValidationError("token is required for REFRESH")
		}
	case VerbModify:
		if r.ModifiedAmount == nil {
			return NewValidationError("modified_amount is required for MODIFY")
		}
		if r.Token == "" {
			return NewValidationError("token is required for MODIFY")
		}
		if err := r.Modification().Validate(); err != nil {
			return WrapValidationError(err, "invalid modification")
		}
	case VerbFinishModification:
		switch r.ModificationStatus {
		case ModificationAccepted:
			if r.Token == "" {
				return NewValidationError("token is required for an accepted modification")
			}
		case ModificationRejected:
		default:
			return NewValidationError(fmt.Sprintf("invalid modification_status %q", r.ModificationStatus))
		}
	}
	return nil
}

// Modification returns the proposal carried by a MODIFY
func (r *Revise) Modification() token.Modification {
	m := token.Modification{Currency: r.ModifiedCurrency}
	if r.ModifiedAmount != nil {
		m.Amount = *r.ModifiedAmount
	}
	return m
}

// Response is the reply to a Revise
type Response struct {
	Success bool `json:"success"`

	// Response is the responder's signature over the challenge
	Response           string             `json:"response"`
	Token              string             `json:"token,omitempty"`
	ModificationStatus ModificationStatus `json:"modification_status,omitempty"`
}

func (r *Response) Validate() error {
	if !r.Success {
		return NewValidationError("response must have success=true")
	}
	if r.Response == "" {
		return NewValidationError("response is required")
	}
	switch r.ModificationStatus {
	case "", ModificationAccepted, ModificationRejected, ModificationPending:
	default:
		return NewValidationError(fmt.Sprintf("invalid modification_status %q", r.ModificationStatus))
	}
	return nil
}

// Rejection is the reply to any message that fails a protocol check
type Rejection struct {
	Success      bool      `json:"success"`
	ErrorCode    ErrorCode `json:"error_code"`
	ErrorMessage string    `json:"error_message"`
}

// Decode strictly decodes a single JSON message from r and validates it
func Decode(r io.Reader, msg Message) error {
	decoder := json.NewDecoder(r)
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(msg); err != nil {
		return WrapValidationError(err, "failed to decode message")
	}
	if decoder.More() {
		return NewValidationError("unexpected data after message")
	}
	return msg.Validate()
}

// DecodeBytes is Decode over a byte slice
func DecodeBytes(data []byte, msg Message) error {
	return Decode(bytes.NewReader(data), msg)
}

// rejectionEnvelope is read leniently so that rejections from any conforming peer are recognised
type rejectionEnvelope struct {
	Success      *bool     `json:"success"`
	ErrorCode    ErrorCode `json:"error_code"`
	ErrorMessage string    `json:"error_message"`
}

// asRejection returns the peer's rejection if data is a {success:false} message
func asRejection(data []byte) (*ProtocolError, bool) {
	var env rejectionEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, false
	}
	if env.Success == nil || *env.Success {
		return nil, false
	}
	code := env.ErrorCode
	if code == "" {
		code = "UNKNOWN"
	}
	return &ProtocolError{code: code, message: env.ErrorMessage}, true
}
