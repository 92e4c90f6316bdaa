package token

import (
	"fmt"
	"time"

	"github.com/information-sharing-networks/stp-demo/internal/crypto"
)

// DefaultValidity is how long a newly created transaction stays valid
const DefaultValidity = 365 * 24 * time.Hour

// Terms are the parts of a transaction chosen by the vendor when it creates a request
type Terms struct {
	Amount   Amount `json:"amount"`
	Currency string `json:"currency"`

	// Period is empty for a one-off payment
	Period Period `json:"period,omitempty"`
}

func (t Terms) Validate() error {
	if !t.Amount.Decimal().IsPositive() {
		return NewInvalidError("amount must be positive")
	}
	if err := ValidateCurrency(t.Currency); err != nil {
		return err
	}
	if t.Period != "" && !t.Period.Valid() {
		return NewInvalidError(fmt.Sprintf("unknown recurrence period %q", t.Period))
	}
	return nil
}

// Modification is a proposed change to the amount (and optionally the currency) of an issued token
type Modification struct {
	Amount   Amount `json:"amount"`
	Currency string `json:"currency,omitempty"`
}

func (m Modification) Validate() error {
	if !m.Amount.Decimal().IsPositive() {
		return NewInvalidError("modified amount must be positive")
	}
	if m.Currency != "" {
		return ValidateCurrency(m.Currency)
	}
	return nil
}

// apply returns tx with the modification substituted
func (m Modification) apply(tx Transaction) Transaction {
	c := tx.Clone()
	c.Amount = m.Amount
	if m.Currency != "" {
		c.Currency = m.Currency
	}
	return c
}

// NewTransaction builds the transaction record for a new token.
// id is chosen by the provider and carried in the Hello.
func NewTransaction(id, providerBIC, customerRef string, terms Terms, now time.Time) (Transaction, error) {
	if err := terms.Validate(); err != nil {
		return Transaction{}, err
	}

	createdAt := NewTimestamp(now)
	tx := Transaction{
		ID:          id,
		ProviderBIC: providerBIC,
		Amount:      terms.Amount,
		Currency:    terms.Currency,
		CreatedAt:   createdAt,
		Expiry:      NewTimestamp(now.Add(DefaultValidity)),
		CustomerRef: customerRef,
	}

	if terms.Period != "" {
		r, err := NewRecurrence(terms.Period, createdAt)
		if err != nil {
			return Transaction{}, err
		}
		tx.Recurring = r
	}

	if err := tx.Validate(); err != nil {
		return Transaction{}, err
	}
	return tx, nil
}

// IssueVendorToken signs {metadata, transaction} and returns a token carrying only the vendor signature
func IssueVendorToken(tx Transaction, signer crypto.Signer) (*Token, error) {
	if err := tx.Validate(); err != nil {
		return nil, err
	}

	t := &Token{
		Metadata:    NewMetadata(signer.Algorithm()),
		Transaction: tx.Clone(),
	}

	payload, err := t.vendorSigningInput()
	if err != nil {
		return nil, WrapInternalError(err, "failed to canonicalize vendor payload")
	}

	sig, err := signer.Sign(payload)
	if err != nil {
		return nil, WrapInternalError(err, "failed to sign vendor payload")
	}

	t.Signatures = Signatures{
		Vendor:    sig,
		VendorKey: signer.PublicKey(),
	}
	return t, nil
}

// CounterSign stamps signed_at and adds the provider signature.
// A token that already carries a provider signature is rejected with ErrAlreadySigned.
func CounterSign(t *Token, signer crypto.Signer, now time.Time) (*Token, error) {
	if t.Signatures.Provider != "" || t.Signatures.ProviderKey != "" {
		return nil, ErrAlreadySigned
	}

	c := t.Clone()
	signedAt := NewTimestamp(now)
	c.Signatures.SignedAt = &signedAt

	payload, err := c.providerSigningInput()
	if err != nil {
		return nil, WrapInternalError(err, "failed to canonicalize provider payload")
	}

	sig, err := signer.Sign(payload)
	if err != nil {
		return nil, WrapInternalError(err, "failed to sign provider payload")
	}

	c.Signatures.Provider = sig
	c.Signatures.ProviderKey = signer.PublicKey()
	return c, nil
}

// Refresh builds the next cycle of a recurring token: expiry and next_occurrence advance by one
// period, cycle_index increments and the result is re-signed by the vendor only.
func Refresh(t *Token, signer crypto.Signer) (*Token, error) {
	if t.Transaction.Recurring == nil {
		return nil, ErrNonRecurring
	}

	tx := t.Transaction.Clone()

	expiry, err := Next(tx.Expiry, tx.Recurring.Period)
	if err != nil {
		return nil, err
	}
	next, err := tx.Recurring.Advance()
	if err != nil {
		return nil, err
	}

	tx.Expiry = expiry
	tx.Recurring = &next

	return IssueVendorToken(tx, signer)
}

// Modify builds a vendor-signed successor of t with the modification applied
func Modify(t *Token, m Modification, signer crypto.Signer) (*Token, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return IssueVendorToken(m.apply(t.Transaction), signer)
}
