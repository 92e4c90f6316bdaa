// Package token implements the STP transaction token: the transaction record, the dual-signature
// envelope, the recurrence schedule and the equivalence rules used to validate revisions.
//
// A token is signed twice. The vendor signs the canonical form of {metadata, transaction};
// the provider then signs {metadata, transaction, signatures: {vendor, vendor_key, signed_at}}.
// Canonical forms are JCS (RFC 8785) over the typed structs in this file.
package token

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/information-sharing-networks/stp-demo/internal/crypto"
)

const (
	// MetadataVersion is the token format version
	MetadataVersion = 1

	// MetadataHashAlg names the fingerprint hash
	MetadataHashAlg = "sha512"

	// MetadataEnc names the revision cipher
	MetadataEnc = "cshake256,aes256gcm"
)

// Metadata identifies the token format and algorithms.
// Sig is the JWS algorithm of the vendor signature.
type Metadata struct {
	Version int    `json:"version"`
	Alg     string `json:"alg"`
	Enc     string `json:"enc"`
	Sig     string `json:"sig"`
}

// NewMetadata returns the metadata for a token signed with alg
func NewMetadata(alg crypto.Algorithm) Metadata {
	return Metadata{
		Version: MetadataVersion,
		Alg:     MetadataHashAlg,
		Enc:     MetadataEnc,
		Sig:     string(alg),
	}
}

// Recurrence schedules a recurring transaction.
//
// NextOccurrence is Period applied to the previous NextOccurrence (CreatedAt for cycle 0).
type Recurrence struct {
	Period         Period    `json:"period"`
	NextOccurrence Timestamp `json:"next_occurrence"`
	CycleIndex     uint64    `json:"cycle_index"`
}

// Transaction is the record both parties sign.
// A signed transaction is never modified; revisions build a new one.
type Transaction struct {
	ID          string      `json:"id"`
	ProviderBIC string      `json:"provider_bic"`
	Amount      Amount      `json:"amount"`
	Currency    string      `json:"currency"`
	CreatedAt   Timestamp   `json:"created_at"`
	Expiry      Timestamp   `json:"expiry"`
	CustomerRef string      `json:"customer_ref"`
	Recurring   *Recurrence `json:"recurring"`
}

// Signatures holds the vendor signature and, once countersigned, the provider signature.
// The keys are portable public keys (see crypto.EncodePortableKey).
type Signatures struct {
	Vendor      string     `json:"vendor"`
	VendorKey   string     `json:"vendor_key"`
	Provider    string     `json:"provider,omitempty"`
	ProviderKey string     `json:"provider_key,omitempty"`
	SignedAt    *Timestamp `json:"signed_at,omitempty"`
}

// Token is the STP transaction token
type Token struct {
	Metadata    Metadata    `json:"metadata"`
	Transaction Transaction `json:"transaction"`
	Signatures  Signatures  `json:"signatures"`
}

// vendorPayload is what the vendor signs
type vendorPayload struct {
	Metadata    Metadata    `json:"metadata"`
	Transaction Transaction `json:"transaction"`
}

// vendorSignatures is the signatures object covered by the provider signature
type vendorSignatures struct {
	Vendor    string     `json:"vendor"`
	VendorKey string     `json:"vendor_key"`
	SignedAt  *Timestamp `json:"signed_at,omitempty"`
}

// providerPayload is what the provider signs
type providerPayload struct {
	Metadata    Metadata         `json:"metadata"`
	Transaction Transaction      `json:"transaction"`
	Signatures  vendorSignatures `json:"signatures"`
}

func (t *Token) vendorSigningInput() ([]byte, error) {
	return crypto.Canonicalize(vendorPayload{Metadata: t.Metadata, Transaction: t.Transaction})
}

func (t *Token) providerSigningInput() ([]byte, error) {
	return crypto.Canonicalize(providerPayload{
		Metadata:    t.Metadata,
		Transaction: t.Transaction,
		Signatures: vendorSignatures{
			Vendor:    t.Signatures.Vendor,
			VendorKey: t.Signatures.VendorKey,
			SignedAt:  t.Signatures.SignedAt,
		},
	})
}

// Clone returns a deep copy of the token
func (t *Token) Clone() *Token {
	c := *t
	c.Transaction = t.Transaction.Clone()
	if t.Signatures.SignedAt != nil {
		signedAt := *t.Signatures.SignedAt
		c.Signatures.SignedAt = &signedAt
	}
	return &c
}

// Clone returns a deep copy of the transaction
func (tx Transaction) Clone() Transaction {
	c := tx
	if tx.Recurring != nil {
		r := *tx.Recurring
		c.Recurring = &r
	}
	return c
}

// Validate checks the transaction fields. It does not check signatures.
func (tx Transaction) Validate() error {
	if err := uuid.Validate(tx.ID); err != nil {
		return WrapInvalidError(err, "transaction id must be a UUID")
	}
	if tx.ProviderBIC == "" {
		return NewInvalidError("provider_bic is required")
	}
	if !tx.Amount.Decimal().IsPositive() {
		return NewInvalidError("amount must be positive")
	}
	if err := ValidateCurrency(tx.Currency); err != nil {
		return err
	}
	if tx.CreatedAt.IsZero() {
		return NewInvalidError("created_at is required")
	}
	if tx.Expiry.Before(tx.CreatedAt) {
		return NewInvalidError("expiry is before created_at")
	}
	if tx.Recurring != nil {
		if !tx.Recurring.Period.Valid() {
			return NewInvalidError(fmt.Sprintf("unknown recurrence period %q", tx.Recurring.Period))
		}
		if !tx.CreatedAt.Before(tx.Recurring.NextOccurrence) {
			return NewInvalidError("next_occurrence must be after created_at")
		}
	}
	return nil
}

// Validate checks the transaction, the metadata and that a vendor signature is present
func (t *Token) Validate() error {
	if t.Metadata.Version != MetadataVersion {
		return NewInvalidError(fmt.Sprintf("unsupported token version %d", t.Metadata.Version))
	}
	if t.Metadata.Alg != MetadataHashAlg || t.Metadata.Enc != MetadataEnc {
		return NewInvalidError(fmt.Sprintf("unsupported token algorithms %s/%s", t.Metadata.Alg, t.Metadata.Enc))
	}
	if err := t.Transaction.Validate(); err != nil {
		return err
	}
	if t.Signatures.Vendor == "" || t.Signatures.VendorKey == "" {
		return NewInvalidError("vendor signature is required")
	}
	if (t.Signatures.Provider == "") != (t.Signatures.ProviderKey == "") {
		return NewInvalidError("provider signature and provider key must be set together")
	}
	return nil
}

// Encode returns the canonical JSON of the token
func Encode(t *Token) ([]byte, error) {
	return crypto.Canonicalize(t)
}

// Decode parses a token strictly: unknown fields, non-canonical amounts and timestamps
// and invalid transactions are rejected.
func Decode(data []byte) (*Token, error) {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()

	var t Token
	if err := decoder.Decode(&t); err != nil {
		return nil, WrapInvalidError(err, "failed to decode token")
	}
	if decoder.More() {
		return nil, NewInvalidError("unexpected data after token")
	}

	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

// Fingerprint is the SHA-512 hash of the provider signature.
// It identifies the agreed version of a token.
func Fingerprint(t *Token) string {
	if t.Signatures.Provider == "" {
		return ""
	}
	return crypto.Hash([]byte(t.Signatures.Provider))
}
