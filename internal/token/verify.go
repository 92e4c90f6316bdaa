package token

import (
	"bytes"

	"github.com/information-sharing-networks/stp-demo/internal/crypto"
)

// VerifyVendorSignature re-derives the vendor signing input and checks it against signatures.vendor_key
func VerifyVendorSignature(t *Token) error {
	if t.Signatures.Vendor == "" || t.Signatures.VendorKey == "" {
		return NewSignatureError("token has no vendor signature")
	}

	payload, err := t.vendorSigningInput()
	if err != nil {
		return WrapInternalError(err, "failed to canonicalize vendor payload")
	}

	header, err := crypto.ParseHeader(t.Signatures.Vendor)
	if err != nil {
		return WrapSignatureError(err, "malformed vendor signature")
	}
	if header.Algorithm != t.Metadata.Sig {
		return NewSignatureError("vendor signature algorithm does not match the token metadata")
	}

	if err := crypto.VerifySignature(t.Signatures.Vendor, payload, t.Signatures.VendorKey); err != nil {
		return WrapSignatureError(err, "vendor signature verification failed")
	}
	return nil
}

// VerifyProviderSignature checks the provider signature over the token without the provider fields
func VerifyProviderSignature(t *Token) error {
	if t.Signatures.Provider == "" || t.Signatures.ProviderKey == "" {
		return NewSignatureError("token has no provider signature")
	}
	if t.Signatures.SignedAt == nil {
		return NewSignatureError("countersigned token has no signed_at")
	}

	payload, err := t.providerSigningInput()
	if err != nil {
		return WrapInternalError(err, "failed to canonicalize provider payload")
	}

	if err := crypto.VerifySignature(t.Signatures.Provider, payload, t.Signatures.ProviderKey); err != nil {
		return WrapSignatureError(err, "provider signature verification failed")
	}
	return nil
}

// VerifyFullyIssued checks both signatures
func VerifyFullyIssued(t *Token) error {
	if err := VerifyVendorSignature(t); err != nil {
		return err
	}
	return VerifyProviderSignature(t)
}

func IsFullyIssued(t *Token) bool {
	return VerifyFullyIssued(t) == nil
}

// SameVendorIssuance reports whether b carries exactly the vendor-signed content of a:
// metadata, transaction and the vendor signature fields. The provider fields are ignored.
func SameVendorIssuance(a, b *Token) bool {
	ca, err := a.vendorIssuance()
	if err != nil {
		return false
	}
	cb, err := b.vendorIssuance()
	if err != nil {
		return false
	}
	return bytes.Equal(ca, cb)
}

func (t *Token) vendorIssuance() ([]byte, error) {
	return crypto.Canonicalize(struct {
		Metadata    Metadata    `json:"metadata"`
		Transaction Transaction `json:"transaction"`
		Vendor      string      `json:"vendor"`
		VendorKey   string      `json:"vendor_key"`
	}{t.Metadata, t.Transaction, t.Signatures.Vendor, t.Signatures.VendorKey})
}

// sameContent compares two (metadata, transaction) pairs on their canonical bytes
func sameContent(m1 Metadata, tx1 Transaction, m2 Metadata, tx2 Transaction) (bool, error) {
	c1, err := crypto.Canonicalize(vendorPayload{Metadata: m1, Transaction: tx1})
	if err != nil {
		return false, err
	}
	c2, err := crypto.Canonicalize(vendorPayload{Metadata: m2, Transaction: tx2})
	if err != nil {
		return false, err
	}
	return bytes.Equal(c1, c2), nil
}

// CheckRefresh returns nil when next is a legal refresh of prev:
//   - both are recurring with the same period
//   - cycle_index increased by exactly one
//   - next_occurrence is the period applied to the previous next_occurrence
//   - expiry did not move backwards
//   - every other metadata and transaction field is unchanged
//
// Signatures are not checked here.
func CheckRefresh(prev, next *Token) error {
	pr, nr := prev.Transaction.Recurring, next.Transaction.Recurring
	if pr == nil || nr == nil {
		return ErrNonRecurring
	}
	if pr.Period != nr.Period {
		return NewNotEquivalentError("recurrence period changed")
	}
	if nr.CycleIndex != pr.CycleIndex+1 {
		return NewNotEquivalentError("cycle_index must increase by exactly one")
	}

	want, err := Next(pr.NextOccurrence, pr.Period)
	if err != nil {
		return err
	}
	if !nr.NextOccurrence.Equal(want) {
		return NewNotEquivalentError("next_occurrence does not follow the schedule")
	}
	if next.Transaction.Expiry.Before(prev.Transaction.Expiry) {
		return NewNotEquivalentError("expiry moved backwards")
	}

	// with the legitimately changing fields copied over, the rest must be identical
	normalized := next.Transaction.Clone()
	normalized.Expiry = prev.Transaction.Expiry
	normalized.Recurring = pr

	same, err := sameContent(prev.Metadata, prev.Transaction, next.Metadata, normalized)
	if err != nil {
		return WrapInternalError(err, "failed to compare tokens")
	}
	if !same {
		return NewNotEquivalentError("refresh changed fields other than expiry and recurrence")
	}
	return nil
}

func IsValidRefresh(prev, next *Token) bool {
	return CheckRefresh(prev, next) == nil
}

// CheckModification returns nil when next equals prev with the proposal substituted and nothing else changed
func CheckModification(prev, next *Token, proposal Modification) error {
	if err := proposal.Validate(); err != nil {
		return err
	}

	same, err := sameContent(prev.Metadata, proposal.apply(prev.Transaction), next.Metadata, next.Transaction)
	if err != nil {
		return WrapInternalError(err, "failed to compare tokens")
	}
	if !same {
		return NewNotEquivalentError("modified token does not match the proposal")
	}
	return nil
}

func IsValidModification(prev, next *Token, proposal Modification) bool {
	return CheckModification(prev, next, proposal) == nil
}

// KeyMaterial derives the revision cipher key material from the agreed token
func KeyMaterial(agreed *Token) (crypto.KeyMaterial, error) {
	return crypto.DeriveKeyMaterial(agreed)
}

// Seal encrypts t under the key material of the agreed token
func Seal(agreed, t *Token) (string, error) {
	km, err := KeyMaterial(agreed)
	if err != nil {
		return "", err
	}
	data, err := Encode(t)
	if err != nil {
		return "", WrapInternalError(err, "failed to encode token")
	}
	return km.Encrypt(data)
}

// Open decrypts and strictly decodes a token sealed under the agreed token
func Open(agreed *Token, ciphertext string) (*Token, error) {
	km, err := KeyMaterial(agreed)
	if err != nil {
		return nil, err
	}
	data, err := km.Decrypt(ciphertext)
	if err != nil {
		return nil, err
	}
	return Decode(data)
}
