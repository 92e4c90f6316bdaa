package token

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/information-sharing-networks/stp-demo/internal/crypto"
)

func newTestSigner(t *testing.T) crypto.Signer {
	t.Helper()
	pk, err := crypto.GenerateEd25519KeyPair()
	if err != nil {
		t.Fatalf("GenerateEd25519KeyPair() error = %v", err)
	}
	s, err := crypto.NewEd25519Signer(pk)
	if err != nil {
		t.Fatalf("NewEd25519Signer() error = %v", err)
	}
	return s
}

var testNow = time.Date(2025, 1, 31, 8, 30, 0, 0, time.UTC)

func newTestTransaction(t *testing.T, period Period) Transaction {
	t.Helper()
	tx, err := NewTransaction(uuid.NewString(), "TESTGB2L", "customer-42", Terms{
		Amount:   MustAmount("19.99"),
		Currency: "GBP",
		Period:   period,
	}, testNow)
	if err != nil {
		t.Fatalf("NewTransaction() error = %v", err)
	}
	return tx
}

// issue a fully signed token
func newIssuedToken(t *testing.T, period Period, vendor, provider crypto.Signer) *Token {
	t.Helper()
	vt, err := IssueVendorToken(newTestTransaction(t, period), vendor)
	if err != nil {
		t.Fatalf("IssueVendorToken() error = %v", err)
	}
	ft, err := CounterSign(vt, provider, testNow.Add(time.Minute))
	if err != nil {
		t.Fatalf("CounterSign() error = %v", err)
	}
	return ft
}

func TestNewTransaction(t *testing.T) {
	tx := newTestTransaction(t, PeriodMonthly)

	if tx.CreatedAt.String() != "2025-01-31T08:30:00.000Z" {
		t.Errorf("CreatedAt = %s", tx.CreatedAt)
	}
	if want := NewTimestamp(testNow.Add(DefaultValidity)); !tx.Expiry.Equal(want) {
		t.Errorf("Expiry = %s, want %s", tx.Expiry, want)
	}
	if tx.Recurring == nil || tx.Recurring.CycleIndex != 0 {
		t.Fatalf("expected a recurrence at cycle 0, got %+v", tx.Recurring)
	}
	// 31 January 2025 + 1 month overflows to 3 March
	if tx.Recurring.NextOccurrence.String() != "2025-03-03T08:30:00.000Z" {
		t.Errorf("NextOccurrence = %s", tx.Recurring.NextOccurrence)
	}

	oneOff := newTestTransaction(t, "")
	if oneOff.Recurring != nil {
		t.Errorf("one-off transaction has a recurrence")
	}

	if _, err := NewTransaction("not-a-uuid", "TESTGB2L", "", Terms{Amount: MustAmount("1"), Currency: "GBP"}, testNow); err == nil {
		t.Errorf("expected an error for a non-UUID id")
	}
	if _, err := NewTransaction(uuid.NewString(), "TESTGB2L", "", Terms{Amount: MustAmount("1"), Currency: "pounds"}, testNow); err == nil {
		t.Errorf("expected an error for an invalid currency")
	}
}

func TestVendorSignature(t *testing.T) {
	vendor := newTestSigner(t)

	tok, err := IssueVendorToken(newTestTransaction(t, ""), vendor)
	if err != nil {
		t.Fatalf("IssueVendorToken() error = %v", err)
	}

	if err := VerifyVendorSignature(tok); err != nil {
		t.Fatalf("VerifyVendorSignature() error = %v", err)
	}
	if tok.Signatures.Provider != "" || tok.Signatures.SignedAt != nil {
		t.Errorf("vendor token carries provider fields")
	}
	if IsFullyIssued(tok) {
		t.Errorf("vendor-only token reported as fully issued")
	}

	tamper := []struct {
		name   string
		mutate func(*Token)
	}{
		{"amount", func(tk *Token) { tk.Transaction.Amount = MustAmount("19.98") }},
		{"currency", func(tk *Token) { tk.Transaction.Currency = "EUR" }},
		{"id", func(tk *Token) { tk.Transaction.ID = uuid.NewString() }},
		{"customer_ref", func(tk *Token) { tk.Transaction.CustomerRef = "customer-43" }},
		{"expiry", func(tk *Token) { tk.Transaction.Expiry = NewTimestamp(tk.Transaction.Expiry.Time().Add(time.Millisecond)) }},
		{"metadata", func(tk *Token) { tk.Metadata.Enc = "none" }},
		{"vendor key", func(tk *Token) { tk.Signatures.VendorKey = newTestSigner(t).PublicKey() }},
	}

	for _, tt := range tamper {
		t.Run(tt.name, func(t *testing.T) {
			c := tok.Clone()
			tt.mutate(c)
			if err := VerifyVendorSignature(c); err == nil {
				t.Errorf("tampered %s still verifies", tt.name)
			}
		})
	}

	if err := VerifyVendorSignature(tok); err != nil {
		t.Errorf("original token no longer verifies after tampering with clones: %v", err)
	}
}

func TestCounterSign(t *testing.T) {
	vendor, provider := newTestSigner(t), newTestSigner(t)
	tok := newIssuedToken(t, PeriodMonthly, vendor, provider)

	if err := VerifyFullyIssued(tok); err != nil {
		t.Fatalf("VerifyFullyIssued() error = %v", err)
	}
	if tok.Signatures.SignedAt == nil || tok.Signatures.SignedAt.String() != "2025-01-31T08:31:00.000Z" {
		t.Errorf("signed_at = %v", tok.Signatures.SignedAt)
	}

	t.Run("already signed", func(t *testing.T) {
		_, err := CounterSign(tok, provider, testNow)
		if !errors.Is(err, ErrAlreadySigned) {
			t.Errorf("CounterSign() error = %v, want ErrAlreadySigned", err)
		}
	})

	// the two signatures fail independently
	t.Run("bad provider signature leaves the vendor signature valid", func(t *testing.T) {
		c := tok.Clone()
		c.Signatures.Provider = newIssuedToken(t, PeriodMonthly, vendor, provider).Signatures.Provider
		if err := VerifyVendorSignature(c); err != nil {
			t.Errorf("VerifyVendorSignature() error = %v", err)
		}
		if err := VerifyProviderSignature(c); err == nil {
			t.Errorf("provider signature from another token verified")
		}
	})

	t.Run("provider signature covers signed_at", func(t *testing.T) {
		c := tok.Clone()
		later := NewTimestamp(testNow.Add(time.Hour))
		c.Signatures.SignedAt = &later
		if err := VerifyProviderSignature(c); err == nil {
			t.Errorf("modified signed_at still verifies")
		}
	})

	t.Run("provider signature covers the vendor signature", func(t *testing.T) {
		c := tok.Clone()
		sig, err := vendor.Sign([]byte("something else"))
		if err != nil {
			t.Fatalf("Sign() error = %v", err)
		}
		c.Signatures.Vendor = sig
		if err := VerifyProviderSignature(c); err == nil {
			t.Errorf("modified vendor signature did not break the provider signature")
		}
	})
}

func TestEncodeDecode(t *testing.T) {
	tok := newIssuedToken(t, PeriodQuarterly, newTestSigner(t), newTestSigner(t))

	first, err := Encode(tok)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	decoded, err := Decode(first)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	second, err := Encode(decoded)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Fatalf("encode→decode→encode is not byte identical:\n%s\n%s", first, second)
	}
	if err := VerifyFullyIssued(decoded); err != nil {
		t.Errorf("decoded token does not verify: %v", err)
	}

	rejects := []struct {
		name string
		data string
	}{
		{"unknown field", strings.Replace(string(first), `"metadata":{`, `"extra":1,"metadata":{`, 1)},
		{"non-canonical amount", strings.Replace(string(first), `"amount":"19.99"`, `"amount":"19.990"`, 1)},
		{"numeric amount", strings.Replace(string(first), `"amount":"19.99"`, `"amount":19.99`, 1)},
		{"trailing data", string(first) + "{}"},
		{"not json", "token"},
	}

	for _, tt := range rejects {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decode([]byte(tt.data)); err == nil {
				t.Errorf("Decode() accepted %s", tt.name)
			}
		})
	}
}

func TestRefresh(t *testing.T) {
	vendor, provider := newTestSigner(t), newTestSigner(t)
	tok := newIssuedToken(t, PeriodMonthly, vendor, provider)

	refreshed, err := Refresh(tok, vendor)
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	if refreshed.Signatures.Provider != "" {
		t.Errorf("refresh kept the provider signature")
	}
	if err := VerifyVendorSignature(refreshed); err != nil {
		t.Errorf("refreshed token vendor signature: %v", err)
	}
	if got := refreshed.Transaction.Recurring.CycleIndex; got != 1 {
		t.Errorf("cycle_index = %d, want 1", got)
	}
	if !tok.Transaction.Expiry.Before(refreshed.Transaction.Expiry) {
		t.Errorf("expiry did not advance")
	}
	if tok.Transaction.Recurring.CycleIndex != 0 {
		t.Errorf("Refresh() modified the original token")
	}

	if err := CheckRefresh(tok, refreshed); err != nil {
		t.Fatalf("CheckRefresh() error = %v", err)
	}

	tampered := []struct {
		name   string
		mutate func(*Token)
	}{
		{"cycle index +2", func(tk *Token) { tk.Transaction.Recurring.CycleIndex = 2 }},
		{"cycle index unchanged", func(tk *Token) { tk.Transaction.Recurring.CycleIndex = 0 }},
		{"amount", func(tk *Token) { tk.Transaction.Amount = MustAmount("20") }},
		{"period", func(tk *Token) { tk.Transaction.Recurring.Period = PeriodAnnual }},
		{"next occurrence", func(tk *Token) {
			tk.Transaction.Recurring.NextOccurrence = NewTimestamp(tk.Transaction.Recurring.NextOccurrence.Time().AddDate(0, 0, 1))
		}},
		{"expiry backwards", func(tk *Token) { tk.Transaction.Expiry = NewTimestamp(testNow) }},
		{"recurrence removed", func(tk *Token) { tk.Transaction.Recurring = nil }},
	}

	for _, tt := range tampered {
		t.Run(tt.name, func(t *testing.T) {
			c := refreshed.Clone()
			tt.mutate(c)
			if IsValidRefresh(tok, c) {
				t.Errorf("refresh with tampered %s accepted", tt.name)
			}
		})
	}

	t.Run("non recurring", func(t *testing.T) {
		oneOff := newIssuedToken(t, "", vendor, provider)
		if _, err := Refresh(oneOff, vendor); !errors.Is(err, ErrNonRecurring) {
			t.Errorf("Refresh() error = %v, want ErrNonRecurring", err)
		}
	})
}

func TestModify(t *testing.T) {
	vendor, provider := newTestSigner(t), newTestSigner(t)
	tok := newIssuedToken(t, "", vendor, provider)

	proposal := Modification{Amount: MustAmount("2"), Currency: "EUR"}
	modified, err := Modify(tok, proposal, vendor)
	if err != nil {
		t.Fatalf("Modify() error = %v", err)
	}
	if modified.Transaction.Amount.String() != "2" || modified.Transaction.Currency != "EUR" {
		t.Errorf("modified transaction = %+v", modified.Transaction)
	}

	if err := CheckModification(tok, modified, proposal); err != nil {
		t.Errorf("CheckModification() error = %v", err)
	}

	// amount only keeps the currency
	amountOnly := Modification{Amount: MustAmount("5")}
	m2, err := Modify(tok, amountOnly, vendor)
	if err != nil {
		t.Fatalf("Modify() error = %v", err)
	}
	if m2.Transaction.Currency != "GBP" {
		t.Errorf("currency = %s, want GBP", m2.Transaction.Currency)
	}

	if IsValidModification(tok, modified, amountOnly) {
		t.Errorf("modification accepted against a different proposal")
	}

	c := modified.Clone()
	c.Transaction.CustomerRef = "someone-else"
	if IsValidModification(tok, c, proposal) {
		t.Errorf("modification that also changed customer_ref accepted")
	}

	if _, err := Modify(tok, Modification{Amount: MustAmount("1"), Currency: "euro"}, vendor); err == nil {
		t.Errorf("expected an error for an invalid currency")
	}
}

func TestSameVendorIssuance(t *testing.T) {
	vendor, provider := newTestSigner(t), newTestSigner(t)

	offered, err := IssueVendorToken(newTestTransaction(t, ""), vendor)
	if err != nil {
		t.Fatalf("IssueVendorToken() error = %v", err)
	}
	countersigned, err := CounterSign(offered, provider, testNow)
	if err != nil {
		t.Fatalf("CounterSign() error = %v", err)
	}

	if !SameVendorIssuance(offered, countersigned) {
		t.Errorf("countersigned token does not match the offer")
	}

	other, err := IssueVendorToken(newTestTransaction(t, ""), vendor)
	if err != nil {
		t.Fatalf("IssueVendorToken() error = %v", err)
	}
	if SameVendorIssuance(offered, other) {
		t.Errorf("different offers reported as the same")
	}
}

func TestSealOpen(t *testing.T) {
	vendor, provider := newTestSigner(t), newTestSigner(t)
	agreed := newIssuedToken(t, PeriodMonthly, vendor, provider)

	refreshed, err := Refresh(agreed, vendor)
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	sealed, err := Seal(agreed, refreshed)
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}

	opened, err := Open(agreed, sealed)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if !SameVendorIssuance(refreshed, opened) {
		t.Errorf("opened token differs from the sealed one")
	}

	otherAgreed := newIssuedToken(t, PeriodMonthly, vendor, provider)
	if _, err := Open(otherAgreed, sealed); err == nil {
		t.Errorf("token sealed under one agreement opened with another")
	}

	if Fingerprint(agreed) == "" || Fingerprint(agreed) == Fingerprint(otherAgreed) {
		t.Errorf("fingerprints are not distinct")
	}
	if Fingerprint(refreshed) != "" {
		t.Errorf("vendor-only token has a fingerprint")
	}
}
