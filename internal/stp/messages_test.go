package stp

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/information-sharing-networks/stp-demo/internal/token"
)

func validHello() Hello {
	return Hello{
		Version:         ProtocolVersion,
		BankName:        testBankName,
		BIC:             testBIC,
		Random:          "c29tZS1yYW5kb20",
		TransactionID:   uuid.NewString(),
		Customer:        "customer-42",
		URLSignature:    "eyJhbGciOiJFZERTQSJ9..c2ln",
		VerificationPIN: "4821",
	}
}

func TestHelloValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(h *Hello)
		wantErr bool
	}{
		{name: "valid", mutate: func(h *Hello) {}},
		{name: "eight digit pin", mutate: func(h *Hello) { h.VerificationPIN = "12345678" }},
		{name: "wrong version", mutate: func(h *Hello) { h.Version = "v2" }, wantErr: true},
		{name: "lower case BIC", mutate: func(h *Hello) { h.BIC = "testgb2l" }, wantErr: true},
		{name: "short BIC", mutate: func(h *Hello) { h.BIC = "TEST" }, wantErr: true},
		{name: "transaction id not a uuid", mutate: func(h *Hello) { h.TransactionID = "42" }, wantErr: true},
		{name: "three digit pin", mutate: func(h *Hello) { h.VerificationPIN = "123" }, wantErr: true},
		{name: "pin with letters", mutate: func(h *Hello) { h.VerificationPIN = "12a4" }, wantErr: true},
		{name: "no customer", mutate: func(h *Hello) { h.Customer = "" }, wantErr: true},
		{name: "no url signature", mutate: func(h *Hello) { h.URLSignature = "" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := validHello()
			tt.mutate(&h)
			err := h.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			var validationErr *ValidationError
			if err != nil && !errors.As(err, &validationErr) {
				t.Errorf("expected a ValidationError, got %T", err)
			}
		})
	}
}

func TestDecodeStrict(t *testing.T) {
	h := validHello()
	valid := `{"version":"v1","bank_name":"Test Bank","bic":"TESTGB2L","random":"abc","transaction_id":"` +
		h.TransactionID + `","customer":"c","url_signature":"s","verification_pin":"1234"}`

	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{name: "valid", body: valid},
		{name: "unknown field", body: strings.Replace(valid, `"random"`, `"extra":1,"random"`, 1), wantErr: true},
		{name: "trailing message", body: valid + valid, wantErr: true},
		{name: "not json", body: "hello", wantErr: true},
		{name: "missing field", body: strings.Replace(valid, `"customer":"c",`, "", 1), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got Hello
			err := DecodeBytes([]byte(tt.body), &got)
			if (err != nil) != tt.wantErr {
				t.Fatalf("DecodeBytes() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestOfferValidate(t *testing.T) {
	id := uuid.NewString()
	offer := Offer{
		Success:        true,
		ConfirmationID: id,
		ResponseURL:    NewURL("vendor.example.com", ResponsePath, id),
		Vendor:         VendorInfo{Name: "Test Shop"},
	}

	// token is required
	if err := offer.Validate(); err == nil {
		t.Fatalf("offer without a token validated")
	}

	offer.ResponseURL = NewURL("vendor.example.com", ResponsePath, uuid.NewString())
	err := offer.Validate()
	if err == nil || !strings.Contains(err.Error(), "response_url") {
		t.Fatalf("Validate() error = %v, want response_url mismatch", err)
	}
}

func TestConfirmValidate(t *testing.T) {
	tests := []struct {
		name    string
		confirm Confirm
		wantErr bool
	}{
		{name: "decline with code", confirm: Confirm{Allowed: false, ErrorCode: CodeIncorrectPIN}},
		{name: "decline without code", confirm: Confirm{Allowed: false}, wantErr: true},
		{name: "decline with token", confirm: Confirm{Allowed: false, ErrorCode: CodeUserDeclined, Token: &token.Token{}}, wantErr: true},
		{name: "accept without token", confirm: Confirm{Allowed: true}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.confirm.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestReviseValidate(t *testing.T) {
	amount := token.MustAmount("12.50")
	zero := token.MustAmount("0")

	base := func(verb Verb) Revise {
		return Revise{
			TransactionID: uuid.NewString(),
			Challenge:     "Y2hhbGxlbmdl",
			URLSignature:  "sig",
			RevisionVerb:  verb,
		}
	}

	tests := []struct {
		name    string
		mutate  func(r *Revise)
		verb    Verb
		wantErr bool
	}{
		{name: "revoke", verb: VerbRevoke, mutate: func(r *Revise) {}},
		{name: "unknown verbs pass envelope validation", verb: "EXTEND", mutate: func(r *Revise) {}},
		{name: "refresh without token", verb: VerbRefresh, mutate: func(r *Revise) {}, wantErr: true},
		{name: "refresh", verb: VerbRefresh, mutate: func(r *Revise) { r.Token = "sealed" }},
		{name: "modify", verb: VerbModify, mutate: func(r *Revise) { r.Token = "sealed"; r.ModifiedAmount = &amount }},
		{name: "modify without amount", verb: VerbModify, mutate: func(r *Revise) { r.Token = "sealed" }, wantErr: true},
		{name: "modify to zero", verb: VerbModify, mutate: func(r *Revise) { r.Token = "sealed"; r.ModifiedAmount = &zero }, wantErr: true},
		{name: "modify bad currency", verb: VerbModify, mutate: func(r *Revise) {
			r.Token = "sealed"
			r.ModifiedAmount = &amount
			r.ModifiedCurrency = "pounds"
		}, wantErr: true},
		{name: "finish rejected", verb: VerbFinishModification, mutate: func(r *Revise) { r.ModificationStatus = ModificationRejected }},
		{name: "finish accepted without token", verb: VerbFinishModification, mutate: func(r *Revise) { r.ModificationStatus = ModificationAccepted }, wantErr: true},
		{name: "finish pending", verb: VerbFinishModification, mutate: func(r *Revise) { r.ModificationStatus = ModificationPending }, wantErr: true},
		{name: "no challenge", verb: VerbRevoke, mutate: func(r *Revise) { r.Challenge = "" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := base(tt.verb)
			tt.mutate(&r)
			if err := r.Validate(); (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestAsRejection(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantOK   bool
		wantCode ErrorCode
	}{
		{name: "rejection", body: `{"success":false,"error_code":"INCORRECT_PIN","error_message":"no"}`, wantOK: true, wantCode: CodeIncorrectPIN},
		{name: "rejection without code", body: `{"success":false}`, wantOK: true, wantCode: "UNKNOWN"},
		{name: "success", body: `{"success":true,"response":"x"}`},
		{name: "no success field", body: `{"allowed":false}`},
		{name: "not json", body: `oops`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := asRejection([]byte(tt.body))
			if ok != tt.wantOK {
				t.Fatalf("asRejection() ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && got.Code() != tt.wantCode {
				t.Errorf("code = %s, want %s", got.Code(), tt.wantCode)
			}
		})
	}
}
