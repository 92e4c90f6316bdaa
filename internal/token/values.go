package token

import (
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/shopspring/decimal"
)

// Amount is a positive decimal amount.
//
// On the wire it is a JSON string in canonical decimal form: no exponent, no leading zeros,
// no trailing fractional zeros ("1", "12.5", "0.01"). Decoding rejects any other spelling so
// that a decoded token re-encodes to the bytes that were signed.
type Amount struct {
	d decimal.Decimal
}

// ParseAmount parses a decimal in any notation shopspring/decimal accepts and normalizes it.
// Use it for operator input; tokens are decoded with the strict canonical check.
func ParseAmount(s string) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Amount{}, WrapInvalidError(err, fmt.Sprintf("invalid amount %q", s))
	}
	if !d.IsPositive() {
		return Amount{}, NewInvalidError(fmt.Sprintf("amount must be positive, got %s", d.String()))
	}
	return Amount{d: d}, nil
}

// parseCanonicalAmount is ParseAmount plus the requirement that s is already canonical
func parseCanonicalAmount(s string) (Amount, error) {
	a, err := ParseAmount(s)
	if err != nil {
		return Amount{}, err
	}
	if a.String() != s {
		return Amount{}, NewInvalidError(fmt.Sprintf("amount %q is not in canonical form (%q)", s, a.String()))
	}
	return a, nil
}

// MustAmount is ParseAmount for constants in tests and examples.
func MustAmount(s string) Amount {
	a, err := ParseAmount(s)
	if err != nil {
		panic(err)
	}
	return a
}

func (a Amount) String() string           { return a.d.String() }
func (a Amount) Decimal() decimal.Decimal { return a.d }
func (a Amount) IsZero() bool             { return a.d.IsZero() }
func (a Amount) Equal(other Amount) bool  { return a.d.Equal(other.d) }

func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.d.String())
}

func (a *Amount) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return WrapInvalidError(err, "amount must be a JSON string")
	}
	parsed, err := parseCanonicalAmount(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// TimestampLayout is the only accepted timestamp spelling: UTC, millisecond precision.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// Timestamp is a UTC instant truncated to milliseconds
type Timestamp struct {
	t time.Time
}

func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{t: t.UTC().Truncate(time.Millisecond)}
}

// ParseTimestamp parses a timestamp in TimestampLayout and rejects any other form
func ParseTimestamp(s string) (Timestamp, error) {
	t, err := time.Parse(TimestampLayout, s)
	if err != nil {
		return Timestamp{}, WrapInvalidError(err, fmt.Sprintf("invalid timestamp %q", s))
	}
	ts := NewTimestamp(t)
	if ts.String() != s {
		return Timestamp{}, NewInvalidError(fmt.Sprintf("timestamp %q is not in canonical form", s))
	}
	return ts, nil
}

func (ts Timestamp) Time() time.Time         { return ts.t }
func (ts Timestamp) String() string          { return ts.t.Format(TimestampLayout) }
func (ts Timestamp) IsZero() bool            { return ts.t.IsZero() }
func (ts Timestamp) Equal(o Timestamp) bool  { return ts.t.Equal(o.t) }
func (ts Timestamp) Before(o Timestamp) bool { return ts.t.Before(o.t) }

func (ts Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(ts.String())
}

func (ts *Timestamp) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return WrapInvalidError(err, "timestamp must be a JSON string")
	}
	parsed, err := ParseTimestamp(s)
	if err != nil {
		return err
	}
	*ts = parsed
	return nil
}

var currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)

// ValidateCurrency checks that code looks like an ISO 4217 alphabetic code
func ValidateCurrency(code string) error {
	if !currencyPattern.MatchString(code) {
		return NewInvalidError(fmt.Sprintf("currency %q is not a three letter ISO 4217 code", code))
	}
	return nil
}
