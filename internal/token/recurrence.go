package token

import "fmt"

// Period is the interval of a recurring transaction
type Period string

const (
	PeriodMonthly   Period = "monthly"
	PeriodQuarterly Period = "quarterly"
	PeriodAnnual    Period = "annual"
)

func (p Period) Valid() bool {
	switch p {
	case PeriodMonthly, PeriodQuarterly, PeriodAnnual:
		return true
	}
	return false
}

// Next applies the period to ts.
//
// Month arithmetic follows time.AddDate: a day that does not exist in the target month
// overflows into the following month (31 January + 1 month = 3 March, or 2 March in a leap year).
func Next(ts Timestamp, p Period) (Timestamp, error) {
	t := ts.Time()
	switch p {
	case PeriodMonthly:
		return NewTimestamp(t.AddDate(0, 1, 0)), nil
	case PeriodQuarterly:
		return NewTimestamp(t.AddDate(0, 3, 0)), nil
	case PeriodAnnual:
		return NewTimestamp(t.AddDate(1, 0, 0)), nil
	default:
		return Timestamp{}, NewInvalidError(fmt.Sprintf("unknown recurrence period %q", p))
	}
}

// NewRecurrence starts the schedule of a transaction created at createdAt
func NewRecurrence(p Period, createdAt Timestamp) (*Recurrence, error) {
	next, err := Next(createdAt, p)
	if err != nil {
		return nil, err
	}
	return &Recurrence{Period: p, NextOccurrence: next, CycleIndex: 0}, nil
}

// Advance returns the schedule for the following cycle
func (r Recurrence) Advance() (Recurrence, error) {
	next, err := Next(r.NextOccurrence, r.Period)
	if err != nil {
		return Recurrence{}, err
	}
	return Recurrence{Period: r.Period, NextOccurrence: next, CycleIndex: r.CycleIndex + 1}, nil
}
