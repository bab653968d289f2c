// README: Common value objects (ids, money, time slots) shared across modules.
package types

import (
	"fmt"
	"strings"
	"time"
)

type ID string

// Money is an amount in the currency's minor unit.
type Money struct {
	Amount   int64
	Currency string
}

func (m Money) String() string {
	sign := ""
	a := m.Amount
	if a < 0 {
		sign, a = "-", -a
	}
	return fmt.Sprintf("%s%d.%02d %s", sign, a/100, a%100, strings.ToUpper(m.Currency))
}

// Slot is a concrete start time with a duration. It never represents a range like "afternoon".
type Slot struct {
	Start           time.Time `json:"start"`
	DurationMinutes int       `json:"duration_minutes"`
}

func (s Slot) End() time.Time {
	return s.Start.Add(time.Duration(s.DurationMinutes) * time.Minute)
}

func (s Slot) Overlaps(o Slot) bool {
	return s.Start.Before(o.End()) && o.Start.Before(s.End())
}
