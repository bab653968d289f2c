package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMoneyString(t *testing.T) {
	assert.Equal(t, "25.00 USD", Money{Amount: 2500, Currency: "usd"}.String())
	assert.Equal(t, "0.05 EUR", Money{Amount: 5, Currency: "eur"}.String())
	assert.Equal(t, "-1.50 USD", Money{Amount: -150, Currency: "usd"}.String())
}

func TestSlotOverlaps(t *testing.T) {
	base := time.Date(2030, 1, 7, 10, 0, 0, 0, time.UTC)
	a := Slot{Start: base, DurationMinutes: 30}

	assert.True(t, a.Overlaps(Slot{Start: base.Add(15 * time.Minute), DurationMinutes: 30}))
	assert.False(t, a.Overlaps(Slot{Start: base.Add(30 * time.Minute), DurationMinutes: 30}), "adjacent slots do not overlap")
	assert.Equal(t, base.Add(30*time.Minute), a.End())
}
