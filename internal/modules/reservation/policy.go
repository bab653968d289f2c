package reservation

import "time"

// HoldPolicy decides how long a provisional claim is kept: shorter for bookings today than for
// bookings on a later day. "Today" is judged in Location.
type HoldPolicy struct {
	SameDay  time.Duration
	Advance  time.Duration
	Location *time.Location
}

func (p HoldPolicy) For(now, slotStart time.Time) time.Duration {
	loc := p.Location
	if loc == nil {
		loc = time.UTC
	}
	ny, nm, nd := now.In(loc).Date()
	sy, sm, sd := slotStart.In(loc).Date()
	if ny == sy && nm == sm && nd == sd {
		return p.SameDay
	}
	return p.Advance
}

// Deadline is when a hold claimed at now expires. It never runs past the slot start.
func (p HoldPolicy) Deadline(now, slotStart time.Time, override time.Duration) time.Time {
	hold := override
	if hold <= 0 {
		hold = p.For(now, slotStart)
	}
	d := now.Add(hold)
	if d.After(slotStart) {
		return slotStart
	}
	return d
}
