// README: Reservation aggregate and status definitions.
package reservation

import (
	"time"

	"concierge/internal/types"
)

type Status string

const (
	StatusProvisional       Status = "provisional"
	StatusConfirmed         Status = "confirmed"
	StatusExpired           Status = "expired"
	StatusCancelledNoRefund Status = "cancelled_no_refund"
	StatusCancelledRefunded Status = "cancelled_refunded"
)

type Reservation struct {
	ID              types.ID   `json:"id"`
	ConversationID  string     `json:"conversation_id"`
	ProviderID      string     `json:"provider_id"`
	Services        []string   `json:"services"`
	CustomerName    string     `json:"customer_name"`
	SlotStart       time.Time  `json:"slot_start"`
	DurationMinutes int        `json:"duration_minutes"`
	Status          Status     `json:"status"`
	HoldDeadline    time.Time  `json:"hold_deadline"`
	ReminderSentAt  *time.Time `json:"reminder_sent_at,omitempty"`
	CalendarEventID string     `json:"calendar_event_id,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	ConfirmedAt     *time.Time `json:"confirmed_at,omitempty"`
	ExpiredAt       *time.Time `json:"expired_at,omitempty"`
	CancelledAt     *time.Time `json:"cancelled_at,omitempty"`
}

func (r Reservation) Slot() types.Slot {
	return types.Slot{Start: r.SlotStart, DurationMinutes: r.DurationMinutes}
}

func (r Reservation) SlotEnd() time.Time {
	return r.Slot().End()
}

// AllowedTransitions represents the reservation lifecycle (diagram) as code. Every status other than
// provisional is terminal.
var AllowedTransitions = map[Status][]Status{
	StatusProvisional: {StatusConfirmed, StatusExpired, StatusCancelledNoRefund, StatusCancelledRefunded},
}

func CanTransition(from, to Status) bool {
	for _, s := range AllowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func (s Status) Terminal() bool {
	return s != StatusProvisional
}

func (s Status) Cancelled() bool {
	return s == StatusCancelledNoRefund || s == StatusCancelledRefunded
}

// Occupies reports whether a reservation in this status blocks its slot for others.
func (s Status) Occupies() bool {
	return s == StatusProvisional || s == StatusConfirmed
}
