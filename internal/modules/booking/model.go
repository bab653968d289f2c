// README: Booking conversation states, intents (tagged entities) and the collected-data accumulator.
package booking

import (
	"slices"
	"time"

	"concierge/internal/types"
)

type State string

const (
	StateIdle              State = "idle"
	StateServiceSelection  State = "service_selection"
	StateProviderSelection State = "provider_selection"
	StateSlotSelection     State = "slot_selection"
	StateCustomerData      State = "customer_data"
	StateConfirmation      State = "confirmation"
	StateBooked            State = "booked"
)

// States lists every state in flow order.
var States = []State{
	StateIdle,
	StateServiceSelection,
	StateProviderSelection,
	StateSlotSelection,
	StateCustomerData,
	StateConfirmation,
	StateBooked,
}

func (s State) Valid() bool {
	return slices.Contains(States, s)
}

// Ordinal is the position of s in the flow, or -1.
func (s State) Ordinal() int {
	return slices.Index(States, s)
}

type IntentType string

const (
	IntentStartBooking        IntentType = "start_booking"
	IntentSelectService       IntentType = "select_service"
	IntentConfirmServices     IntentType = "confirm_services"
	IntentSelectProvider      IntentType = "select_provider"
	IntentCheckAvailability   IntentType = "check_availability"
	IntentSelectSlot          IntentType = "select_slot"
	IntentProvideCustomerData IntentType = "provide_customer_data"
	IntentConfirmBooking      IntentType = "confirm_booking"
	IntentCancelBooking       IntentType = "cancel_booking"
	IntentUnknown             IntentType = "unknown"

	// IntentSlotUnavailable is emitted by the system, never by the user, when the ledger refuses a claim.
	IntentSlotUnavailable IntentType = "slot_unavailable"
)

// UserIntents are the intent types a message may be classified as.
var UserIntents = []IntentType{
	IntentStartBooking,
	IntentSelectService,
	IntentConfirmServices,
	IntentSelectProvider,
	IntentCheckAvailability,
	IntentSelectSlot,
	IntentProvideCustomerData,
	IntentConfirmBooking,
	IntentCancelBooking,
}

// ParseIntentType maps free text from the oracle onto a known user intent, defaulting to IntentUnknown.
func ParseIntentType(v string) IntentType {
	t := IntentType(v)
	if slices.Contains(UserIntents, t) {
		return t
	}
	return IntentUnknown
}

// Entities is a closed set: one concrete type per intent family.
type Entities interface {
	isEntities()
}

type NoEntities struct{}

type ServiceEntities struct {
	Services []string
}

type ProviderEntities struct {
	ProviderID   string
	ProviderName string
}

// SlotEntities describes a slot pick. Concrete is true only when Start was verified against an
// explicit clock time or an offered option.
type SlotEntities struct {
	Start           *time.Time
	DurationMinutes int
	Date            string
	TimeText        string
	Concrete        bool
}

type AvailabilityEntities struct {
	Date     string
	TimeText string
}

type CustomerEntities struct {
	Name  string
	Notes string
}

func (NoEntities) isEntities()           {}
func (ServiceEntities) isEntities()      {}
func (ProviderEntities) isEntities()     {}
func (SlotEntities) isEntities()         {}
func (AvailabilityEntities) isEntities() {}
func (CustomerEntities) isEntities()     {}

// Intent is produced fresh for each message and never persisted.
type Intent struct {
	Type       IntentType
	Entities   Entities
	Confidence float64
	RawText    string
}

func (i Intent) ServiceEntities() ServiceEntities {
	e, _ := i.Entities.(ServiceEntities)
	return e
}

func (i Intent) ProviderEntities() ProviderEntities {
	e, _ := i.Entities.(ProviderEntities)
	return e
}

func (i Intent) SlotEntities() SlotEntities {
	e, _ := i.Entities.(SlotEntities)
	return e
}

func (i Intent) AvailabilityEntities() AvailabilityEntities {
	e, _ := i.Entities.(AvailabilityEntities)
	return e
}

func (i Intent) CustomerEntities() CustomerEntities {
	e, _ := i.Entities.(CustomerEntities)
	return e
}

type Field string

const (
	FieldServices     Field = "services"
	FieldProvider     Field = "provider"
	FieldSlot         Field = "slot"
	FieldCustomerName Field = "customer_name"
	FieldReservation  Field = "reservation"
)

// CollectedData accumulates what the customer told us. It only grows while states advance and is
// cleared on cancel/reset.
type CollectedData struct {
	Services      []string    `json:"services"`
	ProviderID    string      `json:"provider_id,omitempty"`
	Slot          *types.Slot `json:"slot,omitempty"`
	CustomerName  string      `json:"customer_name,omitempty"`
	Notes         string      `json:"notes,omitempty"`
	ReservationID string      `json:"reservation_id,omitempty"`
	PaymentURL    string      `json:"payment_url,omitempty"`
}

func NewCollectedData() CollectedData {
	return CollectedData{Services: []string{}}
}

func (d CollectedData) Clone() CollectedData {
	out := d
	out.Services = append([]string{}, d.Services...)
	if d.Slot != nil {
		s := *d.Slot
		out.Slot = &s
	}
	return out
}

func (d CollectedData) Has(f Field) bool {
	switch f {
	case FieldServices:
		return len(d.Services) > 0
	case FieldProvider:
		return d.ProviderID != ""
	case FieldSlot:
		return d.Slot != nil && !d.Slot.Start.IsZero()
	case FieldCustomerName:
		return d.CustomerName != ""
	case FieldReservation:
		return d.ReservationID != ""
	}
	return false
}

// Missing returns the subset of fields that are not yet filled, in the given order.
func (d CollectedData) Missing(fields ...Field) []Field {
	var out []Field
	for _, f := range fields {
		if !d.Has(f) {
			out = append(out, f)
		}
	}
	return out
}

type NextAction string

const (
	ActionNone              NextAction = "none"
	ActionShowServices      NextAction = "show_services"
	ActionShowProviders     NextAction = "show_providers"
	ActionCheckAvailability NextAction = "check_availability"
	ActionAskCustomerData   NextAction = "ask_customer_data"
	ActionConfirmSummary    NextAction = "confirm_summary"
	ActionCreateReservation NextAction = "create_reservation"
	ActionCancelReservation NextAction = "cancel_reservation"
)

// TransitionResult is the only way the state machine reports an outcome.
type TransitionResult struct {
	Success          bool
	NewState         State
	CollectedData    CollectedData
	NextAction       NextAction
	ValidationErrors []string
}

// Offer is one numbered option shown to the customer.
type Offer struct {
	ID              string     `json:"id"`
	Label           string     `json:"label"`
	Start           *time.Time `json:"start,omitempty"`
	DurationMinutes int        `json:"duration_minutes,omitempty"`
}

// Offers is the option list last shown, tagged with the state that produced it.
type Offers struct {
	State State   `json:"state"`
	Items []Offer `json:"items"`
}

// Pick resolves a 1-based choice against the list if it was produced in state s.
func (o Offers) Pick(s State, n int) (Offer, bool) {
	if o.State != s || n < 1 || n > len(o.Items) {
		return Offer{}, false
	}
	return o.Items[n-1], true
}

// FSMState is the FSM sub-record of a conversation snapshot. It is the only place conversation
// progress lives.
type FSMState struct {
	State       State         `json:"state"`
	Data        CollectedData `json:"collected_data"`
	Offers      Offers        `json:"offers"`
	LastUpdated time.Time     `json:"last_updated"`
}

func NewFSMState(now time.Time) FSMState {
	return FSMState{State: StateIdle, Data: NewCollectedData(), LastUpdated: now}
}
