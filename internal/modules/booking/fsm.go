// README: Booking state machine; the transition table is the single arbiter of what is allowed now.
package booking

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"concierge/internal/types"
)

type guardFunc func(data CollectedData, in Intent) []string
type applyFunc func(data CollectedData, in Intent) CollectedData

type transition struct {
	From   State
	Intent IntentType
	To     State
	Guard  guardFunc
	Apply  applyFunc
	Action NextAction
}

// table represents the booking flow (diagram) as code. CancelBooking is handled for every state
// outside of the table.
var table = []transition{
	{From: StateIdle, Intent: IntentStartBooking, To: StateServiceSelection, Apply: reset, Action: ActionShowServices},
	{From: StateServiceSelection, Intent: IntentSelectService, To: StateServiceSelection, Guard: requireMentionedServices, Apply: addServices, Action: ActionShowServices},
	{From: StateServiceSelection, Intent: IntentConfirmServices, To: StateProviderSelection, Guard: requireServices, Action: ActionShowProviders},
	{From: StateProviderSelection, Intent: IntentSelectProvider, To: StateSlotSelection, Guard: requireResolvedProvider, Apply: setProvider, Action: ActionCheckAvailability},
	{From: StateSlotSelection, Intent: IntentCheckAvailability, To: StateSlotSelection, Action: ActionCheckAvailability},
	{From: StateSlotSelection, Intent: IntentSelectSlot, To: StateCustomerData, Guard: requireConcreteSlot, Apply: setSlot, Action: ActionAskCustomerData},
	{From: StateCustomerData, Intent: IntentProvideCustomerData, To: StateConfirmation, Guard: requireName, Apply: setCustomer, Action: ActionConfirmSummary},
	{From: StateConfirmation, Intent: IntentConfirmBooking, To: StateBooked, Guard: requireComplete, Action: ActionCreateReservation},
	// A finished conversation may start over.
	{From: StateBooked, Intent: IntentStartBooking, To: StateServiceSelection, Apply: reset, Action: ActionShowServices},
	// The ledger refused the claim: go back and re-offer availability.
	{From: StateConfirmation, Intent: IntentSlotUnavailable, To: StateSlotSelection, Apply: clearSlot, Action: ActionCheckAvailability},
}

func lookup(s State, t IntentType) (transition, bool) {
	for _, tr := range table {
		if tr.From == s && tr.Intent == t {
			return tr, true
		}
	}
	return transition{}, false
}

// CanTransition reports whether the table has a row for (state, intent). Guards are not evaluated.
func CanTransition(s State, t IntentType) bool {
	if !s.Valid() {
		return false
	}
	if t == IntentCancelBooking {
		return true
	}
	_, ok := lookup(s, t)
	return ok
}

// LegalIntents lists the user intents accepted from s, in table order.
func LegalIntents(s State) []IntentType {
	var out []IntentType
	for _, tr := range table {
		if tr.From == s && tr.Intent != IntentSlotUnavailable && !slices.Contains(out, tr.Intent) {
			out = append(out, tr.Intent)
		}
	}
	if s.Valid() {
		out = append(out, IntentCancelBooking)
	}
	return out
}

// Transition is pure: it never mutates data and never panics on expected rejections. A rejected
// intent returns Success=false with the original state and an unchanged copy of data.
func Transition(s State, data CollectedData, in Intent) TransitionResult {
	if !s.Valid() {
		return reject(s, data, fmt.Sprintf("unknown state %q", s))
	}
	if in.Type == IntentCancelBooking {
		action := ActionNone
		if data.ReservationID != "" {
			action = ActionCancelReservation
		}
		return TransitionResult{Success: true, NewState: StateIdle, CollectedData: NewCollectedData(), NextAction: action}
	}

	tr, ok := lookup(s, in.Type)
	if !ok {
		return reject(s, data, fmt.Sprintf("%s is not allowed in %s", in.Type, s))
	}
	if tr.Guard != nil {
		if errs := tr.Guard(data, in); len(errs) > 0 {
			return reject(s, data, errs...)
		}
	}
	next := data.Clone()
	if tr.Apply != nil {
		next = tr.Apply(next, in)
	}
	return TransitionResult{Success: true, NewState: tr.To, CollectedData: next, NextAction: tr.Action}
}

func reject(s State, data CollectedData, errs ...string) TransitionResult {
	return TransitionResult{
		Success:          false,
		NewState:         s,
		CollectedData:    data.Clone(),
		NextAction:       ActionNone,
		ValidationErrors: errs,
	}
}

// Machine holds one conversation's FSM record for the duration of a turn.
type Machine struct {
	fsm FSMState
	now func() time.Time
}

func NewMachine(fsm FSMState) *Machine {
	if !fsm.State.Valid() {
		fsm = NewFSMState(time.Now())
	}
	if fsm.Data.Services == nil {
		fsm.Data.Services = []string{}
	}
	return &Machine{fsm: fsm, now: time.Now}
}

func (m *Machine) State() State { return m.fsm.State }

func (m *Machine) Data() CollectedData { return m.fsm.Data.Clone() }

func (m *Machine) Offers() Offers { return m.fsm.Offers }

func (m *Machine) Snapshot() FSMState { return m.fsm }

func (m *Machine) SetOffers(o Offers) { m.fsm.Offers = o }

// Apply runs Transition and commits the result on success. Leaving a state drops its offers.
func (m *Machine) Apply(in Intent) TransitionResult {
	res := Transition(m.fsm.State, m.fsm.Data, in)
	if !res.Success {
		return res
	}
	if res.NewState != m.fsm.State {
		m.fsm.Offers = Offers{}
	}
	m.fsm.State = res.NewState
	m.fsm.Data = res.CollectedData.Clone()
	m.fsm.LastUpdated = m.now()
	return res
}

// SetReservation records the ledger reference and payment link on the collected data.
func (m *Machine) SetReservation(id, paymentURL string) {
	m.fsm.Data.ReservationID = id
	m.fsm.Data.PaymentURL = paymentURL
	m.fsm.LastUpdated = m.now()
}

// ClearReservation forgets a reservation reference after it has been released or cancelled.
func (m *Machine) ClearReservation() {
	m.fsm.Data.ReservationID = ""
	m.fsm.Data.PaymentURL = ""
}

func reset(CollectedData, Intent) CollectedData {
	return NewCollectedData()
}

func requireMentionedServices(_ CollectedData, in Intent) []string {
	if len(in.ServiceEntities().Services) == 0 {
		return []string{"no known service was mentioned"}
	}
	return nil
}

func addServices(d CollectedData, in Intent) CollectedData {
	for _, s := range in.ServiceEntities().Services {
		if !slices.Contains(d.Services, s) {
			d.Services = append(d.Services, s)
		}
	}
	return d
}

func requireServices(d CollectedData, _ Intent) []string {
	if len(d.Services) == 0 {
		return []string{"choose at least one service first"}
	}
	return nil
}

func requireResolvedProvider(_ CollectedData, in Intent) []string {
	if in.ProviderEntities().ProviderID == "" {
		return []string{"provider could not be matched to anyone on the team"}
	}
	return nil
}

func setProvider(d CollectedData, in Intent) CollectedData {
	d.ProviderID = in.ProviderEntities().ProviderID
	return d
}

func requireConcreteSlot(_ CollectedData, in Intent) []string {
	e := in.SlotEntities()
	var errs []string
	if e.Start == nil || e.Start.IsZero() || !e.Concrete {
		errs = append(errs, "slot must be a concrete time, not a range")
	}
	if e.DurationMinutes <= 0 {
		errs = append(errs, "slot duration is unknown")
	}
	return errs
}

func setSlot(d CollectedData, in Intent) CollectedData {
	e := in.SlotEntities()
	d.Slot = &types.Slot{Start: *e.Start, DurationMinutes: e.DurationMinutes}
	return d
}

func requireName(_ CollectedData, in Intent) []string {
	if strings.TrimSpace(in.CustomerEntities().Name) == "" {
		return []string{"customer name is required"}
	}
	return nil
}

func setCustomer(d CollectedData, in Intent) CollectedData {
	e := in.CustomerEntities()
	d.CustomerName = strings.TrimSpace(e.Name)
	if n := strings.TrimSpace(e.Notes); n != "" {
		d.Notes = n
	}
	return d
}

func requireComplete(d CollectedData, _ Intent) []string {
	var errs []string
	for _, f := range d.Missing(FieldServices, FieldProvider, FieldSlot, FieldCustomerName) {
		errs = append(errs, fmt.Sprintf("missing %s", f))
	}
	return errs
}

func clearSlot(d CollectedData, _ Intent) CollectedData {
	d.Slot = nil
	return d
}
