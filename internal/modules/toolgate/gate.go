// README: ToolGate: static permission matrix for side-effecting operations (state + required fields).
package toolgate

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"concierge/internal/modules/booking"
)

var ErrUnauthorizedTool = errors.New("tool not authorized")

type Tool string

const (
	ToolCheckAvailability Tool = "checkAvailability"
	ToolCreateReservation Tool = "createReservation"
	ToolCreatePaymentLink Tool = "createPaymentLink"
	ToolCancelReservation Tool = "cancelReservation"
	ToolRefundReservation Tool = "refundReservation"
)

type Permission struct {
	States   []booking.State
	Requires []booking.Field
}

// Matrix is the single choke point for booking, payment and cancellation side effects.
var Matrix = map[Tool]Permission{
	ToolCheckAvailability: {
		States:   []booking.State{booking.StateSlotSelection, booking.StateProviderSelection},
		Requires: []booking.Field{booking.FieldServices, booking.FieldProvider},
	},
	ToolCreateReservation: {
		States:   []booking.State{booking.StateConfirmation},
		Requires: []booking.Field{booking.FieldServices, booking.FieldProvider, booking.FieldSlot, booking.FieldCustomerName},
	},
	ToolCreatePaymentLink: {
		States:   []booking.State{booking.StateConfirmation, booking.StateBooked},
		Requires: []booking.Field{booking.FieldReservation},
	},
	ToolCancelReservation: {
		States:   []booking.State{booking.StateConfirmation, booking.StateBooked},
		Requires: []booking.Field{booking.FieldReservation},
	},
	ToolRefundReservation: {
		States:   []booking.State{booking.StateBooked},
		Requires: []booking.Field{booking.FieldReservation},
	},
}

type Authorization struct {
	Allowed       bool
	MissingFields []booking.Field
	Reason        string
	// Redirect is a customer-facing prompt for the first missing piece.
	Redirect string
}

// Err returns nil for an allowed call, otherwise ErrUnauthorizedTool wrapped with the reason.
func (a Authorization) Err() error {
	if a.Allowed {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrUnauthorizedTool, a.Reason)
}

var redirects = map[booking.Field]string{
	booking.FieldServices:     "Which service would you like to book?",
	booking.FieldProvider:     "Who would you like to see?",
	booking.FieldSlot:         "Which time would you like?",
	booking.FieldCustomerName: "What name should I put the booking under?",
	booking.FieldReservation:  "There is no booking in progress yet. Would you like to start one?",
}

// Authorize is pure. Field completeness is always reported, even when the state is wrong, so callers
// can name everything that is still missing.
func Authorize(tool Tool, state booking.State, data booking.CollectedData) Authorization {
	perm, ok := Matrix[tool]
	if !ok {
		return Authorization{Reason: fmt.Sprintf("unknown tool %q", tool), Redirect: "Sorry, I can't do that here."}
	}
	missing := data.Missing(perm.Requires...)
	stateOK := slices.Contains(perm.States, state)
	if stateOK && len(missing) == 0 {
		return Authorization{Allowed: true}
	}

	a := Authorization{MissingFields: missing}
	var reasons []string
	if !stateOK {
		reasons = append(reasons, fmt.Sprintf("%s is not allowed in %s", tool, state))
	}
	if len(missing) > 0 {
		names := make([]string, len(missing))
		for i, f := range missing {
			names[i] = string(f)
		}
		reasons = append(reasons, "missing "+strings.Join(names, ", "))
		a.Redirect = redirects[missing[0]]
	} else {
		a.Redirect = "Let's finish the current step first."
	}
	a.Reason = strings.Join(reasons, "; ")
	return a
}
