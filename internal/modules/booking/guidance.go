package booking

import (
	"fmt"
	"strings"
)

// Topic is something a reply may not talk about yet.
type Topic string

const (
	TopicProviderNames    Topic = "provider_names"
	TopicClockTimes       Topic = "clock_times"
	TopicBookingConfirmed Topic = "booking_confirmed"
	TopicPaymentLink      Topic = "payment_link"
)

// ResponseGuidance is rebuilt every turn and never persisted.
type ResponseGuidance struct {
	MustShow    []string
	MustAsk     string
	Forbidden   []Topic
	ContextHint string
}

func (g ResponseGuidance) Forbids(t Topic) bool {
	for _, f := range g.Forbidden {
		if f == t {
			return true
		}
	}
	return false
}

// forbiddenByState lists what a reply must not mention before the flow has reached the step that
// introduces it.
var forbiddenByState = map[State][]Topic{
	StateIdle:              {TopicProviderNames, TopicClockTimes, TopicBookingConfirmed, TopicPaymentLink},
	StateServiceSelection:  {TopicProviderNames, TopicClockTimes, TopicBookingConfirmed, TopicPaymentLink},
	StateProviderSelection: {TopicClockTimes, TopicBookingConfirmed, TopicPaymentLink},
	StateSlotSelection:     {TopicBookingConfirmed, TopicPaymentLink},
	StateCustomerData:      {TopicBookingConfirmed, TopicPaymentLink},
	StateConfirmation:      {TopicBookingConfirmed, TopicPaymentLink},
	StateBooked:            nil,
}

var askByState = map[State]string{
	StateIdle:              "Would you like to book an appointment?",
	StateServiceSelection:  "Which service would you like? Say done when you have everything.",
	StateProviderSelection: "Who would you like to see?",
	StateSlotSelection:     "Which time works for you?",
	StateCustomerData:      "What name should I put the booking under?",
	StateConfirmation:      "Shall I go ahead and book it?",
}

// Guide derives the directive for the reply that follows a turn. Offers only count when they were
// produced in the same state.
func Guide(s State, data CollectedData, offers Offers) ResponseGuidance {
	g := ResponseGuidance{
		MustAsk:   askByState[s],
		Forbidden: append([]Topic(nil), forbiddenByState[s]...),
	}
	if offers.State == s {
		for _, o := range offers.Items {
			g.MustShow = append(g.MustShow, o.Label)
		}
	}

	var hint []string
	hint = append(hint, fmt.Sprintf("step: %s", s))
	if len(data.Services) > 0 {
		hint = append(hint, "services: "+strings.Join(data.Services, ", "))
	}
	if data.ProviderID != "" {
		hint = append(hint, "provider chosen")
	}
	if data.Slot != nil {
		hint = append(hint, "slot: "+data.Slot.Start.Format("Mon 2 Jan 15:04"))
	}
	if data.CustomerName != "" {
		hint = append(hint, "name: "+data.CustomerName)
	}

	switch s {
	case StateConfirmation:
		if data.CustomerName != "" {
			g.MustShow = append(g.MustShow, data.CustomerName)
		}
	case StateBooked:
		if data.PaymentURL != "" {
			g.MustShow = append(g.MustShow, data.PaymentURL)
			hint = append(hint, "share the payment link; the slot is held until it is paid")
		}
	}
	g.ContextHint = strings.Join(hint, "; ")
	return g
}
