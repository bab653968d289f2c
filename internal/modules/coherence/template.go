package coherence

import (
	"fmt"
	"strings"

	"concierge/internal/modules/booking"
)

var openers = map[booking.State]string{
	booking.StateIdle:              "Hi! I can help you book an appointment.",
	booking.StateServiceSelection:  "Here is what we offer:",
	booking.StateProviderSelection: "These are the people available for that:",
	booking.StateSlotSelection:     "These times are free:",
	booking.StateCustomerData:      "Almost there.",
	booking.StateConfirmation:      "Please check your booking.",
	booking.StateBooked:            "Your appointment is reserved.",
}

// Template renders the deterministic reply for a state. It only uses the notice, the must-show items
// and the required question, so it never talks about a step the flow has not reached.
func Template(req Request) string {
	var lines []string
	if req.Notice != "" {
		lines = append(lines, req.Notice)
	}

	numbered := req.Offers.State == req.State && len(req.Offers.Items) > 0
	var items []string
	for _, item := range req.Guidance.MustShow {
		if !numbered && strings.Contains(strings.ToLower(req.Notice), strings.ToLower(item)) {
			continue
		}
		items = append(items, item)
	}
	if op := openers[req.State]; op != "" && (len(items) > 0 || req.Notice == "") {
		lines = append(lines, op)
	}
	for i, item := range items {
		if numbered {
			lines = append(lines, fmt.Sprintf("%d. %s", i+1, item))
		} else {
			lines = append(lines, item)
		}
	}
	if req.Guidance.MustAsk != "" {
		lines = append(lines, req.Guidance.MustAsk)
	}
	if len(lines) == 0 {
		lines = append(lines, "How can I help you?")
	}
	return strings.Join(lines, "\n")
}
