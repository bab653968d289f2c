package intent

import (
	"fmt"
	"strings"
	"time"

	"concierge/internal/modules/booking"
)

const historyWindow = 6

var intentHelp = map[booking.IntentType]string{
	booking.IntentStartBooking:        "the customer wants to book an appointment",
	booking.IntentSelectService:       "the customer names one or more services (fill services)",
	booking.IntentConfirmServices:     "the customer has finished choosing services",
	booking.IntentSelectProvider:      "the customer names who they want to see (fill provider)",
	booking.IntentCheckAvailability:   "the customer asks about free times or gives a vague time like 'afternoon' (fill date, time)",
	booking.IntentSelectSlot:          "the customer picks an exact start time with hour and minutes (fill date, time, start)",
	booking.IntentProvideCustomerData: "the customer gives their name and optional notes (fill name, notes)",
	booking.IntentConfirmBooking:      "the customer agrees to the booking summary",
	booking.IntentCancelBooking:       "the customer wants to stop or cancel",
}

// buildPrompt lists only the intents legal from the current state together with what is already
// known, so the model neither skips ahead nor re-asks.
func buildPrompt(in Input, now time.Time) string {
	var b strings.Builder
	b.WriteString("You classify one message in an appointment booking chat.\n")
	fmt.Fprintf(&b, "Now: %s (%s)\n", now.Format("Monday 2006-01-02 15:04"), now.Location())
	fmt.Fprintf(&b, "Current step: %s\n", in.State)

	b.WriteString("Allowed intents:\n")
	for _, t := range booking.LegalIntents(in.State) {
		fmt.Fprintf(&b, "- %s: %s\n", t, intentHelp[t])
	}
	b.WriteString("- unknown: anything else\n")

	b.WriteString("Already collected (do not ask again):\n")
	d := in.Data
	if len(d.Services) > 0 {
		fmt.Fprintf(&b, "- services: %s\n", strings.Join(d.Services, ", "))
	}
	if d.ProviderID != "" {
		fmt.Fprintf(&b, "- provider: %s\n", d.ProviderID)
	}
	if d.Slot != nil {
		fmt.Fprintf(&b, "- slot: %s\n", d.Slot.Start.In(now.Location()).Format("2006-01-02 15:04"))
	}
	if d.CustomerName != "" {
		fmt.Fprintf(&b, "- name: %s\n", d.CustomerName)
	}

	if in.Offers.State == in.State && len(in.Offers.Items) > 0 {
		b.WriteString("Options last shown:\n")
		for i, o := range in.Offers.Items {
			fmt.Fprintf(&b, "%d. %s\n", i+1, o.Label)
		}
	}

	if h := in.History; len(h) > 0 {
		if len(h) > historyWindow {
			h = h[len(h)-historyWindow:]
		}
		b.WriteString("Recent conversation:\n")
		for _, t := range h {
			fmt.Fprintf(&b, "%s: %s\n", t.Role, t.Text)
		}
	}

	fmt.Fprintf(&b, "Message: %q\n", in.Message)
	b.WriteString(`Reply with JSON only: {"intent": "...", "confidence": 0.0-1.0, "services": [], "provider": "", ` +
		`"date": "YYYY-MM-DD", "time": "as written", "start": "YYYY-MM-DDTHH:MM", "name": "", "notes": ""}` + "\n")
	b.WriteString("Never invent a start time the customer did not state with hour and minutes.\n")
	return b.String()
}
