package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"concierge/internal/modules/booking"
	"concierge/internal/modules/catalog"
	"concierge/internal/modules/reservation"
	"concierge/internal/modules/toolgate"
	"concierge/internal/types"
)

const labelLayout = "Mon Jan 2 15:04"

// step resolves the intent against the catalog and calendar, runs the transition and performs the
// side effect the transition asks for. Side effects that must succeed before the state may move
// (claiming a slot) run before the transition is committed.
func (s *Service) step(ctx context.Context, t *turn, in booking.Intent) {
	pre := t.m.State()
	data := t.m.Data()

	if in.Type == booking.IntentUnknown {
		t.say("Sorry, I didn't quite get that.")
		return
	}
	if pre == booking.StateBooked && in.Type == booking.IntentStartBooking && s.holdPending(ctx, t, data) {
		return
	}
	if booking.CanTransition(pre, in.Type) {
		var err error
		in, err = s.resolve(ctx, t, in)
		if err != nil {
			s.apologize(ctx, t, err)
			return
		}
	}

	res := booking.Transition(pre, data, in)
	if !res.Success {
		t.log.Info("transition rejected",
			zap.String("state", string(pre)),
			zap.String("intent", string(in.Type)),
			zap.Strings("errors", res.ValidationErrors),
		)
		t.say(rejection(res.ValidationErrors))
		return
	}

	switch res.NextAction {
	case booking.ActionCreateReservation:
		s.book(ctx, t, in)
		return
	case booking.ActionCancelReservation:
		s.cancelHold(ctx, t, data)
	}

	t.m.Apply(in)
	if in.Type == booking.IntentCancelBooking {
		t.say("Okay, I've cancelled that.")
	}
	s.after(ctx, t, res.NextAction, in)
}

// resolve turns the names and times a customer used into catalog ids and verified slots.
func (s *Service) resolve(ctx context.Context, t *turn, in booking.Intent) (booking.Intent, error) {
	data := t.m.Data()
	switch in.Type {
	case booking.IntentSelectService:
		ids, unknown, err := s.catalog.ResolveOfferings(ctx, in.ServiceEntities().Services)
		if err != nil {
			return in, err
		}
		if len(unknown) > 0 {
			t.sayf("We don't offer %s.", strings.Join(unknown, ", "))
		}
		in.Entities = booking.ServiceEntities{Services: ids}

	case booking.IntentSelectProvider:
		e := in.ProviderEntities()
		if e.ProviderID != "" {
			return in, nil
		}
		p, ok, err := s.catalog.ResolveProvider(ctx, e.ProviderName, data.Services)
		if err != nil {
			return in, err
		}
		if ok {
			in.Entities = booking.ProviderEntities{ProviderID: p.ID, ProviderName: p.Name}
		}

	case booking.IntentSelectSlot:
		e := in.SlotEntities()
		if !e.Concrete || e.Start == nil {
			return in, nil
		}
		if e.DurationMinutes <= 0 {
			q, err := s.catalog.Quote(ctx, data.Services)
			if err != nil {
				return in, err
			}
			e.DurationMinutes = q.DurationMinutes
		}
		p, err := s.catalog.Provider(ctx, data.ProviderID)
		if err != nil {
			return in, err
		}
		free, err := s.calendar.IsFree(ctx, p, *e.Start, e.DurationMinutes)
		if err != nil {
			return in, err
		}
		if !free {
			t.sayf("Sorry, %s is not available.", e.Start.In(s.loc).Format(labelLayout))
			return booking.Intent{
				Type:       booking.IntentCheckAvailability,
				Entities:   booking.AvailabilityEntities{Date: e.Start.In(s.loc).Format("2006-01-02")},
				Confidence: in.Confidence,
				RawText:    in.RawText,
			}, nil
		}
		in.Entities = e
	}
	return in, nil
}

// book claims the slot, creates the payment link, and only then moves to Booked.
func (s *Service) book(ctx context.Context, t *turn, in booking.Intent) {
	data := t.m.Data()
	if auth := toolgate.Authorize(toolgate.ToolCreateReservation, t.m.State(), data); !auth.Allowed {
		t.log.Info("tool rejected", zap.String("tool", string(toolgate.ToolCreateReservation)), zap.String("reason", auth.Reason))
		t.say(auth.Redirect)
		return
	}
	quote, err := s.catalog.Quote(ctx, data.Services)
	if err != nil {
		s.apologize(ctx, t, err)
		return
	}

	r, err := s.ledger.Claim(ctx, reservation.ClaimCommand{
		ProviderID:      data.ProviderID,
		SlotStart:       data.Slot.Start,
		DurationMinutes: data.Slot.DurationMinutes,
		ConversationID:  t.id,
		Services:        data.Services,
		CustomerName:    data.CustomerName,
	})
	switch {
	case errors.Is(err, reservation.ErrConflict), errors.Is(err, reservation.ErrBadRequest):
		t.log.Info("slot taken at claim", zap.Error(err))
		day := data.Slot.Start.In(s.loc).Format("2006-01-02")
		t.m.Apply(booking.Intent{Type: booking.IntentSlotUnavailable, Entities: booking.NoEntities{}})
		t.say("Sorry, that time was just taken.")
		s.showSlots(ctx, t, booking.AvailabilityEntities{Date: day})
		return
	case err != nil:
		s.apologize(ctx, t, err)
		return
	}

	t.m.SetReservation(string(r.ID), "")
	if auth := toolgate.Authorize(toolgate.ToolCreatePaymentLink, t.m.State(), t.m.Data()); !auth.Allowed {
		s.abandonHold(ctx, t, r.ID)
		t.say(auth.Redirect)
		return
	}
	url, err := s.payments.Link(ctx, r, quote)
	if err != nil {
		s.abandonHold(ctx, t, r.ID)
		s.apologize(ctx, t, err)
		return
	}
	t.m.SetReservation(string(r.ID), url)
	t.m.Apply(in)
	t.log.Info("booking held", zap.String("reservation_id", string(r.ID)), zap.Time("hold_deadline", r.HoldDeadline))
	t.sayf("I've held %s for you until %s. Please pay %s to confirm:",
		r.SlotStart.In(s.loc).Format(labelLayout), r.HoldDeadline.In(s.loc).Format("15:04"), quote.Total)
}

func (s *Service) abandonHold(ctx context.Context, t *turn, id types.ID) {
	if _, err := s.ledger.Release(ctx, id); err != nil {
		t.log.Error("release after failed booking", zap.String("reservation_id", string(id)), zap.Error(err))
	}
	t.m.ClearReservation()
}

// holdPending reports whether the booking behind a finished conversation still waits for payment.
// Starting over would drop the only reference to that hold, so the customer is sent back to it.
func (s *Service) holdPending(ctx context.Context, t *turn, data booking.CollectedData) bool {
	if data.ReservationID == "" {
		return false
	}
	r, err := s.ledger.Get(ctx, types.ID(data.ReservationID))
	switch {
	case errors.Is(err, reservation.ErrNotFound):
		return false
	case err != nil:
		t.log.Error("load reservation before restart", zap.String("reservation_id", data.ReservationID), zap.Error(err))
		s.apologize(ctx, t, err)
		return true
	case r.Status != reservation.StatusProvisional:
		return false
	}
	t.sayf("Your booking for %s is still waiting for payment. Say cancel if you'd like to drop it and start over.",
		r.SlotStart.In(s.loc).Format(labelLayout))
	return true
}

// cancelHold ends the reservation behind a cancelled conversation. A paid booking cannot be undone
// here, so staff are asked to refund it.
func (s *Service) cancelHold(ctx context.Context, t *turn, data booking.CollectedData) {
	state := t.m.State()
	if auth := toolgate.Authorize(toolgate.ToolCancelReservation, state, data); !auth.Allowed {
		t.log.Debug("no reservation to cancel", zap.String("reason", auth.Reason))
		return
	}
	id := types.ID(data.ReservationID)
	r, err := s.ledger.Cancel(ctx, id, false)
	switch {
	case err == nil:
		return
	case errors.Is(err, reservation.ErrNotProvisional) && r != nil && r.Status == reservation.StatusConfirmed:
		if auth := toolgate.Authorize(toolgate.ToolRefundReservation, state, data); auth.Allowed {
			t.say("Your booking is already paid, so I've asked the team to cancel it and refund you.")
			s.escalate(ctx, t, fmt.Sprintf("customer cancelled paid reservation %s; refund needed", id))
			return
		}
		s.escalate(ctx, t, fmt.Sprintf("cancel requested for confirmed reservation %s in %s", id, state))
	case errors.Is(err, reservation.ErrNotProvisional):
	default:
		t.log.Error("cancel reservation failed", zap.String("reservation_id", string(id)), zap.Error(err))
		s.escalate(ctx, t, fmt.Sprintf("could not cancel reservation %s: %v", id, err))
	}
}

// after fills in what the new state needs to show.
func (s *Service) after(ctx context.Context, t *turn, action booking.NextAction, in booking.Intent) {
	data := t.m.Data()
	switch action {
	case booking.ActionShowServices:
		if in.Type == booking.IntentSelectService {
			t.sayf("Added %s.", strings.Join(s.catalog.Names(ctx, in.ServiceEntities().Services), " and "))
		}
		s.showServices(ctx, t)
	case booking.ActionShowProviders:
		s.showProviders(ctx, t)
	case booking.ActionCheckAvailability:
		s.showSlots(ctx, t, in.AvailabilityEntities())
	case booking.ActionAskCustomerData:
		t.sayf("Got it: %s.", data.Slot.Start.In(s.loc).Format(labelLayout))
	case booking.ActionConfirmSummary:
		s.summarize(ctx, t)
	}
}

func (s *Service) showServices(ctx context.Context, t *turn) {
	all, err := s.catalog.Offerings(ctx)
	if err != nil {
		s.apologize(ctx, t, err)
		return
	}
	items := make([]booking.Offer, 0, len(all))
	for _, o := range all {
		items = append(items, booking.Offer{ID: o.ID, Label: fmt.Sprintf("%s (%d min)", o.Name, o.DurationMinutes)})
	}
	t.m.SetOffers(booking.Offers{State: t.m.State(), Items: items})
}

func (s *Service) showProviders(ctx context.Context, t *turn) {
	ps, err := s.catalog.ProvidersFor(ctx, t.m.Data().Services)
	if err != nil {
		s.apologize(ctx, t, err)
		return
	}
	if len(ps) == 0 {
		t.say("Nobody on the team offers all of those together. You can cancel and pick fewer services.")
		return
	}
	items := make([]booking.Offer, 0, len(ps))
	for _, p := range ps {
		items = append(items, booking.Offer{ID: p.ID, Label: p.Name})
	}
	t.m.SetOffers(booking.Offers{State: t.m.State(), Items: items})
}

func (s *Service) showSlots(ctx context.Context, t *turn, want booking.AvailabilityEntities) {
	data := t.m.Data()
	if auth := toolgate.Authorize(toolgate.ToolCheckAvailability, t.m.State(), data); !auth.Allowed {
		t.log.Info("tool rejected", zap.String("tool", string(toolgate.ToolCheckAvailability)), zap.String("reason", auth.Reason))
		t.say(auth.Redirect)
		return
	}
	p, err := s.catalog.Provider(ctx, data.ProviderID)
	if err != nil {
		s.apologize(ctx, t, err)
		return
	}
	q, err := s.catalog.Quote(ctx, data.Services)
	if err != nil {
		s.apologize(ctx, t, err)
		return
	}

	now := s.now()
	from, to := searchWindow(want.Date, want.TimeText, now, s.loc)
	starts, err := s.calendar.FreeSlots(ctx, p, from, to, q.DurationMinutes)
	if err != nil {
		s.apologize(ctx, t, err)
		return
	}
	if len(starts) == 0 && (want.Date != "" || want.TimeText != "") {
		t.say("Nothing is free then, so here are the next free times.")
		from, to = searchWindow("", "", now, s.loc)
		if starts, err = s.calendar.FreeSlots(ctx, p, from, to, q.DurationMinutes); err != nil {
			s.apologize(ctx, t, err)
			return
		}
	}
	if len(starts) == 0 {
		t.say("There are no free times in the coming week.")
		t.m.SetOffers(booking.Offers{})
		return
	}
	t.m.SetOffers(slotOffers(t.m.State(), starts, q.DurationMinutes, s.loc))
}

func slotOffers(state booking.State, starts []time.Time, minutes int, loc *time.Location) booking.Offers {
	items := make([]booking.Offer, 0, len(starts))
	for _, st := range starts {
		start := st
		items = append(items, booking.Offer{
			ID:              start.UTC().Format(time.RFC3339),
			Label:           start.In(loc).Format(labelLayout),
			Start:           &start,
			DurationMinutes: minutes,
		})
	}
	return booking.Offers{State: state, Items: items}
}

func (s *Service) summarize(ctx context.Context, t *turn) {
	data := t.m.Data()
	provider := data.ProviderID
	if p, err := s.catalog.Provider(ctx, data.ProviderID); err == nil {
		provider = p.Name
	}
	var total catalog.Quote
	if q, err := s.catalog.Quote(ctx, data.Services); err == nil {
		total = q
	}
	t.sayf("%s with %s on %s for %s, %d minutes, %s.",
		strings.Join(s.catalog.Names(ctx, data.Services), " and "),
		provider,
		data.Slot.Start.In(s.loc).Format(labelLayout),
		data.CustomerName,
		data.Slot.DurationMinutes,
		total.Total,
	)
}

func rejection(errs []string) string {
	if len(errs) == 0 {
		return "Sorry, we can't do that at this step."
	}
	msg := errs[0]
	if strings.Contains(msg, "is not allowed in") {
		return "We're not at that step yet."
	}
	return strings.ToUpper(msg[:1]) + msg[1:] + "."
}
