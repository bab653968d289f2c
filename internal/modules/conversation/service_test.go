package conversation

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"concierge/internal/ai"
	"concierge/internal/modules/booking"
	"concierge/internal/modules/calendar"
	"concierge/internal/modules/catalog"
	"concierge/internal/modules/coherence"
	"concierge/internal/modules/intent"
	"concierge/internal/modules/payment"
	"concierge/internal/modules/reservation"
	"concierge/internal/modules/snapshot"
	"concierge/internal/types"
)

var messageRe = regexp.MustCompile(`(?m)^Message: (".*")$`)

// scriptedOracle answers intent prompts from a fixed table and fails reply prompts, so replies
// come from the deterministic templates.
type scriptedOracle map[string]string

func (o scriptedOracle) Complete(_ context.Context, prompt string) (string, error) {
	if !strings.HasPrefix(prompt, "You classify") {
		return "", ai.ErrOracle
	}
	m := messageRe.FindStringSubmatch(prompt)
	if m == nil {
		return "", ai.ErrOracle
	}
	msg, err := strconv.Unquote(m[1])
	if err != nil {
		return "", err
	}
	if out, ok := o[msg]; ok {
		return out, nil
	}
	return `{"intent": "unknown", "confidence": 0.1}`, nil
}

var script = scriptedOracle{
	"I'd like an appointment": `{"intent": "start_booking", "confidence": 0.95}`,
	"Bo please":               `{"intent": "select_provider", "confidence": 0.9, "provider": "Bo"}`,
	"I'm Ana":                 `{"intent": "provide_customer_data", "confidence": 0.9, "name": "Ana"}`,
	"I'm Rui":                 `{"intent": "provide_customer_data", "confidence": 0.9, "name": "Rui"}`,
	"Friday afternoon":        `{"intent": "select_slot", "confidence": 0.8, "time": "Friday afternoon"}`,
	"a massage":               `{"intent": "select_service", "confidence": 0.9, "services": ["massage"]}`,
}

type recordingEscalator struct {
	mu      sync.Mutex
	reasons []string
}

func (r *recordingEscalator) Escalate(_ context.Context, _ string, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reasons = append(r.reasons, reason)
	return nil
}

type downSource struct{ *calendar.StaticSource }

func (downSource) Busy(context.Context, string, time.Time, time.Time) ([]calendar.Period, error) {
	return nil, errors.New("calendar 503")
}

type fixture struct {
	svc    *Service
	store  *snapshot.MemoryStore
	ledger *reservation.Service
	esc    *recordingEscalator
}

func newFixture(t *testing.T, src calendar.Source) fixture {
	t.Helper()
	cat := catalog.NewService(catalog.NewMemoryStore(
		[]catalog.Offering{
			{ID: "haircut", Name: "Haircut", DurationMinutes: 30, Price: types.Money{Amount: 2500, Currency: "usd"}},
			{ID: "beard", Name: "Beard trim", DurationMinutes: 15, Price: types.Money{Amount: 1000, Currency: "usd"}},
		},
		[]catalog.Provider{
			{ID: "P1", Name: "Bo", CalendarID: "bo@cal", Offerings: []string{"haircut", "beard"}},
			{ID: "P2", Name: "Carla", Offerings: []string{"haircut"}},
		},
	), "usd")
	ledger := reservation.NewService(reservation.NewMemoryStore(), reservation.HoldPolicy{SameDay: 15 * time.Minute, Advance: time.Hour}, nil)
	cal := calendar.NewService(src, ledger, calendar.Options{Timeout: time.Second, MaxSlots: 3}, nil)
	pay := payment.NewService(payment.LocalLinks{BaseURL: "https://pay.test"}, ledger, cat, cal, nil, time.Second, nil)
	store := snapshot.NewMemoryStore(time.Hour)
	esc := &recordingEscalator{}

	svc := NewService(Deps{
		Store:     store,
		Intents:   intent.NewGate(script, time.UTC, nil),
		Guard:     coherence.NewGuard(script, nil),
		Catalog:   cat,
		Calendar:  cal,
		Ledger:    ledger,
		Payments:  pay,
		Escalator: esc,
		MaxTurns:  100,
		Location:  time.UTC,
	})
	return fixture{svc: svc, store: store, ledger: ledger, esc: esc}
}

// nextMonday is 08:00 on the first Monday at least two days away.
func nextMonday(from time.Time) time.Time {
	d := from.UTC().AddDate(0, 0, 2)
	for d.Weekday() != time.Monday {
		d = d.AddDate(0, 0, 1)
	}
	return time.Date(d.Year(), d.Month(), d.Day(), 8, 0, 0, 0, time.UTC)
}

func (f fixture) say(t *testing.T, conv, text string) Reply {
	t.Helper()
	r, err := f.svc.HandleMessage(context.Background(), conv, text)
	require.NoError(t, err)
	return r
}

func (f fixture) load(t *testing.T, conv string) snapshot.Snapshot {
	t.Helper()
	snap, err := f.store.Load(context.Background(), conv)
	require.NoError(t, err)
	return snap
}

// toConfirmation walks a conversation up to the booking summary with the first offered slot.
func (f fixture) toConfirmation(t *testing.T, conv, name string) {
	t.Helper()
	require.Equal(t, booking.StateServiceSelection, f.say(t, conv, "I'd like an appointment").State)
	require.Equal(t, booking.StateServiceSelection, f.say(t, conv, "1").State)
	require.Equal(t, booking.StateProviderSelection, f.say(t, conv, "done").State)
	require.Equal(t, booking.StateSlotSelection, f.say(t, conv, "Bo please").State)
	require.Equal(t, booking.StateCustomerData, f.say(t, conv, "1").State)
	require.Equal(t, booking.StateConfirmation, f.say(t, conv, name).State)
}

func TestHappyPathToBooked(t *testing.T) {
	f := newFixture(t, calendar.NewStaticSource())
	const conv = "c1"

	r := f.say(t, conv, "I'd like an appointment")
	assert.Equal(t, booking.StateServiceSelection, r.State)
	assert.Empty(t, f.load(t, conv).FSM.Data.Services)
	assert.Contains(t, r.Text, "Haircut (30 min)")

	r = f.say(t, conv, "1")
	assert.Contains(t, r.Text, "Added Haircut.")
	assert.Equal(t, []string{"haircut"}, f.load(t, conv).FSM.Data.Services)

	r = f.say(t, conv, "done")
	assert.Equal(t, booking.StateProviderSelection, r.State)
	assert.Contains(t, r.Text, "Bo")
	assert.Contains(t, r.Text, "Carla")

	r = f.say(t, conv, "Bo please")
	assert.Equal(t, booking.StateSlotSelection, r.State)
	offers := f.load(t, conv).FSM.Offers
	require.Equal(t, booking.StateSlotSelection, offers.State)
	require.NotEmpty(t, offers.Items)
	first := *offers.Items[0].Start

	r = f.say(t, conv, "1")
	assert.Equal(t, booking.StateCustomerData, r.State)
	slot := f.load(t, conv).FSM.Data.Slot
	require.NotNil(t, slot)
	assert.True(t, first.Equal(slot.Start))
	assert.Equal(t, 30, slot.DurationMinutes)

	r = f.say(t, conv, "I'm Ana")
	assert.Equal(t, booking.StateConfirmation, r.State)
	assert.Contains(t, r.Text, "Ana")
	assert.Contains(t, r.Text, "25.00 USD")
	assert.NotContains(t, r.Text, "https://")

	r = f.say(t, conv, "yes")
	assert.Equal(t, booking.StateBooked, r.State)
	require.NotEmpty(t, r.ReservationID)
	assert.Equal(t, "https://pay.test/"+r.ReservationID, r.PaymentURL)
	assert.Contains(t, r.Text, r.PaymentURL)

	res, err := f.ledger.Get(context.Background(), types.ID(r.ReservationID))
	require.NoError(t, err)
	assert.Equal(t, reservation.StatusProvisional, res.Status)
	assert.Equal(t, "P1", res.ProviderID)
	assert.True(t, first.Equal(res.SlotStart))
	assert.Equal(t, "Ana", res.CustomerName)

	snap := f.load(t, conv)
	assert.Len(t, snap.Transcript, 14)
	assert.EqualValues(t, 7, snap.Version)
}

func TestVagueTimeChecksAvailability(t *testing.T) {
	f := newFixture(t, calendar.NewStaticSource())
	monday := nextMonday(time.Now())
	f.svc.now = func() time.Time { return monday }
	const conv = "c-vague"
	f.say(t, conv, "I'd like an appointment")
	f.say(t, conv, "1")
	f.say(t, conv, "done")
	f.say(t, conv, "Bo please")

	r := f.say(t, conv, "Friday afternoon")
	assert.Equal(t, booking.StateSlotSelection, r.State)
	snap := f.load(t, conv)
	assert.Nil(t, snap.FSM.Data.Slot)
	require.NotEmpty(t, snap.FSM.Offers.Items)
	for _, o := range snap.FSM.Offers.Items {
		assert.Equal(t, monday.AddDate(0, 0, 4).Day(), o.Start.Day())
		assert.GreaterOrEqual(t, o.Start.Hour(), 12)
	}
}

func TestCancelReleasesHold(t *testing.T) {
	f := newFixture(t, calendar.NewStaticSource())
	const conv = "c-cancel"
	f.toConfirmation(t, conv, "I'm Ana")
	booked := f.say(t, conv, "yes")
	require.Equal(t, booking.StateBooked, booked.State)

	r := f.say(t, conv, "cancel")
	assert.Equal(t, booking.StateIdle, r.State)
	assert.Contains(t, r.Text, "cancelled")

	res, err := f.ledger.Get(context.Background(), types.ID(booked.ReservationID))
	require.NoError(t, err)
	assert.Equal(t, reservation.StatusCancelledNoRefund, res.Status)

	data := f.load(t, conv).FSM.Data
	assert.Empty(t, data.Services)
	assert.Empty(t, data.ReservationID)
	assert.Nil(t, data.Slot)
}

func TestAcknowledgingPaymentLinkKeepsHold(t *testing.T) {
	f := newFixture(t, calendar.NewStaticSource())
	const conv = "c-ack"
	f.toConfirmation(t, conv, "I'm Ana")
	booked := f.say(t, conv, "yes")
	require.Equal(t, booking.StateBooked, booked.State)

	r := f.say(t, conv, "ok")
	assert.Equal(t, booking.StateBooked, r.State)
	assert.Contains(t, r.Text, booked.PaymentURL)

	data := f.load(t, conv).FSM.Data
	assert.Equal(t, booked.ReservationID, data.ReservationID)
	assert.Equal(t, booked.PaymentURL, data.PaymentURL)

	// A later cancel still finds the hold.
	f.say(t, conv, "cancel")
	res, err := f.ledger.Get(context.Background(), types.ID(booked.ReservationID))
	require.NoError(t, err)
	assert.Equal(t, reservation.StatusCancelledNoRefund, res.Status)
}

func TestRestartWaitsForPendingPayment(t *testing.T) {
	f := newFixture(t, calendar.NewStaticSource())
	const conv = "c-restart"
	f.toConfirmation(t, conv, "I'm Ana")
	booked := f.say(t, conv, "yes")

	r := f.say(t, conv, "I'd like an appointment")
	assert.Equal(t, booking.StateBooked, r.State)
	assert.Contains(t, r.Text, "waiting for payment")
	assert.Equal(t, booked.ReservationID, f.load(t, conv).FSM.Data.ReservationID)

	_, err := f.ledger.Confirm(context.Background(), types.ID(booked.ReservationID))
	require.NoError(t, err)

	r = f.say(t, conv, "I'd like an appointment")
	assert.Equal(t, booking.StateServiceSelection, r.State)
	assert.Empty(t, f.load(t, conv).FSM.Data.ReservationID)
}

func TestCancelPaidBookingEscalates(t *testing.T) {
	f := newFixture(t, calendar.NewStaticSource())
	const conv = "c-paid"
	f.toConfirmation(t, conv, "I'm Ana")
	booked := f.say(t, conv, "yes")
	_, err := f.ledger.Confirm(context.Background(), types.ID(booked.ReservationID))
	require.NoError(t, err)

	r := f.say(t, conv, "cancel")
	assert.Equal(t, booking.StateIdle, r.State)
	assert.Contains(t, r.Text, "refund")
	require.Len(t, f.esc.reasons, 1)
	assert.Contains(t, f.esc.reasons[0], booked.ReservationID)

	res, err := f.ledger.Get(context.Background(), types.ID(booked.ReservationID))
	require.NoError(t, err)
	assert.Equal(t, reservation.StatusConfirmed, res.Status)
}

func TestLosingClaimReoffersTimes(t *testing.T) {
	f := newFixture(t, calendar.NewStaticSource())
	f.toConfirmation(t, "winner", "I'm Ana")
	f.toConfirmation(t, "loser", "I'm Rui")
	wanted := *f.load(t, "loser").FSM.Data.Slot

	won := f.say(t, "winner", "yes")
	require.Equal(t, booking.StateBooked, won.State)

	r := f.say(t, "loser", "yes")
	assert.Equal(t, booking.StateSlotSelection, r.State)
	assert.Contains(t, r.Text, "just taken")
	assert.Empty(t, r.ReservationID)

	snap := f.load(t, "loser")
	assert.Nil(t, snap.FSM.Data.Slot)
	assert.Equal(t, "Rui", snap.FSM.Data.CustomerName)
	for _, o := range snap.FSM.Offers.Items {
		assert.False(t, wanted.Start.Equal(*o.Start), "taken slot must not be offered again")
	}
}

func TestCalendarOutageApologizesAndEscalates(t *testing.T) {
	f := newFixture(t, downSource{calendar.NewStaticSource()})
	const conv = "c-down"
	f.say(t, conv, "I'd like an appointment")
	f.say(t, conv, "1")
	f.say(t, conv, "done")

	r := f.say(t, conv, "Bo please")
	assert.Contains(t, r.Text, "try again")
	assert.NotEqual(t, booking.StateSlotSelection, f.load(t, conv).FSM.Offers.State)
	require.Len(t, f.esc.reasons, 1)
	assert.Contains(t, f.esc.reasons[0], "calendar")
}

func TestRejectedAndUnknownLeaveStateAlone(t *testing.T) {
	f := newFixture(t, calendar.NewStaticSource())
	const conv = "c-reject"
	f.say(t, conv, "I'd like an appointment")

	r := f.say(t, conv, "what's the weather")
	assert.Equal(t, booking.StateServiceSelection, r.State)
	assert.Contains(t, r.Text, "didn't quite get that")

	r = f.say(t, conv, "a massage")
	assert.Equal(t, booking.StateServiceSelection, r.State)
	assert.Contains(t, r.Text, "We don't offer massage.")
	assert.Empty(t, f.load(t, conv).FSM.Data.Services)

	r = f.say(t, conv, "done")
	assert.Equal(t, booking.StateServiceSelection, r.State)
	assert.Contains(t, r.Text, "Choose at least one service first.")
}

func TestCorruptSnapshotStartsFresh(t *testing.T) {
	f := newFixture(t, calendar.NewStaticSource())
	f.store.Put("c-corrupt", []byte(`{"conversation_id": "c-corrupt", "fsm_state": {"state": "nowhere"`))

	r := f.say(t, "c-corrupt", "I'd like an appointment")
	assert.Equal(t, booking.StateServiceSelection, r.State)
	snap := f.load(t, "c-corrupt")
	assert.Len(t, snap.Transcript, 2)
}

func TestMissingConversationID(t *testing.T) {
	f := newFixture(t, calendar.NewStaticSource())
	_, err := f.svc.HandleMessage(context.Background(), "  ", "hi")
	assert.ErrorIs(t, err, ErrBadRequest)
}

func TestConcurrentMessagesAreSerialized(t *testing.T) {
	f := newFixture(t, calendar.NewStaticSource())
	const conv = "c-busy"
	const n = 10

	var wg sync.WaitGroup
	start := make(chan struct{})
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, err := f.svc.HandleMessage(context.Background(), conv, fmt.Sprintf("hello %d", i))
			errs <- err
		}(i)
	}
	close(start)
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	snap := f.load(t, conv)
	assert.EqualValues(t, n, snap.Version)
	require.Len(t, snap.Transcript, 2*n)
	for i := 0; i < len(snap.Transcript); i += 2 {
		assert.Equal(t, snapshot.RoleUser, snap.Transcript[i].Role)
		assert.Equal(t, snapshot.RoleAssistant, snap.Transcript[i+1].Role)
	}
}

func TestSearchWindow(t *testing.T) {
	// Wednesday.
	now := time.Date(2030, 1, 9, 10, 30, 0, 0, time.UTC)
	day := func(d, h int) time.Time { return time.Date(2030, 1, d, h, 0, 0, 0, time.UTC) }

	cases := []struct {
		name, date, time string
		from, to         time.Time
	}{
		{"nothing", "", "", now, day(17, 0)},
		{"iso date", "2030-01-14", "", day(14, 0), day(15, 0)},
		{"tomorrow morning", "tomorrow", "morning", day(10, 6), day(10, 12)},
		{"friday afternoon", "", "Friday afternoon", day(11, 12), day(11, 17)},
		{"today clamps to now", "today", "", now, day(10, 0)},
		{"short weekday", "fri", "evening", day(11, 17), day(11, 23)},
		{"same weekday is today", "wednesday", "", now, day(10, 0)},
		{"first named day wins", "", "friday or else monday", day(11, 0), day(12, 0)},
		{"abbreviation before full name", "", "mon, if not then friday", day(14, 0), day(15, 0)},
		{"abbreviation with punctuation", "", "thurs. morning", day(10, 6), day(10, 12)},
		{"weekday inside another word", "", "sunny", now, day(17, 0)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			from, to := searchWindow(tc.date, tc.time, now, time.UTC)
			assert.Equal(t, tc.from, from)
			assert.Equal(t, tc.to, to)
		})
	}
}
