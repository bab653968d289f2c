// README: Conversation orchestrator: one locked load-mutate-store turn per inbound message.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"concierge/internal/modules/booking"
	"concierge/internal/modules/calendar"
	"concierge/internal/modules/catalog"
	"concierge/internal/modules/coherence"
	"concierge/internal/modules/intent"
	"concierge/internal/modules/payment"
	"concierge/internal/modules/reservation"
	"concierge/internal/modules/snapshot"
)

var ErrBadRequest = errors.New("bad request")

// Escalator hands a conversation to a human.
type Escalator interface {
	Escalate(ctx context.Context, conversationID, reason string) error
}

type Deps struct {
	Store     snapshot.Store
	Locker    snapshot.Locker
	Intents   *intent.Gate
	Guard     *coherence.Guard
	Catalog   *catalog.Service
	Calendar  *calendar.Service
	Ledger    *reservation.Service
	Payments  *payment.Service
	Escalator Escalator
	MaxTurns  int
	Location  *time.Location
	Logger    *zap.Logger
}

type Service struct {
	store     snapshot.Store
	locker    snapshot.Locker
	intents   *intent.Gate
	guard     *coherence.Guard
	catalog   *catalog.Service
	calendar  *calendar.Service
	ledger    *reservation.Service
	payments  *payment.Service
	escalator Escalator
	maxTurns  int
	loc       *time.Location
	logger    *zap.Logger
	now       func() time.Time
}

func NewService(d Deps) *Service {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Location == nil {
		d.Location = time.UTC
	}
	if d.Locker == nil {
		d.Locker = snapshot.NewLocalLocker()
	}
	return &Service{
		store:     d.Store,
		locker:    d.Locker,
		intents:   d.Intents,
		guard:     d.Guard,
		catalog:   d.Catalog,
		calendar:  d.Calendar,
		ledger:    d.Ledger,
		payments:  d.Payments,
		escalator: d.Escalator,
		maxTurns:  d.MaxTurns,
		loc:       d.Location,
		logger:    d.Logger,
		now:       time.Now,
	}
}

// Reply is what the customer sees for one message, plus where the conversation now stands.
type Reply struct {
	Text          string           `json:"reply"`
	State         booking.State    `json:"state"`
	Source        coherence.Source `json:"source"`
	ReservationID string           `json:"reservation_id,omitempty"`
	PaymentURL    string           `json:"payment_url,omitempty"`
}

// turn is the working set of one message.
type turn struct {
	id      string
	m       *booking.Machine
	notices []string
	log     *zap.Logger
}

func (t *turn) say(msg string) {
	t.notices = append(t.notices, msg)
}

func (t *turn) sayf(format string, args ...any) {
	t.say(fmt.Sprintf(format, args...))
}

// HandleMessage runs one turn. Turns of the same conversation are serialized; errors are returned
// only when the conversation record itself cannot be read or written.
func (s *Service) HandleMessage(ctx context.Context, conversationID, text string) (Reply, error) {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return Reply{}, fmt.Errorf("%w: conversation id is required", ErrBadRequest)
	}

	unlock, err := s.locker.Lock(ctx, conversationID)
	if err != nil {
		return Reply{}, err
	}
	defer unlock()

	now := s.now()
	snap, err := s.load(ctx, conversationID, now)
	if err != nil {
		return Reply{}, err
	}
	history := recentHistory(snap.Transcript)
	snap.Append(snapshot.RoleUser, text, now, s.maxTurns)

	t := &turn{
		id:  conversationID,
		m:   booking.NewMachine(snap.FSM),
		log: s.logger.With(zap.String("conversation_id", conversationID)),
	}
	in := s.intents.Extract(ctx, intent.Input{
		Message: text,
		State:   t.m.State(),
		Data:    t.m.Data(),
		Offers:  t.m.Offers(),
		History: history,
	})
	t.log.Debug("intent", zap.String("state", string(t.m.State())), zap.String("intent", string(in.Type)), zap.Float64("confidence", in.Confidence))

	s.step(ctx, t, in)
	reply := s.respond(ctx, t, text)

	snap.FSM = t.m.Snapshot()
	snap.Append(snapshot.RoleAssistant, reply.Text, s.now(), s.maxTurns)
	if err := s.store.Save(ctx, &snap); err != nil {
		t.log.Error("save conversation failed", zap.Error(err))
		return Reply{}, fmt.Errorf("save conversation: %w", err)
	}
	return reply, nil
}

// load returns the stored conversation, or a fresh one when it is missing, expired or unreadable.
func (s *Service) load(ctx context.Context, id string, now time.Time) (snapshot.Snapshot, error) {
	snap, err := s.store.Load(ctx, id)
	switch {
	case err == nil:
		return snap, nil
	case errors.Is(err, snapshot.ErrNotFound):
		return snapshot.New(id, now), nil
	case errors.Is(err, snapshot.ErrCorruptSnapshot):
		s.logger.Warn("corrupt conversation snapshot, starting over", zap.String("conversation_id", id), zap.Error(err))
		return snapshot.New(id, now), nil
	}
	return snapshot.Snapshot{}, fmt.Errorf("load conversation: %w", err)
}

const historyTurns = 6

func recentHistory(ts []snapshot.Turn) []intent.Turn {
	if len(ts) > historyTurns {
		ts = ts[len(ts)-historyTurns:]
	}
	out := make([]intent.Turn, 0, len(ts))
	for _, t := range ts {
		out = append(out, intent.Turn{Role: string(t.Role), Text: t.Text})
	}
	return out
}

func (s *Service) respond(ctx context.Context, t *turn, userMessage string) Reply {
	data := t.m.Data()
	names, err := s.catalog.ProviderNames(ctx)
	if err != nil {
		t.log.Warn("provider names unavailable", zap.Error(err))
	}
	req := coherence.Request{
		State:         t.m.State(),
		Data:          data,
		Offers:        t.m.Offers(),
		Guidance:      booking.Guide(t.m.State(), data, t.m.Offers()),
		ProviderNames: names,
		Notice:        strings.Join(t.notices, " "),
		UserMessage:   userMessage,
	}
	out := s.guard.Respond(ctx, req)
	return Reply{
		Text:          out.Text,
		State:         t.m.State(),
		Source:        out.Source,
		ReservationID: data.ReservationID,
		PaymentURL:    data.PaymentURL,
	}
}

// apologize is the answer to any external failure: the state is left as it was and staff are told.
func (s *Service) apologize(ctx context.Context, t *turn, err error) {
	t.log.Warn("external service failed", zap.String("state", string(t.m.State())), zap.Error(err))
	t.say("Sorry, I couldn't reach our booking system just now. Please try again in a moment; I've let the team know.")
	s.escalate(ctx, t, err.Error())
}

func (s *Service) escalate(ctx context.Context, t *turn, reason string) {
	if s.escalator == nil {
		return
	}
	if err := s.escalator.Escalate(ctx, t.id, reason); err != nil {
		t.log.Warn("escalation failed", zap.Error(err))
	}
}
