// README: Reservation ledger service: claim, confirm, release, cancel (all exactly-once).
package reservation

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"concierge/internal/types"
)

var (
	ErrNotFound       = errors.New("reservation not found")
	ErrConflict       = errors.New("slot already claimed")
	ErrHoldExpired    = errors.New("hold deadline passed")
	ErrNotProvisional = errors.New("reservation already resolved")
	ErrBadRequest     = errors.New("bad request")
)

type Service struct {
	store  Repository
	policy HoldPolicy
	logger *zap.Logger
	now    func() time.Time
}

func NewService(store Repository, policy HoldPolicy, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, policy: policy, logger: logger, now: time.Now}
}

type ClaimCommand struct {
	ProviderID      string
	SlotStart       time.Time
	DurationMinutes int
	ConversationID  string
	// HoldMinutes overrides the hold policy when positive.
	HoldMinutes  int
	Services     []string
	CustomerName string
}

// Claim inserts a provisional reservation. Exactly one of any set of concurrent claims for
// overlapping time on the same provider succeeds; the rest get ErrConflict.
func (s *Service) Claim(ctx context.Context, cmd ClaimCommand) (*Reservation, error) {
	if cmd.ProviderID == "" || cmd.ConversationID == "" || cmd.SlotStart.IsZero() || cmd.DurationMinutes <= 0 {
		return nil, ErrBadRequest
	}
	now := s.now()
	if !cmd.SlotStart.After(now) {
		return nil, fmt.Errorf("%w: slot is in the past", ErrBadRequest)
	}

	r := &Reservation{
		ID:              newID(now),
		ConversationID:  cmd.ConversationID,
		ProviderID:      cmd.ProviderID,
		Services:        append([]string{}, cmd.Services...),
		CustomerName:    cmd.CustomerName,
		SlotStart:       cmd.SlotStart,
		DurationMinutes: cmd.DurationMinutes,
		Status:          StatusProvisional,
		HoldDeadline:    s.policy.Deadline(now, cmd.SlotStart, time.Duration(cmd.HoldMinutes)*time.Minute),
		CreatedAt:       now,
	}
	if err := s.store.Insert(ctx, r); err != nil {
		if errors.Is(err, ErrConflict) {
			s.logger.Info("reservation claim conflict",
				zap.String("provider_id", cmd.ProviderID),
				zap.Time("slot_start", cmd.SlotStart),
				zap.String("conversation_id", cmd.ConversationID),
			)
		}
		return nil, err
	}
	s.logger.Info("reservation claimed",
		zap.String("reservation_id", string(r.ID)),
		zap.String("conversation_id", r.ConversationID),
		zap.Time("hold_deadline", r.HoldDeadline),
	)
	return r, nil
}

// Confirm resolves a provisional hold to confirmed. Replaying it on a confirmed reservation is a
// no-op; confirming after the deadline yields ErrHoldExpired, and confirming a reservation that
// already ended otherwise yields ErrNotProvisional.
func (s *Service) Confirm(ctx context.Context, id types.ID) (*Reservation, error) {
	r, _, err := s.resolve(ctx, id, StatusConfirmed)
	return r, err
}

// Release expires a provisional hold. It never overwrites another terminal status: releasing a
// reservation that is already confirmed, expired or cancelled returns it unchanged.
func (s *Service) Release(ctx context.Context, id types.ID) (*Reservation, error) {
	r, _, err := s.resolve(ctx, id, StatusExpired)
	return r, err
}

// Cancel ends a provisional hold at the customer's request. Cancelling twice is a no-op; cancelling
// a confirmed or expired reservation yields ErrNotProvisional.
func (s *Service) Cancel(ctx context.Context, id types.ID, refunded bool) (*Reservation, error) {
	to := StatusCancelledNoRefund
	if refunded {
		to = StatusCancelledRefunded
	}
	r, _, err := s.resolve(ctx, id, to)
	return r, err
}

// resolve applies one terminal transition and reports whether this call performed it.
func (s *Service) resolve(ctx context.Context, id types.ID, to Status) (*Reservation, bool, error) {
	if !CanTransition(StatusProvisional, to) {
		return nil, false, ErrBadRequest
	}
	now := s.now()
	ok, err := s.store.UpdateStatus(ctx, id, to, now)
	if err != nil {
		return nil, false, err
	}
	r, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if ok {
		s.logger.Info("reservation resolved",
			zap.String("reservation_id", string(id)),
			zap.String("status", string(to)),
		)
		return r, true, nil
	}

	switch {
	case r.Status == to:
		return r, false, nil
	case to.Cancelled() && r.Status.Cancelled():
		return r, false, nil
	case to == StatusExpired && r.Status.Terminal():
		return r, false, nil
	case r.Status == StatusProvisional && to == StatusConfirmed && !now.Before(r.HoldDeadline):
		return r, false, ErrHoldExpired
	case r.Status.Terminal():
		return r, false, ErrNotProvisional
	}
	// Still provisional yet the conditional write missed: another writer is mid-flight.
	return r, false, ErrConflict
}

func (s *Service) Get(ctx context.Context, id types.ID) (*Reservation, error) {
	return s.store.Get(ctx, id)
}

// ActiveHolds returns reservations currently occupying the provider's time in [from, to).
func (s *Service) ActiveHolds(ctx context.Context, providerID string, from, to time.Time) ([]Reservation, error) {
	return s.store.ListOccupying(ctx, providerID, from, to)
}

func (s *Service) AttachCalendarEvent(ctx context.Context, id types.ID, eventID string) error {
	return s.store.SetCalendarEvent(ctx, id, eventID)
}

func newID(now time.Time) types.ID {
	return types.ID(ulid.MustNew(ulid.Timestamp(now), rand.Reader).String())
}
