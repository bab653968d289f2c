package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"concierge/internal/infra"
	"concierge/internal/modules/calendar"
	"concierge/internal/modules/catalog"
	"concierge/internal/modules/reservation"
	"concierge/internal/types"
)

var ErrUnknownStatus = errors.New("unknown payment status")

type Status string

const (
	StatusPaid     Status = "paid"
	StatusExpired  Status = "expired"
	StatusFailed   Status = "failed"
	StatusRefunded Status = "refunded"
)

// Event is one payment processor notification.
type Event struct {
	ReservationID types.ID `json:"reservation_id" binding:"required"`
	Status        Status   `json:"status" binding:"required"`
}

type Ledger interface {
	Confirm(ctx context.Context, id types.ID) (*reservation.Reservation, error)
	Release(ctx context.Context, id types.ID) (*reservation.Reservation, error)
	Cancel(ctx context.Context, id types.ID, refunded bool) (*reservation.Reservation, error)
	AttachCalendarEvent(ctx context.Context, id types.ID, eventID string) error
}

type Calendar interface {
	CreateEvent(ctx context.Context, p catalog.Provider, ev calendar.Event) (string, error)
	DeleteEvent(ctx context.Context, p catalog.Provider, eventID string) error
}

type Notifier interface {
	BookingConfirmed(ctx context.Context, r reservation.Reservation, providerName string) error
	Escalate(ctx context.Context, conversationID, reason string) error
}

type Service struct {
	links    Links
	ledger   Ledger
	catalog  *catalog.Service
	calendar Calendar
	notifier Notifier
	timeout  time.Duration
	logger   *zap.Logger
}

func NewService(links Links, ledger Ledger, cat *catalog.Service, cal Calendar, notifier Notifier, timeout time.Duration, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{links: links, ledger: ledger, catalog: cat, calendar: cal, notifier: notifier, timeout: timeout, logger: logger}
}

// Link creates the payment link for a provisional hold. The link expires with the hold.
func (s *Service) Link(ctx context.Context, r *reservation.Reservation, q catalog.Quote) (string, error) {
	req := LinkRequest{
		ReservationID:  r.ID,
		ConversationID: r.ConversationID,
		Description:    strings.Join(s.catalog.Names(ctx, r.Services), " + "),
		Amount:         q.Total,
		ExpiresAt:      r.HoldDeadline,
	}
	var url string
	err := infra.Call(ctx, s.timeout, "payment.create_link", func(ctx context.Context) error {
		var err error
		url, err = s.links.CreateLink(ctx, req)
		return err
	})
	if err != nil {
		s.logger.Warn("payment link failed", zap.String("reservation_id", string(r.ID)), zap.Error(err))
		return "", err
	}
	return url, nil
}

// Outcome reports what a payment event did to the ledger.
type Outcome struct {
	Reservation *reservation.Reservation
	Escalated   bool
}

// HandleEvent drives the ledger from a payment notification. Replays are safe. Payments that
// arrive after the hold ended are not errors for the processor; they are escalated to staff.
func (s *Service) HandleEvent(ctx context.Context, ev Event) (Outcome, error) {
	log := s.logger.With(zap.String("reservation_id", string(ev.ReservationID)), zap.String("payment_status", string(ev.Status)))

	switch ev.Status {
	case StatusPaid:
		r, err := s.ledger.Confirm(ctx, ev.ReservationID)
		if errors.Is(err, reservation.ErrHoldExpired) || errors.Is(err, reservation.ErrNotProvisional) {
			log.Warn("payment for a hold that is no longer open", zap.Error(err))
			s.escalate(ctx, r, fmt.Sprintf("payment received for reservation %s but %v; refund or rebook manually", ev.ReservationID, err))
			return Outcome{Reservation: r, Escalated: true}, nil
		}
		if err != nil {
			return Outcome{}, err
		}
		s.finishBooking(ctx, r, log)
		return Outcome{Reservation: r}, nil

	case StatusExpired, StatusFailed:
		r, err := s.ledger.Release(ctx, ev.ReservationID)
		if err != nil {
			return Outcome{}, err
		}
		return Outcome{Reservation: r}, nil

	case StatusRefunded:
		r, err := s.ledger.Cancel(ctx, ev.ReservationID, true)
		if errors.Is(err, reservation.ErrNotProvisional) {
			log.Warn("refund for a resolved reservation", zap.String("status", string(r.Status)))
			s.escalate(ctx, r, fmt.Sprintf("refund issued for reservation %s in status %s", ev.ReservationID, r.Status))
			return Outcome{Reservation: r, Escalated: true}, nil
		}
		if err != nil {
			return Outcome{}, err
		}
		return Outcome{Reservation: r}, nil
	}
	return Outcome{}, fmt.Errorf("%w: %q", ErrUnknownStatus, ev.Status)
}

// finishBooking puts a confirmed booking on the provider's calendar and tells the customer.
// Failures here do not undo the confirmation; staff are told instead.
func (s *Service) finishBooking(ctx context.Context, r *reservation.Reservation, log *zap.Logger) {
	p, err := s.catalog.Provider(ctx, r.ProviderID)
	if err != nil {
		log.Error("provider lookup failed", zap.Error(err))
		s.escalate(ctx, r, "confirmed booking for unknown provider "+r.ProviderID)
		return
	}

	if r.CalendarEventID == "" && s.calendar != nil && p.CalendarID != "" {
		eventID, err := s.calendar.CreateEvent(ctx, p, calendar.Event{
			Summary:     fmt.Sprintf("%s: %s", r.CustomerName, strings.Join(s.catalog.Names(ctx, r.Services), ", ")),
			Description: "reservation " + string(r.ID),
			Start:       r.SlotStart,
			End:         r.SlotEnd(),
		})
		switch {
		case err != nil:
			log.Warn("calendar event failed", zap.Error(err))
			s.escalate(ctx, r, "confirmed booking could not be added to the calendar")
		default:
			if err := s.ledger.AttachCalendarEvent(ctx, r.ID, eventID); err != nil {
				log.Error("attach calendar event failed", zap.Error(err))
				if derr := s.calendar.DeleteEvent(ctx, p, eventID); derr != nil {
					log.Warn("calendar event cleanup failed", zap.Error(derr))
				}
			} else {
				r.CalendarEventID = eventID
			}
		}
	}

	if s.notifier != nil {
		if err := s.notifier.BookingConfirmed(ctx, *r, p.Name); err != nil {
			log.Warn("confirmation message failed", zap.Error(err))
		}
	}
}

func (s *Service) escalate(ctx context.Context, r *reservation.Reservation, reason string) {
	if s.notifier == nil || r == nil {
		return
	}
	if err := s.notifier.Escalate(ctx, r.ConversationID, reason); err != nil {
		s.logger.Warn("escalation failed", zap.String("reservation_id", string(r.ID)), zap.Error(err))
	}
}
