// README: Provider availability: working hours minus calendar busy time minus ledger holds.
package calendar

import (
	"context"
	"errors"
	"sort"
	"time"

	"go.uber.org/zap"

	"concierge/internal/infra"
	"concierge/internal/modules/catalog"
	"concierge/internal/modules/reservation"
)

var ErrNoCalendar = errors.New("provider has no calendar")

type Period struct {
	Start time.Time
	End   time.Time
}

func (p Period) Overlaps(start, end time.Time) bool {
	return p.Start.Before(end) && start.Before(p.End)
}

type Event struct {
	Summary     string
	Description string
	Start       time.Time
	End         time.Time
}

// Source is the provider's external calendar.
type Source interface {
	Busy(ctx context.Context, calendarID string, from, to time.Time) ([]Period, error)
	CreateEvent(ctx context.Context, calendarID string, ev Event) (string, error)
	DeleteEvent(ctx context.Context, calendarID, eventID string) error
}

// HoldLister reports ledger reservations occupying a provider's time.
type HoldLister interface {
	ActiveHolds(ctx context.Context, providerID string, from, to time.Time) ([]reservation.Reservation, error)
}

// WorkingHours are offsets from local midnight on the listed weekdays.
type WorkingHours struct {
	Open  time.Duration
	Close time.Duration
	Days  []time.Weekday
}

func DefaultWorkingHours() WorkingHours {
	return WorkingHours{
		Open:  9 * time.Hour,
		Close: 18 * time.Hour,
		Days:  []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday, time.Saturday},
	}
}

func (w WorkingHours) works(d time.Weekday) bool {
	for _, wd := range w.Days {
		if wd == d {
			return true
		}
	}
	return false
}

type Options struct {
	Timeout  time.Duration
	Step     time.Duration
	Hours    WorkingHours
	Location *time.Location
	MaxSlots int
}

type Service struct {
	source Source
	holds  HoldLister
	opts   Options
	logger *zap.Logger
	now    func() time.Time
}

func NewService(source Source, holds HoldLister, opts Options, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Step <= 0 {
		opts.Step = 30 * time.Minute
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Hours.Close <= opts.Hours.Open {
		opts.Hours = DefaultWorkingHours()
	}
	if opts.MaxSlots <= 0 {
		opts.MaxSlots = 5
	}
	return &Service{source: source, holds: holds, opts: opts, logger: logger, now: time.Now}
}

func (s *Service) Location() *time.Location {
	return s.opts.Location
}

// FreeSlots lists start times in [from, to) where the provider can take a booking of the given
// length, earliest first, at most MaxSlots of them.
func (s *Service) FreeSlots(ctx context.Context, p catalog.Provider, from, to time.Time, durationMinutes int) ([]time.Time, error) {
	if durationMinutes <= 0 || !from.Before(to) {
		return nil, nil
	}
	if now := s.now(); from.Before(now) {
		from = now
	}
	blocked, err := s.blocked(ctx, p, from, to)
	if err != nil {
		return nil, err
	}

	length := time.Duration(durationMinutes) * time.Minute
	loc := s.opts.Location
	var out []time.Time
	day := time.Date(from.In(loc).Year(), from.In(loc).Month(), from.In(loc).Day(), 0, 0, 0, 0, loc)
	for ; day.Before(to) && len(out) < s.opts.MaxSlots; day = day.AddDate(0, 0, 1) {
		if !s.opts.Hours.works(day.Weekday()) {
			continue
		}
		closeAt := day.Add(s.opts.Hours.Close)
		for start := day.Add(s.opts.Hours.Open); !start.Add(length).After(closeAt); start = start.Add(s.opts.Step) {
			if start.Before(from) || !start.Before(to) {
				continue
			}
			if free(blocked, start, start.Add(length)) {
				out = append(out, start)
				if len(out) == s.opts.MaxSlots {
					break
				}
			}
		}
	}
	return out, nil
}

// IsFree reports whether one exact slot can still be booked with the provider.
func (s *Service) IsFree(ctx context.Context, p catalog.Provider, start time.Time, durationMinutes int) (bool, error) {
	if durationMinutes <= 0 || !start.After(s.now()) {
		return false, nil
	}
	end := start.Add(time.Duration(durationMinutes) * time.Minute)
	local := start.In(s.opts.Location)
	day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, s.opts.Location)
	if !s.opts.Hours.works(day.Weekday()) || start.Before(day.Add(s.opts.Hours.Open)) || end.After(day.Add(s.opts.Hours.Close)) {
		return false, nil
	}
	blocked, err := s.blocked(ctx, p, start, end)
	if err != nil {
		return false, err
	}
	return free(blocked, start, end), nil
}

// CreateEvent writes a confirmed booking onto the provider's calendar.
func (s *Service) CreateEvent(ctx context.Context, p catalog.Provider, ev Event) (string, error) {
	if p.CalendarID == "" {
		return "", ErrNoCalendar
	}
	var id string
	err := infra.Call(ctx, s.opts.Timeout, "calendar.create_event", func(ctx context.Context) error {
		var err error
		id, err = s.source.CreateEvent(ctx, p.CalendarID, ev)
		return err
	})
	return id, err
}

func (s *Service) DeleteEvent(ctx context.Context, p catalog.Provider, eventID string) error {
	if p.CalendarID == "" || eventID == "" {
		return nil
	}
	return infra.Call(ctx, s.opts.Timeout, "calendar.delete_event", func(ctx context.Context) error {
		return s.source.DeleteEvent(ctx, p.CalendarID, eventID)
	})
}

func (s *Service) blocked(ctx context.Context, p catalog.Provider, from, to time.Time) ([]Period, error) {
	var busy []Period
	if p.CalendarID != "" {
		err := infra.Call(ctx, s.opts.Timeout, "calendar.busy", func(ctx context.Context) error {
			var err error
			busy, err = s.source.Busy(ctx, p.CalendarID, from, to)
			return err
		})
		if err != nil {
			s.logger.Warn("calendar lookup failed", zap.String("provider_id", p.ID), zap.Error(err))
			return nil, err
		}
	}
	if s.holds != nil {
		held, err := s.holds.ActiveHolds(ctx, p.ID, from, to)
		if err != nil {
			return nil, err
		}
		for _, r := range held {
			busy = append(busy, Period{Start: r.SlotStart, End: r.SlotEnd()})
		}
	}
	sort.Slice(busy, func(i, j int) bool { return busy[i].Start.Before(busy[j].Start) })
	return busy, nil
}

func free(blocked []Period, start, end time.Time) bool {
	for _, b := range blocked {
		if b.Overlaps(start, end) {
			return false
		}
	}
	return true
}
