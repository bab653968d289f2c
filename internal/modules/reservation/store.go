// README: Reservation ledger store backed by PostgreSQL (exclusion constraint + conditional updates).
package reservation

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"concierge/internal/types"
)

// Repository is the ledger's storage contract. Every status change is a single conditional write
// so concurrent writers in other goroutines or processes agree without shared memory.
type Repository interface {
	// Insert fails with ErrConflict when an occupying reservation overlaps the same provider.
	Insert(ctx context.Context, r *Reservation) error
	Get(ctx context.Context, id types.ID) (*Reservation, error)
	// UpdateStatus moves a provisional reservation to `to`; confirmation also requires at < hold_deadline.
	// It reports whether a row changed.
	UpdateStatus(ctx context.Context, id types.ID, to Status, at time.Time) (bool, error)
	// MarkReminderSent sets the reminder flag once, only while provisional.
	MarkReminderSent(ctx context.Context, id types.ID, at time.Time) (bool, error)
	SetCalendarEvent(ctx context.Context, id types.ID, eventID string) error
	// ListDue returns provisional reservations whose hold ends at or before `before`, oldest first.
	ListDue(ctx context.Context, before time.Time, limit int) ([]Reservation, error)
	// ListOccupying returns provisional or confirmed reservations of a provider overlapping [from, to).
	ListOccupying(ctx context.Context, providerID string, from, to time.Time) ([]Reservation, error)
}

const (
	pgExclusionViolation = "23P01"
	pgUniqueViolation    = "23505"
)

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

func (s *Store) Insert(ctx context.Context, r *Reservation) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO reservations (
			id, conversation_id, provider_id, services, customer_name,
			slot_start, slot_end, duration_minutes,
			status, hold_deadline, created_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8,
			$9, $10, $11
		)`,
		string(r.ID), r.ConversationID, r.ProviderID, r.Services, r.CustomerName,
		r.SlotStart, r.SlotEnd(), r.DurationMinutes,
		string(r.Status), r.HoldDeadline, r.CreatedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && (pgErr.Code == pgExclusionViolation || pgErr.Code == pgUniqueViolation) {
		return ErrConflict
	}
	return err
}

const selectColumns = `
	SELECT id, conversation_id, provider_id, services, customer_name,
	       slot_start, duration_minutes, status, hold_deadline, reminder_sent_at,
	       COALESCE(calendar_event_id, ''), created_at, confirmed_at, expired_at, cancelled_at
	FROM reservations`

func scanReservation(row pgx.Row) (*Reservation, error) {
	var r Reservation
	var id, status string
	err := row.Scan(
		&id, &r.ConversationID, &r.ProviderID, &r.Services, &r.CustomerName,
		&r.SlotStart, &r.DurationMinutes, &status, &r.HoldDeadline, &r.ReminderSentAt,
		&r.CalendarEventID, &r.CreatedAt, &r.ConfirmedAt, &r.ExpiredAt, &r.CancelledAt,
	)
	if err != nil {
		return nil, err
	}
	r.ID = types.ID(id)
	r.Status = Status(status)
	if r.Services == nil {
		r.Services = []string{}
	}
	return &r, nil
}

func (s *Store) Get(ctx context.Context, id types.ID) (*Reservation, error) {
	r, err := scanReservation(s.db.QueryRow(ctx, selectColumns+` WHERE id = $1`, string(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return r, err
}

func (s *Store) UpdateStatus(ctx context.Context, id types.ID, to Status, at time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE reservations
		SET status = $1,
		    confirmed_at = CASE WHEN $1 = 'confirmed' THEN $3 ELSE confirmed_at END,
		    expired_at = CASE WHEN $1 = 'expired' THEN $3 ELSE expired_at END,
		    cancelled_at = CASE WHEN $1 IN ('cancelled_no_refund','cancelled_refunded') THEN $3 ELSE cancelled_at END
		WHERE id = $2
		  AND status = 'provisional'
		  AND ($1 <> 'confirmed' OR hold_deadline > $3)`,
		string(to), string(id), at,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) MarkReminderSent(ctx context.Context, id types.ID, at time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE reservations
		SET reminder_sent_at = $2
		WHERE id = $1 AND status = 'provisional' AND reminder_sent_at IS NULL`,
		string(id), at,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) SetCalendarEvent(ctx context.Context, id types.ID, eventID string) error {
	tag, err := s.db.Exec(ctx, `UPDATE reservations SET calendar_event_id = $2 WHERE id = $1`, string(id), eventID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) ListDue(ctx context.Context, before time.Time, limit int) ([]Reservation, error) {
	rows, err := s.db.Query(ctx, selectColumns+`
		WHERE status = 'provisional' AND hold_deadline <= $1
		ORDER BY hold_deadline
		LIMIT $2`, before, limit)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

func (s *Store) ListOccupying(ctx context.Context, providerID string, from, to time.Time) ([]Reservation, error) {
	rows, err := s.db.Query(ctx, selectColumns+`
		WHERE provider_id = $1
		  AND status IN ('provisional','confirmed')
		  AND slot_start < $3 AND slot_end > $2
		ORDER BY slot_start`, providerID, from, to)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

func collect(rows pgx.Rows) ([]Reservation, error) {
	defer rows.Close()
	var out []Reservation
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}
