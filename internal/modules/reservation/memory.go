package reservation

import (
	"context"
	"sort"
	"sync"
	"time"

	"concierge/internal/types"
)

// MemoryStore is the in-process Repository used by the demo and unit tests. A single mutex gives it
// the same all-or-nothing behavior as the conditional SQL statements.
type MemoryStore struct {
	mu   sync.Mutex
	rows map[types.ID]*Reservation
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[types.ID]*Reservation)}
}

func (m *MemoryStore) Insert(_ context.Context, r *Reservation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[r.ID]; ok {
		return ErrConflict
	}
	for _, cur := range m.rows {
		if cur.ProviderID == r.ProviderID && cur.Status.Occupies() && cur.Slot().Overlaps(r.Slot()) {
			return ErrConflict
		}
	}
	m.rows[r.ID] = clone(r)
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id types.ID) (*Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(r), nil
}

func (m *MemoryStore) UpdateStatus(_ context.Context, id types.ID, to Status, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[id]
	if !ok || r.Status != StatusProvisional {
		return false, nil
	}
	if to == StatusConfirmed && !at.Before(r.HoldDeadline) {
		return false, nil
	}
	r.Status = to
	ts := at
	switch {
	case to == StatusConfirmed:
		r.ConfirmedAt = &ts
	case to == StatusExpired:
		r.ExpiredAt = &ts
	case to.Cancelled():
		r.CancelledAt = &ts
	}
	return true, nil
}

func (m *MemoryStore) MarkReminderSent(_ context.Context, id types.ID, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[id]
	if !ok || r.Status != StatusProvisional || r.ReminderSentAt != nil {
		return false, nil
	}
	ts := at
	r.ReminderSentAt = &ts
	return true, nil
}

func (m *MemoryStore) SetCalendarEvent(_ context.Context, id types.ID, eventID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[id]
	if !ok {
		return ErrNotFound
	}
	r.CalendarEventID = eventID
	return nil
}

func (m *MemoryStore) ListDue(_ context.Context, before time.Time, limit int) ([]Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Reservation
	for _, r := range m.rows {
		if r.Status == StatusProvisional && !r.HoldDeadline.After(before) {
			out = append(out, *clone(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].HoldDeadline.Before(out[j].HoldDeadline) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) ListOccupying(_ context.Context, providerID string, from, to time.Time) ([]Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Reservation
	for _, r := range m.rows {
		if r.ProviderID == providerID && r.Status.Occupies() && r.SlotStart.Before(to) && r.SlotEnd().After(from) {
			out = append(out, *clone(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SlotStart.Before(out[j].SlotStart) })
	return out, nil
}

func clone(r *Reservation) *Reservation {
	c := *r
	c.Services = append([]string{}, r.Services...)
	return &c
}
