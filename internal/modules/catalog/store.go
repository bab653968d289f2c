// README: Catalog store backed by PostgreSQL, plus an in-memory variant for the demo and tests.
package catalog

import (
	"context"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Repository interface {
	ListOfferings(ctx context.Context) ([]Offering, error)
	ListProviders(ctx context.Context) ([]Provider, error)
}

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

func (s *Store) ListOfferings(ctx context.Context) ([]Offering, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, name, duration_minutes, price_amount, currency
		FROM services
		WHERE active
		ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Offering
	for rows.Next() {
		var o Offering
		if err := rows.Scan(&o.ID, &o.Name, &o.DurationMinutes, &o.Price.Amount, &o.Price.Currency); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *Store) ListProviders(ctx context.Context) ([]Provider, error) {
	rows, err := s.db.Query(ctx, `
		SELECT p.id, p.name, p.calendar_id,
		       COALESCE(array_agg(ps.service_id ORDER BY ps.service_id) FILTER (WHERE ps.service_id IS NOT NULL), '{}')
		FROM providers p
		LEFT JOIN provider_services ps ON ps.provider_id = p.id
		WHERE p.active
		GROUP BY p.id, p.name, p.calendar_id
		ORDER BY p.name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Provider
	for rows.Next() {
		var p Provider
		if err := rows.Scan(&p.ID, &p.Name, &p.CalendarID, &p.Offerings); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

type MemoryStore struct {
	mu        sync.RWMutex
	offerings []Offering
	providers []Provider
}

func NewMemoryStore(offerings []Offering, providers []Provider) *MemoryStore {
	return &MemoryStore{offerings: offerings, providers: providers}
}

func (m *MemoryStore) ListOfferings(context.Context) ([]Offering, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Offering(nil), m.offerings...), nil
}

func (m *MemoryStore) ListProviders(context.Context) ([]Provider, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Provider(nil), m.providers...), nil
}
