// README: Catalog service resolves free-text service/provider names and quotes a selection.
package catalog

import (
	"context"
	"errors"
	"strings"

	"concierge/internal/types"
)

var ErrNotFound = errors.New("catalog entry not found")

type Service struct {
	store    Repository
	currency string
}

func NewService(store Repository, currency string) *Service {
	if currency == "" {
		currency = "usd"
	}
	return &Service{store: store, currency: currency}
}

func (s *Service) Offerings(ctx context.Context) ([]Offering, error) {
	return s.store.ListOfferings(ctx)
}

func (s *Service) Offering(ctx context.Context, id string) (Offering, error) {
	all, err := s.store.ListOfferings(ctx)
	if err != nil {
		return Offering{}, err
	}
	for _, o := range all {
		if o.ID == id {
			return o, nil
		}
	}
	return Offering{}, ErrNotFound
}

// ResolveOfferings maps names the customer used onto offering ids. Names that match nothing are
// returned separately.
func (s *Service) ResolveOfferings(ctx context.Context, names []string) (ids []string, unknown []string, err error) {
	all, err := s.store.ListOfferings(ctx)
	if err != nil {
		return nil, nil, err
	}
	for _, name := range names {
		if o, ok := matchOffering(all, name); ok {
			ids = append(ids, o.ID)
		} else {
			unknown = append(unknown, name)
		}
	}
	return ids, unknown, nil
}

func matchOffering(all []Offering, name string) (Offering, bool) {
	n := normalize(name)
	if n == "" {
		return Offering{}, false
	}
	for _, o := range all {
		if o.ID == name || normalize(o.Name) == n {
			return o, true
		}
	}
	var hit Offering
	hits := 0
	for _, o := range all {
		on := normalize(o.Name)
		if strings.Contains(on, n) || strings.Contains(n, on) {
			hit = o
			hits++
		}
	}
	return hit, hits == 1
}

// ProvidersFor lists providers who perform every one of the given offerings.
func (s *Service) ProvidersFor(ctx context.Context, offeringIDs []string) ([]Provider, error) {
	all, err := s.store.ListProviders(ctx)
	if err != nil {
		return nil, err
	}
	var out []Provider
	for _, p := range all {
		if p.Performs(offeringIDs) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *Service) Provider(ctx context.Context, id string) (Provider, error) {
	all, err := s.store.ListProviders(ctx)
	if err != nil {
		return Provider{}, err
	}
	for _, p := range all {
		if p.ID == id {
			return p, nil
		}
	}
	return Provider{}, ErrNotFound
}

// ResolveProvider finds the provider the customer named among those able to do the selection.
func (s *Service) ResolveProvider(ctx context.Context, name string, offeringIDs []string) (Provider, bool, error) {
	candidates, err := s.ProvidersFor(ctx, offeringIDs)
	if err != nil {
		return Provider{}, false, err
	}
	n := normalize(name)
	if n == "" {
		return Provider{}, false, nil
	}
	for _, p := range candidates {
		if p.ID == name || normalize(p.Name) == n {
			return p, true, nil
		}
	}
	var hit Provider
	hits := 0
	for _, p := range candidates {
		first := strings.Fields(normalize(p.Name))
		if strings.Contains(normalize(p.Name), n) || (len(first) > 0 && first[0] == n) {
			hit = p
			hits++
		}
	}
	return hit, hits == 1, nil
}

// ProviderNames returns every provider name, used to keep replies from naming staff too early.
func (s *Service) ProviderNames(ctx context.Context) ([]string, error) {
	all, err := s.store.ListProviders(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(all))
	for _, p := range all {
		names = append(names, p.Name)
	}
	return names, nil
}

// Quote adds up the duration and price of the selected offerings.
func (s *Service) Quote(ctx context.Context, offeringIDs []string) (Quote, error) {
	all, err := s.store.ListOfferings(ctx)
	if err != nil {
		return Quote{}, err
	}
	q := Quote{Total: types.Money{Currency: s.currency}}
	for _, id := range offeringIDs {
		found := false
		for _, o := range all {
			if o.ID != id {
				continue
			}
			found = true
			q.DurationMinutes += o.DurationMinutes
			q.Total.Amount += o.Price.Amount
			if o.Price.Currency != "" {
				q.Total.Currency = o.Price.Currency
			}
		}
		if !found {
			return Quote{}, ErrNotFound
		}
	}
	return q, nil
}

// Names renders offering ids as their display names.
func (s *Service) Names(ctx context.Context, offeringIDs []string) []string {
	all, err := s.store.ListOfferings(ctx)
	out := make([]string, 0, len(offeringIDs))
	for _, id := range offeringIDs {
		name := id
		if err == nil {
			for _, o := range all {
				if o.ID == id {
					name = o.Name
				}
			}
		}
		out = append(out, name)
	}
	return out
}

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(strings.TrimSpace(s))), " ")
}
