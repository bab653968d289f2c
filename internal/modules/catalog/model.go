// README: Catalog of bookable offerings and the providers who perform them.
package catalog

import "concierge/internal/types"

// Offering is one bookable service on the menu.
type Offering struct {
	ID              string
	Name            string
	DurationMinutes int
	Price           types.Money
}

type Provider struct {
	ID         string
	Name       string
	CalendarID string
	Offerings  []string
}

func (p Provider) Performs(offeringIDs []string) bool {
	for _, id := range offeringIDs {
		found := false
		for _, have := range p.Offerings {
			if have == id {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Quote is the combined length and price of a set of offerings.
type Quote struct {
	DurationMinutes int
	Total           types.Money
}
