// README: Payment links (Stripe Checkout) for provisional holds.
package payment

import (
	"context"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"

	"concierge/internal/types"
)

type LinkRequest struct {
	ReservationID  types.ID
	ConversationID string
	Description    string
	Amount         types.Money
	ExpiresAt      time.Time
}

// Links creates a URL the customer pays through.
type Links interface {
	CreateLink(ctx context.Context, req LinkRequest) (string, error)
}

type StripeLinks struct {
	api        *client.API
	successURL string
	now        func() time.Time
}

func NewStripeLinks(key, successURL string) *StripeLinks {
	api := &client.API{}
	api.Init(key, nil)
	return &StripeLinks{api: api, successURL: successURL, now: time.Now}
}

// Stripe rejects session expiries closer than this.
const minSessionLife = 30 * time.Minute

func (s *StripeLinks) CreateLink(ctx context.Context, req LinkRequest) (string, error) {
	params := s.sessionParams(req)
	params.Context = ctx
	sess, err := s.api.CheckoutSessions.New(params)
	if err != nil {
		return "", fmt.Errorf("stripe checkout: %w", err)
	}
	return sess.URL, nil
}

// sessionParams keys the request on the reservation, so a retried call after a timeout gets the
// session Stripe already created instead of a second one.
func (s *StripeLinks) sessionParams(req LinkRequest) *stripe.CheckoutSessionParams {
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(s.successURL),
		ClientReferenceID: stripe.String(string(req.ReservationID)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			Quantity: stripe.Int64(1),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(req.Amount.Currency),
				UnitAmount: stripe.Int64(req.Amount.Amount),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(req.Description),
				},
			},
		}},
	}
	if !req.ExpiresAt.IsZero() && req.ExpiresAt.Sub(s.now()) >= minSessionLife {
		params.ExpiresAt = stripe.Int64(req.ExpiresAt.Unix())
	}
	params.SetIdempotencyKey("link:" + string(req.ReservationID))
	params.AddMetadata("reservation_id", string(req.ReservationID))
	params.AddMetadata("conversation_id", req.ConversationID)
	return params
}

// LocalLinks builds links on a fixed base URL; used when Stripe is not configured.
type LocalLinks struct {
	BaseURL string
}

func (l LocalLinks) CreateLink(_ context.Context, req LinkRequest) (string, error) {
	return fmt.Sprintf("%s/%s", l.BaseURL, req.ReservationID), nil
}
