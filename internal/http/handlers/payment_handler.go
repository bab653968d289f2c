// README: Payment processor webhook.
package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"concierge/internal/modules/payment"
)

type PaymentEvents interface {
	HandleEvent(ctx context.Context, ev payment.Event) (payment.Outcome, error)
}

type PaymentHandler struct {
	payments PaymentEvents
}

func NewPaymentHandler(p PaymentEvents) *PaymentHandler {
	return &PaymentHandler{payments: p}
}

// Webhook handles POST /api/payments/webhook. Replays and late payments answer 204 too, so the
// processor stops retrying them.
func (h *PaymentHandler) Webhook(c *gin.Context) {
	var ev payment.Event
	if err := c.ShouldBindJSON(&ev); err != nil {
		writeError(c, http.StatusBadRequest, "invalid payment event")
		return
	}
	if !isValidID(string(ev.ReservationID)) {
		writeError(c, http.StatusBadRequest, "invalid reservation_id")
		return
	}
	if _, err := h.payments.HandleEvent(c.Request.Context(), ev); err != nil {
		writeDomainError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
