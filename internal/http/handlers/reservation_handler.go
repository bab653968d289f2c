// README: Reservation lookup handler.
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"concierge/internal/modules/reservation"
	"concierge/internal/types"
)

type Reservations interface {
	Get(ctx context.Context, id types.ID) (*reservation.Reservation, error)
}

type ReservationHandler struct {
	reservations Reservations
}

func NewReservationHandler(r Reservations) *ReservationHandler {
	return &ReservationHandler{reservations: r}
}

type reservationResp struct {
	ID              types.ID           `json:"reservation_id"`
	Status          reservation.Status `json:"status"`
	ProviderID      string             `json:"provider_id"`
	Services        []string           `json:"services"`
	SlotStart       time.Time          `json:"slot_start"`
	DurationMinutes int                `json:"duration_minutes"`
	HoldDeadline    time.Time          `json:"hold_deadline"`
}

// Get handles GET /api/reservations/:id.
func (h *ReservationHandler) Get(c *gin.Context) {
	id := c.Param("id")
	if !isValidID(id) {
		writeError(c, http.StatusBadRequest, "invalid reservation id")
		return
	}
	r, err := h.reservations.Get(c.Request.Context(), types.ID(id))
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, reservationResp{
		ID:              r.ID,
		Status:          r.Status,
		ProviderID:      r.ProviderID,
		Services:        r.Services,
		SlotStart:       r.SlotStart,
		DurationMinutes: r.DurationMinutes,
		HoldDeadline:    r.HoldDeadline,
	})
}
