// README: Base handler utilities (JSON helpers, error mapping).
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"concierge/internal/modules/conversation"
	"concierge/internal/modules/payment"
	"concierge/internal/modules/reservation"
	"concierge/internal/modules/snapshot"
)

type errorResponse struct {
	Error string `json:"error"`
}

const maxIDLength = 128

// isValidID accepts the ids messaging gateways and our own generators produce: letters, digits and
// a few separators.
func isValidID(v string) bool {
	if v == "" || len(v) > maxIDLength {
		return false
	}
	for _, c := range v {
		if (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') {
			continue
		}
		switch c {
		case '-', '_', ':', '+', '.', '@':
			continue
		}
		return false
	}
	return true
}

func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

func writeError(c *gin.Context, status int, msg string) {
	writeJSON(c, status, errorResponse{Error: msg})
}

// writeDomainError maps module sentinels to status codes. Anything unknown is a 500 and is logged by
// the logging middleware through c.Error.
func writeDomainError(c *gin.Context, err error) {
	_ = c.Error(err)
	switch {
	case errors.Is(err, conversation.ErrBadRequest), errors.Is(err, reservation.ErrBadRequest),
		errors.Is(err, payment.ErrUnknownStatus):
		writeError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, reservation.ErrNotFound):
		writeError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, reservation.ErrConflict):
		writeError(c, http.StatusConflict, err.Error())
	case errors.Is(err, snapshot.ErrLockTimeout), errors.Is(err, snapshot.ErrStaleSnapshot):
		c.Header("Retry-After", "1")
		writeError(c, http.StatusConflict, err.Error())
	default:
		writeError(c, http.StatusInternalServerError, "internal error")
	}
}
