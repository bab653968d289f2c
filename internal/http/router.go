// README: HTTP router registration.
package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"concierge/internal/http/handlers"
	"concierge/internal/http/middleware"
)

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(middleware.RequestID(), middleware.Logging(s.logger), middleware.Recovery(s.logger))

	api := r.Group("/api")

	messages := handlers.NewMessageHandler(s.conversations, s.turnTimeout)
	api.POST("/messages", messages.Create)

	payments := handlers.NewPaymentHandler(s.payments)
	api.POST("/payments/webhook", middleware.WebhookSecret(s.webhookSecret), payments.Webhook)

	reservations := handlers.NewReservationHandler(s.reservations)
	api.GET("/reservations/:id", reservations.Get)

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})
	return r
}
