// README: API gateway; registers HTTP routes and delegates to module services.
package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"concierge/internal/http/handlers"
)

const shutdownTimeout = 10 * time.Second

type ServerDeps struct {
	Addr          string
	Conversations handlers.Conversations
	Payments      handlers.PaymentEvents
	Reservations  handlers.Reservations
	WebhookSecret string
	TurnTimeout   time.Duration
	Logger        *zap.Logger
}

type Server struct {
	addr          string
	conversations handlers.Conversations
	payments      handlers.PaymentEvents
	reservations  handlers.Reservations
	webhookSecret string
	turnTimeout   time.Duration
	logger        *zap.Logger
}

func NewServer(deps ServerDeps) *Server {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Server{
		addr:          deps.Addr,
		conversations: deps.Conversations,
		payments:      deps.Payments,
		reservations:  deps.Reservations,
		webhookSecret: deps.WebhookSecret,
		turnTimeout:   deps.TurnTimeout,
		logger:        deps.Logger,
	}
}

// Handler exposes the routes for tests and embedding.
func (s *Server) Handler() *gin.Engine {
	return s.routes()
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", zap.String("addr", s.addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.logger.Info("http server stopped")
	return nil
}
