// README: Entry point; loads config, wires services, runs the HTTP server, the hold sweeper and the outbound worker.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"concierge/internal/ai"
	"concierge/internal/config"
	httptransport "concierge/internal/http"
	"concierge/internal/infra"
	"concierge/internal/logging"
	"concierge/internal/modules/calendar"
	"concierge/internal/modules/catalog"
	"concierge/internal/modules/coherence"
	"concierge/internal/modules/conversation"
	"concierge/internal/modules/intent"
	"concierge/internal/modules/messaging"
	"concierge/internal/modules/payment"
	"concierge/internal/modules/reservation"
	"concierge/internal/modules/snapshot"
)

const workerConcurrency = 4

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger, err := logging.New(logging.Options{Production: cfg.IsProduction(), Level: cfg.Log.Level, File: cfg.Log.File})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("concierge stopped", zap.Error(err))
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	loc := cfg.Location()

	dbPool, err := infra.NewDB(ctx, cfg.DB.DSN)
	if err != nil {
		return err
	}
	defer dbPool.Close()

	redisClient := infra.NewRedis(cfg.Redis.Addr)
	defer redisClient.Close()
	queueOpt := infra.NewQueueOpt(cfg.Redis.Addr)

	oracle, closeOracle, err := newOracle(ctx, cfg.AI)
	if err != nil {
		return err
	}
	defer closeOracle()

	outbox := messaging.NewOutbox(queueOpt)
	defer outbox.Close()
	notifier := messaging.NewNotifier(outbox, cfg.Messaging.StaffConversationID, loc, logger.Named("notifier"))

	catalogSvc := catalog.NewService(catalog.NewStore(dbPool), cfg.Payment.Currency)
	ledger := reservation.NewService(reservation.NewStore(dbPool), reservation.HoldPolicy{
		SameDay:  cfg.Hold.SameDay,
		Advance:  cfg.Hold.Advance,
		Location: loc,
	}, logger.Named("ledger"))

	source, err := newCalendarSource(ctx, cfg.Calendar.CredentialsFile, logger)
	if err != nil {
		return err
	}
	calendarSvc := calendar.NewService(source, ledger, calendar.Options{
		Timeout:  cfg.Calendar.Timeout,
		Step:     cfg.Calendar.SlotStep,
		Hours:    calendar.DefaultWorkingHours(),
		Location: loc,
	}, logger.Named("calendar"))

	var links payment.Links = payment.LocalLinks{BaseURL: cfg.Payment.LinkBaseURL}
	if cfg.Payment.StripeKey != "" {
		links = payment.NewStripeLinks(cfg.Payment.StripeKey, cfg.Payment.SuccessURL)
	} else {
		logger.Warn("payment.stripe_key not set, using local payment links")
	}
	paymentSvc := payment.NewService(links, ledger, catalogSvc, calendarSvc, notifier, cfg.Calendar.Timeout, logger.Named("payment"))

	conversations := conversation.NewService(conversation.Deps{
		Store:     snapshot.NewRedisStore(redisClient, cfg.Conversation.TTL),
		Locker:    snapshot.NewRedisLocker(redisClient, cfg.HTTP.TurnTimeout),
		Intents:   intent.NewGate(oracle, loc, logger.Named("intent")),
		Guard:     coherence.NewGuard(oracle, logger.Named("coherence")),
		Catalog:   catalogSvc,
		Calendar:  calendarSvc,
		Ledger:    ledger,
		Payments:  paymentSvc,
		Escalator: notifier,
		MaxTurns:  cfg.Conversation.MaxTurns,
		Location:  loc,
		Logger:    logger.Named("conversation"),
	})

	sweeper := reservation.NewSweeper(ledger, notifier, reservation.SweeperOptions{
		Interval:   cfg.Sweeper.Interval,
		WarnWindow: cfg.Sweeper.WarnWindow,
		Batch:      cfg.Sweeper.Batch,
	}, logger.Named("sweeper"))

	var sender messaging.Sender = messaging.NewLogSender(logger.Named("outbound"))
	if cfg.Messaging.GatewayURL != "" {
		sender = messaging.NewHTTPSender(cfg.Messaging.GatewayURL, cfg.Calendar.Timeout)
	}
	worker := messaging.NewWorker(queueOpt, sender, workerConcurrency, logger.Named("worker"))

	server := httptransport.NewServer(httptransport.ServerDeps{
		Addr:          cfg.HTTP.Addr,
		Conversations: conversations,
		Payments:      paymentSvc,
		Reservations:  ledger,
		WebhookSecret: cfg.Payment.WebhookSecret,
		TurnTimeout:   cfg.HTTP.TurnTimeout,
		Logger:        logger.Named("http"),
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Run(gctx) })
	g.Go(func() error { return worker.Run(gctx) })
	g.Go(func() error {
		sweeper.Run(gctx)
		return nil
	})
	return g.Wait()
}

func newOracle(ctx context.Context, cfg config.AIConfig) (ai.Oracle, func(), error) {
	switch cfg.Provider {
	case "openai":
		return ai.Limited(ai.NewOpenAIProvider(cfg.OpenAIKey, cfg.Model), cfg.RatePerSecond, cfg.Timeout), func() {}, nil
	default:
		p, err := ai.NewGeminiProvider(ctx, cfg.GeminiKey, cfg.Model)
		if err != nil {
			return nil, nil, fmt.Errorf("gemini init: %w", err)
		}
		return ai.Limited(p, cfg.RatePerSecond, cfg.Timeout), p.Close, nil
	}
}

func newCalendarSource(ctx context.Context, credentialsFile string, logger *zap.Logger) (calendar.Source, error) {
	if credentialsFile == "" {
		logger.Warn("calendar.credentials_file not set, using an empty in-memory calendar")
		return calendar.NewStaticSource(), nil
	}
	src, err := calendar.NewGoogleSource(ctx, credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("google calendar init: %w", err)
	}
	return src, nil
}
