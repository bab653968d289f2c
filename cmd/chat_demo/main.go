// README: Terminal chat against in-memory stores; uses Gemini when GEMINI_API_KEY is set.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"concierge/internal/ai"
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
	"concierge/internal/types"
)

const conversationID = "demo"

func main() {
	logger, err := logging.New(logging.Options{Level: envOr("LOG_LEVEL", "warn")})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	ctx := context.Background()

	var oracle ai.Oracle = ai.OracleFunc(func(context.Context, string) (string, error) {
		return "", ai.ErrOracle
	})
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		provider, err := ai.NewGeminiProvider(ctx, key, os.Getenv("GEMINI_MODEL"))
		if err != nil {
			logger.Fatal("gemini init", zap.Error(err))
		}
		defer provider.Close()
		oracle = ai.Limited(provider, 2, 10*time.Second)
	} else {
		fmt.Println("(GEMINI_API_KEY not set: only numbers, yes/no, done and cancel are understood)")
	}

	svc := build(oracle, logger)
	fmt.Println("Type a message, or /quit.")
	in := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("you> ")
		if !in.Scan() {
			return
		}
		text := strings.TrimSpace(in.Text())
		if text == "/quit" {
			return
		}
		reply, err := svc.HandleMessage(ctx, conversationID, text)
		if err != nil {
			logger.Error("turn failed", zap.Error(err))
			continue
		}
		fmt.Printf("bot [%s]> %s\n", reply.State, strings.ReplaceAll(reply.Text, "\n", "\n    "))
	}
}

func build(oracle ai.Oracle, logger *zap.Logger) *conversation.Service {
	cat := catalog.NewService(catalog.NewMemoryStore(
		[]catalog.Offering{
			{ID: "haircut", Name: "Haircut", DurationMinutes: 30, Price: types.Money{Amount: 2500, Currency: "usd"}},
			{ID: "beard", Name: "Beard trim", DurationMinutes: 15, Price: types.Money{Amount: 1000, Currency: "usd"}},
			{ID: "color", Name: "Hair color", DurationMinutes: 90, Price: types.Money{Amount: 8000, Currency: "usd"}},
		},
		[]catalog.Provider{
			{ID: "ana", Name: "Ana", CalendarID: "ana", Offerings: []string{"haircut", "color"}},
			{ID: "bruno", Name: "Bruno", CalendarID: "bruno", Offerings: []string{"haircut", "beard"}},
		},
	), "usd")

	ledger := reservation.NewService(reservation.NewMemoryStore(), reservation.HoldPolicy{
		SameDay: 15 * time.Minute,
		Advance: time.Hour,
	}, logger)
	cal := calendar.NewService(calendar.NewStaticSource(), ledger, calendar.Options{Timeout: time.Second}, logger)
	notifier := messaging.NewNotifier(messaging.NewInline(messaging.NewLogSender(logger), time.Second), "", time.Local, logger)
	pay := payment.NewService(payment.LocalLinks{BaseURL: "http://localhost:8080/pay"}, ledger, cat, cal, notifier, time.Second, logger)

	return conversation.NewService(conversation.Deps{
		Store:     snapshot.NewMemoryStore(time.Hour),
		Intents:   intent.NewGate(oracle, time.Local, logger),
		Guard:     coherence.NewGuard(oracle, logger),
		Catalog:   cat,
		Calendar:  cal,
		Ledger:    ledger,
		Payments:  pay,
		Escalator: notifier,
		MaxTurns:  50,
		Location:  time.Local,
		Logger:    logger,
	})
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
