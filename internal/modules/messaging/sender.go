// README: Outbound messages to customers and staff through the messaging gateway.
package messaging

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"concierge/internal/infra"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type Kind string

const (
	KindReply      Kind = "reply"
	KindReminder   Kind = "hold_reminder"
	KindExpired    Kind = "hold_expired"
	KindConfirmed  Kind = "booking_confirmed"
	KindEscalation Kind = "escalation"
)

type Message struct {
	ConversationID string `json:"conversation_id"`
	Text           string `json:"text"`
	Kind           Kind   `json:"kind,omitempty"`
}

type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// HTTPSender posts {conversation_id, text} to the gateway.
type HTTPSender struct {
	url    string
	client *http.Client
}

func NewHTTPSender(url string, timeout time.Duration) *HTTPSender {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPSender{url: url, client: &http.Client{Timeout: timeout}}
}

func (s *HTTPSender) Send(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("gateway: marshal message: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("gateway: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("gateway: do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := fmt.Errorf("gateway: status %d: %s", resp.StatusCode, bytes.TrimSpace(raw))
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return infra.Permanent(err)
		}
		return err
	}
	return nil
}

// LogSender only logs; used when no gateway is configured.
type LogSender struct {
	logger *zap.Logger
}

func NewLogSender(logger *zap.Logger) *LogSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(_ context.Context, msg Message) error {
	s.logger.Info("outbound message",
		zap.String("conversation_id", msg.ConversationID),
		zap.String("kind", string(msg.Kind)),
		zap.String("text", msg.Text),
	)
	return nil
}
