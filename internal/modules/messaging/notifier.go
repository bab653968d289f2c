package messaging

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"concierge/internal/modules/reservation"
)

// Notifier turns ledger events into customer messages and escalates problems to staff.
type Notifier struct {
	queue  Queue
	staff  string
	loc    *time.Location
	logger *zap.Logger
}

func NewNotifier(queue Queue, staffConversationID string, loc *time.Location, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Notifier{queue: queue, staff: staffConversationID, loc: loc, logger: logger}
}

func (n *Notifier) when(t time.Time) string {
	return t.In(n.loc).Format("Mon Jan 2 15:04")
}

func (n *Notifier) HoldReminder(ctx context.Context, r reservation.Reservation) error {
	text := fmt.Sprintf("Your appointment on %s is held until %s. Please complete the payment to keep it.",
		n.when(r.SlotStart), r.HoldDeadline.In(n.loc).Format("15:04"))
	return n.queue.Enqueue(ctx, Message{ConversationID: r.ConversationID, Text: text, Kind: KindReminder}, "reminder:"+string(r.ID))
}

func (n *Notifier) HoldExpired(ctx context.Context, r reservation.Reservation) error {
	text := fmt.Sprintf("The hold on your appointment on %s has expired and the time was released. Say hi to start again.",
		n.when(r.SlotStart))
	return n.queue.Enqueue(ctx, Message{ConversationID: r.ConversationID, Text: text, Kind: KindExpired}, "expired:"+string(r.ID))
}

func (n *Notifier) BookingConfirmed(ctx context.Context, r reservation.Reservation, providerName string) error {
	text := fmt.Sprintf("Payment received. Your appointment with %s on %s is confirmed.", providerName, n.when(r.SlotStart))
	return n.queue.Enqueue(ctx, Message{ConversationID: r.ConversationID, Text: text, Kind: KindConfirmed}, "confirmed:"+string(r.ID))
}

// Escalate asks a human to look at a conversation. Without a staff channel it only logs.
func (n *Notifier) Escalate(ctx context.Context, conversationID, reason string) error {
	n.logger.Warn("escalating to staff", zap.String("conversation_id", conversationID), zap.String("reason", reason))
	if n.staff == "" {
		return nil
	}
	text := fmt.Sprintf("Conversation %s needs attention: %s", conversationID, reason)
	return n.queue.Enqueue(ctx, Message{ConversationID: n.staff, Text: text, Kind: KindEscalation}, "")
}
