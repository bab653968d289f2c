// README: Conversation snapshot: transcript + FSM record persisted as one unit.
package snapshot

import (
	"time"

	"concierge/internal/modules/booking"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Turn struct {
	Role Role      `json:"role"`
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// Snapshot is the only persisted record of a conversation. Version is bumped by the store on every
// save and is used to detect a writer that loaded an older copy.
type Snapshot struct {
	ConversationID string           `json:"conversation_id"`
	Version        int64            `json:"version"`
	Transcript     []Turn           `json:"transcript"`
	FSM            booking.FSMState `json:"fsm_state"`
	CreatedAt      time.Time        `json:"created_at"`
}

func New(conversationID string, now time.Time) Snapshot {
	return Snapshot{
		ConversationID: conversationID,
		Transcript:     []Turn{},
		FSM:            booking.NewFSMState(now),
		CreatedAt:      now,
	}
}

// Append adds a turn and keeps only the most recent maxTurns (0 keeps everything).
func (s *Snapshot) Append(role Role, text string, at time.Time, maxTurns int) {
	s.Transcript = append(s.Transcript, Turn{Role: role, Text: text, At: at})
	if maxTurns > 0 && len(s.Transcript) > maxTurns {
		s.Transcript = append([]Turn{}, s.Transcript[len(s.Transcript)-maxTurns:]...)
	}
}
