// README: Inbound chat message handler; one request is one conversation turn.
package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"concierge/internal/modules/conversation"
)

// Conversations is the orchestrator entrypoint.
type Conversations interface {
	HandleMessage(ctx context.Context, conversationID, text string) (conversation.Reply, error)
}

type MessageHandler struct {
	conversations Conversations
	timeout       time.Duration
}

func NewMessageHandler(c Conversations, timeout time.Duration) *MessageHandler {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &MessageHandler{conversations: c, timeout: timeout}
}

type messageReq struct {
	ConversationID string `json:"conversation_id"`
	Text           string `json:"text"`
}

// Create handles POST /api/messages.
func (h *MessageHandler) Create(c *gin.Context) {
	var req messageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	req.ConversationID = strings.TrimSpace(req.ConversationID)
	if !isValidID(req.ConversationID) {
		writeError(c, http.StatusBadRequest, "invalid conversation_id")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(c, http.StatusBadRequest, "missing text")
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	reply, err := h.conversations.HandleMessage(ctx, req.ConversationID, req.Text)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, reply)
}
