package messaging

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"concierge/internal/infra"
	"concierge/internal/modules/reservation"
)

type recordingSender struct {
	mu   sync.Mutex
	sent []Message
	errs []error
}

func (r *recordingSender) Send(_ context.Context, msg Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.errs) > 0 {
		err := r.errs[0]
		r.errs = r.errs[1:]
		return err
	}
	r.sent = append(r.sent, msg)
	return nil
}

func TestHTTPSenderPostsJSON(t *testing.T) {
	var got Message
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(body, &got))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	s := NewHTTPSender(srv.URL, time.Second)
	require.NoError(t, s.Send(context.Background(), Message{ConversationID: "c1", Text: "hi"}))
	assert.Equal(t, "c1", got.ConversationID)
	assert.Equal(t, "hi", got.Text)
}

func TestHTTPSenderClassifiesFailures(t *testing.T) {
	status := http.StatusBadRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte("nope"))
	}))
	defer srv.Close()
	s := NewHTTPSender(srv.URL, time.Second)

	err := s.Send(context.Background(), Message{ConversationID: "c1"})
	require.Error(t, err)
	assert.True(t, infra.IsPermanent(err))
	assert.Contains(t, err.Error(), "nope")

	status = http.StatusBadGateway
	err = s.Send(context.Background(), Message{ConversationID: "c1"})
	require.Error(t, err)
	assert.False(t, infra.IsPermanent(err))
}

func TestInlineDedupAndRetry(t *testing.T) {
	sender := &recordingSender{errs: []error{errors.New("flaky")}}
	q := NewInline(sender, time.Second)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, Message{ConversationID: "c1", Text: "a"}, "reminder:R1"))
	require.NoError(t, q.Enqueue(ctx, Message{ConversationID: "c1", Text: "a"}, "reminder:R1"))
	require.NoError(t, q.Enqueue(ctx, Message{ConversationID: "c1", Text: "b"}, ""))
	require.NoError(t, q.Enqueue(ctx, Message{ConversationID: "c1", Text: "b"}, ""))
	assert.Len(t, sender.sent, 3)
}

func TestInlineFailureAllowsLaterRetry(t *testing.T) {
	down := errors.New("down")
	sender := &recordingSender{errs: []error{down, down}}
	q := NewInline(sender, time.Second)
	ctx := context.Background()

	err := q.Enqueue(ctx, Message{ConversationID: "c1"}, "k")
	assert.ErrorIs(t, err, infra.ErrExternalService)
	require.NoError(t, q.Enqueue(ctx, Message{ConversationID: "c1"}, "k"))
	assert.Len(t, sender.sent, 1)
}

func TestNotifierMessages(t *testing.T) {
	sender := &recordingSender{}
	n := NewNotifier(NewInline(sender, time.Second), "staff", time.UTC, nil)
	ctx := context.Background()
	r := reservation.Reservation{
		ID:             "R1",
		ConversationID: "c1",
		SlotStart:      time.Date(2030, 1, 10, 10, 0, 0, 0, time.UTC),
		HoldDeadline:   time.Date(2030, 1, 9, 12, 30, 0, 0, time.UTC),
	}

	require.NoError(t, n.HoldReminder(ctx, r))
	require.NoError(t, n.HoldReminder(ctx, r))
	require.NoError(t, n.HoldExpired(ctx, r))
	require.NoError(t, n.BookingConfirmed(ctx, r, "Bo"))
	require.NoError(t, n.Escalate(ctx, "c1", "late payment"))

	require.Len(t, sender.sent, 4)
	assert.Equal(t, KindReminder, sender.sent[0].Kind)
	assert.Contains(t, sender.sent[0].Text, "12:30")
	assert.Equal(t, KindExpired, sender.sent[1].Kind)
	assert.Contains(t, sender.sent[2].Text, "Bo")
	assert.Equal(t, "staff", sender.sent[3].ConversationID)
	assert.Contains(t, sender.sent[3].Text, "late payment")
}

func TestEscalateWithoutStaffOnlyLogs(t *testing.T) {
	sender := &recordingSender{}
	n := NewNotifier(NewInline(sender, time.Second), "", nil, nil)
	require.NoError(t, n.Escalate(context.Background(), "c1", "x"))
	assert.Empty(t, sender.sent)
}

func TestWorkerHandleSend(t *testing.T) {
	sender := &recordingSender{}
	w := &Worker{sender: sender, logger: zap.NewNop()}

	task, opts, err := NewSendTask(Message{ConversationID: "c1", Text: "hello"}, "reminder:R1")
	require.NoError(t, err)
	assert.NotEmpty(t, opts)
	require.NoError(t, w.HandleSend(context.Background(), task))
	require.Len(t, sender.sent, 1)
	assert.Equal(t, "hello", sender.sent[0].Text)

	err = w.HandleSend(context.Background(), asynq.NewTask(TypeSend, []byte("{bad")))
	assert.ErrorIs(t, err, asynq.SkipRetry)

	sender.errs = []error{infra.Permanent(errors.New("400"))}
	err = w.HandleSend(context.Background(), task)
	assert.ErrorIs(t, err, asynq.SkipRetry)

	sender.errs = []error{errors.New("502")}
	err = w.HandleSend(context.Background(), task)
	require.Error(t, err)
	assert.NotErrorIs(t, err, asynq.SkipRetry)
}

func TestOutboxDedupAgainstRedis(t *testing.T) {
	addr := os.Getenv("CONCIERGE_TEST_REDIS")
	if addr == "" {
		t.Skip("CONCIERGE_TEST_REDIS not set; skipping asynq outbox test")
	}
	opt := infra.NewQueueOpt(addr)
	ob := NewOutbox(opt)
	defer ob.Close()
	insp := asynq.NewInspector(opt)
	defer insp.Close()

	key := "reminder:test-" + time.Now().Format("150405.000000")
	ctx := context.Background()
	require.NoError(t, ob.Enqueue(ctx, Message{ConversationID: "c1", Text: "x"}, key))
	require.NoError(t, ob.Enqueue(ctx, Message{ConversationID: "c1", Text: "x"}, key))

	info, err := insp.GetTaskInfo("default", key)
	require.NoError(t, err)
	assert.Equal(t, TypeSend, info.Type)
	_ = insp.DeleteTask("default", key)
}
