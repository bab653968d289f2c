package messaging

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"concierge/internal/infra"
)

const TypeSend = "message:send"

// Queue accepts messages for delivery. A non-empty dedupKey makes repeated enqueues of the same
// notification collapse into one delivery.
type Queue interface {
	Enqueue(ctx context.Context, msg Message, dedupKey string) error
}

// Outbox queues messages on Redis through asynq; the Worker delivers them.
type Outbox struct {
	client *asynq.Client
}

func NewOutbox(opt asynq.RedisConnOpt) *Outbox {
	return &Outbox{client: asynq.NewClient(opt)}
}

func (o *Outbox) Close() error {
	return o.client.Close()
}

func NewSendTask(msg Message, dedupKey string) (*asynq.Task, []asynq.Option, error) {
	b, err := json.Marshal(msg)
	if err != nil {
		return nil, nil, err
	}
	opts := []asynq.Option{asynq.MaxRetry(1), asynq.Timeout(30 * time.Second)}
	if dedupKey != "" {
		opts = append(opts, asynq.TaskID(dedupKey), asynq.Retention(24*time.Hour))
	}
	return asynq.NewTask(TypeSend, b), opts, nil
}

func (o *Outbox) Enqueue(ctx context.Context, msg Message, dedupKey string) error {
	task, opts, err := NewSendTask(msg, dedupKey)
	if err != nil {
		return fmt.Errorf("outbox: %w", err)
	}
	if _, err := o.client.EnqueueContext(ctx, task, opts...); err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			return nil
		}
		return fmt.Errorf("%w: outbox enqueue: %v", infra.ErrExternalService, err)
	}
	return nil
}

// Inline delivers immediately with one retry. Keys already delivered are skipped.
type Inline struct {
	sender  Sender
	timeout time.Duration
	seen    *dedup
}

func NewInline(sender Sender, timeout time.Duration) *Inline {
	return &Inline{sender: sender, timeout: timeout, seen: newDedup()}
}

func (q *Inline) Enqueue(ctx context.Context, msg Message, dedupKey string) error {
	if dedupKey != "" && !q.seen.first(dedupKey) {
		return nil
	}
	err := infra.Call(ctx, q.timeout, "messaging.send", func(ctx context.Context) error {
		return q.sender.Send(ctx, msg)
	})
	if err != nil && dedupKey != "" {
		q.seen.forget(dedupKey)
	}
	return err
}

// Worker runs the asynq server that drains the outbox.
type Worker struct {
	srv    *asynq.Server
	sender Sender
	logger *zap.Logger
}

func NewWorker(opt asynq.RedisConnOpt, sender Sender, concurrency int, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if concurrency <= 0 {
		concurrency = 10
	}
	srv := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues:      map[string]int{"default": 1},
		Logger:      logger.Sugar(),
	})
	return &Worker{srv: srv, sender: sender, logger: logger}
}

// Run processes tasks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeSend, w.HandleSend)
	if err := w.srv.Start(mux); err != nil {
		return fmt.Errorf("outbox worker: %w", err)
	}
	<-ctx.Done()
	w.srv.Shutdown()
	return nil
}

func (w *Worker) HandleSend(ctx context.Context, task *asynq.Task) error {
	var msg Message
	if err := json.Unmarshal(task.Payload(), &msg); err != nil {
		w.logger.Error("invalid message payload", zap.Error(err))
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	if err := w.sender.Send(ctx, msg); err != nil {
		w.logger.Warn("message delivery failed",
			zap.String("conversation_id", msg.ConversationID),
			zap.String("kind", string(msg.Kind)),
			zap.Error(err),
		)
		if infra.IsPermanent(err) {
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		return err
	}
	return nil
}

type dedup struct {
	mu   sync.Mutex
	keys map[string]struct{}
}

func newDedup() *dedup {
	return &dedup{keys: map[string]struct{}{}}
}

func (d *dedup) first(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.keys[key]; ok {
		return false
	}
	d.keys[key] = struct{}{}
	return true
}

func (d *dedup) forget(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.keys, key)
}
