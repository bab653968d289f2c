package reservation

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Notifier tells the customer what happened to their hold.
type Notifier interface {
	HoldReminder(ctx context.Context, r Reservation) error
	HoldExpired(ctx context.Context, r Reservation) error
}

type SweeperOptions struct {
	Interval   time.Duration
	WarnWindow time.Duration
	Batch      int
}

// Sweeper drives provisional holds by wall-clock polling: reminder inside the warn window, release
// once the deadline has passed. It relies on the ledger's conditional writes, not on locks, so it
// can race the payment webhook safely.
type Sweeper struct {
	svc      *Service
	notifier Notifier
	opts     SweeperOptions
	logger   *zap.Logger
}

func NewSweeper(svc *Service, notifier Notifier, opts SweeperOptions, logger *zap.Logger) *Sweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Batch <= 0 {
		opts.Batch = 100
	}
	if opts.Interval <= 0 {
		opts.Interval = 30 * time.Second
	}
	return &Sweeper{svc: svc, notifier: notifier, opts: opts, logger: logger}
}

type SweepResult struct {
	Reminded int
	Released int
	Skipped  int
	// NotifyFailed counts reminder and expiry messages that could not be queued.
	NotifyFailed int
}

// Run sweeps every Interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			res, err := s.SweepOnce(ctx, s.svc.now())
			if err != nil {
				s.logger.Error("sweep failed", zap.Error(err))
				continue
			}
			if res.Reminded+res.Released+res.NotifyFailed > 0 {
				s.logger.Info("sweep done",
					zap.Int("reminded", res.Reminded),
					zap.Int("released", res.Released),
					zap.Int("skipped", res.Skipped),
					zap.Int("notify_failed", res.NotifyFailed),
				)
			}
		}
	}
}

func (s *Sweeper) SweepOnce(ctx context.Context, now time.Time) (SweepResult, error) {
	var res SweepResult
	due, err := s.svc.store.ListDue(ctx, now.Add(s.opts.WarnWindow), s.opts.Batch)
	if err != nil {
		return res, err
	}
	for _, r := range due {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		log := s.logger.With(zap.String("reservation_id", string(r.ID)), zap.String("conversation_id", r.ConversationID))

		if !now.Before(r.HoldDeadline) {
			cur, changed, err := s.svc.resolve(ctx, r.ID, StatusExpired)
			if err != nil {
				log.Error("release failed", zap.Error(err))
				res.Skipped++
				continue
			}
			if !changed {
				// Resolved by someone else since the scan, e.g. confirmed by payment.
				res.Skipped++
				continue
			}
			res.Released++
			if s.notifier != nil {
				if err := s.notifier.HoldExpired(ctx, *cur); err != nil {
					log.Error("hold expired notification failed", zap.Error(err))
					res.NotifyFailed++
				}
			}
			continue
		}

		// Reminders are sent at most once: the flag is set before queueing, so a failed enqueue is
		// logged and not retried.
		if r.ReminderSentAt != nil || s.opts.WarnWindow <= 0 {
			res.Skipped++
			continue
		}
		marked, err := s.svc.store.MarkReminderSent(ctx, r.ID, now)
		if err != nil {
			log.Error("mark reminder failed", zap.Error(err))
			res.Skipped++
			continue
		}
		if !marked {
			res.Skipped++
			continue
		}
		if s.notifier != nil {
			if err := s.notifier.HoldReminder(ctx, r); err != nil {
				log.Error("hold reminder lost", zap.Time("hold_deadline", r.HoldDeadline), zap.Error(err))
				res.NotifyFailed++
				continue
			}
		}
		res.Reminded++
	}
	return res, nil
}
