package ai

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

type limited struct {
	next    Oracle
	limiter *rate.Limiter
	timeout time.Duration
}

// Limited bounds every call by timeout and throttles calls to perSecond (0 disables throttling).
// Any failure is reported as ErrOracle.
func Limited(next Oracle, perSecond float64, timeout time.Duration) Oracle {
	var lim *rate.Limiter
	if perSecond > 0 {
		burst := int(perSecond)
		if burst < 1 {
			burst = 1
		}
		lim = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
	return &limited{next: next, limiter: lim, timeout: timeout}
}

func (l *limited) Complete(ctx context.Context, prompt string) (string, error) {
	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}
	if l.limiter != nil {
		if err := l.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("%w: rate limited: %v", ErrOracle, err)
		}
	}
	out, err := l.next.Complete(ctx, prompt)
	if err != nil {
		if errors.Is(err, ErrOracle) {
			return "", err
		}
		return "", fmt.Errorf("%w: %v", ErrOracle, err)
	}
	return out, nil
}
