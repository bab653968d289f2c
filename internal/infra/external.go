package infra

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrExternalService marks a calendar, payment or messaging call that failed after its retry.
var ErrExternalService = errors.New("external service unavailable")

// Call runs fn with a per-attempt timeout and retries it once. Errors marked Permanent are not
// retried.
func Call(ctx context.Context, timeout time.Duration, op string, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		cctx := ctx
		cancel := func() {}
		if timeout > 0 {
			cctx, cancel = context.WithTimeout(ctx, timeout)
		}
		err = fn(cctx)
		cancel()
		if err == nil {
			return nil
		}
		var p permanent
		if errors.As(err, &p) {
			return p.err
		}
		if ctx.Err() != nil {
			break
		}
	}
	return fmt.Errorf("%w: %s: %v", ErrExternalService, op, err)
}

type permanent struct{ err error }

func (p permanent) Error() string { return p.err.Error() }
func (p permanent) Unwrap() error { return p.err }

// Permanent wraps an error that a retry cannot fix, such as a rejected request.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanent{err: err}
}

func IsPermanent(err error) bool {
	var p permanent
	return errors.As(err, &p)
}
