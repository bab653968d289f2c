package ai

import (
	"context"
	"errors"
)

// ErrOracle marks any failure of the language model call (timeout, rate limit, empty answer).
// Callers treat it as "no signal" and degrade instead of surfacing it to the user.
var ErrOracle = errors.New("oracle unavailable")

// Oracle is the black-box language model used for intent extraction and reply generation.
type Oracle interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// OracleFunc adapts a plain function to Oracle.
type OracleFunc func(ctx context.Context, prompt string) (string, error)

func (f OracleFunc) Complete(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}
