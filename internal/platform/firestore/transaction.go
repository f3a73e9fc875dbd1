package firestore

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"
)

const (
	defaultTxAttempts = 5
	defaultTxTimeout  = 15 * time.Second
	defaultTxName     = "transaction"
)

// TxFunc runs inside a Firestore transaction. It is re-run whenever the commit loses to a
// concurrent writer, so every read must go through tx and nothing outside tx may change.
type TxFunc func(ctx context.Context, tx *firestore.Transaction) error

// TxOption customises a single transaction.
type TxOption func(*txConfig)

type txConfig struct {
	name     string
	attempts int
	timeout  time.Duration
	onRetry  func(ctx context.Context, attempt int)
}

// WithTxAttempts caps how many times Firestore runs fn before giving up with Aborted.
func WithTxAttempts(attempts int) TxOption {
	return func(cfg *txConfig) {
		if attempts > 0 {
			cfg.attempts = attempts
		}
	}
}

// WithTxTimeout bounds the whole transaction, retries included. A shorter caller deadline wins.
func WithTxTimeout(timeout time.Duration) TxOption {
	return func(cfg *txConfig) {
		if timeout > 0 {
			cfg.timeout = timeout
		}
	}
}

// WithTxName labels store errors raised by the transaction, e.g. "orders.approve".
func WithTxName(name string) TxOption {
	return func(cfg *txConfig) {
		if name != "" {
			cfg.name = name
		}
	}
}

// WithTxRetryHook is called before each re-run of fn with the retry number (1 for the second run).
func WithTxRetryHook(hook func(ctx context.Context, attempt int)) TxOption {
	return func(cfg *txConfig) {
		cfg.onRetry = hook
	}
}

// RunTransaction runs fn in a transaction on client. Errors returned by fn come back
// unchanged; Firestore failures come back as *repositories.StoreError.
func RunTransaction(ctx context.Context, client *firestore.Client, fn TxFunc, opts ...TxOption) error {
	cfg := txConfig{name: defaultTxName, attempts: defaultTxAttempts, timeout: defaultTxTimeout}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	switch {
	case client == nil:
		return errors.New("firestore: client is nil")
	case fn == nil:
		return errors.New("firestore: transaction function is nil")
	}

	ctx, cancel := boundedContext(ctx, cfg.timeout)
	defer cancel()

	runs := 0
	err := client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		runs++
		if runs > 1 && cfg.onRetry != nil {
			cfg.onRetry(ctx, runs-1)
		}
		return fn(ctx, tx)
	}, firestore.MaxAttempts(cfg.attempts))
	return WrapError(cfg.name, err)
}

// boundedContext applies timeout unless ctx already expires sooner.
func boundedContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return ctx, func() {}
	}
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) <= timeout {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}
