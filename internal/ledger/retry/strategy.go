// Package retry re-runs infrastructure calls (RPC, Postgres, outbox writes)
// that fail for transport reasons. Domain rejections are never retried.
package retry

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Strategy defines how ledger and bus I/O is retried
type Strategy interface {
	// Execute runs the operation with the configured retry logic
	Execute(ctx context.Context, operation Operation) error

	// Name returns the name of the strategy for logging
	Name() string
}

// Operation is one attempt of a retryable call
type Operation func(ctx context.Context) error

// Config selects and tunes the strategy
type Config struct {
	Enabled      bool
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// NewStrategy creates a retry strategy based on configuration
func NewStrategy(config Config) Strategy {
	if !config.Enabled {
		slog.Info("Retry disabled, every call runs once")
		return NewNoRetryStrategy()
	}

	slog.Info("Retry enabled",
		"strategy", "ExponentialBackoff",
		"max_retries", config.MaxRetries,
		"initial_delay", config.InitialDelay,
		"max_delay", config.MaxDelay,
	)
	return NewExponentialBackoffStrategy(config.MaxRetries, config.InitialDelay, config.MaxDelay)
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }

func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying regardless of its cause
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports an error wrapped with Permanent
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// NoRetryStrategy runs each operation once
type NoRetryStrategy struct{}

func NewNoRetryStrategy() *NoRetryStrategy { return &NoRetryStrategy{} }

func (NoRetryStrategy) Execute(ctx context.Context, operation Operation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return operation(ctx)
}

func (NoRetryStrategy) Name() string { return "NoRetry" }
