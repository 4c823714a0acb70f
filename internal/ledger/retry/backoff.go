package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/leapdao/acebusters-backend/internal/metrics"
)

// ExponentialBackoffStrategy doubles the delay after every transient failure,
// capped at maxDelay, with up to 10% jitter so that the scanner, worker and
// watcher do not hammer a recovering database in lockstep.
type ExponentialBackoffStrategy struct {
	maxRetries   int
	initialDelay time.Duration
	maxDelay     time.Duration
	jitter       func(time.Duration) time.Duration
}

func NewExponentialBackoffStrategy(maxRetries int, initialDelay, maxDelay time.Duration) *ExponentialBackoffStrategy {
	return &ExponentialBackoffStrategy{
		maxRetries:   maxRetries,
		initialDelay: initialDelay,
		maxDelay:     maxDelay,
		jitter: func(d time.Duration) time.Duration {
			if d <= 0 {
				return d
			}
			return d + rand.N(d/10+1)
		},
	}
}

func (s *ExponentialBackoffStrategy) Name() string { return "ExponentialBackoff" }

// Execute runs the operation until it succeeds, fails permanently or runs out of attempts
func (s *ExponentialBackoffStrategy) Execute(ctx context.Context, operation Operation) error {
	delay := s.initialDelay
	var err error

	for attempt := 1; ; attempt++ {
		if err = operation(ctx); err == nil {
			if attempt > 1 {
				slog.Info("Operation succeeded after retry", "attempt", attempt)
			}
			return nil
		}
		if !Transient(err) {
			return err
		}
		if attempt > s.maxRetries {
			return fmt.Errorf("gave up after %d attempts: %w", attempt, err)
		}

		wait := s.jitter(delay)
		metrics.RetryAttempts.Inc()
		slog.Warn("Transient failure, backing off",
			"attempt", attempt,
			"retry_in", wait,
			"error", err,
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry interrupted: %w", ctx.Err())
		case <-timer.C:
		}
		if delay = delay * 2; delay > s.maxDelay {
			delay = s.maxDelay
		}
	}
}

// Postgres error classes worth another attempt
var transientSQLStates = map[string]bool{
	"40001": true, // serialization_failure
	"40P01": true, // deadlock_detected
	"53300": true, // too_many_connections
	"57P03": true, // cannot_connect_now
	"08000": true, // connection_exception
	"08006": true, // connection_failure
}

// RPC and HTTP failures only surface as text
var transientMessages = []string{
	"connection reset",
	"connection refused",
	"broken pipe",
	"no such host",
	"network is unreachable",
	"conn closed",
	"unexpected eof",
	"status code 429",
	"status code 502",
	"status code 503",
	"status code 504",
}

// Transient reports whether err is a transport or contention failure that may
// succeed when repeated
func Transient(err error) bool {
	if err == nil || IsPermanent(err) || errors.Is(err, context.Canceled) {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return transientSQLStates[pgErr.Code]
	}
	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, m := range transientMessages {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}
