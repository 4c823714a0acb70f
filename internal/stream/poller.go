package stream

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/leapdao/acebusters-backend/internal/ledger/retry"
	"github.com/leapdao/acebusters-backend/internal/metrics"
	"github.com/leapdao/acebusters-backend/internal/storage"
)

// CheckpointName is the checkpoint key of the change feed position
const CheckpointName = "stream"

// GapGrace is how long a missing sequence number is waited for before it is
// taken as a rolled back write. Sequences are handed out before commit, so a
// lower one can become visible after a higher one.
const GapGrace = 10 * time.Second

const batchSize = 100

// Poller feeds the hand store change feed to a Handler
type Poller struct {
	hands       storage.HandStore
	checkpoints storage.CheckpointStore
	handler     *Handler
	interval    time.Duration
	now         func() time.Time
}

// NewPoller creates a Poller
func NewPoller(hands storage.HandStore, checkpoints storage.CheckpointStore, handler *Handler, interval time.Duration) *Poller {
	return &Poller{
		hands:       hands,
		checkpoints: checkpoints,
		handler:     handler,
		interval:    interval,
		now:         time.Now,
	}
}

// PollOnce handles the changes after the checkpoint in sequence order and
// returns how many were handled. It stops before a change the handler failed
// on, leaving the checkpoint in front of it for the next poll, and before a
// sequence gap younger than GapGrace. Changes failing with a permanent error
// are logged and skipped.
func (p *Poller) PollOnce(ctx context.Context) (int, error) {
	after, err := p.checkpoints.LoadCheckpoint(ctx, CheckpointName)
	if err != nil {
		return 0, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	changes, err := p.hands.ListHandChanges(ctx, after, batchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to list hand changes: %w", err)
	}

	expected := after + 1
	for i, change := range changes {
		if change.Seq != expected && p.now().Sub(change.CreatedAt) < GapGrace {
			slog.Debug("Waiting for change feed gap",
				"missing_from", expected,
				"next", change.Seq,
			)
			return i, nil
		}

		if err := p.handler.Handle(ctx, change); err != nil {
			metrics.ErrorsTotal.WithLabelValues("stream").Inc()
			if !retry.IsPermanent(err) {
				return i, fmt.Errorf("failed to handle change %d of table %s: %w", change.Seq, change.TableAddr, err)
			}
			slog.Error("Skipping hand change",
				"seq", change.Seq,
				"table", change.TableAddr,
				"hand_id", change.HandID,
				"error", err,
			)
		}
		if err := p.checkpoints.SaveCheckpoint(ctx, CheckpointName, change.Seq); err != nil {
			return i, fmt.Errorf("failed to save checkpoint: %w", err)
		}
		expected = change.Seq + 1
		metrics.HandChangesHandled.Inc()
		metrics.StreamCheckpoint.Set(float64(change.Seq))

		if change.Seq%10 == 0 {
			slog.Info("Hand change handled", "seq", change.Seq, "table", change.TableAddr)
		} else {
			slog.Debug("Hand change handled", "seq", change.Seq, "table", change.TableAddr)
		}
	}
	return len(changes), nil
}

// Run polls until ctx is cancelled. A full batch is followed immediately by
// the next poll.
func (p *Poller) Run(ctx context.Context) error {
	slog.Info("Starting change feed poller", "interval", p.interval)
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Change feed poller stopped")
			return nil
		case <-timer.C:
		}

		n, err := p.PollOnce(ctx)
		if err != nil {
			slog.Error("Change feed poll failed", "error", err)
		}
		next := p.interval
		if n == batchSize {
			next = 0
		}
		timer.Reset(next)
	}
}
