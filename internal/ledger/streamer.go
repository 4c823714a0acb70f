package ledger

import (
	"context"
	"log/slog"
	"time"

	"github.com/leapdao/acebusters-backend/internal/ledger/retry"
	"github.com/leapdao/acebusters-backend/internal/storage"

	"github.com/stellar/go/ingest/ledgerbackend"
	"github.com/stellar/go/xdr"
)

// CheckpointName is the checkpoint key of the ledger watcher
const CheckpointName = "ledger"

// Streamer continuously polls ledgers from the backend and processes them
type Streamer struct {
	backend     ledgerbackend.LedgerBackend
	processor   *Processor
	checkpoints storage.CheckpointStore
	retry       retry.Strategy
}

// NewStreamer creates a new Streamer instance
func NewStreamer(backend ledgerbackend.LedgerBackend, processor *Processor, checkpoints storage.CheckpointStore, strategy retry.Strategy) *Streamer {
	return &Streamer{
		backend:     backend,
		processor:   processor,
		checkpoints: checkpoints,
		retry:       strategy,
	}
}

// ResumeLedger returns the ledger after the saved checkpoint, or fallback if none was saved
func (s *Streamer) ResumeLedger(ctx context.Context, fallback uint32) (uint32, error) {
	saved, err := s.checkpoints.LoadCheckpoint(ctx, CheckpointName)
	if err != nil {
		return 0, err
	}
	if saved > 0 {
		return uint32(saved) + 1, nil
	}
	return fallback, nil
}

// Start begins the streaming process from the given starting ledger
func (s *Streamer) Start(ctx context.Context, startLedger uint32) error {
	slog.Info("Starting ledger streamer", "start_ledger", startLedger)

	ledgerRange := ledgerbackend.UnboundedRange(startLedger)
	if err := s.backend.PrepareRange(ctx, ledgerRange); err != nil {
		slog.Error("Failed to prepare range", "error", err)
		return err
	}

	slog.Info("Backend prepared, streaming ledgers...")

	currentSeq := startLedger
	for {
		select {
		case <-ctx.Done():
			slog.Warn("Context cancelled, stopping streamer")
			return ctx.Err()
		default:
		}

		startTime := time.Now()
		ledger, err := s.backend.GetLedger(ctx, currentSeq)
		if err != nil {
			slog.Error("Failed to get ledger", "sequence", currentSeq, "error", err)
			return err
		}
		fetchDuration := time.Since(startTime)

		if err := s.retry.Execute(ctx, func(ctx context.Context) error {
			return s.processLedger(ctx, ledger)
		}); err != nil {
			slog.Error("Failed to process ledger", "sequence", currentSeq, "error", err)
			return err
		}
		processDuration := time.Since(startTime)

		if currentSeq%10 == 0 {
			slog.Info("Ledger processed",
				"sequence", currentSeq,
				"fetch_ms", fetchDuration.Milliseconds(),
				"total_ms", processDuration.Milliseconds(),
			)
		} else {
			slog.Debug("Ledger processed",
				"sequence", currentSeq,
				"fetch_ms", fetchDuration.Milliseconds(),
				"total_ms", processDuration.Milliseconds(),
			)
		}

		currentSeq++
	}
}

func (s *Streamer) processLedger(ctx context.Context, ledger xdr.LedgerCloseMeta) error {
	if err := s.processor.Process(ctx, ledger); err != nil {
		return err
	}
	return s.checkpoints.SaveCheckpoint(ctx, CheckpointName, int64(ledger.LedgerSequence()))
}

// Stop gracefully stops the streamer
func (s *Streamer) Stop() error {
	slog.Info("Stopping streamer...")
	if err := s.backend.Close(); err != nil {
		slog.Error("Failed to close backend", "error", err)
		return err
	}
	slog.Info("Streamer stopped")
	return nil
}
