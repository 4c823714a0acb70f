// Package scanner reconciles ledger netting counters and hand store staleness
// on a timer and emits the notifications that drive disputes, nettings, kicks,
// timeouts and the completion of hands whose change was missed.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/leapdao/acebusters-backend/internal/bus"
	"github.com/leapdao/acebusters-backend/internal/ledger"
	"github.com/leapdao/acebusters-backend/internal/metrics"
	"github.com/leapdao/acebusters-backend/internal/oracle"
	"github.com/leapdao/acebusters-backend/internal/storage"

	"golang.org/x/sync/errgroup"
)

const (
	// DisputeDelay is how long players get to submit their own receipts
	DisputeDelay = 3 * time.Minute
	// SubmissionWindow ends the dispute phase of a netting request
	SubmissionWindow = 10 * time.Minute
	// NettingWindow after which a netting request is left alone
	NettingWindow = 60 * time.Minute
	// KickAfter is the sit-out duration after which a seat is kicked
	KickAfter = 5 * time.Minute
	// FreshFor is how long a hand counts as live for timeouts and netting requests
	FreshFor = 60 * time.Minute

	maxConcurrentTables = 8
)

// Scanner emits reconciliation notifications per table
type Scanner struct {
	gateway   ledger.Gateway
	hands     storage.HandStore
	publisher bus.Publisher
	now       func() time.Time
}

// New creates a Scanner
func New(gateway ledger.Gateway, hands storage.HandStore, publisher bus.Publisher) *Scanner {
	return &Scanner{
		gateway:   gateway,
		hands:     hands,
		publisher: publisher,
		now:       time.Now,
	}
}

// Scan reconciles every table concurrently. A failing table does not stop the
// others; the per-table errors are joined.
func (s *Scanner) Scan(ctx context.Context) error {
	start := time.Now()
	defer func() { metrics.ScanDuration.Observe(time.Since(start).Seconds()) }()

	tables, err := s.gateway.GetTables(ctx)
	if err != nil {
		return fmt.Errorf("failed to list tables: %w", err)
	}
	if len(tables) == 0 {
		slog.Info("No table contracts to scan")
		return nil
	}
	metrics.TrackedTables.Set(float64(len(tables)))

	errs := make([]error, len(tables))
	var g errgroup.Group
	g.SetLimit(maxConcurrentTables)
	for i, table := range tables {
		g.Go(func() error {
			if err := s.ScanTable(ctx, table); err != nil {
				metrics.ScanErrors.Inc()
				slog.Error("Table scan failed", "table", table, "error", err)
				errs[i] = fmt.Errorf("table %s: %w", table, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	slog.Debug("Scan finished", "tables", len(tables), "duration", time.Since(start))
	return errors.Join(errs...)
}

// ScanTable reconciles one table
func (s *Scanner) ScanTable(ctx context.Context, table string) error {
	var lhn, lnr uint64
	var lnt int64
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		lhn, err = s.gateway.GetLastHandNetted(gctx, table)
		return err
	})
	g.Go(func() (err error) {
		lnr, err = s.gateway.GetLastNettingRequestHandID(gctx, table)
		return err
	})
	g.Go(func() (err error) {
		lnt, err = s.gateway.GetLastNettingRequestTime(gctx, table)
		return err
	})
	if err := g.Wait(); err != nil {
		return fmt.Errorf("failed to read netting counters: %w", err)
	}

	if lnr > lhn {
		return s.reconcileNetting(ctx, table, lhn, lnr, lnt)
	}
	return s.reconcileHand(ctx, table)
}

// reconcileNetting handles an open netting request
func (s *Scanner) reconcileNetting(ctx context.Context, table string, lhn, lnr uint64, lnt int64) error {
	now := s.now().Unix()
	requested := time.Unix(lnt, 0)
	age := s.now().Sub(requested)

	switch {
	case age > SubmissionWindow:
		if age >= NettingWindow {
			slog.Debug("Netting request expired", "table", table, "requested", lnt, "now", now)
			return nil
		}
		return s.publish(ctx, bus.KindProgressNetting, table, struct{}{})
	case age > DisputeDelay:
		return s.publish(ctx, bus.KindHandleDispute, table, bus.DisputePayload{
			TableAddr:          table,
			LastHandNetted:     lhn,
			LastNettingRequest: lnr,
		})
	}
	slog.Debug("Netting request too recent", "table", table, "age", age)
	return nil
}

// reconcileHand inspects the latest hand of a netted table
func (s *Scanner) reconcileHand(ctx context.Context, table string) error {
	hand, err := s.hands.GetLatestHand(ctx, table)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load hand: %w", err)
	}
	lineup, err := s.gateway.GetLineup(ctx, table)
	if err != nil {
		return fmt.Errorf("failed to read lineup: %w", err)
	}

	now := s.now()
	kickBefore := now.Add(-KickAfter).Unix()
	fresh := hand.Changed > now.Add(-FreshFor).Unix()

	var errs []error
	hasPlayer := false
	for pos, seat := range hand.Lineup {
		if seat.Sitout.IsTimestamp() && seat.Sitout.Since < kickBefore {
			errs = append(errs, s.publish(ctx, bus.KindKick, table, bus.KickPayload{Pos: pos, TableAddr: table}))
		}
		if !seat.IsEmpty() {
			hasPlayer = true
		}
	}
	if fresh && hasPlayer {
		// a decided latest hand was never completed
		complete, err := oracle.IsComplete(hand)
		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("failed to check hand %d: %w", hand.HandID, err))
		case complete:
			errs = append(errs, s.publish(ctx, bus.KindHandComplete, table, bus.HandPayload{
				TableAddr: table,
				HandID:    hand.HandID,
			}))
		default:
			errs = append(errs, s.publish(ctx, bus.KindTimeout, table, bus.TablePayload{TableAddr: table}))
		}
	}

	hasExit := false
	for _, seat := range lineup.Seats {
		if seat.ExitHand > 0 {
			hasExit = true
			break
		}
	}
	if hasExit && fresh && hand.HandID > 1 {
		errs = append(errs, s.publish(ctx, bus.KindTableNettingRequest, table, bus.HandPayload{
			TableAddr: table,
			HandID:    hand.HandID - 1,
		}))
	}
	return errors.Join(errs...)
}

func (s *Scanner) publish(ctx context.Context, kind, table string, payload interface{}) error {
	return s.publisher.Publish(ctx, bus.Subject(kind, table), payload)
}

// Run scans every interval until ctx is cancelled
func (s *Scanner) Run(ctx context.Context, interval time.Duration) error {
	slog.Info("Starting reconciliation scanner", "interval", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for round := 1; ; round++ {
		if err := s.Scan(ctx); err != nil {
			metrics.ErrorsTotal.WithLabelValues("scanner").Inc()
		}
		if round%10 == 0 {
			slog.Info("Reconciliation scans completed", "rounds", round)
		}

		select {
		case <-ctx.Done():
			slog.Info("Reconciliation scanner stopped")
			return nil
		case <-ticker.C:
		}
	}
}
