package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/leapdao/acebusters-backend/internal/debug"
	"github.com/leapdao/acebusters-backend/internal/metrics"
	"github.com/leapdao/acebusters-backend/internal/models"
	"github.com/leapdao/acebusters-backend/internal/storage"
)

// Processor handles one notification
type Processor interface {
	Process(ctx context.Context, n *models.Notification) error
}

// Config holds the worker settings
type Config struct {
	BatchSize    int
	Concurrency  int
	PollInterval time.Duration
}

// Worker drains the notification outbox. Tables are processed in parallel,
// notifications of one table in publication order.
type Worker struct {
	store     storage.NotificationStore
	processor Processor
	cfg       Config
}

// New creates a Worker
func New(store storage.NotificationStore, processor Processor, cfg Config) *Worker {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	return &Worker{store: store, processor: processor, cfg: cfg}
}

// ProcessBatch claims and processes one batch and returns how many notifications were claimed.
// A failed notification is left unprocessed and is claimed again once its lease expires.
func (w *Worker) ProcessBatch(ctx context.Context) (int, error) {
	batch, err := w.store.ClaimNotifications(ctx, w.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to claim notifications: %w", err)
	}
	if len(batch) == 0 {
		return 0, nil
	}

	var order []string
	byTable := make(map[string][]models.Notification)
	for _, n := range batch {
		table := n.Table()
		if _, seen := byTable[table]; !seen {
			order = append(order, table)
		}
		byTable[table] = append(byTable[table], n)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.cfg.Concurrency)
	for _, table := range order {
		queue := byTable[table]
		g.Go(func() error {
			return w.processTable(gctx, queue)
		})
	}
	if err := g.Wait(); err != nil {
		return len(batch), err
	}
	return len(batch), nil
}

func (w *Worker) processTable(ctx context.Context, queue []models.Notification) error {
	for i := range queue {
		n := &queue[i]
		debug.PrintNotification(n)
		if err := w.processor.Process(ctx, n); err != nil {
			slog.Warn("Notification failed, will retry after lease",
				"id", n.ID,
				"subject", n.Subject,
				"error", err,
			)
			continue
		}
		if err := w.store.MarkNotificationProcessed(ctx, n.ID); err != nil {
			return fmt.Errorf("failed to mark notification %s processed: %w", n.ID, err)
		}
		metrics.NotificationsProcessed.Inc()
		slog.Debug("Notification processed", "id", n.ID, "subject", n.Subject)
	}
	return nil
}

// Run processes batches until ctx is cancelled
func (w *Worker) Run(ctx context.Context) error {
	slog.Info("Starting notification worker",
		"batch_size", w.cfg.BatchSize,
		"concurrency", w.cfg.Concurrency,
		"poll_interval", w.cfg.PollInterval,
	)
	timer := time.NewTimer(0)
	defer timer.Stop()

	rounds := 0
	for {
		select {
		case <-ctx.Done():
			slog.Info("Notification worker stopped")
			return nil
		case <-timer.C:
		}

		n, err := w.ProcessBatch(ctx)
		if err != nil {
			metrics.ErrorsTotal.WithLabelValues("worker").Inc()
			slog.Error("Notification batch failed", "error", err)
		}
		rounds++
		if rounds%10 == 0 {
			slog.Info("Notification worker progress", "rounds", rounds, "last_batch", n)
		}

		next := w.cfg.PollInterval
		if n == w.cfg.BatchSize {
			next = 0
		}
		timer.Reset(next)
	}
}
