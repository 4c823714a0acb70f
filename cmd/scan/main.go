package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/leapdao/acebusters-backend/internal/bus"
	"github.com/leapdao/acebusters-backend/internal/config"
	"github.com/leapdao/acebusters-backend/internal/ledger"
	"github.com/leapdao/acebusters-backend/internal/ledger/retry"
	"github.com/leapdao/acebusters-backend/internal/scanner"
	"github.com/leapdao/acebusters-backend/internal/storage"
)

// scan runs one reconciliation pass and exits. Notifications land in the
// outbox and are processed by the oracle's worker.
func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	var (
		tables   = flag.String("tables", strings.Join(cfg.TableContracts, ","), "comma separated table contract ids (empty = all indexed tables)")
		database = flag.String("db", cfg.DatabaseURL, "Postgres connection string")
		verbose  = flag.Bool("v", false, "debug logging")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})))

	if *database == "" {
		log.Fatal("DATABASE_URL or -db is required")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	repository, err := storage.NewPostgresRepository(ctx, *database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer repository.Close()

	var watched []string
	for _, id := range strings.Split(*tables, ",") {
		if id = strings.TrimSpace(id); id != "" {
			watched = append(watched, id)
		}
	}

	gateway := ledger.NewIndexedGateway(repository, watched)
	publisher := bus.NewOutboxPublisher(repository, retry.NewStrategy(cfg.Retry))
	scan := scanner.New(gateway, repository, publisher)

	if err := scan.Scan(ctx); err != nil {
		slog.Error("Scan finished with errors", "error", err)
		os.Exit(1)
	}
	slog.Info("Scan finished", "tables", len(watched))
}
