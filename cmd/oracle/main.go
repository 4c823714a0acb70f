package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	rpcclient "github.com/stellar/go/clients/rpcclient"
	"github.com/stellar/go/ingest/ledgerbackend"
	"github.com/stellar/go/keypair"
	"golang.org/x/sync/errgroup"

	"github.com/leapdao/acebusters-backend/internal/api"
	"github.com/leapdao/acebusters-backend/internal/broadcast"
	"github.com/leapdao/acebusters-backend/internal/bus"
	"github.com/leapdao/acebusters-backend/internal/config"
	"github.com/leapdao/acebusters-backend/internal/ledger"
	"github.com/leapdao/acebusters-backend/internal/ledger/retry"
	"github.com/leapdao/acebusters-backend/internal/metrics"
	"github.com/leapdao/acebusters-backend/internal/oracle"
	"github.com/leapdao/acebusters-backend/internal/orchestrator"
	"github.com/leapdao/acebusters-backend/internal/reservation"
	"github.com/leapdao/acebusters-backend/internal/scanner"
	"github.com/leapdao/acebusters-backend/internal/services"
	"github.com/leapdao/acebusters-backend/internal/storage"
	"github.com/leapdao/acebusters-backend/internal/stream"
	"github.com/leapdao/acebusters-backend/internal/worker"
)

func main() {
	fmt.Println("Starting Acebusters Oracle...")

	// 1. Load configuration
	_ = godotenv.Load()
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// 2. Configure logger
	setupLogger(cfg.LogLevel)
	slog.Info("Configuration loaded",
		"rpc_server", cfg.RPCServerURL,
		"network", cfg.NetworkPassphrase,
		"tables", len(cfg.TableContracts),
		"log_level", cfg.LogLevel,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg); err != nil {
		slog.Error("Oracle stopped with error", "error", err)
		os.Exit(1)
	}
	slog.Info("Oracle stopped")
}

func setupLogger(level string) {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)
}

func run(ctx context.Context, cfg *config.Config) error {
	// 3. Initialize database connection
	repository, err := storage.NewPostgresRepository(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer repository.Close()
	if err := repository.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	slog.Info("Database connected successfully")

	oracleKey, err := keypair.ParseFull(cfg.OracleSecret)
	if err != nil {
		return fmt.Errorf("failed to parse oracle secret: %w", err)
	}

	// 4. Core components, built once and shared
	strategy := retry.NewStrategy(cfg.Retry)
	gateway := ledger.NewIndexedGateway(repository, cfg.TableContracts)
	hub := broadcast.NewHub()
	defer hub.Close()
	publisher := bus.NewOutboxPublisher(repository, strategy)

	engine := oracle.New(oracle.Deps{
		Store:       repository,
		Gateway:     gateway,
		Broadcaster: hub,
		Key:         oracleKey,
		Timeout:     cfg.Timeout,
	})
	slog.Info("Oracle engine ready", "oracle", engine.OracleAddress())

	scan := scanner.New(gateway, repository, publisher)
	handler := stream.NewHandler(engine.OracleAddress(), gateway, publisher, hub)
	poller := stream.NewPoller(repository, repository, handler, cfg.StreamPoll)

	orch := orchestrator.New([]services.Service{
		services.NewTimeoutService(engine),
		services.NewHandCompleteService(engine),
		services.NewNettingRequestService(engine),
		services.NewKickService(engine),
		services.NewSettlementService(gateway),
		services.NewProgressNettingService(gateway),
		services.NewDisputeService(engine, gateway),
	})
	notifications := worker.New(repository, orch, worker.Config{PollInterval: cfg.WorkerPoll})
	reservations := reservation.New(repository, gateway, hub)

	// 5. Ledger watcher
	rpcClient := rpcclient.NewClient(cfg.RPCServerURL, &http.Client{})
	streamer, startLedger, err := newStreamer(ctx, cfg, rpcClient, repository, strategy)
	if err != nil {
		return err
	}

	// 6. HTTP surface
	server := api.NewServer(cfg.APIPort, api.Deps{
		Oracle:             engine,
		Reservations:       reservations,
		Subscriptions:      hub,
		Database:           repository,
		RPC:                rpcProbe{client: rpcClient},
		ReservationTimeout: cfg.ReservationTimeout,
	})
	if err := server.Start(); err != nil {
		return fmt.Errorf("failed to start API server: %w", err)
	}

	// 7. Run every loop until one fails or a signal arrives
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ignoreCancel(streamer.Start(gctx, startLedger)) })
	g.Go(func() error { return scan.Run(gctx, cfg.ScanInterval) })
	g.Go(func() error { return poller.Run(gctx) })
	g.Go(func() error { return notifications.Run(gctx) })
	g.Go(func() error { return cleanupReservations(gctx, reservations, cfg.ReservationTimeout) })
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := streamer.Stop(); err != nil {
			slog.Error("Error stopping streamer", "error", err)
		}
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// rpcProbe reports whether the Stellar RPC server answers health requests
type rpcProbe struct {
	client *rpcclient.Client
}

func (p rpcProbe) Ping(ctx context.Context) error {
	_, err := p.client.GetHealth(ctx)
	return err
}

func newStreamer(ctx context.Context, cfg *config.Config, rpcClient *rpcclient.Client, repository *storage.PostgresRepository, strategy retry.Strategy) (*ledger.Streamer, uint32, error) {

	startLedger := cfg.StartLedger
	if startLedger == 0 {
		health, err := rpcClient.GetHealth(ctx)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to get health from RPC: %w", err)
		}
		// Start from 10 ledgers before latest to be safe
		startLedger = health.LatestLedger - 10
		slog.Info("Latest ledger from RPC",
			"latest", health.LatestLedger,
			"fallback_start", startLedger,
		)
	}

	backend := ledgerbackend.NewRPCLedgerBackend(ledgerbackend.RPCLedgerBackendOptions{
		RPCServerURL: cfg.RPCServerURL,
		BufferSize:   cfg.BufferSize,
		HttpClient:   &http.Client{},
	})
	metrics.BufferSize.Set(float64(cfg.BufferSize))

	processor := ledger.NewProcessor(cfg.NetworkPassphrase, repository, cfg.TableContracts)
	streamer := ledger.NewStreamer(backend, processor, repository, strategy)

	resume, err := streamer.ResumeLedger(ctx, startLedger)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to load ledger checkpoint: %w", err)
	}
	return streamer, resume, nil
}

func cleanupReservations(ctx context.Context, reservations *reservation.Service, timeout time.Duration) error {
	ticker := time.NewTicker(timeout)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := reservations.Cleanup(ctx, timeout); err != nil {
				slog.Error("Reservation cleanup failed", "error", err)
			}
		}
	}
}

func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
