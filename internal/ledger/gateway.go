package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/leapdao/acebusters-backend/internal/models"
	"github.com/leapdao/acebusters-backend/internal/storage"
)

// ErrUnknownTable is returned for tables the watcher has never indexed
var ErrUnknownTable = errors.New("unknown table")

// Submission kinds recorded in the outbox
const (
	SubmitKindLeave    = "leave"
	SubmitKindSettle   = "settle"
	SubmitKindDispute  = "dispute"
	SubmitKindProgress = "progress"
)

// Gateway reads table contract state and requests contract transactions.
// Reads are snapshots that may lag the chain by a ledger or two. Failures propagate.
type Gateway interface {
	GetLineup(ctx context.Context, table string) (*models.LedgerLineup, error)
	GetSmallBlind(ctx context.Context, table string) (int64, error)
	GetLastHandNetted(ctx context.Context, table string) (uint64, error)
	GetLastNettingRequestHandID(ctx context.Context, table string) (uint64, error)
	GetLastNettingRequestTime(ctx context.Context, table string) (int64, error)
	GetTables(ctx context.Context) ([]string, error)

	SubmitLeave(ctx context.Context, table, leaveReceipt string) error
	SubmitSettlement(ctx context.Context, table string, netting *models.Netting) error
	SubmitDispute(ctx context.Context, table string, receipts []string) error
	ProgressNetting(ctx context.Context, table string) error
}

// IndexedGateway serves reads from the snapshot kept by the ledger watcher and
// records writes as rows of the ledger_submissions table. Building and sending
// the contract transactions for those rows is left to an external signer.
type IndexedGateway struct {
	tables  storage.TableStore
	watched []string
}

// NewIndexedGateway creates a gateway. When watched is non-empty GetTables only returns those ids.
func NewIndexedGateway(tables storage.TableStore, watched []string) *IndexedGateway {
	return &IndexedGateway{
		tables:  tables,
		watched: watched,
	}
}

func (g *IndexedGateway) state(ctx context.Context, table string) (*models.TableState, error) {
	state, err := g.tables.GetTableState(ctx, table)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read table state: %w", err)
	}
	return state, nil
}

func (g *IndexedGateway) GetLineup(ctx context.Context, table string) (*models.LedgerLineup, error) {
	state, err := g.state(ctx, table)
	if err != nil {
		return nil, err
	}
	lineup := state.Lineup()
	return &lineup, nil
}

func (g *IndexedGateway) GetSmallBlind(ctx context.Context, table string) (int64, error) {
	state, err := g.state(ctx, table)
	if err != nil {
		return 0, err
	}
	return state.SmallBlind, nil
}

func (g *IndexedGateway) GetLastHandNetted(ctx context.Context, table string) (uint64, error) {
	state, err := g.state(ctx, table)
	if err != nil {
		return 0, err
	}
	return state.LastHandNetted, nil
}

func (g *IndexedGateway) GetLastNettingRequestHandID(ctx context.Context, table string) (uint64, error) {
	state, err := g.state(ctx, table)
	if err != nil {
		return 0, err
	}
	return state.LastNettingRequestHandID, nil
}

func (g *IndexedGateway) GetLastNettingRequestTime(ctx context.Context, table string) (int64, error) {
	state, err := g.state(ctx, table)
	if err != nil {
		return 0, err
	}
	return state.LastNettingRequestTime, nil
}

func (g *IndexedGateway) GetTables(ctx context.Context) ([]string, error) {
	indexed, err := g.tables.ListTables(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	if len(g.watched) == 0 {
		return indexed, nil
	}

	var tables []string
	for _, addr := range indexed {
		if slices.Contains(g.watched, addr) {
			tables = append(tables, addr)
		}
	}
	return tables, nil
}

func (g *IndexedGateway) submit(ctx context.Context, table, kind string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s submission: %w", kind, err)
	}
	sub := &models.Submission{TableAddr: table, Kind: kind, Payload: data}
	if err := g.tables.SaveSubmission(ctx, sub); err != nil {
		return fmt.Errorf("failed to queue %s submission: %w", kind, err)
	}
	slog.Info("Ledger submission queued", "table", table, "kind", kind, "id", sub.ID)
	return nil
}

func (g *IndexedGateway) SubmitLeave(ctx context.Context, table, leaveReceipt string) error {
	return g.submit(ctx, table, SubmitKindLeave, map[string]string{"leaveReceipt": leaveReceipt})
}

func (g *IndexedGateway) SubmitSettlement(ctx context.Context, table string, netting *models.Netting) error {
	return g.submit(ctx, table, SubmitKindSettle, netting)
}

func (g *IndexedGateway) SubmitDispute(ctx context.Context, table string, receipts []string) error {
	return g.submit(ctx, table, SubmitKindDispute, map[string][]string{"receipts": receipts})
}

func (g *IndexedGateway) ProgressNetting(ctx context.Context, table string) error {
	return g.submit(ctx, table, SubmitKindProgress, struct{}{})
}
