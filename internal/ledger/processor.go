package ledger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/leapdao/acebusters-backend/internal/extraction"
	"github.com/leapdao/acebusters-backend/internal/ledger/retry"
	"github.com/leapdao/acebusters-backend/internal/metrics"
	"github.com/leapdao/acebusters-backend/internal/models"
	"github.com/leapdao/acebusters-backend/internal/storage"

	"github.com/stellar/go/ingest"
	"github.com/stellar/go/xdr"
)

// Processor folds table contract storage writes into ledger snapshots
type Processor struct {
	networkPassphrase string
	tables            storage.TableStore
	watched           map[string]bool
}

// NewProcessor creates a Processor. An empty watch list accepts every contract
// writing table storage keys.
func NewProcessor(networkPassphrase string, tables storage.TableStore, watched []string) *Processor {
	set := make(map[string]bool, len(watched))
	for _, id := range watched {
		set[id] = true
	}
	metrics.TrackedTables.Set(float64(len(set)))
	return &Processor{
		networkPassphrase: networkPassphrase,
		tables:            tables,
		watched:           set,
	}
}

func (p *Processor) isWatched(contractID string) bool {
	return len(p.watched) == 0 || p.watched[contractID]
}

// Process reads every successful Soroban transaction of a ledger
func (p *Processor) Process(ctx context.Context, ledger xdr.LedgerCloseMeta) error {
	start := time.Now()
	sequence := ledger.LedgerSequence()

	reader, err := ingest.NewLedgerTransactionReaderFromLedgerCloseMeta(p.networkPassphrase, ledger)
	if err != nil {
		return retry.Permanent(fmt.Errorf("failed to create transaction reader: %w", err))
	}
	defer reader.Close()

	byContract := make(map[string][]extraction.StorageEntry)
	var order []string

	for {
		tx, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read transaction: %w", err)
		}

		if !tx.Successful() || !tx.IsSorobanTx() {
			continue
		}
		if !p.touchesWatched(tx) {
			continue
		}

		entries, err := extraction.ExtractStorageEntries(tx, p.isWatched)
		if err != nil {
			return retry.Permanent(fmt.Errorf("failed to extract storage of tx %s: %w", tx.Hash.HexString(), err))
		}
		for _, entry := range entries {
			if _, seen := byContract[entry.ContractID]; !seen {
				order = append(order, entry.ContractID)
			}
			byContract[entry.ContractID] = append(byContract[entry.ContractID], entry)
		}
	}

	for _, contractID := range order {
		if err := p.Apply(ctx, contractID, sequence, byContract[contractID]); err != nil {
			return err
		}
	}

	metrics.LedgersProcessed.Inc()
	metrics.CurrentLedger.Set(float64(sequence))
	metrics.LedgerProcessingDuration.Observe(time.Since(start).Seconds())
	return nil
}

// touchesWatched checks the footprint before decoding any meta
func (p *Processor) touchesWatched(tx ingest.LedgerTransaction) bool {
	v1Envelope, ok := tx.GetTransactionV1Envelope()
	if !ok || v1Envelope.Tx.Ext.SorobanData == nil {
		return false
	}

	footprint := v1Envelope.Tx.Ext.SorobanData.Resources.Footprint
	keys := append(append([]xdr.LedgerKey{}, footprint.ReadWrite...), footprint.ReadOnly...)
	for _, ledgerKey := range keys {
		contractData, ok := ledgerKey.GetContractData()
		if !ok {
			continue
		}
		contractID, err := contractData.Contract.String()
		if err == nil && p.isWatched(contractID) {
			return true
		}
	}
	return false
}

// Apply merges storage entries of one contract into its snapshot
func (p *Processor) Apply(ctx context.Context, contractID string, sequence uint32, entries []extraction.StorageEntry) error {
	state, err := p.tables.GetTableState(ctx, contractID)
	if errors.Is(err, storage.ErrNotFound) {
		state = &models.TableState{TableAddr: contractID}
	} else if err != nil {
		return fmt.Errorf("failed to load table state: %w", err)
	}

	touched := false
	for _, entry := range entries {
		ok, err := extraction.ApplyEntry(state, entry)
		if err != nil {
			slog.Warn("Skipping undecodable table entry",
				"table", contractID,
				"sequence", sequence,
				"error", err,
			)
			continue
		}
		touched = touched || ok
	}
	if !touched {
		return nil
	}

	state.LedgerSeq = sequence
	state.UpdatedAt = time.Now().UTC()
	if err := p.tables.SaveTableState(ctx, state); err != nil {
		return fmt.Errorf("failed to save table state: %w", err)
	}

	metrics.TableStatesSaved.Inc()
	slog.Debug("Table snapshot updated",
		"table", contractID,
		"sequence", sequence,
		"seats", len(state.Seats),
		"last_hand_netted", state.LastHandNetted,
	)
	return nil
}
