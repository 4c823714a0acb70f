package extraction

import (
	"fmt"
	"log/slog"

	"github.com/leapdao/acebusters-backend/internal/models"

	"github.com/stellar/go/ingest"
	"github.com/stellar/go/xdr"
)

// Storage keys written by the table contract
const (
	KeySmallBlind               = "SmallBlind"
	KeyLastHandNetted           = "LastHandNetted"
	KeyLastNettingRequestHandID = "LastNettingRequestHandId"
	KeyLastNettingRequestTime   = "LastNettingRequestTime"
	KeySeats                    = "Seats"
)

// StorageEntry is one contract data entry written by a transaction
type StorageEntry struct {
	ContractID string
	Key        xdr.ScVal
	Val        xdr.ScVal
	Removed    bool
}

// ExtractStorageEntries returns the contract data writes of a transaction for the watched contracts
func ExtractStorageEntries(tx ingest.LedgerTransaction, watched func(contractID string) bool) ([]StorageEntry, error) {
	changes, err := tx.GetChanges()
	if err != nil {
		return nil, fmt.Errorf("failed to get changes: %w", err)
	}

	var entries []StorageEntry
	for _, change := range changes {
		if change.Type != xdr.LedgerEntryTypeContractData {
			continue
		}

		var data *xdr.ContractDataEntry
		removed := false
		switch {
		case change.Post != nil:
			data = change.Post.Data.ContractData
		case change.Pre != nil:
			data = change.Pre.Data.ContractData
			removed = true
		}
		if data == nil {
			continue
		}

		contractID, err := data.Contract.String()
		if err != nil || !watched(contractID) {
			continue
		}

		entries = append(entries, StorageEntry{
			ContractID: contractID,
			Key:        data.Key,
			Val:        data.Val,
			Removed:    removed,
		})
	}

	return entries, nil
}

// KeyName returns the variant name of a storage key. Enum keys arrive either as a
// bare symbol or as a vec whose first element is the symbol.
func KeyName(key xdr.ScVal) string {
	switch key.Type {
	case xdr.ScValTypeScvSymbol:
		return string(key.MustSym())
	case xdr.ScValTypeScvVec:
		vec := key.MustVec()
		if vec == nil || len(*vec) == 0 {
			return ""
		}
		first := (*vec)[0]
		if first.Type == xdr.ScValTypeScvSymbol {
			return string(first.MustSym())
		}
	}
	return ""
}

// ApplyEntry folds one storage entry into the table snapshot.
// It reports whether the entry belonged to the table layout.
func ApplyEntry(state *models.TableState, entry StorageEntry) (bool, error) {
	name := KeyName(entry.Key)

	if entry.Removed {
		switch name {
		case KeySeats:
			state.Seats = nil
			return true, nil
		case KeySmallBlind, KeyLastHandNetted, KeyLastNettingRequestHandID, KeyLastNettingRequestTime:
			return true, nil
		}
		return false, nil
	}

	switch name {
	case KeySmallBlind:
		n, err := ScValToInt64(entry.Val)
		if err != nil {
			return true, fmt.Errorf("failed to decode %s: %w", name, err)
		}
		state.SmallBlind = n
	case KeyLastHandNetted:
		n, err := ScValToInt64(entry.Val)
		if err != nil {
			return true, fmt.Errorf("failed to decode %s: %w", name, err)
		}
		state.LastHandNetted = uint64(n)
	case KeyLastNettingRequestHandID:
		n, err := ScValToInt64(entry.Val)
		if err != nil {
			return true, fmt.Errorf("failed to decode %s: %w", name, err)
		}
		state.LastNettingRequestHandID = uint64(n)
	case KeyLastNettingRequestTime:
		n, err := ScValToInt64(entry.Val)
		if err != nil {
			return true, fmt.Errorf("failed to decode %s: %w", name, err)
		}
		state.LastNettingRequestTime = n
	case KeySeats:
		seats, err := decodeSeats(entry.Val)
		if err != nil {
			return true, fmt.Errorf("failed to decode %s: %w", name, err)
		}
		state.Seats = seats
	default:
		slog.Debug("Ignoring table storage key", "contract", entry.ContractID, "key", ScValToInterface(entry.Key))
		return false, nil
	}
	return true, nil
}

// decodeSeats reads a vec of {address, amount, exit_hand} maps.
// Empty seats carry a void address.
func decodeSeats(val xdr.ScVal) ([]models.LedgerSeat, error) {
	if val.Type != xdr.ScValTypeScvVec {
		return nil, fmt.Errorf("seats is %s, not a vec", val.Type.String())
	}
	vec := val.MustVec()
	if vec == nil {
		return nil, nil
	}

	seats := make([]models.LedgerSeat, len(*vec))
	for i, item := range *vec {
		if item.Type != xdr.ScValTypeScvMap {
			return nil, fmt.Errorf("seat %d is %s, not a map", i, item.Type.String())
		}
		scMap := item.MustMap()
		if scMap == nil {
			continue
		}
		for _, field := range *scMap {
			var err error
			switch scValToString(field.Key) {
			case "address":
				if field.Val.Type == xdr.ScValTypeScvAddress {
					addr := field.Val.MustAddress()
					seats[i].Address, err = addr.String()
				}
			case "amount":
				seats[i].Amount, err = ScValToInt64(field.Val)
			case "exit_hand":
				var n int64
				n, err = ScValToInt64(field.Val)
				seats[i].ExitHand = uint64(n)
			}
			if err != nil {
				return nil, fmt.Errorf("seat %d: %w", i, err)
			}
		}
	}
	return seats, nil
}
