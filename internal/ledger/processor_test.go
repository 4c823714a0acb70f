package ledger

import (
	"context"
	"testing"

	"github.com/stellar/go/xdr"

	"github.com/leapdao/acebusters-backend/internal/extraction"
	"github.com/leapdao/acebusters-backend/internal/storage"
)

func symbol(s string) xdr.ScVal {
	sym := xdr.ScSymbol(s)
	return xdr.ScVal{Type: xdr.ScValTypeScvSymbol, Sym: &sym}
}

func uint64Val(n uint64) xdr.ScVal {
	v := xdr.Uint64(n)
	return xdr.ScVal{Type: xdr.ScValTypeScvU64, U64: &v}
}

func TestProcessor_Apply(t *testing.T) {
	ctx := context.Background()
	repo := storage.NewMemoryRepository()
	p := NewProcessor("test", repo, []string{"CT1"})

	if !p.isWatched("CT1") || p.isWatched("CT2") {
		t.Errorf("Expected only CT1 to be watched")
	}

	entries := []extraction.StorageEntry{
		{ContractID: "CT1", Key: symbol(extraction.KeyLastHandNetted), Val: uint64Val(4)},
		{ContractID: "CT1", Key: symbol("Unrelated"), Val: uint64Val(9)},
	}
	if err := p.Apply(ctx, "CT1", 120, entries); err != nil {
		t.Fatalf("Apply() unexpected error: %v", err)
	}

	state, err := repo.GetTableState(ctx, "CT1")
	if err != nil {
		t.Fatalf("GetTableState() unexpected error: %v", err)
	}
	if state.LastHandNetted != 4 || state.LedgerSeq != 120 {
		t.Errorf("Expected lhn 4 at ledger 120, got: %d at %d", state.LastHandNetted, state.LedgerSeq)
	}

	if err := p.Apply(ctx, "CT1", 121, entries[1:]); err != nil {
		t.Fatalf("Apply() unexpected error: %v", err)
	}
	state, _ = repo.GetTableState(ctx, "CT1")
	if state.LedgerSeq != 120 {
		t.Errorf("Expected untouched snapshot to keep ledger 120, got: %d", state.LedgerSeq)
	}
}
