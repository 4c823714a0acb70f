package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/leapdao/acebusters-backend/internal/models"
	"github.com/leapdao/acebusters-backend/internal/storage"
)

func TestIndexedGateway_Reads(t *testing.T) {
	ctx := context.Background()
	repo := storage.NewMemoryRepository()
	_ = repo.SaveTableState(ctx, &models.TableState{
		TableAddr:                "CT1",
		SmallBlind:               50,
		LastHandNetted:           4,
		LastNettingRequestHandID: 6,
		LastNettingRequestTime:   1700000000,
		Seats:                    []models.LedgerSeat{{Address: "GA", Amount: 1000}, {}},
		LedgerSeq:                12,
	})
	gw := NewIndexedGateway(repo, nil)

	lineup, err := gw.GetLineup(ctx, "CT1")
	if err != nil {
		t.Fatalf("GetLineup() unexpected error: %v", err)
	}
	if lineup.LastHandNetted != 4 || len(lineup.Seats) != 2 || lineup.Seats[0].Amount != 1000 {
		t.Errorf("Expected lineup of the snapshot, got: %+v", lineup)
	}

	tests := []struct {
		name string
		read func() (int64, error)
		want int64
	}{
		{"small blind", func() (int64, error) { return gw.GetSmallBlind(ctx, "CT1") }, 50},
		{"last hand netted", func() (int64, error) {
			v, err := gw.GetLastHandNetted(ctx, "CT1")
			return int64(v), err
		}, 4},
		{"netting request hand", func() (int64, error) {
			v, err := gw.GetLastNettingRequestHandID(ctx, "CT1")
			return int64(v), err
		}, 6},
		{"netting request time", func() (int64, error) { return gw.GetLastNettingRequestTime(ctx, "CT1") }, 1700000000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.read()
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Expected %d, got: %d", tt.want, got)
			}
		})
	}

	if _, err := gw.GetLineup(ctx, "CT9"); !errors.Is(err, ErrUnknownTable) {
		t.Errorf("Expected ErrUnknownTable, got: %v", err)
	}
}

func TestIndexedGateway_GetTables(t *testing.T) {
	ctx := context.Background()
	repo := storage.NewMemoryRepository()
	for i, addr := range []string{"CT2", "CT1", "CT3"} {
		_ = repo.SaveTableState(ctx, &models.TableState{TableAddr: addr, LedgerSeq: uint32(i + 1)})
	}

	all, _ := NewIndexedGateway(repo, nil).GetTables(ctx)
	if len(all) != 3 || all[0] != "CT1" {
		t.Errorf("Expected all three tables sorted, got: %v", all)
	}

	watched, _ := NewIndexedGateway(repo, []string{"CT3", "CT9"}).GetTables(ctx)
	if len(watched) != 1 || watched[0] != "CT3" {
		t.Errorf("Expected only CT3, got: %v", watched)
	}
}

func TestIndexedGateway_Submissions(t *testing.T) {
	ctx := context.Background()
	repo := storage.NewMemoryRepository()
	gw := NewIndexedGateway(repo, nil)

	_ = gw.SubmitLeave(ctx, "CT1", "leave-token")
	_ = gw.SubmitSettlement(ctx, "CT1", &models.Netting{HandID: 3, NewBalances: "3|GA:100"})
	_ = gw.SubmitDispute(ctx, "CT1", []string{"a", "b"})
	_ = gw.ProgressNetting(ctx, "CT1")

	subs, err := repo.ListSubmissions(ctx, "CT1")
	if err != nil {
		t.Fatalf("ListSubmissions() unexpected error: %v", err)
	}
	kinds := []string{SubmitKindLeave, SubmitKindSettle, SubmitKindDispute, SubmitKindProgress}
	if len(subs) != len(kinds) {
		t.Fatalf("Expected %d submissions, got: %d", len(kinds), len(subs))
	}
	for i, kind := range kinds {
		if subs[i].Kind != kind {
			t.Errorf("Expected submission %d to be %s, got: %s", i, kind, subs[i].Kind)
		}
	}

	var leave map[string]string
	_ = json.Unmarshal(subs[0].Payload, &leave)
	if leave["leaveReceipt"] != "leave-token" {
		t.Errorf("Expected leave receipt payload, got: %s", subs[0].Payload)
	}
	if string(subs[3].Payload) != "{}" {
		t.Errorf("Expected empty progress payload, got: %s", subs[3].Payload)
	}
}
