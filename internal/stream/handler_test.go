package stream

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/leapdao/acebusters-backend/internal/bus"
	"github.com/leapdao/acebusters-backend/internal/ledger"
	"github.com/leapdao/acebusters-backend/internal/ledger/retry"
	"github.com/leapdao/acebusters-backend/internal/models"
	"github.com/leapdao/acebusters-backend/internal/oracle"
	"github.com/leapdao/acebusters-backend/internal/storage"
	"github.com/leapdao/acebusters-backend/internal/token"

	"github.com/stellar/go/keypair"
	"go.uber.org/goleak"
)

const testTable = "CTABLE"

type recordingBroadcaster struct {
	events []models.BroadcastEvent
}

func (b *recordingBroadcaster) Broadcast(table string, event models.BroadcastEvent) {
	b.events = append(b.events, event)
}

type fixture struct {
	t           *testing.T
	ctx         context.Context
	repo        *storage.MemoryRepository
	engine      *oracle.Engine
	poller      *Poller
	broadcaster *recordingBroadcaster
	players     []*keypair.Full
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		t:           t,
		ctx:         context.Background(),
		repo:        storage.NewMemoryRepository(),
		broadcaster: &recordingBroadcaster{},
		players:     []*keypair.Full{keypair.MustRandom(), keypair.MustRandom()},
	}
	state := &models.TableState{TableAddr: testTable, SmallBlind: 50, LedgerSeq: 1}
	for _, p := range f.players {
		state.Seats = append(state.Seats, models.LedgerSeat{Address: p.Address(), Amount: 5000})
	}
	if err := f.repo.SaveTableState(f.ctx, state); err != nil {
		t.Fatalf("SaveTableState() unexpected error: %v", err)
	}

	oracleKey := keypair.MustRandom()
	gateway := ledger.NewIndexedGateway(f.repo, nil)
	f.engine = oracle.New(oracle.Deps{
		Store:   f.repo,
		Gateway: gateway,
		Key:     oracleKey,
		Now:     func() time.Time { return time.Unix(1700000000, 0) },
	})
	handler := NewHandler(oracleKey.Address(), gateway, bus.NewOutboxPublisher(f.repo, retry.NewNoRetryStrategy()), f.broadcaster)
	f.poller = NewPoller(f.repo, f.repo, handler, time.Hour)
	return f
}

func (f *fixture) do(player int, action token.Action, handID uint64, amount int64) {
	f.t.Helper()
	raw, err := token.Sign(f.players[player], token.Receipt{Action: action, HandID: handID, Amount: amount})
	if err != nil {
		f.t.Fatalf("Sign() unexpected error: %v", err)
	}
	if action == token.ActionLeave {
		_, err = f.engine.Leave(f.ctx, testTable, raw)
	} else {
		_, err = f.engine.Pay(f.ctx, testTable, raw)
	}
	if err != nil {
		f.t.Fatalf("%s unexpected error: %v", action, err)
	}
}

func (f *fixture) poll() {
	f.t.Helper()
	if _, err := f.poller.PollOnce(f.ctx); err != nil {
		f.t.Fatalf("PollOnce() unexpected error: %v", err)
	}
}

func (f *fixture) subjects() []string {
	var out []string
	for _, n := range f.repo.Notifications() {
		out = append(out, n.Subject)
	}
	return out
}

func expectSubjects(t *testing.T, got []string, want ...string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("Expected %v, got: %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Expected notification %d to be %s, got: %s", i, want[i], got[i])
		}
	}
}

func TestHandler_HandLifecycle(t *testing.T) {
	f := newFixture(t)

	f.do(0, token.ActionBet, 1, 50)
	f.do(1, token.ActionBet, 1, 100)
	f.poll()
	if len(f.broadcaster.events) != 2 || f.broadcaster.events[1].Type != EventHandUpdate {
		t.Fatalf("Expected a handUpdate per write, got: %+v", f.broadcaster.events)
	}
	view, ok := f.broadcaster.events[1].Payload.(*models.HandView)
	if !ok || view.State != models.StatePreflop {
		t.Errorf("Expected redacted preflop view, got: %+v", f.broadcaster.events[1].Payload)
	}
	expectSubjects(t, f.subjects())

	f.do(1, token.ActionLeave, 2, 0)
	f.poll()
	expectSubjects(t, f.subjects(), "TableLeave::"+testTable)
	subs, _ := f.repo.ListSubmissions(f.ctx, testTable)
	if len(subs) != 1 || subs[0].Kind != ledger.SubmitKindLeave {
		t.Errorf("Expected a queued leave submission, got: %+v", subs)
	}

	f.do(0, token.ActionBet, 1, 100)
	f.do(1, token.ActionFold, 1, 100)
	f.poll()
	expectSubjects(t, f.subjects(),
		"TableLeave::"+testTable,
		"HandComplete::"+testTable,
		"TableNettingRequest::"+testTable,
	)
	var payload bus.HandPayload
	_ = json.Unmarshal(f.repo.Notifications()[2].Payload, &payload)
	if payload.HandID != 1 {
		t.Errorf("Expected netting request for hand 1, got: %d", payload.HandID)
	}

	if err := f.engine.CompleteHand(f.ctx, testTable, 1); err != nil {
		t.Fatalf("CompleteHand() unexpected error: %v", err)
	}
	if err := f.engine.CreateNetting(f.ctx, testTable, 1); err != nil {
		t.Fatalf("CreateNetting() unexpected error: %v", err)
	}
	f.poll()
	if n := len(f.subjects()); n != 3 {
		t.Fatalf("Expected no new notifications before players sign, got: %v", f.subjects())
	}

	hand, _ := f.repo.GetHand(f.ctx, testTable, 1)
	for _, p := range f.players {
		sig, _ := token.SignData(p, []byte(hand.Netting.NewBalances))
		if err := f.engine.Netting(f.ctx, testTable, 1, sig); err != nil {
			t.Fatalf("Netting() unexpected error: %v", err)
		}
	}
	f.poll()
	subjects := f.subjects()
	expectSubjects(t, subjects[3:], "TableNettingComplete::"+testTable)

	var complete bus.NettingCompletePayload
	_ = json.Unmarshal(f.repo.Notifications()[3].Payload, &complete)
	if complete.Netting == nil || complete.Netting.NewBalances != hand.Netting.NewBalances {
		t.Errorf("Expected the signed netting in the payload, got: %+v", complete)
	}
}

func TestHandler_LeaveForFinishedHand(t *testing.T) {
	f := newFixture(t)
	hand := &models.Hand{TableAddr: testTable, HandID: 3, SmallBlind: 50, State: models.StateWaiting}
	for _, p := range f.players {
		hand.Lineup = append(hand.Lineup, models.Seat{Address: p.Address()})
	}
	if err := f.repo.InsertHand(f.ctx, hand); err != nil {
		t.Fatalf("InsertHand() unexpected error: %v", err)
	}

	raw, _ := token.Sign(f.players[0], token.Receipt{Action: token.ActionLeave, HandID: 2})
	if _, err := f.engine.Leave(f.ctx, testTable, raw); err != nil {
		t.Fatalf("Leave() unexpected error: %v", err)
	}
	f.poll()

	expectSubjects(t, f.subjects(), "TableLeave::"+testTable, "TableNettingRequest::"+testTable)
	var payload bus.HandPayload
	_ = json.Unmarshal(f.repo.Notifications()[1].Payload, &payload)
	if payload.HandID != 2 {
		t.Errorf("Expected netting request for hand 2, got: %d", payload.HandID)
	}
}

func TestPoller_Checkpoint(t *testing.T) {
	f := newFixture(t)
	f.do(0, token.ActionBet, 1, 50)

	n, err := f.poller.PollOnce(f.ctx)
	if err != nil || n != 1 {
		t.Fatalf("Expected 1 change, got: %d (err %v)", n, err)
	}
	n, _ = f.poller.PollOnce(f.ctx)
	if n != 0 {
		t.Errorf("Expected nothing after the checkpoint, got: %d", n)
	}
	if seq, _ := f.repo.LoadCheckpoint(f.ctx, CheckpointName); seq != 1 {
		t.Errorf("Expected checkpoint 1, got: %d", seq)
	}
}

func TestPoller_RunStopsOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newFixture(t)
	ctx, cancel := context.WithCancel(f.ctx)
	done := make(chan error)
	go func() { done <- f.poller.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Expected clean stop, got: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not stop after cancel")
	}
}

// switchPublisher fails every publish of one notification kind while failing is set
type switchPublisher struct {
	bus.Publisher
	failing string
}

func (p *switchPublisher) Publish(ctx context.Context, subject string, payload interface{}) error {
	if p.failing != "" && strings.HasPrefix(subject, p.failing+"::") {
		return errors.New("bus unavailable")
	}
	return p.Publisher.Publish(ctx, subject, payload)
}

func TestPoller_RetriesFailedChange(t *testing.T) {
	f := newFixture(t)
	pub := &switchPublisher{
		Publisher: bus.NewOutboxPublisher(f.repo, retry.NewNoRetryStrategy()),
		failing:   bus.KindTableNettingRequest,
	}
	handler := NewHandler("", ledger.NewIndexedGateway(f.repo, nil), pub, nil)
	f.poller = NewPoller(f.repo, f.repo, handler, time.Hour)

	f.do(0, token.ActionBet, 1, 50)
	f.do(1, token.ActionBet, 1, 100)
	f.do(1, token.ActionLeave, 2, 0)
	f.do(0, token.ActionBet, 1, 100)
	f.do(1, token.ActionFold, 1, 100)

	for i := 0; i < 2; i++ {
		n, err := f.poller.PollOnce(f.ctx)
		if err == nil || !strings.Contains(err.Error(), "bus unavailable") {
			t.Fatalf("Expected the publish failure, got: %v", err)
		}
		if i == 0 && n != 4 {
			t.Errorf("Expected 4 changes handled before the failure, got: %d", n)
		}
		if seq, _ := f.repo.LoadCheckpoint(f.ctx, CheckpointName); seq != 4 {
			t.Errorf("Expected checkpoint to stay in front of the failed change (4), got: %d", seq)
		}
	}
	expectSubjects(t, f.subjects(), "TableLeave::"+testTable, "HandComplete::"+testTable)

	pub.failing = ""
	n, err := f.poller.PollOnce(f.ctx)
	if err != nil || n != 1 {
		t.Fatalf("Expected the failed change to be handled, got: %d (err %v)", n, err)
	}
	expectSubjects(t, f.subjects(),
		"TableLeave::"+testTable,
		"HandComplete::"+testTable,
		"TableNettingRequest::"+testTable,
	)
	if seq, _ := f.repo.LoadCheckpoint(f.ctx, CheckpointName); seq != 5 {
		t.Errorf("Expected checkpoint 5, got: %d", seq)
	}
	subs, _ := f.repo.ListSubmissions(f.ctx, testTable)
	if len(subs) != 1 {
		t.Errorf("Expected the leave to be submitted once, got: %d", len(subs))
	}
}

// gappedFeed serves a fixed change feed that may skip sequence numbers
type gappedFeed struct {
	storage.HandStore
	changes []models.HandChange
}

func (g *gappedFeed) ListHandChanges(ctx context.Context, afterSeq int64, limit int) ([]models.HandChange, error) {
	var out []models.HandChange
	for _, c := range g.changes {
		if c.Seq > afterSeq {
			out = append(out, c)
		}
	}
	return out, nil
}

func TestPoller_WaitsForSequenceGap(t *testing.T) {
	f := newFixture(t)
	now := time.Unix(1700000000, 0)
	hand := &models.Hand{TableAddr: testTable, HandID: 1, State: models.StateWaiting}
	feed := &gappedFeed{changes: []models.HandChange{
		{Seq: 1, TableAddr: testTable, HandID: 1, New: hand, CreatedAt: now},
		{Seq: 3, TableAddr: testTable, HandID: 1, New: hand, CreatedAt: now},
		{Seq: 4, TableAddr: testTable, HandID: 1, CreatedAt: now},
	}}
	handler := NewHandler("", ledger.NewIndexedGateway(f.repo, nil), bus.NewOutboxPublisher(f.repo, retry.NewNoRetryStrategy()), f.broadcaster)
	poller := NewPoller(feed, f.repo, handler, time.Hour)
	poller.now = func() time.Time { return now.Add(time.Second) }

	n, err := poller.PollOnce(f.ctx)
	if err != nil || n != 1 {
		t.Fatalf("Expected to stop in front of the gap after 1 change, got: %d (err %v)", n, err)
	}
	if seq, _ := f.repo.LoadCheckpoint(f.ctx, CheckpointName); seq != 1 {
		t.Errorf("Expected checkpoint 1, got: %d", seq)
	}

	poller.now = func() time.Time { return now.Add(GapGrace + time.Second) }
	n, err = poller.PollOnce(f.ctx)
	if err != nil || n != 2 {
		t.Fatalf("Expected the gap to be passed once it aged, got: %d (err %v)", n, err)
	}
	if seq, _ := f.repo.LoadCheckpoint(f.ctx, CheckpointName); seq != 4 {
		t.Errorf("Expected the broken change to be skipped up to checkpoint 4, got: %d", seq)
	}
	if len(f.broadcaster.events) != 2 {
		t.Errorf("Expected 2 broadcasts, got: %d", len(f.broadcaster.events))
	}
}
