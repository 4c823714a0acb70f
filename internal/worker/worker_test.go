package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/leapdao/acebusters-backend/internal/models"
	"github.com/leapdao/acebusters-backend/internal/storage"
)

type recorder struct {
	mu      sync.Mutex
	seen    map[string][]string
	failing map[string]bool
}

func newRecorder() *recorder {
	return &recorder{seen: make(map[string][]string), failing: make(map[string]bool)}
}

func (r *recorder) Process(ctx context.Context, n *models.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen[n.Table()] = append(r.seen[n.Table()], n.ID)
	if r.failing[n.ID] {
		return errors.New("relay unavailable")
	}
	return nil
}

func (r *recorder) ids(table string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.seen[table]...)
}

func save(t *testing.T, repo *storage.MemoryRepository, id, subject string) {
	t.Helper()
	if err := repo.SaveNotification(context.Background(), &models.Notification{ID: id, Subject: subject, Payload: []byte(`{}`)}); err != nil {
		t.Fatalf("SaveNotification() unexpected error: %v", err)
	}
}

func TestWorker_ProcessBatch(t *testing.T) {
	ctx := context.Background()
	repo := storage.NewMemoryRepository()
	save(t, repo, "a1", "HandComplete::CTA")
	save(t, repo, "b1", "Timeout::CTB")
	save(t, repo, "a2", "TableNettingRequest::CTA")
	save(t, repo, "a3", "Kick::CTA")

	rec := newRecorder()
	rec.failing["a3"] = true
	w := New(repo, rec, Config{BatchSize: 10, Concurrency: 2})

	n, err := w.ProcessBatch(ctx)
	if err != nil {
		t.Fatalf("ProcessBatch() unexpected error: %v", err)
	}
	if n != 4 {
		t.Errorf("Expected 4 claimed notifications, got: %d", n)
	}

	got := rec.ids("CTA")
	want := []string{"a1", "a2", "a3"}
	if len(got) != len(want) {
		t.Fatalf("Expected %v for CTA, got: %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Expected %s at %d, got: %s", want[i], i, got[i])
		}
	}

	processed := 0
	for _, stored := range repo.Notifications() {
		if stored.ProcessedAt != nil {
			processed++
		} else if stored.ID != "a3" {
			t.Errorf("Expected %s to be processed", stored.ID)
		}
	}
	if processed != 3 {
		t.Errorf("Expected 3 processed notifications, got: %d", processed)
	}

	again, _ := w.ProcessBatch(ctx)
	if again != 0 {
		t.Errorf("Expected the failed notification to stay leased, got: %d claimed", again)
	}
}

func TestWorker_RunStopsOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t)

	repo := storage.NewMemoryRepository()
	save(t, repo, "a1", "Timeout::CTA")
	rec := newRecorder()
	w := New(repo, rec, Config{PollInterval: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for len(rec.ids("CTA")) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Expected nil on cancel, got: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
	if len(rec.ids("CTA")) != 1 {
		t.Errorf("Expected the notification to be processed once, got: %v", rec.ids("CTA"))
	}
}
