package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/yndnr/warmstart/internal/core/domain"
)

func newTestJournal(t *testing.T) *Journal {
	t.Helper()
	return NewJournal(newTestEngine(t))
}

func TestJournal_AppendGet(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()

	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	o := domain.Outcome{
		Kind:  domain.KindPrepareFailed,
		State: domain.StateCheckpointFailed,
		Hook:  "drain",
		Image: "img-01hzy3k7q8r9s0t1v2w3x4y5z6",
		Cause: errors.New("connection refused"),
	}
	rec := NewRunRecord(OpCheckpoint, domain.PhaseBeforeAppStart, o, started, started.Add(1500*time.Millisecond))

	id, err := j.Append(ctx, rec)
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if len(id) == 0 || id[:len(domain.RunIDPrefix)] != domain.RunIDPrefix {
		t.Errorf("id = %q", id)
	}

	got, err := j.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.ID != id || got.Operation != OpCheckpoint || got.Phase != "BEFORE_APP_START" {
		t.Errorf("record = %+v", got)
	}
	if got.Outcome != "prepare-failed" || got.ExitCode != domain.ExitPrepareFailed || got.State != "CheckpointFailed" {
		t.Errorf("outcome fields = %+v", got)
	}
	if got.Hook != "drain" || got.Error != "connection refused" {
		t.Errorf("hook/error = %q/%q", got.Hook, got.Error)
	}
	if got.Duration() != 1500*time.Millisecond {
		t.Errorf("Duration() = %v", got.Duration())
	}
}

func TestJournal_GetMissing(t *testing.T) {
	j := newTestJournal(t)
	if _, err := j.Get(context.Background(), "run-missing"); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("Get() = %v, want ErrKeyNotFound", err)
	}
}

func TestJournal_ListNewestFirst(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 4; i++ {
		id, err := j.Append(ctx, RunRecord{Operation: OpRestore, Outcome: "success"})
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, id)
	}

	all, err := j.List(ctx, 0)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(all) != 4 || all[0].ID != ids[3] || all[3].ID != ids[0] {
		t.Errorf("List() order = %v", all)
	}

	limited, err := j.List(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 2 || limited[0].ID != ids[3] || limited[1].ID != ids[2] {
		t.Errorf("List(2) = %v", limited)
	}
}

func TestJournal_Prune(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 5; i++ {
		id, err := j.Append(ctx, RunRecord{Operation: OpCheckpoint})
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, id)
	}

	deleted, err := j.Prune(ctx, 2)
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if deleted != 3 {
		t.Errorf("Prune() deleted %d, want 3", deleted)
	}
	left, _ := j.List(ctx, 0)
	if len(left) != 2 || left[0].ID != ids[4] || left[1].ID != ids[3] {
		t.Errorf("remaining = %v", left)
	}
}

func TestNewRunRecord_Success(t *testing.T) {
	now := time.Now()
	rec := NewRunRecord(OpRestore, domain.PhaseUnknown, domain.Outcome{State: domain.StateRunning}, now, now)
	if rec.Phase != "" || rec.Error != "" || rec.ExitCode != 0 || rec.Outcome != "success" {
		t.Errorf("record = %+v", rec)
	}
}
