package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/yndnr/warmstart/internal/core/domain"
	"github.com/yndnr/warmstart/internal/telemetry/logger"
)

var runPrefix = []byte("run/")

// Operation is the kind of attempt a RunRecord describes.
type Operation string

const (
	OpCheckpoint Operation = "checkpoint"
	OpRestore    Operation = "restore"
	OpRecovery   Operation = "recovery"
)

// RunRecord is one journal entry.
type RunRecord struct {
	ID         string    `json:"id"`
	Operation  Operation `json:"operation"`
	Phase      string    `json:"phase,omitempty"`
	Image      string    `json:"image,omitempty"`
	State      string    `json:"state"`
	Outcome    string    `json:"outcome"`
	ExitCode   int       `json:"exit_code"`
	Hook       string    `json:"hook,omitempty"`
	Error      string    `json:"error,omitempty"`
	Expected   bool      `json:"expected,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Duration returns how long the attempt took.
func (r RunRecord) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// NewRunRecord fills a record from an outcome.
func NewRunRecord(op Operation, phase domain.Phase, o domain.Outcome, started, finished time.Time) RunRecord {
	rec := RunRecord{
		Operation:  op,
		Image:      o.Image,
		State:      o.State.String(),
		Outcome:    o.Kind.String(),
		ExitCode:   o.ExitCode(),
		Hook:       o.Hook,
		Expected:   o.Expected,
		StartedAt:  started.UTC(),
		FinishedAt: finished.UTC(),
	}
	if phase.Valid() {
		rec.Phase = phase.String()
	}
	if o.Cause != nil {
		rec.Error = o.Cause.Error()
	}
	return rec
}

// Journal records checkpoint and restore attempts.
type Journal struct {
	kv KVEngine
}

// NewJournal creates a journal over kv.
func NewJournal(kv KVEngine) *Journal {
	return &Journal{kv: kv}
}

// OpenJournal opens the Badger-backed journal in dir. The caller closes it.
func OpenJournal(dir string, log logger.Logger) (*Journal, error) {
	kv, err := NewBadgerEngine(DefaultKVConfig(dir), log)
	if err != nil {
		return nil, fmt.Errorf("journal: %w", err)
	}
	return NewJournal(kv), nil
}

// Close closes the underlying engine.
func (j *Journal) Close() error {
	return j.kv.Close()
}

// Append stores rec and returns its ID. A missing ID is generated.
func (j *Journal) Append(ctx context.Context, rec RunRecord) (string, error) {
	if rec.ID == "" {
		id, err := domain.NewRunID()
		if err != nil {
			return "", fmt.Errorf("journal: generate id: %w", err)
		}
		rec.ID = id
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("journal: marshal: %w", err)
	}
	if err := j.kv.Set(ctx, runKey(rec.ID), data); err != nil {
		return "", fmt.Errorf("journal: write %s: %w", rec.ID, err)
	}
	return rec.ID, nil
}

// Get returns the record with the given ID.
func (j *Journal) Get(ctx context.Context, id string) (RunRecord, error) {
	data, err := j.kv.Get(ctx, runKey(id))
	if err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return RunRecord{}, fmt.Errorf("journal: run %q: %w", id, ErrKeyNotFound)
		}
		return RunRecord{}, err
	}
	var rec RunRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return RunRecord{}, fmt.Errorf("journal: decode %s: %w", id, err)
	}
	return rec, nil
}

// List returns up to limit records, newest first. limit <= 0 returns all.
func (j *Journal) List(ctx context.Context, limit int) ([]RunRecord, error) {
	var (
		records []RunRecord
		decErr  error
	)
	err := j.kv.Scan(ctx, runPrefix, func(key, value []byte) bool {
		var rec RunRecord
		if err := json.Unmarshal(value, &rec); err != nil {
			decErr = fmt.Errorf("journal: decode %s: %w", key, err)
			return false
		}
		records = append(records, rec)
		return true
	})
	if err != nil {
		return nil, err
	}
	if decErr != nil {
		return nil, decErr
	}

	for i, k := 0, len(records)-1; i < k; i, k = i+1, k-1 {
		records[i], records[k] = records[k], records[i]
	}
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

// Prune keeps the newest keep records and deletes the rest. It returns the
// number deleted.
func (j *Journal) Prune(ctx context.Context, keep int) (int, error) {
	var keys [][]byte
	if err := j.kv.Scan(ctx, runPrefix, func(key, _ []byte) bool {
		keys = append(keys, key)
		return true
	}); err != nil {
		return 0, err
	}
	if keep < 0 {
		keep = 0
	}
	excess := len(keys) - keep
	deleted := 0
	for i := 0; i < excess; i++ {
		if err := j.kv.Delete(ctx, keys[i]); err != nil {
			return deleted, err
		}
		deleted++
	}
	return deleted, nil
}

func runKey(id string) []byte {
	return append(append([]byte(nil), runPrefix...), id...)
}
