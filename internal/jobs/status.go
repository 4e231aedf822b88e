// Package jobs tracks asynchronous pipeline runs in a TTL-bearing side
// store so clients can poll for completion.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

type RunState string

const (
	RunStateRunning   RunState = "running"
	RunStateSucceeded RunState = "succeeded"
	RunStateFailed    RunState = "failed"
)

// RunRecord is one pipeline run's poll state.
type RunRecord struct {
	JobID      string   `json:"jobId"`
	State      RunState `json:"state"`
	Processed  int      `json:"processed"`
	Ingested   int      `json:"ingested"`
	Backfilled int      `json:"backfilled"`
	Skipped    int      `json:"skipped"`
	Errors     []string `json:"errors,omitempty"`
	StartedAt  string   `json:"startedAt"`
	FinishedAt string   `json:"finishedAt,omitempty"`
}

const keyPrefix = "pipeline:run:"

// StatusStore keeps run records in Redis with an expiry, so stale jobs age
// out without a cleanup pass.
type StatusStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewStatusStore(client *redis.Client, ttl time.Duration) *StatusStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &StatusStore{client: client, ttl: ttl}
}

// Start registers a new running job and returns its record.
func (s *StatusStore) Start(ctx context.Context) (*RunRecord, error) {
	record := &RunRecord{
		JobID:     uuid.NewString(),
		State:     RunStateRunning,
		StartedAt: time.Now().UTC().Format(time.RFC3339),
	}
	if err := s.write(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}

// Finish transitions a job to a terminal state with its run counters. The
// TTL is refreshed so the result stays pollable for the full window.
func (s *StatusStore) Finish(ctx context.Context, jobID string, state RunState, processed, ingested, backfilled, skipped int, runErrors []string) error {
	record, err := s.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if record == nil {
		return fmt.Errorf("job %s not found", jobID)
	}

	record.State = state
	record.Processed = processed
	record.Ingested = ingested
	record.Backfilled = backfilled
	record.Skipped = skipped
	record.Errors = runErrors
	record.FinishedAt = time.Now().UTC().Format(time.RFC3339)
	return s.write(ctx, record)
}

// Get returns the record, or nil when the job is unknown or expired.
func (s *StatusStore) Get(ctx context.Context, jobID string) (*RunRecord, error) {
	raw, err := s.client.Get(ctx, keyPrefix+jobID).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", jobID, err)
	}

	var record RunRecord
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		return nil, fmt.Errorf("unmarshal job %s: %w", jobID, err)
	}
	return &record, nil
}

func (s *StatusStore) write(ctx context.Context, record *RunRecord) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal job %s: %w", record.JobID, err)
	}
	if err := s.client.Set(ctx, keyPrefix+record.JobID, raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("write job %s: %w", record.JobID, err)
	}
	return nil
}
