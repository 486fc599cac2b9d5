// Package history provides the append-only log of past remediation actions
// per workload. The record sequence for a workload, ordered by AppliedAt,
// is the sole input for cooldown and rate-limit decisions.
package history

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/kubeheal/remediator/internal/incident"
)

// Outcome is the terminal result of one processed incident.
type Outcome string

const (
	OutcomeApplied  Outcome = "Applied"
	OutcomeRejected Outcome = "Rejected"
	OutcomeFailed   Outcome = "Failed"
)

// Record is one terminal outcome. Records are appended, never mutated, and
// only pruned by age.
type Record struct {
	WorkloadRef  incident.WorkloadRef `json:"workloadRef"`
	IncidentID   string               `json:"incidentId"`
	IncidentType incident.Type        `json:"incidentType"`
	ActionKind   string               `json:"actionKind"`
	FieldPath    string               `json:"fieldPath,omitempty"`
	OldValue     int64                `json:"oldValue,omitempty"`
	NewValue     int64                `json:"newValue,omitempty"`
	AppliedAt    time.Time            `json:"appliedAt"`
	Outcome      Outcome              `json:"outcome"`
	ReasonCode   string               `json:"reasonCode"`
}

// Store is the history persistence contract. Append must be durable before
// it returns; Query returns records for a workload ordered by AppliedAt
// ascending. Implementations must support concurrent appends without lost
// writes.
type Store interface {
	Append(ctx context.Context, rec Record) error
	Query(ctx context.Context, ref incident.WorkloadRef, since time.Time) ([]Record, error)
	PruneBefore(ctx context.Context, cutoff time.Time) (int, error)
	Close() error
}

// MemoryStore is an in-process Store used by tests and the one-shot CLI
// path. Safe for concurrent use.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string][]Record
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string][]Record)}
}

// Append implements Store.
func (s *MemoryStore) Append(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := rec.WorkloadRef.Key()
	s.records[key] = append(s.records[key], rec)
	return nil
}

// Query implements Store.
func (s *MemoryStore) Query(_ context.Context, ref incident.WorkloadRef, since time.Time) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Record
	for _, rec := range s.records[ref.Key()] {
		if !rec.AppliedAt.Before(since) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AppliedAt.Before(out[j].AppliedAt) })
	return out, nil
}

// PruneBefore implements Store.
func (s *MemoryStore) PruneBefore(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pruned := 0
	for key, recs := range s.records {
		kept := recs[:0]
		for _, rec := range recs {
			if rec.AppliedAt.Before(cutoff) {
				pruned++
				continue
			}
			kept = append(kept, rec)
		}
		if len(kept) == 0 {
			delete(s.records, key)
		} else {
			s.records[key] = kept
		}
	}
	return pruned, nil
}

// Close implements Store.
func (s *MemoryStore) Close() error { return nil }

var _ Store = (*MemoryStore)(nil)
