// Package memory implements domain stores in process memory. State is lost on
// restart; use the Redis-backed store when records must survive a restart.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/alanyoungcy/arenarelay/internal/domain"
)

// TriggerStore implements domain.TriggerStore with a mutex-guarded map.
type TriggerStore struct {
	records map[string]domain.TriggerRecord
	mu      sync.Mutex
}

// NewTriggerStore creates an empty TriggerStore.
func NewTriggerStore() *TriggerStore {
	return &TriggerStore{records: make(map[string]domain.TriggerRecord)}
}

// Claim inserts rec unless a record for the same token is already active.
func (s *TriggerStore) Claim(_ context.Context, rec domain.TriggerRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[rec.Token]; ok {
		return false, nil
	}
	s.records[rec.Token] = rec
	return true, nil
}

// Get returns the active record for token or domain.ErrNotFound.
func (s *TriggerStore) Get(_ context.Context, token string) (domain.TriggerRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[token]
	if !ok {
		return domain.TriggerRecord{}, domain.ErrNotFound
	}
	return rec, nil
}

// Remove deletes the record for rec.Token if its nonce still matches.
func (s *TriggerStore) Remove(_ context.Context, rec domain.TriggerRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.records[rec.Token]
	if !ok || cur.Nonce != rec.Nonce {
		return false, nil
	}
	delete(s.records, rec.Token)
	return true, nil
}

// List returns all active records ordered by start time.
func (s *TriggerStore) List(_ context.Context) ([]domain.TriggerRecord, error) {
	s.mu.Lock()
	out := make([]domain.TriggerRecord, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out, nil
}

// Compile-time interface check.
var _ domain.TriggerStore = (*TriggerStore)(nil)
