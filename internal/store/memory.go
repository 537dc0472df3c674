package store

import (
	"context"
	"sync"
	"time"

	"github.com/kiranshivaraju/casebridge/pkg/models"
)

// MemoryStore keeps jobs in process memory. The map is guarded by an
// RWMutex held only for lookups; each job has its own mutex for reads and
// transitions, so different ids never wait on each other's updates.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*memoryEntry
	evicted map[string]struct{}
}

type memoryEntry struct {
	mu  sync.Mutex
	job *models.Job // Payload is empty here; see payload
	// payload is immutable after Create. Snapshots get their own copy.
	payload models.Payload
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*memoryEntry),
		evicted: make(map[string]struct{}),
	}
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

func (s *MemoryStore) Create(ctx context.Context, id string, payload models.Payload) (*models.Job, error) {
	if id == "" {
		id = NewID()
	}

	entry := &memoryEntry{
		job:     newJob(id, models.Payload{}, time.Now().UTC()),
		payload: payload.Clone(),
	}
	snap := entry.snapshot()

	s.mu.Lock()
	if _, ok := s.entries[id]; ok {
		s.mu.Unlock()
		return nil, ErrDuplicateID
	}
	if _, ok := s.evicted[id]; ok {
		s.mu.Unlock()
		return nil, ErrDuplicateID
	}
	s.entries[id] = entry
	s.mu.Unlock()

	return snap, nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*models.Job, error) {
	entry, ok := s.lookup(id)
	if !ok {
		return nil, ErrNotFound
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.snapshot(), nil
}

func (s *MemoryStore) Update(ctx context.Context, id string, status models.Status, opts ...UpdateOption) error {
	entry, ok := s.lookup(id)
	if !ok {
		return ErrNotFound
	}
	params := collectParams(opts)

	entry.mu.Lock()
	defer entry.mu.Unlock()
	if err := checkUpdate(entry.job, status, params); err != nil {
		return err
	}
	applyUpdate(entry.job, status, params, time.Now().UTC())
	return nil
}

func (s *MemoryStore) Heartbeat(ctx context.Context, id string) error {
	entry, ok := s.lookup(id)
	if !ok {
		return ErrNotFound
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.job.Status != models.JobStatusProcessing {
		return heartbeatError(entry.job)
	}
	now := time.Now().UTC()
	entry.job.HeartbeatAt = &now
	return nil
}

func (s *MemoryStore) ListByStatus(ctx context.Context, status models.Status, activeBefore time.Time) ([]*models.Job, error) {
	var jobs []*models.Job
	for _, entry := range s.all() {
		entry.mu.Lock()
		if entry.job.Status == status && activeBeforeMatch(entry.job, activeBefore) {
			jobs = append(jobs, entry.snapshot())
		}
		entry.mu.Unlock()
	}
	return jobs, nil
}

func (s *MemoryStore) Evict(ctx context.Context, finishedBefore time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, entry := range s.entries {
		entry.mu.Lock()
		job := entry.job
		expired := job.Status.IsTerminal() && job.CompletedAt != nil && job.CompletedAt.Before(finishedBefore)
		entry.mu.Unlock()

		if expired {
			delete(s.entries, id)
			s.evicted[id] = struct{}{}
			removed++
		}
	}
	return removed, nil
}

func (s *MemoryStore) lookup(id string) (*memoryEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[id]
	return entry, ok
}

func (s *MemoryStore) all() []*memoryEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*memoryEntry, 0, len(s.entries))
	for _, entry := range s.entries {
		out = append(out, entry)
	}
	return out
}

// snapshot must be called with e.mu held.
func (e *memoryEntry) snapshot() *models.Job {
	job := e.job.Clone()
	job.Payload = e.payload.Clone()
	return job
}
