package graph

import (
	"context"
	"sync"
	"time"
)

// Checkpoint is the persisted position of a thread after one transition.
// State is the JSON encoding of the graph state.
type Checkpoint struct {
	ThreadID  string    `json:"thread_id" db:"thread_id"`
	RunID     string    `json:"run_id" db:"run_id"`
	Step      int       `json:"step" db:"step"`
	Node      string    `json:"node" db:"node"`
	Next      string    `json:"next" db:"next_node"`
	State     []byte    `json:"state" db:"state"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Checkpointer persists checkpoints keyed by thread.
type Checkpointer interface {
	Put(ctx context.Context, cp Checkpoint) error
	// Latest returns the most recently written checkpoint of a thread.
	Latest(ctx context.Context, threadID string) (Checkpoint, bool, error)
	List(ctx context.Context, threadID string) ([]Checkpoint, error)
}

// MemoryCheckpointer keeps checkpoints in process memory.
type MemoryCheckpointer struct {
	mu      sync.RWMutex
	threads map[string][]Checkpoint
}

func NewMemoryCheckpointer() *MemoryCheckpointer {
	return &MemoryCheckpointer{threads: map[string][]Checkpoint{}}
}

func (m *MemoryCheckpointer) Put(ctx context.Context, cp Checkpoint) error {
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	cp.State = append([]byte(nil), cp.State...)
	m.mu.Lock()
	m.threads[cp.ThreadID] = append(m.threads[cp.ThreadID], cp)
	m.mu.Unlock()
	return nil
}

func (m *MemoryCheckpointer) Latest(ctx context.Context, threadID string) (Checkpoint, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := m.threads[threadID]
	if len(list) == 0 {
		return Checkpoint{}, false, nil
	}
	return list[len(list)-1], true, nil
}

func (m *MemoryCheckpointer) List(ctx context.Context, threadID string) ([]Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Checkpoint(nil), m.threads[threadID]...), nil
}

// Prune drops checkpoints created before cutoff and returns how many were removed.
func (m *MemoryCheckpointer) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var removed int64
	for thread, list := range m.threads {
		kept := list[:0]
		for _, cp := range list {
			if cp.CreatedAt.Before(cutoff) {
				removed++
				continue
			}
			kept = append(kept, cp)
		}
		if len(kept) == 0 {
			delete(m.threads, thread)
			continue
		}
		m.threads[thread] = kept
	}
	return removed, nil
}

var _ Checkpointer = (*MemoryCheckpointer)(nil)
