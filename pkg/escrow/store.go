package escrow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/AgentPayy/AgentPayy-sub002/internal/database/kv"
	"github.com/rs/zerolog/log"
)

const (
	taskKeyPrefix = "task:"

	defaultOpTimeout = 5 * time.Second
)

func taskKey(id string) string {
	return taskKeyPrefix + id
}

// TaskStore persists task records and keeps an in-memory index of pending
// tasks. The durable record is authoritative; the index is rebuilt by Reload.
type TaskStore struct {
	kv        kv.Store
	opTimeout time.Duration

	mu      sync.RWMutex
	pending map[string]*Task
}

// NewTaskStore wraps store. Every store call is bounded by opTimeout.
func NewTaskStore(store kv.Store, opTimeout time.Duration) *TaskStore {
	if store == nil {
		log.Fatal().Msg("[TaskStore] kv store is nil")
	}
	if opTimeout <= 0 {
		opTimeout = defaultOpTimeout
	}
	return &TaskStore{
		kv:        store,
		opTimeout: opTimeout,
		pending:   make(map[string]*Task),
	}
}

// Save writes the task record with the given ttl.
func (s *TaskStore) Save(ctx context.Context, t *Task, ttl time.Duration) error {
	b, err := kv.Marshal(t)
	if err != nil {
		return fmt.Errorf("[TaskStore] failed to encode task %s: %w", t.ID, err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()
	if err := s.kv.Set(ctx, taskKey(t.ID), b, ttl); err != nil {
		return fmt.Errorf("%w: save task %s: %v", ErrDependencyUnavailable, t.ID, err)
	}
	return nil
}

// Load reads the durable record for id.
func (s *TaskStore) Load(ctx context.Context, id string) (*Task, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	b, err := s.kv.Get(ctx, taskKey(id))
	if errors.Is(err, kv.ErrNotFound) {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: load task %s: %v", ErrDependencyUnavailable, id, err)
	}

	t := new(Task)
	if err := kv.Unmarshal(b, t); err != nil {
		return nil, fmt.Errorf("[TaskStore] failed to decode task %s: %w", id, err)
	}
	return t, nil
}

// Index records t as pending. Non-pending tasks are removed instead.
func (s *TaskStore) Index(t *Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.Status != StatusPending {
		delete(s.pending, t.ID)
		return
	}
	s.pending[t.ID] = t.Clone()
}

func (s *TaskStore) Unindex(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, id)
}

// Pending returns a copy of the indexed task.
func (s *TaskStore) Pending(id string) (*Task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.pending[id]
	if !ok {
		return nil, false
	}
	return t.Clone(), true
}

// PendingTasks returns copies of every indexed task.
func (s *TaskStore) PendingTasks() []*Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Task, 0, len(s.pending))
	for _, t := range s.pending {
		out = append(out, t.Clone())
	}
	return out
}

func (s *TaskStore) PendingCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.pending)
}

// Reload scans every stored task and indexes the pending ones. Records that
// vanish or fail to decode mid-scan are skipped.
func (s *TaskStore) Reload(ctx context.Context) (int, error) {
	scanCtx, cancel := context.WithTimeout(ctx, s.opTimeout)
	keys, err := s.kv.Keys(scanCtx, taskKeyPrefix+"*")
	cancel()
	if err != nil {
		return 0, fmt.Errorf("%w: scan tasks: %v", ErrDependencyUnavailable, err)
	}

	loaded := make(map[string]*Task)
	for _, key := range keys {
		id := strings.TrimPrefix(key, taskKeyPrefix)
		t, err := s.Load(ctx, id)
		if errors.Is(err, ErrTaskNotFound) {
			continue
		}
		if errors.Is(err, ErrDependencyUnavailable) {
			return 0, err
		}
		if err != nil {
			log.Warn().Err(err).Str("task_id", id).Msg("[TaskStore] skipping unreadable task")
			continue
		}
		if t.Status == StatusPending {
			loaded[t.ID] = t
		}
	}

	s.mu.Lock()
	s.pending = loaded
	s.mu.Unlock()

	log.Info().Int("scanned", len(keys)).Int("pending", len(loaded)).Msg("[TaskStore] reloaded pending index")
	return len(loaded), nil
}

// Prune removes expired rows when the backing store needs it.
func (s *TaskStore) Prune(ctx context.Context) (int64, error) {
	p, ok := s.kv.(kv.Pruner)
	if !ok {
		return 0, nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()
	return p.Prune(ctx)
}
