package checkpoint

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/yungbote/projectmatch-backend/internal/domain"
)

// memoryStore keeps full history in process memory. It backs tests
// and serves as the placeholder behind Swappable until a durable
// backend finishes connecting.
type memoryStore struct {
	mu      sync.RWMutex
	history map[string][]*domain.Checkpoint
	latest  map[string]string
}

func NewMemoryStore() Store {
	return &memoryStore{
		history: map[string][]*domain.Checkpoint{},
		latest:  map[string]string{},
	}
}

func (s *memoryStore) Get(ctx context.Context, threadID, checkpointID string) (*domain.Checkpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	wanted := checkpointID
	if wanted == "" {
		latestID, ok := s.latest[threadID]
		if !ok {
			return nil, nil
		}
		wanted = latestID
	}
	for _, cp := range s.history[threadID] {
		if cp.ID == wanted {
			return copyCheckpoint(cp), nil
		}
	}
	return nil, nil
}

func (s *memoryStore) Put(ctx context.Context, cp *domain.Checkpoint) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validate(cp); err != nil {
		return err
	}

	stored := copyCheckpoint(cp)
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.history[cp.ThreadID] = append(s.history[cp.ThreadID], stored)
	s.latest[cp.ThreadID] = cp.ID
	return nil
}

func (s *memoryStore) List(ctx context.Context, threadID, before string, limit int) ([]*domain.Checkpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.history[threadID]
	out := make([]*domain.Checkpoint, 0, len(all))
	for _, cp := range all {
		if before != "" && cp.ID >= before {
			continue
		}
		out = append(out, copyCheckpoint(cp))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memoryStore) DeleteThread(ctx context.Context, threadID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.history, threadID)
	delete(s.latest, threadID)
	return nil
}

func copyCheckpoint(cp *domain.Checkpoint) *domain.Checkpoint {
	out := &domain.Checkpoint{
		ThreadID:  cp.ThreadID,
		ID:        cp.ID,
		ParentID:  cp.ParentID,
		State:     cp.State.Clone(),
		CreatedAt: cp.CreatedAt,
	}
	if cp.Metadata != nil {
		out.Metadata = make(map[string]string, len(cp.Metadata))
		for k, v := range cp.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}
