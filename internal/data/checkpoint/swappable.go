package checkpoint

import (
	"context"
	"sync/atomic"

	"github.com/yungbote/projectmatch-backend/internal/domain"
)

type storeHolder struct {
	s Store
}

// Swappable delegates to an inner store that can be replaced at
// runtime. The server boots against an in-memory placeholder and
// swaps in the durable backend once it connects; each call sees
// either the old or the new store, never a mix.
type Swappable struct {
	inner atomic.Pointer[storeHolder]
}

func NewSwappable(initial Store) *Swappable {
	if initial == nil {
		initial = NewMemoryStore()
	}
	s := &Swappable{}
	s.inner.Store(&storeHolder{s: initial})
	return s
}

func (s *Swappable) Swap(next Store) {
	if next == nil {
		return
	}
	s.inner.Store(&storeHolder{s: next})
}

func (s *Swappable) current() Store {
	return s.inner.Load().s
}

func (s *Swappable) Get(ctx context.Context, threadID, checkpointID string) (*domain.Checkpoint, error) {
	return s.current().Get(ctx, threadID, checkpointID)
}

func (s *Swappable) Put(ctx context.Context, cp *domain.Checkpoint) error {
	return s.current().Put(ctx, cp)
}

func (s *Swappable) List(ctx context.Context, threadID, before string, limit int) ([]*domain.Checkpoint, error) {
	return s.current().List(ctx, threadID, before, limit)
}

func (s *Swappable) DeleteThread(ctx context.Context, threadID string) error {
	return s.current().DeleteThread(ctx, threadID)
}
