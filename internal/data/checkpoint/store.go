package checkpoint

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/projectmatch-backend/internal/domain"
)

// Store persists conversation checkpoints per thread. Implementations
// must treat checkpoints as immutable once written.
//
// Get returns the named checkpoint, or, when checkpointID is empty,
// the one the thread's latest pointer resolves to. A missing thread
// or checkpoint is (nil, nil), not an error.
//
// Put writes the snapshot first and then moves the latest pointer. A
// Get issued after Put returns must observe the new checkpoint.
//
// List returns history newest-first, starting below the `before`
// checkpoint id when it is non-empty. Backends that do not retain
// listable history return an empty slice, not an error.
//
// DeleteThread removes all snapshots and the latest pointer for a
// thread as a unit.
type Store interface {
	Get(ctx context.Context, threadID, checkpointID string) (*domain.Checkpoint, error)
	Put(ctx context.Context, cp *domain.Checkpoint) error
	List(ctx context.Context, threadID, before string, limit int) ([]*domain.Checkpoint, error)
	DeleteThread(ctx context.Context, threadID string) error
}

// NewID mints a checkpoint id that sorts lexicographically by
// creation time, with a random suffix to break same-instant ties.
func NewID() string {
	now := time.Now().UTC()
	return fmt.Sprintf("%s-%s", now.Format("20060102T150405.000000000"), uuid.NewString()[:8])
}

func validate(cp *domain.Checkpoint) error {
	if cp == nil {
		return fmt.Errorf("checkpoint required")
	}
	if cp.ThreadID == "" {
		return fmt.Errorf("checkpoint thread id required")
	}
	if cp.ID == "" {
		return fmt.Errorf("checkpoint id required")
	}
	if cp.State == nil {
		return fmt.Errorf("checkpoint state required")
	}
	return nil
}
