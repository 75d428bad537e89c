package checkpoint

import (
	"context"
	"path"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/yungbote/projectmatch-backend/internal/domain"
	"github.com/yungbote/projectmatch-backend/internal/pkg/logger"
)

func newState(threadID, lastUser string) *domain.ConversationState {
	return &domain.ConversationState{
		ThreadID: threadID,
		Messages: []domain.Message{
			{Role: domain.RoleUser, Content: lastUser},
		},
	}
}

func newCheckpoint(threadID, parentID, lastUser string) *domain.Checkpoint {
	return &domain.Checkpoint{
		ThreadID:  threadID,
		ID:        NewID(),
		ParentID:  parentID,
		State:     newState(threadID, lastUser),
		Metadata:  map[string]string{"step": "chat"},
		CreatedAt: time.Now().UTC(),
	}
}

// fakeKV is a map-backed KV for exercising the Redis store without a
// server. TTLs are accepted and ignored.
type fakeKV struct {
	mu   sync.Mutex
	data map[string]string

	failSet map[string]bool
}

func newFakeKV() *fakeKV {
	return &fakeKV{data: map[string]string{}, failSet: map[string]bool{}}
}

func (k *fakeKV) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.failSet[key] {
		return context.DeadlineExceeded
	}
	k.data[key] = value
	return nil
}

func (k *fakeKV) Get(ctx context.Context, key string) (string, bool, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	v, ok := k.data[key]
	return v, ok, nil
}

func (k *fakeKV) Del(ctx context.Context, keys ...string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	for _, key := range keys {
		delete(k.data, key)
	}
	return nil
}

func (k *fakeKV) ScanKeys(ctx context.Context, pattern string) ([]string, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	var out []string
	for key := range k.data {
		ok, err := path.Match(pattern, key)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, key)
		}
	}
	return out, nil
}

func stores(t *testing.T) map[string]Store {
	t.Helper()
	redis, err := NewRedisStore(logger.NewNop(), newFakeKV(), time.Hour)
	if err != nil {
		t.Fatalf("NewRedisStore: %v", err)
	}
	return map[string]Store{
		"memory": NewMemoryStore(),
		"redis":  redis,
	}
}

func TestGetMissingThreadIsNotError(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			cp, err := store.Get(context.Background(), "no-such-thread", "")
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if cp != nil {
				t.Fatalf("expected nil checkpoint for unknown thread, got %+v", cp)
			}
		})
	}
}

func TestPutThenGetReturnsLatest(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			first := newCheckpoint("t1", "", "你好")
			if err := store.Put(ctx, first); err != nil {
				t.Fatalf("Put first: %v", err)
			}
			second := newCheckpoint("t1", first.ID, "我熟悉Python")
			if err := store.Put(ctx, second); err != nil {
				t.Fatalf("Put second: %v", err)
			}

			got, err := store.Get(ctx, "t1", "")
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if got == nil {
				t.Fatal("expected checkpoint, got nil")
			}
			if got.ID != second.ID {
				t.Fatalf("latest checkpoint id = %q, want %q", got.ID, second.ID)
			}
			if got.ParentID != first.ID {
				t.Fatalf("parent id = %q, want %q", got.ParentID, first.ID)
			}
			if got.State.LastUserText() != "我熟悉Python" {
				t.Fatalf("state last user text = %q", got.State.LastUserText())
			}
		})
	}
}

func TestGetByExplicitCheckpointID(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			first := newCheckpoint("t8", "", "earlier")
			if err := store.Put(ctx, first); err != nil {
				t.Fatalf("Put first: %v", err)
			}
			second := newCheckpoint("t8", first.ID, "later")
			if err := store.Put(ctx, second); err != nil {
				t.Fatalf("Put second: %v", err)
			}

			got, err := store.Get(ctx, "t8", first.ID)
			if err != nil {
				t.Fatalf("Get by id: %v", err)
			}
			if got == nil || got.ID != first.ID || got.State.LastUserText() != "earlier" {
				t.Fatalf("Get by id = %+v, want first checkpoint", got)
			}

			missing, err := store.Get(ctx, "t8", "no-such-checkpoint")
			if err != nil {
				t.Fatalf("Get unknown id: %v", err)
			}
			if missing != nil {
				t.Fatalf("expected nil for unknown checkpoint id, got %+v", missing)
			}
		})
	}
}

func TestGetIsIdempotent(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			cp := newCheckpoint("t2", "", "hello")
			if err := store.Put(ctx, cp); err != nil {
				t.Fatalf("Put: %v", err)
			}

			a, err := store.Get(ctx, "t2", "")
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			b, err := store.Get(ctx, "t2", "")
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if a.ID != b.ID || a.State.LastUserText() != b.State.LastUserText() {
				t.Fatalf("repeated Get diverged: %+v vs %+v", a, b)
			}
		})
	}
}

func TestThreadIsolation(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := store.Put(ctx, newCheckpoint("a", "", "first")); err != nil {
				t.Fatalf("Put a: %v", err)
			}
			if err := store.Put(ctx, newCheckpoint("b", "", "second")); err != nil {
				t.Fatalf("Put b: %v", err)
			}
			if err := store.DeleteThread(ctx, "a"); err != nil {
				t.Fatalf("DeleteThread: %v", err)
			}

			gone, err := store.Get(ctx, "a", "")
			if err != nil {
				t.Fatalf("Get a: %v", err)
			}
			if gone != nil {
				t.Fatalf("thread a should be gone, got %+v", gone)
			}
			kept, err := store.Get(ctx, "b", "")
			if err != nil {
				t.Fatalf("Get b: %v", err)
			}
			if kept == nil || kept.State.LastUserText() != "second" {
				t.Fatalf("thread b damaged by deleting a: %+v", kept)
			}
		})
	}
}

func TestStoredStateIsIsolatedFromCaller(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			cp := newCheckpoint("t3", "", "original")
			if err := store.Put(ctx, cp); err != nil {
				t.Fatalf("Put: %v", err)
			}

			// Mutating the caller's copy must not leak into storage.
			cp.State.Messages[0].Content = "mutated"
			cp.State.Scratch.Keywords = append(cp.State.Scratch.Keywords, "leak")

			got, err := store.Get(ctx, "t3", "")
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if got.State.LastUserText() != "original" {
				t.Fatalf("stored state mutated: %q", got.State.LastUserText())
			}
			if len(got.State.Scratch.Keywords) != 0 {
				t.Fatalf("stored scratch mutated: %+v", got.State.Scratch)
			}
		})
	}
}

func TestRedisListReturnsEmptyHistory(t *testing.T) {
	store, err := NewRedisStore(logger.NewNop(), newFakeKV(), time.Hour)
	if err != nil {
		t.Fatalf("NewRedisStore: %v", err)
	}
	ctx := context.Background()
	if err := store.Put(ctx, newCheckpoint("t4", "", "hi")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := store.List(ctx, "t4", "", 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("redis List should report empty history, got %d entries", len(got))
	}
}

func TestMemoryListNewestFirst(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	var ids []string
	parent := ""
	for _, text := range []string{"one", "two", "three"} {
		cp := newCheckpoint("t5", parent, text)
		if err := store.Put(ctx, cp); err != nil {
			t.Fatalf("Put: %v", err)
		}
		ids = append(ids, cp.ID)
		parent = cp.ID
	}

	got, err := store.List(ctx, "t5", "", 2)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("List len = %d, want 2", len(got))
	}
	if got[0].ID != ids[2] || got[1].ID != ids[1] {
		t.Fatalf("List order wrong: %q then %q", got[0].ID, got[1].ID)
	}

	// Paging below the middle checkpoint leaves only the oldest.
	older, err := store.List(ctx, "t5", ids[1], 0)
	if err != nil {
		t.Fatalf("List before: %v", err)
	}
	if len(older) != 1 || older[0].ID != ids[0] {
		t.Fatalf("List before = %+v, want only %q", older, ids[0])
	}
}

func TestRedisPointerOnlyMovesAfterSnapshot(t *testing.T) {
	kv := newFakeKV()
	store, err := NewRedisStore(logger.NewNop(), kv, time.Hour)
	if err != nil {
		t.Fatalf("NewRedisStore: %v", err)
	}
	ctx := context.Background()

	first := newCheckpoint("t6", "", "keep me")
	if err := store.Put(ctx, first); err != nil {
		t.Fatalf("Put first: %v", err)
	}

	// Fail the snapshot write of the second checkpoint. The latest
	// pointer must still resolve to the first.
	second := newCheckpoint("t6", first.ID, "lost")
	kv.mu.Lock()
	kv.failSet[snapshotKey("t6", second.ID)] = true
	kv.mu.Unlock()

	if err := store.Put(ctx, second); err == nil {
		t.Fatal("expected Put to fail when snapshot write fails")
	}

	got, err := store.Get(ctx, "t6", "")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got == nil || got.ID != first.ID {
		t.Fatalf("latest pointer moved past failed snapshot: %+v", got)
	}
}

func TestSwappableSwitchesBackends(t *testing.T) {
	ctx := context.Background()
	placeholder := NewMemoryStore()
	sw := NewSwappable(placeholder)

	if err := sw.Put(ctx, newCheckpoint("t7", "", "early")); err != nil {
		t.Fatalf("Put via placeholder: %v", err)
	}
	got, err := sw.Get(ctx, "t7", "")
	if err != nil || got == nil {
		t.Fatalf("Get via placeholder: cp=%v err=%v", got, err)
	}

	durable, err := NewRedisStore(logger.NewNop(), newFakeKV(), time.Hour)
	if err != nil {
		t.Fatalf("NewRedisStore: %v", err)
	}
	sw.Swap(durable)

	// After the swap the placeholder's data is no longer visible.
	got, err = sw.Get(ctx, "t7", "")
	if err != nil {
		t.Fatalf("Get after swap: %v", err)
	}
	if got != nil {
		t.Fatalf("expected empty durable backend after swap, got %+v", got)
	}
	if err := sw.Put(ctx, newCheckpoint("t7", "", "late")); err != nil {
		t.Fatalf("Put after swap: %v", err)
	}
	got, err = sw.Get(ctx, "t7", "")
	if err != nil || got == nil || got.State.LastUserText() != "late" {
		t.Fatalf("durable backend not serving writes: cp=%v err=%v", got, err)
	}
}

func TestCheckpointIDsSortByCreationOrder(t *testing.T) {
	prev := NewID()
	for i := 0; i < 50; i++ {
		time.Sleep(time.Microsecond)
		next := NewID()
		if strings.Compare(prev, next) >= 0 {
			t.Fatalf("ids not monotonic: %q then %q", prev, next)
		}
		prev = next
	}
}
