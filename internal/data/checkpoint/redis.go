package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/projectmatch-backend/internal/domain"
	"github.com/yungbote/projectmatch-backend/internal/pkg/logger"
)

// KV is the slice of Redis commands the store needs. Tests substitute
// a map-backed fake; production wraps *goredis.Client.
type KV interface {
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// Get returns (value, found, error); a missing key is not an error.
	Get(ctx context.Context, key string) (string, bool, error)
	// Del removes all keys in one atomic command.
	Del(ctx context.Context, keys ...string) error
	// ScanKeys returns every key matching the pattern.
	ScanKeys(ctx context.Context, pattern string) ([]string, error)
}

type redisStore struct {
	log *logger.Logger
	kv  KV
	ttl time.Duration
}

// NewRedisStore builds a checkpoint store over Redis. Snapshots live
// under checkpoint:{thread}:{id}; the latest pointer lives under
// checkpoint_latest:{thread}. History is retained for the TTL but is
// not listable; List reports an empty history by contract.
func NewRedisStore(log *logger.Logger, kv KV, ttl time.Duration) (Store, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if kv == nil {
		return nil, fmt.Errorf("redis kv required")
	}
	return &redisStore{
		log: log.With("service", "RedisCheckpointStore"),
		kv:  kv,
		ttl: ttl,
	}, nil
}

func snapshotKey(threadID, checkpointID string) string {
	return "checkpoint:" + threadID + ":" + checkpointID
}

func latestKey(threadID string) string {
	return "checkpoint_latest:" + threadID
}

func (s *redisStore) Get(ctx context.Context, threadID, checkpointID string) (*domain.Checkpoint, error) {
	wanted := checkpointID
	if wanted == "" {
		latestID, found, err := s.kv.Get(ctx, latestKey(threadID))
		if err != nil {
			return nil, fmt.Errorf("checkpoint latest pointer read: %w", err)
		}
		if !found || latestID == "" {
			return nil, nil
		}
		wanted = latestID
	}

	raw, found, err := s.kv.Get(ctx, snapshotKey(threadID, wanted))
	if err != nil {
		return nil, fmt.Errorf("checkpoint snapshot read: %w", err)
	}
	if !found {
		if checkpointID != "" {
			return nil, nil
		}
		// Pointer outlived its snapshot (TTL skew). Treat as empty.
		s.log.Warn("checkpoint pointer dangling", "thread_id", threadID, "checkpoint_id", wanted)
		return nil, nil
	}

	var cp domain.Checkpoint
	if err := json.Unmarshal([]byte(raw), &cp); err != nil {
		return nil, fmt.Errorf("checkpoint snapshot decode: %w", err)
	}
	return &cp, nil
}

func (s *redisStore) Put(ctx context.Context, cp *domain.Checkpoint) error {
	if err := validate(cp); err != nil {
		return err
	}

	stored := copyCheckpoint(cp)
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}

	raw, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("checkpoint snapshot encode: %w", err)
	}

	// Snapshot first; the pointer only moves once the snapshot is
	// durable, so a failure in between leaves the old head intact.
	if err := s.kv.Set(ctx, snapshotKey(cp.ThreadID, cp.ID), string(raw), s.ttl); err != nil {
		return fmt.Errorf("checkpoint snapshot write: %w", err)
	}
	if err := s.kv.Set(ctx, latestKey(cp.ThreadID), cp.ID, s.ttl); err != nil {
		return fmt.Errorf("checkpoint latest pointer write: %w", err)
	}
	return nil
}

func (s *redisStore) List(ctx context.Context, threadID, before string, limit int) ([]*domain.Checkpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return []*domain.Checkpoint{}, nil
}

func (s *redisStore) DeleteThread(ctx context.Context, threadID string) error {
	keys, err := s.kv.ScanKeys(ctx, snapshotKey(threadID, "*"))
	if err != nil {
		return fmt.Errorf("checkpoint key scan: %w", err)
	}
	keys = append(keys, latestKey(threadID))
	if err := s.kv.Del(ctx, keys...); err != nil {
		return fmt.Errorf("checkpoint delete: %w", err)
	}
	return nil
}

// goredisKV adapts *goredis.Client to KV.
type goredisKV struct {
	rdb *goredis.Client
}

func NewGoredisKV(rdb *goredis.Client) KV {
	return &goredisKV{rdb: rdb}
}

func (k *goredisKV) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return k.rdb.Set(ctx, key, value, ttl).Err()
}

func (k *goredisKV) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := k.rdb.Get(ctx, key).Result()
	if errors.Is(err, goredis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (k *goredisKV) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return k.rdb.Del(ctx, keys...).Err()
}

func (k *goredisKV) ScanKeys(ctx context.Context, pattern string) ([]string, error) {
	var out []string
	iter := k.rdb.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		out = append(out, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
