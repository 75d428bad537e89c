package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yungbote/projectmatch-backend/internal/domain"
	"github.com/yungbote/projectmatch-backend/internal/pkg/logger"
)

type postgresStore struct {
	log *logger.Logger
	db  *gorm.DB
}

// NewPostgresStore builds the durable checkpoint store. Each Put
// inserts a snapshot row and moves the thread head in one
// transaction, so readers never observe a pointer without its
// snapshot.
func NewPostgresStore(log *logger.Logger, db *gorm.DB) (Store, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if db == nil {
		return nil, fmt.Errorf("gorm db required")
	}
	return &postgresStore{
		log: log.With("service", "PostgresCheckpointStore"),
		db:  db,
	}, nil
}

func (s *postgresStore) Get(ctx context.Context, threadID, checkpointID string) (*domain.Checkpoint, error) {
	wanted := checkpointID
	if wanted == "" {
		var head domain.ConversationThreadHead
		err := s.db.WithContext(ctx).
			Where("thread_id = ?", threadID).
			First(&head).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("checkpoint head read: %w", err)
		}
		wanted = head.CheckpointID
	}

	var row domain.ConversationCheckpoint
	err := s.db.WithContext(ctx).
		Where("thread_id = ? AND checkpoint_id = ?", threadID, wanted).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		if checkpointID != "" {
			return nil, nil
		}
		// Head rows are only written alongside their snapshot.
		return nil, fmt.Errorf("checkpoint head dangling: thread=%s checkpoint=%s", threadID, wanted)
	}
	if err != nil {
		return nil, fmt.Errorf("checkpoint snapshot read: %w", err)
	}

	return decodeRow(row)
}

func (s *postgresStore) Put(ctx context.Context, cp *domain.Checkpoint) error {
	if err := validate(cp); err != nil {
		return err
	}

	createdAt := cp.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	stateRaw, err := json.Marshal(cp.State)
	if err != nil {
		return fmt.Errorf("checkpoint state encode: %w", err)
	}
	meta := cp.Metadata
	if meta == nil {
		meta = map[string]string{}
	}
	metaRaw, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("checkpoint metadata encode: %w", err)
	}

	row := domain.ConversationCheckpoint{
		ThreadID:     cp.ThreadID,
		CheckpointID: cp.ID,
		ParentID:     cp.ParentID,
		State:        stateRaw,
		Metadata:     metaRaw,
		CreatedAt:    createdAt,
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&row).Error; err != nil {
			return fmt.Errorf("checkpoint snapshot insert: %w", err)
		}
		head := domain.ConversationThreadHead{
			ThreadID:     cp.ThreadID,
			CheckpointID: cp.ID,
			UpdatedAt:    createdAt,
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "thread_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"checkpoint_id", "updated_at"}),
		}).Create(&head).Error; err != nil {
			return fmt.Errorf("checkpoint head upsert: %w", err)
		}
		return nil
	})
}

func (s *postgresStore) List(ctx context.Context, threadID, before string, limit int) ([]*domain.Checkpoint, error) {
	q := s.db.WithContext(ctx).
		Where("thread_id = ?", threadID).
		Order("checkpoint_id DESC")
	if before != "" {
		q = q.Where("checkpoint_id < ?", before)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}

	var rows []domain.ConversationCheckpoint
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("checkpoint history read: %w", err)
	}

	out := make([]*domain.Checkpoint, 0, len(rows))
	for _, row := range rows {
		cp, err := decodeRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, nil
}

func (s *postgresStore) DeleteThread(ctx context.Context, threadID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("thread_id = ?", threadID).
			Delete(&domain.ConversationCheckpoint{}).Error; err != nil {
			return fmt.Errorf("checkpoint snapshot delete: %w", err)
		}
		if err := tx.Where("thread_id = ?", threadID).
			Delete(&domain.ConversationThreadHead{}).Error; err != nil {
			return fmt.Errorf("checkpoint head delete: %w", err)
		}
		return nil
	})
}

func decodeRow(row domain.ConversationCheckpoint) (*domain.Checkpoint, error) {
	var state domain.ConversationState
	if err := json.Unmarshal(row.State, &state); err != nil {
		return nil, fmt.Errorf("checkpoint state decode: %w", err)
	}
	meta := map[string]string{}
	if len(row.Metadata) > 0 {
		if err := json.Unmarshal(row.Metadata, &meta); err != nil {
			return nil, fmt.Errorf("checkpoint metadata decode: %w", err)
		}
	}
	return &domain.Checkpoint{
		ThreadID:  row.ThreadID,
		ID:        row.CheckpointID,
		ParentID:  row.ParentID,
		State:     &state,
		Metadata:  meta,
		CreatedAt: row.CreatedAt,
	}, nil
}
