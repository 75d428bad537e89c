package domain

import (
	"time"

	"gorm.io/datatypes"
)

// Checkpoint is an immutable snapshot of conversation state at one
// point in a thread's history. Checkpoints form a linear or branching
// history via ParentID; they are created once and never mutated.
type Checkpoint struct {
	ThreadID  string
	ID        string
	ParentID  string
	State     *ConversationState
	Metadata  map[string]string
	CreatedAt time.Time
}

// ConversationCheckpoint is the durable row backing a checkpoint in
// the transactional store.
type ConversationCheckpoint struct {
	ThreadID     string         `gorm:"column:thread_id;type:text;not null;primaryKey" json:"thread_id"`
	CheckpointID string         `gorm:"column:checkpoint_id;type:text;not null;primaryKey" json:"checkpoint_id"`
	ParentID     string         `gorm:"column:parent_id;type:text;not null;default:''" json:"parent_id"`
	State        datatypes.JSON `gorm:"column:state;type:jsonb;not null" json:"state"`
	Metadata     datatypes.JSON `gorm:"column:metadata;type:jsonb;not null;default:'{}'" json:"metadata"`
	CreatedAt    time.Time      `gorm:"column:created_at;not null;index" json:"created_at"`
}

func (ConversationCheckpoint) TableName() string { return "conversation_checkpoint" }

// ConversationThreadHead is the per-thread latest pointer, updated in
// the same transaction as the checkpoint insert.
type ConversationThreadHead struct {
	ThreadID     string    `gorm:"column:thread_id;type:text;primaryKey" json:"thread_id"`
	CheckpointID string    `gorm:"column:checkpoint_id;type:text;not null" json:"checkpoint_id"`
	UpdatedAt    time.Time `gorm:"column:updated_at;not null" json:"updated_at"`
}

func (ConversationThreadHead) TableName() string { return "conversation_thread_head" }
