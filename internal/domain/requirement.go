package domain

import (
	"time"
)

// Requirement statuses. Draft requirements are private to their
// publisher; the rest may be surfaced to students.
const (
	StatusDraft       = "draft"
	StatusUnderReview = "under_review"
	StatusInProgress  = "in_progress"
	StatusCompleted   = "completed"
)

// RecommendableStatuses is the allow-list applied by every retrieval track.
var RecommendableStatuses = []string{StatusUnderReview, StatusInProgress, StatusCompleted}

// Requirement is a published project requirement row.
type Requirement struct {
	ID                int64     `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	Title             string    `gorm:"column:title;type:text;not null" json:"title"`
	Brief             string    `gorm:"column:brief;type:text;not null;default:''" json:"brief"`
	Description       string    `gorm:"column:description;type:text;not null;default:''" json:"description"`
	ResearchDirection string    `gorm:"column:research_direction;type:text;not null;default:''" json:"research_direction"`
	Skill             string    `gorm:"column:skill;type:text;not null;default:''" json:"skill"`
	FinishTime        string    `gorm:"column:finish_time;type:text;not null;default:''" json:"finish_time"`
	Budget            string    `gorm:"column:budget;type:text;not null;default:''" json:"budget"`
	SupportProvided   string    `gorm:"column:support_provided;type:text;not null;default:''" json:"support_provided"`
	Status            string    `gorm:"column:status;type:text;not null;default:'under_review';index" json:"status"`
	CreatedAt         time.Time `gorm:"column:created_at;not null" json:"created_at"`
	UpdatedAt         time.Time `gorm:"column:updated_at;not null" json:"updated_at"`
}

func (Requirement) TableName() string { return "project_requirement" }

// RequirementInterestTag links a requirement to an interest tag.
type RequirementInterestTag struct {
	RequirementID int64  `gorm:"column:requirement_id;primaryKey;index" json:"requirement_id"`
	TagID         int64  `gorm:"column:tag_id;primaryKey;index" json:"tag_id"`
	TagName       string `gorm:"column:tag_name;type:text;not null;default:''" json:"tag_name"`
}

func (RequirementInterestTag) TableName() string { return "requirement_interest_tag" }

// RequirementSkillTag links a requirement to a skill tag.
type RequirementSkillTag struct {
	RequirementID int64  `gorm:"column:requirement_id;primaryKey;index" json:"requirement_id"`
	TagID         int64  `gorm:"column:tag_id;primaryKey;index" json:"tag_id"`
	TagName       string `gorm:"column:tag_name;type:text;not null;default:''" json:"tag_name"`
}

func (RequirementSkillTag) TableName() string { return "requirement_skill_tag" }

// RequirementRawDoc holds the original uploaded document text for a
// requirement, used as the first choice for project question answering.
type RequirementRawDoc struct {
	ID            int64     `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	RequirementID int64     `gorm:"column:requirement_id;not null;index" json:"requirement_id"`
	FileName      string    `gorm:"column:file_name;type:text;not null;default:''" json:"file_name"`
	Content       string    `gorm:"column:content;type:text;not null" json:"content"`
	CreatedAt     time.Time `gorm:"column:created_at;not null" json:"created_at"`
}

func (RequirementRawDoc) TableName() string { return "project_raw_doc" }
