package db

import (
	"gorm.io/gorm"

	"github.com/yungbote/projectmatch-backend/internal/domain"
)

func AutoMigrateAll(db *gorm.DB) error {
	return db.AutoMigrate(

		// =========================
		// Project requirements
		// =========================
		&domain.Requirement{},
		&domain.RequirementInterestTag{},
		&domain.RequirementSkillTag{},
		&domain.RequirementRawDoc{},

		// =========================
		// Conversation persistence
		// =========================
		&domain.ConversationCheckpoint{},
		&domain.ConversationThreadHead{},
	)
}
