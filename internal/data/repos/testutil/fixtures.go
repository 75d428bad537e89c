package testutil

import (
	"context"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/yungbote/projectmatch-backend/internal/domain"
)

func SeedRequirement(tb testing.TB, ctx context.Context, tx *gorm.DB, title, status string) *domain.Requirement {
	tb.Helper()
	now := time.Now().UTC()
	req := &domain.Requirement{
		Title:       title,
		Brief:       "brief",
		Description: "description",
		Status:      status,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := tx.WithContext(ctx).Create(req).Error; err != nil {
		tb.Fatalf("seed requirement: %v", err)
	}
	return req
}

func SeedRawDoc(tb testing.TB, ctx context.Context, tx *gorm.DB, requirementID int64, fileName, content string) *domain.RequirementRawDoc {
	tb.Helper()
	doc := &domain.RequirementRawDoc{
		RequirementID: requirementID,
		FileName:      fileName,
		Content:       content,
		CreatedAt:     time.Now().UTC(),
	}
	if err := tx.WithContext(ctx).Create(doc).Error; err != nil {
		tb.Fatalf("seed raw doc: %v", err)
	}
	return doc
}
