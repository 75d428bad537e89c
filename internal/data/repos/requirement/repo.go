package requirement

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/yungbote/projectmatch-backend/internal/domain"
	"github.com/yungbote/projectmatch-backend/internal/pkg/dbctx"
	"github.com/yungbote/projectmatch-backend/internal/pkg/errs"
	"github.com/yungbote/projectmatch-backend/internal/pkg/logger"
)

// Repo is the write/read surface for published requirements, used by
// the publish flow and project Q&A.
type Repo interface {
	Create(dbc dbctx.Context, req *domain.Requirement) error
	GetByID(dbc dbctx.Context, id int64) (*domain.Requirement, error)
	ReplaceInterestTags(dbc dbctx.Context, requirementID int64, tags []domain.TagRef) error
	ReplaceSkillTags(dbc dbctx.Context, requirementID int64, tags []domain.TagRef) error
	CreateRawDoc(dbc dbctx.Context, doc *domain.RequirementRawDoc) error
	RawDocsByRequirement(dbc dbctx.Context, requirementID int64) ([]domain.RequirementRawDoc, error)
}

type repo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewRepo(db *gorm.DB, log *logger.Logger) Repo {
	return &repo{
		db:  db,
		log: log.With("repo", "RequirementRepo"),
	}
}

func (r *repo) tx(dbc dbctx.Context) *gorm.DB {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(dbc.Ctx)
}

func (r *repo) Create(dbc dbctx.Context, req *domain.Requirement) error {
	if req == nil {
		return fmt.Errorf("requirement required")
	}
	now := time.Now().UTC()
	if req.CreatedAt.IsZero() {
		req.CreatedAt = now
	}
	req.UpdatedAt = now
	if req.Status == "" {
		req.Status = domain.StatusUnderReview
	}
	return r.tx(dbc).Create(req).Error
}

func (r *repo) GetByID(dbc dbctx.Context, id int64) (*domain.Requirement, error) {
	if id <= 0 {
		return nil, fmt.Errorf("missing requirement id: %w", errs.ErrInvalidArgument)
	}
	var out domain.Requirement
	err := r.tx(dbc).Where("id = ?", id).First(&out).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *repo) ReplaceInterestTags(dbc dbctx.Context, requirementID int64, tags []domain.TagRef) error {
	if requirementID <= 0 {
		return fmt.Errorf("missing requirement id: %w", errs.ErrInvalidArgument)
	}
	tx := r.tx(dbc)
	if err := tx.Where("requirement_id = ?", requirementID).
		Delete(&domain.RequirementInterestTag{}).Error; err != nil {
		return err
	}
	for _, t := range tags {
		row := domain.RequirementInterestTag{
			RequirementID: requirementID,
			TagID:         t.ID,
			TagName:       t.Name,
		}
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
	}
	return nil
}

func (r *repo) ReplaceSkillTags(dbc dbctx.Context, requirementID int64, tags []domain.TagRef) error {
	if requirementID <= 0 {
		return fmt.Errorf("missing requirement id: %w", errs.ErrInvalidArgument)
	}
	tx := r.tx(dbc)
	if err := tx.Where("requirement_id = ?", requirementID).
		Delete(&domain.RequirementSkillTag{}).Error; err != nil {
		return err
	}
	for _, t := range tags {
		row := domain.RequirementSkillTag{
			RequirementID: requirementID,
			TagID:         t.ID,
			TagName:       t.Name,
		}
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
	}
	return nil
}

func (r *repo) CreateRawDoc(dbc dbctx.Context, doc *domain.RequirementRawDoc) error {
	if doc == nil {
		return fmt.Errorf("raw doc required")
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}
	return r.tx(dbc).Create(doc).Error
}

func (r *repo) RawDocsByRequirement(dbc dbctx.Context, requirementID int64) ([]domain.RequirementRawDoc, error) {
	if requirementID <= 0 {
		return nil, fmt.Errorf("missing requirement id: %w", errs.ErrInvalidArgument)
	}
	var out []domain.RequirementRawDoc
	err := r.tx(dbc).
		Where("requirement_id = ?", requirementID).
		Order("id ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}
