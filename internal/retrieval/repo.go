package retrieval

import (
	"context"

	"github.com/yungbote/projectmatch-backend/internal/domain"
)

// TagMatch is one (requirement, matched tag id) pair from the tag
// track's relational query. Pairs are distinct per tag id, so the
// track can count matched ids rather than rows.
type TagMatch struct {
	Requirement domain.Requirement
	TagID       int64
}

// SearchRepo is the relational surface the recall tracks query. All
// methods restrict results to the recommendable status allow-list.
type SearchRepo interface {
	TagMatches(ctx context.Context, interestIDs, skillIDs []int64) ([]TagMatch, error)
	HydrateByIDs(ctx context.Context, ids []int64) ([]domain.Requirement, error)
	FulltextSearch(ctx context.Context, keywords []string, limit int) ([]domain.Requirement, error)
	SubstringSearch(ctx context.Context, keywords []string, limit int) ([]domain.Requirement, error)
}
