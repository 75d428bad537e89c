package requirement

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/yungbote/projectmatch-backend/internal/domain"
	"github.com/yungbote/projectmatch-backend/internal/pkg/logger"
	"github.com/yungbote/projectmatch-backend/internal/retrieval"
)

// SearchRepo runs the recall tracks' SQL on a pgx pool. Queries are
// short reads; the pool is shared across concurrent turns.
type SearchRepo struct {
	log  *logger.Logger
	pool *pgxpool.Pool
}

func NewSearchRepo(log *logger.Logger, pool *pgxpool.Pool) (*SearchRepo, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if pool == nil {
		return nil, fmt.Errorf("pgx pool required")
	}
	return &SearchRepo{
		log:  log.With("repo", "RequirementSearchRepo"),
		pool: pool,
	}, nil
}

var _ retrieval.SearchRepo = (*SearchRepo)(nil)

const tagMatchSQL = `
SELECT r.id, r.title, r.status, r.description, t.tag_id
FROM project_requirement r
JOIN (
    SELECT requirement_id, tag_id FROM requirement_interest_tag WHERE tag_id = ANY($1)
    UNION
    SELECT requirement_id, tag_id FROM requirement_skill_tag WHERE tag_id = ANY($2)
) t ON t.requirement_id = r.id
WHERE r.status = ANY($3)
`

func (r *SearchRepo) TagMatches(ctx context.Context, interestIDs, skillIDs []int64) ([]retrieval.TagMatch, error) {
	if interestIDs == nil {
		interestIDs = []int64{}
	}
	if skillIDs == nil {
		skillIDs = []int64{}
	}

	rows, err := r.pool.Query(ctx, tagMatchSQL, interestIDs, skillIDs, domain.RecommendableStatuses)
	if err != nil {
		return nil, fmt.Errorf("tag match query: %w", err)
	}
	defer rows.Close()

	var out []retrieval.TagMatch
	for rows.Next() {
		var m retrieval.TagMatch
		if err := rows.Scan(
			&m.Requirement.ID,
			&m.Requirement.Title,
			&m.Requirement.Status,
			&m.Requirement.Description,
			&m.TagID,
		); err != nil {
			return nil, fmt.Errorf("tag match scan: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("tag match rows: %w", err)
	}
	return out, nil
}

const hydrateSQL = `
SELECT id, title, status, description
FROM project_requirement
WHERE id = ANY($1) AND status = ANY($2)
`

func (r *SearchRepo) HydrateByIDs(ctx context.Context, ids []int64) ([]domain.Requirement, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx, hydrateSQL, ids, domain.RecommendableStatuses)
	if err != nil {
		return nil, fmt.Errorf("hydrate query: %w", err)
	}
	defer rows.Close()
	return scanRequirements(rows)
}

const fulltextSQL = `
SELECT id, title, status, description
FROM project_requirement
WHERE status = ANY($2)
  AND to_tsvector('simple', title || ' ' || description) @@ to_tsquery('simple', $1)
LIMIT $3
`

func (r *SearchRepo) FulltextSearch(ctx context.Context, keywords []string, limit int) ([]domain.Requirement, error) {
	query := buildTsQuery(keywords)
	if query == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, fulltextSQL, query, domain.RecommendableStatuses, limit)
	if err != nil {
		return nil, fmt.Errorf("fulltext query: %w", err)
	}
	defer rows.Close()
	return scanRequirements(rows)
}

func (r *SearchRepo) SubstringSearch(ctx context.Context, keywords []string, limit int) ([]domain.Requirement, error) {
	clean := make([]string, 0, len(keywords))
	for _, k := range keywords {
		if k = strings.TrimSpace(k); k != "" {
			clean = append(clean, k)
		}
	}
	if len(clean) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}

	var sb strings.Builder
	sb.WriteString(`SELECT id, title, status, description FROM project_requirement WHERE status = ANY($1) AND (`)
	args := []any{domain.RecommendableStatuses}
	for i, k := range clean {
		if i > 0 {
			sb.WriteString(" OR ")
		}
		args = append(args, "%"+escapeLike(k)+"%")
		n := len(args)
		fmt.Fprintf(&sb, "title ILIKE $%d OR description ILIKE $%d", n, n)
	}
	args = append(args, limit)
	fmt.Fprintf(&sb, ") LIMIT $%d", len(args))

	rows, err := r.pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("substring query: %w", err)
	}
	defer rows.Close()
	return scanRequirements(rows)
}

type pgxRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanRequirements(rows pgxRows) ([]domain.Requirement, error) {
	var out []domain.Requirement
	for rows.Next() {
		var req domain.Requirement
		if err := rows.Scan(&req.ID, &req.Title, &req.Status, &req.Description); err != nil {
			return nil, fmt.Errorf("requirement scan: %w", err)
		}
		out = append(out, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("requirement rows: %w", err)
	}
	return out, nil
}

// buildTsQuery joins keywords with OR, stripping tsquery operator
// characters so user text cannot break the expression.
func buildTsQuery(keywords []string) string {
	terms := make([]string, 0, len(keywords))
	for _, k := range keywords {
		k = strings.TrimSpace(k)
		k = strings.Map(func(r rune) rune {
			switch r {
			case '&', '|', '!', '(', ')', ':', '*', '\'', '\\':
				return -1
			}
			return r
		}, k)
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		// Multi-word keywords become phrase-ish AND groups.
		fields := strings.Fields(k)
		terms = append(terms, "("+strings.Join(fields, " & ")+")")
	}
	return strings.Join(terms, " | ")
}

func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}
