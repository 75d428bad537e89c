package retrieval

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/yungbote/projectmatch-backend/internal/clients/llm"
	"github.com/yungbote/projectmatch-backend/internal/clients/vector"
	"github.com/yungbote/projectmatch-backend/internal/domain"
	"github.com/yungbote/projectmatch-backend/internal/pkg/logger"
)

const (
	// Per-track cutoff before fusion.
	trackTopK = 5
	// Final slate size after fusion and dedup.
	fusedTopK = 15

	tagWeight      = 0.4
	semanticWeight = 0.4
	keywordWeight  = 0.2
)

// Engine runs the three recall tracks and fuses their candidates.
// Track methods are independent and safe to call concurrently; the
// recommend flow runs them as parallel branches.
type Engine struct {
	log        *logger.Logger
	repo       SearchRepo
	embed      llm.EmbeddingClient
	vectors    vector.Store
	collection string
}

func NewEngine(log *logger.Logger, repo SearchRepo, embed llm.EmbeddingClient, vectors vector.Store, collection string) (*Engine, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if repo == nil {
		return nil, fmt.Errorf("search repo required")
	}
	if strings.TrimSpace(collection) == "" {
		collection = "project_embeddings"
	}
	return &Engine{
		log:        log.With("service", "RetrievalEngine"),
		repo:       repo,
		embed:      embed,
		vectors:    vectors,
		collection: collection,
	}, nil
}

// TagTrack scores each requirement by the number of distinct supplied
// tag ids it matches. A requirement matching 3 of the ids scores 3.0
// no matter how many rows satisfied the join.
func (e *Engine) TagTrack(ctx context.Context, interestIDs, skillIDs []int64) ([]domain.Candidate, error) {
	if len(interestIDs) == 0 && len(skillIDs) == 0 {
		return nil, nil
	}

	matches, err := e.repo.TagMatches(ctx, interestIDs, skillIDs)
	if err != nil {
		return nil, fmt.Errorf("tag track query: %w", err)
	}

	type entry struct {
		req  domain.Requirement
		tags map[int64]struct{}
	}
	byID := map[int64]*entry{}
	for _, m := range matches {
		en, ok := byID[m.Requirement.ID]
		if !ok {
			en = &entry{req: m.Requirement, tags: map[int64]struct{}{}}
			byID[m.Requirement.ID] = en
		}
		en.tags[m.TagID] = struct{}{}
	}

	out := make([]domain.Candidate, 0, len(byID))
	for _, en := range byID {
		out = append(out, domain.Candidate{
			ID:          en.req.ID,
			Title:       en.req.Title,
			Status:      en.req.Status,
			Description: en.req.Description,
			TagScore:    float64(len(en.tags)),
			Source:      "tag",
		})
	}
	sortByScore(out, func(c domain.Candidate) float64 { return c.TagScore })
	return truncate(out, trackTopK), nil
}

// SemanticTrack embeds the query, similarity-searches the requirement
// embedding collection, and hydrates the hits from the relational
// store. Hits the relational store no longer knows (or has since
// demoted out of the allow-list) are dropped silently; the vector
// index may lag the system of record.
func (e *Engine) SemanticTrack(ctx context.Context, queryText string) ([]domain.Candidate, error) {
	queryText = strings.TrimSpace(queryText)
	if queryText == "" || e.embed == nil || e.vectors == nil {
		return nil, nil
	}

	vecs, err := e.embed.Embed(ctx, []string{queryText})
	if err != nil {
		return nil, fmt.Errorf("semantic track embed: %w", err)
	}
	if len(vecs) == 0 {
		return nil, nil
	}

	hits, err := e.vectors.Query(ctx, e.collection, vecs[0], trackTopK, nil)
	if err != nil {
		return nil, fmt.Errorf("semantic track search: %w", err)
	}

	scores := map[int64]float64{}
	ids := make([]int64, 0, len(hits))
	for _, h := range hits {
		id, err := strconv.ParseInt(strings.TrimSpace(h.ID), 10, 64)
		if err != nil {
			continue
		}
		if _, seen := scores[id]; !seen {
			ids = append(ids, id)
		}
		if h.Score > scores[id] {
			scores[id] = h.Score
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}

	rows, err := e.repo.HydrateByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("semantic track hydrate: %w", err)
	}

	out := make([]domain.Candidate, 0, len(rows))
	for _, r := range rows {
		out = append(out, domain.Candidate{
			ID:            r.ID,
			Title:         r.Title,
			Status:        r.Status,
			Description:   r.Description,
			SemanticScore: scores[r.ID],
			Source:        "semantic",
		})
	}
	sortByScore(out, func(c domain.Candidate) float64 { return c.SemanticScore })
	return truncate(out, trackTopK), nil
}

// KeywordTrack full-text searches with OR semantics, falling back to
// a substring scan when full text returns nothing (tokenizer and
// language mismatches make that common). The score is the number of
// distinct keywords appearing as substrings of title+description,
// not the search engine's relevance.
func (e *Engine) KeywordTrack(ctx context.Context, keywords []string) ([]domain.Candidate, error) {
	clean := make([]string, 0, len(keywords))
	for _, k := range keywords {
		k = strings.TrimSpace(k)
		if k != "" {
			clean = append(clean, k)
		}
	}
	if len(clean) == 0 {
		return nil, nil
	}

	rows, err := e.repo.FulltextSearch(ctx, clean, 50)
	if err != nil {
		return nil, fmt.Errorf("keyword track fulltext: %w", err)
	}
	if len(rows) == 0 {
		rows, err = e.repo.SubstringSearch(ctx, clean, 50)
		if err != nil {
			return nil, fmt.Errorf("keyword track substring scan: %w", err)
		}
	}

	out := make([]domain.Candidate, 0, len(rows))
	for _, r := range rows {
		haystack := strings.ToLower(r.Title + " " + r.Description)
		score := 0
		for _, k := range clean {
			if strings.Contains(haystack, strings.ToLower(k)) {
				score++
			}
		}
		out = append(out, domain.Candidate{
			ID:           r.ID,
			Title:        r.Title,
			Status:       r.Status,
			Description:  r.Description,
			KeywordScore: float64(score),
			Source:       "keyword",
		})
	}
	sortByScore(out, func(c domain.Candidate) float64 { return c.KeywordScore })
	return truncate(out, trackTopK), nil
}

// Fuse merges the tracks' partial scores per requirement id, computes
// the weighted fused score, collapses content duplicates by signature
// keeping the higher-scoring entry, and returns the ranked slate.
func Fuse(tag, semantic, keyword []domain.Candidate) []domain.Candidate {
	merged := map[int64]*domain.Candidate{}
	order := make([]int64, 0, len(tag)+len(semantic)+len(keyword))

	absorb := func(c domain.Candidate) {
		m, ok := merged[c.ID]
		if !ok {
			cc := c
			merged[c.ID] = &cc
			order = append(order, c.ID)
			return
		}
		if c.TagScore > m.TagScore {
			m.TagScore = c.TagScore
		}
		if c.SemanticScore > m.SemanticScore {
			m.SemanticScore = c.SemanticScore
		}
		if c.KeywordScore > m.KeywordScore {
			m.KeywordScore = c.KeywordScore
		}
		if m.Title == "" {
			m.Title = c.Title
		}
		if m.Description == "" {
			m.Description = c.Description
		}
		if m.Status == "" {
			m.Status = c.Status
		}
		m.Source = m.Source + "+" + c.Source
	}

	for _, c := range tag {
		absorb(c)
	}
	for _, c := range semantic {
		absorb(c)
	}
	for _, c := range keyword {
		absorb(c)
	}

	bySignature := map[string]*domain.Candidate{}
	sigOrder := make([]string, 0, len(order))
	for _, id := range order {
		c := merged[id]
		c.FusedScore = tagWeight*c.TagScore + semanticWeight*c.SemanticScore + keywordWeight*c.KeywordScore

		sig := c.Signature()
		prev, dup := bySignature[sig]
		if !dup {
			bySignature[sig] = c
			sigOrder = append(sigOrder, sig)
			continue
		}
		if c.FusedScore > prev.FusedScore {
			bySignature[sig] = c
		}
	}

	out := make([]domain.Candidate, 0, len(sigOrder))
	for _, sig := range sigOrder {
		out = append(out, *bySignature[sig])
	}
	sortByScore(out, func(c domain.Candidate) float64 { return c.FusedScore })
	return truncate(out, fusedTopK)
}

func sortByScore(cs []domain.Candidate, score func(domain.Candidate) float64) {
	sort.SliceStable(cs, func(i, j int) bool {
		si, sj := score(cs[i]), score(cs[j])
		if si == sj {
			return cs[i].ID < cs[j].ID
		}
		return si > sj
	})
}

func truncate(cs []domain.Candidate, n int) []domain.Candidate {
	if len(cs) > n {
		return cs[:n]
	}
	return cs
}
