package retrieval

import (
	"context"
	"strings"
	"testing"

	"github.com/yungbote/projectmatch-backend/internal/clients/vector"
	"github.com/yungbote/projectmatch-backend/internal/domain"
	"github.com/yungbote/projectmatch-backend/internal/pkg/logger"
)

type fakeRepo struct {
	tagMatches    []TagMatch
	hydrated      []domain.Requirement
	fulltextRows  []domain.Requirement
	substringRows []domain.Requirement

	fulltextCalls  int
	substringCalls int
	hydrateIDs     []int64
}

func (r *fakeRepo) TagMatches(ctx context.Context, interestIDs, skillIDs []int64) ([]TagMatch, error) {
	return r.tagMatches, nil
}

func (r *fakeRepo) HydrateByIDs(ctx context.Context, ids []int64) ([]domain.Requirement, error) {
	r.hydrateIDs = ids
	return r.hydrated, nil
}

func (r *fakeRepo) FulltextSearch(ctx context.Context, keywords []string, limit int) ([]domain.Requirement, error) {
	r.fulltextCalls++
	return r.fulltextRows, nil
}

func (r *fakeRepo) SubstringSearch(ctx context.Context, keywords []string, limit int) ([]domain.Requirement, error) {
	r.substringCalls++
	var out []domain.Requirement
	for _, row := range r.substringRows {
		for _, k := range keywords {
			if strings.Contains(row.Title+row.Description, k) {
				out = append(out, row)
				break
			}
		}
	}
	return out, nil
}

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	out := make([][]float32, len(inputs))
	for i := range out {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

func (fakeEmbedder) Dim() int { return 3 }

type fakeVectors struct {
	matches []vector.Match
}

func (v *fakeVectors) Upsert(ctx context.Context, collection string, vectors []vector.Vector) error {
	return nil
}

func (v *fakeVectors) Query(ctx context.Context, collection string, q []float32, topK int, filter map[string]any) ([]vector.Match, error) {
	return v.matches, nil
}

func (v *fakeVectors) DeleteIDs(ctx context.Context, collection string, ids []string) error {
	return nil
}

func newEngine(t *testing.T, repo SearchRepo, vectors vector.Store) *Engine {
	t.Helper()
	e, err := NewEngine(logger.NewNop(), repo, fakeEmbedder{}, vectors, "project_embeddings")
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e
}

func TestTagTrackCountsDistinctMatchedIDs(t *testing.T) {
	reqE := domain.Requirement{ID: 7, Title: "Crab robot", Status: domain.StatusInProgress, Description: "walking machine"}
	repo := &fakeRepo{
		tagMatches: []TagMatch{
			{Requirement: reqE, TagID: 1},
			{Requirement: reqE, TagID: 2},
			// Duplicate rows for an already-counted id must not
			// raise the score.
			{Requirement: reqE, TagID: 2},
		},
	}
	e := newEngine(t, repo, &fakeVectors{})

	got, err := e.TagTrack(context.Background(), []int64{1, 2}, []int64{3})
	if err != nil {
		t.Fatalf("TagTrack: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("candidates = %d, want 1", len(got))
	}
	if got[0].TagScore != 2.0 {
		t.Fatalf("tag score = %v, want 2.0", got[0].TagScore)
	}
}

func TestTagTrackTopFive(t *testing.T) {
	var matches []TagMatch
	for id := int64(1); id <= 8; id++ {
		req := domain.Requirement{ID: id, Title: "r", Status: domain.StatusCompleted}
		for tag := int64(0); tag < id; tag++ {
			matches = append(matches, TagMatch{Requirement: req, TagID: tag})
		}
	}
	e := newEngine(t, &fakeRepo{tagMatches: matches}, &fakeVectors{})

	got, err := e.TagTrack(context.Background(), []int64{1}, nil)
	if err != nil {
		t.Fatalf("TagTrack: %v", err)
	}
	if len(got) != 5 {
		t.Fatalf("candidates = %d, want 5", len(got))
	}
	if got[0].ID != 8 || got[0].TagScore != 8.0 {
		t.Fatalf("top candidate = %+v", got[0])
	}
}

func TestSemanticTrackDropsUnhydratedHits(t *testing.T) {
	repo := &fakeRepo{
		hydrated: []domain.Requirement{
			{ID: 11, Title: "Known", Status: domain.StatusUnderReview, Description: "still published"},
		},
	}
	vectors := &fakeVectors{matches: []vector.Match{
		{ID: "11", Score: 0.9},
		// Present in the index but gone from the relational store.
		{ID: "99", Score: 0.8},
		// Not a requirement id at all.
		{ID: "chunk-abc", Score: 0.7},
	}}
	e := newEngine(t, repo, vectors)

	got, err := e.SemanticTrack(context.Background(), "深度学习")
	if err != nil {
		t.Fatalf("SemanticTrack: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("candidates = %d, want 1 (stale hits dropped silently)", len(got))
	}
	if got[0].ID != 11 || got[0].SemanticScore != 0.9 {
		t.Fatalf("candidate = %+v", got[0])
	}
	if len(repo.hydrateIDs) != 2 {
		t.Fatalf("hydrate ids = %v, want the two numeric ids", repo.hydrateIDs)
	}
}

func TestKeywordTrackSubstringFallback(t *testing.T) {
	repo := &fakeRepo{
		fulltextRows: nil, // tokenizer mismatch: fulltext finds nothing
		substringRows: []domain.Requirement{
			{ID: 21, Title: "海洋探测螃蟹机器人", Status: domain.StatusInProgress, Description: "六足行走平台"},
			{ID: 22, Title: "无关项目", Status: domain.StatusInProgress, Description: "别的东西"},
		},
	}
	e := newEngine(t, repo, &fakeVectors{})

	got, err := e.KeywordTrack(context.Background(), []string{"螃蟹机器人"})
	if err != nil {
		t.Fatalf("KeywordTrack: %v", err)
	}
	if repo.fulltextCalls != 1 || repo.substringCalls != 1 {
		t.Fatalf("calls: fulltext=%d substring=%d, want 1 and 1", repo.fulltextCalls, repo.substringCalls)
	}
	if len(got) != 1 {
		t.Fatalf("candidates = %d, want 1", len(got))
	}
	if got[0].ID != 21 || got[0].KeywordScore != 1.0 {
		t.Fatalf("candidate = %+v", got[0])
	}
}

func TestKeywordTrackScoresDistinctKeywordSubstrings(t *testing.T) {
	repo := &fakeRepo{
		fulltextRows: []domain.Requirement{
			{ID: 31, Title: "Python deep learning", Status: domain.StatusCompleted, Description: "vision models in Python"},
			{ID: 32, Title: "Data pipeline", Status: domain.StatusCompleted, Description: "batch ETL"},
		},
	}
	e := newEngine(t, repo, &fakeVectors{})

	got, err := e.KeywordTrack(context.Background(), []string{"python", "learning", "rust"})
	if err != nil {
		t.Fatalf("KeywordTrack: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("candidates = %d, want 2", len(got))
	}
	// Distinct keywords found as substrings, not fulltext rank.
	if got[0].ID != 31 || got[0].KeywordScore != 2.0 {
		t.Fatalf("top candidate = %+v", got[0])
	}
	if got[1].KeywordScore != 0.0 {
		t.Fatalf("second candidate = %+v", got[1])
	}
}

func TestFuseWeights(t *testing.T) {
	tag := []domain.Candidate{
		{ID: 1, Title: "E", Description: "d", TagScore: 2.0},
	}
	got := Fuse(tag, nil, nil)
	if len(got) != 1 {
		t.Fatalf("fused = %d, want 1", len(got))
	}
	if got[0].FusedScore != 0.8 {
		t.Fatalf("fused score = %v, want 0.8", got[0].FusedScore)
	}
}

func TestFuseMergesTrackScoresPerEntity(t *testing.T) {
	tag := []domain.Candidate{{ID: 1, Title: "A", Description: "x", TagScore: 1.0}}
	semantic := []domain.Candidate{{ID: 1, Title: "A", Description: "x", SemanticScore: 0.5}}
	keyword := []domain.Candidate{{ID: 1, Title: "A", Description: "x", KeywordScore: 2.0}}

	got := Fuse(tag, semantic, keyword)
	if len(got) != 1 {
		t.Fatalf("fused = %d, want 1", len(got))
	}
	want := 0.4*1.0 + 0.4*0.5 + 0.2*2.0
	if got[0].FusedScore != want {
		t.Fatalf("fused score = %v, want %v", got[0].FusedScore, want)
	}
}

func TestFuseDeduplicatesBySignature(t *testing.T) {
	longDesc := strings.Repeat("项目描述", 40) // well past 100 chars
	a := domain.Candidate{ID: 1, Title: "Crab Robot", Description: longDesc, TagScore: 2.0}    // fuses to 0.8
	b := domain.Candidate{ID: 2, Title: "crab robot", Description: longDesc, TagScore: 1.25}  // fuses to 0.5
	c := domain.Candidate{ID: 3, Title: "crab robot", Description: "different", TagScore: 1.0}

	got := Fuse([]domain.Candidate{a, b, c}, nil, nil)
	if len(got) != 2 {
		t.Fatalf("fused = %d, want 2 (signature collision collapsed)", len(got))
	}
	if got[0].ID != 1 || got[0].FusedScore != 0.8 {
		t.Fatalf("kept wrong duplicate: %+v", got[0])
	}
}

func TestFuseTopFifteen(t *testing.T) {
	var tag []domain.Candidate
	for i := int64(1); i <= 20; i++ {
		tag = append(tag, domain.Candidate{
			ID:          i,
			Title:       strings.Repeat("t", int(i)),
			Description: strings.Repeat("d", int(i)),
			TagScore:    float64(i),
		})
	}
	got := Fuse(tag, nil, nil)
	if len(got) != 15 {
		t.Fatalf("fused = %d, want 15", len(got))
	}
	if got[0].ID != 20 {
		t.Fatalf("top candidate = %+v", got[0])
	}
}

func TestFuseEmptyTracks(t *testing.T) {
	if got := Fuse(nil, nil, nil); len(got) != 0 {
		t.Fatalf("fused = %d, want 0", len(got))
	}
}
