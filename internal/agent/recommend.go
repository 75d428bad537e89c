package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/yungbote/projectmatch-backend/internal/clients/llm"
	"github.com/yungbote/projectmatch-backend/internal/domain"
	"github.com/yungbote/projectmatch-backend/internal/graph"
	"github.com/yungbote/projectmatch-backend/internal/retrieval"
)

// Per-query cutoff when matching tag vectors, and the cap on resolved
// tags handed to the downstream steps.
const (
	tagQueryTopK = 5
	maxTagRefs   = 6
)

var keywordSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"keywords": map[string]any{
			"type":  "array",
			"items": map[string]any{"type": "string"},
		},
	},
	"required":             []string{"keywords"},
	"additionalProperties": false,
}

// prepRecommendStep extracts keywords from the user input and resolves
// interest and skill tags from the tag collections. Its output feeds
// all three recall tracks, so it runs before the fan-out.
func (s *Service) prepRecommendStep(ctx context.Context, st *domain.ConversationState) (*graph.Delta, error) {
	userInput := st.Scratch.UserInput
	if userInput == "" {
		userInput = st.LastUserText()
	}

	keywords := s.extractKeywords(ctx, userInput)

	queries := append([]string{userInput}, keywords...)
	interestTags, skillTags, err := s.retrieveTags(ctx, queries, tagQueryTopK)
	if err != nil {
		// Tag resolution is best effort; the semantic and keyword
		// tracks still run without it.
		s.log.Warn("tag retrieval failed", "error", err)
	}

	return &graph.Delta{
		Scratch: &graph.ScratchPatch{
			UserInput:    &userInput,
			Keywords:     keywords,
			InterestIDs:  tagIDs(interestTags),
			SkillIDs:     tagIDs(skillTags),
			InterestTags: interestTags,
			SkillTags:    skillTags,
		},
	}, nil
}

func (s *Service) extractKeywords(ctx context.Context, userInput string) []string {
	out, err := s.llm.GenerateJSON(ctx, keywordExtractionSystemPrompt,
		"User description: "+userInput, "keyword_extraction", keywordSchema)
	if err != nil {
		s.log.Warn("keyword extraction failed", "error", err)
		return nil
	}
	raw, _ := out["keywords"].([]any)
	var keywords []string
	for _, v := range raw {
		if kw, ok := v.(string); ok && strings.TrimSpace(kw) != "" {
			keywords = append(keywords, strings.TrimSpace(kw))
		}
	}
	if len(keywords) > 5 {
		keywords = keywords[:5]
	}
	return keywords
}

// retrieveTags embeds the queries once and matches them against both
// tag collections, keeping each tag's best score across queries.
func (s *Service) retrieveTags(ctx context.Context, queries []string, topK int) (interest, skill []domain.TagRef, err error) {
	var clean []string
	for _, q := range queries {
		if strings.TrimSpace(q) != "" {
			clean = append(clean, q)
		}
	}
	if len(clean) == 0 {
		return nil, nil, nil
	}

	embeddings, err := s.llm.Embed(ctx, clean)
	if err != nil {
		return nil, nil, fmt.Errorf("embed tag queries: %w", err)
	}

	interestBest := map[int64]domain.TagRef{}
	skillBest := map[int64]domain.TagRef{}
	for _, emb := range embeddings {
		if err := s.matchTags(ctx, interestTagCollection, emb, topK, interestBest); err != nil {
			return nil, nil, err
		}
		if err := s.matchTags(ctx, skillTagCollection, emb, topK, skillBest); err != nil {
			return nil, nil, err
		}
	}
	return topTagRefs(interestBest, maxTagRefs), topTagRefs(skillBest, maxTagRefs), nil
}

func (s *Service) matchTags(ctx context.Context, collection string, emb []float32, topK int, best map[int64]domain.TagRef) error {
	matches, err := s.vectors.Query(ctx, collection, emb, topK, nil)
	if err != nil {
		return fmt.Errorf("query %s: %w", collection, err)
	}
	for _, m := range matches {
		id, perr := strconv.ParseInt(m.ID, 10, 64)
		if perr != nil {
			continue
		}
		name, _ := m.Payload["name"].(string)
		if cur, ok := best[id]; !ok || m.Score > cur.Score {
			best[id] = domain.TagRef{ID: id, Name: name, Score: m.Score}
		}
	}
	return nil
}

func topTagRefs(best map[int64]domain.TagRef, limit int) []domain.TagRef {
	refs := make([]domain.TagRef, 0, len(best))
	for _, r := range best {
		refs = append(refs, r)
	}
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].Score != refs[j].Score {
			return refs[i].Score > refs[j].Score
		}
		return refs[i].ID < refs[j].ID
	})
	if len(refs) > limit {
		refs = refs[:limit]
	}
	return refs
}

func tagIDs(refs []domain.TagRef) []int64 {
	ids := make([]int64, 0, len(refs))
	for _, r := range refs {
		ids = append(ids, r.ID)
	}
	return ids
}

// The three recall tracks run as parallel fan-out branches, each
// writing its own scratch field. A failing track contributes an empty
// candidate list instead of aborting the run; the other tracks still
// feed the fusion.

func (s *Service) tagTrackStep(ctx context.Context, st *domain.ConversationState) (*graph.Delta, error) {
	cands, err := s.engine.TagTrack(ctx, st.Scratch.InterestIDs, st.Scratch.SkillIDs)
	if err != nil {
		s.log.Warn("tag track failed", "thread_id", st.ThreadID, "error", err)
		cands = nil
	}
	if cands == nil {
		cands = []domain.Candidate{}
	}
	return &graph.Delta{Scratch: &graph.ScratchPatch{TagCandidates: cands}}, nil
}

func (s *Service) semanticTrackStep(ctx context.Context, st *domain.ConversationState) (*graph.Delta, error) {
	cands, err := s.engine.SemanticTrack(ctx, st.Scratch.UserInput)
	if err != nil {
		s.log.Warn("semantic track failed", "thread_id", st.ThreadID, "error", err)
		cands = nil
	}
	if cands == nil {
		cands = []domain.Candidate{}
	}
	return &graph.Delta{Scratch: &graph.ScratchPatch{SemanticCandidates: cands}}, nil
}

func (s *Service) keywordTrackStep(ctx context.Context, st *domain.ConversationState) (*graph.Delta, error) {
	cands, err := s.engine.KeywordTrack(ctx, st.Scratch.Keywords)
	if err != nil {
		s.log.Warn("keyword track failed", "thread_id", st.ThreadID, "error", err)
		cands = nil
	}
	if cands == nil {
		cands = []domain.Candidate{}
	}
	return &graph.Delta{Scratch: &graph.ScratchPatch{KeywordCandidates: cands}}, nil
}

func (s *Service) rerankStep(ctx context.Context, st *domain.ConversationState) (*graph.Delta, error) {
	ranked := retrieval.Fuse(st.Scratch.TagCandidates, st.Scratch.SemanticCandidates, st.Scratch.KeywordCandidates)
	if ranked == nil {
		ranked = []domain.Candidate{}
	}
	return &graph.Delta{Scratch: &graph.ScratchPatch{Ranked: ranked}}, nil
}

type rankedProjectJSON struct {
	ID            int64   `json:"id"`
	Title         string  `json:"title"`
	Status        string  `json:"status"`
	Description   string  `json:"description"`
	FinalScore    float64 `json:"final_score"`
	TagScore      float64 `json:"tag_score,omitempty"`
	SemanticScore float64 `json:"semantic_score,omitempty"`
	KeywordScore  float64 `json:"keyword_score,omitempty"`
}

// reasoningStep asks the model to pick the final slate from the ranked
// candidates. With nothing ranked there is nothing to reason about and
// the step leaves the output empty for summarize to apologize over.
func (s *Service) reasoningStep(ctx context.Context, st *domain.ConversationState) (*graph.Delta, error) {
	if len(st.Scratch.Ranked) == 0 {
		empty := ""
		return &graph.Delta{Scratch: &graph.ScratchPatch{ReasoningOutput: &empty}}, nil
	}

	projects := make([]rankedProjectJSON, 0, len(st.Scratch.Ranked))
	for _, c := range st.Scratch.Ranked {
		projects = append(projects, rankedProjectJSON{
			ID:            c.ID,
			Title:         c.Title,
			Status:        c.Status,
			Description:   truncateRunes(c.Description, 500),
			FinalScore:    c.FusedScore,
			TagScore:      c.TagScore,
			SemanticScore: c.SemanticScore,
			KeywordScore:  c.KeywordScore,
		})
	}
	projectsJSON, err := json.Marshal(projects)
	if err != nil {
		return nil, fmt.Errorf("marshal ranked candidates: %w", err)
	}
	tagsJSON, err := json.Marshal(map[string]any{
		"interest_tags": st.Scratch.InterestTags,
		"skill_tags":    st.Scratch.SkillTags,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal analyzed tags: %w", err)
	}

	user := fmt.Sprintf(
		"User Input:\n%s\n\nAnalyzed Tags:\n%s\n\nRanked Candidates:\n%s\n请严格按照 System Prompt 中的格式要求输出，务必包含 <thinking> 标签和 JSON 代码块。请使用中文进行思考和输出。",
		st.Scratch.UserInput, string(tagsJSON), string(projectsJSON))

	out, err := s.llm.GenerateText(ctx, reasoningSystemPrompt, user, llm.Options{Temperature: 0.2})
	if err != nil {
		// An empty output leaves the profile slate empty and routes
		// summarize to the apology reply.
		s.log.Warn("reasoning generation failed", "thread_id", st.ThreadID, "error", err)
		out = ""
	}
	return &graph.Delta{Scratch: &graph.ScratchPatch{ReasoningOutput: &out}}, nil
}

type reasoningResult struct {
	InterestTags          []domain.TagRef `json:"interest_tags"`
	SkillTags             []domain.TagRef `json:"skill_tags"`
	Summary               string          `json:"summary"`
	RecommendationSummary string          `json:"recommendation_summary"`
	RecommendedProjects   []struct {
		ID          int64  `json:"id"`
		Title       string `json:"title"`
		Status      string `json:"status"`
		MatchReason string `json:"match_reason"`
	} `json:"recommended_projects"`
}

// parseReasoningStep turns the model's fenced JSON into the thread
// profile. The profile is replaced wholesale on every recommendation
// run, including a failed parse, so a stale slate never leaks into the
// next turn's router context.
func (s *Service) parseReasoningStep(ctx context.Context, st *domain.ConversationState) (*graph.Delta, error) {
	profile := &domain.Profile{}

	if raw := extractJSONBlock(st.Scratch.ReasoningOutput); raw != "" {
		var res reasoningResult
		if err := json.Unmarshal([]byte(raw), &res); err != nil {
			s.log.Warn("reasoning output parse failed", "error", err)
		} else {
			profile.InterestTags = res.InterestTags
			profile.SkillTags = res.SkillTags
			profile.Summary = res.Summary
			if profile.Summary == "" {
				profile.Summary = res.RecommendationSummary
			}
			for _, p := range res.RecommendedProjects {
				profile.RecommendedProjects = append(profile.RecommendedProjects, domain.RecommendedProject{
					ID:     p.ID,
					Title:  p.Title,
					Reason: p.MatchReason,
				})
			}
		}
	}

	// The model may echo fewer tags than were analyzed; fall back to
	// the analyzed set so the profile is never emptier than the run.
	if len(profile.InterestTags) == 0 {
		profile.InterestTags = st.Scratch.InterestTags
	}
	if len(profile.SkillTags) == 0 {
		profile.SkillTags = st.Scratch.SkillTags
	}

	return &graph.Delta{Profile: profile}, nil
}

// summarizeStep renders the final user-facing recommendation message.
func (s *Service) summarizeStep(ctx context.Context, st *domain.ConversationState) (*graph.Delta, error) {
	if st.Profile == nil || len(st.Profile.RecommendedProjects) == 0 {
		return &graph.Delta{
			AppendMessages: []domain.Message{{Role: domain.RoleAssistant, Content: emptyRecommendationReply}},
		}, nil
	}

	data, err := json.Marshal(st.Profile)
	if err != nil {
		return nil, fmt.Errorf("marshal profile: %w", err)
	}
	user := fmt.Sprintf("User Request: %s\nRecommendation Data (JSON): %s", st.Scratch.UserInput, string(data))

	reply, err := s.llm.GenerateText(ctx, summarySystemPrompt, user, llm.Options{Temperature: 0.7})
	if err != nil {
		s.log.Warn("recommendation summary failed", "thread_id", st.ThreadID, "error", err)
		reply = serviceBusyReply
	}
	return &graph.Delta{
		AppendMessages: []domain.Message{{Role: domain.RoleAssistant, Content: reply}},
	}, nil
}

var jsonBlockPattern = regexp.MustCompile("(?s)```json\\s*(\\{.*?\\})\\s*```")

// extractJSONBlock pulls the fenced JSON object out of a reasoning
// response, falling back to the outermost brace pair when the model
// skipped the fence.
func extractJSONBlock(out string) string {
	if m := jsonBlockPattern.FindStringSubmatch(out); m != nil {
		return m[1]
	}
	start := strings.Index(out, "{")
	end := strings.LastIndex(out, "}")
	if start >= 0 && end > start {
		return out[start : end+1]
	}
	return ""
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
