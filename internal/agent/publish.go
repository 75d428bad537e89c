package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/yungbote/projectmatch-backend/internal/clients/llm"
	"github.com/yungbote/projectmatch-backend/internal/domain"
	"github.com/yungbote/projectmatch-backend/internal/graph"
	"github.com/yungbote/projectmatch-backend/internal/pkg/dbctx"
)

const (
	toolSaveRequirement = "save_requirement"
	toolRecommendTags   = "recommend_tags"
	toolNone            = "none"

	briefRuneLimit = 100
)

var publisherSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"reply": map[string]any{"type": "string"},
		"tool": map[string]any{
			"type": "string",
			"enum": []string{toolNone, toolSaveRequirement, toolRecommendTags},
		},
		"status":             map[string]any{"type": "string"},
		"title":              map[string]any{"type": "string"},
		"brief":              map[string]any{"type": "string"},
		"description":        map[string]any{"type": "string"},
		"research_direction": map[string]any{"type": "string"},
		"skill":              map[string]any{"type": "string"},
		"finish_time":        map[string]any{"type": "string"},
		"budget":             map[string]any{"type": "string"},
		"support_provided":   map[string]any{"type": "string"},
	},
	"required": []string{
		"reply", "tool", "status", "title", "brief", "description",
		"research_direction", "skill", "finish_time", "budget", "support_provided",
	},
	"additionalProperties": false,
}

// publishBridgeStep is the model half of the publish loop. It carries
// the draft as context, merges whatever fields the model filled in
// back into the draft, and emits a pending tool call when the model
// requested one. The executor step loops control back here after each
// tool, bounded by maxToolRounds per turn.
func (s *Service) publishBridgeStep(ctx context.Context, st *domain.ConversationState) (*graph.Delta, error) {
	system := fmt.Sprintf("%s\n\n### 已知需求信息：\n%s", publisherSystemPrompt, renderDraft(st.Scratch.Draft))
	if st.Scratch.SuggestedTags != "" {
		system += "\n\n### 本轮已推荐的标签：\n" + st.Scratch.SuggestedTags
	}
	if st.Scratch.SavedID != 0 {
		system += fmt.Sprintf("\n\n### 本轮已保存的需求ID：%d", st.Scratch.SavedID)
	}

	user := renderHistory(st.Messages, 12)
	out, err := s.llm.GenerateJSON(ctx, system, user, "publisher_turn", publisherSchema)
	if err != nil {
		// The draft survives in scratch; the user can retry next turn.
		s.log.Warn("publisher completion failed", "thread_id", st.ThreadID, "error", err)
		return &graph.Delta{
			AppendMessages: []domain.Message{{Role: domain.RoleAssistant, Content: serviceBusyReply}},
			Scratch:        &graph.ScratchPatch{ClearPending: true},
		}, nil
	}

	draft := mergeDraft(st.Scratch.Draft, out)
	delta := &graph.Delta{
		Scratch: &graph.ScratchPatch{Draft: &draft, ClearPending: true},
	}
	if reply := strings.TrimSpace(jsonString(out, "reply")); reply != "" {
		delta.AppendMessages = []domain.Message{{Role: domain.RoleAssistant, Content: reply}}
	}

	tool := jsonString(out, "tool")
	if tool != toolNone && tool != "" {
		if st.Scratch.ToolRounds >= maxToolRounds {
			s.log.Warn("tool round limit reached, ignoring tool request",
				"tool", tool, "thread_id", st.ThreadID)
			return delta, nil
		}
		delta.Scratch.ClearPending = false
		delta.Scratch.Pending = &domain.PendingAction{
			Name: tool,
			Args: map[string]any{"status": jsonString(out, "status")},
		}
	}
	return delta, nil
}

// toolExecStep runs the pending tool and feeds its result back into
// the conversation as a tool message.
func (s *Service) toolExecStep(ctx context.Context, st *domain.ConversationState) (*graph.Delta, error) {
	pending := st.Scratch.Pending
	if pending == nil {
		return nil, fmt.Errorf("tool executor reached with no pending action")
	}
	rounds := st.Scratch.ToolRounds + 1

	switch pending.Name {
	case toolSaveRequirement:
		id, err := s.saveRequirement(ctx, st, jsonString(pending.Args, "status"))
		if err != nil {
			return nil, fmt.Errorf("save requirement: %w", err)
		}
		return &graph.Delta{
			AppendMessages: []domain.Message{{
				Role:    domain.RoleTool,
				Name:    toolSaveRequirement,
				Content: fmt.Sprintf("Requirement saved successfully. ID: %d", id),
			}},
			Scratch: &graph.ScratchPatch{
				ClearPending: true,
				ToolRounds:   &rounds,
				SavedID:      &id,
				DraftID:      &id,
			},
		}, nil

	case toolRecommendTags:
		result, interest, skill := s.recommendTags(ctx, st.Scratch.Draft)
		delta := &graph.Delta{
			AppendMessages: []domain.Message{{
				Role:    domain.RoleTool,
				Name:    toolRecommendTags,
				Content: result,
			}},
			Scratch: &graph.ScratchPatch{
				ClearPending:  true,
				ToolRounds:    &rounds,
				SuggestedTags: &result,
			},
		}
		if len(interest) > 0 {
			delta.Scratch.InterestTags = interest
		}
		if len(skill) > 0 {
			delta.Scratch.SkillTags = skill
		}
		return delta, nil

	default:
		return nil, fmt.Errorf("unknown tool %q", pending.Name)
	}
}

// saveRequirement normalizes the draft and persists it with the
// confirmed tags in one transaction.
func (s *Service) saveRequirement(ctx context.Context, st *domain.ConversationState, status string) (int64, error) {
	draft := st.Scratch.Draft
	if strings.TrimSpace(draft.Title) == "" {
		return 0, fmt.Errorf("draft has no title")
	}

	description := draft.Description
	if draft.ResearchDirection != "" && !strings.Contains(description, draft.ResearchDirection) {
		description += "\n\n【研究方向】\n" + draft.ResearchDirection
	}
	if draft.Skill != "" && !strings.Contains(description, draft.Skill) {
		description += "\n\n【技术栈】\n" + draft.Skill
	}

	brief := strings.TrimSpace(draft.Brief)
	if brief == "" {
		brief = truncateRunes(strings.TrimSpace(draft.Description), briefRuneLimit)
	}

	switch status {
	case domain.StatusDraft, domain.StatusUnderReview:
	default:
		status = domain.StatusUnderReview
	}

	req := &domain.Requirement{
		Title:             strings.TrimSpace(draft.Title),
		Brief:             brief,
		Description:       description,
		ResearchDirection: draft.ResearchDirection,
		Skill:             draft.Skill,
		FinishTime:        draft.FinishTime,
		Budget:            normalizeBudget(draft.Budget),
		SupportProvided:   draft.SupportProvided,
		Status:            status,
	}

	persist := func(dbc dbctx.Context) error {
		if err := s.reqRepo.Create(dbc, req); err != nil {
			return err
		}
		if len(st.Scratch.InterestTags) > 0 {
			if err := s.reqRepo.ReplaceInterestTags(dbc, req.ID, st.Scratch.InterestTags); err != nil {
				return err
			}
		}
		if len(st.Scratch.SkillTags) > 0 {
			if err := s.reqRepo.ReplaceSkillTags(dbc, req.ID, st.Scratch.SkillTags); err != nil {
				return err
			}
		}
		return nil
	}

	var err error
	if s.db != nil {
		err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return persist(dbctx.Context{Ctx: ctx, Tx: tx})
		})
	} else {
		err = persist(dbctx.Context{Ctx: ctx})
	}
	if err != nil {
		return 0, err
	}

	s.log.Info("requirement saved",
		"requirement_id", req.ID, "status", req.Status, "thread_id", st.ThreadID)
	return req.ID, nil
}

type tagSelection struct {
	InterestTags []domain.TagRef `json:"interest_tags"`
	SkillTags    []domain.TagRef `json:"skill_tags"`
	Summary      string          `json:"summary"`
}

// recommendTags matches the draft against the tag collections, then
// has the model pick the final interest and skill tags from those
// candidates. Failures degrade to an apology string; the publish loop
// keeps going either way.
func (s *Service) recommendTags(ctx context.Context, draft domain.DraftFields) (string, []domain.TagRef, []domain.TagRef) {
	queryText := strings.TrimSpace(draft.Title + "\n" + draft.Description + "\n" + draft.ResearchDirection + "\n" + draft.Skill)
	if queryText == "" {
		return "抱歉，当前草稿内容不足，无法推荐标签。", nil, nil
	}

	interest, skill, err := s.retrieveTags(ctx, []string{queryText}, 10)
	if err != nil || (len(interest) == 0 && len(skill) == 0) {
		if err != nil {
			s.log.Warn("tag candidate retrieval failed", "error", err)
		}
		return "抱歉，标签推荐失败，请稍后重试。", nil, nil
	}

	user := fmt.Sprintf("Requirement Details:\n%s\n\nAvailable Tags:\n%s",
		queryText, renderTagCandidates(interest, skill))
	out, err := s.llm.GenerateText(ctx, tagRecommendationSystemPrompt, user, llm.Options{Temperature: 0.2})
	if err != nil {
		s.log.Warn("tag recommendation completion failed", "error", err)
		return "抱歉，标签推荐失败，请稍后重试。", nil, nil
	}

	var sel tagSelection
	if raw := extractJSONBlock(out); raw != "" {
		if uerr := json.Unmarshal([]byte(raw), &sel); uerr != nil {
			s.log.Warn("tag selection parse failed", "error", uerr)
		}
	}
	if len(sel.InterestTags) == 0 && len(sel.SkillTags) == 0 {
		// Model output unusable; fall back to the raw candidates.
		sel.InterestTags = interest
		sel.SkillTags = skill
	}

	var sb strings.Builder
	sb.WriteString("推荐标签如下：\n兴趣标签：")
	sb.WriteString(renderTagNames(sel.InterestTags))
	sb.WriteString("\n技能标签：")
	sb.WriteString(renderTagNames(sel.SkillTags))
	if sel.Summary != "" {
		sb.WriteString("\n")
		sb.WriteString(sel.Summary)
	}
	return sb.String(), sel.InterestTags, sel.SkillTags
}

// mergeDraft overlays the model's non-empty field values onto the
// existing draft. The model is told to echo all known fields, but an
// omitted value must never erase one already collected.
func mergeDraft(base domain.DraftFields, out map[string]any) domain.DraftFields {
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(jsonString(out, key)); v != "" {
			*dst = v
		}
	}
	set(&base.Title, "title")
	set(&base.Brief, "brief")
	set(&base.Description, "description")
	set(&base.ResearchDirection, "research_direction")
	set(&base.Skill, "skill")
	set(&base.FinishTime, "finish_time")
	set(&base.Budget, "budget")
	set(&base.SupportProvided, "support_provided")
	return base
}

func renderDraft(d domain.DraftFields) string {
	if d.Empty() {
		return "无"
	}
	field := func(v string) string {
		if strings.TrimSpace(v) == "" {
			return "无"
		}
		return v
	}
	return strings.Join([]string{
		"标题: " + field(d.Title),
		"简介: " + field(d.Brief),
		"详细描述: " + field(d.Description),
		"研究方向: " + field(d.ResearchDirection),
		"技术栈: " + field(d.Skill),
		"完成时间: " + field(d.FinishTime),
		"预算: " + field(d.Budget),
		"可提供的支持: " + field(d.SupportProvided),
	}, "\n")
}

func renderTagCandidates(interest, skill []domain.TagRef) string {
	var sb strings.Builder
	sb.WriteString("Matched Interest Tags:\n")
	for _, t := range interest {
		fmt.Fprintf(&sb, "[ID: %d] Name: %s (Score: %.4f)\n", t.ID, t.Name, t.Score)
	}
	sb.WriteString("\nMatched Skill Tags:\n")
	for _, t := range skill {
		fmt.Fprintf(&sb, "[ID: %d] Name: %s (Score: %.4f)\n", t.ID, t.Name, t.Score)
	}
	return strings.TrimRight(sb.String(), "\n")
}

func renderTagNames(tags []domain.TagRef) string {
	if len(tags) == 0 {
		return "（无）"
	}
	names := make([]string, 0, len(tags))
	for _, t := range tags {
		names = append(names, fmt.Sprintf("%s (ID: %d)", t.Name, t.ID))
	}
	return strings.Join(names, "、")
}

// normalizeBudget keeps the numeric part of a budget answer; the unit
// is 万元 by convention.
func normalizeBudget(budget string) string {
	b := strings.TrimSpace(budget)
	b = strings.ReplaceAll(b, "万元", "")
	b = strings.ReplaceAll(b, "元", "")
	b = strings.ReplaceAll(b, "万", "")
	return strings.TrimSpace(b)
}
