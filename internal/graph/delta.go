package graph

import (
	"github.com/yungbote/projectmatch-backend/internal/domain"
)

// Delta is a step's declared set of state updates. Message deltas
// append; every other field overwrites when set. Steps never mutate
// the state they are handed, so parallel branches stay independent
// until the join applies their deltas.
type Delta struct {
	AppendMessages  []domain.Message
	NextStep        *string
	Profile         *domain.Profile
	TargetProjectID *int64
	Scratch         *ScratchPatch
}

// ScratchPatch updates individual scratch fields. Nil fields are
// untouched; slice fields replace the existing value wholesale.
type ScratchPatch struct {
	UserInput          *string
	Keywords           []string
	InterestIDs        []int64
	SkillIDs           []int64
	InterestTags       []domain.TagRef
	SkillTags          []domain.TagRef
	TagCandidates      []domain.Candidate
	SemanticCandidates []domain.Candidate
	KeywordCandidates  []domain.Candidate
	Ranked             []domain.Candidate
	ReasoningOutput    *string
	Draft              *domain.DraftFields
	DraftID            *int64
	Pending            *domain.PendingAction
	ClearPending       bool
	ToolRounds         *int
	SavedID            *int64
	SuggestedTags      *string
}

// StrPtr is a convenience for steps setting NextStep.
func StrPtr(s string) *string { return &s }

// Apply folds the delta into the state in place.
func (d *Delta) Apply(s *domain.ConversationState) {
	if d == nil || s == nil {
		return
	}
	s.Messages = append(s.Messages, d.AppendMessages...)
	if d.NextStep != nil {
		s.NextStep = *d.NextStep
	}
	if d.Profile != nil {
		s.Profile = d.Profile
	}
	if d.TargetProjectID != nil {
		s.TargetProjectID = *d.TargetProjectID
	}
	if d.Scratch != nil {
		d.Scratch.apply(&s.Scratch)
	}
}

func (p *ScratchPatch) apply(s *domain.Scratch) {
	if p.UserInput != nil {
		s.UserInput = *p.UserInput
	}
	if p.Keywords != nil {
		s.Keywords = p.Keywords
	}
	if p.InterestIDs != nil {
		s.InterestIDs = p.InterestIDs
	}
	if p.SkillIDs != nil {
		s.SkillIDs = p.SkillIDs
	}
	if p.InterestTags != nil {
		s.InterestTags = p.InterestTags
	}
	if p.SkillTags != nil {
		s.SkillTags = p.SkillTags
	}
	if p.TagCandidates != nil {
		s.TagCandidates = p.TagCandidates
	}
	if p.SemanticCandidates != nil {
		s.SemanticCandidates = p.SemanticCandidates
	}
	if p.KeywordCandidates != nil {
		s.KeywordCandidates = p.KeywordCandidates
	}
	if p.Ranked != nil {
		s.Ranked = p.Ranked
	}
	if p.ReasoningOutput != nil {
		s.ReasoningOutput = *p.ReasoningOutput
	}
	if p.Draft != nil {
		s.Draft = *p.Draft
	}
	if p.DraftID != nil {
		s.DraftID = *p.DraftID
	}
	if p.ClearPending {
		s.Pending = nil
	} else if p.Pending != nil {
		s.Pending = p.Pending
	}
	if p.ToolRounds != nil {
		s.ToolRounds = *p.ToolRounds
	}
	if p.SavedID != nil {
		s.SavedID = *p.SavedID
	}
	if p.SuggestedTags != nil {
		s.SuggestedTags = *p.SuggestedTags
	}
}

// writeSet names the overwriting fields the delta touches. Appending
// messages is commutative and excluded.
func (d *Delta) writeSet() []string {
	if d == nil {
		return nil
	}
	var out []string
	if d.NextStep != nil {
		out = append(out, "next_step")
	}
	if d.Profile != nil {
		out = append(out, "profile")
	}
	if d.TargetProjectID != nil {
		out = append(out, "target_project_id")
	}
	if p := d.Scratch; p != nil {
		add := func(set bool, name string) {
			if set {
				out = append(out, "scratch."+name)
			}
		}
		add(p.UserInput != nil, "user_input")
		add(p.Keywords != nil, "keywords")
		add(p.InterestIDs != nil, "interest_ids")
		add(p.SkillIDs != nil, "skill_ids")
		add(p.InterestTags != nil, "interest_tags")
		add(p.SkillTags != nil, "skill_tags")
		add(p.TagCandidates != nil, "tag_candidates")
		add(p.SemanticCandidates != nil, "semantic_candidates")
		add(p.KeywordCandidates != nil, "keyword_candidates")
		add(p.Ranked != nil, "ranked")
		add(p.ReasoningOutput != nil, "reasoning_output")
		add(p.Draft != nil, "draft")
		add(p.DraftID != nil, "draft_id")
		add(p.Pending != nil || p.ClearPending, "pending")
		add(p.ToolRounds != nil, "tool_rounds")
		add(p.SavedID != nil, "saved_id")
		add(p.SuggestedTags != nil, "suggested_tags")
	}
	return out
}
