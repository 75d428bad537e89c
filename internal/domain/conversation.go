package domain

// Message roles carried in a conversation thread.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ContentBlock is one structured part of a multimodal message. Plain
// text turns carry a single text block; document ingest turns carry
// the extracted document text as a document block.
type ContentBlock struct {
	Type     string `json:"type"` // "text" | "document"
	Text     string `json:"text,omitempty"`
	FileName string `json:"file_name,omitempty"`
}

type Message struct {
	Role    string         `json:"role"`
	Content string         `json:"content"`
	Name    string         `json:"name,omitempty"`
	Blocks  []ContentBlock `json:"blocks,omitempty"`
}

// Text returns the textual content of a message, flattening blocks.
func (m Message) Text() string {
	if m.Content != "" {
		return m.Content
	}
	out := ""
	for _, b := range m.Blocks {
		if b.Type == "text" && b.Text != "" {
			if out != "" {
				out += "\n"
			}
			out += b.Text
		}
	}
	return out
}

// DocumentText returns the extracted document text attached to a
// message, if any.
func (m Message) DocumentText() (text string, name string, ok bool) {
	for _, b := range m.Blocks {
		if b.Type == "document" && b.Text != "" {
			return b.Text, b.FileName, true
		}
	}
	return "", "", false
}

// TagRef is a resolved interest or skill tag.
type TagRef struct {
	ID    int64   `json:"id"`
	Name  string  `json:"name"`
	Score float64 `json:"score,omitempty"`
}

// RecommendedProject is one entry of the short-term profile's slate.
type RecommendedProject struct {
	ID     int64  `json:"id"`
	Title  string `json:"title"`
	Reason string `json:"reason,omitempty"`
}

// Profile is the short-term recommendation memory carried across
// turns within a thread. It is overwritten wholesale each time a
// recommendation run completes and is read-only input to chat and QA.
type Profile struct {
	InterestTags        []TagRef             `json:"interest_tags,omitempty"`
	SkillTags           []TagRef             `json:"skill_tags,omitempty"`
	RecommendedProjects []RecommendedProject `json:"recommended_projects,omitempty"`
	Summary             string               `json:"summary,omitempty"`
}

// DraftFields are the structured requirement fields collected by the
// publish flow, either extracted from an ingested document or filled
// in over conversation turns.
type DraftFields struct {
	Title             string `json:"title,omitempty"`
	Brief             string `json:"brief,omitempty"`
	Description       string `json:"description,omitempty"`
	ResearchDirection string `json:"research_direction,omitempty"`
	Skill             string `json:"skill,omitempty"`
	FinishTime        string `json:"finish_time,omitempty"`
	Budget            string `json:"budget,omitempty"`
	SupportProvided   string `json:"support_provided,omitempty"`
}

func (d DraftFields) Empty() bool {
	return d == DraftFields{}
}

// PendingAction is a structured tool invocation emitted by the
// publish flow's model step, executed by a dedicated step, with the
// result looped back into the conversation.
type PendingAction struct {
	Name string         `json:"name"` // "save_requirement" | "recommend_tags"
	Args map[string]any `json:"args,omitempty"`
}

// Scratch holds per-turn working fields. It is reset at the start of
// every run and only the pieces downstream steps need survive a
// checkpoint boundary.
type Scratch struct {
	UserInput string   `json:"user_input,omitempty"`
	Keywords  []string `json:"keywords,omitempty"`

	InterestIDs  []int64  `json:"interest_ids,omitempty"`
	SkillIDs     []int64  `json:"skill_ids,omitempty"`
	InterestTags []TagRef `json:"interest_tags,omitempty"`
	SkillTags    []TagRef `json:"skill_tags,omitempty"`

	TagCandidates      []Candidate `json:"tag_candidates,omitempty"`
	SemanticCandidates []Candidate `json:"semantic_candidates,omitempty"`
	KeywordCandidates  []Candidate `json:"keyword_candidates,omitempty"`
	Ranked             []Candidate `json:"ranked,omitempty"`

	ReasoningOutput string `json:"reasoning_output,omitempty"`

	Draft         DraftFields    `json:"draft,omitempty"`
	DraftID       int64          `json:"draft_id,omitempty"`
	Pending       *PendingAction `json:"pending,omitempty"`
	ToolRounds    int            `json:"tool_rounds,omitempty"`
	SavedID       int64          `json:"saved_id,omitempty"`
	SuggestedTags string         `json:"suggested_tags,omitempty"`
}

// ConversationState is the unit of persistence and the shared state of
// one scheduler run. The scheduler is the single writer for the
// duration of a run; steps contribute Deltas that are merged into it.
type ConversationState struct {
	ThreadID string    `json:"thread_id"`
	Messages []Message `json:"messages"`
	NextStep string    `json:"next_step,omitempty"`

	Profile         *Profile `json:"profile,omitempty"`
	TargetProjectID int64    `json:"target_project_id,omitempty"`

	Scratch Scratch `json:"scratch,omitempty"`
}

// LastUserText returns the text of the most recent user message.
func (s *ConversationState) LastUserText() string {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == RoleUser {
			return s.Messages[i].Text()
		}
	}
	return ""
}

// Clone deep-copies the state. Fan-out branches each run on a clone so
// a branch never observes another branch's writes.
func (s *ConversationState) Clone() *ConversationState {
	if s == nil {
		return nil
	}
	out := *s
	out.Messages = append([]Message(nil), s.Messages...)
	if s.Profile != nil {
		p := *s.Profile
		p.InterestTags = append([]TagRef(nil), s.Profile.InterestTags...)
		p.SkillTags = append([]TagRef(nil), s.Profile.SkillTags...)
		p.RecommendedProjects = append([]RecommendedProject(nil), s.Profile.RecommendedProjects...)
		out.Profile = &p
	}
	sc := s.Scratch
	sc.Keywords = append([]string(nil), s.Scratch.Keywords...)
	sc.InterestIDs = append([]int64(nil), s.Scratch.InterestIDs...)
	sc.SkillIDs = append([]int64(nil), s.Scratch.SkillIDs...)
	sc.InterestTags = append([]TagRef(nil), s.Scratch.InterestTags...)
	sc.SkillTags = append([]TagRef(nil), s.Scratch.SkillTags...)
	sc.TagCandidates = append([]Candidate(nil), s.Scratch.TagCandidates...)
	sc.SemanticCandidates = append([]Candidate(nil), s.Scratch.SemanticCandidates...)
	sc.KeywordCandidates = append([]Candidate(nil), s.Scratch.KeywordCandidates...)
	sc.Ranked = append([]Candidate(nil), s.Scratch.Ranked...)
	if s.Scratch.Pending != nil {
		p := *s.Scratch.Pending
		sc.Pending = &p
	}
	out.Scratch = sc
	return &out
}
