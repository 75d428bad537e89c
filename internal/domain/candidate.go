package domain

import "strings"

// Candidate is one requirement surfaced by a recall track. Candidates
// live only inside a single retrieval run; the chosen slate is folded
// into the short-term profile, never persisted directly.
type Candidate struct {
	ID          int64  `json:"id"`
	Title       string `json:"title"`
	Status      string `json:"status"`
	Description string `json:"description"`

	TagScore      float64 `json:"tag_score,omitempty"`
	SemanticScore float64 `json:"semantic_score,omitempty"`
	KeywordScore  float64 `json:"keyword_score,omitempty"`
	FusedScore    float64 `json:"fused_score,omitempty"`

	Source string `json:"source,omitempty"` // "tag" | "semantic" | "keyword"
}

// Signature returns the content signature used for deduplication:
// lowercased title plus the lowercased first 100 characters of the
// description. Distinct requirement ids can carry duplicate content
// (re-publication, near-duplicate drafts) and must collapse to one
// slate entry.
func (c Candidate) Signature() string {
	desc := strings.TrimSpace(c.Description)
	runes := []rune(desc)
	if len(runes) > 100 {
		desc = string(runes[:100])
	}
	return strings.ToLower(strings.TrimSpace(c.Title)) + "_" + strings.ToLower(desc)
}
