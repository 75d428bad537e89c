package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/yungbote/projectmatch-backend/internal/domain"
	"github.com/yungbote/projectmatch-backend/internal/graph"
)

// Intents returned by the router model.
const (
	intentRecommend = "RECOMMEND"
	intentProjectQA = "PROJECT_QA"
	intentPublish   = "PUBLISH"
	intentChat      = "CHAT"
)

var projectIDPattern = regexp.MustCompile(`(\d{3,})`)

var routerSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"intent": map[string]any{
			"type": "string",
			"enum": []string{intentRecommend, intentProjectQA, intentPublish, intentChat},
		},
		"target_id": map[string]any{"type": "integer"},
	},
	"required":             []string{"intent", "target_id"},
	"additionalProperties": false,
}

// routeStep classifies the latest user message and writes the dispatch
// target into NextStep. Turns carrying a document block skip the model
// and go straight to ingestion; a turn arriving mid publish-draft stays
// in the publish flow unless the model says otherwise.
func (s *Service) routeStep(ctx context.Context, st *domain.ConversationState) (*graph.Delta, error) {
	userText := st.LastUserText()

	if _, _, ok := lastUserDocument(st); ok {
		return &graph.Delta{
			NextStep: graph.StrPtr(stepIngest),
			Scratch:  &graph.ScratchPatch{UserInput: &userText},
		}, nil
	}

	intent, targetID := s.classify(ctx, st, userText)

	// Resume an in-flight draft unless the user clearly switched flows.
	if intent == intentChat && (st.Scratch.DraftID != 0 || !st.Scratch.Draft.Empty()) {
		intent = intentPublish
	}

	delta := &graph.Delta{Scratch: &graph.ScratchPatch{UserInput: &userText}}
	switch intent {
	case intentRecommend:
		delta.NextStep = graph.StrPtr(stepPrep)
	case intentProjectQA:
		if targetID == 0 {
			if m := projectIDPattern.FindStringSubmatch(userText); m != nil {
				targetID, _ = strconv.ParseInt(m[1], 10, 64)
			}
		}
		if targetID != 0 {
			delta.TargetProjectID = &targetID
		}
		delta.NextStep = graph.StrPtr(stepProjectQA)
	case intentPublish:
		delta.NextStep = graph.StrPtr(stepPublish)
	default:
		delta.NextStep = graph.StrPtr(stepChat)
	}
	return delta, nil
}

func (s *Service) classify(ctx context.Context, st *domain.ConversationState, userText string) (string, int64) {
	user := fmt.Sprintf("Context:\n%s\n\nUser Message: %s", routerContext(st), userText)

	out, err := s.llm.GenerateJSON(ctx, routerSystemPrompt, user, "intent_classification", routerSchema)
	if err != nil {
		s.log.Warn("intent classification failed, using marker fallback", "error", err)
		return fallbackIntent(userText), 0
	}

	intent := strings.ToUpper(strings.TrimSpace(jsonString(out, "intent")))
	switch intent {
	case intentRecommend, intentProjectQA, intentPublish:
	default:
		intent = intentChat
	}
	return intent, jsonInt64(out, "target_id")
}

// routerContext tells the classifier whether the thread already holds
// a recommendation slate, so ordinal references ("第一个项目") can be
// resolved to ids.
func routerContext(st *domain.ConversationState) string {
	if st.Profile == nil || len(st.Profile.RecommendedProjects) == 0 {
		return "Has the user already received recommendations? No"
	}
	var sb strings.Builder
	sb.WriteString("Has the user already received recommendations? Yes\n")
	sb.WriteString("Current recommendation list (in order):\n")
	for i, p := range st.Profile.RecommendedProjects {
		fmt.Fprintf(&sb, "%d. [ID: %d] %s\n", i+1, p.ID, p.Title)
	}
	return strings.TrimRight(sb.String(), "\n")
}

// fallbackIntent is the marker-based classification used when the
// model call fails. It only needs to catch the unambiguous cases; the
// default is chat.
func fallbackIntent(text string) string {
	if strings.Contains(text, "发布") {
		return intentPublish
	}
	if strings.Contains(text, "推荐") || strings.Contains(text, "找项目") || strings.Contains(text, "找个项目") {
		return intentRecommend
	}
	if projectIDPattern.MatchString(text) {
		return intentProjectQA
	}
	return intentChat
}

func lastUserDocument(st *domain.ConversationState) (text string, name string, ok bool) {
	for i := len(st.Messages) - 1; i >= 0; i-- {
		if st.Messages[i].Role == domain.RoleUser {
			return st.Messages[i].DocumentText()
		}
	}
	return "", "", false
}

// jsonString and jsonInt64 read loosely-typed structured output
// fields; numbers arrive as json.Number or float64 depending on the
// decoder path.
func jsonString(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func jsonInt64(m map[string]any, key string) int64 {
	switch v := m[key].(type) {
	case float64:
		return int64(v)
	case json.Number:
		n, _ := v.Int64()
		return n
	case string:
		n, _ := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		return n
	case int64:
		return v
	case int:
		return int64(v)
	}
	return 0
}
