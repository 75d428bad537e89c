package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/yungbote/projectmatch-backend/internal/clients/llm"
	"github.com/yungbote/projectmatch-backend/internal/domain"
	"github.com/yungbote/projectmatch-backend/internal/graph"
	"github.com/yungbote/projectmatch-backend/internal/pkg/dbctx"
)

const (
	qaHistoryWindow   = 6
	qaContextDocLimit = 5
	qaChunkChars      = 1500
)

// projectQAStep answers questions about one specific project. Context
// comes from the project's raw documents when any were ingested, and
// falls back to the summary embeddings otherwise.
func (s *Service) projectQAStep(ctx context.Context, st *domain.ConversationState) (*graph.Delta, error) {
	targetID := st.TargetProjectID
	if targetID == 0 {
		return &graph.Delta{
			AppendMessages: []domain.Message{{Role: domain.RoleAssistant, Content: missingTargetIDReply}},
		}, nil
	}

	question := s.condenseQuestion(ctx, st)

	contextText, err := s.projectContext(ctx, targetID, question)
	if err != nil {
		s.log.Warn("project context retrieval failed", "target_id", targetID, "error", err)
		contextText = "(no project documents found)"
	}

	user := fmt.Sprintf(
		"User is asking about Project ID: %d.\n\nContext Information (from project documents):\n%s\n\nUser Question: %s",
		targetID, contextText, question)
	reply, err := s.llm.GenerateText(ctx, projectQASystemPrompt, user, llm.Options{Temperature: 0.3})
	if err != nil {
		s.log.Warn("project qa completion failed", "target_id", targetID, "error", err)
		reply = serviceBusyReply
	}

	return &graph.Delta{
		AppendMessages: []domain.Message{{Role: domain.RoleAssistant, Content: reply}},
	}, nil
}

// condenseQuestion rewrites the latest message as a standalone
// question using the recent history, so follow-ups like "它用什么技术栈"
// retrieve against the full subject. Falls back to the raw message.
func (s *Service) condenseQuestion(ctx context.Context, st *domain.ConversationState) string {
	question := st.Scratch.UserInput
	if question == "" {
		question = st.LastUserText()
	}
	if len(st.Messages) < 2 {
		return question
	}

	history := renderHistory(st.Messages, qaHistoryWindow)
	user := fmt.Sprintf("Conversation history:\n%s\n\nLatest user message: %s", history, question)
	out, err := s.llm.GenerateText(ctx, condenseQuestionSystemPrompt, user, llm.Options{Temperature: 0})
	if err != nil || strings.TrimSpace(out) == "" {
		if err != nil {
			s.log.Warn("question condensing failed", "error", err)
		}
		return question
	}
	return strings.TrimSpace(out)
}

func (s *Service) projectContext(ctx context.Context, targetID int64, question string) (string, error) {
	docs, err := s.reqRepo.RawDocsByRequirement(dbctx.Context{Ctx: ctx}, targetID)
	if err != nil {
		return "", fmt.Errorf("load raw docs: %w", err)
	}
	if len(docs) > 0 {
		var sb strings.Builder
		sb.WriteString("Detailed Documents:\n")
		for i, d := range docs {
			if i >= qaContextDocLimit {
				break
			}
			fmt.Fprintf(&sb, "[%s]\n%s\n\n", d.FileName, truncateRunes(d.Content, qaChunkChars))
		}
		return strings.TrimRight(sb.String(), "\n"), nil
	}

	// No raw documents; fall back to the project summary embeddings.
	embs, err := s.llm.Embed(ctx, []string{question})
	if err != nil {
		return "", fmt.Errorf("embed qa question: %w", err)
	}
	matches, err := s.vectors.Query(ctx, projectCollection, embs[0], qaContextDocLimit,
		map[string]any{"requirement_id": targetID})
	if err != nil {
		return "", fmt.Errorf("query project summaries: %w", err)
	}
	if len(matches) == 0 {
		return "(no project documents found)", nil
	}

	var sb strings.Builder
	sb.WriteString("Project Summary:\n")
	for _, m := range matches {
		if content, ok := m.Payload["content"].(string); ok && content != "" {
			sb.WriteString(truncateRunes(content, qaChunkChars))
			sb.WriteString("\n\n")
		}
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}
