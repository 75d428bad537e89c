package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/yungbote/projectmatch-backend/internal/clients/llm"
	"github.com/yungbote/projectmatch-backend/internal/domain"
	"github.com/yungbote/projectmatch-backend/internal/graph"
)

// chatStep handles greetings and general questions. When the thread
// carries a profile from an earlier recommendation run it is injected
// into the system prompt so follow-up small talk stays grounded in
// what the user was already shown.
func (s *Service) chatStep(ctx context.Context, st *domain.ConversationState) (*graph.Delta, error) {
	system := chatSystemPrompt
	if st.Profile != nil {
		raw, err := json.Marshal(st.Profile)
		if err == nil {
			system = fmt.Sprintf("%s\n\n%s\n%s", chatSystemPrompt, string(raw), chatProfileSuffix)
		}
	}

	user := renderHistory(st.Messages, 10)
	reply, err := s.llm.GenerateText(ctx, system, user, llm.Options{Temperature: 0.7})
	if err != nil {
		// The user always gets a reply; only persistence may fail a turn.
		s.log.Warn("chat completion failed", "thread_id", st.ThreadID, "error", err)
		reply = serviceBusyReply
	}

	return &graph.Delta{
		AppendMessages: []domain.Message{{Role: domain.RoleAssistant, Content: reply}},
	}, nil
}
