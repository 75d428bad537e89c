package agent

import (
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/yungbote/projectmatch-backend/internal/clients/llm"
	"github.com/yungbote/projectmatch-backend/internal/clients/vector"
	"github.com/yungbote/projectmatch-backend/internal/data/repos/requirement"
	"github.com/yungbote/projectmatch-backend/internal/domain"
	"github.com/yungbote/projectmatch-backend/internal/graph"
	"github.com/yungbote/projectmatch-backend/internal/pkg/logger"
	"github.com/yungbote/projectmatch-backend/internal/retrieval"
)

// Step names of the conversation graph. The router writes one of the
// dispatch targets into NextStep; everything after prep_recommend is
// the recommendation pipeline.
const (
	stepRoute     = "route"
	stepChat      = "chat"
	stepPrep      = "prep_recommend"
	stepTagTrack  = "tag_track"
	stepSemTrack  = "semantic_track"
	stepKwTrack   = "keyword_track"
	stepRerank    = "rerank"
	stepReasoning = "reasoning"
	stepParse     = "parse_reasoning"
	stepSummarize = "summarize"
	stepProjectQA = "project_qa"
	stepPublish   = "publish_bridge"
	stepToolExec  = "publish_tool_exec"
	stepIngest    = "ingest_document"
)

// Vector collections the agent queries directly. The recommendation
// engine owns the project embedding collection.
const (
	interestTagCollection = "student_interests"
	skillTagCollection    = "student_skills"
	projectCollection     = "project_embeddings"
)

// maxToolRounds bounds the publish flow's model/tool loop within a
// single turn.
const maxToolRounds = 6

// Service owns the conversation steps and their dependencies. Compile
// assembles them into the runnable graph.
type Service struct {
	log     *logger.Logger
	llm     llm.Client
	engine  *retrieval.Engine
	vectors vector.Store
	reqRepo requirement.Repo
	db      *gorm.DB
}

func NewService(
	log *logger.Logger,
	llmClient llm.Client,
	engine *retrieval.Engine,
	vectors vector.Store,
	reqRepo requirement.Repo,
	db *gorm.DB,
) (*Service, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if llmClient == nil {
		return nil, fmt.Errorf("llm client required")
	}
	if engine == nil {
		return nil, fmt.Errorf("retrieval engine required")
	}
	if vectors == nil {
		return nil, fmt.Errorf("vector store required")
	}
	if reqRepo == nil {
		return nil, fmt.Errorf("requirement repo required")
	}
	return &Service{
		log:     log.With("service", "AgentService"),
		llm:     llmClient,
		engine:  engine,
		vectors: vectors,
		reqRepo: reqRepo,
		db:      db,
	}, nil
}

// Compile builds the conversation graph. The router dispatches to one
// of four flows; the recommendation flow fans out into the three
// recall tracks and joins at rerank; the publish flow loops between
// the model step and the tool executor until no tool is pending.
func (s *Service) Compile() (*graph.Graph, error) {
	b := graph.New("conversation", s.log)

	b.AddStep(stepRoute, s.routeStep)
	b.AddStep(stepChat, s.chatStep)
	b.AddStep(stepPrep, s.prepRecommendStep)
	b.AddStep(stepTagTrack, s.tagTrackStep)
	b.AddStep(stepSemTrack, s.semanticTrackStep)
	b.AddStep(stepKwTrack, s.keywordTrackStep)
	b.AddStep(stepRerank, s.rerankStep)
	b.AddStep(stepReasoning, s.reasoningStep)
	b.AddStep(stepParse, s.parseReasoningStep)
	b.AddStep(stepSummarize, s.summarizeStep)
	b.AddStep(stepProjectQA, s.projectQAStep)
	b.AddStep(stepPublish, s.publishBridgeStep)
	b.AddStep(stepToolExec, s.toolExecStep)
	b.AddStep(stepIngest, s.ingestDocumentStep)

	b.SetEntryPoint(stepRoute)
	b.AddConditionalEdges(stepRoute, func(st *domain.ConversationState) string {
		if st.NextStep == "" {
			return stepChat
		}
		return st.NextStep
	})

	b.AddEdge(stepChat, graph.End)

	b.AddFanOut(stepPrep, []string{stepTagTrack, stepSemTrack, stepKwTrack}, stepRerank)
	b.AddEdge(stepRerank, stepReasoning)
	b.AddEdge(stepReasoning, stepParse)
	b.AddEdge(stepParse, stepSummarize)
	b.AddEdge(stepSummarize, graph.End)

	b.AddEdge(stepProjectQA, graph.End)

	b.AddConditionalEdges(stepPublish, func(st *domain.ConversationState) string {
		if st.Scratch.Pending != nil {
			return stepToolExec
		}
		return graph.End
	})
	b.AddEdge(stepToolExec, stepPublish)

	b.AddEdge(stepIngest, stepPublish)

	return b.Compile()
}

// renderHistory flattens the most recent turns into a transcript for
// prompts that have no native message-array input.
func renderHistory(msgs []domain.Message, limit int) string {
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	var sb strings.Builder
	for _, m := range msgs {
		text := m.Text()
		if text == "" {
			continue
		}
		switch m.Role {
		case domain.RoleUser:
			sb.WriteString("用户：")
		case domain.RoleAssistant:
			sb.WriteString("助手：")
		default:
			sb.WriteString(m.Role + "：")
		}
		sb.WriteString(text)
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}
