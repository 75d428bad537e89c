package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/projectmatch-backend/internal/agent"
	"github.com/yungbote/projectmatch-backend/internal/domain"
	"github.com/yungbote/projectmatch-backend/internal/http/response"
	"github.com/yungbote/projectmatch-backend/internal/pkg/ctxutil"
	"github.com/yungbote/projectmatch-backend/internal/pkg/errs"
	"github.com/yungbote/projectmatch-backend/internal/pkg/logger"
)

type AgentHandler struct {
	log    *logger.Logger
	runner *agent.Runner
}

func NewAgentHandler(log *logger.Logger, runner *agent.Runner) *AgentHandler {
	return &AgentHandler{
		log:    log.With("handler", "AgentHandler"),
		runner: runner,
	}
}

type turnRequest struct {
	Message  string        `json:"message"`
	Document *turnDocument `json:"document,omitempty"`
}

type turnDocument struct {
	FileName string `json:"file_name"`
	Text     string `json:"text"`
}

type turnResponse struct {
	ThreadID        string           `json:"thread_id"`
	CheckpointID    string           `json:"checkpoint_id,omitempty"`
	Messages        []domain.Message `json:"messages"`
	Profile         *domain.Profile  `json:"profile,omitempty"`
	TargetProjectID int64            `json:"target_project_id,omitempty"`
}

// Turn runs one conversation turn. The thread id is resolved by the
// thread-id middleware; new messages produced during the run are
// returned along with the checkpoint the turn was persisted as.
func (h *AgentHandler) Turn(c *gin.Context) {
	threadID := ctxutil.GetThreadID(c.Request.Context())

	var req turnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	if strings.TrimSpace(req.Message) == "" && (req.Document == nil || strings.TrimSpace(req.Document.Text) == "") {
		response.RespondError(c, http.StatusBadRequest, "invalid_request",
			fmt.Errorf("message or document required"))
		return
	}

	msg := domain.Message{Role: domain.RoleUser, Content: req.Message}
	if req.Document != nil && strings.TrimSpace(req.Document.Text) != "" {
		msg.Content = ""
		blocks := []domain.ContentBlock{}
		if strings.TrimSpace(req.Message) != "" {
			blocks = append(blocks, domain.ContentBlock{Type: "text", Text: req.Message})
		}
		blocks = append(blocks, domain.ContentBlock{
			Type:     "document",
			Text:     req.Document.Text,
			FileName: req.Document.FileName,
		})
		msg.Blocks = blocks
	}

	before := 0
	if prev, err := h.runner.Latest(c.Request.Context(), threadID); err == nil && prev != nil {
		before = len(prev.Messages)
	}

	state, err := h.runner.Turn(c.Request.Context(), threadID, msg)
	if err != nil {
		if errors.Is(err, errs.ErrInvalidArgument) {
			response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
			return
		}
		h.log.Error("turn failed", "thread_id", threadID, "error", err)
		response.RespondError(c, http.StatusInternalServerError, "turn_failed", err)
		return
	}

	resp := turnResponse{
		ThreadID:        threadID,
		Messages:        state.Messages[before:],
		Profile:         state.Profile,
		TargetProjectID: state.TargetProjectID,
	}
	if cps, err := h.runner.History(c.Request.Context(), threadID, "", 1); err == nil && len(cps) > 0 {
		resp.CheckpointID = cps[0].ID
	}
	response.RespondOK(c, resp)
}

type historyResponse struct {
	ThreadID string           `json:"thread_id"`
	Messages []domain.Message `json:"messages"`
}

// History returns the messages of the thread's latest checkpoint.
func (h *AgentHandler) History(c *gin.Context) {
	threadID := c.Param("thread_id")
	state, err := h.runner.Latest(c.Request.Context(), threadID)
	if err != nil {
		if errors.Is(err, errs.ErrInvalidArgument) {
			response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
			return
		}
		response.RespondError(c, http.StatusInternalServerError, "history_failed", err)
		return
	}
	resp := historyResponse{ThreadID: threadID, Messages: []domain.Message{}}
	if state != nil {
		resp.Messages = state.Messages
	}
	response.RespondOK(c, resp)
}

// Checkpoints lists the thread's checkpoint history newest-first.
// The `before` query param pages further back through history.
func (h *AgentHandler) Checkpoints(c *gin.Context) {
	threadID := c.Param("thread_id")
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	cps, err := h.runner.History(c.Request.Context(), threadID, c.Query("before"), limit)
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "history_failed", err)
		return
	}
	type entry struct {
		CheckpointID string `json:"checkpoint_id"`
		ParentID     string `json:"parent_id,omitempty"`
		CreatedAt    string `json:"created_at,omitempty"`
		Messages     int    `json:"messages"`
	}
	out := make([]entry, 0, len(cps))
	for _, cp := range cps {
		e := entry{CheckpointID: cp.ID, ParentID: cp.ParentID}
		if !cp.CreatedAt.IsZero() {
			e.CreatedAt = cp.CreatedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00")
		}
		if cp.State != nil {
			e.Messages = len(cp.State.Messages)
		}
		out = append(out, e)
	}
	response.RespondOK(c, gin.H{"thread_id": threadID, "checkpoints": out})
}

// DeleteThread drops the thread's entire history.
func (h *AgentHandler) DeleteThread(c *gin.Context) {
	threadID := c.Param("thread_id")
	if err := h.runner.DeleteThread(c.Request.Context(), threadID); err != nil {
		response.RespondError(c, http.StatusInternalServerError, "delete_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"thread_id": threadID, "deleted": true})
}
