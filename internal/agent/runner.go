package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/yungbote/projectmatch-backend/internal/data/checkpoint"
	"github.com/yungbote/projectmatch-backend/internal/domain"
	"github.com/yungbote/projectmatch-backend/internal/graph"
	"github.com/yungbote/projectmatch-backend/internal/pkg/errs"
	"github.com/yungbote/projectmatch-backend/internal/pkg/logger"
)

// Runner drives one conversation turn: load the thread's latest
// checkpoint, run the graph, persist the result as a new checkpoint.
// Turns within a thread are serialized; different threads run
// concurrently.
type Runner struct {
	log   *logger.Logger
	graph *graph.Graph
	store checkpoint.Store

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewRunner(log *logger.Logger, g *graph.Graph, store checkpoint.Store) (*Runner, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if g == nil {
		return nil, fmt.Errorf("graph required")
	}
	if store == nil {
		return nil, fmt.Errorf("checkpoint store required")
	}
	return &Runner{
		log:   log.With("service", "AgentRunner"),
		graph: g,
		store: store,
		locks: map[string]*sync.Mutex{},
	}, nil
}

// Turn appends the user message to the thread, runs the conversation
// graph, and checkpoints the resulting state. The turn only succeeds
// once the checkpoint is durable; a failed Put fails the turn.
func (r *Runner) Turn(ctx context.Context, threadID string, msg domain.Message) (*domain.ConversationState, error) {
	if threadID == "" {
		return nil, fmt.Errorf("thread id required: %w", errs.ErrInvalidArgument)
	}
	if msg.Role == "" {
		msg.Role = domain.RoleUser
	}

	lock := r.threadLock(threadID)
	lock.Lock()
	defer lock.Unlock()

	prev, err := r.store.Get(ctx, threadID, "")
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}

	var state *domain.ConversationState
	var parentID string
	if prev != nil {
		state = prev.State.Clone()
		parentID = prev.ID
	} else {
		state = &domain.ConversationState{ThreadID: threadID}
	}
	resetScratch(state)
	state.Messages = append(state.Messages, msg)
	state.NextStep = ""

	started := time.Now()
	final, err := r.graph.Run(ctx, state)
	if err != nil {
		return nil, err
	}

	cp := &domain.Checkpoint{
		ThreadID:  threadID,
		ID:        checkpoint.NewID(),
		ParentID:  parentID,
		State:     final,
		CreatedAt: time.Now().UTC(),
	}
	if err := r.store.Put(ctx, cp); err != nil {
		return nil, fmt.Errorf("persist checkpoint: %w", err)
	}

	r.log.Info("turn completed",
		"thread_id", threadID,
		"checkpoint_id", cp.ID,
		"messages", len(final.Messages),
		"duration_ms", time.Since(started).Milliseconds())
	return final, nil
}

// History returns the thread's checkpoints newest-first, starting
// below the `before` checkpoint id when it is non-empty.
func (r *Runner) History(ctx context.Context, threadID, before string, limit int) ([]*domain.Checkpoint, error) {
	if threadID == "" {
		return nil, fmt.Errorf("thread id required: %w", errs.ErrInvalidArgument)
	}
	return r.store.List(ctx, threadID, before, limit)
}

// DeleteThread drops the thread's entire history.
func (r *Runner) DeleteThread(ctx context.Context, threadID string) error {
	if threadID == "" {
		return fmt.Errorf("thread id required: %w", errs.ErrInvalidArgument)
	}
	lock := r.threadLock(threadID)
	lock.Lock()
	defer lock.Unlock()
	if err := r.store.DeleteThread(ctx, threadID); err != nil {
		return err
	}

	// Drop the lock entry with the thread; a later turn on the same
	// id mints a fresh one.
	r.mu.Lock()
	delete(r.locks, threadID)
	r.mu.Unlock()
	return nil
}

// Latest returns the thread's current state, or nil when the thread
// has no history.
func (r *Runner) Latest(ctx context.Context, threadID string) (*domain.ConversationState, error) {
	if threadID == "" {
		return nil, fmt.Errorf("thread id required: %w", errs.ErrInvalidArgument)
	}
	cp, err := r.store.Get(ctx, threadID, "")
	if err != nil || cp == nil {
		return nil, err
	}
	return cp.State, nil
}

func (r *Runner) threadLock(threadID string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	lock, ok := r.locks[threadID]
	if !ok {
		lock = &sync.Mutex{}
		r.locks[threadID] = lock
	}
	return lock
}

// resetScratch clears the per-turn working fields. Draft state and the
// tool-confirmed tags survive the checkpoint boundary so a publish
// flow can span turns; the tool round counter restarts each turn.
func resetScratch(s *domain.ConversationState) {
	draft := s.Scratch.Draft
	draftID := s.Scratch.DraftID
	savedID := s.Scratch.SavedID
	suggested := s.Scratch.SuggestedTags
	interestTags := s.Scratch.InterestTags
	skillTags := s.Scratch.SkillTags

	s.Scratch = domain.Scratch{
		Draft:         draft,
		DraftID:       draftID,
		SavedID:       savedID,
		SuggestedTags: suggested,
		InterestTags:  interestTags,
		SkillTags:     skillTags,
	}
}
