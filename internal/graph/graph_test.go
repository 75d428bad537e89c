package graph

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/yungbote/projectmatch-backend/internal/domain"
	"github.com/yungbote/projectmatch-backend/internal/pkg/logger"
)

func appendAssistant(text string) Step {
	return func(ctx context.Context, s *domain.ConversationState) (*Delta, error) {
		return &Delta{
			AppendMessages: []domain.Message{{Role: domain.RoleAssistant, Content: text}},
		}, nil
	}
}

func TestLinearRun(t *testing.T) {
	g, err := New("linear", logger.NewNop()).
		AddStep("a", appendAssistant("from a")).
		AddStep("b", appendAssistant("from b")).
		SetEntryPoint("a").
		AddEdge("a", "b").
		AddEdge("b", End).
		Compile()
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	out, err := g.Run(context.Background(), &domain.ConversationState{ThreadID: "t"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(out.Messages) != 2 {
		t.Fatalf("messages = %d, want 2", len(out.Messages))
	}
	if out.Messages[0].Content != "from a" || out.Messages[1].Content != "from b" {
		t.Fatalf("unexpected messages: %+v", out.Messages)
	}
}

func TestRunDoesNotMutateInput(t *testing.T) {
	g, err := New("isolate", logger.NewNop()).
		AddStep("a", appendAssistant("hi")).
		SetEntryPoint("a").
		Compile()
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	initial := &domain.ConversationState{
		ThreadID: "t",
		Messages: []domain.Message{{Role: domain.RoleUser, Content: "hello"}},
	}
	out, err := g.Run(context.Background(), initial)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(initial.Messages) != 1 {
		t.Fatalf("input state mutated: %+v", initial.Messages)
	}
	if len(out.Messages) != 2 {
		t.Fatalf("output messages = %d, want 2", len(out.Messages))
	}
}

func TestConditionalRouting(t *testing.T) {
	route := func(s *domain.ConversationState) string { return s.NextStep }

	g, err := New("routed", logger.NewNop()).
		AddStep("route", func(ctx context.Context, s *domain.ConversationState) (*Delta, error) {
			return &Delta{NextStep: StrPtr("right")}, nil
		}).
		AddStep("left", appendAssistant("left")).
		AddStep("right", appendAssistant("right")).
		SetEntryPoint("route").
		AddConditionalEdges("route", route).
		Compile()
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	out, err := g.Run(context.Background(), &domain.ConversationState{ThreadID: "t"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(out.Messages) != 1 || out.Messages[0].Content != "right" {
		t.Fatalf("unexpected messages: %+v", out.Messages)
	}
}

func TestStepFailureReturnsLastGoodState(t *testing.T) {
	boom := errors.New("boom")
	g, err := New("failing", logger.NewNop()).
		AddStep("ok", appendAssistant("made it")).
		AddStep("bad", func(ctx context.Context, s *domain.ConversationState) (*Delta, error) {
			return nil, boom
		}).
		SetEntryPoint("ok").
		AddEdge("ok", "bad").
		Compile()
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	out, err := g.Run(context.Background(), &domain.ConversationState{ThreadID: "t"})
	if err == nil {
		t.Fatal("expected error")
	}
	var runErr *RunError
	if !errors.As(err, &runErr) {
		t.Fatalf("error type = %T", err)
	}
	if runErr.Step != "bad" || !errors.Is(err, boom) {
		t.Fatalf("unexpected run error: %+v", runErr)
	}
	if out == nil || len(out.Messages) != 1 || out.Messages[0].Content != "made it" {
		t.Fatalf("last-good state lost: %+v", out)
	}
	if runErr.LastState == nil || len(runErr.LastState.Messages) != 1 {
		t.Fatalf("RunError last state lost: %+v", runErr.LastState)
	}
}

func TestTransitionBound(t *testing.T) {
	g, err := New("loop", logger.NewNop()).
		AddStep("spin", func(ctx context.Context, s *domain.ConversationState) (*Delta, error) {
			return nil, nil
		}).
		SetEntryPoint("spin").
		AddEdge("spin", "spin").
		Compile()
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	_, err = g.Run(context.Background(), &domain.ConversationState{ThreadID: "t"})
	if err == nil {
		t.Fatal("expected transition bound error")
	}
	var runErr *RunError
	if !errors.As(err, &runErr) {
		t.Fatalf("error type = %T", err)
	}
}

func TestContextCancellationStopsRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	g, err := New("cancel", logger.NewNop()).
		AddStep("first", func(ctx context.Context, s *domain.ConversationState) (*Delta, error) {
			cancel()
			return nil, nil
		}).
		AddStep("second", appendAssistant("never")).
		SetEntryPoint("first").
		AddEdge("first", "second").
		Compile()
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	out, err := g.Run(ctx, &domain.ConversationState{ThreadID: "t"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if len(out.Messages) != 0 {
		t.Fatalf("second step ran after cancellation: %+v", out.Messages)
	}
}

func fanOutGraph(t *testing.T, branchDelay map[string]time.Duration) *Graph {
	t.Helper()

	branch := func(name string, fill func(*Delta)) Step {
		return func(ctx context.Context, s *domain.ConversationState) (*Delta, error) {
			if d := branchDelay[name]; d > 0 {
				time.Sleep(d)
			}
			delta := &Delta{
				AppendMessages: []domain.Message{{Role: domain.RoleTool, Name: name, Content: name + " done"}},
			}
			fill(delta)
			return delta, nil
		}
	}

	g, err := New("fanout", logger.NewNop()).
		AddStep("prep", func(ctx context.Context, s *domain.ConversationState) (*Delta, error) {
			return &Delta{Scratch: &ScratchPatch{Keywords: []string{"robot"}}}, nil
		}).
		AddStep("tag", branch("tag", func(d *Delta) {
			d.Scratch = &ScratchPatch{TagCandidates: []domain.Candidate{{ID: 1, Title: "tag hit"}}}
		})).
		AddStep("semantic", branch("semantic", func(d *Delta) {
			d.Scratch = &ScratchPatch{SemanticCandidates: []domain.Candidate{{ID: 2, Title: "semantic hit"}}}
		})).
		AddStep("keyword", branch("keyword", func(d *Delta) {
			d.Scratch = &ScratchPatch{KeywordCandidates: []domain.Candidate{{ID: 3, Title: "keyword hit"}}}
		})).
		AddStep("join", func(ctx context.Context, s *domain.ConversationState) (*Delta, error) {
			return nil, nil
		}).
		SetEntryPoint("prep").
		AddFanOut("prep", []string{"tag", "semantic", "keyword"}, "join").
		AddEdge("join", End).
		Compile()
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	return g
}

func TestFanOutMergesAllBranches(t *testing.T) {
	g := fanOutGraph(t, nil)
	out, err := g.Run(context.Background(), &domain.ConversationState{ThreadID: "t"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(out.Scratch.TagCandidates) != 1 || len(out.Scratch.SemanticCandidates) != 1 || len(out.Scratch.KeywordCandidates) != 1 {
		t.Fatalf("branch writes missing: %+v", out.Scratch)
	}
	if len(out.Messages) != 3 {
		t.Fatalf("messages = %d, want 3", len(out.Messages))
	}
}

func TestFanOutMergeIsCommutative(t *testing.T) {
	// Vary completion order; the merged state must not change.
	delays := []map[string]time.Duration{
		{"tag": 0, "semantic": 5 * time.Millisecond, "keyword": 10 * time.Millisecond},
		{"tag": 10 * time.Millisecond, "semantic": 0, "keyword": 5 * time.Millisecond},
		{"tag": 5 * time.Millisecond, "semantic": 10 * time.Millisecond, "keyword": 0},
	}

	var reference *domain.ConversationState
	for i, d := range delays {
		out, err := fanOutGraph(t, d).Run(context.Background(), &domain.ConversationState{ThreadID: "t"})
		if err != nil {
			t.Fatalf("Run %d: %v", i, err)
		}
		if reference == nil {
			reference = out
			continue
		}
		if !reflect.DeepEqual(reference, out) {
			t.Fatalf("merge order leaked into state:\nfirst: %+v\nrun %d: %+v", reference, i, out)
		}
	}
}

func TestFanOutBranchesSeeNoSiblingWrites(t *testing.T) {
	var mu sync.Mutex
	observed := map[string]int{}

	spy := func(name string) Step {
		return func(ctx context.Context, s *domain.ConversationState) (*Delta, error) {
			mu.Lock()
			observed[name] = len(s.Messages)
			mu.Unlock()
			return &Delta{
				AppendMessages: []domain.Message{{Role: domain.RoleTool, Name: name, Content: "x"}},
			}, nil
		}
	}

	g, err := New("isolated", logger.NewNop()).
		AddStep("prep", func(ctx context.Context, s *domain.ConversationState) (*Delta, error) { return nil, nil }).
		AddStep("one", spy("one")).
		AddStep("two", spy("two")).
		AddStep("join", func(ctx context.Context, s *domain.ConversationState) (*Delta, error) { return nil, nil }).
		SetEntryPoint("prep").
		AddFanOut("prep", []string{"one", "two"}, "join").
		Compile()
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	if _, err := g.Run(context.Background(), &domain.ConversationState{ThreadID: "t"}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if observed["one"] != 0 || observed["two"] != 0 {
		t.Fatalf("branches observed sibling writes: %+v", observed)
	}
}

func TestFanOutConflictingWritesFail(t *testing.T) {
	writer := func(val string) Step {
		return func(ctx context.Context, s *domain.ConversationState) (*Delta, error) {
			return &Delta{Scratch: &ScratchPatch{ReasoningOutput: &val}}, nil
		}
	}

	g, err := New("conflict", logger.NewNop()).
		AddStep("prep", func(ctx context.Context, s *domain.ConversationState) (*Delta, error) { return nil, nil }).
		AddStep("one", writer("a")).
		AddStep("two", writer("b")).
		AddStep("join", func(ctx context.Context, s *domain.ConversationState) (*Delta, error) { return nil, nil }).
		SetEntryPoint("prep").
		AddFanOut("prep", []string{"one", "two"}, "join").
		Compile()
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	if _, err := g.Run(context.Background(), &domain.ConversationState{ThreadID: "t"}); err == nil {
		t.Fatal("expected conflicting branch writes to fail the run")
	}
}

func TestFanOutBranchFailureFailsRun(t *testing.T) {
	g, err := New("branchfail", logger.NewNop()).
		AddStep("prep", func(ctx context.Context, s *domain.ConversationState) (*Delta, error) { return nil, nil }).
		AddStep("good", appendAssistant("fine")).
		AddStep("bad", func(ctx context.Context, s *domain.ConversationState) (*Delta, error) {
			return nil, fmt.Errorf("track unavailable")
		}).
		AddStep("join", func(ctx context.Context, s *domain.ConversationState) (*Delta, error) { return nil, nil }).
		SetEntryPoint("prep").
		AddFanOut("prep", []string{"good", "bad"}, "join").
		Compile()
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	out, err := g.Run(context.Background(), &domain.ConversationState{ThreadID: "t"})
	if err == nil {
		t.Fatal("expected branch failure to fail the run")
	}
	// No partial branch writes may land.
	if len(out.Messages) != 0 {
		t.Fatalf("partial branch writes applied: %+v", out.Messages)
	}
}

func TestCompileRejectsUnknownReferences(t *testing.T) {
	_, err := New("bad", logger.NewNop()).
		AddStep("a", appendAssistant("x")).
		SetEntryPoint("a").
		AddEdge("a", "ghost").
		Compile()
	if err == nil {
		t.Fatal("expected compile error for unknown edge target")
	}

	_, err = New("bad2", logger.NewNop()).
		AddStep("a", appendAssistant("x")).
		SetEntryPoint("missing").
		Compile()
	if err == nil {
		t.Fatal("expected compile error for missing entry step")
	}
}
