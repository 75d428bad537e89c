package graph

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/yungbote/projectmatch-backend/internal/domain"
	"github.com/yungbote/projectmatch-backend/internal/pkg/logger"
)

// MaxTransitions bounds a single run. Routing loops (tool round
// trips) are legal, runaway ones are not.
const MaxTransitions = 32

// RunError carries the last state the run reached before failing, so
// callers can persist progress up to the failed step.
type RunError struct {
	Graph     string
	Step      string
	LastState *domain.ConversationState
	Err       error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("graph %q: step %q failed: %v", e.Graph, e.Step, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }

// Graph is a compiled conversation graph. A Graph is immutable and
// safe for concurrent runs; each run works on its own state clone.
type Graph struct {
	name  string
	log   *logger.Logger
	entry string

	steps   map[string]Step
	edges   map[string]string
	routes  map[string]RouteFunc
	fanOuts map[string]*fanOut
	order   []string
}

func (g *Graph) Name() string { return g.name }

// Steps lists the graph's step names in sorted order.
func (g *Graph) Steps() []string { return append([]string(nil), g.order...) }

// Run executes the graph from its entry point over a clone of the
// given state and returns the final state. On step failure it returns
// a *RunError wrapping the last successfully merged state.
func (g *Graph) Run(ctx context.Context, initial *domain.ConversationState) (*domain.ConversationState, error) {
	if initial == nil {
		return nil, fmt.Errorf("graph %q: initial state required", g.name)
	}

	state := initial.Clone()
	current := g.entry
	transitions := 0

	for current != End {
		if err := ctx.Err(); err != nil {
			return state, &RunError{Graph: g.name, Step: current, LastState: state, Err: err}
		}
		if transitions >= MaxTransitions {
			return state, &RunError{
				Graph:     g.name,
				Step:      current,
				LastState: state,
				Err:       fmt.Errorf("exceeded %d transitions", MaxTransitions),
			}
		}
		transitions++

		step, ok := g.steps[current]
		if !ok {
			return state, &RunError{Graph: g.name, Step: current, LastState: state, Err: fmt.Errorf("unknown step")}
		}

		if g.log != nil {
			g.log.Debug("graph step", "graph", g.name, "step", current, "transition", transitions)
		}

		delta, err := step(ctx, state.Clone())
		if err != nil {
			return state, &RunError{Graph: g.name, Step: current, LastState: state, Err: err}
		}
		delta.Apply(state)

		if fo, ok := g.fanOuts[current]; ok {
			if err := g.runFanOut(ctx, fo, state); err != nil {
				return state, &RunError{Graph: g.name, Step: current, LastState: state, Err: err}
			}
			current = fo.join
			continue
		}

		current = g.next(current, state)
	}

	return state, nil
}

func (g *Graph) next(current string, state *domain.ConversationState) string {
	if fn, ok := g.routes[current]; ok {
		return fn(state)
	}
	if to, ok := g.edges[current]; ok {
		return to
	}
	return End
}

// runFanOut executes the branches concurrently, each over its own
// clone, then merges the deltas in branch-name order. Merging is
// order-independent by construction: branch write sets must be
// disjoint, and message appends commute up to the deterministic sort.
func (g *Graph) runFanOut(ctx context.Context, fo *fanOut, state *domain.ConversationState) error {
	type branchResult struct {
		name  string
		delta *Delta
	}

	eg, egCtx := errgroup.WithContext(ctx)
	var mu sync.Mutex
	results := make([]branchResult, 0, len(fo.branches))

	for _, name := range fo.branches {
		step, ok := g.steps[name]
		if !ok {
			return fmt.Errorf("fan-out branch %q has no step", name)
		}
		branchState := state.Clone()
		eg.Go(func() error {
			delta, err := step(egCtx, branchState)
			if err != nil {
				return fmt.Errorf("branch %q: %w", name, err)
			}
			mu.Lock()
			results = append(results, branchResult{name: name, delta: delta})
			mu.Unlock()
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}

	sort.Slice(results, func(i, j int) bool { return results[i].name < results[j].name })

	seen := map[string]string{}
	for _, r := range results {
		for _, field := range r.delta.writeSet() {
			if prev, dup := seen[field]; dup {
				return fmt.Errorf("branches %q and %q both write %s", prev, r.name, field)
			}
			seen[field] = r.name
		}
	}

	for _, r := range results {
		r.delta.Apply(state)
	}
	return nil
}
