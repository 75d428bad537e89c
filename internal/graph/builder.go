package graph

import (
	"context"
	"fmt"
	"sort"

	"github.com/yungbote/projectmatch-backend/internal/domain"
	"github.com/yungbote/projectmatch-backend/internal/pkg/logger"
)

// End is the terminal target; routing to it finishes the run.
const End = "__end__"

// Step computes a state update. Steps must treat the state as
// read-only and return their writes as a Delta; a nil Delta is a
// no-op.
type Step func(ctx context.Context, s *domain.ConversationState) (*Delta, error)

// RouteFunc picks the next node after a step, based on the merged
// state. Returning End finishes the run.
type RouteFunc func(s *domain.ConversationState) string

type fanOut struct {
	branches []string
	join     string
}

// Builder assembles a conversation graph. Each node carries exactly
// one outgoing rule: a static edge, a conditional route, or a fan-out.
type Builder struct {
	name  string
	log   *logger.Logger
	entry string

	steps   map[string]Step
	edges   map[string]string
	routes  map[string]RouteFunc
	fanOuts map[string]*fanOut
}

func New(name string, log *logger.Logger) *Builder {
	return &Builder{
		name:    name,
		log:     log,
		steps:   map[string]Step{},
		edges:   map[string]string{},
		routes:  map[string]RouteFunc{},
		fanOuts: map[string]*fanOut{},
	}
}

func (b *Builder) AddStep(name string, step Step) *Builder {
	b.steps[name] = step
	return b
}

func (b *Builder) SetEntryPoint(name string) *Builder {
	b.entry = name
	return b
}

// AddEdge wires an unconditional transition.
func (b *Builder) AddEdge(from, to string) *Builder {
	b.edges[from] = to
	return b
}

// AddConditionalEdges routes from a node through fn.
func (b *Builder) AddConditionalEdges(from string, fn RouteFunc) *Builder {
	b.routes[from] = fn
	return b
}

// AddFanOut runs the named branches concurrently after from, each on
// its own clone of the state, then merges their deltas and continues
// at join.
func (b *Builder) AddFanOut(from string, branches []string, join string) *Builder {
	b.fanOuts[from] = &fanOut{branches: append([]string(nil), branches...), join: join}
	return b
}

// Compile validates the graph shape. Cycles are allowed; the executor
// bounds transitions at runtime.
func (b *Builder) Compile() (*Graph, error) {
	if b.entry == "" {
		return nil, fmt.Errorf("graph %q: entry point not set", b.name)
	}
	if _, ok := b.steps[b.entry]; !ok {
		return nil, fmt.Errorf("graph %q: entry point %q has no step", b.name, b.entry)
	}

	known := func(name string) bool {
		if name == End {
			return true
		}
		_, ok := b.steps[name]
		return ok
	}

	for from, to := range b.edges {
		if !known(from) || from == End {
			return nil, fmt.Errorf("graph %q: edge from unknown step %q", b.name, from)
		}
		if !known(to) {
			return nil, fmt.Errorf("graph %q: edge %q -> unknown step %q", b.name, from, to)
		}
	}
	for from := range b.routes {
		if !known(from) || from == End {
			return nil, fmt.Errorf("graph %q: conditional edges from unknown step %q", b.name, from)
		}
	}
	for from, fo := range b.fanOuts {
		if !known(from) || from == End {
			return nil, fmt.Errorf("graph %q: fan-out from unknown step %q", b.name, from)
		}
		if len(fo.branches) == 0 {
			return nil, fmt.Errorf("graph %q: fan-out at %q has no branches", b.name, from)
		}
		for _, br := range fo.branches {
			if !known(br) || br == End {
				return nil, fmt.Errorf("graph %q: fan-out at %q references unknown branch %q", b.name, from, br)
			}
		}
		if !known(fo.join) || fo.join == End {
			return nil, fmt.Errorf("graph %q: fan-out at %q references unknown join %q", b.name, from, fo.join)
		}
	}

	for from := range b.steps {
		rules := 0
		if _, ok := b.edges[from]; ok {
			rules++
		}
		if _, ok := b.routes[from]; ok {
			rules++
		}
		if _, ok := b.fanOuts[from]; ok {
			rules++
		}
		if rules > 1 {
			return nil, fmt.Errorf("graph %q: step %q has multiple outgoing rules", b.name, from)
		}
	}

	names := make([]string, 0, len(b.steps))
	for name := range b.steps {
		names = append(names, name)
	}
	sort.Strings(names)

	return &Graph{
		name:    b.name,
		log:     b.log,
		entry:   b.entry,
		steps:   b.steps,
		edges:   b.edges,
		routes:  b.routes,
		fanOuts: b.fanOuts,
		order:   names,
	}, nil
}
