// Package pipeline runs the named build stages of an extension project in
// dependency order.
package pipeline

import (
	"context"
	"sort"
)

// Stage is one named build target. A nil Run makes the stage an alias that
// only runs its dependencies.
type Stage struct {
	Name string
	Deps []string
	Run  func(ctx context.Context) error
}

// Graph is a validated, acyclic set of stages.
type Graph struct {
	stages map[string]Stage
	names  []string
}

// NewGraph validates stages and indexes them by name. Empty or duplicate
// names, dependencies on undeclared stages and cycles are rejected with a
// *GraphError.
func NewGraph(stages ...Stage) (*Graph, error) {
	g := &Graph{stages: make(map[string]Stage, len(stages))}
	for _, st := range stages {
		if st.Name == "" {
			return nil, invalidf("stage with empty name")
		}
		if _, dup := g.stages[st.Name]; dup {
			return nil, invalidf("duplicate stage %q", st.Name)
		}
		g.stages[st.Name] = st
		g.names = append(g.names, st.Name)
	}
	sort.Strings(g.names)

	for _, name := range g.names {
		seen := map[string]bool{}
		for _, d := range g.stages[name].Deps {
			if _, ok := g.stages[d]; !ok {
				return nil, invalidf("stage %q depends on unknown stage %q", name, d)
			}
			if seen[d] {
				return nil, invalidf("stage %q lists dependency %q twice", name, d)
			}
			seen[d] = true
		}
	}

	if path := g.findCycle(); path != nil {
		return nil, cycleError(path)
	}
	return g, nil
}

// Names returns the stage names in lexical order.
func (g *Graph) Names() []string {
	return append([]string(nil), g.names...)
}

// Has reports whether name is a declared stage.
func (g *Graph) Has(name string) bool {
	_, ok := g.stages[name]
	return ok
}

// Stage returns the stage called name.
func (g *Graph) Stage(name string) (Stage, bool) {
	st, ok := g.stages[name]
	return st, ok
}

// findCycle walks the graph in name order and returns the first cycle found
// as a closed path (first and last element equal), or nil.
func (g *Graph) findCycle() []string {
	const (
		white = iota
		gray
		black
	)
	color := make(map[string]int, len(g.names))
	var stack []string
	var cycle []string

	var visit func(n string) bool
	visit = func(n string) bool {
		color[n] = gray
		stack = append(stack, n)
		for _, d := range g.stages[n].Deps {
			switch color[d] {
			case white:
				if visit(d) {
					return true
				}
			case gray:
				for i, s := range stack {
					if s == d {
						cycle = append(append([]string{}, stack[i:]...), d)
						return true
					}
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[n] = black
		return false
	}

	for _, n := range g.names {
		if color[n] == white && visit(n) {
			return cycle
		}
	}
	return nil
}
