package engine

import (
	"errors"
	"fmt"
	"strings"
)

// ConfigurationError reports a registry that cannot be scheduled: a cycle, a
// prerequisite naming an unknown stage, or a duplicate or unnamed stage. It
// is a programming error, never a diagnostic finding.
type ConfigurationError struct {
	Stages []string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "stage registry: " + e.Reason
}

// IsConfigurationError reports whether err is or wraps a ConfigurationError.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// Registry holds stages in registration order.
type Registry struct {
	stages []Stage
}

// NewRegistry returns a registry holding the given stages in order.
func NewRegistry(stages ...Stage) *Registry {
	r := &Registry{}
	for _, s := range stages {
		r.Register(s)
	}
	return r
}

// Register appends a stage. The prerequisite list is copied so later changes
// by the caller have no effect. Validation happens in Plan.
func (r *Registry) Register(s Stage) {
	s.Prerequisites = append([]string(nil), s.Prerequisites...)
	r.stages = append(r.stages, s)
}

// Stages returns the registered stages in registration order.
func (r *Registry) Stages() []Stage {
	return append([]Stage(nil), r.stages...)
}

// Len returns the number of registered stages.
func (r *Registry) Len() int { return len(r.stages) }

// Plan validates the dependency graph and returns the execution order. When
// several stages are ready at once, the one registered first runs first, so
// the order is fully determined by the registry.
func (r *Registry) Plan() ([]Stage, error) {
	index := make(map[string]int, len(r.stages))
	for i, s := range r.stages {
		if s.Name == "" {
			return nil, &ConfigurationError{Reason: fmt.Sprintf("stage #%d has no name", i)}
		}
		if s.Run == nil {
			return nil, &ConfigurationError{Stages: []string{s.Name}, Reason: fmt.Sprintf("stage %q has no run function", s.Name)}
		}
		if _, dup := index[s.Name]; dup {
			return nil, &ConfigurationError{Stages: []string{s.Name}, Reason: fmt.Sprintf("stage %q registered twice", s.Name)}
		}
		index[s.Name] = i
	}
	for _, s := range r.stages {
		for _, p := range s.Prerequisites {
			if _, ok := index[p]; !ok {
				return nil, &ConfigurationError{
					Stages: []string{s.Name, p},
					Reason: fmt.Sprintf("stage %q requires unknown stage %q", s.Name, p),
				}
			}
		}
	}

	done := make([]bool, len(r.stages))
	order := make([]Stage, 0, len(r.stages))
	for len(order) < len(r.stages) {
		next := -1
		for i, s := range r.stages {
			if done[i] {
				continue
			}
			ready := true
			for _, p := range s.Prerequisites {
				if !done[index[p]] {
					ready = false
					break
				}
			}
			if ready {
				next = i
				break
			}
		}
		if next < 0 {
			cycle := r.findCycle(index, done)
			return nil, &ConfigurationError{
				Stages: cycle,
				Reason: "dependency cycle: " + strings.Join(cycle, " -> "),
			}
		}
		done[next] = true
		order = append(order, r.stages[next])
	}
	return order, nil
}

// findCycle walks the unscheduled stages depth-first and returns the first
// cycle found, with the starting stage repeated at the end.
func (r *Registry) findCycle(index map[string]int, done []bool) []string {
	const (
		unvisited = iota
		onStack
		finished
	)
	state := make([]int, len(r.stages))
	var stack []string

	var visit func(i int) []string
	visit = func(i int) []string {
		state[i] = onStack
		stack = append(stack, r.stages[i].Name)
		for _, p := range r.stages[i].Prerequisites {
			j := index[p]
			if done[j] {
				continue
			}
			switch state[j] {
			case onStack:
				for k, name := range stack {
					if name == p {
						return append(append([]string(nil), stack[k:]...), p)
					}
				}
			case unvisited:
				if c := visit(j); c != nil {
					return c
				}
			}
		}
		stack = stack[:len(stack)-1]
		state[i] = finished
		return nil
	}

	for i := range r.stages {
		if !done[i] && state[i] == unvisited {
			if c := visit(i); c != nil {
				return c
			}
		}
	}
	return nil
}
