// Package graph provides the dependency graph used to schedule subagent tasks.
package graph

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/tandem-dev/tandem/pkg/models"
)

// CycleError indicates a circular dependency was found in the task graph.
// Path holds the task IDs forming the cycle, ending where it began.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("circular dependency detected: %s", strings.Join(e.Path, " -> "))
}

// DependencyGraph represents a directed acyclic graph of task dependencies.
// Tasks are nodes, and edges represent "depends on" relationships.
type DependencyGraph struct {
	mu sync.RWMutex
	// nodes maps task ID to the task itself.
	nodes map[string]*models.Task
	// edges maps task ID to IDs of tasks it depends on.
	edges map[string][]string
	// dependents is the reverse of edges: task ID to IDs that depend on it.
	dependents map[string][]string
	// completed tracks tasks whose dependents may now proceed.
	completed map[string]bool
	// terminal tracks tasks that reached any terminal state, including
	// failed and skipped ones that never unblock dependents.
	terminal map[string]bool
}

// New creates a new empty dependency graph.
func New() *DependencyGraph {
	return &DependencyGraph{
		nodes:      make(map[string]*models.Task),
		edges:      make(map[string][]string),
		dependents: make(map[string][]string),
		completed:  make(map[string]bool),
		terminal:   make(map[string]bool),
	}
}

// Build constructs the dependency graph from a slice of tasks.
// It validates that every dependency references a known task and that the
// graph is acyclic. On a cycle it returns a *CycleError carrying the
// offending task sequence so the orchestration can fail fast.
func (g *DependencyGraph) Build(tasks []*models.Task) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	// First pass: register all tasks as nodes.
	for _, task := range tasks {
		if _, dup := g.nodes[task.ID]; dup {
			return fmt.Errorf("duplicate task id %s", task.ID)
		}
		g.nodes[task.ID] = task
		g.edges[task.ID] = nil
	}

	// Second pass: build edges from DependsOn fields.
	for _, task := range tasks {
		for _, depID := range task.DependsOn {
			if _, exists := g.nodes[depID]; !exists {
				return fmt.Errorf("task %s depends on unknown task %s", task.ID, depID)
			}
			g.edges[task.ID] = append(g.edges[task.ID], depID)
			g.dependents[depID] = append(g.dependents[depID], task.ID)
		}
	}

	if cycle := g.findCycleLocked(); cycle != nil {
		return cycle
	}

	return nil
}

// findCycleLocked runs an iterative three-color DFS over the edge set.
// Returns a *CycleError with the cycle path, or nil if the graph is acyclic.
// Caller must hold g.mu.
func (g *DependencyGraph) findCycleLocked() *CycleError {
	const (
		white = 0 // unvisited
		gray  = 1 // on the current DFS path
		black = 2 // fully explored
	)
	colors := make(map[string]int, len(g.nodes))

	// Deterministic iteration order keeps error messages stable.
	roots := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		roots = append(roots, id)
	}
	sort.Strings(roots)

	type frame struct {
		id   string
		next int
	}

	for _, root := range roots {
		if colors[root] != white {
			continue
		}

		stack := []frame{{id: root}}
		colors[root] = gray

		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			deps := g.edges[top.id]

			if top.next < len(deps) {
				dep := deps[top.next]
				top.next++

				switch colors[dep] {
				case gray:
					// Back edge: the cycle is the stack suffix from dep.
					var path []string
					for i := range stack {
						if stack[i].id == dep {
							for _, f := range stack[i:] {
								path = append(path, f.id)
							}
							break
						}
					}
					path = append(path, dep)
					return &CycleError{Path: path}
				case white:
					colors[dep] = gray
					stack = append(stack, frame{id: dep})
				}
			} else {
				colors[top.id] = black
				stack = stack[:len(stack)-1]
			}
		}
	}

	return nil
}

// InDegrees returns the number of direct dependencies per task.
// The scheduler seeds its ready queue from the zero-in-degree entries.
func (g *DependencyGraph) InDegrees() map[string]int {
	g.mu.RLock()
	defer g.mu.RUnlock()

	degrees := make(map[string]int, len(g.nodes))
	for id := range g.nodes {
		degrees[id] = len(g.edges[id])
	}
	return degrees
}

// GetReady returns task IDs whose dependencies have all completed and that
// have not themselves reached a terminal state.
func (g *DependencyGraph) GetReady() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var ready []string
	for id := range g.nodes {
		if g.terminal[id] {
			continue
		}

		allDepsComplete := true
		for _, depID := range g.edges[id] {
			if !g.completed[depID] {
				allDepsComplete = false
				break
			}
		}
		if allDepsComplete {
			ready = append(ready, id)
		}
	}

	sort.Strings(ready)
	return ready
}

// MarkComplete marks a task as successfully completed, unblocking dependents.
func (g *DependencyGraph) MarkComplete(taskID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.completed[taskID] = true
	g.terminal[taskID] = true
}

// MarkTerminal marks a task as finished without unblocking dependents.
// Used for failed and skipped tasks.
func (g *DependencyGraph) MarkTerminal(taskID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.terminal[taskID] = true
}

// GetTask returns the task for a given ID, or nil if not found.
func (g *DependencyGraph) GetTask(taskID string) *models.Task {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.nodes[taskID]
}

// GetDependencies returns the IDs of tasks the given task depends on.
func (g *DependencyGraph) GetDependencies(taskID string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.edges[taskID]
}

// GetDependents returns the IDs of tasks that directly depend on the given task.
func (g *DependencyGraph) GetDependents(taskID string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.dependents[taskID]
}

// Descendants returns every task that transitively depends on the given task.
// Used to compute the cascading skip set when a task fails.
func (g *DependencyGraph) Descendants(taskID string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	seen := make(map[string]bool)
	queue := append([]string(nil), g.dependents[taskID]...)
	var result []string

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if seen[id] {
			continue
		}
		seen[id] = true
		result = append(result, id)
		queue = append(queue, g.dependents[id]...)
	}

	sort.Strings(result)
	return result
}

// TopologicalSort returns task IDs in an order where all dependencies come
// before the tasks that depend on them.
func (g *DependencyGraph) TopologicalSort() ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if cycle := g.findCycleLocked(); cycle != nil {
		return nil, cycle
	}

	visited := make(map[string]bool)
	var result []string

	var visit func(id string)
	visit = func(id string) {
		if visited[id] {
			return
		}
		visited[id] = true
		for _, depID := range g.edges[id] {
			visit(depID)
		}
		result = append(result, id)
	}

	ids := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		visit(id)
	}

	return result, nil
}

// Size returns the number of tasks in the graph.
func (g *DependencyGraph) Size() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// edge is the serialized form of one dependency relation.
type edge struct {
	Task      string `json:"task"`
	DependsOn string `json:"depends_on"`
}

// Serialize returns a JSON document of the task IDs and edge set, stored on
// the orchestration record for later inspection.
func (g *DependencyGraph) Serialize() (string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	ids := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var edges []edge
	for _, id := range ids {
		for _, depID := range g.edges[id] {
			edges = append(edges, edge{Task: id, DependsOn: depID})
		}
	}

	doc := struct {
		Tasks []string `json:"tasks"`
		Edges []edge   `json:"edges"`
	}{Tasks: ids, Edges: edges}

	data, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("serialize graph: %w", err)
	}
	return string(data), nil
}
