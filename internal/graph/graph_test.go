package graph

import (
	"errors"
	"reflect"
	"sort"
	"strings"
	"testing"

	"github.com/tandem-dev/tandem/pkg/models"
)

func task(id string, deps ...string) *models.Task {
	return &models.Task{ID: id, Title: id, Status: models.TaskStatusPending, DependsOn: deps}
}

func buildGraph(t *testing.T, tasks ...*models.Task) *DependencyGraph {
	t.Helper()
	g := New()
	if err := g.Build(tasks); err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	return g
}

func TestBuild(t *testing.T) {
	g := buildGraph(t, task("a"), task("b", "a"), task("c", "a"), task("d", "b", "c"))

	if g.Size() != 4 {
		t.Errorf("Size() = %d, want 4", g.Size())
	}

	deps := g.GetDependencies("d")
	sort.Strings(deps)
	if !reflect.DeepEqual(deps, []string{"b", "c"}) {
		t.Errorf("GetDependencies(d) = %v, want [b c]", deps)
	}

	dependents := g.GetDependents("a")
	sort.Strings(dependents)
	if !reflect.DeepEqual(dependents, []string{"b", "c"}) {
		t.Errorf("GetDependents(a) = %v, want [b c]", dependents)
	}
}

func TestBuild_DuplicateID(t *testing.T) {
	g := New()
	err := g.Build([]*models.Task{task("a"), task("a")})
	if err == nil {
		t.Fatal("expected error for duplicate task ID")
	}
}

func TestBuild_UnknownDependency(t *testing.T) {
	g := New()
	err := g.Build([]*models.Task{task("a", "ghost")})
	if err == nil {
		t.Fatal("expected error for unknown dependency")
	}
	if !strings.Contains(err.Error(), "ghost") {
		t.Errorf("error should name the missing dependency, got: %v", err)
	}
}

func TestBuild_Cycle(t *testing.T) {
	g := New()
	err := g.Build([]*models.Task{task("a", "c"), task("b", "a"), task("c", "b")})
	if err == nil {
		t.Fatal("expected cycle error")
	}

	var cycleErr *CycleError
	if !errors.As(err, &cycleErr) {
		t.Fatalf("expected *CycleError, got %T", err)
	}
	if len(cycleErr.Path) < 2 {
		t.Errorf("cycle path too short: %v", cycleErr.Path)
	}
	if !strings.Contains(err.Error(), "circular dependency") {
		t.Errorf("unexpected error message: %v", err)
	}
}

func TestBuild_SelfCycle(t *testing.T) {
	g := New()
	err := g.Build([]*models.Task{task("a", "a")})
	var cycleErr *CycleError
	if !errors.As(err, &cycleErr) {
		t.Fatalf("expected *CycleError for self-dependency, got %v", err)
	}
}

func TestGetReady(t *testing.T) {
	g := buildGraph(t, task("a"), task("b", "a"), task("c"))

	ready := g.GetReady()
	if !reflect.DeepEqual(ready, []string{"a", "c"}) {
		t.Errorf("GetReady() = %v, want [a c]", ready)
	}

	g.MarkComplete("a")
	ready = g.GetReady()
	if !reflect.DeepEqual(ready, []string{"b", "c"}) {
		t.Errorf("GetReady() after completing a = %v, want [b c]", ready)
	}

	g.MarkComplete("b")
	g.MarkComplete("c")
	if ready := g.GetReady(); len(ready) != 0 {
		t.Errorf("GetReady() with all complete = %v, want empty", ready)
	}
}

func TestMarkTerminal_DoesNotUnblockDependents(t *testing.T) {
	g := buildGraph(t, task("a"), task("b", "a"))

	g.MarkTerminal("a")
	for _, id := range g.GetReady() {
		if id == "b" {
			t.Error("b should not be ready after its dependency failed")
		}
	}
}

func TestDescendants(t *testing.T) {
	g := buildGraph(t, task("a"), task("b", "a"), task("c", "b"), task("d", "a"), task("e"))

	got := g.Descendants("a")
	if !reflect.DeepEqual(got, []string{"b", "c", "d"}) {
		t.Errorf("Descendants(a) = %v, want [b c d]", got)
	}
	if got := g.Descendants("e"); len(got) != 0 {
		t.Errorf("Descendants(e) = %v, want empty", got)
	}
}

func TestTopologicalSort(t *testing.T) {
	g := buildGraph(t, task("a"), task("b", "a"), task("c", "a"), task("d", "b", "c"))

	order, err := g.TopologicalSort()
	if err != nil {
		t.Fatalf("TopologicalSort failed: %v", err)
	}
	if len(order) != 4 {
		t.Fatalf("expected 4 tasks in order, got %d", len(order))
	}

	pos := make(map[string]int, len(order))
	for i, id := range order {
		pos[id] = i
	}
	for _, pair := range [][2]string{{"a", "b"}, {"a", "c"}, {"b", "d"}, {"c", "d"}} {
		if pos[pair[0]] > pos[pair[1]] {
			t.Errorf("%s must come before %s, got order %v", pair[0], pair[1], order)
		}
	}
}

func TestSerialize(t *testing.T) {
	g := buildGraph(t, task("a"), task("b", "a"))

	raw, err := g.Serialize()
	if err != nil {
		t.Fatalf("Serialize failed: %v", err)
	}
	if !strings.Contains(raw, `"a"`) || !strings.Contains(raw, `"b"`) {
		t.Errorf("serialized graph missing tasks: %s", raw)
	}
}
