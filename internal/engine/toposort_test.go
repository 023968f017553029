package engine

import (
	"errors"
	"reflect"
	"testing"
)

func TestTopologicalSort_Chain(t *testing.T) {
	order, err := TopologicalSort(nodes("t:manual-trigger", "a:delay", "b:delay"), edges("t>a", "a>b"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := []string{"t", "a", "b"}
	if !reflect.DeepEqual(order, expected) {
		t.Errorf("order = %v, expected %v", order, expected)
	}
}

func TestTopologicalSort_RespectsEdges(t *testing.T) {
	// Узлы объявлены в обратном порядке
	order, err := TopologicalSort(nodes("c:delay", "b:delay", "t:manual-trigger"), edges("t>b", "b>c"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := []string{"t", "b", "c"}
	if !reflect.DeepEqual(order, expected) {
		t.Errorf("order = %v, expected %v", order, expected)
	}
}

func TestTopologicalSort_TieBreakByDeclaration(t *testing.T) {
	// A → B → D
	// A → C → D
	ns := nodes("A:manual-trigger", "C:delay", "B:delay", "D:merge")
	es := edges("A>B", "A>C", "B>D", "C>D")

	first, err := TopologicalSort(ns, es)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Порядок потомков определяется порядком рёбер
	expected := []string{"A", "B", "C", "D"}
	if !reflect.DeepEqual(first, expected) {
		t.Errorf("order = %v, expected %v", first, expected)
	}

	for i := 0; i < 10; i++ {
		again, _ := TopologicalSort(ns, es)
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("order is not deterministic: %v vs %v", first, again)
		}
	}
}

func TestTopologicalSort_IndependentRoots(t *testing.T) {
	order, err := TopologicalSort(nodes("x:manual-trigger", "y:webhook-trigger", "z:delay"), edges("y>z"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := []string{"x", "y", "z"}
	if !reflect.DeepEqual(order, expected) {
		t.Errorf("order = %v, expected %v", order, expected)
	}
}

func TestTopologicalSort_Cycle(t *testing.T) {
	_, err := TopologicalSort(nodes("A:delay", "B:delay"), edges("A>B", "B>A"))
	if !errors.Is(err, ErrCycleDetected) {
		t.Errorf("expected ErrCycleDetected, got %v", err)
	}
}

func TestExecutionLevels(t *testing.T) {
	//   t → a → c
	//   t → b ↗  ↘
	//   t ───────→ d
	ns := nodes("t:manual-trigger", "a:delay", "b:delay", "c:merge", "d:set-data")
	es := edges("t>a", "t>b", "a>c", "b>c", "c>d", "t>d")

	levels, err := ExecutionLevels(ns, es)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := [][]string{{"t"}, {"a", "b"}, {"c"}, {"d"}}
	if !reflect.DeepEqual(levels, expected) {
		t.Errorf("levels = %v, expected %v", levels, expected)
	}
}

func TestExecutionLevels_Cycle(t *testing.T) {
	_, err := ExecutionLevels(nodes("A:delay", "B:delay"), edges("A>B", "B>A"))
	if !errors.Is(err, ErrCycleDetected) {
		t.Errorf("expected ErrCycleDetected, got %v", err)
	}
}
