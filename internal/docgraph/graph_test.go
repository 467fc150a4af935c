package docgraph

import (
	"errors"
	"testing"

	"github.com/yungbote/docwriter-backend/internal/document"
)

func outline(specs ...[2]interface{}) []document.Section {
	out := []document.Section{}
	for _, spec := range specs {
		id := spec[0].(string)
		deps, _ := spec[1].([]string)
		out = append(out, document.Section{ID: id, Dependencies: deps})
	}
	return out
}

func indexOf(order []string, id string) int {
	for i, v := range order {
		if v == id {
			return i
		}
	}
	return -1
}

func TestTopologicalOrderRespectsDependencies(t *testing.T) {
	g := Build(outline(
		[2]interface{}{"s1", []string(nil)},
		[2]interface{}{"s2", []string{"s1"}},
		[2]interface{}{"s3", []string{"s2"}},
	))
	order, err := g.TopologicalOrder()
	if err != nil {
		t.Fatalf("topological order: %v", err)
	}
	if !(indexOf(order, "s1") < indexOf(order, "s2") && indexOf(order, "s2") < indexOf(order, "s3")) {
		t.Fatalf("dependency order violated: %v", order)
	}
}

func TestTopologicalOrderNaturalSort(t *testing.T) {
	g := Build(outline(
		[2]interface{}{"s10", []string(nil)},
		[2]interface{}{"s2", []string(nil)},
		[2]interface{}{"s1", []string(nil)},
	))
	order, err := g.TopologicalOrder()
	if err != nil {
		t.Fatalf("topological order: %v", err)
	}
	want := []string{"s1", "s2", "s10"}
	for i, id := range want {
		if order[i] != id {
			t.Fatalf("natural sort: want=%v got=%v", want, order)
		}
	}
}

func TestCycleDetection(t *testing.T) {
	g := Build(outline(
		[2]interface{}{"a", []string{"b"}},
		[2]interface{}{"b", []string{"a"}},
	))
	if _, err := g.TopologicalOrder(); !errors.Is(err, ErrCycle) {
		t.Fatalf("topological order on cycle: want ErrCycle got %v", err)
	}
	if _, err := g.Layers(); !errors.Is(err, ErrCycle) {
		t.Fatalf("layers on cycle: want ErrCycle got %v", err)
	}
}

func TestLayers(t *testing.T) {
	g := Build(outline(
		[2]interface{}{"s1", []string(nil)},
		[2]interface{}{"s2", []string(nil)},
		[2]interface{}{"s3", []string{"s1", "s2"}},
		[2]interface{}{"s4", []string{"s3"}},
	))
	layers, err := g.Layers()
	if err != nil {
		t.Fatalf("layers: %v", err)
	}
	if len(layers) != 3 {
		t.Fatalf("layers: want 3 got %v", layers)
	}
	if layers[0][0] != "s1" || layers[0][1] != "s2" {
		t.Fatalf("first layer sorted: got %v", layers[0])
	}
	if layers[1][0] != "s3" || layers[2][0] != "s4" {
		t.Fatalf("layer structure wrong: %v", layers)
	}
}

func TestUnknownDependencyIgnored(t *testing.T) {
	g := Build(outline(
		[2]interface{}{"s1", []string{"ghost"}},
	))
	order, err := g.TopologicalOrder()
	if err != nil {
		t.Fatalf("unknown deps must be dropped: %v", err)
	}
	if len(order) != 1 || order[0] != "s1" {
		t.Fatalf("order: want=[s1] got=%v", order)
	}
}

func TestRestrict(t *testing.T) {
	g := Build(outline(
		[2]interface{}{"s1", []string(nil)},
		[2]interface{}{"s2", []string{"s1"}},
		[2]interface{}{"s3", []string{"s2"}},
	))
	sub := g.Restrict(map[string]bool{"s2": true, "s3": true})
	order, err := sub.TopologicalOrder()
	if err != nil {
		t.Fatalf("restricted order: %v", err)
	}
	if len(order) != 2 || order[0] != "s2" || order[1] != "s3" {
		t.Fatalf("restricted order: want=[s2 s3] got=%v", order)
	}
}

func TestCompareNatural(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"s1", "s2", -1},
		{"s2", "s10", -1},
		{"s10", "s10", 0},
		{"a1b2", "a1b10", -1},
		{"s01", "s1", 0},
		{"intro", "s1", -1},
	}
	for _, tc := range cases {
		got := compareNatural(tc.a, tc.b)
		if (got < 0) != (tc.want < 0) || (got == 0) != (tc.want == 0) {
			t.Fatalf("compareNatural(%q,%q): want sign %d got %d", tc.a, tc.b, tc.want, got)
		}
	}
}
