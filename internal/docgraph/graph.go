package docgraph

import (
	"container/heap"
	"errors"
	"sort"
	"strings"

	"github.com/yungbote/docwriter-backend/internal/document"
)

// ErrCycle is returned when the outline's dependencies are not a DAG.
var ErrCycle = errors.New("Cycle detected in section dependencies")

/*
Graph is the section dependency graph: nodes are section ids, with one edge
dep -> sid for every declared dependency. Edges referencing unknown ids are
dropped. Deterministic ordering uses natural keys, so "s2" sorts before
"s10"; ties fall back to outline insertion order.
*/
type Graph struct {
	nodes []string
	index map[string]int // insertion order
	adj   map[string][]string
	rev   map[string]map[string]bool
}

// Build constructs the graph from a plan outline.
func Build(outline []document.Section) *Graph {
	g := &Graph{
		index: map[string]int{},
		adj:   map[string][]string{},
		rev:   map[string]map[string]bool{},
	}
	for _, s := range outline {
		if s.ID == "" {
			continue
		}
		if _, ok := g.index[s.ID]; ok {
			continue
		}
		g.index[s.ID] = len(g.nodes)
		g.nodes = append(g.nodes, s.ID)
	}
	for _, s := range outline {
		for _, dep := range s.Dependencies {
			if _, ok := g.index[dep]; !ok {
				continue
			}
			if _, ok := g.index[s.ID]; !ok {
				continue
			}
			if g.rev[s.ID] == nil {
				g.rev[s.ID] = map[string]bool{}
			}
			if g.rev[s.ID][dep] {
				continue
			}
			g.rev[s.ID][dep] = true
			g.adj[dep] = append(g.adj[dep], s.ID)
		}
	}
	return g
}

// Restrict returns a subgraph containing only the given ids (and the edges
// between them), preserving ordering keys.
func (g *Graph) Restrict(keep map[string]bool) *Graph {
	sub := &Graph{
		index: map[string]int{},
		adj:   map[string][]string{},
		rev:   map[string]map[string]bool{},
	}
	for _, id := range g.nodes {
		if !keep[id] {
			continue
		}
		sub.index[id] = len(sub.nodes)
		sub.nodes = append(sub.nodes, id)
	}
	for _, id := range sub.nodes {
		for dep := range g.rev[id] {
			if !keep[dep] {
				continue
			}
			if sub.rev[id] == nil {
				sub.rev[id] = map[string]bool{}
			}
			sub.rev[id][dep] = true
			sub.adj[dep] = append(sub.adj[dep], id)
		}
	}
	return sub
}

func (g *Graph) Nodes() []string {
	return append([]string(nil), g.nodes...)
}

// TopologicalOrder returns a total order in which every dependency precedes
// its dependents, draining ready nodes smallest natural key first.
func (g *Graph) TopologicalOrder() ([]string, error) {
	indeg := map[string]int{}
	for _, n := range g.nodes {
		indeg[n] = len(g.rev[n])
	}
	pq := &nodeHeap{graph: g}
	heap.Init(pq)
	for _, n := range g.nodes {
		if indeg[n] == 0 {
			heap.Push(pq, n)
		}
	}
	order := make([]string, 0, len(g.nodes))
	for pq.Len() > 0 {
		u := heap.Pop(pq).(string)
		order = append(order, u)
		for _, v := range g.adj[u] {
			indeg[v]--
			if indeg[v] == 0 {
				heap.Push(pq, v)
			}
		}
	}
	if len(order) != len(g.nodes) {
		return nil, ErrCycle
	}
	return order, nil
}

// Layers returns Kahn layers: each layer's sections depend only on earlier
// layers, sorted by natural key within the layer.
func (g *Graph) Layers() ([][]string, error) {
	indeg := map[string]int{}
	for _, n := range g.nodes {
		indeg[n] = len(g.rev[n])
	}
	frontier := []string{}
	for _, n := range g.nodes {
		if indeg[n] == 0 {
			frontier = append(frontier, n)
		}
	}
	layers := [][]string{}
	seen := 0
	for len(frontier) > 0 {
		g.sortByKey(frontier)
		layer := append([]string(nil), frontier...)
		layers = append(layers, layer)
		next := []string{}
		for _, u := range layer {
			seen++
			for _, v := range g.adj[u] {
				indeg[v]--
				if indeg[v] == 0 {
					next = append(next, v)
				}
			}
		}
		frontier = next
	}
	if seen != len(g.nodes) {
		return nil, ErrCycle
	}
	return layers, nil
}

func (g *Graph) sortByKey(ids []string) {
	sort.SliceStable(ids, func(i, j int) bool { return g.less(ids[i], ids[j]) })
}

func (g *Graph) less(a, b string) bool {
	if c := compareNatural(a, b); c != 0 {
		return c < 0
	}
	return g.index[a] < g.index[b]
}

// nodeHeap is a priority queue over section ids keyed by natural order.
type nodeHeap struct {
	graph *Graph
	items []string
}

func (h *nodeHeap) Len() int            { return len(h.items) }
func (h *nodeHeap) Less(i, j int) bool  { return h.graph.less(h.items[i], h.items[j]) }
func (h *nodeHeap) Swap(i, j int)       { h.items[i], h.items[j] = h.items[j], h.items[i] }
func (h *nodeHeap) Push(x interface{})  { h.items = append(h.items, x.(string)) }
func (h *nodeHeap) Pop() interface{} {
	last := h.items[len(h.items)-1]
	h.items = h.items[:len(h.items)-1]
	return last
}

/*
compareNatural compares ids by alternating runs of digits and non-digits:
digit runs compare numerically (by trimmed length, then lexically), other
runs compare as strings. "s2" < "s10", "a1b2" < "a1b10".
*/
func compareNatural(a, b string) int {
	for a != "" && b != "" {
		ra, restA, numA := nextRun(a)
		rb, restB, numB := nextRun(b)
		switch {
		case numA && numB:
			ta, tb := strings.TrimLeft(ra, "0"), strings.TrimLeft(rb, "0")
			if ta == "" {
				ta = "0"
			}
			if tb == "" {
				tb = "0"
			}
			if len(ta) != len(tb) {
				if len(ta) < len(tb) {
					return -1
				}
				return 1
			}
			if ta != tb {
				if ta < tb {
					return -1
				}
				return 1
			}
		case numA != numB:
			// Numeric runs sort before non-numeric ones.
			if numA {
				return -1
			}
			return 1
		default:
			if ra != rb {
				if ra < rb {
					return -1
				}
				return 1
			}
		}
		a, b = restA, restB
	}
	switch {
	case a == "" && b == "":
		return 0
	case a == "":
		return -1
	default:
		return 1
	}
}

func nextRun(s string) (run, rest string, numeric bool) {
	if s == "" {
		return "", "", false
	}
	numeric = s[0] >= '0' && s[0] <= '9'
	i := 1
	for i < len(s) {
		d := s[i] >= '0' && s[i] <= '9'
		if d != numeric {
			break
		}
		i++
	}
	return s[:i], s[i:], numeric
}
