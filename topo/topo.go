// Package topo implements the dependency sorter used to order flush tasks.
//
// The input is a partial ordering: a set of pairs (a, b) meaning "b must be
// fully processed before a", plus the full item set (items with no edges are
// legal). The output is a single rooted tree whose depth-first traversal is
// a valid topological order; siblings are mutually independent.
//
// For a given partial ordering there are usually many valid orders, and the
// sorter makes no attempt to pick a stable one: the ready queue is seeded
// from map iteration, so two runs over the same input may produce different
// trees. Both are correct. Callers that observe breakage across runs have an
// under-specified dependency set, not a sorter bug.
package topo

import (
	"fmt"

	"github.com/syssam/unison"
)

// Options control how cycles found in the input are treated.
type Options struct {
	// AllowSelfCycles permits pairs of the form (x, x). The node is marked
	// cyclic instead of being rejected; resolution happens at a finer grain
	// than the sorter's (per element rather than per task).
	AllowSelfCycles bool

	// AllowAllCycles permits true multi-node cycles. Each cycle found is
	// collapsed into a single lead node carrying the cycle members in its
	// Cycles set, and the sort continues.
	AllowAllCycles bool
}

// Node is one entry in a Tree's arena. Children and Cycles hold arena
// indexes, keeping the structure free of pointer cycles and directly
// serializable.
type Node struct {
	Item     any   `msgpack:"item"`
	Children []int `msgpack:"children"`
	// Cycles lists the arena indexes collapsed into this node when it leads
	// a dependency cycle. Nil for acyclic nodes. A self-referential item has
	// a Cycles set containing only itself.
	Cycles []int `msgpack:"cycles"`
}

// Tree is the result of a sort: a flat node arena plus the root index.
// Root is -1 when the input was empty.
type Tree struct {
	Nodes []Node `msgpack:"nodes"`
	Root  int    `msgpack:"root"`
}

// Empty reports whether the tree holds no nodes.
func (t *Tree) Empty() bool { return t == nil || t.Root < 0 }

// Walk traverses the tree depth-first, parent before children, calling f
// with the arena index and node. This order is a valid topological order
// of the input.
func (t *Tree) Walk(f func(i int, n *Node)) {
	if t.Empty() {
		return
	}
	t.walk(t.Root, f)
}

func (t *Tree) walk(i int, f func(int, *Node)) {
	f(i, &t.Nodes[i])
	for _, c := range t.Nodes[i].Children {
		t.walk(c, f)
	}
}

// Order returns the flattened depth-first item order.
func (t *Tree) Order() []any {
	var out []any
	t.Walk(func(_ int, n *Node) { out = append(out, n.Item) })
	return out
}

// CycleItems returns the items collapsed into the node at index i, or nil
// if the node is acyclic.
func (t *Tree) CycleItems(i int) []any {
	n := &t.Nodes[i]
	if n.Cycles == nil {
		return nil
	}
	items := make([]any, len(n.Cycles))
	for j, c := range n.Cycles {
		items[j] = t.Nodes[c].Item
	}
	return items
}

// sorter holds the working state of one Sort call. Nodes live in a flat
// arena; every edge is a pair of arena indexes.
type sorter struct {
	items []any
	index map[any]int

	children [][]int
	cycles   [][]int

	// out[i] holds the nodes still blocked by i; blockers[i] holds the
	// nodes i is still blocked by. deps[i] accumulates every node that has
	// ever waited on i, for the tree-grouping pass.
	out      []map[int]bool
	blockers []map[int]bool
	deps     []map[int]bool

	collapsed []bool // absorbed into a cycle lead; excluded from output
}

// Sort orders items so that for every pair (a, b), b is emitted before a.
// Items must be comparable. See Options for cycle handling; with both
// options off, any cycle (including a self cycle) is a *unison.CycleError.
func Sort(tuples [][2]any, allitems []any, opts Options) (*Tree, error) {
	s := &sorter{index: make(map[any]int)}
	for _, it := range allitems {
		s.add(it)
	}
	for _, t := range tuples {
		s.add(t[0])
		s.add(t[1])
	}
	n := len(s.items)
	s.children = make([][]int, n)
	s.cycles = make([][]int, n)
	s.out = make([]map[int]bool, n)
	s.blockers = make([]map[int]bool, n)
	s.deps = make([]map[int]bool, n)
	s.collapsed = make([]bool, n)
	for i := 0; i < n; i++ {
		s.out[i] = make(map[int]bool)
		s.blockers[i] = make(map[int]bool)
		s.deps[i] = make(map[int]bool)
	}

	for _, t := range tuples {
		// Pair (a, b): b runs first. In edge terms b is the blocker of a.
		a, b := s.index[t[0]], s.index[t[1]]
		if a == b {
			if !opts.AllowSelfCycles {
				return nil, &unison.CycleError{Self: true, Edges: []string{fmt.Sprintf("%v -> %v", t[0], t[1])}}
			}
			if s.cycles[a] == nil {
				s.cycles[a] = []int{a}
			}
			continue
		}
		s.addEdge(b, a)
	}

	output, err := s.run(opts)
	if err != nil {
		return nil, err
	}
	return s.tree(output), nil
}

func (s *sorter) add(item any) {
	if _, ok := s.index[item]; !ok {
		s.index[item] = len(s.items)
		s.items = append(s.items, item)
	}
}

func (s *sorter) addEdge(first, second int) {
	s.out[first][second] = true
	s.deps[first][second] = true
	s.blockers[second][first] = true
}

// removeEdge drops the edge and reports whether its target became
// unblocked (-1 otherwise).
func (s *sorter) removeEdge(first, second int) int {
	delete(s.out[first], second)
	delete(s.blockers[second], first)
	delete(s.deps[first], second)
	if len(s.blockers[second]) == 0 {
		return second
	}
	return -1
}

// run performs the queue loop, collapsing cycles when permitted, and
// returns the emit order as arena indexes.
func (s *sorter) run(opts Options) ([]int, error) {
	var queue []int
	// Seeding from the index map rather than the arena keeps the ready
	// order unspecified, which is part of the contract.
	for _, i := range s.index {
		if len(s.blockers[i]) == 0 {
			queue = append(queue, i)
		}
	}
	processed := make([]bool, len(s.items))
	remaining := len(s.items)
	var output []int
	for remaining > 0 {
		if len(queue) == 0 {
			if !opts.AllowAllCycles {
				return nil, &unison.CycleError{Edges: s.describeRemaining(processed)}
			}
			cycle := s.findCycle(processed)
			if len(cycle) == 0 {
				// Edges remain but no cycle is reachable; should not happen
				// with a consistent edge set.
				return nil, &unison.CycleError{Edges: s.describeRemaining(processed)}
			}
			lead := cycle[0][0]
			if s.cycles[lead] == nil {
				s.cycles[lead] = []int{}
			}
			seen := make(map[int]bool)
			for _, c := range s.cycles[lead] {
				seen[c] = true
			}
			for _, e := range cycle {
				freed := s.removeEdge(e[0], e[1])
				for _, m := range e {
					if !seen[m] {
						seen[m] = true
						s.cycles[lead] = append(s.cycles[lead], m)
					}
				}
				if freed >= 0 {
					queue = append(queue, freed)
					if freed != lead {
						s.collapsed[freed] = true
					}
				}
			}
			continue
		}
		i := queue[len(queue)-1]
		queue = queue[:len(queue)-1]
		if processed[i] {
			continue
		}
		processed[i] = true
		remaining--
		if !s.collapsed[i] {
			output = append(output, i)
		}
		for dependent := range s.out[i] {
			delete(s.blockers[dependent], i)
			if len(s.blockers[dependent]) == 0 {
				queue = append(queue, dependent)
			}
		}
		s.out[i] = map[int]bool{}
	}
	return output, nil
}

// findCycle locates one cycle among the unprocessed nodes via depth-first
// search and returns it as a list of edges.
func (s *sorter) findCycle(processed []bool) [][2]int {
	seen := make(map[int]bool)
	var cycle [][2]int
	var traverse func(from []int, parent int) int
	traverse = func(from []int, parent int) int {
		for _, i := range from {
			if processed[i] {
				continue
			}
			if seen[i] {
				if parent >= 0 {
					cycle = append(cycle, [2]int{parent, i})
				}
				return i
			}
			seen[i] = true
			next := make([]int, 0, len(s.out[i]))
			for c := range s.out[i] {
				next = append(next, c)
			}
			if x := traverse(next, i); x < 0 {
				delete(seen, i)
			} else {
				if parent >= 0 {
					cycle = append(cycle, [2]int{parent, i})
				}
				return x
			}
		}
		return -1
	}
	all := make([]int, 0, len(s.items))
	for i := range s.items {
		all = append(all, i)
	}
	if traverse(all, -1) < 0 {
		return nil
	}
	return cycle
}

func (s *sorter) describeRemaining(processed []bool) []string {
	var edges []string
	for i := range s.items {
		if processed[i] {
			continue
		}
		for c := range s.out[i] {
			edges = append(edges, fmt.Sprintf("%v -> %v", s.items[i], s.items[c]))
		}
	}
	return edges
}

// tree groups the straight-line output into a rooted tree: each emitted
// node becomes a child of the deepest already-placed node whose dependency
// set contains it, so unrelated nodes end up as siblings.
func (s *sorter) tree(output []int) *Tree {
	t := &Tree{Root: -1, Nodes: make([]Node, len(s.items))}
	for i, item := range s.items {
		t.Nodes[i] = Node{Item: item, Cycles: s.cycles[i]}
	}
	cur := -1
	for _, o := range output {
		if t.Root < 0 {
			t.Root = o
			cur = o
			continue
		}
		for _, c := range t.Nodes[cur].Children {
			if s.deps[c][o] {
				cur = c
			}
		}
		t.Nodes[cur].Children = append(t.Nodes[cur].Children, o)
	}
	return t
}
