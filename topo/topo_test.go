package topo_test

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/unison"
	"github.com/syssam/unison/topo"
)

// position returns the index of item in order, failing the test when the
// item was not emitted.
func position(t *testing.T, order []any, item any) int {
	t.Helper()
	for i, o := range order {
		if o == item {
			return i
		}
	}
	t.Fatalf("item %v missing from order %v", item, order)
	return -1
}

// assertOrdered checks that for every pair (a, b), b is emitted before a.
func assertOrdered(t *testing.T, order []any, tuples [][2]any) {
	t.Helper()
	for _, tup := range tuples {
		a, b := tup[0], tup[1]
		if a == b {
			continue
		}
		require.Less(t, position(t, order, b), position(t, order, a),
			"%v must be emitted before %v in %v", b, a, order)
	}
}

func TestSort_Chain(t *testing.T) {
	t.Parallel()

	tuples := [][2]any{{"a", "b"}, {"b", "c"}}
	tree, err := topo.Sort(tuples, []any{"a", "b", "c"}, topo.Options{})
	require.NoError(t, err)
	assert.Equal(t, []any{"c", "b", "a"}, tree.Order())
}

func TestSort_Independent(t *testing.T) {
	t.Parallel()

	// Items with no tuples at all are still emitted.
	tree, err := topo.Sort(nil, []any{"x", "y", "z"}, topo.Options{})
	require.NoError(t, err)
	assert.ElementsMatch(t, []any{"x", "y", "z"}, tree.Order())
}

func TestSort_Partial(t *testing.T) {
	t.Parallel()

	tuples := [][2]any{
		{"compile", "parse"},
		{"link", "compile"},
		{"test", "link"},
		{"package", "link"},
	}
	items := []any{"parse", "compile", "link", "test", "package", "docs"}
	tree, err := topo.Sort(tuples, items, topo.Options{})
	require.NoError(t, err)

	order := tree.Order()
	assert.Len(t, order, len(items))
	assertOrdered(t, order, tuples)
}

func TestSort_Empty(t *testing.T) {
	t.Parallel()

	tree, err := topo.Sort(nil, nil, topo.Options{})
	require.NoError(t, err)
	assert.True(t, tree.Empty())
	assert.Nil(t, tree.Order())
}

func TestSort_CycleRejected(t *testing.T) {
	t.Parallel()

	tuples := [][2]any{{"a", "b"}, {"b", "a"}}
	_, err := topo.Sort(tuples, nil, topo.Options{})
	require.Error(t, err)

	var cerr *unison.CycleError
	require.ErrorAs(t, err, &cerr)
	assert.False(t, cerr.Self)
	assert.NotEmpty(t, cerr.Edges)
}

func TestSort_SelfCycle(t *testing.T) {
	t.Parallel()

	t.Run("rejected by default", func(t *testing.T) {
		t.Parallel()
		_, err := topo.Sort([][2]any{{"a", "a"}}, nil, topo.Options{})
		var cerr *unison.CycleError
		require.ErrorAs(t, err, &cerr)
		assert.True(t, cerr.Self)
	})

	t.Run("allowed marks node cyclic", func(t *testing.T) {
		t.Parallel()
		tree, err := topo.Sort([][2]any{{"a", "a"}, {"a", "b"}}, nil, topo.Options{AllowSelfCycles: true})
		require.NoError(t, err)
		assert.Equal(t, []any{"b", "a"}, tree.Order())

		var selfCycles []any
		tree.Walk(func(i int, n *topo.Node) {
			if n.Cycles != nil {
				selfCycles = tree.CycleItems(i)
			}
		})
		assert.Equal(t, []any{"a"}, selfCycles)
	})
}

func TestSort_CycleCollapsed(t *testing.T) {
	t.Parallel()

	// b and c depend on each other; with AllowAllCycles the pair is
	// collapsed into one lead node and the rest of the order holds.
	tuples := [][2]any{
		{"b", "a"},
		{"c", "b"},
		{"b", "c"},
		{"d", "c"},
	}
	tree, err := topo.Sort(tuples, nil, topo.Options{AllowAllCycles: true})
	require.NoError(t, err)

	order := tree.Order()
	require.Len(t, order, 3, "collapsed member is excluded from the output")
	assert.Equal(t, "a", order[0])
	assert.Equal(t, "d", order[2])

	var cycle []any
	tree.Walk(func(i int, n *topo.Node) {
		if n.Cycles != nil {
			cycle = tree.CycleItems(i)
		}
	})
	assert.ElementsMatch(t, []any{"b", "c"}, cycle)
}

func TestSort_WalkMatchesOrder(t *testing.T) {
	t.Parallel()

	tuples := [][2]any{{"a", "b"}, {"c", "b"}, {"d", "a"}, {"d", "c"}}
	tree, err := topo.Sort(tuples, nil, topo.Options{})
	require.NoError(t, err)

	var walked []any
	tree.Walk(func(_ int, n *topo.Node) { walked = append(walked, n.Item) })
	assert.Equal(t, tree.Order(), walked)
}

// TestSort_RandomDAG generates random acyclic edge sets and checks every
// run against the full tuple list. The sorter is deliberately unstable
// across runs, so only the partial-order contract is asserted.
func TestSort_RandomDAG(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(1))
	for round := 0; round < 50; round++ {
		n := 3 + rng.Intn(10)
		items := make([]any, n)
		for i := range items {
			items[i] = fmt.Sprintf("n%d", i)
		}
		var tuples [][2]any
		// Edges only point from higher to lower index, so the input is
		// acyclic by construction.
		for a := 1; a < n; a++ {
			for b := 0; b < a; b++ {
				if rng.Intn(3) == 0 {
					tuples = append(tuples, [2]any{items[a], items[b]})
				}
			}
		}
		tree, err := topo.Sort(tuples, items, topo.Options{})
		require.NoError(t, err)

		order := tree.Order()
		require.Len(t, order, n)
		assertOrdered(t, order, tuples)
	}
}
