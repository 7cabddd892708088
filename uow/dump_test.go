package uow_test

import (
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/unison/uow"
)

func samplePlan() *uow.DumpNode {
	return &uow.DumpNode{
		Kind:  uow.DumpPlan,
		Label: "flush deadbeef",
		Children: []*uow.DumpNode{
			{
				Kind:  uow.DumpTask,
				Label: "zoo",
				Children: []*uow.DumpNode{
					{Kind: uow.DumpSave, Label: "zoo(1)", Detail: "listonly"},
					{Kind: uow.DumpSave, Label: "zoo(pending)"},
					{Kind: uow.DumpDependency, Label: "zoo.animals", Detail: "processes zoo"},
					{
						Kind:  uow.DumpTask,
						Label: "animal",
						Children: []*uow.DumpNode{
							{Kind: uow.DumpSave, Label: "animal(pending)"},
							{Kind: uow.DumpDelete, Label: "animal(7)"},
						},
					},
				},
			},
		},
	}
}

func TestDumpNode_String(t *testing.T) {
	t.Parallel()

	g := goldie.New(t)
	g.Assert(t, "flush_plan", []byte(samplePlan().String()))
}

func TestDumpNode_Walk(t *testing.T) {
	t.Parallel()

	var kinds []uow.DumpKind
	var depths []int
	samplePlan().Walk(func(depth int, n *uow.DumpNode) {
		kinds = append(kinds, n.Kind)
		depths = append(depths, depth)
	})
	assert.Equal(t, []uow.DumpKind{
		uow.DumpPlan, uow.DumpTask, uow.DumpSave, uow.DumpSave,
		uow.DumpDependency, uow.DumpTask, uow.DumpSave, uow.DumpDelete,
	}, kinds)
	assert.Equal(t, []int{0, 1, 2, 2, 2, 2, 3, 3}, depths)
}

func TestDumpNode_BinaryRoundTrip(t *testing.T) {
	t.Parallel()

	in := samplePlan()
	raw, err := in.MarshalBinary()
	require.NoError(t, err)

	var out uow.DumpNode
	require.NoError(t, out.UnmarshalBinary(raw))
	assert.Equal(t, in.String(), out.String())
	assert.Equal(t, in, &out)
}

func TestDumpKind_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "plan", uow.DumpPlan.String())
	assert.Equal(t, "cycle", uow.DumpCycle.String())
	assert.Equal(t, "cyclical-dependency", uow.DumpCyclicalDependency.String())
	assert.Equal(t, "unknown", uow.DumpKind(42).String())
}
