package uow

import (
	"fmt"
	"strings"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/syssam/unison/schema"
)

// DumpKind tags one node of a flush plan dump. The set is closed: every
// node a plan can contain is one of these.
type DumpKind uint8

const (
	// DumpPlan is the root node of a dump.
	DumpPlan DumpKind = iota
	// DumpTask is one task: the save and delete work of one mapper.
	DumpTask
	// DumpCycle is a task rebuilt from a dependency cycle, executing in
	// place of the cycle's lead task.
	DumpCycle
	// DumpSave is one element on the save branch.
	DumpSave
	// DumpDelete is one element on the delete branch.
	DumpDelete
	// DumpDependency is a dependency processor invocation.
	DumpDependency
	// DumpCyclicalDependency is a processor invocation narrowed to one
	// point of a cycle resolution.
	DumpCyclicalDependency
)

func (k DumpKind) String() string {
	switch k {
	case DumpPlan:
		return "plan"
	case DumpTask:
		return "task"
	case DumpCycle:
		return "cycle"
	case DumpSave:
		return "save"
	case DumpDelete:
		return "delete"
	case DumpDependency:
		return "dependency"
	case DumpCyclicalDependency:
		return "cyclical-dependency"
	}
	return "unknown"
}

// DumpNode is one node of a flush plan rendered as data: a tagged variant
// with children, rather than live task structures. It serializes to a
// compact binary form for recording plans and diffing them across runs.
type DumpNode struct {
	Kind     DumpKind    `msgpack:"kind"`
	Label    string      `msgpack:"label"`
	Detail   string      `msgpack:"detail,omitempty"`
	Children []*DumpNode `msgpack:"children,omitempty"`
}

// Walk traverses the dump depth-first, calling fn with each node and its
// depth. Rendering, filtering and comparison all build on this; the Kind
// tag is the whole dispatch surface.
func (n *DumpNode) Walk(fn func(depth int, n *DumpNode)) {
	n.walk(0, fn)
}

func (n *DumpNode) walk(depth int, fn func(int, *DumpNode)) {
	fn(depth, n)
	for _, c := range n.Children {
		c.walk(depth+1, fn)
	}
}

func (n *DumpNode) String() string {
	var b strings.Builder
	n.Walk(func(depth int, node *DumpNode) {
		b.WriteString(strings.Repeat("  ", depth))
		b.WriteString("[")
		b.WriteString(node.Kind.String())
		b.WriteString("] ")
		b.WriteString(node.Label)
		if node.Detail != "" {
			b.WriteString(" (")
			b.WriteString(node.Detail)
			b.WriteString(")")
		}
		b.WriteString("\n")
	})
	return b.String()
}

// dumpNodeWire mirrors DumpNode without its marshaling methods, so the
// encoder walks struct fields instead of calling back into MarshalBinary
// at every level of the tree.
type dumpNodeWire struct {
	Kind     DumpKind        `msgpack:"kind"`
	Label    string          `msgpack:"label"`
	Detail   string          `msgpack:"detail,omitempty"`
	Children []*dumpNodeWire `msgpack:"children,omitempty"`
}

func (n *DumpNode) wire() *dumpNodeWire {
	w := &dumpNodeWire{Kind: n.Kind, Label: n.Label, Detail: n.Detail}
	for _, c := range n.Children {
		w.Children = append(w.Children, c.wire())
	}
	return w
}

func (w *dumpNodeWire) node() *DumpNode {
	n := &DumpNode{Kind: w.Kind, Label: w.Label, Detail: w.Detail}
	for _, c := range w.Children {
		n.Children = append(n.Children, c.node())
	}
	return n
}

// MarshalBinary encodes the dump.
func (n *DumpNode) MarshalBinary() ([]byte, error) {
	return msgpack.Marshal(n.wire())
}

// UnmarshalBinary decodes a dump produced by MarshalBinary.
func (n *DumpNode) UnmarshalBinary(data []byte) error {
	var w dumpNodeWire
	if err := msgpack.Unmarshal(data, &w); err != nil {
		return err
	}
	*n = *w.node()
	return nil
}

// dump renders the sorted flush as a DumpNode tree mirroring the
// execution traversal.
func (f *flush) dump() *DumpNode {
	root := &DumpNode{Kind: DumpPlan, Label: "flush " + f.id}
	if f.head != nil {
		root.Children = append(root.Children, dumpTask(f.head))
	}
	return root
}

func dumpTask(t *Task) *DumpNode {
	n := &DumpNode{Kind: DumpTask, Label: t.label}
	if t.mapper == nil {
		n.Detail = "stub"
	}
	if t.circular != nil {
		c := dumpTask(t.circular)
		c.Kind = DumpCycle
		n.Children = append(n.Children, c)
	} else {
		for _, el := range t.saveElements() {
			n.Children = append(n.Children, dumpElement(t.mapper, el, DumpSave))
		}
		for _, dep := range t.cyclicalDeps {
			n.Children = append(n.Children, dumpDep(dep, DumpCyclicalDependency))
		}
		for _, dep := range t.deps {
			n.Children = append(n.Children, dumpDep(dep, DumpDependency))
		}
		for _, el := range t.deleteElements() {
			n.Children = append(n.Children, dumpElement(t.mapper, el, DumpDelete))
		}
	}
	for _, child := range t.childtasks {
		n.Children = append(n.Children, dumpTask(child))
	}
	return n
}

func dumpElement(m *schema.Mapper, el *element, kind DumpKind) *DumpNode {
	n := &DumpNode{Kind: kind, Label: elementLabel(m, el)}
	var details []string
	if el.listonly {
		details = append(details, "listonly")
	}
	n.Detail = strings.Join(details, ", ")
	for _, child := range el.childtasks {
		n.Children = append(n.Children, dumpTask(child))
	}
	return n
}

func dumpDep(dep *depInvocation, kind DumpKind) *DumpNode {
	return &DumpNode{
		Kind:   kind,
		Label:  dep.proc.parentMapper().Label + "." + dep.proc.rel().Name,
		Detail: "processes " + dep.fromTask.label,
	}
}

func elementLabel(m *schema.Mapper, el *element) string {
	if el.obj == nil {
		return "(placeholder)"
	}
	if m != nil {
		if key, ok, err := m.IdentityKey(el.obj, ""); err == nil && ok {
			return key.String()
		}
		return m.Label + "(pending)"
	}
	return fmt.Sprintf("%T", el.obj)
}
