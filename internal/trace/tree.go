// ABOUTME: Client-side tree reconstruction over flat trace rows
// ABOUTME: Orphaned children (parent not in the slice) surface as roots so partial trees still render

package trace

import "github.com/2389/warrant/internal/store"

// Node is one trace with its children, reconstructed from flat rows.
type Node struct {
	Trace    *store.DelegationTrace
	Children []*Node
}

// BuildTree links rows into trees via ParentTraceID. Input order is
// preserved among siblings and roots, so feeding it GetTraceTree output
// yields children in dispatch order. A row whose parent is missing from the
// slice becomes a root; incomplete trees are expected mid-goal.
func BuildTree(traces []*store.DelegationTrace) []*Node {
	nodes := make(map[string]*Node, len(traces))
	for _, t := range traces {
		nodes[t.TraceID] = &Node{Trace: t}
	}

	var roots []*Node
	for _, t := range traces {
		node := nodes[t.TraceID]
		if t.ParentTraceID != nil {
			if parent, ok := nodes[*t.ParentTraceID]; ok {
				parent.Children = append(parent.Children, node)
				continue
			}
		}
		roots = append(roots, node)
	}
	return roots
}
