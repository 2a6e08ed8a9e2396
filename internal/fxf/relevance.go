package fxf

// NoParent is the parent index of a root relevance node.
const NoParent = -1

type relevanceNode struct {
	clauses []string
	parent  int
}

// RelevanceArena holds the relevance clause sets of one document. Nodes are
// addressed by index and point at their parent; chains are built root to
// leaf during a single parse, so they cannot cycle.
type RelevanceArena struct {
	nodes []relevanceNode
}

// Add appends a clause set under parent and returns its index.
func (a *RelevanceArena) Add(clauses []string, parent int) int {
	a.nodes = append(a.nodes, relevanceNode{clauses: clauses, parent: parent})
	return len(a.nodes) - 1
}

// Len returns the number of nodes.
func (a *RelevanceArena) Len() int { return len(a.nodes) }

// Clauses returns the clauses declared at node idx itself.
func (a *RelevanceArena) Clauses(idx int) []string { return a.nodes[idx].clauses }

// Parent returns the parent index of node idx, or NoParent.
func (a *RelevanceArena) Parent(idx int) int { return a.nodes[idx].parent }

// Flatten returns the effective relevance of node idx: the root's clauses
// first and idx's own clauses last.
func (a *RelevanceArena) Flatten(idx int) []string {
	var chain []int
	for i := idx; i != NoParent; i = a.nodes[i].parent {
		chain = append(chain, i)
	}

	out := []string{}
	for i := len(chain) - 1; i >= 0; i-- {
		out = append(out, a.nodes[chain[i]].clauses...)
	}
	return out
}
