package workflow

import "github.com/hupe1980/actoridx/model"

// Node links the records of one pass. The final node carries no record and
// marks the end of the pass.
type Node struct {
	Record *model.WorkflowRecord
	Next   *Node
}

// Punctuation reports whether n terminates the chain.
func (n *Node) Punctuation() bool {
	return n == nil || n.Record == nil
}

// Chain links records into a punctuated chain.
func Chain(records []*model.WorkflowRecord) *Node {
	head := &Node{}
	for i := len(records) - 1; i >= 0; i-- {
		head = &Node{Record: records[i], Next: head}
	}
	return head
}

// Records returns the records from n up to the punctuation.
func (n *Node) Records() []*model.WorkflowRecord {
	var out []*model.WorkflowRecord
	for ; !n.Punctuation(); n = n.Next {
		out = append(out, n.Record)
	}
	return out
}
