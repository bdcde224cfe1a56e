package index

import (
	"bytes"

	"github.com/loganmhb/cliodb/datalog"
	"github.com/loganmhb/cliodb/datalog/codec"
)

// Overlay holds the datoms committed since the last merge, one persistent
// sorted tree per ordering. Insert never mutates: it path-copies and returns
// a new Overlay, so older snapshots keep seeing their own version.
type Overlay struct {
	trees [len(codec.Orderings)]*avlNode
	size  int
}

// EmptyOverlay returns an overlay with no datoms
func EmptyOverlay() *Overlay {
	return &Overlay{}
}

// Len returns the number of distinct datoms in the overlay
func (o *Overlay) Len() int {
	return o.size
}

// Insert returns a new overlay containing datoms in addition to o's
func (o *Overlay) Insert(datoms []datalog.Datom) *Overlay {
	next := *o
	for _, d := range datoms {
		var added bool
		for i, ord := range codec.Orderings {
			var inserted bool
			next.trees[i], inserted = avlInsert(next.trees[i], codec.EncodeKey(ord, d))
			added = added || inserted
		}
		if added {
			next.size++
		}
	}
	return &next
}

// Keys returns every key of ordering ord in sorted order
func (o *Overlay) Keys(ord codec.Ordering) [][]byte {
	keys := make([][]byte, 0, o.size)
	it := o.seek(ord, nil)
	for it.next() {
		keys = append(keys, it.key)
	}
	return keys
}

func (o *Overlay) seek(ord codec.Ordering, start []byte) *avlIterator {
	it := &avlIterator{}
	for n := o.trees[ord]; n != nil; {
		if bytes.Compare(n.key, start) >= 0 {
			it.stack = append(it.stack, n)
			n = n.left
		} else {
			n = n.right
		}
	}
	return it
}

type avlNode struct {
	key         []byte
	left, right *avlNode
	height      int
}

func nodeHeight(n *avlNode) int {
	if n == nil {
		return 0
	}
	return n.height
}

func (n *avlNode) fix() *avlNode {
	n.height = 1 + max(nodeHeight(n.left), nodeHeight(n.right))
	return n
}

// avlInsert returns a tree containing key. Nodes on the insertion path are
// copied; the rest are shared with n.
func avlInsert(n *avlNode, key []byte) (*avlNode, bool) {
	if n == nil {
		return &avlNode{key: key, height: 1}, true
	}

	c := bytes.Compare(key, n.key)
	if c == 0 {
		return n, false
	}

	cp := *n
	var inserted bool
	if c < 0 {
		cp.left, inserted = avlInsert(n.left, key)
	} else {
		cp.right, inserted = avlInsert(n.right, key)
	}
	if !inserted {
		return n, false
	}
	return rebalance(cp.fix()), true
}

// rebalance restores the AVL property at n, which must be a fresh copy.
// Children that rotate are copied before they are modified.
func rebalance(n *avlNode) *avlNode {
	balance := nodeHeight(n.left) - nodeHeight(n.right)
	switch {
	case balance > 1:
		if nodeHeight(n.left.left) < nodeHeight(n.left.right) {
			n.left = rotateLeft(n.left)
		}
		return rotateRight(n)
	case balance < -1:
		if nodeHeight(n.right.right) < nodeHeight(n.right.left) {
			n.right = rotateRight(n.right)
		}
		return rotateLeft(n)
	default:
		return n
	}
}

func rotateRight(n *avlNode) *avlNode {
	top := *n.left
	parent := *n
	parent.left = top.right
	top.right = parent.fix()
	return top.fix()
}

func rotateLeft(n *avlNode) *avlNode {
	top := *n.right
	parent := *n
	parent.right = top.left
	top.left = parent.fix()
	return top.fix()
}

// avlIterator walks an overlay tree in order using an explicit stack.
type avlIterator struct {
	stack []*avlNode
	key   []byte
}

func (it *avlIterator) next() bool {
	if len(it.stack) == 0 {
		return false
	}
	n := it.stack[len(it.stack)-1]
	it.stack = it.stack[:len(it.stack)-1]
	it.key = n.key
	for c := n.right; c != nil; c = c.left {
		it.stack = append(it.stack, c)
	}
	return true
}
