package index

import (
	"bytes"
	"context"
	"sort"

	"github.com/loganmhb/cliodb/datalog/codec"
)

// Tree is a persistent B-tree of index keys stored in a NodeStore.
// An empty root means an empty tree.
type Tree struct {
	nodes *NodeStore
	root  string
}

// Root returns the link of the root node
func (t Tree) Root() string {
	return t.root
}

// child is an interior entry: the smallest key below a node and its link.
type child struct {
	first []byte
	link  string
}

// Merge returns a tree containing t's keys plus keys, which must be sorted.
// Only nodes on paths that receive new keys are rewritten; every other
// subtree is shared with t.
func (t Tree) Merge(ctx context.Context, keys [][]byte) (Tree, error) {
	if len(keys) == 0 {
		return t, nil
	}

	var children []child
	var err error
	if t.root == "" {
		children, err = t.writeLeaves(ctx, keys)
	} else {
		children, err = t.insert(ctx, t.root, keys)
	}
	if err != nil {
		return t, err
	}

	// Grow upward until a single root remains.
	for len(children) > 1 {
		if children, err = t.writeInterior(ctx, children); err != nil {
			return t, err
		}
	}
	return Tree{nodes: t.nodes, root: children[0].link}, nil
}

// insert adds keys below the node at link and returns the node(s) that
// replace it. A node that overflows is split into several siblings.
func (t Tree) insert(ctx context.Context, link string, keys [][]byte) ([]child, error) {
	n, err := t.nodes.load(ctx, link)
	if err != nil {
		return nil, err
	}
	if n.Leaf {
		return t.writeLeaves(ctx, mergeSorted(n.Keys, keys))
	}

	out := make([]child, 0, len(n.Keys)+1)
	rest := keys
	for i := range n.Keys {
		// Child i takes keys below the next child's first key; child 0 also
		// takes keys below its own first key.
		mine := rest
		if i+1 < len(n.Keys) {
			bound := n.Keys[i+1]
			cut := sort.Search(len(rest), func(j int) bool {
				return bytes.Compare(rest[j], bound) >= 0
			})
			mine, rest = rest[:cut], rest[cut:]
		} else {
			rest = nil
		}

		if len(mine) == 0 {
			out = append(out, child{first: n.Keys[i], link: n.Links[i]})
			continue
		}
		replaced, err := t.insert(ctx, n.Links[i], mine)
		if err != nil {
			return nil, err
		}
		out = append(out, replaced...)
	}
	return t.writeInterior(ctx, out)
}

func (t Tree) writeLeaves(ctx context.Context, keys [][]byte) ([]child, error) {
	var out []child
	for _, chunk := range chunk(len(keys), t.nodes.opts.LeafCapacity) {
		leaf := &codec.Node{Leaf: true, Keys: keys[chunk.lo:chunk.hi]}
		link, err := t.nodes.save(ctx, leaf)
		if err != nil {
			return nil, err
		}
		out = append(out, child{first: leaf.Keys[0], link: link})
	}
	return out, nil
}

func (t Tree) writeInterior(ctx context.Context, children []child) ([]child, error) {
	var out []child
	for _, chunk := range chunk(len(children), t.nodes.opts.NodeCapacity) {
		n := &codec.Node{}
		for _, c := range children[chunk.lo:chunk.hi] {
			n.Keys = append(n.Keys, c.first)
			n.Links = append(n.Links, c.link)
		}
		link, err := t.nodes.save(ctx, n)
		if err != nil {
			return nil, err
		}
		out = append(out, child{first: n.Keys[0], link: link})
	}
	return out, nil
}

type span struct{ lo, hi int }

// chunk splits n items into the fewest spans of at most size items,
// balanced so no span is much smaller than the others.
func chunk(n, size int) []span {
	count := (n + size - 1) / size
	spans := make([]span, count)
	lo := 0
	for i := range spans {
		hi := lo + (n-lo)/(count-i)
		spans[i] = span{lo, hi}
		lo = hi
	}
	return spans
}

// mergeSorted merges two sorted key lists, dropping duplicates.
func mergeSorted(a, b [][]byte) [][]byte {
	out := make([][]byte, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch c := bytes.Compare(a[i], b[j]); {
		case c < 0:
			out = append(out, a[i])
			i++
		case c > 0:
			out = append(out, b[j])
			j++
		default:
			out = append(out, a[i])
			i++
			j++
		}
	}
	out = append(out, a[i:]...)
	return append(out, b[j:]...)
}

// treeIterator walks a tree's keys in order starting at a seek key. Nodes
// are loaded lazily, so an abandoned scan costs only what it read.
type treeIterator struct {
	ctx     context.Context
	tree    Tree
	start   []byte
	stack   []frame
	started bool
	key     []byte
	err     error
}

// frame is a position within a node: for leaves the next key to emit, for
// interior nodes the child being walked.
type frame struct {
	node *codec.Node
	pos  int
}

func (t Tree) seek(ctx context.Context, start []byte) *treeIterator {
	return &treeIterator{ctx: ctx, tree: t, start: start}
}

func (it *treeIterator) next() bool {
	if it.err != nil {
		return false
	}
	if !it.started {
		it.started = true
		if it.tree.root == "" {
			return false
		}
		if it.err = it.descend(it.tree.root, it.start); it.err != nil {
			return false
		}
	}

	for len(it.stack) > 0 {
		top := &it.stack[len(it.stack)-1]
		if top.node.Leaf {
			if top.pos < len(top.node.Keys) {
				it.key = top.node.Keys[top.pos]
				top.pos++
				return true
			}
			it.stack = it.stack[:len(it.stack)-1]
			continue
		}

		top.pos++
		if top.pos >= len(top.node.Links) {
			it.stack = it.stack[:len(it.stack)-1]
			continue
		}
		if it.err = it.descend(top.node.Links[top.pos], nil); it.err != nil {
			return false
		}
	}
	return false
}

// descend pushes the path from link down to the leaf holding the first key
// >= start. A nil start means the leftmost leaf.
func (it *treeIterator) descend(link string, start []byte) error {
	for {
		n, err := it.tree.nodes.load(it.ctx, link)
		if err != nil {
			return err
		}
		if n.Leaf {
			pos := sort.Search(len(n.Keys), func(j int) bool {
				return bytes.Compare(n.Keys[j], start) >= 0
			})
			it.stack = append(it.stack, frame{node: n, pos: pos})
			return nil
		}

		idx := sort.Search(len(n.Keys), func(j int) bool {
			return bytes.Compare(n.Keys[j], start) > 0
		}) - 1
		if idx < 0 {
			idx = 0
		}
		it.stack = append(it.stack, frame{node: n, pos: idx})
		link = n.Links[idx]
	}
}
