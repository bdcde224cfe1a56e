package index

import (
	"context"

	"github.com/loganmhb/cliodb/datalog"
	"github.com/loganmhb/cliodb/datalog/codec"
	"golang.org/x/sync/errgroup"
)

// Roots are the root links of the four durable trees, in codec.Orderings order.
type Roots [len(codec.Orderings)]string

// Indexes is an immutable index snapshot: durable roots plus the overlay
// of datoms not yet merged into them.
type Indexes struct {
	nodes   *NodeStore
	roots   Roots
	overlay *Overlay
}

// New returns indexes over existing durable roots with an empty overlay
func New(nodes *NodeStore, roots Roots) *Indexes {
	return &Indexes{nodes: nodes, roots: roots, overlay: EmptyOverlay()}
}

// Roots returns the durable root links
func (ix *Indexes) Roots() Roots {
	return ix.roots
}

// Nodes returns the node store the trees live in
func (ix *Indexes) Nodes() *NodeStore {
	return ix.nodes
}

// OverlaySize returns the number of datoms waiting to be merged
func (ix *Indexes) OverlaySize() int {
	return ix.overlay.Len()
}

// Insert returns new indexes with datoms added to the overlay
func (ix *Indexes) Insert(datoms []datalog.Datom) *Indexes {
	if len(datoms) == 0 {
		return ix
	}
	next := *ix
	next.overlay = ix.overlay.Insert(datoms)
	return &next
}

// Merge folds the overlay into the durable trees and returns indexes with
// the new roots and an empty overlay. The receiver stays valid: all of its
// nodes are still in the store and untouched subtrees are shared.
func (ix *Indexes) Merge(ctx context.Context) (*Indexes, error) {
	if ix.overlay.Len() == 0 {
		return ix, nil
	}

	var roots Roots
	g, gctx := errgroup.WithContext(ctx)
	for i, ord := range codec.Orderings {
		i, ord := i, ord
		g.Go(func() error {
			tree, err := Tree{nodes: ix.nodes, root: ix.roots[i]}.Merge(gctx, ix.overlay.Keys(ord))
			if err != nil {
				return err
			}
			roots[i] = tree.root
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return New(ix.nodes, roots), nil
}

// Open returns a read view of the snapshot. It touches every root so an
// unreadable store is reported here rather than mid-scan.
func (ix *Indexes) Open(ctx context.Context) (*View, error) {
	for _, root := range ix.roots {
		if root == "" {
			continue
		}
		if _, err := ix.nodes.load(ctx, root); err != nil {
			return nil, err
		}
	}
	return &View{ix: ix}, nil
}
