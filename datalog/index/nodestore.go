// Package index implements the durable, copy-on-write datom indexes: a
// persistent B-tree per ordering stored as immutable blocks, plus an
// in-memory overlay of recent datoms that scans merge in on the fly.
package index

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/ristretto"
	"github.com/google/uuid"
	"github.com/loganmhb/cliodb/datalog"
	"github.com/loganmhb/cliodb/datalog/codec"
	"github.com/loganmhb/cliodb/datalog/storage"
)

// Options controls the shape of durable trees and the node cache
type Options struct {
	LeafCapacity int   // max datom keys per leaf
	NodeCapacity int   // max children per interior node
	CacheBytes   int64 // decoded node cache budget; 0 disables caching
}

// DefaultOptions returns the production tree shape
func DefaultOptions() Options {
	return Options{
		LeafCapacity: 2048,
		NodeCapacity: 256,
		CacheBytes:   64 << 20,
	}
}

// NodeStore reads and writes immutable index blocks. Blocks never change
// once written, so cached nodes are never invalidated.
type NodeStore struct {
	store storage.Store
	cache *ristretto.Cache
	opts  Options
}

// NewNodeStore wraps a block store
func NewNodeStore(store storage.Store, opts Options) (*NodeStore, error) {
	if opts.LeafCapacity < 2 || opts.NodeCapacity < 2 {
		return nil, fmt.Errorf("tree capacities must be at least 2, got leaf=%d node=%d",
			opts.LeafCapacity, opts.NodeCapacity)
	}

	s := &NodeStore{store: store, opts: opts}
	if opts.CacheBytes > 0 {
		cache, err := ristretto.NewCache(&ristretto.Config{
			NumCounters: max(opts.CacheBytes/1024, 1000),
			MaxCost:     opts.CacheBytes,
			BufferItems: 64,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create node cache: %w", err)
		}
		s.cache = cache
	}
	return s, nil
}

// Store returns the underlying block store
func (s *NodeStore) Store() storage.Store {
	return s.store
}

// Close releases the node cache. The block store is owned by the caller.
func (s *NodeStore) Close() {
	if s.cache != nil {
		s.cache.Close()
	}
}

func (s *NodeStore) load(ctx context.Context, link string) (*codec.Node, error) {
	if s.cache != nil {
		if v, ok := s.cache.Get(link); ok {
			return v.(*codec.Node), nil
		}
	}

	raw, err := s.store.Get(ctx, codec.NodeKey(link))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, datalog.StorageError("load index node", fmt.Errorf("node %s is missing", link))
	}
	if err != nil {
		return nil, datalog.StorageError("load index node", err)
	}

	n, err := codec.DecodeNode(raw)
	if err != nil {
		return nil, fmt.Errorf("node %s: %w", link, err)
	}
	if s.cache != nil {
		s.cache.Set(link, &n, nodeCost(&n))
	}
	return &n, nil
}

func (s *NodeStore) save(ctx context.Context, n *codec.Node) (string, error) {
	link := uuid.NewString()
	if err := s.store.Put(ctx, codec.NodeKey(link), codec.EncodeNode(*n)); err != nil {
		return "", datalog.StorageError("save index node", err)
	}
	if s.cache != nil {
		s.cache.Set(link, n, nodeCost(n))
	}
	return link, nil
}

func nodeCost(n *codec.Node) int64 {
	cost := int64(64)
	for i, k := range n.Keys {
		cost += int64(len(k)) + 24
		if !n.Leaf {
			cost += int64(len(n.Links[i])) + 16
		}
	}
	return cost
}
