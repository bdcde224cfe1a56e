package index

import (
	"bytes"
	"context"

	"github.com/loganmhb/cliodb/datalog"
	"github.com/loganmhb/cliodb/datalog/codec"
)

// checkEvery is how many keys a scan reads between context checks.
const checkEvery = 256

// Scanner yields datoms in index order
type Scanner interface {
	Next() bool
	Datom() datalog.Datom
	Err() error
	Close()
}

// View reads one index snapshot, optionally restricted to datoms at or
// before a transaction.
type View struct {
	ix      *Indexes
	asOf    datalog.TxID
	bounded bool
}

// AsOf returns a view that hides datoms from transactions after tx
func (v *View) AsOf(tx datalog.TxID) *View {
	return &View{ix: v.ix, asOf: tx, bounded: true}
}

// Scan iterates raw datoms of ordering ord whose keys start with prefix,
// built by codec.EncodePrefix. Overlay and durable datoms are merge-joined by
// key; a datom present in both is yielded once.
func (v *View) Scan(ctx context.Context, ord codec.Ordering, prefix []byte) *Iterator {
	tree := Tree{nodes: v.ix.nodes, root: v.ix.roots[ord]}
	return &Iterator{
		ctx:     ctx,
		ord:     ord,
		prefix:  prefix,
		asOf:    v.asOf,
		bounded: v.bounded,
		mem:     v.ix.overlay.seek(ord, prefix),
		disk:    tree.seek(ctx, prefix),
	}
}

// Iterator merge-joins the overlay and a durable tree
type Iterator struct {
	ctx     context.Context
	ord     codec.Ordering
	prefix  []byte
	asOf    datalog.TxID
	bounded bool

	mem      *avlIterator
	disk     *treeIterator
	memOK    bool
	diskOK   bool
	started  bool
	steps    int
	datom    datalog.Datom
	err      error
	finished bool
}

// Next advances to the next matching datom
func (it *Iterator) Next() bool {
	if it.finished || it.err != nil {
		return false
	}
	if !it.started {
		it.started = true
		it.memOK = it.mem.next()
		it.diskOK = it.disk.next()
	}

	for {
		if it.err = it.disk.err; it.err != nil {
			return it.finish()
		}
		if it.steps++; it.steps%checkEvery == 0 {
			if it.err = it.ctx.Err(); it.err != nil {
				return it.finish()
			}
		}

		var key []byte
		switch {
		case it.memOK && it.diskOK:
			c := bytes.Compare(it.mem.key, it.disk.key)
			switch {
			case c < 0:
				key = it.mem.key
				it.memOK = it.mem.next()
			case c > 0:
				key = it.disk.key
				it.diskOK = it.disk.next()
			default:
				key = it.mem.key
				it.memOK = it.mem.next()
				it.diskOK = it.disk.next()
			}
		case it.memOK:
			key = it.mem.key
			it.memOK = it.mem.next()
		case it.diskOK:
			key = it.disk.key
			it.diskOK = it.disk.next()
		default:
			return it.finish()
		}

		// Both sources started at the prefix, so the first key past it ends the scan.
		if !bytes.HasPrefix(key, it.prefix) {
			return it.finish()
		}

		d, err := codec.DecodeDatom(it.ord, key)
		if err != nil {
			it.err = err
			return it.finish()
		}
		if it.bounded && d.Tx > it.asOf {
			continue
		}
		it.datom = d
		return true
	}
}

func (it *Iterator) finish() bool {
	it.finished = true
	return false
}

// Datom returns the current datom
func (it *Iterator) Datom() datalog.Datom {
	return it.datom
}

// Err returns the error that ended the scan, if any
func (it *Iterator) Err() error {
	if it.err == nil && it.disk.err != nil {
		return it.disk.err
	}
	return it.err
}

// Close abandons the scan. Iterators hold no resources beyond memory, so
// Close only stops further reads.
func (it *Iterator) Close() {
	it.finished = true
}
