// Package db implements the database value: an immutable snapshot of the
// indexes together with the schema, basis transaction and next entity id.
// A DB is never modified after it is built. Every operation that changes
// the database returns a new DB, so readers can hold one for as long as
// they like.
package db

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/loganmhb/cliodb/datalog"
	"github.com/loganmhb/cliodb/datalog/codec"
	"github.com/loganmhb/cliodb/datalog/index"
	"github.com/loganmhb/cliodb/datalog/storage"
)

// ErrNoDatabase is returned by Load when the store holds no contents record.
var ErrNoDatabase = errors.New("no database in store")

// DB is one point-in-time database value.
type DB struct {
	ix       *index.Indexes
	schema   *Schema
	basisT   datalog.TxID
	indexedT datalog.TxID
	nextID   datalog.EntityID

	asOf    datalog.TxID
	bounded bool
}

// Create bootstraps a new database in store: the built-in attributes are
// merged straight into the durable trees and the contents record is saved.
func Create(ctx context.Context, store storage.Store, opts index.Options, instant time.Time) (*DB, error) {
	nodes, err := index.NewNodeStore(store, opts)
	if err != nil {
		return nil, err
	}

	bootstrap := datalog.BootstrapDatoms(instant.UTC())
	db := &DB{
		ix:     index.New(nodes, index.Roots{}).Insert(bootstrap),
		schema: emptySchema().With(bootstrap),
		basisT: datalog.BootstrapTx,
		nextID: datalog.FirstUserID,
	}
	return db.Reindex(ctx)
}

// Load reads the database in store: the durable indexes named by the
// contents record, then every logged transaction newer than them.
func Load(ctx context.Context, store storage.Store, opts index.Options) (*DB, error) {
	contents, err := readContents(ctx, store)
	if err != nil {
		return nil, err
	}
	nodes, err := index.NewNodeStore(store, opts)
	if err != nil {
		return nil, err
	}
	return fromContents(ctx, nodes, contents)
}

func fromContents(ctx context.Context, nodes *index.NodeStore, contents codec.Contents) (*DB, error) {
	db := &DB{
		ix:       index.New(nodes, index.Roots(contents.Roots)),
		basisT:   contents.LastIndexedTx,
		indexedT: contents.LastIndexedTx,
		nextID:   contents.NextID,
	}
	schema, err := db.loadSchema(ctx)
	if err != nil {
		return nil, err
	}
	db.schema = schema
	return db.CatchUp(ctx)
}

func readContents(ctx context.Context, store storage.Store) (codec.Contents, error) {
	raw, err := store.Get(ctx, codec.ContentsKey)
	if errors.Is(err, storage.ErrNotFound) {
		return codec.Contents{}, ErrNoDatabase
	}
	if err != nil {
		return codec.Contents{}, datalog.StorageError("read contents", err)
	}
	return codec.DecodeContents(raw)
}

// loadSchema rebuilds idents and value types from the indexes.
func (db *DB) loadSchema(ctx context.Context) (*Schema, error) {
	view, err := db.ix.Open(ctx)
	if err != nil {
		return nil, err
	}

	var datoms []datalog.Datom
	for _, attr := range []datalog.EntityID{datalog.AttrIdent, datalog.AttrValueType} {
		prefix := codec.EncodePrefix(codec.AEVT, datalog.Datom{A: attr}, 1)
		it := index.CurrentTruth(view.Scan(ctx, codec.AEVT, prefix))
		for it.Next() {
			datoms = append(datoms, it.Datom())
		}
		err := it.Err()
		it.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to load schema: %w", err)
		}
	}
	// Later assertions win, so replay in transaction order rather than
	// index order.
	sort.SliceStable(datoms, func(i, j int) bool { return datoms[i].Tx < datoms[j].Tx })
	return emptySchema().With(datoms), nil
}

// CatchUp returns db with every logged transaction after its basis applied.
func (db *DB) CatchUp(ctx context.Context) (*DB, error) {
	store := db.ix.Nodes().Store()
	it, err := store.Scan(ctx, codec.TxLogPrefix, codec.TxLogKey(db.basisT+1))
	if err != nil {
		return nil, datalog.StorageError("scan tx log", err)
	}
	defer it.Close()

	next := db
	for it.Next() {
		tx, err := codec.ParseTxLogKey(it.Key())
		if err != nil {
			return nil, err
		}
		rec, err := codec.DecodeTxRecord(it.Value())
		if err != nil {
			return nil, fmt.Errorf("tx log record %d: %w", tx, err)
		}
		if rec.Tx != tx || rec.Tx <= next.basisT {
			return nil, datalog.InvariantViolation("tx log record %d out of order after %d", rec.Tx, next.basisT)
		}
		next = next.With(rec.Tx, rec.NextID, rec.Datoms)
	}
	if err := it.Err(); err != nil {
		return nil, datalog.StorageError("scan tx log", err)
	}
	return next, nil
}

// Refresh returns the latest database in the store. When the store has been
// reindexed past db's durable roots it reloads them; otherwise it only
// replays new log records.
func (db *DB) Refresh(ctx context.Context) (*DB, error) {
	contents, err := readContents(ctx, db.ix.Nodes().Store())
	if err != nil {
		return nil, err
	}
	if contents.LastIndexedTx > db.indexedT {
		return fromContents(ctx, db.ix.Nodes(), contents)
	}
	return db.CatchUp(ctx)
}

// Log appends the record of a transaction to the tx log. It must succeed
// before the transaction is applied.
func (db *DB) Log(ctx context.Context, tx datalog.TxID, nextID datalog.EntityID, datoms []datalog.Datom) error {
	rec := codec.TxRecord{Tx: tx, NextID: nextID, Datoms: datoms}
	err := db.ix.Nodes().Store().Put(ctx, codec.TxLogKey(tx), codec.EncodeTxRecord(rec))
	return datalog.StorageError("append tx log", err)
}

// With returns the database after a committed transaction
func (db *DB) With(tx datalog.TxID, nextID datalog.EntityID, datoms []datalog.Datom) *DB {
	return &DB{
		ix:       db.ix.Insert(datoms),
		schema:   db.schema.With(datoms),
		basisT:   tx,
		indexedT: db.indexedT,
		nextID:   nextID,
	}
}

// Reindex merges the overlay into the durable trees and saves the contents
// record. The result holds the same datoms as db.
func (db *DB) Reindex(ctx context.Context) (*DB, error) {
	merged, err := db.ix.Merge(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to merge indexes: %w", err)
	}

	contents := codec.Contents{
		NextID:        db.nextID,
		LastIndexedTx: db.basisT,
		Roots:         merged.Roots(),
	}
	if err := merged.Nodes().Store().Put(ctx, codec.ContentsKey, codec.EncodeContents(contents)); err != nil {
		return nil, datalog.StorageError("save contents", err)
	}

	next := *db
	next.ix = merged
	next.indexedT = db.basisT
	return &next, nil
}

// AsOf returns db restricted to datoms from transactions at or before tx
func (db *DB) AsOf(tx datalog.TxID) *DB {
	next := *db
	next.asOf = tx
	next.bounded = true
	return &next
}

// AsOfT returns the as-of restriction, if any
func (db *DB) AsOfT() (datalog.TxID, bool) {
	return db.asOf, db.bounded
}

// Open returns a read view of the snapshot
func (db *DB) Open(ctx context.Context) (*index.View, error) {
	view, err := db.ix.Open(ctx)
	if err != nil {
		return nil, err
	}
	if db.bounded {
		view = view.AsOf(db.asOf)
	}
	return view, nil
}

// BasisT returns the last transaction included in db
func (db *DB) BasisT() datalog.TxID { return db.basisT }

// IndexedT returns the last transaction merged into the durable trees
func (db *DB) IndexedT() datalog.TxID { return db.indexedT }

// NextID returns the next unallocated entity id
func (db *DB) NextID() datalog.EntityID { return db.nextID }

// OverlaySize returns the number of datoms not yet merged
func (db *DB) OverlaySize() int { return db.ix.OverlaySize() }

// Schema returns the attribute registry as of the basis
func (db *DB) Schema() *Schema { return db.schema }

// Entid resolves an ident to its entity id
func (db *DB) Entid(ident string) (datalog.EntityID, bool) { return db.schema.Entid(ident) }

// Ident returns the ident of an entity, if it has one
func (db *DB) Ident(e datalog.EntityID) (string, bool) { return db.schema.Ident(e) }

// Store returns the block store the database lives in
func (db *DB) Store() storage.Store { return db.ix.Nodes().Store() }

// Close releases the node cache shared by db and every DB derived from it.
// The block store is owned by the caller.
func (db *DB) Close() {
	db.ix.Nodes().Close()
}
