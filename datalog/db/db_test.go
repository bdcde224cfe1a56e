package db

import (
	"context"
	"testing"
	"time"

	"github.com/loganmhb/cliodb/datalog"
	"github.com/loganmhb/cliodb/datalog/codec"
	"github.com/loganmhb/cliodb/datalog/index"
	"github.com/loganmhb/cliodb/datalog/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

func testOptions() index.Options {
	return index.Options{LeafCapacity: 8, NodeCapacity: 4}
}

func newStore(t *testing.T) storage.Store {
	t.Helper()
	store, err := storage.NewMemoryStore()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func allDatoms(t *testing.T, db *DB) []datalog.Datom {
	t.Helper()
	ctx := context.Background()
	view, err := db.Open(ctx)
	require.NoError(t, err)
	it := view.Scan(ctx, codec.EAVT, []byte{byte(codec.EAVT)})
	defer it.Close()
	var out []datalog.Datom
	for it.Next() {
		out = append(out, it.Datom())
	}
	require.NoError(t, it.Err())
	return out
}

// commit logs and applies a transaction the way the transactor does.
func commit(t *testing.T, db *DB, tx datalog.TxID, nextID datalog.EntityID, datoms ...datalog.Datom) *DB {
	t.Helper()
	for i := range datoms {
		datoms[i].Tx = tx
	}
	require.NoError(t, db.Log(context.Background(), tx, nextID, datoms))
	return db.With(tx, nextID, datoms)
}

func add(e, a datalog.EntityID, v datalog.Value) datalog.Datom {
	return datalog.Datom{E: e, A: a, V: v, Added: true}
}

func TestCreate(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	db, err := Create(ctx, store, testOptions(), epoch)
	require.NoError(t, err)

	assert.Equal(t, datalog.BootstrapTx, db.BasisT())
	assert.Equal(t, datalog.FirstUserID, db.NextID())
	assert.Equal(t, 0, db.OverlaySize())
	assert.Equal(t, 7, db.Schema().Len())

	e, ok := db.Entid(datalog.IdentTxInstant)
	require.True(t, ok)
	assert.Equal(t, datalog.AttrTxInstant, e)
	kind, ok := db.Schema().ValueType(datalog.AttrTxInstant)
	require.True(t, ok)
	assert.Equal(t, datalog.KindTimestamp, kind)

	assert.Len(t, allDatoms(t, db), len(datalog.BootstrapDatoms(epoch)))
}

func TestLoadEmptyStore(t *testing.T) {
	_, err := Load(context.Background(), newStore(t), testOptions())
	assert.ErrorIs(t, err, ErrNoDatabase)
}

func TestLoadReplaysLog(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	db, err := Create(ctx, store, testOptions(), epoch)
	require.NoError(t, err)

	// tx 8 registers :person/name as entity 9, tx 10 uses it on entity 11
	db = commit(t, db, 8, 10,
		add(8, datalog.AttrTxInstant, datalog.Timestamp(epoch)),
		add(9, datalog.AttrIdent, datalog.Ident(":person/name")),
		add(9, datalog.AttrValueType, datalog.Ident(datalog.IdentTypeString)),
	)
	db = commit(t, db, 10, 12,
		add(10, datalog.AttrTxInstant, datalog.Timestamp(epoch)),
		add(11, 9, datalog.String("Alice")),
	)

	loaded, err := Load(ctx, store, testOptions())
	require.NoError(t, err)

	assert.Equal(t, datalog.TxID(10), loaded.BasisT())
	assert.Equal(t, datalog.EntityID(12), loaded.NextID())
	assert.Equal(t, datalog.TxID(0), loaded.IndexedT())
	assert.Equal(t, db.OverlaySize(), loaded.OverlaySize())
	assert.Equal(t, allDatoms(t, db), allDatoms(t, loaded))

	attr, ok := loaded.Entid(":person/name")
	require.True(t, ok)
	kind, _ := loaded.Schema().ValueType(attr)
	assert.Equal(t, datalog.KindString, kind)
}

func TestReindex(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	db, err := Create(ctx, store, testOptions(), epoch)
	require.NoError(t, err)
	for tx := datalog.TxID(8); tx < 40; tx += 2 {
		db = commit(t, db, tx, datalog.EntityID(tx+2),
			add(tx.Entity(), datalog.AttrTxInstant, datalog.Timestamp(epoch)),
			add(tx.Entity()+1, datalog.AttrIdent, datalog.Ident(":attr/"+string(rune('a'+tx/2)))),
		)
	}
	before := allDatoms(t, db)

	reindexed, err := db.Reindex(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, reindexed.OverlaySize())
	assert.Equal(t, db.BasisT(), reindexed.IndexedT())
	assert.Equal(t, before, allDatoms(t, reindexed))
	assert.Equal(t, before, allDatoms(t, db), "the pre-merge snapshot still reads")

	loaded, err := Load(ctx, store, testOptions())
	require.NoError(t, err)
	assert.Equal(t, 0, loaded.OverlaySize(), "log records before the contents are not replayed")
	assert.Equal(t, before, allDatoms(t, loaded))
	assert.Equal(t, db.Schema().Len(), loaded.Schema().Len())
}

func TestLoadKeepsLatestSchema(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	db, err := Create(ctx, store, testOptions(), epoch)
	require.NoError(t, err)

	// Entity 9 is renamed and retyped without retracting the old values.
	db = commit(t, db, 8, 10,
		add(9, datalog.AttrIdent, datalog.Ident(":z/old")),
		add(9, datalog.AttrValueType, datalog.Ident(datalog.IdentTypeString)),
	)
	db = commit(t, db, 10, 12,
		add(9, datalog.AttrIdent, datalog.Ident(":a/new")),
		add(9, datalog.AttrValueType, datalog.Ident(datalog.IdentTypeRef)),
	)
	db, err = db.Reindex(ctx)
	require.NoError(t, err)

	loaded, err := Load(ctx, store, testOptions())
	require.NoError(t, err)
	require.Equal(t, 0, loaded.OverlaySize())

	for _, d := range []*DB{db, loaded} {
		e, ok := d.Entid(":a/new")
		require.True(t, ok)
		assert.Equal(t, datalog.EntityID(9), e)
		name, _ := d.Schema().Ident(9)
		assert.Equal(t, ":a/new", name)
		_, ok = d.Entid(":z/old")
		assert.False(t, ok)
		kind, _ := d.Schema().ValueType(9)
		assert.Equal(t, datalog.KindRef, kind)
	}
}

func TestRefresh(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	writer, err := Create(ctx, store, testOptions(), epoch)
	require.NoError(t, err)
	reader, err := Load(ctx, store, testOptions())
	require.NoError(t, err)

	writer = commit(t, writer, 8, 10, add(9, datalog.AttrIdent, datalog.Ident(":a")))
	reader, err = reader.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, datalog.TxID(8), reader.BasisT())
	assert.Equal(t, 1, reader.OverlaySize())

	writer = commit(t, writer, 10, 12, add(11, datalog.AttrIdent, datalog.Ident(":b")))
	writer, err = writer.Reindex(ctx)
	require.NoError(t, err)
	writer = commit(t, writer, 12, 14, add(13, datalog.AttrIdent, datalog.Ident(":c")))

	reader, err = reader.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, datalog.TxID(12), reader.BasisT())
	assert.Equal(t, datalog.TxID(10), reader.IndexedT())
	assert.Equal(t, 1, reader.OverlaySize())
	assert.Equal(t, allDatoms(t, writer), allDatoms(t, reader))
	_, ok := reader.Entid(":b")
	assert.True(t, ok)
}

func TestAsOf(t *testing.T) {
	ctx := context.Background()
	db, err := Create(ctx, newStore(t), testOptions(), epoch)
	require.NoError(t, err)

	db = commit(t, db, 8, 10, add(9, datalog.AttrIdent, datalog.Ident(":a")))
	db = commit(t, db, 10, 12, add(11, datalog.AttrIdent, datalog.Ident(":b")))

	past := db.AsOf(8)
	tx, bounded := past.AsOfT()
	assert.True(t, bounded)
	assert.Equal(t, datalog.TxID(8), tx)

	for _, d := range allDatoms(t, past) {
		assert.LessOrEqual(t, d.Tx, datalog.TxID(8))
	}
	assert.Len(t, allDatoms(t, past), len(allDatoms(t, db))-1)

	_, bounded = db.AsOfT()
	assert.False(t, bounded, "AsOf does not change the receiver")
}

func TestCatchUpRejectsMislabeledRecord(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	db, err := Create(ctx, store, testOptions(), epoch)
	require.NoError(t, err)

	rec := codec.TxRecord{Tx: 9, NextID: 10}
	require.NoError(t, store.Put(ctx, codec.TxLogKey(8), codec.EncodeTxRecord(rec)))

	_, err = db.CatchUp(ctx)
	assert.ErrorIs(t, err, datalog.ErrInvariantViolation)
}

func TestSchemaWith(t *testing.T) {
	base := emptySchema().With(datalog.BootstrapDatoms(epoch))
	require.Equal(t, 7, base.Len())

	t.Run("non-schema datoms share the receiver", func(t *testing.T) {
		next := base.With([]datalog.Datom{add(20, 9, datalog.String("x"))})
		assert.Same(t, base, next)
	})

	t.Run("registration copies", func(t *testing.T) {
		next := base.With([]datalog.Datom{
			add(9, datalog.AttrIdent, datalog.Ident(":person/friend")),
			add(9, datalog.AttrValueType, datalog.Ident(datalog.IdentTypeRef)),
		})
		e, ok := next.Entid(":person/friend")
		require.True(t, ok)
		kind, ok := next.ValueType(e)
		require.True(t, ok)
		assert.Equal(t, datalog.KindRef, kind)

		_, ok = base.Entid(":person/friend")
		assert.False(t, ok)
	})

	t.Run("rename and retract", func(t *testing.T) {
		next := base.With([]datalog.Datom{
			add(9, datalog.AttrIdent, datalog.Ident(":old")),
			add(9, datalog.AttrIdent, datalog.Ident(":new")),
		})
		_, ok := next.Entid(":old")
		assert.False(t, ok)
		name, _ := next.Ident(9)
		assert.Equal(t, ":new", name)

		retract := add(9, datalog.AttrIdent, datalog.Ident(":new"))
		retract.Added = false
		next = next.With([]datalog.Datom{retract})
		_, ok = next.Ident(9)
		assert.False(t, ok)
	})
}
