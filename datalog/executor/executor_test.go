package executor

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/loganmhb/cliodb/datalog"
	"github.com/loganmhb/cliodb/datalog/annotations"
	"github.com/loganmhb/cliodb/datalog/codec"
	"github.com/loganmhb/cliodb/datalog/db"
	"github.com/loganmhb/cliodb/datalog/index"
	"github.com/loganmhb/cliodb/datalog/metrics"
	"github.com/loganmhb/cliodb/datalog/query"
	"github.com/loganmhb/cliodb/datalog/storage"
	"github.com/loganmhb/cliodb/datalog/transactor"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func v(name string) query.Variable { return query.Variable{Name: query.Symbol(name)} }

func kw(name string) query.Constant { return query.Constant{Value: datalog.Ident(name)} }

func str(s string) query.Constant { return query.Constant{Value: datalog.String(s)} }

func ref(e datalog.EntityID) query.Constant { return query.Constant{Value: datalog.Ref(e)} }

func where(elems ...query.PatternElement) query.DataPattern {
	return query.DataPattern{Elements: elems}
}

func find(vars ...string) []query.Symbol {
	out := make([]query.Symbol, len(vars))
	for i, name := range vars {
		out[i] = query.Symbol(name)
	}
	return out
}

func newTransactor(t *testing.T) *transactor.Transactor {
	t.Helper()
	store, err := storage.NewMemoryStore()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	tx, err := transactor.New(context.Background(), store, transactor.Options{
		Index: index.Options{LeafCapacity: 8, NodeCapacity: 4},
		Now:   func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) },
	})
	require.NoError(t, err)
	t.Cleanup(func() { tx.Close() })
	return tx
}

func transact(t *testing.T, tx *transactor.Transactor, ops ...datalog.TxOp) *datalog.TxReport {
	t.Helper()
	report, err := tx.Submit(context.Background(), datalog.TxRequest{Ops: ops})
	require.NoError(t, err)
	return report
}

func attribute(name, valueType string) []datalog.TxOp {
	return []datalog.TxOp{
		datalog.Add(datalog.Temp(name), datalog.IdentDbIdent, datalog.Ident(name)),
		datalog.Add(datalog.Temp(name), datalog.IdentValueType, datalog.Ident(valueType)),
	}
}

func runQuery(t *testing.T, d *db.DB, q query.Query) *Relation {
	t.Helper()
	rel, err := New(Options{}).Execute(context.Background(), d, q)
	require.NoError(t, err)
	return rel
}

// family registers :person/name and :person/parent and adds Bob and his
// child. It returns the ids of Bob and the child.
func family(t *testing.T, tx *transactor.Transactor) (datalog.EntityID, datalog.EntityID) {
	t.Helper()
	transact(t, tx, append(
		attribute(":person/name", datalog.IdentTypeString),
		attribute(":person/parent", datalog.IdentTypeRef)...)...)

	bob := transact(t, tx, datalog.Add(datalog.Temp("bob"), ":person/name", datalog.String("Bob")))
	bobID, _ := bob.Resolve("bob")

	child := transact(t, tx,
		datalog.Add(datalog.Temp("child"), ":person/name", datalog.String("Child")),
		datalog.Add(datalog.Temp("child"), ":person/parent", datalog.Ref(bobID)),
	)
	childID, _ := child.Resolve("child")
	return bobID, childID
}

func TestJoinThroughReference(t *testing.T) {
	tx := newTransactor(t)
	_, childID := family(t, tx)

	q := query.Query{
		Find: find("?n"),
		Where: []query.DataPattern{
			where(v("?p"), kw(":person/name"), str("Bob")),
			where(v("?c"), kw(":person/parent"), v("?p")),
			where(v("?c"), kw(":person/name"), v("?n")),
		},
	}
	rel := runQuery(t, tx.Current(), q)
	assert.Equal(t, []query.Symbol{"?n"}, rel.Columns)
	assert.Equal(t, []query.Tuple{{datalog.String("Child")}}, rel.Tuples)

	// The same join in the direction the parent edge points.
	q = query.Query{
		Find: find("?c"),
		Where: []query.DataPattern{
			where(v("?c"), kw(":person/parent"), v("?p")),
			where(v("?p"), kw(":person/name"), str("Bob")),
		},
	}
	assert.Equal(t, []query.Tuple{{datalog.Ref(childID)}}, runQuery(t, tx.Current(), q).Tuples)

	// An unregistered attribute matches nothing instead of failing.
	q = query.Query{
		Find: find("?n"),
		Where: []query.DataPattern{
			where(v("?p"), kw(":person/name"), str("Bob")),
			where(v("?c"), kw(":person/sibling"), v("?p")),
			where(v("?c"), kw(":person/name"), v("?n")),
		},
	}
	rel = runQuery(t, tx.Current(), q)
	assert.True(t, rel.IsEmpty())
	assert.Equal(t, []query.Symbol{"?n"}, rel.Columns)
}

func TestRetractionHidesFact(t *testing.T) {
	tx := newTransactor(t)
	transact(t, tx, attribute("name", datalog.IdentTypeString)...)
	transact(t, tx, datalog.Add(datalog.Existing(0), "name", datalog.String("Logan")))

	q := query.Query{
		Find:  find("?e"),
		Where: []query.DataPattern{where(v("?e"), kw("name"), str("Logan"))},
	}
	before := tx.Current()
	assert.Equal(t, []query.Tuple{{datalog.Ref(0)}}, runQuery(t, before, q).Tuples)

	transact(t, tx, datalog.Retract(datalog.Existing(0), "name", datalog.String("Logan")))
	assert.True(t, runQuery(t, tx.Current(), q).IsEmpty())

	// Earlier snapshots are unaffected by later commits.
	assert.Equal(t, []query.Tuple{{datalog.Ref(0)}}, runQuery(t, before, q).Tuples)

	// Re-asserting makes the fact hold again.
	transact(t, tx, datalog.Add(datalog.Existing(0), "name", datalog.String("Logan")))
	assert.Equal(t, []query.Tuple{{datalog.Ref(0)}}, runQuery(t, tx.Current(), q).Tuples)
}

func TestHistory(t *testing.T) {
	tx := newTransactor(t)
	transact(t, tx, attribute("name", datalog.IdentTypeString)...)
	added := transact(t, tx, datalog.Add(datalog.Existing(0), "name", datalog.String("Logan")))
	retracted := transact(t, tx, datalog.Retract(datalog.Existing(0), "name", datalog.String("Logan")))

	q := query.Query{
		Find:  find("?tx"),
		Where: []query.DataPattern{where(ref(0), kw("name"), str("Logan"), v("?tx"))},
	}
	rel, err := New(Options{History: true}).Execute(context.Background(), tx.Current(), q)
	require.NoError(t, err)
	assert.ElementsMatch(t, []query.Tuple{
		{datalog.Ref(added.TxID.Entity())},
		{datalog.Ref(retracted.TxID.Entity())},
	}, rel.Tuples)

	assert.True(t, runQuery(t, tx.Current(), q).IsEmpty())
}

func TestAsOf(t *testing.T) {
	tx := newTransactor(t)
	transact(t, tx, attribute(":person/name", datalog.IdentTypeString)...)
	first := transact(t, tx, datalog.Add(datalog.Temp("a"), ":person/name", datalog.String("Ann")))
	transact(t, tx, datalog.Add(datalog.Temp("b"), ":person/name", datalog.String("Ben")))

	q := query.Query{
		Find:  find("?n"),
		Where: []query.DataPattern{where(v("?p"), kw(":person/name"), v("?n"))},
	}
	assert.Len(t, runQuery(t, tx.Current(), q).Tuples, 2)
	assert.Equal(t,
		[]query.Tuple{{datalog.String("Ann")}},
		runQuery(t, tx.Current().AsOf(first.TxID), q).Tuples)
}

func TestTransactionEntity(t *testing.T) {
	tx := newTransactor(t)
	transact(t, tx, attribute(":person/name", datalog.IdentTypeString)...)
	report := transact(t, tx, datalog.Add(datalog.Temp("a"), ":person/name", datalog.String("Ann")))

	q := query.Query{
		Find: find("?when"),
		Where: []query.DataPattern{
			where(v("?p"), kw(":person/name"), str("Ann"), v("?tx")),
			where(v("?tx"), kw(datalog.IdentTxInstant), v("?when")),
		},
	}
	rel := runQuery(t, tx.Current(), q)
	require.Len(t, rel.Tuples, 1)
	when, ok := rel.Tuples[0][0].AsTime()
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), when)
	assert.NotZero(t, report.TxID)
}

func TestUnification(t *testing.T) {
	tx := newTransactor(t)
	transact(t, tx, append(
		attribute(":person/name", datalog.IdentTypeString),
		attribute(":person/likes", datalog.IdentTypeRef)...)...)
	people := transact(t, tx,
		datalog.Add(datalog.Temp("a"), ":person/name", datalog.String("Ann")),
		datalog.Add(datalog.Temp("b"), ":person/name", datalog.String("Ben")),
		datalog.AddRef(datalog.Temp("a"), ":person/likes", datalog.Temp("a")),
		datalog.AddRef(datalog.Temp("b"), ":person/likes", datalog.Temp("a")),
	)
	ann, _ := people.Resolve("a")

	t.Run("repeated variable in one pattern", func(t *testing.T) {
		q := query.Query{
			Find:  find("?p"),
			Where: []query.DataPattern{where(v("?p"), kw(":person/likes"), v("?p"))},
		}
		assert.Equal(t, []query.Tuple{{datalog.Ref(ann)}}, runQuery(t, tx.Current(), q).Tuples)
	})

	t.Run("projection deduplicates", func(t *testing.T) {
		q := query.Query{
			Find:  find("?liked"),
			Where: []query.DataPattern{where(query.Blank{}, kw(":person/likes"), v("?liked"))},
		}
		assert.Equal(t, []query.Tuple{{datalog.Ref(ann)}}, runQuery(t, tx.Current(), q).Tuples)
	})

	t.Run("attribute variable", func(t *testing.T) {
		q := query.Query{
			Find: find("?attr"),
			Where: []query.DataPattern{
				where(ref(ann), v("?a"), query.Blank{}),
				where(v("?a"), kw(datalog.IdentDbIdent), v("?attr")),
			},
		}
		assert.ElementsMatch(t, []query.Tuple{
			{datalog.Ident(":person/name")},
			{datalog.Ident(":person/likes")},
		}, runQuery(t, tx.Current(), q).Tuples)
	})

	t.Run("string bound into entity position", func(t *testing.T) {
		q := query.Query{
			Find: find("?n", "?x"),
			Where: []query.DataPattern{
				where(query.Blank{}, kw(":person/name"), v("?n")),
				where(v("?n"), kw(":person/name"), v("?x")),
			},
		}
		assert.True(t, runQuery(t, tx.Current(), q).IsEmpty())
	})

	t.Run("ident value", func(t *testing.T) {
		q := query.Query{
			Find:  find("?a"),
			Where: []query.DataPattern{where(v("?a"), kw(datalog.IdentValueType), kw(datalog.IdentTypeRef))},
		}
		likes, _ := tx.Current().Entid(":person/likes")
		assert.Equal(t, []query.Tuple{{datalog.Ref(likes)}}, runQuery(t, tx.Current(), q).Tuples)
	})

	t.Run("full scan", func(t *testing.T) {
		q := query.Query{
			Find:  find("?e", "?a", "?v"),
			Where: []query.DataPattern{where(v("?e"), v("?a"), v("?v"))},
		}
		// Bootstrap datoms plus three transactions.
		rel := runQuery(t, tx.Current(), q)
		assert.True(t, rel.Contains(datalog.Ref(ann), datalog.Ref(mustEntid(t, tx.Current(), ":person/name")), datalog.String("Ann")))
		assert.Greater(t, rel.Size(), len(datalog.BootstrapDatoms(time.Time{})))
	})
}

func mustEntid(t *testing.T, d *db.DB, ident string) datalog.EntityID {
	t.Helper()
	e, ok := d.Entid(ident)
	require.True(t, ok, ident)
	return e
}

func TestQueryErrors(t *testing.T) {
	tx := newTransactor(t)

	_, err := New(Options{}).Execute(context.Background(), tx.Current(), query.Query{
		Find:  find("?n", "?nope"),
		Where: []query.DataPattern{where(v("?p"), kw(datalog.IdentDbIdent), v("?n"))},
	})
	assert.ErrorIs(t, err, datalog.ErrUnboundVariable)
	assert.True(t, datalog.IsRequestError(err))

	_, err = New(Options{}).Execute(context.Background(), tx.Current(), query.Query{
		Where: []query.DataPattern{where(v("?p"), kw(datalog.IdentDbIdent), v("?n"))},
	})
	assert.ErrorIs(t, err, datalog.ErrInvalidQuery)
}

func TestCancellation(t *testing.T) {
	tx := newTransactor(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(Options{}).Execute(ctx, tx.Current(), query.Query{
		Find:  find("?e"),
		Where: []query.DataPattern{where(v("?e"), v("?a"), v("?v"))},
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestQueryAcrossReindex(t *testing.T) {
	store, err := storage.NewMemoryStore()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	tx, err := transactor.New(context.Background(), store, transactor.Options{
		ReindexThreshold: 20,
		Index:            index.Options{LeafCapacity: 4, NodeCapacity: 3},
	})
	require.NoError(t, err)
	t.Cleanup(func() { tx.Close() })

	transact(t, tx, attribute(":n", datalog.IdentTypeString)...)
	for i := 0; i < 30; i++ {
		transact(t, tx, datalog.Add(datalog.Temp("x"), ":n", datalog.String(strings.Repeat("x", i+1))))
	}
	require.Less(t, tx.Current().OverlaySize(), 20)
	require.NotZero(t, tx.Current().IndexedT())

	rel := runQuery(t, tx.Current(), query.Query{
		Find:  find("?v"),
		Where: []query.DataPattern{where(query.Blank{}, kw(":n"), v("?v"))},
	})
	assert.Equal(t, 30, rel.Size())
}

func TestSelectIndex(t *testing.T) {
	tests := []struct {
		known  [4]bool
		want   codec.Ordering
		prefix int
	}{
		{[4]bool{true, true, true, false}, codec.EAVT, 3},
		{[4]bool{true, true, false, false}, codec.EAVT, 2},
		{[4]bool{true, false, true, false}, codec.EAVT, 1},
		{[4]bool{false, true, true, false}, codec.AVET, 2},
		{[4]bool{false, true, false, true}, codec.AEVT, 1},
		{[4]bool{false, false, true, false}, codec.VAET, 1},
		{[4]bool{false, false, false, true}, codec.EAVT, 0},
	}
	for _, tt := range tests {
		ord, prefix := selectIndex(tt.known)
		assert.Equal(t, tt.want, ord, "%v", tt.known)
		assert.Equal(t, tt.prefix, prefix, "%v", tt.known)
	}
}

func TestAnnotationsAndMetrics(t *testing.T) {
	tx := newTransactor(t)
	family(t, tx)

	var events []annotations.Event
	reg := metrics.NewRegistry()
	exec := New(Options{
		Handler: func(e annotations.Event) { events = append(events, e) },
		Metrics: reg,
	})
	q := query.Query{
		Find: find("?n"),
		Where: []query.DataPattern{
			where(v("?p"), kw(":person/name"), str("Bob")),
			where(v("?c"), kw(":person/parent"), v("?p")),
			where(v("?c"), kw(":person/name"), v("?n")),
		},
	}
	_, err := exec.Execute(context.Background(), tx.Current(), q)
	require.NoError(t, err)

	var names []string
	scans := map[string]annotations.Event{}
	for _, e := range events {
		names = append(names, e.Name)
		if e.Name == annotations.PatternStorageScan {
			scans[e.Data["pattern"].(string)] = e
		}
	}
	assert.Equal(t, []string{
		annotations.QueryInvoked,
		annotations.QueryPlanCreated,
		annotations.PatternIndexSelection,
		annotations.PatternIndexSelection,
		annotations.PatternIndexSelection,
		annotations.PatternStorageScan,
		annotations.PatternStorageScan,
		annotations.PatternStorageScan,
		annotations.QueryComplete,
	}, names)
	assert.Equal(t, false, events[1].Data["cached"])

	first := scans[`[?p :person/name "Bob"]`]
	assert.Equal(t, "AVET", first.Data["index"])
	assert.Equal(t, "A,V", first.Data["bound"])
	assert.Equal(t, 1, first.Data["match.count"])

	second := scans["[?c :person/parent ?p]"]
	assert.Equal(t, "AVET", second.Data["index"])
	assert.Equal(t, 1, second.Data["scans.performed"])

	third := scans["[?c :person/name ?n]"]
	assert.Equal(t, "EAVT", third.Data["index"])
	assert.Equal(t, "E,A", third.Data["bound"])

	done := events[len(events)-1]
	assert.Equal(t, true, done.Data["success"])
	assert.Equal(t, 1, done.Data["tuples.count"])

	assert.Equal(t, 1.0, testutil.ToFloat64(reg.QueriesTotal.WithLabelValues(metrics.StatusOK)))
}

func TestRelationOutput(t *testing.T) {
	rel := NewRelation(find("?n", "?e"), []query.Tuple{
		{datalog.String("Bob"), datalog.Ref(9)},
		{datalog.String("Ann"), datalog.Ref(12)},
		{datalog.String("Bob"), datalog.Ref(9)},
	})
	require.Equal(t, 2, rel.Size())
	assert.Equal(t, []query.Tuple{
		{datalog.String("Ann"), datalog.Ref(12)},
		{datalog.String("Bob"), datalog.Ref(9)},
	}, rel.Sorted())
	assert.Equal(t, 1, rel.ColumnIndex("?e"))
	assert.Equal(t, -1, rel.ColumnIndex("?x"))

	table := rel.Table()
	assert.Contains(t, table, "?n")
	assert.Contains(t, table, "Ann")
	assert.True(t, strings.HasSuffix(table, "_2 rows_\n"))
	assert.Less(t, strings.Index(table, "Ann"), strings.Index(table, "Bob"))

	assert.Equal(t, "_Empty relation_", NewRelation(find("?n"), nil).Table())
}

func TestTruncate(t *testing.T) {
	tf := &TableFormatter{MaxWidth: 8, TruncateString: "..."}
	assert.Equal(t, "short", tf.truncate("short"))
	assert.Equal(t, "abcde...", tf.truncate("abcdefghijk"))
}
