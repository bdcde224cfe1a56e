package transactor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/loganmhb/cliodb/datalog"
	"github.com/loganmhb/cliodb/datalog/codec"
	"github.com/loganmhb/cliodb/datalog/db"
	"github.com/loganmhb/cliodb/datalog/index"
	"github.com/loganmhb/cliodb/datalog/metrics"
	"github.com/loganmhb/cliodb/datalog/storage"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var instant = time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)

// flakyStore fails writes to keys with a given prefix while armed.
type flakyStore struct {
	storage.Store
	prefix string
	armed  atomic.Bool
}

func (s *flakyStore) Put(ctx context.Context, key string, value []byte) error {
	if s.armed.Load() && strings.HasPrefix(key, s.prefix) {
		return errors.New("disk on fire")
	}
	return s.Store.Put(ctx, key, value)
}

func memStore(t *testing.T) storage.Store {
	t.Helper()
	store, err := storage.NewMemoryStore()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func start(t *testing.T, store storage.Store, opts Options) *Transactor {
	t.Helper()
	if opts.Now == nil {
		opts.Now = func() time.Time { return instant }
	}
	if opts.Index == (index.Options{}) {
		opts.Index = index.Options{LeafCapacity: 8, NodeCapacity: 4}
	}
	tx, err := New(context.Background(), store, opts)
	require.NoError(t, err)
	t.Cleanup(func() { tx.Close() })
	return tx
}

func submit(t *testing.T, tx *Transactor, ops ...datalog.TxOp) *datalog.TxReport {
	t.Helper()
	report, err := tx.Submit(context.Background(), datalog.TxRequest{Ops: ops})
	require.NoError(t, err)
	return report
}

// facts returns the current (attribute ident, value) pairs of entity e.
func facts(t *testing.T, d *db.DB, e datalog.EntityID) map[string][]datalog.Value {
	t.Helper()
	out, err := readFacts(d, e)
	require.NoError(t, err)
	return out
}

func readFacts(d *db.DB, e datalog.EntityID) (map[string][]datalog.Value, error) {
	ctx := context.Background()
	view, err := d.Open(ctx)
	if err != nil {
		return nil, err
	}

	it := index.CurrentTruth(view.Scan(ctx, codec.EAVT, codec.EncodePrefix(codec.EAVT, datalog.Datom{E: e}, 1)))
	defer it.Close()
	out := map[string][]datalog.Value{}
	for it.Next() {
		name, _ := d.Ident(it.Datom().A)
		out[name] = append(out[name], it.Datom().V)
	}
	return out, it.Err()
}

func registerName(t *testing.T, tx *Transactor) *datalog.TxReport {
	return submit(t, tx,
		datalog.Add(datalog.Temp("name"), datalog.IdentDbIdent, datalog.Ident(":person/name")),
		datalog.Add(datalog.Temp("name"), datalog.IdentValueType, datalog.Ident(datalog.IdentTypeString)),
	)
}

func TestSubmitAssignsIDs(t *testing.T) {
	tx := start(t, memStore(t), Options{})
	assert.Equal(t, datalog.FirstUserID, tx.Current().NextID())

	schema := registerName(t, tx)
	assert.Equal(t, datalog.TxID(8), schema.TxID)
	attr, ok := schema.Resolve("name")
	require.True(t, ok)
	assert.Equal(t, datalog.EntityID(9), attr)

	people := submit(t, tx,
		datalog.Add(datalog.Temp("bob"), ":person/name", datalog.String("Bob")),
		datalog.Add(datalog.Temp("alice"), ":person/name", datalog.String("Alice")),
		datalog.Add(datalog.Temp("bob"), ":person/name", datalog.String("Robert")),
	)
	assert.Equal(t, datalog.TxID(10), people.TxID)
	assert.Equal(t, map[string]datalog.EntityID{"bob": 11, "alice": 12}, people.TempIDs)
	assert.Equal(t, datalog.EntityID(13), tx.Current().NextID())
	assert.Equal(t, datalog.TxID(10), tx.Current().BasisT())
	assert.Equal(t, StateIdle, tx.State())

	current := tx.Current()
	assert.ElementsMatch(t,
		[]datalog.Value{datalog.String("Bob"), datalog.String("Robert")},
		facts(t, current, 11)[":person/name"])
	assert.Equal(t,
		[]datalog.Value{datalog.Timestamp(instant)},
		facts(t, current, 10)[datalog.IdentTxInstant], "every transaction records its instant")
}

func TestValidation(t *testing.T) {
	tx := start(t, memStore(t), Options{})
	registerName(t, tx)
	before := tx.Current()

	cases := []struct {
		name string
		ops  []datalog.TxOp
		err  error
	}{
		{
			name: "unknown attribute",
			ops:  []datalog.TxOp{datalog.Add(datalog.Temp("x"), ":person/age", datalog.String("3"))},
			err:  datalog.ErrUnknownAttribute,
		},
		{
			name: "wrong kind",
			ops:  []datalog.TxOp{datalog.Add(datalog.Temp("x"), ":person/name", datalog.Ref(4))},
			err:  datalog.ErrTypeMismatch,
		},
		{
			name: "ref placeholder into string attribute",
			ops:  []datalog.TxOp{datalog.AddRef(datalog.Temp("x"), ":person/name", datalog.Temp("y"))},
			err:  datalog.ErrTypeMismatch,
		},
		{
			name: "missing value",
			ops:  []datalog.TxOp{{Entity: datalog.Temp("x"), Attribute: ":person/name"}},
			err:  datalog.ErrTypeMismatch,
		},
		{
			name: "unknown value type",
			ops: []datalog.TxOp{
				datalog.Add(datalog.Temp("a"), datalog.IdentDbIdent, datalog.Ident(":person/age")),
				datalog.Add(datalog.Temp("a"), datalog.IdentValueType, datalog.Ident(":db.type/long")),
			},
			err: datalog.ErrTypeMismatch,
		},
		{
			name: "use before registration in the same request",
			ops: []datalog.TxOp{
				datalog.Add(datalog.Temp("x"), ":person/age", datalog.String("3")),
				datalog.Add(datalog.Temp("a"), datalog.IdentDbIdent, datalog.Ident(":person/age")),
			},
			err: datalog.ErrUnknownAttribute,
		},
		{
			name: "later op fails the whole request",
			ops: []datalog.TxOp{
				datalog.Add(datalog.Temp("x"), ":person/name", datalog.String("ok")),
				datalog.Add(datalog.Temp("x"), ":person/name", datalog.Ident(":not/a-string")),
			},
			err: datalog.ErrTypeMismatch,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			report, err := tx.Submit(context.Background(), datalog.TxRequest{Ops: tc.ops})
			assert.ErrorIs(t, err, tc.err)
			assert.True(t, datalog.IsRequestError(err))
			assert.Nil(t, report)
			assert.Same(t, before, tx.Current(), "rejected requests publish nothing")
			assert.Equal(t, before.NextID(), tx.Current().NextID())
		})
	}

	t.Run("registration then use in one request", func(t *testing.T) {
		report := submit(t, tx,
			datalog.Add(datalog.Temp("a"), datalog.IdentDbIdent, datalog.Ident(":person/friend")),
			datalog.Add(datalog.Temp("a"), datalog.IdentValueType, datalog.Ident(datalog.IdentTypeRef)),
			datalog.AddRef(datalog.Temp("p"), ":person/friend", datalog.Temp("q")),
		)
		assert.Equal(t, before.NextID(), datalog.EntityID(report.TxID), "failed requests consumed no ids")
		p, _ := report.Resolve("p")
		q, _ := report.Resolve("q")
		assert.Equal(t, []datalog.Value{datalog.Ref(q)}, facts(t, tx.Current(), p)[":person/friend"])
	})
}

func TestDuplicateOpsCollapseToLast(t *testing.T) {
	tx := start(t, memStore(t), Options{})
	registerName(t, tx)
	bob := submit(t, tx, datalog.Add(datalog.Temp("bob"), ":person/name", datalog.String("Bob")))
	id, _ := bob.Resolve("bob")

	report := submit(t, tx,
		datalog.Add(datalog.Existing(id), ":person/name", datalog.String("Robert")),
		datalog.Retract(datalog.Existing(id), ":person/name", datalog.String("Robert")),
		datalog.Retract(datalog.Existing(id), ":person/name", datalog.String("Bob")),
		datalog.Add(datalog.Existing(id), ":person/name", datalog.String("Bob")),
	)
	// tx instant + one datom per distinct triple
	require.Len(t, report.Datoms, 3)
	assert.False(t, report.Datoms[1].Added)
	assert.Equal(t, datalog.String("Robert"), report.Datoms[1].V)
	assert.True(t, report.Datoms[2].Added)

	assert.Equal(t, []datalog.Value{datalog.String("Bob")}, facts(t, tx.Current(), id)[":person/name"])
}

func TestSnapshotIsolation(t *testing.T) {
	tx := start(t, memStore(t), Options{})
	registerName(t, tx)
	bob := submit(t, tx, datalog.Add(datalog.Temp("bob"), ":person/name", datalog.String("Bob")))
	id, _ := bob.Resolve("bob")

	old := tx.Current()
	submit(t, tx, datalog.Retract(datalog.Existing(id), ":person/name", datalog.String("Bob")))
	submit(t, tx, datalog.Add(datalog.Existing(id), ":person/name", datalog.String("Bobby")))

	assert.Equal(t, []datalog.Value{datalog.String("Bob")}, facts(t, old, id)[":person/name"])
	assert.Equal(t, []datalog.Value{datalog.String("Bobby")}, facts(t, tx.Current(), id)[":person/name"])
	assert.Equal(t, []datalog.Value{datalog.String("Bob")}, facts(t, tx.Current().AsOf(old.BasisT()), id)[":person/name"])
}

func TestSnapshotIsolationUnderConcurrentCommits(t *testing.T) {
	tx := start(t, memStore(t), Options{ReindexThreshold: 4})
	registerName(t, tx)
	bob := submit(t, tx, datalog.Add(datalog.Temp("bob"), ":person/name", datalog.String("Bob")))
	id, _ := bob.Resolve("bob")

	held := tx.Current()
	want := facts(t, held, id)
	require.Equal(t, []datalog.Value{datalog.String("Bob")}, want[":person/name"])

	var (
		stop  atomic.Bool
		reads atomic.Int64
		wg    sync.WaitGroup
	)
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for !stop.Load() {
				got, err := readFacts(held, id)
				if !assert.NoError(t, err) || !assert.Equal(t, want, got) {
					return
				}
				reads.Add(1)
			}
		}()
	}

	// Every few commits cross the threshold, so merges run under the readers.
	for i := 0; i < 30; i++ {
		name := datalog.String(fmt.Sprintf("Bob%02d", i))
		submit(t, tx, datalog.Retract(datalog.Existing(id), ":person/name", datalog.String("Bob")))
		submit(t, tx,
			datalog.Add(datalog.Existing(id), ":person/name", datalog.String("Bob")),
			datalog.Add(datalog.Temp("p"), ":person/name", name),
		)
	}
	for reads.Load() == 0 && !t.Failed() {
		time.Sleep(time.Millisecond)
	}
	stop.Store(true)
	wg.Wait()

	current := tx.Current()
	assert.Greater(t, current.IndexedT(), held.BasisT())
	assert.Equal(t, []datalog.Value{datalog.String("Bob")}, facts(t, current, id)[":person/name"])
	assert.Equal(t, want, facts(t, held, id))
}

func TestConcurrentSubmits(t *testing.T) {
	tx := start(t, memStore(t), Options{})
	registerName(t, tx)

	const writers = 16
	reports := make([]*datalog.TxReport, writers)
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			report, err := tx.Submit(context.Background(), datalog.TxRequest{Ops: []datalog.TxOp{
				datalog.Add(datalog.Temp("a"), ":person/name", datalog.String(fmt.Sprintf("a%d", i))),
				datalog.Add(datalog.Temp("b"), ":person/name", datalog.String(fmt.Sprintf("b%d", i))),
			}})
			assert.NoError(t, err)
			reports[i] = report
		}()
	}
	wg.Wait()

	seen := map[datalog.EntityID]bool{}
	var txs []datalog.TxID
	for _, r := range reports {
		require.NotNil(t, r)
		txs = append(txs, r.TxID)
		for _, id := range []datalog.EntityID{r.TxID.Entity(), r.TempIDs["a"], r.TempIDs["b"]} {
			assert.False(t, seen[id], "id %d allocated twice", id)
			seen[id] = true
		}
	}
	sort.Slice(txs, func(i, j int) bool { return txs[i] < txs[j] })
	for i := 1; i < len(txs); i++ {
		assert.Less(t, txs[i-1], txs[i])
	}

	// Each commit is visible in full or not at all in every published snapshot.
	current := tx.Current()
	for i, r := range reports {
		assert.Equal(t, []datalog.Value{datalog.String(fmt.Sprintf("a%d", i))}, facts(t, current, r.TempIDs["a"])[":person/name"])
		assert.Equal(t, []datalog.Value{datalog.String(fmt.Sprintf("b%d", i))}, facts(t, current, r.TempIDs["b"])[":person/name"])
	}
}

func TestReindexPreservesDatoms(t *testing.T) {
	store := memStore(t)
	reg := metrics.NewRegistry()
	tx := start(t, store, Options{ReindexThreshold: 6, Metrics: reg})
	registerName(t, tx)

	var ids []datalog.EntityID
	for i := 0; i < 20; i++ {
		r := submit(t, tx, datalog.Add(datalog.Temp("p"), ":person/name", datalog.String(fmt.Sprintf("p%02d", i))))
		id, _ := r.Resolve("p")
		ids = append(ids, id)
	}

	current := tx.Current()
	assert.Less(t, current.OverlaySize(), 6)
	assert.Greater(t, current.IndexedT(), datalog.TxID(0))
	for i, id := range ids {
		assert.Equal(t, []datalog.Value{datalog.String(fmt.Sprintf("p%02d", i))}, facts(t, current, id)[":person/name"])
	}

	loaded, err := db.Load(context.Background(), store, index.Options{LeafCapacity: 8, NodeCapacity: 4})
	require.NoError(t, err)
	assert.Equal(t, current.BasisT(), loaded.BasisT())
	assert.Equal(t, current.NextID(), loaded.NextID())
	for i, id := range ids {
		assert.Equal(t, []datalog.Value{datalog.String(fmt.Sprintf("p%02d", i))}, facts(t, loaded, id)[":person/name"])
	}
}

func TestRecovery(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store, err := storage.NewBadgerStore(dir)
	require.NoError(t, err)
	tx, err := New(ctx, store, Options{ReindexThreshold: 10, Now: func() time.Time { return instant }})
	require.NoError(t, err)
	registerName(t, tx)
	var last *datalog.TxReport
	for i := 0; i < 8; i++ {
		last = submit(t, tx, datalog.Add(datalog.Temp("p"), ":person/name", datalog.String(fmt.Sprintf("p%d", i))))
	}
	nextID := tx.Current().NextID()
	require.NoError(t, tx.Close())
	require.NoError(t, store.Close())

	store, err = storage.NewBadgerStore(dir)
	require.NoError(t, err)
	defer store.Close()
	tx, err = New(ctx, store, Options{ReindexThreshold: 10})
	require.NoError(t, err)
	defer tx.Close()

	assert.Equal(t, last.TxID, tx.Current().BasisT())
	assert.Equal(t, nextID, tx.Current().NextID())
	id, _ := last.Resolve("p")
	assert.Equal(t, []datalog.Value{datalog.String("p7")}, facts(t, tx.Current(), id)[":person/name"])

	report := submit(t, tx, datalog.Add(datalog.Temp("q"), ":person/name", datalog.String("after restart")))
	assert.Equal(t, datalog.TxID(nextID), report.TxID)
}

func TestStorageFailureHasNoEffect(t *testing.T) {
	store := &flakyStore{Store: memStore(t), prefix: codec.TxLogPrefix}
	reg := metrics.NewRegistry()
	tx := start(t, store, Options{Metrics: reg})
	registerName(t, tx)
	before := tx.Current()

	store.armed.Store(true)
	_, err := tx.Submit(context.Background(), datalog.TxRequest{Ops: []datalog.TxOp{
		datalog.Add(datalog.Temp("p"), ":person/name", datalog.String("lost")),
	}})
	require.ErrorIs(t, err, datalog.ErrStorage)
	assert.True(t, datalog.IsSystemError(err))
	assert.Same(t, before, tx.Current())

	store.armed.Store(false)
	report := submit(t, tx, datalog.Add(datalog.Temp("p"), ":person/name", datalog.String("kept")))
	assert.Equal(t, datalog.TxID(before.NextID()), report.TxID, "the failed transaction allocated nothing")

	failed, err := reg.TransactionsTotal.GetMetricWithLabelValues(metrics.StatusFailed)
	require.NoError(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(failed))
}

func TestReindexStorageFailureRetries(t *testing.T) {
	store := &flakyStore{Store: memStore(t), prefix: codec.ContentsKey}
	tx := start(t, store, Options{ReindexThreshold: 3})
	registerName(t, tx)

	store.armed.Store(true)
	for i := 0; i < 3; i++ {
		submit(t, tx, datalog.Add(datalog.Temp("p"), ":person/name", datalog.String(fmt.Sprintf("p%d", i))))
	}
	assert.GreaterOrEqual(t, tx.Current().OverlaySize(), 3, "reindex failed, overlay kept")
	assert.Equal(t, StateIdle, tx.State())

	store.armed.Store(false)
	submit(t, tx, datalog.Add(datalog.Temp("p"), ":person/name", datalog.String("p3")))
	assert.Equal(t, 0, tx.Current().OverlaySize())
}

func TestSubmitLifecycle(t *testing.T) {
	tx := start(t, memStore(t), Options{})

	t.Run("cancelled before dequeue", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := tx.Submit(ctx, datalog.TxRequest{})
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, datalog.FirstUserID, tx.Current().NextID())
	})

	t.Run("empty request records only the instant", func(t *testing.T) {
		report := submit(t, tx)
		require.Len(t, report.Datoms, 1)
		assert.Equal(t, datalog.AttrTxInstant, report.Datoms[0].A)
	})

	t.Run("closed", func(t *testing.T) {
		require.NoError(t, tx.Close())
		_, err := tx.Submit(context.Background(), datalog.TxRequest{})
		assert.ErrorIs(t, err, ErrClosed)
		assert.NoError(t, tx.Close(), "close is idempotent")
	})
}

func TestCancelAfterDequeueMayCommit(t *testing.T) {
	var gate atomic.Bool
	entered := make(chan struct{})
	release := make(chan struct{})
	tx := start(t, memStore(t), Options{Now: func() time.Time {
		if gate.CompareAndSwap(true, false) {
			close(entered)
			<-release
		}
		return instant
	}})
	registerName(t, tx)

	gate.Store(true)
	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 1)
	go func() {
		_, err := tx.Submit(ctx, datalog.TxRequest{Ops: []datalog.TxOp{
			datalog.Add(datalog.Temp("p"), ":person/name", datalog.String("late")),
		}})
		errs <- err
	}()

	// The writer holds the request, so cancelling only stops the wait.
	<-entered
	cancel()
	assert.ErrorIs(t, <-errs, context.Canceled)
	close(release)

	// A following submit is processed after the abandoned one committed.
	report := submit(t, tx)
	committed := tx.Current()
	abandoned := report.TxID - 2
	assert.Equal(t, []datalog.Value{datalog.String("late")}, facts(t, committed, abandoned.Entity()+1)[":person/name"])
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "reindexing", StateReindexing.String())
	assert.Equal(t, "failed", StateFailed.String())
}
