// Package transactor implements the single writer. Transactions are queued
// and processed one at a time in arrival order: ids are assigned, the
// request is validated against the current database, the record is appended
// to the tx log, and the new database is published atomically. Readers only
// ever see published databases.
package transactor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loganmhb/cliodb/datalog"
	"github.com/loganmhb/cliodb/datalog/db"
	"github.com/loganmhb/cliodb/datalog/index"
	"github.com/loganmhb/cliodb/datalog/metrics"
	"github.com/loganmhb/cliodb/datalog/storage"
)

// ErrClosed is returned by Submit after Close.
var ErrClosed = errors.New("transactor closed")

// DefaultReindexThreshold is the overlay size that triggers a reindex
const DefaultReindexThreshold = 10000

// Options configures a Transactor
type Options struct {
	ReindexThreshold int // overlay datoms before a synchronous reindex
	QueueSize        int // pending requests before Submit blocks
	Index            index.Options
	Logger           *slog.Logger
	Metrics          *metrics.Registry
	Now              func() time.Time // tx instant clock
}

// DefaultOptions returns production settings
func DefaultOptions() Options {
	return Options{
		ReindexThreshold: DefaultReindexThreshold,
		QueueSize:        128,
		Index:            index.DefaultOptions(),
	}
}

type request struct {
	ctx     context.Context
	tx      datalog.TxRequest
	reply   chan response
	started time.Time
}

type response struct {
	report *datalog.TxReport
	err    error
}

// Transactor serializes all writes to one database
type Transactor struct {
	opts    Options
	log     *slog.Logger
	metrics *metrics.Registry

	current atomic.Pointer[db.DB]
	state   atomic.Int32
	failure error // set once when entering StateFailed; read only by the writer

	requests chan *request
	quit     chan struct{}
	done     chan struct{}
	closeOne sync.Once

	// ctx bounds storage work; it outlives individual requests so a caller
	// giving up cannot interrupt a half-written commit.
	ctx    context.Context
	cancel context.CancelFunc
}

// New opens the database in store, creating it if the store is empty, and
// starts the writer loop.
func New(ctx context.Context, store storage.Store, opts Options) (*Transactor, error) {
	defaults := DefaultOptions()
	if opts.ReindexThreshold <= 0 {
		opts.ReindexThreshold = defaults.ReindexThreshold
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaults.QueueSize
	}
	if opts.Index == (index.Options{}) {
		opts.Index = defaults.Index
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	log := opts.Logger.With("component", "transactor")

	current, err := db.Load(ctx, store, opts.Index)
	if errors.Is(err, db.ErrNoDatabase) {
		log.Info("creating new database")
		current, err = db.Create(ctx, store, opts.Index, opts.Now())
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	log.Info("database opened",
		"basis_t", current.BasisT(),
		"indexed_t", current.IndexedT(),
		"overlay", current.OverlaySize())

	loopCtx, cancel := context.WithCancel(context.Background())
	t := &Transactor{
		opts:     opts,
		log:      log,
		metrics:  opts.Metrics,
		requests: make(chan *request, opts.QueueSize),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
		ctx:      loopCtx,
		cancel:   cancel,
	}
	t.current.Store(current)
	t.metrics.SetDatabase(uint64(current.BasisT()), current.OverlaySize())

	go t.run()
	return t, nil
}

// Current returns the latest published database
func (t *Transactor) Current() *db.DB {
	return t.current.Load()
}

// State returns the writer loop's current phase
func (t *Transactor) State() State {
	return State(t.state.Load())
}

// Submit queues a transaction and waits for its outcome. If ctx ends while
// waiting, Submit returns ctx.Err() and the transaction may still commit.
func (t *Transactor) Submit(ctx context.Context, tx datalog.TxRequest) (*datalog.TxReport, error) {
	req := &request{ctx: ctx, tx: tx, reply: make(chan response, 1), started: time.Now()}

	select {
	case t.requests <- req:
		t.metrics.SetQueueDepth(len(t.requests))
	case <-t.quit:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case resp := <-req.reply:
		return resp.report, resp.err
	case <-t.done:
		// The loop may have answered just before exiting.
		select {
		case resp := <-req.reply:
			return resp.report, resp.err
		default:
			return nil, ErrClosed
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops the writer loop. Queued requests that have not started fail
// with ErrClosed. The block store is owned by the caller.
func (t *Transactor) Close() error {
	t.closeOne.Do(func() {
		close(t.quit)
		<-t.done
		t.cancel()
		t.current.Load().Close()
	})
	return nil
}

func (t *Transactor) run() {
	defer close(t.done)
	for {
		select {
		case req := <-t.requests:
			t.metrics.SetQueueDepth(len(t.requests))
			t.process(req)
		case <-t.quit:
			t.drain()
			return
		}
	}
}

func (t *Transactor) drain() {
	for {
		select {
		case req := <-t.requests:
			req.reply <- response{err: ErrClosed}
		default:
			return
		}
	}
}

func (t *Transactor) setState(s State) {
	t.state.Store(int32(s))
}

func (t *Transactor) process(req *request) {
	if t.State() == StateFailed {
		t.finish(req, nil, fmt.Errorf("transactor stopped after an earlier failure: %w", t.failure))
		return
	}
	if err := req.ctx.Err(); err != nil {
		t.finish(req, nil, err)
		return
	}

	current := t.current.Load()

	t.setState(StateValidating)
	p, err := prepare(current, req.tx, t.opts.Now().UTC())
	if err != nil {
		t.setState(StateIdle)
		t.finish(req, nil, err)
		return
	}

	t.setState(StateApplying)
	report := p.report
	if err := current.Log(t.ctx, report.TxID, p.nextID, report.Datoms); err != nil {
		t.setState(StateIdle)
		t.finish(req, nil, err)
		return
	}
	next := current.With(report.TxID, p.nextID, report.Datoms)

	t.setState(StatePublishing)
	t.current.Store(next)
	t.setState(StateIdle)
	t.metrics.SetDatabase(uint64(next.BasisT()), next.OverlaySize())
	t.log.Debug("transaction committed", "tx", report.TxID, "datoms", len(report.Datoms))

	// The caller hears back once the compacted database is published.
	if next.OverlaySize() >= t.opts.ReindexThreshold {
		t.reindex(next)
	}
	t.finish(req, report, nil)
}

func (t *Transactor) finish(req *request, report *datalog.TxReport, err error) {
	status := metrics.StatusCommitted
	datoms := 0
	switch {
	case err == nil:
		datoms = len(report.Datoms)
	case datalog.IsRequestError(err), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = metrics.StatusRejected
		t.log.Debug("transaction rejected", "error", err)
	default:
		status = metrics.StatusFailed
		t.log.Error("transaction failed", "error", err)
	}
	t.metrics.RecordTransaction(status, time.Since(req.started), datoms)
	req.reply <- response{report: report, err: err}
}

// reindex merges the overlay of current, which must be the published
// database, and publishes the result. A storage error leaves current
// published and the next commit tries again.
func (t *Transactor) reindex(current *db.DB) {
	t.setState(StateReindexing)
	start := time.Now()

	next, err := current.Reindex(t.ctx)
	t.metrics.RecordReindex(err, time.Since(start))
	switch {
	case err == nil:
		t.current.Store(next)
		t.setState(StateIdle)
		t.metrics.SetDatabase(uint64(next.BasisT()), next.OverlaySize())
		t.log.Info("reindexed", "basis_t", next.BasisT(), "datoms", current.OverlaySize(), "duration", time.Since(start))
	case errors.Is(err, datalog.ErrInvariantViolation):
		t.failure = err
		t.setState(StateFailed)
		t.log.Error("reindex found corrupt data, refusing further writes", "error", err)
	default:
		t.setState(StateIdle)
		t.log.Error("reindex failed, will retry", "error", err)
	}
}
