// Package peer is the client API: it hands out database values, runs
// queries against them and forwards transactions to the transactor.
//
// A peer is either local, sharing a process with the transactor and reading
// its published snapshots directly, or remote, reading the shared block
// store and submitting transactions over the network.
package peer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/loganmhb/cliodb/datalog"
	"github.com/loganmhb/cliodb/datalog/annotations"
	"github.com/loganmhb/cliodb/datalog/db"
	"github.com/loganmhb/cliodb/datalog/executor"
	"github.com/loganmhb/cliodb/datalog/index"
	"github.com/loganmhb/cliodb/datalog/metrics"
	"github.com/loganmhb/cliodb/datalog/parser"
	"github.com/loganmhb/cliodb/datalog/query"
	"github.com/loganmhb/cliodb/datalog/storage"
	"github.com/loganmhb/cliodb/datalog/transactor"
)

// Submitter commits transactions. *transactor.Transactor and
// *server.Client both implement it.
type Submitter interface {
	Submit(ctx context.Context, req datalog.TxRequest) (*datalog.TxReport, error)
}

// Options configures a connection
type Options struct {
	// Index configures the node cache of a remote peer
	Index index.Options

	// History makes queries see retracted and superseded datoms
	History bool

	// Handler receives query execution events
	Handler annotations.Handler

	Metrics *metrics.Registry
	Logger  *slog.Logger
}

// Conn is a connection to one database
type Conn struct {
	submitter Submitter
	local     *transactor.Transactor
	exec      *executor.Executor
	log       *slog.Logger

	mu     sync.Mutex
	latest *db.DB // remote peers only
}

// Local connects to a transactor running in this process. Closing the
// connection leaves the transactor running.
func Local(tx *transactor.Transactor, opts Options) *Conn {
	c := newConn(tx, opts)
	c.local = tx
	return c
}

// Connect opens a remote connection: database values are read from store
// and transactions go to submitter.
func Connect(ctx context.Context, store storage.Store, submitter Submitter, opts Options) (*Conn, error) {
	if opts.Index == (index.Options{}) {
		opts.Index = index.DefaultOptions()
	}
	latest, err := db.Load(ctx, store, opts.Index)
	if err != nil {
		return nil, fmt.Errorf("failed to load database: %w", err)
	}
	c := newConn(submitter, opts)
	c.latest = latest
	c.log.Debug("connected", "basis_t", latest.BasisT())
	return c, nil
}

func newConn(submitter Submitter, opts Options) *Conn {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Conn{
		submitter: submitter,
		exec: executor.New(executor.Options{
			History: opts.History,
			Handler: opts.Handler,
			Metrics: opts.Metrics,
			Cache:   executor.NewPlanCache(0, 0),
		}),
		log: opts.Logger.With("component", "peer"),
	}
}

// Db returns the latest database value. A remote peer first catches up
// with the block store, so it sees every transaction committed before the
// call.
func (c *Conn) Db(ctx context.Context) (*db.DB, error) {
	if c.local != nil {
		return c.local.Current(), nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	next, err := c.latest.Refresh(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to refresh database: %w", err)
	}
	c.latest = next
	return next, nil
}

// AsOf returns the database as it was after transaction t
func (c *Conn) AsOf(ctx context.Context, t datalog.TxID) (*db.DB, error) {
	d, err := c.Db(ctx)
	if err != nil {
		return nil, err
	}
	return d.AsOf(t), nil
}

// Transact submits a transaction and waits for its outcome
func (c *Conn) Transact(ctx context.Context, req datalog.TxRequest) (*datalog.TxReport, error) {
	report, err := c.submitter.Submit(ctx, req)
	if err != nil {
		return nil, err
	}
	c.log.Debug("transacted", "tx", report.TxID, "datoms", len(report.Datoms))
	return report, nil
}

// TransactString parses and submits a transaction
func (c *Conn) TransactString(ctx context.Context, text string) (*datalog.TxReport, error) {
	req, err := parser.ParseTransaction(text)
	if err != nil {
		return nil, err
	}
	return c.Transact(ctx, req)
}

// Query runs q against d
func (c *Conn) Query(ctx context.Context, d *db.DB, q query.Query) (*executor.Relation, error) {
	return c.exec.Execute(ctx, d, q)
}

// QueryString parses and runs a query against d
func (c *Conn) QueryString(ctx context.Context, d *db.DB, text string) (*executor.Relation, error) {
	q, err := parser.ParseQuery(text)
	if err != nil {
		return nil, err
	}
	return c.Query(ctx, d, q)
}

// Close releases the node cache of a remote peer. The store and submitter
// belong to the caller.
func (c *Conn) Close() {
	if c.local != nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.latest.Close()
}
