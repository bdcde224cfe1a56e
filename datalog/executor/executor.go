// Package executor evaluates queries against a database value by nested
// unification of data patterns over index scans.
package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/loganmhb/cliodb/datalog"
	"github.com/loganmhb/cliodb/datalog/annotations"
	"github.com/loganmhb/cliodb/datalog/codec"
	"github.com/loganmhb/cliodb/datalog/db"
	"github.com/loganmhb/cliodb/datalog/index"
	"github.com/loganmhb/cliodb/datalog/metrics"
	"github.com/loganmhb/cliodb/datalog/query"
)

// Options configures query execution
type Options struct {
	// History matches every datom, retractions and superseded assertions
	// included, instead of only the facts that currently hold.
	History bool

	// Handler receives execution events. Nil disables annotations.
	Handler annotations.Handler

	// Metrics records query counts and latency. Nil disables metrics.
	Metrics *metrics.Registry

	// Cache reuses plans across queries. Nil compiles every query.
	Cache *PlanCache
}

// Executor runs queries. It holds no per-query state and is safe for
// concurrent use.
type Executor struct {
	opts Options
}

// New creates an executor
func New(opts Options) *Executor {
	return &Executor{opts: opts}
}

// Execute runs q against d. Clauses unify left to right: each clause scans
// the index once per binding produced by the clauses before it.
func (e *Executor) Execute(ctx context.Context, d *db.DB, q query.Query) (*Relation, error) {
	start := time.Now()
	collector := annotations.NewCollector(e.opts.Handler)
	if collector.Enabled() {
		collector.Add(annotations.Event{
			Name:  annotations.QueryInvoked,
			Start: start,
			End:   start,
			Data:  map[string]interface{}{"query": q.String()},
		})
	}

	r := &run{ctx: ctx, history: e.opts.History}
	rel, err := e.execute(r, collector, d, q)

	e.opts.Metrics.RecordQuery(err, time.Since(start), r.scanned())
	if collector.Enabled() {
		data := map[string]interface{}{
			"success":        err == nil,
			"datoms.scanned": r.scanned(),
		}
		if err != nil {
			data["error"] = err
		} else {
			data["tuples.count"] = rel.Size()
		}
		collector.AddTiming(annotations.QueryComplete, start, data)
	}
	return rel, err
}

func (e *Executor) execute(r *run, collector *annotations.Collector, d *db.DB, q query.Query) (*Relation, error) {
	planStart := time.Now()
	p, cached := e.opts.Cache.get(q, d.Schema())
	if !cached {
		var err error
		if p, err = compile(q, d); err != nil {
			return nil, err
		}
		e.opts.Cache.set(q, d.Schema(), p)
	}
	r.plan = p
	r.stats = make([]clauseStats, len(p.clauses))

	if collector.Enabled() {
		collector.AddTiming(annotations.QueryPlanCreated, planStart, map[string]interface{}{
			"plan":   p.String(),
			"cached": cached,
		})
		for i := range p.clauses {
			c := &p.clauses[i]
			collector.Add(annotations.Event{
				Name: annotations.PatternIndexSelection,
				Data: map[string]interface{}{
					"pattern": c.pattern.String(),
					"index":   c.ordering.String(),
					"prefix":  c.prefix,
					"bound":   c.boundPositions(),
				},
			})
		}
	}

	find := make([]query.Symbol, len(p.find))
	for i, col := range p.find {
		find[i] = p.columns[col]
	}
	if p.empty {
		return NewRelation(find, nil), nil
	}

	if err := r.ctx.Err(); err != nil {
		return nil, err
	}
	view, err := d.Open(r.ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	r.view = view
	r.seen = map[string]struct{}{}

	err = r.unify(0, make(query.Tuple, len(p.columns)))

	if collector.Enabled() {
		for i := range p.clauses {
			c := &p.clauses[i]
			s := r.stats[i]
			collector.Add(annotations.Event{
				Name:    annotations.PatternStorageScan,
				Latency: s.elapsed,
				Data: map[string]interface{}{
					"pattern":         c.pattern.String(),
					"index":           c.ordering.String(),
					"bound":           c.boundPositions(),
					"datoms.scanned":  s.scanned,
					"scans.performed": s.scans,
					"match.count":     s.matches,
				},
			})
		}
	}
	if err != nil {
		return nil, err
	}
	return &Relation{Columns: find, Tuples: r.results}, nil
}

type clauseStats struct {
	scans   int
	scanned int
	matches int
	elapsed time.Duration
}

// run is the state of one query evaluation
type run struct {
	ctx     context.Context
	history bool
	plan    *plan
	view    *index.View
	stats   []clauseStats
	seen    map[string]struct{}
	results []query.Tuple
}

func (r *run) scanned() int {
	n := 0
	for _, s := range r.stats {
		n += s.scanned
	}
	return n
}

// unify extends binding through clause i and every clause after it
func (r *run) unify(i int, binding query.Tuple) error {
	if i == len(r.plan.clauses) {
		r.emit(binding)
		return nil
	}
	if err := r.ctx.Err(); err != nil {
		return err
	}

	c := &r.plan.clauses[i]
	template, ok := c.template(binding)
	if !ok {
		return nil
	}

	stats := &r.stats[i]
	stats.scans++
	scanStart := time.Now()

	var it index.Scanner = r.view.Scan(r.ctx, c.ordering, codec.EncodePrefix(c.ordering, template, c.prefix))
	if !r.history {
		it = index.CurrentTruth(it)
	}
	defer it.Close()

	// Matches recurse while the scan is open, so the clause's own time
	// excludes time spent in later clauses.
	var nested time.Duration
	for it.Next() {
		stats.scanned++
		next, ok := c.match(binding, it.Datom())
		if !ok {
			continue
		}
		stats.matches++
		nestedStart := time.Now()
		err := r.unify(i+1, next)
		nested += time.Since(nestedStart)
		if err != nil {
			return err
		}
	}
	stats.elapsed += time.Since(scanStart) - nested
	if err := it.Err(); err != nil {
		return fmt.Errorf("failed to scan %s for %s: %w", c.ordering, c.pattern, err)
	}
	return nil
}

// emit projects a complete binding onto the find columns
func (r *run) emit(binding query.Tuple) {
	out := make(query.Tuple, len(r.plan.find))
	for i, col := range r.plan.find {
		out[i] = binding[col]
	}
	key := tupleKey(out)
	if _, dup := r.seen[key]; dup {
		return
	}
	r.seen[key] = struct{}{}
	r.results = append(r.results, out)
}

// template fills the known positions of the clause from constants and the
// binding. It fails when a bound value cannot occupy its position, such as
// a string bound to a variable used as an entity.
func (c *clause) template(binding query.Tuple) (datalog.Datom, bool) {
	var d datalog.Datom
	for pos := query.PosE; pos <= query.PosV; pos++ {
		if !c.known[pos] {
			continue
		}
		v := c.slots[pos].lookup(binding)
		switch pos {
		case query.PosE:
			e, ok := v.AsRef()
			if !ok {
				return d, false
			}
			d.E = e
		case query.PosA:
			a, ok := v.AsRef()
			if !ok {
				return d, false
			}
			d.A = a
		case query.PosV:
			d.V = v
		}
	}
	if c.known[query.PosT] {
		if _, ok := c.slots[query.PosT].lookup(binding).AsRef(); !ok {
			return d, false
		}
	}
	return d, true
}

// match unifies datom d with the clause under binding. It returns the
// extended binding, leaving binding itself untouched.
func (c *clause) match(binding query.Tuple, d datalog.Datom) (query.Tuple, bool) {
	values := [4]datalog.Value{
		datalog.Ref(d.E),
		datalog.Ref(d.A),
		d.V,
		datalog.Ref(d.Tx.Entity()),
	}

	var next query.Tuple
	for pos, s := range c.slots {
		switch s.kind {
		case slotConst:
			if s.value != values[pos] {
				return nil, false
			}
		case slotVar:
			current := binding[s.col]
			if next != nil {
				current = next[s.col]
			}
			if !current.IsZero() {
				if current != values[pos] {
					return nil, false
				}
				continue
			}
			if next == nil {
				next = make(query.Tuple, len(binding))
				copy(next, binding)
			}
			next[s.col] = values[pos]
		}
	}
	if next == nil {
		next = binding
	}
	return next, true
}

func (s slot) lookup(binding query.Tuple) datalog.Value {
	if s.kind == slotConst {
		return s.value
	}
	return binding[s.col]
}
