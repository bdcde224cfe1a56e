package index

import "github.com/loganmhb/cliodb/datalog"

// CurrentTruth filters a scan down to facts that currently hold. All datoms
// for one (e, a, v) are adjacent in every ordering and sorted by tx, so the
// last datom of each run decides: kept if it is an assertion, dropped if it
// is a retraction.
func CurrentTruth(src Scanner) Scanner {
	return &currentTruth{src: src}
}

type currentTruth struct {
	src        Scanner
	pending    datalog.Datom
	hasPending bool
	current    datalog.Datom
}

func (c *currentTruth) Next() bool {
	for {
		if !c.hasPending {
			if !c.src.Next() {
				return false
			}
			c.pending = c.src.Datom()
		}

		last := c.pending
		c.hasPending = false
		for c.src.Next() {
			d := c.src.Datom()
			if d.Triple() == last.Triple() {
				last = d
				continue
			}
			c.pending = d
			c.hasPending = true
			break
		}

		if last.Added {
			c.current = last
			return true
		}
		if !c.hasPending && c.src.Err() != nil {
			return false
		}
	}
}

func (c *currentTruth) Datom() datalog.Datom { return c.current }
func (c *currentTruth) Err() error           { return c.src.Err() }
func (c *currentTruth) Close()               { c.src.Close() }
