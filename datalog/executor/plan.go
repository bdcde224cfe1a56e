package executor

import (
	"fmt"
	"strings"

	"github.com/loganmhb/cliodb/datalog"
	"github.com/loganmhb/cliodb/datalog/codec"
	"github.com/loganmhb/cliodb/datalog/db"
	"github.com/loganmhb/cliodb/datalog/query"
)

type slotKind uint8

const (
	slotBlank slotKind = iota
	slotConst
	slotVar
)

// slot is one compiled pattern position
type slot struct {
	kind  slotKind
	value datalog.Value // slotConst
	col   int           // slotVar: tuple column
}

// clause is a data pattern compiled against one database
type clause struct {
	pattern  query.DataPattern
	slots    [4]slot
	known    [4]bool // position is fixed before the clause scans
	ordering codec.Ordering
	prefix   int
}

// plan is a compiled query
type plan struct {
	columns []query.Symbol
	find    []int
	clauses []clause
	// empty is set when a constant cannot match anything in this database,
	// such as an ident no entity carries.
	empty bool
}

// compile validates q and resolves it against the schema of d
func compile(q query.Query, d *db.DB) (*plan, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	p := &plan{columns: q.Columns()}
	colMap := query.BuildColumnIndexMap(p.columns)
	for _, sym := range q.Find {
		p.find = append(p.find, colMap[sym])
	}

	bound := make([]bool, len(p.columns))
	for _, pattern := range q.Where {
		c := clause{pattern: pattern}
		for pos := query.PosE; pos <= query.PosT; pos++ {
			switch elem := pattern.Get(pos).(type) {
			case query.Constant:
				v, ok := resolveConstant(d, pos, elem.Value)
				if !ok {
					p.empty = true
				}
				c.slots[pos] = slot{kind: slotConst, value: v}
				c.known[pos] = true
			case query.Variable:
				col := colMap[elem.Name]
				c.slots[pos] = slot{kind: slotVar, col: col}
				c.known[pos] = bound[col]
			}
		}
		for _, s := range c.slots {
			if s.kind == slotVar {
				bound[s.col] = true
			}
		}
		c.ordering, c.prefix = selectIndex(c.known)
		p.clauses = append(p.clauses, c)
	}
	return p, nil
}

// resolveConstant maps a constant onto the value stored at pos. Entity,
// attribute and tx positions hold entity ids, so idents there are looked
// up in the schema and any other non-ref kind can never match.
func resolveConstant(d *db.DB, pos query.Position, v datalog.Value) (datalog.Value, bool) {
	if pos == query.PosV {
		return v, true
	}
	switch v.Kind() {
	case datalog.KindRef:
		return v, true
	case datalog.KindIdent:
		name, _ := v.AsIdent()
		e, ok := d.Entid(name)
		if !ok {
			return v, false
		}
		return datalog.Ref(e), true
	default:
		return v, false
	}
}

// selectIndex picks the ordering whose leading components are all known,
// preferring the longest usable prefix.
func selectIndex(known [4]bool) (codec.Ordering, int) {
	e, a, v := known[query.PosE], known[query.PosA], known[query.PosV]
	switch {
	case e && a && v:
		return codec.EAVT, 3
	case e && a:
		return codec.EAVT, 2
	case e:
		return codec.EAVT, 1
	case a && v:
		return codec.AVET, 2
	case a:
		return codec.AEVT, 1
	case v:
		return codec.VAET, 1
	default:
		return codec.EAVT, 0
	}
}

// boundPositions names the known positions, e.g. "E,A"
func (c *clause) boundPositions() string {
	var names []string
	for pos := query.PosE; pos <= query.PosT; pos++ {
		if c.known[pos] {
			names = append(names, pos.String())
		}
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, ",")
}

// String renders the plan one clause per line
func (p *plan) String() string {
	var b strings.Builder
	for i, c := range p.clauses {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "  %d. %s %s/%d bound: %s", i+1, c.pattern, c.ordering, c.prefix, c.boundPositions())
	}
	if p.empty {
		b.WriteString("\n  (unresolvable constant, no results)")
	}
	return b.String()
}
