package executor

import (
	"fmt"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/loganmhb/cliodb/datalog"
	"github.com/loganmhb/cliodb/datalog/codec"
	"github.com/loganmhb/cliodb/datalog/query"
)

// Relation is a query result: a set of tuples over the find variables.
// Tuples are unique and unordered.
type Relation struct {
	Columns []query.Symbol
	Tuples  []query.Tuple
}

// NewRelation creates a relation, dropping duplicate tuples
func NewRelation(columns []query.Symbol, tuples []query.Tuple) *Relation {
	return &Relation{Columns: columns, Tuples: deduplicateTuples(tuples)}
}

// Size returns the number of tuples
func (r *Relation) Size() int {
	return len(r.Tuples)
}

// IsEmpty reports whether the relation holds no tuples
func (r *Relation) IsEmpty() bool {
	return len(r.Tuples) == 0
}

// ColumnIndex returns the position of sym, or -1
func (r *Relation) ColumnIndex(sym query.Symbol) int {
	for i, col := range r.Columns {
		if col == sym {
			return i
		}
	}
	return -1
}

// Contains reports whether the relation holds a tuple equal to values
func (r *Relation) Contains(values ...datalog.Value) bool {
	for _, t := range r.Tuples {
		if tupleEqual(t, values) {
			return true
		}
	}
	return false
}

// Sorted returns tuples sorted by the relation's columns.
// First column is the primary sort key, second is secondary, etc.
func (r *Relation) Sorted() []query.Tuple {
	sorted := make([]query.Tuple, len(r.Tuples))
	copy(sorted, r.Tuples)

	sort.Slice(sorted, func(i, j int) bool {
		for k := 0; k < len(sorted[i]) && k < len(sorted[j]); k++ {
			if cmp := datalog.CompareValues(sorted[i][k], sorted[j][k]); cmp != 0 {
				return cmp < 0
			}
		}
		return len(sorted[i]) < len(sorted[j])
	})
	return sorted
}

// String returns a compact summary for annotations
func (r *Relation) String() string {
	symbols := make([]string, len(r.Columns))
	for i, col := range r.Columns {
		symbols[i] = string(col)
	}

	count := r.Size()
	var countStr string
	switch {
	case count == 0:
		countStr = color.RedString("%d", count)
	case count < 100:
		countStr = color.GreenString("%d", count)
	case count < 10000:
		countStr = color.YellowString("%d", count)
	default:
		countStr = color.RedString("%d", count)
	}

	return fmt.Sprintf("%s%s%s%s%s %s%s",
		color.BlueString("Relation(["),
		color.CyanString(strings.Join(symbols, " ")),
		color.BlueString("]"),
		color.BlueString(", "),
		countStr,
		"Tuples",
		color.BlueString(")"))
}

// Table returns a formatted markdown table representation
func (r *Relation) Table() string {
	return NewTableFormatter().FormatRelation(r)
}

func deduplicateTuples(tuples []query.Tuple) []query.Tuple {
	if len(tuples) <= 1 {
		return tuples
	}
	seen := make(map[string]struct{}, len(tuples))
	out := tuples[:0:0]
	for _, t := range tuples {
		k := tupleKey(t)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, t)
	}
	return out
}

// tupleKey joins the order-preserving encodings of a tuple's values. Each
// encoding is self-delimiting, so distinct tuples never share a key.
func tupleKey(t query.Tuple) string {
	var b []byte
	for _, v := range t {
		b = appendValueKey(b, v)
	}
	return string(b)
}

func appendValueKey(dst []byte, v datalog.Value) []byte {
	if v.IsZero() {
		return append(dst, 0)
	}
	return codec.AppendValue(dst, v)
}

func tupleEqual(t query.Tuple, values []datalog.Value) bool {
	if len(t) != len(values) {
		return false
	}
	for i := range t {
		if t[i] != values[i] {
			return false
		}
	}
	return true
}
