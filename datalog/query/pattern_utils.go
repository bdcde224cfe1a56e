package query

import "github.com/loganmhb/cliodb/datalog"

// Tuple is one row of variable bindings, indexed by column. A zero Value
// marks a column that is not bound yet.
type Tuple []datalog.Value

// PatternExtractor provides utilities for extracting bound values from patterns.
type PatternExtractor struct {
	pattern *DataPattern
	columns []Symbol
	colMap  map[Symbol]int
}

// NewPatternExtractor creates a new pattern extractor for the given pattern and binding columns.
func NewPatternExtractor(pattern *DataPattern, columns []Symbol) *PatternExtractor {
	return &PatternExtractor{
		pattern: pattern,
		columns: columns,
		colMap:  BuildColumnIndexMap(columns),
	}
}

// BoundValues contains the extracted E, A, V, T values from a pattern.
type BoundValues struct {
	E, A, V, T datalog.Value
}

// Extract extracts bound values from the pattern using the given binding tuple.
// For each position in the pattern (E, A, V, T):
// - If it's a Constant, returns the constant value
// - If it's a Variable bound in the tuple, returns its binding
// - Otherwise returns the zero Value
func (pe *PatternExtractor) Extract(bindingTuple Tuple) BoundValues {
	return BoundValues{
		E: pe.ExtractAt(PosE, bindingTuple),
		A: pe.ExtractAt(PosA, bindingTuple),
		V: pe.ExtractAt(PosV, bindingTuple),
		T: pe.ExtractAt(PosT, bindingTuple),
	}
}

// ExtractAt extracts the value at one pattern position
func (pe *PatternExtractor) ExtractAt(pos Position, bindingTuple Tuple) datalog.Value {
	switch elem := pe.pattern.Get(pos).(type) {
	case Constant:
		return elem.Value
	case Variable:
		if idx, found := pe.colMap[elem.Name]; found && idx < len(bindingTuple) {
			return bindingTuple[idx]
		}
	}
	return datalog.Value{}
}

// Column returns the tuple column of the variable at pos, or -1 if the
// position holds no variable.
func (pe *PatternExtractor) Column(pos Position) int {
	if v, ok := pe.pattern.Get(pos).(Variable); ok {
		if idx, found := pe.colMap[v.Name]; found {
			return idx
		}
	}
	return -1
}

// BuildColumnIndexMap creates a map from symbols to their column indices.
func BuildColumnIndexMap(columns []Symbol) map[Symbol]int {
	colMap := make(map[Symbol]int, len(columns))
	for i, col := range columns {
		colMap[col] = i
	}
	return colMap
}

// Columns returns every variable of the query's patterns in order of first
// appearance. The executor binds tuples with this column layout.
func (q Query) Columns() []Symbol {
	var columns []Symbol
	seen := map[Symbol]bool{}
	for _, p := range q.Where {
		for _, s := range p.Symbols() {
			if !seen[s] {
				seen[s] = true
				columns = append(columns, s)
			}
		}
	}
	return columns
}
