// Package query defines the parsed form of a query: the variables to
// return and the data patterns they must satisfy.
package query

import (
	"fmt"
	"strings"

	"github.com/loganmhb/cliodb/datalog"
)

// Symbol represents a variable in a query (e.g., ?x, ?name)
type Symbol string

// IsVariable returns true if this is a variable symbol (starts with ?)
func (s Symbol) IsVariable() bool {
	return len(s) > 0 && s[0] == '?'
}

// String returns the string representation
func (s Symbol) String() string {
	return string(s)
}

// PatternElement represents an element in a pattern
// It can be a concrete value, a variable, or a blank
type PatternElement interface {
	IsVariable() bool
	IsBlank() bool
	String() string
}

// Variable represents a query variable (e.g., ?x)
type Variable struct {
	Name Symbol
}

func (v Variable) IsVariable() bool { return true }
func (v Variable) IsBlank() bool    { return false }
func (v Variable) String() string   { return v.Name.String() }

// Blank represents a blank/wildcard (_)
type Blank struct{}

func (b Blank) IsVariable() bool { return false }
func (b Blank) IsBlank() bool    { return true }
func (b Blank) String() string   { return "_" }

// Constant represents a concrete value in a pattern. In entity, attribute
// and tx positions an Ident constant names the entity with that ident.
type Constant struct {
	Value datalog.Value
}

func (c Constant) IsVariable() bool { return false }
func (c Constant) IsBlank() bool    { return false }
func (c Constant) String() string   { return c.Value.String() }

// Position is an index into a data pattern's elements
type Position int

const (
	PosE Position = iota
	PosA
	PosV
	PosT
)

func (p Position) String() string {
	return [...]string{"E", "A", "V", "T"}[p]
}

// DataPattern represents a data pattern [e a v] or [e a v tx]
type DataPattern struct {
	Elements []PatternElement
}

// String returns a string representation of the data pattern
func (p DataPattern) String() string {
	parts := make([]string, len(p.Elements))
	for i, elem := range p.Elements {
		parts[i] = elem.String()
	}
	return "[" + strings.Join(parts, " ") + "]"
}

// Get returns the element at pos, or nil if the pattern is shorter
func (p DataPattern) Get(pos Position) PatternElement {
	if int(pos) < len(p.Elements) {
		return p.Elements[pos]
	}
	return nil
}

// GetE returns the entity element if it exists
func (p DataPattern) GetE() PatternElement { return p.Get(PosE) }

// GetA returns the attribute element if it exists
func (p DataPattern) GetA() PatternElement { return p.Get(PosA) }

// GetV returns the value element if it exists
func (p DataPattern) GetV() PatternElement { return p.Get(PosV) }

// GetT returns the transaction element if it exists
func (p DataPattern) GetT() PatternElement { return p.Get(PosT) }

// Symbols returns the variables bound by this pattern, in position order
// without duplicates. In relational terms these are the attributes of the
// relation the pattern produces.
func (p DataPattern) Symbols() []Symbol {
	var symbols []Symbol
	seen := map[Symbol]bool{}
	for _, elem := range p.Elements {
		if v, ok := elem.(Variable); ok && !seen[v.Name] {
			seen[v.Name] = true
			symbols = append(symbols, v.Name)
		}
	}
	return symbols
}

// Query represents a Datalog query
type Query struct {
	Find  []Symbol      // Variables to return
	Where []DataPattern // Patterns, unified left to right
}

// Validate checks the query's shape: a non-empty find list of variables,
// patterns of three or four elements, and every find variable bound by
// some pattern.
func (q Query) Validate() error {
	if len(q.Find) == 0 {
		return fmt.Errorf("%w: empty :find", datalog.ErrInvalidQuery)
	}
	if len(q.Where) == 0 {
		return fmt.Errorf("%w: empty :where", datalog.ErrInvalidQuery)
	}

	bound := map[Symbol]bool{}
	for i, p := range q.Where {
		for _, elem := range p.Elements {
			if elem == nil {
				return fmt.Errorf("%w: pattern %d has a missing element", datalog.ErrInvalidQuery, i)
			}
		}
		if n := len(p.Elements); n < 3 || n > 4 {
			return fmt.Errorf("%w: pattern %s has %d elements, want 3 or 4", datalog.ErrInvalidQuery, p, n)
		}
		for _, s := range p.Symbols() {
			bound[s] = true
		}
	}

	for _, s := range q.Find {
		if !s.IsVariable() {
			return fmt.Errorf("%w: %s in :find is not a variable", datalog.ErrInvalidQuery, s)
		}
		if !bound[s] {
			return fmt.Errorf("%w: %s", datalog.ErrUnboundVariable, s)
		}
	}
	return nil
}

// String returns a string representation of the query
func (q Query) String() string {
	return q.formatWithIndent("")
}

// formatWithIndent formats the query with proper indentation
func (q Query) formatWithIndent(indent string) string {
	var b strings.Builder
	b.WriteString("[:find")
	for _, s := range q.Find {
		b.WriteString(" " + s.String())
	}

	b.WriteString("\n" + indent + " :where")
	patternIndent := indent + "        " // 8 spaces to align with :where text
	for i, pattern := range q.Where {
		if i == 0 {
			b.WriteString(" ")
		} else {
			b.WriteString("\n" + patternIndent)
		}
		b.WriteString(pattern.String())
	}
	b.WriteString("]")
	return b.String()
}
