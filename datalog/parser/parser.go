// Package parser turns query and transaction text into their structured
// forms.
//
// Queries are EDN vectors:
//
//	[:find ?n
//	 :where [?p :person/name "Bob"]
//	        [?c :person/parent ?p]
//	        [?c :person/name ?n]]
//
// Transactions are vectors of operations, each a list form or an entity map:
//
//	[[:db/add "bob" :person/name "Bob"]
//	 [:db/retract 12 :person/name "Robert"]
//	 {:db/id "child" :person/name "Child" :person/parent #db/id "bob"}]
package parser

import (
	"fmt"
	"strings"
	"time"

	"github.com/loganmhb/cliodb/datalog"
	"github.com/loganmhb/cliodb/datalog/edn"
	"github.com/loganmhb/cliodb/datalog/query"
)

// ParseQuery parses a query. Every error wraps datalog.ErrInvalidQuery.
func ParseQuery(input string) (query.Query, error) {
	node, err := edn.Parse(input)
	if err != nil {
		return query.Query{}, fmt.Errorf("%w: %w", datalog.ErrInvalidQuery, err)
	}
	q, err := parseQueryVector(node)
	if err != nil {
		return query.Query{}, fmt.Errorf("%w: %w", datalog.ErrInvalidQuery, err)
	}
	return q, nil
}

func parseQueryVector(node *edn.Node) (query.Query, error) {
	var q query.Query
	if node.Type != edn.NodeVector {
		return q, fmt.Errorf("query must be a vector, got %s", node.Type)
	}

	seen := map[string]bool{}
	i := 0
	for i < len(node.Nodes) {
		keyword, err := node.Nodes[i].AsKeyword()
		if err != nil {
			return q, err
		}
		if seen[keyword] {
			return q, fmt.Errorf("duplicate %s clause", keyword)
		}
		seen[keyword] = true
		i++

		start := i
		for i < len(node.Nodes) && node.Nodes[i].Type != edn.NodeKeyword {
			i++
		}
		args := node.Nodes[start:i]

		switch keyword {
		case ":find":
			for _, arg := range args {
				name, err := arg.AsSymbol()
				if err != nil {
					return q, fmt.Errorf("error parsing find element: %w", err)
				}
				if !query.Symbol(name).IsVariable() {
					return q, fmt.Errorf("find element %s is not a variable", name)
				}
				q.Find = append(q.Find, query.Symbol(name))
			}
		case ":where":
			for j := range args {
				pattern, err := parsePattern(&args[j])
				if err != nil {
					return q, fmt.Errorf("error parsing pattern: %w", err)
				}
				q.Where = append(q.Where, pattern)
			}
		default:
			return q, fmt.Errorf("unsupported clause %s", keyword)
		}
	}

	if len(q.Find) == 0 {
		return q, fmt.Errorf("query has no :find variables")
	}
	if len(q.Where) == 0 {
		return q, fmt.Errorf("query has no :where patterns")
	}
	return q, nil
}

// parsePattern parses [e a v] or [e a v tx]
func parsePattern(node *edn.Node) (query.DataPattern, error) {
	var p query.DataPattern
	if node.Type != edn.NodeVector {
		return p, fmt.Errorf("expected vector in :where clause, got %s %s at %s", node.Type, node, node.Pos())
	}
	if n := len(node.Nodes); n < 3 || n > 4 {
		return p, fmt.Errorf("pattern %s at %s has %d elements, want 3 or 4", node, node.Pos(), n)
	}
	for i := range node.Nodes {
		elem, err := parseElement(&node.Nodes[i])
		if err != nil {
			return p, err
		}
		p.Elements = append(p.Elements, elem)
	}
	return p, nil
}

func parseElement(node *edn.Node) (query.PatternElement, error) {
	if node.Type == edn.NodeSymbol {
		switch {
		case node.Value == "_":
			return query.Blank{}, nil
		case query.Symbol(node.Value).IsVariable():
			return query.Variable{Name: query.Symbol(node.Value)}, nil
		default:
			return nil, fmt.Errorf("unexpected symbol %s at %s; variables start with ?", node.Value, node.Pos())
		}
	}
	v, err := parseValue(node)
	if err != nil {
		return nil, err
	}
	return query.Constant{Value: v}, nil
}

// parseValue reads a literal: keywords are idents, integers are entity
// refs, strings are strings and #inst strings are timestamps.
func parseValue(node *edn.Node) (datalog.Value, error) {
	switch node.Type {
	case edn.NodeKeyword:
		return datalog.Ident(node.Value), nil
	case edn.NodeString:
		return datalog.String(node.Value), nil
	case edn.NodeInt:
		id, err := parseEntityID(node)
		if err != nil {
			return datalog.Value{}, err
		}
		return datalog.Ref(id), nil
	case edn.NodeTagged:
		if node.Tag != "inst" {
			return datalog.Value{}, fmt.Errorf("unsupported tag #%s at %s", node.Tag, node.Pos())
		}
		return parseInstant(node.Tagged)
	default:
		return datalog.Value{}, fmt.Errorf("unsupported %s literal %s at %s", node.Type, node, node.Pos())
	}
}

func parseEntityID(node *edn.Node) (datalog.EntityID, error) {
	n, err := node.AsInt()
	if err != nil {
		return 0, fmt.Errorf("invalid entity id %s at %s: %w", node.Value, node.Pos(), err)
	}
	if n < 0 {
		return 0, fmt.Errorf("negative entity id %d at %s", n, node.Pos())
	}
	return datalog.EntityID(n), nil
}

var instantLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"}

func parseInstant(node *edn.Node) (datalog.Value, error) {
	s, err := node.AsString()
	if err != nil {
		return datalog.Value{}, fmt.Errorf("#inst takes a string: %w", err)
	}
	for _, layout := range instantLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return datalog.Timestamp(t), nil
		}
	}
	return datalog.Value{}, fmt.Errorf("invalid #inst %q at %s", s, node.Pos())
}

// FormatQuery renders a query in the syntax ParseQuery reads
func FormatQuery(q query.Query) string {
	return q.String()
}

// FormatTransaction renders a request in the syntax ParseTransaction reads
func FormatTransaction(req datalog.TxRequest) string {
	ops := make([]string, len(req.Ops))
	for i, op := range req.Ops {
		verb := ":db/add"
		if op.Retract {
			verb = ":db/retract"
		}
		v := op.Value.String()
		if op.ValueRef != nil {
			v = op.ValueRef.String()
			if op.ValueRef.IsTemp() {
				v = "#db/id " + v
			}
		}
		ops[i] = fmt.Sprintf("[%s %s %s %s]", verb, op.Entity, op.Attribute, v)
	}
	return "[" + strings.Join(ops, "\n ") + "]"
}
