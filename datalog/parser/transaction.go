package parser

import (
	"fmt"

	"github.com/loganmhb/cliodb/datalog"
	"github.com/loganmhb/cliodb/datalog/edn"
)

const (
	opAdd     = ":db/add"
	opRetract = ":db/retract"
	keyDbID   = ":db/id"
	tagDbID   = "db/id"
)

// ParseTransaction parses a transaction request.
//
// In entity positions an integer names an existing entity and a string (or
// #db/id "name") names a placeholder. In value positions a string is a
// string value, so placeholders must be written #db/id "name". An entity
// map without :db/id creates an anonymous new entity.
func ParseTransaction(input string) (datalog.TxRequest, error) {
	var req datalog.TxRequest
	node, err := edn.Parse(input)
	if err != nil {
		return req, fmt.Errorf("invalid transaction: %w", err)
	}
	if node.Type != edn.NodeVector {
		return req, fmt.Errorf("invalid transaction: expected vector of operations, got %s", node.Type)
	}

	anonymous := 0
	for i := range node.Nodes {
		form := &node.Nodes[i]
		var ops []datalog.TxOp
		switch form.Type {
		case edn.NodeVector, edn.NodeList:
			op, err := parseOp(form)
			if err != nil {
				return req, fmt.Errorf("invalid transaction: %w", err)
			}
			ops = []datalog.TxOp{op}
		case edn.NodeMap:
			ops, err = parseEntityMap(form, &anonymous)
			if err != nil {
				return req, fmt.Errorf("invalid transaction: %w", err)
			}
		default:
			return req, fmt.Errorf("invalid transaction: unexpected %s %s at %s", form.Type, form, form.Pos())
		}
		req.Ops = append(req.Ops, ops...)
	}
	return req, nil
}

// parseOp parses [:db/add e a v] or [:db/retract e a v]
func parseOp(form *edn.Node) (datalog.TxOp, error) {
	var op datalog.TxOp
	if len(form.Nodes) != 4 {
		return op, fmt.Errorf("operation %s at %s has %d elements, want 4", form, form.Pos(), len(form.Nodes))
	}
	verb, err := form.Nodes[0].AsKeyword()
	if err != nil {
		return op, err
	}
	switch verb {
	case opAdd:
	case opRetract:
		op.Retract = true
	default:
		return op, fmt.Errorf("unknown operation %s at %s", verb, form.Nodes[0].Pos())
	}

	if op.Entity, err = parseEntityRef(&form.Nodes[1]); err != nil {
		return op, err
	}
	if op.Attribute, err = form.Nodes[2].AsKeyword(); err != nil {
		return op, fmt.Errorf("attribute must be a keyword: %w", err)
	}
	if err := parseOpValue(&form.Nodes[3], &op); err != nil {
		return op, err
	}
	return op, nil
}

// parseEntityMap expands {:db/id e :attr v ...} into one add per pair. A
// vector value adds each of its elements.
func parseEntityMap(form *edn.Node, anonymous *int) ([]datalog.TxOp, error) {
	var entity *datalog.EntityRef
	for i := 0; i < len(form.Nodes); i += 2 {
		if form.Nodes[i].Type == edn.NodeKeyword && form.Nodes[i].Value == keyDbID {
			if entity != nil {
				return nil, fmt.Errorf("duplicate %s at %s", keyDbID, form.Nodes[i].Pos())
			}
			ref, err := parseEntityRef(&form.Nodes[i+1])
			if err != nil {
				return nil, err
			}
			entity = &ref
		}
	}
	if entity == nil {
		*anonymous++
		ref := datalog.Temp(fmt.Sprintf("_entity%d", *anonymous))
		entity = &ref
	}

	var ops []datalog.TxOp
	for i := 0; i < len(form.Nodes); i += 2 {
		attr, err := form.Nodes[i].AsKeyword()
		if err != nil {
			return nil, fmt.Errorf("entity map keys must be keywords: %w", err)
		}
		if attr == keyDbID {
			continue
		}

		values := []edn.Node{form.Nodes[i+1]}
		if values[0].Type == edn.NodeVector {
			values = values[0].Nodes
		}
		for j := range values {
			op := datalog.TxOp{Entity: *entity, Attribute: attr}
			if err := parseOpValue(&values[j], &op); err != nil {
				return nil, err
			}
			ops = append(ops, op)
		}
	}
	if len(ops) == 0 {
		return nil, fmt.Errorf("entity map at %s has no attributes", form.Pos())
	}
	return ops, nil
}

func parseEntityRef(node *edn.Node) (datalog.EntityRef, error) {
	switch node.Type {
	case edn.NodeInt:
		id, err := parseEntityID(node)
		if err != nil {
			return datalog.EntityRef{}, err
		}
		return datalog.Existing(id), nil
	case edn.NodeString:
		return tempRef(node)
	case edn.NodeTagged:
		if node.Tag == tagDbID {
			return tempRef(node.Tagged)
		}
	}
	return datalog.EntityRef{}, fmt.Errorf("expected entity id or placeholder, got %s %s at %s", node.Type, node, node.Pos())
}

func tempRef(node *edn.Node) (datalog.EntityRef, error) {
	name, err := node.AsString()
	if err != nil {
		return datalog.EntityRef{}, fmt.Errorf("placeholder must be a string: %w", err)
	}
	if name == "" {
		return datalog.EntityRef{}, fmt.Errorf("empty placeholder at %s", node.Pos())
	}
	return datalog.Temp(name), nil
}

func parseOpValue(node *edn.Node, op *datalog.TxOp) error {
	if node.Type == edn.NodeTagged && node.Tag == tagDbID {
		ref, err := tempRef(node.Tagged)
		if err != nil {
			return err
		}
		op.ValueRef = &ref
		return nil
	}
	v, err := parseValue(node)
	if err != nil {
		return err
	}
	op.Value = v
	return nil
}
