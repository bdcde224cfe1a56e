package datalog

import (
	"fmt"
	"strings"
)

// EntityRef names the entity of a transaction operation: either an existing
// id or a placeholder that the transactor resolves to a fresh id.
type EntityRef struct {
	ID   EntityID
	Temp string // placeholder name; empty for an existing entity
}

// Existing refers to an entity that already has an id
func Existing(id EntityID) EntityRef {
	return EntityRef{ID: id}
}

// Temp refers to a new entity. Every occurrence of the same name within one
// request resolves to the same id.
func Temp(name string) EntityRef {
	return EntityRef{Temp: name}
}

// IsTemp reports whether r is a placeholder
func (r EntityRef) IsTemp() bool {
	return r.Temp != ""
}

func (r EntityRef) String() string {
	if r.IsTemp() {
		return fmt.Sprintf("%q", r.Temp)
	}
	return fmt.Sprintf("%d", r.ID)
}

// TxOp is a single assertion or retraction in a transaction request.
// The value is either Value or, for refs to placeholders, ValueRef.
type TxOp struct {
	Retract   bool
	Entity    EntityRef
	Attribute string // attribute ident, e.g. :person/name
	Value     Value
	ValueRef  *EntityRef
}

// Add asserts attr=v about e
func Add(e EntityRef, attr string, v Value) TxOp {
	return TxOp{Entity: e, Attribute: attr, Value: v}
}

// AddRef asserts that attr of e points at target, which may be a placeholder
func AddRef(e EntityRef, attr string, target EntityRef) TxOp {
	return TxOp{Entity: e, Attribute: attr, ValueRef: &target}
}

// Retract retracts attr=v about e
func Retract(e EntityRef, attr string, v Value) TxOp {
	return TxOp{Retract: true, Entity: e, Attribute: attr, Value: v}
}

// String returns a string representation of the operation
func (op TxOp) String() string {
	verb := ":db/add"
	if op.Retract {
		verb = ":db/retract"
	}
	v := op.Value.String()
	if op.ValueRef != nil {
		v = op.ValueRef.String()
	}
	return fmt.Sprintf("[%s %s %s %s]", verb, op.Entity, op.Attribute, v)
}

// TxRequest is an ordered list of operations applied atomically.
type TxRequest struct {
	Ops []TxOp
}

// String returns a string representation of the request
func (r TxRequest) String() string {
	parts := make([]string, len(r.Ops))
	for i, op := range r.Ops {
		parts[i] = op.String()
	}
	return "[" + strings.Join(parts, " ") + "]"
}

// TxReport describes a committed transaction.
type TxReport struct {
	TxID    TxID
	TempIDs map[string]EntityID
	Datoms  []Datom
}

// Resolve returns the id a placeholder was assigned
func (r *TxReport) Resolve(name string) (EntityID, bool) {
	id, ok := r.TempIDs[name]
	return id, ok
}
