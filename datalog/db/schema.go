package db

import (
	"maps"

	"github.com/loganmhb/cliodb/datalog"
)

// Schema maps attribute idents to entity ids and records each attribute's
// value type. A Schema is never modified once built; with returns a copy.
type Schema struct {
	idents map[string]datalog.EntityID
	names  map[datalog.EntityID]string
	types  map[datalog.EntityID]datalog.ValueKind
}

func emptySchema() *Schema {
	return &Schema{
		idents: map[string]datalog.EntityID{},
		names:  map[datalog.EntityID]string{},
		types:  map[datalog.EntityID]datalog.ValueKind{},
	}
}

// Entid resolves an ident to its entity id
func (s *Schema) Entid(ident string) (datalog.EntityID, bool) {
	e, ok := s.idents[ident]
	return e, ok
}

// Ident returns the ident of an entity, if it has one
func (s *Schema) Ident(e datalog.EntityID) (string, bool) {
	name, ok := s.names[e]
	return name, ok
}

// ValueType returns the value kind registered for attribute a. Attributes
// without a :db/valueType accept any kind.
func (s *Schema) ValueType(a datalog.EntityID) (datalog.ValueKind, bool) {
	k, ok := s.types[a]
	return k, ok
}

// Len returns the number of entities with an ident
func (s *Schema) Len() int {
	return len(s.idents)
}

// IsSchemaDatom reports whether d changes idents or value types
func IsSchemaDatom(d datalog.Datom) bool {
	return d.A == datalog.AttrIdent || d.A == datalog.AttrValueType
}

// With returns the schema after datoms, copying only if one of them is a
// schema datom.
func (s *Schema) With(datoms []datalog.Datom) *Schema {
	next := s
	for _, d := range datoms {
		if !IsSchemaDatom(d) {
			continue
		}
		if next == s {
			next = &Schema{
				idents: maps.Clone(s.idents),
				names:  maps.Clone(s.names),
				types:  maps.Clone(s.types),
			}
		}
		next.apply(d)
	}
	return next
}

func (s *Schema) apply(d datalog.Datom) {
	name, ok := d.V.AsIdent()
	if !ok {
		return
	}
	switch d.A {
	case datalog.AttrIdent:
		if d.Added {
			if old, ok := s.names[d.E]; ok {
				delete(s.idents, old)
			}
			s.idents[name] = d.E
			s.names[d.E] = name
		} else if s.names[d.E] == name {
			delete(s.idents, name)
			delete(s.names, d.E)
		}
	case datalog.AttrValueType:
		kind, ok := datalog.KindForType(name)
		if !ok {
			return
		}
		if d.Added {
			s.types[d.E] = kind
		} else if s.types[d.E] == kind {
			delete(s.types, d.E)
		}
	}
}
