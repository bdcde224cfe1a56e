package datalog

import "time"

// Built-in idents.
const (
	IdentDbIdent       = ":db/ident"
	IdentTxInstant     = ":db/txInstant"
	IdentValueType     = ":db/valueType"
	IdentTypeIdent     = ":db.type/ident"
	IdentTypeString    = ":db.type/string"
	IdentTypeTimestamp = ":db.type/timestamp"
	IdentTypeRef       = ":db.type/ref"
)

// Entities created by the bootstrap transaction. User entities start at
// FirstUserID.
const (
	BootstrapTx         TxID     = 0
	AttrIdent           EntityID = 1
	AttrTxInstant       EntityID = 2
	AttrValueType       EntityID = 3
	TypeIdentEntity     EntityID = 4
	TypeStringEntity    EntityID = 5
	TypeTimestampEntity EntityID = 6
	TypeRefEntity       EntityID = 7
	FirstUserID         EntityID = 8
)

var typeKinds = map[string]ValueKind{
	IdentTypeIdent:     KindIdent,
	IdentTypeString:    KindString,
	IdentTypeTimestamp: KindTimestamp,
	IdentTypeRef:       KindRef,
}

// KindForType maps a :db.type/* ident to the value kind it admits.
func KindForType(typeIdent string) (ValueKind, bool) {
	k, ok := typeKinds[typeIdent]
	return k, ok
}

// TypeForKind is the inverse of KindForType.
func TypeForKind(k ValueKind) string {
	for ident, kind := range typeKinds {
		if kind == k {
			return ident
		}
	}
	return ""
}

// BootstrapDatoms returns the facts every database starts with: the three
// built-in attributes, the four value types and the bootstrap tx instant.
func BootstrapDatoms(instant time.Time) []Datom {
	add := func(e, a EntityID, v Value) Datom {
		return Datom{E: e, A: a, V: v, Tx: BootstrapTx, Added: true}
	}
	return []Datom{
		add(BootstrapTx.Entity(), AttrTxInstant, Timestamp(instant)),
		add(AttrIdent, AttrIdent, Ident(IdentDbIdent)),
		add(AttrIdent, AttrValueType, Ident(IdentTypeIdent)),
		add(AttrTxInstant, AttrIdent, Ident(IdentTxInstant)),
		add(AttrTxInstant, AttrValueType, Ident(IdentTypeTimestamp)),
		add(AttrValueType, AttrIdent, Ident(IdentValueType)),
		add(AttrValueType, AttrValueType, Ident(IdentTypeIdent)),
		add(TypeIdentEntity, AttrIdent, Ident(IdentTypeIdent)),
		add(TypeStringEntity, AttrIdent, Ident(IdentTypeString)),
		add(TypeTimestampEntity, AttrIdent, Ident(IdentTypeTimestamp)),
		add(TypeRefEntity, AttrIdent, Ident(IdentTypeRef)),
	}
}
