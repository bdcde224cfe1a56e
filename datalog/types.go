// Package datalog holds the data model shared by every cliodb component:
// datoms, values, transaction requests and the error taxonomy.
package datalog

import (
	"fmt"
)

// EntityID identifies an entity. Attributes and transactions are entities too.
type EntityID uint64

// TxID identifies a committed transaction. It is drawn from the same counter
// as entity ids, so every TxID is also the id of its transaction entity.
type TxID uint64

// Entity returns the transaction entity.
func (t TxID) Entity() EntityID {
	return EntityID(t)
}

// Datom is the fundamental unit of data: a single immutable fact.
// A retraction is a new datom with Added set to false for the same triple.
type Datom struct {
	E     EntityID // Entity
	A     EntityID // Attribute entity
	V     Value    // Value
	Tx    TxID     // Transaction that produced the datom
	Added bool     // Assertion (true) or retraction (false)
}

// String returns a string representation of the Datom
func (d Datom) String() string {
	op := "+"
	if !d.Added {
		op = "-"
	}
	return fmt.Sprintf("[%d %d %s %d %s]", d.E, d.A, d.V, d.Tx, op)
}

// Triple returns the (e, a, v) identity of the datom, ignoring tx and added.
func (d Datom) Triple() Triple {
	return Triple{E: d.E, A: d.A, V: d.V}
}

// Triple is the logical identity of a fact independent of when it was stated.
type Triple struct {
	E EntityID
	A EntityID
	V Value
}
