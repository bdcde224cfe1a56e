package transactor

import (
	"fmt"
	"time"

	"github.com/loganmhb/cliodb/datalog"
	"github.com/loganmhb/cliodb/datalog/db"
)

// prepared is a validated transaction ready to be logged and applied.
type prepared struct {
	report *datalog.TxReport
	nextID datalog.EntityID
}

// prepare assigns ids and validates req against current. It has no effects:
// on error the database and its id counter are unchanged.
func prepare(current *db.DB, req datalog.TxRequest, instant time.Time) (*prepared, error) {
	txID := datalog.TxID(current.NextID())
	nextID := current.NextID() + 1

	// Placeholders get ids after the tx id, in order of first appearance.
	tempIDs := map[string]datalog.EntityID{}
	resolve := func(ref datalog.EntityRef) datalog.EntityID {
		if !ref.IsTemp() {
			return ref.ID
		}
		id, ok := tempIDs[ref.Temp]
		if !ok {
			id = nextID
			nextID++
			tempIDs[ref.Temp] = id
		}
		return id
	}

	schema := current.Schema()
	datoms := make([]datalog.Datom, 0, len(req.Ops)+1)
	datoms = append(datoms, datalog.Datom{
		E:     txID.Entity(),
		A:     datalog.AttrTxInstant,
		V:     datalog.Timestamp(instant),
		Tx:    txID,
		Added: true,
	})

	for i, op := range req.Ops {
		e := resolve(op.Entity)

		attr, ok := schema.Entid(op.Attribute)
		if !ok {
			return nil, fmt.Errorf("%w: %s in op %d", datalog.ErrUnknownAttribute, op.Attribute, i)
		}

		v := op.Value
		if op.ValueRef != nil {
			v = datalog.Ref(resolve(*op.ValueRef))
		}
		if err := checkValue(schema, attr, op.Attribute, v); err != nil {
			return nil, fmt.Errorf("%w in op %d", err, i)
		}

		d := datalog.Datom{E: e, A: attr, V: v, Tx: txID, Added: !op.Retract}
		if db.IsSchemaDatom(d) {
			schema = schema.With([]datalog.Datom{d})
		}
		datoms = append(datoms, d)
	}

	datoms = collapse(datoms)
	return &prepared{
		report: &datalog.TxReport{TxID: txID, TempIDs: tempIDs, Datoms: datoms},
		nextID: nextID,
	}, nil
}

func checkValue(schema *db.Schema, attr datalog.EntityID, name string, v datalog.Value) error {
	if v.IsZero() {
		return fmt.Errorf("%w: %s has no value", datalog.ErrTypeMismatch, name)
	}
	if want, ok := schema.ValueType(attr); ok && v.Kind() != want {
		return fmt.Errorf("%w: %s expects %s, got %s %s", datalog.ErrTypeMismatch, name, want, v.Kind(), v)
	}
	if attr == datalog.AttrValueType {
		ident, _ := v.AsIdent()
		if _, ok := datalog.KindForType(ident); !ok {
			return fmt.Errorf("%w: %s is not a value type", datalog.ErrTypeMismatch, v)
		}
	}
	return nil
}

// collapse keeps only the last datom for each (e, a, v), preserving request
// order among the survivors.
func collapse(datoms []datalog.Datom) []datalog.Datom {
	last := make(map[datalog.Triple]int, len(datoms))
	for i, d := range datoms {
		last[d.Triple()] = i
	}
	if len(last) == len(datoms) {
		return datoms
	}
	out := datoms[:0]
	for i, d := range datoms {
		if last[d.Triple()] == i {
			out = append(out, d)
		}
	}
	return out
}
