// Package codec turns datoms, index nodes and log records into bytes and back.
// Every function here is pure.
package codec

import "fmt"

// Ordering is one of the four sort orders datoms are indexed in.
type Ordering uint8

const (
	EAVT Ordering = iota // Entity-Attribute-Value-Tx
	AEVT                 // Attribute-Entity-Value-Tx
	AVET                 // Attribute-Value-Entity-Tx
	VAET                 // Value-Attribute-Entity-Tx
)

// Orderings lists every ordering, in the order roots are stored.
var Orderings = [...]Ordering{EAVT, AEVT, AVET, VAET}

// Component names one of the three leading parts of an index key.
type Component uint8

const (
	ComponentE Component = iota
	ComponentA
	ComponentV
)

var components = [...][3]Component{
	EAVT: {ComponentE, ComponentA, ComponentV},
	AEVT: {ComponentA, ComponentE, ComponentV},
	AVET: {ComponentA, ComponentV, ComponentE},
	VAET: {ComponentV, ComponentA, ComponentE},
}

// Components returns the leading components of o in key order.
func (o Ordering) Components() [3]Component {
	if int(o) >= len(components) {
		panic(fmt.Sprintf("unknown ordering: %d", uint8(o)))
	}
	return components[o]
}

// String returns the ordering name
func (o Ordering) String() string {
	switch o {
	case EAVT:
		return "EAVT"
	case AEVT:
		return "AEVT"
	case AVET:
		return "AVET"
	case VAET:
		return "VAET"
	default:
		return fmt.Sprintf("Ordering(%d)", uint8(o))
	}
}

// Valid reports whether o is a known ordering
func (o Ordering) Valid() bool {
	return int(o) < len(components)
}

func (c Component) String() string {
	switch c {
	case ComponentE:
		return "e"
	case ComponentA:
		return "a"
	case ComponentV:
		return "v"
	default:
		return fmt.Sprintf("Component(%d)", uint8(c))
	}
}
