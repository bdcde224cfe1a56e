package datalog

import (
	"fmt"
	"strings"
)

// CompareValues compares two values and returns:
//
//	-1 if left < right
//	 0 if left == right
//	 1 if left > right
//
// Values order first by kind, then by payload. Strings and idents compare
// bytewise, refs as unsigned ids, timestamps chronologically. This is the same
// order the codec's value encoding sorts in.
func CompareValues(left, right Value) int {
	if left.kind != right.kind {
		if left.kind < right.kind {
			return -1
		}
		return 1
	}

	switch left.kind {
	case KindString, KindIdent:
		return strings.Compare(left.str, right.str)
	case KindRef:
		return compareUint64(left.num, right.num)
	case KindTimestamp:
		l, r := int64(left.num), int64(right.num)
		if l < r {
			return -1
		} else if l > r {
			return 1
		}
		return 0
	case 0:
		return 0
	default:
		panic(fmt.Sprintf("unknown value kind: %d", uint8(left.kind)))
	}
}

// CompareDatoms orders datoms by (E, A, V, Tx, Added) with retractions
// before assertions at the same tx.
func CompareDatoms(left, right Datom) int {
	if c := compareUint64(uint64(left.E), uint64(right.E)); c != 0 {
		return c
	}
	if c := compareUint64(uint64(left.A), uint64(right.A)); c != 0 {
		return c
	}
	if c := CompareValues(left.V, right.V); c != 0 {
		return c
	}
	if c := compareUint64(uint64(left.Tx), uint64(right.Tx)); c != 0 {
		return c
	}
	switch {
	case left.Added == right.Added:
		return 0
	case !left.Added:
		return -1
	default:
		return 1
	}
}

func compareUint64(a, b uint64) int {
	if a < b {
		return -1
	} else if a > b {
		return 1
	}
	return 0
}
