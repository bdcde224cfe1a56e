package datalog

import (
	"fmt"
	"strconv"
	"time"
)

// ValueKind tags the variant held by a Value.
// The zero kind marks the absence of a value and is never stored.
type ValueKind uint8

const (
	KindString ValueKind = iota + 1
	KindRef
	KindTimestamp
	KindIdent
)

// String returns the kind name
func (k ValueKind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindRef:
		return "ref"
	case KindTimestamp:
		return "timestamp"
	case KindIdent:
		return "ident"
	case 0:
		return "none"
	default:
		panic(fmt.Sprintf("unknown value kind: %d", uint8(k)))
	}
}

// Value is a tagged variant: String, Ref, Timestamp or Ident.
// Values are comparable with == and usable as map keys.
type Value struct {
	kind ValueKind
	str  string // String and Ident payload
	num  uint64 // Ref id, or Timestamp unix nanos as int64 bits
}

// String creates a string value
func String(s string) Value {
	return Value{kind: KindString, str: s}
}

// Ref creates a reference to an entity
func Ref(e EntityID) Value {
	return Value{kind: KindRef, num: uint64(e)}
}

// Timestamp creates a timestamp value with nanosecond precision
func Timestamp(t time.Time) Value {
	return Value{kind: KindTimestamp, num: uint64(t.UnixNano())}
}

// TimestampNanos creates a timestamp value from unix nanoseconds
func TimestampNanos(nanos int64) Value {
	return Value{kind: KindTimestamp, num: uint64(nanos)}
}

// Ident creates an ident value, a symbolic name such as :person/name
func Ident(name string) Value {
	return Value{kind: KindIdent, str: name}
}

// Kind returns the variant tag
func (v Value) Kind() ValueKind {
	return v.kind
}

// IsZero reports whether v holds no value
func (v Value) IsZero() bool {
	return v.kind == 0
}

// AsString returns the payload of a string value
func (v Value) AsString() (string, bool) {
	return v.str, v.kind == KindString
}

// AsRef returns the entity of a ref value
func (v Value) AsRef() (EntityID, bool) {
	return EntityID(v.num), v.kind == KindRef
}

// AsTime returns the time of a timestamp value
func (v Value) AsTime() (time.Time, bool) {
	return time.Unix(0, int64(v.num)).UTC(), v.kind == KindTimestamp
}

// UnixNanos returns the raw nanoseconds of a timestamp value
func (v Value) UnixNanos() int64 {
	return int64(v.num)
}

// AsIdent returns the name of an ident value
func (v Value) AsIdent() (string, bool) {
	return v.str, v.kind == KindIdent
}

// String renders the value the way the query language reads it
func (v Value) String() string {
	switch v.kind {
	case KindString:
		return strconv.Quote(v.str)
	case KindRef:
		return strconv.FormatUint(v.num, 10)
	case KindTimestamp:
		t, _ := v.AsTime()
		return `#inst "` + t.Format(time.RFC3339Nano) + `"`
	case KindIdent:
		return v.str
	case 0:
		return "nil"
	default:
		panic(fmt.Sprintf("unknown value kind: %d", uint8(v.kind)))
	}
}
