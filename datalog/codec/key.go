package codec

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/loganmhb/cliodb/datalog"
)

// Key layout:
//
//	[ordering 1B][c1][c2][c3][tx 8B BE][added 1B]
//
// Entity and attribute components are 8 bytes big-endian. Values are a kind
// byte followed by an order-preserving payload, so bytes.Compare on two keys
// of the same ordering agrees with comparing their components in order.

const (
	idSize    = 8
	txSize    = 8
	addedSize = 1
)

// Escape scheme for variable-length payloads: 0x00 becomes 0x00 0xFF and the
// payload ends with 0x00 0x01, which sorts before any continuation.
const (
	escapeByte     = 0x00
	escapedZero    = 0xFF
	terminatorByte = 0x01
)

// EncodeKey creates the index key of d in ordering o
func EncodeKey(o Ordering, d datalog.Datom) []byte {
	key := make([]byte, 0, 1+2*idSize+valueSizeHint(d.V)+txSize+addedSize)
	key = append(key, byte(o))
	for _, c := range o.Components() {
		key = appendComponent(key, c, d)
	}
	key = binary.BigEndian.AppendUint64(key, uint64(d.Tx))
	if d.Added {
		return append(key, 1)
	}
	return append(key, 0)
}

// EncodePrefix creates a scan prefix from the first n components of template
// in ordering o. n ranges from 0 (whole index) to 3.
func EncodePrefix(o Ordering, template datalog.Datom, n int) []byte {
	if n < 0 || n > 3 {
		panic(fmt.Sprintf("prefix length out of range: %d", n))
	}
	prefix := []byte{byte(o)}
	comps := o.Components()
	for _, c := range comps[:n] {
		prefix = appendComponent(prefix, c, template)
	}
	return prefix
}

// DecodeKey parses an index key back into its ordering and datom
func DecodeKey(key []byte) (Ordering, datalog.Datom, error) {
	var d datalog.Datom
	if len(key) < 1+2*idSize+2+txSize+addedSize {
		return 0, d, datalog.InvariantViolation("index key too short: %d bytes", len(key))
	}
	o := Ordering(key[0])
	if !o.Valid() {
		return 0, d, datalog.InvariantViolation("unknown ordering %d in index key", key[0])
	}

	rest := key[1:]
	var err error
	for _, c := range o.Components() {
		switch c {
		case ComponentE:
			var id uint64
			if id, rest, err = decodeID(rest); err != nil {
				return 0, d, err
			}
			d.E = datalog.EntityID(id)
		case ComponentA:
			var id uint64
			if id, rest, err = decodeID(rest); err != nil {
				return 0, d, err
			}
			d.A = datalog.EntityID(id)
		case ComponentV:
			if d.V, rest, err = DecodeValue(rest); err != nil {
				return 0, d, err
			}
		}
	}

	if len(rest) != txSize+addedSize {
		return 0, d, datalog.InvariantViolation("index key has %d trailing bytes, want %d", len(rest), txSize+addedSize)
	}
	d.Tx = datalog.TxID(binary.BigEndian.Uint64(rest))
	switch rest[txSize] {
	case 0:
		d.Added = false
	case 1:
		d.Added = true
	default:
		return 0, d, datalog.InvariantViolation("invalid added flag %d in index key", rest[txSize])
	}
	return o, d, nil
}

// DecodeDatom decodes a key that must belong to ordering o
func DecodeDatom(o Ordering, key []byte) (datalog.Datom, error) {
	got, d, err := DecodeKey(key)
	if err != nil {
		return d, err
	}
	if got != o {
		return d, datalog.InvariantViolation("key of ordering %s found in %s index", got, o)
	}
	return d, nil
}

// TripleKey returns the part of key that identifies (e, a, v): everything
// before the tx. Keys of the same ordering with equal TripleKeys describe the
// same fact.
func TripleKey(key []byte) []byte {
	if len(key) < txSize+addedSize {
		return key
	}
	return key[:len(key)-txSize-addedSize]
}

// SameTriple reports whether two keys of one ordering describe the same fact
func SameTriple(a, b []byte) bool {
	return bytes.Equal(TripleKey(a), TripleKey(b))
}

// EncodeValue returns the order-preserving encoding of v
func EncodeValue(v datalog.Value) []byte {
	return AppendValue(make([]byte, 0, valueSizeHint(v)), v)
}

// AppendValue appends the order-preserving encoding of v to dst
func AppendValue(dst []byte, v datalog.Value) []byte {
	dst = append(dst, byte(v.Kind()))
	switch v.Kind() {
	case datalog.KindString:
		s, _ := v.AsString()
		return appendEscaped(dst, s)
	case datalog.KindIdent:
		s, _ := v.AsIdent()
		return appendEscaped(dst, s)
	case datalog.KindRef:
		e, _ := v.AsRef()
		return binary.BigEndian.AppendUint64(dst, uint64(e))
	case datalog.KindTimestamp:
		// Flip the sign bit so negative instants sort first.
		return binary.BigEndian.AppendUint64(dst, uint64(v.UnixNanos())^(1<<63))
	default:
		panic(fmt.Sprintf("cannot encode value of kind %d", uint8(v.Kind())))
	}
}

// DecodeValue parses one encoded value and returns the remaining bytes
func DecodeValue(b []byte) (datalog.Value, []byte, error) {
	if len(b) == 0 {
		return datalog.Value{}, nil, datalog.InvariantViolation("missing value")
	}
	kind := datalog.ValueKind(b[0])
	b = b[1:]
	switch kind {
	case datalog.KindString, datalog.KindIdent:
		s, rest, err := decodeEscaped(b)
		if err != nil {
			return datalog.Value{}, nil, err
		}
		if kind == datalog.KindString {
			return datalog.String(s), rest, nil
		}
		return datalog.Ident(s), rest, nil
	case datalog.KindRef:
		id, rest, err := decodeID(b)
		if err != nil {
			return datalog.Value{}, nil, err
		}
		return datalog.Ref(datalog.EntityID(id)), rest, nil
	case datalog.KindTimestamp:
		raw, rest, err := decodeID(b)
		if err != nil {
			return datalog.Value{}, nil, err
		}
		return datalog.TimestampNanos(int64(raw ^ (1 << 63))), rest, nil
	default:
		return datalog.Value{}, nil, datalog.InvariantViolation("unknown value kind %d", uint8(kind))
	}
}

func appendComponent(dst []byte, c Component, d datalog.Datom) []byte {
	switch c {
	case ComponentE:
		return binary.BigEndian.AppendUint64(dst, uint64(d.E))
	case ComponentA:
		return binary.BigEndian.AppendUint64(dst, uint64(d.A))
	case ComponentV:
		return AppendValue(dst, d.V)
	default:
		panic(fmt.Sprintf("unknown component: %d", uint8(c)))
	}
}

func appendEscaped(dst []byte, s string) []byte {
	for i := 0; i < len(s); i++ {
		if s[i] == escapeByte {
			dst = append(dst, escapeByte, escapedZero)
			continue
		}
		dst = append(dst, s[i])
	}
	return append(dst, escapeByte, terminatorByte)
}

func decodeEscaped(b []byte) (string, []byte, error) {
	out := make([]byte, 0, len(b))
	for i := 0; i < len(b); i++ {
		if b[i] != escapeByte {
			out = append(out, b[i])
			continue
		}
		if i+1 >= len(b) {
			return "", nil, datalog.InvariantViolation("truncated escape in value")
		}
		switch b[i+1] {
		case escapedZero:
			out = append(out, 0)
			i++
		case terminatorByte:
			return string(out), b[i+2:], nil
		default:
			return "", nil, datalog.InvariantViolation("invalid escape 0x%02x in value", b[i+1])
		}
	}
	return "", nil, datalog.InvariantViolation("unterminated value")
}

func decodeID(b []byte) (uint64, []byte, error) {
	if len(b) < idSize {
		return 0, nil, datalog.InvariantViolation("truncated id: %d bytes", len(b))
	}
	return binary.BigEndian.Uint64(b), b[idSize:], nil
}

func valueSizeHint(v datalog.Value) int {
	switch v.Kind() {
	case datalog.KindString:
		s, _ := v.AsString()
		return len(s) + 3
	case datalog.KindIdent:
		s, _ := v.AsIdent()
		return len(s) + 3
	default:
		return 1 + idSize
	}
}
