package codec

import (
	"encoding/binary"
	"fmt"

	"github.com/golang/snappy"
	"github.com/loganmhb/cliodb/datalog"
)

const blockVersion = 1

const (
	flagLeaf byte = 1 << iota
)

// Node is the decoded form of an index block. Leaves hold datom keys in
// order. Interior nodes hold, for each child, the smallest key under it and
// the block link it is stored at.
type Node struct {
	Leaf  bool
	Keys  [][]byte
	Links []string
}

// EncodeNode serializes a node as [version][flags][snappy(body)]
func EncodeNode(n Node) []byte {
	if !n.Leaf && len(n.Links) != len(n.Keys) {
		panic(fmt.Sprintf("interior node has %d keys and %d links", len(n.Keys), len(n.Links)))
	}

	size := binary.MaxVarintLen64
	for i, k := range n.Keys {
		size += binary.MaxVarintLen64 + len(k)
		if !n.Leaf {
			size += binary.MaxVarintLen64 + len(n.Links[i])
		}
	}
	body := make([]byte, 0, size)
	body = binary.AppendUvarint(body, uint64(len(n.Keys)))
	for i, k := range n.Keys {
		body = appendBytes(body, k)
		if !n.Leaf {
			body = appendBytes(body, []byte(n.Links[i]))
		}
	}

	var flags byte
	if n.Leaf {
		flags |= flagLeaf
	}
	out := []byte{blockVersion, flags}
	return append(out, snappy.Encode(nil, body)...)
}

// DecodeNode parses a block written by EncodeNode
func DecodeNode(b []byte) (Node, error) {
	var n Node
	if len(b) < 2 {
		return n, datalog.InvariantViolation("index block too short: %d bytes", len(b))
	}
	if b[0] != blockVersion {
		return n, datalog.InvariantViolation("unsupported index block version %d", b[0])
	}
	n.Leaf = b[1]&flagLeaf != 0

	body, err := snappy.Decode(nil, b[2:])
	if err != nil {
		return n, datalog.InvariantViolation("corrupt index block: %v", err)
	}

	count, body, err := readUvarint(body)
	if err != nil {
		return n, err
	}
	if count > uint64(len(body)) {
		return n, datalog.InvariantViolation("index block claims %d entries in %d bytes", count, len(body))
	}
	n.Keys = make([][]byte, count)
	if !n.Leaf {
		n.Links = make([]string, count)
	}
	for i := range n.Keys {
		if n.Keys[i], body, err = readBytes(body); err != nil {
			return n, err
		}
		if !n.Leaf {
			var link []byte
			if link, body, err = readBytes(body); err != nil {
				return n, err
			}
			n.Links[i] = string(link)
		}
	}
	if len(body) != 0 {
		return n, datalog.InvariantViolation("index block has %d trailing bytes", len(body))
	}
	return n, nil
}

func appendBytes(dst, b []byte) []byte {
	dst = binary.AppendUvarint(dst, uint64(len(b)))
	return append(dst, b...)
}

func appendString(dst []byte, s string) []byte {
	dst = binary.AppendUvarint(dst, uint64(len(s)))
	return append(dst, s...)
}

func readUvarint(b []byte) (uint64, []byte, error) {
	v, n := binary.Uvarint(b)
	if n <= 0 {
		return 0, nil, datalog.InvariantViolation("corrupt varint")
	}
	return v, b[n:], nil
}

func readBytes(b []byte) ([]byte, []byte, error) {
	size, rest, err := readUvarint(b)
	if err != nil {
		return nil, nil, err
	}
	if size > uint64(len(rest)) {
		return nil, nil, datalog.InvariantViolation("field of %d bytes exceeds remaining %d", size, len(rest))
	}
	out := make([]byte, size)
	copy(out, rest[:size])
	return out, rest[size:], nil
}

func readString(b []byte) (string, []byte, error) {
	raw, rest, err := readBytes(b)
	return string(raw), rest, err
}
