package codec

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"github.com/golang/snappy"
	"github.com/loganmhb/cliodb/datalog"
)

// Block store key namespaces.
const (
	ContentsKey   = "meta/contents"
	NodePrefix    = "node/"
	TxLogPrefix   = "txlog/"
	recordVersion = 1
)

// NodeKey returns the block store key of an index node
func NodeKey(link string) string {
	return NodePrefix + link
}

// TxLogKey returns the block store key of a transaction's log record.
// Keys sort in tx order.
func TxLogKey(tx datalog.TxID) string {
	return fmt.Sprintf("%s%016x", TxLogPrefix, uint64(tx))
}

// ParseTxLogKey is the inverse of TxLogKey
func ParseTxLogKey(key string) (datalog.TxID, error) {
	if !strings.HasPrefix(key, TxLogPrefix) {
		return 0, datalog.InvariantViolation("not a tx log key: %q", key)
	}
	tx, err := strconv.ParseUint(key[len(TxLogPrefix):], 16, 64)
	if err != nil {
		return 0, datalog.InvariantViolation("bad tx log key %q: %v", key, err)
	}
	return datalog.TxID(tx), nil
}

// Contents is the root record of a database: where the durable indexes
// live and how far they reach.
type Contents struct {
	NextID        datalog.EntityID
	LastIndexedTx datalog.TxID
	Roots         [len(Orderings)]string
}

// EncodeContents serializes the root record
func EncodeContents(c Contents) []byte {
	out := []byte{recordVersion}
	out = binary.AppendUvarint(out, uint64(c.NextID))
	out = binary.AppendUvarint(out, uint64(c.LastIndexedTx))
	for _, root := range c.Roots {
		out = appendString(out, root)
	}
	return out
}

// DecodeContents parses a record written by EncodeContents
func DecodeContents(b []byte) (Contents, error) {
	var c Contents
	if len(b) == 0 || b[0] != recordVersion {
		return c, datalog.InvariantViolation("unsupported contents record")
	}
	b = b[1:]

	next, b, err := readUvarint(b)
	if err != nil {
		return c, err
	}
	indexed, b, err := readUvarint(b)
	if err != nil {
		return c, err
	}
	c.NextID = datalog.EntityID(next)
	c.LastIndexedTx = datalog.TxID(indexed)
	for i := range c.Roots {
		if c.Roots[i], b, err = readString(b); err != nil {
			return c, err
		}
	}
	if len(b) != 0 {
		return c, datalog.InvariantViolation("contents record has %d trailing bytes", len(b))
	}
	return c, nil
}

// TxRecord is the durable log entry of one committed transaction. Replaying
// records newer than Contents.LastIndexedTx rebuilds the in-memory overlay.
type TxRecord struct {
	Tx     datalog.TxID
	NextID datalog.EntityID
	Datoms []datalog.Datom
}

// EncodeTxRecord serializes a log record; datoms are stored as EAVT keys
func EncodeTxRecord(r TxRecord) []byte {
	body := binary.AppendUvarint(nil, uint64(r.Tx))
	body = binary.AppendUvarint(body, uint64(r.NextID))
	body = binary.AppendUvarint(body, uint64(len(r.Datoms)))
	for _, d := range r.Datoms {
		body = appendBytes(body, EncodeKey(EAVT, d))
	}
	out := []byte{recordVersion}
	return append(out, snappy.Encode(nil, body)...)
}

// DecodeTxRecord parses a record written by EncodeTxRecord
func DecodeTxRecord(b []byte) (TxRecord, error) {
	var r TxRecord
	if len(b) == 0 || b[0] != recordVersion {
		return r, datalog.InvariantViolation("unsupported tx log record")
	}
	body, err := snappy.Decode(nil, b[1:])
	if err != nil {
		return r, datalog.InvariantViolation("corrupt tx log record: %v", err)
	}

	tx, body, err := readUvarint(body)
	if err != nil {
		return r, err
	}
	next, body, err := readUvarint(body)
	if err != nil {
		return r, err
	}
	count, body, err := readUvarint(body)
	if err != nil {
		return r, err
	}
	if count > uint64(len(body)) {
		return r, datalog.InvariantViolation("tx log record claims %d datoms in %d bytes", count, len(body))
	}
	r.Tx = datalog.TxID(tx)
	r.NextID = datalog.EntityID(next)
	r.Datoms = make([]datalog.Datom, count)
	for i := range r.Datoms {
		var key []byte
		if key, body, err = readBytes(body); err != nil {
			return r, err
		}
		if r.Datoms[i], err = DecodeDatom(EAVT, key); err != nil {
			return r, err
		}
	}
	return r, nil
}
