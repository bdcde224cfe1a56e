package codec

import (
	"encoding/binary"

	"github.com/loganmhb/cliodb/datalog"
)

// Wire messages exchanged between peers and a remote transactor.
//
//	request:  [version][op count] ops...
//	op:       [flags][entity ref][attribute][value | entity ref]
//	response: [version][error code] then a report (code OK) or a message

const wireVersion = 1

const (
	opRetract byte = 1 << iota
	opValueRef
)

const (
	refExisting byte = iota
	refTemp
)

// EncodeTxRequest serializes a transaction request
func EncodeTxRequest(req datalog.TxRequest) []byte {
	out := []byte{wireVersion}
	out = binary.AppendUvarint(out, uint64(len(req.Ops)))
	for _, op := range req.Ops {
		var flags byte
		if op.Retract {
			flags |= opRetract
		}
		if op.ValueRef != nil {
			flags |= opValueRef
		}
		out = append(out, flags)
		out = appendEntityRef(out, op.Entity)
		out = appendString(out, op.Attribute)
		if op.ValueRef != nil {
			out = appendEntityRef(out, *op.ValueRef)
		} else {
			out = appendBytes(out, encodeOptionalValue(op.Value))
		}
	}
	return out
}

// DecodeTxRequest parses a request written by EncodeTxRequest
func DecodeTxRequest(b []byte) (datalog.TxRequest, error) {
	var req datalog.TxRequest
	if len(b) == 0 || b[0] != wireVersion {
		return req, datalog.InvariantViolation("unsupported tx request")
	}
	count, b, err := readUvarint(b[1:])
	if err != nil {
		return req, err
	}
	if count > uint64(len(b)) {
		return req, datalog.InvariantViolation("tx request claims %d ops in %d bytes", count, len(b))
	}
	req.Ops = make([]datalog.TxOp, count)
	for i := range req.Ops {
		op := &req.Ops[i]
		if len(b) == 0 {
			return req, datalog.InvariantViolation("truncated tx request")
		}
		flags := b[0]
		b = b[1:]
		op.Retract = flags&opRetract != 0
		if op.Entity, b, err = readEntityRef(b); err != nil {
			return req, err
		}
		if op.Attribute, b, err = readString(b); err != nil {
			return req, err
		}
		if flags&opValueRef != 0 {
			var target datalog.EntityRef
			if target, b, err = readEntityRef(b); err != nil {
				return req, err
			}
			op.ValueRef = &target
			continue
		}
		var raw []byte
		if raw, b, err = readBytes(b); err != nil {
			return req, err
		}
		if op.Value, err = decodeOptionalValue(raw); err != nil {
			return req, err
		}
	}
	return req, nil
}

// EncodeTxResponse serializes the outcome of a submitted transaction
func EncodeTxResponse(report *datalog.TxReport, txErr error) []byte {
	code := datalog.CodeOf(txErr)
	out := []byte{wireVersion, byte(code)}
	if code != datalog.CodeOK {
		return appendString(out, txErr.Error())
	}

	out = binary.AppendUvarint(out, uint64(report.TxID))
	out = binary.AppendUvarint(out, uint64(len(report.TempIDs)))
	for name, id := range report.TempIDs {
		out = appendString(out, name)
		out = binary.AppendUvarint(out, uint64(id))
	}
	out = binary.AppendUvarint(out, uint64(len(report.Datoms)))
	for _, d := range report.Datoms {
		out = appendBytes(out, EncodeKey(EAVT, d))
	}
	return out
}

// DecodeTxResponse parses a response. A failed transaction comes back as an
// error that still matches the original sentinel under errors.Is.
func DecodeTxResponse(b []byte) (*datalog.TxReport, error) {
	if len(b) < 2 || b[0] != wireVersion {
		return nil, datalog.InvariantViolation("unsupported tx response")
	}
	code := datalog.ErrorCode(b[1])
	b = b[2:]
	if code != datalog.CodeOK {
		msg, _, err := readString(b)
		if err != nil {
			return nil, err
		}
		return nil, code.Error(msg)
	}

	report := &datalog.TxReport{TempIDs: map[string]datalog.EntityID{}}
	tx, b, err := readUvarint(b)
	if err != nil {
		return nil, err
	}
	report.TxID = datalog.TxID(tx)

	count, b, err := readUvarint(b)
	if err != nil {
		return nil, err
	}
	for i := uint64(0); i < count; i++ {
		var name string
		var id uint64
		if name, b, err = readString(b); err != nil {
			return nil, err
		}
		if id, b, err = readUvarint(b); err != nil {
			return nil, err
		}
		report.TempIDs[name] = datalog.EntityID(id)
	}

	if count, b, err = readUvarint(b); err != nil {
		return nil, err
	}
	if count > uint64(len(b)) {
		return nil, datalog.InvariantViolation("tx response claims %d datoms in %d bytes", count, len(b))
	}
	report.Datoms = make([]datalog.Datom, count)
	for i := range report.Datoms {
		var key []byte
		if key, b, err = readBytes(b); err != nil {
			return nil, err
		}
		if report.Datoms[i], err = DecodeDatom(EAVT, key); err != nil {
			return nil, err
		}
	}
	return report, nil
}

func appendEntityRef(dst []byte, r datalog.EntityRef) []byte {
	if r.IsTemp() {
		dst = append(dst, refTemp)
		return appendString(dst, r.Temp)
	}
	dst = append(dst, refExisting)
	return binary.AppendUvarint(dst, uint64(r.ID))
}

func readEntityRef(b []byte) (datalog.EntityRef, []byte, error) {
	if len(b) == 0 {
		return datalog.EntityRef{}, nil, datalog.InvariantViolation("missing entity ref")
	}
	switch b[0] {
	case refExisting:
		id, rest, err := readUvarint(b[1:])
		return datalog.Existing(datalog.EntityID(id)), rest, err
	case refTemp:
		name, rest, err := readString(b[1:])
		return datalog.Temp(name), rest, err
	default:
		return datalog.EntityRef{}, nil, datalog.InvariantViolation("unknown entity ref tag %d", b[0])
	}
}

// A request may carry a missing value; the transactor rejects it, not the codec.
func encodeOptionalValue(v datalog.Value) []byte {
	if v.IsZero() {
		return nil
	}
	return EncodeValue(v)
}

func decodeOptionalValue(b []byte) (datalog.Value, error) {
	if len(b) == 0 {
		return datalog.Value{}, nil
	}
	v, rest, err := DecodeValue(b)
	if err != nil {
		return v, err
	}
	if len(rest) != 0 {
		return v, datalog.InvariantViolation("value has %d trailing bytes", len(rest))
	}
	return v, nil
}
