package wire

import (
	"errors"
	"fmt"
)

// Type is the wire type carried in the low 3 bits of a record tag.
type Type uint8

const (
	TypeVarint Type = 0
	TypeI64    Type = 1
	TypeLen    Type = 2
	TypeSGroup Type = 3
	TypeEGroup Type = 4
	TypeI32    Type = 5
)

var ErrBadWireType = errors.New("wire: unknown wire type")

// Record is one decoded field record. Exactly one of the payload fields
// is meaningful, selected by Type. Group records carry no payload.
type Record struct {
	Field uint32
	Type  Type

	Varint  uint64
	Bytes   []byte
	Fixed64 uint64
	Fixed32 uint32
}

// ReadRecord reads the next record from the stream. The second return is
// false on a clean end of input. The payload is always consumed according
// to the declared wire type, so callers skip unknown fields by simply
// ignoring the returned record.
func (r *Reader) ReadRecord() (Record, bool, error) {
	if r.Len() == 0 {
		return Record{}, false, nil
	}
	tag, err := r.ReadUvarint()
	if err != nil {
		return Record{}, false, err
	}
	rec := Record{
		Field: uint32(tag >> 3),
		Type:  Type(tag & 0x7),
	}
	switch rec.Type {
	case TypeVarint:
		rec.Varint, err = r.ReadUvarint()
	case TypeI64:
		rec.Fixed64, err = r.ReadU64LE()
	case TypeLen:
		var n uint64
		n, err = r.ReadUvarint()
		if err == nil {
			if n > uint64(r.Len()) {
				err = ErrUnexpectedEOF
			} else {
				rec.Bytes, err = r.ReadFull(int(n))
			}
		}
	case TypeSGroup, TypeEGroup:
		// Accepted, payload-less.
	case TypeI32:
		rec.Fixed32, err = r.ReadU32LE()
	default:
		err = fmt.Errorf("%w: %d", ErrBadWireType, rec.Type)
	}
	if err != nil {
		return Record{}, false, err
	}
	return rec, true, nil
}

// Expect rejects a record whose wire type does not match what the message
// schema declares for its field.
func (rec Record) Expect(t Type) error {
	if rec.Type != t {
		return fmt.Errorf("wire: field %d: got wire type %d, want %d", rec.Field, rec.Type, t)
	}
	return nil
}

// PackedUint32 decodes the record payload as a packed run of varint
// uint32 values. A bare varint record is accepted as a single element.
func (rec Record) PackedUint32() ([]uint32, error) {
	if rec.Type == TypeVarint {
		return []uint32{uint32(rec.Varint)}, nil
	}
	if err := rec.Expect(TypeLen); err != nil {
		return nil, err
	}
	var (
		out []uint32
		rd  = NewReader(rec.Bytes)
	)
	for rd.Len() > 0 {
		v, err := rd.ReadUvarint()
		if err != nil {
			return nil, err
		}
		out = append(out, uint32(v))
	}
	return out, nil
}

// Field writers. Fields at their default value (numeric zero, empty
// bytes, false, empty repeated) are omitted, matching the encode
// contract of the datapath schema.

func (w *Writer) writeTag(field uint32, t Type) {
	w.WriteUvarint(uint64(field)<<3 | uint64(t))
}

func (w *Writer) WriteVarintField(field uint32, v uint64) {
	if v == 0 {
		return
	}
	w.writeTag(field, TypeVarint)
	w.WriteUvarint(v)
}

// WriteInt64Field encodes a signed value two's-complement style, the way
// non-zigzag int32/int64 fields are carried on the wire.
func (w *Writer) WriteInt64Field(field uint32, v int64) {
	w.WriteVarintField(field, uint64(v))
}

func (w *Writer) WriteBoolField(field uint32, v bool) {
	if !v {
		return
	}
	w.writeTag(field, TypeVarint)
	w.WriteUvarint(1)
}

func (w *Writer) WriteBytesField(field uint32, b []byte) {
	if len(b) == 0 {
		return
	}
	w.writeTag(field, TypeLen)
	w.WriteUvarint(uint64(len(b)))
	w.Write(b)
}

// WriteMessageField writes a nested message payload. Unlike bytes fields
// an empty payload is still written, so present-but-empty submessages
// survive a round trip.
func (w *Writer) WriteMessageField(field uint32, b []byte) {
	w.writeTag(field, TypeLen)
	w.WriteUvarint(uint64(len(b)))
	w.Write(b)
}

func (w *Writer) WriteFixed64Field(field uint32, v uint64) {
	if v == 0 {
		return
	}
	w.writeTag(field, TypeI64)
	w.WriteU64LE(v)
}

func (w *Writer) WriteFixed32Field(field uint32, v uint32) {
	if v == 0 {
		return
	}
	w.writeTag(field, TypeI32)
	w.WriteU32LE(v)
}

// WritePackedUint32Field writes a repeated uint32 payload in packed form.
func (w *Writer) WritePackedUint32Field(field uint32, vs []uint32) {
	if len(vs) == 0 {
		return
	}
	inner := NewWriter()
	for _, v := range vs {
		inner.WriteUvarint(uint64(v))
	}
	w.WriteMessageField(field, inner.Bytes())
}
