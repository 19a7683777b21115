package engine

import (
	"encoding/binary"
	"fmt"
)

// ValueKind discriminates how a stored value is interpreted.
type ValueKind uint8

const (
	// KindBytes is an opaque byte string.
	KindBytes ValueKind = 1
	// KindCounter is an unsigned 64-bit counter supporting sum/max/min
	// mutations.
	KindCounter ValueKind = 2
	// KindSerialized is a structured blob produced by the engine's
	// serializer. The engine never inspects it.
	KindSerialized ValueKind = 3
)

// Value is a typed engine value.
type Value struct {
	Kind    ValueKind
	Data    []byte
	Counter uint64
}

func BytesValue(b []byte) Value {
	return Value{Kind: KindBytes, Data: b}
}

func CounterValue(n uint64) Value {
	return Value{Kind: KindCounter, Counter: n}
}

func SerializedValue(b []byte) Value {
	return Value{Kind: KindSerialized, Data: b}
}

// payload returns the on-disk byte form of the value.
func (v Value) payload() []byte {
	if v.Kind == KindCounter {
		buf := make([]byte, 8)
		binary.LittleEndian.PutUint64(buf, v.Counter)
		return buf
	}
	return v.Data
}

// decodeValue reconstructs a Value from its stored kind and payload.
func decodeValue(kind ValueKind, payload []byte) (Value, error) {
	switch kind {
	case KindBytes:
		return BytesValue(payload), nil
	case KindCounter:
		if len(payload) != 8 {
			return Value{}, fmt.Errorf("counter payload is %d bytes, want 8", len(payload))
		}
		return CounterValue(binary.LittleEndian.Uint64(payload)), nil
	case KindSerialized:
		return SerializedValue(payload), nil
	default:
		return Value{}, fmt.Errorf("unknown value kind %d", kind)
	}
}

// Serializer is the pluggable encoding for structured values. The relay
// hands structured payloads through it on both directions; the engine
// stores whatever it returns verbatim.
type Serializer interface {
	Serialize(data []byte, forStorage bool) ([]byte, error)
	Deserialize(data []byte, forStorage bool) ([]byte, error)
}

// identitySerializer stores structured payloads byte-for-byte.
type identitySerializer struct{}

func (identitySerializer) Serialize(data []byte, forStorage bool) ([]byte, error) {
	return data, nil
}

func (identitySerializer) Deserialize(data []byte, forStorage bool) ([]byte, error) {
	return data, nil
}
