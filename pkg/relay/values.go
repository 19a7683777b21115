package relay

import (
	"encoding/binary"
	"fmt"

	"github.com/mr-karan/kvbridge/pkg/datapath"
	"github.com/mr-karan/kvbridge/pkg/engine"
)

// encodeValue maps an engine value to its wire envelope: raw bytes keep
// their bytes, counters become 8 little-endian bytes, anything structured
// goes through the engine's serializer.
func encodeValue(ser engine.Serializer, v engine.Value) ([]byte, datapath.ValueEncoding, error) {
	switch v.Kind {
	case engine.KindBytes:
		return v.Data, datapath.EncodingBytes, nil
	case engine.KindCounter:
		buf := make([]byte, 8)
		binary.LittleEndian.PutUint64(buf, v.Counter)
		return buf, datapath.EncodingLE64, nil
	case engine.KindSerialized:
		data, err := ser.Serialize(v.Data, true)
		if err != nil {
			return nil, 0, err
		}
		return data, datapath.EncodingV8, nil
	default:
		return nil, 0, fmt.Errorf("unknown engine value kind %d", v.Kind)
	}
}

// decodeValue maps a wire envelope back to an engine value.
func decodeValue(ser engine.Serializer, data []byte, enc datapath.ValueEncoding) (engine.Value, error) {
	switch enc {
	case datapath.EncodingBytes:
		return engine.BytesValue(data), nil
	case datapath.EncodingLE64:
		if len(data) != 8 {
			return engine.Value{}, fmt.Errorf("LE64 value is %d bytes, want 8", len(data))
		}
		return engine.CounterValue(binary.LittleEndian.Uint64(data)), nil
	case datapath.EncodingV8:
		raw, err := ser.Deserialize(data, true)
		if err != nil {
			return engine.Value{}, err
		}
		return engine.SerializedValue(raw), nil
	default:
		return engine.Value{}, fmt.Errorf("unknown value encoding %d", enc)
	}
}

// counterOperand extracts the LE64 operand a sum/max/min mutation must
// carry.
func counterOperand(v *datapath.KvValue) (uint64, error) {
	if v == nil {
		return 0, fmt.Errorf("counter mutation without value")
	}
	if v.Encoding != datapath.EncodingLE64 {
		return 0, fmt.Errorf("counter mutation with encoding %d, want LE64", v.Encoding)
	}
	if len(v.Data) != 8 {
		return 0, fmt.Errorf("counter operand is %d bytes, want 8", len(v.Data))
	}
	return binary.LittleEndian.Uint64(v.Data), nil
}
