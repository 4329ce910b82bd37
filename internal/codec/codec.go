// Package codec translates between command values and the instrument's binary
// wire format: fixed-layout request/response frames and 8008-byte stream frames.
package codec

import (
	"fmt"
	"math"
)

// EncodeRequest serializes values according to layout and prefixes opcode.
// Values must match the layout one-to-one; every value is range-checked
// against its declared width.
func EncodeRequest(opcode []byte, layout Layout, values ...any) ([]byte, error) {
	if len(opcode) == 0 {
		return nil, &ValueError{Reason: "empty opcode"}
	}
	if len(values) != len(layout) {
		return nil, &ValueError{Reason: fmt.Sprintf("expected %d values, got %d", len(layout), len(values))}
	}

	buf := make([]byte, len(opcode)+layout.Size())
	copy(buf, opcode)
	offset := len(opcode)
	for i, f := range layout {
		if err := putField(buf[offset:offset+f.Size()], f, values[i]); err != nil {
			return nil, err
		}
		offset += f.Size()
	}
	return buf, nil
}

// DecodeResponse unpacks raw according to layout. A length mismatch is
// always a *DecodeError; short reads are never padded.
func DecodeResponse(raw []byte, layout Layout) (Record, error) {
	if len(raw) != layout.Size() {
		return nil, &DecodeError{What: "response", Want: layout.Size(), Got: len(raw)}
	}

	rec := make(Record, 0, len(layout))
	offset := 0
	for _, f := range layout {
		b := raw[offset : offset+f.Size()]
		offset += f.Size()

		v := Value{Name: f.Name}
		order := f.Endian.order()
		switch f.Kind {
		case Uint8:
			v.Int = int64(b[0])
		case Int8:
			v.Int = int64(int8(b[0]))
		case Uint16:
			v.Int = int64(order.Uint16(b))
		case Int16:
			v.Int = int64(int16(order.Uint16(b)))
		case Uint32:
			v.Int = int64(order.Uint32(b))
		case Int32:
			v.Int = int64(int32(order.Uint32(b)))
		case Bytes:
			v.Raw = make([]byte, len(b))
			copy(v.Raw, b)
		default:
			return nil, &DecodeError{What: "response", Reason: fmt.Sprintf("field %q has unknown kind %s", f.Name, f.Kind)}
		}
		rec = append(rec, v)
	}
	return rec, nil
}

func putField(dst []byte, f Field, v any) error {
	if f.Kind == Bytes {
		var b []byte
		switch x := v.(type) {
		case []byte:
			b = x
		case string:
			b = []byte(x)
		default:
			return &ValueError{Field: f.Name, Value: v, Reason: fmt.Sprintf("expected bytes, got %T", v)}
		}
		if len(b) != f.Len {
			return &ValueError{Field: f.Name, Value: v, Reason: fmt.Sprintf("expected %d bytes, got %d", f.Len, len(b))}
		}
		copy(dst, b)
		return nil
	}

	n, ok := toInt64(v)
	if !ok {
		return &ValueError{Field: f.Name, Value: v, Reason: fmt.Sprintf("expected integer for %s, got %T", f.Kind, v)}
	}
	lo, hi := f.bounds()
	if n < lo || n > hi {
		return &ValueError{Field: f.Name, Value: v, Reason: fmt.Sprintf("out of range for %s [%d, %d]", f.Kind, lo, hi)}
	}

	order := f.Endian.order()
	switch f.Kind {
	case Uint8, Int8:
		dst[0] = byte(n)
	case Uint16, Int16:
		order.PutUint16(dst, uint16(n))
	case Uint32, Int32:
		order.PutUint32(dst, uint32(n))
	default:
		return &ValueError{Field: f.Name, Value: v, Reason: fmt.Sprintf("unknown kind %s", f.Kind)}
	}
	return nil
}

func toInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case int:
		return int64(x), true
	case int8:
		return int64(x), true
	case int16:
		return int64(x), true
	case int32:
		return int64(x), true
	case int64:
		return x, true
	case uint:
		if uint64(x) > math.MaxInt64 {
			return 0, false
		}
		return int64(x), true
	case uint8:
		return int64(x), true
	case uint16:
		return int64(x), true
	case uint32:
		return int64(x), true
	case uint64:
		if x > math.MaxInt64 {
			return 0, false
		}
		return int64(x), true
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}
