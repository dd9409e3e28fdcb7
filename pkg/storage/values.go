package storage

import (
	"fmt"
	"slices"

	"github.com/vmihailenco/msgpack/v5"
)

// ============================================================================
// Property values
// ============================================================================

// valueKind tags an encoded property value so that it decodes back to the
// exact Go type it was written with.
type valueKind uint8

const (
	kindBool valueKind = iota + 1
	kindString
	kindInt
	kindInt8
	kindInt16
	kindInt32
	kindInt64
	kindUint8
	kindUint16
	kindFloat32
	kindFloat64

	kindArray valueKind = 0x40
)

// ValidateValue reports whether v may be stored as a property value.
//
// Supported: bool, string, int, int8, int16, int32, int64, uint8 (byte),
// uint16, float32, float64 and slices of each of these. Everything else,
// including nil, is rejected with ErrIllegalValue.
func ValidateValue(v any) error {
	if v == nil {
		return fmt.Errorf("%w: nil property value", ErrIllegalValue)
	}
	if _, ok := kindOf(v); !ok {
		return fmt.Errorf("%w: unsupported property type %T", ErrIllegalValue, v)
	}
	return nil
}

func kindOf(v any) (valueKind, bool) {
	switch v.(type) {
	case bool:
		return kindBool, true
	case string:
		return kindString, true
	case int:
		return kindInt, true
	case int8:
		return kindInt8, true
	case int16:
		return kindInt16, true
	case int32:
		return kindInt32, true
	case int64:
		return kindInt64, true
	case uint8:
		return kindUint8, true
	case uint16:
		return kindUint16, true
	case float32:
		return kindFloat32, true
	case float64:
		return kindFloat64, true
	case []bool:
		return kindArray | kindBool, true
	case []string:
		return kindArray | kindString, true
	case []int:
		return kindArray | kindInt, true
	case []int8:
		return kindArray | kindInt8, true
	case []int16:
		return kindArray | kindInt16, true
	case []int32:
		return kindArray | kindInt32, true
	case []int64:
		return kindArray | kindInt64, true
	case []uint8:
		return kindArray | kindUint8, true
	case []uint16:
		return kindArray | kindUint16, true
	case []float32:
		return kindArray | kindFloat32, true
	case []float64:
		return kindArray | kindFloat64, true
	}
	return 0, false
}

// IsArrayValue reports whether v is one of the supported slice types.
func IsArrayValue(v any) bool {
	k, ok := kindOf(v)
	return ok && k&kindArray != 0
}

// CloneValue returns a copy of v that shares no memory with it.
// Scalars are returned unchanged.
func CloneValue(v any) any {
	switch x := v.(type) {
	case []bool:
		return slices.Clone(x)
	case []string:
		return slices.Clone(x)
	case []int:
		return slices.Clone(x)
	case []int8:
		return slices.Clone(x)
	case []int16:
		return slices.Clone(x)
	case []int32:
		return slices.Clone(x)
	case []int64:
		return slices.Clone(x)
	case []uint8:
		return slices.Clone(x)
	case []uint16:
		return slices.Clone(x)
	case []float32:
		return slices.Clone(x)
	case []float64:
		return slices.Clone(x)
	}
	return v
}

// EncodeValue serializes a property value as a kind byte followed by its
// msgpack encoding.
func EncodeValue(v any) ([]byte, error) {
	kind, ok := kindOf(v)
	if !ok {
		return nil, ValidateValue(v)
	}
	body, err := msgpack.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode property value: %w", err)
	}
	out := make([]byte, 0, len(body)+1)
	out = append(out, byte(kind))
	return append(out, body...), nil
}

// DecodeValue reverses EncodeValue.
func DecodeValue(data []byte) (any, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty encoded value", ErrIllegalValue)
	}
	body := data[1:]
	switch valueKind(data[0]) {
	case kindBool:
		return decodeAs[bool](body)
	case kindString:
		return decodeAs[string](body)
	case kindInt:
		return decodeAs[int](body)
	case kindInt8:
		return decodeAs[int8](body)
	case kindInt16:
		return decodeAs[int16](body)
	case kindInt32:
		return decodeAs[int32](body)
	case kindInt64:
		return decodeAs[int64](body)
	case kindUint8:
		return decodeAs[uint8](body)
	case kindUint16:
		return decodeAs[uint16](body)
	case kindFloat32:
		return decodeAs[float32](body)
	case kindFloat64:
		return decodeAs[float64](body)
	case kindArray | kindBool:
		return decodeAs[[]bool](body)
	case kindArray | kindString:
		return decodeAs[[]string](body)
	case kindArray | kindInt:
		return decodeAs[[]int](body)
	case kindArray | kindInt8:
		return decodeAs[[]int8](body)
	case kindArray | kindInt16:
		return decodeAs[[]int16](body)
	case kindArray | kindInt32:
		return decodeAs[[]int32](body)
	case kindArray | kindInt64:
		return decodeAs[[]int64](body)
	case kindArray | kindUint8:
		return decodeAs[[]uint8](body)
	case kindArray | kindUint16:
		return decodeAs[[]uint16](body)
	case kindArray | kindFloat32:
		return decodeAs[[]float32](body)
	case kindArray | kindFloat64:
		return decodeAs[[]float64](body)
	}
	return nil, fmt.Errorf("%w: unknown value kind 0x%02x", ErrIllegalValue, data[0])
}

func decodeAs[T any](body []byte) (any, error) {
	var v T
	if err := msgpack.Unmarshal(body, &v); err != nil {
		return nil, fmt.Errorf("failed to decode property value: %w", err)
	}
	return v, nil
}
