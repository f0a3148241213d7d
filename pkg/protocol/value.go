package protocol

import (
	"errors"
	"fmt"
	"sort"
)

// ValueType tags each invocation argument on the wire.
type ValueType uint8

const (
	ValueNull   ValueType = 0x00
	ValueBool   ValueType = 0x01
	ValueInt    ValueType = 0x02
	ValueFloat  ValueType = 0x03
	ValueString ValueType = 0x04
	ValueBytes  ValueType = 0x05
	ValueArray  ValueType = 0x06
	ValueObject ValueType = 0x07
)

// MaxValueDepth bounds nesting of arrays and objects in arguments.
const MaxValueDepth = 64

// Value errors.
var (
	ErrMaxDepthExceeded     = errors.New("protocol: maximum nesting depth exceeded")
	ErrUnsupportedValue     = errors.New("protocol: unsupported argument type")
	ErrInvalidValueType     = errors.New("protocol: invalid value type")
	ErrArgumentTypeMismatch = errors.New("protocol: argument type mismatch")
)

// EncodeValue appends one tagged value. Supported Go types are nil, bool,
// all integer kinds, float32/float64, string, []byte, *string (nil pointer is
// null), []any and map[string]any. Object keys are written in sorted order so
// encodings are deterministic.
func EncodeValue(e *Encoder, v any) error {
	return encodeValue(e, v, 0)
}

func encodeValue(e *Encoder, v any, depth int) error {
	if depth > MaxValueDepth {
		return ErrMaxDepthExceeded
	}
	switch val := v.(type) {
	case nil:
		e.WriteByte(byte(ValueNull))
	case bool:
		e.WriteByte(byte(ValueBool))
		e.WriteBool(val)
	case int:
		writeInt(e, int64(val))
	case int32:
		writeInt(e, int64(val))
	case int64:
		writeInt(e, val)
	case uint32:
		writeInt(e, int64(val))
	case uint64:
		writeInt(e, int64(val))
	case float32:
		e.WriteByte(byte(ValueFloat))
		e.WriteFloat64(float64(val))
	case float64:
		e.WriteByte(byte(ValueFloat))
		e.WriteFloat64(val)
	case string:
		e.WriteByte(byte(ValueString))
		e.WriteString(val)
	case *string:
		if val == nil {
			e.WriteByte(byte(ValueNull))
			return nil
		}
		e.WriteByte(byte(ValueString))
		e.WriteString(*val)
	case []byte:
		e.WriteByte(byte(ValueBytes))
		e.WriteLenBytes(val)
	case []any:
		e.WriteByte(byte(ValueArray))
		e.WriteUvarint(uint64(len(val)))
		for _, item := range val {
			if err := encodeValue(e, item, depth+1); err != nil {
				return err
			}
		}
	case map[string]any:
		e.WriteByte(byte(ValueObject))
		e.WriteUvarint(uint64(len(val)))
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			e.WriteString(k)
			if err := encodeValue(e, val[k], depth+1); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("%w: %T", ErrUnsupportedValue, v)
	}
	return nil
}

func writeInt(e *Encoder, v int64) {
	e.WriteByte(byte(ValueInt))
	e.WriteSvarint(v)
}

// DecodeValue reads one tagged value. Integers decode as int64, floats as
// float64, bytes as []byte, arrays as []any and objects as map[string]any.
func DecodeValue(d *Decoder) (any, error) {
	return decodeValue(d, 0)
}

func decodeValue(d *Decoder, depth int) (any, error) {
	if depth > MaxValueDepth {
		return nil, ErrMaxDepthExceeded
	}
	tag, err := d.ReadByte()
	if err != nil {
		return nil, err
	}

	switch ValueType(tag) {
	case ValueNull:
		return nil, nil
	case ValueBool:
		return d.ReadBool()
	case ValueInt:
		return d.ReadSvarint()
	case ValueFloat:
		return d.ReadFloat64()
	case ValueString:
		return d.ReadString()
	case ValueBytes:
		return d.ReadLenBytes()
	case ValueArray:
		count, err := d.ReadCollectionCount()
		if err != nil {
			return nil, err
		}
		arr := make([]any, count)
		for i := range arr {
			if arr[i], err = decodeValue(d, depth+1); err != nil {
				return nil, err
			}
		}
		return arr, nil
	case ValueObject:
		count, err := d.ReadCollectionCount()
		if err != nil {
			return nil, err
		}
		obj := make(map[string]any, count)
		for i := 0; i < count; i++ {
			key, err := d.ReadString()
			if err != nil {
				return nil, err
			}
			if obj[key], err = decodeValue(d, depth+1); err != nil {
				return nil, err
			}
		}
		return obj, nil
	default:
		return nil, fmt.Errorf("%w: 0x%02x", ErrInvalidValueType, tag)
	}
}

// Int64Arg returns args[i] as an int64. Float values with no fractional
// part are accepted.
func Int64Arg(args []any, i int) (int64, error) {
	if i >= len(args) {
		return 0, fmt.Errorf("%w: missing argument %d", ErrArgumentTypeMismatch, i)
	}
	switch v := args[i].(type) {
	case int64:
		return v, nil
	case float64:
		if v == float64(int64(v)) {
			return int64(v), nil
		}
	}
	return 0, fmt.Errorf("%w: argument %d is %T, want integer", ErrArgumentTypeMismatch, i, args[i])
}

// BytesArg returns args[i] as a byte slice.
func BytesArg(args []any, i int) ([]byte, error) {
	if i >= len(args) {
		return nil, fmt.Errorf("%w: missing argument %d", ErrArgumentTypeMismatch, i)
	}
	if b, ok := args[i].([]byte); ok {
		return b, nil
	}
	return nil, fmt.Errorf("%w: argument %d is %T, want bytes", ErrArgumentTypeMismatch, i, args[i])
}

// StringArg returns args[i] as a string; a null argument yields "".
func StringArg(args []any, i int) (string, error) {
	if i >= len(args) {
		return "", fmt.Errorf("%w: missing argument %d", ErrArgumentTypeMismatch, i)
	}
	switch v := args[i].(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	}
	return "", fmt.Errorf("%w: argument %d is %T, want string", ErrArgumentTypeMismatch, i, args[i])
}
