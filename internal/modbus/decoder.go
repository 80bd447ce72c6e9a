package modbus

import (
	"fmt"

	"github.com/KevinKickass/ModbusStation/internal/types"
)

// Decode extracts the raw value of one field from a register block.
// int32 values are big-endian word order: first register is the high half.
func Decode(words []uint16, field types.FieldSpec) (uint32, error) {
	idx := int(field.Index)

	switch field.DataType {
	case types.DataTypeInt16:
		if idx >= len(words) {
			return 0, fmt.Errorf("%w: index %d, %d registers read", ErrOutOfRange, idx, len(words))
		}
		return uint32(words[idx]), nil

	case types.DataTypeInt32:
		if idx+1 >= len(words) {
			return 0, fmt.Errorf("%w: 32-bit value at index %d needs two registers, %d read", ErrOutOfRange, idx, len(words))
		}
		return uint32(words[idx])<<16 | uint32(words[idx+1]), nil

	default:
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedType, field.DataType)
	}
}

// DecodeScaled applies the field's scale factor to the decoded value.
func DecodeScaled(words []uint16, field types.FieldSpec) (float64, uint32, error) {
	raw, err := Decode(words, field)
	if err != nil {
		return 0, 0, err
	}
	return float64(raw) * field.Scale, raw, nil
}
