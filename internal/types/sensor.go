package types

import (
	"fmt"
)

// Modbus limits for a single read holding registers request.
const (
	MinSlaveID       = 1
	MaxSlaveID       = 247
	MaxReadRegisters = 125
)

type DataType string

const (
	DataTypeInt16 DataType = "int16"
	DataTypeInt32 DataType = "int32"
)

// Words returns how many registers a value of this type occupies.
// Unknown types report 1 so that they never widen a sensor's span.
func (d DataType) Words() uint16 {
	switch d {
	case DataTypeInt32:
		return 2
	default:
		return 1
	}
}

func (d DataType) Known() bool {
	return d == DataTypeInt16 || d == DataTypeInt32
}

// FieldSpec describes one output value inside a sensor's register block.
type FieldSpec struct {
	Name     string   `json:"name"`
	Index    uint16   `json:"index"`
	Scale    float64  `json:"scale"`
	DataType DataType `json:"data_type"`
}

// SensorSpec is a validated, read-only description of one register block.
// Build it with NewSensorSpec; the zero value is not usable.
type SensorSpec struct {
	name    string
	slaveID uint8
	address uint16
	length  uint16
	fields  []FieldSpec
}

// SensorDefinition is the serialisable form of a sensor (API, database).
type SensorDefinition struct {
	Name     string      `json:"name"`
	SlaveID  int         `json:"slave_id"`
	Registry int         `json:"registry"`
	Length   int         `json:"length"`
	Fields   []FieldSpec `json:"fields"`
}

// NewSensorSpec validates the block geometry and every field span.
func NewSensorSpec(name string, slaveID int, address int, length int, fields []FieldSpec) (SensorSpec, error) {
	if name == "" {
		return SensorSpec{}, &ConfigError{Unit: "sensor", Reason: "name required"}
	}
	if slaveID < MinSlaveID || slaveID > MaxSlaveID {
		return SensorSpec{}, &ConfigError{Sensor: name, Unit: "sensor",
			Reason: fmt.Sprintf("slave_id %d out of range %d-%d", slaveID, MinSlaveID, MaxSlaveID)}
	}
	if address < 0 || address > 0xFFFF {
		return SensorSpec{}, &ConfigError{Sensor: name, Unit: "sensor",
			Reason: fmt.Sprintf("registry %d out of range", address)}
	}
	if length < 1 || length > MaxReadRegisters {
		return SensorSpec{}, &ConfigError{Sensor: name, Unit: "sensor",
			Reason: fmt.Sprintf("length %d out of range 1-%d", length, MaxReadRegisters)}
	}
	if address+length-1 > 0xFFFF {
		return SensorSpec{}, &ConfigError{Sensor: name, Unit: "sensor",
			Reason: fmt.Sprintf("registry %d + length %d exceeds address space", address, length)}
	}

	seen := make(map[string]struct{}, len(fields))
	copied := make([]FieldSpec, 0, len(fields))
	for _, f := range fields {
		if err := CheckFieldSpan(name, uint16(length), f); err != nil {
			return SensorSpec{}, err
		}
		if _, dup := seen[f.Name]; dup {
			return SensorSpec{}, &ConfigError{Sensor: name, Field: f.Name, Unit: "field", Reason: "duplicate field name"}
		}
		seen[f.Name] = struct{}{}
		copied = append(copied, f)
	}

	return SensorSpec{
		name:    name,
		slaveID: uint8(slaveID),
		address: uint16(address),
		length:  uint16(length),
		fields:  copied,
	}, nil
}

// CheckFieldSpan reports whether a field fits in a block of the given length.
func CheckFieldSpan(sensor string, length uint16, f FieldSpec) error {
	if f.Name == "" {
		return &ConfigError{Sensor: sensor, Unit: "field", Reason: "field name required"}
	}
	last := uint32(f.Index) + uint32(f.DataType.Words()) - 1
	if last >= uint32(length) {
		return &ConfigError{Sensor: sensor, Field: f.Name, Unit: "field",
			Reason: fmt.Sprintf("%s at index %d needs registers up to %d, sensor length is %d", f.DataType, f.Index, last, length)}
	}
	return nil
}

func (s SensorSpec) Name() string    { return s.name }
func (s SensorSpec) SlaveID() uint8  { return s.slaveID }
func (s SensorSpec) Address() uint16 { return s.address }
func (s SensorSpec) Length() uint16  { return s.length }

// Fields returns a copy of the field list in configuration order.
func (s SensorSpec) Fields() []FieldSpec {
	out := make([]FieldSpec, len(s.fields))
	copy(out, s.fields)
	return out
}

func (s SensorSpec) Definition() SensorDefinition {
	return SensorDefinition{
		Name:     s.name,
		SlaveID:  int(s.slaveID),
		Registry: int(s.address),
		Length:   int(s.length),
		Fields:   s.Fields(),
	}
}

// Spec converts a definition back into a validated SensorSpec.
func (d SensorDefinition) Spec() (SensorSpec, error) {
	fields := make([]FieldSpec, len(d.Fields))
	for i, f := range d.Fields {
		if f.DataType == "" {
			f.DataType = DataTypeInt16
		}
		fields[i] = f
	}
	return NewSensorSpec(d.Name, d.SlaveID, d.Registry, d.Length, fields)
}
