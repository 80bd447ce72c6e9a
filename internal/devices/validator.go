package devices

import (
	"encoding/json"
	"fmt"
	"strings"

	_ "embed"

	"github.com/KevinKickass/ModbusStation/internal/types"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schema/sensor-v1.json
var sensorSchemaJSON string

type Validator struct {
	schema *jsonschema.Schema
}

func NewValidator() (*Validator, error) {
	compiler := jsonschema.NewCompiler()

	if err := compiler.AddResource("sensor-v1.json",
		strings.NewReader(sensorSchemaJSON)); err != nil {
		return nil, fmt.Errorf("failed to add schema resource: %w", err)
	}

	schema, err := compiler.Compile("sensor-v1.json")
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}

	return &Validator{schema: schema}, nil
}

// ValidateSensor checks a sensor document against the schema.
func (v *Validator) ValidateSensor(data []byte) error {
	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}

	if err := v.schema.Validate(doc); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}

	return nil
}

type sensorDocument struct {
	Name     string          `json:"name"`
	SlaveID  int             `json:"slave_id"`
	Registry *int            `json:"registry"`
	Length   *int            `json:"length"`
	Fields   []fieldDocument `json:"fields"`
}

type fieldDocument struct {
	Name     string   `json:"name"`
	Index    int      `json:"index"`
	Scale    *float64 `json:"scale"`
	DataType string   `json:"data_type"`
}

// DecodeSensor validates a sensor document and converts it into a
// definition, filling the same defaults as the config file loader.
func (v *Validator) DecodeSensor(data []byte) (types.SensorDefinition, error) {
	if err := v.ValidateSensor(data); err != nil {
		return types.SensorDefinition{}, err
	}

	var doc sensorDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return types.SensorDefinition{}, fmt.Errorf("failed to unmarshal sensor: %w", err)
	}

	def := types.SensorDefinition{
		Name:     doc.Name,
		SlaveID:  doc.SlaveID,
		Registry: DefaultRegistry,
		Length:   DefaultLength,
		Fields:   make([]types.FieldSpec, 0, len(doc.Fields)),
	}
	if doc.Registry != nil {
		def.Registry = *doc.Registry
	}
	if doc.Length != nil {
		def.Length = *doc.Length
	}
	for _, f := range doc.Fields {
		field := types.FieldSpec{
			Name:     f.Name,
			Index:    uint16(f.Index),
			Scale:    DefaultScale,
			DataType: types.DataType(f.DataType),
		}
		if f.Scale != nil {
			field.Scale = *f.Scale
		}
		if field.DataType == "" {
			field.DataType = types.DataTypeInt16
		}
		def.Fields = append(def.Fields, field)
	}

	return def, nil
}
