package devices

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/KevinKickass/ModbusStation/internal/types"
	"github.com/spf13/cast"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Defaults for keys a sensor block may leave out.
const (
	DefaultRegistry = 1
	DefaultLength   = 1
	DefaultIndex    = 0
	DefaultScale    = 1.0
)

const (
	keySlaveID  = "slave_id"
	keyRegistry = "registry"
	keyLength   = "length"
	keyIndex    = "index"
	keyScale    = "scale"
	keyDataType = "data_type"
)

// ParseSensors builds sensor specs from the sensors block of the config
// file. Every mapping entry is one sensor; inside a sensor, every
// mapping-valued key is a field. A broken sensor or field is logged and
// dropped and the rest keep loading.
func ParseSensors(block *yaml.Node, logger *zap.Logger) []types.SensorSpec {
	if block == nil {
		return nil
	}
	if block.Kind == yaml.DocumentNode && len(block.Content) > 0 {
		block = block.Content[0]
	}
	if block.Kind == yaml.ScalarNode && block.Tag == "!!null" {
		return nil
	}
	if block.Kind != yaml.MappingNode {
		logger.Error("Sensors block must be a mapping", zap.Int("line", block.Line))
		return nil
	}

	seen := make(map[string]struct{})
	specs := make([]types.SensorSpec, 0, len(block.Content)/2)
	for i := 0; i+1 < len(block.Content); i += 2 {
		name := block.Content[i].Value
		if _, dup := seen[name]; dup {
			logger.Error("Duplicate sensor name, keeping the first", zap.String("sensor", name))
			continue
		}

		spec, err := parseSensor(name, block.Content[i+1], logger)
		if err != nil {
			logger.Error("Sensor configuration rejected",
				zap.String("sensor", name),
				zap.Error(err))
			continue
		}
		seen[name] = struct{}{}
		specs = append(specs, spec)

		logger.Info("Added sensor",
			zap.String("sensor", name),
			zap.Uint8("slave_id", spec.SlaveID()),
			zap.Uint16("registry", spec.Address()),
			zap.Uint16("length", spec.Length()),
			zap.Int("fields", len(spec.Fields())))
	}

	return specs
}

func parseSensor(name string, node *yaml.Node, logger *zap.Logger) (types.SensorSpec, error) {
	if node.Kind != yaml.MappingNode {
		return types.SensorSpec{}, &types.ConfigError{Sensor: name, Unit: "sensor", Reason: "sensor block must be a mapping"}
	}

	var slaveNode, registryNode, lengthNode *yaml.Node
	var fieldNames []string
	var fieldNodes []*yaml.Node

	for i := 0; i+1 < len(node.Content); i += 2 {
		key, value := node.Content[i].Value, node.Content[i+1]
		switch {
		case value.Kind == yaml.MappingNode:
			fieldNames = append(fieldNames, key)
			fieldNodes = append(fieldNodes, value)
		case key == keySlaveID:
			slaveNode = value
		case key == keyRegistry:
			registryNode = value
		case key == keyLength:
			lengthNode = value
		default:
			logger.Warn("Ignoring unknown sensor key", zap.String("sensor", name), zap.String("key", key))
		}
	}

	if slaveNode == nil {
		return types.SensorSpec{}, &types.ConfigError{Sensor: name, Unit: "sensor", Reason: "'slave_id' is mandatory and missing"}
	}

	slaveID, err := nodeInt(slaveNode)
	if err != nil {
		return types.SensorSpec{}, numberError(name, keySlaveID, err)
	}
	registry, err := optionalInt(registryNode, DefaultRegistry)
	if err != nil {
		return types.SensorSpec{}, numberError(name, keyRegistry, err)
	}
	length, err := optionalInt(lengthNode, DefaultLength)
	if err != nil {
		return types.SensorSpec{}, numberError(name, keyLength, err)
	}

	fields := make([]types.FieldSpec, 0, len(fieldNodes))
	for i, fnode := range fieldNodes {
		field, err := parseField(name, fieldNames[i], fnode)
		if err == nil && length >= 1 && length <= types.MaxReadRegisters {
			err = types.CheckFieldSpan(name, uint16(length), field)
		}
		if err != nil {
			logger.Error("Field configuration rejected",
				zap.String("sensor", name),
				zap.String("field", fieldNames[i]),
				zap.Error(err))
			continue
		}
		if !field.DataType.Known() {
			logger.Warn("Unsupported data type, field will not decode",
				zap.String("sensor", name),
				zap.String("field", field.Name),
				zap.String("data_type", string(field.DataType)))
		}
		fields = append(fields, field)
	}

	return types.NewSensorSpec(name, slaveID, registry, length, fields)
}

func parseField(sensor, name string, node *yaml.Node) (types.FieldSpec, error) {
	field := types.FieldSpec{
		Name:     name,
		Index:    DefaultIndex,
		Scale:    DefaultScale,
		DataType: types.DataTypeInt16,
	}

	for i := 0; i+1 < len(node.Content); i += 2 {
		key, value := node.Content[i].Value, node.Content[i+1]
		switch key {
		case keyIndex:
			idx, err := nodeInt(value)
			if err != nil || idx < 0 || idx > 0xFFFF {
				return field, &types.ConfigError{Sensor: sensor, Field: name, Unit: "field",
					Reason: fmt.Sprintf("index %q is not a valid number", value.Value)}
			}
			field.Index = uint16(idx)
		case keyScale:
			var raw interface{}
			if err := value.Decode(&raw); err != nil {
				return field, &types.ConfigError{Sensor: sensor, Field: name, Unit: "field", Reason: err.Error()}
			}
			scale, err := cast.ToFloat64E(raw)
			if err != nil || raw == nil {
				return field, &types.ConfigError{Sensor: sensor, Field: name, Unit: "field",
					Reason: fmt.Sprintf("scale %q is not a valid number", value.Value)}
			}
			field.Scale = scale
		case keyDataType:
			field.DataType = types.DataType(value.Value)
		}
	}

	return field, nil
}

func optionalInt(node *yaml.Node, def int) (int, error) {
	if node == nil {
		return def, nil
	}
	return nodeInt(node)
}

func nodeInt(node *yaml.Node) (int, error) {
	if node.Kind != yaml.ScalarNode {
		return 0, fmt.Errorf("expected a scalar")
	}
	switch node.ShortTag() {
	case "!!int":
		var n int
		if err := node.Decode(&n); err != nil {
			return 0, err
		}
		return n, nil
	case "!!float":
		var f float64
		if err := node.Decode(&f); err != nil {
			return 0, err
		}
		if math.IsInf(f, 0) || f != math.Trunc(f) {
			return 0, fmt.Errorf("%v is not an integer", f)
		}
		return cast.ToIntE(f)
	case "!!str":
		return strconv.Atoi(strings.TrimSpace(node.Value))
	default:
		return 0, fmt.Errorf("%s %q is not a number", node.ShortTag(), node.Value)
	}
}

func numberError(sensor, key string, err error) error {
	return &types.ConfigError{Sensor: sensor, Unit: "sensor",
		Reason: fmt.Sprintf("%s is not a valid number: %v", key, err)}
}
