package devices

import (
	"testing"

	"github.com/KevinKickass/ModbusStation/internal/types"
)

func TestDecodeSensor(t *testing.T) {
	v, err := NewValidator()
	if err != nil {
		t.Fatalf("NewValidator() err=%v", err)
	}

	def, err := v.DecodeSensor([]byte(`{
		"name": "sensor_wind",
		"slave_id": 4,
		"length": 2,
		"fields": [
			{"name": "windSpeed", "index": 0, "scale": 0.1},
			{"name": "windDir", "index": 1}
		]
	}`))
	if err != nil {
		t.Fatalf("DecodeSensor err=%v", err)
	}

	if def.Registry != DefaultRegistry || def.Length != 2 || def.SlaveID != 4 {
		t.Fatalf("def=%+v", def)
	}
	if def.Fields[1].Scale != DefaultScale || def.Fields[1].DataType != types.DataTypeInt16 {
		t.Fatalf("field defaults not applied: %+v", def.Fields[1])
	}
	if _, err := def.Spec(); err != nil {
		t.Fatalf("Spec() err=%v", err)
	}
}

func TestDecodeSensor_SchemaRejects(t *testing.T) {
	v, err := NewValidator()
	if err != nil {
		t.Fatalf("NewValidator() err=%v", err)
	}

	cases := map[string]string{
		"not json":       `{`,
		"missing slave":  `{"name":"s","fields":[{"name":"a"}]}`,
		"slave range":    `{"name":"s","slave_id":0,"fields":[{"name":"a"}]}`,
		"length range":   `{"name":"s","slave_id":1,"length":126,"fields":[{"name":"a"}]}`,
		"no fields":      `{"name":"s","slave_id":1,"fields":[]}`,
		"bad data type":  `{"name":"s","slave_id":1,"fields":[{"name":"a","data_type":"float"}]}`,
		"unknown key":    `{"name":"s","slave_id":1,"port":502,"fields":[{"name":"a"}]}`,
		"bad name chars": `{"name":"s s","slave_id":1,"fields":[{"name":"a"}]}`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := v.DecodeSensor([]byte(doc)); err == nil {
				t.Fatalf("DecodeSensor(%s) err=nil", doc)
			}
		})
	}
}
