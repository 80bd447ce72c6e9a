package types

import (
	"encoding/json"
	"sort"
	"time"

	"google.golang.org/protobuf/types/known/structpb"
)

// Unit system tags understood by record consumers.
const (
	UnitSystemUS       = 0x01
	UnitSystemMetric   = 0x10
	UnitSystemMetricWX = 0x11
)

const (
	KeyDateTime = "dateTime"
	KeyUnits    = "usUnits"
)

// Record is the output of one poll cycle. Fields absent from the map were not
// available in that cycle.
type Record struct {
	DateTime   int64
	UnitSystem int
	Fields     map[string]float64
}

// NewRecord stamps a record with now rounded to the nearest second.
func NewRecord(now time.Time, unitSystem int) Record {
	return Record{
		DateTime:   now.Add(500 * time.Millisecond).Unix(),
		UnitSystem: unitSystem,
		Fields:     make(map[string]float64),
	}
}

func (r Record) Clone() Record {
	out := Record{DateTime: r.DateTime, UnitSystem: r.UnitSystem, Fields: make(map[string]float64, len(r.Fields))}
	for k, v := range r.Fields {
		out.Fields[k] = v
	}
	return out
}

// FieldNames returns the decoded field names sorted alphabetically.
func (r Record) FieldNames() []string {
	names := make([]string, 0, len(r.Fields))
	for k := range r.Fields {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// MarshalJSON flattens the record: {"dateTime":..,"usUnits":..,"outTemp":..}.
func (r Record) MarshalJSON() ([]byte, error) {
	flat := make(map[string]any, len(r.Fields)+2)
	for k, v := range r.Fields {
		flat[k] = v
	}
	flat[KeyDateTime] = r.DateTime
	flat[KeyUnits] = r.UnitSystem
	return json.Marshal(flat)
}

func (r *Record) UnmarshalJSON(data []byte) error {
	var flat map[string]float64
	if err := json.Unmarshal(data, &flat); err != nil {
		return err
	}
	r.DateTime = int64(flat[KeyDateTime])
	r.UnitSystem = int(flat[KeyUnits])
	delete(flat, KeyDateTime)
	delete(flat, KeyUnits)
	r.Fields = flat
	return nil
}

// ToProto renders the flat record as a protobuf Struct.
func (r Record) ToProto() (*structpb.Struct, error) {
	flat := make(map[string]any, len(r.Fields)+2)
	for k, v := range r.Fields {
		flat[k] = v
	}
	flat[KeyDateTime] = float64(r.DateTime)
	flat[KeyUnits] = float64(r.UnitSystem)
	return structpb.NewStruct(flat)
}
