package types

import (
	"encoding/json"
	"testing"
	"time"
)

func TestNewRecord_RoundsToNearestSecond(t *testing.T) {
	base := time.Unix(1700000000, 0)

	if got := NewRecord(base.Add(499*time.Millisecond), UnitSystemMetric).DateTime; got != 1700000000 {
		t.Fatalf("expected round down, got %d", got)
	}
	if got := NewRecord(base.Add(500*time.Millisecond), UnitSystemMetric).DateTime; got != 1700000001 {
		t.Fatalf("expected round up, got %d", got)
	}
}

func TestRecord_MarshalFlat(t *testing.T) {
	r := Record{DateTime: 1700000000, UnitSystem: UnitSystemMetric, Fields: map[string]float64{"outTemp": 20.5}}

	data, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var flat map[string]any
	if err := json.Unmarshal(data, &flat); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if flat["dateTime"].(float64) != 1700000000 {
		t.Fatalf("dateTime=%v", flat["dateTime"])
	}
	if flat["usUnits"].(float64) != UnitSystemMetric {
		t.Fatalf("usUnits=%v", flat["usUnits"])
	}
	if flat["outTemp"].(float64) != 20.5 {
		t.Fatalf("outTemp=%v", flat["outTemp"])
	}

	var back Record
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal record: %v", err)
	}
	if back.DateTime != r.DateTime || len(back.Fields) != 1 {
		t.Fatalf("decoded record mismatch: %+v", back)
	}
}

func TestRecord_CloneIsIndependent(t *testing.T) {
	r := NewRecord(time.Unix(10, 0), UnitSystemMetric)
	r.Fields["pressure"] = 1013

	c := r.Clone()
	c.Fields["pressure"] = 0

	if r.Fields["pressure"] != 1013 {
		t.Fatalf("clone shares field map")
	}
}

func TestRecord_ToProto(t *testing.T) {
	r := Record{DateTime: 42, UnitSystem: UnitSystemMetric, Fields: map[string]float64{"radiation": 65.996}}

	pb, err := r.ToProto()
	if err != nil {
		t.Fatalf("ToProto: %v", err)
	}
	if pb.Fields["dateTime"].GetNumberValue() != 42 {
		t.Fatalf("dateTime=%v", pb.Fields["dateTime"])
	}
	if pb.Fields["radiation"].GetNumberValue() != 65.996 {
		t.Fatalf("radiation=%v", pb.Fields["radiation"])
	}
}
