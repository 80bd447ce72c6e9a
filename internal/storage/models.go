package storage

import (
	"time"

	"github.com/google/uuid"
)

// Sensor is one row of the sensors table. Fields holds the JSONB encoded
// field list.
type Sensor struct {
	ID         uuid.UUID `json:"id"`
	SensorName string    `json:"sensor_name"`
	SlaveID    int       `json:"slave_id"`
	Registry   int       `json:"registry"`
	Length     int       `json:"length"`
	Fields     []byte    `json:"fields"` // JSONB
	Enabled    bool      `json:"enabled"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}
