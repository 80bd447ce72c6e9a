package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/KevinKickass/ModbusStation/internal/types"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// SaveOrUpdateSensor upserts a sensor definition by name.
func (p *PostgresClient) SaveOrUpdateSensor(ctx context.Context, def types.SensorDefinition) error {
	row, err := sensorRow(def)
	if err != nil {
		return err
	}

	_, err = p.pool.Exec(ctx, `
		INSERT INTO sensors (id, sensor_name, slave_id, registry, length, fields, enabled)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (sensor_name)
		DO UPDATE SET
			slave_id = EXCLUDED.slave_id,
			registry = EXCLUDED.registry,
			length = EXCLUDED.length,
			fields = EXCLUDED.fields,
			enabled = EXCLUDED.enabled,
			updated_at = NOW()
	`, row.ID, row.SensorName, row.SlaveID, row.Registry, row.Length, row.Fields, row.Enabled)

	if err != nil {
		return fmt.Errorf("failed to upsert sensor: %w", err)
	}

	return nil
}

// LoadAllSensors loads all enabled sensors in creation order.
func (p *PostgresClient) LoadAllSensors(ctx context.Context) ([]types.SensorDefinition, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, sensor_name, slave_id, registry, length, fields, enabled, created_at, updated_at
		FROM sensors
		WHERE enabled = true
		ORDER BY created_at, sensor_name
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query sensors: %w", err)
	}
	defer rows.Close()

	defs := make([]types.SensorDefinition, 0)

	for rows.Next() {
		var s Sensor
		err := rows.Scan(&s.ID, &s.SensorName, &s.SlaveID, &s.Registry, &s.Length,
			&s.Fields, &s.Enabled, &s.CreatedAt, &s.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sensor: %w", err)
		}

		def, err := s.Definition()
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read sensors: %w", err)
	}

	return defs, nil
}

// DeleteSensor removes a sensor by name.
func (p *PostgresClient) DeleteSensor(ctx context.Context, name string) error {
	result, err := p.pool.Exec(ctx, `
		DELETE FROM sensors
		WHERE sensor_name = $1
	`, name)

	if err != nil {
		return fmt.Errorf("failed to delete sensor: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("%w: %w", types.ErrSensorNotFound, pgx.ErrNoRows)
	}

	return nil
}

func sensorRow(def types.SensorDefinition) (Sensor, error) {
	fields, err := json.Marshal(def.Fields)
	if err != nil {
		return Sensor{}, fmt.Errorf("failed to marshal fields: %w", err)
	}

	return Sensor{
		ID:         uuid.New(),
		SensorName: def.Name,
		SlaveID:    def.SlaveID,
		Registry:   def.Registry,
		Length:     def.Length,
		Fields:     fields,
		Enabled:    true,
	}, nil
}

// Definition decodes the row back into a sensor definition.
func (s Sensor) Definition() (types.SensorDefinition, error) {
	def := types.SensorDefinition{
		Name:     s.SensorName,
		SlaveID:  s.SlaveID,
		Registry: s.Registry,
		Length:   s.Length,
	}
	if len(s.Fields) > 0 {
		if err := json.Unmarshal(s.Fields, &def.Fields); err != nil {
			return types.SensorDefinition{}, fmt.Errorf("failed to unmarshal fields of %s: %w", s.SensorName, err)
		}
	}
	return def, nil
}
