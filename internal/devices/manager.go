package devices

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/KevinKickass/ModbusStation/internal/types"
	"go.uber.org/zap"
)

// Store persists sensor definitions. storage.PostgresClient implements it.
type Store interface {
	SaveOrUpdateSensor(ctx context.Context, def types.SensorDefinition) error
	LoadAllSensors(ctx context.Context) ([]types.SensorDefinition, error)
	DeleteSensor(ctx context.Context, name string) error
}

// Manager holds the active sensor set. Writers replace the slice, so a
// snapshot returned by Sensors stays valid while the poller iterates it.
type Manager struct {
	mu      sync.RWMutex
	sensors []types.SensorSpec
	store   Store
	logger  *zap.Logger
}

func NewManager(store Store, logger *zap.Logger) *Manager {
	return &Manager{
		store:  store,
		logger: logger,
	}
}

// Sensors returns the current set in poll order.
func (m *Manager) Sensors() []types.SensorSpec {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sensors
}

// Load adds specs from the config file. Later duplicates are skipped.
func (m *Manager) Load(specs []types.SensorSpec) {
	for _, s := range specs {
		if _, exists := m.Get(s.Name()); exists {
			m.logger.Warn("Sensor already loaded, skipping", zap.String("sensor", s.Name()))
			continue
		}
		m.upsert(s)
	}
}

// LoadFromStore merges persisted sensors over the configured ones.
func (m *Manager) LoadFromStore(ctx context.Context) error {
	if m.store == nil {
		return nil
	}

	defs, err := m.store.LoadAllSensors(ctx)
	if err != nil {
		return fmt.Errorf("failed to load sensors: %w", err)
	}

	for _, def := range defs {
		spec, err := def.Spec()
		if err != nil {
			m.logger.Error("Stored sensor rejected",
				zap.String("sensor", def.Name),
				zap.Error(err))
			continue
		}
		m.upsert(spec)
	}

	m.logger.Info("Sensors loaded from database", zap.Int("count", len(defs)))
	return nil
}

// Apply validates def, persists it when a store is configured and makes it
// active from the next poll cycle.
func (m *Manager) Apply(ctx context.Context, def types.SensorDefinition) (types.SensorSpec, bool, error) {
	spec, err := def.Spec()
	if err != nil {
		return types.SensorSpec{}, false, err
	}

	if m.store != nil {
		if err := m.store.SaveOrUpdateSensor(ctx, spec.Definition()); err != nil {
			return types.SensorSpec{}, false, fmt.Errorf("failed to persist sensor: %w", err)
		}
	}

	created := m.upsert(spec)
	m.logger.Info("Sensor applied",
		zap.String("sensor", spec.Name()),
		zap.Bool("created", created))

	return spec, created, nil
}

// Delete removes a sensor from the active set and the store.
func (m *Manager) Delete(ctx context.Context, name string) error {
	if _, exists := m.Get(name); !exists {
		return fmt.Errorf("%w: %s", types.ErrSensorNotFound, name)
	}

	if m.store != nil {
		// Sensors from the config file have no row.
		if err := m.store.DeleteSensor(ctx, name); err != nil && !errors.Is(err, types.ErrSensorNotFound) {
			return fmt.Errorf("failed to delete sensor: %w", err)
		}
	}

	m.mu.Lock()
	next := make([]types.SensorSpec, 0, len(m.sensors))
	for _, s := range m.sensors {
		if s.Name() != name {
			next = append(next, s)
		}
	}
	m.sensors = next
	m.mu.Unlock()

	m.logger.Info("Sensor removed", zap.String("sensor", name))
	return nil
}

func (m *Manager) Get(name string) (types.SensorSpec, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, s := range m.sensors {
		if s.Name() == name {
			return s, true
		}
	}
	return types.SensorSpec{}, false
}

// List returns the definitions of all active sensors.
func (m *Manager) List() []types.SensorDefinition {
	sensors := m.Sensors()

	defs := make([]types.SensorDefinition, 0, len(sensors))
	for _, s := range sensors {
		defs = append(defs, s.Definition())
	}
	return defs
}

// upsert replaces a sensor of the same name in place or appends it.
func (m *Manager) upsert(spec types.SensorSpec) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := make([]types.SensorSpec, len(m.sensors), len(m.sensors)+1)
	copy(next, m.sensors)

	created := true
	for i, s := range next {
		if s.Name() == spec.Name() {
			next[i] = spec
			created = false
			break
		}
	}
	if created {
		next = append(next, spec)
	}

	m.warnFieldCollisions(next, spec)
	m.sensors = next
	return created
}

func (m *Manager) warnFieldCollisions(all []types.SensorSpec, spec types.SensorSpec) {
	names := make(map[string]string)
	for _, s := range all {
		if s.Name() == spec.Name() {
			continue
		}
		for _, f := range s.Fields() {
			names[f.Name] = s.Name()
		}
	}
	for _, f := range spec.Fields() {
		if other, ok := names[f.Name]; ok {
			m.logger.Warn("Field name also produced by another sensor, later read wins",
				zap.String("field", f.Name),
				zap.String("sensor", spec.Name()),
				zap.String("other", other))
		}
	}
}
