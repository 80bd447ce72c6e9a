package interfaces

import (
	"context"

	"github.com/KevinKickass/ModbusStation/internal/config"
	"github.com/KevinKickass/ModbusStation/internal/devices"
	"github.com/KevinKickass/ModbusStation/internal/modbus"
	"github.com/KevinKickass/ModbusStation/internal/types"
)

// SystemStatus represents the current system state
type SystemStatus struct {
	State        string                 `json:"state"`
	Version      string                 `json:"version"`
	PollerState  string                 `json:"poller_state"`
	Connection   modbus.ConnectionState `json:"connection"`
	SensorCount  int                    `json:"sensor_count"`
	LastRecordAt int64                  `json:"last_record_at,omitempty"`
	WSClients    int                    `json:"ws_clients"`
}

type LifecycleManager interface {
	Config() *config.Config
	SensorManager() *devices.Manager
	LatestRecord() (types.Record, bool)
	GetCurrentStatus() SystemStatus
	Shutdown(ctx context.Context) error
}
