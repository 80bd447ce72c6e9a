package modbus

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"go.uber.org/zap"
)

const (
	DriverGoburrow    = "goburrow"
	DriverSimonvetter = "simonvetter"
)

// Transport performs the request/response exchange with the gateway.
// Implementations return *ProtocolError when the gateway answered with an
// exception or an undecodable payload, and any other error for link problems.
type Transport interface {
	Connect() error
	ReadHoldingRegisters(slaveID uint8, address, quantity uint16) ([]uint16, error)
	Close() error
}

type TransportConfig struct {
	Driver  string
	Host    string
	Port    int
	Timeout time.Duration
	Debug   bool
}

func (c TransportConfig) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// NewTransport builds the transport selected by cfg.Driver.
func NewTransport(cfg TransportConfig, logger *zap.Logger) (Transport, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("modbus transport: host required")
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("modbus transport: invalid port %d", cfg.Port)
	}

	switch cfg.Driver {
	case "", DriverGoburrow:
		return NewGoburrowTransport(cfg, logger), nil
	case DriverSimonvetter:
		return NewSimonvetterTransport(cfg)
	default:
		return nil, fmt.Errorf("modbus transport: unknown driver %q", cfg.Driver)
	}
}

func wordsFromBytes(data []byte) []uint16 {
	out := make([]uint16, len(data)/2)
	for i := range out {
		out[i] = uint16(data[2*i])<<8 | uint16(data[2*i+1])
	}
	return out
}
