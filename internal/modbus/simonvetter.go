package modbus

import (
	"errors"
	"fmt"

	smodbus "github.com/simonvetter/modbus"
)

const funcReadHoldingRegisters = 0x03

// SimonvetterTransport adapts github.com/simonvetter/modbus.
type SimonvetterTransport struct {
	client *smodbus.ModbusClient
	open   bool
}

func NewSimonvetterTransport(cfg TransportConfig) (*SimonvetterTransport, error) {
	client, err := smodbus.NewClient(&smodbus.ClientConfiguration{
		URL:     "tcp://" + cfg.Address(),
		Timeout: cfg.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("modbus transport: %w", err)
	}
	return &SimonvetterTransport{client: client}, nil
}

// Connect opens the link once; Open on an open client would dial again.
func (t *SimonvetterTransport) Connect() error {
	if t.open {
		return nil
	}
	if err := t.client.Open(); err != nil {
		return err
	}
	t.open = true
	return nil
}

func (t *SimonvetterTransport) Close() error {
	if !t.open {
		return nil
	}
	t.open = false
	return t.client.Close()
}

func (t *SimonvetterTransport) ReadHoldingRegisters(slaveID uint8, address, quantity uint16) ([]uint16, error) {
	if err := t.client.SetUnitId(slaveID); err != nil {
		return nil, err
	}
	regs, err := t.client.ReadRegisters(address, quantity, smodbus.HOLDING_REGISTER)
	if err != nil {
		return nil, classifySimonvetterError(err)
	}
	return regs, nil
}

var simonvetterExceptions = map[error]byte{
	smodbus.ErrIllegalFunction:         1,
	smodbus.ErrIllegalDataAddress:      2,
	smodbus.ErrIllegalDataValue:        3,
	smodbus.ErrServerDeviceFailure:     4,
	smodbus.ErrAcknowledge:             5,
	smodbus.ErrServerDeviceBusy:        6,
	smodbus.ErrMemoryParityError:       8,
	smodbus.ErrGWPathUnavailable:       10,
	smodbus.ErrGWTargetFailedToRespond: 11,
}

func classifySimonvetterError(err error) error {
	for sentinel, code := range simonvetterExceptions {
		if errors.Is(err, sentinel) {
			return &ProtocolError{Function: funcReadHoldingRegisters, ExceptionCode: code}
		}
	}
	switch {
	case errors.Is(err, smodbus.ErrProtocolError),
		errors.Is(err, smodbus.ErrUnexpectedParameters),
		errors.Is(err, smodbus.ErrBadUnitId):
		return &ProtocolError{Function: funcReadHoldingRegisters, Reason: err.Error()}
	}
	return err
}
