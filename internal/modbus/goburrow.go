package modbus

import (
	"errors"
	"fmt"
	"strings"

	gmodbus "github.com/goburrow/modbus"
	"go.uber.org/zap"
)

// GoburrowTransport adapts github.com/goburrow/modbus. The handler keeps one
// TCP connection and Connect is a no-op while it is open.
type GoburrowTransport struct {
	handler *gmodbus.TCPClientHandler
	client  gmodbus.Client
}

func NewGoburrowTransport(cfg TransportConfig, logger *zap.Logger) *GoburrowTransport {
	h := gmodbus.NewTCPClientHandler(cfg.Address())
	h.Timeout = cfg.Timeout
	if cfg.Debug && logger != nil {
		h.Logger = zap.NewStdLog(logger.Named("goburrow"))
	}

	return &GoburrowTransport{
		handler: h,
		client:  gmodbus.NewClient(h),
	}
}

func (t *GoburrowTransport) Connect() error {
	return t.handler.Connect()
}

func (t *GoburrowTransport) Close() error {
	return t.handler.Close()
}

func (t *GoburrowTransport) ReadHoldingRegisters(slaveID uint8, address, quantity uint16) ([]uint16, error) {
	// SlaveId is per handler; the single poll loop owns it.
	t.handler.SlaveId = slaveID

	data, err := t.client.ReadHoldingRegisters(address, quantity)
	if err != nil {
		return nil, classifyGoburrowError(err)
	}
	if len(data) != int(quantity)*2 {
		return nil, &ProtocolError{
			Function: gmodbus.FuncCodeReadHoldingRegisters,
			Reason:   fmt.Sprintf("payload has %d bytes, want %d", len(data), int(quantity)*2),
		}
	}
	return wordsFromBytes(data), nil
}

func classifyGoburrowError(err error) error {
	var mbErr *gmodbus.ModbusError
	if errors.As(err, &mbErr) {
		return &ProtocolError{Function: mbErr.FunctionCode, ExceptionCode: mbErr.ExceptionCode}
	}
	// goburrow reports malformed PDUs with plain errors
	if strings.HasPrefix(err.Error(), "modbus: response data size") {
		return &ProtocolError{Function: gmodbus.FuncCodeReadHoldingRegisters, Reason: err.Error()}
	}
	return err
}
