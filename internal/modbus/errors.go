package modbus

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"syscall"
)

var (
	// ErrUnavailable is matched by every error ReadRegisters returns: the
	// sensor has no data this cycle.
	ErrUnavailable = errors.New("modbus: registers unavailable")

	// ErrBackoffActive means the attempt was skipped by the backoff gate.
	ErrBackoffActive = fmt.Errorf("%w: reconnect backoff active", ErrUnavailable)

	ErrOutOfRange      = errors.New("modbus: register index out of range")
	ErrUnsupportedType = errors.New("modbus: unsupported data type")
)

// ProtocolError is returned by a Transport when the gateway answered but the
// answer was an exception or could not be decoded. The TCP session is healthy.
type ProtocolError struct {
	Function      byte
	ExceptionCode byte
	Reason        string
}

func (e *ProtocolError) Error() string {
	if e.ExceptionCode != 0 {
		return fmt.Sprintf("modbus exception: fc=%d code=%d (%s)", e.Function, e.ExceptionCode, exceptionName(e.ExceptionCode))
	}
	return "modbus protocol error: " + e.Reason
}

// ConnectionFailure wraps a connect, network or timeout error. It triggers backoff.
type ConnectionFailure struct {
	Op  string
	Err error
}

func (e *ConnectionFailure) Error() string {
	return fmt.Sprintf("modbus %s failed: %v", e.Op, e.Err)
}

func (e *ConnectionFailure) Unwrap() []error { return []error{ErrUnavailable, e.Err} }

// ProtocolReadError is a rejected read on a live session.
type ProtocolReadError struct {
	SlaveID uint8
	Address uint16
	Err     error
}

func (e *ProtocolReadError) Error() string {
	return fmt.Sprintf("register read error on %d (slave %d): %v", e.Address, e.SlaveID, e.Err)
}

func (e *ProtocolReadError) Unwrap() []error { return []error{ErrUnavailable, e.Err} }

// isConnectionError reports errors that mean the link itself is gone.
func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.EPIPE) {
		return true
	}
	msg := err.Error()
	for _, s := range []string{"connection reset", "broken pipe", "connection refused", "no route to host"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

func exceptionName(code byte) string {
	switch code {
	case 1:
		return "illegal function"
	case 2:
		return "illegal data address"
	case 3:
		return "illegal data value"
	case 4:
		return "server device failure"
	case 5:
		return "acknowledge"
	case 6:
		return "server device busy"
	case 8:
		return "memory parity error"
	case 10:
		return "gateway path unavailable"
	case 11:
		return "gateway target device failed to respond"
	default:
		return "unknown"
	}
}
