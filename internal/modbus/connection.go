package modbus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

type ConnectionOptions struct {
	BackoffInitial time.Duration
	BackoffMax     time.Duration
	// BackoffOnReadError makes protocol-level read errors back off like
	// connection failures.
	BackoffOnReadError bool
	Metrics            *Metrics
}

// ConnectionState is what status endpoints see of the connection.
type ConnectionState struct {
	Connected bool         `json:"connected"`
	Backoff   BackoffState `json:"backoff"`
}

// Connection owns the transport and its backoff schedule. ReadRegisters is
// meant to be called from one goroutine; State may be called from any.
type Connection struct {
	transport          Transport
	backoff            *BackoffPolicy
	backoffOnReadError bool
	logger             *zap.Logger
	metrics            *Metrics
	now                func() time.Time

	stateMu   sync.RWMutex
	state     ConnectionState
	listeners []func(ConnectionState)
}

func NewConnection(transport Transport, opts ConnectionOptions, logger *zap.Logger) *Connection {
	backoff := NewBackoffPolicy(opts.BackoffInitial, opts.BackoffMax)
	return &Connection{
		transport:          transport,
		backoff:            backoff,
		backoffOnReadError: opts.BackoffOnReadError,
		logger:             logger,
		metrics:            opts.Metrics,
		now:                time.Now,
		state:              ConnectionState{Backoff: backoff.State()},
	}
}

// OnStateChange registers fn to be called after every connected/disconnected
// transition. Call before polling starts.
func (c *Connection) OnStateChange(fn func(ConnectionState)) {
	c.stateMu.Lock()
	c.listeners = append(c.listeners, fn)
	c.stateMu.Unlock()
}

// ReadRegisters reads length holding registers from slaveID. Every error it
// returns matches ErrUnavailable.
func (c *Connection) ReadRegisters(ctx context.Context, slaveID uint8, address, length uint16) ([]uint16, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	now := c.now()
	if c.backoff.ShouldSkip(now) {
		c.logger.Debug("Skipping read during reconnect backoff",
			zap.Uint8("slave_id", slaveID),
			zap.Uint16("address", address),
			zap.Time("next_attempt_at", c.backoff.NextAttemptAt()))
		return nil, ErrBackoffActive
	}

	if err := c.transport.Connect(); err != nil {
		return nil, c.connectionFailure("connect", slaveID, address, err)
	}
	if c.backoff.Failing() {
		c.logger.Info("Connection to gateway restored",
			zap.Uint8("slave_id", slaveID),
			zap.Duration("last_delay", c.backoff.CurrentDelay()))
	}
	c.backoff.OnSuccess()
	c.publish(true)

	words, err := c.transport.ReadHoldingRegisters(slaveID, address, length)
	if err == nil {
		return words, nil
	}

	var protoErr *ProtocolError
	if errors.As(err, &protoErr) {
		c.logger.Error("Register read rejected",
			zap.Uint8("slave_id", slaveID),
			zap.Uint16("address", address),
			zap.Uint16("length", length),
			zap.Error(err))
		// Intentional asymmetry: the session is alive, so a rejected read does
		// not back off unless configured to. Only link loss backs off.
		if c.backoffOnReadError {
			delay := c.backoff.OnFailure(c.now())
			c.logger.Warn("Backing off after read error", zap.Duration("retry_in", delay))
			c.publish(true)
		}
		return nil, &ProtocolReadError{SlaveID: slaveID, Address: address, Err: err}
	}

	return nil, c.connectionFailure("read", slaveID, address, err)
}

func (c *Connection) connectionFailure(op string, slaveID uint8, address uint16, err error) error {
	delay := c.backoff.OnFailure(c.now())

	msg := "Modbus connection failure"
	if !isConnectionError(err) {
		msg = "Unexpected Modbus failure, treating as connection loss"
	}
	c.logger.Error(msg,
		zap.String("op", op),
		zap.Uint8("slave_id", slaveID),
		zap.Uint16("address", address),
		zap.Error(err),
		zap.Duration("retry_in", delay))

	if cerr := c.transport.Close(); cerr != nil {
		c.logger.Debug("Closing transport failed", zap.Error(cerr))
	}
	c.publish(false)

	return &ConnectionFailure{Op: op, Err: err}
}

func (c *Connection) publish(connected bool) {
	st := ConnectionState{Connected: connected, Backoff: c.backoff.State()}

	c.stateMu.Lock()
	changed := c.state.Connected != connected
	c.state = st
	listeners := c.listeners
	c.stateMu.Unlock()

	c.metrics.setConnected(connected, st.Backoff.CurrentDelay)
	if changed {
		for _, fn := range listeners {
			fn(st)
		}
	}
}

func (c *Connection) State() ConnectionState {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.state
}

func (c *Connection) Close() error {
	c.publish(false)
	return c.transport.Close()
}
