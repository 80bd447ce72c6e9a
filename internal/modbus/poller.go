package modbus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/KevinKickass/ModbusStation/internal/types"
)

type PollerState int32

const (
	PollerIdle PollerState = iota
	PollerPolling
)

func (s PollerState) String() string {
	if s == PollerPolling {
		return "polling"
	}
	return "idle"
}

// SensorSource supplies the sensor set at the start of every cycle.
type SensorSource interface {
	Sensors() []types.SensorSpec
}

// StaticSensors is a fixed SensorSource.
type StaticSensors []types.SensorSpec

func (s StaticSensors) Sensors() []types.SensorSpec { return s }

// RegisterReader is satisfied by *Connection.
type RegisterReader interface {
	ReadRegisters(ctx context.Context, slaveID uint8, address, length uint16) ([]uint16, error)
}

type Poller struct {
	reader   RegisterReader
	sensors  SensorSource
	interval time.Duration
	logger   *zap.Logger
	metrics  *Metrics
	now      func() time.Time

	state        atomic.Int32
	lastRecordAt atomic.Int64

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

func NewPoller(reader RegisterReader, sensors SensorSource, interval time.Duration, logger *zap.Logger, metrics *Metrics) *Poller {
	return &Poller{
		reader:   reader,
		sensors:  sensors,
		interval: interval,
		logger:   logger,
		metrics:  metrics,
		now:      time.Now,
	}
}

func (p *Poller) State() PollerState { return PollerState(p.state.Load()) }

// LastRecordAt is the dateTime of the last completed cycle, 0 before the first.
func (p *Poller) LastRecordAt() int64 { return p.lastRecordAt.Load() }

// PollOnce reads every sensor once, sequentially, and assembles one record.
// Unavailable sensors and undecodable fields are simply absent from it.
func (p *Poller) PollOnce(ctx context.Context) types.Record {
	p.state.Store(int32(PollerPolling))
	defer p.state.Store(int32(PollerIdle))

	start := p.now()
	rec := types.NewRecord(start, types.UnitSystemMetric)

	for _, sensor := range p.sensors.Sensors() {
		if ctx.Err() != nil {
			break
		}

		words, err := p.reader.ReadRegisters(ctx, sensor.SlaveID(), sensor.Address(), sensor.Length())
		if err != nil {
			p.metrics.observeRead(sensor.Name(), readResult(err))
			p.logger.Debug("Sensor unavailable this cycle",
				zap.String("sensor", sensor.Name()),
				zap.Error(err))
			continue
		}
		p.metrics.observeRead(sensor.Name(), resultOK)

		for _, field := range sensor.Fields() {
			value, raw, err := DecodeScaled(words, field)
			if err != nil {
				p.metrics.observeDecodeError(sensor.Name(), field.Name)
				p.logger.Error("Field decode failed",
					zap.String("sensor", sensor.Name()),
					zap.String("field", field.Name),
					zap.Error(err))
				continue
			}
			rec.Fields[field.Name] = value
			p.metrics.setField(field.Name, value)
			p.logger.Debug("Field decoded",
				zap.String("sensor", sensor.Name()),
				zap.String("field", field.Name),
				zap.Uint32("raw", raw),
				zap.Float64("value", value))
		}
	}

	p.lastRecordAt.Store(rec.DateTime)
	p.metrics.observeCycle(p.now().Sub(start))
	return rec
}

func readResult(err error) string {
	var readErr *ProtocolReadError
	switch {
	case errors.Is(err, ErrBackoffActive):
		return resultSkipped
	case errors.As(err, &readErr):
		return resultProtocolError
	default:
		return resultConnectionError
	}
}

// Run polls until ctx is cancelled, sending one record per cycle to out and
// sleeping the configured interval between cycles. A record from a cycle
// interrupted by cancellation is discarded.
func (p *Poller) Run(ctx context.Context, out chan<- types.Record) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		rec := p.PollOnce(ctx)
		if err := ctx.Err(); err != nil {
			return err
		}

		select {
		case out <- rec:
		case <-ctx.Done():
			return ctx.Err()
		}

		if p.interval <= 0 {
			continue
		}
		timer := time.NewTimer(p.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Start runs the poll loop in a goroutine.
func (p *Poller) Start(ctx context.Context, out chan<- types.Record) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.running = true
	p.wg.Add(1)

	go func() {
		defer p.wg.Done()
		if err := p.Run(runCtx, out); err != nil && !errors.Is(err, context.Canceled) {
			p.logger.Warn("Poll loop ended", zap.Error(err))
		}
	}()

	p.logger.Info("Poller started", zap.Duration("interval", p.interval))
	return nil
}

// Stop cancels the loop and waits for the in-flight cycle to finish.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	cancel := p.cancel
	p.mu.Unlock()

	cancel()
	p.wg.Wait()

	p.mu.Lock()
	p.running = false
	p.cancel = nil
	p.mu.Unlock()

	p.logger.Info("Poller stopped")
}
