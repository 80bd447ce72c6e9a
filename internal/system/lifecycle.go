package system

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/KevinKickass/ModbusStation/internal/api/rest"
	"github.com/KevinKickass/ModbusStation/internal/api/websocket"
	"github.com/KevinKickass/ModbusStation/internal/auth"
	"github.com/KevinKickass/ModbusStation/internal/config"
	"github.com/KevinKickass/ModbusStation/internal/devices"
	"github.com/KevinKickass/ModbusStation/internal/interfaces"
	"github.com/KevinKickass/ModbusStation/internal/modbus"
	"github.com/KevinKickass/ModbusStation/internal/storage"
	"github.com/KevinKickass/ModbusStation/internal/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// GatewayHealthService is the gRPC health service name that tracks the
// Modbus gateway connection. The empty service name tracks the process.
const GatewayHealthService = "modbusstation.Gateway"

type LifecycleManager struct {
	config  *config.Config
	storage *storage.PostgresClient
	logger  *zap.Logger
	version string

	sensors     *devices.Manager
	validator   *devices.Validator
	authService *auth.AuthService
	registry    *prometheus.Registry
	metrics     *modbus.Metrics

	connection *modbus.Connection
	poller     *modbus.Poller
	wsHub      *websocket.Hub

	restServer   *rest.Server
	grpcServer   *grpc.Server
	healthServer *health.Server
	grpcAddr     net.Addr

	cancel context.CancelFunc
	wg     sync.WaitGroup

	recordMu     sync.RWMutex
	latestRecord *types.Record

	stateMu      sync.RWMutex
	currentState SystemState

	shutdownOnce sync.Once
}

// NewLifecycleManager wires the service. db may be nil when no database is
// configured.
func NewLifecycleManager(
	db *storage.PostgresClient,
	cfg *config.Config,
	logger *zap.Logger,
	version string,
) (*LifecycleManager, error) {
	var store devices.Store
	if db != nil {
		store = db
	}

	validator, err := devices.NewValidator()
	if err != nil {
		return nil, fmt.Errorf("failed to create sensor validator: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	lm := &LifecycleManager{
		config:       cfg,
		storage:      db,
		logger:       logger,
		version:      version,
		sensors:      devices.NewManager(store, logger.Named("sensors")),
		validator:    validator,
		authService:  auth.NewAuthService(cfg.Auth, logger.Named("auth")),
		registry:     registry,
		metrics:      modbus.NewMetrics(registry),
		wsHub:        websocket.NewHub(logger.Named("ws")),
		currentState: StateInitializing,
	}
	lm.wsHub.SetSnapshotProvider(lm)

	return lm, nil
}

// Start loads the sensor set, opens the servers and starts polling.
func (lm *LifecycleManager) Start() error {
	lm.logger.Info("Starting Modbus station", zap.String("version", lm.version))

	if !lm.config.Auth.IsProductionReady() {
		lm.logger.Warn("JWT secret is the development default or too short")
	}
	if !lm.authService.LoginEnabled() {
		lm.logger.Info("No admin password hash configured, sensor API is read-only")
	}

	lm.loadSensors()

	transport, err := modbus.NewTransport(modbus.TransportConfig{
		Driver:  lm.config.Modbus.Driver,
		Host:    lm.config.Modbus.Host,
		Port:    lm.config.Modbus.Port,
		Timeout: lm.config.Modbus.Timeout,
		Debug:   lm.config.Modbus.Debug,
	}, lm.logger.Named("transport"))
	if err != nil {
		lm.setError(err)
		return fmt.Errorf("failed to create transport: %w", err)
	}

	lm.connection = modbus.NewConnection(transport, modbus.ConnectionOptions{
		BackoffInitial:     lm.config.Modbus.Backoff.Initial,
		BackoffMax:         lm.config.Modbus.Backoff.Max,
		BackoffOnReadError: lm.config.Modbus.BackoffOnReadError,
		Metrics:            lm.metrics,
	}, lm.logger.Named("modbus"))
	lm.connection.OnStateChange(lm.onConnectionChange)

	lm.poller = modbus.NewPoller(lm.connection, lm.sensors, lm.config.Modbus.PollInterval,
		lm.logger.Named("poller"), lm.metrics)

	ctx, cancel := context.WithCancel(context.Background())
	lm.cancel = cancel

	if err := lm.startGRPCServer(); err != nil {
		cancel()
		lm.setError(err)
		return fmt.Errorf("failed to start gRPC: %w", err)
	}

	lm.wg.Add(1)
	go func() {
		defer lm.wg.Done()
		lm.wsHub.Run(ctx)
	}()

	if err := lm.startRESTServer(); err != nil {
		cancel()
		lm.grpcServer.Stop()
		lm.setError(err)
		return fmt.Errorf("failed to start REST API: %w", err)
	}

	records := make(chan types.Record, 1)
	lm.wg.Add(1)
	go func() {
		defer lm.wg.Done()
		lm.fanOut(ctx, records)
	}()

	if err := lm.poller.Start(ctx, records); err != nil {
		lm.setError(err)
		return err
	}

	lm.setState(StateRunning)

	lm.logger.Info("System started successfully",
		zap.Int("grpc_port", lm.config.Server.GRPCPort),
		zap.Int("http_port", lm.config.Server.HTTPPort),
		zap.String("gateway", net.JoinHostPort(lm.config.Modbus.Host, fmt.Sprint(lm.config.Modbus.Port))),
		zap.String("driver", lm.config.Modbus.Driver),
		zap.Int("sensors", len(lm.sensors.Sensors())))

	return nil
}

func (lm *LifecycleManager) loadSensors() {
	lm.sensors.Load(devices.ParseSensors(lm.config.Sensors, lm.logger.Named("config")))

	if err := lm.sensors.LoadFromStore(context.Background()); err != nil {
		lm.logger.Warn("Failed to load sensors from database", zap.Error(err))
	}

	if len(lm.sensors.Sensors()) == 0 {
		lm.logger.Warn("No sensors configured, records will only carry the timestamp")
	}
}

// fanOut publishes every record: latest-record cache, live stream.
func (lm *LifecycleManager) fanOut(ctx context.Context, records <-chan types.Record) {
	for {
		select {
		case <-ctx.Done():
			return
		case rec := <-records:
			lm.recordMu.Lock()
			lm.latestRecord = &rec
			lm.recordMu.Unlock()

			lm.wsHub.Broadcast(websocket.NewRecordMessage(rec.Clone()))

			lm.logger.Debug("Record produced",
				zap.Int64("date_time", rec.DateTime),
				zap.Strings("fields", rec.FieldNames()))
		}
	}
}

func (lm *LifecycleManager) onConnectionChange(st modbus.ConnectionState) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if st.Connected {
		status = healthpb.HealthCheckResponse_SERVING
	}
	if lm.healthServer != nil {
		lm.healthServer.SetServingStatus(GatewayHealthService, status)
	}
	lm.wsHub.Broadcast(websocket.NewConnectionStateMessage(st))
}

// Shutdown gracefully shuts down the system
func (lm *LifecycleManager) Shutdown(ctx context.Context) error {
	var shutdownErr error

	lm.shutdownOnce.Do(func() {
		lm.logger.Info("Shutting down system")

		lm.setState(StateStopping)
		shutdownErr = lm.gracefulShutdown(ctx)
		lm.setState(StateStopped)
	})

	return shutdownErr
}

func (lm *LifecycleManager) gracefulShutdown(ctx context.Context) error {
	var errs []error

	var wg sync.WaitGroup
	errChan := make(chan error, 2)

	wg.Add(1)
	go func() {
		defer wg.Done()
		// Poller first: no cycle may run while the connection closes.
		if lm.poller != nil {
			lm.poller.Stop()
		}
		if lm.connection != nil {
			if err := lm.connection.Close(); err != nil {
				lm.logger.Debug("Closing gateway connection", zap.Error(err))
			}
		}
	}()

	if lm.restServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()

			if err := lm.restServer.Shutdown(shutdownCtx); err != nil {
				errChan <- fmt.Errorf("rest api shutdown failed: %w", err)
			}
		}()
	}

	if lm.grpcServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lm.logger.Info("Stopping gRPC server")
			lm.healthServer.Shutdown()
			lm.grpcServer.GracefulStop()
		}()
	}

	if lm.cancel != nil {
		lm.cancel()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		lm.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		lm.logger.Warn("Shutdown timeout, forcing stop")
		if lm.grpcServer != nil {
			lm.grpcServer.Stop()
		}
		return fmt.Errorf("shutdown timeout exceeded")
	}

	close(errChan)
	for err := range errChan {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	lm.logger.Info("Graceful shutdown completed")
	return nil
}

func (lm *LifecycleManager) startGRPCServer() error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", lm.config.Server.GRPCPort))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	lm.grpcAddr = lis.Addr()

	lm.grpcServer = grpc.NewServer()
	lm.healthServer = health.NewServer()
	lm.healthServer.SetServingStatus(GatewayHealthService, healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(lm.grpcServer, lm.healthServer)
	reflection.Register(lm.grpcServer)

	go func() {
		lm.logger.Info("gRPC server listening",
			zap.String("address", lis.Addr().String()),
			zap.String("services", "grpc.health.v1.Health"))
		if err := lm.grpcServer.Serve(lis); err != nil {
			lm.logger.Error("gRPC server failed", zap.Error(err))
		}
	}()

	return nil
}

func (lm *LifecycleManager) startRESTServer() error {
	lm.restServer = rest.NewServer(lm.config, lm, lm.logger.Named("rest"), lm.wsHub,
		lm.authService, lm.validator, lm.registry)
	return lm.restServer.Start()
}

func (lm *LifecycleManager) setState(state SystemState) {
	lm.stateMu.Lock()
	previous := lm.currentState
	if err := ValidateTransition(previous, state); err != nil {
		lm.stateMu.Unlock()
		lm.logger.Warn("Ignoring state change", zap.Error(err))
		return
	}
	lm.currentState = state
	lm.stateMu.Unlock()

	lm.logger.Info("System state changed",
		zap.String("from", previous.String()),
		zap.String("to", state.String()))
	lm.wsHub.Broadcast(websocket.NewSystemStateMessage(state.String(), previous.String()))
}

func (lm *LifecycleManager) setError(err error) {
	lm.logger.Error("System error", zap.Error(err))
	lm.setState(StateError)
}

func (lm *LifecycleManager) State() SystemState {
	lm.stateMu.RLock()
	defer lm.stateMu.RUnlock()
	return lm.currentState
}

// GetCurrentStatus returns current system status (Interface implementation)
func (lm *LifecycleManager) GetCurrentStatus() interfaces.SystemStatus {
	status := interfaces.SystemStatus{
		State:       lm.State().String(),
		Version:     lm.version,
		PollerState: modbus.PollerIdle.String(),
		SensorCount: len(lm.sensors.Sensors()),
	}
	if lm.poller != nil {
		status.PollerState = lm.poller.State().String()
		status.LastRecordAt = lm.poller.LastRecordAt()
	}
	if lm.connection != nil {
		status.Connection = lm.connection.State()
	}
	return status
}

// LatestRecord returns a copy of the most recent record.
func (lm *LifecycleManager) LatestRecord() (types.Record, bool) {
	lm.recordMu.RLock()
	defer lm.recordMu.RUnlock()

	if lm.latestRecord == nil {
		return types.Record{}, false
	}
	return lm.latestRecord.Clone(), true
}

// Snapshot is what a new live-stream client receives first.
func (lm *LifecycleManager) Snapshot() []websocket.Message {
	msgs := make([]websocket.Message, 0, 2)
	if lm.connection != nil {
		msgs = append(msgs, websocket.NewConnectionStateMessage(lm.connection.State()))
	}
	if rec, ok := lm.LatestRecord(); ok {
		msgs = append(msgs, websocket.NewRecordMessage(rec))
	}
	return msgs
}

func (lm *LifecycleManager) SensorManager() *devices.Manager {
	return lm.sensors
}

// Storage returns the storage client; nil without a database.
func (lm *LifecycleManager) Storage() *storage.PostgresClient {
	return lm.storage
}

// Config returns the configuration
func (lm *LifecycleManager) Config() *config.Config {
	return lm.config
}

// HTTPAddr and GRPCAddr are the bound listener addresses after Start.
func (lm *LifecycleManager) HTTPAddr() string {
	if lm.restServer == nil {
		return ""
	}
	return lm.restServer.Addr()
}

func (lm *LifecycleManager) GRPCAddr() string {
	if lm.grpcAddr == nil {
		return ""
	}
	return lm.grpcAddr.String()
}
