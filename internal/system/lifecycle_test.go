package system

import (
	"context"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"gopkg.in/yaml.v3"

	"github.com/KevinKickass/ModbusStation/internal/config"
	"github.com/KevinKickass/ModbusStation/internal/modbus"
	"github.com/KevinKickass/ModbusStation/internal/types"
)

// stalledTransport accepts connections and blocks every read until release
// is closed, like a gateway that stopped answering mid-request.
type stalledTransport struct {
	reading chan struct{}
	release chan struct{}
	once    sync.Once
}

func (s *stalledTransport) Connect() error { return nil }
func (s *stalledTransport) Close() error   { return nil }

func (s *stalledTransport) ReadHoldingRegisters(slaveID uint8, address, quantity uint16) ([]uint16, error) {
	s.once.Do(func() { close(s.reading) })
	<-s.release
	return make([]uint16, quantity), nil
}

func closedPort(t *testing.T) int {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen err=%v", err)
	}
	port := lis.Addr().(*net.TCPAddr).Port
	lis.Close()
	return port
}

func loopback(t *testing.T, addr string) string {
	t.Helper()
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("SplitHostPort(%q) err=%v", addr, err)
	}
	return net.JoinHostPort("127.0.0.1", port)
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()

	var doc yaml.Node
	if err := yaml.Unmarshal([]byte("thb:\n  slave_id: 2\n  registry: 0\n  length: 1\n  outTemp:\n    scale: 0.1\n"), &doc); err != nil {
		t.Fatalf("yaml err=%v", err)
	}

	return &config.Config{
		Server: config.ServerConfig{HTTPPort: 0, GRPCPort: 0},
		Modbus: config.ModbusConfig{
			Host:         "127.0.0.1",
			Port:         closedPort(t),
			Timeout:      200 * time.Millisecond,
			PollInterval: 20 * time.Millisecond,
			Driver:       "goburrow",
			Backoff:      config.BackoffConfig{Initial: 5 * time.Second, Max: 60 * time.Second},
		},
		Sensors: &doc,
	}
}

func TestLifecycle_StartShutdown(t *testing.T) {
	lm, err := NewLifecycleManager(nil, testConfig(t), zap.NewNop(), "test")
	if err != nil {
		t.Fatalf("NewLifecycleManager err=%v", err)
	}
	if err := lm.Start(); err != nil {
		t.Fatalf("Start err=%v", err)
	}

	if lm.State() != StateRunning {
		t.Fatalf("state=%s", lm.State())
	}
	if n := len(lm.SensorManager().Sensors()); n != 1 {
		t.Fatalf("sensors=%d, want 1", n)
	}

	deadline := time.Now().Add(3 * time.Second)
	for {
		if _, ok := lm.LatestRecord(); ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("no record produced")
		}
		time.Sleep(10 * time.Millisecond)
	}
	rec, _ := lm.LatestRecord()
	if len(rec.Fields) != 0 {
		t.Fatalf("fields=%v with unreachable gateway", rec.Fields)
	}

	status := lm.GetCurrentStatus()
	if status.State != "RUNNING" || status.Connection.Connected || status.Version != "test" {
		t.Fatalf("status=%+v", status)
	}

	resp, err := http.Get("http://" + loopback(t, lm.HTTPAddr()) + "/health")
	if err != nil {
		t.Fatalf("GET /health err=%v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("/health status=%d", resp.StatusCode)
	}

	conn, err := grpc.NewClient(loopback(t, lm.GRPCAddr()), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("grpc.NewClient err=%v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	hc, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: GatewayHealthService})
	if err != nil {
		t.Fatalf("health Check err=%v", err)
	}
	if hc.Status != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("gateway health=%s", hc.Status)
	}
	conn.Close()

	if err := lm.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown err=%v", err)
	}
	if lm.State() != StateStopped {
		t.Fatalf("state=%s after shutdown", lm.State())
	}
	if err := lm.Shutdown(context.Background()); err != nil {
		t.Fatalf("second Shutdown err=%v", err)
	}
}

func TestLifecycle_BadDriver(t *testing.T) {
	cfg := testConfig(t)
	cfg.Modbus.Driver = "rtu"

	lm, err := NewLifecycleManager(nil, cfg, zap.NewNop(), "test")
	if err != nil {
		t.Fatalf("NewLifecycleManager err=%v", err)
	}
	if err := lm.Start(); err == nil {
		t.Fatalf("Start err=nil with unknown driver")
	}
	if lm.State() != StateError {
		t.Fatalf("state=%s, want ERROR", lm.State())
	}
	if err := lm.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown err=%v", err)
	}
}

func TestLifecycle_ShutdownTimeoutCoversInflightRead(t *testing.T) {
	lm, err := NewLifecycleManager(nil, testConfig(t), zap.NewNop(), "test")
	if err != nil {
		t.Fatalf("NewLifecycleManager err=%v", err)
	}

	transport := &stalledTransport{reading: make(chan struct{}), release: make(chan struct{})}
	lm.connection = modbus.NewConnection(transport, modbus.ConnectionOptions{}, zap.NewNop())
	sensor, err := types.NewSensorSpec("thb", 2, 0, 1, []types.FieldSpec{
		{Name: "outTemp", Scale: 0.1, DataType: types.DataTypeInt16},
	})
	if err != nil {
		t.Fatalf("NewSensorSpec err=%v", err)
	}
	lm.poller = modbus.NewPoller(lm.connection, modbus.StaticSensors{sensor}, time.Second, zap.NewNop(), nil)

	records := make(chan types.Record, 1)
	if err := lm.poller.Start(context.Background(), records); err != nil {
		t.Fatalf("poller Start err=%v", err)
	}
	select {
	case <-transport.reading:
	case <-time.After(2 * time.Second):
		t.Fatalf("poller never reached the transport")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	if err := lm.gracefulShutdown(ctx); err == nil {
		t.Fatalf("gracefulShutdown err=nil with a stalled read")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("gracefulShutdown took %s, want bounded by the context", elapsed)
	}

	close(transport.release)
	lm.poller.Stop()
}
