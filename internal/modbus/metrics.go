package modbus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	resultOK              = "ok"
	resultSkipped         = "skipped"
	resultConnectionError = "connection_error"
	resultProtocolError   = "protocol_error"
)

// Metrics holds the collectors for the polling path. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	reads        *prometheus.CounterVec
	decodeErrors *prometheus.CounterVec
	fieldValues  *prometheus.GaugeVec
	connected    prometheus.Gauge
	backoffDelay prometheus.Gauge
	cycles       prometheus.Counter
	cycleSeconds prometheus.Histogram
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		reads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mbs_sensor_reads_total",
			Help: "Register reads per sensor by result.",
		}, []string{"sensor", "result"}),
		decodeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mbs_decode_errors_total",
			Help: "Fields omitted from a record because they could not be decoded.",
		}, []string{"sensor", "field"}),
		fieldValues: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mbs_field_value",
			Help: "Last scaled value per record field.",
		}, []string{"field"}),
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mbs_gateway_connected",
			Help: "1 when the last connect attempt succeeded.",
		}),
		backoffDelay: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mbs_backoff_delay_seconds",
			Help: "Current reconnect backoff delay.",
		}),
		cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mbs_poll_cycles_total",
			Help: "Completed poll cycles.",
		}),
		cycleSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "mbs_poll_cycle_duration_seconds",
			Help:    "Wall time of one poll cycle.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
	}

	if reg != nil {
		reg.MustRegister(m.reads, m.decodeErrors, m.fieldValues, m.connected, m.backoffDelay, m.cycles, m.cycleSeconds)
	}
	return m
}

func (m *Metrics) observeRead(sensor, result string) {
	if m == nil {
		return
	}
	m.reads.WithLabelValues(sensor, result).Inc()
}

func (m *Metrics) observeDecodeError(sensor, field string) {
	if m == nil {
		return
	}
	m.decodeErrors.WithLabelValues(sensor, field).Inc()
}

func (m *Metrics) setField(field string, v float64) {
	if m == nil {
		return
	}
	m.fieldValues.WithLabelValues(field).Set(v)
}

func (m *Metrics) setConnected(up bool, delay time.Duration) {
	if m == nil {
		return
	}
	if up {
		m.connected.Set(1)
	} else {
		m.connected.Set(0)
	}
	m.backoffDelay.Set(delay.Seconds())
}

func (m *Metrics) observeCycle(d time.Duration) {
	if m == nil {
		return
	}
	m.cycles.Inc()
	m.cycleSeconds.Observe(d.Seconds())
}
