// Package metrics is a handler that exports Prometheus metrics.
package metrics

import (
	"github.com/ooni/tlssock/model"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "tlssock"
	subsystem = "socket"
)

// Use buckets ranging from 5 ms to 30 seconds.
var latencyBuckets = []float64{0.005, 0.025, 0.1, 0.5, 2.5, 10, 30}

// Handler is a handler that updates Prometheus metrics.
type Handler struct {
	bytesReceived prometheus.Counter
	bytesSent     prometheus.Counter
	handshakes    *prometheus.CounterVec
	latencies     *prometheus.HistogramVec
	verifications *prometheus.CounterVec
}

// NewHandler creates the metrics and registers them with reg.
func NewHandler(reg prometheus.Registerer) (*Handler, error) {
	h := &Handler{
		bytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "received_bytes_total",
			Help:      "Decrypted application bytes returned by Receive",
		}),
		bytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "sent_bytes_total",
			Help:      "Application bytes accepted by Send",
		}),
		handshakes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "handshakes_total",
			Help:      "Count of TLS handshakes, labeled by role and result (success or failure)",
		}, []string{"role", "result"}),
		latencies: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "handshake_duration_seconds",
			Help:      "Latency of TLS handshakes in seconds",
			Buckets:   latencyBuckets,
		}, []string{"role"}),
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "verifications_total",
			Help:      "Count of peer verifications, labeled by verify code and outcome (pass, fail or skip)",
		}, []string{"code", "outcome"}),
	}
	for _, c := range []prometheus.Collector{
		h.bytesReceived, h.bytesSent, h.handshakes, h.latencies, h.verifications,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return h, nil
}

// OnMeasurement updates the metrics
func (h *Handler) OnMeasurement(m model.Measurement) {
	if m.TLSHandshakeDone != nil {
		result := "success"
		if m.TLSHandshakeDone.Error != nil {
			result = "failure"
		}
		h.handshakes.WithLabelValues(m.TLSHandshakeDone.Role, result).Inc()
		h.latencies.WithLabelValues(m.TLSHandshakeDone.Role).Observe(
			m.TLSHandshakeDone.SyscallDuration.Seconds())
	}
	if m.Read != nil {
		h.bytesReceived.Add(float64(m.Read.NumBytes))
	}
	if m.Write != nil {
		h.bytesSent.Add(float64(m.Write.NumBytes))
	}
	if m.Verify != nil {
		outcome := "pass"
		if m.Verify.Skipped {
			outcome = "skip"
		} else if m.Verify.Error != nil {
			outcome = "fail"
		}
		h.verifications.WithLabelValues(m.Verify.Code.String(), outcome).Inc()
	}
}
