// Package metrics exposes Prometheus collectors for the reminder daemon.
// All methods are safe on a nil *Metrics.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vthunder/chapelotas/internal/logging"
)

// Metrics holds the daemon's collectors
type Metrics struct {
	registry *prometheus.Registry

	reminders     prometheus.Counter
	actions       *prometheus.CounterVec
	staleBatches  prometheus.Counter
	alarmsArmed   *prometheus.CounterVec
	alarmFailures *prometheus.CounterVec
	responses     *prometheus.CounterVec
	degraded      prometheus.Gauge
	passDuration  prometheus.Histogram
}

// New builds collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		reminders: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chapelotas", Subsystem: "reminder",
			Name: "dispatched_total", Help: "Reminders sent by the reminder engine.",
		}),
		actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chapelotas", Subsystem: "agenda",
			Name: "actions_total", Help: "Agenda actions completed, by kind and outcome.",
		}, []string{"kind", "outcome"}),
		staleBatches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chapelotas", Subsystem: "agenda",
			Name: "stale_batches_total", Help: "Backlogs of stale actions collapsed into one summary.",
		}),
		alarmsArmed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chapelotas", Subsystem: "wakeup",
			Name: "alarms_armed_total", Help: "Exact alarms armed, by purpose.",
		}, []string{"purpose"}),
		alarmFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chapelotas", Subsystem: "wakeup",
			Name: "alarm_failures_total", Help: "Failed attempts to arm an exact alarm, by purpose.",
		}, []string{"purpose"}),
		responses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chapelotas", Subsystem: "notification",
			Name: "responses_total", Help: "User responses to notifications, by action.",
		}, []string{"action"}),
		degraded: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "chapelotas", Subsystem: "wakeup",
			Name: "degraded", Help: "1 while exact alarms are unavailable and only heartbeats run.",
		}),
		passDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "chapelotas", Subsystem: "monkey",
			Name: "pass_duration_seconds", Help: "Duration of a monitoring pass.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(m.reminders, m.actions, m.staleBatches, m.alarmsArmed,
		m.alarmFailures, m.responses, m.degraded, m.passDuration)
	return m
}

func (m *Metrics) ReminderDispatched() {
	if m != nil {
		m.reminders.Inc()
	}
}

func (m *Metrics) ActionCompleted(kind, outcome string) {
	if m != nil {
		m.actions.WithLabelValues(kind, outcome).Inc()
	}
}

func (m *Metrics) StaleBatch() {
	if m != nil {
		m.staleBatches.Inc()
	}
}

func (m *Metrics) AlarmArmed(purpose string) {
	if m != nil {
		m.alarmsArmed.WithLabelValues(purpose).Inc()
	}
}

func (m *Metrics) AlarmFailed(purpose string) {
	if m != nil {
		m.alarmFailures.WithLabelValues(purpose).Inc()
	}
}

func (m *Metrics) UserResponse(action string) {
	if m != nil {
		m.responses.WithLabelValues(action).Inc()
	}
}

func (m *Metrics) SetDegraded(on bool) {
	if m == nil {
		return
	}
	if on {
		m.degraded.Set(1)
	} else {
		m.degraded.Set(0)
	}
}

func (m *Metrics) ObservePass(d time.Duration) {
	if m != nil {
		m.passDuration.Observe(d.Seconds())
	}
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logging.Info("metrics", "serving on %s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
