// Package metrics contadores Prometheus del ciclo de prefacturación.
package metrics

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/symphonia/preinvoice-api/internal/application/billing"
)

var _ billing.Metrics = (*Prometheus)(nil)

const namespace = "preinvoice"

// Prometheus implementa billing.Metrics sobre un registro propio.
type Prometheus struct {
	registry      *prometheus.Registry
	aggregations  *prometheus.CounterVec
	transitions   *prometheus.CounterVec
	controls      *prometheus.CounterVec
	countdowns    prometheus.Counter
	notifications *prometheus.CounterVec
}

// New registra los contadores y los colectores de runtime en un registro nuevo.
func New() *Prometheus {
	m := &Prometheus{
		registry: prometheus.NewRegistry(),
		aggregations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "aggregations_total",
			Help:      "Agregaciones por resultado (created, updated, conflict, failed).",
		}, []string{"outcome"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "Acciones del ciclo de vida por acción y resultado.",
		}, []string{"action", "ok"}),
		controls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invoice_controls_total",
			Help:      "Conciliaciones de factura transportista.",
		}, []string{"accepted", "ambiguous"}),
		countdowns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "countdown_updates_total",
			Help:      "Registros cuya cuenta regresiva de pago cambió.",
		}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notification_failures_total",
			Help:      "Notificaciones no entregadas por plantilla.",
		}, []string{"template"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.aggregations,
		m.transitions,
		m.controls,
		m.countdowns,
		m.notifications,
	)
	return m
}

func (m *Prometheus) Registry() *prometheus.Registry { return m.registry }

func (m *Prometheus) Aggregated(outcome string) {
	m.aggregations.WithLabelValues(outcome).Inc()
}

func (m *Prometheus) Transition(action string, ok bool) {
	m.transitions.WithLabelValues(action, strconv.FormatBool(ok)).Inc()
}

func (m *Prometheus) Reconciled(accepted, ambiguous bool) {
	m.controls.WithLabelValues(strconv.FormatBool(accepted), strconv.FormatBool(ambiguous)).Inc()
}

func (m *Prometheus) CountdownUpdated(n int) {
	if n > 0 {
		m.countdowns.Add(float64(n))
	}
}

func (m *Prometheus) NotificationFailed(template string) {
	m.notifications.WithLabelValues(template).Inc()
}

// Handler expone el registro en formato de exposición Prometheus.
func (m *Prometheus) Handler(log zerolog.Logger) http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorLog:      errorLogger{log: log},
		ErrorHandling: promhttp.ContinueOnError,
	})
}

// errorLogger adapta zerolog a promhttp.Logger.
type errorLogger struct {
	log zerolog.Logger
}

func (e errorLogger) Println(v ...any) {
	e.log.Error().Msg(fmt.Sprint(v...))
}
