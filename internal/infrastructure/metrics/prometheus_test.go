package metrics_test

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/symphonia/preinvoice-api/internal/infrastructure/metrics"
)

func TestPrometheus_ContadoresPorEtiqueta(t *testing.T) {
	m := metrics.New()

	m.Aggregated("created")
	m.Aggregated("created")
	m.Transition("upload_invoice", false)
	m.Reconciled(false, true)
	m.CountdownUpdated(3)
	m.CountdownUpdated(0)
	m.NotificationFailed("payment_overdue")

	n, err := testutil.GatherAndCount(m.Registry(),
		"preinvoice_aggregations_total",
		"preinvoice_transitions_total",
		"preinvoice_invoice_controls_total",
		"preinvoice_countdown_updates_total",
		"preinvoice_notification_failures_total",
	)
	require.NoError(t, err)
	assert.Equal(t, 5, n, "una serie por combinación de etiquetas usada")
}

func TestPrometheus_HandlerExpone(t *testing.T) {
	m := metrics.New()
	m.Aggregated("updated")

	rec := httptest.NewRecorder()
	m.Handler(zerolog.Nop()).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, string(body), `preinvoice_aggregations_total{outcome="updated"} 1`)
}
