package app_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/symphonia/preinvoice-api/internal/app"
	"github.com/symphonia/preinvoice-api/internal/domain/entity"
	"github.com/symphonia/preinvoice-api/pkg/config"
)

const seed = `{
  "parties": [
    {"id": "carrier-1", "name": "Transports Martin"},
    {"id": "industrial-1", "name": "Agro Industrie"}
  ],
  "facts": [
    {"orderId": "A1", "carrierId": "carrier-1", "industrialId": "industrial-1",
     "deliveryDate": "2026-02-10T14:00:00Z", "baseAmount": "300"}
  ]
}`

func TestNew_MemoriaConSemilla(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.json")
	require.NoError(t, os.WriteFile(path, []byte(seed), 0o600))
	t.Setenv("STORAGE", "memory")
	t.Setenv("SEED_FILE", path)
	cfg, err := config.Load()
	require.NoError(t, err)

	c, err := app.New(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	defer c.Close()

	period, err := entity.NewBillingPeriod(2026, 2)
	require.NoError(t, err)
	res, err := c.Aggregate.AggregatePeriod(context.Background(), period)

	require.NoError(t, err)
	assert.Equal(t, 1, res.Created, "un par activo en la semilla")
}

func TestNew_SemillaInexistente(t *testing.T) {
	t.Setenv("STORAGE", "memory")
	t.Setenv("SEED_FILE", filepath.Join(t.TempDir(), "no-existe.json"))
	cfg, err := config.Load()
	require.NoError(t, err)

	_, err = app.New(context.Background(), cfg, zerolog.Nop())

	assert.Error(t, err)
}

func TestDefaultTerms(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)

	terms := app.DefaultTerms(cfg.Billing)

	assert.Equal(t, "45", terms.WaitingHourlyRate.String())
	assert.Equal(t, 30, terms.PaymentTermDays)
}
