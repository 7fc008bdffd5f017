package billing_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/symphonia/preinvoice-api/internal/application/billing"
	"github.com/symphonia/preinvoice-api/internal/domain"
	"github.com/symphonia/preinvoice-api/internal/domain/entity"
	"github.com/symphonia/preinvoice-api/internal/domain/preinvoice"
	"github.com/symphonia/preinvoice-api/internal/domain/repository"
	"github.com/symphonia/preinvoice-api/internal/infrastructure/memory"
)

// ──────────────────────────────────────────────────────────────────────────────
// Aggregate
// ──────────────────────────────────────────────────────────────────────────────

func TestAggregate_CreaPrefacturaDelPeriodo(t *testing.T) {
	e := newEnv(t)

	res, err := e.agg.Aggregate(ctx, "carrier-1", "industrial-1", period(t, 2026, 2))

	require.NoError(t, err)
	assert.True(t, res.Created)
	p := res.PreInvoice
	assert.Equal(t, "PRE-202602-00001", p.Number)
	assert.Equal(t, entity.StatusPending, p.Status)
	assert.Equal(t, int64(1), p.Version)
	require.Len(t, p.Lines, 3)
	assert.Equal(t, []string{"A1", "A2", "A3"}, []string{p.Lines[0].OrderID, p.Lines[1].OrderID, p.Lines[2].OrderID})
	assert.True(t, p.Totals.SubtotalHT.Equal(dec("640")), "subtotal %s", p.Totals.SubtotalHT)
	assert.True(t, p.Totals.TVAAmount.Equal(dec("128")), "tva %s", p.Totals.TVAAmount)
	assert.True(t, p.Totals.TotalTTC.Equal(dec("768")), "ttc %s", p.Totals.TotalTTC)
	assert.Equal(t, "Transports Martin", p.Carrier.Name)
	assert.Equal(t, 30, p.PaymentTermDays)
	require.NoError(t, preinvoice.CheckTotals(p))

	stored, err := e.store.GetByNumber(ctx, "PRE-202602-00001")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, p.ID, stored.ID)
}

func TestAggregate_DescartaHechosFueraDePeriodoYDuplicados(t *testing.T) {
	e := newEnv(t)
	e.dir.AddFacts(
		fact("A2", "carrier-1", feb(11), "999", "0"), // misma orden, segunda aparición
		fact("A9", "carrier-1", time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), "50", "0"),
		fact("A0", "carrier-1", time.Date(2026, 1, 31, 23, 59, 0, 0, time.UTC), "50", "0"),
	)

	p := e.aggregate(t, "carrier-1")

	require.Len(t, p.Lines, 3)
	assert.True(t, p.Lines[1].BaseAmount.Equal(dec("200")), "se conserva la primera aparición de A2")
	assert.True(t, p.Totals.TotalTTC.Equal(dec("768")))
}

func TestAggregate_Reagregar_MismoNumeroYRegistro(t *testing.T) {
	e := newEnv(t)
	first := e.aggregate(t, "carrier-1")

	e.dir.AddFacts(fact("A4", "carrier-1", feb(25), "100", "0"))
	e.now = march2.Add(time.Hour)
	res, err := e.agg.Aggregate(ctx, "carrier-1", "industrial-1", period(t, 2026, 2))

	require.NoError(t, err)
	assert.False(t, res.Created)
	p := res.PreInvoice
	assert.Equal(t, first.ID, p.ID)
	assert.Equal(t, first.Number, p.Number)
	assert.Equal(t, int64(2), p.Version)
	assert.Len(t, p.Lines, 4)
	assert.True(t, p.Totals.TotalTTC.Equal(dec("888")), "ttc %s", p.Totals.TotalTTC)

	entries := p.History.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, string(preinvoice.ActionCreated), entries[0].Action)
	assert.Equal(t, string(preinvoice.ActionRecomputed), entries[1].Action)

	all, err := e.store.List(ctx, repository.PreInvoiceFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 1, "sigue habiendo un solo registro para el par y el mes")
}

func TestAggregate_Reagregar_SinCambiosNoAlteraTotales(t *testing.T) {
	e := newEnv(t)
	first := e.aggregate(t, "carrier-1")

	again := e.aggregate(t, "carrier-1")

	assert.Equal(t, first.Number, again.Number)
	assert.Equal(t, first.Totals, again.Totals)
	assert.Equal(t, first.Lines, again.Lines)
}

func TestAggregate_DespuesDeEnviar_ConflictoSinModificar(t *testing.T) {
	e := newEnv(t)
	p := e.aggregate(t, "carrier-1")
	sent, err := e.wf.SendToIndustrial(ctx, p.ID, adminActor)
	require.NoError(t, err)

	e.dir.AddFacts(fact("A5", "carrier-1", feb(26), "100", "0"))
	_, err = e.agg.Aggregate(ctx, "carrier-1", "industrial-1", period(t, 2026, 2))

	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrConflict))
	assert.True(t, billing.IsAggregationConflict(err))
	stored, err := e.store.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, sent, stored, "el registro enviado no se toca")
}

func TestAggregate_SinTransportes_CreaRegistroVacio(t *testing.T) {
	e := newEnv(t)
	e.dir.AddParty(entity.PartySnapshot{ID: "carrier-3", Name: "Sans Trajet"})

	res, err := e.agg.Aggregate(ctx, "carrier-3", "industrial-1", period(t, 2026, 2))

	require.NoError(t, err)
	p := res.PreInvoice
	assert.Empty(t, p.Lines)
	assert.True(t, p.Totals.TotalTTC.IsZero())
	assert.Equal(t, 0, p.KPIs.TotalOrders)
	assert.Equal(t, 100, p.KPIs.OnTimeDeliveryRate)
}

func TestAggregate_ParteDesconocida(t *testing.T) {
	e := newEnv(t)

	_, err := e.agg.Aggregate(ctx, "carrier-x", "industrial-1", period(t, 2026, 2))

	var nf *domain.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "carrier-x", nf.Key)
}

func TestAggregate_IdentificadoresObligatorios(t *testing.T) {
	e := newEnv(t)

	_, err := e.agg.Aggregate(ctx, " ", "industrial-1", period(t, 2026, 2))

	var ve *domain.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "carrierId", ve.Field)
}

func TestAggregate_ContratoEspecificoPrevaleceSobreDefecto(t *testing.T) {
	e := newEnv(t)
	terms := defaultTerms
	terms.TVARate = dec("10")
	terms.PaymentTermDays = 45
	e.dir.SetContract("carrier-1", "industrial-1", terms)

	p := e.aggregate(t, "carrier-1")

	assert.True(t, p.Totals.TotalTTC.Equal(dec("704")), "640 + 10 %% = %s", p.Totals.TotalTTC)
	assert.Equal(t, 45, p.PaymentTermDays)
}

// ── Concurrencia ──────────────────────────────────────────────────────────────

func TestAggregate_Concurrente_UnSoloRegistro(t *testing.T) {
	e := newEnv(t)
	feb26 := period(t, 2026, 2)

	var wg sync.WaitGroup
	numbers := make([]string, 10)
	errs := make([]error, 10)
	for i := range numbers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := e.agg.Aggregate(ctx, "carrier-1", "industrial-1", feb26)
			errs[i] = err
			if err == nil {
				numbers[i] = res.PreInvoice.Number
			}
		}()
	}
	wg.Wait()

	for i := range numbers {
		require.NoError(t, errs[i])
		assert.Equal(t, "PRE-202602-00001", numbers[i])
	}
	all, err := e.store.List(ctx, repository.PreInvoiceFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

// racingRunner simula otra réplica que inserta el mismo par entre la lectura y el insert.
type racingRunner struct {
	store *memory.Store
	rival *entity.PreInvoice
	calls int
}

func (r *racingRunner) RunPreInvoice(ctx context.Context, fn func(repository.PreInvoiceRepository, repository.SequenceAllocator) error) error {
	r.calls++
	if r.calls > 1 {
		return r.store.RunPreInvoice(ctx, fn)
	}
	if err := r.store.Create(ctx, r.rival); err != nil {
		return err
	}
	return r.store.RunPreInvoice(ctx, func(repo repository.PreInvoiceRepository, seq repository.SequenceAllocator) error {
		return fn(staleKeyRepo{repo}, seq)
	})
}

// staleKeyRepo no ve registros por clave (lectura anterior a la inserción rival).
type staleKeyRepo struct {
	repository.PreInvoiceRepository
}

func (staleKeyRepo) GetByKey(context.Context, repository.PreInvoiceKey) (*entity.PreInvoice, error) {
	return nil, nil
}

func TestAggregate_InsercionRival_ReintentaYRecalcula(t *testing.T) {
	e := newEnv(t)
	feb26 := period(t, 2026, 2)
	rival := &entity.PreInvoice{
		ID:         "rival",
		Number:     "PRE-202602-00042",
		Period:     feb26,
		Carrier:    entity.PartySnapshot{ID: "carrier-1"},
		Industrial: entity.PartySnapshot{ID: "industrial-1"},
		Status:     entity.StatusPending,
		CreatedAt:  march2,
		UpdatedAt:  march2,
	}
	runner := &racingRunner{store: e.store, rival: rival}
	agg := billing.NewAggregateUseCase(runner, e.dir, e.dir, e.dir, nil, nil, zerolog.Nop(), func() time.Time { return march2 }, 1)

	res, err := agg.Aggregate(ctx, "carrier-1", "industrial-1", feb26)

	require.NoError(t, err)
	assert.Equal(t, 2, runner.calls)
	assert.False(t, res.Created)
	assert.Equal(t, "rival", res.PreInvoice.ID)
	assert.Equal(t, "PRE-202602-00042", res.PreInvoice.Number)
	assert.Len(t, res.PreInvoice.Lines, 3)
}

// ── AggregatePeriod ───────────────────────────────────────────────────────────

func TestAggregatePeriod_TodosLosPares(t *testing.T) {
	e := newEnv(t)

	first, err := e.agg.AggregatePeriod(ctx, period(t, 2026, 2))
	require.NoError(t, err)
	assert.Equal(t, 2, first.Created)
	assert.Equal(t, 0, first.Failed)

	second, err := e.agg.AggregatePeriod(ctx, period(t, 2026, 2))
	require.NoError(t, err)
	assert.Equal(t, 0, second.Created)
	assert.Equal(t, 2, second.Updated)

	list, err := e.store.List(ctx, repository.PreInvoiceFilter{Year: 2026, Month: 2})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.ElementsMatch(t, []string{"PRE-202602-00001", "PRE-202602-00002"}, []string{list[0].Number, list[1].Number})
}

func TestAggregatePeriod_CuentaConflictosSinDetenerse(t *testing.T) {
	e := newEnv(t)
	p := e.aggregate(t, "carrier-1")
	_, err := e.wf.SendToIndustrial(ctx, p.ID, adminActor)
	require.NoError(t, err)

	res, err := e.agg.AggregatePeriod(ctx, period(t, 2026, 2))

	require.NoError(t, err)
	assert.Equal(t, 1, res.Conflicts)
	assert.Equal(t, 1, res.Created)
}
