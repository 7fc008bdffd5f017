package billing_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/symphonia/preinvoice-api/internal/domain"
	"github.com/symphonia/preinvoice-api/internal/domain/entity"
	"github.com/symphonia/preinvoice-api/internal/domain/repository"
)

func TestQueryGet_PorNumeroOPorID(t *testing.T) {
	e := newEnv(t)
	p := e.aggregate(t, "carrier-1")

	byNumber, err := e.query.Get(ctx, adminActor, p.Number)
	require.NoError(t, err)
	byID, err := e.query.Get(ctx, adminActor, p.ID)
	require.NoError(t, err)

	assert.Equal(t, p.ID, byNumber.ID)
	assert.Equal(t, p.Number, byID.Number)
}

func TestQueryGet_Errores(t *testing.T) {
	e := newEnv(t)
	p := e.aggregate(t, "carrier-1")

	_, err := e.query.Get(ctx, adminActor, "PRE-202602-00099")
	var nf *domain.NotFoundError
	require.ErrorAs(t, err, &nf)

	_, err = e.query.Get(ctx, carrierActor("carrier-2"), p.Number)
	assert.True(t, errors.Is(err, domain.ErrForbidden))

	got, err := e.query.Get(ctx, financeActor, p.Number)
	require.NoError(t, err, "finanzas ve todas las prefacturas")
	assert.Equal(t, p.ID, got.ID)
}

func TestQueryList_TransportistaSoloVeLasPropias(t *testing.T) {
	e := newEnv(t)
	e.aggregate(t, "carrier-1")
	e.aggregate(t, "carrier-2")

	all, err := e.query.List(ctx, adminActor, repository.PreInvoiceFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	own, err := e.query.List(ctx, carrierActor("carrier-2"), repository.PreInvoiceFilter{CarrierID: "carrier-1"})
	require.NoError(t, err)
	require.Len(t, own, 1)
	assert.Equal(t, "carrier-2", own[0].Carrier.ID)
}

func TestQueryList_FiltroInvalido(t *testing.T) {
	e := newEnv(t)

	_, err := e.query.List(ctx, adminActor, repository.PreInvoiceFilter{Statuses: []entity.PreInvoiceStatus{"archived"}})
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))

	_, err = e.query.List(ctx, adminActor, repository.PreInvoiceFilter{Month: 13})
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))
}

func TestQueryCarrierPending_ValidadasYRechazadas(t *testing.T) {
	e := newEnv(t)
	// enero rechazada, febrero validada
	e.dir.AddFacts(fact("J1", "carrier-1", time.Date(2026, 1, 12, 9, 0, 0, 0, time.UTC), "80", "0"))
	jan, err := e.agg.Aggregate(ctx, "carrier-1", "industrial-1", period(t, 2026, 1))
	require.NoError(t, err)
	_, err = e.wf.SendToIndustrial(ctx, jan.PreInvoice.ID, adminActor)
	require.NoError(t, err)
	_, err = e.wf.Validate(ctx, jan.PreInvoice.ID, industrialActor, "", nil)
	require.NoError(t, err)
	_, err = e.wf.DeclareInvoice(ctx, jan.PreInvoice.ID, carrierActor("carrier-1"), declareInput("500", march2))
	require.NoError(t, err)
	febP := e.validated(t, "carrier-1")

	list, err := e.query.CarrierPending(ctx, carrierActor("carrier-1"), "carrier-1")

	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, febP.ID, list[0].ID, "el periodo más reciente primero")
	assert.Equal(t, entity.StatusInvoiceRejected, list[1].Status)

	_, err = e.query.CarrierPending(ctx, carrierActor("carrier-2"), "carrier-1")
	assert.True(t, errors.Is(err, domain.ErrForbidden))
}

func TestQueryIndustrialToValidate_MasAntiguaPrimero(t *testing.T) {
	e := newEnv(t)
	p1 := e.aggregate(t, "carrier-1")
	p2 := e.aggregate(t, "carrier-2")
	e.now = march2.Add(2 * time.Hour)
	_, err := e.wf.SendToIndustrial(ctx, p2.ID, adminActor)
	require.NoError(t, err)
	e.now = march2.Add(3 * time.Hour)
	_, err = e.wf.SendToIndustrial(ctx, p1.ID, adminActor)
	require.NoError(t, err)

	list, err := e.query.IndustrialToValidate(ctx, industrialActor, "industrial-1")

	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, p2.ID, list[0].ID)
	assert.Equal(t, p1.ID, list[1].ID)
}

func TestQueryStats_PorEstadoYMes(t *testing.T) {
	e := newEnv(t)
	pending := e.paymentPending(t, "carrier-1", march2)
	e.aggregate(t, "carrier-2")

	st, err := e.query.Stats(ctx, adminActor, repository.StatsFilter{Year: 2026})

	require.NoError(t, err)
	assert.Equal(t, 2, st.Total)
	assert.True(t, st.TotalAmount.Equal(dec("1368")), "768 + 600 = %s", st.TotalAmount)
	assert.Equal(t, 1, st.ByStatus[entity.StatusPaymentPending])
	assert.Equal(t, 1, st.ByStatus[entity.StatusPending])
	assert.Equal(t, 2, st.ByMonth[2].Count)
	assert.Equal(t, 1, st.PendingPayments)
	assert.True(t, st.PendingAmount.Equal(pending.PayableAmount()))
	assert.True(t, st.PaidAmount.IsZero())

	_, err = e.query.Stats(ctx, adminActor, repository.StatsFilter{})
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))

	own, err := e.query.Stats(ctx, carrierActor("carrier-2"), repository.StatsFilter{Year: 2026})
	require.NoError(t, err)
	assert.Equal(t, 1, own.Total)
}
