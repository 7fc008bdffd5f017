package billing_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/symphonia/preinvoice-api/internal/application/billing"
	"github.com/symphonia/preinvoice-api/internal/domain/entity"
	"github.com/symphonia/preinvoice-api/internal/domain/preinvoice"
	"github.com/symphonia/preinvoice-api/internal/infrastructure/memory"
)

var (
	ctx = context.Background()

	// 2 de marzo: el mes a facturar es febrero.
	march2 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	defaultTerms = entity.ContractTerms{
		WaitingHourlyRate:   decimal.NewFromInt(20),
		DelayPenaltyPerHour: decimal.NewFromInt(25),
		TVARate:             decimal.NewFromInt(20),
		PaymentTermDays:     30,
	}

	bank = entity.CarrierBankDetails{
		BankName:      "Crédit Agricole",
		IBAN:          "FR7630006000011234567890189",
		BIC:           "AGRIFRPP",
		AccountHolder: "Transports Martin SARL",
	}

	adminActor      = entity.Actor{UserID: "admin-1", Role: entity.RoleAdmin}
	financeActor    = entity.Actor{UserID: "finance-1", Role: entity.RoleFinance}
	industrialActor = entity.Actor{UserID: "user-industrial", PartyID: "industrial-1", Role: entity.RoleIndustrial}
)

func carrierActor(carrierID string) entity.Actor {
	return entity.Actor{UserID: "user-" + carrierID, PartyID: carrierID, Role: entity.RoleCarrier}
}

func period(t *testing.T, year, month int) entity.BillingPeriod {
	t.Helper()
	p, err := entity.NewBillingPeriod(year, month)
	require.NoError(t, err)
	return p
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func fact(orderID, carrierID string, delivered time.Time, base, waiting string) entity.TransportFact {
	return entity.TransportFact{
		OrderID:        orderID,
		OrderReference: "ORD-" + orderID,
		CarrierID:      carrierID,
		IndustrialID:   "industrial-1",
		PickupCity:     "Lyon",
		DeliveryCity:   "Paris",
		PickupDate:     delivered.Add(-24 * time.Hour),
		DeliveryDate:   delivered,
		BaseAmount:     dec(base),
		WaitingHours:   dec(waiting),
		CMRValidated:   true,
		KPI:            entity.LineKPI{OnTimePickup: true, OnTimeDelivery: true, DocumentsComplete: true, IncidentFree: true},
	}
}

func feb(day int) time.Time {
	return time.Date(2026, 2, day, 14, 0, 0, 0, time.UTC)
}

// ── Notificador de prueba ─────────────────────────────────────────────────────

type recordingNotifier struct {
	mu  sync.Mutex
	got []billing.Notification
	err error
}

func (r *recordingNotifier) Notify(_ context.Context, n billing.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, n)
	return r.err
}

func (r *recordingNotifier) templates() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.got))
	for _, n := range r.got {
		out = append(out, n.TemplateType)
	}
	return out
}

func (r *recordingNotifier) find(template string) (billing.Notification, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, n := range r.got {
		if n.TemplateType == template {
			return n, true
		}
	}
	return billing.Notification{}, false
}

// ── Entorno completo sobre el almacén en memoria ──────────────────────────────

type env struct {
	now      time.Time
	store    *memory.Store
	dir      *memory.Directory
	sink     *recordingNotifier
	notifier *billing.AsyncNotifier

	agg    *billing.AggregateUseCase
	wf     *billing.WorkflowUseCase
	cd     *billing.CountdownUseCase
	query  *billing.QueryUseCase
	export *billing.SettlementExportUseCase
}

func newEnv(t *testing.T) *env {
	return newEnvWithLogger(t, zerolog.Nop())
}

func newEnvWithLogger(t *testing.T, log zerolog.Logger) *env {
	t.Helper()
	e := &env{
		now:   march2,
		store: memory.NewStore(),
		dir:   memory.NewDirectory(defaultTerms),
		sink:  &recordingNotifier{},
	}
	clock := func() time.Time { return e.now }

	e.dir.AddParty(entity.PartySnapshot{ID: "carrier-1", Name: "Transports Martin", Email: "compta@martin.fr", SIRET: "12345678900011"})
	e.dir.AddParty(entity.PartySnapshot{ID: "carrier-2", Name: "Trans Alpes", Email: "facturation@transalpes.fr"})
	e.dir.AddParty(entity.PartySnapshot{ID: "industrial-1", Name: "Agro Industrie", Email: "achats@agro.fr", SIRET: "98765432100022"})
	e.dir.AddFacts(
		// carrier-1: 100 + 2 h de espera, 200, 300 → subtotal 640, TTC 768
		fact("A1", "carrier-1", feb(3), "100", "2"),
		fact("A2", "carrier-1", feb(10), "200", "0"),
		fact("A3", "carrier-1", feb(20), "300", "0"),
		// carrier-2: 500 → TTC 600
		fact("B1", "carrier-2", feb(15), "500", "0"),
	)

	e.notifier = billing.NewAsyncNotifier(e.sink, log, nil, time.Second)
	rec := preinvoice.NewReconciler(decimal.NewFromInt(1), false)
	e.agg = billing.NewAggregateUseCase(e.store, e.dir, e.dir, e.dir, memory.NewKeyLocker(), nil, log, clock, 4)
	e.wf = billing.NewWorkflowUseCase(e.store, e.store, rec, e.notifier, nil, log, clock, 4)
	e.cd = billing.NewCountdownUseCase(e.store, e.notifier, nil, log, clock, 4, []int{5, 2})
	e.query = billing.NewQueryUseCase(e.store)
	e.export = billing.NewSettlementExportUseCase(e.store, clock)
	return e
}

func (e *env) aggregate(t *testing.T, carrierID string) *entity.PreInvoice {
	t.Helper()
	res, err := e.agg.Aggregate(ctx, carrierID, "industrial-1", period(t, 2026, 2))
	require.NoError(t, err)
	return res.PreInvoice
}

// validated agrega, envía y valida sin ajustes.
func (e *env) validated(t *testing.T, carrierID string) *entity.PreInvoice {
	t.Helper()
	p := e.aggregate(t, carrierID)
	_, err := e.wf.SendToIndustrial(ctx, p.ID, adminActor)
	require.NoError(t, err)
	p, err = e.wf.Validate(ctx, p.ID, industrialActor, "RAS", nil)
	require.NoError(t, err)
	return p
}

// paymentPending lleva la prefactura hasta payment_pending declarando exactamente el TTC.
func (e *env) paymentPending(t *testing.T, carrierID string, invoiceDate time.Time) *entity.PreInvoice {
	t.Helper()
	p := e.validated(t, carrierID)
	p, err := e.wf.DeclareInvoice(ctx, p.ID, carrierActor(carrierID), declareInput(p.Totals.TotalTTC.StringFixed(2), invoiceDate))
	require.NoError(t, err)
	require.Equal(t, entity.StatusPaymentPending, p.Status)
	return p
}

func declareInput(amount string, invoiceDate time.Time) preinvoice.DeclareInput {
	return preinvoice.DeclareInput{
		InvoiceNumber: "FAC-2026-001",
		InvoiceDate:   invoiceDate,
		InvoiceAmount: dec(amount),
		DocumentID:    "doc-123",
		BankDetails:   bank,
	}
}

var errNotifyDown = errors.New("broker caído")
