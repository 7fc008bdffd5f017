package preinvoice_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/symphonia/preinvoice-api/internal/domain/entity"
	"github.com/symphonia/preinvoice-api/internal/domain/preinvoice"
)

var (
	t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	termsScenarioA = entity.ContractTerms{
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
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func fact(id string, base string, waiting string) entity.TransportFact {
	return entity.TransportFact{
		OrderID:        id,
		OrderReference: "ORD-" + id,
		CarrierID:      "carrier-1",
		IndustrialID:   "industrial-1",
		PickupCity:     "Lyon",
		DeliveryCity:   "Paris",
		PickupDate:     time.Date(2026, 2, 10, 8, 0, 0, 0, time.UTC),
		DeliveryDate:   time.Date(2026, 2, 11, 8, 0, 0, 0, time.UTC),
		BaseAmount:     dec(base),
		WaitingHours:   dec(waiting),
		KPI:            entity.LineKPI{OnTimePickup: true, OnTimeDelivery: true, DocumentsComplete: true, IncidentFree: true},
	}
}

// scenarioA 100/200/300 con 2 h de espera a 20/h, IVA 20 %: subtotal 640, TTC 768.
func scenarioA(t *testing.T) *entity.PreInvoice {
	t.Helper()
	period, err := entity.NewBillingPeriod(2026, 2)
	require.NoError(t, err)
	p := &entity.PreInvoice{
		ID:              "pi-1",
		Number:          "PRE-202602-00001",
		Period:          period,
		Industrial:      entity.PartySnapshot{ID: "industrial-1", Name: "Agro Industrie"},
		Carrier:         entity.PartySnapshot{ID: "carrier-1", Name: "Transports Martin"},
		Status:          entity.StatusPending,
		PaymentTermDays: termsScenarioA.PaymentTermDays,
		Totals:          entity.Totals{TVARate: termsScenarioA.TVARate},
		CreatedAt:       t0,
		UpdatedAt:       t0,
	}
	for _, f := range []entity.TransportFact{fact("1", "100", "2"), fact("2", "200", "0"), fact("3", "300", "0")} {
		p.Lines = append(p.Lines, preinvoice.BuildLine(f, termsScenarioA))
	}
	preinvoice.Recalculate(p)
	p.History.Append(entity.HistoryEntry{Date: t0, Action: string(preinvoice.ActionCreated), Actor: preinvoice.SystemActor})
	return p
}

// validated lleva el escenario A hasta validated_industrial.
func validated(t *testing.T) *entity.PreInvoice {
	t.Helper()
	p := scenarioA(t)
	require.NoError(t, preinvoice.SendToIndustrial(p, preinvoice.SystemActor, t0.Add(time.Hour)))
	require.NoError(t, preinvoice.Validate(p, preinvoice.ValidationInput{ValidatedBy: "user-industrial"}, t0.Add(2*time.Hour)))
	return p
}

func declareInput(amount string) preinvoice.DeclareInput {
	return preinvoice.DeclareInput{
		InvoiceNumber: "FAC-2026-001",
		InvoiceDate:   time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC),
		InvoiceAmount: dec(amount),
		DocumentID:    "doc-123",
		BankDetails:   bank,
	}
}

func strictReconciler() preinvoice.Reconciler {
	return preinvoice.NewReconciler(decimal.NewFromInt(1), false)
}
