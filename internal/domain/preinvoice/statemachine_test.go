package preinvoice_test

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/symphonia/preinvoice-api/internal/domain"
	"github.com/symphonia/preinvoice-api/internal/domain/entity"
	"github.com/symphonia/preinvoice-api/internal/domain/preinvoice"
)

// ──────────────────────────────────────────────────────────────────────────────
// Ciclo completo
// ──────────────────────────────────────────────────────────────────────────────

func TestDeclareInvoice_EscenarioB_AceptaYCalculaVencimiento(t *testing.T) {
	p := validated(t)
	at := time.Date(2026, 3, 6, 10, 0, 0, 0, time.UTC)

	out, err := preinvoice.DeclareInvoice(p, declareInput("765"), "user-carrier", strictReconciler(), at)

	require.NoError(t, err)
	assert.Nil(t, out.Ambiguity)
	assert.Equal(t, entity.StatusPaymentPending, p.Status)
	require.NotNil(t, p.InvoiceControl)
	assert.True(t, p.InvoiceControl.AutoAccepted)
	require.NotNil(t, p.Payment)
	assert.Equal(t, time.Date(2026, 4, 4, 0, 0, 0, 0, time.UTC), p.Payment.DueDate, "fecha de factura + 30 días")
	assert.Equal(t, 29, p.Payment.DaysRemaining)
	assert.Equal(t, bank, p.Payment.BankDetails)
	require.NoError(t, preinvoice.CheckSubBlocks(p))

	actions := historyActions(p)
	assert.Equal(t, []string{"created", "sent_to_industrial", "validated_by_industrial", "invoice_uploaded", "invoice_accepted"}, actions)
	assertStrictlyOrdered(t, p)
}

func TestDeclareInvoice_EscenarioC_RechazaYPermiteRedeclarar(t *testing.T) {
	p := validated(t)
	at := time.Date(2026, 3, 6, 10, 0, 0, 0, time.UTC)

	_, err := preinvoice.DeclareInvoice(p, declareInput("800"), "user-carrier", strictReconciler(), at)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusInvoiceRejected, p.Status)
	require.NotNil(t, p.InvoiceControl)
	assert.False(t, p.InvoiceControl.AutoAccepted)
	assert.NotEmpty(t, p.InvoiceControl.ControlNotes)
	assert.Nil(t, p.Payment)
	require.NoError(t, preinvoice.CheckSubBlocks(p))

	_, err = preinvoice.DeclareInvoice(p, declareInput("768"), "user-carrier", strictReconciler(), at)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusPaymentPending, p.Status)
	assert.True(t, p.InvoiceControl.CarrierInvoiceAmount.Equal(dec("768")))
	assertStrictlyOrdered(t, p)
}

func TestDeclareInvoice_ImporteCeroFuerzaRechazo(t *testing.T) {
	p := validated(t)
	p.Lines = nil
	preinvoice.Recalculate(p)

	out, err := preinvoice.DeclareInvoice(p, declareInput("100"), "user-carrier", strictReconciler(), t0.Add(3*time.Hour))

	require.NoError(t, err, "la ambigüedad no es un fallo de la operación")
	assert.True(t, errors.Is(out.Ambiguity, domain.ErrReconciliationAmbiguity))
	assert.Equal(t, entity.StatusInvoiceRejected, p.Status)
	assert.True(t, p.InvoiceControl.Ambiguous)
}

func TestDeclareInvoice_ValidacionDeCampos(t *testing.T) {
	cases := map[string]func(*preinvoice.DeclareInput){
		"sin número":     func(in *preinvoice.DeclareInput) { in.InvoiceNumber = " " },
		"sin fecha":      func(in *preinvoice.DeclareInput) { in.InvoiceDate = time.Time{} },
		"importe cero":   func(in *preinvoice.DeclareInput) { in.InvoiceAmount = dec("0") },
		"tres decimales": func(in *preinvoice.DeclareInput) { in.InvoiceAmount = dec("765.125") },
		"sin documento":  func(in *preinvoice.DeclareInput) { in.DocumentID = "" },
		"sin IBAN":       func(in *preinvoice.DeclareInput) { in.BankDetails.IBAN = "" },
		"sin titular":    func(in *preinvoice.DeclareInput) { in.BankDetails.AccountHolder = "" },
		"sin banco":      func(in *preinvoice.DeclareInput) { in.BankDetails.BankName = "" },
		"sin BIC":        func(in *preinvoice.DeclareInput) { in.BankDetails.BIC = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			p := validated(t)
			before := p.Clone()
			in := declareInput("765")
			mutate(&in)

			_, err := preinvoice.DeclareInvoice(p, in, "user-carrier", strictReconciler(), t0.Add(3*time.Hour))

			var vErr *domain.ValidationError
			require.True(t, errors.As(err, &vErr), "se esperaba ValidationError, obtenido %v", err)
			assert.Equal(t, before, p, "el registro no debe cambiar")
		})
	}
}

func TestValidate_AjustesSumanDeltaSinReescribirLinea(t *testing.T) {
	p := scenarioA(t)
	require.NoError(t, preinvoice.SendToIndustrial(p, preinvoice.SystemActor, t0.Add(time.Hour)))

	err := preinvoice.Validate(p, preinvoice.ValidationInput{
		ValidatedBy: "user-industrial",
		Comments:    "Retard non justifié",
		Adjustments: []preinvoice.AdjustmentInput{{LineIndex: 1, AdjustedAmount: dec("180"), Reason: "Litige tarif"}},
	}, t0.Add(2*time.Hour))

	require.NoError(t, err)
	assert.Equal(t, entity.StatusValidatedIndustrial, p.Status)
	assert.True(t, p.Lines[1].TotalAmount.Equal(dec("200")), "la línea congelada no cambia")
	adj := p.IndustrialValidation.Adjustments[0]
	assert.True(t, adj.OriginalAmount.Equal(dec("200")))
	assert.True(t, adj.Delta().Equal(dec("-20")))
	assert.True(t, p.Totals.SubtotalHT.Equal(dec("620")))
	assert.True(t, p.Totals.TVAAmount.Equal(dec("124")))
	assert.True(t, p.Totals.TotalTTC.Equal(dec("744")))
	require.NoError(t, preinvoice.CheckTotals(p))
}

func TestValidate_AjusteInvalidoNoModifica(t *testing.T) {
	cases := []struct {
		name string
		in   preinvoice.ValidationInput
	}{
		{name: "sin validador", in: preinvoice.ValidationInput{}},
		{name: "línea inexistente", in: preinvoice.ValidationInput{
			ValidatedBy: "u",
			Adjustments: []preinvoice.AdjustmentInput{{LineIndex: 5, AdjustedAmount: dec("1"), Reason: "x"}},
		}},
		{name: "línea repetida", in: preinvoice.ValidationInput{
			ValidatedBy: "u",
			Adjustments: []preinvoice.AdjustmentInput{
				{LineIndex: 0, AdjustedAmount: dec("1"), Reason: "x"},
				{LineIndex: 0, AdjustedAmount: dec("2"), Reason: "y"},
			},
		}},
		{name: "sin motivo", in: preinvoice.ValidationInput{
			ValidatedBy: "u",
			Adjustments: []preinvoice.AdjustmentInput{{LineIndex: 0, AdjustedAmount: dec("1")}},
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := scenarioA(t)
			require.NoError(t, preinvoice.SendToIndustrial(p, preinvoice.SystemActor, t0.Add(time.Hour)))
			before := p.Clone()

			err := preinvoice.Validate(p, tc.in, t0.Add(2*time.Hour))

			assert.True(t, errors.Is(err, domain.ErrInvalidInput))
			assert.Equal(t, before, p)
		})
	}
}

func TestMarkPaid_YEstadoTerminal(t *testing.T) {
	p := validated(t)
	_, err := preinvoice.DeclareInvoice(p, declareInput("768"), "user-carrier", strictReconciler(), t0.Add(3*time.Hour))
	require.NoError(t, err)

	paidAt := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, preinvoice.MarkPaid(p, "VIR-0001", dec("768"), "user-finance", paidAt))

	assert.Equal(t, entity.StatusPaid, p.Status)
	require.NotNil(t, p.Payment.PaidAt)
	assert.Equal(t, paidAt, *p.Payment.PaidAt)
	assert.True(t, p.Payment.PaidAmount.Valid)
	assert.Equal(t, "VIR-0001", p.Payment.PaymentReference)
	require.NoError(t, preinvoice.CheckSubBlocks(p))

	err = preinvoice.Escalate(p, "trop tard", "user-carrier", paidAt)
	assert.True(t, errors.Is(err, domain.ErrInvalidTransition), "paid es terminal")
}

func TestEscalate_ConservaSubBloques(t *testing.T) {
	p := validated(t)
	require.NoError(t, preinvoice.Escalate(p, "Désaccord sur les quantités", "user-carrier", t0.Add(3*time.Hour)))

	assert.Equal(t, entity.StatusDisputed, p.Status)
	assert.NotNil(t, p.IndustrialValidation, "los sub-bloques nunca se borran")
	last, ok := p.History.Last()
	require.True(t, ok)
	assert.Equal(t, "Désaccord sur les quantités", last.Details)
	require.NoError(t, preinvoice.CheckSubBlocks(p))

	err := preinvoice.Escalate(validated(t), " ", "user-carrier", t0)
	assert.True(t, errors.Is(err, domain.ErrInvalidInput), "el motivo es obligatorio")
}

// ──────────────────────────────────────────────────────────────────────────────
// Guardas: toda combinación fuera de la tabla falla sin modificar el registro
// ──────────────────────────────────────────────────────────────────────────────

func TestTransitionGuard_TodasLasCombinaciones(t *testing.T) {
	allowed := map[preinvoice.Action][]entity.PreInvoiceStatus{
		preinvoice.ActionSendToIndustrial: {entity.StatusPending},
		preinvoice.ActionValidate:         {entity.StatusSentToIndustrial},
		preinvoice.ActionDeclareInvoice:   {entity.StatusValidatedIndustrial, entity.StatusInvoiceRejected},
		preinvoice.ActionAcceptInvoice:    {entity.StatusInvoiceUploaded},
		preinvoice.ActionRejectInvoice:    {entity.StatusInvoiceUploaded},
		preinvoice.ActionMarkPaid:         {entity.StatusPaymentPending},
		preinvoice.ActionEscalate: {
			entity.StatusPending, entity.StatusSentToIndustrial, entity.StatusValidatedIndustrial,
			entity.StatusInvoiceUploaded, entity.StatusInvoiceAccepted, entity.StatusInvoiceRejected,
			entity.StatusPaymentPending,
		},
	}

	at := t0.Add(5 * time.Hour)
	run := map[preinvoice.Action]func(*entity.PreInvoice) error{
		preinvoice.ActionSendToIndustrial: func(p *entity.PreInvoice) error {
			return preinvoice.SendToIndustrial(p, preinvoice.SystemActor, at)
		},
		preinvoice.ActionValidate: func(p *entity.PreInvoice) error {
			return preinvoice.Validate(p, preinvoice.ValidationInput{ValidatedBy: "user-industrial"}, at)
		},
		preinvoice.ActionDeclareInvoice: func(p *entity.PreInvoice) error {
			_, err := preinvoice.DeclareInvoice(p, declareInput("768"), "user-carrier", strictReconciler(), at)
			return err
		},
		preinvoice.ActionMarkPaid: func(p *entity.PreInvoice) error {
			return preinvoice.MarkPaid(p, "VIR-1", dec("768"), "user-finance", at)
		},
		preinvoice.ActionEscalate: func(p *entity.PreInvoice) error {
			return preinvoice.Escalate(p, "motif", "user", at)
		},
	}

	for _, action := range preinvoice.TransitionActions {
		for _, status := range entity.AllStatuses {
			isAllowed := false
			for _, s := range allowed[action] {
				if s == status {
					isAllowed = true
				}
			}
			_, ok := preinvoice.Target(status, action)
			assert.Equal(t, isAllowed, ok, "tabla: %s desde %s", action, status)
			if isAllowed {
				continue
			}

			fn, callable := run[action]
			if !callable {
				continue
			}
			t.Run(string(action)+"_desde_"+string(status), func(t *testing.T) {
				p := scenarioA(t)
				p.Status = status
				before := p.Clone()

				err := fn(p)

				var trErr *domain.InvalidTransitionError
				require.True(t, errors.As(err, &trErr), "se esperaba InvalidTransitionError, obtenido %v", err)
				assert.Equal(t, string(status), trErr.From)
				assert.Equal(t, before, p, "el registro debe quedar idéntico")
			})
		}
	}
}

func TestTransitionGuard_PayloadVacioNoOcultaTransicionInvalida(t *testing.T) {
	at := t0.Add(5 * time.Hour)
	cases := []struct {
		name   string
		status entity.PreInvoiceStatus
		fn     func(*entity.PreInvoice) error
	}{
		{"validar_desde_pending", entity.StatusPending, func(p *entity.PreInvoice) error {
			return preinvoice.Validate(p, preinvoice.ValidationInput{}, at)
		}},
		{"declarar_desde_pending", entity.StatusPending, func(p *entity.PreInvoice) error {
			_, err := preinvoice.DeclareInvoice(p, preinvoice.DeclareInput{}, "user-carrier", strictReconciler(), at)
			return err
		}},
		{"pagar_desde_pending", entity.StatusPending, func(p *entity.PreInvoice) error {
			return preinvoice.MarkPaid(p, "", decimal.Zero, "user-finance", at)
		}},
		{"disputar_desde_paid", entity.StatusPaid, func(p *entity.PreInvoice) error {
			return preinvoice.Escalate(p, "", "", at)
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := scenarioA(t)
			p.Status = tc.status
			before := p.Clone()

			err := tc.fn(p)

			assert.ErrorIs(t, err, domain.ErrInvalidTransition)
			assert.NotErrorIs(t, err, domain.ErrInvalidInput, "la guarda va antes que la validación del payload")
			assert.Equal(t, before, p, "el registro debe quedar idéntico")
		})
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────────────────────────────────

func historyActions(p *entity.PreInvoice) []string {
	var out []string
	for _, e := range p.History.Entries() {
		out = append(out, e.Action)
	}
	return out
}

func assertStrictlyOrdered(t *testing.T, p *entity.PreInvoice) {
	t.Helper()
	entries := p.History.Entries()
	for i := 1; i < len(entries); i++ {
		assert.True(t, entries[i].Date.After(entries[i-1].Date), "entrada %d no posterior a la %d", i, i-1)
	}
}
