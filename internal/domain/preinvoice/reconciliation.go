package preinvoice

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/symphonia/preinvoice-api/internal/domain"
)

// DefaultAutoAcceptThresholdPercent tolerancia de conciliación automática (en %).
const DefaultAutoAcceptThresholdPercent = 1

// Reconciler compara el TTC calculado por la plataforma con el importe declarado.
// Inclusive=false acepta solo si |diferencia%| < umbral; true acepta también en el límite exacto.
type Reconciler struct {
	ThresholdPercent decimal.Decimal
	Inclusive        bool
}

// NewReconciler construye el conciliador; un umbral no positivo toma el valor por defecto.
func NewReconciler(thresholdPercent decimal.Decimal, inclusive bool) Reconciler {
	if !thresholdPercent.IsPositive() {
		thresholdPercent = decimal.NewFromInt(DefaultAutoAcceptThresholdPercent)
	}
	return Reconciler{ThresholdPercent: thresholdPercent, Inclusive: inclusive}
}

// ReconciliationResult resultado de una comparación de importes.
type ReconciliationResult struct {
	PreInvoiceAmount     decimal.Decimal
	CarrierInvoiceAmount decimal.Decimal
	Difference           decimal.Decimal
	DifferencePercent    decimal.Decimal // redondeado a 2 decimales, solo informativo
	AutoAccepted         bool
	Ambiguous            bool
	Notes                string
}

// Reconcile decide aceptación o rechazo. Si el importe de la plataforma es cero
// o negativo el resultado es un rechazo forzado (Ambiguous) acompañado de un
// ReconciliationAmbiguityError informativo; el resultado sigue siendo utilizable.
func (r Reconciler) Reconcile(preInvoiceAmount, carrierInvoiceAmount decimal.Decimal) (ReconciliationResult, error) {
	res := ReconciliationResult{
		PreInvoiceAmount:     preInvoiceAmount,
		CarrierInvoiceAmount: carrierInvoiceAmount,
		Difference:           carrierInvoiceAmount.Sub(preInvoiceAmount),
	}
	if !preInvoiceAmount.IsPositive() {
		res.Ambiguous = true
		res.Notes = fmt.Sprintf("Montant préfacture %s non comparable: contrôle manuel requis", preInvoiceAmount.StringFixed(2))
		return res, &domain.ReconciliationAmbiguityError{Amount: preInvoiceAmount.StringFixed(2)}
	}

	pct := res.Difference.Div(preInvoiceAmount).Mul(hundred)
	res.DifferencePercent = pct.Round(2)
	if r.Inclusive {
		res.AutoAccepted = pct.Abs().LessThanOrEqual(r.ThresholdPercent)
	} else {
		res.AutoAccepted = pct.Abs().LessThan(r.ThresholdPercent)
	}

	if res.AutoAccepted {
		res.Notes = fmt.Sprintf("Facture acceptée automatiquement (écart %s%%)", res.DifferencePercent.StringFixed(2))
	} else {
		res.Notes = fmt.Sprintf("Écart de %s€ (%s%%) supérieur à la tolérance de %s%%. Veuillez vérifier votre facture.",
			res.Difference.StringFixed(2), res.DifferencePercent.StringFixed(2), r.ThresholdPercent.String())
	}
	return res, nil
}
