package preinvoice

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/symphonia/preinvoice-api/internal/domain/entity"
)

// Epsilon tolerancia de redondeo para comparar importes.
var Epsilon = decimal.New(1, -2)

type block int

const (
	blockValidation block = 1 << iota
	blockInvoice
	blockControl
	blockPayment
)

// bloques exigidos por estado; disputed admite cualquier prefijo del ciclo.
var requiredBlocks = map[entity.PreInvoiceStatus]block{
	entity.StatusPending:             0,
	entity.StatusSentToIndustrial:    0,
	entity.StatusValidatedIndustrial: blockValidation,
	entity.StatusInvoiceUploaded:     blockValidation | blockInvoice,
	entity.StatusInvoiceAccepted:     blockValidation | blockInvoice | blockControl,
	entity.StatusInvoiceRejected:     blockValidation | blockInvoice | blockControl,
	entity.StatusPaymentPending:      blockValidation | blockInvoice | blockControl | blockPayment,
	entity.StatusPaid:                blockValidation | blockInvoice | blockControl | blockPayment,
}

func presentBlocks(p *entity.PreInvoice) block {
	var b block
	if p.IndustrialValidation != nil {
		b |= blockValidation
	}
	if p.CarrierInvoice != nil {
		b |= blockInvoice
	}
	if p.InvoiceControl != nil {
		b |= blockControl
	}
	if p.Payment != nil {
		b |= blockPayment
	}
	return b
}

// CheckSubBlocks verifica que los sub-bloques presentes sean exactamente los
// que corresponden a los pasos ya ocurridos según el estado.
func CheckSubBlocks(p *entity.PreInvoice) error {
	if !p.Status.Valid() {
		return fmt.Errorf("estado desconocido %q", p.Status)
	}
	have := presentBlocks(p)
	if p.Status == entity.StatusDisputed {
		// prefijo contiguo del ciclo: 0, V, V|I, V|I|C, V|I|C|P
		if have&(have+1) != 0 {
			return fmt.Errorf("prefactura %s: sub-bloques no contiguos (%04b)", p.ID, have)
		}
		return nil
	}
	want := requiredBlocks[p.Status]
	if have != want {
		return fmt.Errorf("prefactura %s en %s: sub-bloques %04b, esperados %04b", p.ID, p.Status, have, want)
	}
	if p.Status == entity.StatusPaid && p.Payment.PaidAt == nil {
		return fmt.Errorf("prefactura %s pagada sin fecha de pago", p.ID)
	}
	return nil
}

// CheckTotals verifica las identidades de totales dentro de Epsilon.
func CheckTotals(p *entity.PreInvoice) error {
	sum := decimal.Zero
	for i, l := range p.Lines {
		if !LineTotal(l).Equal(l.TotalAmount) {
			return fmt.Errorf("línea %d: total %s distinto de la suma de componentes %s", i, l.TotalAmount, LineTotal(l))
		}
		sum = sum.Add(l.TotalAmount)
	}
	if p.IndustrialValidation != nil {
		for _, a := range p.IndustrialValidation.Adjustments {
			sum = sum.Add(a.Delta())
		}
	}
	t := p.Totals
	if !sum.Equal(t.SubtotalHT) {
		return fmt.Errorf("subtotalHT %s distinto de líneas + ajustes %s", t.SubtotalHT, sum)
	}
	if t.TVAAmount.Sub(t.SubtotalHT.Mul(t.TVARate).Div(hundred)).Abs().GreaterThan(Epsilon) {
		return fmt.Errorf("tvaAmount %s inconsistente con subtotal %s y tasa %s", t.TVAAmount, t.SubtotalHT, t.TVARate)
	}
	if t.TotalTTC.Sub(t.SubtotalHT.Add(t.TVAAmount)).Abs().GreaterThan(Epsilon) {
		return fmt.Errorf("totalTTC %s distinto de subtotal + IVA", t.TotalTTC)
	}
	return nil
}

// CheckInvariants aplica CheckSubBlocks y CheckTotals; se llama antes de persistir.
func CheckInvariants(p *entity.PreInvoice) error {
	if err := CheckSubBlocks(p); err != nil {
		return err
	}
	return CheckTotals(p)
}
