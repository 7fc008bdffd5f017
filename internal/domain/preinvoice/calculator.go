package preinvoice

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/symphonia/preinvoice-api/internal/domain/entity"
)

var hundred = decimal.NewFromInt(100)

// DelayPenalty aplica la escala contractual de penalización por retraso.
// Convención de signo: la penalización se guarda en negativo y reduce el
// importe adeudado al transportista.
func DelayPenalty(delayHours, perHour decimal.Decimal) decimal.Decimal {
	if !delayHours.IsPositive() {
		return decimal.Zero
	}
	return delayHours.Mul(perHour).Round(2).Neg()
}

// WaitingAmount horas de espera × tarifa horaria contratada.
func WaitingAmount(waitingHours, hourlyRate decimal.Decimal) decimal.Decimal {
	if !waitingHours.IsPositive() {
		return decimal.Zero
	}
	return waitingHours.Mul(hourlyRate).Round(2)
}

// LineTotal suma con signo de todos los componentes de la línea.
func LineTotal(l entity.PreInvoiceLine) decimal.Decimal {
	return l.BaseAmount.
		Add(l.WaitingAmount).
		Add(l.DelayPenalty).
		Add(l.FuelSurcharge).
		Add(l.Tolls).
		Add(l.OtherCharges)
}

// BuildLine construye la línea de prefactura desde el hecho de transporte.
// Recargo, peajes y otros gastos se copian tal cual; los KPI no se recalculan.
func BuildLine(f entity.TransportFact, terms entity.ContractTerms) entity.PreInvoiceLine {
	l := entity.PreInvoiceLine{
		OrderID:        f.OrderID,
		OrderReference: f.OrderReference,
		PickupDate:     f.PickupDate,
		DeliveryDate:   f.DeliveryDate,
		PickupCity:     f.PickupCity,
		DeliveryCity:   f.DeliveryCity,
		BaseAmount:     f.BaseAmount.Round(2),
		WaitingHours:   f.WaitingHours,
		WaitingAmount:  WaitingAmount(f.WaitingHours, terms.WaitingHourlyRate),
		DelayHours:     f.DelayHours,
		DelayPenalty:   DelayPenalty(f.DelayHours, terms.DelayPenaltyPerHour),
		FuelSurcharge:  f.FuelSurcharge.Round(2),
		Tolls:          f.Tolls.Round(2),
		OtherCharges:   f.OtherCharges.Round(2),
		CMRValidated:   f.CMRValidated,
		CMRNotes:       cmrNotes(f),
		KPI:            f.KPI,
	}
	l.TotalAmount = LineTotal(l)
	return l
}

func cmrNotes(f entity.TransportFact) string {
	var notes []string
	if f.WaitingHours.IsPositive() {
		notes = append(notes, fmt.Sprintf("Attente chargement: %sh", f.WaitingHours.String()))
	}
	if f.DelayHours.IsPositive() {
		notes = append(notes, fmt.Sprintf("Retard livraison: %sh", f.DelayHours.String()))
	}
	return strings.Join(notes, "; ")
}

// Recalculate recalcula totales y KPI a partir de las líneas y de los ajustes
// del industrial, con la tasa de IVA ya guardada en Totals.TVARate.
func Recalculate(p *entity.PreInvoice) {
	t := entity.Totals{TVARate: p.Totals.TVARate}
	var (
		pickupOK, deliveryOK, docsOK, incidentFree int
		totalWaiting                               decimal.Decimal
		linesSum                                   decimal.Decimal
	)
	for _, l := range p.Lines {
		t.BaseAmount = t.BaseAmount.Add(l.BaseAmount)
		t.WaitingAmount = t.WaitingAmount.Add(l.WaitingAmount)
		t.DelayPenalty = t.DelayPenalty.Add(l.DelayPenalty)
		t.FuelSurcharge = t.FuelSurcharge.Add(l.FuelSurcharge)
		t.Tolls = t.Tolls.Add(l.Tolls)
		t.OtherCharges = t.OtherCharges.Add(l.OtherCharges)
		linesSum = linesSum.Add(l.TotalAmount)
		totalWaiting = totalWaiting.Add(l.WaitingHours)
		if l.KPI.OnTimePickup {
			pickupOK++
		}
		if l.KPI.OnTimeDelivery {
			deliveryOK++
		}
		if l.KPI.DocumentsComplete {
			docsOK++
		}
		if l.KPI.IncidentFree {
			incidentFree++
		}
	}
	if p.IndustrialValidation != nil {
		for _, adj := range p.IndustrialValidation.Adjustments {
			t.AdjustmentsDelta = t.AdjustmentsDelta.Add(adj.Delta())
		}
	}
	t.SubtotalHT = linesSum.Add(t.AdjustmentsDelta)
	t.TVAAmount = TVAAmount(t.SubtotalHT, t.TVARate)
	t.TotalTTC = t.SubtotalHT.Add(t.TVAAmount)
	p.Totals = t

	n := len(p.Lines)
	p.KPIs = entity.KPISummary{
		TotalOrders:           n,
		OnTimePickupRate:      rate(pickupOK, n),
		OnTimeDeliveryRate:    rate(deliveryOK, n),
		DocumentsCompleteRate: rate(docsOK, n),
		IncidentFreeRate:      rate(incidentFree, n),
		TotalWaitingHours:     totalWaiting,
		AverageWaitingHours:   decimal.Zero,
	}
	if n > 0 {
		p.KPIs.AverageWaitingHours = totalWaiting.Div(decimal.NewFromInt(int64(n))).Round(1)
	}
}

// TVAAmount subtotal × tasa / 100, redondeado al céntimo.
func TVAAmount(subtotal, tvaRate decimal.Decimal) decimal.Decimal {
	return subtotal.Mul(tvaRate).Div(hundred).Round(2)
}

func rate(count, total int) int {
	if total == 0 {
		return 100
	}
	return int(decimal.NewFromInt(int64(count)).Mul(hundred).
		Div(decimal.NewFromInt(int64(total))).Round(0).IntPart())
}
