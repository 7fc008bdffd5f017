package entity

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// PreInvoiceStatus estado del ciclo de prefacturación transportista.
type PreInvoiceStatus string

const (
	StatusPending             PreInvoiceStatus = "pending"              // Borrador, aún recalculable
	StatusSentToIndustrial    PreInvoiceStatus = "sent_to_industrial"   // Enviada al industrial para validación
	StatusValidatedIndustrial PreInvoiceStatus = "validated_industrial" // Validada por el industrial
	StatusInvoiceUploaded     PreInvoiceStatus = "invoice_uploaded"     // Transitoria: factura declarada, conciliación en curso
	StatusInvoiceAccepted     PreInvoiceStatus = "invoice_accepted"     // Reservado; la aceptación pasa directo a payment_pending
	StatusInvoiceRejected     PreInvoiceStatus = "invoice_rejected"     // Diferencia de importe, el transportista debe redeclarar
	StatusPaymentPending      PreInvoiceStatus = "payment_pending"
	StatusPaid                PreInvoiceStatus = "paid"
	StatusDisputed            PreInvoiceStatus = "disputed"
)

// AllStatuses en orden de ciclo de vida.
var AllStatuses = []PreInvoiceStatus{
	StatusPending,
	StatusSentToIndustrial,
	StatusValidatedIndustrial,
	StatusInvoiceUploaded,
	StatusInvoiceAccepted,
	StatusInvoiceRejected,
	StatusPaymentPending,
	StatusPaid,
	StatusDisputed,
}

// Valid indica si s es uno de los nueve estados conocidos.
func (s PreInvoiceStatus) Valid() bool {
	for _, st := range AllStatuses {
		if st == s {
			return true
		}
	}
	return false
}

// IsTerminal paid y disputed son estados de reposo definitivos.
func (s PreInvoiceStatus) IsTerminal() bool {
	return s == StatusPaid || s == StatusDisputed
}

// BillingPeriod mes calendario facturado.
type BillingPeriod struct {
	Month     int       `json:"month"`
	Year      int       `json:"year"`
	StartDate time.Time `json:"startDate"`
	EndDate   time.Time `json:"endDate"`
}

// NewBillingPeriod construye el periodo [día 1 00:00, último día 23:59:59.999] en UTC.
func NewBillingPeriod(year, month int) (BillingPeriod, error) {
	if month < 1 || month > 12 {
		return BillingPeriod{}, fmt.Errorf("mes fuera de rango: %d", month)
	}
	if year < 2000 || year > 9999 {
		return BillingPeriod{}, fmt.Errorf("año fuera de rango: %d", year)
	}
	start := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0).Add(-time.Millisecond)
	return BillingPeriod{Month: month, Year: year, StartDate: start, EndDate: end}, nil
}

// PreviousPeriod devuelve el mes calendario anterior a t.
func PreviousPeriod(t time.Time) BillingPeriod {
	first := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, -1, 0)
	p, _ := NewBillingPeriod(first.Year(), int(first.Month()))
	return p
}

// Contains indica si t cae dentro del periodo (límites incluidos).
func (p BillingPeriod) Contains(t time.Time) bool {
	return !t.Before(p.StartDate) && !t.After(p.EndDate)
}

// Key devuelve YYYYMM, usado en la numeración y la secuencia mensual.
func (p BillingPeriod) Key() string {
	return fmt.Sprintf("%04d%02d", p.Year, p.Month)
}

// Label formato corto "M/YYYY" usado en exportaciones y listados.
func (p BillingPeriod) Label() string {
	return fmt.Sprintf("%d/%d", p.Month, p.Year)
}

// PartySnapshot copia de identidad y contacto del industrial o transportista
// en el momento de la agregación.
type PartySnapshot struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	SIRET string `json:"siret,omitempty"`
}

// LineKPI indicadores copiados del hecho de transporte, nunca recalculados.
type LineKPI struct {
	OnTimePickup      bool `json:"onTimePickup"`
	OnTimeDelivery    bool `json:"onTimeDelivery"`
	DocumentsComplete bool `json:"documentsComplete"`
	IncidentFree      bool `json:"incidentFree"`
}

// PreInvoiceLine una línea por transporte completado dentro del periodo.
// TotalAmount = BaseAmount + WaitingAmount + DelayPenalty + FuelSurcharge + Tolls + OtherCharges.
type PreInvoiceLine struct {
	OrderID        string          `json:"orderId"`
	OrderReference string          `json:"orderReference"`
	PickupDate     time.Time       `json:"pickupDate"`
	DeliveryDate   time.Time       `json:"deliveryDate"`
	PickupCity     string          `json:"pickupCity"`
	DeliveryCity   string          `json:"deliveryCity"`
	BaseAmount     decimal.Decimal `json:"baseAmount"`
	WaitingHours   decimal.Decimal `json:"waitingHours"`
	WaitingAmount  decimal.Decimal `json:"waitingAmount"`
	DelayHours     decimal.Decimal `json:"delayHours"`
	DelayPenalty   decimal.Decimal `json:"delayPenalty"` // con signo; negativo reduce lo adeudado al transportista
	FuelSurcharge  decimal.Decimal `json:"fuelSurcharge"`
	Tolls          decimal.Decimal `json:"tolls"`
	OtherCharges   decimal.Decimal `json:"otherCharges"`
	TotalAmount    decimal.Decimal `json:"totalAmount"`
	CMRValidated   bool            `json:"cmrValidated"`
	CMRNotes       string          `json:"cmrNotes,omitempty"`
	KPI            LineKPI         `json:"kpiData"`
}

// Totals bloque de totales. SubtotalHT incluye los deltas de ajustes del industrial.
type Totals struct {
	BaseAmount       decimal.Decimal `json:"baseAmount"`
	WaitingAmount    decimal.Decimal `json:"waitingAmount"`
	DelayPenalty     decimal.Decimal `json:"delayPenalty"`
	FuelSurcharge    decimal.Decimal `json:"fuelSurcharge"`
	Tolls            decimal.Decimal `json:"tolls"`
	OtherCharges     decimal.Decimal `json:"otherCharges"`
	AdjustmentsDelta decimal.Decimal `json:"adjustmentsDelta"`
	SubtotalHT       decimal.Decimal `json:"subtotalHT"`
	TVARate          decimal.Decimal `json:"tvaRate"`
	TVAAmount        decimal.Decimal `json:"tvaAmount"`
	TotalTTC         decimal.Decimal `json:"totalTTC"`
}

// KPISummary tasas en porcentaje entero sobre TotalOrders (100 si no hay líneas).
type KPISummary struct {
	TotalOrders           int             `json:"totalOrders"`
	OnTimePickupRate      int             `json:"onTimePickupRate"`
	OnTimeDeliveryRate    int             `json:"onTimeDeliveryRate"`
	DocumentsCompleteRate int             `json:"documentsCompleteRate"`
	IncidentFreeRate      int             `json:"incidentFreeRate"`
	AverageWaitingHours   decimal.Decimal `json:"averageWaitingHours"`
	TotalWaitingHours     decimal.Decimal `json:"totalWaitingHours"`
}

// LineAdjustment corrección de importe sobre una línea, propuesta por el industrial.
// La línea original no se reescribe; solo el delta entra en SubtotalHT.
type LineAdjustment struct {
	LineIndex      int             `json:"lineIndex"`
	OriginalAmount decimal.Decimal `json:"originalAmount"`
	AdjustedAmount decimal.Decimal `json:"adjustedAmount"`
	Reason         string          `json:"reason"`
}

// Delta diferencia que el ajuste aporta al subtotal.
func (a LineAdjustment) Delta() decimal.Decimal {
	return a.AdjustedAmount.Sub(a.OriginalAmount)
}

type IndustrialValidation struct {
	ValidatedAt time.Time        `json:"validatedAt"`
	ValidatedBy string           `json:"validatedBy"`
	Comments    string           `json:"comments,omitempty"`
	Adjustments []LineAdjustment `json:"adjustments,omitempty"`
}

// CarrierBankDetails objeto valor con las instrucciones de pago del transportista.
type CarrierBankDetails struct {
	BankName      string `json:"bankName"`
	IBAN          string `json:"iban"`
	BIC           string `json:"bic"`
	AccountHolder string `json:"accountHolder"`
}

// CarrierInvoice factura declarada por el transportista. DocumentID es opaco (almacén documental).
type CarrierInvoice struct {
	InvoiceNumber string             `json:"invoiceNumber"`
	InvoiceDate   time.Time          `json:"invoiceDate"`
	InvoiceAmount decimal.Decimal    `json:"invoiceAmount"`
	DocumentID    string             `json:"documentId"`
	UploadedAt    time.Time          `json:"uploadedAt"`
	BankDetails   CarrierBankDetails `json:"bankDetails"`
}

// InvoiceControl resultado de la conciliación; se escribe tanto si acepta como si rechaza.
type InvoiceControl struct {
	PreInvoiceAmount     decimal.Decimal `json:"preInvoiceAmount"`
	CarrierInvoiceAmount decimal.Decimal `json:"carrierInvoiceAmount"`
	Difference           decimal.Decimal `json:"difference"`
	DifferencePercent    decimal.Decimal `json:"differencePercent"`
	AutoAccepted         bool            `json:"autoAccepted"`
	Ambiguous            bool            `json:"ambiguous,omitempty"`
	ControlDate          time.Time       `json:"controlDate"`
	ControlNotes         string          `json:"controlNotes,omitempty"`
}

type Payment struct {
	DueDate          time.Time           `json:"dueDate"`
	PaymentTermDays  int                 `json:"paymentTermDays"`
	DaysRemaining    int                 `json:"daysRemaining"`
	PaidAt           *time.Time          `json:"paidAt,omitempty"`
	PaidAmount       decimal.NullDecimal `json:"paidAmount"`
	PaymentReference string              `json:"paymentReference,omitempty"`
	BankDetails      CarrierBankDetails  `json:"bankDetails"`
}

// ContractTerms condiciones contractuales aplicadas en la agregación y la conciliación.
type ContractTerms struct {
	WaitingHourlyRate   decimal.Decimal
	DelayPenaltyPerHour decimal.Decimal
	TVARate             decimal.Decimal
	PaymentTermDays     int
}

// PreInvoice raíz del agregado de prefacturación mensual (transportista, industrial, periodo).
type PreInvoice struct {
	ID              string           `json:"preInvoiceId"`
	Number          string           `json:"preInvoiceNumber"`
	Period          BillingPeriod    `json:"period"`
	Industrial      PartySnapshot    `json:"industrial"`
	Carrier         PartySnapshot    `json:"carrier"`
	Lines           []PreInvoiceLine `json:"lines"`
	Totals          Totals           `json:"totals"`
	KPIs            KPISummary       `json:"kpis"`
	Status          PreInvoiceStatus `json:"status"`
	PaymentTermDays int              `json:"paymentTermDays"`

	// Sub-bloques: presentes si y solo si ocurrió el paso correspondiente.
	IndustrialValidation *IndustrialValidation `json:"industrialValidation,omitempty"`
	CarrierInvoice       *CarrierInvoice       `json:"carrierInvoice,omitempty"`
	InvoiceControl       *InvoiceControl       `json:"invoiceControl,omitempty"`
	Payment              *Payment              `json:"payment,omitempty"`

	History            History    `json:"history"`
	Version            int64      `json:"version"`
	CreatedAt          time.Time  `json:"createdAt"`
	UpdatedAt          time.Time  `json:"updatedAt"`
	SentToIndustrialAt *time.Time `json:"sentToIndustrialAt,omitempty"`
}

// Clone copia profunda: las mutaciones se aplican sobre la copia y solo se
// persisten si la transición completa tuvo éxito.
func (p *PreInvoice) Clone() *PreInvoice {
	if p == nil {
		return nil
	}
	c := *p
	if p.Lines != nil {
		c.Lines = append(make([]PreInvoiceLine, 0, len(p.Lines)), p.Lines...)
	}
	c.History = p.History.clone()
	if p.IndustrialValidation != nil {
		v := *p.IndustrialValidation
		if adj := p.IndustrialValidation.Adjustments; adj != nil {
			v.Adjustments = append(make([]LineAdjustment, 0, len(adj)), adj...)
		}
		c.IndustrialValidation = &v
	}
	if p.CarrierInvoice != nil {
		ci := *p.CarrierInvoice
		c.CarrierInvoice = &ci
	}
	if p.InvoiceControl != nil {
		ic := *p.InvoiceControl
		c.InvoiceControl = &ic
	}
	if p.Payment != nil {
		pay := *p.Payment
		if p.Payment.PaidAt != nil {
			t := *p.Payment.PaidAt
			pay.PaidAt = &t
		}
		c.Payment = &pay
	}
	if p.SentToIndustrialAt != nil {
		t := *p.SentToIndustrialAt
		c.SentToIndustrialAt = &t
	}
	return &c
}

// PayableAmount importe a pagar: el declarado por el transportista si existe, si no el TTC calculado.
func (p *PreInvoice) PayableAmount() decimal.Decimal {
	if p.CarrierInvoice != nil {
		return p.CarrierInvoice.InvoiceAmount
	}
	return p.Totals.TotalTTC
}
