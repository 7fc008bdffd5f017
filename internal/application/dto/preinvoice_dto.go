package dto

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/symphonia/preinvoice-api/internal/domain/entity"
)

// AggregateRequest body para POST /api/preinvoices/aggregate.
// Sin carrierId/industrialId se agregan todos los pares activos del periodo.
type AggregateRequest struct {
	CarrierID    string `json:"carrierId,omitempty"`
	IndustrialID string `json:"industrialId,omitempty"`
	Month        int    `json:"month"`
	Year         int    `json:"year"`
}

// PeriodRequest body opcional para POST /api/preinvoices/send-monthly.
type PeriodRequest struct {
	Month int `json:"month,omitempty"`
	Year  int `json:"year,omitempty"`
}

// AdjustmentRequest ajuste de una línea propuesto por el industrial.
type AdjustmentRequest struct {
	LineIndex      int             `json:"lineIndex"`
	AdjustedAmount decimal.Decimal `json:"adjustedAmount"`
	Reason         string          `json:"reason"`
}

// ValidateRequest body para POST /api/preinvoices/:id/validate.
type ValidateRequest struct {
	Comments    string              `json:"comments,omitempty"`
	Adjustments []AdjustmentRequest `json:"adjustments,omitempty"`
}

// BankDetailsRequest coordenadas bancarias del transportista.
type BankDetailsRequest struct {
	BankName      string `json:"bankName"`
	IBAN          string `json:"iban"`
	BIC           string `json:"bic"`
	AccountHolder string `json:"accountHolder"`
}

// UploadInvoiceRequest body para POST /api/preinvoices/:id/upload-invoice.
// InvoiceDate en formato YYYY-MM-DD.
type UploadInvoiceRequest struct {
	InvoiceNumber string             `json:"invoiceNumber"`
	InvoiceDate   string             `json:"invoiceDate"`
	InvoiceAmount decimal.Decimal    `json:"invoiceAmount"`
	DocumentID    string             `json:"documentId"`
	BankDetails   BankDetailsRequest `json:"bankDetails"`
}

// MarkPaidRequest body para POST /api/preinvoices/:id/mark-paid.
type MarkPaidRequest struct {
	PaymentReference string          `json:"paymentReference"`
	PaidAmount       decimal.Decimal `json:"paidAmount"`
}

// DisputeRequest body para POST /api/preinvoices/:id/dispute.
type DisputeRequest struct {
	Reason string `json:"reason"`
}

// PreInvoiceSummary fila de los listados y listas de trabajo.
type PreInvoiceSummary struct {
	ID             string          `json:"preInvoiceId"`
	Number         string          `json:"preInvoiceNumber"`
	Period         string          `json:"period"`
	CarrierID      string          `json:"carrierId"`
	CarrierName    string          `json:"carrierName"`
	IndustrialID   string          `json:"industrialId"`
	IndustrialName string          `json:"industrialName"`
	Status         string          `json:"status"`
	TotalOrders    int             `json:"totalOrders"`
	TotalTTC       decimal.Decimal `json:"totalTTC"`
	DueDate        *time.Time      `json:"dueDate,omitempty"`
	DaysRemaining  *int            `json:"daysRemaining,omitempty"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// PreInvoiceListResponse listado paginado.
type PreInvoiceListResponse struct {
	Items []PreInvoiceSummary `json:"items"`
	Page  PageResponse        `json:"page"`
}

// AggregateResponse resultado de agregar un par.
type AggregateResponse struct {
	PreInvoice *entity.PreInvoice `json:"preInvoice"`
	Created    bool               `json:"created"`
}

// PeriodAggregationResponse resultado de agregar todos los pares del periodo.
type PeriodAggregationResponse struct {
	Period    string `json:"period"`
	Created   int    `json:"created"`
	Updated   int    `json:"updated"`
	Conflicts int    `json:"conflicts"`
	Failed    int    `json:"failed"`
}

// CountdownResponse resultado de la cuenta regresiva.
type CountdownResponse struct {
	Updated int `json:"updated"`
}

// ToPreInvoiceSummary convierte una prefactura en fila de listado.
func ToPreInvoiceSummary(p *entity.PreInvoice) PreInvoiceSummary {
	s := PreInvoiceSummary{
		ID:             p.ID,
		Number:         p.Number,
		Period:         p.Period.Label(),
		CarrierID:      p.Carrier.ID,
		CarrierName:    p.Carrier.Name,
		IndustrialID:   p.Industrial.ID,
		IndustrialName: p.Industrial.Name,
		Status:         string(p.Status),
		TotalOrders:    p.KPIs.TotalOrders,
		TotalTTC:       p.Totals.TotalTTC,
		UpdatedAt:      p.UpdatedAt,
	}
	if p.Payment != nil {
		due := p.Payment.DueDate
		days := p.Payment.DaysRemaining
		s.DueDate = &due
		s.DaysRemaining = &days
	}
	return s
}

// ToPreInvoiceSummaries convierte un listado.
func ToPreInvoiceSummaries(list []*entity.PreInvoice) []PreInvoiceSummary {
	out := make([]PreInvoiceSummary, 0, len(list))
	for _, p := range list {
		out = append(out, ToPreInvoiceSummary(p))
	}
	return out
}
