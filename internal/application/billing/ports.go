package billing

import (
	"context"
	"time"

	"github.com/symphonia/preinvoice-api/internal/domain/entity"
	"github.com/symphonia/preinvoice-api/internal/domain/repository"
)

// Clock fuente de tiempo inyectable; en producción time.Now.
type Clock func() time.Time

// PreInvoiceTxRunner ejecuta fn dentro de una transacción con los repositorios de prefacturación.
// Si fn retorna error se hace rollback y ningún cambio queda persistido.
type PreInvoiceTxRunner interface {
	RunPreInvoice(ctx context.Context, fn func(
		repo repository.PreInvoiceRepository,
		seq repository.SequenceAllocator,
	) error) error
}

// TransportFactSource colaborador de solo lectura con los hechos de transportes completados.
type TransportFactSource interface {
	// CompletedTransports devuelve los transportes del par (transportista, industrial)
	// cuya fecha de entrega cae dentro del periodo.
	CompletedTransports(ctx context.Context, carrierID, industrialID string, period entity.BillingPeriod) ([]entity.TransportFact, error)

	// ActivePairs lista los pares con al menos un transporte completado en el periodo.
	ActivePairs(ctx context.Context, period entity.BillingPeriod) ([]repository.PreInvoiceKey, error)
}

// PartyDirectory resuelve identidad y contacto de industriales y transportistas.
// Devuelve (nil, nil) si el id no existe.
type PartyDirectory interface {
	GetParty(ctx context.Context, id string) (*entity.PartySnapshot, error)
}

// ContractTermsProvider condiciones contractuales vigentes para un par.
type ContractTermsProvider interface {
	Terms(ctx context.Context, carrierID, industrialID string) (entity.ContractTerms, error)
}

// AggregationLocker serializa agregaciones concurrentes de una misma clave entre procesos.
type AggregationLocker interface {
	// Lock bloquea key; el llamador debe invocar unlock al terminar.
	Lock(ctx context.Context, key string) (unlock func(context.Context) error, err error)
}

// Plantillas de notificación.
const (
	TemplateValidationRequest = "preinvoice_validation_request"
	TemplateValidated         = "preinvoice_validated"
	TemplateInvoiceAccepted   = "carrier_invoice_accepted"
	TemplateInvoiceRejected   = "carrier_invoice_rejected"
	TemplatePaymentReminder   = "payment_reminder"
	TemplatePaymentOverdue    = "payment_overdue"
	TemplatePaid              = "preinvoice_paid"
	TemplateDisputed          = "preinvoice_disputed"
)

// Notification mensaje para el servicio de notificaciones; el destinatario
// concreto lo resuelve el colaborador a partir del rol y la parte.
type Notification struct {
	PreInvoiceID     string         `json:"preInvoiceId"`
	PreInvoiceNumber string         `json:"preInvoiceNumber"`
	RecipientRole    string         `json:"recipientRole"`
	RecipientID      string         `json:"recipientId"`
	TemplateType     string         `json:"templateType"`
	Data             map[string]any `json:"data,omitempty"`
	CreatedAt        time.Time      `json:"createdAt"`
}

// Notifier colaborador de notificaciones (best-effort).
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Metrics contadores del ciclo de prefacturación. NopMetrics es válido por defecto.
type Metrics interface {
	Aggregated(outcome string)
	Transition(action string, ok bool)
	Reconciled(accepted, ambiguous bool)
	CountdownUpdated(n int)
	NotificationFailed(template string)
}

// PreInvoicePDFGenerator genera la representación PDF de una prefactura.
type PreInvoicePDFGenerator interface {
	GeneratePreInvoicePDF(ctx context.Context, p *entity.PreInvoice) ([]byte, error)
}

// NopMetrics implementación vacía de Metrics.
type NopMetrics struct{}

func (NopMetrics) Aggregated(string) {}
func (NopMetrics) Transition(string, bool) {}
func (NopMetrics) Reconciled(bool, bool) {}
func (NopMetrics) CountdownUpdated(int) {}
func (NopMetrics) NotificationFailed(string) {}
