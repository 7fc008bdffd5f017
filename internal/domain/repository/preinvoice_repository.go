package repository

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/symphonia/preinvoice-api/internal/domain/entity"
)

// PreInvoiceFilter criterios de listado; los campos vacíos no filtran.
type PreInvoiceFilter struct {
	IndustrialID string
	CarrierID    string
	Statuses     []entity.PreInvoiceStatus
	Month        int
	Year         int
	Limit        int
	Offset       int
}

// PreInvoiceKey clave natural de una prefactura: un registro por (transportista, industrial, mes).
type PreInvoiceKey struct {
	CarrierID    string
	IndustrialID string
	Year         int
	Month        int
}

// MonthStats conteo e importe de un mes.
type MonthStats struct {
	Count  int             `json:"count"`
	Amount decimal.Decimal `json:"amount"`
}

// PreInvoiceStats estadísticas agregadas por año.
type PreInvoiceStats struct {
	Total           int                             `json:"total"`
	TotalAmount     decimal.Decimal                 `json:"totalAmount"`
	ByStatus        map[entity.PreInvoiceStatus]int `json:"byStatus"`
	ByMonth         map[int]MonthStats              `json:"byMonth"`
	PendingPayments int                             `json:"pendingPayments"`
	PendingAmount   decimal.Decimal                 `json:"pendingAmount"`
	PaidAmount      decimal.Decimal                 `json:"paidAmount"`
}

// StatsFilter alcance de las estadísticas.
type StatsFilter struct {
	Year         int
	IndustrialID string
	CarrierID    string
}

// PaymentCountdown datos mínimos que necesita la cuenta regresiva de pago.
type PaymentCountdown struct {
	ID            string
	Number        string
	DueDate       time.Time
	DaysRemaining int
	IndustrialID  string
	CarrierID     string
}

// PreInvoiceRepository define el puerto de persistencia de prefacturas.
// Los getters devuelven (nil, nil) si el registro no existe.
type PreInvoiceRepository interface {
	Create(ctx context.Context, p *entity.PreInvoice) error

	// Update escribe el registro completo solo si la versión almacenada es expectedVersion;
	// si no, devuelve un *domain.ConcurrencyConflictError. Incrementa p.Version.
	Update(ctx context.Context, p *entity.PreInvoice, expectedVersion int64) error

	GetByID(ctx context.Context, id string) (*entity.PreInvoice, error)
	GetByNumber(ctx context.Context, number string) (*entity.PreInvoice, error)
	GetByKey(ctx context.Context, key PreInvoiceKey) (*entity.PreInvoice, error)
	List(ctx context.Context, f PreInvoiceFilter) ([]*entity.PreInvoice, error)

	// ListPaymentCountdowns devuelve los registros en payment_pending con su vencimiento.
	ListPaymentCountdowns(ctx context.Context) ([]PaymentCountdown, error)

	// UpdateDaysRemaining escribe solo days_remaining, sin tocar versión ni estado.
	// Devuelve false si el registro ya no está en payment_pending.
	UpdateDaysRemaining(ctx context.Context, id string, days int) (bool, error)

	Stats(ctx context.Context, f StatsFilter) (*PreInvoiceStats, error)
}

// SequenceAllocator reserva consecutivos mensuales de forma atómica.
type SequenceAllocator interface {
	// Next devuelve el siguiente valor para yearMonth (YYYYMM); nunca repite un valor.
	Next(ctx context.Context, yearMonth string) (int64, error)
}
