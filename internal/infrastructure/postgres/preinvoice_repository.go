package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/symphonia/preinvoice-api/internal/domain"
	"github.com/symphonia/preinvoice-api/internal/domain/entity"
	"github.com/symphonia/preinvoice-api/internal/domain/repository"
)

var _ repository.PreInvoiceRepository = (*PreInvoiceRepo)(nil)

// PreInvoiceRepo implementación de PreInvoiceRepository (usable con pool o tx).
// Partes, líneas, totales, KPIs, sub-blocs e historial se guardan como JSONB;
// las columnas escalares existen para filtrar, ordenar y garantizar unicidad.
type PreInvoiceRepo struct {
	q Querier
}

// NewPreInvoiceRepository construye el adaptador. Pasar pool o tx (Querier).
func NewPreInvoiceRepository(q Querier) *PreInvoiceRepo {
	return &PreInvoiceRepo{q: q}
}

const preInvoiceColumns = `
	id, number, period_year, period_month, industrial, carrier, lines, totals, kpis,
	status, payment_term_days, industrial_validation, carrier_invoice, invoice_control,
	payment, history, version, created_at, updated_at, sent_to_industrial_at`

// preInvoiceRow valores serializados de una prefactura listos para INSERT/UPDATE.
type preInvoiceRow struct {
	industrial, carrier, lines, totals, kpis           []byte
	validation, carrierInvoice, control, payment, hist []byte
	dueDate                                            *time.Time
	daysRemaining                                      *int
}

func encodePreInvoice(p *entity.PreInvoice) (*preInvoiceRow, error) {
	var (
		row preInvoiceRow
		err error
	)
	if row.industrial, err = json.Marshal(p.Industrial); err != nil {
		return nil, fmt.Errorf("serializar industrial: %w", err)
	}
	if row.carrier, err = json.Marshal(p.Carrier); err != nil {
		return nil, fmt.Errorf("serializar transportista: %w", err)
	}
	lines := p.Lines
	if lines == nil {
		lines = []entity.PreInvoiceLine{}
	}
	if row.lines, err = json.Marshal(lines); err != nil {
		return nil, fmt.Errorf("serializar líneas: %w", err)
	}
	if row.totals, err = json.Marshal(p.Totals); err != nil {
		return nil, fmt.Errorf("serializar totales: %w", err)
	}
	if row.kpis, err = json.Marshal(p.KPIs); err != nil {
		return nil, fmt.Errorf("serializar kpis: %w", err)
	}
	if row.validation, err = marshalOptional(p.IndustrialValidation); err != nil {
		return nil, fmt.Errorf("serializar validación: %w", err)
	}
	if row.carrierInvoice, err = marshalOptional(p.CarrierInvoice); err != nil {
		return nil, fmt.Errorf("serializar factura transportista: %w", err)
	}
	if row.control, err = marshalOptional(p.InvoiceControl); err != nil {
		return nil, fmt.Errorf("serializar control: %w", err)
	}
	if row.payment, err = marshalOptional(p.Payment); err != nil {
		return nil, fmt.Errorf("serializar pago: %w", err)
	}
	if row.hist, err = json.Marshal(p.History); err != nil {
		return nil, fmt.Errorf("serializar historial: %w", err)
	}
	if p.Payment != nil {
		due := p.Payment.DueDate
		days := p.Payment.DaysRemaining
		row.dueDate = &due
		row.daysRemaining = &days
	}
	return &row, nil
}

// Create inserta la prefactura con versión 1. Una violación de unicidad
// (número o clave transportista/industrial/mes) devuelve domain.ErrDuplicate.
func (r *PreInvoiceRepo) Create(ctx context.Context, p *entity.PreInvoice) error {
	if p.ID == "" {
		return domain.NewValidationError("id", "obligatorio")
	}
	row, err := encodePreInvoice(p)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO preinvoices (
			id, number, carrier_id, industrial_id, period_year, period_month,
			industrial, carrier, lines, totals, kpis, total_ttc,
			status, payment_term_days, industrial_validation, carrier_invoice, invoice_control,
			payment, due_date, days_remaining, history, version,
			created_at, updated_at, sent_to_industrial_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17,
		        $18, $19, $20, $21, 1, $22, $23, $24)`
	_, err = r.q.Exec(ctx, query,
		p.ID, p.Number, p.Carrier.ID, p.Industrial.ID, p.Period.Year, p.Period.Month,
		row.industrial, row.carrier, row.lines, row.totals, row.kpis, p.Totals.TotalTTC,
		string(p.Status), p.PaymentTermDays, row.validation, row.carrierInvoice, row.control,
		row.payment, row.dueDate, row.daysRemaining, row.hist,
		p.CreatedAt, p.UpdatedAt, p.SentToIndustrialAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("prefactura %s: %w", p.Number, domain.ErrDuplicate)
		}
		return fmt.Errorf("insert preinvoice: %w", err)
	}
	p.Version = 1
	return nil
}

// Update reescribe el registro completo con control optimista de versión.
func (r *PreInvoiceRepo) Update(ctx context.Context, p *entity.PreInvoice, expectedVersion int64) error {
	row, err := encodePreInvoice(p)
	if err != nil {
		return err
	}
	query := `
		UPDATE preinvoices
		SET industrial            = $3,
		    carrier               = $4,
		    lines                 = $5,
		    totals                = $6,
		    kpis                  = $7,
		    total_ttc             = $8,
		    status                = $9,
		    payment_term_days     = $10,
		    industrial_validation = $11,
		    carrier_invoice       = $12,
		    invoice_control       = $13,
		    payment               = $14,
		    due_date              = $15,
		    days_remaining        = $16,
		    history               = $17,
		    updated_at            = $18,
		    sent_to_industrial_at = $19,
		    version               = version + 1
		WHERE id = $1 AND version = $2`
	tag, err := r.q.Exec(ctx, query,
		p.ID, expectedVersion,
		row.industrial, row.carrier, row.lines, row.totals, row.kpis, p.Totals.TotalTTC,
		string(p.Status), p.PaymentTermDays, row.validation, row.carrierInvoice, row.control,
		row.payment, row.dueDate, row.daysRemaining, row.hist,
		p.UpdatedAt, p.SentToIndustrialAt,
	)
	if err != nil {
		return fmt.Errorf("update preinvoice: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &domain.ConcurrencyConflictError{ID: p.ID, Version: expectedVersion}
	}
	p.Version = expectedVersion + 1
	return nil
}

// GetByID obtiene una prefactura por id interno.
func (r *PreInvoiceRepo) GetByID(ctx context.Context, id string) (*entity.PreInvoice, error) {
	return r.getOne(ctx, `SELECT `+preInvoiceColumns+` FROM preinvoices WHERE id = $1`, id)
}

// GetByNumber obtiene una prefactura por número PRE-YYYYMM-NNNNN.
func (r *PreInvoiceRepo) GetByNumber(ctx context.Context, number string) (*entity.PreInvoice, error) {
	return r.getOne(ctx, `SELECT `+preInvoiceColumns+` FROM preinvoices WHERE number = $1`, number)
}

// GetByKey obtiene la prefactura de un par y un mes.
func (r *PreInvoiceRepo) GetByKey(ctx context.Context, key repository.PreInvoiceKey) (*entity.PreInvoice, error) {
	query := `SELECT ` + preInvoiceColumns + ` FROM preinvoices
		WHERE carrier_id = $1 AND industrial_id = $2 AND period_year = $3 AND period_month = $4`
	return r.getOne(ctx, query, key.CarrierID, key.IndustrialID, key.Year, key.Month)
}

func (r *PreInvoiceRepo) getOne(ctx context.Context, query string, args ...any) (*entity.PreInvoice, error) {
	p, err := scanPreInvoice(r.q.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get preinvoice: %w", err)
	}
	return p, nil
}

// List filtra y pagina; orden: periodo más reciente primero y número ascendente.
func (r *PreInvoiceRepo) List(ctx context.Context, f repository.PreInvoiceFilter) ([]*entity.PreInvoice, error) {
	query, args := buildListQuery(f)
	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list preinvoices: %w", err)
	}
	defer rows.Close()

	var list []*entity.PreInvoice
	for rows.Next() {
		p, err := scanPreInvoice(rows)
		if err != nil {
			return nil, fmt.Errorf("scan preinvoice: %w", err)
		}
		list = append(list, p)
	}
	return list, rows.Err()
}

// buildListQuery arma el SELECT con los filtros no vacíos como parámetros posicionales.
func buildListQuery(f repository.PreInvoiceFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.IndustrialID != "" {
		add("industrial_id = $%d", f.IndustrialID)
	}
	if f.CarrierID != "" {
		add("carrier_id = $%d", f.CarrierID)
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			statuses[i] = string(s)
		}
		add("status = ANY($%d)", statuses)
	}
	if f.Year > 0 {
		add("period_year = $%d", f.Year)
	}
	if f.Month > 0 {
		add("period_month = $%d", f.Month)
	}

	var b strings.Builder
	b.WriteString("SELECT " + preInvoiceColumns + " FROM preinvoices")
	if len(conds) > 0 {
		b.WriteString(" WHERE " + strings.Join(conds, " AND "))
	}
	b.WriteString(" ORDER BY period_year DESC, period_month DESC, number ASC")
	if f.Limit > 0 {
		args = append(args, f.Limit)
		fmt.Fprintf(&b, " LIMIT $%d", len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		fmt.Fprintf(&b, " OFFSET $%d", len(args))
	}
	return b.String(), args
}

// ListPaymentCountdowns registros en payment_pending ordenados por vencimiento.
func (r *PreInvoiceRepo) ListPaymentCountdowns(ctx context.Context) ([]repository.PaymentCountdown, error) {
	query := `
		SELECT id, number, due_date, COALESCE(days_remaining, 0), industrial_id, carrier_id
		FROM preinvoices
		WHERE status = 'payment_pending' AND due_date IS NOT NULL
		ORDER BY due_date, number`
	rows, err := r.q.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list payment countdowns: %w", err)
	}
	defer rows.Close()

	var list []repository.PaymentCountdown
	for rows.Next() {
		var c repository.PaymentCountdown
		if err := rows.Scan(&c.ID, &c.Number, &c.DueDate, &c.DaysRemaining, &c.IndustrialID, &c.CarrierID); err != nil {
			return nil, fmt.Errorf("scan payment countdown: %w", err)
		}
		list = append(list, c)
	}
	return list, rows.Err()
}

// UpdateDaysRemaining escribe la cuenta regresiva sin tocar versión ni estado.
func (r *PreInvoiceRepo) UpdateDaysRemaining(ctx context.Context, id string, days int) (bool, error) {
	query := `
		UPDATE preinvoices
		SET days_remaining = $2,
		    payment        = jsonb_set(payment, '{daysRemaining}', to_jsonb($2::int))
		WHERE id = $1 AND status = 'payment_pending' AND payment IS NOT NULL`
	tag, err := r.q.Exec(ctx, query, id, days)
	if err != nil {
		return false, fmt.Errorf("update days remaining: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Stats agrupa por estado y mes en SQL y consolida en memoria.
// El importe pendiente usa el importe declarado por el transportista si existe;
// el pagado usa paidAmount si se informó, si no el TTC.
func (r *PreInvoiceRepo) Stats(ctx context.Context, f repository.StatsFilter) (*repository.PreInvoiceStats, error) {
	query := `
		SELECT status, period_month, COUNT(*),
		       COALESCE(SUM(total_ttc), 0),
		       COALESCE(SUM(COALESCE((carrier_invoice->>'invoiceAmount')::numeric, total_ttc)), 0),
		       COALESCE(SUM(COALESCE((payment->>'paidAmount')::numeric, total_ttc)), 0)
		FROM preinvoices
		WHERE period_year = $1
		  AND ($2::text = '' OR industrial_id = $2)
		  AND ($3::text = '' OR carrier_id = $3)
		GROUP BY status, period_month`
	rows, err := r.q.Query(ctx, query, f.Year, f.IndustrialID, f.CarrierID)
	if err != nil {
		return nil, fmt.Errorf("preinvoice stats: %w", err)
	}
	defer rows.Close()

	stats := &repository.PreInvoiceStats{
		TotalAmount:   decimal.Zero,
		ByStatus:      make(map[entity.PreInvoiceStatus]int),
		ByMonth:       make(map[int]repository.MonthStats),
		PendingAmount: decimal.Zero,
		PaidAmount:    decimal.Zero,
	}
	for rows.Next() {
		var (
			status                  string
			month, count            int
			ttc, payable, paidTotal decimal.Decimal
		)
		if err := rows.Scan(&status, &month, &count, &ttc, &payable, &paidTotal); err != nil {
			return nil, fmt.Errorf("scan stats: %w", err)
		}
		st := entity.PreInvoiceStatus(status)
		stats.Total += count
		stats.TotalAmount = stats.TotalAmount.Add(ttc)
		stats.ByStatus[st] += count
		m := stats.ByMonth[month]
		m.Count += count
		m.Amount = m.Amount.Add(ttc)
		stats.ByMonth[month] = m
		switch st {
		case entity.StatusPaymentPending:
			stats.PendingPayments += count
			stats.PendingAmount = stats.PendingAmount.Add(payable)
		case entity.StatusPaid:
			stats.PaidAmount = stats.PaidAmount.Add(paidTotal)
		}
	}
	return stats, rows.Err()
}

// scanPreInvoice reconstruye la entidad desde una fila con preInvoiceColumns.
func scanPreInvoice(row pgx.Row) (*entity.PreInvoice, error) {
	var (
		p                                               entity.PreInvoice
		year, month                                     int
		status                                          string
		industrial, carrier, lines, totals, kpis, hist  []byte
		validation, carrierInvoice, control, paymentRaw []byte
	)
	err := row.Scan(
		&p.ID, &p.Number, &year, &month, &industrial, &carrier, &lines, &totals, &kpis,
		&status, &p.PaymentTermDays, &validation, &carrierInvoice, &control,
		&paymentRaw, &hist, &p.Version, &p.CreatedAt, &p.UpdatedAt, &p.SentToIndustrialAt,
	)
	if err != nil {
		return nil, err
	}
	if p.Period, err = entity.NewBillingPeriod(year, month); err != nil {
		return nil, err
	}
	p.Status = entity.PreInvoiceStatus(status)
	for _, f := range []struct {
		raw []byte
		dst any
	}{
		{industrial, &p.Industrial},
		{carrier, &p.Carrier},
		{lines, &p.Lines},
		{totals, &p.Totals},
		{kpis, &p.KPIs},
		{hist, &p.History},
	} {
		if err := json.Unmarshal(f.raw, f.dst); err != nil {
			return nil, fmt.Errorf("decodificar prefactura %s: %w", p.ID, err)
		}
	}
	if p.IndustrialValidation, err = unmarshalOptional[entity.IndustrialValidation](validation); err != nil {
		return nil, err
	}
	if p.CarrierInvoice, err = unmarshalOptional[entity.CarrierInvoice](carrierInvoice); err != nil {
		return nil, err
	}
	if p.InvoiceControl, err = unmarshalOptional[entity.InvoiceControl](control); err != nil {
		return nil, err
	}
	if p.Payment, err = unmarshalOptional[entity.Payment](paymentRaw); err != nil {
		return nil, err
	}
	return &p, nil
}
