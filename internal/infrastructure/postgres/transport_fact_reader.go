package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/symphonia/preinvoice-api/internal/application/billing"
	"github.com/symphonia/preinvoice-api/internal/domain/entity"
	"github.com/symphonia/preinvoice-api/internal/domain/repository"
)

var (
	_ billing.TransportFactSource   = (*TransportFactReader)(nil)
	_ billing.PartyDirectory        = (*PartyReader)(nil)
	_ billing.ContractTermsProvider = (*ContractTermsReader)(nil)
)

// TransportFactReader lee los transportes completados que alimentan la agregación.
type TransportFactReader struct {
	pool *pgxpool.Pool
}

func NewTransportFactReader(pool *pgxpool.Pool) *TransportFactReader {
	return &TransportFactReader{pool: pool}
}

// CompletedTransports transportes del par cuya entrega cae en el periodo, por fecha de entrega.
func (r *TransportFactReader) CompletedTransports(ctx context.Context, carrierID, industrialID string, period entity.BillingPeriod) ([]entity.TransportFact, error) {
	query := `
		SELECT order_id, order_reference, carrier_id, industrial_id, pickup_city, delivery_city,
		       pickup_date, delivery_date, base_amount, waiting_hours, delay_hours,
		       fuel_surcharge, tolls, other_charges, cmr_validated,
		       on_time_pickup, on_time_delivery, documents_complete, incident_free
		FROM transport_facts
		WHERE carrier_id = $1 AND industrial_id = $2
		  AND delivery_date >= $3 AND delivery_date <= $4
		ORDER BY delivery_date, order_id`
	rows, err := r.pool.Query(ctx, query, carrierID, industrialID, period.StartDate, period.EndDate)
	if err != nil {
		return nil, fmt.Errorf("list transport facts: %w", err)
	}
	defer rows.Close()

	var facts []entity.TransportFact
	for rows.Next() {
		var f entity.TransportFact
		if err := rows.Scan(
			&f.OrderID, &f.OrderReference, &f.CarrierID, &f.IndustrialID, &f.PickupCity, &f.DeliveryCity,
			&f.PickupDate, &f.DeliveryDate, &f.BaseAmount, &f.WaitingHours, &f.DelayHours,
			&f.FuelSurcharge, &f.Tolls, &f.OtherCharges, &f.CMRValidated,
			&f.KPI.OnTimePickup, &f.KPI.OnTimeDelivery, &f.KPI.DocumentsComplete, &f.KPI.IncidentFree,
		); err != nil {
			return nil, fmt.Errorf("scan transport fact: %w", err)
		}
		facts = append(facts, f)
	}
	return facts, rows.Err()
}

// ActivePairs pares con al menos un transporte completado en el periodo.
func (r *TransportFactReader) ActivePairs(ctx context.Context, period entity.BillingPeriod) ([]repository.PreInvoiceKey, error) {
	query := `
		SELECT DISTINCT carrier_id, industrial_id
		FROM transport_facts
		WHERE delivery_date >= $1 AND delivery_date <= $2
		ORDER BY carrier_id, industrial_id`
	rows, err := r.pool.Query(ctx, query, period.StartDate, period.EndDate)
	if err != nil {
		return nil, fmt.Errorf("list active pairs: %w", err)
	}
	defer rows.Close()

	var keys []repository.PreInvoiceKey
	for rows.Next() {
		k := repository.PreInvoiceKey{Year: period.Year, Month: period.Month}
		if err := rows.Scan(&k.CarrierID, &k.IndustrialID); err != nil {
			return nil, fmt.Errorf("scan active pair: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// PartyReader directorio de industriales y transportistas (tabla parties).
type PartyReader struct {
	pool *pgxpool.Pool
}

func NewPartyReader(pool *pgxpool.Pool) *PartyReader {
	return &PartyReader{pool: pool}
}

// GetParty devuelve (nil, nil) si el id no existe.
func (r *PartyReader) GetParty(ctx context.Context, id string) (*entity.PartySnapshot, error) {
	query := `SELECT id, name, email, COALESCE(siret, '') FROM parties WHERE id = $1`
	var p entity.PartySnapshot
	err := r.pool.QueryRow(ctx, query, id).Scan(&p.ID, &p.Name, &p.Email, &p.SIRET)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get party: %w", err)
	}
	return &p, nil
}

// ContractTermsReader condiciones por par; las columnas NULL heredan los valores por defecto.
type ContractTermsReader struct {
	pool     *pgxpool.Pool
	defaults entity.ContractTerms
}

func NewContractTermsReader(pool *pgxpool.Pool, defaults entity.ContractTerms) *ContractTermsReader {
	return &ContractTermsReader{pool: pool, defaults: defaults}
}

func (r *ContractTermsReader) Terms(ctx context.Context, carrierID, industrialID string) (entity.ContractTerms, error) {
	query := `
		SELECT waiting_hourly_rate, delay_penalty_per_hour, tva_rate, payment_term_days
		FROM transport_contracts
		WHERE carrier_id = $1 AND industrial_id = $2`
	terms := r.defaults
	var (
		waiting, penalty, tva decimal.NullDecimal
		termDays              *int
	)
	err := r.pool.QueryRow(ctx, query, carrierID, industrialID).Scan(&waiting, &penalty, &tva, &termDays)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return terms, nil
		}
		return terms, fmt.Errorf("get contract terms: %w", err)
	}
	if waiting.Valid {
		terms.WaitingHourlyRate = waiting.Decimal
	}
	if penalty.Valid {
		terms.DelayPenaltyPerHour = penalty.Decimal
	}
	if tva.Valid {
		terms.TVARate = tva.Decimal
	}
	if termDays != nil && *termDays > 0 {
		terms.PaymentTermDays = *termDays
	}
	return terms, nil
}
