package billing

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/symphonia/preinvoice-api/internal/domain"
	"github.com/symphonia/preinvoice-api/internal/domain/entity"
	"github.com/symphonia/preinvoice-api/internal/domain/preinvoice"
	"github.com/symphonia/preinvoice-api/internal/domain/repository"
	"golang.org/x/sync/errgroup"
)

// Resultados de agregación (etiqueta de métrica y de log).
const (
	OutcomeCreated  = "created"
	OutcomeUpdated  = "updated"
	OutcomeConflict = "conflict"
	OutcomeFailed   = "failed"
)

// AggregateUseCase construye o recalcula la prefactura mensual de un par (transportista, industrial).
type AggregateUseCase struct {
	txRunner PreInvoiceTxRunner
	facts    TransportFactSource
	parties  PartyDirectory
	terms    ContractTermsProvider
	locker   AggregationLocker
	metrics  Metrics
	log      zerolog.Logger
	now      Clock
	workers  int
}

// NewAggregateUseCase construye el caso de uso. locker puede ser nil (proceso único).
func NewAggregateUseCase(
	txRunner PreInvoiceTxRunner,
	facts TransportFactSource,
	parties PartyDirectory,
	terms ContractTermsProvider,
	locker AggregationLocker,
	metrics Metrics,
	log zerolog.Logger,
	now Clock,
	workers int,
) *AggregateUseCase {
	if metrics == nil {
		metrics = NopMetrics{}
	}
	if workers <= 0 {
		workers = 1
	}
	return &AggregateUseCase{
		txRunner: txRunner,
		facts:    facts,
		parties:  parties,
		terms:    terms,
		locker:   locker,
		metrics:  metrics,
		log:      log,
		now:      now,
		workers:  workers,
	}
}

// AggregateResult prefactura resultante y si fue creada en esta llamada.
type AggregateResult struct {
	PreInvoice *entity.PreInvoice
	Created    bool
}

// Aggregate crea la prefactura del periodo o, si ya existe y sigue en pending,
// la recalcula en el mismo registro (mismo número). Si el registro ya salió de
// pending devuelve domain.ErrConflict sin modificarlo.
func (uc *AggregateUseCase) Aggregate(ctx context.Context, carrierID, industrialID string, period entity.BillingPeriod) (*AggregateResult, error) {
	if strings.TrimSpace(carrierID) == "" {
		return nil, domain.NewValidationError("carrierId", "obligatorio")
	}
	if strings.TrimSpace(industrialID) == "" {
		return nil, domain.NewValidationError("industrialId", "obligatorio")
	}

	// ── 1. Bloqueo distribuido por clave ──────────────────────────────────────
	if uc.locker != nil {
		unlock, err := uc.locker.Lock(ctx, fmt.Sprintf("preinvoice:aggregate:%s:%s:%s", carrierID, industrialID, period.Key()))
		if err != nil {
			return nil, fmt.Errorf("agregación: bloqueo: %w", err)
		}
		defer func() {
			if err := unlock(context.WithoutCancel(ctx)); err != nil {
				uc.log.Warn().Err(err).Str("carrier_id", carrierID).Msg("liberar bloqueo de agregación")
			}
		}()
	}

	// ── 2. Partes, condiciones y hechos (solo lectura, fuera de la tx) ────────
	carrier, err := uc.party(ctx, carrierID, "transportista")
	if err != nil {
		return nil, err
	}
	industrial, err := uc.party(ctx, industrialID, "industrial")
	if err != nil {
		return nil, err
	}
	terms, err := uc.terms.Terms(ctx, carrierID, industrialID)
	if err != nil {
		return nil, fmt.Errorf("agregación: condiciones contractuales: %w", err)
	}
	facts, err := uc.facts.CompletedTransports(ctx, carrierID, industrialID, period)
	if err != nil {
		return nil, fmt.Errorf("agregación: hechos de transporte: %w", err)
	}
	lines := buildLines(facts, carrierID, industrialID, period, terms)

	// ── 3. Crear o recalcular dentro de la transacción ────────────────────────
	key := repository.PreInvoiceKey{CarrierID: carrierID, IndustrialID: industrialID, Year: period.Year, Month: period.Month}
	var res *AggregateResult
	run := func() error {
		return uc.txRunner.RunPreInvoice(ctx, func(repo repository.PreInvoiceRepository, seq repository.SequenceAllocator) error {
			r, err := uc.upsert(ctx, repo, seq, key, period, *carrier, *industrial, terms, lines)
			res = r
			return err
		})
	}
	err = run()
	if errors.Is(err, domain.ErrDuplicate) {
		// otra réplica creó el registro entre la lectura y el insert: releer y recalcular
		err = run()
	}
	if err != nil {
		if errors.Is(err, domain.ErrConflict) {
			uc.metrics.Aggregated(OutcomeConflict)
			uc.log.Warn().Err(err).Str("carrier_id", carrierID).Str("industrial_id", industrialID).
				Str("period", period.Key()).Msg("agregación rechazada")
		} else {
			uc.metrics.Aggregated(OutcomeFailed)
		}
		return nil, err
	}

	outcome := OutcomeUpdated
	if res.Created {
		outcome = OutcomeCreated
	}
	uc.metrics.Aggregated(outcome)
	uc.log.Info().
		Str("preinvoice_id", res.PreInvoice.ID).
		Str("number", res.PreInvoice.Number).
		Str("outcome", outcome).
		Int("lines", len(res.PreInvoice.Lines)).
		Str("total_ttc", res.PreInvoice.Totals.TotalTTC.StringFixed(2)).
		Msg("prefactura agregada")
	return res, nil
}

func (uc *AggregateUseCase) upsert(
	ctx context.Context,
	repo repository.PreInvoiceRepository,
	seq repository.SequenceAllocator,
	key repository.PreInvoiceKey,
	period entity.BillingPeriod,
	carrier, industrial entity.PartySnapshot,
	terms entity.ContractTerms,
	lines []entity.PreInvoiceLine,
) (*AggregateResult, error) {
	now := uc.now()
	existing, err := repo.GetByKey(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("agregación: buscar existente: %w", err)
	}

	if existing != nil {
		if existing.Status != entity.StatusPending {
			return nil, fmt.Errorf("%w: la prefactura %s ya está en estado %s", domain.ErrConflict, existing.Number, existing.Status)
		}
		next := existing.Clone()
		next.Carrier = carrier
		next.Industrial = industrial
		next.Lines = lines
		next.PaymentTermDays = terms.PaymentTermDays
		next.Totals.TVARate = terms.TVARate
		preinvoice.Recalculate(next)
		next.UpdatedAt = now
		next.History.Append(entity.HistoryEntry{
			Date:    now,
			Action:  string(preinvoice.ActionRecomputed),
			Actor:   preinvoice.SystemActor,
			Details: fmt.Sprintf("Préfacture recalculée: %d ligne(s), %s€ TTC", len(lines), next.Totals.TotalTTC.StringFixed(2)),
		})
		if err := preinvoice.CheckInvariants(next); err != nil {
			return nil, fmt.Errorf("agregación %s: invariantes: %w", next.Number, err)
		}
		if err := repo.Update(ctx, next, existing.Version); err != nil {
			return nil, err
		}
		return &AggregateResult{PreInvoice: next}, nil
	}

	n, err := seq.Next(ctx, period.Key())
	if err != nil {
		return nil, fmt.Errorf("agregación: consecutivo: %w", err)
	}
	number, err := preinvoice.FormatNumber(period, n)
	if err != nil {
		return nil, err
	}
	p := &entity.PreInvoice{
		ID:              uuid.New().String(),
		Number:          number,
		Period:          period,
		Industrial:      industrial,
		Carrier:         carrier,
		Lines:           lines,
		Totals:          entity.Totals{TVARate: terms.TVARate},
		Status:          entity.StatusPending,
		PaymentTermDays: terms.PaymentTermDays,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	preinvoice.Recalculate(p)
	p.History.Append(entity.HistoryEntry{
		Date:    now,
		Action:  string(preinvoice.ActionCreated),
		Actor:   preinvoice.SystemActor,
		Details: fmt.Sprintf("Préfacture créée automatiquement: %d ligne(s)", len(lines)),
	})
	if err := preinvoice.CheckInvariants(p); err != nil {
		return nil, fmt.Errorf("agregación %s: invariantes: %w", p.Number, err)
	}
	if err := repo.Create(ctx, p); err != nil {
		return nil, err
	}
	return &AggregateResult{PreInvoice: p, Created: true}, nil
}

func (uc *AggregateUseCase) party(ctx context.Context, id, kind string) (*entity.PartySnapshot, error) {
	p, err := uc.parties.GetParty(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("agregación: obtener %s: %w", kind, err)
	}
	if p == nil {
		return nil, &domain.NotFoundError{Resource: kind, Key: id}
	}
	return p, nil
}

// buildLines filtra los hechos del par y del periodo (por fecha de entrega),
// descarta órdenes repetidas y ordena por fecha de entrega.
func buildLines(facts []entity.TransportFact, carrierID, industrialID string, period entity.BillingPeriod, terms entity.ContractTerms) []entity.PreInvoiceLine {
	seen := make(map[string]bool, len(facts))
	kept := make([]entity.TransportFact, 0, len(facts))
	for _, f := range facts {
		if f.CarrierID != carrierID || f.IndustrialID != industrialID {
			continue
		}
		if !period.Contains(f.DeliveryDate) || seen[f.OrderID] {
			continue
		}
		seen[f.OrderID] = true
		kept = append(kept, f)
	}
	sort.SliceStable(kept, func(i, j int) bool {
		if !kept[i].DeliveryDate.Equal(kept[j].DeliveryDate) {
			return kept[i].DeliveryDate.Before(kept[j].DeliveryDate)
		}
		return kept[i].OrderID < kept[j].OrderID
	})
	lines := make([]entity.PreInvoiceLine, 0, len(kept))
	for _, f := range kept {
		lines = append(lines, preinvoice.BuildLine(f, terms))
	}
	return lines
}

// PeriodAggregation resumen de una agregación masiva.
type PeriodAggregation struct {
	Period    entity.BillingPeriod
	Created   int
	Updated   int
	Conflicts int
	Failed    int
}

// AggregatePeriod agrega todos los pares activos del periodo. Cada par se
// procesa de forma independiente: un fallo se registra y no detiene el lote.
func (uc *AggregateUseCase) AggregatePeriod(ctx context.Context, period entity.BillingPeriod) (*PeriodAggregation, error) {
	pairs, err := uc.facts.ActivePairs(ctx, period)
	if err != nil {
		return nil, fmt.Errorf("agregación: pares activos: %w", err)
	}

	var created, updated, conflicts, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(uc.workers)
	for _, pair := range pairs {
		g.Go(func() error {
			res, err := uc.Aggregate(gctx, pair.CarrierID, pair.IndustrialID, period)
			switch {
			case errors.Is(err, domain.ErrConflict):
				conflicts.Add(1)
			case err != nil:
				failed.Add(1)
				uc.log.Error().Err(err).Str("carrier_id", pair.CarrierID).
					Str("industrial_id", pair.IndustrialID).Msg("agregación de par fallida")
			case res.Created:
				created.Add(1)
			default:
				updated.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	return &PeriodAggregation{
		Period:    period,
		Created:   int(created.Load()),
		Updated:   int(updated.Load()),
		Conflicts: int(conflicts.Load()),
		Failed:    int(failed.Load()),
	}, nil
}
