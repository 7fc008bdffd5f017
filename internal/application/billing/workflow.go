package billing

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/symphonia/preinvoice-api/internal/domain"
	"github.com/symphonia/preinvoice-api/internal/domain/entity"
	"github.com/symphonia/preinvoice-api/internal/domain/preinvoice"
	"github.com/symphonia/preinvoice-api/internal/domain/repository"
	"golang.org/x/sync/errgroup"
)

// WorkflowUseCase aplica las transiciones del ciclo de prefacturación.
// Cada acción lee, valida y escribe el registro completo en una sola transacción
// con control de versión optimista.
type WorkflowUseCase struct {
	txRunner   PreInvoiceTxRunner
	repo       repository.PreInvoiceRepository
	reconciler preinvoice.Reconciler
	notifier   *AsyncNotifier
	metrics    Metrics
	log        zerolog.Logger
	now        Clock
	workers    int
}

// NewWorkflowUseCase construye el caso de uso. notifier puede ser nil.
func NewWorkflowUseCase(
	txRunner PreInvoiceTxRunner,
	repo repository.PreInvoiceRepository,
	reconciler preinvoice.Reconciler,
	notifier *AsyncNotifier,
	metrics Metrics,
	log zerolog.Logger,
	now Clock,
	workers int,
) *WorkflowUseCase {
	if metrics == nil {
		metrics = NopMetrics{}
	}
	if workers <= 0 {
		workers = 1
	}
	return &WorkflowUseCase{
		txRunner:   txRunner,
		repo:       repo,
		reconciler: reconciler,
		notifier:   notifier,
		metrics:    metrics,
		log:        log,
		now:        now,
		workers:    workers,
	}
}

// mutate carga el registro, aplica fn sobre una copia y la persiste con la versión leída.
// Si fn falla no se escribe nada.
func (uc *WorkflowUseCase) mutate(
	ctx context.Context,
	id string,
	action preinvoice.Action,
	actor entity.Actor,
	fn func(p *entity.PreInvoice, at time.Time) error,
) (*entity.PreInvoice, error) {
	var out *entity.PreInvoice
	err := uc.txRunner.RunPreInvoice(ctx, func(repo repository.PreInvoiceRepository, _ repository.SequenceAllocator) error {
		current, err := repo.GetByID(ctx, id)
		if err != nil {
			return fmt.Errorf("obtener prefactura: %w", err)
		}
		if current == nil {
			return &domain.NotFoundError{Resource: "prefactura", Key: id}
		}
		if !actor.CanAccess(current) {
			return domain.ErrForbidden
		}
		next := current.Clone()
		if err := fn(next, uc.now()); err != nil {
			return err
		}
		if err := preinvoice.CheckInvariants(next); err != nil {
			return fmt.Errorf("prefactura %s: invariantes: %w", id, err)
		}
		if err := repo.Update(ctx, next, current.Version); err != nil {
			return err
		}
		out = next
		return nil
	})

	uc.metrics.Transition(string(action), err == nil)
	var ev *zerolog.Event
	switch {
	case err == nil:
		ev = uc.log.Info()
	case domain.IsBusinessError(err):
		ev = uc.log.Warn().Err(err)
	default:
		ev = uc.log.Error().Err(err)
	}
	ev = ev.Str("preinvoice_id", id).Str("action", string(action)).Str("actor", actor.UserID)
	if out != nil {
		ev = ev.Str("number", out.Number).Str("status", string(out.Status))
	}
	ev.Msg("transición de prefactura")
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (uc *WorkflowUseCase) notify(p *entity.PreInvoice, role, recipientID, template string, data map[string]any) {
	uc.notifier.Send(Notification{
		PreInvoiceID:     p.ID,
		PreInvoiceNumber: p.Number,
		RecipientRole:    role,
		RecipientID:      recipientID,
		TemplateType:     template,
		Data:             data,
		CreatedAt:        uc.now(),
	})
}

// SendToIndustrial pending → sent_to_industrial y solicita la validación al industrial.
func (uc *WorkflowUseCase) SendToIndustrial(ctx context.Context, id string, actor entity.Actor) (*entity.PreInvoice, error) {
	p, err := uc.mutate(ctx, id, preinvoice.ActionSendToIndustrial, actor, func(p *entity.PreInvoice, at time.Time) error {
		return preinvoice.SendToIndustrial(p, actor.UserID, at)
	})
	if err != nil {
		return nil, err
	}
	uc.notify(p, entity.RoleIndustrial, p.Industrial.ID, TemplateValidationRequest, map[string]any{
		"carrierName": p.Carrier.Name,
		"totalTTC":    p.Totals.TotalTTC.StringFixed(2),
		"lines":       len(p.Lines),
		"kpis":        p.KPIs,
	})
	return p, nil
}

// SendMonthlyResult resumen del envío mensual.
type SendMonthlyResult struct {
	Period entity.BillingPeriod `json:"period"`
	Sent   int                  `json:"sent"`
	Failed int                  `json:"failed"`
}

// SendMonthly envía al industrial todas las prefacturas pending del periodo
// (por defecto el mes anterior). Cada registro se procesa por separado.
func (uc *WorkflowUseCase) SendMonthly(ctx context.Context, period *entity.BillingPeriod) (*SendMonthlyResult, error) {
	target := entity.PreviousPeriod(uc.now())
	if period != nil {
		target = *period
	}
	pending, err := uc.repo.List(ctx, repository.PreInvoiceFilter{
		Statuses: []entity.PreInvoiceStatus{entity.StatusPending},
		Month:    target.Month,
		Year:     target.Year,
	})
	if err != nil {
		return nil, fmt.Errorf("envío mensual: listar pendientes: %w", err)
	}

	var sent, failed atomic.Int64
	g := new(errgroup.Group)
	g.SetLimit(uc.workers)
	for _, p := range pending {
		g.Go(func() error {
			if _, err := uc.SendToIndustrial(ctx, p.ID, entity.SystemActor); err != nil {
				failed.Add(1)
				return nil
			}
			sent.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	res := &SendMonthlyResult{Period: target, Sent: int(sent.Load()), Failed: int(failed.Load())}
	uc.log.Info().Str("period", target.Label()).Int("sent", res.Sent).Int("failed", res.Failed).
		Msg("prefacturas enviadas a industriales")
	return res, nil
}

// Validate registra la validación del industrial; el validador es el usuario actor.
func (uc *WorkflowUseCase) Validate(ctx context.Context, id string, actor entity.Actor, comments string, adjustments []preinvoice.AdjustmentInput) (*entity.PreInvoice, error) {
	p, err := uc.mutate(ctx, id, preinvoice.ActionValidate, actor, func(p *entity.PreInvoice, at time.Time) error {
		return preinvoice.Validate(p, preinvoice.ValidationInput{
			ValidatedBy: actor.UserID,
			Comments:    comments,
			Adjustments: adjustments,
		}, at)
	})
	if err != nil {
		return nil, err
	}
	uc.notify(p, entity.RoleCarrier, p.Carrier.ID, TemplateValidated, map[string]any{
		"industrialName": p.Industrial.Name,
		"totalTTC":       p.Totals.TotalTTC.StringFixed(2),
		"adjustments":    len(p.IndustrialValidation.Adjustments),
	})
	return p, nil
}

// DeclareInvoice registra la factura del transportista y concilia de inmediato.
// Una ambigüedad de conciliación (importe de plataforma no positivo) no es un
// error de la operación: el registro queda en invoice_rejected.
func (uc *WorkflowUseCase) DeclareInvoice(ctx context.Context, id string, actor entity.Actor, in preinvoice.DeclareInput) (*entity.PreInvoice, error) {
	var outcome preinvoice.DeclareOutcome
	p, err := uc.mutate(ctx, id, preinvoice.ActionDeclareInvoice, actor, func(p *entity.PreInvoice, at time.Time) error {
		out, err := preinvoice.DeclareInvoice(p, in, actor.UserID, uc.reconciler, at)
		outcome = out
		return err
	})
	if err != nil {
		return nil, err
	}

	res := outcome.Result
	uc.metrics.Reconciled(res.AutoAccepted, res.Ambiguous)
	if outcome.Ambiguity != nil {
		uc.log.Warn().Err(outcome.Ambiguity).Str("preinvoice_id", p.ID).Msg("conciliación forzada a rechazo")
	}

	template := TemplateInvoiceRejected
	if res.AutoAccepted {
		template = TemplateInvoiceAccepted
	}
	data := map[string]any{
		"invoiceNumber":     in.InvoiceNumber,
		"difference":        res.Difference.StringFixed(2),
		"differencePercent": res.DifferencePercent.StringFixed(2),
		"controlNotes":      res.Notes,
	}
	if p.Payment != nil {
		data["dueDate"] = p.Payment.DueDate
	}
	uc.notify(p, entity.RoleCarrier, p.Carrier.ID, template, data)
	return p, nil
}

// MarkPaid payment_pending → paid.
func (uc *WorkflowUseCase) MarkPaid(ctx context.Context, id string, actor entity.Actor, reference string, amount decimal.Decimal) (*entity.PreInvoice, error) {
	p, err := uc.mutate(ctx, id, preinvoice.ActionMarkPaid, actor, func(p *entity.PreInvoice, at time.Time) error {
		return preinvoice.MarkPaid(p, reference, amount, actor.UserID, at)
	})
	if err != nil {
		return nil, err
	}
	uc.notify(p, entity.RoleCarrier, p.Carrier.ID, TemplatePaid, map[string]any{
		"paymentReference": reference,
		"paidAmount":       amount.StringFixed(2),
	})
	return p, nil
}

// Escalate lleva cualquier prefactura no terminal a disputed.
func (uc *WorkflowUseCase) Escalate(ctx context.Context, id string, actor entity.Actor, reason string) (*entity.PreInvoice, error) {
	p, err := uc.mutate(ctx, id, preinvoice.ActionEscalate, actor, func(p *entity.PreInvoice, at time.Time) error {
		return preinvoice.Escalate(p, reason, actor.UserID, at)
	})
	if err != nil {
		return nil, err
	}
	uc.notify(p, entity.RoleAdmin, "", TemplateDisputed, map[string]any{
		"reason":   reason,
		"openedBy": actor.Role,
	})
	return p, nil
}

// IsAggregationConflict indica si err es el rechazo de una agregación sobre un registro ya enviado.
func IsAggregationConflict(err error) bool {
	return errors.Is(err, domain.ErrConflict)
}
