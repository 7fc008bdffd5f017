package billing

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/symphonia/preinvoice-api/internal/domain/entity"
	"github.com/symphonia/preinvoice-api/internal/domain/preinvoice"
	"github.com/symphonia/preinvoice-api/internal/domain/repository"
	"golang.org/x/sync/errgroup"
)

// CountdownUseCase recalcula los días restantes de pago de las prefacturas en payment_pending.
// Solo escribe days_remaining: no cambia estado ni versión.
type CountdownUseCase struct {
	repo          repository.PreInvoiceRepository
	notifier      *AsyncNotifier
	metrics       Metrics
	log           zerolog.Logger
	now           Clock
	workers       int
	reminderDays  []int
	recordTimeout time.Duration
}

// NewCountdownUseCase construye el caso de uso. reminderDays son los días
// previos al vencimiento en que se avisa al industrial (p.ej. 5 y 2).
func NewCountdownUseCase(
	repo repository.PreInvoiceRepository,
	notifier *AsyncNotifier,
	metrics Metrics,
	log zerolog.Logger,
	now Clock,
	workers int,
	reminderDays []int,
) *CountdownUseCase {
	if metrics == nil {
		metrics = NopMetrics{}
	}
	if workers <= 0 {
		workers = 1
	}
	return &CountdownUseCase{
		repo:          repo,
		notifier:      notifier,
		metrics:       metrics,
		log:           log,
		now:           now,
		workers:       workers,
		reminderDays:  reminderDays,
		recordTimeout: 10 * time.Second,
	}
}

// UpdateCountdowns procesa cada registro de forma independiente y devuelve
// cuántos se actualizaron. Un registro lento o fallido no detiene el lote.
func (uc *CountdownUseCase) UpdateCountdowns(ctx context.Context) (int, error) {
	items, err := uc.repo.ListPaymentCountdowns(ctx)
	if err != nil {
		return 0, fmt.Errorf("cuenta regresiva: listar: %w", err)
	}
	now := uc.now()

	var updated atomic.Int64
	g := new(errgroup.Group)
	g.SetLimit(uc.workers)
	for _, item := range items {
		g.Go(func() error {
			rctx, cancel := context.WithTimeout(ctx, uc.recordTimeout)
			defer cancel()

			days := preinvoice.DaysRemaining(item.DueDate, now)
			ok, err := uc.repo.UpdateDaysRemaining(rctx, item.ID, days)
			if err != nil {
				uc.log.Error().Err(err).Str("preinvoice_id", item.ID).Msg("actualizar días restantes")
				return nil
			}
			if !ok {
				// pagada o disputada entre la lectura y la escritura
				return nil
			}
			updated.Add(1)
			uc.remind(item, days)
			return nil
		})
	}
	_ = g.Wait()

	n := int(updated.Load())
	uc.metrics.CountdownUpdated(n)
	uc.log.Info().Int("updated", n).Int("candidates", len(items)).Msg("cuenta regresiva de pagos actualizada")
	return n, nil
}

func (uc *CountdownUseCase) remind(item repository.PaymentCountdown, days int) {
	kind := preinvoice.Reminder(item.DaysRemaining, days, uc.reminderDays)
	if kind == preinvoice.ReminderNone {
		return
	}
	template := TemplatePaymentReminder
	if kind == preinvoice.ReminderOverdue {
		template = TemplatePaymentOverdue
	}
	uc.notifier.Send(Notification{
		PreInvoiceID:     item.ID,
		PreInvoiceNumber: item.Number,
		RecipientRole:    entity.RoleIndustrial,
		RecipientID:      item.IndustrialID,
		TemplateType:     template,
		Data:             map[string]any{"daysRemaining": days, "dueDate": item.DueDate},
		CreatedAt:        uc.now(),
	})
}
