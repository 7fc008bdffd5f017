package billing

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// AsyncNotifier entrega notificaciones en segundo plano. Un fallo se registra
// como advertencia y nunca revierte la transición que la originó.
type AsyncNotifier struct {
	next    Notifier
	log     zerolog.Logger
	metrics Metrics
	timeout time.Duration
	wg      sync.WaitGroup
}

// NewAsyncNotifier envuelve next; timeout limita cada entrega (5 s si es cero).
func NewAsyncNotifier(next Notifier, log zerolog.Logger, metrics Metrics, timeout time.Duration) *AsyncNotifier {
	if metrics == nil {
		metrics = NopMetrics{}
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &AsyncNotifier{next: next, log: log, metrics: metrics, timeout: timeout}
}

// Send no bloquea al llamador.
func (a *AsyncNotifier) Send(n Notification) {
	if a == nil || a.next == nil {
		return
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		defer cancel()
		if err := a.next.Notify(ctx, n); err != nil {
			a.metrics.NotificationFailed(n.TemplateType)
			a.log.Warn().Err(err).
				Str("preinvoice_id", n.PreInvoiceID).
				Str("template", n.TemplateType).
				Str("recipient_role", n.RecipientRole).
				Msg("notificación no entregada")
		}
	}()
}

// Wait espera las entregas en curso (apagado ordenado y tests).
func (a *AsyncNotifier) Wait() {
	if a == nil {
		return
	}
	a.wg.Wait()
}
