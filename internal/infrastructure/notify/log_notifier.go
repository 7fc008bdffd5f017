package notify

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/symphonia/preinvoice-api/internal/application/billing"
)

var _ billing.Notifier = (*LogNotifier)(nil)

// LogNotifier registra la notificación sin entregarla (RABBITMQ_URL vacío).
type LogNotifier struct {
	log zerolog.Logger
}

func NewLogNotifier(log zerolog.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (l *LogNotifier) Notify(_ context.Context, n billing.Notification) error {
	l.log.Info().
		Str("preinvoice_id", n.PreInvoiceID).
		Str("preinvoice_number", n.PreInvoiceNumber).
		Str("template", n.TemplateType).
		Str("recipient_role", n.RecipientRole).
		Str("recipient_id", n.RecipientID).
		Interface("data", n.Data).
		Msg("notificación")
	return nil
}
