package notify_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/symphonia/preinvoice-api/internal/application/billing"
	"github.com/symphonia/preinvoice-api/internal/infrastructure/notify"
)

type published struct {
	exchange, key string
	msg           amqp.Publishing
}

// fakeChannel registra lo publicado en lugar de hablar con un broker.
type fakeChannel struct {
	mu     sync.Mutex
	sent   []published
	err    error
	closed bool
}

func (f *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, published{exchange: exchange, key: key, msg: msg})
	return nil
}

func (f *fakeChannel) Close() error {
	f.closed = true
	return nil
}

// ── RabbitMQNotifier ──

func TestRabbitMQNotifier_PublicaMensajePersistenteEnLaCola(t *testing.T) {
	ch := &fakeChannel{}
	n := notify.NewRabbitMQNotifierWithPublisher(ch, "preinvoice.notifications")
	at := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

	err := n.Notify(context.Background(), billing.Notification{
		PreInvoiceID:     "pi-1",
		PreInvoiceNumber: "PRE-202602-00001",
		RecipientRole:    "industrial",
		RecipientID:      "industrial-1",
		TemplateType:     billing.TemplatePaymentReminder,
		Data:             map[string]any{"daysRemaining": 5},
		CreatedAt:        at,
	})

	require.NoError(t, err)
	require.Len(t, ch.sent, 1)
	got := ch.sent[0]
	assert.Equal(t, "", got.exchange, "exchange por defecto")
	assert.Equal(t, "preinvoice.notifications", got.key)
	assert.Equal(t, amqp.Persistent, got.msg.DeliveryMode)
	assert.Equal(t, "application/json", got.msg.ContentType)
	assert.Equal(t, billing.TemplatePaymentReminder, got.msg.Type)
	assert.Equal(t, "pi-1:"+billing.TemplatePaymentReminder, got.msg.MessageId)
	assert.Equal(t, at, got.msg.Timestamp)

	var body map[string]any
	require.NoError(t, json.Unmarshal(got.msg.Body, &body))
	assert.Equal(t, "PRE-202602-00001", body["preInvoiceNumber"])
	assert.Equal(t, "industrial-1", body["recipientId"])
	assert.Equal(t, float64(5), body["data"].(map[string]any)["daysRemaining"])
}

func TestRabbitMQNotifier_ErrorDelCanal(t *testing.T) {
	ch := &fakeChannel{err: errors.New("canal cerrado")}
	n := notify.NewRabbitMQNotifierWithPublisher(ch, "q")

	err := n.Notify(context.Background(), billing.Notification{PreInvoiceID: "pi-1", TemplateType: billing.TemplatePaymentOverdue})

	require.Error(t, err)
	assert.Contains(t, err.Error(), billing.TemplatePaymentOverdue)
}

func TestRabbitMQNotifier_PublicacionesConcurrentes(t *testing.T) {
	ch := &fakeChannel{}
	n := notify.NewRabbitMQNotifierWithPublisher(ch, "q")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, n.Notify(context.Background(), billing.Notification{PreInvoiceID: "pi", TemplateType: billing.TemplatePaymentReminder}))
		}()
	}
	wg.Wait()

	assert.Len(t, ch.sent, 20)
}

func TestRabbitMQNotifier_CloseCierraElCanal(t *testing.T) {
	ch := &fakeChannel{}
	n := notify.NewRabbitMQNotifierWithPublisher(ch, "q")

	require.NoError(t, n.Close())
	assert.True(t, ch.closed)
}
