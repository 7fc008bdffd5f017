// Package notify entrega las notificaciones del ciclo de prefacturación.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/symphonia/preinvoice-api/internal/application/billing"
)

var _ billing.Notifier = (*RabbitMQNotifier)(nil)

// Publisher lo que el notificador usa de un canal AMQP; *amqp.Channel lo implementa.
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

var _ Publisher = (*amqp.Channel)(nil)

// RabbitMQNotifier publica cada notificación como JSON persistente en una cola durable.
// El servicio de notificaciones consume la cola y resuelve el destinatario.
type RabbitMQNotifier struct {
	conn  *amqp.Connection // nil si el canal llegó ya abierto
	ch    Publisher
	queue string
	mu    sync.Mutex
}

// NewRabbitMQNotifierWithPublisher publica sobre un canal ya abierto con la cola declarada.
func NewRabbitMQNotifierWithPublisher(ch Publisher, queue string) *RabbitMQNotifier {
	return &RabbitMQNotifier{ch: ch, queue: queue}
}

// NewRabbitMQNotifier abre conexión y canal y declara la cola.
func NewRabbitMQNotifier(url, queue string) (*RabbitMQNotifier, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("conectar a RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("abrir canal: %w", err)
	}
	_, err = ch.QueueDeclare(
		queue,
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		nil,
	)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declarar cola %s: %w", queue, err)
	}
	return &RabbitMQNotifier{conn: conn, ch: ch, queue: queue}, nil
}

// Notify publica n en la cola por el exchange por defecto.
func (r *RabbitMQNotifier) Notify(ctx context.Context, n billing.Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("serializar notificación: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	err = r.ch.PublishWithContext(ctx,
		"",      // exchange
		r.queue, // routing key
		false,   // mandatory
		false,   // immediate
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			Type:         n.TemplateType,
			MessageId:    n.PreInvoiceID + ":" + n.TemplateType,
			Timestamp:    n.CreatedAt,
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("publicar %s: %w", n.TemplateType, err)
	}
	return nil
}

// Close cierra canal y conexión.
func (r *RabbitMQNotifier) Close() error {
	if r.ch != nil {
		_ = r.ch.Close()
	}
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}
