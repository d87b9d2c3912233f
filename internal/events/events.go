// Пакет events — публикация событий жизненного цикла пользователей.
// События отправляются в очередь RabbitMQ; без настроенного брокера
// используется NoopPublisher.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Типы событий.
const (
	TypeUserCreated              = "user.created"
	TypeUserDeleted              = "user.deleted"
	TypeUserRoleChanged          = "user.role_changed"
	TypeProvisioningInconsistent = "provisioning.inconsistent"
)

// Event — событие, публикуемое после изменения пользователя.
type Event struct {
	Type        string    `json:"type"`
	UserID      string    `json:"user_id"`
	Email       string    `json:"email,omitempty"`
	Role        string    `json:"role,omitempty"`
	ActorID     string    `json:"actor_id"`
	OperationID string    `json:"operation_id,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// Publisher — получатель событий.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// NoopPublisher отбрасывает события.
type NoopPublisher struct{}

// Publish ничего не делает.
func (NoopPublisher) Publish(context.Context, Event) error { return nil }

// AMQPPublisher публикует события в durable-очередь RabbitMQ.
type AMQPPublisher struct {
	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
	queue   string
	logger  *slog.Logger
}

// NewAMQPPublisher подключается к брокеру и объявляет очередь.
func NewAMQPPublisher(url, queue string, logger *slog.Logger) (*AMQPPublisher, error) {
	if strings.TrimSpace(url) == "" {
		return nil, errors.New("не задан URL брокера")
	}
	if strings.TrimSpace(queue) == "" {
		return nil, errors.New("не задано имя очереди")
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("ошибка подключения к брокеру: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ошибка открытия канала: %w", err)
	}

	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("ошибка объявления очереди %s: %w", queue, err)
	}

	return &AMQPPublisher{
		conn:    conn,
		channel: ch,
		queue:   queue,
		logger:  logger.With(slog.String("component", "events")),
	}, nil
}

// Publish сериализует событие и отправляет его в очередь.
// Канал AMQP не допускает конкурентной публикации, поэтому вызовы сериализуются.
func (p *AMQPPublisher) Publish(ctx context.Context, ev Event) error {
	msg, err := newPublishing(ev)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.channel.PublishWithContext(ctx, "", p.queue, false, false, msg); err != nil {
		return fmt.Errorf("ошибка публикации события %s: %w", ev.Type, err)
	}
	p.logger.Debug("Событие опубликовано",
		slog.String("type", ev.Type),
		slog.String("message_id", msg.MessageId),
	)
	return nil
}

// Close закрывает канал и соединение.
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.channel != nil {
		_ = p.channel.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

// newPublishing формирует сообщение AMQP для события.
func newPublishing(ev Event) (amqp.Publishing, error) {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("ошибка сериализации события: %w", err)
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    ev.OccurredAt,
		Type:         ev.Type,
		Headers:      amqp.Table{"event_type": ev.Type},
		Body:         body,
	}, nil
}
