package mq

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/shaiso/conveyor/internal/domain"
)

// MessageType: тип сообщения.
type MessageType string

// MessageTypeExecutionJob: задание на выполнение workflow.
const MessageTypeExecutionJob MessageType = "execution.job"

// Message: конверт сообщения.
type Message struct {
	ID        string      `json:"id"`
	Type      MessageType `json:"type"`
	Payload   any         `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

// NewJobMessage оборачивает задание в конверт.
func NewJobMessage(job *domain.ExecutionJob) *Message {
	return &Message{
		ID:        uuid.New().String(),
		Type:      MessageTypeExecutionJob,
		Payload:   job,
		Timestamp: time.Now(),
	}
}

// Publisher публикует задания в RabbitMQ.
type Publisher struct {
	conn   *Connection
	logger *slog.Logger
}

// NewPublisher создаёт Publisher.
func NewPublisher(conn *Connection, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		conn:   conn,
		logger: logger.With("component", "publisher"),
	}
}

// PublishJob ставит задание в executions.pending.
func (p *Publisher) PublishJob(ctx context.Context, job *domain.ExecutionJob) error {
	return p.publish(ctx, RoutingKeyPending, NewJobMessage(job), "")
}

// PublishRetry откладывает задание через executions.retry.
// По истечении delay сообщение возвращается в executions.pending.
func (p *Publisher) PublishRetry(ctx context.Context, job *domain.ExecutionJob, delay time.Duration) error {
	return p.publish(ctx, RoutingKeyRetry, NewJobMessage(job), expiration(delay))
}

func (p *Publisher) publish(ctx context.Context, key RoutingKey, msg *Message, ttl string) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	return p.conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		err := ch.PublishWithContext(ctx, string(ExchangeExecutions), string(key), false, false, amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    msg.ID,
			Timestamp:    msg.Timestamp,
			Type:         string(msg.Type),
			Expiration:   ttl,
			Body:         body,
		})
		if err != nil {
			return fmt.Errorf("publish to %s/%s: %w", ExchangeExecutions, key, err)
		}

		p.logger.Debug("published message",
			"routing_key", key,
			"message_id", msg.ID,
			"expiration", ttl,
		)
		return nil
	})
}

// expiration форматирует per-message TTL в миллисекундах.
func expiration(delay time.Duration) string {
	ms := delay.Milliseconds()
	if ms < 1 {
		ms = 1
	}
	return strconv.FormatInt(ms, 10)
}
