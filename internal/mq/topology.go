package mq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange: имя обменника.
type Exchange string

// Queue: имя очереди.
type Queue string

// RoutingKey: ключ маршрутизации.
type RoutingKey string

const (
	ExchangeExecutions Exchange = "conveyor.executions"
	ExchangeDLQ        Exchange = "conveyor.dlq"
)

const (
	QueuePending       Queue = "executions.pending"
	QueueRetry         Queue = "executions.retry"
	QueueDLQExecutions Queue = "dlq.executions"
)

const (
	RoutingKeyPending    RoutingKey = "pending"
	RoutingKeyRetry      RoutingKey = "retry"
	RoutingKeyExecutions RoutingKey = "executions"
)

type queueSpec struct {
	name     Queue
	exchange Exchange
	key      RoutingKey
	args     amqp.Table
}

// queues описывает очереди и их привязки.
func queues() []queueSpec {
	return []queueSpec{
		{
			name:     QueuePending,
			exchange: ExchangeExecutions,
			key:      RoutingKeyPending,
			args: amqp.Table{
				"x-dead-letter-exchange":    string(ExchangeDLQ),
				"x-dead-letter-routing-key": string(RoutingKeyExecutions),
			},
		},
		{
			// Сообщения живут до истечения per-message TTL и возвращаются в pending
			name:     QueueRetry,
			exchange: ExchangeExecutions,
			key:      RoutingKeyRetry,
			args: amqp.Table{
				"x-dead-letter-exchange":    string(ExchangeExecutions),
				"x-dead-letter-routing-key": string(RoutingKeyPending),
			},
		},
		{
			name:     QueueDLQExecutions,
			exchange: ExchangeDLQ,
			key:      RoutingKeyExecutions,
		},
	}
}

// SetupTopology объявляет обменники, очереди и привязки. Операция идемпотентна.
func SetupTopology(ctx context.Context, conn *Connection) error {
	return conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		for _, ex := range []Exchange{ExchangeExecutions, ExchangeDLQ} {
			if err := ch.ExchangeDeclare(string(ex), amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
				return fmt.Errorf("declare exchange %s: %w", ex, err)
			}
		}

		for _, q := range queues() {
			if _, err := ch.QueueDeclare(string(q.name), true, false, false, false, q.args); err != nil {
				return fmt.Errorf("declare queue %s: %w", q.name, err)
			}
			if err := ch.QueueBind(string(q.name), string(q.key), string(q.exchange), false, nil); err != nil {
				return fmt.Errorf("bind queue %s to %s: %w", q.name, q.exchange, err)
			}
		}
		return nil
	})
}
