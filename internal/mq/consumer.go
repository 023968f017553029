package mq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/shaiso/conveyor/internal/domain"
)

// JobHandler обрабатывает задание.
//
// nil: ack. Ошибка с ErrPermanent: nack в DLQ. Прочие ошибки и остановка
// consumer: nack с возвратом в очередь.
type JobHandler func(ctx context.Context, job *domain.ExecutionJob) error

// ConsumerConfig: конфигурация Consumer.
type ConsumerConfig struct {
	// Queue: очередь. По умолчанию executions.pending.
	Queue Queue

	Handler JobHandler

	// Prefetch: число неподтверждённых сообщений. Совпадает с размером пула worker.
	Prefetch int

	Logger *slog.Logger
}

// Consumer читает задания и передаёт каждое обработчику в отдельной горутине.
// Число одновременных обработчиков ограничено prefetch.
type Consumer struct {
	conn     *Connection
	queue    Queue
	handler  JobHandler
	prefetch int
	logger   *slog.Logger

	mu         sync.Mutex
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
}

// NewConsumer создаёт Consumer.
func NewConsumer(conn *Connection, cfg ConsumerConfig) *Consumer {
	if cfg.Queue == "" {
		cfg.Queue = QueuePending
	}
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Consumer{
		conn:     conn,
		queue:    cfg.Queue,
		handler:  cfg.Handler,
		prefetch: cfg.Prefetch,
		logger:   cfg.Logger.With("component", "consumer", "queue", cfg.Queue),
	}
}

// Start читает очередь до отмены ctx или вызова Stop.
// Блокирует вызывающего, после выхода дожидается активных обработчиков.
func (c *Consumer) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancelFunc = cancel
	c.mu.Unlock()
	defer c.wg.Wait()

	for {
		deliveries, err := c.subscribe()
		if err == nil {
			c.logger.Info("consumer started", "prefetch", c.prefetch)
			err = c.drain(ctx, deliveries)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		c.logger.Warn("consumer interrupted, waiting for reconnect", "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.conn.ReconnectNotify():
		}
	}
}

// Stop останавливает чтение. Start вернётся после завершения обработчиков.
func (c *Consumer) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancelFunc != nil {
		c.cancelFunc()
	}
}

func (c *Consumer) subscribe() (<-chan amqp.Delivery, error) {
	ch := c.conn.Channel()
	if ch == nil {
		return nil, ErrNoChannel
	}
	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return nil, fmt.Errorf("set qos: %w", err)
	}
	deliveries, err := ch.Consume(string(c.queue), "", false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("consume: %w", err)
	}
	return deliveries, nil
}

func (c *Consumer) drain(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-deliveries:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			c.wg.Add(1)
			go func() {
				defer c.wg.Done()
				c.handle(ctx, raw)
			}()
		}
	}
}

func (c *Consumer) handle(ctx context.Context, raw amqp.Delivery) {
	job, err := DecodeJob(raw.Body)
	if err != nil {
		c.logger.Error("malformed message", "message_id", raw.MessageId, "error", err)
		_ = raw.Nack(false, false)
		return
	}

	err = c.handler(ctx, job)
	ack, requeue := disposition(err)
	if ack {
		if err := raw.Ack(false); err != nil {
			c.logger.Warn("ack failed", "execution_id", job.ExecutionID, "error", err)
		}
		return
	}

	c.logger.Warn("message rejected",
		"execution_id", job.ExecutionID,
		"requeue", requeue,
		"error", err,
	)
	if err := raw.Nack(false, requeue); err != nil {
		c.logger.Warn("nack failed", "execution_id", job.ExecutionID, "error", err)
	}
}

// disposition решает судьбу сообщения по результату обработчика.
// Ошибки кроме ErrPermanent, включая остановку worker, возвращают сообщение в очередь.
func disposition(err error) (ack, requeue bool) {
	switch {
	case err == nil:
		return true, false
	case errors.Is(err, ErrPermanent):
		return false, false
	default:
		return false, true
	}
}

// DecodeJob разбирает конверт сообщения с заданием.
func DecodeJob(body []byte) (*domain.ExecutionJob, error) {
	var msg Message
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, fmt.Errorf("unmarshal message: %w", err)
	}
	if msg.Type != MessageTypeExecutionJob {
		return nil, fmt.Errorf("unexpected message type %q", msg.Type)
	}

	job, err := ParsePayload[domain.ExecutionJob](&msg)
	if err != nil {
		return nil, err
	}
	if job.WorkflowID == uuid.Nil {
		return nil, errors.New("job has no workflow_id")
	}
	return &job, nil
}

// ParsePayload приводит payload сообщения к типу T.
func ParsePayload[T any](msg *Message) (T, error) {
	var result T

	raw, err := json.Marshal(msg.Payload)
	if err != nil {
		return result, fmt.Errorf("marshal payload: %w", err)
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return result, fmt.Errorf("unmarshal payload: %w", err)
	}
	return result, nil
}
