// Package mq: очередь заданий выполнения поверх RabbitMQ.
//
// Топология:
//
//	conveyor.executions (direct)
//	├── executions.pending [pending]  задания для worker, отказ уходит в conveyor.dlq
//	└── executions.retry   [retry]    отложенные повторы, по истечении TTL
//	                                  возвращаются в executions.pending
//	conveyor.dlq (direct)
//	└── dlq.executions     [executions]  ручной разбор
//
// Доставка at-least-once: оркестратор идемпотентен по execution_id.
package mq
