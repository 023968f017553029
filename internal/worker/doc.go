// Package worker выполняет задания из очереди.
//
// Pool ограничивает число одновременных выполнений и частоту запуска
// (ratelimit.Limiter). Ошибки инфраструктуры повторяются с экспоненциальной
// задержкой через очередь повторов, исчерпанные и постоянные отказы уходят в DLQ.
//
// Worker связывает Pool с consumer RabbitMQ. Экземпляры масштабируются
// горизонтально: оркестратор идемпотентен по execution_id.
package worker
