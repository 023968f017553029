// Package engine содержит чистые функции движка выполнения workflow.
//
// Включает:
//   - validator.go: проверка графа (триггеры, рёбра, циклы)
//   - toposort.go : порядок выполнения и уровни (алгоритм Кана)
//   - template.go : подстановка {{input.x}}, {{trigger.x}}, {{credentials.x}}, {{$node.id.path}}
//   - context.go  : состояние одного выполнения
//   - parser.go   : разбор JSON-документа workflow
//   - schema.go   : проверка данных по JSON Schema
//
// Пакет не выполняет I/O: загрузка, хранение и выполнение узлов находятся в orchestrator.
package engine
