// Package orchestrator выполняет workflow.
//
// Engine.Execute получает задание из очереди и проводит выполнение через
// статусы PENDING → RUNNING → SUCCESS/FAILED/CANCELED:
//   - валидирует граф и вычисляет топологический порядок
//   - выполняет узлы последовательно через реестр узлов
//   - пропускает узлы неактивных веток условий
//   - сохраняет журнал шагов и итог выполнения
//
// Выполнение идемпотентно по ID: завершённое выполнение не перезапускается,
// прерванное (RUNNING) продолжается с первого неуспешного узла.
// Отмена кооперативная: статус проверяется на границе узлов.
package orchestrator
