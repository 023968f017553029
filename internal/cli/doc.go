// Package cli реализует инструмент командной строки conveyor.
//
// Команды работают с API через HTTP (Client) и выводят результат
// таблицей или JSON (флаг --json). Данные идут в stdout, сообщения в stderr,
// поэтому вывод можно передавать дальше: conveyor execution list --json | jq .
//
// Группы команд:
//   - workflow: list, show, create
//   - execution: list, start, show, steps, cancel, retry
//   - schedule: list, create, enable, disable
//   - nodes
//   - local: выполнение файла workflow в процессе, без API и очереди
//
// Каждая группа создаётся фабрикой (NewWorkflowCmd и т.д.), принимающей
// clientFn и outputFn: Client и Output создаются после разбора PersistentFlags.
package cli
