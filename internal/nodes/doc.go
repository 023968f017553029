// Package nodes содержит реестр типов узлов и встроенные узлы.
//
// Каждый тип узла реализует интерфейс Node и регистрируется в Registry вместе
// с определением (категория, JSON Schema параметров).
//
// Встроенные узлы:
//   - триггеры: manual-trigger, webhook-trigger, cron-trigger, schedule-trigger, event-trigger
//   - http-request: HTTP запрос с повторами
//   - delay: задержка
//   - set-data, transform (jq), json-parser: работа с данными
//   - if-condition (CEL), switch, split, merge, loop: управление потоком
//   - code: выражение expr-lang в песочнице с таймаутом
//
// Registry.Execute никогда не возвращает ошибку: неизвестный тип, ошибка
// или паника узла превращаются в неуспешный domain.NodeResult.
package nodes
