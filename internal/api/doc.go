// Package api: HTTP API conveyor.
//
// Маршруты регистрируются в net/http ServeMux (шаблоны Go 1.22) и
// оборачиваются цепочкой middleware: Recovery, RequestID, Logging.
//
// Ответы: {"data": ...} для успеха, {"error": {"code", "message"}} для ошибок.
package api
