// Package trigger: единая точка постановки выполнений в очередь.
//
// Ручной запуск, webhook, расписание и повтор проходят через Service.Enqueue:
// проверка графа, создание PENDING выполнения, публикация задания.
package trigger
