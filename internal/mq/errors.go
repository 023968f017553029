package mq

import "errors"

var (
	// ErrPermanent: обработчик отказался от сообщения, повтор бесполезен.
	// Consumer отправляет такое сообщение в DLQ.
	ErrPermanent = errors.New("permanent failure")

	// ErrNoChannel: соединение ещё не установлено или переподключается.
	ErrNoChannel = errors.New("no channel available")
)
