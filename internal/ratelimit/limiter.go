// Package ratelimit ограничивает частоту запуска выполнений.
//
// Limiter: token bucket (golang.org/x/time/rate): Limit токенов на Window,
// ёмкость корзины Burst. Worker вызывает Wait перед каждым заданием.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// Значения по умолчанию.
const (
	DefaultLimit  = 50
	DefaultWindow = time.Minute
)

// ErrWaitTimeout: токен не получен за WaitTimeout.
var ErrWaitTimeout = errors.New("rate limit wait timeout exceeded")

// Config: конфигурация Limiter.
type Config struct {
	// Limit: число заданий за Window.
	Limit int

	// Window: окно, за которое корзина пополняется на Limit токенов.
	Window time.Duration

	// Burst: ёмкость корзины. По умолчанию равна Limit.
	Burst int

	// WaitTimeout: максимальное ожидание в Wait. 0 означает ждать до отмены ctx.
	WaitTimeout time.Duration

	// Now: источник времени для Allow и Tokens, по умолчанию time.Now.
	// Wait всегда использует реальное время.
	Now func() time.Time
}

// Limiter: потокобезопасный token bucket.
type Limiter struct {
	rl          *rate.Limiter
	waitTimeout time.Duration
	now         func() time.Time
}

// New создаёт Limiter с полной корзиной.
func New(cfg Config) *Limiter {
	if cfg.Limit <= 0 {
		cfg.Limit = DefaultLimit
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.Burst <= 0 {
		cfg.Burst = cfg.Limit
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Limiter{
		rl:          rate.NewLimiter(rate.Every(cfg.Window/time.Duration(cfg.Limit)), cfg.Burst),
		waitTimeout: cfg.WaitTimeout,
		now:         cfg.Now,
	}
}

// Allow забирает токен, если он есть.
func (l *Limiter) Allow() bool {
	return l.rl.AllowN(l.now(), 1)
}

// Tokens возвращает текущее число токенов.
func (l *Limiter) Tokens() float64 {
	return l.rl.TokensAt(l.now())
}

// Wait ждёт токен, отмену ctx или WaitTimeout.
//
// Если токен заведомо не появится до дедлайна, Wait возвращается сразу:
// ErrWaitTimeout для собственного таймаута, context.DeadlineExceeded для дедлайна ctx.
func (l *Limiter) Wait(ctx context.Context) error {
	waitCtx := ctx
	ownDeadline := false
	if l.waitTimeout > 0 {
		deadline := time.Now().Add(l.waitTimeout)
		if d, ok := ctx.Deadline(); !ok || deadline.Before(d) {
			var cancel context.CancelFunc
			waitCtx, cancel = context.WithDeadline(ctx, deadline)
			defer cancel()
			ownDeadline = true
		}
	}

	err := l.rl.Wait(waitCtx)
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if ownDeadline {
		return ErrWaitTimeout
	}
	return fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
}
