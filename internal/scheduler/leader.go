package scheduler

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
)

// LockKey: ключ advisory lock лидера планировщика.
const LockKey int64 = 424242

// Elector определяет, является ли экземпляр лидером.
type Elector interface {
	// TryAcquire возвращает true, если экземпляр лидер (захватил или уже держит блокировку).
	TryAcquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// AlwaysLeader: единственный экземпляр (локальный запуск, тесты).
type AlwaysLeader struct{}

// TryAcquire всегда возвращает true.
func (AlwaysLeader) TryAcquire(context.Context) (bool, error) { return true, nil }

// Release ничего не делает.
func (AlwaysLeader) Release(context.Context) error { return nil }

// AdvisoryLock: лидерство через pg_try_advisory_lock.
//
// Блокировка сессионная, поэтому соединение удерживается из пула
// всё время лидерства.
type AdvisoryLock struct {
	pool *pgxpool.Pool
	key  int64

	mu   sync.Mutex
	conn *pgxpool.Conn
}

// NewAdvisoryLock создаёт AdvisoryLock. Нулевой key заменяется на LockKey.
func NewAdvisoryLock(pool *pgxpool.Pool, key int64) *AdvisoryLock {
	if key == 0 {
		key = LockKey
	}
	return &AdvisoryLock{pool: pool, key: key}
}

// TryAcquire пытается захватить блокировку.
func (l *AdvisoryLock) TryAcquire(ctx context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.conn != nil {
		// Соединение могло оборваться вместе с блокировкой
		if err := l.conn.Ping(ctx); err == nil {
			return true, nil
		}
		l.conn.Release()
		l.conn = nil
	}

	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return false, fmt.Errorf("acquire connection: %w", err)
	}

	var ok bool
	if err := conn.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", l.key).Scan(&ok); err != nil {
		conn.Release()
		return false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !ok {
		conn.Release()
		return false, nil
	}

	l.conn = conn
	return true, nil
}

// Release снимает блокировку и возвращает соединение в пул.
func (l *AdvisoryLock) Release(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.conn == nil {
		return nil
	}
	defer func() {
		l.conn.Release()
		l.conn = nil
	}()

	if _, err := l.conn.Exec(ctx, "SELECT pg_advisory_unlock($1)", l.key); err != nil {
		return fmt.Errorf("advisory unlock: %w", err)
	}
	return nil
}
