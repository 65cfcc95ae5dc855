package repo

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// SchedulerLeaderKey — ключ advisory-блокировки для scheduler.
const SchedulerLeaderKey int64 = 0x7363686564

// LeaderLock — advisory-блокировка Postgres для выбора лидера.
//
// Блокировка привязана к сессии, поэтому соединение удерживается
// из пула до Release. Обрыв соединения снимает блокировку на стороне
// БД, и лидерство может забрать другая реплика.
type LeaderLock struct {
	conn *pgxpool.Conn
	key  int64
}

// TryLeaderLock пытается захватить advisory-блокировку key.
// Возвращает (nil, nil), если блокировка занята другой сессией.
func TryLeaderLock(ctx context.Context, pool *pgxpool.Pool, key int64) (*LeaderLock, error) {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire conn: %w", err)
	}

	var got bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, key).Scan(&got); err != nil {
		conn.Release()
		return nil, fmt.Errorf("try advisory lock: %w", err)
	}
	if !got {
		conn.Release()
		return nil, nil
	}
	return &LeaderLock{conn: conn, key: key}, nil
}

// Release снимает блокировку и возвращает соединение в пул.
func (l *LeaderLock) Release(ctx context.Context) {
	if l == nil || l.conn == nil {
		return
	}
	_, _ = l.conn.Exec(ctx, `SELECT pg_advisory_unlock($1)`, l.key)
	l.conn.Release()
	l.conn = nil
}
