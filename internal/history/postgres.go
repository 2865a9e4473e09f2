package history

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres implements Recorder on the subscriber_sessions table.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres creates a Postgres recorder from a DSN. Caller must call Close when done.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// Close closes the connection pool.
func (p *Postgres) Close() {
	p.pool.Close()
}

// Opened inserts a session row.
func (p *Postgres) Opened(ctx context.Context, ev Event) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO subscriber_sessions (session_id, user_id, login, device_id, transport, opened_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (session_id) DO NOTHING`,
		ev.SessionID, ev.UserID, ev.Login, ev.DeviceID, ev.Transport, ev.OpenedAt,
	)
	if err != nil {
		return fmt.Errorf("Opened: %w", err)
	}
	return nil
}

// Closed stamps closed_at on an open session row.
func (p *Postgres) Closed(ctx context.Context, sessionID string, at time.Time) error {
	_, err := p.pool.Exec(ctx,
		`UPDATE subscriber_sessions SET closed_at = $2 WHERE session_id = $1 AND closed_at IS NULL`,
		sessionID, at,
	)
	if err != nil {
		return fmt.Errorf("Closed: %w", err)
	}
	return nil
}

// Session is one row of subscriber_sessions.
type Session struct {
	SessionID string     `json:"session_id"`
	UserID    string     `json:"user_id"`
	Login     string     `json:"login"`
	DeviceID  string     `json:"device_id"`
	Transport string     `json:"transport"`
	OpenedAt  time.Time  `json:"opened_at"`
	ClosedAt  *time.Time `json:"closed_at,omitempty"`
}

// ListByUser returns the most recent sessions of a user, newest first.
func (p *Postgres) ListByUser(ctx context.Context, userID string, limit int) ([]Session, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := p.pool.Query(ctx,
		`SELECT session_id, user_id, login, device_id, transport, opened_at, closed_at
		 FROM subscriber_sessions WHERE user_id = $1
		 ORDER BY opened_at DESC LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("ListByUser: %w", err)
	}
	sessions, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Session, error) {
		var s Session
		err := row.Scan(&s.SessionID, &s.UserID, &s.Login, &s.DeviceID, &s.Transport, &s.OpenedAt, &s.ClosedAt)
		return s, err
	})
	if err != nil {
		return nil, fmt.Errorf("ListByUser: %w", err)
	}
	return sessions, nil
}

// CloseDangling closes every row left open by a previous process, e.g. after a crash.
func (p *Postgres) CloseDangling(ctx context.Context, at time.Time) (int64, error) {
	tag, err := p.pool.Exec(ctx, `UPDATE subscriber_sessions SET closed_at = $1 WHERE closed_at IS NULL`, at)
	if err != nil {
		return 0, fmt.Errorf("CloseDangling: %w", err)
	}
	return tag.RowsAffected(), nil
}
