package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"twitch-chat-bot/model"
)

const postgresSchema = `
create table if not exists bot_users (
  username        text primary key,
  display_name    text,
  points          bigint not null default 0 check (points >= 0),
  experience      bigint not null default 0 check (experience >= 0),
  last_message_at timestamptz
);`

type pgConn interface {
	batchSender
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Postgres хранит пользователей в PostgreSQL через пул pgx.
type Postgres struct {
	*Catalog

	conn    pgConn
	pool    *pgxpool.Pool
	timeout time.Duration
}

var _ Store = (*Postgres)(nil)

// NewPostgres открывает пул, создаёт схему и возвращает хранилище.
func NewPostgres(ctx context.Context, dsn string, catalog *Catalog, timeout time.Duration) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}

	s := newPostgres(pool, catalog, timeout)
	s.pool = pool

	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return s, nil
}

func newPostgres(conn pgConn, catalog *Catalog, timeout time.Duration) *Postgres {
	if catalog == nil {
		catalog = &Catalog{}
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Postgres{Catalog: catalog, conn: conn, timeout: timeout}
}

func (s *Postgres) LoadUser(ctx context.Context, username string) (model.UserRecord, bool, error) {
	dbCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var (
		rec         model.UserRecord
		displayName *string
		lastMessage *time.Time
	)
	err := s.conn.QueryRow(dbCtx, `
select username, display_name, points, experience, last_message_at
from bot_users where username = $1`, model.NormalizeUsername(username),
	).Scan(&rec.Username, &displayName, &rec.Points, &rec.Experience, &lastMessage)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.UserRecord{}, false, nil
		}
		return model.UserRecord{}, false, fmt.Errorf("load user %s: %w", username, err)
	}

	if displayName != nil {
		rec.DisplayName = *displayName
	}
	if lastMessage != nil {
		rec.LastMessage = *lastMessage
	}
	return rec, true, nil
}

func (s *Postgres) SaveAll(ctx context.Context, users []model.UserRecord) error {
	return flushUsers(ctx, s.conn, users, s.timeout)
}

func (s *Postgres) AdjustOfflineUser(ctx context.Context, username string, field model.Field, delta int64) (int64, bool, error) {
	column, err := fieldColumn(field)
	if err != nil {
		return 0, false, err
	}

	dbCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var value int64
	err = s.conn.QueryRow(dbCtx,
		`update bot_users set `+column+` = case when $2::bigint > 0 and $2::bigint > 9223372036854775807 - `+column+
			` then 9223372036854775807 else greatest(`+column+` + $2::bigint, 0) end where username = $1 returning `+column,
		model.NormalizeUsername(username), delta,
	).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("adjust %s of %s: %w", column, username, err)
	}
	return value, true, nil
}

func (s *Postgres) TopUsers(ctx context.Context, field model.Field, limit int) ([]model.UserRecord, error) {
	column, err := fieldColumn(field)
	if err != nil {
		return nil, err
	}

	dbCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	rows, err := s.conn.Query(dbCtx, `
select username, coalesce(display_name, ''), points, experience
from bot_users order by `+column+` desc, username limit $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("top users: %w", err)
	}
	defer rows.Close()

	var out []model.UserRecord
	for rows.Next() {
		var rec model.UserRecord
		if err := rows.Scan(&rec.Username, &rec.DisplayName, &rec.Points, &rec.Experience); err != nil {
			return nil, fmt.Errorf("scan top user: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Postgres) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}
