package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"twitch-chat-bot/model"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS bot_users (
	username        TEXT    PRIMARY KEY,
	display_name    TEXT    NOT NULL DEFAULT '',
	points          INTEGER NOT NULL DEFAULT 0 CHECK (points >= 0),
	experience      INTEGER NOT NULL DEFAULT 0 CHECK (experience >= 0),
	last_message_at INTEGER NOT NULL DEFAULT 0
)`

// SQLite хранит пользователей в файле SQLite (драйвер modernc, без cgo).
type SQLite struct {
	*Catalog

	db        *sql.DB
	writeLock sync.Mutex // SQLite допускает только одного писателя
}

var _ Store = (*SQLite)(nil)

// NewSQLite открывает (и при необходимости создаёт) базу по пути path.
func NewSQLite(path string, catalog *Catalog) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode = WAL; PRAGMA busy_timeout = 5000;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set pragmas: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	if catalog == nil {
		catalog = &Catalog{}
	}
	return &SQLite{Catalog: catalog, db: db}, nil
}

func (s *SQLite) LoadUser(ctx context.Context, username string) (model.UserRecord, bool, error) {
	var (
		rec  model.UserRecord
		last int64
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT username, display_name, points, experience, last_message_at FROM bot_users WHERE username = ?",
		model.NormalizeUsername(username),
	).Scan(&rec.Username, &rec.DisplayName, &rec.Points, &rec.Experience, &last)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.UserRecord{}, false, nil
		}
		return model.UserRecord{}, false, fmt.Errorf("load user %s: %w", username, err)
	}

	if last > 0 {
		rec.LastMessage = time.Unix(last, 0).UTC()
	}
	return rec, true, nil
}

func (s *SQLite) SaveAll(ctx context.Context, users []model.UserRecord) (err error) {
	if len(users) == 0 {
		return nil
	}

	s.writeLock.Lock()
	defer s.writeLock.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO bot_users (username, display_name, points, experience, last_message_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(username) DO UPDATE SET
			display_name    = excluded.display_name,
			points          = excluded.points,
			experience      = excluded.experience,
			last_message_at = excluded.last_message_at`)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, u := range users {
		var last int64
		if !u.LastMessage.IsZero() {
			last = u.LastMessage.Unix()
		}
		if _, err = stmt.ExecContext(ctx, u.Username, u.DisplayName, max(u.Points, 0), max(u.Experience, 0), last); err != nil {
			return fmt.Errorf("upsert %s: %w", u.Username, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *SQLite) AdjustOfflineUser(ctx context.Context, username string, field model.Field, delta int64) (int64, bool, error) {
	column, err := fieldColumn(field)
	if err != nil {
		return 0, false, err
	}

	s.writeLock.Lock()
	defer s.writeLock.Unlock()

	var value int64
	err = s.db.QueryRowContext(ctx,
		"UPDATE bot_users SET "+column+" = CASE WHEN ?1 > 0 AND ?1 > 9223372036854775807 - "+column+
			" THEN 9223372036854775807 ELSE MAX("+column+" + ?1, 0) END WHERE username = ?2 RETURNING "+column,
		delta, model.NormalizeUsername(username),
	).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("adjust %s of %s: %w", column, username, err)
	}
	return value, true, nil
}

func (s *SQLite) TopUsers(ctx context.Context, field model.Field, limit int) ([]model.UserRecord, error) {
	column, err := fieldColumn(field)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT username, display_name, points, experience FROM bot_users ORDER BY "+column+" DESC, username LIMIT ?",
		limit,
	)
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

func (s *SQLite) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close db: %w", err)
	}
	return nil
}
