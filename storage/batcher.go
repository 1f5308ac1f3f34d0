package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"twitch-chat-bot/model"
)

type batchSender interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

const upsertUserSQL = `
insert into bot_users (username, display_name, points, experience, last_message_at)
values ($1, $2, $3, $4, $5)
on conflict (username) do update set
  display_name    = excluded.display_name,
  points          = excluded.points,
  experience      = excluded.experience,
  last_message_at = excluded.last_message_at;`

// flushUsers отправляет снимки пользователей одним pgx.Batch и дожидается всех результатов.
func flushUsers(ctx context.Context, sender batchSender, users []model.UserRecord, timeout time.Duration) error {
	if len(users) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, u := range users {
		batch.Queue(upsertUserSQL,
			u.Username, ptr(u.DisplayName), max(u.Points, 0), max(u.Experience, 0), nullableTime(u.LastMessage),
		)
	}

	dbCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	br := sender.SendBatch(dbCtx, batch)

	var errs []error
	for range users {
		if _, err := br.Exec(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := br.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("flush %d users: %w", len(users), err)
	}
	return nil
}

func ptr[T any](v T) *T { return &v }

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	utc := t.UTC()
	return &utc
}
