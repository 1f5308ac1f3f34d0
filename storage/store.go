package storage

import (
	"context"
	"fmt"

	"twitch-chat-bot/model"
)

// Store — постоянное хранилище пользователей, рангов и каталога команд.
// Пустое или отсутствующее хранилище отдаёт пустые значения и значения по умолчанию, а не ошибку.
type Store interface {
	// LoadUser возвращает запись пользователя; false, если записи нет.
	LoadUser(ctx context.Context, username string) (model.UserRecord, bool, error)
	// SaveAll сохраняет снимки пользователей одной операцией.
	SaveAll(ctx context.Context, users []model.UserRecord) error
	// AdjustOfflineUser меняет поле пользователя, которого нет онлайн, не опуская значение ниже нуля.
	// Возвращает новое значение; false, если пользователь неизвестен.
	AdjustOfflineUser(ctx context.Context, username string, field model.Field, delta int64) (int64, bool, error)
	// TopUsers возвращает лучших пользователей по полю.
	TopUsers(ctx context.Context, field model.Field, limit int) ([]model.UserRecord, error)
	LoadRankTable(ctx context.Context) (model.RankTable, error)
	LoadCommandCatalog(ctx context.Context) ([]model.CommandDefinition, error)
	Close() error
}

func fieldColumn(f model.Field) (string, error) {
	switch f {
	case model.FieldPoints:
		return "points", nil
	case model.FieldExperience:
		return "experience", nil
	default:
		return "", fmt.Errorf("unknown field %d", f)
	}
}
