package storage

import (
	"context"
	"sort"
	"sync"

	"twitch-chat-bot/model"
)

// Memory хранит пользователей в памяти процесса. Подходит для пробных запусков и тестов.
type Memory struct {
	*Catalog

	mu    sync.Mutex
	users map[string]model.UserRecord
	saves int
}

var _ Store = (*Memory)(nil)

// NewMemory создаёт пустое хранилище в памяти.
func NewMemory(catalog *Catalog) *Memory {
	if catalog == nil {
		catalog = &Catalog{}
	}
	return &Memory{
		Catalog: catalog,
		users:   make(map[string]model.UserRecord),
	}
}

// Put кладёт запись напрямую, минуя SaveAll.
func (m *Memory) Put(rec model.UserRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[model.NormalizeUsername(rec.Username)] = rec
}

// SaveCount возвращает число вызовов SaveAll с непустым набором.
func (m *Memory) SaveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

func (m *Memory) LoadUser(_ context.Context, username string) (model.UserRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.users[model.NormalizeUsername(username)]
	return rec, ok, nil
}

func (m *Memory) SaveAll(_ context.Context, users []model.UserRecord) error {
	if len(users) == 0 {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, u := range users {
		m.users[u.Username] = u
	}
	m.saves++
	return nil
}

func (m *Memory) AdjustOfflineUser(_ context.Context, username string, field model.Field, delta int64) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := model.NormalizeUsername(username)
	rec, ok := m.users[key]
	if !ok {
		return 0, false, nil
	}

	target := &rec.Points
	if field == model.FieldExperience {
		target = &rec.Experience
	}
	*target = model.ClampAdd(*target, delta)
	m.users[key] = rec
	return *target, true, nil
}

func (m *Memory) TopUsers(_ context.Context, field model.Field, limit int) ([]model.UserRecord, error) {
	m.mu.Lock()
	out := make([]model.UserRecord, 0, len(m.users))
	for _, u := range m.users {
		out = append(out, u)
	}
	m.mu.Unlock()

	value := func(r model.UserRecord) int64 {
		if field == model.FieldExperience {
			return r.Experience
		}
		return r.Points
	}
	sort.Slice(out, func(i, j int) bool {
		if value(out[i]) != value(out[j]) {
			return value(out[i]) > value(out[j])
		}
		return out[i].Username < out[j].Username
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) Close() error { return nil }
