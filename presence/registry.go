package presence

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"twitch-chat-bot/events"
	"twitch-chat-bot/model"
)

// UserStore — часть хранилища, нужная реестру.
type UserStore interface {
	LoadUser(ctx context.Context, username string) (model.UserRecord, bool, error)
	SaveAll(ctx context.Context, users []model.UserRecord) error
}

// Registry — единственный владелец списка зрителей онлайн.
// Карта защищена RWMutex, сохранения в хранилище идут строго по одному.
type Registry struct {
	log       *slog.Logger
	store     UserStore
	ranks     model.RankTable
	sink      events.Sink
	blacklist map[string]struct{}

	mu    sync.RWMutex
	users map[string]*model.User

	flushMu sync.Mutex
}

// New создаёт пустой реестр. Логины из blacklist не получают награды, но остаются онлайн.
func New(store UserStore, ranks model.RankTable, blacklist []string, sink events.Sink, log *slog.Logger) *Registry {
	if sink == nil {
		sink = events.Discard{}
	}

	bl := make(map[string]struct{}, len(blacklist))
	for _, name := range blacklist {
		if name = model.NormalizeUsername(name); name != "" {
			bl[name] = struct{}{}
		}
	}

	return &Registry{
		log:       log.With("component", "presence"),
		store:     store,
		ranks:     ranks,
		sink:      sink,
		blacklist: bl,
		users:     make(map[string]*model.User),
	}
}

// JoinOrGet возвращает пользователя из реестра или создаёт его, подгрузив данные из хранилища.
// Пользователь попадает в реестр уже гидрированным.
func (r *Registry) JoinOrGet(ctx context.Context, username string) *model.User {
	key := model.NormalizeUsername(username)

	r.mu.RLock()
	u, ok := r.users[key]
	r.mu.RUnlock()
	if ok {
		return u
	}

	fresh := model.NewUser(key)
	rec, found, err := r.store.LoadUser(ctx, key)
	switch {
	case err != nil:
		r.log.Warn("presence: не удалось загрузить пользователя", "user", key, "err", err)
	case found:
		fresh.Restore(rec, r.ranks)
	}

	r.mu.Lock()
	if u, ok = r.users[key]; ok {
		r.mu.Unlock()
		return u
	}
	r.users[key] = fresh
	r.mu.Unlock()

	r.sink.Emit(events.New(events.UserJoined, key))
	r.log.Debug("presence: пользователь зашёл", "user", key)
	return fresh
}

// Disconnect убирает пользователя и сохраняет всех, включая ушедшего.
// Для неизвестного пользователя ничего не делает и возвращает false.
func (r *Registry) Disconnect(ctx context.Context, username string) bool {
	key := model.NormalizeUsername(username)

	r.mu.Lock()
	u, ok := r.users[key]
	if !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.users, key)
	snapshot := r.snapshotLocked()
	r.mu.Unlock()

	if err := r.save(ctx, append(snapshot, u)); err != nil {
		r.log.Error("presence: сохранение при выходе не удалось", "user", key, "err", err)
	}

	r.sink.Emit(events.New(events.UserDisconnected, key))
	r.log.Debug("presence: пользователь вышел", "user", key)
	return true
}

// DisconnectAll сохраняет и очищает весь реестр.
func (r *Registry) DisconnectAll(ctx context.Context) {
	r.mu.Lock()
	snapshot := r.snapshotLocked()
	r.users = make(map[string]*model.User)
	r.mu.Unlock()

	if err := r.save(ctx, snapshot); err != nil {
		r.log.Error("presence: сохранение при отключении не удалось", "users", len(snapshot), "err", err)
	}
	for _, u := range snapshot {
		r.sink.Emit(events.New(events.UserDisconnected, u.Username))
	}
}

// Flush сохраняет всех пользователей онлайн одной операцией.
func (r *Registry) Flush(ctx context.Context) error {
	return r.save(ctx, r.Online())
}

// Find ищет пользователя онлайн без учёта регистра.
func (r *Registry) Find(username string) (*model.User, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.users[model.NormalizeUsername(username)]
	return u, ok
}

// Online возвращает пользователей онлайн, упорядоченных по логину.
func (r *Registry) Online() []*model.User {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked()
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users)
}

// SelectRandom выбирает случайного пользователя онлайн.
func (r *Registry) SelectRandom() (*model.User, bool) {
	return pick(r.Online())
}

// SelectRandomActive выбирает случайного пользователя, писавшего в чат за последние within.
func (r *Registry) SelectRandomActive(within time.Duration, now time.Time) (*model.User, bool) {
	var active []*model.User
	for _, u := range r.Online() {
		last, ok := u.LastMessage()
		if ok && now.Sub(last) <= within {
			active = append(active, u)
		}
	}
	return pick(active)
}

// IsBlacklisted сообщает, исключён ли логин из наград.
func (r *Registry) IsBlacklisted(username string) bool {
	_, ok := r.blacklist[model.NormalizeUsername(username)]
	return ok
}

func (r *Registry) save(ctx context.Context, users []*model.User) error {
	if len(users) == 0 {
		return nil
	}

	// Снимки берутся под flushMu: иначе более старый снимок может перезаписать новый.
	r.flushMu.Lock()
	defer r.flushMu.Unlock()

	records := make([]model.UserRecord, 0, len(users))
	for _, u := range users {
		records = append(records, u.Record())
	}

	if err := r.store.SaveAll(ctx, records); err != nil {
		return fmt.Errorf("save %d users: %w", len(records), err)
	}
	return nil
}

func (r *Registry) snapshotLocked() []*model.User {
	out := make([]*model.User, 0, len(r.users))
	for _, u := range r.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out
}

func pick(candidates []*model.User) (*model.User, bool) {
	switch len(candidates) {
	case 0:
		return nil, false
	case 1:
		return candidates[0], true
	default:
		return candidates[rand.IntN(len(candidates))], true
	}
}
