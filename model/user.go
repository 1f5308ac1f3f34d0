package model

import (
	"math"
	"strings"
	"sync"
	"time"
)

// Field — числовое поле пользователя, которое можно менять напрямую в хранилище.
type Field int

const (
	FieldPoints Field = iota
	FieldExperience
)

func (f Field) String() string {
	if f == FieldExperience {
		return "experience"
	}
	return "points"
}

// UserRecord — снимок пользователя для сохранения в хранилище.
type UserRecord struct {
	Username    string
	DisplayName string
	Points      int64
	Experience  int64
	LastMessage time.Time
}

// User — зритель канала. Username неизменяем, остальные поля защищены мьютексом.
type User struct {
	Username string

	mu          sync.Mutex
	displayName string
	lastMessage time.Time
	points      int64
	experience  int64
	rank        *Rank
	badges      BadgeSet
}

// RankChange описывает ранг до и после изменения опыта.
type RankChange struct {
	Previous *Rank
	Current  *Rank
}

// RankedUp истинно, только если ранг вырос и до этого уже был вычислен.
func (c RankChange) RankedUp() bool {
	return c.Previous != nil && c.Current != nil && c.Current.Level > c.Previous.Level
}

// NormalizeUsername приводит логин к ключу реестра.
func NormalizeUsername(name string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(name), "@"))
}

// NewUser создаёт пользователя с нулевым балансом.
func NewUser(username string) *User {
	return &User{
		Username: NormalizeUsername(username),
		badges:   BadgeSet{},
	}
}

// Restore заполняет пользователя данными из хранилища.
func (u *User) Restore(rec UserRecord, ranks RankTable) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if rec.DisplayName != "" {
		u.displayName = rec.DisplayName
	}
	u.points = max(rec.Points, 0)
	u.experience = max(rec.Experience, 0)
	if !rec.LastMessage.IsZero() {
		u.lastMessage = rec.LastMessage
	}
	u.rank = ranks.For(u.experience)
}

// Record возвращает снимок для сохранения.
func (u *User) Record() UserRecord {
	u.mu.Lock()
	defer u.mu.Unlock()

	return UserRecord{
		Username:    u.Username,
		DisplayName: u.displayName,
		Points:      u.points,
		Experience:  u.experience,
		LastMessage: u.lastMessage,
	}
}

// Observe фиксирует отправленное сообщение: время, отображаемое имя и роли.
func (u *User) Observe(at time.Time, displayName string, badges BadgeSet) {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.lastMessage = at
	if displayName != "" {
		u.displayName = displayName
	}
	u.badges = make(BadgeSet, len(badges))
	for b := range badges {
		u.badges[b] = struct{}{}
	}
}

func (u *User) DisplayName() string {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.displayName == "" {
		return u.Username
	}
	return u.displayName
}

// LastMessage возвращает время последнего сообщения; false, если сообщений не было.
func (u *User) LastMessage() (time.Time, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()

	return u.lastMessage, !u.lastMessage.IsZero()
}

func (u *User) IsBroadcaster() bool {
	u.mu.Lock()
	defer u.mu.Unlock()

	return u.badges.Has(BadgeBroadcaster)
}

// IsModerator истинно и для владельца канала.
func (u *User) IsModerator() bool {
	u.mu.Lock()
	defer u.mu.Unlock()

	return u.badges.IsModerator()
}

func (u *User) Points() int64 {
	u.mu.Lock()
	defer u.mu.Unlock()

	return u.points
}

// AddPoints начисляет очки и возвращает новый баланс.
func (u *User) AddPoints(n int64) int64 {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.points = ClampAdd(u.points, n)
	return u.points
}

// RemovePoints списывает очки, не опуская баланс ниже нуля.
// clamped истинно, если списать полную сумму не удалось.
func (u *User) RemovePoints(n int64) (balance int64, clamped bool) {
	u.mu.Lock()
	defer u.mu.Unlock()

	clamped = u.points < n
	u.points = ClampAdd(u.points, -n)
	return u.points, clamped
}

// TryRemovePoints списывает очки, только если их хватает.
func (u *User) TryRemovePoints(n int64) (int64, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if n < 0 || u.points < n {
		return u.points, ErrInsufficientFunds
	}
	u.points -= n
	return u.points, nil
}

func (u *User) Experience() int64 {
	u.mu.Lock()
	defer u.mu.Unlock()

	return u.experience
}

// AddExperience начисляет опыт и пересчитывает ранг.
func (u *User) AddExperience(n int64, ranks RankTable) RankChange {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.experience = ClampAdd(u.experience, n)
	return u.refreshRankLocked(ranks)
}

// RemoveExperience списывает опыт с ограничением нулём и пересчитывает ранг.
func (u *User) RemoveExperience(n int64, ranks RankTable) (xp int64, clamped bool) {
	u.mu.Lock()
	defer u.mu.Unlock()

	clamped = u.experience < n
	u.experience = ClampAdd(u.experience, -n)
	u.refreshRankLocked(ranks)
	return u.experience, clamped
}

// Rank возвращает копию текущего ранга или nil, если он ещё не вычислен.
func (u *User) Rank() *Rank {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.rank == nil {
		return nil
	}
	r := *u.rank
	return &r
}

func (u *User) refreshRankLocked(ranks RankTable) RankChange {
	change := RankChange{Previous: u.rank}
	u.rank = ranks.For(u.experience)
	change.Current = u.rank
	return change
}

// ClampAdd складывает с насыщением: результат не уходит ниже нуля и не переполняет int64.
func ClampAdd(v, delta int64) int64 {
	if delta > 0 && v > math.MaxInt64-delta {
		return math.MaxInt64
	}
	v += delta
	if v < 0 {
		return 0
	}
	return v
}
