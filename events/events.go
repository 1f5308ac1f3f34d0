package events

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"twitch-chat-bot/model"
)

// Kind — тип уведомления, публикуемого компонентами бота.
type Kind string

const (
	UserJoined       Kind = "user_joined"
	UserDisconnected Kind = "user_disconnected"
	RankUp           Kind = "rank_up"
	CommandThrottled Kind = "command_throttled"
	MessageThrottled Kind = "message_throttled"
	UnknownLine      Kind = "unknown_line"
)

// Notification — событие, которое наблюдает движок и транслирует веб-сокет.
type Notification struct {
	ID       string        `json:"id"`
	Kind     Kind          `json:"event"`
	Username string        `json:"username,omitempty"`
	Rank     string        `json:"rank,omitempty"`
	Level    int           `json:"level,omitempty"`
	Interval time.Duration `json:"interval,omitempty"`
	Detail   string        `json:"detail,omitempty"`
	At       time.Time     `json:"at"`
}

// New заполняет идентификатор и время уведомления.
func New(kind Kind, username string) Notification {
	return Notification{
		ID:       uuid.NewString(),
		Kind:     kind,
		Username: username,
		At:       time.Now().UTC(),
	}
}

// NewRankUp описывает повышение ранга; Detail хранит отображаемое имя для анонса.
func NewRankUp(username, displayName string, rank model.Rank) Notification {
	n := New(RankUp, username)
	n.Rank = rank.Name
	n.Level = rank.Level
	n.Detail = displayName
	return n
}

// Sink принимает уведомления. Emit не должен блокироваться.
type Sink interface {
	Emit(Notification)
}

// Discard — Sink, который ничего не делает.
type Discard struct{}

func (Discard) Emit(Notification) {}

// Bus раздаёт уведомления явно подписанным каналам.
// Если буфер подписчика заполнен, уведомление для него отбрасывается.
type Bus struct {
	mu     sync.RWMutex
	subs   []chan Notification
	closed bool
}

// NewBus создаёт пустую шину.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe возвращает канал с буфером size. Канал закрывается в Close.
func (b *Bus) Subscribe(size int) <-chan Notification {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Notification, size)
	if b.closed {
		close(ch)
		return ch
	}
	b.subs = append(b.subs, ch)
	return ch
}

// Emit реализует Sink.
func (b *Bus) Emit(n Notification) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- n:
		default:
		}
	}
}

// Close закрывает все каналы подписчиков.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for _, ch := range b.subs {
		close(ch)
	}
	b.subs = nil
}

// Recorder собирает уведомления в памяти. Используется в тестах.
type Recorder struct {
	mu    sync.Mutex
	items []Notification
}

func (r *Recorder) Emit(n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, n)
}

// Count возвращает число уведомлений заданного типа.
func (r *Recorder) Count(kind Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, it := range r.items {
		if it.Kind == kind {
			n++
		}
	}
	return n
}

// All возвращает копию накопленных уведомлений.
func (r *Recorder) All() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notification(nil), r.items...)
}
