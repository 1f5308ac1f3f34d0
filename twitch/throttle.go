package twitch

import (
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"twitch-chat-bot/events"
)

// Лимиты Twitch на исходящие сообщения.
const (
	ThrottleWindow   = 30 * time.Second
	RegularCeiling   = 20
	ModeratorCeiling = 100
	MaxMessageLength = 500
)

// Throttle ограничивает число исходящих сообщений в фиксированном окне.
// Таймер окна запускается при первом вызове Allow и обнуляет счётчик сам по себе.
type Throttle struct {
	log    *slog.Logger
	sink   events.Sink
	window time.Duration

	mu        sync.Mutex
	sent      int
	moderator bool
	stop      chan struct{}
}

// NewThrottle создаёт ограничитель с окном ThrottleWindow.
func NewThrottle(sink events.Sink, log *slog.Logger) *Throttle {
	if sink == nil {
		sink = events.Discard{}
	}
	return &Throttle{
		log:    log.With("component", "throttle"),
		sink:   sink,
		window: ThrottleWindow,
	}
}

// Allow решает, можно ли отправить msg, и при согласии учитывает его в окне.
func (t *Throttle) Allow(msg string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.startLocked()

	var reason string
	switch {
	case strings.TrimSpace(msg) == "":
		reason = "empty"
	case utf8.RuneCountInString(msg) > MaxMessageLength:
		reason = "too long"
	case t.sent >= t.ceilingLocked():
		reason = "window exhausted"
	}

	if reason != "" {
		n := events.New(events.MessageThrottled, "")
		n.Interval = t.window
		n.Detail = reason
		t.sink.Emit(n)
		t.log.Warn("throttle: сообщение не отправлено", "reason", reason, "sent", t.sent)
		return false
	}

	t.sent++
	return true
}

// SetModerator переключает потолок окна в зависимости от роли бота.
func (t *Throttle) SetModerator(moderator bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.moderator != moderator {
		t.log.Info("throttle: роль бота изменилась", "moderator", moderator)
	}
	t.moderator = moderator
}

// Sent возвращает число сообщений в текущем окне.
func (t *Throttle) Sent() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sent
}

// Stop останавливает таймер окна. Следующий Allow запустит его заново.
func (t *Throttle) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stop != nil {
		close(t.stop)
		t.stop = nil
	}
}

func (t *Throttle) ceilingLocked() int {
	if t.moderator {
		return ModeratorCeiling
	}
	return RegularCeiling
}

func (t *Throttle) startLocked() {
	if t.stop != nil {
		return
	}
	stop := make(chan struct{})
	t.stop = stop

	go func() {
		ticker := time.NewTicker(t.window)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				t.mu.Lock()
				t.sent = 0
				t.mu.Unlock()
			}
		}
	}()
}
