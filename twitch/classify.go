package twitch

import (
	"log/slog"
	"strings"
	"time"

	twitchirc "github.com/gempir/go-twitch-irc/v4"

	"twitch-chat-bot/model"
)

// Event — результат классификации одной строки протокола.
type Event interface {
	isEvent()
}

// ChatEvent — сообщение в чате канала.
type ChatEvent struct {
	Message model.ChatMessage
}

// JoinEvent — пользователь зашёл в канал.
type JoinEvent struct {
	Username string
}

// PartEvent — пользователь покинул канал.
type PartEvent struct {
	Username string
}

// StateEvent — USERSTATE с ролями самого бота в канале.
type StateEvent struct {
	Username string
	Badges   model.BadgeSet
}

// KeepaliveEvent — PING от сервера.
type KeepaliveEvent struct {
	Payload string
}

// UnknownEvent — строка без известного маркера.
type UnknownEvent struct {
	Raw string
}

func (ChatEvent) isEvent()      {}
func (JoinEvent) isEvent()      {}
func (PartEvent) isEvent()      {}
func (StateEvent) isEvent()     {}
func (KeepaliveEvent) isEvent() {}
func (UnknownEvent) isEvent()   {}

const (
	markerChat  = " PRIVMSG #"
	markerJoin  = " JOIN #"
	markerPart  = " PART #"
	markerState = " USERSTATE #"
	markerPing  = "PING"
)

// Classify разбирает строку по маркерам в фиксированном порядке: чат, вход, выход,
// состояние, PING. Первое совпадение выигрывает, остальное — UnknownEvent.
// Нераспознанные бейджи пишутся в лог на уровне debug и превращаются в BadgeUnknown.
func Classify(line string, log *slog.Logger) Event {
	line = strings.TrimRight(line, "\r\n")

	switch {
	case strings.Contains(line, markerChat):
		return classifyChat(line, log)
	case strings.Contains(line, markerJoin):
		return JoinEvent{Username: prefixLogin(line)}
	case strings.Contains(line, markerPart):
		return PartEvent{Username: prefixLogin(line)}
	case strings.Contains(line, markerState):
		return classifyState(line, log)
	case strings.HasPrefix(line, markerPing):
		return KeepaliveEvent{Payload: strings.TrimSpace(strings.TrimPrefix(line, markerPing))}
	default:
		return UnknownEvent{Raw: line}
	}
}

func classifyChat(line string, log *slog.Logger) Event {
	pm, ok := twitchirc.ParseMessage(line).(*twitchirc.PrivateMessage)
	if !ok {
		return UnknownEvent{Raw: line}
	}

	username := model.NormalizeUsername(pm.User.Name)
	if username == "" {
		username = prefixLogin(line)
	}

	sentAt := pm.Time
	if sentAt.IsZero() {
		sentAt = time.Now().UTC()
	}

	return ChatEvent{Message: model.ChatMessage{
		ID:          pm.ID,
		Channel:     normalizeChannel(pm.Channel),
		Username:    username,
		DisplayName: pm.User.DisplayName,
		Text:        strings.TrimSpace(pm.Message),
		Badges:      badgeSet(pm.User.Badges, log),
		SentAt:      sentAt,
	}}
}

func classifyState(line string, log *slog.Logger) Event {
	us, ok := twitchirc.ParseMessage(line).(*twitchirc.UserStateMessage)
	if !ok {
		return UnknownEvent{Raw: line}
	}

	username := model.NormalizeUsername(us.User.Name)
	if username == "" {
		username = model.NormalizeUsername(us.User.DisplayName)
	}
	return StateEvent{Username: username, Badges: badgeSet(us.User.Badges, log)}
}

func badgeSet(raw map[string]int, log *slog.Logger) model.BadgeSet {
	set := make(model.BadgeSet, len(raw))
	for token := range raw {
		b := model.ParseBadge(token)
		if b == model.BadgeUnknown && log != nil {
			log.Debug("twitch: неизвестный бейдж", "badge", token)
		}
		set[b] = struct{}{}
	}
	return set
}

// prefixLogin достаёт логин из префикса вида ":login!login@login.tmi.twitch.tv".
func prefixLogin(line string) string {
	if strings.HasPrefix(line, "@") {
		if _, rest, ok := strings.Cut(line, " "); ok {
			line = rest
		}
	}
	if !strings.HasPrefix(line, ":") {
		return ""
	}
	login, _, ok := strings.Cut(line[1:], "!")
	if !ok {
		return ""
	}
	return model.NormalizeUsername(login)
}

func normalizeChannel(ch string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ch), "#"))
}
