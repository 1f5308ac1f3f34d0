package model

import "strings"

// Badge — роль пользователя, полученная из тега badges сообщения.
type Badge int

const (
	BadgeUnknown Badge = iota
	BadgeBroadcaster
	BadgeModerator
	BadgeSubscriber
	BadgeVIP
	BadgeStaff
	BadgePartner
)

var badgeNames = map[string]Badge{
	"broadcaster": BadgeBroadcaster,
	"moderator":   BadgeModerator,
	"subscriber":  BadgeSubscriber,
	"founder":     BadgeSubscriber,
	"vip":         BadgeVIP,
	"staff":       BadgeStaff,
	"admin":       BadgeStaff,
	"partner":     BadgePartner,
}

// ParseBadge сопоставляет токен бейджа с перечислением.
// Неизвестные токены дают BadgeUnknown, ошибки не бывает.
func ParseBadge(token string) Badge {
	if b, ok := badgeNames[strings.ToLower(strings.TrimSpace(token))]; ok {
		return b
	}
	return BadgeUnknown
}

func (b Badge) String() string {
	switch b {
	case BadgeBroadcaster:
		return "broadcaster"
	case BadgeModerator:
		return "moderator"
	case BadgeSubscriber:
		return "subscriber"
	case BadgeVIP:
		return "vip"
	case BadgeStaff:
		return "staff"
	case BadgePartner:
		return "partner"
	default:
		return "unknown"
	}
}

// BadgeSet — набор ролей пользователя.
type BadgeSet map[Badge]struct{}

// NewBadgeSet собирает набор из списка бейджей.
func NewBadgeSet(badges ...Badge) BadgeSet {
	set := make(BadgeSet, len(badges))
	for _, b := range badges {
		set[b] = struct{}{}
	}
	return set
}

// Has сообщает, есть ли бейдж в наборе.
func (s BadgeSet) Has(b Badge) bool {
	_, ok := s[b]
	return ok
}

// IsModerator истинно и для модераторов, и для владельца канала.
func (s BadgeSet) IsModerator() bool {
	return s.Has(BadgeModerator) || s.Has(BadgeBroadcaster)
}
