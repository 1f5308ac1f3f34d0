package model

import (
	"strings"
	"time"
)

// HandlerCategory определяет подсистему, которая исполняет команду.
type HandlerCategory int

const (
	CategoryUnknown HandlerCategory = iota
	CategoryCurrency
	CategoryExperience
	CategoryMeta
)

// ParseHandlerCategory разбирает категорию; нераспознанное значение даёт CategoryUnknown.
func ParseHandlerCategory(s string) HandlerCategory {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "currency", "points":
		return CategoryCurrency
	case "experience", "xp":
		return CategoryExperience
	case "meta", "internal":
		return CategoryMeta
	default:
		return CategoryUnknown
	}
}

func (c HandlerCategory) String() string {
	switch c {
	case CategoryCurrency:
		return "currency"
	case CategoryExperience:
		return "experience"
	case CategoryMeta:
		return "meta"
	default:
		return "unknown"
	}
}

// HandlerSubtype — конкретное действие внутри категории.
type HandlerSubtype int

const (
	SubtypeUnknown HandlerSubtype = iota
	SubtypeInfo
	SubtypeAdd
	SubtypeRemove
	SubtypeTrade
	SubtypeGamble
	SubtypeLeaderboard
	SubtypeRandomUser
	SubtypeColor
	SubtypeHelp
	SubtypeFollowage
	SubtypeUserID
)

var subtypeNames = map[string]HandlerSubtype{
	"info":        SubtypeInfo,
	"add":         SubtypeAdd,
	"remove":      SubtypeRemove,
	"trade":       SubtypeTrade,
	"gamble":      SubtypeGamble,
	"leaderboard": SubtypeLeaderboard,
	"random":      SubtypeRandomUser,
	"color":       SubtypeColor,
	"help":        SubtypeHelp,
	"followage":   SubtypeFollowage,
	"userid":      SubtypeUserID,
}

// ParseHandlerSubtype разбирает подтип; нераспознанное значение даёт SubtypeUnknown.
func ParseHandlerSubtype(s string) HandlerSubtype {
	if st, ok := subtypeNames[strings.ToLower(strings.TrimSpace(s))]; ok {
		return st
	}
	return SubtypeUnknown
}

func (s HandlerSubtype) String() string {
	for name, st := range subtypeNames {
		if st == s {
			return name
		}
	}
	return "unknown"
}

// Permission — минимальная роль, необходимая для вызова команды.
type Permission int

const (
	PermissionEveryone Permission = iota
	PermissionModerator
	PermissionBroadcaster
)

// ParsePermission разбирает уровень доступа; пустая строка и неизвестные значения — everyone.
func ParsePermission(s string) Permission {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "moderator", "mod":
		return PermissionModerator
	case "broadcaster", "owner":
		return PermissionBroadcaster
	default:
		return PermissionEveryone
	}
}

func (p Permission) String() string {
	switch p {
	case PermissionModerator:
		return "moderator"
	case PermissionBroadcaster:
		return "broadcaster"
	default:
		return "everyone"
	}
}

// Templates — ответы команды; плейсхолдеры {0}, {1}... подставляются позиционно.
type Templates struct {
	Success string
	Fail    string
	Error   string
}

// Placeholders формата команды.
const (
	NumericPlaceholder = "{0}"
	TextPlaceholder    = "{1}"
)

// CommandDefinition — описание зарегистрированной команды чата.
type CommandDefinition struct {
	Format     string
	Category   HandlerCategory
	Subtype    HandlerSubtype
	Permission Permission
	Whisper    bool
	Cooldown   time.Duration
	Messages   Templates
}

// Name возвращает первый токен формата, например "!addgold".
func (d *CommandDefinition) Name() string {
	fields := strings.Fields(d.Format)
	if len(fields) == 0 {
		return ""
	}
	return strings.ToLower(fields[0])
}
