package commands

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"twitch-chat-bot/events"
	"twitch-chat-bot/model"
)

// cooldown — общий на всех флаг команды. Таймер снимает флаг только в своём поколении,
// поэтому ручной Reset не путается с уже запущенным таймером.
type cooldown struct {
	active atomic.Bool
	gen    atomic.Uint64
}

// Gate проверяет права пользователя и перезарядку команды.
type Gate struct {
	log  *slog.Logger
	sink events.Sink

	mu        sync.Mutex
	cooldowns map[*model.CommandDefinition]*cooldown
}

// NewGate создаёт проверку без активных перезарядок.
func NewGate(sink events.Sink, log *slog.Logger) *Gate {
	if sink == nil {
		sink = events.Discard{}
	}
	return &Gate{
		log:       log.With("component", "gate"),
		sink:      sink,
		cooldowns: make(map[*model.CommandDefinition]*cooldown),
	}
}

// Permitted проверяет только уровень доступа.
func (g *Gate) Permitted(def *model.CommandDefinition, user *model.User) bool {
	switch def.Permission {
	case model.PermissionBroadcaster:
		return user.IsBroadcaster()
	case model.PermissionModerator:
		return user.IsModerator()
	default:
		return true
	}
}

// Allowed разрешает запуск, если у пользователя хватает прав и команда не на перезарядке.
// Права проверяются первыми: отказ по правам не запускает перезарядку.
// Успешная проверка сразу ставит флаг, его снимет таймер через def.Cooldown.
func (g *Gate) Allowed(def *model.CommandDefinition, user *model.User) bool {
	if !g.Permitted(def, user) {
		g.log.Debug("gate: недостаточно прав", "command", def.Name(), "user", user.Username)
		return false
	}
	if def.Cooldown <= 0 {
		return true
	}

	cd := g.state(def)
	if !cd.active.CompareAndSwap(false, true) {
		n := events.New(events.CommandThrottled, user.Username)
		n.Interval = def.Cooldown
		n.Detail = def.Name()
		g.sink.Emit(n)
		g.log.Debug("gate: команда на перезарядке", "command", def.Name(), "cooldown", def.Cooldown)
		return false
	}

	gen := cd.gen.Add(1)
	time.AfterFunc(def.Cooldown, func() {
		if cd.gen.Load() == gen {
			cd.active.Store(false)
		}
	})
	return true
}

// Reset снимает перезарядку, например когда команда ничего не сделала.
func (g *Gate) Reset(def *model.CommandDefinition) {
	cd := g.state(def)
	cd.gen.Add(1)
	cd.active.Store(false)
}

// CoolingDown сообщает, стоит ли команда на перезарядке.
func (g *Gate) CoolingDown(def *model.CommandDefinition) bool {
	return g.state(def).active.Load()
}

func (g *Gate) state(def *model.CommandDefinition) *cooldown {
	g.mu.Lock()
	defer g.mu.Unlock()

	cd, ok := g.cooldowns[def]
	if !ok {
		cd = &cooldown{}
		g.cooldowns[def] = cd
	}
	return cd
}
