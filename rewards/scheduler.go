package rewards

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"twitch-chat-bot/events"
	"twitch-chat-bot/model"
)

// Kind — что начисляет планировщик.
type Kind int

const (
	KindPoints Kind = iota
	KindExperience
)

func (k Kind) String() string {
	if k == KindExperience {
		return "experience"
	}
	return "points"
}

// Config задаёт период и размер наград.
type Config struct {
	Interval      time.Duration
	ActiveReward  int64
	IdleReward    int64
	IdleThreshold time.Duration
	// RewardIdle включает награду неактивным зрителям. Планировщик опыта награждает их всегда.
	RewardIdle bool
}

// Registry — то, что планировщику нужно от реестра зрителей.
type Registry interface {
	Online() []*model.User
	IsBlacklisted(username string) bool
	Flush(ctx context.Context) error
}

// Scheduler периодически награждает зрителей онлайн.
type Scheduler struct {
	kind     Kind
	cfg      Config
	registry Registry
	ranks    model.RankTable
	sink     events.Sink
	log      *slog.Logger

	mu   sync.Mutex
	stop chan struct{}
	wg   sync.WaitGroup
}

// New создаёт остановленный планировщик.
func New(kind Kind, cfg Config, registry Registry, ranks model.RankTable, sink events.Sink, log *slog.Logger) *Scheduler {
	if sink == nil {
		sink = events.Discard{}
	}
	return &Scheduler{
		kind:     kind,
		cfg:      cfg,
		registry: registry,
		ranks:    ranks,
		sink:     sink,
		log:      log.With("component", "rewards", "kind", kind.String()),
	}
}

// Start запускает тикер. Повторный запуск только пишет предупреждение.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stop != nil {
		s.log.Warn("rewards: планировщик уже запущен")
		return
	}
	if s.cfg.Interval <= 0 {
		s.log.Warn("rewards: интервал не задан, планировщик не запущен")
		return
	}

	stop := make(chan struct{})
	s.stop = stop
	s.wg.Add(1)
	go s.loop(ctx, stop)

	s.log.Info("rewards: планировщик запущен", "interval", s.cfg.Interval)
}

// Stop останавливает тикер и ждёт текущую раздачу. Повторная остановка только пишет предупреждение.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	stop := s.stop
	s.stop = nil
	s.mu.Unlock()

	if stop == nil {
		s.log.Warn("rewards: планировщик уже остановлен")
		return
	}
	close(stop)
	s.wg.Wait()
	s.log.Info("rewards: планировщик остановлен")
}

// Running сообщает, запущен ли планировщик.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stop != nil
}

func (s *Scheduler) loop(ctx context.Context, stop <-chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case now := <-ticker.C:
			s.Sweep(ctx, now)
		}
	}
}

// Sweep — одна раздача наград. Возвращает число награждённых.
// Пропускает зрителей из чёрного списка и тех, кто ещё ничего не писал.
// В конце сохраняет всех онлайн одной операцией.
func (s *Scheduler) Sweep(ctx context.Context, now time.Time) int {
	users := s.registry.Online()
	if len(users) == 0 {
		return 0
	}

	rewarded := 0
	for _, u := range users {
		if s.registry.IsBlacklisted(u.Username) {
			continue
		}
		last, ok := u.LastMessage()
		if !ok {
			continue
		}

		amount := s.reward(now.Sub(last) < s.cfg.IdleThreshold)
		if amount <= 0 {
			continue
		}

		if s.kind == KindPoints {
			u.AddPoints(amount)
		} else if change := u.AddExperience(amount, s.ranks); change.RankedUp() {
			s.sink.Emit(events.NewRankUp(u.Username, u.DisplayName(), *change.Current))
			s.log.Info("rewards: новый ранг", "user", u.Username, "rank", change.Current.Name)
		}
		rewarded++
	}

	if err := s.registry.Flush(ctx); err != nil {
		s.log.Error("rewards: сохранение не удалось", "err", err)
	}
	s.log.Debug("rewards: раздача завершена", "online", len(users), "rewarded", rewarded)
	return rewarded
}

func (s *Scheduler) reward(active bool) int64 {
	switch {
	case active:
		return s.cfg.ActiveReward
	case s.kind == KindExperience || s.cfg.RewardIdle:
		return s.cfg.IdleReward
	default:
		return 0
	}
}
