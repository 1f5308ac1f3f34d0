package service

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"twitch-chat-bot/events"
	"twitch-chat-bot/rewards"
	"twitch-chat-bot/twitch"
)

// Размеры буферов подписок на шину уведомлений.
const (
	observerBuffer = 64
	feedBuffer     = 256
)

// Options — собранные компоненты бота.
type Options struct {
	Engine     *twitch.Engine
	Schedulers []*rewards.Scheduler
	Bus        *events.Bus
	// Hub транслирует уведомления по веб-сокету. nil отключает ленту.
	Hub *events.Hub
	// EventsAddr — адрес HTTP сервера ленты, например ":8080".
	EventsAddr string
	Log        *slog.Logger
}

// Service управляет жизненным циклом движка, планировщиков наград и ленты уведомлений.
type Service struct {
	opts Options
	log  *slog.Logger

	mu       sync.Mutex
	listener net.Listener
}

// New создаёт Service из уже собранных компонентов.
func New(opts Options) *Service {
	return &Service{opts: opts, log: opts.Log.With("component", "service")}
}

// Addr возвращает адрес ленты уведомлений, когда сервер запущен.
func (s *Service) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Run подписывает движок и ленту на шину, запускает планировщики и блокируется
// в цикле движка до отмены контекста.
func (s *Service) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup

	rankUps := s.opts.Bus.Subscribe(observerBuffer)
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.opts.Engine.Observe(ctx, rankUps)
	}()

	server, err := s.startFeed(ctx, &wg)
	if err != nil {
		s.opts.Bus.Close()
		wg.Wait()
		return err
	}

	for _, sch := range s.opts.Schedulers {
		sch.Start(ctx)
	}

	runErr := s.opts.Engine.Run(ctx)

	for _, sch := range s.opts.Schedulers {
		if sch.Running() {
			sch.Stop()
		}
	}

	if server != nil {
		shutdownCtx, stop := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		if err := server.Shutdown(shutdownCtx); err != nil {
			s.log.Warn("service: ошибка остановки ленты", "err", err)
		}
		stop()
	}

	s.opts.Bus.Close()
	wg.Wait()

	s.log.Info("service: остановлен")
	return runErr
}

func (s *Service) startFeed(ctx context.Context, wg *sync.WaitGroup) (*http.Server, error) {
	if s.opts.Hub == nil || s.opts.EventsAddr == "" {
		return nil, nil
	}

	ln, err := net.Listen("tcp", s.opts.EventsAddr)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	feed := s.opts.Bus.Subscribe(feedBuffer)
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.opts.Hub.Run(ctx, feed)
	}()

	mux := http.NewServeMux()
	mux.Handle("/events", s.opts.Hub)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(s.opts.Engine.State().String()))
	})

	server := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		defer wg.Done()
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("service: лента уведомлений остановилась", "err", err)
		}
	}()

	s.log.Info("service: лента уведомлений запущена", "addr", ln.Addr().String())
	return server, nil
}
