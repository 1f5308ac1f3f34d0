package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"twitch-chat-bot/commands"
	"twitch-chat-bot/config"
	"twitch-chat-bot/events"
	"twitch-chat-bot/helix"
	"twitch-chat-bot/logging"
	"twitch-chat-bot/presence"
	"twitch-chat-bot/rewards"
	"twitch-chat-bot/service"
	"twitch-chat-bot/storage"
	"twitch-chat-bot/twitch"
)

func main() {
	settingsPath := pflag.String("settings", "", "путь к YAML файлу настроек (по умолчанию BOT_SETTINGS_PATH)")
	driver := pflag.String("driver", "", "хранилище: sqlite, postgres или memory (по умолчанию STORAGE_DRIVER)")
	eventsAddr := pflag.String("events-addr", "", "адрес ленты уведомлений (по умолчанию EVENTS_LISTEN_ADDR)")
	pflag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	if *settingsPath != "" {
		cfg.SettingsPath = *settingsPath
	}
	if *driver != "" {
		cfg.Storage.Driver = *driver
	}
	if *eventsAddr != "" {
		cfg.EventsAddr = *eventsAddr
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	settings, err := config.LoadSettings(cfg.SettingsPath)
	if err != nil {
		log.Fatalf("settings load failed: %v", err)
	}

	logger := logging.New(logging.Config{Level: cfg.Log.Level, JSON: cfg.Log.JSON}, os.Stderr)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, settings, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("main: бот остановлен с ошибкой", "err", err)
		os.Exit(1)
	}
	logger.Info("main: shutting down...")
}

func run(ctx context.Context, cfg config.Config, settings config.Settings, logger *slog.Logger) error {
	catalog := &storage.Catalog{Path: settings.CatalogPath}
	store, err := openStore(ctx, cfg, catalog)
	if err != nil {
		return err
	}
	defer store.Close()

	ranks, err := store.LoadRankTable(ctx)
	if err != nil {
		return err
	}
	defs, err := store.LoadCommandCatalog(ctx)
	if err != nil {
		return err
	}

	bus := events.NewBus()
	blacklist := append([]string{cfg.Twitch.Username}, settings.Blacklist...)
	registry := presence.New(store, ranks, blacklist, bus, logger)
	matcher := commands.NewMatcher(defs)
	gate := commands.NewGate(bus, logger)

	deps := commands.Deps{
		Registry: registry,
		Ledger:   store,
		Gate:     gate,
		Commands: matcher.Definitions(),
		Sink:     bus,
		Log:      logger,
	}
	if cfg.Twitch.HelixEnabled() {
		tokens := helix.NewAppTokenManager(
			helix.FileTokenStore{Path: cfg.TokenFile},
			helix.ClientCredentials(nil, "", cfg.Twitch.ClientID, cfg.Twitch.ClientSecret),
		)
		deps.Lookup = helix.NewClient(helix.Config{
			ClientID:  cfg.Twitch.ClientID,
			Channel:   cfg.Twitch.Channel,
			UserToken: cfg.Twitch.OAuthToken,
		}, tokens, logger)
	} else {
		logger.Info("main: TWITCH_CLIENT_ID не задан, команды Helix отключены")
	}

	dispatcher, err := commands.NewDispatcher(deps, commands.Options{
		Currency: commands.Currency{
			Name:   settings.Currency.Name,
			Plural: settings.Currency.Plural,
			Unit:   settings.Currency.Unit,
		},
		ExperienceName:  settings.ExperienceName,
		Odds:            commands.Odds{Win: settings.Gamble.Win, Bonus: settings.Gamble.Bonus},
		LeaderboardSize: settings.LeaderboardSize,
		Ranks:           ranks,
	})
	if err != nil {
		return err
	}

	throttle := twitch.NewThrottle(bus, logger)
	defer throttle.Stop()

	engine := twitch.NewEngine(twitch.Config{
		Username:      cfg.Twitch.Username,
		OAuthToken:    cfg.Twitch.OAuthToken,
		Channel:       cfg.Twitch.Channel,
		Greeting:      settings.Greeting,
		Farewell:      settings.Farewell,
		RankUpMessage: settings.RankUpMessage,
		TickInterval:  settings.TickInterval,
	}, twitch.Deps{
		Registry:   registry,
		Matcher:    matcher,
		Gate:       gate,
		Dispatcher: dispatcher,
		Throttle:   throttle,
		Sink:       bus,
		Log:        logger,
	})

	schedulers := []*rewards.Scheduler{
		rewards.New(rewards.KindPoints, rewardConfig(settings.Points), registry, ranks, bus, logger),
		rewards.New(rewards.KindExperience, rewardConfig(settings.Experience), registry, ranks, bus, logger),
	}

	var hub *events.Hub
	if cfg.EventsAddr != "" {
		hub = events.NewHub(logger)
	}

	logger.Info("main: бот запускается",
		"channel", cfg.Twitch.Channel,
		"driver", cfg.Storage.Driver,
		"commands", len(defs),
		"ranks", len(ranks),
	)

	return service.New(service.Options{
		Engine:     engine,
		Schedulers: schedulers,
		Bus:        bus,
		Hub:        hub,
		EventsAddr: cfg.EventsAddr,
		Log:        logger,
	}).Run(ctx)
}

func openStore(ctx context.Context, cfg config.Config, catalog *storage.Catalog) (storage.Store, error) {
	switch cfg.Storage.Driver {
	case config.DriverPostgres:
		return storage.NewPostgres(ctx, cfg.Postgres.DSN(), catalog, 5*time.Second)
	case config.DriverMemory:
		return storage.NewMemory(catalog), nil
	default:
		return storage.NewSQLite(cfg.Storage.SQLitePath, catalog)
	}
}

func rewardConfig(s config.RewardSettings) rewards.Config {
	return rewards.Config{
		Interval:      s.Interval,
		ActiveReward:  s.ActiveReward,
		IdleReward:    s.IdleReward,
		IdleThreshold: s.IdleThreshold,
		RewardIdle:    s.RewardIdle,
	}
}
