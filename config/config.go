package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Драйверы хранилища.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config агрегирует значения конфигурации из переменных окружения.
type Config struct {
	Twitch   TwitchConfig
	Storage  StorageConfig
	Postgres PostgresConfig
	Log      LogConfig

	SettingsPath string
	// EventsAddr — адрес HTTP сервера ленты уведомлений. Пустой адрес отключает ленту.
	EventsAddr string
	TokenFile  string
}

// TwitchConfig содержит учётные данные бота и канал.
type TwitchConfig struct {
	Username   string
	OAuthToken string
	Channel    string
	// ClientID и ClientSecret нужны только командам, которые ходят в Helix API.
	ClientID     string
	ClientSecret string
}

// HelixEnabled сообщает, заданы ли учётные данные приложения.
func (t TwitchConfig) HelixEnabled() bool {
	return t.ClientID != "" && t.ClientSecret != ""
}

// StorageConfig выбирает хранилище пользователей.
type StorageConfig struct {
	Driver     string
	SQLitePath string
}

// PostgresConfig хранит параметры подключения к пулу базы данных.
type PostgresConfig struct {
	Host     string
	Port     string
	DB       string
	User     string
	Password string
}

// DSN собирает строку подключения для pgx/pgxpool.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", p.User, p.Password, p.Host, p.Port, p.DB)
}

// LogConfig задаёт уровень и формат логов.
type LogConfig struct {
	Level string
	JSON  bool
}

// Load читает переменные окружения и возвращает валидированную Config.
func Load() (Config, error) {
	cfg := Config{
		Twitch: TwitchConfig{
			Username:     env("TWITCH_USERNAME"),
			OAuthToken:   env("TWITCH_OAUTH_TOKEN"),
			Channel:      strings.TrimPrefix(env("TWITCH_CHANNEL"), "#"),
			ClientID:     env("TWITCH_CLIENT_ID"),
			ClientSecret: env("TWITCH_CLIENT_SECRET"),
		},
		Storage: StorageConfig{
			Driver:     strings.ToLower(envOr("STORAGE_DRIVER", DriverSQLite)),
			SQLitePath: envOr("SQLITE_PATH", "data/chat-bot.db"),
		},
		Postgres: PostgresConfig{
			Host:     env("POSTGRES_HOST"),
			Port:     envOr("POSTGRES_PORT", "5432"),
			DB:       env("POSTGRES_DB"),
			User:     env("POSTGRES_USER"),
			Password: env("POSTGRES_PASSWORD"),
		},
		Log: LogConfig{
			Level: envOr("LOG_LEVEL", "info"),
		},
		SettingsPath: envOr("BOT_SETTINGS_PATH", "settings.yaml"),
		EventsAddr:   env("EVENTS_LISTEN_ADDR"),
		TokenFile:    envOr("TOKEN_FILE", ".secrets/twitch_tokens.json"),
	}

	if raw := env("LOG_JSON"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return Config{}, fmt.Errorf("LOG_JSON должен быть true или false: %w", err)
		}
		cfg.Log.JSON = v
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate проверяет обязательные значения. main вызывает его повторно после
// применения флагов командной строки.
func (c Config) Validate() error {
	if c.Twitch.Username == "" {
		return fmt.Errorf("требуется TWITCH_USERNAME")
	}
	if c.Twitch.OAuthToken == "" {
		return fmt.Errorf("требуется TWITCH_OAUTH_TOKEN")
	}
	if c.Twitch.Channel == "" {
		return fmt.Errorf("требуется TWITCH_CHANNEL")
	}
	if (c.Twitch.ClientID == "") != (c.Twitch.ClientSecret == "") {
		return fmt.Errorf("TWITCH_CLIENT_ID и TWITCH_CLIENT_SECRET задаются вместе")
	}

	switch c.Storage.Driver {
	case DriverSQLite:
		if c.Storage.SQLitePath == "" {
			return fmt.Errorf("требуется SQLITE_PATH")
		}
	case DriverPostgres:
		if c.Postgres.Host == "" {
			return fmt.Errorf("требуется POSTGRES_HOST")
		}
		if c.Postgres.Port == "" {
			return fmt.Errorf("требуется POSTGRES_PORT")
		}
		if c.Postgres.DB == "" {
			return fmt.Errorf("требуется POSTGRES_DB")
		}
		if c.Postgres.User == "" {
			return fmt.Errorf("требуется POSTGRES_USER")
		}
		if c.Postgres.Password == "" {
			return fmt.Errorf("требуется POSTGRES_PASSWORD")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("неизвестный STORAGE_DRIVER %q", c.Storage.Driver)
	}

	return nil
}

func env(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func envOr(key, fallback string) string {
	if v := env(key); v != "" {
		return v
	}
	return fallback
}
