package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Settings — поведение бота, которое стример настраивает в YAML файле.
type Settings struct {
	Currency       CurrencySettings `yaml:"currency"`
	ExperienceName string           `yaml:"experience_name"`

	Greeting      string `yaml:"greeting"`
	Farewell      string `yaml:"farewell"`
	RankUpMessage string `yaml:"rank_up_message"`

	Blacklist []string `yaml:"blacklist"`

	Points     RewardSettings `yaml:"points"`
	Experience RewardSettings `yaml:"experience"`
	Gamble     GambleSettings `yaml:"gamble"`

	TickInterval    time.Duration `yaml:"tick_interval"`
	LeaderboardSize int           `yaml:"leaderboard_size"`
	// CatalogPath — YAML файл с рангами и командами. Пустой путь даёт встроенный каталог.
	CatalogPath string `yaml:"catalog_path"`
}

// CurrencySettings — названия валюты канала.
type CurrencySettings struct {
	Name   string `yaml:"name"`
	Plural string `yaml:"plural"`
	Unit   string `yaml:"unit"`
}

// RewardSettings — параметры одного планировщика наград.
type RewardSettings struct {
	Interval      time.Duration `yaml:"interval"`
	ActiveReward  int64         `yaml:"active_reward"`
	IdleReward    int64         `yaml:"idle_reward"`
	IdleThreshold time.Duration `yaml:"idle_threshold"`
	RewardIdle    bool          `yaml:"reward_idle"`
}

// GambleSettings — вероятности в процентах. Сумма должна быть меньше 100.
type GambleSettings struct {
	Win   int `yaml:"win"`
	Bonus int `yaml:"bonus"`
}

// DefaultSettings возвращает настройки, с которыми бот работает без файла.
func DefaultSettings() Settings {
	s := Settings{}
	s.applyDefaults()
	return s
}

// LoadSettings читает настройки из YAML файла. Отсутствующий файл даёт
// настройки по умолчанию; незаданные поля заполняются значениями по умолчанию.
func LoadSettings(path string) (Settings, error) {
	var s Settings

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return Settings{}, fmt.Errorf("read settings: %w", err)
	default:
		if err := yaml.Unmarshal(data, &s); err != nil {
			return Settings{}, fmt.Errorf("parse settings: %w", err)
		}
	}

	s.applyDefaults()
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

func (s *Settings) applyDefaults() {
	if s.Currency.Name == "" {
		s.Currency.Name = "point"
	}
	if s.Currency.Plural == "" {
		s.Currency.Plural = s.Currency.Name + "s"
	}
	if s.ExperienceName == "" {
		s.ExperienceName = "XP"
	}
	if s.RankUpMessage == "" {
		s.RankUpMessage = "{0} is now {1}!"
	}

	if s.Points.Interval == 0 {
		s.Points.Interval = 10 * time.Minute
	}
	if s.Points.ActiveReward == 0 {
		s.Points.ActiveReward = 10
	}
	if s.Points.IdleThreshold == 0 {
		s.Points.IdleThreshold = 15 * time.Minute
	}

	if s.Experience.Interval == 0 {
		s.Experience.Interval = time.Minute
	}
	if s.Experience.ActiveReward == 0 {
		s.Experience.ActiveReward = 5
	}
	if s.Experience.IdleReward == 0 {
		s.Experience.IdleReward = 1
	}
	if s.Experience.IdleThreshold == 0 {
		s.Experience.IdleThreshold = 15 * time.Minute
	}

	if s.Gamble.Win == 0 && s.Gamble.Bonus == 0 {
		s.Gamble = GambleSettings{Win: 40, Bonus: 5}
	}
	if s.TickInterval == 0 {
		s.TickInterval = 200 * time.Millisecond
	}
	if s.LeaderboardSize == 0 {
		s.LeaderboardSize = 5
	}

	blacklist := s.Blacklist[:0]
	for _, name := range s.Blacklist {
		if name = strings.TrimSpace(name); name != "" {
			blacklist = append(blacklist, name)
		}
	}
	s.Blacklist = blacklist
}

// Validate проверяет значения после применения умолчаний.
func (s Settings) Validate() error {
	if s.Gamble.Win < 0 || s.Gamble.Bonus < 0 {
		return fmt.Errorf("gamble: вероятности не могут быть отрицательными")
	}
	if s.Gamble.Win+s.Gamble.Bonus >= 100 {
		return fmt.Errorf("gamble: сумма win и bonus должна быть меньше 100, получено %d", s.Gamble.Win+s.Gamble.Bonus)
	}
	if s.Points.Interval <= 0 {
		return fmt.Errorf("points.interval должен быть больше нуля")
	}
	if s.Experience.Interval <= 0 {
		return fmt.Errorf("experience.interval должен быть больше нуля")
	}
	if s.Points.IdleThreshold <= 0 || s.Experience.IdleThreshold <= 0 {
		return fmt.Errorf("idle_threshold должен быть больше нуля")
	}
	if s.Points.ActiveReward < 0 || s.Points.IdleReward < 0 || s.Experience.ActiveReward < 0 || s.Experience.IdleReward < 0 {
		return fmt.Errorf("награды не могут быть отрицательными")
	}
	if s.TickInterval <= 0 {
		return fmt.Errorf("tick_interval должен быть больше нуля")
	}
	if s.LeaderboardSize <= 0 {
		return fmt.Errorf("leaderboard_size должен быть больше нуля")
	}
	return nil
}
