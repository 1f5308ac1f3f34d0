package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"twitch-chat-bot/model"
)

// Catalog читает таблицу рангов и каталог команд из YAML файла.
// Пустой путь или отсутствующий файл дают встроенный каталог.
type Catalog struct {
	Path string
}

type catalogFile struct {
	Ranks    []model.Rank   `yaml:"ranks"`
	Commands []commandEntry `yaml:"commands"`
}

type commandEntry struct {
	Format     string        `yaml:"format"`
	Category   string        `yaml:"category"`
	Subtype    string        `yaml:"subtype"`
	Permission string        `yaml:"permission"`
	Whisper    bool          `yaml:"whisper"`
	Cooldown   time.Duration `yaml:"cooldown"`
	Success    string        `yaml:"success"`
	Fail       string        `yaml:"fail"`
	Error      string        `yaml:"error"`
}

func (e commandEntry) definition() model.CommandDefinition {
	return model.CommandDefinition{
		Format:     strings.TrimSpace(e.Format),
		Category:   model.ParseHandlerCategory(e.Category),
		Subtype:    model.ParseHandlerSubtype(e.Subtype),
		Permission: model.ParsePermission(e.Permission),
		Whisper:    e.Whisper,
		Cooldown:   e.Cooldown,
		Messages: model.Templates{
			Success: e.Success,
			Fail:    e.Fail,
			Error:   e.Error,
		},
	}
}

// LoadRankTable возвращает таблицу рангов, упорядоченную и проверенную.
func (c *Catalog) LoadRankTable(_ context.Context) (model.RankTable, error) {
	file, found, err := c.read()
	if err != nil {
		return nil, err
	}

	ranks := model.RankTable(file.Ranks)
	if !found || len(ranks) == 0 {
		ranks = DefaultRanks()
	}

	ranks = ranks.Sorted()
	if err := ranks.Validate(); err != nil {
		return nil, fmt.Errorf("load rank table: %w", err)
	}
	return ranks, nil
}

// LoadCommandCatalog возвращает команды в порядке регистрации.
func (c *Catalog) LoadCommandCatalog(_ context.Context) ([]model.CommandDefinition, error) {
	file, found, err := c.read()
	if err != nil {
		return nil, err
	}
	if !found || len(file.Commands) == 0 {
		return DefaultCommands(), nil
	}

	defs := make([]model.CommandDefinition, 0, len(file.Commands))
	for _, e := range file.Commands {
		if strings.TrimSpace(e.Format) == "" {
			continue
		}
		defs = append(defs, e.definition())
	}
	return defs, nil
}

func (c *Catalog) read() (catalogFile, bool, error) {
	var file catalogFile
	if c == nil || strings.TrimSpace(c.Path) == "" {
		return file, false, nil
	}

	data, err := os.ReadFile(c.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return file, false, nil
		}
		return file, false, fmt.Errorf("read catalog: %w", err)
	}

	if err := yaml.Unmarshal(data, &file); err != nil {
		return file, false, fmt.Errorf("parse catalog: %w", err)
	}
	return file, true, nil
}

// DefaultRanks — таблица рангов по умолчанию.
func DefaultRanks() model.RankTable {
	return model.RankTable{
		{Name: "Newcomer", Level: 1, Threshold: 0},
		{Name: "Regular", Level: 2, Threshold: 100},
		{Name: "Adept", Level: 3, Threshold: 500},
		{Name: "Veteran", Level: 4, Threshold: 2_000},
		{Name: "Legend", Level: 5, Threshold: 10_000},
	}
}

// DefaultCommands — встроенный каталог команд.
func DefaultCommands() []model.CommandDefinition {
	entries := []commandEntry{
		{Format: "!gold", Category: "currency", Subtype: "info", Cooldown: 10 * time.Second,
			Success: "{0} has {1} {2}.", Error: "Usage: {1}"},
		{Format: "!gold {1}", Category: "currency", Subtype: "info", Cooldown: 10 * time.Second,
			Success: "{0} has {1} {2}.", Fail: "{0} was never seen here.", Error: "Usage: {1}"},
		{Format: "!addgold {0} {1}", Category: "currency", Subtype: "add", Permission: "moderator",
			Success: "{0} received {1} {2} and now has {3}.", Fail: "{0} was never seen here.", Error: "Usage: {1}"},
		{Format: "!removegold {0} {1}", Category: "currency", Subtype: "remove", Permission: "moderator",
			Success: "{0} lost {1} {2} and now has {3}.", Fail: "{0} did not have {1} {2}, balance is now {3}.", Error: "Usage: {1}"},
		{Format: "!givegold {0} {1}", Category: "currency", Subtype: "trade", Cooldown: 5 * time.Second,
			Success: "{0} gave {1} {2} to {3}.", Fail: "{0}, you cannot give {1} {2}.", Error: "Usage: {1}"},
		{Format: "!gamble {0}", Category: "currency", Subtype: "gamble", Cooldown: 30 * time.Second,
			Success: "{0} won {1} {2} (x{4}) and now has {3}!", Fail: "{0} lost {1} {2} and now has {3}.", Error: "{0}, you cannot bet that much."},
		{Format: "!top", Category: "currency", Subtype: "leaderboard", Cooldown: 30 * time.Second,
			Success: "Richest viewers: {0}"},
		{Format: "!xp", Category: "experience", Subtype: "info", Cooldown: 10 * time.Second,
			Success: "{0} has {1} XP, rank {2}. Next rank {4} at {3} XP."},
		{Format: "!addxp {0} {1}", Category: "experience", Subtype: "add", Permission: "broadcaster",
			Success: "{0} received {1} {2} and now has {3}.", Fail: "{0} was never seen here.", Error: "Usage: {1}"},
		{Format: "!removexp {0} {1}", Category: "experience", Subtype: "remove", Permission: "broadcaster",
			Success: "{0} lost {1} {2} and now has {3}.", Fail: "{0} did not have {1} {2}, now has {3}.", Error: "Usage: {1}"},
		{Format: "!xptop", Category: "experience", Subtype: "leaderboard", Cooldown: 30 * time.Second,
			Success: "Most experienced viewers: {0}"},
		{Format: "!random", Category: "meta", Subtype: "random", Permission: "moderator",
			Success: "The lucky one is {0}!", Fail: "Nobody is here."},
		{Format: "!random {0}", Category: "meta", Subtype: "random", Permission: "moderator",
			Success: "The lucky one is {0}!", Fail: "Nobody chatted recently."},
		{Format: "!color", Category: "meta", Subtype: "color", Permission: "broadcaster",
			Success: "Colored replies: {0}."},
		{Format: "!help", Category: "meta", Subtype: "help", Whisper: true, Cooldown: 5 * time.Second,
			Success: "Commands: {0}"},
		{Format: "!followage", Category: "meta", Subtype: "followage", Cooldown: 10 * time.Second,
			Success: "{0} follows since {1} ({2} days).", Fail: "{0} does not follow the channel.", Error: "Could not look up {0} right now."},
		{Format: "!userid {1}", Category: "meta", Subtype: "userid", Permission: "moderator",
			Success: "{0} has id {1}.", Error: "Could not resolve {0}."},
	}

	defs := make([]model.CommandDefinition, 0, len(entries))
	for _, e := range entries {
		defs = append(defs, e.definition())
	}
	return defs
}
