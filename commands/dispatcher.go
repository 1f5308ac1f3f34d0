package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"twitch-chat-bot/events"
	"twitch-chat-bot/model"
)

// UnknownHandler — ответ на команду с неизвестным обработчиком.
const UnknownHandler = "unknown handler"

// Registry — доступ диспетчера к зрителям онлайн.
type Registry interface {
	Find(username string) (*model.User, bool)
	SelectRandom() (*model.User, bool)
	SelectRandomActive(within time.Duration, now time.Time) (*model.User, bool)
	Flush(ctx context.Context) error
}

// Ledger — операции хранилища для пользователей не в сети и таблиц лидеров.
type Ledger interface {
	LoadUser(ctx context.Context, username string) (model.UserRecord, bool, error)
	AdjustOfflineUser(ctx context.Context, username string, field model.Field, delta int64) (int64, bool, error)
	TopUsers(ctx context.Context, field model.Field, limit int) ([]model.UserRecord, error)
}

// Lookup — внешний API платформы.
type Lookup interface {
	GetFollowInfo(ctx context.Context, login string) (model.FollowInfo, error)
	ResolveUserID(ctx context.Context, login string) (string, error)
}

// Currency — названия валюты канала.
type Currency struct {
	Name   string
	Plural string
	Unit   string
}

// Word возвращает форму названия для количества n.
func (c Currency) Word(n int64) string {
	if n == 1 || c.Plural == "" {
		return c.Name
	}
	return c.Plural
}

// Odds — шансы азартной игры в процентах.
type Odds struct {
	Win   int
	Bonus int
}

// Validate требует неотрицательные шансы с суммой меньше 100.
func (o Odds) Validate() error {
	if o.Win < 0 || o.Bonus < 0 || o.Win+o.Bonus >= 100 {
		return fmt.Errorf("%w: win=%d bonus=%d", model.ErrInvalidOdds, o.Win, o.Bonus)
	}
	return nil
}

// Options — настройки диспетчера.
type Options struct {
	Currency        Currency
	ExperienceName  string
	Odds            Odds
	LeaderboardSize int
	Ranks           model.RankTable
}

// Deps — зависимости диспетчера.
type Deps struct {
	Registry Registry
	Ledger   Ledger
	Lookup   Lookup
	Gate     *Gate
	Commands []*model.CommandDefinition
	Sink     events.Sink
	Log      *slog.Logger
}

// Reply — ответ команды. Пустой Text означает, что отвечать не нужно.
type Reply struct {
	Text    string
	Whisper bool
	To      string
}

// Dispatcher исполняет распознанные и разрешённые команды.
// Доменные ошибки превращаются в шаблоны ответа и наружу не выходят.
type Dispatcher struct {
	deps Deps
	opts Options
	log  *slog.Logger

	colored atomic.Bool
	draw    func(n int) int
	now     func() time.Time
}

// NewDispatcher проверяет настройки и собирает диспетчер.
func NewDispatcher(deps Deps, opts Options) (*Dispatcher, error) {
	if err := opts.Odds.Validate(); err != nil {
		return nil, err
	}
	if deps.Sink == nil {
		deps.Sink = events.Discard{}
	}
	if opts.LeaderboardSize <= 0 {
		opts.LeaderboardSize = 5
	}
	if opts.ExperienceName == "" {
		opts.ExperienceName = "XP"
	}

	return &Dispatcher{
		deps: deps,
		opts: opts,
		log:  deps.Log.With("component", "dispatcher"),
		draw: rand.IntN,
		now:  time.Now,
	}, nil
}

// Colored сообщает, включены ли ответы через /me.
func (d *Dispatcher) Colored() bool {
	return d.colored.Load()
}

// Async истинно для команд, которые ходят во внешний API и не должны держать цикл чтения.
func (d *Dispatcher) Async(def *model.CommandDefinition) bool {
	if def.Category != model.CategoryMeta {
		return false
	}
	return def.Subtype == model.SubtypeFollowage || def.Subtype == model.SubtypeUserID
}

// Dispatch исполняет команду от имени sender.
func (d *Dispatcher) Dispatch(ctx context.Context, m Match, sender *model.User) Reply {
	def := m.Definition

	var text string
	switch def.Category {
	case model.CategoryCurrency:
		text = d.currency(ctx, def, m.Args, sender)
	case model.CategoryExperience:
		text = d.experience(ctx, def, m.Args, sender)
	case model.CategoryMeta:
		text = d.meta(ctx, def, m.Args, sender)
	default:
		text = UnknownHandler
	}

	if text == "" {
		return Reply{}
	}
	if def.Whisper {
		return Reply{Text: text, Whisper: true, To: sender.Username}
	}
	return Reply{Text: text}
}

func (d *Dispatcher) currency(ctx context.Context, def *model.CommandDefinition, args []string, sender *model.User) string {
	switch def.Subtype {
	case model.SubtypeInfo:
		return d.info(ctx, def, args, sender, model.FieldPoints)
	case model.SubtypeAdd:
		return d.adjust(ctx, def, args, sender, model.FieldPoints, +1)
	case model.SubtypeRemove:
		return d.adjust(ctx, def, args, sender, model.FieldPoints, -1)
	case model.SubtypeTrade:
		return d.trade(ctx, def, args, sender)
	case model.SubtypeGamble:
		return d.gamble(ctx, def, args, sender)
	case model.SubtypeLeaderboard:
		return d.leaderboard(ctx, def, args, sender, model.FieldPoints)
	default:
		return UnknownHandler
	}
}

func (d *Dispatcher) experience(ctx context.Context, def *model.CommandDefinition, args []string, sender *model.User) string {
	switch def.Subtype {
	case model.SubtypeInfo:
		return d.info(ctx, def, args, sender, model.FieldExperience)
	case model.SubtypeAdd:
		return d.adjust(ctx, def, args, sender, model.FieldExperience, +1)
	case model.SubtypeRemove:
		return d.adjust(ctx, def, args, sender, model.FieldExperience, -1)
	case model.SubtypeLeaderboard:
		return d.leaderboard(ctx, def, args, sender, model.FieldExperience)
	default:
		return UnknownHandler
	}
}

func (d *Dispatcher) meta(ctx context.Context, def *model.CommandDefinition, args []string, sender *model.User) string {
	switch def.Subtype {
	case model.SubtypeRandomUser:
		return d.random(def, args, sender)
	case model.SubtypeColor:
		return d.color(def, args, sender)
	case model.SubtypeHelp:
		return d.help(def, args, sender)
	case model.SubtypeFollowage:
		return d.followage(ctx, def, args, sender)
	case model.SubtypeUserID:
		return d.userID(ctx, def, args, sender)
	default:
		return UnknownHandler
	}
}

// info: без аргументов — про отправителя, с одним — про указанного пользователя.
func (d *Dispatcher) info(ctx context.Context, def *model.CommandDefinition, args []string, sender *model.User, field model.Field) string {
	if len(args) > 1 {
		return d.fail(def, sender, model.ErrInvalidArgument)
	}

	name, rec, found, err := d.resolve(ctx, args, sender)
	if err != nil {
		return d.fail(def, sender, err)
	}
	if !found {
		return Render(def.Messages.Fail, name)
	}

	if field == model.FieldPoints {
		return Render(def.Messages.Success, rec.DisplayName, rec.Points, d.opts.Currency.Word(rec.Points), d.opts.Currency.Unit)
	}

	rankName, nextAt, nextName := "-", rec.Experience, "-"
	current := d.opts.Ranks.For(rec.Experience)
	if current != nil {
		rankName = current.Name
	}
	if next := d.opts.Ranks.Next(current); next != nil {
		nextAt, nextName = next.Threshold, next.Name
	}
	return Render(def.Messages.Success, rec.DisplayName, rec.Experience, rankName, nextAt, nextName)
}

// resolve находит пользователя онлайн, а если его нет — в хранилище.
func (d *Dispatcher) resolve(ctx context.Context, args []string, sender *model.User) (string, model.UserRecord, bool, error) {
	if len(args) == 0 {
		rec := sender.Record()
		rec.DisplayName = sender.DisplayName()
		return rec.DisplayName, rec, true, nil
	}

	name := model.NormalizeUsername(args[0])
	if u, ok := d.deps.Registry.Find(name); ok {
		rec := u.Record()
		rec.DisplayName = u.DisplayName()
		return rec.DisplayName, rec, true, nil
	}

	rec, found, err := d.deps.Ledger.LoadUser(ctx, name)
	if err != nil {
		return name, model.UserRecord{}, false, fmt.Errorf("load %s: %w", name, err)
	}
	if rec.DisplayName == "" {
		rec.DisplayName = name
	}
	return name, rec, found, nil
}

// adjust начисляет (sign > 0) или списывает (sign < 0) очки либо опыт.
func (d *Dispatcher) adjust(ctx context.Context, def *model.CommandDefinition, args []string, sender *model.User, field model.Field, sign int64) string {
	if len(args) != 2 {
		return d.fail(def, sender, model.ErrInvalidArgument)
	}
	amount, err := parseAmount(args[0])
	if err != nil {
		return d.fail(def, sender, err)
	}
	if amount == 0 {
		d.deps.Gate.Reset(def)
		return ""
	}

	name := model.NormalizeUsername(args[1])
	word := d.word(field, amount)

	target, online := d.deps.Registry.Find(name)
	if !online {
		return d.adjustOffline(ctx, def, sender, name, field, sign*amount, word, amount)
	}

	var (
		balance int64
		clamped bool
	)
	switch {
	case field == model.FieldPoints && sign > 0:
		balance = target.AddPoints(amount)
	case field == model.FieldPoints:
		balance, clamped = target.RemovePoints(amount)
	case sign > 0:
		change := target.AddExperience(amount, d.opts.Ranks)
		d.notifyRankUp(target, change)
		balance = target.Experience()
	default:
		balance, clamped = target.RemoveExperience(amount, d.opts.Ranks)
	}
	d.flush(ctx)

	display := target.DisplayName()
	if clamped {
		return Render(def.Messages.Fail, display, amount, word, balance)
	}
	return Render(def.Messages.Success, display, amount, word, balance)
}

func (d *Dispatcher) adjustOffline(ctx context.Context, def *model.CommandDefinition, sender *model.User, name string, field model.Field, delta int64, word string, amount int64) string {
	var (
		before  int64
		display = name
	)
	if delta < 0 || field == model.FieldExperience {
		rec, found, err := d.deps.Ledger.LoadUser(ctx, name)
		if err != nil {
			return d.fail(def, sender, err)
		}
		if !found {
			return Render(def.Messages.Fail, name, amount, word, 0)
		}
		before = rec.Points
		if field == model.FieldExperience {
			before = rec.Experience
		}
		if rec.DisplayName != "" {
			display = rec.DisplayName
		}
	}

	balance, found, err := d.deps.Ledger.AdjustOfflineUser(ctx, name, field, delta)
	if err != nil {
		return d.fail(def, sender, err)
	}
	if !found || (delta < 0 && before < -delta) {
		return Render(def.Messages.Fail, name, amount, word, balance)
	}
	if field == model.FieldExperience && delta > 0 {
		change := model.RankChange{Previous: d.opts.Ranks.For(before), Current: d.opts.Ranks.For(balance)}
		if change.RankedUp() {
			d.deps.Sink.Emit(events.NewRankUp(name, display, *change.Current))
		}
	}
	return Render(def.Messages.Success, name, amount, word, balance)
}

// trade переводит очки от отправителя другому зрителю.
func (d *Dispatcher) trade(ctx context.Context, def *model.CommandDefinition, args []string, sender *model.User) string {
	if len(args) != 2 {
		return d.fail(def, sender, model.ErrInvalidArgument)
	}
	amount, err := parseAmount(args[0])
	if err != nil {
		return d.fail(def, sender, err)
	}
	if amount == 0 {
		d.deps.Gate.Reset(def)
		return ""
	}

	name := model.NormalizeUsername(args[1])
	word := d.opts.Currency.Word(amount)
	from := sender.DisplayName()

	if name == sender.Username {
		return Render(def.Messages.Fail, from, amount, word, name, sender.Points())
	}

	balance, err := sender.TryRemovePoints(amount)
	if err != nil {
		return Render(def.Messages.Fail, from, amount, word, name, balance)
	}

	to := name
	if target, ok := d.deps.Registry.Find(name); ok {
		target.AddPoints(amount)
		to = target.DisplayName()
	} else {
		_, found, err := d.deps.Ledger.AdjustOfflineUser(ctx, name, model.FieldPoints, amount)
		if err != nil || !found {
			refunded := sender.AddPoints(amount)
			if err != nil {
				return d.fail(def, sender, err)
			}
			return Render(def.Messages.Fail, from, amount, word, name, refunded)
		}
	}

	d.flush(ctx)
	return Render(def.Messages.Success, from, amount, word, to, balance)
}

// gamble: r < bonus — тройной выигрыш, r < bonus+win — двойной, иначе ставка сгорает.
func (d *Dispatcher) gamble(ctx context.Context, def *model.CommandDefinition, args []string, sender *model.User) string {
	if len(args) != 1 {
		return d.fail(def, sender, model.ErrInvalidArgument)
	}
	amount, err := parseAmount(args[0])
	if err != nil {
		return d.fail(def, sender, err)
	}
	if amount == 0 {
		d.deps.Gate.Reset(def)
		return ""
	}

	if _, err := sender.TryRemovePoints(amount); err != nil {
		return d.fail(def, sender, err)
	}

	multiplier := d.multiplier(d.draw(100))
	name := sender.DisplayName()
	word := d.opts.Currency.Word(amount)

	var text string
	if multiplier > 0 {
		balance := sender.AddPoints(amount * multiplier)
		won := amount * (multiplier - 1)
		text = Render(def.Messages.Success, name, won, d.opts.Currency.Word(won), balance, multiplier)
	} else {
		text = Render(def.Messages.Fail, name, amount, word, sender.Points())
	}

	d.flush(ctx)
	return text
}

func (d *Dispatcher) multiplier(r int) int64 {
	switch {
	case r < d.opts.Odds.Bonus:
		return 3
	case r < d.opts.Odds.Bonus+d.opts.Odds.Win:
		return 2
	default:
		return 0
	}
}

func (d *Dispatcher) leaderboard(ctx context.Context, def *model.CommandDefinition, args []string, sender *model.User, field model.Field) string {
	if len(args) != 0 {
		return d.fail(def, sender, model.ErrInvalidArgument)
	}

	d.flush(ctx)
	top, err := d.deps.Ledger.TopUsers(ctx, field, d.opts.LeaderboardSize)
	if err != nil {
		return d.fail(def, sender, err)
	}
	if len(top) == 0 {
		return Render(def.Messages.Fail, d.word(field, 2))
	}

	entries := make([]string, 0, len(top))
	for i, rec := range top {
		name := rec.DisplayName
		if name == "" {
			name = rec.Username
		}
		value := rec.Points
		if field == model.FieldExperience {
			value = rec.Experience
		}
		entries = append(entries, fmt.Sprintf("%d. %s (%d)", i+1, name, value))
	}
	return Render(def.Messages.Success, strings.Join(entries, ", "), d.word(field, 2))
}

// random: без аргументов — любой зритель онлайн, с числом N — писавший за последние N минут.
func (d *Dispatcher) random(def *model.CommandDefinition, args []string, sender *model.User) string {
	var (
		picked *model.User
		ok     bool
	)
	switch len(args) {
	case 0:
		picked, ok = d.deps.Registry.SelectRandom()
	case 1:
		minutes, err := parseAmount(args[0])
		if err != nil {
			return d.fail(def, sender, err)
		}
		minutes = min(minutes, maxWindowMinutes)
		picked, ok = d.deps.Registry.SelectRandomActive(time.Duration(minutes)*time.Minute, d.now())
	default:
		return d.fail(def, sender, model.ErrInvalidArgument)
	}

	if !ok {
		return Render(def.Messages.Fail, sender.DisplayName())
	}
	return Render(def.Messages.Success, picked.DisplayName())
}

func (d *Dispatcher) color(def *model.CommandDefinition, args []string, sender *model.User) string {
	if len(args) != 0 {
		return d.fail(def, sender, model.ErrInvalidArgument)
	}

	for {
		old := d.colored.Load()
		if d.colored.CompareAndSwap(old, !old) {
			state := "off"
			if !old {
				state = "on"
			}
			return Render(def.Messages.Success, state)
		}
	}
}

func (d *Dispatcher) help(def *model.CommandDefinition, args []string, sender *model.User) string {
	if len(args) != 0 {
		return d.fail(def, sender, model.ErrInvalidArgument)
	}

	formats := make([]string, 0, len(d.deps.Commands))
	for _, c := range d.deps.Commands {
		if d.deps.Gate.Permitted(c, sender) {
			formats = append(formats, c.Format)
		}
	}
	return Render(def.Messages.Success, strings.Join(formats, ", "))
}

func (d *Dispatcher) followage(ctx context.Context, def *model.CommandDefinition, args []string, sender *model.User) string {
	if len(args) > 1 {
		return d.fail(def, sender, model.ErrInvalidArgument)
	}

	login, display := sender.Username, sender.DisplayName()
	if len(args) == 1 {
		login = model.NormalizeUsername(args[0])
		display = login
	}
	if d.deps.Lookup == nil {
		return Render(def.Messages.Error, display)
	}

	info, err := d.deps.Lookup.GetFollowInfo(ctx, login)
	if err != nil {
		if errors.Is(err, model.ErrUserNotFound) {
			return Render(def.Messages.Fail, display)
		}
		d.log.Warn("dispatcher: followage не получен", "user", login, "err", err)
		return Render(def.Messages.Error, display)
	}
	if !info.Following {
		return Render(def.Messages.Fail, display)
	}
	return Render(def.Messages.Success, display, info.FollowedAt.Format("2006-01-02"), info.Days(d.now()))
}

func (d *Dispatcher) userID(ctx context.Context, def *model.CommandDefinition, args []string, sender *model.User) string {
	if len(args) != 1 {
		return d.fail(def, sender, model.ErrInvalidArgument)
	}

	login := model.NormalizeUsername(args[0])
	if d.deps.Lookup == nil {
		return Render(def.Messages.Error, login)
	}

	id, err := d.deps.Lookup.ResolveUserID(ctx, login)
	if err != nil {
		if errors.Is(err, model.ErrUserNotFound) {
			return Render(def.Messages.Fail, login)
		}
		d.log.Warn("dispatcher: id не получен", "user", login, "err", err)
		return Render(def.Messages.Error, login)
	}
	return Render(def.Messages.Success, login, id)
}

// fail превращает доменную ошибку в шаблон ошибки команды.
func (d *Dispatcher) fail(def *model.CommandDefinition, sender *model.User, err error) string {
	switch {
	case errors.Is(err, model.ErrInvalidArgument), errors.Is(err, model.ErrInsufficientFunds):
		d.log.Debug("dispatcher: команда отклонена", "command", def.Name(), "user", sender.Username, "err", err)
	default:
		d.log.Warn("dispatcher: ошибка команды", "command", def.Name(), "user", sender.Username, "err", err)
	}
	return Render(def.Messages.Error, sender.DisplayName(), def.Format)
}

func (d *Dispatcher) flush(ctx context.Context) {
	if err := d.deps.Registry.Flush(ctx); err != nil {
		d.log.Error("dispatcher: сохранение не удалось", "err", err)
	}
}

func (d *Dispatcher) notifyRankUp(u *model.User, change model.RankChange) {
	if !change.RankedUp() {
		return
	}
	d.deps.Sink.Emit(events.NewRankUp(u.Username, u.DisplayName(), *change.Current))
}

func (d *Dispatcher) word(field model.Field, n int64) string {
	if field == model.FieldExperience {
		return d.opts.ExperienceName
	}
	return d.opts.Currency.Word(n)
}

// maxWindowMinutes — предел окна активности, при котором time.Duration не переполняется.
const maxWindowMinutes = int64(math.MaxInt64 / time.Minute)

func parseAmount(s string) (int64, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: amount %q", model.ErrInvalidArgument, s)
	}
	return n, nil
}
