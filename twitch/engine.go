package twitch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	twitchirc "github.com/gempir/go-twitch-irc/v4"

	"twitch-chat-bot/commands"
	"twitch-chat-bot/events"
	"twitch-chat-bot/model"
	"twitch-chat-bot/presence"
)

// State — состояние соединения движка.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// DefaultTickInterval — период цикла чтения.
const DefaultTickInterval = 200 * time.Millisecond

const pongLine = "PONG :tmi.twitch.tv"

// Config — учётные данные и тексты движка.
type Config struct {
	Username   string
	OAuthToken string
	Channel    string

	Greeting string
	Farewell string
	// RankUpMessage получает {0} имя, {1} ранг, {2} уровень.
	RankUpMessage string

	TickInterval time.Duration
}

// Deps — компоненты, которыми управляет движок.
type Deps struct {
	Dial       DialFunc
	Registry   *presence.Registry
	Matcher    *commands.Matcher
	Gate       *commands.Gate
	Dispatcher *commands.Dispatcher
	Throttle   *Throttle
	Sink       events.Sink
	Log        *slog.Logger
}

// Engine владеет соединением и циклом чтения: классифицирует строки,
// обновляет присутствие и проводит команды через проверку и диспетчер.
type Engine struct {
	cfg  Config
	deps Deps
	log  *slog.Logger

	mu        sync.Mutex
	state     State
	transport Transport

	async sync.WaitGroup
}

// NewEngine создаёт отключённый движок.
func NewEngine(cfg Config, deps Deps) *Engine {
	cfg.Username = model.NormalizeUsername(cfg.Username)
	cfg.Channel = normalizeChannel(cfg.Channel)
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	if deps.Sink == nil {
		deps.Sink = events.Discard{}
	}
	if deps.Dial == nil {
		deps.Dial = TLSDialer(DefaultAddr, 10*time.Second)
	}

	return &Engine{
		cfg:  cfg,
		deps: deps,
		log:  deps.Log.With("component", "engine", "channel", cfg.Channel),
	}
}

// State возвращает текущее состояние.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = s
}

// Connect открывает соединение, отправляет рукопожатие и заходит в канал.
// Ошибка рукопожатия логируется, возвращает движок в Disconnected и отдаётся вызывающему.
func (e *Engine) Connect(ctx context.Context) error {
	e.mu.Lock()
	if e.state != StateDisconnected {
		e.mu.Unlock()
		e.log.Warn("engine: connect пропущен", "state", e.State())
		return nil
	}
	e.state = StateConnecting
	e.mu.Unlock()

	t, err := e.handshake(ctx)
	if err != nil {
		e.setState(StateDisconnected)
		e.log.Error("engine: подключение не удалось", "err", err)
		return err
	}

	e.mu.Lock()
	e.transport = t
	e.state = StateConnected
	e.mu.Unlock()

	e.log.Info("engine: подключено")
	if e.cfg.Greeting != "" {
		e.Say(e.cfg.Greeting)
	}
	return nil
}

func (e *Engine) handshake(ctx context.Context) (Transport, error) {
	t, err := e.deps.Dial(ctx)
	if err != nil {
		return nil, err
	}

	token := e.cfg.OAuthToken
	if !strings.HasPrefix(token, "oauth:") {
		token = "oauth:" + token
	}

	err = t.WriteLines(
		"PASS "+token,
		"NICK "+e.cfg.Username,
		"USER "+e.cfg.Username+" 8 * :"+e.cfg.Username,
	)
	if err == nil {
		caps := strings.Join([]string{
			twitchirc.TagsCapability,
			twitchirc.CommandsCapability,
			twitchirc.MembershipCapability,
		}, " ")
		err = t.WriteLines("CAP REQ :"+caps, "JOIN #"+e.cfg.Channel)
	}
	if err != nil {
		_ = t.Close()
		return nil, fmt.Errorf("handshake: %w", err)
	}
	return t, nil
}

// Disconnect прощается, сохраняет и очищает присутствие и закрывает соединение.
// Вне состояния Connected только пишет предупреждение.
func (e *Engine) Disconnect(ctx context.Context) {
	if st := e.State(); st != StateConnected {
		e.log.Warn("engine: disconnect пропущен", "state", st)
		return
	}

	if e.cfg.Farewell != "" {
		e.Say(e.cfg.Farewell)
	}
	e.drop(ctx)
	e.log.Info("engine: отключено")
}

// drop закрывает соединение и сохраняет всех, кто был онлайн.
func (e *Engine) drop(ctx context.Context) {
	e.mu.Lock()
	t := e.transport
	e.transport = nil
	e.state = StateDisconnected
	e.mu.Unlock()

	e.deps.Registry.DisconnectAll(ctx)
	if t != nil {
		if err := t.Close(); err != nil {
			e.log.Warn("engine: ошибка закрытия соединения", "err", err)
		}
	}
}

// Run крутит цикл чтения до отмены ctx: на каждом тике переподключается
// или читает не больше одной строки.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			e.async.Wait()
			e.Disconnect(shutdownCtx)
			cancel()
			return ctx.Err()
		case <-ticker.C:
			e.Tick(ctx)
		}
	}
}

// Tick — одна итерация цикла чтения.
func (e *Engine) Tick(ctx context.Context) {
	e.mu.Lock()
	state, t := e.state, e.transport
	e.mu.Unlock()

	switch state {
	case StateDisconnected:
		_ = e.Connect(ctx)
		return
	case StateConnecting:
		return
	}

	if !t.Available() {
		return
	}
	line, err := t.ReadLine()
	if err != nil {
		e.log.Warn("engine: ошибка чтения, переподключение на следующем тике", "err", err)
		e.drop(ctx)
		return
	}
	e.handleLine(ctx, line)
}

func (e *Engine) handleLine(ctx context.Context, line string) {
	switch ev := Classify(line, e.log).(type) {
	case ChatEvent:
		e.handleChat(ctx, ev.Message)
	case JoinEvent:
		if ev.Username != "" && ev.Username != e.cfg.Username {
			e.deps.Registry.JoinOrGet(ctx, ev.Username)
		}
	case PartEvent:
		e.deps.Registry.Disconnect(ctx, ev.Username)
	case StateEvent:
		e.deps.Throttle.SetModerator(ev.Badges.IsModerator())
	case KeepaliveEvent:
		e.write(pongLine)
	case UnknownEvent:
		n := events.New(events.UnknownLine, "")
		n.Detail = ev.Raw
		e.deps.Sink.Emit(n)
		e.log.Debug("engine: неизвестная строка", "line", ev.Raw)
	}
}

func (e *Engine) handleChat(ctx context.Context, msg model.ChatMessage) {
	if msg.Username == "" || msg.Username == e.cfg.Username {
		return
	}

	user := e.deps.Registry.JoinOrGet(ctx, msg.Username)
	user.Observe(msg.SentAt, msg.DisplayName, msg.Badges)

	match, ok := e.deps.Matcher.Match(msg.Text)
	if !ok {
		return
	}
	if !e.deps.Gate.Allowed(match.Definition, user) {
		return
	}

	if e.deps.Dispatcher.Async(match.Definition) {
		e.async.Add(1)
		go func() {
			defer e.async.Done()
			lookupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			defer cancel()
			e.deliver(e.deps.Dispatcher.Dispatch(lookupCtx, match, user))
		}()
		return
	}
	e.deliver(e.deps.Dispatcher.Dispatch(ctx, match, user))
}

func (e *Engine) deliver(r commands.Reply) {
	switch {
	case r.Text == "":
	case r.Whisper:
		e.Whisper(r.To, r.Text)
	default:
		e.Say(r.Text)
	}
}

// Say отправляет сообщение в канал через ограничитель.
// В цветном режиме сообщение уходит как действие /me.
func (e *Engine) Say(text string) bool {
	if e.deps.Dispatcher != nil && e.deps.Dispatcher.Colored() {
		text = "/me " + text
	}
	return e.send(text)
}

// Whisper отправляет личное сообщение через ограничитель.
func (e *Engine) Whisper(to, text string) bool {
	return e.send("/w " + model.NormalizeUsername(to) + " " + text)
}

func (e *Engine) send(text string) bool {
	if e.State() != StateConnected {
		e.log.Debug("engine: нет соединения, сообщение не отправлено")
		return false
	}
	if !e.deps.Throttle.Allow(text) {
		return false
	}
	return e.write("PRIVMSG #" + e.cfg.Channel + " :" + text)
}

func (e *Engine) write(line string) bool {
	e.mu.Lock()
	t := e.transport
	e.mu.Unlock()

	if t == nil {
		return false
	}
	if err := t.WriteLines(line); err != nil {
		e.log.Warn("engine: ошибка записи", "err", err)
		return false
	}
	return true
}

// Observe анонсирует в чате повышения ранга из канала уведомлений.
func (e *Engine) Observe(ctx context.Context, source <-chan events.Notification) {
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-source:
			if !ok {
				return
			}
			if n.Kind != events.RankUp || e.cfg.RankUpMessage == "" {
				continue
			}
			name := n.Detail
			if name == "" {
				name = n.Username
			}
			e.Say(commands.Render(e.cfg.RankUpMessage, name, n.Rank, n.Level))
		}
	}
}
