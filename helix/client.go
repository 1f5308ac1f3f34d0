package helix

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"twitch-chat-bot/model"
)

// DefaultBaseURL — корень Helix API.
const DefaultBaseURL = "https://api.twitch.tv/helix"

var errUnauthorized = errors.New("helix: unauthorized")

// Config — параметры клиента Helix.
type Config struct {
	BaseURL  string
	ClientID string
	// Channel — канал, подписку на который проверяет GetFollowInfo.
	Channel string
	// UserToken — токен пользователя со scope moderator:read:followers.
	// Без него список подписчиков запрашивается токеном приложения.
	UserToken string
	Timeout   time.Duration
}

// Client обращается к Helix API за id пользователей и данными о подписке.
type Client struct {
	cfg    Config
	hc     *http.Client
	tokens *AppTokenManager
	log    *slog.Logger

	mu  sync.RWMutex
	ids map[string]string
}

// NewClient создаёт клиента. tokens выдаёт токен приложения.
func NewClient(cfg Config, tokens *AppTokenManager, log *slog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	cfg.Channel = model.NormalizeUsername(strings.TrimPrefix(cfg.Channel, "#"))
	cfg.UserToken = strings.TrimPrefix(strings.TrimSpace(cfg.UserToken), "oauth:")

	return &Client{
		cfg:    cfg,
		hc:     &http.Client{Timeout: cfg.Timeout},
		tokens: tokens,
		log:    log.With("component", "helix"),
		ids:    make(map[string]string),
	}
}

// ResolveUserID возвращает id пользователя по логину. Результат кэшируется.
// Неизвестный логин даёт ошибку с model.ErrUserNotFound.
func (c *Client) ResolveUserID(ctx context.Context, login string) (string, error) {
	login = model.NormalizeUsername(login)
	if login == "" {
		return "", fmt.Errorf("resolve user id: %w", model.ErrInvalidArgument)
	}

	c.mu.RLock()
	id, ok := c.ids[login]
	c.mu.RUnlock()
	if ok {
		return id, nil
	}

	var payload struct {
		Data []struct {
			ID    string `json:"id"`
			Login string `json:"login"`
		} `json:"data"`
	}
	if err := c.get(ctx, "/users", url.Values{"login": {login}}, "", &payload); err != nil {
		return "", fmt.Errorf("resolve user id %s: %w", login, err)
	}
	if len(payload.Data) == 0 {
		return "", fmt.Errorf("resolve user id %s: %w", login, model.ErrUserNotFound)
	}

	id = payload.Data[0].ID
	c.mu.Lock()
	c.ids[login] = id
	c.mu.Unlock()
	return id, nil
}

// GetFollowInfo сообщает, подписан ли login на канал, и с какого момента.
func (c *Client) GetFollowInfo(ctx context.Context, login string) (model.FollowInfo, error) {
	broadcasterID, err := c.ResolveUserID(ctx, c.cfg.Channel)
	if err != nil {
		return model.FollowInfo{}, fmt.Errorf("follow info: broadcaster: %w", err)
	}
	userID, err := c.ResolveUserID(ctx, login)
	if err != nil {
		return model.FollowInfo{}, fmt.Errorf("follow info: %w", err)
	}

	var payload struct {
		Data []struct {
			UserID     string    `json:"user_id"`
			FollowedAt time.Time `json:"followed_at"`
		} `json:"data"`
	}
	query := url.Values{"broadcaster_id": {broadcasterID}, "user_id": {userID}}
	if err := c.get(ctx, "/channels/followers", query, c.cfg.UserToken, &payload); err != nil {
		return model.FollowInfo{}, fmt.Errorf("follow info %s: %w", login, err)
	}

	for _, f := range payload.Data {
		if f.UserID == userID {
			return model.FollowInfo{Following: true, FollowedAt: f.FollowedAt}, nil
		}
	}
	return model.FollowInfo{}, nil
}

// get выполняет GET запрос. Пустой bearer означает токен приложения;
// на 401 с токеном приложения токен обновляется и запрос повторяется один раз.
func (c *Client) get(ctx context.Context, path string, query url.Values, bearer string, out any) error {
	err := c.do(ctx, path, query, bearer, out)
	if errors.Is(err, errUnauthorized) && bearer == "" && c.tokens != nil {
		c.log.Info("helix: токен приложения отклонён, запрашиваю новый")
		c.tokens.Invalidate()
		err = c.do(ctx, path, query, bearer, out)
	}
	return err
}

func (c *Client) do(ctx context.Context, path string, query url.Values, bearer string, out any) error {
	if bearer == "" {
		if c.tokens == nil {
			return errors.New("helix: app token manager is not configured")
		}
		token, err := c.tokens.Get(ctx)
		if err != nil {
			return fmt.Errorf("app token: %w", err)
		}
		bearer = token.Access
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + path + "?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Client-Id", c.cfg.ClientID)
	req.Header.Set("Authorization", "Bearer "+bearer)

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return errUnauthorized
	case resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("unexpected status %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
