package helix

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	// DefaultTokenURL — эндпоинт выдачи OAuth токенов Twitch.
	DefaultTokenURL = "https://id.twitch.tv/oauth2/token"
	// DefaultTokenFile — файл с кэшированным токеном приложения.
	DefaultTokenFile = ".secrets/twitch_tokens.json"

	refreshBefore = 5 * time.Minute
)

// Token описывает OAuth токен приложения.
type Token struct {
	Access    string
	ExpiresAt time.Time
}

// expiringSoon истинно, если до истечения меньше refreshBefore.
func (t Token) expiringSoon(now time.Time) bool {
	return t.Access == "" || t.ExpiresAt.Before(now.Add(refreshBefore))
}

// TokenStore описывает хранилище токенов приложения.
type TokenStore interface {
	LoadAppToken() (*Token, error)
	SaveAppToken(Token) error
}

// FileTokenStore сохраняет токен в JSON файле с правами 0600.
type FileTokenStore struct {
	Path string
}

type fileToken struct {
	Access    string `json:"access"`
	ExpiresAt string `json:"expires_at"`
}

func (store FileTokenStore) path() string {
	if strings.TrimSpace(store.Path) == "" {
		return DefaultTokenFile
	}
	return store.Path
}

// LoadAppToken читает токен. Отсутствующий файл даёт ошибку с os.ErrNotExist.
func (store FileTokenStore) LoadAppToken() (*Token, error) {
	data, err := os.ReadFile(store.path())
	if err != nil {
		return nil, fmt.Errorf("load app token: %w", err)
	}

	var payload fileToken
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("load app token: decode json: %w", err)
	}
	expiresAt, err := time.Parse(time.RFC3339, payload.ExpiresAt)
	if err != nil {
		return nil, fmt.Errorf("load app token: parse expires_at: %w", err)
	}
	return &Token{Access: payload.Access, ExpiresAt: expiresAt}, nil
}

// SaveAppToken записывает токен, создавая каталог при необходимости.
func (store FileTokenStore) SaveAppToken(token Token) error {
	path := store.path()
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("save app token: create dir: %w", err)
	}

	data, err := json.Marshal(fileToken{
		Access:    token.Access,
		ExpiresAt: token.ExpiresAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("save app token: encode json: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("save app token: write file: %w", err)
	}
	return nil
}

// Fetcher запрашивает новый токен приложения.
type Fetcher func(ctx context.Context) (accessToken string, expiresIn time.Duration, err error)

// ClientCredentials возвращает Fetcher, получающий токен по client_credentials.
func ClientCredentials(hc *http.Client, tokenURL, clientID, clientSecret string) Fetcher {
	if hc == nil {
		hc = http.DefaultClient
	}
	if tokenURL == "" {
		tokenURL = DefaultTokenURL
	}

	return func(ctx context.Context) (string, time.Duration, error) {
		form := url.Values{}
		form.Set("client_id", strings.TrimSpace(clientID))
		form.Set("client_secret", strings.TrimSpace(clientSecret))
		form.Set("grant_type", "client_credentials")

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
		if err != nil {
			return "", 0, fmt.Errorf("twitch oauth: create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		resp, err := hc.Do(req)
		if err != nil {
			return "", 0, fmt.Errorf("twitch oauth: request failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			return "", 0, fmt.Errorf("twitch oauth: unexpected status %s: %s", resp.Status, strings.TrimSpace(string(body)))
		}

		var payload struct {
			AccessToken string `json:"access_token"`
			ExpiresIn   int64  `json:"expires_in"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
			return "", 0, fmt.Errorf("twitch oauth: decode response: %w", err)
		}
		return payload.AccessToken, time.Duration(payload.ExpiresIn) * time.Second, nil
	}
}

// AppTokenManager отдаёт токен приложения из памяти или файла и обновляет его
// за пять минут до истечения.
type AppTokenManager struct {
	store TokenStore
	fetch Fetcher
	now   func() time.Time

	mu     sync.Mutex
	cached *Token
	stale  bool
}

// NewAppTokenManager создаёт менеджер токенов приложения.
func NewAppTokenManager(store TokenStore, fetch Fetcher) *AppTokenManager {
	return &AppTokenManager{store: store, fetch: fetch, now: time.Now}
}

// Get возвращает действующий токен.
func (m *AppTokenManager) Get(ctx context.Context) (Token, error) {
	if err := ctx.Err(); err != nil {
		return Token{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if m.cached != nil && !m.cached.expiringSoon(now) {
		return *m.cached, nil
	}

	if !m.stale {
		token, err := m.store.LoadAppToken()
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return Token{}, err
		}
		if token != nil && !token.expiringSoon(now) {
			m.cached = token
			return *token, nil
		}
	}

	access, expiresIn, err := m.fetch(ctx)
	if err != nil {
		return Token{}, err
	}
	fresh := Token{Access: access, ExpiresAt: now.Add(expiresIn)}
	if err := m.store.SaveAppToken(fresh); err != nil {
		return Token{}, err
	}
	m.cached = &fresh
	m.stale = false
	return fresh, nil
}

// Invalidate заставляет следующий Get запросить новый токен, например после ответа 401.
func (m *AppTokenManager) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cached = nil
	m.stale = true
}
