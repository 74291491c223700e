package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"investorkonnect-signing/internal/domain"
	"investorkonnect-signing/internal/repository"
	"investorkonnect-signing/internal/store"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

const (
	sessionCacheKey = "docusign:session"
	// DefaultConnectionID 单账户部署时使用的连接行 id
	DefaultConnectionID = "default"
	tokenExpirySkew     = 60 * time.Second
)

// SessionSource 提供可用的 DocuSign 访问会话
type SessionSource interface {
	Session(ctx context.Context) (domain.ProviderSession, error)
}

// TokenManagerConfig OAuth 客户端凭据
type TokenManagerConfig struct {
	OAuthBaseURL string
	ClientID     string
	ClientSecret string
	ConnectionID string
}

// TokenManager 访问令牌管理：Redis 缓存 -> 持久化连接 -> refresh-token grant
type TokenManager struct {
	oauth        *oauth2.Config
	connectionID string
	tokens       repository.ProviderTokensRepo
	kv           store.KV // optional
	httpClient   *http.Client
	logger       *zap.Logger
	now          func() time.Time

	mu sync.Mutex
}

func NewTokenManager(cfg TokenManagerConfig, tokens repository.ProviderTokensRepo, kv store.KV, logger *zap.Logger) *TokenManager {
	connID := cfg.ConnectionID
	if connID == "" {
		connID = DefaultConnectionID
	}
	return &TokenManager{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint: oauth2.Endpoint{
				TokenURL:  strings.TrimRight(cfg.OAuthBaseURL, "/") + "/oauth/token",
				AuthStyle: oauth2.AuthStyleInHeader,
			},
		},
		connectionID: connID,
		tokens:       tokens,
		kv:           kv,
		httpClient:   &http.Client{Timeout: 10 * time.Second},
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

var _ SessionSource = (*TokenManager)(nil)

// Session 返回未过期的会话，必要时刷新并持久化
func (m *TokenManager) Session(ctx context.Context) (domain.ProviderSession, error) {
	if s, ok := m.cached(ctx); ok {
		return s, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	conn, err := m.tokens.GetConnection(ctx, m.connectionID)
	if err != nil {
		return domain.ProviderSession{}, &ConfigError{Op: "load docusign connection", Err: err}
	}
	if conn == nil {
		return domain.ProviderSession{}, &ConfigError{Op: "load docusign connection", Err: errors.New("docusign is not connected")}
	}

	session := domain.ProviderSession{AccessToken: conn.AccessToken, ExpiresAt: conn.ExpiresAt}
	if session.Expired(m.now(), tokenExpirySkew) {
		session, err = m.refresh(ctx, conn)
		if err != nil {
			return domain.ProviderSession{}, err
		}
	}
	m.cache(ctx, session)
	return session, nil
}

func (m *TokenManager) refresh(ctx context.Context, conn *domain.ProviderConnection) (domain.ProviderSession, error) {
	if conn.RefreshToken == "" {
		return domain.ProviderSession{}, &ConfigError{Op: "refresh docusign token", Err: errors.New("no refresh token stored")}
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)
	tok, err := m.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: conn.RefreshToken}).Token()
	if err != nil {
		m.logger.Error("DocuSign token refresh failed", zap.Error(err))
		return domain.ProviderSession{}, &ConfigError{Op: "refresh docusign token", Err: err}
	}

	conn.AccessToken = tok.AccessToken
	if tok.RefreshToken != "" {
		conn.RefreshToken = tok.RefreshToken
	}
	conn.ExpiresAt = tok.Expiry
	if conn.ExpiresAt.IsZero() {
		conn.ExpiresAt = m.now().Add(time.Hour)
	}
	if err := m.tokens.SaveConnection(ctx, conn); err != nil {
		// 本次调用仍可使用新 token，只是下次需要重新刷新
		m.logger.Warn("Failed to persist refreshed DocuSign token", zap.Error(err))
	}

	m.logger.Info("DocuSign token refreshed", zap.Time("expires_at", conn.ExpiresAt))
	return domain.ProviderSession{AccessToken: conn.AccessToken, ExpiresAt: conn.ExpiresAt}, nil
}

func (m *TokenManager) cached(ctx context.Context) (domain.ProviderSession, bool) {
	if m.kv == nil {
		return domain.ProviderSession{}, false
	}
	raw, err := m.kv.Get(ctx, sessionCacheKey)
	if err != nil {
		if !errors.Is(err, store.ErrMiss) {
			m.logger.Warn("Session cache read failed", zap.Error(err))
		}
		return domain.ProviderSession{}, false
	}
	var s domain.ProviderSession
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return domain.ProviderSession{}, false
	}
	if s.Expired(m.now(), tokenExpirySkew) {
		return domain.ProviderSession{}, false
	}
	return s, true
}

func (m *TokenManager) cache(ctx context.Context, s domain.ProviderSession) {
	if m.kv == nil {
		return
	}
	ttl := s.ExpiresAt.Sub(m.now()) - tokenExpirySkew
	if ttl <= 0 {
		return
	}
	b, _ := json.Marshal(s)
	if err := m.kv.Set(ctx, sessionCacheKey, string(b), ttl); err != nil {
		m.logger.Warn("Session cache write failed", zap.Error(err))
	}
}
