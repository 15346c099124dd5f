package connectors

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/akashrtd/cubcen-sub008/internal/domain"
	"go.uber.org/zap"
)

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	TokenType    string `json:"token_type"`
}

// oauthSession хранит OAuth2 токены адаптера и обновляет их лениво, перед запросом.
type oauthSession struct {
	client   *restClient
	tokenURL func() string
	lifetime time.Duration
	logger   *zap.Logger

	mu           sync.Mutex
	accessToken  string
	refreshToken string
	expiresAt    time.Time
	clientCreds  *domain.OAuth2ClientCredentials // Есть только после обмена по client credentials
}

func (s *oauthSession) useToken(access, refresh string, expiresAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accessToken = access
	s.refreshToken = refresh
	s.expiresAt = expiresAt
	s.client.setHeader("Authorization", "Bearer "+access)
}

func (s *oauthSession) exchange(ctx context.Context, creds domain.OAuth2ClientCredentials) domain.AuthResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exchangeLocked(ctx, creds)
}

// exchangeLocked — обмен refresh token на access token (grant_type=refresh_token, form-encoded)
func (s *oauthSession) exchangeLocked(ctx context.Context, creds domain.OAuth2ClientCredentials) domain.AuthResult {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", creds.RefreshToken)
	form.Set("client_id", creds.ClientID)
	form.Set("client_secret", creds.ClientSecret)

	var tok tokenResponse
	err := s.client.do(ctx, request{
		method:    http.MethodPost,
		path:      s.tokenURL(),
		form:      form,
		skipAuth:  true,
		skipHooks: true,
	}, &tok)
	if err != nil {
		return domain.AuthResult{Success: false, Error: ExtractErrorMessage(err)}
	}
	if tok.AccessToken == "" {
		return domain.AuthResult{Success: false, Error: "token endpoint returned no access token"}
	}

	lifetime := s.lifetime
	if tok.ExpiresIn > 0 {
		lifetime = time.Duration(tok.ExpiresIn) * time.Second
	}
	expiresAt := time.Now().Add(lifetime)

	refresh := tok.RefreshToken
	if refresh == "" {
		refresh = creds.RefreshToken // Платформа может не ротировать refresh token
	}

	cc := creds
	cc.RefreshToken = refresh
	s.accessToken = tok.AccessToken
	s.refreshToken = refresh
	s.expiresAt = expiresAt
	s.clientCreds = &cc
	s.client.setHeader("Authorization", "Bearer "+tok.AccessToken)

	s.logger.Info("oauth token obtained", zap.Time("expires_at", expiresAt))
	return domain.AuthResult{Success: true, Token: tok.AccessToken, ExpiresAt: &expiresAt}
}

// beforeRequest — хук restClient: истекший токен обновляем, если можем, иначе сбрасываем
func (s *oauthSession) beforeRequest(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	canRefresh := s.clientCreds != nil && s.refreshToken != ""
	expired := s.accessToken != "" && !s.expiresAt.IsZero() && !time.Now().Before(s.expiresAt)
	invalidated := s.accessToken == "" && canRefresh

	if !expired && !invalidated {
		return nil
	}

	if canRefresh {
		s.logger.Info("access token expired, refreshing")
		creds := *s.clientCreds
		creds.RefreshToken = s.refreshToken
		res := s.exchangeLocked(ctx, creds)
		if res.Success {
			return nil
		}
		s.logger.Warn("token refresh failed", zap.String("error", res.Error))
		s.resetLocked()
		return fmt.Errorf("%w: refresh failed: %s", ErrTokenExpired, res.Error)
	}

	s.logger.Warn("access token expired, clearing auth state", zap.Time("expired_at", s.expiresAt))
	s.resetLocked()
	return ErrTokenExpired
}

// invalidate — реакция на 401: access token больше не годится, refresh оставляем
func (s *oauthSession) invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accessToken = ""
	s.expiresAt = time.Time{}
	s.client.clearAuth()
}

func (s *oauthSession) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked()
}

func (s *oauthSession) resetLocked() {
	s.accessToken = ""
	s.refreshToken = ""
	s.expiresAt = time.Time{}
	s.clientCreds = nil
	s.client.clearAuth()
}

func (s *oauthSession) token() (string, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accessToken, s.expiresAt
}

// authMode — каким способом адаптер сейчас аутентифицирован
type authMode string

const (
	authNone        authMode = ""
	authAPIKey      authMode = "api_key"
	authOAuthToken  authMode = "oauth2_token"
	authOAuthClient authMode = "oauth2_client"
)

// credentialAuth — общий порядок разбора учетных данных:
// API ключ -> готовый OAuth2 токен -> обмен по client credentials.
type credentialAuth struct {
	client  *restClient
	session *oauthSession
	logger  *zap.Logger

	apiKeyHeader     string
	apiKeyPrefix     string
	allowClientCreds bool
	lifetime         time.Duration

	// validate — дешевый запрос для проверки свежих учетных данных
	validate func(ctx context.Context) error

	mu   sync.Mutex
	mode authMode
}

func newCredentialAuth(client *restClient, tokenURL func() string, opts Options, logger *zap.Logger) *credentialAuth {
	a := &credentialAuth{
		client:   client,
		logger:   logger,
		lifetime: opts.TokenLifetime,
		session: &oauthSession{
			client:   client,
			tokenURL: tokenURL,
			lifetime: opts.TokenLifetime,
			logger:   logger,
		},
	}
	client.beforeRequest = a.session.beforeRequest
	client.onUnauthorized = a.onUnauthorized
	return a
}

func invalidCredentials(msg string) domain.AuthResult {
	return domain.AuthResult{
		Success: false,
		Error:   fmt.Sprintf("%s: %s", domain.ErrInvalidCredentials.Error(), msg),
	}
}

func (a *credentialAuth) authenticate(ctx context.Context, creds domain.Credentials) (domain.AuthResult, error) {
	switch c := creds.(type) {
	case nil:
		return domain.AuthResult{}, fmt.Errorf("%w: no credentials supplied", domain.ErrInvalidCredentials)

	case *domain.APIKeyCredentials:
		if c == nil {
			return domain.AuthResult{}, fmt.Errorf("%w: no credentials supplied", domain.ErrInvalidCredentials)
		}
		return a.authenticate(ctx, *c)
	case *domain.OAuth2TokenCredentials:
		if c == nil {
			return domain.AuthResult{}, fmt.Errorf("%w: no credentials supplied", domain.ErrInvalidCredentials)
		}
		return a.authenticate(ctx, *c)
	case *domain.OAuth2ClientCredentials:
		if c == nil {
			return domain.AuthResult{}, fmt.Errorf("%w: no credentials supplied", domain.ErrInvalidCredentials)
		}
		return a.authenticate(ctx, *c)

	case domain.APIKeyCredentials:
		if c.APIKey == "" {
			return invalidCredentials("api key is empty"), nil
		}
		a.session.reset()
		a.client.setHeader(a.apiKeyHeader, a.apiKeyPrefix+c.APIKey)
		if err := a.check(ctx); err != nil {
			return domain.AuthResult{Success: false, Error: ExtractErrorMessage(err)}, nil
		}
		a.setMode(authAPIKey)
		return domain.AuthResult{Success: true}, nil

	case domain.OAuth2TokenCredentials:
		if c.AccessToken == "" {
			return invalidCredentials("access token is empty"), nil
		}
		expiresAt := c.ExpiresAt
		if expiresAt.IsZero() {
			expiresAt = time.Now().Add(a.lifetime)
		}
		a.session.reset()
		a.session.useToken(c.AccessToken, c.RefreshToken, expiresAt)
		if err := a.check(ctx); err != nil {
			return domain.AuthResult{Success: false, Error: ExtractErrorMessage(err)}, nil
		}
		a.setMode(authOAuthToken)
		return domain.AuthResult{Success: true, Token: c.AccessToken, ExpiresAt: &expiresAt}, nil

	case domain.OAuth2ClientCredentials:
		if !a.allowClientCreds {
			return invalidCredentials("oauth2 client credentials are not supported by this platform"), nil
		}
		if c.ClientID == "" || c.ClientSecret == "" || c.RefreshToken == "" {
			return invalidCredentials("client id, client secret and refresh token are required"), nil
		}
		a.session.reset()
		// После обмена проверочный запрос не делаем: токен только что выдан
		res := a.session.exchange(ctx, c)
		if res.Success {
			a.setMode(authOAuthClient)
		} else {
			a.setMode(authNone)
		}
		return res, nil
	}

	return domain.AuthResult{}, fmt.Errorf("%w: unsupported credential type %T", domain.ErrInvalidCredentials, creds)
}

// check прогоняет проверочный запрос и откатывает auth state при неудаче
func (a *credentialAuth) check(ctx context.Context) error {
	if a.validate == nil {
		return nil
	}
	if err := a.validate(ctx); err != nil {
		a.session.reset()
		a.setMode(authNone)
		a.logger.Warn("credential validation failed", zap.String("error", ExtractErrorMessage(err)))
		return err
	}
	return nil
}

func (a *credentialAuth) onUnauthorized() {
	switch a.currentMode() {
	case authOAuthToken, authOAuthClient:
		a.logger.Warn("platform rejected access token, clearing it")
		a.session.invalidate()
	default:
		a.logger.Warn("platform rejected credentials")
	}
}

func (a *credentialAuth) reset() {
	a.session.reset()
	a.setMode(authNone)
}

func (a *credentialAuth) setMode(m authMode) {
	a.mu.Lock()
	a.mode = m
	a.mu.Unlock()
}

func (a *credentialAuth) currentMode() authMode {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.mode
}

func (a *credentialAuth) authenticated() bool {
	return a.currentMode() != authNone && a.client.hasAuth()
}
