package domain

import (
	"github.com/golang-jwt/jwt/v5"
)

// CustomClaims — claims токена оператора Console API
type CustomClaims struct {
	UserID string          `json:"user_id"`
	Scopes map[string]bool `json:"scopes"` // "agents.write": true, "platforms.admin": true
	jwt.RegisteredClaims
}

// HasScope проверяет право (admin покрывает все)
func (c *CustomClaims) HasScope(scope string) bool {
	if c == nil {
		return false
	}
	return c.Scopes[ScopeAdmin] || c.Scopes[scope]
}

// Operator — пользователь Console API. Пароль хранится только как bcrypt-хэш.
type Operator struct {
	ID           string          `json:"id"`
	Username     string          `json:"username"`
	PasswordHash string          `json:"-"`
	Scopes       map[string]bool `json:"scopes"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// Права Console API
const (
	ScopeAdmin          = "admin"
	ScopeAgentsRead     = "agents.read"
	ScopeAgentsWrite    = "agents.write"
	ScopeAgentsExecute  = "agents.execute"
	ScopePlatformsAdmin = "platforms.admin"
)
