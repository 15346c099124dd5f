package domain

import (
	"fmt"
	"time"
)

type PlatformType string

const (
	PlatformN8N    PlatformType = "n8n"
	PlatformMake   PlatformType = "make"
	PlatformZapier PlatformType = "zapier"
	PlatformMock   PlatformType = "mock" // Локальная отладка и тесты
)

// Credentials — закрытое объединение типов учетных данных.
// Реализации есть только в этом пакете, адаптеры разбирают его через type switch.
type Credentials interface {
	credentialKind() string
}

// APIKeyCredentials — статический токен платформы
type APIKeyCredentials struct {
	APIKey string `json:"api_key" yaml:"api_key"`
}

// OAuth2TokenCredentials — уже полученный access token (и опционально refresh token)
type OAuth2TokenCredentials struct {
	AccessToken  string    `json:"access_token" yaml:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty" yaml:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at,omitempty" yaml:"expires_at"`
}

// OAuth2ClientCredentials — тройка для обмена refresh token на новый access token
type OAuth2ClientCredentials struct {
	ClientID     string `json:"client_id" yaml:"client_id"`
	ClientSecret string `json:"client_secret" yaml:"client_secret"`
	RefreshToken string `json:"refresh_token" yaml:"refresh_token"`
}

func (APIKeyCredentials) credentialKind() string       { return "api_key" }
func (OAuth2TokenCredentials) credentialKind() string  { return "oauth2_token" }
func (OAuth2ClientCredentials) credentialKind() string { return "oauth2_client" }

// CredentialKind возвращает тег варианта (для логов и сериализации)
func CredentialKind(c Credentials) string {
	if c == nil {
		return "none"
	}
	return c.credentialKind()
}

// PlatformConfig описывает подключение к одной платформе автоматизации.
type PlatformConfig struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Type        PlatformType `json:"type"`
	BaseURL     string       `json:"base_url"`
	Credentials Credentials  `json:"-"` // Секреты наружу не отдаем

	Timeout                 time.Duration `json:"timeout,omitempty"`
	CircuitBreakerThreshold int           `json:"circuit_breaker_threshold,omitempty"`

	// Специфика платформ
	TeamID   string `json:"team_id,omitempty"`   // Make.com: команда, в которой живут сценарии
	TokenURL string `json:"token_url,omitempty"` // OAuth2 token endpoint (если отличается от дефолтного)
}

// Validate — базовая проверка обязательных полей
func (c PlatformConfig) Validate() error {
	switch {
	case c.ID == "":
		return fmt.Errorf("%w: platform id is required", ErrInvalidConfig)
	case c.Name == "":
		return fmt.Errorf("%w: platform name is required", ErrInvalidConfig)
	case c.Type == "":
		return fmt.Errorf("%w: platform type is required", ErrInvalidConfig)
	case c.BaseURL == "":
		return fmt.Errorf("%w: platform base url is required", ErrInvalidConfig)
	}
	return nil
}

// Merge — поверхностное слияние: непустые поля update перекрывают текущие.
func (c PlatformConfig) Merge(update PlatformConfig) PlatformConfig {
	if update.ID != "" {
		c.ID = update.ID
	}
	if update.Name != "" {
		c.Name = update.Name
	}
	if update.Type != "" {
		c.Type = update.Type
	}
	if update.BaseURL != "" {
		c.BaseURL = update.BaseURL
	}
	if update.Credentials != nil {
		c.Credentials = update.Credentials
	}
	if update.Timeout > 0 {
		c.Timeout = update.Timeout
	}
	if update.CircuitBreakerThreshold > 0 {
		c.CircuitBreakerThreshold = update.CircuitBreakerThreshold
	}
	if update.TeamID != "" {
		c.TeamID = update.TeamID
	}
	if update.TokenURL != "" {
		c.TokenURL = update.TokenURL
	}
	return c
}

// AuthResult — итог аутентификации. Ожидаемый отказ платформы кодируется в Success/Error.
type AuthResult struct {
	Success   bool       `json:"success"`
	Token     string     `json:"token,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Error     string     `json:"error,omitempty"`
}

// ConnectionStatus — результат Connect
type ConnectionStatus struct {
	Connected     bool       `json:"connected"`
	LastConnected *time.Time `json:"last_connected,omitempty"`
	Error         string     `json:"error,omitempty"`
}

// PlatformInfo — публичное описание зарегистрированной платформы (без секретов)
type PlatformInfo struct {
	ID             string       `json:"id"`
	Name           string       `json:"name"`
	Type           PlatformType `json:"type"`
	BaseURL        string       `json:"base_url"`
	Connected      bool         `json:"connected"`
	LastError      string       `json:"last_error,omitempty"`
	CredentialType string       `json:"credential_type"`
	BreakerState   string       `json:"breaker_state"`
}

// CredentialsSpec — сериализуемая форма Credentials (YAML файл платформ, тело запроса API).
// Type выбирает вариант: api_key, oauth2_token, oauth2_client.
type CredentialsSpec struct {
	Type         string    `json:"type" yaml:"type"`
	APIKey       string    `json:"api_key,omitempty" yaml:"api_key"`
	AccessToken  string    `json:"access_token,omitempty" yaml:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty" yaml:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at,omitempty" yaml:"expires_at"`
	ClientID     string    `json:"client_id,omitempty" yaml:"client_id"`
	ClientSecret string    `json:"client_secret,omitempty" yaml:"client_secret"`
}

func (s CredentialsSpec) Build() (Credentials, error) {
	switch s.Type {
	case "api_key":
		if s.APIKey == "" {
			return nil, fmt.Errorf("%w: api_key credentials require api_key", ErrInvalidConfig)
		}
		return APIKeyCredentials{APIKey: s.APIKey}, nil
	case "oauth2_token":
		if s.AccessToken == "" {
			return nil, fmt.Errorf("%w: oauth2_token credentials require access_token", ErrInvalidConfig)
		}
		return OAuth2TokenCredentials{AccessToken: s.AccessToken, RefreshToken: s.RefreshToken, ExpiresAt: s.ExpiresAt}, nil
	case "oauth2_client":
		if s.ClientID == "" || s.ClientSecret == "" || s.RefreshToken == "" {
			return nil, fmt.Errorf("%w: oauth2_client credentials require client_id, client_secret and refresh_token", ErrInvalidConfig)
		}
		return OAuth2ClientCredentials{ClientID: s.ClientID, ClientSecret: s.ClientSecret, RefreshToken: s.RefreshToken}, nil
	case "":
		return nil, fmt.Errorf("%w: credentials type is required", ErrInvalidConfig)
	}
	return nil, fmt.Errorf("%w: unknown credentials type %q", ErrInvalidConfig, s.Type)
}

// PlatformSpec — описание платформы во внешнем формате. Timeout строкой ("15s").
type PlatformSpec struct {
	ID                      string          `json:"id" yaml:"id"`
	Name                    string          `json:"name" yaml:"name"`
	Type                    PlatformType    `json:"type" yaml:"type"`
	BaseURL                 string          `json:"base_url" yaml:"base_url"`
	Credentials             CredentialsSpec `json:"credentials" yaml:"credentials"`
	Timeout                 string          `json:"timeout,omitempty" yaml:"timeout"`
	CircuitBreakerThreshold int             `json:"circuit_breaker_threshold,omitempty" yaml:"circuit_breaker_threshold"`
	TeamID                  string          `json:"team_id,omitempty" yaml:"team_id"`
	TokenURL                string          `json:"token_url,omitempty" yaml:"token_url"`
}

func (s PlatformSpec) ToConfig() (PlatformConfig, error) {
	creds, err := s.Credentials.Build()
	if err != nil {
		return PlatformConfig{}, fmt.Errorf("platform %s: %w", s.ID, err)
	}
	cfg := PlatformConfig{
		ID:                      s.ID,
		Name:                    s.Name,
		Type:                    s.Type,
		BaseURL:                 s.BaseURL,
		Credentials:             creds,
		CircuitBreakerThreshold: s.CircuitBreakerThreshold,
		TeamID:                  s.TeamID,
		TokenURL:                s.TokenURL,
	}
	if s.Timeout != "" {
		d, err := time.ParseDuration(s.Timeout)
		if err != nil || d <= 0 {
			return PlatformConfig{}, fmt.Errorf("%w: platform %s: bad timeout %q", ErrInvalidConfig, s.ID, s.Timeout)
		}
		cfg.Timeout = d
	}
	return cfg, cfg.Validate()
}
