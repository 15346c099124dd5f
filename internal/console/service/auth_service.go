package service

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/akashrtd/cubcen-sub008/internal/domain"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

const DefaultTokenTTL = 24 * time.Hour

var errInvalidLogin = errors.New("invalid credentials")

type AuthProvider interface {
	GetOperator(ctx context.Context, username string) (*domain.Operator, error)
}

// StaticOperators — операторы из конфигурации (auth.operators)
type StaticOperators struct {
	mu        sync.RWMutex
	operators map[string]domain.Operator
}

func NewStaticOperators(ops []domain.Operator) *StaticOperators {
	m := make(map[string]domain.Operator, len(ops))
	for _, op := range ops {
		if op.ID == "" {
			op.ID = op.Username
		}
		m[op.Username] = op
	}
	return &StaticOperators{operators: m}
}

func (s *StaticOperators) GetOperator(ctx context.Context, username string) (*domain.Operator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	op, ok := s.operators[username]
	if !ok {
		return nil, nil
	}
	return &op, nil
}

type AuthService struct {
	repo       AuthProvider
	privateKey *rsa.PrivateKey
	ttl        time.Duration
}

func NewAuthService(repo AuthProvider, privateKey *rsa.PrivateKey, ttl time.Duration) *AuthService {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &AuthService{
		repo:       repo,
		privateKey: privateKey,
		ttl:        ttl,
	}
}

func (s *AuthService) GenerateToken(ctx context.Context, username, password string) (*domain.TokenResponse, error) {
	if s.privateKey == nil {
		return nil, errors.New("token signing is not configured")
	}

	// 1. Оператор
	op, err := s.repo.GetOperator(ctx, username)
	if err != nil || op == nil {
		return nil, errInvalidLogin
	}

	// 2. Пароль (bcrypt)
	if err := bcrypt.CompareHashAndPassword([]byte(op.PasswordHash), []byte(password)); err != nil {
		return nil, errInvalidLogin
	}

	// 3. Claims
	now := time.Now()
	expiresAt := now.Add(s.ttl)
	claims := &domain.CustomClaims{
		UserID: op.ID,
		Scopes: op.Scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "cubcen-console",
			Subject:   op.ID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	// 4. Подпись закрытым ключом (RS256)
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signed, err := token.SignedString(s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign token: %w", err)
	}

	return &domain.TokenResponse{
		AccessToken: signed,
		TokenType:   "Bearer",
		ExpiresIn:   int64(s.ttl.Seconds()),
	}, nil
}
