package service

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"testing"
	"time"

	"github.com/akashrtd/cubcen-sub008/internal/domain"
	"github.com/akashrtd/cubcen-sub008/internal/infra/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestGenerateTokenRoundTrip(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)

	ops := NewStaticOperators([]domain.Operator{{
		Username:     "ops",
		PasswordHash: string(hash),
		Scopes:       map[string]bool{domain.ScopeAgentsRead: true},
	}})
	svc := NewAuthService(ops, key, time.Hour)

	resp, err := svc.GenerateToken(context.Background(), "ops", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, "Bearer", resp.TokenType)
	assert.Equal(t, int64(3600), resp.ExpiresIn)

	claims, err := auth.NewBaseValidator(&key.PublicKey).VerifyToken("Bearer " + resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "ops", claims.UserID)
	assert.True(t, claims.HasScope(domain.ScopeAgentsRead))
	assert.False(t, claims.HasScope(domain.ScopeAgentsWrite))

	_, err = svc.GenerateToken(context.Background(), "ops", "wrong")
	assert.Error(t, err)
	_, err = svc.GenerateToken(context.Background(), "nobody", "s3cret")
	assert.Error(t, err)
}

func TestGenerateTokenWithoutKey(t *testing.T) {
	svc := NewAuthService(NewStaticOperators(nil), nil, 0)
	_, err := svc.GenerateToken(context.Background(), "ops", "x")
	assert.Error(t, err)
}
