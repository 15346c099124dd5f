package handler

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/akashrtd/cubcen-sub008/internal/domain"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestWriteError_StatusMapping(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("lookup: %w", domain.ErrAgentNotFound), http.StatusNotFound},
		{fmt.Errorf("%w: p1", domain.ErrPlatformNotFound), http.StatusNotFound},
		{domain.ErrAgentAlreadyExists, http.StatusConflict},
		{fmt.Errorf("%w: name is required", domain.ErrInvalidAgent), http.StatusBadRequest},
		{domain.ErrInvalidHealthConfig, http.StatusBadRequest},
		{domain.ErrInvalidConfig, http.StatusBadRequest},
		{errors.New("connection reset"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			rec := httptest.NewRecorder()
			writeError(rec, zap.NewNop(), tt.err)
			assert.Equal(t, tt.want, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
		})
	}
}

func TestWriteError_HidesInternalDetails(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, zap.NewNop(), errors.New("pq: password authentication failed"))
	assert.NotContains(t, rec.Body.String(), "password")
}

func TestDecodeJSON(t *testing.T) {
	var dst struct {
		Name string `json:"name"`
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"a","extra":1}`))
	assert.False(t, decodeJSON(rec, req, &dst, false), "unknown fields are rejected")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/", http.NoBody)
	assert.True(t, decodeJSON(rec, req, &dst, true))

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/", http.NoBody)
	assert.False(t, decodeJSON(rec, req, &dst, false))
}
