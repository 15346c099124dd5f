package connectors

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/akashrtd/cubcen-sub008/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMakeTestAdapter(t *testing.T, srv *httptest.Server, creds domain.Credentials, mutate ...func(*domain.PlatformConfig)) *MakeAdapter {
	t.Helper()
	cfg := platformConfig(domain.PlatformMake, srv.URL, creds)
	cfg.TeamID = "42"
	for _, m := range mutate {
		m(&cfg)
	}
	a, err := NewMakeAdapter(cfg, testDeps())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Disconnect(context.Background()) })
	return a
}

func TestMakeAdapterRequiresCredentials(t *testing.T) {
	_, err := NewMakeAdapter(platformConfig(domain.PlatformMake, "http://make.local", nil), testDeps())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)

	_, err = NewMakeAdapter(domain.PlatformConfig{ID: "x", Type: domain.PlatformMake}, testDeps())
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
}

func TestMakeAdapterDiscoverAgents(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /scenarios", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Token secret" {
			writeJSON(t, w, http.StatusUnauthorized, map[string]string{"message": "bad token"})
			return
		}
		assert.Equal(t, "42", r.URL.Query().Get("teamId"))
		writeJSON(t, w, http.StatusOK, map[string]interface{}{
			"scenarios": []map[string]interface{}{
				{"id": 1, "name": "Healthy", "isActive": true, "usedPackages": []string{"http", "slack", "http"},
					"scheduling": map[string]interface{}{"type": "indefinitely", "interval": 900}},
				{"id": 2, "name": "Disabled", "isActive": false},
				{"id": 3, "name": "Locked", "isActive": true, "islocked": true},
				{"id": 4, "name": "Failing", "isActive": true},
			},
		})
	})
	mux.HandleFunc("GET /scenarios/{id}/logs", func(w http.ResponseWriter, r *http.Request) {
		statuses := map[string][]int{
			"1": {makeLogSuccess, makeLogError, makeLogSuccess, makeLogWarning, makeLogSuccess},
			"4": {makeLogError, makeLogError, makeLogSuccess, makeLogError, makeLogSuccess},
		}[r.PathValue("id")]
		logs := make([]map[string]interface{}, 0, len(statuses))
		for i, st := range statuses {
			logs = append(logs, map[string]interface{}{"id": i, "status": st, "duration": 120})
		}
		writeJSON(t, w, http.StatusOK, map[string]interface{}{"scenarioLogs": logs})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	a := newMakeTestAdapter(t, srv, domain.APIKeyCredentials{APIKey: "secret"})
	res, err := a.Authenticate(context.Background(), domain.APIKeyCredentials{APIKey: "secret"})
	require.NoError(t, err)
	require.True(t, res.Success, res.Error)

	agents, err := a.DiscoverAgents(context.Background())
	require.NoError(t, err)
	require.Len(t, agents, 4)

	byID := make(map[string]domain.Agent)
	for _, ag := range agents {
		byID[ag.ExternalID] = ag
	}
	assert.Equal(t, domain.StatusActive, byID["1"].Status)
	assert.Equal(t, domain.StatusInactive, byID["2"].Status)
	assert.Equal(t, domain.StatusMaintenance, byID["3"].Status)
	assert.Equal(t, domain.StatusError, byID["4"].Status)

	assert.Equal(t, []string{"http", "slack", "scheduling:indefinitely"}, byID["1"].Capabilities)
	assert.Equal(t, "make-test", byID["1"].PlatformID)
	assert.Equal(t, domain.PlatformMake, byID["1"].Platform)
	assert.Equal(t, "Healthy", byID["1"].Name)
}

func TestMakeAdapterDiscoverFailsWhenListingFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusInternalServerError, map[string]string{"message": "db down"})
	}))
	defer srv.Close()

	a := newMakeTestAdapter(t, srv, domain.APIKeyCredentials{APIKey: "secret"})
	_, err := a.DiscoverAgents(context.Background())
	require.Error(t, err)
	assert.Equal(t, "HTTP 500: db down", ExtractErrorMessage(err))
	assert.Equal(t, "HTTP 500: db down", a.LastError())
}

func TestMakeAdapterInvalidCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusUnauthorized, map[string]string{"message": "invalid token"})
	}))
	defer srv.Close()

	a := newMakeTestAdapter(t, srv, domain.APIKeyCredentials{APIKey: "wrong"})

	res, err := a.Authenticate(context.Background(), domain.APIKeyCredentials{APIKey: "wrong"})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "HTTP 401: invalid token", res.Error)

	res, err = a.Authenticate(context.Background(), domain.APIKeyCredentials{})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "invalid credentials")

	_, err = a.Authenticate(context.Background(), nil)
	assert.ErrorIs(t, err, domain.ErrInvalidCredentials)

	status := a.Connect(context.Background())
	assert.False(t, status.Connected)
	assert.False(t, a.IsConnected())
	assert.Equal(t, "HTTP 401: invalid token", status.Error)
}

func TestMakeAdapterOAuthClientExchangeAndLazyRefresh(t *testing.T) {
	var exchanges atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /oauth/v2/token", func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
		assert.Equal(t, "client", r.PostForm.Get("client_id"))
		assert.Equal(t, "s3cret", r.PostForm.Get("client_secret"))
		assert.Empty(t, r.Header.Get("Authorization"))

		n := exchanges.Add(1)
		if n == 1 {
			assert.Equal(t, "rt-1", r.PostForm.Get("refresh_token"))
			writeJSON(t, w, http.StatusOK, map[string]interface{}{
				"access_token": "at-1", "refresh_token": "rt-2", "expires_in": 3600,
			})
			return
		}
		assert.Equal(t, "rt-2", r.PostForm.Get("refresh_token"))
		writeJSON(t, w, http.StatusOK, map[string]interface{}{"access_token": "at-2"})
	})
	var lastAuth atomic.Value
	mux.HandleFunc("GET /users/me", func(w http.ResponseWriter, r *http.Request) {
		lastAuth.Store(r.Header.Get("Authorization"))
		writeJSON(t, w, http.StatusOK, map[string]interface{}{"authUser": map[string]int{"id": 1}})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	creds := domain.OAuth2ClientCredentials{ClientID: "client", ClientSecret: "s3cret", RefreshToken: "rt-1"}
	a := newMakeTestAdapter(t, srv, creds)

	res, err := a.Authenticate(context.Background(), creds)
	require.NoError(t, err)
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "at-1", res.Token)
	require.NotNil(t, res.ExpiresAt)
	assert.WithinDuration(t, time.Now().Add(time.Hour), *res.ExpiresAt, 5*time.Second)

	health := a.HealthCheck(context.Background())
	assert.Equal(t, domain.HealthHealthy, health.Status)
	assert.Equal(t, "Bearer at-1", lastAuth.Load())

	// Токен протух: следующий запрос сначала обновит его
	a.auth.session.mu.Lock()
	a.auth.session.expiresAt = time.Now().Add(-time.Second)
	a.auth.session.mu.Unlock()

	health = a.HealthCheck(context.Background())
	assert.Equal(t, domain.HealthHealthy, health.Status)
	assert.Equal(t, "Bearer at-2", lastAuth.Load())
	assert.Equal(t, int32(2), exchanges.Load())
}

func TestMakeAdapterExpiredTokenWithoutRefreshIsCleared(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		writeJSON(t, w, http.StatusOK, map[string]interface{}{"scenarios": []interface{}{}})
	}))
	defer srv.Close()

	creds := domain.OAuth2TokenCredentials{AccessToken: "at", ExpiresAt: time.Now().Add(time.Hour)}
	a := newMakeTestAdapter(t, srv, creds)
	res, err := a.Authenticate(context.Background(), creds)
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Equal(t, int32(1), hits.Load())

	a.auth.session.mu.Lock()
	a.auth.session.expiresAt = time.Now().Add(-time.Second)
	a.auth.session.mu.Unlock()

	health := a.HealthCheck(context.Background())
	assert.Equal(t, domain.HealthUnhealthy, health.Status)
	assert.Contains(t, health.Error, "expired")
	assert.Equal(t, int32(1), hits.Load(), "expired token must not reach the platform")

	token, _ := a.auth.session.token()
	assert.Empty(t, token)
}

func TestMakeAdapterUnauthorizedClearsToken(t *testing.T) {
	var reject atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if reject.Load() {
			writeJSON(t, w, http.StatusUnauthorized, map[string]string{"message": "token revoked"})
			return
		}
		writeJSON(t, w, http.StatusOK, map[string]interface{}{"scenarios": []interface{}{}})
	}))
	defer srv.Close()

	creds := domain.OAuth2TokenCredentials{AccessToken: "at"}
	a := newMakeTestAdapter(t, srv, creds)
	res, err := a.Authenticate(context.Background(), creds)
	require.NoError(t, err)
	require.True(t, res.Success)
	require.NotNil(t, res.ExpiresAt)
	assert.WithinDuration(t, time.Now().Add(DefaultTokenLifetime), *res.ExpiresAt, 5*time.Second)

	reject.Store(true)
	health := a.HealthCheck(context.Background())
	assert.Equal(t, domain.HealthUnhealthy, health.Status)
	assert.Equal(t, "HTTP 401: token revoked", health.Error)

	token, _ := a.auth.session.token()
	assert.Empty(t, token)
	assert.False(t, a.auth.authenticated())
}

func TestMakeAdapterRetriesOnceAfterThrottle(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.Header().Set("Retry-After", "0")
			writeJSON(t, w, http.StatusTooManyRequests, map[string]string{"message": "slow down"})
			return
		}
		writeJSON(t, w, http.StatusOK, map[string]interface{}{})
	}))
	defer srv.Close()

	a := newMakeTestAdapter(t, srv, domain.APIKeyCredentials{APIKey: "k"})
	health := a.HealthCheck(context.Background())
	assert.Equal(t, domain.HealthHealthy, health.Status)
	assert.Equal(t, int32(2), hits.Load())
}

func TestMakeAdapterThrottleRetriedOnlyOnce(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Retry-After", "0")
		writeJSON(t, w, http.StatusTooManyRequests, map[string]string{"message": "slow down"})
	}))
	defer srv.Close()

	a := newMakeTestAdapter(t, srv, domain.APIKeyCredentials{APIKey: "k"})
	health := a.HealthCheck(context.Background())
	assert.Equal(t, domain.HealthUnhealthy, health.Status)
	assert.Contains(t, health.Error, "HTTP 429")
	assert.Equal(t, int32(2), hits.Load())
}

func TestMakeAdapterBreakerOpensOnServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		writeJSON(t, w, http.StatusServiceUnavailable, map[string]string{"message": "maintenance"})
	}))
	defer srv.Close()

	a := newMakeTestAdapter(t, srv, domain.APIKeyCredentials{APIKey: "k"}, func(c *domain.PlatformConfig) {
		c.CircuitBreakerThreshold = 2
	})

	for i := 0; i < 2; i++ {
		h := a.HealthCheck(context.Background())
		assert.Equal(t, "HTTP 503: maintenance", h.Error)
	}
	assert.Equal(t, "open", a.BreakerStats().State)

	h := a.HealthCheck(context.Background())
	assert.Equal(t, domain.HealthUnhealthy, h.Status)
	assert.Contains(t, h.Error, "circuit breaker is open")
	assert.Equal(t, int32(2), hits.Load(), "open breaker must fail fast")
}

func TestMakeAdapterClientErrorsDoNotTripBreaker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusNotFound, map[string]string{"message": "scenario not found"})
	}))
	defer srv.Close()

	a := newMakeTestAdapter(t, srv, domain.APIKeyCredentials{APIKey: "k"}, func(c *domain.PlatformConfig) {
		c.CircuitBreakerThreshold = 1
	})

	for i := 0; i < 3; i++ {
		report := a.GetAgentStatus(context.Background(), "999")
		assert.Equal(t, domain.StatusError, report.Status)
		assert.Equal(t, "HTTP 404: scenario not found", report.Error)
		assert.Zero(t, report.Metrics.TotalExecutions)
	}
	assert.Equal(t, "closed", a.BreakerStats().State)
}

func TestMakeAdapterGetAgentStatus(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /scenarios/{id}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, map[string]interface{}{
			"scenario": map[string]interface{}{"id": 7, "name": "S", "isActive": true},
		})
	})
	mux.HandleFunc("GET /scenarios/{id}/logs", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, map[string]interface{}{
			"scenarioLogs": []map[string]interface{}{
				{"id": "a", "status": makeLogSuccess, "duration": 100, "timestamp": now},
				{"id": "b", "status": makeLogError, "duration": 300, "timestamp": now.Add(-time.Minute)},
			},
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	a := newMakeTestAdapter(t, srv, domain.APIKeyCredentials{APIKey: "k"})
	report := a.GetAgentStatus(context.Background(), "7")

	assert.Equal(t, "7", report.AgentID)
	assert.Equal(t, domain.StatusActive, report.Status)
	assert.Equal(t, 2, report.Metrics.TotalExecutions)
	assert.Equal(t, 1, report.Metrics.FailedExecutions)
	assert.InDelta(t, 200.0, report.Metrics.AverageExecutionTimeMs, 0.001)
	require.NotNil(t, report.LastRun)
	assert.True(t, report.LastRun.Equal(now))
}

func TestMakeAdapterExecuteWaitsForCompletion(t *testing.T) {
	var polls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /scenarios/{id}/run", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "7", r.PathValue("id"))
		writeJSON(t, w, http.StatusOK, map[string]interface{}{"executionId": "exec-1"})
	})
	mux.HandleFunc("GET /executions/{id}", func(w http.ResponseWriter, r *http.Request) {
		if polls.Add(1) < 3 {
			writeJSON(t, w, http.StatusOK, map[string]interface{}{
				"execution": map[string]interface{}{"id": "exec-1", "status": "running"},
			})
			return
		}
		writeJSON(t, w, http.StatusOK, map[string]interface{}{
			"execution": map[string]interface{}{
				"id": "exec-1", "status": "success", "finishedAt": time.Now().UTC(),
				"outputs": map[string]interface{}{"rows": 3},
			},
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	a := newMakeTestAdapter(t, srv, domain.APIKeyCredentials{APIKey: "k"})
	res := a.ExecuteAgent(context.Background(), "7", map[string]interface{}{"x": 1})

	require.True(t, res.Success, res.Error)
	assert.Equal(t, "exec-1", res.ExecutionID)
	assert.Equal(t, float64(3), res.Data["rows"])
	assert.GreaterOrEqual(t, polls.Load(), int32(3))
	assert.False(t, res.Timestamp.IsZero())
}

func TestMakeAdapterExecuteTimesOut(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /scenarios/{id}/run", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, map[string]interface{}{"executionId": 55})
	})
	mux.HandleFunc("GET /executions/{id}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, map[string]interface{}{
			"execution": map[string]interface{}{"id": 55, "status": "running"},
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	cfg := platformConfig(domain.PlatformMake, srv.URL, domain.APIKeyCredentials{APIKey: "k"})
	deps := testDeps()
	deps.Options.ExecutionMaxWait = 60 * time.Millisecond
	a, err := NewMakeAdapter(cfg, deps)
	require.NoError(t, err)

	res := a.ExecuteAgent(context.Background(), "7", nil)
	assert.False(t, res.Success)
	assert.Equal(t, "55", res.ExecutionID)
	assert.Contains(t, res.Error, "did not finish")
	assert.GreaterOrEqual(t, res.ExecutionTimeMs, int64(50))
}

func TestMakeAdapterExecuteTriggerFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusBadRequest, map[string]string{"message": "scenario is inactive"})
	}))
	defer srv.Close()

	a := newMakeTestAdapter(t, srv, domain.APIKeyCredentials{APIKey: "k"})
	res := a.ExecuteAgent(context.Background(), "7", nil)
	assert.False(t, res.Success)
	assert.Equal(t, "HTTP 400: scenario is inactive", res.Error)
}

func TestMakeAdapterPollEvents(t *testing.T) {
	var logTime atomic.Value
	logTime.Store(time.Now().Add(-time.Hour))

	mux := http.NewServeMux()
	mux.HandleFunc("GET /scenarios", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, map[string]interface{}{
			"scenarios": []map[string]interface{}{{"id": 1, "name": "S", "isActive": true}},
		})
	})
	mux.HandleFunc("GET /scenarios/{id}/logs", func(w http.ResponseWriter, r *http.Request) {
		ts := logTime.Load().(time.Time)
		writeJSON(t, w, http.StatusOK, map[string]interface{}{
			"scenarioLogs": []map[string]interface{}{
				{"id": "l2", "status": makeLogError, "timestamp": ts, "error": map[string]string{"message": "module failed"}},
				{"id": "l1", "status": makeLogSuccess, "timestamp": ts.Add(-time.Second)},
			},
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	a := newMakeTestAdapter(t, srv, domain.APIKeyCredentials{APIKey: "k"})

	events, err := a.pollEvents(context.Background())
	require.NoError(t, err)
	assert.Empty(t, events, "first poll only sets the starting point")

	logTime.Store(time.Now().Add(time.Minute))
	events, err = a.pollEvents(context.Background())
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, domain.EventTaskCompleted, events[0].Type)
	assert.Equal(t, domain.EventTaskFailed, events[1].Type)
	assert.Equal(t, "1", events[1].AgentID)
	assert.Equal(t, "module failed", events[1].Data["error"])
}

func TestMakeAdapterUpdateConfig(t *testing.T) {
	a, err := NewMakeAdapter(platformConfig(domain.PlatformMake, "http://a.local", domain.APIKeyCredentials{APIKey: "k"}), testDeps())
	require.NoError(t, err)

	require.NoError(t, a.UpdateConfig(domain.PlatformConfig{BaseURL: "http://b.local", TeamID: "9"}))
	cfg := a.Config()
	assert.Equal(t, "http://b.local", cfg.BaseURL)
	assert.Equal(t, "9", cfg.TeamID)
	assert.Equal(t, "make test", cfg.Name)
	assert.Equal(t, "http://b.local/oauth/v2/token", a.tokenURL())

	err = a.UpdateConfig(domain.PlatformConfig{Type: domain.PlatformN8N})
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
}

func TestMakeAdapterConnectHealthDisconnect(t *testing.T) {
	tests := []struct {
		name   string
		creds  domain.Credentials
		header string
	}{
		{name: "api key", creds: domain.APIKeyCredentials{APIKey: "secret"}, header: "Token secret"},
		{name: "oauth token", creds: domain.OAuth2TokenCredentials{AccessToken: "at-1"}, header: "Bearer at-1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			authorized := func(w http.ResponseWriter, r *http.Request) bool {
				if r.Header.Get("Authorization") != tt.header {
					writeJSON(t, w, http.StatusUnauthorized, map[string]string{"message": "no auth"})
					return false
				}
				return true
			}
			mux := http.NewServeMux()
			mux.HandleFunc("GET /scenarios", func(w http.ResponseWriter, r *http.Request) {
				if authorized(w, r) {
					writeJSON(t, w, http.StatusOK, map[string]interface{}{"scenarios": []interface{}{}})
				}
			})
			mux.HandleFunc("GET /users/me", func(w http.ResponseWriter, r *http.Request) {
				if authorized(w, r) {
					writeJSON(t, w, http.StatusOK, map[string]interface{}{"authUser": map[string]int{"id": 1}})
				}
			})
			srv := httptest.NewServer(mux)
			defer srv.Close()

			a := newMakeTestAdapter(t, srv, tt.creds)
			ctx := context.Background()

			st := a.Connect(ctx)
			require.True(t, st.Connected, st.Error)
			assert.True(t, a.IsConnected())
			assert.Equal(t, domain.HealthHealthy, a.HealthCheck(ctx).Status)

			require.NoError(t, a.Disconnect(ctx))
			assert.False(t, a.IsConnected())

			_, err := a.DiscoverAgents(ctx)
			require.Error(t, err)
			assert.Equal(t, "HTTP 401: no auth", ExtractErrorMessage(err))

			// Повторный Connect восстанавливает доступ
			st = a.Connect(ctx)
			require.True(t, st.Connected, st.Error)
			_, err = a.DiscoverAgents(ctx)
			assert.NoError(t, err)
		})
	}
}
