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

func TestN8NAdapterRejectsClientCredentials(t *testing.T) {
	_, err := NewN8NAdapter(platformConfig(domain.PlatformN8N, "http://n8n.local",
		domain.OAuth2ClientCredentials{ClientID: "a", ClientSecret: "b", RefreshToken: "c"}), testDeps())
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)

	_, err = NewN8NAdapter(platformConfig(domain.PlatformN8N, "http://n8n.local", nil), testDeps())
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
}

func TestN8NAdapterDiscoverPaginates(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /workflows", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-N8N-API-KEY") != "key" {
			writeJSON(t, w, http.StatusUnauthorized, map[string]string{"message": "unauthorized"})
			return
		}
		if r.URL.Query().Get("cursor") == "" {
			writeJSON(t, w, http.StatusOK, map[string]interface{}{
				"data": []map[string]interface{}{{
					"id": "wf1", "name": "Sync", "active": true,
					"tags":  []map[string]string{{"name": "prod"}},
					"nodes": []map[string]string{{"type": "n8n-nodes-base.slack"}, {"type": "n8n-nodes-base.httpRequest"}, {"type": "n8n-nodes-base.slack"}},
				}},
				"nextCursor": "page2",
			})
			return
		}
		assert.Equal(t, "page2", r.URL.Query().Get("cursor"))
		writeJSON(t, w, http.StatusOK, map[string]interface{}{
			"data": []map[string]interface{}{{"id": "wf2", "name": "Off", "active": false}},
		})
	})
	mux.HandleFunc("GET /executions", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "wf1", r.URL.Query().Get("workflowId"))
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		writeJSON(t, w, http.StatusOK, map[string]interface{}{
			"data": []map[string]interface{}{
				{"id": 3, "status": "error", "workflowId": "wf1"},
				{"id": 2, "status": "crashed", "workflowId": "wf1"},
				{"id": 1, "status": "error", "workflowId": "wf1"},
			},
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	a, err := NewN8NAdapter(platformConfig(domain.PlatformN8N, srv.URL, domain.APIKeyCredentials{APIKey: "key"}), testDeps())
	require.NoError(t, err)

	status := a.Connect(context.Background())
	require.True(t, status.Connected, status.Error)
	require.NotNil(t, status.LastConnected)

	agents, err := a.DiscoverAgents(context.Background())
	require.NoError(t, err)
	require.Len(t, agents, 2)

	assert.Equal(t, "wf1", agents[0].ExternalID)
	assert.Equal(t, domain.StatusError, agents[0].Status)
	assert.Equal(t, []string{"httpRequest", "slack", "tag:prod"}, agents[0].Capabilities)
	assert.Equal(t, domain.StatusInactive, agents[1].Status)
	assert.Equal(t, domain.PlatformN8N, agents[1].Platform)
}

func TestN8NAdapterBearerToken(t *testing.T) {
	var auth atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth.Store(r.Header.Get("Authorization"))
		writeJSON(t, w, http.StatusOK, map[string]interface{}{"data": []interface{}{}})
	}))
	defer srv.Close()

	creds := domain.OAuth2TokenCredentials{AccessToken: "tok"}
	a, err := NewN8NAdapter(platformConfig(domain.PlatformN8N, srv.URL, creds), testDeps())
	require.NoError(t, err)

	res, err := a.Authenticate(context.Background(), creds)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "Bearer tok", auth.Load())

	res, err = a.Authenticate(context.Background(), domain.OAuth2ClientCredentials{ClientID: "a", ClientSecret: "b", RefreshToken: "c"})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "invalid credentials")
}

func TestN8NAdapterExecute(t *testing.T) {
	var polls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /workflows/{id}/run", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, map[string]interface{}{"data": map[string]interface{}{"executionId": 17}})
	})
	mux.HandleFunc("GET /executions/{id}", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "17", r.PathValue("id"))
		assert.Equal(t, "true", r.URL.Query().Get("includeData"))
		if polls.Add(1) == 1 {
			writeJSON(t, w, http.StatusOK, map[string]interface{}{"id": 17, "status": "running", "finished": false})
			return
		}
		started := time.Now().Add(-time.Second).UTC()
		writeJSON(t, w, http.StatusOK, map[string]interface{}{
			"id": 17, "status": "error", "finished": false,
			"startedAt": started, "stoppedAt": time.Now().UTC(),
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	a, err := NewN8NAdapter(platformConfig(domain.PlatformN8N, srv.URL, domain.APIKeyCredentials{APIKey: "key"}), testDeps())
	require.NoError(t, err)

	res := a.ExecuteAgent(context.Background(), "wf1", map[string]interface{}{"a": "b"})
	assert.False(t, res.Success)
	assert.Equal(t, "17", res.ExecutionID)
	assert.Equal(t, "execution finished with status error", res.Error)
}

func TestN8NAdapterPollEvents(t *testing.T) {
	var stopped atomic.Value
	stopped.Store(time.Now().Add(-time.Hour))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ts := stopped.Load().(time.Time).UTC()
		writeJSON(t, w, http.StatusOK, map[string]interface{}{
			"data": []map[string]interface{}{
				{"id": 2, "status": "success", "finished": true, "workflowId": "wf1", "startedAt": ts, "stoppedAt": ts},
				{"id": 1, "status": "running", "workflowId": "wf2", "startedAt": ts},
			},
		})
	}))
	defer srv.Close()

	a, err := NewN8NAdapter(platformConfig(domain.PlatformN8N, srv.URL, domain.APIKeyCredentials{APIKey: "key"}), testDeps())
	require.NoError(t, err)

	events, err := a.pollEvents(context.Background())
	require.NoError(t, err)
	assert.Empty(t, events)

	stopped.Store(time.Now().Add(time.Minute))
	events, err = a.pollEvents(context.Background())
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventTaskCompleted, events[0].Type)
	assert.Equal(t, "wf1", events[0].AgentID)
	assert.Equal(t, "n8n-test", events[0].PlatformID)
}

func TestN8NAgentWithoutNodesHasEmptyCapabilities(t *testing.T) {
	cfg := platformConfig(domain.PlatformN8N, "http://n8n.local", nil)
	a := n8nAgent(cfg, n8nWorkflow{Name: "Bare", Active: true}, nil)

	require.NotNil(t, a.Capabilities)
	assert.Empty(t, a.Capabilities)
}
