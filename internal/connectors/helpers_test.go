package connectors

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/akashrtd/cubcen-sub008/internal/domain"
)

func testDeps() Dependencies {
	return Dependencies{
		Options: Options{
			RateLimitRPS:          1000,
			EventPollInterval:     20 * time.Millisecond,
			ExecutionPollInterval: 10 * time.Millisecond,
			ExecutionMaxWait:      time.Second,
		},
	}
}

func platformConfig(t domain.PlatformType, baseURL string, creds domain.Credentials) domain.PlatformConfig {
	return domain.PlatformConfig{
		ID:          string(t) + "-test",
		Name:        string(t) + " test",
		Type:        t,
		BaseURL:     baseURL,
		Credentials: creds,
	}
}

func writeJSON(t *testing.T, w http.ResponseWriter, status int, v interface{}) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		t.Errorf("encode response: %v", err)
	}
}
