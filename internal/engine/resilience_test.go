package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseSignal(t *testing.T) {
	tests := []struct {
		payload string
		want    Signal
		ok      bool
	}{
		{"agent-1:on", Signal{ID: "agent-1", Enabled: true}, true},
		{"agent-1:off", Signal{ID: "agent-1", Enabled: false}, true},
		{"urn:agent:7:true", Signal{ID: "urn:agent:7", Enabled: true}, true},
		{"agent-1:STOP", Signal{ID: "agent-1", Enabled: false}, true},
		{"agent-1", Signal{}, false},
		{":on", Signal{}, false},
		{"agent-1:", Signal{}, false},
		{"agent-1:maybe", Signal{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.payload, func(t *testing.T) {
			got, ok := ParseSignal(tt.payload)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
