// Package notify раздает смены статуса и здоровья агентов внешним получателям.
// Доставка best-effort: ошибки логируются и не возвращаются вызывающему.
package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/akashrtd/cubcen-sub008/internal/domain"
)

// Sink — получатель уведомлений об агентах
type Sink interface {
	NotifyAgentStatusChange(ctx context.Context, change domain.AgentStatusChange)
	NotifyAgentHealthChange(ctx context.Context, change domain.AgentHealthChange)
}

// Типы сообщений
const (
	MessageAgentStatus = "agent_status_changed"
	MessageAgentHealth = "agent_health_changed"
)

// Message — конверт, который уходит в Redis и WebSocket
type Message struct {
	Type      string      `json:"type"`
	Payload   interface{} `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

func encode(msgType string, payload interface{}) ([]byte, error) {
	return json.Marshal(Message{Type: msgType, Payload: payload, Timestamp: time.Now().UTC()})
}

// Multi раздает уведомление всем вложенным получателям по очереди
type Multi []Sink

func (m Multi) NotifyAgentStatusChange(ctx context.Context, change domain.AgentStatusChange) {
	for _, s := range m {
		if s != nil {
			s.NotifyAgentStatusChange(ctx, change)
		}
	}
}

func (m Multi) NotifyAgentHealthChange(ctx context.Context, change domain.AgentHealthChange) {
	for _, s := range m {
		if s != nil {
			s.NotifyAgentHealthChange(ctx, change)
		}
	}
}
