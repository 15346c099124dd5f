package notify

import (
	"context"

	"github.com/akashrtd/cubcen-sub008/internal/domain"
	"github.com/akashrtd/cubcen-sub008/internal/infra"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisSink публикует уведомления в Pub/Sub каналы
type RedisSink struct {
	rdb           *redis.Client
	statusChannel string
	healthChannel string
	logger        *zap.Logger
}

func NewRedisSink(rdb *redis.Client, logger *zap.Logger) *RedisSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisSink{
		rdb:           rdb,
		statusChannel: infra.RedisChanAgentStatus,
		healthChannel: infra.RedisChanAgentHealth,
		logger:        logger.With(zap.String("mod", "redis_sink")),
	}
}

func (s *RedisSink) NotifyAgentStatusChange(ctx context.Context, change domain.AgentStatusChange) {
	s.publish(ctx, s.statusChannel, MessageAgentStatus, change.AgentID, change)
}

func (s *RedisSink) NotifyAgentHealthChange(ctx context.Context, change domain.AgentHealthChange) {
	s.publish(ctx, s.healthChannel, MessageAgentHealth, change.AgentID, change)
}

func (s *RedisSink) publish(ctx context.Context, channel, msgType, agentID string, payload interface{}) {
	data, err := encode(msgType, payload)
	if err != nil {
		s.logger.Error("failed to encode notification", zap.String("agent_id", agentID), zap.Error(err))
		return
	}
	if err := s.rdb.Publish(ctx, channel, data).Err(); err != nil {
		s.logger.Warn("notification delivery failed",
			zap.String("channel", channel),
			zap.String("agent_id", agentID),
			zap.Error(err))
	}
}
