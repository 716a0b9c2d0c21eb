package service

import (
	"context"
	"time"

	"cryptopayx/internal/model"
	"cryptopayx/internal/service/mq"
	"cryptopayx/pkg/logger"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// RelayService 把本地消息表 (outbox) 的 PENDING 消息搬运到 MQ.
// 投递语义是 at-least-once: SENT 标记失败时下一轮会重发,
// 消费侧 (WS 推送) 按事件内容幂等.
type RelayService struct {
	db       *gorm.DB
	producer mq.Producer
	interval time.Duration
	batch    int
}

func NewRelayService(db *gorm.DB, producer mq.Producer) *RelayService {
	return &RelayService{
		db:       db,
		producer: producer,
		interval: 500 * time.Millisecond,
		batch:    50,
	}
}

func (s *RelayService) Start(ctx context.Context) {
	logger.Info("消息中继服务启动")
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("消息中继服务停止")
			return
		case <-ticker.C:
			s.relayPending(ctx)
		}
	}
}

func (s *RelayService) relayPending(ctx context.Context) {
	var messages []model.OutboxMessage
	err := s.db.WithContext(ctx).
		Where("status = ?", "PENDING").
		Order("id ASC").
		Limit(s.batch).
		Find(&messages).Error
	if err != nil {
		logger.Error("查询待投递消息失败", zap.Error(err))
		return
	}
	if len(messages) == 0 {
		return
	}

	for _, msg := range messages {
		if err := s.producer.Publish(ctx, msg.Topic, msg.Key, msg.Payload); err != nil {
			logger.Error("消息投递失败", zap.Uint64("msg_id", msg.ID), zap.Error(err))
			continue
		}
		if err := s.db.WithContext(ctx).Model(&msg).Update("status", "SENT").Error; err != nil {
			// 下一轮会重发同一条, 消费侧需幂等
			logger.Error("消息状态更新失败", zap.Uint64("msg_id", msg.ID), zap.Error(err))
		}
	}
}
