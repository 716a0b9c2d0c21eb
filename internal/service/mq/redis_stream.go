package mq

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"cryptopayx/pkg/logger"

	"go.uber.org/zap"
)

// RedisProducer 基于 Redis Streams 的轻量实现, 单机部署时免去 Kafka 依赖
type RedisProducer struct {
	client *redis.Client
}

func NewRedisProducer(client *redis.Client) *RedisProducer {
	return &RedisProducer{client: client}
}

func (p *RedisProducer) Publish(ctx context.Context, topic string, key string, payload []byte) error {
	err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: topic,
		Values: map[string]interface{}{
			"key":     key,
			"payload": payload,
		},
	}).Err()
	if err != nil {
		logger.Error("Redis Stream 消息发送失败", zap.String("topic", topic), zap.Error(err))
		return fmt.Errorf("redis xadd error: %w", err)
	}
	return nil
}

type RedisConsumer struct {
	client *redis.Client
	group  string
	name   string
}

func NewRedisConsumer(client *redis.Client, group, name string) *RedisConsumer {
	return &RedisConsumer{client: client, group: group, name: name}
}

func (c *RedisConsumer) Subscribe(ctx context.Context, topic string, handler func(msg *Message) error) error {
	// XGROUP CREATE <stream> <group> $ MKSTREAM
	err := c.client.XGroupCreateMkStream(ctx, topic, c.group, "$").Err()
	if err != nil && err.Error() != "BUSYGROUP Consumer Group name already exists" {
		return fmt.Errorf("create consumer group: %w", err)
	}

	logger.Info("Redis Stream 消费者已启动", zap.String("topic", topic), zap.String("group", c.group))

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
			streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
				Group:    c.group,
				Consumer: c.name,
				Streams:  []string{topic, ">"},
				Count:    1,
				Block:    2 * time.Second,
			}).Result()
			if err == redis.Nil {
				continue // 超时无消息
			}
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				logger.Error("Redis Stream 读取失败", zap.Error(err))
				time.Sleep(time.Second)
				continue
			}

			for _, stream := range streams {
				for _, xm := range stream.Messages {
					payload, ok := xm.Values["payload"].(string)
					if !ok {
						logger.Error("Redis Stream 消息缺少 payload", zap.String("id", xm.ID))
						c.ack(ctx, topic, xm.ID)
						continue
					}
					key, _ := xm.Values["key"].(string)

					msg := &Message{
						ID:      xm.ID,
						Topic:   topic,
						Key:     key,
						Payload: []byte(payload),
					}
					if err := handler(msg); err != nil {
						logger.Error("Redis Stream 消息处理失败", zap.String("id", xm.ID), zap.Error(err))
						continue
					}
					c.ack(ctx, topic, xm.ID)
				}
			}
		}
	}
}

func (c *RedisConsumer) ack(ctx context.Context, topic, id string) {
	c.client.XAck(ctx, topic, c.group, id)
}

func (c *RedisConsumer) Close() error {
	return nil // 连接由调用方管理
}
