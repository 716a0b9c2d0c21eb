package mq

import "context"

// Message 一条通知事件消息
type Message struct {
	ID      string // 消息 ID (Kafka 为 Key, Redis Stream 为条目 ID)
	Topic   string
	Key     string // 分区键 (UserID), 保证同一用户的事件有序
	Payload []byte // JSON 编码的事件体
}

// Producer outbox 中继的出口
type Producer interface {
	// Publish 发送消息, key 为空则随机分区
	Publish(ctx context.Context, topic string, key string, payload []byte) error
}

// Consumer 推送端的入口
type Consumer interface {
	// Subscribe 订阅主题, handler 返回 error 时不 ACK
	Subscribe(ctx context.Context, topic string, handler func(msg *Message) error) error
	Close() error
}
