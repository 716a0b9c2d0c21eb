package service

import (
	"encoding/json"
	"strconv"
	"time"

	"cryptopayx/internal/model"
)

// 结算事件类型, 与前端 WS 订阅约定一致
const (
	EventPaymentSent    = "payment-sent"         // 给付款方
	EventPaymentReceive = "payment-received"     // 给收款方
	EventTxExecuted     = "transaction-executed" // 给交易发起方
	EventTxFailed       = "transaction-failed"
)

// Event 通知信封. UserID 是投递目标, 同时充当 MQ 分区键,
// 保证同一用户的事件有序.
type Event struct {
	Type      string      `json:"event"`
	UserID    uint64      `json:"user_id"`
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

// newOutboxEvent 把事件编码为待投递的 outbox 行.
// 编码失败只可能是程序错误, 直接 panic 比吞掉一条结算通知好.
func newOutboxEvent(topic, eventType string, userID uint64, data interface{}) model.OutboxMessage {
	payload, err := json.Marshal(Event{
		Type:      eventType,
		UserID:    userID,
		Data:      data,
		Timestamp: time.Now(),
	})
	if err != nil {
		panic(err)
	}
	return model.OutboxMessage{
		Topic:   topic,
		Key:     strconv.FormatUint(userID, 10),
		Payload: payload,
		Status:  "PENDING",
	}
}
