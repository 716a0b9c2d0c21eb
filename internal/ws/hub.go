package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"cryptopayx/internal/service"
	"cryptopayx/internal/service/mq"
	"cryptopayx/pkg/logger"
	"cryptopayx/pkg/monitor"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 32
)

// Hub 维护用户 -> 连接的路由表, 把结算事件推给在线用户.
// 事件源是 MQ (outbox 中继而来), 离线用户的事件直接丢弃:
// 台账才是事实, 通知只是尽力送达.
type Hub struct {
	mu      sync.RWMutex
	clients map[uint64]map[*Client]struct{}
}

func NewHub() *Hub {
	return &Hub{clients: make(map[uint64]map[*Client]struct{})}
}

// Client 一条 websocket 连接
type Client struct {
	hub    *Hub
	userID uint64
	conn   *websocket.Conn
	send   chan []byte
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[c.userID] == nil {
		h.clients[c.userID] = make(map[*Client]struct{})
	}
	h.clients[c.userID][c] = struct{}{}
	monitor.Business.WsConnectionsActive.Inc()
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conns, ok := h.clients[c.userID]; ok {
		if _, ok := conns[c]; ok {
			delete(conns, c)
			close(c.send)
			if len(conns) == 0 {
				delete(h.clients, c.userID)
			}
			monitor.Business.WsConnectionsActive.Dec()
		}
	}
}

// Deliver 把事件推给目标用户的所有在线连接.
// 发送全程持有读锁: unregister 的写锁与之互斥, close(send)
// 不可能落在投递中间. 发送本身非阻塞, 读锁不会被慢连接拖住.
// 慢连接的缓冲满了异步摘除, 不允许拖慢其他投递.
func (h *Hub) Deliver(userID uint64, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients[userID] {
		select {
		case c.send <- payload:
		default:
			go h.unregister(c)
		}
	}
}

// StartConsumer 订阅结算事件主题并按 user_id 路由.
// MQ 是 at-least-once, 重复推送由前端按事件内容去重.
func (h *Hub) StartConsumer(ctx context.Context, consumer mq.Consumer, topic string) error {
	logger.Info("通知推送消费者启动", zap.String("topic", topic))
	return consumer.Subscribe(ctx, topic, func(msg *mq.Message) error {
		var event service.Event
		if err := json.Unmarshal(msg.Payload, &event); err != nil {
			logger.Error("事件解析失败", zap.Error(err))
			return nil // 格式错误, 重试也无济于事
		}
		h.Deliver(event.UserID, msg.Payload)
		monitor.Business.EventsDeliveredTotal.WithLabelValues(event.Type).Inc()
		return nil
	})
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		// 单向推送通道, 读到的任何数据都丢弃, 只为感知断开
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case payload, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
