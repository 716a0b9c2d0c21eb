package ws

import (
	"sync"
	"testing"
	"time"

	"cryptopayx/pkg/monitor"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	monitor.InitBusinessMetrics()
	m.Run()
}

func newTestClient(h *Hub, userID uint64, buffer int) *Client {
	return &Client{hub: h, userID: userID, send: make(chan []byte, buffer)}
}

func TestDeliverNoClients(t *testing.T) {
	h := NewHub()
	h.Deliver(42, []byte("x")) // 没人在线, 静默丢弃
}

func TestDeliverFanout(t *testing.T) {
	h := NewHub()
	c1 := newTestClient(h, 1, sendBuffer)
	c2 := newTestClient(h, 1, sendBuffer)
	other := newTestClient(h, 2, sendBuffer)
	h.register(c1)
	h.register(c2)
	h.register(other)

	h.Deliver(1, []byte("hello"))

	// 同一用户的所有连接都收到, 其他用户收不到
	assert.Equal(t, []byte("hello"), <-c1.send)
	assert.Equal(t, []byte("hello"), <-c2.send)
	assert.Empty(t, other.send)
}

func TestDeliverDropsSlowClient(t *testing.T) {
	h := NewHub()
	c := newTestClient(h, 1, 0) // 无缓冲且永远不读
	h.register(c)

	h.Deliver(1, []byte("x"))

	// 摘除是异步的
	require.Eventually(t, func() bool {
		h.mu.RLock()
		defer h.mu.RUnlock()
		return len(h.clients[1]) == 0
	}, time.Second, 10*time.Millisecond)

	_, open := <-c.send
	assert.False(t, open)
}

// 投递与断开并发交错时不允许把事件送进已关闭的通道.
// 发送持有读锁, unregister 的 close 被写锁排除在投递窗口之外.
func TestDeliverDuringChurn(t *testing.T) {
	h := NewHub()
	payload := []byte(`{"event":"payment-received"}`)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					h.Deliver(7, payload)
				}
			}
		}()
	}

	for i := 0; i < 500; i++ {
		c := newTestClient(h, 7, 1)
		h.register(c)
		h.unregister(c)
	}
	close(stop)
	wg.Wait()

	h.mu.RLock()
	defer h.mu.RUnlock()
	assert.Empty(t, h.clients[7])
}

func TestUnregisterIdempotent(t *testing.T) {
	h := NewHub()
	c := newTestClient(h, 1, 1)
	h.register(c)
	h.unregister(c)
	h.unregister(c) // 读泵退出与慢连接摘除可能重复调用
}
