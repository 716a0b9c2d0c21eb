package ws

import (
	"net/http"

	"cryptopayx/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// 跨域由网关层管控, 这里不重复限制
	CheckOrigin: func(r *http.Request) bool { return true },
}

// TokenParser token -> 用户身份
type TokenParser interface {
	ParseToken(token string) (uint64, error)
}

// Handler websocket 接入端点.
// 浏览器 WS 握手无法携带自定义 Header, token 走 query 参数.
func Handler(hub *Hub, auth TokenParser) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Query("token")
		userID, err := auth.ParseToken(token)
		if err != nil {
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Error("websocket 升级失败", zap.Error(err))
			return
		}

		client := &Client{
			hub:    hub,
			userID: userID,
			conn:   conn,
			send:   make(chan []byte, sendBuffer),
		}
		hub.register(client)

		go client.writePump()
		go client.readPump()
	}
}
