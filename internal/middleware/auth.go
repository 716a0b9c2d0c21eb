package middleware

import (
	"strings"

	"cryptopayx/internal/handler/response"
	"cryptopayx/pkg/errno"

	"github.com/gin-gonic/gin"
)

// TokenParser token -> 用户身份
type TokenParser interface {
	ParseToken(token string) (uint64, error)
}

const userIDKey = "auth_user_id"

// Auth Bearer token 鉴权, 通过后把用户 ID 放进请求上下文
func Auth(parser TokenParser) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			response.Error(c, errno.ErrTokenInvalid)
			c.Abort()
			return
		}

		userID, err := parser.ParseToken(token)
		if err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}

		c.Set(userIDKey, userID)
		c.Next()
	}
}

// OptionalAuth 有 token 则解析身份, 没有也放行 (分享链接等公开读路由)
func OptionalAuth(parser TokenParser) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if token, ok := strings.CutPrefix(header, "Bearer "); ok && token != "" {
			if userID, err := parser.ParseToken(token); err == nil {
				c.Set(userIDKey, userID)
			}
		}
		c.Next()
	}
}

// UserID 读取鉴权中间件写入的用户 ID, 未鉴权路由返回 0
func UserID(c *gin.Context) uint64 {
	id, _ := c.Get(userIDKey)
	userID, _ := id.(uint64)
	return userID
}
