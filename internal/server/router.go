package server

import (
	"cryptopayx/internal/handler"
	"cryptopayx/internal/middleware"
	"cryptopayx/internal/ws"
	"cryptopayx/pkg/monitor"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

// RouterDeps 路由装配所需的全部处理器
type RouterDeps struct {
	Auth        *handler.AuthHandler
	Payment     *handler.PaymentRequestHandler
	Transaction *handler.TransactionHandler
	Wallet      *handler.WalletHandler
	Contract    *handler.ContractHandler
	TokenParser middleware.TokenParser
	Hub         *ws.Hub
	WsAuth      ws.TokenParser
}

// NewHTTPRouter 初始化并返回一个 Gin Engine
func NewHTTPRouter(deps RouterDeps) *gin.Engine {
	// 1. 创建 Engine (使用默认中间件: Logger, Recovery)
	r := gin.Default()

	// 2. 注册通用中间件
	r.Use(monitor.PrometheusMiddleware())

	// 3. 注册基础路由
	r.GET("/health", handler.HealthCheck)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// 4. 通知推送 (token 走 query 参数)
	r.GET("/ws", ws.Handler(deps.Hub, deps.WsAuth))

	// 5. 注册 API 路由组
	api := r.Group("/api/v1")

	auth := api.Group("/auth")
	{
		auth.POST("/register", deps.Auth.Register)
		auth.POST("/login", deps.Auth.Login)
		auth.GET("/me", middleware.Auth(deps.TokenParser), deps.Auth.Me)
	}

	// 分享链接是公开读路由, 带上可选身份让 requester 免访问码
	api.GET("/payment-requests/:id", middleware.OptionalAuth(deps.TokenParser), deps.Payment.Get)

	authed := api.Group("", middleware.Auth(deps.TokenParser))
	{
		authed.POST("/payment-requests", deps.Payment.Create)
		authed.GET("/payment-requests", deps.Payment.List)
		authed.POST("/payment-requests/:id/pay", deps.Payment.Pay)
		authed.DELETE("/payment-requests/:id", deps.Payment.Cancel)

		authed.POST("/transactions", deps.Transaction.Create)
		authed.GET("/transactions", deps.Transaction.List)
		authed.GET("/transactions/:id", deps.Transaction.Get)
		authed.POST("/transactions/:id/execute", deps.Transaction.Execute)
		authed.DELETE("/transactions/:id", deps.Transaction.Cancel)

		authed.GET("/wallet/balances", deps.Wallet.Balances)
		authed.POST("/wallet/estimate-gas", deps.Wallet.EstimateGas)
	}

	contract := api.Group("/contract")
	{
		contract.GET("/token", deps.Contract.TokenInfo)
		contract.GET("/gas-price", deps.Contract.GasPrice)
		contract.GET("/payments/:id", deps.Contract.GatewayPayment)
	}

	return r
}
