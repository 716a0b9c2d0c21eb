package main

import (
	"context"
	"fmt"
	"os"

	"cryptopayx/internal/handler"
	"cryptopayx/internal/ledger"
	"cryptopayx/internal/model"
	"cryptopayx/internal/server"
	"cryptopayx/internal/service"
	"cryptopayx/internal/service/mq"
	"cryptopayx/internal/store"
	"cryptopayx/internal/ws"
	"cryptopayx/pkg/cache"
	"cryptopayx/pkg/config"
	"cryptopayx/pkg/database"
	"cryptopayx/pkg/logger"
	"cryptopayx/pkg/monitor"
	"cryptopayx/pkg/utils/lock"
	"cryptopayx/pkg/validator"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// @title CryptoPayX API
// @version 1.0
// @description Crypto payment settlement backend

// @host localhost:8080
// @BasePath /api/v1

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func main() {
	// 0. 初始化 Config
	config.Init()

	// 1. 初始化 Logger
	logger.Init(config.Global.App.Env)
	defer logger.Sync()

	// 2. 初始化监控指标与参数校验器
	monitor.Init()
	validator.Init()

	// 3. 连接数据库
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable TimeZone=UTC",
		config.Global.DB.Host,
		config.Global.DB.User,
		config.Global.DB.Password,
		config.Global.DB.Name,
		config.Global.DB.Port,
	)
	db, err := database.ConnectPostgres(dsn)
	if err != nil {
		logger.Fatal("数据库连接失败", zap.Error(err))
	}

	// 4. 连接 Redis
	rdb, err := database.ConnectRedis(config.Global.Redis.Addr, config.Global.Redis.Password, config.Global.Redis.DB)
	if err != nil {
		logger.Fatal("Redis 连接失败", zap.Error(err))
	}

	// 5. 数据库迁移: 开发环境 AutoMigrate, 生产环境用 migrate 工具
	if config.Global.App.Env == "development" {
		if err := db.AutoMigrate(model.AllModels()...); err != nil {
			logger.Fatal("数据库自动迁移失败", zap.Error(err))
		}
		logger.Info("数据库自动迁移完成 (Dev Mode)")
	}

	// 6. Ledger Client (链上事实来源)
	chainCfg := config.Global.Chain
	chain, err := ledger.New(ledger.Config{
		RpcURL:         chainCfg.RpcUrl,
		ChainID:        chainCfg.ChainID,
		TokenAddress:   chainCfg.TokenAddress,
		GatewayAddress: chainCfg.GatewayAddress,
	})
	if err != nil {
		logger.Fatal("ETH 节点连接失败", zap.Error(err))
	}

	// 7. 存储与引擎
	txStore := store.NewTransactionStore(db)
	prStore := store.NewPaymentRequestStore(db)
	userStore := store.NewUserStore(db)
	distLock := lock.NewRedisLock(rdb)
	appCache := cache.NewRedisCache(rdb)

	defaultGasPrice, err := decimal.NewFromString(chainCfg.DefaultGasPrice)
	if err != nil {
		logger.Fatal("default_gas_price 配置非法", zap.String("value", chainCfg.DefaultGasPrice))
	}
	settlementCfg := service.SettlementConfig{
		Topic:           config.Global.Notify.Topic,
		FrontendURL:     config.Global.App.FrontendURL,
		PlatformFeeBps:  chainCfg.PlatformFeeBps,
		Confirmations:   chainCfg.Confirmations,
		ConfirmTimeout:  chainCfg.ConfirmTimeout,
		DefaultGasPrice: defaultGasPrice,
	}
	settlement := service.NewSettlementService(txStore, prStore, userStore, chain, distLock, appCache, settlementCfg)
	auth := service.NewAuthService(userStore, config.Global.Auth.JWTSecret, config.Global.Auth.TokenTTL)

	// 8. 消息队列 (outbox 中继出口 + WS 推送入口)
	var producer mq.Producer
	var consumer mq.Consumer
	switch config.Global.Notify.MQType {
	case "kafka":
		producer = mq.NewKafkaProducer(config.Global.Kafka.Brokers, config.Global.Notify.Topic)
		consumer = mq.NewKafkaConsumer(config.Global.Kafka.Brokers, "payx-ws-push")
	default:
		producer = mq.NewRedisProducer(rdb)
		hostname, _ := os.Hostname()
		consumer = mq.NewRedisConsumer(rdb, "payx-ws-push", hostname)
	}

	// 9. 后台服务
	relay := service.NewRelayService(db, producer)
	reconciler := service.NewReconcilerService(txStore, prStore, chain, distLock, settlementCfg)
	hub := ws.NewHub()

	// 10. HTTP 路由
	router := server.NewHTTPRouter(server.RouterDeps{
		Auth:        handler.NewAuthHandler(auth, userStore),
		Payment:     handler.NewPaymentRequestHandler(settlement, config.Global.App.FrontendURL),
		Transaction: handler.NewTransactionHandler(settlement),
		Wallet:      handler.NewWalletHandler(settlement, userStore),
		Contract:    handler.NewContractHandler(settlement),
		TokenParser: auth,
		Hub:         hub,
		WsAuth:      auth,
	})

	// 11. 装配并运行
	app := server.New(server.Config{HttpPort: config.Global.App.HttpPort}, router)
	app.AddBackground(relay.Start)
	app.AddBackground(reconciler.Start)
	app.AddBackground(func(ctx context.Context) {
		if err := hub.StartConsumer(ctx, consumer, config.Global.Notify.Topic); err != nil && ctx.Err() == nil {
			logger.Error("通知推送消费者退出", zap.Error(err))
		}
	})
	app.Run()
}
