package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cryptopayx/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Config struct {
	HttpPort string
}

// App HTTP 服务 + 后台任务的生命周期管理
type App struct {
	httpServer *http.Server
	background []func(ctx context.Context)
	cancel     context.CancelFunc
}

func New(cfg Config, httpHandler *gin.Engine) *App {
	return &App{
		httpServer: &http.Server{
			Addr:    ":" + cfg.HttpPort,
			Handler: httpHandler,
		},
	}
}

// AddBackground 注册随服务启停的后台任务 (中继/对账/推送消费)
func (a *App) AddBackground(fn func(ctx context.Context)) {
	a.background = append(a.background, fn)
}

// Run 启动服务并阻塞，直到收到关闭信号
func (a *App) Run() {
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	// 1. Start background workers
	for _, fn := range a.background {
		go fn(ctx)
	}

	// 2. Start HTTP
	go func() {
		logger.Info("Starting HTTP Server", zap.String("addr", a.httpServer.Addr))
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP Server failure", zap.Error(err))
		}
	}()

	// 3. Signal Handling (Blocking)
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	// 4. Graceful Shutdown: 先停入口, 再停后台
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP Server forced to shutdown", zap.Error(err))
	}
	cancel()

	logger.Info("Server exited properly")
}
