package service

import (
	"context"
	"fmt"
	"time"

	"cryptopayx/internal/ledger"
	"cryptopayx/internal/model"
	"cryptopayx/internal/store"
	"cryptopayx/pkg/logger"
	"cryptopayx/pkg/monitor"
	"cryptopayx/pkg/utils/lock"

	"go.uber.org/zap"
)

// ReconcilerService 后台对账, 两件事:
//  1. 批量把到期的 pending 收款请求推成 expired (读路径的惰性过期
//     只覆盖被读到的请求, 无人访问的也要收敛);
//  2. 收敛卡在 processing 的交易: 确认等待超时或进程崩溃后,
//     回查链上回执把状态推到 confirmed/failed.
type ReconcilerService struct {
	txStore  store.TransactionStore
	prStore  store.PaymentRequestStore
	chain    ledger.Client
	distLock lock.DistributedLock
	cfg      SettlementConfig

	interval       time.Duration
	staleThreshold time.Duration
	now            func() time.Time
}

func NewReconcilerService(
	txStore store.TransactionStore,
	prStore store.PaymentRequestStore,
	chain ledger.Client,
	distLock lock.DistributedLock,
	cfg SettlementConfig,
) *ReconcilerService {
	return &ReconcilerService{
		txStore:  txStore,
		prStore:  prStore,
		chain:    chain,
		distLock: distLock,
		cfg:      cfg,
		interval: 30 * time.Second,
		// 超过确认等待窗口仍在 processing 才算卡死
		staleThreshold: cfg.ConfirmTimeout + time.Minute,
		now:            time.Now,
	}
}

func (s *ReconcilerService) Start(ctx context.Context) {
	logger.Info("对账服务启动")
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("对账服务停止")
			return
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *ReconcilerService) runOnce(ctx context.Context) {
	expired, err := s.prStore.ExpireDue(ctx, s.now())
	if err != nil {
		logger.Error("过期扫描失败", zap.Error(err))
	} else if expired > 0 {
		logger.Info("收款请求批量过期", zap.Int64("count", expired))
		monitor.Business.RequestsExpiredTotal.Add(float64(expired))
	}

	stale, err := s.txStore.ListStaleProcessing(ctx, s.now().Add(-s.staleThreshold), 100)
	if err != nil {
		logger.Error("卡单扫描失败", zap.Error(err))
		return
	}
	for i := range stale {
		s.reconcileTransaction(ctx, &stale[i])
	}
}

// reconcileTransaction 回查单笔卡单.
// 多实例部署时用锁防止同一笔被并发回查, 终态推进仍靠 CAS 兜底.
func (s *ReconcilerService) reconcileTransaction(ctx context.Context, tx *model.Transaction) {
	lockKey := fmt.Sprintf("reconcile:tx:%d", tx.ID)
	locked, err := s.distLock.Acquire(ctx, lockKey, time.Minute)
	if err != nil || !locked {
		return
	}
	defer s.distLock.Release(context.WithoutCancel(ctx), lockKey)

	// 从未拿到哈希: 广播根本没发生 (或发出前崩溃), 链上无从查起
	if tx.TxHash == "" {
		s.failStale(ctx, tx, "broadcast never completed")
		return
	}

	rcpt, err := s.chain.Receipt(ctx, tx.TxHash)
	if err != nil {
		logger.Error("对账回执查询失败", zap.Uint64("tx_id", tx.ID), zap.Error(err))
		return
	}
	if rcpt == nil {
		// 仍未上链: 计数重试, 超限判失败 (交易大概率已被节点丢弃)
		if tx.RetryCount+1 >= model.MaxRetryCount {
			s.failStale(ctx, tx, "transaction not mined after retries")
			return
		}
		if err := s.txStore.IncrementRetry(ctx, tx.ID); err != nil {
			logger.Error("重试计数失败", zap.Uint64("tx_id", tx.ID), zap.Error(err))
		}
		return
	}

	if !rcpt.Success {
		s.failStale(ctx, tx, "transaction reverted on-chain")
		return
	}
	if rcpt.Confirmations < s.cfg.Confirmations {
		return // 已上链但确认数不够, 下一轮再看
	}

	networkFee := NetworkFee(rcpt.GasUsed, tx.GasPrice)
	platformFee := PlatformFee(tx.Amount, s.cfg.PlatformFeeBps)
	res := store.ConfirmedResult{
		TxHash:        rcpt.TxHash,
		BlockNumber:   rcpt.BlockNumber,
		Confirmations: rcpt.Confirmations,
		GasUsed:       rcpt.GasUsed,
		NetworkFee:    networkFee,
		PlatformFee:   platformFee,
		TotalFee:      networkFee.Add(platformFee),
		ConfirmedAt:   s.now(),
	}
	ok, err := s.txStore.MarkConfirmed(ctx, tx.ID, res,
		newOutboxEvent(s.cfg.Topic, EventTxExecuted, tx.UserID, txEventData(tx, rcpt)))
	if err != nil {
		logger.Error("对账确认落库失败", zap.Uint64("tx_id", tx.ID), zap.Error(err))
		return
	}
	if ok {
		logger.Info("对账收敛卡单为 confirmed",
			zap.Uint64("tx_id", tx.ID),
			zap.String("tx_hash", tx.TxHash))
		monitor.Business.ReconciledTotal.WithLabelValues("confirmed").Inc()

		// payment 类型交易确认后, 把关联请求也推到 completed.
		// 引擎路径没走完的话双方都还没收到支付事件, 这里补齐.
		if tx.PaymentRequestID != nil {
			pr, err := s.prStore.GetByID(ctx, *tx.PaymentRequestID)
			if err != nil {
				logger.Error("对账读取收款请求失败", zap.Uint64("request_id", *tx.PaymentRequestID), zap.Error(err))
				return
			}
			eventData := paymentEventData(pr, tx, rcpt)
			done, err := s.prStore.CompleteIfPending(ctx, pr.ID, tx.UserID, tx.ID, s.now(),
				newOutboxEvent(s.cfg.Topic, EventPaymentSent, tx.UserID, eventData),
				newOutboxEvent(s.cfg.Topic, EventPaymentReceive, pr.RequesterID, eventData),
			)
			if err != nil {
				logger.Error("对账请求完成落库失败", zap.Uint64("request_id", pr.ID), zap.Error(err))
			} else if done {
				logger.Info("对账收敛收款请求为 completed", zap.Uint64("request_id", pr.ID))
			}
		}
	}
}

func (s *ReconcilerService) failStale(ctx context.Context, tx *model.Transaction, reason string) {
	ok, err := s.txStore.MarkFailed(ctx, tx.ID, reason,
		failureEvents(ctx, s.prStore, s.cfg.Topic, tx, reason)...)
	if err != nil {
		logger.Error("对账失败落库失败", zap.Uint64("tx_id", tx.ID), zap.Error(err))
		return
	}
	if ok {
		logger.Info("对账收敛卡单为 failed",
			zap.Uint64("tx_id", tx.ID),
			zap.String("reason", reason))
		monitor.Business.ReconciledTotal.WithLabelValues("failed").Inc()
	}
}
