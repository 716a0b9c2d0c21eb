package store

import (
	"context"
	"time"

	"cryptopayx/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ConfirmedResult 广播成功后回写的链上结果与费用拆分
type ConfirmedResult struct {
	TxHash        string
	BlockNumber   uint64
	Confirmations uint64
	GasUsed       uint64
	NetworkFee    decimal.Decimal
	PlatformFee   decimal.Decimal
	TotalFee      decimal.Decimal
	ConfirmedAt   time.Time
}

// TransactionStore 交易台账存储.
// 所有状态迁移都是带 WHERE status 条件的原子更新 (compare-and-swap),
// 终态记录天然拒绝任何写入, 不依赖调用方先读后写.
type TransactionStore interface {
	Create(ctx context.Context, tx *model.Transaction) error
	GetByID(ctx context.Context, id uint64) (*model.Transaction, error)
	ListByWallet(ctx context.Context, wallet string, page, limit int) ([]model.Transaction, int64, error)

	// ClaimProcessing pending -> processing, 每条记录至多成功一次
	ClaimProcessing(ctx context.Context, id uint64, gasPrice decimal.Decimal) (bool, error)
	// AttachHash 广播成功后立刻落库哈希 (仍处于 processing), 供对账服务回查
	AttachHash(ctx context.Context, id uint64, txHash string) error
	// MarkConfirmed processing -> confirmed, events 与状态更新同事务写入 outbox
	MarkConfirmed(ctx context.Context, id uint64, res ConfirmedResult, events ...model.OutboxMessage) (bool, error)
	// MarkFailed processing -> failed
	MarkFailed(ctx context.Context, id uint64, errMsg string, events ...model.OutboxMessage) (bool, error)
	// MarkCancelled pending -> cancelled. 只允许撤回还没广播的登记,
	// processing 的交易结果未知, 不能取消.
	MarkCancelled(ctx context.Context, id uint64) (bool, error)

	// IncrementRetry 重试计数 +1, 上限 model.MaxRetryCount
	IncrementRetry(ctx context.Context, id uint64) error
	// ListStaleProcessing 对账扫描: 卡在 processing 超过阈值的记录
	ListStaleProcessing(ctx context.Context, olderThan time.Time, limit int) ([]model.Transaction, error)
}

type gormTransactionStore struct {
	db *gorm.DB
}

func NewTransactionStore(db *gorm.DB) TransactionStore {
	return &gormTransactionStore{db: db}
}

func (s *gormTransactionStore) Create(ctx context.Context, tx *model.Transaction) error {
	return s.db.WithContext(ctx).Create(tx).Error
}

func (s *gormTransactionStore) GetByID(ctx context.Context, id uint64) (*model.Transaction, error) {
	var tx model.Transaction
	if err := s.db.WithContext(ctx).First(&tx, id).Error; err != nil {
		return nil, err
	}
	return &tx, nil
}

func (s *gormTransactionStore) ListByWallet(ctx context.Context, wallet string, page, limit int) ([]model.Transaction, int64, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}

	q := s.db.WithContext(ctx).Model(&model.Transaction{}).
		Where("from_address = ? OR to_address = ?", wallet, wallet)

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var txs []model.Transaction
	err := q.Order("created_at DESC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&txs).Error
	return txs, total, err
}

func (s *gormTransactionStore) ClaimProcessing(ctx context.Context, id uint64, gasPrice decimal.Decimal) (bool, error) {
	now := time.Now()
	res := s.db.WithContext(ctx).Model(&model.Transaction{}).
		Where("id = ? AND status = ?", id, model.TxStatusPending).
		Updates(map[string]interface{}{
			"status":      model.TxStatusProcessing,
			"gas_price":   gasPrice,
			"executed_at": now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *gormTransactionStore) AttachHash(ctx context.Context, id uint64, txHash string) error {
	return s.db.WithContext(ctx).Model(&model.Transaction{}).
		Where("id = ? AND status = ?", id, model.TxStatusProcessing).
		Update("tx_hash", txHash).Error
}

func (s *gormTransactionStore) MarkConfirmed(ctx context.Context, id uint64, r ConfirmedResult, events ...model.OutboxMessage) (bool, error) {
	var affected int64
	err := s.db.WithContext(ctx).Transaction(func(dbTx *gorm.DB) error {
		res := dbTx.Model(&model.Transaction{}).
			Where("id = ? AND status = ?", id, model.TxStatusProcessing).
			Updates(map[string]interface{}{
				"status":        model.TxStatusConfirmed,
				"tx_hash":       r.TxHash,
				"block_number":  r.BlockNumber,
				"confirmations": r.Confirmations,
				"gas_used":      r.GasUsed,
				"network_fee":   r.NetworkFee,
				"platform_fee":  r.PlatformFee,
				"total_fee":     r.TotalFee,
				"confirmed_at":  r.ConfirmedAt,
			})
		if res.Error != nil {
			return res.Error
		}
		affected = res.RowsAffected
		if affected == 0 {
			return nil // 已被其他路径推进到终态, 不写事件
		}
		for i := range events {
			if err := dbTx.Create(&events[i]).Error; err != nil {
				return err
			}
		}
		return nil
	})
	return affected == 1, err
}

func (s *gormTransactionStore) MarkFailed(ctx context.Context, id uint64, errMsg string, events ...model.OutboxMessage) (bool, error) {
	var affected int64
	err := s.db.WithContext(ctx).Transaction(func(dbTx *gorm.DB) error {
		res := dbTx.Model(&model.Transaction{}).
			Where("id = ? AND status = ?", id, model.TxStatusProcessing).
			Updates(map[string]interface{}{
				"status":        model.TxStatusFailed,
				"error_message": errMsg,
			})
		if res.Error != nil {
			return res.Error
		}
		affected = res.RowsAffected
		if affected == 0 {
			return nil
		}
		for i := range events {
			if err := dbTx.Create(&events[i]).Error; err != nil {
				return err
			}
		}
		return nil
	})
	return affected == 1, err
}

func (s *gormTransactionStore) MarkCancelled(ctx context.Context, id uint64) (bool, error) {
	res := s.db.WithContext(ctx).Model(&model.Transaction{}).
		Where("id = ? AND status = ?", id, model.TxStatusPending).
		Update("status", model.TxStatusCancelled)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *gormTransactionStore) IncrementRetry(ctx context.Context, id uint64) error {
	return s.db.WithContext(ctx).Model(&model.Transaction{}).
		Where("id = ? AND retry_count < ?", id, model.MaxRetryCount).
		Update("retry_count", gorm.Expr("retry_count + 1")).Error
}

func (s *gormTransactionStore) ListStaleProcessing(ctx context.Context, olderThan time.Time, limit int) ([]model.Transaction, error) {
	var txs []model.Transaction
	err := s.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", model.TxStatusProcessing, olderThan).
		Limit(limit).
		Find(&txs).Error
	return txs, err
}
