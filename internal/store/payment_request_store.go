package store

import (
	"context"
	"time"

	"cryptopayx/internal/model"

	"gorm.io/gorm"
)

// PaymentRequestStore 收款请求存储.
// CompleteIfPending 是 "至多一次履约" 的权威执行点: pending -> completed
// 只能通过这条带条件的原子更新发生, 并发的第二个支付方必然观察到 0 行受影响.
type PaymentRequestStore interface {
	Create(ctx context.Context, pr *model.PaymentRequest) error
	GetByID(ctx context.Context, id uint64) (*model.PaymentRequest, error)
	ListByRequester(ctx context.Context, requesterID uint64, page, limit int) ([]model.PaymentRequest, int64, error)

	// CompleteIfPending pending -> completed, 同事务写入履约关联与 outbox 事件
	CompleteIfPending(ctx context.Context, id, payerID, txID uint64, paidAt time.Time, events ...model.OutboxMessage) (bool, error)
	// ExpireIfPending 惰性过期: 读路径发现 expiresAt 已过时调用, 幂等
	ExpireIfPending(ctx context.Context, id uint64) (bool, error)
	// ExpireDue 批量过期扫描 (后台), 依赖 (status, expires_at) 索引
	ExpireDue(ctx context.Context, now time.Time) (int64, error)
	// CancelIfPending 仅 requester 可取消
	CancelIfPending(ctx context.Context, id, requesterID uint64) (bool, error)
}

type gormPaymentRequestStore struct {
	db *gorm.DB
}

func NewPaymentRequestStore(db *gorm.DB) PaymentRequestStore {
	return &gormPaymentRequestStore{db: db}
}

func (s *gormPaymentRequestStore) Create(ctx context.Context, pr *model.PaymentRequest) error {
	return s.db.WithContext(ctx).Create(pr).Error
}

func (s *gormPaymentRequestStore) GetByID(ctx context.Context, id uint64) (*model.PaymentRequest, error) {
	var pr model.PaymentRequest
	err := s.db.WithContext(ctx).
		Preload("Requester").
		Preload("Payer").
		Preload("Transaction").
		First(&pr, id).Error
	if err != nil {
		return nil, err
	}
	return &pr, nil
}

func (s *gormPaymentRequestStore) ListByRequester(ctx context.Context, requesterID uint64, page, limit int) ([]model.PaymentRequest, int64, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}

	q := s.db.WithContext(ctx).Model(&model.PaymentRequest{}).
		Where("requester_id = ?", requesterID)

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var prs []model.PaymentRequest
	err := q.Order("created_at DESC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&prs).Error
	return prs, total, err
}

func (s *gormPaymentRequestStore) CompleteIfPending(ctx context.Context, id, payerID, txID uint64, paidAt time.Time, events ...model.OutboxMessage) (bool, error) {
	var affected int64
	err := s.db.WithContext(ctx).Transaction(func(dbTx *gorm.DB) error {
		res := dbTx.Model(&model.PaymentRequest{}).
			Where("id = ? AND status = ?", id, model.RequestStatusPending).
			Updates(map[string]interface{}{
				"status":         model.RequestStatusCompleted,
				"payer_id":       payerID,
				"transaction_id": txID,
				"paid_at":        paidAt,
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

func (s *gormPaymentRequestStore) ExpireIfPending(ctx context.Context, id uint64) (bool, error) {
	res := s.db.WithContext(ctx).Model(&model.PaymentRequest{}).
		Where("id = ? AND status = ?", id, model.RequestStatusPending).
		Update("status", model.RequestStatusExpired)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *gormPaymentRequestStore) ExpireDue(ctx context.Context, now time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Model(&model.PaymentRequest{}).
		Where("status = ? AND expires_at <= ?", model.RequestStatusPending, now).
		Update("status", model.RequestStatusExpired)
	return res.RowsAffected, res.Error
}

func (s *gormPaymentRequestStore) CancelIfPending(ctx context.Context, id, requesterID uint64) (bool, error) {
	res := s.db.WithContext(ctx).Model(&model.PaymentRequest{}).
		Where("id = ? AND requester_id = ? AND status = ?", id, requesterID, model.RequestStatusPending).
		Update("status", model.RequestStatusCancelled)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
