package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// PaymentRequest 收款请求 (发票): 向固定地址收取固定金额, 带过期时间.
// 在被支付前归 requester 独占; 完成后关联履约的 Transaction.
type PaymentRequest struct {
	ID          uint64  `gorm:"primaryKey;autoIncrement" json:"id"`
	RequesterID uint64  `gorm:"not null;index:idx_pr_requester_created" json:"requester_id"`
	PayerID     *uint64 `gorm:"index" json:"payer_id,omitempty"` // 履约时填充

	Amount           decimal.Decimal `gorm:"type:decimal(32,18);not null" json:"amount"`
	Currency         Currency        `gorm:"type:varchar(10);not null" json:"currency"`
	Description      string          `gorm:"type:varchar(500);not null" json:"description"`
	RecipientAddress string          `gorm:"type:varchar(42);not null" json:"recipient_address"`

	Status    RequestStatus `gorm:"type:varchar(16);not null;default:'pending';index:idx_pr_status_expires" json:"status"`
	ExpiresAt time.Time     `gorm:"not null;index:idx_pr_status_expires" json:"expires_at"`
	PaidAt    *time.Time    `json:"paid_at,omitempty"`

	// 履约交易 (status=completed 时必须非空)
	TransactionID *uint64 `gorm:"index" json:"transaction_id,omitempty"`

	// 分享链接的访问码 (blake3), 防止顺序 ID 被遍历
	AccessCode string `gorm:"type:varchar(64);not null" json:"-"`

	CreatedAt time.Time `gorm:"index:idx_pr_requester_created" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Requester   *User        `gorm:"foreignKey:RequesterID" json:"requester,omitempty"`
	Payer       *User        `gorm:"foreignKey:PayerID" json:"payer,omitempty"`
	Transaction *Transaction `gorm:"foreignKey:TransactionID" json:"transaction,omitempty"`
}

func (PaymentRequest) TableName() string {
	return "payment_requests"
}

// DefaultExpiry 未指定过期时间时的默认有效期
const DefaultExpiry = 24 * time.Hour

// ExpiredAt 判断请求在 now 时刻是否已过期 (仅对 pending 有意义)
func (r *PaymentRequest) ExpiredAt(now time.Time) bool {
	return r.Status == RequestStatusPending && !r.ExpiresAt.After(now)
}

// Payable 请求当前是否可被支付
func (r *PaymentRequest) Payable(now time.Time) bool {
	return r.Status == RequestStatusPending && r.ExpiresAt.After(now)
}

// PaymentURL 支付链接是请求 ID 的确定性函数, 不落库
func (r *PaymentRequest) PaymentURL(baseURL string) string {
	return fmt.Sprintf("%s/pay/%d", baseURL, r.ID)
}
