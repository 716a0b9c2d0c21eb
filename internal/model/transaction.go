package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Transaction 链下转账台账 (append-only, 永不删除)
// 记录每一次转账尝试、生命周期状态以及与链上哈希的关联.
type Transaction struct {
	ID     uint64 `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID uint64 `gorm:"not null;index" json:"user_id"`

	// 参与方, 统一小写规范化的 0x 地址
	FromAddress string `gorm:"type:varchar(42);not null;index:idx_tx_from_created" json:"from_address"`
	ToAddress   string `gorm:"type:varchar(42);not null;index:idx_tx_to_created" json:"to_address"`

	Amount      decimal.Decimal `gorm:"type:decimal(32,18);not null" json:"amount"`
	Currency    Currency        `gorm:"type:varchar(10);not null" json:"currency"`
	Type        TxType          `gorm:"type:varchar(16);not null" json:"type"`
	Status      TxStatus        `gorm:"type:varchar(16);not null;default:'pending';index:idx_tx_status_created" json:"status"`
	Description string          `gorm:"type:varchar(500)" json:"description"`

	// 链上关联 (广播后填充)
	TxHash        string `gorm:"type:varchar(66);index" json:"transaction_hash,omitempty"`
	BlockNumber   uint64 `json:"block_number,omitempty"`
	Confirmations uint64 `gorm:"not null;default:0" json:"confirmations"`

	// 费用拆分
	GasPrice    decimal.Decimal `gorm:"type:decimal(32,18);not null;default:0" json:"gas_price"` // gwei
	GasUsed     uint64          `json:"gas_used,omitempty"`
	NetworkFee  decimal.Decimal `gorm:"type:decimal(32,18);not null;default:0" json:"network_fee"`
	PlatformFee decimal.Decimal `gorm:"type:decimal(32,18);not null;default:0" json:"platform_fee"`
	TotalFee    decimal.Decimal `gorm:"type:decimal(32,18);not null;default:0" json:"total_fee"`

	// 关联的收款请求 (payment 类型交易)
	PaymentRequestID *uint64 `gorm:"index" json:"payment_request_id,omitempty"`

	ErrorMessage string `gorm:"type:text" json:"error_message,omitempty"`
	RetryCount   int    `gorm:"not null;default:0" json:"retry_count"` // 上限 3

	CreatedAt   time.Time  `gorm:"index:idx_tx_from_created;index:idx_tx_to_created;index:idx_tx_status_created" json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	ExecutedAt  *time.Time `json:"executed_at,omitempty"`
	ConfirmedAt *time.Time `json:"confirmed_at,omitempty"`
}

func (Transaction) TableName() string {
	return "transactions"
}

// MaxRetryCount 失败后允许的最大重试次数
const MaxRetryCount = 3

// OwnedBy 发起方独占写权限
func (t *Transaction) OwnedBy(walletAddress string) bool {
	return t.FromAddress == walletAddress
}

// VisibleTo 双方 (发送者与接收者) 均可读, 用于对账
func (t *Transaction) VisibleTo(walletAddress string) bool {
	return t.FromAddress == walletAddress || t.ToAddress == walletAddress
}

// TotalCost 金额 + 总费用
func (t *Transaction) TotalCost() decimal.Decimal {
	return t.Amount.Add(t.TotalFee)
}
