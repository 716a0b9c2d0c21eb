package request

import "github.com/shopspring/decimal"

// CreatePaymentRequestRequest 收款地址不在入参里:
// 固定取发起人自己的钱包地址
type CreatePaymentRequestRequest struct {
	Amount         decimal.Decimal `json:"amount" binding:"required"`
	Currency       string          `json:"currency" binding:"required,currency"`
	Description    string          `json:"description" binding:"required,max=500"`
	ExpiresInHours int             `json:"expires_in_hours" binding:"omitempty,min=1,max=720"` // 缺省 24h
}

// PayRequestRequest 携带一次性签名材料, 绝不落日志
type PayRequestRequest struct {
	PrivateKey string          `json:"private_key" binding:"required"`
	GasPrice   decimal.Decimal `json:"gas_price"` // gwei, 缺省用节点报价
}

type CreateTransactionRequest struct {
	ToAddress   string          `json:"to_address" binding:"required"`
	Amount      decimal.Decimal `json:"amount" binding:"required"`
	Currency    string          `json:"currency" binding:"required,currency"`
	Type        string          `json:"type" binding:"omitempty"`
	Description string          `json:"description" binding:"max=500"`
	GasPrice    decimal.Decimal `json:"gas_price"`
}

type ExecuteTransactionRequest struct {
	PrivateKey string          `json:"private_key" binding:"required"`
	GasPrice   decimal.Decimal `json:"gas_price"`
}

// EstimateGasRequest 费用预估入参, 与建单入参同构但不落库
type EstimateGasRequest struct {
	ToAddress string          `json:"to_address" binding:"required"`
	Amount    decimal.Decimal `json:"amount" binding:"required"`
	Currency  string          `json:"currency" binding:"required,currency"`
}
