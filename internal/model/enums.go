package model

import "regexp"

// 所有状态/币种枚举的唯一权威定义.
// 路由校验、schema 约束、引擎检查全部引用这里, 避免多层枚举漂移.

// Currency 支持的结算币种
type Currency string

const (
	CurrencyETH Currency = "ETH" // 原生币
	CurrencyCPX Currency = "CPX" // 平台 ERC-20 代币
)

func (c Currency) Valid() bool {
	return c == CurrencyETH || c == CurrencyCPX
}

// TxType 交易类型
type TxType string

const (
	TxTypeSend     TxType = "send"
	TxTypeReceive  TxType = "receive"
	TxTypePayment  TxType = "payment"
	TxTypeTransfer TxType = "transfer"
)

func (t TxType) Valid() bool {
	switch t {
	case TxTypeSend, TxTypeReceive, TxTypePayment, TxTypeTransfer:
		return true
	}
	return false
}

// TxStatus 交易生命周期状态
type TxStatus string

const (
	TxStatusPending    TxStatus = "pending"
	TxStatusProcessing TxStatus = "processing"
	TxStatusConfirmed  TxStatus = "confirmed"
	TxStatusFailed     TxStatus = "failed"
	TxStatusCancelled  TxStatus = "cancelled"
)

// Terminal 终态不可再迁移 (append-only 审计要求)
func (s TxStatus) Terminal() bool {
	switch s {
	case TxStatusConfirmed, TxStatusFailed, TxStatusCancelled:
		return true
	}
	return false
}

// CanTransition 交易状态机:
// pending -> processing -> {confirmed | failed}
// pending|processing -> cancelled (仅管理员取消)
func (s TxStatus) CanTransition(to TxStatus) bool {
	if s.Terminal() {
		return false
	}
	switch s {
	case TxStatusPending:
		return to == TxStatusProcessing || to == TxStatusCancelled
	case TxStatusProcessing:
		return to == TxStatusConfirmed || to == TxStatusFailed || to == TxStatusCancelled
	}
	return false
}

// RequestStatus 收款请求状态机:
// pending -> {completed | expired | cancelled}, 三个终态均不可逆
type RequestStatus string

const (
	RequestStatusPending   RequestStatus = "pending"
	RequestStatusCompleted RequestStatus = "completed"
	RequestStatusExpired   RequestStatus = "expired"
	RequestStatusCancelled RequestStatus = "cancelled"
)

func (s RequestStatus) Terminal() bool {
	return s != RequestStatusPending
}

func (s RequestStatus) CanTransition(to RequestStatus) bool {
	if s != RequestStatusPending {
		return false
	}
	return to == RequestStatusCompleted || to == RequestStatusExpired || to == RequestStatusCancelled
}

var (
	addressPattern = regexp.MustCompile(`^0x[0-9a-f]{40}$`)
	txHashPattern  = regexp.MustCompile(`^0x[0-9a-f]{64}$`)
	privKeyPattern = regexp.MustCompile(`^(0x)?[0-9a-fA-F]{64}$`)
)

// ValidAddress 校验小写规范化后的以太坊地址
func ValidAddress(addr string) bool {
	return addressPattern.MatchString(addr)
}

// ValidTxHash 校验交易哈希格式
func ValidTxHash(hash string) bool {
	return txHashPattern.MatchString(hash)
}

// ValidPrivateKeyHex 校验每笔请求携带的签名材料格式 (64 位十六进制)
func ValidPrivateKeyHex(key string) bool {
	return privKeyPattern.MatchString(key)
}
