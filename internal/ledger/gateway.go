package ledger

import (
	"context"
	"fmt"
	"math/big"

	"cryptopayx/pkg/errno"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

const gatewayABIJSON = `[
	{"constant":true,"inputs":[{"name":"paymentId","type":"bytes32"}],"name":"getPaymentDetails","outputs":[
		{"name":"payer","type":"address"},
		{"name":"payee","type":"address"},
		{"name":"amount","type":"uint256"},
		{"name":"fee","type":"uint256"},
		{"name":"createdAt","type":"uint256"},
		{"name":"description","type":"string"},
		{"name":"executed","type":"bool"}
	],"type":"function"},
	{"constant":true,"inputs":[],"name":"platformFeeRate","outputs":[{"name":"","type":"uint256"}],"type":"function"}
]`

var gatewayABI = mustParseABI(gatewayABIJSON)

// PaymentDetails 网关合约上登记的链上支付单
type PaymentDetails struct {
	Payer       string          `json:"payer"`
	Payee       string          `json:"payee"`
	Amount      decimal.Decimal `json:"amount"`
	Fee         decimal.Decimal `json:"fee"`
	CreatedAt   int64           `json:"created_at"`
	Description string          `json:"description"`
	Executed    bool            `json:"executed"`
}

func (l *ethLedger) GatewayPaymentDetails(ctx context.Context, paymentID string) (*PaymentDetails, error) {
	data, err := gatewayABI.Pack("getPaymentDetails", common.HexToHash(paymentID))
	if err != nil {
		return nil, errno.ErrLedger.WithMessage(fmt.Sprintf("pack getPaymentDetails: %v", err))
	}
	out, err := l.node.CallContract(ctx, ethereum.CallMsg{To: &l.gatewayAddr, Data: data}, nil)
	if err != nil {
		return nil, errno.ErrLedger.WithMessage(fmt.Sprintf("call getPaymentDetails: %v", err))
	}
	if len(out) == 0 {
		return nil, errno.ErrContractNotReady
	}

	vals, err := gatewayABI.Unpack("getPaymentDetails", out)
	if err != nil {
		return nil, errno.ErrLedger.WithMessage(fmt.Sprintf("unpack getPaymentDetails: %v", err))
	}

	d := &PaymentDetails{}
	if payer, ok := vals[0].(common.Address); ok {
		d.Payer = payer.Hex()
	}
	if payee, ok := vals[1].(common.Address); ok {
		d.Payee = payee.Hex()
	}
	if amount, ok := vals[2].(*big.Int); ok {
		d.Amount = WeiToEther(amount)
	}
	if fee, ok := vals[3].(*big.Int); ok {
		d.Fee = WeiToEther(fee)
	}
	if createdAt, ok := vals[4].(*big.Int); ok {
		d.CreatedAt = createdAt.Int64()
	}
	d.Description, _ = vals[5].(string)
	d.Executed, _ = vals[6].(bool)
	return d, nil
}
