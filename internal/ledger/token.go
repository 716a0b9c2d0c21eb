package ledger

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"cryptopayx/pkg/errno"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// 只声明用到的方法, 完整 ABI 没有必要
const erc20ABIJSON = `[
	{"constant":true,"inputs":[],"name":"name","outputs":[{"name":"","type":"string"}],"type":"function"},
	{"constant":true,"inputs":[],"name":"symbol","outputs":[{"name":"","type":"string"}],"type":"function"},
	{"constant":true,"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"type":"function"},
	{"constant":true,"inputs":[],"name":"totalSupply","outputs":[{"name":"","type":"uint256"}],"type":"function"},
	{"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"type":"function"},
	{"constant":false,"inputs":[{"name":"to","type":"address"},{"name":"value","type":"uint256"}],"name":"transfer","outputs":[{"name":"","type":"bool"}],"type":"function"}
]`

var erc20ABI = mustParseABI(erc20ABIJSON)

func mustParseABI(s string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic(fmt.Sprintf("parse abi: %v", err))
	}
	return parsed
}

// TokenInfo CPX 代币元数据
type TokenInfo struct {
	Name        string          `json:"name"`
	Symbol      string          `json:"symbol"`
	Decimals    uint8           `json:"decimals"`
	TotalSupply decimal.Decimal `json:"total_supply"`
	Address     string          `json:"address"`
}

func packTokenTransfer(to common.Address, amountWei *big.Int) ([]byte, error) {
	data, err := erc20ABI.Pack("transfer", to, amountWei)
	if err != nil {
		return nil, errno.ErrLedger.WithMessage(fmt.Sprintf("pack transfer: %v", err))
	}
	return data, nil
}

func (l *ethLedger) callToken(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	data, err := erc20ABI.Pack(method, args...)
	if err != nil {
		return nil, errno.ErrLedger.WithMessage(fmt.Sprintf("pack %s: %v", method, err))
	}
	out, err := l.node.CallContract(ctx, ethereum.CallMsg{To: &l.tokenAddr, Data: data}, nil)
	if err != nil {
		return nil, errno.ErrLedger.WithMessage(fmt.Sprintf("call %s: %v", method, err))
	}
	if len(out) == 0 {
		// 地址上没有部署合约时 eth_call 返回空
		return nil, errno.ErrContractNotReady
	}
	return erc20ABI.Unpack(method, out)
}

func (l *ethLedger) TokenBalance(ctx context.Context, address string) (*Balance, error) {
	vals, err := l.callToken(ctx, "balanceOf", common.HexToAddress(address))
	if err != nil {
		return nil, err
	}
	wei, ok := vals[0].(*big.Int)
	if !ok {
		return nil, errno.ErrLedger.WithMessage("unexpected balanceOf return type")
	}
	return &Balance{Wei: wei, Ether: WeiToEther(wei)}, nil
}

func (l *ethLedger) TokenInfo(ctx context.Context) (*TokenInfo, error) {
	info := &TokenInfo{Address: l.tokenAddr.Hex()}

	vals, err := l.callToken(ctx, "name")
	if err != nil {
		return nil, err
	}
	info.Name, _ = vals[0].(string)

	vals, err = l.callToken(ctx, "symbol")
	if err != nil {
		return nil, err
	}
	info.Symbol, _ = vals[0].(string)

	vals, err = l.callToken(ctx, "decimals")
	if err != nil {
		return nil, err
	}
	info.Decimals, _ = vals[0].(uint8)

	vals, err = l.callToken(ctx, "totalSupply")
	if err != nil {
		return nil, err
	}
	if supply, ok := vals[0].(*big.Int); ok {
		info.TotalSupply = WeiToEther(supply)
	}
	return info, nil
}
