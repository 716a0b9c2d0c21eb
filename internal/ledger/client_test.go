package ledger

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"cryptopayx/internal/model"
	"cryptopayx/pkg/errno"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeNode 可编程的假节点, 按调用次数推进回执与区块高度
type fakeNode struct {
	mu sync.Mutex

	balance     *big.Int
	nonce       uint64
	gasPrice    *big.Int
	gasEstimate uint64

	head            uint64
	receipt         *types.Receipt
	receiptAfter    int // 前 n 次回执查询返回 NotFound
	receiptQueries  int
	blocksPerQuery  uint64 // 每次查询后区块高度自增
	sentTxs         []*types.Transaction
	sendErr         error
	callContractRet []byte
}

func (f *fakeNode) BalanceAt(_ context.Context, _ common.Address, _ *big.Int) (*big.Int, error) {
	return f.balance, nil
}

func (f *fakeNode) PendingNonceAt(_ context.Context, _ common.Address) (uint64, error) {
	return f.nonce, nil
}

func (f *fakeNode) SuggestGasPrice(_ context.Context) (*big.Int, error) {
	return f.gasPrice, nil
}

func (f *fakeNode) EstimateGas(_ context.Context, _ ethereum.CallMsg) (uint64, error) {
	return f.gasEstimate, nil
}

func (f *fakeNode) SendTransaction(_ context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sentTxs = append(f.sentTxs, tx)
	return nil
}

func (f *fakeNode) TransactionReceipt(_ context.Context, _ common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.receiptQueries++
	if f.receiptQueries <= f.receiptAfter || f.receipt == nil {
		return nil, ethereum.NotFound
	}
	return f.receipt, nil
}

func (f *fakeNode) BlockNumber(_ context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h := f.head
	f.head += f.blocksPerQuery
	return h, nil
}

func (f *fakeNode) CallContract(_ context.Context, _ ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	return f.callContractRet, nil
}

func newTestLedger(n *fakeNode) *ethLedger {
	return newWithNode(n, Config{
		ChainID:        1337,
		TokenAddress:   "0x5fbdb2315678afecb367f032d93f642f64180aa3",
		GatewayAddress: "0xe7f1725e7734ce288f8367e1bb143e90bb3f0512",
		PollInterval:   5 * time.Millisecond,
	})
}

func TestUnitConversion(t *testing.T) {
	one := decimal.NewFromInt(1)
	assert.Equal(t, "1000000000000000000", EtherToWei(one).String())
	assert.True(t, WeiToEther(big.NewInt(1500000000000000000)).Equal(decimal.RequireFromString("1.5")))
	assert.Equal(t, "20000000000", GweiToWei(decimal.NewFromInt(20)).String())

	// 往返无损
	v := decimal.RequireFromString("0.123456789012345678")
	assert.True(t, WeiToEther(EtherToWei(v)).Equal(v))
}

func TestNativeBalance(t *testing.T) {
	n := &fakeNode{balance: big.NewInt(2500000000000000000)}
	l := newTestLedger(n)

	bal, err := l.NativeBalance(context.Background(), "0x1111111111111111111111111111111111111111")
	require.NoError(t, err)
	assert.Equal(t, "2500000000000000000", bal.Wei.String())
	assert.True(t, bal.Ether.Equal(decimal.RequireFromString("2.5")))
}

func TestSendTransferNative(t *testing.T) {
	n := &fakeNode{nonce: 7}
	l := newTestLedger(n)

	// 仅用于测试的固定密钥
	key := "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
	hash, err := l.SendTransfer(context.Background(), TransferParams{
		From:          "0x1111111111111111111111111111111111111111",
		To:            "0x2222222222222222222222222222222222222222",
		Amount:        decimal.RequireFromString("0.5"),
		Currency:      model.CurrencyETH,
		GasLimit:      21000,
		GasPriceGwei:  decimal.NewFromInt(20),
		PrivateKeyHex: key,
	})
	require.NoError(t, err)
	assert.True(t, model.ValidTxHash(hash))

	require.Len(t, n.sentTxs, 1)
	tx := n.sentTxs[0]
	assert.Equal(t, uint64(7), tx.Nonce())
	assert.Equal(t, uint64(21000), tx.Gas())
	assert.Equal(t, "500000000000000000", tx.Value().String())
	assert.Equal(t, common.HexToAddress("0x2222222222222222222222222222222222222222"), *tx.To())
}

func TestSendTransferToken(t *testing.T) {
	n := &fakeNode{nonce: 0}
	l := newTestLedger(n)

	key := "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
	_, err := l.SendTransfer(context.Background(), TransferParams{
		From:          "0x1111111111111111111111111111111111111111",
		To:            "0x2222222222222222222222222222222222222222",
		Amount:        decimal.NewFromInt(100),
		Currency:      model.CurrencyCPX,
		GasLimit:      60000,
		GasPriceGwei:  decimal.NewFromInt(20),
		PrivateKeyHex: key,
	})
	require.NoError(t, err)

	require.Len(t, n.sentTxs, 1)
	tx := n.sentTxs[0]
	// 代币转账: value 为 0, to 指向代币合约, calldata 为 transfer(to, amount)
	assert.Equal(t, "0", tx.Value().String())
	assert.Equal(t, l.tokenAddr, *tx.To())
	assert.NotEmpty(t, tx.Data())
}

func TestSendTransferInvalidKey(t *testing.T) {
	l := newTestLedger(&fakeNode{})
	_, err := l.SendTransfer(context.Background(), TransferParams{
		From:          "0x1111111111111111111111111111111111111111",
		To:            "0x2222222222222222222222222222222222222222",
		Amount:        decimal.NewFromInt(1),
		Currency:      model.CurrencyETH,
		GasLimit:      21000,
		GasPriceGwei:  decimal.NewFromInt(20),
		PrivateKeyHex: "not-a-key",
	})
	assert.True(t, errno.Is(err, errno.ErrInvalidPrivateKey))
}

func TestSendTransferUnsupportedCurrency(t *testing.T) {
	l := newTestLedger(&fakeNode{})
	key := "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
	_, err := l.SendTransfer(context.Background(), TransferParams{
		Currency:      model.Currency("DOGE"),
		PrivateKeyHex: key,
		GasLimit:      21000,
		GasPriceGwei:  decimal.NewFromInt(1),
		Amount:        decimal.NewFromInt(1),
	})
	assert.True(t, errno.Is(err, errno.ErrUnsupportedCurrency))
}

func TestWaitForConfirmationsSuccess(t *testing.T) {
	rcpt := &types.Receipt{
		TxHash:      common.HexToHash("0xabc1230000000000000000000000000000000000000000000000000000000000"),
		BlockNumber: big.NewInt(100),
		GasUsed:     21000,
		Status:      types.ReceiptStatusSuccessful,
	}
	// 第 3 次查询起才有回执, 高度每次 +1, 从 100 起步:
	// 需要 head >= 102 才满足 3 个确认
	n := &fakeNode{receipt: rcpt, receiptAfter: 2, head: 100, blocksPerQuery: 1}
	l := newTestLedger(n)

	got, err := l.WaitForConfirmations(context.Background(), rcpt.TxHash.Hex(), 3, time.Second)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), got.BlockNumber)
	assert.True(t, got.Success)
	assert.GreaterOrEqual(t, got.Confirmations, uint64(3))
}

func TestWaitForConfirmationsTimeout(t *testing.T) {
	// 永远没有回执
	n := &fakeNode{head: 100}
	l := newTestLedger(n)

	_, err := l.WaitForConfirmations(context.Background(), "0x1100000000000000000000000000000000000000000000000000000000000000", 3, 30*time.Millisecond)
	assert.True(t, errno.Is(err, errno.ErrConfirmationTimeout))
}

func TestReceiptNotMined(t *testing.T) {
	l := newTestLedger(&fakeNode{})
	got, err := l.Receipt(context.Background(), "0x1100000000000000000000000000000000000000000000000000000000000000")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestReceiptFailedStatus(t *testing.T) {
	rcpt := &types.Receipt{
		TxHash:      common.HexToHash("0xdef0000000000000000000000000000000000000000000000000000000000000"),
		BlockNumber: big.NewInt(50),
		GasUsed:     42000,
		Status:      types.ReceiptStatusFailed,
	}
	n := &fakeNode{receipt: rcpt, head: 55}
	l := newTestLedger(n)

	got, err := l.Receipt(context.Background(), rcpt.TxHash.Hex())
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.False(t, got.Success)
	assert.Equal(t, uint64(6), got.Confirmations)
}

func TestSuggestGasPrice(t *testing.T) {
	n := &fakeNode{gasPrice: big.NewInt(25000000000)} // 25 gwei
	l := newTestLedger(n)

	gwei, err := l.SuggestGasPrice(context.Background())
	require.NoError(t, err)
	assert.True(t, gwei.Equal(decimal.NewFromInt(25)))
}
