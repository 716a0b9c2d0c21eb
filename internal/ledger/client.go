package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"cryptopayx/internal/model"
	"cryptopayx/pkg/errno"
	"cryptopayx/pkg/logger"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Config 构造 Ledger Client 所需的全部链上参数.
// 构造后不可变: 更换 RPC/合约 = 构造新 Client 并替换注入的依赖,
// 不提供任何运行时修改入口.
type Config struct {
	RpcURL         string
	ChainID        int64
	TokenAddress   string // CPX ERC-20 合约
	GatewayAddress string // PaymentGateway 合约
	PollInterval   time.Duration
}

// Balance 同时给出基础单位与十进制单位
type Balance struct {
	Wei   *big.Int        `json:"wei"`
	Ether decimal.Decimal `json:"ether"`
}

// Receipt 链上回执的业务视图
type Receipt struct {
	TxHash        string
	BlockNumber   uint64
	GasUsed       uint64
	Success       bool // status == 1
	Confirmations uint64
}

// TransferParams 一次签名转账的全部输入.
// PrivateKeyHex 是调用方临时提供的签名材料, 只在单次调用内存在.
type TransferParams struct {
	From          string
	To            string
	Amount        decimal.Decimal // 十进制单位 (ether)
	Currency      model.Currency
	GasLimit      uint64
	GasPriceGwei  decimal.Decimal
	PrivateKeyHex string
}

// Client 是系统唯一的链上事实来源, 隔离所有区块链编解码细节.
type Client interface {
	NativeBalance(ctx context.Context, address string) (*Balance, error)
	TokenBalance(ctx context.Context, address string) (*Balance, error)

	// EstimateTransferGas 返回原始估算值, 20% 安全缓冲由调用方叠加
	EstimateTransferGas(ctx context.Context, from, to string, amount decimal.Decimal, currency model.Currency) (uint64, error)
	SuggestGasPrice(ctx context.Context) (decimal.Decimal, error) // gwei

	// SendTransfer 签名并广播, 同步返回交易哈希 (不等待确认).
	// 签名材料在调用结束时清零, 成功失败皆然.
	SendTransfer(ctx context.Context, p TransferParams) (string, error)

	// Receipt 未上链时返回 (nil, nil)
	Receipt(ctx context.Context, txHash string) (*Receipt, error)

	// WaitForConfirmations 轮询直到 currentBlock - receipt.Block + 1 >= n,
	// 超时返回 errno.ErrConfirmationTimeout (结果未知, 不代表失败)
	WaitForConfirmations(ctx context.Context, txHash string, n uint64, timeout time.Duration) (*Receipt, error)

	TokenInfo(ctx context.Context) (*TokenInfo, error)
	GatewayPaymentDetails(ctx context.Context, paymentID string) (*PaymentDetails, error)
}

// node 是 *ethclient.Client 中本客户端用到的子集, 便于测试注入假节点
type node interface {
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	BlockNumber(ctx context.Context) (uint64, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

type ethLedger struct {
	node         node
	chainID      *big.Int
	tokenAddr    common.Address
	gatewayAddr  common.Address
	pollInterval time.Duration
}

// New 连接 RPC 节点并返回 Client
func New(cfg Config) (Client, error) {
	client, err := ethclient.Dial(cfg.RpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial eth rpc %s: %w", cfg.RpcURL, err)
	}
	return newWithNode(client, cfg), nil
}

func newWithNode(n node, cfg Config) *ethLedger {
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = time.Second
	}
	return &ethLedger{
		node:         n,
		chainID:      big.NewInt(cfg.ChainID),
		tokenAddr:    common.HexToAddress(cfg.TokenAddress),
		gatewayAddr:  common.HexToAddress(cfg.GatewayAddress),
		pollInterval: interval,
	}
}

// 单位换算一律用十进制指数平移, 不走 Div (Div 默认精度 16 位, 装不下 18 位小数)

// EtherToWei 十进制金额转基础单位
func EtherToWei(amount decimal.Decimal) *big.Int {
	return amount.Shift(18).BigInt()
}

// WeiToEther 基础单位转十进制金额
func WeiToEther(wei *big.Int) decimal.Decimal {
	return decimal.NewFromBigInt(wei, -18)
}

// GweiToWei gas 价格换算
func GweiToWei(gwei decimal.Decimal) *big.Int {
	return gwei.Shift(9).BigInt()
}

func (l *ethLedger) NativeBalance(ctx context.Context, address string) (*Balance, error) {
	wei, err := l.node.BalanceAt(ctx, common.HexToAddress(address), nil)
	if err != nil {
		return nil, errno.ErrLedger.WithMessage(fmt.Sprintf("balance query failed: %v", err))
	}
	return &Balance{Wei: wei, Ether: WeiToEther(wei)}, nil
}

func (l *ethLedger) EstimateTransferGas(ctx context.Context, from, to string, amount decimal.Decimal, currency model.Currency) (uint64, error) {
	var msg ethereum.CallMsg
	switch currency {
	case model.CurrencyETH:
		msg = ethereum.CallMsg{
			From:  common.HexToAddress(from),
			To:    addrPtr(to),
			Value: EtherToWei(amount),
		}
	case model.CurrencyCPX:
		data, err := packTokenTransfer(common.HexToAddress(to), EtherToWei(amount))
		if err != nil {
			return 0, err
		}
		msg = ethereum.CallMsg{
			From: common.HexToAddress(from),
			To:   &l.tokenAddr,
			Data: data,
		}
	default:
		return 0, errno.ErrUnsupportedCurrency
	}

	gas, err := l.node.EstimateGas(ctx, msg)
	if err != nil {
		return 0, errno.ErrLedger.WithMessage(fmt.Sprintf("gas estimation failed: %v", err))
	}
	return gas, nil
}

func (l *ethLedger) SuggestGasPrice(ctx context.Context) (decimal.Decimal, error) {
	wei, err := l.node.SuggestGasPrice(ctx)
	if err != nil {
		return decimal.Zero, errno.ErrLedger.WithMessage(fmt.Sprintf("gas price query failed: %v", err))
	}
	return decimal.NewFromBigInt(wei, -9), nil
}

func (l *ethLedger) SendTransfer(ctx context.Context, p TransferParams) (string, error) {
	privKey, err := crypto.HexToECDSA(strings.TrimPrefix(p.PrivateKeyHex, "0x"))
	if err != nil {
		return "", errno.ErrInvalidPrivateKey
	}
	// 临时签名材料离开此函数前必须清零, 不允许跨请求存活
	defer zeroKey(privKey.D)

	from := common.HexToAddress(p.From)
	nonce, err := l.node.PendingNonceAt(ctx, from)
	if err != nil {
		return "", errno.ErrLedger.WithMessage(fmt.Sprintf("nonce query failed: %v", err))
	}

	gasPriceWei := GweiToWei(p.GasPriceGwei)

	var tx *types.Transaction
	switch p.Currency {
	case model.CurrencyETH:
		tx = types.NewTransaction(nonce, common.HexToAddress(p.To), EtherToWei(p.Amount), p.GasLimit, gasPriceWei, nil)
	case model.CurrencyCPX:
		data, perr := packTokenTransfer(common.HexToAddress(p.To), EtherToWei(p.Amount))
		if perr != nil {
			return "", perr
		}
		tx = types.NewTransaction(nonce, l.tokenAddr, big.NewInt(0), p.GasLimit, gasPriceWei, data)
	default:
		return "", errno.ErrUnsupportedCurrency
	}

	// EIP-155 签名
	signer := types.NewEIP155Signer(l.chainID)
	signedTx, err := types.SignTx(tx, signer, privKey)
	if err != nil {
		return "", errno.ErrLedger.WithMessage(fmt.Sprintf("signing failed: %v", err))
	}

	if err := l.node.SendTransaction(ctx, signedTx); err != nil {
		return "", errno.ErrLedger.WithMessage(fmt.Sprintf("broadcast failed: %v", err))
	}

	hash := signedTx.Hash().Hex()
	logger.Info("交易已广播",
		zap.String("tx_hash", hash),
		zap.String("from", p.From),
		zap.String("currency", string(p.Currency)))
	return hash, nil
}

func (l *ethLedger) Receipt(ctx context.Context, txHash string) (*Receipt, error) {
	rcpt, err := l.node.TransactionReceipt(ctx, common.HexToHash(txHash))
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return nil, nil // 尚未上链
		}
		return nil, errno.ErrLedger.WithMessage(fmt.Sprintf("receipt query failed: %v", err))
	}
	head, err := l.node.BlockNumber(ctx)
	if err != nil {
		return nil, errno.ErrLedger.WithMessage(fmt.Sprintf("block height query failed: %v", err))
	}
	return l.toReceipt(rcpt, head), nil
}

func (l *ethLedger) WaitForConfirmations(ctx context.Context, txHash string, n uint64, timeout time.Duration) (*Receipt, error) {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(l.pollInterval)
	defer ticker.Stop()

	hash := common.HexToHash(txHash)
	for {
		select {
		case <-waitCtx.Done():
			// 超时 != 失败: 交易之后仍可能被打包
			return nil, errno.ErrConfirmationTimeout
		case <-ticker.C:
			rcpt, err := l.node.TransactionReceipt(waitCtx, hash)
			if err != nil {
				if errors.Is(err, ethereum.NotFound) {
					continue
				}
				continue // 节点瞬时错误, 下一轮重试
			}
			head, err := l.node.BlockNumber(waitCtx)
			if err != nil {
				continue
			}
			if head >= rcpt.BlockNumber.Uint64() && head-rcpt.BlockNumber.Uint64()+1 >= n {
				return l.toReceipt(rcpt, head), nil
			}
		}
	}
}

func (l *ethLedger) toReceipt(rcpt *types.Receipt, head uint64) *Receipt {
	blockNum := rcpt.BlockNumber.Uint64()
	var confs uint64
	if head >= blockNum {
		confs = head - blockNum + 1
	}
	return &Receipt{
		TxHash:        rcpt.TxHash.Hex(),
		BlockNumber:   blockNum,
		GasUsed:       rcpt.GasUsed,
		Success:       rcpt.Status == types.ReceiptStatusSuccessful,
		Confirmations: confs,
	}
}

func addrPtr(addr string) *common.Address {
	a := common.HexToAddress(addr)
	return &a
}

// AddressFromKey 从十六进制私钥推导小写规范化地址.
// 发送方地址由签名材料决定, 不信任调用方的自述.
func AddressFromKey(privateKeyHex string) (string, error) {
	privKey, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return "", errno.ErrInvalidPrivateKey
	}
	defer zeroKey(privKey.D)
	return strings.ToLower(crypto.PubkeyToAddress(privKey.PublicKey).Hex()), nil
}

// zeroKey 抹掉私钥标量的底层字节
func zeroKey(d *big.Int) {
	bits := d.Bits()
	for i := range bits {
		bits[i] = 0
	}
}
