package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"cryptopayx/internal/ledger"
	"cryptopayx/internal/model"
	"cryptopayx/internal/store"
	"cryptopayx/pkg/cache"
	"cryptopayx/pkg/crypto_util"
	"cryptopayx/pkg/errno"
	"cryptopayx/pkg/logger"
	"cryptopayx/pkg/monitor"
	"cryptopayx/pkg/safe_random"
	"cryptopayx/pkg/utils/lock"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// SettlementConfig 结算引擎的业务参数, 启动时从配置装配
type SettlementConfig struct {
	Topic           string // outbox -> MQ 的事件主题
	FrontendURL     string
	PlatformFeeBps  int64
	Confirmations   uint64
	ConfirmTimeout  time.Duration
	DefaultGasPrice decimal.Decimal // gwei, 节点报价不可用时兜底
}

// SettlementService 结算引擎: 收款请求与转账的完整生命周期.
//
// 并发约定: 状态推进的权威判定是存储层的条件更新 (CAS),
// Redis 锁只用来挡掉并发支付方的重复广播, 不承担正确性.
type SettlementService struct {
	txStore   store.TransactionStore
	prStore   store.PaymentRequestStore
	userStore store.UserStore
	chain     ledger.Client
	distLock  lock.DistributedLock
	cache     cache.Cache
	cfg       SettlementConfig

	now func() time.Time
}

func NewSettlementService(
	txStore store.TransactionStore,
	prStore store.PaymentRequestStore,
	userStore store.UserStore,
	chain ledger.Client,
	distLock lock.DistributedLock,
	c cache.Cache,
	cfg SettlementConfig,
) *SettlementService {
	return &SettlementService{
		txStore:   txStore,
		prStore:   prStore,
		userStore: userStore,
		chain:     chain,
		distLock:  distLock,
		cache:     c,
		cfg:       cfg,
		now:       time.Now,
	}
}

// ---------------------------------------------------------------------------
// 收款请求
// ---------------------------------------------------------------------------

type CreatePaymentRequestInput struct {
	Amount           decimal.Decimal
	Currency    model.Currency
	Description string
	ExpiresIn   time.Duration // 0 = 默认 24h
}

// CreatePaymentRequest 创建收款请求.
// 收款地址固定取发起人自己的钱包, 不接受外部指定,
// 否则分享链接可被用来往任意地址引流.
// 返回的 shareCode 是分享链接的明文访问码, 只在此刻存在一次,
// 库里只存它的 blake3 哈希.
func (s *SettlementService) CreatePaymentRequest(ctx context.Context, requesterID uint64, in CreatePaymentRequestInput) (pr *model.PaymentRequest, shareCode string, err error) {
	if !in.Amount.IsPositive() {
		return nil, "", errno.ErrInvalidAmount
	}
	if !in.Currency.Valid() {
		return nil, "", errno.ErrUnsupportedCurrency
	}
	if strings.TrimSpace(in.Description) == "" {
		return nil, "", errno.ErrValidation.WithMessage("description is required")
	}
	requester, err := s.userStore.GetByID(ctx, requesterID)
	if err != nil {
		return nil, "", errno.ErrUserNotFound
	}
	recipient := requester.WalletAddress // 注册时已小写规范化

	expiry := in.ExpiresIn
	if expiry <= 0 {
		expiry = model.DefaultExpiry
	}

	// 访问码防顺序 ID 遍历: 随机明文过 blake3, 只存哈希结果
	shareCode, err = safe_random.GenerateRandomHexString(16)
	if err != nil {
		return nil, "", err
	}

	pr = &model.PaymentRequest{
		RequesterID:      requesterID,
		Amount:           in.Amount,
		Currency:         in.Currency,
		Description:      in.Description,
		RecipientAddress: recipient,
		Status:           model.RequestStatusPending,
		ExpiresAt:        s.now().Add(expiry),
		AccessCode:       crypto_util.CalculateBlake3([]byte(shareCode)),
	}
	if err := s.prStore.Create(ctx, pr); err != nil {
		return nil, "", errno.ErrDatabase.WithMessage(err.Error())
	}

	monitor.Business.RequestsCreatedTotal.WithLabelValues(string(in.Currency)).Inc()
	logger.Info("收款请求已创建",
		zap.Uint64("request_id", pr.ID),
		zap.Uint64("requester_id", requesterID),
		zap.String("amount", in.Amount.String()),
		zap.String("currency", string(in.Currency)))
	return pr, shareCode, nil
}

// GetPaymentRequest 读取请求, 过期判定在读路径惰性落库:
// 到期的 pending 请求对任何读取方立即呈现 expired, 不等后台扫描.
func (s *SettlementService) GetPaymentRequest(ctx context.Context, id uint64) (*model.PaymentRequest, error) {
	pr, err := s.prStore.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errno.ErrRequestNotFound
		}
		return nil, errno.ErrDatabase.WithMessage(err.Error())
	}
	if pr.ExpiredAt(s.now()) {
		if _, err := s.prStore.ExpireIfPending(ctx, id); err != nil {
			return nil, errno.ErrDatabase.WithMessage(err.Error())
		}
		pr.Status = model.RequestStatusExpired
	}
	return pr, nil
}

// VerifyAccessCode 校验分享链接携带的访问码 (常数时间比较)
func (s *SettlementService) VerifyAccessCode(pr *model.PaymentRequest, code string) bool {
	given := crypto_util.CalculateBlake3([]byte(code))
	return subtle.ConstantTimeCompare([]byte(given), []byte(pr.AccessCode)) == 1
}

func (s *SettlementService) ListPaymentRequests(ctx context.Context, requesterID uint64, page, limit int) ([]model.PaymentRequest, int64, error) {
	prs, total, err := s.prStore.ListByRequester(ctx, requesterID, page, limit)
	if err != nil {
		return nil, 0, errno.ErrDatabase.WithMessage(err.Error())
	}
	// 列表同样惰性过期, 但只修正视图不逐条回写
	now := s.now()
	for i := range prs {
		if prs[i].ExpiredAt(now) {
			prs[i].Status = model.RequestStatusExpired
		}
	}
	return prs, total, nil
}

func (s *SettlementService) CancelPaymentRequest(ctx context.Context, id, requesterID uint64) error {
	pr, err := s.GetPaymentRequest(ctx, id)
	if err != nil {
		return err
	}
	if pr.RequesterID != requesterID {
		return errno.ErrRequestNotOwned
	}
	ok, err := s.prStore.CancelIfPending(ctx, id, requesterID)
	if err != nil {
		return errno.ErrDatabase.WithMessage(err.Error())
	}
	if !ok {
		return errno.ErrRequestInvalidState
	}
	return nil
}

// PayPaymentRequest 履约一个收款请求: 广播链上转账并等待确认,
// 确认后以 CompleteIfPending 原子迁移 pending -> completed.
//
// 至多一次保证: 并发支付方先被 Redis 锁串行化, 真正的权威判定
// 是 CompleteIfPending 的 0/1 行受影响. 任何失败路径都不动请求状态,
// 请求保持 pending 可被其他人继续支付.
func (s *SettlementService) PayPaymentRequest(ctx context.Context, payerID, requestID uint64, privateKeyHex string, gasPriceGwei decimal.Decimal) (*model.Transaction, error) {
	if !model.ValidPrivateKeyHex(privateKeyHex) {
		return nil, errno.ErrInvalidPrivateKey
	}

	pr, err := s.GetPaymentRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if pr.RequesterID == payerID {
		return nil, errno.ErrForbidden.WithMessage("cannot pay your own request")
	}
	if pr.Status == model.RequestStatusExpired {
		return nil, errno.ErrRequestExpired
	}
	if !pr.Payable(s.now()) {
		return nil, errno.ErrRequestInvalidState
	}

	payer, err := s.userStore.GetByID(ctx, payerID)
	if err != nil {
		return nil, errno.ErrUserNotFound
	}
	fromAddr, err := ledger.AddressFromKey(privateKeyHex)
	if err != nil {
		return nil, errno.ErrInvalidPrivateKey
	}
	if fromAddr != payer.WalletAddress {
		return nil, errno.ErrInvalidPrivateKey.WithMessage("key does not match your wallet address")
	}

	// 请求级互斥: 同一请求同时只允许一个支付方进入广播流程.
	// TTL 覆盖确认等待时长, 进程崩溃后自动解锁.
	lockKey := fmt.Sprintf("settle:request:%d", requestID)
	locked, err := s.distLock.Acquire(ctx, lockKey, s.cfg.ConfirmTimeout+time.Minute)
	if err != nil {
		return nil, errno.ErrDatabase.WithMessage(err.Error())
	}
	if !locked {
		return nil, errno.ErrRequestInvalidState.WithMessage("payment already in progress")
	}
	defer s.distLock.Release(context.WithoutCancel(ctx), lockKey)

	// 拿锁后重读: 第一次检查到拿锁之间请求可能已被别人完成
	pr, err = s.GetPaymentRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if !pr.Payable(s.now()) {
		return nil, errno.ErrRequestInvalidState
	}

	platformFee := PlatformFee(pr.Amount, s.cfg.PlatformFeeBps)
	if err := s.checkBalance(ctx, fromAddr, pr.Amount.Add(platformFee), pr.Currency); err != nil {
		return nil, err
	}

	reqID := requestID
	tx := &model.Transaction{
		UserID:           payerID,
		FromAddress:      fromAddr,
		ToAddress:        pr.RecipientAddress,
		Amount:           pr.Amount,
		Currency:         pr.Currency,
		Type:             model.TxTypePayment,
		Status:           model.TxStatusPending,
		Description:      pr.Description,
		PaymentRequestID: &reqID,
	}
	if err := s.txStore.Create(ctx, tx); err != nil {
		return nil, errno.ErrDatabase.WithMessage(err.Error())
	}

	rcpt, err := s.executeOnChain(ctx, tx, privateKeyHex, gasPriceGwei)
	if err != nil {
		return nil, err
	}

	// 交易已确认, 现在才允许推进请求状态.
	// payment-sent / payment-received 与 pending->completed 同事务落库.
	paidAt := s.now()
	eventData := paymentEventData(pr, tx, rcpt)
	ok, err := s.prStore.CompleteIfPending(ctx, requestID, payerID, tx.ID, paidAt,
		newOutboxEvent(s.cfg.Topic, EventPaymentSent, payerID, eventData),
		newOutboxEvent(s.cfg.Topic, EventPaymentReceive, pr.RequesterID, eventData),
	)
	if err != nil {
		return nil, errno.ErrDatabase.WithMessage(err.Error())
	}
	if !ok {
		// 请求在等待确认期间被别的路径推进到终态 (理论上被锁挡住,
		// 但权威判定在这里): 资金已上链, 只能如实记录并告警
		logger.Error("交易已确认但请求不再是 pending",
			zap.Uint64("request_id", requestID),
			zap.Uint64("tx_id", tx.ID),
			zap.String("tx_hash", rcpt.TxHash))
		return nil, errno.ErrRequestInvalidState
	}

	return s.txStore.GetByID(ctx, tx.ID)
}

// ---------------------------------------------------------------------------
// 转账 (两阶段: 先登记, 再携带签名材料执行)
// ---------------------------------------------------------------------------

type CreateTransactionInput struct {
	ToAddress    string
	Amount       decimal.Decimal
	Currency     model.Currency
	Type         model.TxType
	Description  string
	GasPriceGwei decimal.Decimal // 可选, 登记时指定则执行阶段沿用
}

// CreateTransaction 第一阶段: 校验并登记 pending 交易, 不触链
func (s *SettlementService) CreateTransaction(ctx context.Context, userID uint64, in CreateTransactionInput) (*model.Transaction, error) {
	if !in.Amount.IsPositive() {
		return nil, errno.ErrInvalidAmount
	}
	if !in.Currency.Valid() {
		return nil, errno.ErrUnsupportedCurrency
	}
	to := strings.ToLower(in.ToAddress)
	if !model.ValidAddress(to) {
		return nil, errno.ErrInvalidAddress
	}
	txType := in.Type
	if txType == "" {
		txType = model.TxTypeSend
	}
	if !txType.Valid() {
		return nil, errno.ErrValidation.WithMessage("invalid transaction type")
	}

	user, err := s.userStore.GetByID(ctx, userID)
	if err != nil {
		return nil, errno.ErrUserNotFound
	}
	if user.WalletAddress == to {
		return nil, errno.ErrInvalidAddress.WithMessage("cannot transfer to yourself")
	}

	platformFee := PlatformFee(in.Amount, s.cfg.PlatformFeeBps)
	if err := s.checkBalance(ctx, user.WalletAddress, in.Amount.Add(platformFee), in.Currency); err != nil {
		return nil, err
	}

	tx := &model.Transaction{
		UserID:      userID,
		FromAddress: user.WalletAddress,
		ToAddress:   to,
		Amount:      in.Amount,
		Currency:    in.Currency,
		Type:        txType,
		Status:      model.TxStatusPending,
		Description: in.Description,
		PlatformFee: platformFee,
	}
	if in.GasPriceGwei.IsPositive() {
		tx.GasPrice = in.GasPriceGwei
	}
	if err := s.txStore.Create(ctx, tx); err != nil {
		return nil, errno.ErrDatabase.WithMessage(err.Error())
	}
	return tx, nil
}

// ExecuteTransaction 第二阶段: 携带签名材料广播并等确认.
// ClaimProcessing 的 CAS 保证同一条登记至多广播一次.
func (s *SettlementService) ExecuteTransaction(ctx context.Context, userID, txID uint64, privateKeyHex string, gasPriceGwei decimal.Decimal) (*model.Transaction, error) {
	if !model.ValidPrivateKeyHex(privateKeyHex) {
		return nil, errno.ErrInvalidPrivateKey
	}

	tx, err := s.txStore.GetByID(ctx, txID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errno.ErrTxNotFound
		}
		return nil, errno.ErrDatabase.WithMessage(err.Error())
	}
	if tx.UserID != userID {
		return nil, errno.ErrTxNotOwned
	}
	fromAddr, err := ledger.AddressFromKey(privateKeyHex)
	if err != nil {
		return nil, errno.ErrInvalidPrivateKey
	}
	if fromAddr != tx.FromAddress {
		return nil, errno.ErrInvalidPrivateKey.WithMessage("key does not match sender address")
	}

	// 执行时未指定价格则沿用登记时指定的
	if !gasPriceGwei.IsPositive() {
		gasPriceGwei = tx.GasPrice
	}
	if _, err := s.executeOnChain(ctx, tx, privateKeyHex, gasPriceGwei); err != nil {
		return nil, err
	}
	return s.txStore.GetByID(ctx, txID)
}

// CancelTransaction 撤回还没执行的登记 (pending -> cancelled).
// 已进入 processing 的交易结果未知, 不允许取消, 等引擎或对账收敛.
func (s *SettlementService) CancelTransaction(ctx context.Context, userID, txID uint64) error {
	tx, err := s.txStore.GetByID(ctx, txID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errno.ErrTxNotFound
		}
		return errno.ErrDatabase.WithMessage(err.Error())
	}
	if tx.UserID != userID {
		return errno.ErrTxNotOwned
	}
	ok, err := s.txStore.MarkCancelled(ctx, txID)
	if err != nil {
		return errno.ErrDatabase.WithMessage(err.Error())
	}
	if !ok {
		return errno.ErrTxInvalidState
	}
	return nil
}

// GetTransaction 双方可读 (from 或 to)
func (s *SettlementService) GetTransaction(ctx context.Context, userID, txID uint64) (*model.Transaction, error) {
	tx, err := s.txStore.GetByID(ctx, txID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errno.ErrTxNotFound
		}
		return nil, errno.ErrDatabase.WithMessage(err.Error())
	}
	user, err := s.userStore.GetByID(ctx, userID)
	if err != nil {
		return nil, errno.ErrUserNotFound
	}
	if !tx.VisibleTo(user.WalletAddress) {
		return nil, errno.ErrTxNotFound // 不泄露存在性
	}
	return tx, nil
}

func (s *SettlementService) ListTransactions(ctx context.Context, userID uint64, page, limit int) ([]model.Transaction, int64, error) {
	user, err := s.userStore.GetByID(ctx, userID)
	if err != nil {
		return nil, 0, errno.ErrUserNotFound
	}
	txs, total, err := s.txStore.ListByWallet(ctx, user.WalletAddress, page, limit)
	if err != nil {
		return nil, 0, errno.ErrDatabase.WithMessage(err.Error())
	}
	return txs, total, nil
}

// ---------------------------------------------------------------------------
// 余额 / 链上信息
// ---------------------------------------------------------------------------

const balanceCacheTTL = 10 * time.Second

type walletBalances struct {
	Eth *ledger.Balance `json:"eth"`
	Cpx *ledger.Balance `json:"cpx"`
}

// WalletBalances ETH 与 CPX 余额一次取齐.
// 短 TTL 缓存挡掉页面轮询打到节点上的重复查询.
func (s *SettlementService) WalletBalances(ctx context.Context, address string) (eth, cpx *ledger.Balance, err error) {
	addr := strings.ToLower(address)
	if !model.ValidAddress(addr) {
		return nil, nil, errno.ErrInvalidAddress
	}

	cacheKey := "payx:balance:" + addr
	var cached walletBalances
	if err := s.cache.Get(ctx, cacheKey, &cached); err == nil {
		return cached.Eth, cached.Cpx, nil
	}

	if eth, err = s.chain.NativeBalance(ctx, addr); err != nil {
		return nil, nil, err
	}
	if cpx, err = s.chain.TokenBalance(ctx, addr); err != nil {
		return nil, nil, err
	}
	if err := s.cache.Set(ctx, cacheKey, walletBalances{Eth: eth, Cpx: cpx}, balanceCacheTTL); err != nil {
		logger.Warn("余额缓存写入失败", zap.Error(err))
	}
	return eth, cpx, nil
}

// GasQuote 转账费用预估
type GasQuote struct {
	GasEstimate  uint64          `json:"gas_estimate"`  // 含 20% 缓冲
	GasPriceGwei decimal.Decimal `json:"gas_price_gwei"`
	GasCost      decimal.Decimal `json:"gas_cost"` // ETH 计
}

// EstimateTransfer 广播前的费用预估, 不触发任何状态变化
func (s *SettlementService) EstimateTransfer(ctx context.Context, userID uint64, toAddress string, amount decimal.Decimal, currency model.Currency) (*GasQuote, error) {
	if !amount.IsPositive() {
		return nil, errno.ErrInvalidAmount
	}
	if !currency.Valid() {
		return nil, errno.ErrUnsupportedCurrency
	}
	to := strings.ToLower(toAddress)
	if !model.ValidAddress(to) {
		return nil, errno.ErrInvalidAddress
	}
	user, err := s.userStore.GetByID(ctx, userID)
	if err != nil {
		return nil, errno.ErrUserNotFound
	}

	estimate, err := s.chain.EstimateTransferGas(ctx, user.WalletAddress, to, amount, currency)
	if err != nil {
		return nil, err
	}
	gasPrice := s.GasPrice(ctx)
	buffered := BufferedGasLimit(estimate)
	return &GasQuote{
		GasEstimate:  buffered,
		GasPriceGwei: gasPrice,
		GasCost:      NetworkFee(buffered, gasPrice),
	}, nil
}

// GasPrice 节点报价 (gwei), 不可用时回退配置兜底值
func (s *SettlementService) GasPrice(ctx context.Context) decimal.Decimal {
	gasPrice, err := s.chain.SuggestGasPrice(ctx)
	if err != nil || !gasPrice.IsPositive() {
		return s.cfg.DefaultGasPrice
	}
	return gasPrice
}

const (
	tokenInfoCacheKey = "payx:token:info"
	tokenInfoCacheTTL = 10 * time.Minute
)

// TokenInfo 代币元数据基本不变, 缓存挡掉重复的合约调用
func (s *SettlementService) TokenInfo(ctx context.Context) (*ledger.TokenInfo, error) {
	var cached ledger.TokenInfo
	if err := s.cache.Get(ctx, tokenInfoCacheKey, &cached); err == nil {
		return &cached, nil
	}
	info, err := s.chain.TokenInfo(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.cache.Set(ctx, tokenInfoCacheKey, info, tokenInfoCacheTTL); err != nil {
		logger.Warn("代币信息缓存写入失败", zap.Error(err))
	}
	return info, nil
}

func (s *SettlementService) GatewayPaymentDetails(ctx context.Context, paymentID string) (*ledger.PaymentDetails, error) {
	return s.chain.GatewayPaymentDetails(ctx, paymentID)
}

// ---------------------------------------------------------------------------
// 内部
// ---------------------------------------------------------------------------

// checkBalance 广播前的余额预检 (required 以结算币种计).
// 代币转账还要求有原生币付 gas, 这里只做粗检, 精确失败交给节点.
func (s *SettlementService) checkBalance(ctx context.Context, address string, required decimal.Decimal, currency model.Currency) error {
	switch currency {
	case model.CurrencyETH:
		bal, err := s.chain.NativeBalance(ctx, address)
		if err != nil {
			return err
		}
		if bal.Ether.LessThan(required) {
			return errno.ErrInsufficientBalance
		}
	case model.CurrencyCPX:
		bal, err := s.chain.TokenBalance(ctx, address)
		if err != nil {
			return err
		}
		if bal.Ether.LessThan(required) {
			return errno.ErrInsufficientBalance
		}
	default:
		return errno.ErrUnsupportedCurrency
	}
	return nil
}

// executeOnChain 交易状态机的执行段:
// pending -(Claim)-> processing -> 广播 -> 等确认 -> confirmed/failed.
//
// 确认超时是唯一留在 processing 的出口, 结果未知时绝不猜终态,
// 由对账服务回查回执后收敛.
func (s *SettlementService) executeOnChain(ctx context.Context, tx *model.Transaction, privateKeyHex string, gasPriceGwei decimal.Decimal) (*ledger.Receipt, error) {
	gasPrice := gasPriceGwei
	if !gasPrice.IsPositive() {
		gasPrice = s.GasPrice(ctx)
	}

	claimed, err := s.txStore.ClaimProcessing(ctx, tx.ID, gasPrice)
	if err != nil {
		return nil, errno.ErrDatabase.WithMessage(err.Error())
	}
	if !claimed {
		return nil, errno.ErrTxInvalidState
	}

	gasEstimate, err := s.chain.EstimateTransferGas(ctx, tx.FromAddress, tx.ToAddress, tx.Amount, tx.Currency)
	if err != nil {
		s.failTransaction(ctx, tx, fmt.Sprintf("gas estimation failed: %v", err))
		return nil, err
	}

	hash, err := s.chain.SendTransfer(ctx, ledger.TransferParams{
		From:          tx.FromAddress,
		To:            tx.ToAddress,
		Amount:        tx.Amount,
		Currency:      tx.Currency,
		GasLimit:      BufferedGasLimit(gasEstimate),
		GasPriceGwei:  gasPrice,
		PrivateKeyHex: privateKeyHex,
	})
	if err != nil {
		s.failTransaction(ctx, tx, fmt.Sprintf("broadcast failed: %v", err))
		return nil, err
	}
	tx.TxHash = hash
	if err := s.txStore.AttachHash(ctx, tx.ID, hash); err != nil {
		logger.Error("交易哈希落库失败", zap.Uint64("tx_id", tx.ID), zap.Error(err))
	}

	waitStart := s.now()
	rcpt, err := s.chain.WaitForConfirmations(ctx, hash, s.cfg.Confirmations, s.cfg.ConfirmTimeout)
	monitor.Business.ConfirmationDuration.WithLabelValues(string(tx.Currency)).
		Observe(s.now().Sub(waitStart).Seconds())
	if err != nil {
		if errno.Is(err, errno.ErrConfirmationTimeout) {
			// 结果未知: 保持 processing, 留给对账服务收敛
			logger.Error("确认等待超时",
				zap.Uint64("tx_id", tx.ID),
				zap.String("tx_hash", hash))
			return nil, err
		}
		s.failTransaction(ctx, tx, fmt.Sprintf("confirmation failed: %v", err))
		return nil, err
	}

	if !rcpt.Success {
		s.failTransaction(ctx, tx, "transaction reverted on-chain")
		return nil, errno.ErrLedger.WithMessage("transaction reverted on-chain")
	}

	networkFee := NetworkFee(rcpt.GasUsed, gasPrice)
	platformFee := PlatformFee(tx.Amount, s.cfg.PlatformFeeBps)
	res := store.ConfirmedResult{
		TxHash:        rcpt.TxHash,
		BlockNumber:   rcpt.BlockNumber,
		Confirmations: rcpt.Confirmations,
		GasUsed:       rcpt.GasUsed,
		NetworkFee:    networkFee,
		PlatformFee:   platformFee,
		TotalFee:      networkFee.Add(platformFee),
		ConfirmedAt:   s.now(),
	}
	ok, err := s.txStore.MarkConfirmed(ctx, tx.ID, res,
		newOutboxEvent(s.cfg.Topic, EventTxExecuted, tx.UserID, txEventData(tx, rcpt)))
	if err != nil {
		return nil, errno.ErrDatabase.WithMessage(err.Error())
	}
	if !ok {
		return nil, errno.ErrTxInvalidState
	}

	monitor.Business.SettlementsTotal.WithLabelValues(string(tx.Currency), "confirmed").Inc()
	amountFloat, _ := tx.Amount.Float64()
	monitor.Business.PaymentVolumeTotal.WithLabelValues(string(tx.Currency)).Add(amountFloat)
	feeFloat, _ := platformFee.Float64()
	monitor.Business.PlatformFeeTotal.WithLabelValues(string(tx.Currency)).Add(feeFloat)

	logger.Info("交易已确认",
		zap.Uint64("tx_id", tx.ID),
		zap.String("tx_hash", rcpt.TxHash),
		zap.Uint64("block", rcpt.BlockNumber))
	return rcpt, nil
}

// failTransaction processing -> failed, 附带失败事件.
// 支付类交易同时通知收款方: 对方请求被尝试支付且失败了.
func (s *SettlementService) failTransaction(ctx context.Context, tx *model.Transaction, reason string) {
	events := failureEvents(ctx, s.prStore, s.cfg.Topic, tx, reason)
	if _, err := s.txStore.MarkFailed(ctx, tx.ID, reason, events...); err != nil {
		logger.Error("交易失败状态落库失败", zap.Uint64("tx_id", tx.ID), zap.Error(err))
	}
	monitor.Business.SettlementsTotal.WithLabelValues(string(tx.Currency), "failed").Inc()
}

// failureEvents 构造失败通知: 发起方必达, 关联收款请求的发起人也要一份
func failureEvents(ctx context.Context, prStore store.PaymentRequestStore, topic string, tx *model.Transaction, reason string) []model.OutboxMessage {
	data := map[string]interface{}{
		"transaction_id": tx.ID,
		"error":          reason,
	}
	if tx.PaymentRequestID != nil {
		data["payment_request_id"] = *tx.PaymentRequestID
	}
	events := []model.OutboxMessage{newOutboxEvent(topic, EventTxFailed, tx.UserID, data)}
	if tx.PaymentRequestID != nil {
		if pr, err := prStore.GetByID(ctx, *tx.PaymentRequestID); err == nil && pr.RequesterID != tx.UserID {
			events = append(events, newOutboxEvent(topic, EventTxFailed, pr.RequesterID, data))
		}
	}
	return events
}

func paymentEventData(pr *model.PaymentRequest, tx *model.Transaction, rcpt *ledger.Receipt) map[string]interface{} {
	return map[string]interface{}{
		"payment_request_id": pr.ID,
		"transaction_id":     tx.ID,
		"tx_hash":            rcpt.TxHash,
		"amount":             pr.Amount.String(),
		"currency":           pr.Currency,
		"description":        pr.Description,
	}
}

func txEventData(tx *model.Transaction, rcpt *ledger.Receipt) map[string]interface{} {
	return map[string]interface{}{
		"transaction_id": tx.ID,
		"tx_hash":        rcpt.TxHash,
		"amount":         tx.Amount.String(),
		"currency":       tx.Currency,
		"from":           tx.FromAddress,
		"to":             tx.ToAddress,
		"block_number":   rcpt.BlockNumber,
	}
}
