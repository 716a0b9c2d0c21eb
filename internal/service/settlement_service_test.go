package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"cryptopayx/internal/ledger"
	"cryptopayx/internal/model"
	"cryptopayx/internal/store"
	"cryptopayx/pkg/cache"
	"cryptopayx/pkg/errno"
	"cryptopayx/pkg/monitor"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestMain(m *testing.M) {
	monitor.InitBusinessMetrics()
	m.Run()
}

// ---------------------------------------------------------------------------
// 内存假实现: 保留条件更新 (CAS) 语义, 不依赖数据库
// ---------------------------------------------------------------------------

type fakeTxStore struct {
	mu     sync.Mutex
	seq    uint64
	txs    map[uint64]*model.Transaction
	events []model.OutboxMessage
}

func newFakeTxStore() *fakeTxStore {
	return &fakeTxStore{txs: make(map[uint64]*model.Transaction)}
}

func (s *fakeTxStore) Create(_ context.Context, tx *model.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	tx.ID = s.seq
	if tx.Status == "" {
		tx.Status = model.TxStatusPending
	}
	now := time.Now()
	tx.CreatedAt = now
	tx.UpdatedAt = now
	cp := *tx
	s.txs[tx.ID] = &cp
	return nil
}

func (s *fakeTxStore) GetByID(_ context.Context, id uint64) (*model.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.txs[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *tx
	return &cp, nil
}

func (s *fakeTxStore) ListByWallet(_ context.Context, wallet string, page, limit int) ([]model.Transaction, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Transaction
	for _, tx := range s.txs {
		if tx.FromAddress == wallet || tx.ToAddress == wallet {
			out = append(out, *tx)
		}
	}
	return out, int64(len(out)), nil
}

func (s *fakeTxStore) ClaimProcessing(_ context.Context, id uint64, gasPrice decimal.Decimal) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.txs[id]
	if !ok || tx.Status != model.TxStatusPending {
		return false, nil
	}
	now := time.Now()
	tx.Status = model.TxStatusProcessing
	tx.GasPrice = gasPrice
	tx.ExecutedAt = &now
	tx.UpdatedAt = now
	return true, nil
}

func (s *fakeTxStore) AttachHash(_ context.Context, id uint64, txHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tx, ok := s.txs[id]; ok && tx.Status == model.TxStatusProcessing {
		tx.TxHash = txHash
	}
	return nil
}

func (s *fakeTxStore) MarkConfirmed(_ context.Context, id uint64, r store.ConfirmedResult, events ...model.OutboxMessage) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.txs[id]
	if !ok || tx.Status != model.TxStatusProcessing {
		return false, nil
	}
	tx.Status = model.TxStatusConfirmed
	tx.TxHash = r.TxHash
	tx.BlockNumber = r.BlockNumber
	tx.Confirmations = r.Confirmations
	tx.GasUsed = r.GasUsed
	tx.NetworkFee = r.NetworkFee
	tx.PlatformFee = r.PlatformFee
	tx.TotalFee = r.TotalFee
	tx.ConfirmedAt = &r.ConfirmedAt
	tx.UpdatedAt = time.Now()
	s.events = append(s.events, events...)
	return true, nil
}

func (s *fakeTxStore) MarkFailed(_ context.Context, id uint64, errMsg string, events ...model.OutboxMessage) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.txs[id]
	if !ok || tx.Status != model.TxStatusProcessing {
		return false, nil
	}
	tx.Status = model.TxStatusFailed
	tx.ErrorMessage = errMsg
	tx.UpdatedAt = time.Now()
	s.events = append(s.events, events...)
	return true, nil
}

func (s *fakeTxStore) MarkCancelled(_ context.Context, id uint64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.txs[id]
	if !ok || tx.Status != model.TxStatusPending {
		return false, nil
	}
	tx.Status = model.TxStatusCancelled
	return true, nil
}

func (s *fakeTxStore) IncrementRetry(_ context.Context, id uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tx, ok := s.txs[id]; ok && tx.RetryCount < model.MaxRetryCount {
		tx.RetryCount++
	}
	return nil
}

func (s *fakeTxStore) ListStaleProcessing(_ context.Context, olderThan time.Time, limit int) ([]model.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Transaction
	for _, tx := range s.txs {
		if tx.Status == model.TxStatusProcessing && tx.UpdatedAt.Before(olderThan) && len(out) < limit {
			out = append(out, *tx)
		}
	}
	return out, nil
}

func (s *fakeTxStore) eventTypes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var types []string
	for _, e := range s.events {
		types = append(types, eventTypeOf(e))
	}
	return types
}

func (s *fakeTxStore) eventTargets() []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []uint64
	for _, e := range s.events {
		ids = append(ids, eventTargetOf(e))
	}
	return ids
}

type fakePRStore struct {
	mu     sync.Mutex
	seq    uint64
	prs    map[uint64]*model.PaymentRequest
	events []model.OutboxMessage
}

func newFakePRStore() *fakePRStore {
	return &fakePRStore{prs: make(map[uint64]*model.PaymentRequest)}
}

func (s *fakePRStore) Create(_ context.Context, pr *model.PaymentRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	pr.ID = s.seq
	pr.CreatedAt = time.Now()
	cp := *pr
	s.prs[pr.ID] = &cp
	return nil
}

func (s *fakePRStore) GetByID(_ context.Context, id uint64) (*model.PaymentRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pr, ok := s.prs[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *pr
	return &cp, nil
}

func (s *fakePRStore) ListByRequester(_ context.Context, requesterID uint64, page, limit int) ([]model.PaymentRequest, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.PaymentRequest
	for _, pr := range s.prs {
		if pr.RequesterID == requesterID {
			out = append(out, *pr)
		}
	}
	return out, int64(len(out)), nil
}

func (s *fakePRStore) CompleteIfPending(_ context.Context, id, payerID, txID uint64, paidAt time.Time, events ...model.OutboxMessage) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pr, ok := s.prs[id]
	if !ok || pr.Status != model.RequestStatusPending {
		return false, nil
	}
	pr.Status = model.RequestStatusCompleted
	pr.PayerID = &payerID
	pr.TransactionID = &txID
	pr.PaidAt = &paidAt
	s.events = append(s.events, events...)
	return true, nil
}

func (s *fakePRStore) ExpireIfPending(_ context.Context, id uint64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pr, ok := s.prs[id]
	if !ok || pr.Status != model.RequestStatusPending {
		return false, nil
	}
	pr.Status = model.RequestStatusExpired
	return true, nil
}

func (s *fakePRStore) ExpireDue(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, pr := range s.prs {
		if pr.Status == model.RequestStatusPending && !pr.ExpiresAt.After(now) {
			pr.Status = model.RequestStatusExpired
			n++
		}
	}
	return n, nil
}

func (s *fakePRStore) CancelIfPending(_ context.Context, id, requesterID uint64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pr, ok := s.prs[id]
	if !ok || pr.RequesterID != requesterID || pr.Status != model.RequestStatusPending {
		return false, nil
	}
	pr.Status = model.RequestStatusCancelled
	return true, nil
}

func (s *fakePRStore) eventTypes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var types []string
	for _, e := range s.events {
		types = append(types, eventTypeOf(e))
	}
	return types
}

func (s *fakePRStore) eventTargets() []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []uint64
	for _, e := range s.events {
		ids = append(ids, eventTargetOf(e))
	}
	return ids
}

type fakeUserStore struct {
	mu    sync.Mutex
	seq   uint64
	users map[uint64]*model.User
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{users: make(map[uint64]*model.User)}
}

func (s *fakeUserStore) Create(_ context.Context, u *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	u.ID = s.seq
	cp := *u
	s.users[u.ID] = &cp
	return nil
}

func (s *fakeUserStore) GetByID(_ context.Context, id uint64) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *fakeUserStore) GetByEmail(_ context.Context, email string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (s *fakeUserStore) GetByWallet(_ context.Context, wallet string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.WalletAddress == wallet {
			cp := *u
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

// memLock 单进程内存锁, 语义与 Redis SETNX 一致
type memLock struct {
	mu   sync.Mutex
	held map[string]bool
}

func newMemLock() *memLock { return &memLock{held: make(map[string]bool)} }

func (l *memLock) Acquire(_ context.Context, key string, _ time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] {
		return false, nil
	}
	l.held[key] = true
	return true, nil
}

func (l *memLock) Release(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, key)
	return nil
}

// fakeLedger 可编程假链: 余额表 + 广播/确认开关
type fakeLedger struct {
	mu          sync.Mutex
	native      map[string]decimal.Decimal
	token       map[string]decimal.Decimal
	gasEstimate uint64
	gasUsed     uint64
	sendErr     error
	revert      bool
	timeout     bool
	receipts    map[string]*ledger.Receipt
	sent        []ledger.TransferParams
	seq         int

	tokenInfoCalls int
	balanceCalls   int
	suggestErr     error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		native:      make(map[string]decimal.Decimal),
		token:       make(map[string]decimal.Decimal),
		gasEstimate: 21000,
		gasUsed:     21000,
		receipts:    make(map[string]*ledger.Receipt),
	}
}

func (l *fakeLedger) NativeBalance(_ context.Context, addr string) (*ledger.Balance, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balanceCalls++
	bal := l.native[addr]
	return &ledger.Balance{Wei: ledger.EtherToWei(bal), Ether: bal}, nil
}

func (l *fakeLedger) TokenBalance(_ context.Context, addr string) (*ledger.Balance, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	bal := l.token[addr]
	return &ledger.Balance{Wei: ledger.EtherToWei(bal), Ether: bal}, nil
}

func (l *fakeLedger) EstimateTransferGas(_ context.Context, _, _ string, _ decimal.Decimal, _ model.Currency) (uint64, error) {
	return l.gasEstimate, nil
}

func (l *fakeLedger) SuggestGasPrice(_ context.Context) (decimal.Decimal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.suggestErr != nil {
		return decimal.Zero, l.suggestErr
	}
	return decimal.NewFromInt(20), nil
}

func (l *fakeLedger) SendTransfer(_ context.Context, p ledger.TransferParams) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sendErr != nil {
		return "", l.sendErr
	}
	l.seq++
	hash := testHash(l.seq)
	l.sent = append(l.sent, p)
	l.receipts[hash] = &ledger.Receipt{
		TxHash:        hash,
		BlockNumber:   100,
		GasUsed:       l.gasUsed,
		Success:       !l.revert,
		Confirmations: 3,
	}
	return hash, nil
}

func (l *fakeLedger) Receipt(_ context.Context, hash string) (*ledger.Receipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.receipts[hash], nil
}

func (l *fakeLedger) WaitForConfirmations(_ context.Context, hash string, _ uint64, _ time.Duration) (*ledger.Receipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.timeout {
		return nil, errno.ErrConfirmationTimeout
	}
	return l.receipts[hash], nil
}

func (l *fakeLedger) TokenInfo(_ context.Context) (*ledger.TokenInfo, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tokenInfoCalls++
	return &ledger.TokenInfo{Name: "CryptoPayX Token", Symbol: "CPX", Decimals: 18}, nil
}

func (l *fakeLedger) GatewayPaymentDetails(_ context.Context, _ string) (*ledger.PaymentDetails, error) {
	return &ledger.PaymentDetails{}, nil
}

func testHash(seq int) string {
	return fmt.Sprintf("0x%064x", seq)
}

func eventTypeOf(msg model.OutboxMessage) string {
	var e Event
	_ = json.Unmarshal(msg.Payload, &e)
	return e.Type
}

func eventTargetOf(msg model.OutboxMessage) uint64 {
	var e Event
	_ = json.Unmarshal(msg.Payload, &e)
	return e.UserID
}

// ---------------------------------------------------------------------------
// 测试装配
// ---------------------------------------------------------------------------

// 私钥 1/2/3 及其公认地址, 仅用于测试
const (
	keyAlice = "0000000000000000000000000000000000000000000000000000000000000001"
	keyBob   = "0000000000000000000000000000000000000000000000000000000000000002"
	keyCarol = "0000000000000000000000000000000000000000000000000000000000000003"

	addrAlice = "0x7e5f4552091a69125d5dfcb7b8c2659029395bdf"
	addrBob   = "0x2b5ad5c4795c026514f8317c7a215e218dccd6cf"
	addrCarol = "0x6813eb9362372eef6200f3b1dbc3f819671cba69"
)

type testEnv struct {
	svc       *SettlementService
	txStore   *fakeTxStore
	prStore   *fakePRStore
	userStore *fakeUserStore
	chain     *fakeLedger
	alice     *model.User // requester
	bob       *model.User // payer
	carol     *model.User // payer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		txStore:   newFakeTxStore(),
		prStore:   newFakePRStore(),
		userStore: newFakeUserStore(),
		chain:     newFakeLedger(),
	}
	env.svc = NewSettlementService(env.txStore, env.prStore, env.userStore, env.chain, newMemLock(),
		cache.NewMemoryCache(time.Minute, time.Minute), SettlementConfig{
		Topic:           "payx_events_settlement",
		FrontendURL:     "http://localhost:3000",
		PlatformFeeBps:  100, // 1%
		Confirmations:   3,
		ConfirmTimeout:  time.Second,
		DefaultGasPrice: decimal.NewFromInt(20),
	})

	env.alice = &model.User{Email: "alice@example.com", WalletAddress: addrAlice}
	env.bob = &model.User{Email: "bob@example.com", WalletAddress: addrBob}
	env.carol = &model.User{Email: "carol@example.com", WalletAddress: addrCarol}
	for _, u := range []*model.User{env.alice, env.bob, env.carol} {
		require.NoError(t, env.userStore.Create(context.Background(), u))
	}

	// 默认所有人余额充足
	for _, addr := range []string{addrAlice, addrBob, addrCarol} {
		env.chain.native[addr] = decimal.NewFromInt(10)
		env.chain.token[addr] = decimal.NewFromInt(1000)
	}
	return env
}

func (env *testEnv) newRequest(t *testing.T, amount string) *model.PaymentRequest {
	t.Helper()
	pr, _, err := env.svc.CreatePaymentRequest(context.Background(), env.alice.ID, CreatePaymentRequestInput{
		Amount:      decimal.RequireFromString(amount),
		Currency:    model.CurrencyETH,
		Description: "coffee",
	})
	require.NoError(t, err)
	return pr
}

// ---------------------------------------------------------------------------
// 收款请求
// ---------------------------------------------------------------------------

func TestCreatePaymentRequestDefaults(t *testing.T) {
	env := newTestEnv(t)
	before := time.Now()

	pr, shareCode, err := env.svc.CreatePaymentRequest(context.Background(), env.alice.ID, CreatePaymentRequestInput{
		Amount:      decimal.NewFromInt(1),
		Currency:    model.CurrencyETH,
		Description: "coffee",
	})
	require.NoError(t, err)

	assert.Equal(t, model.RequestStatusPending, pr.Status)
	assert.Equal(t, addrAlice, pr.RecipientAddress) // 收款地址固定是发起人自己的钱包
	assert.NotEmpty(t, shareCode)
	assert.NotEqual(t, shareCode, pr.AccessCode) // 库里只存哈希
	assert.True(t, env.svc.VerifyAccessCode(pr, shareCode))
	assert.False(t, env.svc.VerifyAccessCode(pr, "wrong-code"))

	// 默认有效期 24h
	assert.WithinDuration(t, before.Add(24*time.Hour), pr.ExpiresAt, 5*time.Second)
	assert.Equal(t, "http://localhost:3000/pay/1", pr.PaymentURL("http://localhost:3000"))
}

func TestCreatePaymentRequestValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, _, err := env.svc.CreatePaymentRequest(ctx, env.alice.ID, CreatePaymentRequestInput{
		Amount: decimal.NewFromInt(-1), Currency: model.CurrencyETH, Description: "coffee",
	})
	assert.True(t, errno.Is(err, errno.ErrInvalidAmount))

	_, _, err = env.svc.CreatePaymentRequest(ctx, env.alice.ID, CreatePaymentRequestInput{
		Amount: decimal.NewFromInt(1), Currency: "DOGE", Description: "coffee",
	})
	assert.True(t, errno.Is(err, errno.ErrUnsupportedCurrency))

	// 描述必填, 全空白也不行
	for _, desc := range []string{"", "   "} {
		_, _, err = env.svc.CreatePaymentRequest(ctx, env.alice.ID, CreatePaymentRequestInput{
			Amount: decimal.NewFromInt(1), Currency: model.CurrencyETH, Description: desc,
		})
		assert.True(t, errno.Is(err, errno.ErrValidation), desc)
	}

	_, _, err = env.svc.CreatePaymentRequest(ctx, 9999, CreatePaymentRequestInput{
		Amount: decimal.NewFromInt(1), Currency: model.CurrencyETH, Description: "coffee",
	})
	assert.True(t, errno.Is(err, errno.ErrUserNotFound))
}

func TestGetPaymentRequestLazyExpiry(t *testing.T) {
	env := newTestEnv(t)
	pr := env.newRequest(t, "1")

	// 时钟拨过过期点
	env.svc.now = func() time.Time { return pr.ExpiresAt.Add(time.Minute) }

	got, err := env.svc.GetPaymentRequest(context.Background(), pr.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RequestStatusExpired, got.Status)

	// 过期已落库, 不只是视图修正
	stored, err := env.prStore.GetByID(context.Background(), pr.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RequestStatusExpired, stored.Status)
}

func TestGetPaymentRequestNotFound(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.svc.GetPaymentRequest(context.Background(), 999)
	assert.True(t, errno.Is(err, errno.ErrRequestNotFound))
}

func TestCancelPaymentRequest(t *testing.T) {
	env := newTestEnv(t)
	pr := env.newRequest(t, "1")

	// 非发起方不能取消
	err := env.svc.CancelPaymentRequest(context.Background(), pr.ID, env.bob.ID)
	assert.True(t, errno.Is(err, errno.ErrRequestNotOwned))

	require.NoError(t, env.svc.CancelPaymentRequest(context.Background(), pr.ID, env.alice.ID))

	// 终态不可重复取消
	err = env.svc.CancelPaymentRequest(context.Background(), pr.ID, env.alice.ID)
	assert.True(t, errno.Is(err, errno.ErrRequestInvalidState))
}

// ---------------------------------------------------------------------------
// 支付
// ---------------------------------------------------------------------------

func TestPayPaymentRequestSuccess(t *testing.T) {
	env := newTestEnv(t)
	pr := env.newRequest(t, "1")

	tx, err := env.svc.PayPaymentRequest(context.Background(), env.bob.ID, pr.ID, keyBob, decimal.Decimal{})
	require.NoError(t, err)

	assert.Equal(t, model.TxStatusConfirmed, tx.Status)
	assert.Equal(t, model.TxTypePayment, tx.Type)
	assert.Equal(t, addrBob, tx.FromAddress)
	assert.Equal(t, addrAlice, tx.ToAddress)

	// 费用拆分: 平台费 1% = 0.01, 网络费 21000 * 20 gwei = 0.00042
	assert.True(t, tx.PlatformFee.Equal(decimal.RequireFromString("0.01")), tx.PlatformFee.String())
	assert.True(t, tx.NetworkFee.Equal(decimal.RequireFromString("0.00042")), tx.NetworkFee.String())
	assert.True(t, tx.TotalFee.Equal(decimal.RequireFromString("0.01042")))

	// 请求完成且关联履约交易
	got, err := env.prStore.GetByID(context.Background(), pr.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RequestStatusCompleted, got.Status)
	require.NotNil(t, got.PayerID)
	assert.Equal(t, env.bob.ID, *got.PayerID)
	require.NotNil(t, got.TransactionID)
	assert.Equal(t, tx.ID, *got.TransactionID)
	assert.NotNil(t, got.PaidAt)

	// 双方各收到一个支付事件, 发起方收到执行事件
	assert.ElementsMatch(t, []string{EventPaymentSent, EventPaymentReceive}, env.prStore.eventTypes())
	assert.ElementsMatch(t, []string{EventTxExecuted}, env.txStore.eventTypes())

	// gas 缓冲 20%
	require.Len(t, env.chain.sent, 1)
	assert.Equal(t, uint64(25200), env.chain.sent[0].GasLimit)
}

func TestPayOwnRequestForbidden(t *testing.T) {
	env := newTestEnv(t)
	pr := env.newRequest(t, "1")

	_, err := env.svc.PayPaymentRequest(context.Background(), env.alice.ID, pr.ID, keyAlice, decimal.Decimal{})
	assert.True(t, errno.Is(err, errno.ErrForbidden))
}

func TestPayExpiredRequest(t *testing.T) {
	env := newTestEnv(t)
	pr := env.newRequest(t, "1")
	env.svc.now = func() time.Time { return pr.ExpiresAt.Add(time.Minute) }

	_, err := env.svc.PayPaymentRequest(context.Background(), env.bob.ID, pr.ID, keyBob, decimal.Decimal{})
	assert.True(t, errno.Is(err, errno.ErrRequestExpired))
	assert.Empty(t, env.chain.sent) // 绝不触链
}

func TestPayKeyMismatch(t *testing.T) {
	env := newTestEnv(t)
	pr := env.newRequest(t, "1")

	// Bob 带着 Carol 的私钥
	_, err := env.svc.PayPaymentRequest(context.Background(), env.bob.ID, pr.ID, keyCarol, decimal.Decimal{})
	assert.True(t, errno.Is(err, errno.ErrInvalidPrivateKey))
	assert.Empty(t, env.chain.sent)
}

func TestPayInsufficientBalance(t *testing.T) {
	env := newTestEnv(t)
	pr := env.newRequest(t, "1")
	env.chain.native[addrBob] = decimal.RequireFromString("0.5")

	_, err := env.svc.PayPaymentRequest(context.Background(), env.bob.ID, pr.ID, keyBob, decimal.Decimal{})
	assert.True(t, errno.Is(err, errno.ErrInsufficientBalance))
	assert.Empty(t, env.chain.sent)

	// 请求保持 pending, 其他人仍可支付
	got, _ := env.prStore.GetByID(context.Background(), pr.ID)
	assert.Equal(t, model.RequestStatusPending, got.Status)
}

func TestPayBroadcastFailureLeavesRequestPending(t *testing.T) {
	env := newTestEnv(t)
	pr := env.newRequest(t, "1")
	env.chain.sendErr = errno.ErrLedger.WithMessage("node unavailable")

	_, err := env.svc.PayPaymentRequest(context.Background(), env.bob.ID, pr.ID, keyBob, decimal.Decimal{})
	require.Error(t, err)

	// 交易进入 failed, 请求保持 pending
	tx, err := env.txStore.GetByID(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, model.TxStatusFailed, tx.Status)

	got, _ := env.prStore.GetByID(context.Background(), pr.ID)
	assert.Equal(t, model.RequestStatusPending, got.Status)

	// 付款方和收款请求发起方各收到一条失败事件
	assert.ElementsMatch(t, []string{EventTxFailed, EventTxFailed}, env.txStore.eventTypes())
	assert.ElementsMatch(t, []uint64{env.bob.ID, env.alice.ID}, env.txStore.eventTargets())
	assert.Empty(t, env.prStore.eventTypes())

	// 失败后重试可以成功
	env.chain.sendErr = nil
	tx2, err := env.svc.PayPaymentRequest(context.Background(), env.bob.ID, pr.ID, keyBob, decimal.Decimal{})
	require.NoError(t, err)
	assert.Equal(t, model.TxStatusConfirmed, tx2.Status)
}

func TestPayConfirmationTimeoutLeavesProcessing(t *testing.T) {
	env := newTestEnv(t)
	pr := env.newRequest(t, "1")
	env.chain.timeout = true

	_, err := env.svc.PayPaymentRequest(context.Background(), env.bob.ID, pr.ID, keyBob, decimal.Decimal{})
	assert.True(t, errno.Is(err, errno.ErrConfirmationTimeout))

	// 结果未知: 交易留在 processing 且带哈希, 请求不动
	tx, err := env.txStore.GetByID(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, model.TxStatusProcessing, tx.Status)
	assert.NotEmpty(t, tx.TxHash)

	got, _ := env.prStore.GetByID(context.Background(), pr.ID)
	assert.Equal(t, model.RequestStatusPending, got.Status)
}

func TestConcurrentPayAtMostOnce(t *testing.T) {
	env := newTestEnv(t)
	pr := env.newRequest(t, "1")

	payers := []struct {
		id  uint64
		key string
	}{
		{env.bob.ID, keyBob},
		{env.carol.ID, keyCarol},
	}

	var wg sync.WaitGroup
	errs := make([]error, len(payers))
	for i, p := range payers {
		wg.Add(1)
		go func(i int, id uint64, key string) {
			defer wg.Done()
			_, errs[i] = env.svc.PayPaymentRequest(context.Background(), id, pr.ID, key, decimal.Decimal{})
		}(i, p.id, p.key)
	}
	wg.Wait()

	var okCount int
	for _, err := range errs {
		if err == nil {
			okCount++
		} else {
			assert.True(t, errno.Is(err, errno.ErrRequestInvalidState), err.Error())
		}
	}
	assert.Equal(t, 1, okCount, "恰好一个支付方成功")

	// 链上至多一笔转账, 请求只完成一次
	assert.Len(t, env.chain.sent, 1)
	got, _ := env.prStore.GetByID(context.Background(), pr.ID)
	assert.Equal(t, model.RequestStatusCompleted, got.Status)
	assert.ElementsMatch(t, []string{EventPaymentSent, EventPaymentReceive}, env.prStore.eventTypes())
}

// ---------------------------------------------------------------------------
// 两阶段转账
// ---------------------------------------------------------------------------

func TestCreateAndExecuteTransaction(t *testing.T) {
	env := newTestEnv(t)

	tx, err := env.svc.CreateTransaction(context.Background(), env.bob.ID, CreateTransactionInput{
		ToAddress: addrAlice,
		Amount:    decimal.NewFromInt(2),
		Currency:  model.CurrencyETH,
	})
	require.NoError(t, err)
	assert.Equal(t, model.TxStatusPending, tx.Status)
	assert.Equal(t, model.TxTypeSend, tx.Type) // 缺省类型
	assert.Empty(t, env.chain.sent)            // 第一阶段不触链

	got, err := env.svc.ExecuteTransaction(context.Background(), env.bob.ID, tx.ID, keyBob, decimal.Decimal{})
	require.NoError(t, err)
	assert.Equal(t, model.TxStatusConfirmed, got.Status)
	assert.Len(t, env.chain.sent, 1)

	// 同一笔登记不能广播两次
	_, err = env.svc.ExecuteTransaction(context.Background(), env.bob.ID, tx.ID, keyBob, decimal.Decimal{})
	assert.True(t, errno.Is(err, errno.ErrTxInvalidState))
	assert.Len(t, env.chain.sent, 1)
}

func TestExecuteTransactionOwnership(t *testing.T) {
	env := newTestEnv(t)

	tx, err := env.svc.CreateTransaction(context.Background(), env.bob.ID, CreateTransactionInput{
		ToAddress: addrAlice,
		Amount:    decimal.NewFromInt(1),
		Currency:  model.CurrencyETH,
	})
	require.NoError(t, err)

	// Carol 不能执行 Bob 的交易
	_, err = env.svc.ExecuteTransaction(context.Background(), env.carol.ID, tx.ID, keyCarol, decimal.Decimal{})
	assert.True(t, errno.Is(err, errno.ErrTxNotOwned))

	// Bob 带错误私钥也不行
	_, err = env.svc.ExecuteTransaction(context.Background(), env.bob.ID, tx.ID, keyCarol, decimal.Decimal{})
	assert.True(t, errno.Is(err, errno.ErrInvalidPrivateKey))
}

func TestCreateTransactionToSelf(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.svc.CreateTransaction(context.Background(), env.bob.ID, CreateTransactionInput{
		ToAddress: addrBob,
		Amount:    decimal.NewFromInt(1),
		Currency:  model.CurrencyETH,
	})
	assert.True(t, errno.Is(err, errno.ErrInvalidAddress))
}

func TestCancelTransaction(t *testing.T) {
	env := newTestEnv(t)

	tx, err := env.svc.CreateTransaction(context.Background(), env.bob.ID, CreateTransactionInput{
		ToAddress: addrAlice,
		Amount:    decimal.NewFromInt(1),
		Currency:  model.CurrencyETH,
	})
	require.NoError(t, err)

	// 别人不能撤回
	err = env.svc.CancelTransaction(context.Background(), env.carol.ID, tx.ID)
	assert.True(t, errno.Is(err, errno.ErrTxNotOwned))

	require.NoError(t, env.svc.CancelTransaction(context.Background(), env.bob.ID, tx.ID))

	// 撤回后不能再执行
	_, err = env.svc.ExecuteTransaction(context.Background(), env.bob.ID, tx.ID, keyBob, decimal.Decimal{})
	assert.True(t, errno.Is(err, errno.ErrTxInvalidState))
	assert.Empty(t, env.chain.sent)
}

func TestCancelExecutedTransaction(t *testing.T) {
	env := newTestEnv(t)

	tx, err := env.svc.CreateTransaction(context.Background(), env.bob.ID, CreateTransactionInput{
		ToAddress: addrAlice,
		Amount:    decimal.NewFromInt(1),
		Currency:  model.CurrencyETH,
	})
	require.NoError(t, err)
	_, err = env.svc.ExecuteTransaction(context.Background(), env.bob.ID, tx.ID, keyBob, decimal.Decimal{})
	require.NoError(t, err)

	// 终态不可撤回
	err = env.svc.CancelTransaction(context.Background(), env.bob.ID, tx.ID)
	assert.True(t, errno.Is(err, errno.ErrTxInvalidState))
}

func TestTokenInfoCached(t *testing.T) {
	env := newTestEnv(t)

	first, err := env.svc.TokenInfo(context.Background())
	require.NoError(t, err)
	second, err := env.svc.TokenInfo(context.Background())
	require.NoError(t, err)

	assert.Equal(t, first.Symbol, second.Symbol)
	assert.Equal(t, 1, env.chain.tokenInfoCalls) // 第二次命中缓存
}

func TestWalletBalancesCached(t *testing.T) {
	env := newTestEnv(t)

	eth1, cpx1, err := env.svc.WalletBalances(context.Background(), addrAlice)
	require.NoError(t, err)
	eth2, cpx2, err := env.svc.WalletBalances(context.Background(), addrAlice)
	require.NoError(t, err)

	assert.True(t, eth1.Ether.Equal(eth2.Ether))
	assert.True(t, cpx1.Ether.Equal(cpx2.Ether))
	assert.Equal(t, 0, eth2.Wei.Cmp(eth1.Wei))
	assert.Equal(t, 1, env.chain.balanceCalls) // 短 TTL 内不重复打链

	_, _, err = env.svc.WalletBalances(context.Background(), "not-an-address")
	assert.True(t, errno.Is(err, errno.ErrInvalidAddress))
}

func TestEstimateTransfer(t *testing.T) {
	env := newTestEnv(t)

	quote, err := env.svc.EstimateTransfer(context.Background(), env.bob.ID,
		addrAlice, decimal.NewFromInt(1), model.CurrencyETH)
	require.NoError(t, err)

	// 21000 叠加 20% 缓冲, 费用 = buffered * 20 gwei
	assert.Equal(t, uint64(25200), quote.GasEstimate)
	assert.True(t, quote.GasPriceGwei.Equal(decimal.NewFromInt(20)))
	assert.True(t, quote.GasCost.Equal(NetworkFee(25200, decimal.NewFromInt(20))))

	// 预估不落库也不上链
	assert.Empty(t, env.chain.sent)
	_, total, err := env.txStore.ListByWallet(context.Background(), addrBob, 1, 10)
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestEstimateTransferValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.EstimateTransfer(ctx, env.bob.ID, addrAlice, decimal.Zero, model.CurrencyETH)
	assert.True(t, errno.Is(err, errno.ErrInvalidAmount))

	_, err = env.svc.EstimateTransfer(ctx, env.bob.ID, addrAlice, decimal.NewFromInt(1), model.Currency("DOGE"))
	assert.True(t, errno.Is(err, errno.ErrUnsupportedCurrency))

	_, err = env.svc.EstimateTransfer(ctx, env.bob.ID, "0xshort", decimal.NewFromInt(1), model.CurrencyETH)
	assert.True(t, errno.Is(err, errno.ErrInvalidAddress))

	_, err = env.svc.EstimateTransfer(ctx, 9999, addrAlice, decimal.NewFromInt(1), model.CurrencyETH)
	assert.True(t, errno.Is(err, errno.ErrUserNotFound))
}

func TestGasPriceFallback(t *testing.T) {
	env := newTestEnv(t)
	svc := NewSettlementService(env.txStore, env.prStore, env.userStore, env.chain, newMemLock(),
		cache.NewMemoryCache(time.Minute, time.Minute), SettlementConfig{
			DefaultGasPrice: decimal.NewFromInt(30),
		})

	assert.True(t, svc.GasPrice(context.Background()).Equal(decimal.NewFromInt(20)))

	// 节点不可用时回退兜底值
	env.chain.suggestErr = fmt.Errorf("node down")
	assert.True(t, svc.GasPrice(context.Background()).Equal(decimal.NewFromInt(30)))
}

func TestCallerGasPrice(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// 执行时指定的价格直达广播参数与费用结算
	tx, err := env.svc.CreateTransaction(ctx, env.bob.ID, CreateTransactionInput{
		ToAddress: addrAlice,
		Amount:    decimal.NewFromInt(1),
		Currency:  model.CurrencyETH,
	})
	require.NoError(t, err)
	got, err := env.svc.ExecuteTransaction(ctx, env.bob.ID, tx.ID, keyBob, decimal.NewFromInt(55))
	require.NoError(t, err)
	assert.True(t, got.GasPrice.Equal(decimal.NewFromInt(55)))
	assert.True(t, got.NetworkFee.Equal(NetworkFee(got.GasUsed, decimal.NewFromInt(55))))
	require.Len(t, env.chain.sent, 1)
	assert.True(t, env.chain.sent[0].GasPriceGwei.Equal(decimal.NewFromInt(55)))

	// 登记时指定的价格在执行阶段沿用
	tx2, err := env.svc.CreateTransaction(ctx, env.bob.ID, CreateTransactionInput{
		ToAddress:    addrCarol,
		Amount:       decimal.NewFromInt(1),
		Currency:     model.CurrencyETH,
		GasPriceGwei: decimal.NewFromInt(33),
	})
	require.NoError(t, err)
	got2, err := env.svc.ExecuteTransaction(ctx, env.bob.ID, tx2.ID, keyBob, decimal.Decimal{})
	require.NoError(t, err)
	assert.True(t, got2.GasPrice.Equal(decimal.NewFromInt(33)))
}

func TestGetTransactionVisibility(t *testing.T) {
	env := newTestEnv(t)
	pr := env.newRequest(t, "1")
	tx, err := env.svc.PayPaymentRequest(context.Background(), env.bob.ID, pr.ID, keyBob, decimal.Decimal{})
	require.NoError(t, err)

	// 发送方与接收方都能读
	for _, uid := range []uint64{env.bob.ID, env.alice.ID} {
		got, err := env.svc.GetTransaction(context.Background(), uid, tx.ID)
		require.NoError(t, err)
		assert.Equal(t, tx.ID, got.ID)
	}

	// 第三方读不到 (不泄露存在性)
	_, err = env.svc.GetTransaction(context.Background(), env.carol.ID, tx.ID)
	assert.True(t, errno.Is(err, errno.ErrTxNotFound))
}
