package service

import (
	"context"
	"testing"
	"time"

	"cryptopayx/pkg/errno"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAuth() (*AuthService, *fakeUserStore) {
	us := newFakeUserStore()
	return NewAuthService(us, "test-secret", time.Hour), us
}

func TestRegisterAndLogin(t *testing.T) {
	auth, _ := newTestAuth()
	ctx := context.Background()

	user, err := auth.Register(ctx, RegisterInput{
		Email:         "alice@example.com",
		Password:      "correct horse battery staple",
		FirstName:     "Alice",
		WalletAddress: "0x7E5F4552091A69125d5DfCb7b8C2659029395Bdf", // 混合大小写输入
	})
	require.NoError(t, err)
	assert.Equal(t, addrAlice, user.WalletAddress) // 落库前小写规范化
	assert.NotEqual(t, "correct horse battery staple", user.PasswordHash)

	// 邮箱重复
	_, err = auth.Register(ctx, RegisterInput{
		Email: "alice@example.com", Password: "x", WalletAddress: addrBob,
	})
	assert.True(t, errno.Is(err, errno.ErrUserAlreadyExist))

	// 钱包地址重复
	_, err = auth.Register(ctx, RegisterInput{
		Email: "alice2@example.com", Password: "x", WalletAddress: addrAlice,
	})
	assert.True(t, errno.Is(err, errno.ErrUserAlreadyExist))

	// 登录换 token, token 换身份
	token, got, err := auth.Login(ctx, "alice@example.com", "correct horse battery staple")
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)

	userID, err := auth.ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, userID)
}

func TestLoginWrongPassword(t *testing.T) {
	auth, _ := newTestAuth()
	ctx := context.Background()

	_, err := auth.Register(ctx, RegisterInput{
		Email: "bob@example.com", Password: "secret-password", WalletAddress: addrBob,
	})
	require.NoError(t, err)

	_, _, err = auth.Login(ctx, "bob@example.com", "wrong")
	assert.True(t, errno.Is(err, errno.ErrPasswordIncorrect))

	// 用户不存在与密码错误不可区分
	_, _, err = auth.Login(ctx, "nobody@example.com", "whatever")
	assert.True(t, errno.Is(err, errno.ErrPasswordIncorrect))
}

func TestParseTokenRejectsGarbage(t *testing.T) {
	auth, _ := newTestAuth()

	_, err := auth.ParseToken("not-a-jwt")
	assert.True(t, errno.Is(err, errno.ErrTokenInvalid))

	// 换个密钥签的 token 不认
	other := NewAuthService(newFakeUserStore(), "other-secret", time.Hour)
	token, err := other.GenerateToken(42)
	require.NoError(t, err)
	_, err = auth.ParseToken(token)
	assert.True(t, errno.Is(err, errno.ErrTokenInvalid))
}

func TestExpiredToken(t *testing.T) {
	us := newFakeUserStore()
	auth := NewAuthService(us, "test-secret", -time.Minute) // 签出即过期

	token, err := auth.GenerateToken(1)
	require.NoError(t, err)
	_, err = auth.ParseToken(token)
	assert.True(t, errno.Is(err, errno.ErrTokenInvalid))
}
