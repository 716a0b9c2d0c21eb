package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"cryptopayx/internal/model"
	"cryptopayx/internal/store"
	"cryptopayx/pkg/errno"
	"cryptopayx/pkg/logger"
	"cryptopayx/pkg/monitor"

	"github.com/golang-jwt/jwt/v4"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// AuthService 鉴权外围: 注册/登录换 token, token 换身份
type AuthService struct {
	userStore store.UserStore
	jwtSecret []byte
	tokenTTL  time.Duration
}

func NewAuthService(userStore store.UserStore, jwtSecret string, tokenTTL time.Duration) *AuthService {
	return &AuthService{
		userStore: userStore,
		jwtSecret: []byte(jwtSecret),
		tokenTTL:  tokenTTL,
	}
}

type RegisterInput struct {
	Email         string
	Password      string
	FirstName     string
	LastName      string
	WalletAddress string
}

func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*model.User, error) {
	wallet := strings.ToLower(in.WalletAddress)
	if !model.ValidAddress(wallet) {
		return nil, errno.ErrInvalidAddress
	}

	if _, err := s.userStore.GetByEmail(ctx, in.Email); err == nil {
		return nil, errno.ErrUserAlreadyExist
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errno.ErrDatabase.WithMessage(err.Error())
	}

	// 钱包地址也要唯一, 否则交易归属会串号
	if _, err := s.userStore.GetByWallet(ctx, wallet); err == nil {
		return nil, errno.ErrUserAlreadyExist.WithMessage("wallet address already registered")
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errno.ErrDatabase.WithMessage(err.Error())
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	user := &model.User{
		Email:         in.Email,
		PasswordHash:  string(hash),
		FirstName:     in.FirstName,
		LastName:      in.LastName,
		WalletAddress: wallet,
	}
	if err := s.userStore.Create(ctx, user); err != nil {
		return nil, errno.ErrDatabase.WithMessage(err.Error())
	}

	monitor.Business.UserRegisteredTotal.Inc()
	logger.Info("用户注册", zap.Uint64("user_id", user.ID), zap.String("wallet", wallet))
	return user, nil
}

// Login 校验凭证并签发 JWT
func (s *AuthService) Login(ctx context.Context, email, password string) (string, *model.User, error) {
	user, err := s.userStore.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil, errno.ErrPasswordIncorrect // 不区分用户不存在
		}
		return "", nil, errno.ErrDatabase.WithMessage(err.Error())
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return "", nil, errno.ErrPasswordIncorrect
	}

	token, err := s.GenerateToken(user.ID)
	if err != nil {
		return "", nil, err
	}
	return token, user, nil
}

// Claims JWT 负载
type Claims struct {
	UserID uint64 `json:"user_id"`
	jwt.RegisteredClaims
}

func (s *AuthService) GenerateToken(userID uint64) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
			Issuer:    "cryptopayx",
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.jwtSecret)
}

// ParseToken 校验签名与有效期, 返回用户 ID
func (s *AuthService) ParseToken(tokenString string) (uint64, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errno.ErrTokenInvalid
		}
		return s.jwtSecret, nil
	})
	if err != nil || !token.Valid {
		return 0, errno.ErrTokenInvalid
	}
	return claims.UserID, nil
}
