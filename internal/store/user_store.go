package store

import (
	"context"

	"cryptopayx/internal/model"

	"gorm.io/gorm"
)

type UserStore interface {
	Create(ctx context.Context, u *model.User) error
	GetByID(ctx context.Context, id uint64) (*model.User, error)
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	GetByWallet(ctx context.Context, wallet string) (*model.User, error)
}

type gormUserStore struct {
	db *gorm.DB
}

func NewUserStore(db *gorm.DB) UserStore {
	return &gormUserStore{db: db}
}

func (s *gormUserStore) Create(ctx context.Context, u *model.User) error {
	return s.db.WithContext(ctx).Create(u).Error
}

func (s *gormUserStore) GetByID(ctx context.Context, id uint64) (*model.User, error) {
	var u model.User
	if err := s.db.WithContext(ctx).First(&u, id).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *gormUserStore) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	var u model.User
	if err := s.db.WithContext(ctx).Where("email = ?", email).First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *gormUserStore) GetByWallet(ctx context.Context, wallet string) (*model.User, error) {
	var u model.User
	if err := s.db.WithContext(ctx).Where("wallet_address = ?", wallet).First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}
