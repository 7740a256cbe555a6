package service

import (
	"context"
	"errors"

	"github.com/nattapongs/credit-wallet/internal/model"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// GetProfileByID reads the full profile snapshot.
func (s *WalletService) GetProfileByID(ctx context.Context, id string) (*model.Profile, error) {
	p, err := s.repo.GetProfile(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrProfileNotFound
		}
		return nil, err
	}
	return p, nil
}

// GetBalance returns the current credit balance, cache first.
func (s *WalletService) GetBalance(ctx context.Context, userID string) (decimal.Decimal, error) {
	if bal, err := s.repo.GetCachedBalance(ctx, userID); err == nil {
		return bal, nil
	}
	p, err := s.GetProfileByID(ctx, userID)
	if err != nil {
		return decimal.Zero, err
	}
	if err := s.repo.CacheBalance(ctx, userID, p.Credit); err != nil {
		s.log.Warn(err)
	}
	return p.Credit, nil
}
