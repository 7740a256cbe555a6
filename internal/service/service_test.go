package service

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/go-redis/redismock/v8"
	"github.com/nattapongs/credit-wallet/internal/logger"
	"github.com/nattapongs/credit-wallet/internal/model"
	"github.com/nattapongs/credit-wallet/internal/repo"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

var testDBSeq uint64

func newTestService(t *testing.T) (*WalletService, context.Context) {
	// unique shared-cache name per test so goroutines share the DB but
	// tests stay isolated from each other
	dsn := fmt.Sprintf("file:svc%d?mode=memory&cache=shared&_busy_timeout=5000", atomic.AddUint64(&testDBSeq, 1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	assert.NoError(t, err)
	assert.NoError(t, db.AutoMigrate(&model.Profile{}, &model.TransactionRecord{}, &model.WithdrawalRequest{}, &model.OutboxEvent{}))

	// redis ops are best-effort in the service; the unmatched-command
	// errors from the mock only exercise the fallback paths
	rdb, _ := redismock.NewClientMock()
	repository := repo.NewRepository(db, rdb, &kafka.Writer{}, logger.NewNop())
	return NewWalletService(repository, logger.NewNop()), context.Background()
}

func seedProfile(t *testing.T, s *WalletService, ctx context.Context, id, phone string, credit string) *model.Profile {
	p := &model.Profile{
		ID:          id,
		FirstName:   "User",
		LastName:    id,
		PhoneNumber: phone,
		Credit:      decimal.RequireFromString(credit),
	}
	assert.NoError(t, s.Repo().DB(ctx).Create(p).Error)
	return p
}

func balanceOf(t *testing.T, s *WalletService, ctx context.Context, id string) decimal.Decimal {
	var p model.Profile
	assert.NoError(t, s.Repo().DB(ctx).Where("id = ?", id).First(&p).Error)
	return p.Credit
}

func countRecords(t *testing.T, s *WalletService, ctx context.Context) int64 {
	var n int64
	assert.NoError(t, s.Repo().DB(ctx).Model(&model.TransactionRecord{}).Count(&n).Error)
	return n
}
