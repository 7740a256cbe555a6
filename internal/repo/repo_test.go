package repo

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/nattapongs/credit-wallet/internal/logger"
	"github.com/nattapongs/credit-wallet/internal/model"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newTestRepo(t *testing.T) (*Repository, context.Context) {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	assert.NoError(t, err)
	assert.NoError(t, db.AutoMigrate(&model.Profile{}, &model.TransactionRecord{}, &model.WithdrawalRequest{}, &model.OutboxEvent{}))
	return NewRepository(db, nil, &kafka.Writer{}, logger.NewNop()), context.Background()
}

func TestNormalizePhone(t *testing.T) {
	assert.Equal(t, "0918296274", NormalizePhone("091-829-6274"))
	assert.Equal(t, "0918296274", NormalizePhone("091 829 6274"))
	assert.Equal(t, "66918296274", NormalizePhone("+66 91 829 6274"))
	assert.Equal(t, "", NormalizePhone("abc"))
}

func TestGetProfileByPhone_MatchesNormalizedForm(t *testing.T) {
	r, ctx := newTestRepo(t)
	p := &model.Profile{ID: "U1", FirstName: "A", LastName: "B", PhoneNumber: "0913341312", Credit: decimal.NewFromInt(1000)}
	assert.NoError(t, r.CreateProfile(ctx, r.DB(ctx), p))

	got, err := r.GetProfileByPhone(ctx, "091-334-1312")
	assert.NoError(t, err)
	assert.Equal(t, "U1", got.ID)

	_, err = r.GetProfileByPhone(ctx, "099-999-9999")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestUpdateProfileCredit_ConcurrentWritersConflict(t *testing.T) {
	r, ctx := newTestRepo(t)
	p := &model.Profile{ID: "U1", FirstName: "A", LastName: "B", PhoneNumber: "0800000001", Credit: decimal.NewFromInt(100)}
	assert.NoError(t, r.CreateProfile(ctx, r.DB(ctx), p))

	// both writers read version 0; second write must lose
	err := r.UpdateProfileCredit(ctx, r.DB(ctx), "U1", decimal.NewFromInt(90), 0)
	assert.NoError(t, err)
	err = r.UpdateProfileCredit(ctx, r.DB(ctx), "U1", decimal.NewFromInt(80), 0)
	assert.ErrorIs(t, err, ErrVersionConflict)

	got, err := r.GetProfile(ctx, "U1")
	assert.NoError(t, err)
	assert.Equal(t, "90", got.Credit.StringFixed(0))
	assert.Equal(t, uint64(1), got.Version)
}

func TestUpdateProfileFields_NeverTouchesCredit(t *testing.T) {
	r, ctx := newTestRepo(t)
	p := &model.Profile{ID: "U1", FirstName: "A", LastName: "B", PhoneNumber: "0800000001", Credit: decimal.NewFromInt(500)}
	assert.NoError(t, r.CreateProfile(ctx, r.DB(ctx), p))

	err := r.UpdateProfileFields(ctx, r.DB(ctx), "U1", map[string]interface{}{
		"first_name": "New",
		"credit":     decimal.NewFromInt(9999), // must be stripped
	}, 0)
	assert.NoError(t, err)

	got, _ := r.GetProfile(ctx, "U1")
	assert.Equal(t, "New", got.FirstName)
	assert.Equal(t, "500", got.Credit.StringFixed(0))
}

func TestTransactionPaging_CursorIsStable(t *testing.T) {
	r, ctx := newTestRepo(t)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		rec := &model.TransactionRecord{
			ID: fmt.Sprintf("tx-%d", i), DisplayCode: "X", SenderID: "U1", SenderName: "A",
			ReceiverID: "U2", ReceiverName: "B",
			Amount: decimal.NewFromInt(int64(i + 1)), Type: model.TransactionTypeTransfer,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		assert.NoError(t, r.CreateTransactionRecord(ctx, r.DB(ctx), rec))
	}

	page1, err := r.SentTransactions(ctx, "U1", nil, 2)
	assert.NoError(t, err)
	assert.Len(t, page1, 2)
	assert.Equal(t, "tx-4", page1[0].ID)
	assert.Equal(t, "tx-3", page1[1].ID)

	cur := &Cursor{CreatedAt: page1[1].CreatedAt, ID: page1[1].ID}
	page2, err := r.SentTransactions(ctx, "U1", cur, 2)
	assert.NoError(t, err)
	assert.Len(t, page2, 2)
	assert.Equal(t, "tx-2", page2[0].ID)
	assert.Equal(t, "tx-1", page2[1].ID)

	// a new insert must not shift the already-cursored page
	rec := &model.TransactionRecord{
		ID: "tx-9", DisplayCode: "X", SenderID: "U1", SenderName: "A",
		ReceiverID: "U2", ReceiverName: "B",
		Amount: decimal.NewFromInt(9), Type: model.TransactionTypeTransfer,
		CreatedAt: base.Add(time.Hour),
	}
	assert.NoError(t, r.CreateTransactionRecord(ctx, r.DB(ctx), rec))
	again, err := r.SentTransactions(ctx, "U1", cur, 2)
	assert.NoError(t, err)
	assert.Equal(t, page2, again)
}

func TestOutboxRoundTrip(t *testing.T) {
	r, ctx := newTestRepo(t)
	evt := &model.OutboxEvent{Aggregate: "Profile", AggregateID: "U1", EventType: model.EventTransfer, Payload: `{"amount":"10"}`}
	assert.NoError(t, r.CreateOutboxEvent(ctx, r.DB(ctx), evt))

	pending, err := r.PollOutbox(ctx, 10)
	assert.NoError(t, err)
	assert.Len(t, pending, 1)

	assert.NoError(t, r.MarkOutboxProcessed(ctx, pending[0].ID))
	pending, err = r.PollOutbox(ctx, 10)
	assert.NoError(t, err)
	assert.Empty(t, pending)
}
