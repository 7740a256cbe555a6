package repo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/nattapongs/credit-wallet/internal/model"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrInsufficientBalance is returned when a debit would overdraw a profile.
var ErrInsufficientBalance = errors.New("insufficient balance")

// ErrVersionConflict means a concurrent writer touched the profile between
// our read and write. Callers retry the whole transaction.
var ErrVersionConflict = errors.New("profile version conflict")

// Cursor marks the last history entry the client has seen. Ordering is
// (created_at, id) descending, so the pair makes pages stable under inserts.
type Cursor struct {
	CreatedAt time.Time
	ID        string
}

// RepositoryInterface restricts Repo methods (方便单元测试 mock)
type RepositoryInterface interface {
	DB(ctx context.Context) *gorm.DB
	GetProfile(ctx context.Context, id string) (*model.Profile, error)
	GetProfileByPhone(ctx context.Context, phone string) (*model.Profile, error)
	GetProfileForUpdate(ctx context.Context, tx *gorm.DB, id string) (*model.Profile, error)
	CreateProfile(ctx context.Context, tx *gorm.DB, p *model.Profile) error
	UpdateProfileCredit(ctx context.Context, tx *gorm.DB, id string, newCredit decimal.Decimal, oldVersion uint64) error
	UpdateProfileFields(ctx context.Context, tx *gorm.DB, id string, fields map[string]interface{}, oldVersion uint64) error
	CreateTransactionRecord(ctx context.Context, tx *gorm.DB, rec *model.TransactionRecord) error
	SentTransactions(ctx context.Context, userID string, cur *Cursor, limit int) ([]model.TransactionRecord, error)
	ReceivedTransactions(ctx context.Context, userID string, cur *Cursor, limit int) ([]model.TransactionRecord, error)
	CreateWithdrawal(ctx context.Context, tx *gorm.DB, w *model.WithdrawalRequest) error
	CreateOutboxEvent(ctx context.Context, tx *gorm.DB, evt *model.OutboxEvent) error
	PollOutbox(ctx context.Context, limit int) ([]model.OutboxEvent, error)
	MarkOutboxProcessed(ctx context.Context, id uint64) error
	PublishEvent(ctx context.Context, evt model.OutboxEvent) error
	CacheBalance(ctx context.Context, userID string, bal decimal.Decimal) error
	GetCachedBalance(ctx context.Context, userID string) (decimal.Decimal, error)
	PublishProfileChange(ctx context.Context, id string) error
	ProfileChanges(ctx context.Context, id string) (<-chan struct{}, func(), error)
}

// Repository implements RepositoryInterface.
type Repository struct {
	db     *gorm.DB
	rdb    *redis.Client
	writer *kafka.Writer
	log    *zap.SugaredLogger
}

// NewRepository constructs repo.
func NewRepository(db *gorm.DB, rdb *redis.Client, w *kafka.Writer, logger *zap.SugaredLogger) *Repository {
	return &Repository{db: db, rdb: rdb, writer: w, log: logger}
}

// DB returns underlying *gorm.DB
func (r *Repository) DB(ctx context.Context) *gorm.DB { return r.db.WithContext(ctx) }

// NormalizePhone strips everything but digits; phone numbers are stored and
// matched in this form only.
func NormalizePhone(s string) string {
	var b strings.Builder
	for _, c := range s {
		if c >= '0' && c <= '9' {
			b.WriteRune(c)
		}
	}
	return b.String()
}

// GetProfile reads a profile by id.
func (r *Repository) GetProfile(ctx context.Context, id string) (*model.Profile, error) {
	var p model.Profile
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// GetProfileByPhone resolves a transfer receiver by normalized phone number.
func (r *Repository) GetProfileByPhone(ctx context.Context, phone string) (*model.Profile, error) {
	var p model.Profile
	if err := r.db.WithContext(ctx).Where("phone_number = ?", NormalizePhone(phone)).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// GetProfileForUpdate locks the profile row inside tx.
func (r *Repository) GetProfileForUpdate(ctx context.Context, tx *gorm.DB, id string) (*model.Profile, error) {
	var p model.Profile
	if err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// CreateProfile inserts a new profile row.
func (r *Repository) CreateProfile(ctx context.Context, tx *gorm.DB, p *model.Profile) error {
	return tx.WithContext(ctx).Create(p).Error
}

// UpdateProfileCredit writes a new balance with an optimistic version check.
func (r *Repository) UpdateProfileCredit(ctx context.Context, tx *gorm.DB, id string, newCredit decimal.Decimal, oldVersion uint64) error {
	res := tx.WithContext(ctx).
		Model(&model.Profile{}).
		Where("id = ? AND version = ?", id, oldVersion).
		Updates(map[string]interface{}{
			"credit":     newCredit,
			"version":    oldVersion + 1,
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrVersionConflict
	}
	return nil
}

// UpdateProfileFields merges editable fields, leaving credit untouched.
func (r *Repository) UpdateProfileFields(ctx context.Context, tx *gorm.DB, id string, fields map[string]interface{}, oldVersion uint64) error {
	delete(fields, "credit")
	fields["version"] = oldVersion + 1
	fields["updated_at"] = time.Now()
	res := tx.WithContext(ctx).
		Model(&model.Profile{}).
		Where("id = ? AND version = ?", id, oldVersion).
		Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrVersionConflict
	}
	return nil
}

// CreateTransactionRecord appends one ledger entry. Never updated afterwards.
func (r *Repository) CreateTransactionRecord(ctx context.Context, tx *gorm.DB, rec *model.TransactionRecord) error {
	return tx.WithContext(ctx).Create(rec).Error
}

func (r *Repository) pageQuery(ctx context.Context, col, userID string, cur *Cursor, limit int) ([]model.TransactionRecord, error) {
	q := r.db.WithContext(ctx).Where(col+" = ?", userID)
	if cur != nil {
		q = q.Where("created_at < ? OR (created_at = ? AND id < ?)", cur.CreatedAt, cur.CreatedAt, cur.ID)
	}
	var recs []model.TransactionRecord
	err := q.Order("created_at DESC, id DESC").Limit(limit).Find(&recs).Error
	return recs, err
}

// SentTransactions pages through a user's outgoing ledger entries.
func (r *Repository) SentTransactions(ctx context.Context, userID string, cur *Cursor, limit int) ([]model.TransactionRecord, error) {
	return r.pageQuery(ctx, "sender_id", userID, cur, limit)
}

// ReceivedTransactions pages through a user's incoming ledger entries.
func (r *Repository) ReceivedTransactions(ctx context.Context, userID string, cur *Cursor, limit int) ([]model.TransactionRecord, error) {
	return r.pageQuery(ctx, "receiver_id", userID, cur, limit)
}

// CreateWithdrawal inserts a pending withdrawal request.
func (r *Repository) CreateWithdrawal(ctx context.Context, tx *gorm.DB, w *model.WithdrawalRequest) error {
	return tx.WithContext(ctx).Create(w).Error
}

// CreateOutboxEvent writes event.
func (r *Repository) CreateOutboxEvent(ctx context.Context, tx *gorm.DB, evt *model.OutboxEvent) error {
	return tx.WithContext(ctx).Create(evt).Error
}

// PollOutbox pulls unprocessed events.
func (r *Repository) PollOutbox(ctx context.Context, limit int) ([]model.OutboxEvent, error) {
	var evts []model.OutboxEvent
	err := r.db.WithContext(ctx).Where("processed=false").Order("created_at").Limit(limit).Find(&evts).Error
	return evts, err
}

// MarkOutboxProcessed sets processed flag.
func (r *Repository) MarkOutboxProcessed(ctx context.Context, id uint64) error {
	now := time.Now()
	return r.db.WithContext(ctx).Model(&model.OutboxEvent{}).Where("id=?", id).
		Updates(map[string]interface{}{"processed": true, "processed_at": &now}).Error
}

// PublishEvent sends to Kafka.
func (r *Repository) PublishEvent(ctx context.Context, evt model.OutboxEvent) error {
	msg := kafka.Message{
		Key:   []byte(fmt.Sprintf("%s:%s", evt.Aggregate, evt.AggregateID)),
		Value: []byte(evt.Payload),
		Time:  time.Now(),
	}
	return r.writer.WriteMessages(ctx, msg)
}

// CacheBalance writes Redis.
func (r *Repository) CacheBalance(ctx context.Context, userID string, bal decimal.Decimal) error {
	if r.rdb == nil {
		return nil
	}
	return r.rdb.Set(ctx, "balance:"+userID, bal.String(), 5*time.Minute).Err()
}

// GetCachedBalance reads Redis.
func (r *Repository) GetCachedBalance(ctx context.Context, userID string) (decimal.Decimal, error) {
	if r.rdb == nil {
		return decimal.Zero, redis.Nil
	}
	str, err := r.rdb.Get(ctx, "balance:"+userID).Result()
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(str)
}

// PublishProfileChange signals balance watchers after a committed write.
func (r *Repository) PublishProfileChange(ctx context.Context, id string) error {
	if r.rdb == nil {
		return nil
	}
	return r.rdb.Publish(ctx, "profile:"+id, "1").Err()
}

// ProfileChanges returns a signal channel that fires whenever the profile is
// written anywhere in the cluster. The cancel func tears the subscription
// down; the channel closes once no more signals can arrive.
func (r *Repository) ProfileChanges(ctx context.Context, id string) (<-chan struct{}, func(), error) {
	if r.rdb == nil {
		return nil, nil, errors.New("redis not configured")
	}
	sub := r.rdb.Subscribe(ctx, "profile:"+id)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, err
	}
	out := make(chan struct{}, 1)
	go func() {
		defer close(out)
		for range sub.Channel() {
			select {
			case out <- struct{}{}:
			default: // watcher re-reads the full snapshot anyway, coalesce
			}
		}
	}()
	cancel := func() { _ = sub.Close() }
	return out, cancel, nil
}
