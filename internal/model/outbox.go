package model

import "time"

// Outbox event types. Push and rich-menu events are delivered to the
// messaging platform by the poller; everything else goes to Kafka.
const (
	EventTransfer     = "transfer.completed"
	EventWithdrawal   = "withdrawal.requested"
	EventRegistration = "profile.registered"
	EventPush         = "notify.push"
	EventLinkRichMenu = "notify.richmenu"
)

// OutboxEvent is written in the same store transaction as the state change it
// describes, then delivered asynchronously. Side-effect failures never touch
// the committed transaction.
type OutboxEvent struct {
	ID           uint64    `gorm:"primaryKey"`
	Aggregate    string    `gorm:"size:64;not null"`
	AggregateID  string    `gorm:"size:64;not null"`
	EventType    string    `gorm:"size:64;not null"`
	Payload      string    `gorm:"type:jsonb;not null"`
	NotifyUserID string    `gorm:"size:64"`
	CreatedAt    time.Time `gorm:"autoCreateTime"`
	Processed    bool      `gorm:"not null;default:false"`
	ProcessedAt  *time.Time
}

func (OutboxEvent) TableName() string { return "event_outbox" }
