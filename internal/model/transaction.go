package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const TransactionTypeTransfer = "transfer"

// TransactionRecord is one immutable ledger entry per completed transfer.
// Sender and receiver display fields are denormalized snapshots taken inside
// the transfer transaction, so history stays readable if a profile is later
// renamed. Rows are never updated or deleted.
type TransactionRecord struct {
	ID             string          `gorm:"primaryKey;size:36" json:"id"`
	DisplayCode    string          `gorm:"size:16;not null" json:"display_code"`
	SenderID       string          `gorm:"size:64;not null;index" json:"sender_id"`
	SenderName     string          `gorm:"size:128;not null" json:"sender_name"`
	SenderAvatar   string          `gorm:"size:512" json:"sender_avatar"`
	ReceiverID     string          `gorm:"size:64;not null;index" json:"receiver_id"`
	ReceiverName   string          `gorm:"size:128;not null" json:"receiver_name"`
	ReceiverAvatar string          `gorm:"size:512" json:"receiver_avatar"`
	Amount         decimal.Decimal `gorm:"type:numeric(20,2);not null" json:"amount"`
	Type           string          `gorm:"size:32;not null" json:"type"`
	CreatedAt      time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

func (TransactionRecord) TableName() string { return "transactions" }
