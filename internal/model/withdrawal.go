package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const WithdrawalStatusPending = "pending"

// WithdrawalRequest records a user's request to convert credit into a bank
// payout. Status transitions past "pending" belong to the back-office process.
type WithdrawalRequest struct {
	ID                string          `gorm:"primaryKey;size:36" json:"id"`
	UserID            string          `gorm:"size:64;not null;index" json:"user_id"`
	Amount            decimal.Decimal `gorm:"type:numeric(20,2);not null" json:"amount"`
	BankName          string          `gorm:"size:64;not null" json:"bank_name"`
	BankAccountNumber string          `gorm:"size:32;not null" json:"bank_account_number"`
	Status            string          `gorm:"size:16;not null;default:'pending'" json:"status"`
	CreatedAt         time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (WithdrawalRequest) TableName() string { return "withdrawals" }
