package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Profile is a user's account record, keyed by the messaging-platform user id.
// The credit field must never go negative; the only code paths allowed to
// mutate it are the transfer and withdrawal transactions in the service layer.
type Profile struct {
	ID                string          `gorm:"primaryKey;size:64" json:"id"`
	DisplayName       string          `gorm:"size:128" json:"display_name"`
	AvatarURL         string          `gorm:"size:512" json:"avatar_url"`
	FirstName         string          `gorm:"size:64;not null" json:"first_name"`
	LastName          string          `gorm:"size:64;not null" json:"last_name"`
	PhoneNumber       string          `gorm:"size:20;uniqueIndex;not null" json:"phone_number"`
	Email             string          `gorm:"size:128" json:"email"`
	BankName          string          `gorm:"size:64" json:"bank_name"`
	BankAccountNumber string          `gorm:"size:32" json:"bank_account_number"`
	Credit            decimal.Decimal `gorm:"type:numeric(20,2);not null;default:'0'" json:"credit"`
	Version           uint64          `gorm:"not null;default:0" json:"-"`
	CreatedAt         time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Profile) TableName() string { return "profiles" }
