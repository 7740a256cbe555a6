package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nattapongs/credit-wallet/internal/line"
	"github.com/nattapongs/credit-wallet/internal/model"
	"github.com/nattapongs/credit-wallet/internal/repo"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ProfileFields are the user-editable registration fields.
type ProfileFields struct {
	FirstName         string
	LastName          string
	PhoneNumber       string
	Email             string
	BankName          string
	BankAccountNumber string
}

// Register upserts the profile for a verified platform identity. First
// registration seeds the signup bonus; re-registering merges fields and never
// touches credit or creates a duplicate row.
func (s *WalletService) Register(ctx context.Context, identity line.Identity, fields ProfileFields) (*model.Profile, error) {
	if identity.UserID == "" || fields.FirstName == "" || fields.LastName == "" || fields.PhoneNumber == "" {
		return nil, ErrMissingField
	}
	phone := repo.NormalizePhone(fields.PhoneNumber)
	if len(phone) < 9 {
		return nil, fmt.Errorf("%w: phone number", ErrMissingField)
	}

	created := false
	err := s.withCommitRetry(ctx, "register", func() error {
		created = false
		return s.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
			if owner, err := s.repo.GetProfileByPhone(ctx, phone); err == nil {
				if owner.ID != identity.UserID {
					return ErrPhoneTaken
				}
			} else if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}

			existing, err := s.repo.GetProfileForUpdate(ctx, tx, identity.UserID)
			switch {
			case err == nil:
				return s.repo.UpdateProfileFields(ctx, tx, identity.UserID, map[string]interface{}{
					"display_name":        identity.DisplayName,
					"avatar_url":          identity.AvatarURL,
					"first_name":          fields.FirstName,
					"last_name":           fields.LastName,
					"phone_number":        phone,
					"email":               fields.Email,
					"bank_name":           fields.BankName,
					"bank_account_number": fields.BankAccountNumber,
				}, existing.Version)
			case errors.Is(err, gorm.ErrRecordNotFound):
				created = true
				p := &model.Profile{
					ID:                identity.UserID,
					DisplayName:       identity.DisplayName,
					AvatarURL:         identity.AvatarURL,
					FirstName:         fields.FirstName,
					LastName:          fields.LastName,
					PhoneNumber:       phone,
					Email:             fields.Email,
					BankName:          fields.BankName,
					BankAccountNumber: fields.BankAccountNumber,
					Credit:            decimal.NewFromInt(signupBonus),
				}
				if err := s.repo.CreateProfile(ctx, tx, p); err != nil {
					return err
				}
				payload, _ := json.Marshal(map[string]interface{}{"user_id": p.ID, "phone_number": phone})
				events := []*model.OutboxEvent{
					{Aggregate: "Profile", AggregateID: p.ID, EventType: model.EventRegistration, Payload: string(payload)},
					pushEvent(p.ID, fmt.Sprintf(
						"สวัสดีคุณ %s! 🎉\nการลงทะเบียนสำเร็จแล้ว คุณได้รับเครดิตเริ่มต้น %d ฿ และสามารถเริ่มใช้งาน Wallet ได้เลย",
						fields.FirstName, signupBonus)),
					{Aggregate: "Profile", AggregateID: p.ID, EventType: model.EventLinkRichMenu, Payload: "{}", NotifyUserID: p.ID},
				}
				for _, evt := range events {
					if err := s.repo.CreateOutboxEvent(ctx, tx, evt); err != nil {
						return err
					}
				}
				return nil
			default:
				return err
			}
		})
	})
	if err != nil {
		return nil, err
	}

	p, err := s.repo.GetProfile(ctx, identity.UserID)
	if err != nil {
		return nil, err
	}
	if err := s.repo.CacheBalance(ctx, p.ID, p.Credit); err != nil {
		s.log.Warn(err)
	}
	if err := s.repo.PublishProfileChange(ctx, p.ID); err != nil {
		s.log.Warnw("publish profile change", "id", p.ID, "err", err)
	}
	s.log.Infow("profile registered", "id", p.ID, "created", created)
	return p, nil
}
