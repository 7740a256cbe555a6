package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/nattapongs/credit-wallet/internal/model"
	"github.com/nattapongs/credit-wallet/internal/repo"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// RequestWithdrawal creates a pending payout request and debits the balance
// in one store transaction. The balance check happens against the locked
// re-read, the same discipline as transfers; the request row and the debit
// either both commit or neither does.
func (s *WalletService) RequestWithdrawal(ctx context.Context, userID string, amt decimal.Decimal) (*model.WithdrawalRequest, error) {
	if err := validateAmount(amt); err != nil {
		return nil, err
	}

	var req *model.WithdrawalRequest
	err := s.withCommitRetry(ctx, "withdrawal", func() error {
		req = nil
		return s.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
			p, err := s.repo.GetProfileForUpdate(ctx, tx, userID)
			if err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return ErrProfileNotFound
				}
				return err
			}
			if p.Credit.LessThan(amt) {
				return repo.ErrInsufficientBalance
			}
			newBal := p.Credit.Sub(amt)
			if err := s.repo.UpdateProfileCredit(ctx, tx, userID, newBal, p.Version); err != nil {
				return err
			}

			req = &model.WithdrawalRequest{
				ID:                uuid.NewString(),
				UserID:            userID,
				Amount:            amt,
				BankName:          p.BankName,
				BankAccountNumber: p.BankAccountNumber,
				Status:            model.WithdrawalStatusPending,
			}
			if err := s.repo.CreateWithdrawal(ctx, tx, req); err != nil {
				return err
			}

			payload, _ := json.Marshal(map[string]interface{}{
				"withdrawal_id": req.ID,
				"user_id":       userID,
				"amount":        amt,
				"bank_name":     req.BankName,
			})
			events := []*model.OutboxEvent{
				{Aggregate: "Withdrawal", AggregateID: req.ID, EventType: model.EventWithdrawal, Payload: string(payload)},
				pushEvent(userID, fmt.Sprintf(
					"📤 คำขอถอนเครดิตของคุณได้รับการบันทึกแล้ว\n\nจำนวน: %s ฿\nธนาคาร: %s\nเลขบัญชี: %s\n\nทีมงานจะตรวจสอบและโอนเงินภายใน 24 ชั่วโมง\n\nยอดเครดิตคงเหลือ: %s ฿",
					amt.StringFixed(2), req.BankName, req.BankAccountNumber, newBal.StringFixed(2))),
			}
			for _, evt := range events {
				if err := s.repo.CreateOutboxEvent(ctx, tx, evt); err != nil {
					return err
				}
			}

			if err := s.repo.CacheBalance(ctx, userID, newBal); err != nil {
				s.log.Warn(err)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	if err := s.repo.PublishProfileChange(ctx, userID); err != nil {
		s.log.Warnw("publish profile change", "id", userID, "err", err)
	}
	s.log.Infow("withdrawal requested", "withdrawal_id", req.ID, "user", userID, "amount", amt.StringFixed(2))
	return req, nil
}
