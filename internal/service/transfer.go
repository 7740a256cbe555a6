package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/nattapongs/credit-wallet/internal/line"
	"github.com/nattapongs/credit-wallet/internal/model"
	"github.com/nattapongs/credit-wallet/internal/qr"
	"github.com/nattapongs/credit-wallet/internal/repo"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ResolveReceiver turns a phone number, scanned QR token, or raw profile id
// into the receiving profile. No store mutation happens here; the transfer
// transaction re-reads both profiles under lock anyway.
func (s *WalletService) ResolveReceiver(ctx context.Context, ref string) (*model.Profile, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, ErrReceiverNotFound
	}
	var (
		p   *model.Profile
		err error
	)
	switch {
	case qr.IsToken(ref):
		payload, derr := qr.Decode(ref)
		if derr != nil {
			return nil, ErrReceiverNotFound
		}
		p, err = s.repo.GetProfile(ctx, payload.UserID)
	case isPhoneRef(ref):
		p, err = s.repo.GetProfileByPhone(ctx, ref)
	default:
		p, err = s.repo.GetProfile(ctx, ref)
	}
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrReceiverNotFound
		}
		return nil, err
	}
	return p, nil
}

// isPhoneRef reports whether ref reads as a phone number: at least 9 digits
// plus common separators, nothing else.
func isPhoneRef(ref string) bool {
	digits := 0
	for _, c := range ref {
		switch {
		case c >= '0' && c <= '9':
			digits++
		case c == '-' || c == ' ' || c == '+':
		default:
			return false
		}
	}
	return digits >= 9
}

// Transfer moves amount from the sender's balance to the receiver's,
// atomically, and appends one immutable ledger entry. The sender balance is
// re-read inside the transaction; the caller's cached balance never gates
// the debit.
func (s *WalletService) Transfer(ctx context.Context, senderID, receiverRef string, amt decimal.Decimal) (*model.TransactionRecord, error) {
	if err := validateAmount(amt); err != nil {
		return nil, err
	}
	receiver, err := s.ResolveReceiver(ctx, receiverRef)
	if err != nil {
		return nil, err
	}
	if receiver.ID == senderID {
		return nil, ErrSelfTransfer
	}

	var rec *model.TransactionRecord
	err = s.withCommitRetry(ctx, "transfer", func() error {
		rec = nil
		return s.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
			// lock profiles in deterministic id order to avoid deadlock
			firstID, secondID := senderID, receiver.ID
			if secondID < firstID {
				firstID, secondID = secondID, firstID
			}
			w1, err := s.repo.GetProfileForUpdate(ctx, tx, firstID)
			if err != nil {
				return lockReadErr(err, firstID == senderID)
			}
			w2, err := s.repo.GetProfileForUpdate(ctx, tx, secondID)
			if err != nil {
				return lockReadErr(err, secondID == senderID)
			}
			sender, recv := w1, w2
			if firstID != senderID {
				sender, recv = w2, w1
			}

			if sender.Credit.LessThan(amt) {
				return repo.ErrInsufficientBalance
			}
			newSenderBal := sender.Credit.Sub(amt)
			newRecvBal := recv.Credit.Add(amt)
			if err := s.repo.UpdateProfileCredit(ctx, tx, sender.ID, newSenderBal, sender.Version); err != nil {
				return err
			}
			if err := s.repo.UpdateProfileCredit(ctx, tx, recv.ID, newRecvBal, recv.Version); err != nil {
				return err
			}

			id, code := newRecordID()
			rec = &model.TransactionRecord{
				ID:             id,
				DisplayCode:    code,
				SenderID:       sender.ID,
				SenderName:     fullName(sender),
				SenderAvatar:   sender.AvatarURL,
				ReceiverID:     recv.ID,
				ReceiverName:   fullName(recv),
				ReceiverAvatar: recv.AvatarURL,
				Amount:         amt,
				Type:           model.TransactionTypeTransfer,
			}
			if err := s.repo.CreateTransactionRecord(ctx, tx, rec); err != nil {
				return err
			}

			payload, _ := json.Marshal(map[string]interface{}{
				"transaction_id": id,
				"sender_id":      sender.ID,
				"receiver_id":    recv.ID,
				"amount":         amt,
			})
			events := []*model.OutboxEvent{
				{Aggregate: "Transfer", AggregateID: id, EventType: model.EventTransfer, Payload: string(payload)},
				pushEvent(sender.ID, fmt.Sprintf(
					"✅ โอนเครดิตสำเร็จ\n\nจำนวน: %s ฿\nถึง: %s\nรหัสรายการ: %s\n\nยอดคงเหลือ: %s ฿",
					amt.StringFixed(2), fullName(recv), code, newSenderBal.StringFixed(2))),
				pushEvent(recv.ID, fmt.Sprintf(
					"💰 คุณได้รับเครดิต %s ฿\n\nจาก: %s\n\nยอดคงเหลือใหม่: %s ฿",
					amt.StringFixed(2), fullName(sender), newRecvBal.StringFixed(2))),
			}
			for _, evt := range events {
				if err := s.repo.CreateOutboxEvent(ctx, tx, evt); err != nil {
					return err
				}
			}

			if err := s.repo.CacheBalance(ctx, sender.ID, newSenderBal); err != nil {
				s.log.Warn(err)
			}
			if err := s.repo.CacheBalance(ctx, recv.ID, newRecvBal); err != nil {
				s.log.Warn(err)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	// balance watchers are read-only observers; a failed signal is lost
	// noise, not a rollback reason
	if err := s.repo.PublishProfileChange(ctx, senderID); err != nil {
		s.log.Warnw("publish profile change", "id", senderID, "err", err)
	}
	if err := s.repo.PublishProfileChange(ctx, receiver.ID); err != nil {
		s.log.Warnw("publish profile change", "id", receiver.ID, "err", err)
	}
	s.log.Infow("transfer committed", "transaction_id", rec.ID, "sender", senderID, "receiver", receiver.ID, "amount", amt.StringFixed(2))
	return rec, nil
}

func lockReadErr(err error, isSender bool) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		if isSender {
			return ErrProfileNotFound
		}
		return ErrReceiverNotFound
	}
	return err
}

func fullName(p *model.Profile) string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

func pushEvent(userID, text string) *model.OutboxEvent {
	payload, _ := json.Marshal([]line.Message{line.TextMessage(text)})
	return &model.OutboxEvent{
		Aggregate:    "Profile",
		AggregateID:  userID,
		EventType:    model.EventPush,
		Payload:      string(payload),
		NotifyUserID: userID,
	}
}
