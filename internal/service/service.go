package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nattapongs/credit-wallet/internal/repo"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Error taxonomy surfaced to the transport layer. Store errors never leak
// past the service boundary untranslated.
var (
	// ErrInvalidAmount means the amount is not a positive number with at
	// most two decimal places.
	ErrInvalidAmount = errors.New("amount must be positive with at most 2 decimal places")
	// ErrSelfTransfer rejects sender == receiver.
	ErrSelfTransfer = errors.New("cannot transfer to self")
	// ErrReceiverNotFound means the phone, QR token, or id resolved nothing.
	ErrReceiverNotFound = errors.New("receiver not found")
	// ErrProfileNotFound means the acting user has no profile.
	ErrProfileNotFound = errors.New("profile not found")
	// ErrTransferConflict is surfaced after the commit retry budget is spent.
	// The whole flow is safe to retry: no partial state was committed.
	ErrTransferConflict = errors.New("transfer conflict, please retry")
	// ErrPhoneTaken means the phone number belongs to a different profile.
	ErrPhoneTaken = errors.New("phone number already registered")
	// ErrMissingField means a required registration field was empty.
	ErrMissingField = errors.New("missing required field")
	// ErrInvalidCursor means the history cursor did not parse.
	ErrInvalidCursor = errors.New("invalid history cursor")
)

const (
	signupBonus        = 1000
	maxCommitAttempts  = 3
	commitRetryBackoff = 25 * time.Millisecond
)

// WalletService glues business logic and repository.
type WalletService struct {
	repo repo.RepositoryInterface
	log  *zap.SugaredLogger
}

// NewWalletService returns WalletService.
func NewWalletService(r repo.RepositoryInterface, logger *zap.SugaredLogger) *WalletService {
	return &WalletService{repo: r, log: logger}
}

// Repo exposes underlying repository (unit tests helper).
func (s *WalletService) Repo() repo.RepositoryInterface {
	return s.repo
}

// validateAmount enforces the wire format: positive, two decimals max.
func validateAmount(amt decimal.Decimal) error {
	if amt.LessThanOrEqual(decimal.Zero) || !amt.Equal(amt.Round(2)) {
		return ErrInvalidAmount
	}
	return nil
}

// newRecordID returns the durable ledger id plus the short human-facing
// display code. The code is a label only, never a lookup key.
func newRecordID() (id, displayCode string) {
	id = uuid.NewString()
	displayCode = strings.ToUpper(strings.ReplaceAll(id, "-", "")[:9])
	return id, displayCode
}

// withCommitRetry runs fn, retrying on optimistic version conflicts with
// exponential backoff. Any other error passes through unchanged.
func (s *WalletService) withCommitRetry(ctx context.Context, op string, fn func() error) error {
	backoff := commitRetryBackoff
	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil || !errors.Is(err, repo.ErrVersionConflict) {
			return err
		}
		if attempt >= maxCommitAttempts {
			s.log.Warnw("commit conflict, retries exhausted", "op", op, "attempts", attempt)
			return ErrTransferConflict
		}
		s.log.Debugw("commit conflict, retrying", "op", op, "attempt", attempt)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff *= 2
	}
}
