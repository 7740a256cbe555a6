package service

import (
	"context"
	"encoding/base64"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/nattapongs/credit-wallet/internal/model"
	"github.com/nattapongs/credit-wallet/internal/repo"
)

type HistoryFilter string

const (
	FilterAll      HistoryFilter = "all"
	FilterSent     HistoryFilter = "sent"
	FilterReceived HistoryFilter = "received"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

// History returns a user's ledger entries in strict (created_at, id)
// descending order with cursor-based pagination. Directional filters are one
// ordered query each; the unfiltered view merges the sent and received sides
// client-side because the store has no combined OR-query with ordering.
func (s *WalletService) History(ctx context.Context, userID string, filter HistoryFilter, cursor string, limit int) ([]model.TransactionRecord, string, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	cur, err := decodeCursor(cursor)
	if err != nil {
		return nil, "", err
	}

	var recs []model.TransactionRecord
	switch filter {
	case FilterSent:
		recs, err = s.repo.SentTransactions(ctx, userID, cur, limit)
	case FilterReceived:
		recs, err = s.repo.ReceivedTransactions(ctx, userID, cur, limit)
	case FilterAll, "":
		var sent, received []model.TransactionRecord
		if sent, err = s.repo.SentTransactions(ctx, userID, cur, limit); err != nil {
			break
		}
		if received, err = s.repo.ReceivedTransactions(ctx, userID, cur, limit); err != nil {
			break
		}
		recs = mergeDescending(sent, received, limit)
	default:
		return nil, "", fmt.Errorf("unknown history filter %q", filter)
	}
	if err != nil {
		return nil, "", err
	}

	next := ""
	if len(recs) == limit {
		last := recs[len(recs)-1]
		next = encodeCursor(repo.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
	}
	return recs, next, nil
}

// mergeDescending assumes both inputs are already (created_at, id) descending.
func mergeDescending(a, b []model.TransactionRecord, limit int) []model.TransactionRecord {
	out := make([]model.TransactionRecord, 0, len(a)+len(b))
	out = append(out, a...)
	out = append(out, b...)
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func encodeCursor(c repo.Cursor) string {
	raw := fmt.Sprintf("%d|%s", c.CreatedAt.UnixNano(), c.ID)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func decodeCursor(s string) (*repo.Cursor, error) {
	if s == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	parts := strings.SplitN(string(raw), "|", 2)
	if len(parts) != 2 || parts[1] == "" {
		return nil, ErrInvalidCursor
	}
	nanos, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	return &repo.Cursor{CreatedAt: time.Unix(0, nanos), ID: parts[1]}, nil
}
