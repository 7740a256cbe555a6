package service

import (
	"context"
	"errors"
	"sync"

	"github.com/nattapongs/credit-wallet/internal/model"
	"gorm.io/gorm"
)

// ProfileWatch is a live, read-only subscription to one profile. C carries a
// full snapshot for the initial state and for every subsequent change, and is
// closed when the watch ends. Watches observe committed store state only;
// they hold no coordination responsibility over in-flight transfers.
type ProfileWatch struct {
	C <-chan model.Profile

	once sync.Once
	done chan struct{}
	wg   sync.WaitGroup
}

// Close tears the subscription down. When it returns, no further value will
// be delivered on C and C has been closed.
func (w *ProfileWatch) Close() {
	w.once.Do(func() { close(w.done) })
	w.wg.Wait()
}

// WatchProfile starts a live subscription on a profile. The first delivery is
// the current snapshot; each change signal triggers a fresh store read so the
// channel always carries complete, committed snapshots.
func (s *WalletService) WatchProfile(ctx context.Context, id string) (*ProfileWatch, error) {
	snap, err := s.repo.GetProfile(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrProfileNotFound
		}
		return nil, err
	}
	changes, cancel, err := s.repo.ProfileChanges(ctx, id)
	if err != nil {
		return nil, err
	}

	ch := make(chan model.Profile, 1)
	w := &ProfileWatch{C: ch, done: make(chan struct{})}
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer close(ch)
		defer cancel()

		select {
		case ch <- *snap:
		case <-w.done:
			return
		case <-ctx.Done():
			return
		}

		for {
			select {
			case <-w.done:
				return
			case <-ctx.Done():
				return
			case _, ok := <-changes:
				if !ok {
					return
				}
				p, err := s.repo.GetProfile(ctx, id)
				if err != nil {
					s.log.Warnw("watch re-read failed", "id", id, "err", err)
					continue
				}
				select {
				case ch <- *p:
				case <-w.done:
					return
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return w, nil
}
