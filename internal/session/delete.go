package session

import (
	"sync"
	"time"

	"github.com/comigor/lana-go/internal/logger"
)

// DeleteConfirmWindow is how long an armed delete waits for confirmation.
const DeleteConfirmWindow = 5 * time.Second

// DeleteToken is an armed, not yet confirmed deletion. It disarms on expiry,
// on Cancel, on confirmation, or when another delete is armed.
type DeleteToken struct {
	index   int
	timer   *time.Timer
	once    sync.Once
	done    chan struct{}
	release func(*DeleteToken)
}

// Index is the newest-first display index the token was armed for.
func (t *DeleteToken) Index() int { return t.index }

// Done is closed once the token is disarmed, for whatever reason.
func (t *DeleteToken) Done() <-chan struct{} { return t.done }

// Cancel disarms the token without deleting anything.
func (t *DeleteToken) Cancel() {
	t.timer.Stop()
	if t.disarm() {
		t.release(t)
	}
}

func (t *DeleteToken) expire() {
	if t.disarm() {
		t.release(t)
	}
}

// disarm reports whether this call was the one that disarmed the token.
func (t *DeleteToken) disarm() bool {
	first := false
	t.once.Do(func() {
		close(t.done)
		first = true
	})
	return first
}

// stopLocked disarms the token from inside the session lock.
func (t *DeleteToken) stopLocked() {
	t.timer.Stop()
	t.disarm()
}

// ConfirmDelete arms deletion of the conversation at display index. A
// previously armed token is cancelled.
func (s *Session) ConfirmDelete(index int) *DeleteToken {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pendingDelete != nil {
		s.pendingDelete.stopLocked()
	}
	tok := &DeleteToken{index: index, done: make(chan struct{}), release: s.releaseDelete}
	tok.timer = time.AfterFunc(s.deleteWindow, tok.expire)
	s.pendingDelete = tok
	logger.L.Debug().Int("index", index).Msg("delete armed")
	return tok
}

func (s *Session) releaseDelete(tok *DeleteToken) {
	s.mu.Lock()
	if s.pendingDelete == tok {
		s.pendingDelete = nil
	}
	s.mu.Unlock()
}

// DeletePending reports whether a delete is armed for index.
func (s *Session) DeletePending(index int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pendingDelete != nil && s.pendingDelete.index == index
}

// RemoveConversation deletes the conversation at display index if a delete
// was armed for it and has not expired; otherwise it does nothing and
// returns false. If the active session showed that conversation it is
// cleared. Removing the active conversation mid-exchange returns ErrBusy and
// leaves the token armed.
func (s *Session) RemoveConversation(index int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tok := s.pendingDelete
	if tok == nil || tok.index != index {
		return false, nil
	}
	select {
	case <-tok.done:
		// expired; release is waiting on the lock
		return false, nil
	default:
	}
	if newest := s.store.Newest(); s.selectedID != "" && index >= 0 && index < len(newest) &&
		newest[index].ID == s.selectedID && s.busy() {
		return false, ErrBusy
	}

	s.pendingDelete = nil
	tok.stopLocked()

	removed, ok, err := s.store.Remove(index)
	if !ok {
		return false, err
	}
	if removed.ID == s.selectedID {
		s.clearActiveLocked()
	}
	logger.L.Info().Str("id", removed.ID).Str("title", removed.Title).Msg("conversation deleted")
	return true, err
}
