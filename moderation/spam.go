package moderation

import (
	"context"
	"sync"
	"time"
)

// SpamLimiter decides whether a message fits in the sender's rate window.
// A blocked message is not recorded.
type SpamLimiter interface {
	Allow(ctx context.Context, lobby, user string, at time.Time) (bool, error)
}

type window struct {
	mutex  sync.Mutex
	stamps []time.Time
}

// SpamTracker 内存滑动窗口限流
type SpamTracker struct {
	limit  int
	window time.Duration

	mutex   sync.RWMutex
	windows map[key]*window
}

func NewSpamTracker(limit int, windowSize time.Duration) *SpamTracker {
	return &SpamTracker{
		limit:   limit,
		window:  windowSize,
		windows: make(map[key]*window),
	}
}

func (s *SpamTracker) get(lobby, user string) *window {
	k := key{lobby: lobby, user: user}

	s.mutex.RLock()
	w, ok := s.windows[k]
	s.mutex.RUnlock()
	if ok {
		return w
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()
	if w, ok = s.windows[k]; ok {
		return w
	}
	w = &window{}
	s.windows[k] = w
	return w
}

// Allow drops stamps that left the window, then admits the message when
// fewer than limit remain.
func (s *SpamTracker) Allow(_ context.Context, lobby, user string, at time.Time) (bool, error) {
	w := s.get(lobby, user)
	w.mutex.Lock()
	defer w.mutex.Unlock()

	kept := w.stamps[:0]
	for _, ts := range w.stamps {
		if at.Sub(ts) < s.window {
			kept = append(kept, ts)
		}
	}
	w.stamps = kept

	if len(w.stamps) >= s.limit {
		return false, nil
	}
	w.stamps = append(w.stamps, at)
	return true, nil
}

// ForgetLobby drops every window of a lobby.
func (s *SpamTracker) ForgetLobby(lobby string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	for k := range s.windows {
		if k.lobby == lobby {
			delete(s.windows, k)
		}
	}
}
