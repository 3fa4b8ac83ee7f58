// Package watchdog forces a skipped turn in sessions that stay idle past the
// turn time limit.
package watchdog

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pablobitw/goosegame/logger"
	"github.com/pablobitw/goosegame/monitor"
)

// Skipper plays the current turn on behalf of an idle player.
type Skipper interface {
	ForceSkip(ctx context.Context, code string) bool
}

type Option func(*Watchdog)

func WithClock(now func() time.Time) Option {
	return func(w *Watchdog) { w.now = now }
}

func WithMonitor(m *monitor.Monitor) Option {
	return func(w *Watchdog) { w.monitor = m }
}

// Watchdog 进程内唯一的超时扫描循环
type Watchdog struct {
	skipper  Skipper
	limit    time.Duration
	interval time.Duration
	now      func() time.Time
	monitor  *monitor.Monitor

	// lastActivity maps session code to the time of its latest move.
	lastActivity map[string]time.Time
	mutex        sync.Mutex

	startOnce sync.Once
	stopOnce  sync.Once
	closeChan chan struct{}
	done      chan struct{}
}

func New(skipper Skipper, limit, interval time.Duration, opts ...Option) *Watchdog {
	w := &Watchdog{
		skipper:      skipper,
		limit:        limit,
		interval:     interval,
		now:          time.Now,
		lastActivity: make(map[string]time.Time),
		closeChan:    make(chan struct{}),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Monitor starts watching a session from now.
func (w *Watchdog) Monitor(code string) {
	w.mutex.Lock()
	w.lastActivity[code] = w.now()
	count := len(w.lastActivity)
	w.mutex.Unlock()

	w.monitor.SetMonitoredSessions(count)
	logger.Log.Debugw("session monitored", "session", code)
}

// Unmonitor stops watching a session. Unknown codes are ignored.
func (w *Watchdog) Unmonitor(code string) {
	w.mutex.Lock()
	delete(w.lastActivity, code)
	count := len(w.lastActivity)
	w.mutex.Unlock()

	w.monitor.SetMonitoredSessions(count)
}

// Touch records activity for a monitored session.
func (w *Watchdog) Touch(code string) {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	if _, ok := w.lastActivity[code]; ok {
		w.lastActivity[code] = w.now()
	}
}

// Monitored reports whether the session is being watched.
func (w *Watchdog) Monitored(code string) bool {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	_, ok := w.lastActivity[code]
	return ok
}

// Start launches the loop. Calling it again has no effect.
func (w *Watchdog) Start() {
	w.startOnce.Do(func() {
		go w.loop()
	})
}

// Stop ends the loop and waits for the running scan to finish. A watchdog
// that was never started cannot be started afterwards.
func (w *Watchdog) Stop() {
	w.stopOnce.Do(func() {
		close(w.closeChan)
	})
	w.startOnce.Do(func() {
		close(w.done)
	})
	<-w.done
}

func (w *Watchdog) loop() {
	defer close(w.done)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.Scan(context.Background())
		case <-w.closeChan:
			return
		}
	}
}

// Scan forces a skip in every session idle for at least the limit and
// returns their codes. Timestamps are refreshed before the skip so a slow
// skip never triggers twice.
func (w *Watchdog) Scan(ctx context.Context) []string {
	now := w.now()

	w.mutex.Lock()
	var expired []string
	for code, last := range w.lastActivity {
		if now.Sub(last) >= w.limit {
			w.lastActivity[code] = now
			expired = append(expired, code)
		}
	}
	w.mutex.Unlock()

	sort.Strings(expired)
	for _, code := range expired {
		logger.Log.Infow("turn time limit exceeded, forcing skip", "session", code)
		if !w.skipper.ForceSkip(ctx, code) {
			logger.Log.Warnw("forced skip not applied", "session", code)
		}
	}
	return expired
}
