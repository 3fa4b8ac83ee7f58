package moderation

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpamTracker_WindowBoundary(t *testing.T) {
	ctx := context.Background()
	s := NewSpamTracker(5, 20*time.Second)
	start := time.Unix(1000, 0)

	for i := 0; i < 5; i++ {
		ok, err := s.Allow(ctx, "L1", "alice", start.Add(time.Duration(i)*time.Second))
		require.NoError(t, err)
		assert.True(t, ok, "message %d should pass", i+1)
	}

	ok, _ := s.Allow(ctx, "L1", "alice", start.Add(10*time.Second))
	assert.False(t, ok, "6th message inside the window is blocked")

	// other users and lobbies have their own window
	ok, _ = s.Allow(ctx, "L1", "bob", start.Add(10*time.Second))
	assert.True(t, ok)
	ok, _ = s.Allow(ctx, "L2", "alice", start.Add(10*time.Second))
	assert.True(t, ok)

	// the first stamp leaves the window at start+20s
	ok, _ = s.Allow(ctx, "L1", "alice", start.Add(20*time.Second))
	assert.True(t, ok)
	ok, _ = s.Allow(ctx, "L1", "alice", start.Add(20*time.Second))
	assert.False(t, ok)
}

func TestSpamTracker_BlockedMessagesAreNotRecorded(t *testing.T) {
	ctx := context.Background()
	s := NewSpamTracker(1, 10*time.Second)
	start := time.Unix(1000, 0)

	ok, _ := s.Allow(ctx, "L1", "alice", start)
	require.True(t, ok)
	for i := 1; i < 10; i++ {
		ok, _ = s.Allow(ctx, "L1", "alice", start.Add(time.Duration(i)*time.Second))
		assert.False(t, ok)
	}
	ok, _ = s.Allow(ctx, "L1", "alice", start.Add(10*time.Second))
	assert.True(t, ok)
}

func TestSpamTracker_Concurrent(t *testing.T) {
	ctx := context.Background()
	s := NewSpamTracker(5, time.Minute)
	now := time.Unix(1000, 0)

	var (
		wg      sync.WaitGroup
		mutex   sync.Mutex
		allowed int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := s.Allow(ctx, "L1", "alice", now); ok {
				mutex.Lock()
				allowed++
				mutex.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 5, allowed)
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "idiot", Normalize("1d10t"))
	assert.Equal(t, "idiot", Normalize("I.D.I.O.T"))
	assert.Equal(t, "estupido", Normalize("Estúpido"))
	assert.Equal(t, "ass", Normalize("@$$"))
	assert.Equal(t, "hellothere", Normalize("hello, there 2"))
}

func TestFilter_Censor(t *testing.T) {
	f := NewFilter([]string{"idiot", "idiota", "stupid", "shut up"})
	assert.Equal(t, 4, f.Len())

	cases := []struct {
		in       string
		want     string
		censored bool
	}{
		{"good game everyone", "good game everyone", false},
		{"you idiot", "you *****", true},
		{"eres un idiota", "eres un ******", true},
		{"you 1d10t", "you *****", true},
		{"you i.d.i.o.t", "you *********", true},
		{"STUPID move", "****** move", true},
		{"shut up already", "******* already", true},
		{"stupid idiot", "****** *****", true},
	}
	for _, c := range cases {
		got, censored := f.Censor(c.in)
		assert.Equal(t, c.want, got, c.in)
		assert.Equal(t, c.censored, censored, c.in)
	}
}

func TestFilter_LongestFirst(t *testing.T) {
	f := NewFilter([]string{"idiot", "idiota"})
	got, _ := f.Censor("idiota")
	assert.Equal(t, "******", got, "the longer word is masked entirely")
}

func TestWarningTracker_Levels(t *testing.T) {
	w := NewWarningTracker()
	assert.Equal(t, LevelNone, w.Level("L1", "alice"))
	assert.Equal(t, LevelWarning, w.Record("L1", "alice"))
	assert.Equal(t, LevelLastWarning, w.Record("L1", "alice"))
	assert.Equal(t, LevelPunishment, w.Record("L1", "alice"))
	assert.Equal(t, LevelPunishment, w.Record("L1", "alice"))
	assert.Equal(t, LevelWarning, w.Record("L2", "alice"))

	w.Reset("L1", "alice")
	assert.Equal(t, LevelNone, w.Level("L1", "alice"))
	assert.Equal(t, "LastWarning", LevelLastWarning.String())
}

func TestCensorshipTracker_KickAndReset(t *testing.T) {
	c := NewCensorshipTracker(5)
	for i := 1; i <= 4; i++ {
		n, kick := c.Record("L1", "alice")
		assert.Equal(t, i, n)
		assert.False(t, kick)
	}
	n, kick := c.Record("L1", "alice")
	assert.True(t, kick)
	assert.Zero(t, n)
	assert.Zero(t, c.Count("L1", "alice"))

	n, kick = c.Record("L1", "alice")
	assert.Equal(t, 1, n)
	assert.False(t, kick)
}

func newTestPipeline(cfg Config) (*Pipeline, *time.Time) {
	now := time.Unix(1000, 0)
	p := NewPipeline(cfg, NewFilter(DefaultWords()), WithClock(func() time.Time { return now }))
	return p, &now
}

func TestPipeline_Outcomes(t *testing.T) {
	ctx := context.Background()
	p, now := newTestPipeline(DefaultConfig())

	out := p.Evaluate(ctx, "L1", "alice", "hello")
	assert.Equal(t, Allowed, out.Kind)
	assert.Equal(t, "hello", out.Message)

	out = p.Evaluate(ctx, "L1", "alice", "you idiot")
	assert.Equal(t, Censored, out.Kind)
	assert.Equal(t, "you *****", out.Message)
	assert.Equal(t, LevelWarning, out.Level)
	assert.True(t, out.Kind.Broadcast())

	for i := 0; i < 3; i++ {
		p.Evaluate(ctx, "L1", "alice", "hi")
	}
	out = p.Evaluate(ctx, "L1", "alice", "idiot")
	assert.Equal(t, Blocked, out.Kind)
	assert.False(t, out.Kind.Broadcast())
	assert.Equal(t, 1, p.Censorship().Count("L1", "alice"), "blocked messages skip the later stages")

	*now = now.Add(time.Minute)
	out = p.Evaluate(ctx, "L1", "alice", "idiot")
	assert.Equal(t, Censored, out.Kind)
	assert.Equal(t, LevelLastWarning, out.Level)
}

func TestPipeline_FifthCensoredMessageKicks(t *testing.T) {
	ctx := context.Background()
	p, now := newTestPipeline(DefaultConfig())

	kicks := 0
	for i := 0; i < 6; i++ {
		*now = now.Add(10 * time.Second)
		out := p.Evaluate(ctx, "L1", "alice", "stupid")
		if out.Kind == Kick {
			kicks++
			assert.Equal(t, 4, i)
			assert.NotEmpty(t, out.Notice)
		}
	}
	assert.Equal(t, 1, kicks)
	assert.Equal(t, 1, p.Censorship().Count("L1", "alice"))
}

func TestPipeline_PunishmentKicksWhenEnabled(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.PunishmentKicks = true
	p, now := newTestPipeline(cfg)

	var kinds []Kind
	for i := 0; i < 3; i++ {
		*now = now.Add(10 * time.Second)
		kinds = append(kinds, p.Evaluate(ctx, "L1", "alice", "moron").Kind)
	}
	assert.Equal(t, []Kind{Censored, Censored, Kick}, kinds)
}

func TestPipeline_ForgetLobby(t *testing.T) {
	ctx := context.Background()
	p, _ := newTestPipeline(DefaultConfig())
	p.Evaluate(ctx, "L1", "alice", "idiot")
	p.ForgetLobby("L1")

	assert.Zero(t, p.Censorship().Count("L1", "alice"))
	assert.Equal(t, LevelNone, p.Warnings().Level("L1", "alice"))
}

func TestLoadWordList(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "words.yaml")
	require.NoError(t, os.WriteFile(path, []byte("words:\n  - tonto\n  - baboso\n"), 0o644))

	words, err := LoadWordList(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"tonto", "baboso"}, words)

	empty := filepath.Join(dir, "empty.yaml")
	require.NoError(t, os.WriteFile(empty, []byte("words: []\n"), 0o644))
	_, err = LoadWordList(empty)
	assert.Error(t, err)

	_, err = LoadWordList(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

// spamBackends returns both limiter implementations with the same limits;
// the Redis one runs against an in-process server.
func spamBackends(t *testing.T, limit int, window time.Duration) map[string]SpamLimiter {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	return map[string]SpamLimiter{
		"memory": NewSpamTracker(limit, window),
		"redis":  NewRedisSpamLimiter(rdb, limit, window),
	}
}

func TestSpamLimiters_WindowBoundary(t *testing.T) {
	start := time.Unix(1000, 0)
	steps := []struct {
		user   string
		offset time.Duration
		want   bool
	}{
		{"alice", 0, true},
		{"alice", time.Second, true},
		{"alice", 2 * time.Second, true},
		{"alice", 3 * time.Second, true},
		{"alice", 4 * time.Second, true},
		{"alice", 10 * time.Second, false},
		{"bob", 10 * time.Second, true},
		{"alice", 20*time.Second - time.Microsecond, false},
		// the first stamp is exactly one window old and no longer counts
		{"alice", 20 * time.Second, true},
		{"alice", 20 * time.Second, false},
		{"alice", 21 * time.Second, true},
		{"alice", 21 * time.Second, false},
	}

	for name, limiter := range spamBackends(t, 5, 20*time.Second) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for i, step := range steps {
				ok, err := limiter.Allow(ctx, "L1", step.user, start.Add(step.offset))
				require.NoError(t, err)
				assert.Equal(t, step.want, ok, "step %d: %s at +%v", i, step.user, step.offset)
			}
		})
	}
}

func TestSpamLimiters_BlockedMessagesAreNotRecorded(t *testing.T) {
	start := time.Unix(5000, 0)
	for name, limiter := range spamBackends(t, 2, 20*time.Second) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for i := 0; i < 2; i++ {
				ok, err := limiter.Allow(ctx, "L1", "alice", start.Add(time.Duration(i)*time.Second))
				require.NoError(t, err)
				require.True(t, ok)
			}
			for i := 2; i < 10; i++ {
				ok, err := limiter.Allow(ctx, "L1", "alice", start.Add(time.Duration(i)*time.Second))
				require.NoError(t, err)
				assert.False(t, ok)
			}
			// only the two admitted stamps ever counted
			ok, err := limiter.Allow(ctx, "L1", "alice", start.Add(21*time.Second))
			require.NoError(t, err)
			assert.True(t, ok)
		})
	}
}
