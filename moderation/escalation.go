package moderation

// Level is the warning level reached by a sender.
type Level int

const (
	LevelNone Level = iota
	LevelWarning
	LevelLastWarning
	LevelPunishment
)

func (l Level) String() string {
	switch l {
	case LevelWarning:
		return "Warning"
	case LevelLastWarning:
		return "LastWarning"
	case LevelPunishment:
		return "Punishment"
	}
	return "None"
}

func levelFor(count int) Level {
	switch {
	case count <= 0:
		return LevelNone
	case count == 1:
		return LevelWarning
	case count == 2:
		return LevelLastWarning
	}
	return LevelPunishment
}

// WarningTracker counts violations per (lobby, user).
type WarningTracker struct {
	counts *counters
}

func NewWarningTracker() *WarningTracker {
	return &WarningTracker{counts: newCounters()}
}

// Record adds a violation and returns the level it reaches.
func (w *WarningTracker) Record(lobby, user string) Level {
	c := w.counts.get(lobby, user)
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.n++
	return levelFor(c.n)
}

func (w *WarningTracker) Level(lobby, user string) Level {
	return levelFor(w.counts.value(lobby, user))
}

func (w *WarningTracker) Reset(lobby, user string) {
	c := w.counts.get(lobby, user)
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.n = 0
}

// CensorshipTracker counts censored messages; reaching the threshold asks
// for a kick and starts over.
type CensorshipTracker struct {
	threshold int
	counts    *counters
}

func NewCensorshipTracker(threshold int) *CensorshipTracker {
	return &CensorshipTracker{threshold: threshold, counts: newCounters()}
}

// Record adds a strike. It returns the count after the strike and whether
// the threshold was reached; the count is 0 after a reset.
func (c *CensorshipTracker) Record(lobby, user string) (int, bool) {
	item := c.counts.get(lobby, user)
	item.mutex.Lock()
	defer item.mutex.Unlock()

	item.n++
	if item.n >= c.threshold {
		item.n = 0
		return 0, true
	}
	return item.n, false
}

func (c *CensorshipTracker) Count(lobby, user string) int {
	return c.counts.value(lobby, user)
}
