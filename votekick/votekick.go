// Package votekick runs peer votes that remove a player from a match. At most
// one vote is open per session, and a player may target the same opponent
// only once per session.
package votekick

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/pablobitw/goosegame/game"
	"github.com/pablobitw/goosegame/logger"
	"github.com/pablobitw/goosegame/models"
	"github.com/pablobitw/goosegame/monitor"
	"github.com/pablobitw/goosegame/timer"
)

var (
	ErrSelfVote           = errors.New("cannot start a vote against yourself")
	ErrNotInSession       = errors.New("initiator is not in an active session")
	ErrVoteInProgress     = errors.New("a vote is already in progress")
	ErrRepeatedVote       = errors.New("a vote against this player was already started by you in this session")
	ErrNotEnoughPlayers   = errors.New("not enough players to start a vote")
	ErrTargetNotInSession = errors.New("target is not in this session")
	ErrTargetProtected    = errors.New("target is too close to the goal to be voted out")
	ErrNoVote             = errors.New("no vote in progress")
	ErrNotEligible        = errors.New("player cannot vote in this vote")
	ErrUnavailable        = errors.New("service temporarily unavailable")
)

// Roster reads who is playing where.
type Roster interface {
	SessionOf(ctx context.Context, playerID uint) (*models.Session, error)
	GetState(ctx context.Context, code string) (*game.GameState, error)
}

type Kicker interface {
	ProcessKick(ctx context.Context, username, sessionCode, reason string, source models.KickSource) *models.KickOutcome
}

type Notifier interface {
	VoteStarted(recipients []string, ev VoteStarted)
	VoteEnded(recipients []string, ev VoteEnded)
}

type VoteStarted struct {
	Code      string     `json:"code"`
	Initiator string     `json:"initiator"`
	Target    string     `json:"target"`
	Reason    string     `json:"reason"`
	Eligible  int        `json:"eligible"`
	Deadline  *time.Time `json:"deadline,omitempty"`
}

// End reasons carried by VoteEnded.
const (
	EndCompleted    = "completed"
	EndExpired      = "expired"
	EndTargetLeft   = "target left"
	EndSessionEnded = "session finished"
)

type VoteEnded struct {
	Code     string `json:"code"`
	Target   string `json:"target"`
	For      int    `json:"for"`
	Against  int    `json:"against"`
	Eligible int    `json:"eligible"`
	Kicked   bool   `json:"kicked"`
	Reason   string `json:"reason"`
}

// Tally is a snapshot of an open or just closed vote.
type Tally struct {
	Code     string `json:"code"`
	Target   uint   `json:"target"`
	For      int    `json:"for"`
	Against  int    `json:"against"`
	Eligible int    `json:"eligible"`
	Done     bool   `json:"done"`
	Kicked   bool   `json:"kicked"`
}

type Config struct {
	MinPlayers          int
	ProtectionThreshold int
	// Window closes a vote early when positive; zero waits for every voter.
	Window time.Duration
}

func DefaultConfig() Config {
	return Config{MinPlayers: 3, ProtectionThreshold: 55}
}

type Option func(*Coordinator)

func WithNotifier(n Notifier) Option {
	return func(c *Coordinator) { c.notifier = n }
}

func WithTimers(m *timer.Manager) Option {
	return func(c *Coordinator) { c.timers = m }
}

func WithMonitor(m *monitor.Monitor) Option {
	return func(c *Coordinator) { c.monitor = m }
}

type pairKey struct {
	sessionID uint
	initiator uint
	target    uint
}

// ballotBox is the state of one open vote.
type ballotBox struct {
	mutex      sync.Mutex
	code       string
	sessionID  uint
	initiator  uint
	target     uint
	targetName string
	reason     string
	// eligible maps voter ID to username; the target is never eligible.
	eligible map[uint]string
	votes    map[uint]bool
	closed   bool
	timerID  int64
}

func (b *ballotBox) tally() Tally {
	t := Tally{Code: b.code, Target: b.target, Eligible: len(b.eligible), Done: b.closed}
	for _, inFavor := range b.votes {
		if inFavor {
			t.For++
		} else {
			t.Against++
		}
	}
	return t
}

func (b *ballotBox) participants() []string {
	names := make([]string, 0, len(b.eligible)+1)
	for _, name := range b.eligible {
		names = append(names, name)
	}
	sort.Strings(names)
	return append(names, b.targetName)
}

// Coordinator 投票踢人协调器
type Coordinator struct {
	cfg      Config
	roster   Roster
	kicker   Kicker
	notifier Notifier
	timers   *timer.Manager
	monitor  *monitor.Monitor

	mutex sync.Mutex
	boxes map[string]*ballotBox
	used  map[pairKey]bool
}

func NewCoordinator(cfg Config, roster Roster, kicker Kicker, opts ...Option) *Coordinator {
	c := &Coordinator{
		cfg:    cfg,
		roster: roster,
		kicker: kicker,
		boxes:  make(map[string]*ballotBox),
		used:   make(map[pairKey]bool),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.cfg.Window > 0 && c.timers == nil {
		c.timers = timer.NewManager(100 * time.Millisecond)
	}
	return c
}

// Initiate opens a vote against target in the initiator's session. The
// initiator's own vote counts in favor.
func (c *Coordinator) Initiate(ctx context.Context, initiatorID, targetID uint, reason string) (*Tally, error) {
	if initiatorID == targetID {
		return nil, ErrSelfVote
	}

	sess, err := c.roster.SessionOf(ctx, initiatorID)
	if err != nil {
		if errors.Is(err, game.ErrUnavailable) {
			return nil, ErrUnavailable
		}
		return nil, ErrNotInSession
	}
	if !sess.Active() {
		return nil, ErrNotInSession
	}
	st, err := c.roster.GetState(ctx, sess.Code)
	if err != nil {
		if errors.Is(err, game.ErrUnavailable) {
			return nil, ErrUnavailable
		}
		return nil, ErrNotInSession
	}

	c.mutex.Lock()
	if _, open := c.boxes[sess.Code]; open {
		c.mutex.Unlock()
		return nil, ErrVoteInProgress
	}
	pair := pairKey{sessionID: sess.ID, initiator: initiatorID, target: targetID}
	if c.used[pair] {
		c.mutex.Unlock()
		return nil, ErrRepeatedVote
	}
	if len(st.Players) < c.cfg.MinPlayers {
		c.mutex.Unlock()
		return nil, ErrNotEnoughPlayers
	}
	target := st.Player(targetID)
	if target == nil {
		c.mutex.Unlock()
		return nil, ErrTargetNotInSession
	}
	if target.Position >= c.cfg.ProtectionThreshold {
		c.mutex.Unlock()
		return nil, ErrTargetProtected
	}
	initiator := st.Player(initiatorID)
	if initiator == nil {
		c.mutex.Unlock()
		return nil, ErrNotInSession
	}

	box := &ballotBox{
		code:       sess.Code,
		sessionID:  sess.ID,
		initiator:  initiatorID,
		target:     targetID,
		targetName: target.Username,
		reason:     reason,
		eligible:   make(map[uint]string),
		votes:      map[uint]bool{initiatorID: true},
	}
	var recipients []string
	for _, p := range st.Players {
		if p.ID == targetID {
			continue
		}
		box.eligible[p.ID] = p.Username
		if p.ID != initiatorID {
			recipients = append(recipients, p.Username)
		}
	}

	ev := VoteStarted{
		Code:      sess.Code,
		Initiator: initiator.Username,
		Target:    target.Username,
		Reason:    reason,
		Eligible:  len(box.eligible),
	}
	if c.cfg.Window > 0 {
		deadline := time.Now().Add(c.cfg.Window)
		ev.Deadline = &deadline
	}

	c.used[pair] = true
	c.boxes[sess.Code] = box
	tally := box.tally()
	c.mutex.Unlock()

	if c.cfg.Window > 0 {
		box.mutex.Lock()
		if !box.closed {
			box.timerID = c.timers.AddTimer(c.cfg.Window, func() {
				c.expire(context.Background(), box)
			})
		}
		box.mutex.Unlock()
	}

	logger.Log.Infow("vote started", "session", sess.Code, "initiator", initiator.Username, "target", target.Username, "reason", reason)
	if c.notifier != nil {
		c.notifier.VoteStarted(recipients, ev)
	}
	return &tally, nil
}

// Cast records a vote. A voter's first vote wins; later ones are ignored and
// return the current tally. The vote closes when every eligible player has
// voted, and a strict majority in favor kicks the target.
func (c *Coordinator) Cast(ctx context.Context, code string, voterID uint, inFavor bool) (*Tally, error) {
	c.mutex.Lock()
	box, open := c.boxes[code]
	c.mutex.Unlock()
	if !open {
		return nil, ErrNoVote
	}

	box.mutex.Lock()
	if box.closed {
		box.mutex.Unlock()
		return nil, ErrNoVote
	}
	if _, ok := box.eligible[voterID]; !ok {
		box.mutex.Unlock()
		return nil, ErrNotEligible
	}
	if _, voted := box.votes[voterID]; !voted {
		box.votes[voterID] = inFavor
	}

	if len(box.votes) < len(box.eligible) {
		tally := box.tally()
		box.mutex.Unlock()
		return &tally, nil
	}

	tally, ev, participants := c.closeLocked(box, EndCompleted)
	box.mutex.Unlock()

	c.conclude(ctx, box, tally, ev, participants)
	return &tally, nil
}

// closeLocked ends a vote. box.mutex must be held.
func (c *Coordinator) closeLocked(box *ballotBox, reason string) (Tally, VoteEnded, []string) {
	box.closed = true
	c.mutex.Lock()
	if c.boxes[box.code] == box {
		delete(c.boxes, box.code)
	}
	c.mutex.Unlock()
	if box.timerID != 0 && c.timers != nil {
		c.timers.Cancel(box.timerID)
	}

	tally := box.tally()
	if reason == EndCompleted || reason == EndExpired {
		tally.Kicked = tally.For*2 > tally.Eligible
	}
	ev := VoteEnded{
		Code:     box.code,
		Target:   box.targetName,
		For:      tally.For,
		Against:  tally.Against,
		Eligible: tally.Eligible,
		Kicked:   tally.Kicked,
		Reason:   reason,
	}
	return tally, ev, box.participants()
}

// conclude runs outside every lock.
func (c *Coordinator) conclude(ctx context.Context, box *ballotBox, tally Tally, ev VoteEnded, participants []string) {
	result := "dissolved"
	if tally.Kicked {
		result = "kicked"
	}
	c.monitor.IncVotes(result)
	logger.Log.Infow("vote ended", "session", box.code, "target", box.targetName, "for", tally.For, "against", tally.Against, "result", result, "reason", ev.Reason)

	if c.notifier != nil {
		c.notifier.VoteEnded(participants, ev)
	}
	if tally.Kicked && c.kicker != nil {
		c.kicker.ProcessKick(ctx, box.targetName, box.code, "voted out: "+box.reason, models.KickSourceVote)
	}
}

func (c *Coordinator) expire(ctx context.Context, box *ballotBox) {
	box.mutex.Lock()
	if box.closed {
		box.mutex.Unlock()
		return
	}
	tally, ev, participants := c.closeLocked(box, EndExpired)
	box.mutex.Unlock()

	c.conclude(ctx, box, tally, ev, participants)
}

// dissolve closes the session's vote without a kick.
func (c *Coordinator) dissolve(ctx context.Context, code, reason string) {
	c.mutex.Lock()
	box, open := c.boxes[code]
	c.mutex.Unlock()
	if !open {
		return
	}

	box.mutex.Lock()
	if box.closed {
		box.mutex.Unlock()
		return
	}
	tally, ev, participants := c.closeLocked(box, reason)
	box.mutex.Unlock()

	c.conclude(ctx, box, tally, ev, participants)
}

// SessionFinished drops the vote of a finished session.
func (c *Coordinator) SessionFinished(sess models.Session) {
	c.dissolve(context.Background(), sess.Code, EndSessionEnded)
}

// PlayerRemoved dissolves the vote when its target leaves. A leaving voter
// is no longer expected to vote, which may complete the vote.
func (c *Coordinator) PlayerRemoved(sess models.Session, player models.Player) {
	c.mutex.Lock()
	box, open := c.boxes[sess.Code]
	c.mutex.Unlock()
	if !open {
		return
	}

	if box.target == player.ID {
		c.dissolve(context.Background(), sess.Code, EndTargetLeft)
		return
	}

	box.mutex.Lock()
	if box.closed {
		box.mutex.Unlock()
		return
	}
	delete(box.eligible, player.ID)
	delete(box.votes, player.ID)
	if len(box.votes) < len(box.eligible) {
		box.mutex.Unlock()
		return
	}
	tally, ev, participants := c.closeLocked(box, EndCompleted)
	box.mutex.Unlock()

	c.conclude(context.Background(), box, tally, ev, participants)
}

// Status returns the tally of the session's open vote.
func (c *Coordinator) Status(code string) (*Tally, bool) {
	c.mutex.Lock()
	box, open := c.boxes[code]
	c.mutex.Unlock()
	if !open {
		return nil, false
	}
	box.mutex.Lock()
	defer box.mutex.Unlock()
	tally := box.tally()
	return &tally, true
}
