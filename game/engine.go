// Package game is the turn engine: it validates whose turn it is, applies the
// board rules, appends moves to the store and settles finished matches.
package game

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/pablobitw/goosegame/board"
	"github.com/pablobitw/goosegame/logger"
	"github.com/pablobitw/goosegame/models"
	"github.com/pablobitw/goosegame/monitor"
	"github.com/pablobitw/goosegame/persistence"
	"github.com/pablobitw/goosegame/room"
	"github.com/pablobitw/goosegame/services"
	"github.com/pablobitw/goosegame/state"
)

var (
	ErrSessionNotFound   = errors.New("session not found")
	ErrPlayerNotFound    = errors.New("player not found")
	ErrNotInSession      = errors.New("player is not in this session")
	ErrAlreadyInSession  = errors.New("player is already in a session")
	ErrSessionFull       = errors.New("session is full")
	ErrAlreadyStarted    = errors.New("session already started")
	ErrNotStarted        = errors.New("session is not in progress")
	ErrNotHost           = errors.New("only the host can start the session")
	ErrNotEnoughPlayers  = errors.New("not enough players")
	ErrNotYourTurn       = errors.New("not this player's turn")
	ErrBanned            = errors.New("player is banned")
	ErrUnknownVariant    = errors.New("unknown board variant")
	ErrInvalidMaxPlayers = errors.New("invalid max players")
	// ErrUnavailable is returned after a storage fault has been logged.
	ErrUnavailable = errors.New("service temporarily unavailable")
)

var domainErrors = []error{
	ErrSessionNotFound, ErrPlayerNotFound, ErrNotInSession, ErrAlreadyInSession,
	ErrSessionFull, ErrAlreadyStarted, ErrNotStarted, ErrNotHost,
	ErrNotEnoughPlayers, ErrNotYourTurn, ErrBanned, ErrUnknownVariant,
	ErrInvalidMaxPlayers, state.ErrTransitionNotAllowed,
}

func isDomainError(err error) bool {
	for _, target := range domainErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// Notifier pushes the new game state to the session's players.
type Notifier interface {
	TurnChanged(recipients []string, st *GameState)
}

// Kicker routes a kick through the sanction ledger.
type Kicker interface {
	ProcessKick(ctx context.Context, username, sessionCode, reason string, source models.KickSource) *models.KickOutcome
}

type Config struct {
	MinPlayers     int
	MaxPlayers     int
	AFKKickAfter   int
	DefaultVariant string
}

func DefaultConfig() Config {
	return Config{
		MinPlayers:     2,
		MaxPlayers:     4,
		AFKKickAfter:   3,
		DefaultVariant: "classic",
	}
}

type Option func(*Engine)

func WithRandom(rng services.Random) Option {
	return func(e *Engine) { e.rng = rng }
}

func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

func WithMonitor(m *monitor.Monitor) Option {
	return func(e *Engine) { e.monitor = m }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// RollResult is what a player sees after submitting a roll. A skipped turn
// reports zero dice.
type RollResult struct {
	DieOne  int         `json:"die_one"`
	DieTwo  int         `json:"die_two"`
	Total   int         `json:"total"`
	Skipped bool        `json:"skipped"`
	Won     bool        `json:"won"`
	Move    models.Move `json:"move"`
}

type Engine struct {
	store     persistence.Store
	rooms     *room.Manager
	lifecycle *state.Machine
	players   *services.PlayerService
	cfg       Config

	rng      services.Random
	rngMutex sync.Mutex

	notifier Notifier
	kicker   Kicker
	monitor  *monitor.Monitor
	now      func() time.Time

	hooksMutex sync.RWMutex
	onStarted  []func(models.Session)
	onFinished []func(models.Session)
	onRemoved  []func(models.Session, models.Player)
	onActivity []func(code string)
}

func NewEngine(store persistence.Store, rooms *room.Manager, cfg Config, opts ...Option) *Engine {
	e := &Engine{
		store:     store,
		rooms:     rooms,
		lifecycle: state.NewSessionMachine(),
		players:   services.NewPlayerService(),
		cfg:       cfg,
		rng:       rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x9e3779b97f4a7c15)),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SetKicker wires the sanction ledger after both sides are constructed.
func (e *Engine) SetKicker(k Kicker) {
	e.kicker = k
}

// OnSessionStarted registers a callback run after a session starts.
func (e *Engine) OnSessionStarted(fn func(models.Session)) {
	e.hooksMutex.Lock()
	defer e.hooksMutex.Unlock()
	e.onStarted = append(e.onStarted, fn)
}

// OnSessionFinished registers a callback run after a session finishes or is disbanded.
func (e *Engine) OnSessionFinished(fn func(models.Session)) {
	e.hooksMutex.Lock()
	defer e.hooksMutex.Unlock()
	e.onFinished = append(e.onFinished, fn)
}

// OnPlayerRemoved registers a callback run after a player leaves or is kicked.
func (e *Engine) OnPlayerRemoved(fn func(models.Session, models.Player)) {
	e.hooksMutex.Lock()
	defer e.hooksMutex.Unlock()
	e.onRemoved = append(e.onRemoved, fn)
}

// OnActivity registers a callback run after every committed move and every
// activity ping.
func (e *Engine) OnActivity(fn func(code string)) {
	e.hooksMutex.Lock()
	defer e.hooksMutex.Unlock()
	e.onActivity = append(e.onActivity, fn)
}

func (e *Engine) rollDie() int {
	e.rngMutex.Lock()
	defer e.rngMutex.Unlock()
	return e.rng.IntN(6) + 1
}

func (e *Engine) drawLuckyBox() services.LuckyReward {
	e.rngMutex.Lock()
	defer e.rngMutex.Unlock()
	return services.DrawLuckyBox(e.rng)
}

// turn is a consistent read of a session taken under its room lock.
type turn struct {
	session models.Session
	board   *board.Board
	players []models.Player
	total   int64
	extra   int64
	current *models.Player
}

func (e *Engine) loadTurn(ctx context.Context, code string) (*turn, error) {
	sess, err := e.store.GetSessionByCode(ctx, code)
	if err != nil {
		if persistence.IsNotFound(err) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	if !sess.Active() {
		return nil, ErrNotStarted
	}

	b, ok := board.Variant(sess.BoardVariant)
	if !ok {
		return nil, ErrUnknownVariant
	}

	players, err := e.store.ListSessionPlayers(ctx, sess.ID)
	if err != nil {
		return nil, err
	}
	if len(players) == 0 {
		return nil, ErrNotEnoughPlayers
	}

	total, extra, err := e.store.CountMoves(ctx, sess.ID)
	if err != nil {
		return nil, err
	}

	t := &turn{session: *sess, board: b, players: players, total: total, extra: extra}
	t.current = &t.players[CurrentIndex(total, extra, len(players))]
	return t, nil
}

// CurrentIndex derives whose turn it is from the move log: moves that granted
// an extra turn do not advance the order.
func CurrentIndex(total, extra int64, activePlayers int) int {
	if activePlayers <= 0 {
		return 0
	}
	return int((total - extra) % int64(activePlayers))
}

// position is the final tile of the player's latest move, 0 when none.
func position(ctx context.Context, store persistence.Store, sessionID, playerID uint) (int, error) {
	last, err := store.LastPlayerMove(ctx, sessionID, playerID)
	if err != nil {
		if persistence.IsNotFound(err) {
			return board.Start, nil
		}
		return 0, err
	}
	return last.FinalPosition, nil
}

// commit carries what must happen once a transaction is durable.
type commit struct {
	session    models.Session
	recipients []string
	moved      bool
	forced     bool
	finished   bool
	started    bool
	removed    *models.Player
	afkKick    string
}

// RollDice plays the caller's turn. It returns nil when it is not the
// player's turn, the session is not in progress, the player is unknown, or
// the store failed; nothing is committed in those cases.
func (e *Engine) RollDice(ctx context.Context, code string, playerID uint) *RollResult {
	defer e.monitor.ObserveLatency("roll", time.Now())

	var (
		result *RollResult
		done   *commit
	)
	rm := e.rooms.Acquire(code)
	err := rm.WithTurn(func() error {
		t, err := e.loadTurn(ctx, code)
		if err != nil {
			return err
		}
		if t.current.ID != playerID {
			return ErrNotYourTurn
		}
		result, done, err = e.playTurn(ctx, rm, t, false)
		return err
	})
	if err != nil {
		e.logFailure(ctx, "roll", code, playerID, err)
		return nil
	}

	e.afterCommit(ctx, done)
	return result
}

// ForceSkip plays the current player's turn on their behalf after a timeout:
// an owed skip is consumed, otherwise the turn is lost to inactivity. It goes
// through the same room lock and append path as RollDice.
func (e *Engine) ForceSkip(ctx context.Context, code string) bool {
	var done *commit
	rm := e.rooms.Acquire(code)
	err := rm.WithTurn(func() error {
		t, err := e.loadTurn(ctx, code)
		if err != nil {
			return err
		}
		_, done, err = e.playTurn(ctx, rm, t, true)
		return err
	})
	if err != nil {
		e.logFailure(ctx, "force_skip", code, 0, err)
		return false
	}

	e.afterCommit(ctx, done)
	return true
}

// Ping records explicit activity from a member of a running match. It
// refreshes liveness like a move does but writes nothing.
func (e *Engine) Ping(ctx context.Context, code string, playerID uint) error {
	sess, err := e.store.GetSessionByCode(ctx, code)
	if err != nil {
		if persistence.IsNotFound(err) {
			err = ErrSessionNotFound
		}
		return e.surface(ctx, "ping", code, playerID, err)
	}
	if !sess.Active() {
		return e.surface(ctx, "ping", code, playerID, ErrNotStarted)
	}
	player, err := e.store.GetPlayer(ctx, playerID)
	if err != nil {
		if persistence.IsNotFound(err) {
			err = ErrPlayerNotFound
		}
		return e.surface(ctx, "ping", code, playerID, err)
	}
	if player.SessionID != sess.ID {
		return ErrNotInSession
	}

	e.hooksMutex.RLock()
	activity := append([]func(string){}, e.onActivity...)
	e.hooksMutex.RUnlock()
	for _, fn := range activity {
		fn(code)
	}
	return nil
}

func (e *Engine) playTurn(ctx context.Context, rm *room.Room, t *turn, forced bool) (*RollResult, *commit, error) {
	player := *t.current
	pos, err := position(ctx, e.store, t.session.ID, player.ID)
	if err != nil {
		return nil, nil, err
	}

	move := models.Move{
		SessionID:     t.session.ID,
		PlayerID:      player.ID,
		TurnNumber:    int(t.total) + 1,
		StartPosition: pos,
		FinalPosition: pos,
	}
	done := &commit{session: t.session, recipients: usernames(t.players), moved: true}
	result := &RollResult{}

	var (
		playerChanged bool
		lucky         *services.LuckyReward
		won           bool
		inactive      bool
	)

	switch {
	case player.PendingSkips > 0:
		player.PendingSkips--
		playerChanged = true
		move.Action = describeSkip(player.Username, player.PendingSkips)
		result.Skipped = true
	case forced:
		inactive = true
		move.Action = describeInactivity(player.Username)
		result.Skipped = true
	default:
		d1, d2 := e.rollDie(), e.rollDie()
		if pos >= board.EndgameFrom {
			d2 = 0
		}
		out := t.board.Resolve(pos, d1+d2)
		if out.SkipTurns > 0 {
			player.PendingSkips = out.SkipTurns
			playerChanged = true
		}
		if out.LuckyBox {
			reward := e.drawLuckyBox()
			lucky = &reward
		}
		won = out.Won

		move.DieOne, move.DieTwo = d1, d2
		move.FinalPosition = out.Final
		move.Action = describeRoll(player.Username, d1, d2, out, lucky)
		result.DieOne, result.DieTwo, result.Total = d1, d2, d1+d2
		result.Won = won
	}
	done.forced = forced

	sess := t.session
	err = e.store.Transaction(ctx, func(tx persistence.Store) error {
		if err := tx.AppendMove(ctx, &move); err != nil {
			return fmt.Errorf("append move: %w", err)
		}
		if playerChanged {
			if err := tx.UpdatePlayer(ctx, &player); err != nil {
				return fmt.Errorf("update player: %w", err)
			}
		}
		if lucky != nil {
			if err := e.players.CreditLuckyBox(ctx, tx, player.ID, *lucky); err != nil {
				return err
			}
		}
		if won {
			return e.finishWithWinner(ctx, tx, &sess, t.players, player.ID)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	if inactive {
		if streak := rm.RecordForcedSkip(player.ID); e.cfg.AFKKickAfter > 0 && streak >= e.cfg.AFKKickAfter {
			rm.ResetAFK(player.ID)
			done.afkKick = player.Username
		}
	} else if !forced {
		rm.ResetAFK(player.ID)
	}

	done.session = sess
	done.finished = won
	result.Move = move
	return result, done, nil
}

// finishWithWinner settles a match inside tx: the winner and every other
// member get their stats, and all memberships are cleared.
func (e *Engine) finishWithWinner(ctx context.Context, tx persistence.Store, sess *models.Session, players []models.Player, winnerID uint) error {
	if err := e.lifecycle.Apply(sess, models.StatusFinished, e.now()); err != nil {
		return err
	}
	sess.WinnerID = &winnerID
	if err := tx.UpdateSession(ctx, sess); err != nil {
		return fmt.Errorf("update session: %w", err)
	}

	for _, p := range players {
		var err error
		if p.ID == winnerID {
			err = e.players.RecordWin(ctx, tx, p.ID)
		} else {
			err = e.players.RecordLoss(ctx, tx, p.ID, true)
		}
		if err != nil {
			return err
		}

		member, err := tx.GetPlayer(ctx, p.ID)
		if err != nil {
			return fmt.Errorf("reload player %d: %w", p.ID, err)
		}
		member.SessionID = 0
		member.PendingSkips = 0
		member.JoinedAt = nil
		if err := tx.UpdatePlayer(ctx, member); err != nil {
			return fmt.Errorf("clear membership of player %d: %w", p.ID, err)
		}
	}
	return nil
}

func (e *Engine) afterCommit(ctx context.Context, done *commit) {
	if done == nil {
		return
	}
	code := done.session.Code

	if done.moved {
		if done.forced {
			e.monitor.IncForcedSkips()
		} else {
			e.monitor.IncRolls()
		}
	}

	e.hooksMutex.RLock()
	activity := append([]func(string){}, e.onActivity...)
	started := append([]func(models.Session){}, e.onStarted...)
	finished := append([]func(models.Session){}, e.onFinished...)
	removed := append([]func(models.Session, models.Player){}, e.onRemoved...)
	e.hooksMutex.RUnlock()

	if done.moved {
		for _, fn := range activity {
			fn(code)
		}
	}
	if done.started {
		for _, fn := range started {
			fn(done.session)
		}
	}
	if done.removed != nil {
		for _, fn := range removed {
			fn(done.session, *done.removed)
		}
	}
	if done.finished {
		for _, fn := range finished {
			fn(done.session)
		}
		e.rooms.RemoveRoom(code)
	}

	if e.notifier != nil {
		if st, err := e.GetState(ctx, code); err == nil {
			e.notifier.TurnChanged(done.recipients, st)
		} else {
			logger.Log.Warnw("could not build state for notification", "session", code, "err", err)
		}
	}

	if done.afkKick != "" && e.kicker != nil {
		reason := fmt.Sprintf("inactive for %d consecutive turns", e.cfg.AFKKickAfter)
		e.kicker.ProcessKick(ctx, done.afkKick, code, reason, models.KickSourceAFK)
	}
}

func (e *Engine) logFailure(ctx context.Context, op, code string, playerID uint, err error) {
	e.evictStaleRoom(ctx, code, err)
	if isDomainError(err) {
		logger.Log.Debugw("request rejected", "op", op, "session", code, "player", playerID, "reason", err)
		return
	}
	e.monitor.IncStorageFaults(op)
	logger.Log.Errorw("storage fault, operation aborted", "op", op, "session", code, "player", playerID, "err", err)
}

// evictStaleRoom drops the room of a session that no longer exists or has
// finished. A rejected call may have recreated it through Acquire.
func (e *Engine) evictStaleRoom(ctx context.Context, code string, err error) {
	if code == "" {
		return
	}
	switch {
	case errors.Is(err, ErrSessionNotFound):
		e.rooms.RemoveRoom(code)
	case errors.Is(err, ErrNotStarted), errors.Is(err, ErrNotInSession):
		if sess, getErr := e.store.GetSessionByCode(ctx, code); getErr == nil && sess.Status == models.StatusFinished {
			e.rooms.RemoveRoom(code)
		}
	}
}

// surface converts a failure into what callers see: domain errors as is,
// storage faults as ErrUnavailable.
func (e *Engine) surface(ctx context.Context, op, code string, playerID uint, err error) error {
	if err == nil {
		return nil
	}
	e.logFailure(ctx, op, code, playerID, err)
	if isDomainError(err) {
		return err
	}
	return ErrUnavailable
}

func usernames(players []models.Player) []string {
	names := make([]string, 0, len(players))
	for _, p := range players {
		names = append(names, p.Username)
	}
	return names
}
