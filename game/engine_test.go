package game

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pablobitw/goosegame/models"
	"github.com/pablobitw/goosegame/persistence"
	"github.com/pablobitw/goosegame/room"
)

// scriptedRandom returns die faces in order; values are faces, not indexes.
type scriptedRandom struct {
	mutex sync.Mutex
	faces []int
}

func (r *scriptedRandom) IntN(n int) int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if len(r.faces) == 0 {
		return 0
	}
	v := r.faces[0]
	r.faces = r.faces[1:]
	if n == 6 {
		return v - 1
	}
	return v
}

type recordingNotifier struct {
	mutex  sync.Mutex
	states []*GameState
}

func (n *recordingNotifier) TurnChanged(recipients []string, st *GameState) {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	n.states = append(n.states, st)
}

func (n *recordingNotifier) last() *GameState {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	if len(n.states) == 0 {
		return nil
	}
	return n.states[len(n.states)-1]
}

type recordingKicker struct {
	mutex sync.Mutex
	kicks []string
}

func (k *recordingKicker) ProcessKick(ctx context.Context, username, sessionCode, reason string, source models.KickSource) *models.KickOutcome {
	k.mutex.Lock()
	defer k.mutex.Unlock()
	k.kicks = append(k.kicks, username+"/"+string(source))
	return &models.KickOutcome{Username: username, Source: source}
}

type fixture struct {
	ctx      context.Context
	engine   *Engine
	store    *persistence.MemoryStore
	rng      *scriptedRandom
	notifier *recordingNotifier
	players  []*models.Player
	code     string
}

func newFixture(t *testing.T, names ...string) *fixture {
	t.Helper()
	f := &fixture{
		ctx:      context.Background(),
		store:    persistence.NewMemoryStore(),
		rng:      &scriptedRandom{},
		notifier: &recordingNotifier{},
	}
	f.engine = NewEngine(f.store, room.NewRoomManager(), DefaultConfig(),
		WithRandom(f.rng), WithNotifier(f.notifier))

	for _, name := range names {
		p, err := f.engine.Register(f.ctx, name, false)
		require.NoError(t, err)
		f.players = append(f.players, p)
	}
	return f
}

// startMatch opens a lobby hosted by the first player, seats everyone and starts it.
func (f *fixture) startMatch(t *testing.T) {
	t.Helper()
	sess, err := f.engine.CreateLobby(f.ctx, f.players[0].ID, "classic", 4)
	require.NoError(t, err)
	f.code = sess.Code
	for _, p := range f.players[1:] {
		require.NoError(t, f.engine.Join(f.ctx, f.code, p.ID))
	}
	require.NoError(t, f.engine.Start(f.ctx, f.code, f.players[0].ID))
}

// place appends a synthetic move putting the player on a tile.
func (f *fixture) place(t *testing.T, playerID uint, tile int) {
	t.Helper()
	sess, err := f.store.GetSessionByCode(f.ctx, f.code)
	require.NoError(t, err)
	require.NoError(t, f.store.AppendMove(f.ctx, &models.Move{
		SessionID: sess.ID, PlayerID: playerID, FinalPosition: tile, Action: "setup",
	}))
}

func (f *fixture) state(t *testing.T) *GameState {
	t.Helper()
	st, err := f.engine.GetState(f.ctx, f.code)
	require.NoError(t, err)
	return st
}

func TestEngine_TurnOrderFollowsPlayerIDs(t *testing.T) {
	f := newFixture(t, "alice", "bob", "carol")
	f.startMatch(t)
	alice, bob, carol := f.players[0], f.players[1], f.players[2]

	assert.Equal(t, alice.ID, f.state(t).CurrentPlayerID)

	f.rng.faces = []int{1, 1}
	assert.Nil(t, f.engine.RollDice(f.ctx, f.code, bob.ID), "bob must wait for alice")

	res := f.engine.RollDice(f.ctx, f.code, alice.ID)
	require.NotNil(t, res)
	assert.Equal(t, 2, res.Total)
	assert.Equal(t, bob.ID, f.state(t).CurrentPlayerID)

	f.rng.faces = []int{1, 2, 2, 2}
	require.NotNil(t, f.engine.RollDice(f.ctx, f.code, bob.ID))
	require.NotNil(t, f.engine.RollDice(f.ctx, f.code, carol.ID))

	st := f.state(t)
	assert.Equal(t, alice.ID, st.CurrentPlayerID)
	assert.Equal(t, 4, st.TurnNumber)
	assert.Equal(t, 2, st.Player(alice.ID).Position)
	assert.Equal(t, 3, st.Player(bob.ID).Position)
	assert.Equal(t, 4, st.Player(carol.ID).Position)
}

func TestEngine_GooseGrantsExtraTurn(t *testing.T) {
	f := newFixture(t, "alice", "bob")
	f.startMatch(t)
	alice := f.players[0]

	f.rng.faces = []int{2, 3}
	res := f.engine.RollDice(f.ctx, f.code, alice.ID)
	require.NotNil(t, res)
	assert.Equal(t, 9, res.Move.FinalPosition)
	assert.True(t, res.Move.IsExtraTurn())

	st := f.state(t)
	assert.Equal(t, alice.ID, st.CurrentPlayerID)
	assert.Equal(t, 9, st.Player(alice.ID).Position)
}

func TestEngine_PendingSkipIsConsumedByRoll(t *testing.T) {
	f := newFixture(t, "alice", "bob")
	f.startMatch(t)
	alice, bob := f.players[0], f.players[1]
	f.place(t, alice.ID, 13)
	f.place(t, bob.ID, 2)

	f.rng.faces = []int{3, 3}
	res := f.engine.RollDice(f.ctx, f.code, alice.ID)
	require.NotNil(t, res)
	assert.Equal(t, 19, res.Move.FinalPosition)
	assert.Equal(t, 1, f.state(t).Player(alice.ID).PendingSkips)

	f.rng.faces = []int{1, 1}
	require.NotNil(t, f.engine.RollDice(f.ctx, f.code, bob.ID))

	skipped := f.engine.RollDice(f.ctx, f.code, alice.ID)
	require.NotNil(t, skipped)
	assert.True(t, skipped.Skipped)
	assert.Zero(t, skipped.Total)

	st := f.state(t)
	assert.Equal(t, 19, st.Player(alice.ID).Position)
	assert.Zero(t, st.Player(alice.ID).PendingSkips)
	assert.Equal(t, bob.ID, st.CurrentPlayerID)
}

func TestEngine_WinSettlesMatch(t *testing.T) {
	f := newFixture(t, "alice", "bob")
	f.startMatch(t)
	alice, bob := f.players[0], f.players[1]
	f.place(t, alice.ID, 60)
	f.place(t, bob.ID, 2)

	var finished []string
	f.engine.OnSessionFinished(func(s models.Session) { finished = append(finished, s.Code) })

	// second die is ignored from tile 60
	f.rng.faces = []int{4, 6}
	res := f.engine.RollDice(f.ctx, f.code, alice.ID)
	require.NotNil(t, res)
	assert.True(t, res.Won)
	assert.Zero(t, res.DieTwo)
	assert.Equal(t, 64, res.Move.FinalPosition)

	sess, err := f.store.GetSessionByCode(f.ctx, f.code)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFinished, sess.Status)
	require.NotNil(t, sess.WinnerID)
	assert.Equal(t, alice.ID, *sess.WinnerID)
	assert.Equal(t, []string{f.code}, finished)
	require.NotNil(t, f.notifier.last())
	assert.Equal(t, models.StatusFinished, f.notifier.last().Status)

	won, _ := f.store.GetStats(f.ctx, alice.ID)
	assert.Equal(t, 1, won.MatchesWon)
	assert.Equal(t, int64(100), won.Coins)
	lost, _ := f.store.GetStats(f.ctx, bob.ID)
	assert.Equal(t, 1, lost.MatchesLost)
	assert.Equal(t, int64(10), lost.Coins)

	for _, p := range f.players {
		reloaded, _ := f.store.GetPlayer(f.ctx, p.ID)
		assert.Zero(t, reloaded.SessionID)
	}
	assert.Nil(t, f.engine.RollDice(f.ctx, f.code, bob.ID), "finished sessions accept no moves")
}

func TestEngine_FaultAbortsWithoutPartialMove(t *testing.T) {
	f := newFixture(t, "alice", "bob")
	f.startMatch(t)
	alice, bob := f.players[0], f.players[1]
	f.place(t, alice.ID, 60)
	f.place(t, bob.ID, 2)

	f.store.FailNext("SaveStats", errors.New("connection reset"))
	f.rng.faces = []int{4, 1}
	assert.Nil(t, f.engine.RollDice(f.ctx, f.code, alice.ID))

	sess, _ := f.store.GetSessionByCode(f.ctx, f.code)
	assert.Equal(t, models.StatusInProgress, sess.Status)
	total, _, _ := f.store.CountMoves(f.ctx, sess.ID)
	assert.Equal(t, int64(2), total)
	assert.Equal(t, alice.ID, f.state(t).CurrentPlayerID)

	f.rng.faces = []int{4, 1}
	assert.NotNil(t, f.engine.RollDice(f.ctx, f.code, alice.ID))
}

func TestEngine_ConcurrentRollsSingleSuccess(t *testing.T) {
	f := newFixture(t, "alice", "bob")
	f.startMatch(t)
	alice := f.players[0]
	f.rng.faces = make([]int, 40)
	for i := range f.rng.faces {
		f.rng.faces[i] = 1
	}

	var (
		wg        sync.WaitGroup
		mutex     sync.Mutex
		successes int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if f.engine.RollDice(f.ctx, f.code, alice.ID) != nil {
				mutex.Lock()
				successes++
				mutex.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	sess, _ := f.store.GetSessionByCode(f.ctx, f.code)
	total, _, _ := f.store.CountMoves(f.ctx, sess.ID)
	assert.Equal(t, int64(1), total)
}

func TestEngine_ForceSkipAndAFKKick(t *testing.T) {
	f := newFixture(t, "alice", "bob")
	kicker := &recordingKicker{}
	f.engine.SetKicker(kicker)
	f.startMatch(t)
	alice, bob := f.players[0], f.players[1]

	require.True(t, f.engine.ForceSkip(f.ctx, f.code))
	st := f.state(t)
	assert.Equal(t, bob.ID, st.CurrentPlayerID)
	require.NotNil(t, st.LastMove)
	assert.Contains(t, st.LastMove.Action, "loses the turn due to inactivity")
	assert.Equal(t, 0, st.Player(alice.ID).Position)

	// bob plays for real, alice keeps timing out
	f.rng.faces = []int{1, 1, 1, 1}
	require.NotNil(t, f.engine.RollDice(f.ctx, f.code, bob.ID))
	require.True(t, f.engine.ForceSkip(f.ctx, f.code))
	require.NotNil(t, f.engine.RollDice(f.ctx, f.code, bob.ID))
	assert.Empty(t, kicker.kicks)

	require.True(t, f.engine.ForceSkip(f.ctx, f.code))
	assert.Equal(t, []string{"alice/afk"}, kicker.kicks)
}

func TestEngine_ForceSkipConsumesPendingSkip(t *testing.T) {
	f := newFixture(t, "alice", "bob")
	f.startMatch(t)
	alice := f.players[0]

	p, _ := f.store.GetPlayer(f.ctx, alice.ID)
	p.PendingSkips = 2
	require.NoError(t, f.store.UpdatePlayer(f.ctx, p))

	require.True(t, f.engine.ForceSkip(f.ctx, f.code))
	assert.Equal(t, 1, f.state(t).Player(alice.ID).PendingSkips)
}

func TestEngine_ForceSkipOnFinishedSession(t *testing.T) {
	f := newFixture(t, "alice", "bob")
	f.startMatch(t)
	require.NoError(t, f.engine.Leave(f.ctx, f.code, f.players[1].ID))

	assert.False(t, f.engine.ForceSkip(f.ctx, f.code))
}

func TestEngine_ClockIsInjectable(t *testing.T) {
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	f := newFixture(t, "alice", "bob")
	f.engine.now = func() time.Time { return fixed }
	f.startMatch(t)

	sess, _ := f.store.GetSessionByCode(f.ctx, f.code)
	require.NotNil(t, sess.StartedAt)
	assert.Equal(t, fixed, *sess.StartedAt)
}
