package persistence

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pablobitw/goosegame/models"
)

// exerciseStore runs the behaviour every Store implementation shares.
func exerciseStore(t *testing.T, store Store) {
	ctx := context.Background()

	sess := &models.Session{Code: "ABC123", BoardVariant: "classic", Status: models.StatusWaitingForPlayers, MaxPlayers: 4}
	require.NoError(t, store.CreateSession(ctx, sess))
	require.NotZero(t, sess.ID)

	byCode, err := store.GetSessionByCode(ctx, "ABC123")
	require.NoError(t, err)
	assert.Equal(t, sess.ID, byCode.ID)

	_, err = store.GetSession(ctx, sess.ID+100)
	assert.True(t, IsNotFound(err))

	var ids []uint
	for _, name := range []string{"alice", "bob", "carol"} {
		p := &models.Player{Username: name, SessionID: sess.ID}
		require.NoError(t, store.CreatePlayer(ctx, p))
		ids = append(ids, p.ID)
	}
	outsider := &models.Player{Username: "dave"}
	require.NoError(t, store.CreatePlayer(ctx, outsider))

	members, err := store.ListSessionPlayers(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, members, 3)
	for i, m := range members {
		assert.Equal(t, ids[i], m.ID)
	}

	sess.Status = models.StatusInProgress
	require.NoError(t, store.UpdateSession(ctx, sess))
	active, err := store.ListSessionsByStatus(ctx, models.StatusInProgress)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "ABC123", active[0].Code)

	_, err = store.LastMove(ctx, sess.ID)
	assert.True(t, IsNotFound(err))

	moves := []models.Move{
		{SessionID: sess.ID, PlayerID: ids[0], TurnNumber: 1, DieOne: 3, DieTwo: 2, StartPosition: 0, FinalPosition: 5, Action: "goose " + models.MarkerExtraTurn},
		{SessionID: sess.ID, PlayerID: ids[0], TurnNumber: 2, DieOne: 1, DieTwo: 1, StartPosition: 5, FinalPosition: 7},
		{SessionID: sess.ID, PlayerID: ids[1], TurnNumber: 3, DieOne: 4, DieTwo: 4, StartPosition: 0, FinalPosition: 8},
	}
	for i := range moves {
		require.NoError(t, store.AppendMove(ctx, &moves[i]))
	}

	last, err := store.LastMove(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, ids[1], last.PlayerID)

	lastAlice, err := store.LastPlayerMove(ctx, sess.ID, ids[0])
	require.NoError(t, err)
	assert.Equal(t, 7, lastAlice.FinalPosition)

	total, extra, err := store.CountMoves(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Equal(t, int64(1), extra)

	all, err := store.ListMoves(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, 1, all[0].TurnNumber)

	st, err := store.GetStats(ctx, ids[2])
	require.NoError(t, err)
	assert.Equal(t, ids[2], st.PlayerID)
	assert.Zero(t, st.MatchesPlayed)

	st.MatchesPlayed, st.MatchesLost = 1, 1
	require.NoError(t, store.SaveStats(ctx, st))
	st, err = store.GetStats(ctx, ids[2])
	require.NoError(t, err)
	assert.Equal(t, 1, st.MatchesLost)

	require.NoError(t, store.AddSanction(ctx, &models.Sanction{
		PlayerID: ids[1], Type: models.SanctionPermanent, Source: models.KickSourceVote, StartsAt: time.Now(),
	}))
	sanctions, err := store.ListSanctions(ctx, ids[1])
	require.NoError(t, err)
	require.Len(t, sanctions, 1)
	assert.Nil(t, sanctions[0].EndsAt)

	// a failing transaction leaves nothing behind
	boom := errors.New("boom")
	err = store.Transaction(ctx, func(tx Store) error {
		p, err := tx.GetPlayer(ctx, ids[0])
		if err != nil {
			return err
		}
		p.KickCount = 7
		if err := tx.UpdatePlayer(ctx, p); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)
	alice, err := store.GetPlayer(ctx, ids[0])
	require.NoError(t, err)
	assert.Zero(t, alice.KickCount)

	err = store.Transaction(ctx, func(tx Store) error {
		p, err := tx.GetPlayerByUsername(ctx, "alice")
		if err != nil {
			return err
		}
		p.KickCount = 1
		return tx.UpdatePlayer(ctx, p)
	})
	require.NoError(t, err)
	alice, err = store.GetPlayer(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, 1, alice.KickCount)
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestGormSQLiteStore(t *testing.T) {
	store, err := NewGormSQLite(":memory:")
	require.NoError(t, err)
	defer store.Close()
	exerciseStore(t, store)
}

func TestMemoryStore_DuplicateKeys(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.CreatePlayer(ctx, &models.Player{Username: "alice"}))
	assert.ErrorIs(t, store.CreatePlayer(ctx, &models.Player{Username: "alice"}), ErrDuplicateKey)

	require.NoError(t, store.CreateSession(ctx, &models.Session{Code: "XYZ"}))
	assert.ErrorIs(t, store.CreateSession(ctx, &models.Session{Code: "XYZ"}), ErrDuplicateKey)
}

func TestMemoryStore_FailNext(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	p := &models.Player{Username: "alice"}
	require.NoError(t, store.CreatePlayer(ctx, p))

	store.FailNext("GetPlayer", ErrTransient)
	store.FailNext("GetPlayer", ErrRecordNotFound)

	_, err := store.GetPlayer(ctx, p.ID)
	assert.ErrorIs(t, err, ErrTransient)
	_, err = store.GetPlayer(ctx, p.ID)
	assert.True(t, IsNotFound(err))
	_, err = store.GetPlayer(ctx, p.ID)
	assert.NoError(t, err)

	// faults fire inside transactions too, and roll them back
	store.FailNext("AppendMove", ErrTransient)
	err = store.Transaction(ctx, func(tx Store) error {
		p.PendingSkips = 2
		if err := tx.UpdatePlayer(ctx, p); err != nil {
			return err
		}
		return tx.AppendMove(ctx, &models.Move{SessionID: 1, PlayerID: p.ID})
	})
	assert.ErrorIs(t, err, ErrTransient)
	reloaded, err := store.GetPlayer(ctx, p.ID)
	require.NoError(t, err)
	assert.Zero(t, reloaded.PendingSkips)

	store.FailNext("Transaction", ErrTransient)
	called := false
	err = store.Transaction(ctx, func(tx Store) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrTransient)
	assert.False(t, called)
}

func TestMemoryStore_ActiveSanction(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Now()
	ends := now.Add(time.Hour)

	_, err := store.ActiveSanction(ctx, 1, now)
	assert.True(t, IsNotFound(err))

	require.NoError(t, store.AddSanction(ctx, &models.Sanction{PlayerID: 1, Type: models.SanctionTemporary, StartsAt: now, EndsAt: &ends}))
	active, err := store.ActiveSanction(ctx, 1, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, models.SanctionTemporary, active.Type)

	_, err = store.ActiveSanction(ctx, 1, ends.Add(time.Second))
	assert.True(t, IsNotFound(err))
}
