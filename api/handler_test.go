package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pablobitw/goosegame/chat"
	"github.com/pablobitw/goosegame/game"
	"github.com/pablobitw/goosegame/models"
	"github.com/pablobitw/goosegame/moderation"
	"github.com/pablobitw/goosegame/persistence"
	"github.com/pablobitw/goosegame/room"
	"github.com/pablobitw/goosegame/sanction"
	"github.com/pablobitw/goosegame/votekick"
)

// onesRandom always rolls a one.
type onesRandom struct{}

func (onesRandom) IntN(n int) int { return 0 }

type silentNotifier struct{}

func (silentNotifier) ChatMessage(recipients []string, msg chat.Message) {}
func (silentNotifier) SystemNotice(recipients []string, notice string)   {}

func newTestRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	store := persistence.NewMemoryStore()
	engine := game.NewEngine(store, room.NewRoomManager(), game.DefaultConfig(), game.WithRandom(onesRandom{}))
	ledger := sanction.NewLedger(store, sanction.DefaultConfig())
	ledger.SetRemover(engine)
	engine.SetKicker(ledger)

	votes := votekick.NewCoordinator(votekick.DefaultConfig(), engine, ledger)
	engine.OnPlayerRemoved(votes.PlayerRemoved)
	pipeline := moderation.NewPipeline(moderation.DefaultConfig(), moderation.NewFilter(moderation.DefaultWords()))
	chatService := chat.NewService(pipeline, engine, ledger, silentNotifier{})

	r := NewRouter([]string{"http://localhost:3000"})
	SetupRoutes(r, NewHandler(engine, votes, chatService))
	return r
}

func do(t *testing.T, r *gin.Engine, method, path string, body interface{}, out interface{}) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if out != nil && w.Code < 300 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), out))
	}
	return w.Code
}

func register(t *testing.T, r *gin.Engine, name string) models.Player {
	var p models.Player
	require.Equal(t, http.StatusOK, do(t, r, http.MethodPost, "/api/players", RegisterBody{Username: name}, &p))
	return p
}

func TestAPI_MatchFlow(t *testing.T) {
	r := newTestRouter()
	alice := register(t, r, "alice")
	bob := register(t, r, "bob")
	carol := register(t, r, "carol")

	var sess models.Session
	require.Equal(t, http.StatusCreated, do(t, r, http.MethodPost, "/api/lobbies", CreateLobbyBody{PlayerID: alice.ID}, &sess))
	code := sess.Code
	base := "/api/lobbies/" + code

	for _, p := range []models.Player{bob, carol} {
		require.Equal(t, http.StatusOK, do(t, r, http.MethodPost, base+"/join", PlayerBody{PlayerID: p.ID}, nil))
	}
	assert.Equal(t, http.StatusForbidden, do(t, r, http.MethodPost, base+"/start", PlayerBody{PlayerID: bob.ID}, nil))
	require.Equal(t, http.StatusOK, do(t, r, http.MethodPost, base+"/start", PlayerBody{PlayerID: alice.ID}, nil))

	assert.Equal(t, http.StatusConflict, do(t, r, http.MethodPost, base+"/roll", PlayerBody{PlayerID: bob.ID}, nil))
	var roll game.RollResult
	require.Equal(t, http.StatusOK, do(t, r, http.MethodPost, base+"/roll", PlayerBody{PlayerID: alice.ID}, &roll))
	assert.Equal(t, 2, roll.Total)

	var st game.GameState
	require.Equal(t, http.StatusOK, do(t, r, http.MethodGet, base+"/state", nil, &st))
	assert.Equal(t, bob.ID, st.CurrentPlayerID)
	assert.Equal(t, 2, st.Player(alice.ID).Position)

	var said map[string]string
	require.Equal(t, http.StatusOK, do(t, r, http.MethodPost, base+"/chat", ChatBody{PlayerID: bob.ID, Text: "you idiot"}, &said))
	assert.Equal(t, "censored", said["outcome"])
	assert.Equal(t, "you *****", said["message"])
	assert.Equal(t, http.StatusBadRequest, do(t, r, http.MethodPost, base+"/chat", ChatBody{PlayerID: bob.ID, Text: "  "}, nil))

	var tally votekick.Tally
	require.Equal(t, http.StatusCreated, do(t, r, http.MethodPost, "/api/votes", VoteBody{PlayerID: alice.ID, TargetID: carol.ID, Reason: "afk"}, &tally))
	assert.Equal(t, 2, tally.Eligible)
	assert.Equal(t, http.StatusOK, do(t, r, http.MethodGet, base+"/vote", nil, nil))
	assert.Equal(t, http.StatusForbidden, do(t, r, http.MethodPost, base+"/ballots", BallotBody{PlayerID: carol.ID, InFavor: false}, nil))
	require.Equal(t, http.StatusOK, do(t, r, http.MethodPost, base+"/ballots", BallotBody{PlayerID: bob.ID, InFavor: true}, &tally))
	assert.True(t, tally.Kicked)
	assert.Equal(t, http.StatusNotFound, do(t, r, http.MethodGet, base+"/vote", nil, nil))

	require.Equal(t, http.StatusOK, do(t, r, http.MethodGet, base+"/state", nil, &st))
	assert.Len(t, st.Players, 2)
	assert.Nil(t, st.Player(carol.ID))

	require.Equal(t, http.StatusOK, do(t, r, http.MethodPost, base+"/leave", PlayerBody{PlayerID: bob.ID}, nil))
	require.Equal(t, http.StatusOK, do(t, r, http.MethodGet, base+"/state", nil, &st))
	assert.Equal(t, models.StatusFinished, st.Status)
	require.NotNil(t, st.WinnerID)
	assert.Equal(t, alice.ID, *st.WinnerID)
}

func TestAPI_Errors(t *testing.T) {
	r := newTestRouter()
	alice := register(t, r, "alice")

	assert.Equal(t, http.StatusBadRequest, do(t, r, http.MethodPost, "/api/players", map[string]string{}, nil))
	assert.Equal(t, http.StatusBadRequest, do(t, r, http.MethodPost, "/api/lobbies", CreateLobbyBody{PlayerID: alice.ID, Variant: "snakes"}, nil))
	assert.Equal(t, http.StatusNotFound, do(t, r, http.MethodGet, "/api/lobbies/NOPE00/state", nil, nil))
	assert.Equal(t, http.StatusNotFound, do(t, r, http.MethodPost, "/api/lobbies", CreateLobbyBody{PlayerID: 999}, nil))

	var variants map[string][]string
	require.Equal(t, http.StatusOK, do(t, r, http.MethodGet, "/api/variants", nil, &variants))
	assert.Contains(t, variants["variants"], "classic")
}

func TestAPI_Ping(t *testing.T) {
	r := newTestRouter()
	alice := register(t, r, "alice")
	bob := register(t, r, "bob")
	dave := register(t, r, "dave")

	var sess models.Session
	require.Equal(t, http.StatusCreated, do(t, r, http.MethodPost, "/api/lobbies", CreateLobbyBody{PlayerID: alice.ID}, &sess))
	base := "/api/lobbies/" + sess.Code
	require.Equal(t, http.StatusOK, do(t, r, http.MethodPost, base+"/join", PlayerBody{PlayerID: bob.ID}, nil))

	assert.Equal(t, http.StatusConflict, do(t, r, http.MethodPost, base+"/ping", PlayerBody{PlayerID: bob.ID}, nil), "lobby not started")
	require.Equal(t, http.StatusOK, do(t, r, http.MethodPost, base+"/start", PlayerBody{PlayerID: alice.ID}, nil))

	assert.Equal(t, http.StatusNoContent, do(t, r, http.MethodPost, base+"/ping", PlayerBody{PlayerID: bob.ID}, nil))
	assert.Equal(t, http.StatusForbidden, do(t, r, http.MethodPost, base+"/ping", PlayerBody{PlayerID: dave.ID}, nil))
	assert.Equal(t, http.StatusNotFound, do(t, r, http.MethodPost, "/api/lobbies/NOPE00/ping", PlayerBody{PlayerID: bob.ID}, nil))
}
