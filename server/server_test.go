package server

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pablobitw/goosegame/broadcast"
	"github.com/pablobitw/goosegame/config"
	"github.com/pablobitw/goosegame/game"
	"github.com/pablobitw/goosegame/models"
	"github.com/pablobitw/goosegame/network"
	"github.com/pablobitw/goosegame/persistence"
)

func newTestServer(t *testing.T) (*GameServer, *httptest.Server) {
	cfg, err := config.LoadConfig(t.TempDir())
	require.NoError(t, err)
	cfg.Server.RPCAddress = "127.0.0.1:0"

	s, err := NewGameServer(cfg, persistence.NewMemoryStore(), nil, nil)
	require.NoError(t, err)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ts.Close()
		s.Shutdown(context.Background())
	})
	return s, ts
}

func dial(t *testing.T, ts *httptest.Server, user string) *websocket.Conn {
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?user=" + user
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, msgID uint16, v interface{}) {
	data, err := json.Marshal(v)
	require.NoError(t, err)
	raw, err := network.EncodePacket(msgID, data)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, raw))
}

// await reads frames until one with msgID arrives and decodes it into v.
func await(t *testing.T, conn *websocket.Conn, msgID uint16, v interface{}) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, raw, err := conn.ReadMessage()
		require.NoError(t, err, "waiting for message %d", msgID)
		packet, err := network.DecodePacket(raw)
		require.NoError(t, err)
		if packet.MsgID == network.MsgTypeError && msgID != network.MsgTypeError {
			t.Fatalf("unexpected error reply: %s", packet.Data)
		}
		if packet.MsgID == msgID {
			if v != nil {
				require.NoError(t, json.Unmarshal(packet.Data, v))
			}
			return
		}
	}
}

func TestGameServer_WebSocketMatch(t *testing.T) {
	_, ts := newTestServer(t)
	alice := dial(t, ts, "alice")
	bob := dial(t, ts, "bob")

	var lobby models.Session
	send(t, alice, network.MsgTypeCreateLobby, network.CreateLobbyRequest{})
	await(t, alice, network.MsgTypeCreateLobby, &lobby)
	require.NotEmpty(t, lobby.Code)

	var st game.GameState
	send(t, bob, network.MsgTypeJoinLobby, network.CodeRequest{Code: lobby.Code})
	await(t, bob, network.MsgTypeJoinLobby, &st)
	assert.Len(t, st.Players, 2)

	send(t, alice, network.MsgTypeStartMatch, network.CodeRequest{Code: lobby.Code})
	await(t, alice, network.MsgTypeStartMatch, &st)
	assert.Equal(t, models.StatusInProgress, st.Status)

	// bob is second in turn order
	var rejected network.ErrorPayload
	send(t, bob, network.MsgTypeRoll, network.CodeRequest{Code: lobby.Code})
	await(t, bob, network.MsgTypeError, &rejected)
	assert.Equal(t, uint16(network.MsgTypeRoll), rejected.Request)

	var roll game.RollResult
	send(t, alice, network.MsgTypeRoll, network.CodeRequest{Code: lobby.Code})
	await(t, alice, network.MsgTypeRollResult, &roll)
	assert.GreaterOrEqual(t, roll.Total, 2)

	var chatLine broadcast.ChatPayload
	send(t, bob, network.MsgTypeChat, network.ChatRequest{Code: lobby.Code, Text: "good luck"})
	await(t, alice, network.MsgTypeChatMessage, &chatLine)
	assert.Equal(t, "bob", chatLine.Message.From)
	assert.Equal(t, "good luck", chatLine.Message.Text)

	var ack network.NoticePayload
	send(t, bob, network.MsgTypeActivity, network.CodeRequest{Code: lobby.Code})
	await(t, bob, network.MsgTypeActivity, &ack)
	assert.Equal(t, "ok", ack.Text)
}

func TestGameServer_RejectsAnonymousSocket(t *testing.T) {
	_, ts := newTestServer(t)
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 400, resp.StatusCode)
}
