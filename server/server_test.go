package server

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wfunc/arcaderoom/broadcast"
	"github.com/wfunc/arcaderoom/game"
	"github.com/wfunc/arcaderoom/game/omok"
	"github.com/wfunc/arcaderoom/game/pingpong"
	"github.com/wfunc/arcaderoom/network"
	"github.com/wfunc/arcaderoom/room"
	"github.com/wfunc/arcaderoom/session"
	"github.com/wfunc/arcaderoom/state"
	"github.com/wfunc/arcaderoom/timer"
)

const readWait = 2 * time.Second

type fixture struct {
	srv   *GameServer
	http  *httptest.Server
	rooms *room.Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	timers := timer.NewTimerManager(5 * time.Millisecond)
	t.Cleanup(timers.Stop)

	catalog := game.NewCatalog(omok.Definition(), pingpong.Definition())
	sessions := session.NewManager()
	rooms := room.NewRoomManager(catalog, room.Options{
		MaxRooms: 10,
		Timing: state.Timing{
			ReadyGrace: 50 * time.Millisecond,
			AbortGrace: 300 * time.Millisecond,
			CloseGrace: 50 * time.Millisecond,
		},
		Timers: timers,
		Lobby:  broadcast.NewLobbyBroadcaster(sessions),
	})

	srv := NewGameServer("", catalog, rooms, sessions, Options{})
	hs := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(ctx)
		hs.Close()
	})
	return &fixture{srv: srv, http: hs, rooms: rooms}
}

func (f *fixture) dial(t *testing.T, userID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.http.URL, "http") + "/ws?user_id=" + userID + "&name=" + userID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, gameType, event, corr string, payload any) {
	t.Helper()
	env, err := network.NewEnvelope(gameType, event, "", payload)
	require.NoError(t, err)
	env.CorrelationID = corr
	require.NoError(t, conn.WriteJSON(env))
}

// next reads until an envelope with event arrives, skipping others.
func next(t *testing.T, conn *websocket.Conn, event string) *network.Envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(readWait))
	for {
		var env network.Envelope
		require.NoError(t, conn.ReadJSON(&env), "waiting for %s", event)
		if env.Event == event {
			return &env
		}
	}
}

func errorCode(t *testing.T, env *network.Envelope) string {
	t.Helper()
	var p network.ErrorPayload
	require.NoError(t, env.Decode(&p))
	return p.Code
}

func TestServer_MatchFlow(t *testing.T) {
	f := newFixture(t)
	alice := f.dial(t, "alice")
	bob := f.dial(t, "bob")

	send(t, bob, omok.Type, network.EventListRooms, "l1", nil)
	list := next(t, bob, network.EventRoomList)
	assert.Equal(t, "l1", list.CorrelationID)
	var rooms game.RoomListPayload
	require.NoError(t, list.Decode(&rooms))
	assert.Empty(t, rooms.Rooms)

	send(t, alice, omok.Type, network.EventCreateRoom, "c1", nil)
	created := next(t, alice, network.EventRoomState)
	assert.Equal(t, "c1", created.CorrelationID)
	var snap game.RoomSnapshot
	require.NoError(t, created.Decode(&snap))
	assert.Equal(t, 1, snap.Room.Participants)
	assert.Equal(t, string(state.PhaseWaiting), snap.Room.Phase)
	roomID := snap.Room.ID

	delta := next(t, bob, network.EventRoomListDelta)
	var d game.RoomDelta
	require.NoError(t, delta.Decode(&d))
	assert.Equal(t, game.DeltaUpsert, d.Op)
	assert.Equal(t, roomID, d.Room.ID)

	send(t, bob, omok.Type, network.EventJoinRoom, "j1", game.JoinRequest{RoomID: roomID})
	joined := next(t, bob, network.EventRoomState)
	assert.Equal(t, "j1", joined.CorrelationID)
	require.NoError(t, joined.Decode(&snap))
	assert.Equal(t, game.Side(1), snap.YourSide)

	next(t, bob, network.EventGameStart)
	start := next(t, alice, network.EventGameStart)
	var sp game.StartPayload
	require.NoError(t, start.Decode(&sp))
	assert.Equal(t, game.Side(0), sp.TurnOwner)
	assert.True(t, sp.TurnBased)

	send(t, bob, omok.Type, network.EventMove, "m0", omok.Stone{X: 0, Y: 0})
	rejected := next(t, bob, network.EventError)
	assert.Equal(t, "m0", rejected.CorrelationID)
	assert.Equal(t, network.CodeNotYourTurn, errorCode(t, rejected))

	send(t, alice, omok.Type, network.EventMove, "", omok.Stone{X: 7, Y: 7})
	var senders []string
	for _, conn := range []*websocket.Conn{alice, bob} {
		var mp game.MovePayload
		moved := next(t, conn, network.EventMove)
		senders = append(senders, moved.Sender)
		require.NoError(t, moved.Decode(&mp))
		assert.Equal(t, 1, mp.Move.Seq)
		assert.Equal(t, "alice", mp.Move.UserID)
		assert.Equal(t, game.Side(1), mp.TurnOwner)
	}
	assert.NotEmpty(t, senders[0])
	assert.Equal(t, senders[0], senders[1])
	r, ok := f.rooms.GetRoom(roomID)
	require.True(t, ok)
	assert.Equal(t, state.PhaseInProgress, r.Phase())
}

func TestServer_ForfeitNoticeSkipsLeaver(t *testing.T) {
	f := newFixture(t)
	alice := f.dial(t, "alice")
	bob := f.dial(t, "bob")

	send(t, alice, omok.Type, network.EventCreateRoom, "c1", nil)
	var snap game.RoomSnapshot
	require.NoError(t, next(t, alice, network.EventRoomState).Decode(&snap))
	send(t, bob, omok.Type, network.EventJoinRoom, "j1", game.JoinRequest{RoomID: snap.Room.ID})
	next(t, alice, network.EventGameStart)
	next(t, bob, network.EventGameStart)

	send(t, alice, omok.Type, network.EventLeaveRoom, "x1", nil)
	alice.SetReadDeadline(time.Now().Add(readWait))
	for {
		var env network.Envelope
		require.NoError(t, alice.ReadJSON(&env))
		require.NotEqual(t, network.EventAborted, env.Event, "leaver told about its own forfeit")
		if env.Event == network.EventLeaveRoom {
			assert.Equal(t, "x1", env.CorrelationID)
			break
		}
	}

	var ab game.AbortPayload
	require.NoError(t, next(t, bob, network.EventAborted).Decode(&ab))
	assert.Equal(t, game.ReasonForfeit, ab.Reason)
	assert.Equal(t, "alice", ab.Forfeiter)
}

func TestServer_ProtocolErrorsGoToSenderOnly(t *testing.T) {
	f := newFixture(t)
	alice := f.dial(t, "alice")

	send(t, alice, "chess", network.EventListRooms, "u1", nil)
	env := next(t, alice, network.EventError)
	assert.Equal(t, "u1", env.CorrelationID)
	assert.Equal(t, network.CodeUnknownGame, errorCode(t, env))

	send(t, alice, omok.Type, "teleport", "u2", nil)
	assert.Equal(t, network.CodeUnknownEvent, errorCode(t, next(t, alice, network.EventError)))

	require.NoError(t, alice.WriteMessage(websocket.TextMessage, []byte("{not json")))
	assert.Equal(t, network.CodeMalformed, errorCode(t, next(t, alice, network.EventError)))

	send(t, alice, omok.Type, network.EventJoinRoom, "u3", game.JoinRequest{RoomID: "missing"})
	assert.Equal(t, network.CodeRoomNotFound, errorCode(t, next(t, alice, network.EventError)))

	send(t, alice, omok.Type, network.EventMove, "u4", omok.Stone{})
	assert.Equal(t, network.CodeNotParticipant, errorCode(t, next(t, alice, network.EventError)))

	// the connection survives all of the above
	send(t, alice, omok.Type, network.EventHeartbeat, "h1", nil)
	assert.Equal(t, "h1", next(t, alice, network.EventHeartbeat).CorrelationID)
}

func TestServer_ReconnectResumesRoom(t *testing.T) {
	f := newFixture(t)
	alice := f.dial(t, "alice")
	bob := f.dial(t, "bob")

	send(t, alice, omok.Type, network.EventCreateRoom, "c1", nil)
	var snap game.RoomSnapshot
	require.NoError(t, next(t, alice, network.EventRoomState).Decode(&snap))
	send(t, bob, omok.Type, network.EventJoinRoom, "j1", game.JoinRequest{RoomID: snap.Room.ID})
	next(t, alice, network.EventGameStart)
	next(t, bob, network.EventGameStart)

	send(t, alice, omok.Type, network.EventMove, "", omok.Stone{X: 3, Y: 3})
	next(t, bob, network.EventMove)

	alice.Close()
	next(t, bob, network.EventOpponentDisconnect)

	again := f.dial(t, "alice")
	resume := next(t, again, network.EventResume)
	require.NoError(t, resume.Decode(&snap))
	assert.Len(t, snap.Moves, 1)
	assert.Equal(t, game.Side(0), snap.YourSide)
	next(t, bob, network.EventOpponentReconnected)

	send(t, bob, omok.Type, network.EventMove, "", omok.Stone{X: 4, Y: 4})
	next(t, again, network.EventMove)
}

func TestServer_LeaveAndShutdown(t *testing.T) {
	f := newFixture(t)
	alice := f.dial(t, "alice")

	send(t, alice, omok.Type, network.EventCreateRoom, "c1", nil)
	next(t, alice, network.EventRoomState)
	send(t, alice, omok.Type, network.EventLeaveRoom, "x1", nil)
	assert.Equal(t, "x1", next(t, alice, network.EventLeaveRoom).CorrelationID)
	require.Eventually(t, func() bool { return f.rooms.Count() == 0 }, readWait, 5*time.Millisecond)

	send(t, alice, omok.Type, network.EventLeaveRoom, "x2", nil)
	assert.Equal(t, network.CodeNotParticipant, errorCode(t, next(t, alice, network.EventError)))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, f.srv.Shutdown(ctx))

	alice.SetReadDeadline(time.Now().Add(readWait))
	_, _, err := alice.ReadMessage()
	assert.Error(t, err)
}

func TestErrorCode(t *testing.T) {
	cases := map[error]string{
		room.ErrRoomFull:         network.CodeRoomFull,
		room.ErrInvalidState:     network.CodeInvalidState,
		room.ErrCapacityExceeded: network.CodeCapacityExceeded,
		game.ErrUnknownGame:      network.CodeUnknownGame,
		errors.Join(room.ErrAlreadyInRoom, errors.New("x")): network.CodeAlreadyInRoom,
		errors.New("boom"): network.CodeInternal,
	}
	for err, code := range cases {
		assert.Equal(t, code, ErrorCode(err), err.Error())
	}
}
