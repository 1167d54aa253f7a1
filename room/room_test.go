package room

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wfunc/arcaderoom/game"
	"github.com/wfunc/arcaderoom/game/omok"
	"github.com/wfunc/arcaderoom/game/pingpong"
	"github.com/wfunc/arcaderoom/network"
	"github.com/wfunc/arcaderoom/state"
	"github.com/wfunc/arcaderoom/timer"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

// MockConnection is a test double for a participant's connection.
type MockConnection struct {
	id     string
	mu     sync.Mutex
	envs   []*network.Envelope
	roomID string
}

func newConn(id string) *MockConnection { return &MockConnection{id: id} }

func (c *MockConnection) GetID() string { return c.id }

func (c *MockConnection) Send(env *network.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.envs = append(c.envs, env)
	return nil
}

func (c *MockConnection) SetRoomID(roomID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.roomID = roomID
}

func (c *MockConnection) RoomID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomID
}

func (c *MockConnection) events() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.envs))
	for _, e := range c.envs {
		out = append(out, e.Event)
	}
	return out
}

func (c *MockConnection) last(event string) *network.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.envs) - 1; i >= 0; i-- {
		if c.envs[i].Event == event {
			return c.envs[i]
		}
	}
	return nil
}

func (c *MockConnection) has(event string) bool { return c.last(event) != nil }

type mockRecorder struct {
	mu      sync.Mutex
	over    []MatchResult
	aborted []MatchResult
}

func (m *mockRecorder) OnGameOver(r MatchResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.over = append(m.over, r)
}

func (m *mockRecorder) OnAborted(r MatchResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.aborted = append(m.aborted, r)
}

func (m *mockRecorder) counts() (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.over), len(m.aborted)
}

type mockLobby struct {
	mu     sync.Mutex
	deltas []game.RoomDelta
}

func (l *mockLobby) RoomChanged(gameType string, d game.RoomDelta) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.deltas = append(l.deltas, d)
}

func (l *mockLobby) ops(roomID string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []string
	for _, d := range l.deltas {
		if d.Room.ID == roomID {
			out = append(out, d.Op)
		}
	}
	return out
}

type fixture struct {
	mgr      *Manager
	recorder *mockRecorder
	lobby    *mockLobby
}

func newFixture(t *testing.T, maxRooms int) *fixture {
	t.Helper()
	timers := timer.NewTimerManager(tick)
	t.Cleanup(timers.Stop)

	f := &fixture{recorder: &mockRecorder{}, lobby: &mockLobby{}}
	f.mgr = NewRoomManager(game.NewCatalog(omok.Definition(), pingpong.Definition()), Options{
		MaxRooms: maxRooms,
		Timing: state.Timing{
			ReadyGrace: 50 * time.Millisecond,
			AbortGrace: 150 * time.Millisecond,
			CloseGrace: 50 * time.Millisecond,
		},
		Timers:   timers,
		Recorder: f.recorder,
		Lobby:    f.lobby,
	})
	t.Cleanup(f.mgr.Shutdown)
	return f
}

// startMatch creates an omok room for alice and seats bob in it.
func (f *fixture) startMatch(t *testing.T, gameType string) (*Room, *MockConnection, *MockConnection) {
	t.Helper()
	ca, cb := newConn("conn-a"), newConn("conn-b")
	r, err := f.mgr.CreateRoom(gameType, NewParticipant("alice", "Alice", ca), nil)
	require.NoError(t, err)
	_, err = f.mgr.JoinRoom(r.ID, NewParticipant("bob", "Bob", cb), nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return r.Phase() == state.PhaseInProgress }, waitFor, tick)
	return r, ca, cb
}

func stone(x, y int) json.RawMessage {
	data, _ := json.Marshal(omok.Stone{X: x, Y: y})
	return data
}

func TestRoomManager_CreateAndList(t *testing.T) {
	f := newFixture(t, 2)

	r1, err := f.mgr.CreateRoom(omok.Type, NewParticipant("u1", "", newConn("c1")), nil)
	require.NoError(t, err)
	r2, err := f.mgr.CreateRoom(omok.Type, NewParticipant("u2", "", newConn("c2")), nil)
	require.NoError(t, err)

	list := f.mgr.ListRooms(omok.Type)
	require.Len(t, list, 2)
	assert.Equal(t, r2.ID, list[0].ID, "most recently created first")
	assert.Equal(t, r1.ID, list[1].ID)
	assert.Equal(t, 1, list[0].Participants)
	assert.Equal(t, string(state.PhaseWaiting), list[0].Phase)
	assert.Empty(t, f.mgr.ListRooms(pingpong.Type))

	_, err = f.mgr.CreateRoom(omok.Type, NewParticipant("u3", "", newConn("c3")), nil)
	assert.ErrorIs(t, err, ErrCapacityExceeded)

	_, err = f.mgr.CreateRoom("chess", NewParticipant("u4", "", newConn("c4")), nil)
	assert.ErrorIs(t, err, ErrUnknownGame)

	_, err = f.mgr.CreateRoom(omok.Type, NewParticipant("u1", "", newConn("c5")), nil)
	assert.ErrorIs(t, err, ErrAlreadyInRoom)
}

func TestRoomManager_JoinErrors(t *testing.T) {
	f := newFixture(t, 10)

	_, err := f.mgr.JoinRoom("missing", NewParticipant("bob", "", newConn("c")), nil)
	assert.ErrorIs(t, err, ErrRoomNotFound)

	r, _, _ := f.startMatch(t, omok.Type)
	_, err = f.mgr.JoinRoom(r.ID, NewParticipant("carol", "", newConn("c3")), nil)
	assert.ErrorIs(t, err, ErrInvalidState, "joining a running match")
	assert.Equal(t, 2, r.Summary().Participants)

	_, ok := f.mgr.RoomOfUser("carol")
	assert.False(t, ok, "a failed join must not leave an index entry")
}

func TestRoomManager_RemoveRoomIsIdempotent(t *testing.T) {
	f := newFixture(t, 10)
	c := newConn("c1")
	r, err := f.mgr.CreateRoom(omok.Type, NewParticipant("u1", "", c), nil)
	require.NoError(t, err)

	f.mgr.RemoveRoom(r.ID)
	f.mgr.RemoveRoom(r.ID)

	<-r.Done()
	_, exists := f.mgr.GetRoom(r.ID)
	assert.False(t, exists)
	assert.Equal(t, 0, f.mgr.Count())
	assert.Empty(t, c.RoomID(), "binding released")
	assert.Equal(t, []string{game.DeltaUpsert, game.DeltaRemove}, f.lobby.ops(r.ID))
}

func TestRoom_CreatorCancelClosesWaitingRoom(t *testing.T) {
	f := newFixture(t, 10)
	r, err := f.mgr.CreateRoom(omok.Type, NewParticipant("u1", "", newConn("c1")), nil)
	require.NoError(t, err)

	require.NoError(t, f.mgr.LeaveRoom("u1"))
	<-r.Done()
	assert.Empty(t, f.mgr.ListRooms(omok.Type))
	assert.ErrorIs(t, f.mgr.LeaveRoom("u1"), ErrNotParticipant)
}

// Scenario A.
func TestRoom_FullRoomStartsAutomatically(t *testing.T) {
	f := newFixture(t, 10)
	ca, cb := newConn("conn-a"), newConn("conn-b")
	r, err := f.mgr.CreateRoom(omok.Type, NewParticipant("alice", "", ca), nil)
	require.NoError(t, err)

	var acked []string
	_, err = f.mgr.JoinRoom(r.ID, NewParticipant("bob", "", cb), func(snap game.RoomSnapshot) {
		acked = cb.events()
		assert.Equal(t, game.Side(1), snap.YourSide)
	})
	require.NoError(t, err)
	assert.NotContains(t, acked, network.EventGameStart, "join reply precedes gameStart")

	require.Eventually(t, func() bool { return cb.has(network.EventGameStart) && ca.has(network.EventGameStart) }, waitFor, tick)
	require.Eventually(t, func() bool { return r.Phase() == state.PhaseInProgress }, waitFor, tick)

	var start game.StartPayload
	require.NoError(t, ca.last(network.EventGameStart).Decode(&start))
	assert.Equal(t, game.Side(0), start.TurnOwner)
	assert.True(t, start.TurnBased)
	assert.Equal(t, "alice", start.Seats[0].UserID)
}

// Scenarios B and C.
func TestRoom_TurnOrderAndBroadcast(t *testing.T) {
	f := newFixture(t, 10)
	r, ca, cb := f.startMatch(t, omok.Type)

	require.NoError(t, r.SubmitMove("alice", "conn-a", stone(7, 7)))
	for _, c := range []*MockConnection{ca, cb} {
		env := c.last(network.EventMove)
		require.NotNil(t, env, "move confirmed to %s", c.id)
		var mv game.MovePayload
		require.NoError(t, env.Decode(&mv))
		assert.Equal(t, 1, mv.Move.Seq)
		assert.Equal(t, game.Side(1), mv.TurnOwner)
		assert.Equal(t, "conn-a", env.Sender, "move carries the mover's connection id")
	}
	assert.Empty(t, cb.last(network.EventGameStart).Sender)

	err := r.SubmitMove("alice", "conn-a", stone(8, 8))
	assert.ErrorIs(t, err, ErrNotYourTurn)

	err = r.SubmitMove("bob", "conn-b", stone(7, 7))
	assert.ErrorIs(t, err, ErrMoveRejected, "occupied cell")

	err = r.SubmitMove("bob", "stale-conn", stone(1, 1))
	assert.ErrorIs(t, err, ErrNotParticipant)

	snap, err := r.Snapshot("bob")
	require.NoError(t, err)
	assert.Len(t, snap.Moves, 1)
	assert.Equal(t, game.Side(1), snap.TurnOwner)
}

func TestRoom_OutOfTurnNeverAppends(t *testing.T) {
	f := newFixture(t, 10)
	r, _, _ := f.startMatch(t, omok.Type)

	users := []string{"alice", "bob"}
	conns := map[string]string{"alice": "conn-a", "bob": "conn-b"}
	accepted := 0
	for i := 0; i < 40; i++ {
		u := users[(i*7/3)%2]
		err := r.SubmitMove(u, conns[u], stone(i%15, i/15))
		if err == nil {
			accepted++
		} else {
			assert.ErrorIs(t, err, ErrNotYourTurn)
		}
	}

	snap, err := r.Snapshot("alice")
	require.NoError(t, err)
	require.Len(t, snap.Moves, accepted)
	for i, mv := range snap.Moves {
		assert.Equal(t, game.Side(i%2), mv.Side, "move %d alternates sides", i)
	}
}

func TestRoom_FinishRecordsAndCloses(t *testing.T) {
	f := newFixture(t, 10)
	r, ca, cb := f.startMatch(t, omok.Type)

	for i := 0; i < 4; i++ {
		require.NoError(t, r.SubmitMove("alice", "conn-a", stone(i, 0)))
		require.NoError(t, r.SubmitMove("bob", "conn-b", stone(i, 1)))
	}
	require.NoError(t, r.SubmitMove("alice", "conn-a", stone(4, 0)))

	env := cb.last(network.EventGameOver)
	require.NotNil(t, env)
	var over game.OverPayload
	require.NoError(t, env.Decode(&over))
	assert.Equal(t, "win", over.Results["alice"])
	assert.Equal(t, "loss", over.Results["bob"])

	assert.ErrorIs(t, r.SubmitMove("bob", "conn-b", stone(9, 9)), ErrInvalidState)

	require.Eventually(t, func() bool { n, _ := f.recorder.counts(); return n == 1 }, waitFor, tick)
	f.recorder.mu.Lock()
	res := f.recorder.over[0]
	f.recorder.mu.Unlock()
	assert.Len(t, res.Moves, 9)
	assert.Equal(t, game.ResultWin, res.Outcome.Kind)

	<-r.Done()
	_, exists := f.mgr.GetRoom(r.ID)
	assert.False(t, exists)
	assert.Empty(t, ca.RoomID())
}

// Scenario D.
func TestRoom_ReconnectWithinGrace(t *testing.T) {
	f := newFixture(t, 10)
	r, _, cb := f.startMatch(t, omok.Type)
	require.NoError(t, r.SubmitMove("alice", "conn-a", stone(7, 7)))

	r.Disconnect("alice", "conn-a")
	require.Eventually(t, func() bool { return cb.has(network.EventOpponentDisconnect) }, waitFor, tick)

	ca2 := newConn("conn-a2")
	snap, err := r.Reconnect("alice", ca2)
	require.NoError(t, err)
	assert.Len(t, snap.Moves, 1)
	assert.Equal(t, game.Side(0), snap.YourSide)
	assert.True(t, ca2.has(network.EventResume))
	assert.Equal(t, r.ID, ca2.RoomID())

	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, state.PhaseInProgress, r.Phase())
	_, aborted := f.recorder.counts()
	assert.Equal(t, 0, aborted)
	assert.True(t, cb.has(network.EventOpponentReconnected))

	require.NoError(t, r.SubmitMove("bob", "conn-b", stone(7, 8)))
	assert.ErrorIs(t, r.SubmitMove("alice", "conn-a", stone(1, 1)), ErrNotParticipant, "old connection is superseded")
	require.NoError(t, r.SubmitMove("alice", "conn-a2", stone(1, 1)))
}

// Scenario E.
func TestRoom_AbortAfterGrace(t *testing.T) {
	f := newFixture(t, 10)
	r, _, cb := f.startMatch(t, omok.Type)

	r.Disconnect("alice", "conn-a")

	require.Eventually(t, func() bool { return cb.has(network.EventAborted) }, waitFor, tick)
	var ab game.AbortPayload
	require.NoError(t, cb.last(network.EventAborted).Decode(&ab))
	assert.Equal(t, game.ReasonDisconnect, ab.Reason)
	assert.Equal(t, "alice", ab.Forfeiter)

	<-r.Done()
	_, exists := f.mgr.GetRoom(r.ID)
	assert.False(t, exists)

	require.Eventually(t, func() bool { _, n := f.recorder.counts(); return n == 1 }, waitFor, tick)
	over, _ := f.recorder.counts()
	assert.Equal(t, 0, over, "aborted matches never report a game over")

	_, err := r.Reconnect("alice", newConn("late"))
	assert.ErrorIs(t, err, ErrRoomClosed)
}

func TestRoom_LeaveDuringMatchIsForfeit(t *testing.T) {
	f := newFixture(t, 10)
	r, ca, cb := f.startMatch(t, omok.Type)

	require.NoError(t, f.mgr.LeaveRoom("bob"))
	require.Eventually(t, func() bool { return ca.has(network.EventAborted) }, waitFor, tick)
	assert.False(t, cb.has(network.EventAborted), "the leaver gets no aborted notice")

	var ab game.AbortPayload
	require.NoError(t, ca.last(network.EventAborted).Decode(&ab))
	assert.Equal(t, game.ReasonForfeit, ab.Reason)
	assert.Equal(t, "bob", ab.Forfeiter)

	_, ok := f.mgr.RoomOfUser("bob")
	assert.False(t, ok)

	// alice may move on before the close grace runs out
	_, err := f.mgr.CreateRoom(omok.Type, NewParticipant("alice", "", newConn("conn-a3")), nil)
	require.NoError(t, err)
	<-r.Done()
}

func TestRoom_ContinuousUpdatesAreSerialized(t *testing.T) {
	f := newFixture(t, 10)
	r, ca, _ := f.startMatch(t, pingpong.Type)

	var wg sync.WaitGroup
	for _, u := range []struct{ user, conn string }{{"alice", "conn-a"}, {"bob", "conn-b"}} {
		wg.Add(1)
		go func(user, conn string) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				data, _ := json.Marshal(pingpong.Update{Kind: pingpong.KindPaddle, Y: float64(i) / 100})
				assert.NoError(t, r.SubmitMove(user, conn, data))
			}
		}(u.user, u.conn)
	}
	wg.Wait()

	snap, err := r.Snapshot("alice")
	require.NoError(t, err)
	require.Len(t, snap.Moves, 100)
	for i, mv := range snap.Moves {
		assert.Equal(t, i+1, mv.Seq, fmt.Sprintf("seq %d", i))
	}

	var updates int
	for _, e := range ca.events() {
		if e == network.EventUpdate {
			updates++
		}
	}
	assert.Equal(t, 100, updates)
}

func TestRoom_ParallelRoomsStayWithinCapacity(t *testing.T) {
	f := newFixture(t, 10)
	r, err := f.mgr.CreateRoom(omok.Type, NewParticipant("host", "", newConn("h")), nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	joined := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("guest-%d", i)
			if _, err := f.mgr.JoinRoom(r.ID, NewParticipant(id, "", newConn(id)), nil); err == nil {
				mu.Lock()
				joined++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, joined)
	assert.LessOrEqual(t, r.Summary().Participants, omok.Definition().MaxParticipants)
}
