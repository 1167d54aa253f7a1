package session

import (
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wfunc/arcaderoom/network"
)

// MockConnection is a test double for the network.Connection interface.
// The first failures calls to Send return an error.
type MockConnection struct {
	mu       sync.Mutex
	failures int
	calls    int
	sent     []*network.Envelope
	closed   bool
}

func (m *MockConnection) Send(env *network.Envelope) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.failures > 0 {
		m.failures--
		return errors.New("write: broken pipe")
	}
	m.sent = append(m.sent, env)
	return nil
}

func (m *MockConnection) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *MockConnection) RemoteAddr() net.Addr                    { return &net.TCPAddr{} }
func (m *MockConnection) SetHeartbeat(interval time.Duration)     {}
func (m *MockConnection) ReadEnvelope() (*network.Envelope, error) { return nil, nil }

func (m *MockConnection) events() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.sent))
	for _, env := range m.sent {
		out = append(out, env.Event)
	}
	return out
}

func (m *MockConnection) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

var fastOpts = Options{Attempts: 3, Backoff: time.Millisecond, Queue: 8}

func TestNewManager(t *testing.T) {
	manager := NewManager()
	require.NotNil(t, manager)
	require.NotNil(t, manager.byConn)
	require.NotNil(t, manager.byUser)
}

func TestManager_Add_Get_Remove(t *testing.T) {
	manager := NewManager()
	sessionID := "test_session_1"
	sess := NewSession(sessionID, &MockConnection{}, fastOpts)
	defer sess.Close()

	manager.Add(sess)
	assert.Equal(t, 1, manager.Count())

	retrievedSess, exists := manager.Get(sessionID)
	require.True(t, exists)
	assert.Same(t, sess, retrievedSess)

	manager.Remove(sessionID)
	assert.Equal(t, 0, manager.Count())

	_, exists = manager.Get(sessionID)
	assert.False(t, exists)
}

func TestManager_GetByUserID(t *testing.T) {
	manager := NewManager()

	for i, user := range []string{"u100", "u200", "u100"} {
		sess := NewSession(string(rune('a'+i)), &MockConnection{}, fastOpts)
		sess.UserID = user
		defer sess.Close()
		manager.Add(sess)
	}

	assert.Len(t, manager.GetByUserID("u100"), 2)
	assert.Len(t, manager.GetByUserID("u200"), 1)
	assert.Empty(t, manager.GetByUserID("u300"))
}

func TestManager_Browsing(t *testing.T) {
	manager := NewManager()
	a := NewSession("a", &MockConnection{}, fastOpts)
	b := NewSession("b", &MockConnection{}, fastOpts)
	defer a.Close()
	defer b.Close()
	manager.Add(a)
	manager.Add(b)

	a.SetBrowsing("omok", true)
	b.SetBrowsing("pingpong", true)

	omok := manager.Browsing("omok")
	require.Len(t, omok, 1)
	assert.Equal(t, "a", omok[0].ID)

	a.SetBrowsing("omok", false)
	assert.Empty(t, manager.Browsing("omok"))
}

func TestSession_BrowsingFlags(t *testing.T) {
	sess := NewSession("test_session", &MockConnection{}, fastOpts)
	defer sess.Close()

	assert.False(t, sess.IsBrowsing("omok"))
	sess.SetBrowsing("omok", true)
	sess.SetBrowsing("omok", true)
	assert.True(t, sess.IsBrowsing("omok"))
	assert.False(t, sess.IsBrowsing("pingpong"))
	sess.SetBrowsing("omok", false)
	assert.False(t, sess.IsBrowsing("omok"))
}

func TestManager_RemoveDropsUserIndex(t *testing.T) {
	manager := NewManager()
	older := NewSession("c1", &MockConnection{}, fastOpts)
	older.UserID = "alice"
	older.CreatedAt = time.Now().Add(-time.Second)
	newer := NewSession("c2", &MockConnection{}, fastOpts)
	newer.UserID = "alice"
	defer older.Close()
	defer newer.Close()
	manager.Add(newer)
	manager.Add(older)

	conns := manager.GetByUserID("alice")
	require.Len(t, conns, 2)
	assert.Equal(t, "c1", conns[0].ID)

	manager.Remove("c1")
	manager.Remove("c1")
	assert.Len(t, manager.GetByUserID("alice"), 1)
	manager.Remove("c2")
	assert.Empty(t, manager.GetByUserID("alice"))
	assert.NotContains(t, manager.byUser, "alice")
}

func TestSession_SendPreservesOrder(t *testing.T) {
	conn := &MockConnection{}
	sess := NewSession("s1", conn, fastOpts)
	defer sess.Close()

	for _, ev := range []string{"first", "second", "third"} {
		require.NoError(t, sess.Send(&network.Envelope{Game: "omok", Event: ev}))
	}

	assert.Eventually(t, func() bool { return len(conn.events()) == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"first", "second", "third"}, conn.events())
}

func TestSession_SendRetriesTransientFailure(t *testing.T) {
	conn := &MockConnection{failures: 2}
	sess := NewSession("s1", conn, fastOpts)
	defer sess.Close()

	require.NoError(t, sess.Send(&network.Envelope{Game: "omok", Event: "move"}))

	assert.Eventually(t, func() bool { return len(conn.events()) == 1 }, time.Second, 5*time.Millisecond)
	assert.False(t, conn.isClosed())
}

func TestSession_SendGivesUpAndCloses(t *testing.T) {
	conn := &MockConnection{failures: 10}
	sess := NewSession("s1", conn, fastOpts)

	require.NoError(t, sess.Send(&network.Envelope{Game: "omok", Event: "move"}))

	assert.Eventually(t, conn.isClosed, time.Second, 5*time.Millisecond)
	select {
	case <-sess.Done():
	case <-time.After(time.Second):
		t.Fatal("session should be done after exhausting retries")
	}
	assert.ErrorIs(t, sess.Send(&network.Envelope{Game: "omok", Event: "move"}), ErrSessionClosed)
}

func TestSession_CloseIdempotent(t *testing.T) {
	sess := NewSession("s1", &MockConnection{}, fastOpts)
	assert.NoError(t, sess.Close())
	assert.NoError(t, sess.Close())
}
