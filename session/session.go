package session

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/wfunc/arcaderoom/logger"
	"github.com/wfunc/arcaderoom/network"
)

var (
	ErrSessionClosed = errors.New("session closed")
	ErrQueueFull     = errors.New("session send queue full")
)

// Options tunes outbound delivery. Zero values fall back to defaults.
type Options struct {
	Attempts  int
	Backoff   time.Duration
	Queue     int
	Heartbeat time.Duration
}

func (o Options) withDefaults() Options {
	if o.Attempts <= 0 {
		o.Attempts = 3
	}
	if o.Backoff <= 0 {
		o.Backoff = 100 * time.Millisecond
	}
	if o.Queue <= 0 {
		o.Queue = 256
	}
	return o
}

type pinger interface {
	Ping() error
}

// Session is one live connection. Its ID is the connection id; a user who
// reconnects gets a new Session with the same UserID.
type Session struct {
	ID          string
	Conn        network.Connection
	UserID      string
	DisplayName string
	CreatedAt   time.Time
	LastActive  time.Time
	roomID      string
	lobbies     map[string]struct{} // 正在浏览大厅的游戏
	mutex       sync.RWMutex

	opts      Options
	outbox    chan *network.Envelope
	done      chan struct{}
	closeOnce sync.Once
}

// NewSession wraps conn and starts its writer goroutine. Close releases it.
func NewSession(id string, conn network.Connection, opts Options) *Session {
	now := time.Now()
	opts = opts.withDefaults()
	s := &Session{
		ID:         id,
		Conn:       conn,
		CreatedAt:  now,
		LastActive: now,
		lobbies:    make(map[string]struct{}),
		opts:       opts,
		outbox:     make(chan *network.Envelope, opts.Queue),
		done:       make(chan struct{}),
	}
	go s.writeLoop()
	return s
}

// SetBrowsing marks whether this connection watches the lobby of game.
func (s *Session) SetBrowsing(game string, browsing bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if browsing {
		s.lobbies[game] = struct{}{}
	} else {
		delete(s.lobbies, game)
	}
}

func (s *Session) IsBrowsing(game string) bool {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	_, ok := s.lobbies[game]
	return ok
}

func (s *Session) RoomID() string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.roomID
}

func (s *Session) SetRoomID(roomID string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.roomID = roomID
}

func (s *Session) Touch() {
	s.mutex.Lock()
	s.LastActive = time.Now()
	s.mutex.Unlock()
}

func (s *Session) LastSeen() time.Time {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.LastActive
}

// Send queues env for delivery without blocking. Envelopes are written in
// queue order. A full queue means the peer is not draining; the connection
// is closed and the read side reports the disconnect.
func (s *Session) Send(env *network.Envelope) error {
	select {
	case <-s.done:
		return ErrSessionClosed
	default:
	}

	select {
	case s.outbox <- env:
		return nil
	default:
		logger.Log.Warnf("Session %s send queue full, closing connection", s.ID)
		s.Close()
		return ErrQueueFull
	}
}

func (s *Session) GetID() string {
	return s.ID
}

func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Close is safe to call more than once.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.Conn.Close()
	})
	return err
}

func (s *Session) writeLoop() {
	var tick <-chan time.Time
	p, canPing := s.Conn.(pinger)
	if canPing && s.opts.Heartbeat > 0 {
		ticker := time.NewTicker(s.opts.Heartbeat)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case env := <-s.outbox:
			if err := s.deliver(env); err != nil {
				logger.Log.Warnf("Session %s: %v, treating as disconnect", s.ID, err)
				s.Close()
				return
			}
		case <-tick:
			if err := p.Ping(); err != nil {
				s.Close()
				return
			}
		case <-s.done:
			return
		}
	}
}

func (s *Session) deliver(env *network.Envelope) error {
	backoff := s.opts.Backoff
	var lastErr error

	for attempt := 1; attempt <= s.opts.Attempts; attempt++ {
		if lastErr = s.Conn.Send(env); lastErr == nil {
			return nil
		}
		if attempt < s.opts.Attempts {
			select {
			case <-time.After(backoff):
			case <-s.done:
				return ErrSessionClosed
			}
			backoff *= 2
		}
	}
	return fmt.Errorf("send %s failed after %d attempts: %w", env.Name(), s.opts.Attempts, lastErr)
}

// Manager indexes live sessions by connection id and by user id. UserID
// must be set before Add.
type Manager struct {
	mutex  sync.RWMutex
	byConn map[string]*Session
	byUser map[string]map[string]*Session
}

func NewManager() *Manager {
	return &Manager{
		byConn: make(map[string]*Session),
		byUser: make(map[string]map[string]*Session),
	}
}

func (m *Manager) Add(s *Session) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.byConn[s.ID] = s
	conns := m.byUser[s.UserID]
	if conns == nil {
		conns = make(map[string]*Session)
		m.byUser[s.UserID] = conns
	}
	conns[s.ID] = s
}

func (m *Manager) Remove(connID string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	s, ok := m.byConn[connID]
	if !ok {
		return
	}
	delete(m.byConn, connID)
	if conns := m.byUser[s.UserID]; conns != nil {
		delete(conns, connID)
		if len(conns) == 0 {
			delete(m.byUser, s.UserID)
		}
	}
}

func (m *Manager) Get(connID string) (*Session, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	s, ok := m.byConn[connID]
	return s, ok
}

// GetByUserID returns every open connection of userID, oldest first.
func (m *Manager) GetByUserID(userID string) []*Session {
	m.mutex.RLock()
	conns := make([]*Session, 0, len(m.byUser[userID]))
	for _, s := range m.byUser[userID] {
		conns = append(conns, s)
	}
	m.mutex.RUnlock()

	sort.Slice(conns, func(i, j int) bool { return conns[i].CreatedAt.Before(conns[j].CreatedAt) })
	return conns
}

// Browsing returns the sessions currently watching game's lobby.
func (m *Manager) Browsing(game string) []*Session {
	return m.filter(func(s *Session) bool { return s.IsBrowsing(game) })
}

func (m *Manager) Count() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.byConn)
}

// CloseAll closes every session; their read loops then unregister them.
func (m *Manager) CloseAll() {
	for _, s := range m.filter(nil) {
		s.Close()
	}
}

// filter snapshots the sessions matching keep (all when nil) so callers act
// on them without holding the lock.
func (m *Manager) filter(keep func(*Session) bool) []*Session {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	var out []*Session
	for _, s := range m.byConn {
		if keep == nil || keep(s) {
			out = append(out, s)
		}
	}
	return out
}
