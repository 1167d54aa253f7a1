package room

import (
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/wfunc/arcaderoom/game"
	"github.com/wfunc/arcaderoom/logger"
	"github.com/wfunc/arcaderoom/state"
	"github.com/wfunc/arcaderoom/timer"
)

// Options configures the registry and the rooms it creates.
type Options struct {
	MaxRooms int
	Timing   state.Timing
	Timers   *timer.TimerManager
	Recorder OutcomeRecorder
	Lobby    LobbyNotifier
	Stats    Stats
}

// --- 房间管理器 ---

// Manager 管理所有房间. It never calls into a room while holding its lock,
// since rooms report back to it from their own goroutine.
type Manager struct {
	catalog *game.Catalog
	opts    Options
	rooms   map[string]*Room
	byUser  map[string]string // userID -> roomID
	seq     uint64
	mutex   sync.RWMutex
}

// NewRoomManager 创建一个新的房间管理器
func NewRoomManager(catalog *game.Catalog, opts Options) *Manager {
	if opts.Timers == nil {
		opts.Timers = timer.NewTimerManager(0)
	}
	return &Manager{
		catalog: catalog,
		opts:    opts,
		rooms:   make(map[string]*Room),
		byUser:  make(map[string]string),
	}
}

// CreateRoom allocates a WAITING room with creator as its only participant.
func (m *Manager) CreateRoom(gameType string, creator *Participant, ack func(game.RoomSnapshot)) (*Room, error) {
	def, err := m.catalog.Lookup(gameType)
	if err != nil {
		return nil, err
	}
	m.vacate(creator.UserID)

	m.mutex.Lock()
	if roomID, busy := m.byUser[creator.UserID]; busy {
		m.mutex.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrAlreadyInRoom, roomID)
	}
	if m.opts.MaxRooms > 0 && len(m.rooms) >= m.opts.MaxRooms {
		m.mutex.Unlock()
		return nil, ErrCapacityExceeded
	}
	m.seq++
	r := newRoom(uuid.NewString(), m.seq, def, m.opts, m)
	m.rooms[r.ID] = r
	m.byUser[creator.UserID] = r.ID
	count := len(m.rooms)
	m.mutex.Unlock()

	if m.opts.Stats != nil {
		m.opts.Stats.SetActiveRooms(count)
	}

	if _, err := r.Join(creator, ack); err != nil {
		m.release(creator.UserID, r.ID)
		m.RemoveRoom(r.ID)
		return nil, err
	}
	logger.Log.Infof("Room %s created for %s by %s", r.ID, gameType, creator.UserID)
	return r, nil
}

// JoinRoom seats p in roomID.
func (m *Manager) JoinRoom(roomID string, p *Participant, ack func(game.RoomSnapshot)) (game.RoomSnapshot, error) {
	m.vacate(p.UserID)

	m.mutex.Lock()
	r, exists := m.rooms[roomID]
	if !exists {
		m.mutex.Unlock()
		return game.RoomSnapshot{}, ErrRoomNotFound
	}
	if current, busy := m.byUser[p.UserID]; busy {
		m.mutex.Unlock()
		return game.RoomSnapshot{}, fmt.Errorf("%w: %s", ErrAlreadyInRoom, current)
	}
	m.byUser[p.UserID] = roomID
	m.mutex.Unlock()

	snap, err := r.Join(p, ack)
	if err != nil {
		m.release(p.UserID, roomID)
		if err == ErrRoomClosed {
			return snap, ErrRoomNotFound
		}
		return snap, err
	}
	return snap, nil
}

// LeaveRoom removes userID from the room it is in.
func (m *Manager) LeaveRoom(userID string) error {
	r, ok := m.RoomOfUser(userID)
	if !ok {
		return ErrNotParticipant
	}
	err := r.Leave(userID)
	if err == ErrRoomClosed {
		m.release(userID, r.ID)
		return nil
	}
	return err
}

// RemoveRoom closes and unregisters a room. Removing an unknown or already
// removed room does nothing.
func (m *Manager) RemoveRoom(id string) {
	m.mutex.Lock()
	r, exists := m.rooms[id]
	if exists {
		delete(m.rooms, id)
	}
	m.mutex.Unlock()

	if exists {
		r.Close()
	}
}

// GetRoom 从管理器中获取一个房间
func (m *Manager) GetRoom(id string) (*Room, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	room, exists := m.rooms[id]
	return room, exists
}

// RoomOfUser finds the room userID is seated in, if any.
func (m *Manager) RoomOfUser(userID string) (*Room, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	roomID, ok := m.byUser[userID]
	if !ok {
		return nil, false
	}
	r, ok := m.rooms[roomID]
	return r, ok
}

// ListRooms returns the open rooms of gameType, most recently created first.
func (m *Manager) ListRooms(gameType string) []game.RoomSummary {
	m.mutex.RLock()
	rooms := make([]*Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		if r.Def.Type == gameType {
			rooms = append(rooms, r)
		}
	}
	m.mutex.RUnlock()

	sort.Slice(rooms, func(i, j int) bool { return rooms[i].seq > rooms[j].seq })

	summaries := make([]game.RoomSummary, 0, len(rooms))
	for _, r := range rooms {
		s := r.Summary()
		if s.Phase == string(state.PhaseClosed) {
			continue
		}
		summaries = append(summaries, s)
	}
	return summaries
}

func (m *Manager) Count() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.rooms)
}

// Shutdown closes every room.
func (m *Manager) Shutdown() {
	m.mutex.RLock()
	ids := make([]string, 0, len(m.rooms))
	for id := range m.rooms {
		ids = append(ids, id)
	}
	m.mutex.RUnlock()

	for _, id := range ids {
		m.RemoveRoom(id)
	}
}

// vacate leaves a room whose match is already over, so its participants can
// move on during the close grace.
func (m *Manager) vacate(userID string) {
	if r, ok := m.RoomOfUser(userID); ok && r.Phase().Terminal() {
		if err := r.Leave(userID); err != nil && err != ErrRoomClosed {
			logger.Log.Warnf("Vacate room %s for %s: %v", r.ID, userID, err)
		}
		m.release(userID, r.ID)
	}
}

func (m *Manager) release(userID, roomID string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.byUser[userID] == roomID {
		delete(m.byUser, userID)
	}
}

// --- registry, called from room goroutines ---

func (m *Manager) roomChanged(r *Room, summary game.RoomSummary) {
	if m.opts.Lobby != nil {
		m.opts.Lobby.RoomChanged(r.Def.Type, game.RoomDelta{Op: game.DeltaUpsert, Room: summary})
	}
}

func (m *Manager) roomClosed(r *Room) {
	m.mutex.Lock()
	if m.rooms[r.ID] == r {
		delete(m.rooms, r.ID)
	}
	for userID, roomID := range m.byUser {
		if roomID == r.ID {
			delete(m.byUser, userID)
		}
	}
	count := len(m.rooms)
	m.mutex.Unlock()

	if m.opts.Stats != nil {
		m.opts.Stats.SetActiveRooms(count)
	}
	if m.opts.Lobby != nil {
		s := r.buildSummary()
		m.opts.Lobby.RoomChanged(r.Def.Type, game.RoomDelta{Op: game.DeltaRemove, Room: s})
	}
}

func (m *Manager) userLeft(userID, roomID string) {
	m.release(userID, roomID)
}
