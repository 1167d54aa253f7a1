// room/room.go
package room

import (
	"encoding/json"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/wfunc/arcaderoom/game"
	"github.com/wfunc/arcaderoom/logger"
	"github.com/wfunc/arcaderoom/network"
	"github.com/wfunc/arcaderoom/state"
	"github.com/wfunc/arcaderoom/timer"
)

var (
	ErrRoomNotFound     = errors.New("room not found")
	ErrCapacityExceeded = errors.New("server room capacity exceeded")
	ErrNotParticipant   = errors.New("not a participant of this room")
	ErrAlreadyInRoom    = errors.New("already in a room")
	ErrRoomClosed       = errors.New("room closed")

	ErrRoomFull     = state.ErrRoomFull
	ErrInvalidState = state.ErrInvalidState
	ErrNotYourTurn  = state.ErrNotYourTurn
	ErrMoveRejected = state.ErrMoveRejected
	ErrUnknownGame  = game.ErrUnknownGame
)

const inboxSize = 64

// Room 是游戏房间的核心结构. All of its mutable state is owned by one
// goroutine that consumes the inbox, so events of one room never run
// concurrently while rooms progress independently.
type Room struct {
	ID        string
	Def       *game.Definition
	CreatedAt time.Time
	seq       uint64

	machine *state.BaseStateMachine
	match   *state.Match
	players []*Participant
	timing  state.Timing

	timers   *timer.TimerManager
	pending  map[int64]struct{}
	deferred []func()
	reported bool
	closed   bool
	sender   string // connection id whose move is being applied

	inbox   chan func()
	done    chan struct{}
	summary atomic.Pointer[game.RoomSummary]

	owner    registry
	recorder OutcomeRecorder
	stats    Stats
	log      *zap.SugaredLogger
}

func newRoom(id string, seq uint64, def *game.Definition, opts Options, owner registry) *Room {
	r := &Room{
		ID:        id,
		Def:       def,
		CreatedAt: time.Now(),
		seq:       seq,
		match:     state.NewMatch(),
		timing:    opts.Timing,
		timers:    opts.Timers,
		pending:   make(map[int64]struct{}),
		inbox:     make(chan func(), inboxSize),
		done:      make(chan struct{}),
		owner:     owner,
		recorder:  opts.Recorder,
		stats:     opts.Stats,
		log:       logger.Log.With("room_id", id, "game", def.Type),
	}

	// 初始化状态机，将房间自身(room)作为上下文传入
	r.machine = state.NewSessionMachine(state.NewWaitingState(r))
	s := r.buildSummary()
	r.summary.Store(&s)

	go r.loop()
	return r
}

// loop 是房间的主循环
func (r *Room) loop() {
	for cmd := range r.inbox {
		cmd()
		r.runDeferred()
		r.publish()
		if r.closed {
			close(r.done)
			return
		}
	}
}

// do runs fn on the room goroutine and waits for its result.
func (r *Room) do(fn func() error) error {
	reply := make(chan error, 1)
	select {
	case r.inbox <- func() {
		if r.closed {
			reply <- ErrRoomClosed
			return
		}
		reply <- fn()
	}:
	case <-r.done:
		return ErrRoomClosed
	}

	select {
	case err := <-reply:
		return err
	case <-r.done:
		select {
		case err := <-reply:
			return err
		default:
			return ErrRoomClosed
		}
	}
}

// post queues fn without waiting. It is dropped once the room is closed.
func (r *Room) post(fn func()) {
	select {
	case r.inbox <- fn:
	case <-r.done:
	}
}

func (r *Room) runDeferred() {
	for len(r.deferred) > 0 && !r.closed {
		fn := r.deferred[0]
		r.deferred = r.deferred[1:]
		fn()
	}
	r.deferred = nil
}

func (r *Room) buildSummary() game.RoomSummary {
	return game.RoomSummary{
		ID:              r.ID,
		Game:            r.Def.Type,
		Participants:    len(r.players),
		MaxParticipants: r.Def.MaxParticipants,
		Phase:           string(r.machine.Phase()),
		CreatedAt:       r.CreatedAt,
	}
}

// publish swaps in a fresh summary so listings never see a half-applied event.
func (r *Room) publish() {
	s := r.buildSummary()
	old := r.summary.Swap(&s)
	if r.closed {
		return
	}
	if old == nil || old.Participants != s.Participants || old.Phase != s.Phase {
		r.owner.roomChanged(r, s)
	}
}

// Summary returns the last published lobby view of the room.
func (r *Room) Summary() game.RoomSummary {
	return *r.summary.Load()
}

func (r *Room) Phase() state.Phase {
	return state.Phase(r.Summary().Phase)
}

// Done is closed once the room has reached CLOSED.
func (r *Room) Done() <-chan struct{} {
	return r.done
}

func (r *Room) find(userID string) *Participant {
	for _, p := range r.players {
		if p.UserID == userID {
			return p
		}
	}
	return nil
}

func (r *Room) snapshotFor(p *Participant) game.RoomSnapshot {
	snap := game.RoomSnapshot{
		Room:      r.buildSummary(),
		Seats:     state.Seats(r),
		YourSide:  game.NoSide,
		TurnOwner: r.match.TurnOwner(),
		Moves:     r.match.Moves(),
	}
	if p != nil {
		snap.YourSide = p.side
	}
	if res, ok := r.match.Result(); ok {
		snap.Result = &res
	}
	return snap
}

func (r *Room) envelope(event string, payload any) *network.Envelope {
	env, err := network.NewEnvelope(r.Def.Type, event, r.ID, payload)
	if err != nil {
		r.log.Errorf("Error encoding %s: %v", event, err)
		return nil
	}
	env.Sender = r.sender
	return env
}

func (r *Room) sendTo(p *Participant, env *network.Envelope) {
	if env == nil || p.conn == nil || !p.connected {
		return
	}
	if err := p.conn.Send(env); err != nil {
		r.log.Warnf("Send %s to %s failed: %v", env.Name(), p.UserID, err)
	}
}

// pushState sends every attached participant its own room snapshot.
func (r *Room) pushState(except *Participant) {
	for _, p := range r.players {
		if p == except {
			continue
		}
		r.sendTo(p, r.envelope(network.EventRoomState, r.snapshotFor(p)))
	}
}

// --- 房间操作 ---

// Join seats p. ack, when set, receives the joiner's snapshot on the room
// goroutine before any event the join triggers, so a reply sent from it
// precedes a gameStart.
func (r *Room) Join(p *Participant, ack func(game.RoomSnapshot)) (game.RoomSnapshot, error) {
	var snap game.RoomSnapshot
	err := r.do(func() error {
		if r.find(p.UserID) != nil {
			return ErrAlreadyInRoom
		}
		p.connected = true
		if err := r.machine.GetCurrentState().HandleJoin(p); err != nil {
			p.connected = false
			return err
		}
		p.attach(p.conn, r.ID)
		r.log.Infof("Player %s joined (%d/%d)", p.UserID, len(r.players), r.Def.MaxParticipants)

		snap = r.snapshotFor(p)
		if ack != nil {
			ack(snap)
			r.pushState(p)
		} else {
			r.pushState(nil)
		}
		return nil
	})
	return snap, err
}

// Leave removes userID. During a running match this is a forfeit.
func (r *Room) Leave(userID string) error {
	return r.do(func() error {
		p := r.find(userID)
		if p == nil {
			return ErrNotParticipant
		}
		if err := r.machine.GetCurrentState().HandleLeave(p); err != nil {
			return err
		}
		p.detach()
		r.owner.userLeft(userID, r.ID)
		r.log.Infof("Player %s left", userID)
		if !r.closed {
			r.pushState(nil)
		}
		return nil
	})
}

// SubmitMove applies a move sent over connID. Moves from a superseded
// connection are refused.
func (r *Room) SubmitMove(userID, connID string, payload json.RawMessage) error {
	return r.do(func() error {
		p := r.find(userID)
		if p == nil || !p.connected || p.connID != connID {
			return ErrNotParticipant
		}
		r.sender = connID
		err := r.machine.GetCurrentState().HandleMove(p, payload)
		r.sender = ""
		if err != nil && r.stats != nil && (errors.Is(err, ErrNotYourTurn) || errors.Is(err, ErrMoveRejected)) {
			r.stats.MoveRejected(r.Def.Type)
		}
		return err
	})
}

// Disconnect reports that connID dropped. A stale connID is ignored.
func (r *Room) Disconnect(userID, connID string) {
	r.do(func() error {
		p := r.find(userID)
		if p == nil || !p.connected || p.connID != connID {
			return nil
		}
		p.detach()
		r.log.Infof("Player %s disconnected", userID)
		r.machine.GetCurrentState().HandleDisconnect(p)
		if r.find(userID) == nil {
			r.owner.userLeft(userID, r.ID)
		}
		if !r.closed {
			r.pushState(nil)
		}
		return nil
	})
}

// Reconnect substitutes conn for userID's previous connection and sends the
// resume snapshot on it.
func (r *Room) Reconnect(userID string, conn Endpoint) (game.RoomSnapshot, error) {
	var snap game.RoomSnapshot
	err := r.do(func() error {
		p := r.find(userID)
		if p == nil {
			return ErrNotParticipant
		}
		if p.conn != nil && p.conn.GetID() != conn.GetID() {
			p.detach()
		}
		p.attach(conn, r.ID)
		r.log.Infof("Player %s reconnected on %s", userID, conn.GetID())
		r.machine.GetCurrentState().HandleReconnect(p)

		snap = r.snapshotFor(p)
		r.sendTo(p, r.envelope(network.EventResume, snap))
		r.pushState(p)
		return nil
	})
	return snap, err
}

// Snapshot returns the room as seen by userID.
func (r *Room) Snapshot(userID string) (game.RoomSnapshot, error) {
	var snap game.RoomSnapshot
	err := r.do(func() error {
		p := r.find(userID)
		if p == nil {
			return ErrNotParticipant
		}
		snap = r.snapshotFor(p)
		return nil
	})
	return snap, err
}

// Close drives the room to CLOSED from whatever phase it is in. A running
// match is recorded as aborted first.
func (r *Room) Close() {
	r.do(func() error {
		for i := 0; i < 3 && !r.closed; i++ {
			r.machine.GetCurrentState().HandleShutdown()
		}
		return nil
	})
}

// --- 实现 state.RoomContext 接口 ---

func (r *Room) GetID() string { return r.ID }

func (r *Room) Game() *game.Definition { return r.Def }

func (r *Room) Match() *state.Match { return r.match }

func (r *Room) Timing() state.Timing { return r.timing }

func (r *Room) Players() []state.Player {
	players := make([]state.Player, 0, len(r.players))
	for _, p := range r.players {
		players = append(players, p)
	}
	return players
}

func (r *Room) AddPlayer(p state.Player) error {
	if len(r.players) >= r.Def.MaxParticipants {
		return ErrRoomFull
	}
	r.players = append(r.players, p.(*Participant))
	return nil
}

func (r *Room) RemovePlayer(p state.Player) {
	for i, existing := range r.players {
		if existing.UserID == p.GetUserID() {
			r.players = append(r.players[:i], r.players[i+1:]...)
			return
		}
	}
}

func (r *Room) AssignSides() {
	for i, p := range r.players {
		p.side = game.Side(i)
	}
}

// ChangeState 改变房间的状态机状态
func (r *Room) ChangeState(newState state.State) error {
	from := r.machine.Phase()
	if err := r.machine.ChangeState(newState); err != nil {
		r.log.Errorf("Transition %s -> %s refused: %v", from, newState.GetID(), err)
		return err
	}
	r.log.Debugf("Transition %s -> %s", from, newState.GetID())
	return nil
}

// Broadcast sends an event to every attached participant in acceptance order.
func (r *Room) Broadcast(event string, payload any) {
	env := r.envelope(event, payload)
	for _, p := range r.players {
		r.sendTo(p, env)
	}
}

func (r *Room) BroadcastExcept(except state.Player, event string, payload any) {
	env := r.envelope(event, payload)
	for _, p := range r.players {
		if p.UserID != except.GetUserID() {
			r.sendTo(p, env)
		}
	}
}

// After schedules fn on the shared timer manager and routes it back onto the
// room goroutine. Cancelled or post-close callbacks are dropped.
func (r *Room) After(d time.Duration, fn func()) func() {
	var id int64
	id = r.timers.AddTimer(d, 0, func() {
		r.post(func() {
			if _, live := r.pending[id]; !live || r.closed {
				return
			}
			delete(r.pending, id)
			fn()
		})
	})
	r.pending[id] = struct{}{}
	return func() {
		if _, live := r.pending[id]; live {
			delete(r.pending, id)
			r.timers.RemoveTimer(id)
		}
	}
}

func (r *Room) Defer(fn func()) {
	r.deferred = append(r.deferred, fn)
}

// ReportOutcome hands the result to the recorder once, asynchronously.
func (r *Room) ReportOutcome(o game.Outcome) {
	if r.reported {
		return
	}
	r.reported = true
	r.log.Infof("Match over: %s (%s)", o.Kind, o.Reason)

	if r.stats != nil {
		if o.Kind == game.ResultAborted {
			r.stats.MatchAborted(r.Def.Type, o.Reason)
		} else {
			r.stats.MatchFinished(r.Def.Type)
		}
	}
	if r.recorder == nil {
		return
	}

	result := MatchResult{
		RoomID:    r.ID,
		Game:      r.Def.Type,
		Outcome:   o,
		Seats:     state.Seats(r),
		Moves:     r.match.Moves(),
		StartedAt: r.match.StartedAt(),
		EndedAt:   r.match.EndedAt(),
	}
	recorder := r.recorder
	go func() {
		if o.Kind == game.ResultAborted {
			recorder.OnAborted(result)
		} else {
			recorder.OnGameOver(result)
		}
	}()
}

// Release tells the participants the room is gone, detaches them, cancels
// every timer and unregisters the room.
func (r *Room) Release() {
	if r.closed {
		return
	}
	for id := range r.pending {
		r.timers.RemoveTimer(id)
	}
	r.pending = make(map[int64]struct{})

	r.pushState(nil)
	for _, p := range r.players {
		p.detach()
		r.owner.userLeft(p.UserID, r.ID)
	}
	r.closed = true
	r.owner.roomClosed(r)
	r.log.Infof("Room closed")
}
