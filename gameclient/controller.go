package gameclient

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/wfunc/arcaderoom/game"
	"github.com/wfunc/arcaderoom/logger"
	"github.com/wfunc/arcaderoom/network"
	"github.com/wfunc/arcaderoom/state"
)

var ErrNotInRoom = errors.New("not in a room")

// RoomController coordinates one player's room lifecycle for a game. It
// holds no rules; per-game behavior comes from the Definition.
type RoomController struct {
	def      *game.Definition
	adapter  *NetworkAdapter
	renderer Renderer

	mu     sync.Mutex
	roomID string
	side   game.Side
	self   string // user id, learned from the seat matching YourSide
	subs   []func()
	done   bool

	onGameStart func(game.StartPayload)
	onMove      func(game.MovePayload)
	onGameOver  func(game.OverPayload, Reason)
	onAborted   func(Reason)
	onError     func(Reason)
}

// NewController builds a controller for def on transport. renderer may be nil.
func NewController(def *game.Definition, transport Transport, renderer Renderer, timeout time.Duration) *RoomController {
	c := &RoomController{
		def:      def,
		adapter:  NewNetworkAdapter(def.Type, transport, timeout),
		renderer: renderer,
		side:     game.NoSide,
	}
	c.subscribe(network.EventGameStart, c.handleGameStart)
	c.subscribe(def.MoveEvent(), c.handleMove)
	c.subscribe(network.EventGameOver, c.handleGameOver)
	c.subscribe(network.EventAborted, c.handleAborted)
	c.subscribe(network.EventError, c.handleError)
	c.subscribe(network.EventRoomState, c.handleRoomState)
	c.subscribe(network.EventResume, c.handleRoomState)
	c.subscribe(network.EventOpponentDisconnect, c.handlePresence)
	c.subscribe(network.EventOpponentReconnected, c.handlePresence)
	return c
}

func (c *RoomController) subscribe(event string, h func(*network.Envelope)) {
	c.subs = append(c.subs, c.adapter.OnServerEvent(event, h))
}

func (c *RoomController) Adapter() *NetworkAdapter { return c.adapter }

func (c *RoomController) OnGameStart(fn func(game.StartPayload)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onGameStart = fn
}

func (c *RoomController) OnMove(fn func(game.MovePayload)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onMove = fn
}

func (c *RoomController) OnGameOver(fn func(game.OverPayload, Reason)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onGameOver = fn
}

func (c *RoomController) OnAborted(fn func(Reason)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onAborted = fn
}

func (c *RoomController) OnError(fn func(Reason)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = fn
}

// RoomID is the room the controller is bound to, if any.
func (c *RoomController) RoomID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomID
}

func (c *RoomController) Side() game.Side {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.side
}

func (c *RoomController) RequestRoomList(ctx context.Context) ([]game.RoomSummary, error) {
	rooms, err := c.adapter.RequestRoomList(ctx)
	if err != nil {
		c.fail(err)
		return nil, err
	}
	if c.renderer != nil {
		c.renderer.ShowRoomList(rooms)
	}
	return rooms, nil
}

func (c *RoomController) CreateRoom(ctx context.Context) (game.RoomSnapshot, error) {
	snap, err := c.adapter.CreateRoom(ctx)
	return c.bind(snap, err)
}

func (c *RoomController) JoinRoom(ctx context.Context, roomID string) (game.RoomSnapshot, error) {
	snap, err := c.adapter.JoinRoom(ctx, roomID)
	return c.bind(snap, err)
}

func (c *RoomController) bind(snap game.RoomSnapshot, err error) (game.RoomSnapshot, error) {
	if err != nil {
		c.fail(err)
		return snap, err
	}
	c.mu.Lock()
	c.roomID = snap.Room.ID
	c.side = snap.YourSide
	c.mu.Unlock()
	if c.renderer != nil {
		c.renderer.ShowRoom(snap)
	}
	return snap, nil
}

func (c *RoomController) LeaveRoom(ctx context.Context) error {
	roomID := c.RoomID()
	if roomID == "" {
		return ErrNotInRoom
	}
	if err := c.adapter.LeaveRoom(ctx, roomID); err != nil {
		c.fail(err)
		return err
	}
	c.unbind()
	return nil
}

// SubmitMove sends payload as this game's move or update event. The server
// confirms accepted moves by broadcasting them back.
func (c *RoomController) SubmitMove(payload any) error {
	roomID := c.RoomID()
	if roomID == "" {
		return ErrNotInRoom
	}
	return c.adapter.Send(c.def.MoveEvent(), roomID, payload)
}

// Cleanup releases every subscription and pending request. Calling it again
// does nothing.
func (c *RoomController) Cleanup() {
	c.mu.Lock()
	if c.done {
		c.mu.Unlock()
		return
	}
	c.done = true
	subs := c.subs
	c.subs = nil
	c.onGameStart, c.onMove, c.onGameOver, c.onAborted, c.onError = nil, nil, nil, nil, nil
	c.roomID = ""
	c.mu.Unlock()

	for _, unsub := range subs {
		unsub()
	}
	c.adapter.Close()
}

func (c *RoomController) unbind() {
	c.mu.Lock()
	c.roomID = ""
	c.side = game.NoSide
	c.mu.Unlock()
}

func (c *RoomController) fail(err error) {
	reason := Reason{Kind: KindError, Message: err.Error()}
	var se *ServerError
	switch {
	case errors.As(err, &se):
		reason.Code = se.Code
		reason.Message = se.Message
	case errors.Is(err, ErrNoResponse):
		reason.Code = network.CodeNoResponse
	}
	c.reportError(reason)
}

func (c *RoomController) reportError(reason Reason) {
	c.mu.Lock()
	fn := c.onError
	c.mu.Unlock()
	if c.renderer != nil {
		c.renderer.ShowError(reason)
	}
	if fn != nil {
		fn(reason)
	}
}

func (c *RoomController) decode(env *network.Envelope, v any) bool {
	if err := env.Decode(v); err != nil {
		logger.Log.Warnf("Dropping %s: %v", env.Name(), err)
		return false
	}
	return true
}

func (c *RoomController) handleRoomState(env *network.Envelope) {
	var snap game.RoomSnapshot
	if !c.decode(env, &snap) {
		return
	}
	if state.Phase(snap.Room.Phase) == state.PhaseClosed {
		c.unbind()
	} else {
		c.mu.Lock()
		c.roomID = snap.Room.ID
		c.side = snap.YourSide
		for _, seat := range snap.Seats {
			if seat.Side == snap.YourSide {
				c.self = seat.UserID
			}
		}
		c.mu.Unlock()
	}
	if c.renderer != nil {
		c.renderer.ShowRoom(snap)
	}
}

func (c *RoomController) handleGameStart(env *network.Envelope) {
	var start game.StartPayload
	if !c.decode(env, &start) {
		return
	}
	c.mu.Lock()
	fn, side := c.onGameStart, c.side
	c.mu.Unlock()
	if c.renderer != nil {
		c.renderer.ShowGameStart(start, side)
	}
	if fn != nil {
		fn(start)
	}
}

func (c *RoomController) handleMove(env *network.Envelope) {
	var move game.MovePayload
	if !c.decode(env, &move) {
		return
	}
	c.mu.Lock()
	fn, side := c.onMove, c.side
	c.mu.Unlock()
	if c.renderer != nil {
		c.renderer.ShowMove(move, side)
	}
	if fn != nil {
		fn(move)
	}
}

func (c *RoomController) handleGameOver(env *network.Envelope) {
	var over game.OverPayload
	if !c.decode(env, &over) {
		return
	}
	c.mu.Lock()
	fn, side := c.onGameOver, c.side
	c.mu.Unlock()

	kind := over.Outcome.KindFor(side)
	reason := Reason{Kind: kind, Message: over.Outcome.Reason, Text: DialogText(c.def.Dialogs, kind)}
	if c.renderer != nil {
		c.renderer.ShowGameOver(reason)
	}
	if fn != nil {
		fn(over, reason)
	}
}

func (c *RoomController) handleAborted(env *network.Envelope) {
	var p game.AbortPayload
	if !c.decode(env, &p) {
		return
	}
	c.mu.Lock()
	fn, self := c.onAborted, c.self
	c.mu.Unlock()

	code := abortCode(p.Reason)
	if p.Forfeiter != "" && p.Forfeiter == self {
		code = network.CodeYouForfeited
	}
	reason := Reason{
		Kind:    KindAborted,
		Code:    code,
		Message: p.Reason,
		Text:    c.def.Dialogs.AbortText,
	}
	if c.renderer != nil {
		c.renderer.ShowAborted(reason)
	}
	if fn != nil {
		fn(reason)
	}
}

func abortCode(reason string) string {
	switch reason {
	case game.ReasonDisconnect:
		return network.CodeOpponentLeft
	case game.ReasonForfeit:
		return network.CodeOpponentForfeited
	default:
		return network.CodeInternal
	}
}

func (c *RoomController) handleError(env *network.Envelope) {
	var p network.ErrorPayload
	if !c.decode(env, &p) {
		return
	}
	if p.Code == network.CodeConnectionLost {
		c.unbind()
	}
	c.reportError(Reason{Kind: KindError, Code: p.Code, Message: p.Message})
}

func (c *RoomController) handlePresence(env *network.Envelope) {
	var p game.PresencePayload
	if !c.decode(env, &p) {
		return
	}
	if c.renderer != nil {
		c.renderer.ShowPresence(env.Event, p)
	}
}
