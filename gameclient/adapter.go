package gameclient

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wfunc/arcaderoom/game"
	"github.com/wfunc/arcaderoom/network"
)

// DefaultTimeout bounds a correlated request when none is configured.
const DefaultTimeout = 3 * time.Second

var ErrNoResponse = errors.New("no response from server")

// ServerError is an error envelope answered by the server. errors.Is matches
// on Code, so callers compare against the sentinels below.
type ServerError struct {
	Code    string
	Message string
}

func (e *ServerError) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return e.Code + ": " + e.Message
}

func (e *ServerError) Is(target error) bool {
	t, ok := target.(*ServerError)
	return ok && t.Code == e.Code
}

var (
	ErrRoomFull         = &ServerError{Code: network.CodeRoomFull}
	ErrRoomNotFound     = &ServerError{Code: network.CodeRoomNotFound}
	ErrInvalidState     = &ServerError{Code: network.CodeInvalidState}
	ErrNotYourTurn      = &ServerError{Code: network.CodeNotYourTurn}
	ErrCapacityExceeded = &ServerError{Code: network.CodeCapacityExceeded}
	ErrConnectionLost   = &ServerError{Code: network.CodeConnectionLost}
)

// NetworkAdapter speaks one game's side of a shared Transport.
type NetworkAdapter struct {
	game      string
	transport Transport
	timeout   time.Duration

	mu       sync.Mutex
	handlers map[string]map[uint64]func(*network.Envelope)
	nextID   uint64
	pending  map[string]chan *network.Envelope
	unsub    func()
	closed   bool
}

func NewNetworkAdapter(gameType string, transport Transport, timeout time.Duration) *NetworkAdapter {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	a := &NetworkAdapter{
		game:      gameType,
		transport: transport,
		timeout:   timeout,
		handlers:  make(map[string]map[uint64]func(*network.Envelope)),
		pending:   make(map[string]chan *network.Envelope),
	}
	a.unsub = transport.Subscribe(gameType, a.dispatch)
	return a
}

func (a *NetworkAdapter) Game() string { return a.game }

// Send fires event without waiting for an answer.
func (a *NetworkAdapter) Send(event, roomID string, payload any) error {
	if a.isClosed() {
		return ErrClosed
	}
	env, err := network.NewEnvelope(a.game, event, roomID, payload)
	if err != nil {
		return err
	}
	return a.transport.Send(env)
}

// OnServerEvent registers h for uncorrelated envelopes of event.
func (a *NetworkAdapter) OnServerEvent(event string, h func(*network.Envelope)) (unsubscribe func()) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return func() {}
	}
	a.nextID++
	id := a.nextID
	if a.handlers[event] == nil {
		a.handlers[event] = make(map[uint64]func(*network.Envelope))
	}
	a.handlers[event][id] = h

	return func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		delete(a.handlers[event], id)
		if len(a.handlers[event]) == 0 {
			delete(a.handlers, event)
		}
	}
}

// Request sends event and waits for the correlated reply. An error reply is
// returned as *ServerError; silence past the timeout as ErrNoResponse.
func (a *NetworkAdapter) Request(ctx context.Context, event, roomID string, payload any) (*network.Envelope, error) {
	env, err := network.NewEnvelope(a.game, event, roomID, payload)
	if err != nil {
		return nil, err
	}
	env.CorrelationID = uuid.NewString()
	reply := make(chan *network.Envelope, 1)

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil, ErrClosed
	}
	a.pending[env.CorrelationID] = reply
	a.mu.Unlock()
	defer a.forget(env.CorrelationID)

	if err := a.transport.Send(env); err != nil {
		return nil, fmt.Errorf("send %s: %w", env.Name(), err)
	}

	timer := time.NewTimer(a.timeout)
	defer timer.Stop()

	select {
	case resp, ok := <-reply:
		if !ok {
			return nil, ErrClosed
		}
		if resp.Event == network.EventError {
			return nil, decodeError(resp)
		}
		return resp, nil
	case <-timer.C:
		return nil, fmt.Errorf("%w: %s after %s", ErrNoResponse, env.Name(), a.timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (a *NetworkAdapter) forget(corr string) {
	a.mu.Lock()
	delete(a.pending, corr)
	a.mu.Unlock()
}

// RequestRoomList fetches the lobby. The server then streams roomListDelta
// events to this connection until it creates or joins a room.
func (a *NetworkAdapter) RequestRoomList(ctx context.Context) ([]game.RoomSummary, error) {
	resp, err := a.Request(ctx, network.EventListRooms, "", nil)
	if err != nil {
		return nil, err
	}
	var list game.RoomListPayload
	if err := resp.Decode(&list); err != nil {
		return nil, err
	}
	return list.Rooms, nil
}

func (a *NetworkAdapter) CreateRoom(ctx context.Context) (game.RoomSnapshot, error) {
	return a.roomRequest(ctx, network.EventCreateRoom, "", nil)
}

func (a *NetworkAdapter) JoinRoom(ctx context.Context, roomID string) (game.RoomSnapshot, error) {
	return a.roomRequest(ctx, network.EventJoinRoom, roomID, game.JoinRequest{RoomID: roomID})
}

func (a *NetworkAdapter) LeaveRoom(ctx context.Context, roomID string) error {
	_, err := a.Request(ctx, network.EventLeaveRoom, roomID, nil)
	return err
}

func (a *NetworkAdapter) roomRequest(ctx context.Context, event, roomID string, payload any) (game.RoomSnapshot, error) {
	var snap game.RoomSnapshot
	resp, err := a.Request(ctx, event, roomID, payload)
	if err != nil {
		return snap, err
	}
	err = resp.Decode(&snap)
	return snap, err
}

// Close drops the transport subscription, every handler and every pending
// request. It is safe to call twice.
func (a *NetworkAdapter) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	pending := a.pending
	a.pending = make(map[string]chan *network.Envelope)
	a.handlers = make(map[string]map[uint64]func(*network.Envelope))
	unsub := a.unsub
	a.mu.Unlock()

	unsub()
	for _, ch := range pending {
		close(ch)
	}
}

// Subscriptions counts live event handlers.
func (a *NetworkAdapter) Subscriptions() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, hs := range a.handlers {
		n += len(hs)
	}
	return n
}

// Pending counts requests still awaiting a reply.
func (a *NetworkAdapter) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}

func (a *NetworkAdapter) isClosed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closed
}

func (a *NetworkAdapter) dispatch(env *network.Envelope) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	if env.CorrelationID != "" {
		if ch, ok := a.pending[env.CorrelationID]; ok {
			delete(a.pending, env.CorrelationID)
			a.mu.Unlock()
			ch <- env
			return
		}
	}

	var failed []chan *network.Envelope
	if env.Event == network.EventError && errors.Is(decodeError(env), ErrConnectionLost) {
		for corr, ch := range a.pending {
			failed = append(failed, ch)
			delete(a.pending, corr)
		}
	}
	hs := make([]func(*network.Envelope), 0, len(a.handlers[env.Event]))
	for _, h := range a.handlers[env.Event] {
		hs = append(hs, h)
	}
	a.mu.Unlock()

	for _, ch := range failed {
		ch <- env
	}
	for _, h := range hs {
		h(env)
	}
}

func decodeError(env *network.Envelope) error {
	var p network.ErrorPayload
	if err := env.Decode(&p); err != nil {
		return err
	}
	return &ServerError{Code: p.Code, Message: p.Message}
}
