// state/interfaces.go
package state

import (
	"time"

	"github.com/wfunc/arcaderoom/game"
)

// Player is a participant as seen by the states.
type Player interface {
	GetUserID() string
	GetConnectionID() string
	GetSide() game.Side
	IsConnected() bool
	GetDisplayName() string
}

// Timing holds the grace windows a room applies.
type Timing struct {
	ReadyGrace time.Duration
	AbortGrace time.Duration
	CloseGrace time.Duration
}

// RoomContext defines what a Room exposes to its states.
// This breaks the import cycle between room and state.
type RoomContext interface {
	GetID() string
	Game() *game.Definition
	Players() []Player
	AddPlayer(p Player) error
	RemovePlayer(p Player)
	// AssignSides seats participants in join order; the creator gets side 0.
	AssignSides()
	Match() *Match
	Timing() Timing

	ChangeState(newState State) error
	Broadcast(event string, payload any)
	BroadcastExcept(p Player, event string, payload any)

	// After schedules fn on the room's event stream; cancel is idempotent and
	// fn never runs after the room closes.
	After(d time.Duration, fn func()) (cancel func())
	// Defer runs fn on the event stream right after the current event.
	Defer(fn func())

	ReportOutcome(o game.Outcome)
	// Release detaches every participant and unregisters the room.
	Release()
}
