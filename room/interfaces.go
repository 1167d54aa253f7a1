package room

import (
	"time"

	"github.com/wfunc/arcaderoom/game"
	"github.com/wfunc/arcaderoom/network"
)

// Endpoint is the live connection of a participant. *session.Session
// implements it; it is an interface here to keep room free of transport code.
type Endpoint interface {
	GetID() string
	Send(env *network.Envelope) error
	SetRoomID(roomID string)
}

// MatchResult is what a room reports once its match is over.
type MatchResult struct {
	RoomID    string
	Game      string
	Outcome   game.Outcome
	Seats     []game.Seat
	Moves     []game.Move
	StartedAt time.Time
	EndedAt   time.Time
}

// OutcomeRecorder consumes match outcomes, e.g. for persistence and ranking.
// Calls are made once per match, off the room's event stream.
type OutcomeRecorder interface {
	OnGameOver(result MatchResult)
	OnAborted(result MatchResult)
}

// LobbyNotifier receives room-list deltas for a game type.
// This is defined here to break the import cycle between room and broadcast.
type LobbyNotifier interface {
	RoomChanged(gameType string, delta game.RoomDelta)
}

// Stats receives room lifecycle counters.
type Stats interface {
	SetActiveRooms(count int)
	MatchFinished(gameType string)
	MatchAborted(gameType, reason string)
	MoveRejected(gameType string)
}

// registry is the manager side a room reports back to.
type registry interface {
	roomChanged(r *Room, summary game.RoomSummary)
	roomClosed(r *Room)
	userLeft(userID, roomID string)
}
