package game

import "time"

// Payload shapes shared by the server and the client. They travel inside
// network.Envelope.Payload.

// Seat describes one participant of a room.
type Seat struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName,omitempty"`
	Side        Side   `json:"side"`
	Connected   bool   `json:"connected"`
}

// RoomSummary is the lobby view of a room.
type RoomSummary struct {
	ID              string    `json:"id"`
	Game            string    `json:"game"`
	Participants    int       `json:"participants"`
	MaxParticipants int       `json:"maxParticipants"`
	Phase           string    `json:"phase"`
	CreatedAt       time.Time `json:"createdAt"`
}

const (
	DeltaUpsert = "upsert"
	DeltaRemove = "remove"
)

// RoomDelta is one lobby change pushed to browsing clients.
type RoomDelta struct {
	Op   string      `json:"op"`
	Room RoomSummary `json:"room"`
}

type RoomListPayload struct {
	Game  string        `json:"game"`
	Rooms []RoomSummary `json:"rooms"`
}

type JoinRequest struct {
	RoomID string `json:"roomId"`
}

// RoomSnapshot is the full room state sent on join, create and resume.
type RoomSnapshot struct {
	Room      RoomSummary `json:"room"`
	Seats     []Seat      `json:"seats"`
	YourSide  Side        `json:"yourSide"`
	TurnOwner Side        `json:"turnOwner"`
	Moves     []Move      `json:"moves,omitempty"`
	Result    *Outcome    `json:"result,omitempty"`
}

type StartPayload struct {
	Seats     []Seat `json:"seats"`
	TurnOwner Side   `json:"turnOwner"`
	TurnBased bool   `json:"turnBased"`
}

// MovePayload confirms an accepted move to every participant.
type MovePayload struct {
	Move      Move `json:"move"`
	TurnOwner Side `json:"turnOwner"`
}

type OverPayload struct {
	Outcome Outcome           `json:"outcome"`
	Results map[string]string `json:"results"`
}

type AbortPayload struct {
	Reason    string `json:"reason"`
	Forfeiter string `json:"forfeiter,omitempty"`
}

// PresencePayload announces an opponent dropping or coming back.
type PresencePayload struct {
	UserID  string `json:"userId"`
	Side    Side   `json:"side"`
	GraceMS int64  `json:"graceMs,omitempty"`
}
