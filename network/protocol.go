package network

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Logical events. The game a message belongs to travels in Envelope.Game,
// so every game shares the same event names on one connection.
const (
	EventHeartbeat = "heartbeat"

	EventListRooms     = "listRooms"
	EventRoomList      = "roomList"
	EventRoomListDelta = "roomListDelta"
	EventCreateRoom    = "createRoom"
	EventJoinRoom      = "joinRoom"
	EventLeaveRoom     = "leaveRoom"
	EventRoomState     = "roomState"

	EventMove   = "move"
	EventUpdate = "update"

	EventGameStart           = "gameStart"
	EventGameOver            = "gameOver"
	EventAborted             = "aborted"
	EventResume              = "resume"
	EventOpponentLeft        = "opponentLeft"
	EventOpponentDisconnect  = "opponentDisconnected"
	EventOpponentReconnected = "opponentReconnected"

	EventError = "error"
)

// Wire error codes carried in ErrorPayload.Code.
const (
	CodeMalformed         = "malformed_envelope"
	CodeUnknownEvent      = "unknown_event"
	CodeUnknownGame       = "unknown_game"
	CodeRoomNotFound      = "room_not_found"
	CodeRoomFull          = "room_full"
	CodeInvalidState      = "invalid_state"
	CodeNotYourTurn       = "not_your_turn"
	CodeCapacityExceeded  = "capacity_exceeded"
	CodeNotParticipant    = "not_participant"
	CodeAlreadyInRoom     = "already_in_room"
	CodeMoveRejected      = "move_rejected"
	CodeInternal          = "internal"
	CodeNoResponse        = "no_response"
	CodeConnectionLost    = "connection_lost"
	CodeOpponentLeft      = "opponent_left"
	CodeOpponentForfeited = "opponent_forfeited"
	CodeYouForfeited      = "you_forfeited"
)

var ErrMalformedEnvelope = errors.New("malformed envelope")

// Envelope is the unit exchanged over a connection in both directions.
type Envelope struct {
	Game          string          `json:"game"`
	Event         string          `json:"event"`
	RoomID        string          `json:"roomId,omitempty"`
	Sender        string          `json:"sender,omitempty"` // server-assigned connection id
	Payload       json.RawMessage `json:"payload,omitempty"`
	CorrelationID string          `json:"correlationId,omitempty"`
}

// ErrorPayload is the body of an EventError envelope.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewEnvelope marshals payload into a new envelope. A nil payload is left empty.
func NewEnvelope(game, event, roomID string, payload any) (*Envelope, error) {
	env := &Envelope{Game: game, Event: event, RoomID: roomID}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s:%s payload: %w", game, event, err)
		}
		env.Payload = data
	}
	return env, nil
}

// Name renders the namespaced event name, e.g. "omok:move".
func (e *Envelope) Name() string {
	return e.Game + ":" + e.Event
}

func (e *Envelope) Validate() error {
	if e.Game == "" || e.Event == "" {
		return ErrMalformedEnvelope
	}
	return nil
}

// Reply builds a response that carries the request's correlation id.
func (e *Envelope) Reply(event string, payload any) (*Envelope, error) {
	resp, err := NewEnvelope(e.Game, event, e.RoomID, payload)
	if err != nil {
		return nil, err
	}
	resp.CorrelationID = e.CorrelationID
	return resp, nil
}

// ErrorReply builds an EventError response for the request.
func (e *Envelope) ErrorReply(code, message string) *Envelope {
	resp, _ := e.Reply(EventError, ErrorPayload{Code: code, Message: message})
	return resp
}

// Decode unmarshals the payload into v.
func (e *Envelope) Decode(v any) error {
	if len(e.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("%w: %s payload: %v", ErrMalformedEnvelope, e.Name(), err)
	}
	return nil
}
