package network

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelope_NameAndValidate(t *testing.T) {
	env := &Envelope{Game: "omok", Event: EventMove}
	assert.Equal(t, "omok:move", env.Name())
	assert.NoError(t, env.Validate())

	assert.ErrorIs(t, (&Envelope{Event: EventMove}).Validate(), ErrMalformedEnvelope)
	assert.ErrorIs(t, (&Envelope{Game: "omok"}).Validate(), ErrMalformedEnvelope)
}

func TestEnvelope_ReplyKeepsCorrelation(t *testing.T) {
	req := &Envelope{Game: "pingpong", Event: EventListRooms, RoomID: "r1", CorrelationID: "c-42"}

	resp, err := req.Reply(EventRoomList, []string{"a"})
	require.NoError(t, err)
	assert.Equal(t, "pingpong", resp.Game)
	assert.Equal(t, EventRoomList, resp.Event)
	assert.Equal(t, "r1", resp.RoomID)
	assert.Equal(t, "c-42", resp.CorrelationID)
	assert.JSONEq(t, `["a"]`, string(resp.Payload))
}

func TestEnvelope_ErrorReply(t *testing.T) {
	req := &Envelope{Game: "omok", Event: EventJoinRoom, CorrelationID: "c-1"}
	resp := req.ErrorReply(CodeRoomFull, "room is full")

	var body ErrorPayload
	require.NoError(t, resp.Decode(&body))
	assert.Equal(t, EventError, resp.Event)
	assert.Equal(t, "c-1", resp.CorrelationID)
	assert.Equal(t, CodeRoomFull, body.Code)
}

func TestEnvelope_DecodeMalformed(t *testing.T) {
	env := &Envelope{Game: "omok", Event: EventMove, Payload: []byte(`{"x":`)}
	var v map[string]int
	err := env.Decode(&v)
	assert.True(t, errors.Is(err, ErrMalformedEnvelope))
}
