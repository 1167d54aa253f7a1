package room

import "github.com/wfunc/arcaderoom/game"

// Participant is a user seated in a room. After it is handed to a room it is
// only touched from that room's event stream.
type Participant struct {
	UserID      string
	DisplayName string

	conn      Endpoint
	connID    string
	side      game.Side
	connected bool
}

func NewParticipant(userID, displayName string, conn Endpoint) *Participant {
	return &Participant{
		UserID:      userID,
		DisplayName: displayName,
		conn:        conn,
		connID:      conn.GetID(),
		side:        game.NoSide,
	}
}

func (p *Participant) GetUserID() string       { return p.UserID }
func (p *Participant) GetConnectionID() string { return p.connID }
func (p *Participant) GetSide() game.Side      { return p.side }
func (p *Participant) IsConnected() bool       { return p.connected }
func (p *Participant) GetDisplayName() string  { return p.DisplayName }

// attach binds p to conn inside roomID.
func (p *Participant) attach(conn Endpoint, roomID string) {
	p.conn = conn
	p.connID = conn.GetID()
	p.connected = true
	conn.SetRoomID(roomID)
}

// detach releases the connection binding. It is safe to call twice.
func (p *Participant) detach() {
	if p.conn != nil {
		p.conn.SetRoomID("")
		p.conn = nil
	}
	p.connected = false
}
