// network/connection.go
package network

import (
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait = 10 * time.Second

	// MaxMessageSize caps a single inbound frame.
	MaxMessageSize = 64 * 1024
)

type Connection interface {
	Send(env *Envelope) error
	Close() error
	RemoteAddr() net.Addr
	SetHeartbeat(interval time.Duration)
	ReadEnvelope() (*Envelope, error)
}

type WSConnection struct {
	conn      *websocket.Conn
	sendMutex sync.Mutex
	heartbeat time.Duration
}

func NewWSConnection(conn *websocket.Conn) *WSConnection {
	conn.SetReadLimit(MaxMessageSize)
	return &WSConnection{conn: conn}
}

func (c *WSConnection) Send(env *Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}

	c.sendMutex.Lock()
	defer c.sendMutex.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// ReadEnvelope blocks for the next frame. Transport errors are returned as-is;
// a frame that is not a valid envelope yields ErrMalformedEnvelope and the
// connection stays usable.
func (c *WSConnection) ReadEnvelope() (*Envelope, error) {
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return nil, err
	}

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if err := env.Validate(); err != nil {
		return &env, err
	}
	return &env, nil
}

// SetHeartbeat arms a read deadline of twice the interval, extended by every pong.
func (c *WSConnection) SetHeartbeat(interval time.Duration) {
	c.heartbeat = interval
	c.conn.SetReadDeadline(time.Now().Add(interval * 2))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(interval * 2))
	})
}

// Ping writes a control ping; used by the session writer on heartbeat ticks.
func (c *WSConnection) Ping() error {
	c.sendMutex.Lock()
	defer c.sendMutex.Unlock()
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

func (c *WSConnection) Close() error {
	return c.conn.Close()
}

func (c *WSConnection) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}
