// Package gameclient is the client half of the room protocol: a websocket
// transport shared by every game, a per-game network adapter with correlated
// requests, and one generic room controller driven by game.Definition data.
package gameclient

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wfunc/arcaderoom/logger"
	"github.com/wfunc/arcaderoom/network"
)

var (
	ErrClosed       = errors.New("client closed")
	ErrNotConnected = errors.New("not connected")
)

// Transport carries envelopes of several games over one connection.
// Subscribers receive the inbound envelopes tagged with their game.
type Transport interface {
	Send(env *network.Envelope) error
	Subscribe(gameType string, handler func(*network.Envelope)) (unsubscribe func())
	Close() error
}

type WSOptions struct {
	ReconnectAttempts int
	ReconnectDelay    time.Duration
	Dialer            *websocket.Dialer
}

// WSTransport is a gorilla websocket Transport that redials a dropped
// connection. When every attempt fails each subscriber gets an error
// envelope with network.CodeConnectionLost and the transport closes.
type WSTransport struct {
	url  string
	opts WSOptions

	mu     sync.Mutex
	conn   *websocket.Conn
	subs   map[string]map[uint64]func(*network.Envelope)
	nextID uint64
	closed bool
	done   chan struct{}

	writeMu sync.Mutex
}

// DialWS connects to url and starts reading.
func DialWS(ctx context.Context, url string, opts WSOptions) (*WSTransport, error) {
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	conn, _, err := opts.Dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}

	t := &WSTransport{
		url:  url,
		opts: opts,
		conn: conn,
		subs: make(map[string]map[uint64]func(*network.Envelope)),
		done: make(chan struct{}),
	}
	go t.readLoop(conn)
	return t, nil
}

func (t *WSTransport) Send(env *network.Envelope) error {
	t.mu.Lock()
	conn, closed := t.conn, t.closed
	t.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if conn == nil {
		return ErrNotConnected
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteJSON(env)
}

func (t *WSTransport) Subscribe(gameType string, handler func(*network.Envelope)) func() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextID++
	id := t.nextID
	if t.subs[gameType] == nil {
		t.subs[gameType] = make(map[uint64]func(*network.Envelope))
	}
	t.subs[gameType][id] = handler

	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		delete(t.subs[gameType], id)
		if len(t.subs[gameType]) == 0 {
			delete(t.subs, gameType)
		}
	}
}

// Done is closed once the transport is closed.
func (t *WSTransport) Done() <-chan struct{} {
	return t.done
}

func (t *WSTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	conn := t.conn
	t.conn = nil
	close(t.done)
	t.mu.Unlock()

	if conn == nil {
		return nil
	}
	t.writeMu.Lock()
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	t.writeMu.Unlock()
	return conn.Close()
}

func (t *WSTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *WSTransport) readLoop(conn *websocket.Conn) {
	for {
		var env network.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			if t.isClosed() {
				return
			}
			logger.Log.Warnf("Connection to %s lost: %v", t.url, err)
			conn.Close()
			if conn = t.redial(); conn == nil {
				t.lost(err)
				t.Close()
				return
			}
			continue
		}
		t.route(&env)
	}
}

// redial retries the connection; nil means every attempt failed.
func (t *WSTransport) redial() *websocket.Conn {
	t.mu.Lock()
	t.conn = nil
	t.mu.Unlock()

	for attempt := 1; attempt <= t.opts.ReconnectAttempts; attempt++ {
		select {
		case <-time.After(t.opts.ReconnectDelay):
		case <-t.done:
			return nil
		}

		conn, _, err := t.opts.Dialer.Dial(t.url, nil)
		if err != nil {
			logger.Log.Infof("Reconnect attempt %d/%d failed: %v", attempt, t.opts.ReconnectAttempts, err)
			continue
		}

		t.mu.Lock()
		if t.closed {
			t.mu.Unlock()
			conn.Close()
			return nil
		}
		t.conn = conn
		t.mu.Unlock()
		logger.Log.Infof("Reconnected to %s", t.url)
		return conn
	}
	return nil
}

func (t *WSTransport) handlers(gameType string) []func(*network.Envelope) {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]func(*network.Envelope), 0, len(t.subs[gameType]))
	for _, h := range t.subs[gameType] {
		out = append(out, h)
	}
	return out
}

func (t *WSTransport) route(env *network.Envelope) {
	for _, h := range t.handlers(env.Game) {
		h(env)
	}
}

func (t *WSTransport) lost(cause error) {
	t.mu.Lock()
	games := make([]string, 0, len(t.subs))
	for g := range t.subs {
		games = append(games, g)
	}
	t.mu.Unlock()

	for _, g := range games {
		env := &network.Envelope{Game: g}
		t.route(env.ErrorReply(network.CodeConnectionLost, cause.Error()))
	}
}
