package server

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/wfunc/arcaderoom/game"
	"github.com/wfunc/arcaderoom/logger"
	"github.com/wfunc/arcaderoom/network"
	"github.com/wfunc/arcaderoom/room"
	"github.com/wfunc/arcaderoom/session"
)

// ConnStats receives per-connection counters; *monitor.Monitor implements it.
type ConnStats interface {
	ConnectionOpened()
	ConnectionClosed()
	EnvelopeHandled(gameType, event string, took time.Duration)
}

type GameServer struct {
	addr           string
	upgrader       websocket.Upgrader
	catalog        *game.Catalog
	roomManager    *room.Manager
	sessionManager *session.Manager
	sessionOpts    session.Options
	stats          ConnStats
	httpServer     *http.Server
	conns          sync.WaitGroup
	mutex          sync.Mutex
	shutdownChan   chan struct{}
	shuttingDown   bool
}

// Options tunes the front end; Stats may be nil.
type Options struct {
	Session session.Options
	Stats   ConnStats
}

func NewGameServer(addr string, catalog *game.Catalog, rooms *room.Manager, sessions *session.Manager, opts Options) *GameServer {
	s := &GameServer{
		addr:           addr,
		catalog:        catalog,
		roomManager:    rooms,
		sessionManager: sessions,
		sessionOpts:    opts.Session,
		stats:          opts.Stats,
		shutdownChan:   make(chan struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // 允许所有跨域请求
			},
		},
	}
	s.httpServer = &http.Server{Addr: addr, Handler: s.Handler()}
	return s
}

// Handler exposes /ws and /healthz.
func (s *GameServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return mux
}

func (s *GameServer) Start() error {
	logger.Log.Infof("Game server listening on %s", s.addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting sockets, closes every room so running matches are
// recorded as aborted, then drops the remaining connections.
func (s *GameServer) Shutdown(ctx context.Context) error {
	s.mutex.Lock()
	if s.shuttingDown {
		s.mutex.Unlock()
		return nil
	}
	s.shuttingDown = true
	close(s.shutdownChan)
	s.mutex.Unlock()

	err := s.httpServer.Shutdown(ctx)
	s.roomManager.Shutdown()
	s.sessionManager.CloseAll()

	drained := make(chan struct{})
	go func() {
		s.conns.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-ctx.Done():
		if err == nil {
			err = ctx.Err()
		}
	}
	return err
}

func (s *GameServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	select {
	case <-s.shutdownChan:
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Log.Infof("Failed to upgrade connection: %v", err)
		return
	}

	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		userID = "guest-" + uuid.NewString()[:8]
	}
	name := r.URL.Query().Get("name")
	if name == "" {
		name = userID
	}

	s.conns.Add(1)
	defer s.conns.Done()
	s.handleConnection(network.NewWSConnection(conn), userID, name)
}

func (s *GameServer) handleConnection(wsConn *network.WSConnection, userID, name string) {
	sess := session.NewSession(uuid.NewString(), wsConn, s.sessionOpts)
	sess.UserID = userID
	sess.DisplayName = name
	if s.sessionOpts.Heartbeat > 0 {
		wsConn.SetHeartbeat(s.sessionOpts.Heartbeat)
	}
	s.sessionManager.Add(sess)
	if s.stats != nil {
		s.stats.ConnectionOpened()
	}

	logger.Log.Infof("New connection from %s, session ID: %s, user: %s", wsConn.RemoteAddr(), sess.GetID(), userID)

	defer func() {
		logger.Log.Infof("Connection closed from %s, session ID: %s", wsConn.RemoteAddr(), sess.GetID())
		s.sessionManager.Remove(sess.GetID())
		if s.stats != nil {
			s.stats.ConnectionClosed()
		}
		if r, ok := s.roomManager.RoomOfUser(userID); ok {
			r.Disconnect(userID, sess.GetID())
		}
		sess.Close()
	}()

	s.resume(sess)

	for {
		env, err := wsConn.ReadEnvelope()
		if err != nil {
			if errors.Is(err, network.ErrMalformedEnvelope) {
				s.replyError(sess, env, network.CodeMalformed, err.Error())
				continue
			}
			return
		}
		sess.Touch()
		env.Sender = sess.GetID()
		s.handleEnvelope(sess, env)
	}
}

// resume rebinds a returning user to the room they are still seated in,
// then closes the user's older sockets.
func (s *GameServer) resume(sess *session.Session) {
	r, ok := s.roomManager.RoomOfUser(sess.UserID)
	if !ok {
		return
	}
	if _, err := r.Reconnect(sess.UserID, sess); err != nil {
		logger.Log.Warnf("Resume %s into room %s failed: %v", sess.UserID, r.ID, err)
		return
	}
	for _, old := range s.sessionManager.GetByUserID(sess.UserID) {
		if old.GetID() != sess.GetID() {
			old.Close()
		}
	}
	logger.Log.Infof("User %s resumed room %s on session %s", sess.UserID, r.ID, sess.GetID())
}

func (s *GameServer) handleEnvelope(sess *session.Session, env *network.Envelope) {
	start := time.Now()
	if s.stats != nil {
		defer func() { s.stats.EnvelopeHandled(env.Game, env.Event, time.Since(start)) }()
	}

	if env.Event == network.EventHeartbeat {
		s.reply(sess, env, network.EventHeartbeat, nil)
		return
	}

	def, err := s.catalog.Lookup(env.Game)
	if err != nil {
		s.replyError(sess, env, network.CodeUnknownGame, err.Error())
		return
	}

	switch env.Event {
	case network.EventListRooms:
		s.handleListRooms(sess, env)
	case network.EventCreateRoom:
		s.handleCreateRoom(sess, env)
	case network.EventJoinRoom:
		s.handleJoinRoom(sess, env)
	case network.EventLeaveRoom:
		s.handleLeaveRoom(sess, env)
	case def.MoveEvent():
		s.handleMove(sess, env)
	default:
		s.replyError(sess, env, network.CodeUnknownEvent, "unknown event "+env.Name())
	}
}

func (s *GameServer) handleListRooms(sess *session.Session, env *network.Envelope) {
	sess.SetBrowsing(env.Game, true)
	s.reply(sess, env, network.EventRoomList, game.RoomListPayload{
		Game:  env.Game,
		Rooms: s.roomManager.ListRooms(env.Game),
	})
}

// ackJoin answers the request from inside the room, ahead of any event the
// join itself triggers.
func (s *GameServer) ackJoin(sess *session.Session, env *network.Envelope) func(game.RoomSnapshot) {
	return func(snap game.RoomSnapshot) {
		resp, err := env.Reply(network.EventRoomState, snap)
		if err != nil {
			logger.Log.Errorf("Encode room state for %s: %v", sess.UserID, err)
			return
		}
		resp.RoomID = snap.Room.ID
		sess.Send(resp)
	}
}

func (s *GameServer) handleCreateRoom(sess *session.Session, env *network.Envelope) {
	p := room.NewParticipant(sess.UserID, sess.DisplayName, sess)
	r, err := s.roomManager.CreateRoom(env.Game, p, s.ackJoin(sess, env))
	if err != nil {
		s.replyBusinessError(sess, env, err)
		return
	}
	sess.SetBrowsing(env.Game, false)
	logger.Log.Infof("Session %s created room %s", sess.GetID(), r.ID)
}

func (s *GameServer) handleJoinRoom(sess *session.Session, env *network.Envelope) {
	var req game.JoinRequest
	if err := env.Decode(&req); err != nil {
		s.replyError(sess, env, network.CodeMalformed, err.Error())
		return
	}
	roomID := req.RoomID
	if roomID == "" {
		roomID = env.RoomID
	}
	if r, ok := s.roomManager.GetRoom(roomID); ok && r.Def.Type != env.Game {
		s.replyError(sess, env, network.CodeRoomNotFound, room.ErrRoomNotFound.Error())
		return
	}

	p := room.NewParticipant(sess.UserID, sess.DisplayName, sess)
	if _, err := s.roomManager.JoinRoom(roomID, p, s.ackJoin(sess, env)); err != nil {
		s.replyBusinessError(sess, env, err)
		return
	}
	sess.SetBrowsing(env.Game, false)
	logger.Log.Infof("Session %s joined room %s", sess.GetID(), roomID)
}

func (s *GameServer) handleLeaveRoom(sess *session.Session, env *network.Envelope) {
	if err := s.roomManager.LeaveRoom(sess.UserID); err != nil {
		s.replyBusinessError(sess, env, err)
		return
	}
	s.reply(sess, env, network.EventLeaveRoom, nil)
}

func (s *GameServer) handleMove(sess *session.Session, env *network.Envelope) {
	r, ok := s.roomManager.RoomOfUser(sess.UserID)
	if !ok || r.Def.Type != env.Game || (env.RoomID != "" && env.RoomID != r.ID) {
		s.replyError(sess, env, network.CodeNotParticipant, room.ErrNotParticipant.Error())
		return
	}
	if err := r.SubmitMove(sess.UserID, env.Sender, env.Payload); err != nil {
		s.replyBusinessError(sess, env, err)
	}
}

func (s *GameServer) reply(sess *session.Session, req *network.Envelope, event string, payload any) {
	resp, err := req.Reply(event, payload)
	if err != nil {
		logger.Log.Errorf("Encode %s reply: %v", event, err)
		return
	}
	sess.Send(resp)
}

// replyError answers the sender only. req may be nil for undecodable frames.
func (s *GameServer) replyError(sess *session.Session, req *network.Envelope, code, message string) {
	if req == nil {
		req = &network.Envelope{}
	}
	sess.Send(req.ErrorReply(code, message))
}

func (s *GameServer) replyBusinessError(sess *session.Session, req *network.Envelope, err error) {
	code := ErrorCode(err)
	if code == network.CodeInternal {
		logger.Log.Errorf("Handling %s for %s: %v", req.Name(), sess.UserID, err)
	}
	s.replyError(sess, req, code, err.Error())
}

// ErrorCode maps a room or protocol error to its wire code.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, network.ErrMalformedEnvelope):
		return network.CodeMalformed
	case errors.Is(err, game.ErrUnknownGame):
		return network.CodeUnknownGame
	case errors.Is(err, room.ErrRoomNotFound), errors.Is(err, room.ErrRoomClosed):
		return network.CodeRoomNotFound
	case errors.Is(err, room.ErrRoomFull):
		return network.CodeRoomFull
	case errors.Is(err, room.ErrInvalidState):
		return network.CodeInvalidState
	case errors.Is(err, room.ErrNotYourTurn):
		return network.CodeNotYourTurn
	case errors.Is(err, room.ErrCapacityExceeded):
		return network.CodeCapacityExceeded
	case errors.Is(err, room.ErrNotParticipant):
		return network.CodeNotParticipant
	case errors.Is(err, room.ErrAlreadyInRoom):
		return network.CodeAlreadyInRoom
	case errors.Is(err, room.ErrMoveRejected):
		return network.CodeMoveRejected
	default:
		return network.CodeInternal
	}
}
