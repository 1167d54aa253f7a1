package state

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/wfunc/arcaderoom/game"
	"github.com/wfunc/arcaderoom/logger"
	"github.com/wfunc/arcaderoom/network"
)

// Seats renders the room's participants for the wire.
func Seats(room RoomContext) []game.Seat {
	players := room.Players()
	seats := make([]game.Seat, 0, len(players))
	for _, p := range players {
		seats = append(seats, game.Seat{
			UserID:      p.GetUserID(),
			DisplayName: p.GetDisplayName(),
			Side:        p.GetSide(),
			Connected:   p.IsConnected(),
		})
	}
	return seats
}

func allConnected(room RoomContext) bool {
	for _, p := range room.Players() {
		if !p.IsConnected() {
			return false
		}
	}
	return true
}

func playerBySide(room RoomContext, side game.Side) Player {
	for _, p := range room.Players() {
		if p.GetSide() == side {
			return p
		}
	}
	return nil
}

func playerByUser(room RoomContext, userID string) Player {
	for _, p := range room.Players() {
		if p.GetUserID() == userID {
			return p
		}
	}
	return nil
}

// NewWaitingState creates a new waiting state.
func NewWaitingState(room RoomContext) *WaitingState {
	return &WaitingState{
		RoomStateBase: RoomStateBase{
			ID:   PhaseWaiting,
			Room: room,
		},
	}
}

// 等待状态
type WaitingState struct {
	RoomStateBase
}

func (s *WaitingState) HandleJoin(player Player) error {
	if err := s.Room.AddPlayer(player); err != nil {
		return err
	}
	// 房间已满，进入准备状态
	if len(s.Room.Players()) >= s.Room.Game().MaxParticipants {
		return s.Room.ChangeState(NewReadyState(s.Room))
	}
	return nil
}

// HandleLeave closes the room when the creator cancels or the last
// participant goes.
func (s *WaitingState) HandleLeave(player Player) error {
	players := s.Room.Players()
	creator := len(players) > 0 && players[0].GetUserID() == player.GetUserID()
	s.Room.RemovePlayer(player)
	if creator || len(s.Room.Players()) == 0 {
		return s.Room.ChangeState(NewClosedState(s.Room))
	}
	return nil
}

// A waiting room holds no seat for a dropped connection.
func (s *WaitingState) HandleDisconnect(player Player) {
	if err := s.HandleLeave(player); err != nil {
		logger.Log.Errorf("room %s: drop %s while waiting: %v", s.Room.GetID(), player.GetUserID(), err)
	}
}

func (s *WaitingState) HandleShutdown() {
	s.Room.ChangeState(NewClosedState(s.Room))
}

// NewReadyState creates the state between a full room and the first move.
func NewReadyState(room RoomContext) *ReadyState {
	return &ReadyState{
		RoomStateBase: RoomStateBase{
			ID:   PhaseReady,
			Room: room,
		},
	}
}

// 准备状态: sides are assigned and the match starts as soon as everyone is
// connected, or aborts when the grace window runs out first.
type ReadyState struct {
	RoomStateBase
	cancel   func()
	starting bool
	exited   bool
}

func (s *ReadyState) OnEnter() {
	s.Room.AssignSides()
	if allConnected(s.Room) {
		s.scheduleStart()
		return
	}
	s.cancel = s.Room.After(s.Room.Timing().ReadyGrace, s.graceExpired)
}

func (s *ReadyState) OnExit() {
	s.exited = true
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *ReadyState) scheduleStart() {
	if s.starting {
		return
	}
	s.starting = true
	s.Room.Defer(func() {
		if s.exited {
			return
		}
		if err := s.Room.ChangeState(NewInProgressState(s.Room)); err != nil {
			logger.Log.Errorf("room %s: start match: %v", s.Room.GetID(), err)
		}
	})
}

func (s *ReadyState) graceExpired() {
	if s.exited || s.starting {
		return
	}
	if allConnected(s.Room) {
		s.scheduleStart()
		return
	}
	var forfeiter game.Side = game.NoSide
	for _, p := range s.Room.Players() {
		if !p.IsConnected() {
			forfeiter = p.GetSide()
			break
		}
	}
	s.Room.ChangeState(NewAbortedState(s.Room, game.Aborted(game.ReasonDisconnect, forfeiter)))
}

// HandleLeave sends the room back to WAITING for the participants left.
func (s *ReadyState) HandleLeave(player Player) error {
	s.Room.RemovePlayer(player)
	if len(s.Room.Players()) == 0 {
		return s.Room.ChangeState(NewClosedState(s.Room))
	}
	return s.Room.ChangeState(NewWaitingState(s.Room))
}

func (s *ReadyState) HandleReconnect(player Player) {
	if allConnected(s.Room) {
		s.scheduleStart()
	}
}

func (s *ReadyState) HandleShutdown() {
	s.Room.ChangeState(NewClosedState(s.Room))
}

// NewInProgressState creates the state that accepts moves.
func NewInProgressState(room RoomContext) *InProgressState {
	return &InProgressState{
		RoomStateBase: RoomStateBase{
			ID:   PhaseInProgress,
			Room: room,
		},
		abortTimers: make(map[string]func()),
	}
}

// 游戏进行状态
type InProgressState struct {
	RoomStateBase
	rules       game.Rules
	abortTimers map[string]func() // userID -> cancel
	exited      bool
}

func (s *InProgressState) OnEnter() {
	def := s.Room.Game()
	s.rules = def.NewRules()
	match := s.Room.Match()
	match.start(time.Now(), 0)

	logger.Log.Infof("room %s: %s match started with %d participants", s.Room.GetID(), def.Type, len(s.Room.Players()))
	s.Room.Broadcast(network.EventGameStart, game.StartPayload{
		Seats:     Seats(s.Room),
		TurnOwner: match.TurnOwner(),
		TurnBased: def.TurnBased,
	})

	for _, p := range s.Room.Players() {
		if !p.IsConnected() {
			s.HandleDisconnect(p)
		}
	}
}

func (s *InProgressState) OnExit() {
	s.exited = true
	for userID, cancel := range s.abortTimers {
		cancel()
		delete(s.abortTimers, userID)
	}
}

// HandleMove checks turn ownership, consults the rules and appends the move.
// A rejected move leaves the history untouched.
func (s *InProgressState) HandleMove(player Player, payload json.RawMessage) error {
	def := s.Room.Game()
	match := s.Room.Match()
	if def.TurnBased && player.GetSide() != match.TurnOwner() {
		return ErrNotYourTurn
	}

	participants := len(s.Room.Players())
	move := game.Move{
		Seq:     match.Len() + 1,
		Side:    player.GetSide(),
		UserID:  player.GetUserID(),
		Payload: payload,
		At:      time.Now(),
	}
	verdict := s.rules.ApplyMove(match.View(participants), move)
	if !verdict.Accepted {
		return fmt.Errorf("%w: %s", ErrMoveRejected, verdict.Reason)
	}

	match.append(move)
	if def.TurnBased {
		match.advanceTurn(participants)
	}
	s.Room.Broadcast(def.MoveEvent(), game.MovePayload{Move: move, TurnOwner: match.TurnOwner()})

	if verdict.Terminal != nil {
		outcome := *verdict.Terminal
		if outcome.Kind == game.ResultAborted {
			return s.Room.ChangeState(NewAbortedState(s.Room, outcome))
		}
		return s.Room.ChangeState(NewFinishedState(s.Room, outcome))
	}
	return nil
}

// HandleLeave is a forfeit.
func (s *InProgressState) HandleLeave(player Player) error {
	return s.Room.ChangeState(NewAbortedState(s.Room, game.Aborted(game.ReasonForfeit, player.GetSide())))
}

func (s *InProgressState) HandleDisconnect(player Player) {
	userID := player.GetUserID()
	if _, armed := s.abortTimers[userID]; armed {
		return
	}
	grace := s.Room.Timing().AbortGrace
	s.Room.BroadcastExcept(player, network.EventOpponentDisconnect, game.PresencePayload{
		UserID:  userID,
		Side:    player.GetSide(),
		GraceMS: grace.Milliseconds(),
	})
	s.abortTimers[userID] = s.Room.After(grace, func() { s.abortExpired(userID) })
}

func (s *InProgressState) abortExpired(userID string) {
	if s.exited {
		return
	}
	delete(s.abortTimers, userID)
	p := playerByUser(s.Room, userID)
	if p == nil || p.IsConnected() {
		return
	}
	logger.Log.Infof("room %s: %s did not come back, aborting", s.Room.GetID(), userID)
	s.Room.ChangeState(NewAbortedState(s.Room, game.Aborted(game.ReasonDisconnect, p.GetSide())))
}

func (s *InProgressState) HandleReconnect(player Player) {
	userID := player.GetUserID()
	if cancel, armed := s.abortTimers[userID]; armed {
		cancel()
		delete(s.abortTimers, userID)
	}
	s.Room.BroadcastExcept(player, network.EventOpponentReconnected, game.PresencePayload{
		UserID: userID,
		Side:   player.GetSide(),
	})
}

func (s *InProgressState) HandleShutdown() {
	s.Room.ChangeState(NewAbortedState(s.Room, game.Aborted(game.ReasonShutdown, game.NoSide)))
}

// NewFinishedState ends the match on a rules verdict.
func NewFinishedState(room RoomContext, outcome game.Outcome) *TerminalState {
	return newTerminalState(room, PhaseFinished, outcome)
}

// NewAbortedState ends the match for a non-rules reason.
func NewAbortedState(room RoomContext, outcome game.Outcome) *TerminalState {
	return newTerminalState(room, PhaseAborted, outcome)
}

func newTerminalState(room RoomContext, phase Phase, outcome game.Outcome) *TerminalState {
	return &TerminalState{
		RoomStateBase: RoomStateBase{
			ID:   phase,
			Room: room,
		},
		Outcome: outcome,
	}
}

// TerminalState is FINISHED or ABORTED: the result is fixed, participants are
// told, and the room closes after the close grace.
type TerminalState struct {
	RoomStateBase
	Outcome game.Outcome
	cancel  func()
	exited  bool
}

func (s *TerminalState) OnEnter() {
	if err := s.Room.Match().setResult(s.Outcome, time.Now()); err != nil {
		logger.Log.Errorf("room %s: %v", s.Room.GetID(), err)
		return
	}

	if s.ID == PhaseFinished {
		results := make(map[string]string)
		for _, p := range s.Room.Players() {
			results[p.GetUserID()] = s.Outcome.KindFor(p.GetSide())
		}
		s.Room.Broadcast(network.EventGameOver, game.OverPayload{Outcome: s.Outcome, Results: results})
	} else {
		payload := game.AbortPayload{Reason: s.Outcome.Reason}
		forfeiter := playerBySide(s.Room, s.Outcome.Forfeiter)
		if forfeiter != nil {
			payload.Forfeiter = forfeiter.GetUserID()
		}
		// a player who walked out has its leaveRoom reply instead
		if forfeiter != nil && s.Outcome.Reason == game.ReasonForfeit {
			s.Room.BroadcastExcept(forfeiter, network.EventAborted, payload)
		} else {
			s.Room.Broadcast(network.EventAborted, payload)
		}
	}
	s.Room.ReportOutcome(s.Outcome)

	s.cancel = s.Room.After(s.Room.Timing().CloseGrace, func() {
		if !s.exited {
			s.Room.ChangeState(NewClosedState(s.Room))
		}
	})
}

func (s *TerminalState) OnExit() {
	s.exited = true
	if s.cancel != nil {
		s.cancel()
	}
}

// HandleLeave is accepted; the room closes early once nobody is listening.
func (s *TerminalState) HandleLeave(player Player) error {
	for _, p := range s.Room.Players() {
		if p.GetUserID() != player.GetUserID() && p.IsConnected() {
			return nil
		}
	}
	return s.Room.ChangeState(NewClosedState(s.Room))
}

func (s *TerminalState) HandleShutdown() {
	s.Room.ChangeState(NewClosedState(s.Room))
}

// NewClosedState creates the final state.
func NewClosedState(room RoomContext) *ClosedState {
	return &ClosedState{
		RoomStateBase: RoomStateBase{
			ID:   PhaseClosed,
			Room: room,
		},
	}
}

// 关闭状态
type ClosedState struct {
	RoomStateBase
}

func (s *ClosedState) OnEnter() {
	s.Room.Release()
}

func (s *ClosedState) HandleJoin(player Player) error {
	return ErrInvalidState
}
