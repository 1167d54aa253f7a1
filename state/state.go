package state

import (
	"encoding/json"
	"errors"
	"sync"
)

// Phase identifies a state of the room session lifecycle.
type Phase string

const (
	PhaseWaiting    Phase = "WAITING"
	PhaseReady      Phase = "READY"
	PhaseInProgress Phase = "IN_PROGRESS"
	PhaseFinished   Phase = "FINISHED"
	PhaseAborted    Phase = "ABORTED"
	PhaseClosed     Phase = "CLOSED"
)

// Terminal reports whether no further moves can ever be accepted.
func (p Phase) Terminal() bool {
	return p == PhaseFinished || p == PhaseAborted || p == PhaseClosed
}

// 状态机接口
type StateMachine interface {
	ChangeState(state State) error
	GetCurrentState() State
	AddTransition(from, to Phase, condition func() bool) error
}

// State is one phase of a room. Handlers run on the room's serialized event
// stream and never concurrently.
type State interface {
	OnEnter()
	OnExit()
	GetID() Phase
	HandleJoin(player Player) error
	HandleLeave(player Player) error
	HandleMove(player Player, payload json.RawMessage) error
	HandleDisconnect(player Player)
	HandleReconnect(player Player)
	HandleShutdown()
}

var (
	// ErrTransitionNotAllowed is returned when a state transition is not allowed.
	ErrTransitionNotAllowed = errors.New("state transition not allowed")
	ErrInvalidState         = errors.New("operation not allowed in current room state")
	ErrRoomFull             = errors.New("room is full")
	ErrNotYourTurn          = errors.New("not your turn")
	ErrMoveRejected         = errors.New("move rejected")
	ErrResultAlreadySet     = errors.New("match result already set")
)

// BaseStateMachine switches between states. Once a transition is declared
// from a phase, the declared targets are the only ones reachable from it.
type BaseStateMachine struct {
	currentState State
	transitions  map[Phase]map[Phase]func() bool // fromState -> toState -> condition
	mutex        sync.RWMutex
}

func NewBaseStateMachine(initialState State) *BaseStateMachine {
	machine := &BaseStateMachine{
		currentState: initialState,
		transitions:  make(map[Phase]map[Phase]func() bool),
	}
	initialState.OnEnter()
	return machine
}

// NewSessionMachine builds the room lifecycle machine:
// WAITING → READY → IN_PROGRESS → {FINISHED | ABORTED} → CLOSED.
func NewSessionMachine(initialState State) *BaseStateMachine {
	machine := &BaseStateMachine{
		currentState: initialState,
		transitions:  make(map[Phase]map[Phase]func() bool),
	}
	for from, targets := range map[Phase][]Phase{
		PhaseWaiting:    {PhaseReady, PhaseClosed},
		PhaseReady:      {PhaseWaiting, PhaseInProgress, PhaseAborted, PhaseClosed},
		PhaseInProgress: {PhaseFinished, PhaseAborted},
		PhaseFinished:   {PhaseClosed},
		PhaseAborted:    {PhaseClosed},
	} {
		for _, to := range targets {
			machine.AddTransition(from, to, nil)
		}
	}
	machine.DeclareTerminal(PhaseClosed)
	initialState.OnEnter()
	return machine
}

// ChangeState swaps the current state. OnExit and OnEnter run after the lock
// is released, so an OnEnter may itself change state.
func (sm *BaseStateMachine) ChangeState(newState State) error {
	sm.mutex.Lock()
	currentID := sm.currentState.GetID()
	newID := newState.GetID()

	if conditions, exists := sm.transitions[currentID]; exists {
		condition, declared := conditions[newID]
		if !declared || (condition != nil && !condition()) {
			sm.mutex.Unlock()
			return ErrTransitionNotAllowed
		}
	}

	old := sm.currentState
	sm.currentState = newState
	sm.mutex.Unlock()

	old.OnExit()
	newState.OnEnter()
	return nil
}

func (sm *BaseStateMachine) GetCurrentState() State {
	sm.mutex.RLock()
	defer sm.mutex.RUnlock()
	return sm.currentState
}

// Phase is a shortcut for GetCurrentState().GetID().
func (sm *BaseStateMachine) Phase() Phase {
	return sm.GetCurrentState().GetID()
}

func (sm *BaseStateMachine) AddTransition(from, to Phase, condition func() bool) error {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	if _, exists := sm.transitions[from]; !exists {
		sm.transitions[from] = make(map[Phase]func() bool)
	}

	sm.transitions[from][to] = condition
	return nil
}

// DeclareTerminal forbids every transition out of phase.
func (sm *BaseStateMachine) DeclareTerminal(phase Phase) {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()
	sm.transitions[phase] = make(map[Phase]func() bool)
}

// 房间状态基础结构
type RoomStateBase struct {
	ID   Phase
	Room RoomContext
}

func (s *RoomStateBase) GetID() Phase {
	return s.ID
}

func (s *RoomStateBase) OnEnter() {
	// 默认实现
}

func (s *RoomStateBase) OnExit() {
	// 默认实现
}

// HandleJoin refuses joins outside WAITING; only WaitingState seats players.
func (s *RoomStateBase) HandleJoin(player Player) error {
	return ErrInvalidState
}

func (s *RoomStateBase) HandleLeave(player Player) error {
	return ErrInvalidState
}

func (s *RoomStateBase) HandleMove(player Player, payload json.RawMessage) error {
	return ErrInvalidState
}

func (s *RoomStateBase) HandleDisconnect(player Player) {}

func (s *RoomStateBase) HandleReconnect(player Player) {}

func (s *RoomStateBase) HandleShutdown() {}
