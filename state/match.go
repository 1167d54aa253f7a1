package state

import (
	"time"

	"github.com/wfunc/arcaderoom/game"
)

// Match is the session state of one room: turn owner, move history and the
// result. History only grows from the IN_PROGRESS state and the result is
// written once.
type Match struct {
	turnOwner game.Side
	moves     []game.Move
	startedAt time.Time
	endedAt   time.Time
	result    *game.Outcome
}

func NewMatch() *Match {
	return &Match{turnOwner: game.NoSide}
}

func (m *Match) TurnOwner() game.Side { return m.turnOwner }

func (m *Match) StartedAt() time.Time { return m.startedAt }

func (m *Match) EndedAt() time.Time { return m.endedAt }

func (m *Match) Len() int { return len(m.moves) }

// Moves returns a copy of the history.
func (m *Match) Moves() []game.Move {
	out := make([]game.Move, len(m.moves))
	copy(out, m.moves)
	return out
}

func (m *Match) Result() (game.Outcome, bool) {
	if m.result == nil {
		return game.Outcome{}, false
	}
	return *m.result, true
}

func (m *Match) View(participants int) game.View {
	return game.View{Participants: participants, TurnOwner: m.turnOwner, Moves: m.Moves()}
}

func (m *Match) start(at time.Time, first game.Side) {
	m.startedAt = at
	m.turnOwner = first
}

func (m *Match) append(mv game.Move) {
	if m.result != nil {
		panic("state: move appended to a match with a result")
	}
	m.moves = append(m.moves, mv)
}

func (m *Match) advanceTurn(participants int) {
	if participants > 0 {
		m.turnOwner = game.Side((int(m.turnOwner) + 1) % participants)
	}
}

func (m *Match) setResult(o game.Outcome, at time.Time) error {
	if m.result != nil {
		return ErrResultAlreadySet
	}
	m.result = &o
	m.endedAt = at
	return nil
}
