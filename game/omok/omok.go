// Package omok is the five-in-a-row rules collaborator.
package omok

import (
	"encoding/json"

	"github.com/wfunc/arcaderoom/game"
)

const (
	Type      = "omok"
	BoardSize = 15
	winLength = 5
)

// Stone is the move payload: a board coordinate.
type Stone struct {
	X int `json:"x"`
	Y int `json:"y"`
}

type Rules struct {
	board  [BoardSize][BoardSize]int8
	placed int
}

func NewRules() game.Rules {
	return &Rules{}
}

func (r *Rules) ApplyMove(view game.View, move game.Move) game.Verdict {
	var s Stone
	if err := json.Unmarshal(move.Payload, &s); err != nil {
		return game.Reject("invalid stone payload")
	}
	if s.X < 0 || s.X >= BoardSize || s.Y < 0 || s.Y >= BoardSize {
		return game.Reject("(%d,%d) is off the board", s.X, s.Y)
	}
	if r.board[s.Y][s.X] != 0 {
		return game.Reject("(%d,%d) is occupied", s.X, s.Y)
	}

	mark := int8(move.Side) + 1
	r.board[s.Y][s.X] = mark
	r.placed++

	if r.fiveFrom(s.X, s.Y, mark) {
		return game.Finish(game.Win(move.Side, "five in a row"))
	}
	if r.placed == BoardSize*BoardSize {
		return game.Finish(game.Draw("board full"))
	}
	return game.Accept()
}

var directions = [4][2]int{{1, 0}, {0, 1}, {1, 1}, {1, -1}}

func (r *Rules) fiveFrom(x, y int, mark int8) bool {
	for _, d := range directions {
		count := 1 + r.run(x, y, d[0], d[1], mark) + r.run(x, y, -d[0], -d[1], mark)
		if count >= winLength {
			return true
		}
	}
	return false
}

func (r *Rules) run(x, y, dx, dy int, mark int8) int {
	n := 0
	for {
		x, y = x+dx, y+dy
		if x < 0 || x >= BoardSize || y < 0 || y >= BoardSize || r.board[y][x] != mark {
			return n
		}
		n++
	}
}

func Definition() *game.Definition {
	return &game.Definition{
		Type:            Type,
		MaxParticipants: 2,
		TurnBased:       true,
		NewRules:        NewRules,
		Dialogs: game.Dialogs{
			Title:       "Omok",
			AccentColor: "#3b2f2f",
			WinText:     "Five in a row! You win.",
			LossText:    "Your opponent connected five.",
			DrawText:    "The board is full. It's a draw.",
			AbortText:   "The match was called off",
		},
	}
}
