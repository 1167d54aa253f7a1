// Package pingpong is the rules collaborator for the continuous paddle game.
// Clients simulate the ball; the side that misses reports it, and the
// creator's side is authoritative for ball state.
package pingpong

import (
	"encoding/json"

	"github.com/wfunc/arcaderoom/game"
)

const (
	Type        = "pingpong"
	PointsToWin = 5
)

const (
	KindPaddle = "paddle"
	KindBall   = "ball"
	KindMiss   = "miss"
)

// Update is the move payload.
type Update struct {
	Kind string  `json:"kind"`
	Y    float64 `json:"y,omitempty"`
	X    float64 `json:"x,omitempty"`
	VX   float64 `json:"vx,omitempty"`
	VY   float64 `json:"vy,omitempty"`
}

type Rules struct {
	target int
	score  [2]int
}

func NewRules() game.Rules {
	return &Rules{target: PointsToWin}
}

func (r *Rules) ApplyMove(view game.View, move game.Move) game.Verdict {
	var u Update
	if err := json.Unmarshal(move.Payload, &u); err != nil {
		return game.Reject("invalid update payload")
	}
	if move.Side < 0 || move.Side > 1 {
		return game.Reject("side %d has no paddle", move.Side)
	}

	switch u.Kind {
	case KindPaddle:
		if u.Y < 0 || u.Y > 1 {
			return game.Reject("paddle position %.2f out of range", u.Y)
		}
		return game.Accept()
	case KindBall:
		if move.Side != 0 {
			return game.Reject("only the host reports ball state")
		}
		return game.Accept()
	case KindMiss:
		scorer := 1 - move.Side
		r.score[scorer]++
		if r.score[scorer] >= r.target {
			return game.Finish(game.Win(scorer, "reached point target"))
		}
		return game.Accept()
	default:
		return game.Reject("unknown update kind %q", u.Kind)
	}
}

// Score returns the current points of each side.
func (r *Rules) Score() [2]int {
	return r.score
}

func Definition() *game.Definition {
	return &game.Definition{
		Type:            Type,
		MaxParticipants: 2,
		TurnBased:       false,
		NewRules:        NewRules,
		Dialogs: game.Dialogs{
			Title:       "Ping Pong",
			AccentColor: "#1e90ff",
			WinText:     "Game, set, match! You win.",
			LossText:    "Your opponent took the match.",
			DrawText:    "Even match.",
			AbortText:   "The rally was interrupted",
		},
	}
}
