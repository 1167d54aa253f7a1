// Package game holds what differs between game types: capacity, turn model,
// the rules collaborator and the dialog texts shown at the end of a match.
package game

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/wfunc/arcaderoom/network"
)

// Side is a participant's seat. Side 0 is the creator and moves first.
type Side int

// NoSide marks the absence of a winner.
const NoSide Side = -1

type ResultKind string

const (
	ResultWin     ResultKind = "win"
	ResultDraw    ResultKind = "draw"
	ResultAborted ResultKind = "aborted"
)

// Abort reasons reported to participants and recorders.
const (
	ReasonDisconnect = "opponent disconnected"
	ReasonForfeit    = "opponent forfeited"
	ReasonError      = "room error"
	ReasonShutdown   = "server shutting down"
)

// Move is one accepted entry of a match's history.
type Move struct {
	Seq     int             `json:"seq"`
	Side    Side            `json:"side"`
	UserID  string          `json:"userId"`
	Payload json.RawMessage `json:"payload"`
	At      time.Time       `json:"at"`
}

// Outcome is the terminal determination of a match. Winner is NoSide for
// draws and aborts. Forfeiter is set when a participant left a running match.
type Outcome struct {
	Kind      ResultKind `json:"kind"`
	Winner    Side       `json:"winner"`
	Reason    string     `json:"reason,omitempty"`
	Forfeiter Side       `json:"forfeiter"`
}

func Win(winner Side, reason string) Outcome {
	return Outcome{Kind: ResultWin, Winner: winner, Reason: reason, Forfeiter: NoSide}
}

func Draw(reason string) Outcome {
	return Outcome{Kind: ResultDraw, Winner: NoSide, Reason: reason, Forfeiter: NoSide}
}

func Aborted(reason string, forfeiter Side) Outcome {
	return Outcome{Kind: ResultAborted, Winner: NoSide, Reason: reason, Forfeiter: forfeiter}
}

// KindFor reports the outcome as seen from side: win, loss, draw or aborted.
func (o Outcome) KindFor(side Side) string {
	switch o.Kind {
	case ResultWin:
		if o.Winner == side {
			return "win"
		}
		return "loss"
	default:
		return string(o.Kind)
	}
}

// Verdict is the rules engine's answer to a proposed move.
type Verdict struct {
	Accepted bool
	Reason   string
	Terminal *Outcome
}

func Accept() Verdict { return Verdict{Accepted: true} }

func Reject(format string, args ...any) Verdict {
	return Verdict{Reason: fmt.Sprintf(format, args...)}
}

// Finish accepts the move and ends the match with o.
func Finish(o Outcome) Verdict { return Verdict{Accepted: true, Terminal: &o} }

// View is the read-only session state handed to a rules engine.
type View struct {
	Participants int
	TurnOwner    Side
	Moves        []Move
}

// Rules decides move legality and terminal conditions for one match.
// An instance is created per match and only ever called from that match's
// serialized event stream.
type Rules interface {
	ApplyMove(view View, move Move) Verdict
}

// Dialogs is presentation data for the end-of-game and abort dialogs.
type Dialogs struct {
	Title       string `json:"title"`
	AccentColor string `json:"accentColor"`
	WinText     string `json:"winText"`
	LossText    string `json:"lossText"`
	DrawText    string `json:"drawText"`
	AbortText   string `json:"abortText"`
}

// Definition configures one game type.
type Definition struct {
	Type            string
	MaxParticipants int
	TurnBased       bool
	NewRules        func() Rules
	Dialogs         Dialogs
}

// MoveEvent is the event name clients use to submit and receive moves.
func (d *Definition) MoveEvent() string {
	if d.TurnBased {
		return network.EventMove
	}
	return network.EventUpdate
}

var ErrUnknownGame = errors.New("unknown game type")

// Catalog maps game types to their definitions.
type Catalog struct {
	mu    sync.RWMutex
	games map[string]*Definition
}

func NewCatalog(defs ...*Definition) *Catalog {
	c := &Catalog{games: make(map[string]*Definition)}
	for _, d := range defs {
		c.Register(d)
	}
	return c
}

func (c *Catalog) Register(def *Definition) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.games[def.Type] = def
}

func (c *Catalog) Lookup(gameType string) (*Definition, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	def, ok := c.games[gameType]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownGame, gameType)
	}
	return def, nil
}

func (c *Catalog) Types() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	types := make([]string, 0, len(c.games))
	for t := range c.games {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
