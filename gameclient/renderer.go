package gameclient

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/wfunc/arcaderoom/game"
)

// Reason kinds handed to a Renderer.
const (
	KindWin     = "win"
	KindLoss    = "loss"
	KindDraw    = "draw"
	KindAborted = "aborted"
	KindError   = "error"
)

// Reason is a structured end-of-match or failure cause. Code is a network
// error code when one applies; Text is the dialog line for the game.
type Reason struct {
	Kind    string
	Code    string
	Message string
	Text    string
}

// Renderer is the presentation surface driven by a RoomController.
type Renderer interface {
	ShowRoomList(rooms []game.RoomSummary)
	ShowRoom(snap game.RoomSnapshot)
	ShowGameStart(start game.StartPayload, you game.Side)
	ShowMove(move game.MovePayload, you game.Side)
	ShowPresence(event string, p game.PresencePayload)
	ShowGameOver(reason Reason)
	ShowAborted(reason Reason)
	ShowError(reason Reason)
}

// TextRenderer writes plain lines; the game's Dialogs supply the wording.
type TextRenderer struct {
	mu      sync.Mutex
	w       io.Writer
	dialogs game.Dialogs
}

func NewTextRenderer(w io.Writer, dialogs game.Dialogs) *TextRenderer {
	return &TextRenderer{w: w, dialogs: dialogs}
}

func (r *TextRenderer) printf(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.w, "[%s] "+format+"\n", append([]any{r.dialogs.Title}, args...)...)
}

func (r *TextRenderer) ShowRoomList(rooms []game.RoomSummary) {
	if len(rooms) == 0 {
		r.printf("no open rooms")
		return
	}
	for _, room := range rooms {
		r.printf("%s  %d/%d  %s", room.ID, room.Participants, room.MaxParticipants, room.Phase)
	}
}

func (r *TextRenderer) ShowRoom(snap game.RoomSnapshot) {
	names := make([]string, 0, len(snap.Seats))
	for _, s := range snap.Seats {
		name := s.DisplayName
		if !s.Connected {
			name += " (away)"
		}
		names = append(names, name)
	}
	r.printf("room %s %s: %s", snap.Room.ID, snap.Room.Phase, strings.Join(names, ", "))
}

func (r *TextRenderer) ShowGameStart(start game.StartPayload, you game.Side) {
	if start.TurnBased && start.TurnOwner == you {
		r.printf("match started, your move")
		return
	}
	r.printf("match started")
}

func (r *TextRenderer) ShowMove(move game.MovePayload, you game.Side) {
	who := move.Move.UserID
	if move.Move.Side == you {
		who = "you"
	}
	r.printf("#%d %s: %s", move.Move.Seq, who, string(move.Move.Payload))
}

func (r *TextRenderer) ShowPresence(event string, p game.PresencePayload) {
	if p.GraceMS > 0 {
		r.printf("%s %s, waiting %dms", p.UserID, event, p.GraceMS)
		return
	}
	r.printf("%s %s", p.UserID, event)
}

func (r *TextRenderer) ShowGameOver(reason Reason) {
	r.printf("%s (%s)", reason.Text, reason.Message)
}

func (r *TextRenderer) ShowAborted(reason Reason) {
	r.printf("%s: %s", reason.Text, reason.Message)
}

func (r *TextRenderer) ShowError(reason Reason) {
	r.printf("error %s: %s", reason.Code, reason.Message)
}

// DialogText picks the configured line for a reason kind.
func DialogText(d game.Dialogs, kind string) string {
	switch kind {
	case KindWin:
		return d.WinText
	case KindLoss:
		return d.LossText
	case KindDraw:
		return d.DrawText
	case KindAborted:
		return d.AbortText
	default:
		return ""
	}
}
