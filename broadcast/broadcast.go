// broadcast/broadcast.go
package broadcast

import (
	"github.com/wfunc/arcaderoom/game"
	"github.com/wfunc/arcaderoom/logger"
	"github.com/wfunc/arcaderoom/network"
	"github.com/wfunc/arcaderoom/room"
	"github.com/wfunc/arcaderoom/session"
)

// 大厅广播器: pushes room-list deltas to every session browsing a game's lobby.
type LobbyBroadcaster struct {
	sessionManager *session.Manager
}

var _ room.LobbyNotifier = (*LobbyBroadcaster)(nil)

func NewLobbyBroadcaster(sessionManager *session.Manager) *LobbyBroadcaster {
	return &LobbyBroadcaster{sessionManager: sessionManager}
}

func (b *LobbyBroadcaster) RoomChanged(gameType string, delta game.RoomDelta) {
	env, err := network.NewEnvelope(gameType, network.EventRoomListDelta, "", delta)
	if err != nil {
		logger.Log.Errorf("Error encoding lobby delta: %v", err)
		return
	}

	for _, s := range b.sessionManager.Browsing(gameType) {
		if err := s.Send(env); err != nil {
			// 处理发送错误, the session is already closing
			continue
		}
	}
}

// Fanout forwards lobby deltas to several notifiers.
type Fanout []room.LobbyNotifier

func (f Fanout) RoomChanged(gameType string, delta game.RoomDelta) {
	for _, n := range f {
		if n != nil {
			n.RoomChanged(gameType, delta)
		}
	}
}
