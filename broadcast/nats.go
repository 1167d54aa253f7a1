package broadcast

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/wfunc/arcaderoom/game"
	"github.com/wfunc/arcaderoom/logger"
	"github.com/wfunc/arcaderoom/models"
	"github.com/wfunc/arcaderoom/room"
)

// NATSPublisher mirrors lobby deltas and match results onto NATS subjects
// <prefix>.<game>.lobby and <prefix>.<game>.results.
type NATSPublisher struct {
	conn   *nats.Conn
	prefix string
}

var _ room.LobbyNotifier = (*NATSPublisher)(nil)

// ConnectNATS dials url with unlimited reconnects.
func ConnectNATS(url string) (*nats.Conn, error) {
	return nats.Connect(
		url,
		nats.Name("arcaderoom"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Log.Warnf("NATS disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Log.Infof("NATS reconnected to %s", nc.ConnectedUrl())
		}),
	)
}

func NewNATSPublisher(conn *nats.Conn, prefix string) *NATSPublisher {
	if prefix == "" {
		prefix = "arcade"
	}
	return &NATSPublisher{conn: conn, prefix: prefix}
}

func (p *NATSPublisher) LobbySubject(gameType string) string {
	return fmt.Sprintf("%s.%s.lobby", p.prefix, gameType)
}

func (p *NATSPublisher) ResultSubject(gameType string) string {
	return fmt.Sprintf("%s.%s.results", p.prefix, gameType)
}

func (p *NATSPublisher) RoomChanged(gameType string, delta game.RoomDelta) {
	if err := p.publish(p.LobbySubject(gameType), delta); err != nil {
		logger.Log.Warnf("Publish lobby delta for %s: %v", gameType, err)
	}
}

// PublishResult announces a stored match record.
func (p *NATSPublisher) PublishResult(rec *models.MatchRecord) error {
	return p.publish(p.ResultSubject(rec.GameType), rec)
}

func (p *NATSPublisher) publish(subject string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return p.conn.Publish(subject, data)
}
