// models/models.go
package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// Match results as stored. Aborted matches are kept distinct from decided ones.
const (
	ResultWin     = "win"
	ResultDraw    = "draw"
	ResultAborted = "aborted"
)

// MatchRecord 对局记录模型
type MatchRecord struct {
	RoomID       string       `json:"room_id"`
	GameType     string       `json:"game_type"`
	Result       string       `json:"result"`
	Reason       string       `json:"reason,omitempty"`
	WinnerID     string       `json:"winner_id,omitempty"`
	Participants Participants `json:"participants"`
	MoveCount    int          `json:"move_count"`
	StartedAt    time.Time    `json:"started_at"`
	EndedAt      time.Time    `json:"ended_at"`
}

// UserIDs lists the participants' user ids in seat order.
func (r *MatchRecord) UserIDs() []string {
	ids := make([]string, 0, len(r.Participants))
	for _, p := range r.Participants {
		ids = append(ids, p.UserID)
	}
	return ids
}

// Duration 对局时长
func (r *MatchRecord) Duration() time.Duration {
	if r.StartedAt.IsZero() || r.EndedAt.Before(r.StartedAt) {
		return 0
	}
	return r.EndedAt.Sub(r.StartedAt)
}

// PlayerInfo 玩家信息（用于对局记录）
type PlayerInfo struct {
	UserID  string `json:"user_id"`
	Name    string `json:"name"`
	Side    int    `json:"side"`
	Outcome string `json:"outcome"` // win/loss/draw/aborted
}

// Participants is stored as a JSON column.
type Participants []PlayerInfo

func (p Participants) Value() (driver.Value, error) {
	if p == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(p)
}

func (p *Participants) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*p = nil
		return nil
	case []byte:
		return json.Unmarshal(v, p)
	case string:
		return json.Unmarshal([]byte(v), p)
	default:
		return errors.New("models: unsupported participants column type")
	}
}

// PlayerStats 玩家统计信息
type PlayerStats struct {
	UserID     string `json:"user_id"`
	TotalGames int    `json:"total_games"`
	Wins       int    `json:"wins"`
	Losses     int    `json:"losses"`
	Draws      int    `json:"draws"`
	Aborted    int    `json:"aborted"`
}

// Tally folds records into userID's stats.
func Tally(userID string, records []MatchRecord) *PlayerStats {
	stats := &PlayerStats{UserID: userID}
	for _, rec := range records {
		for _, p := range rec.Participants {
			if p.UserID != userID {
				continue
			}
			stats.TotalGames++
			switch p.Outcome {
			case "win":
				stats.Wins++
			case "loss":
				stats.Losses++
			case "draw":
				stats.Draws++
			default:
				stats.Aborted++
			}
		}
	}
	return stats
}
