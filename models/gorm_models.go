// models/gorm_models.go
package models

import (
	"time"

	"github.com/lib/pq"
	"gorm.io/gorm"
)

// GormMatchRecord 对局记录表
type GormMatchRecord struct {
	gorm.Model
	RoomID       string         `gorm:"index;not null"`
	GameType     string         `gorm:"index;not null"`
	Result       string         `gorm:"not null"`
	Reason       string
	WinnerID     string         `gorm:"index"`
	Participants Participants   `gorm:"type:jsonb;not null"`
	UserIDs      pq.StringArray `gorm:"type:text[];index:,type:gin"`
	MoveCount    int            `gorm:"default:0"`
	StartedAt    time.Time
	EndedAt      time.Time
}

func (GormMatchRecord) TableName() string {
	return "match_records"
}

func NewGormMatchRecord(rec *MatchRecord) *GormMatchRecord {
	return &GormMatchRecord{
		RoomID:       rec.RoomID,
		GameType:     rec.GameType,
		Result:       rec.Result,
		Reason:       rec.Reason,
		WinnerID:     rec.WinnerID,
		Participants: rec.Participants,
		UserIDs:      pq.StringArray(rec.UserIDs()),
		MoveCount:    rec.MoveCount,
		StartedAt:    rec.StartedAt,
		EndedAt:      rec.EndedAt,
	}
}

func (g *GormMatchRecord) Record() MatchRecord {
	return MatchRecord{
		RoomID:       g.RoomID,
		GameType:     g.GameType,
		Result:       g.Result,
		Reason:       g.Reason,
		WinnerID:     g.WinnerID,
		Participants: g.Participants,
		MoveCount:    g.MoveCount,
		StartedAt:    g.StartedAt,
		EndedAt:      g.EndedAt,
	}
}
