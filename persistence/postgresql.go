// persistence/postgresql.go
package persistence

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq" // PostgreSQL 驱动

	"github.com/wfunc/arcaderoom/models"
)

// PostgreSQL 数据库实现
type PostgreSQL struct {
	db *sql.DB
}

// NewPostgreSQL 创建 PostgreSQL 数据库连接
func NewPostgreSQL(host string, port int, user, password, dbname string) (*PostgreSQL, error) {
	db, err := sql.Open("postgres", postgresDSN(host, port, user, password, dbname))
	if err != nil {
		return nil, err
	}

	// 测试连接
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}

	configurePool(db)

	// 初始化表结构
	if err := initTables(ctx, db); err != nil {
		return nil, err
	}

	return &PostgreSQL{db: db}, nil
}

// initTables 初始化数据库表结构. The layout matches the GORM model so either
// store can read the other's rows.
func initTables(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
        CREATE TABLE IF NOT EXISTS match_records (
            id BIGSERIAL PRIMARY KEY,
            created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
            updated_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
            deleted_at TIMESTAMPTZ,
            room_id TEXT NOT NULL,
            game_type TEXT NOT NULL,
            result TEXT NOT NULL,
            reason TEXT,
            winner_id TEXT,
            participants JSONB NOT NULL,
            user_ids TEXT[],
            move_count BIGINT DEFAULT 0,
            started_at TIMESTAMPTZ,
            ended_at TIMESTAMPTZ
        )
    `)
	if err != nil {
		return err
	}

	// 创建索引以提高查询性能
	_, err = db.ExecContext(ctx, `
        CREATE INDEX IF NOT EXISTS idx_match_records_room_id ON match_records(room_id);
        CREATE INDEX IF NOT EXISTS idx_match_records_game_type ON match_records(game_type);
        CREATE INDEX IF NOT EXISTS idx_match_records_user_ids ON match_records USING gin(user_ids);
    `)
	return err
}

// SaveMatchRecord 保存对局记录
func (p *PostgreSQL) SaveMatchRecord(ctx context.Context, rec *models.MatchRecord) error {
	query := `
        INSERT INTO match_records
            (room_id, game_type, result, reason, winner_id, participants, user_ids, move_count, started_at, ended_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
    `
	_, err := p.db.ExecContext(ctx, query,
		rec.RoomID,
		rec.GameType,
		rec.Result,
		rec.Reason,
		rec.WinnerID,
		rec.Participants,
		pq.Array(rec.UserIDs()),
		rec.MoveCount,
		rec.StartedAt,
		rec.EndedAt,
	)
	return err
}

// ListMatchRecords returns userID's most recent matches.
func (p *PostgreSQL) ListMatchRecords(ctx context.Context, userID string, limit int) ([]models.MatchRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
        SELECT room_id, game_type, result, COALESCE(reason, ''), COALESCE(winner_id, ''),
               participants, move_count, started_at, ended_at
        FROM match_records
        WHERE $1 = ANY(user_ids) AND deleted_at IS NULL
        ORDER BY ended_at DESC
        LIMIT $2
    `, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []models.MatchRecord
	for rows.Next() {
		var rec models.MatchRecord
		if err := rows.Scan(&rec.RoomID, &rec.GameType, &rec.Result, &rec.Reason, &rec.WinnerID,
			&rec.Participants, &rec.MoveCount, &rec.StartedAt, &rec.EndedAt); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// GetPlayerStats 玩家统计
func (p *PostgreSQL) GetPlayerStats(ctx context.Context, userID string) (*models.PlayerStats, error) {
	stats := &models.PlayerStats{UserID: userID}
	err := p.db.QueryRowContext(ctx, statsQuery, userID).
		Scan(&stats.TotalGames, &stats.Wins, &stats.Losses, &stats.Draws, &stats.Aborted)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return stats, nil
}

// Close 关闭数据库连接
func (p *PostgreSQL) Close() error {
	return p.db.Close()
}
