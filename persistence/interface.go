// persistence/interface.go
package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/wfunc/arcaderoom/models"
)

// Database 数据库接口
type Database interface {
	SaveMatchRecord(ctx context.Context, rec *models.MatchRecord) error
	ListMatchRecords(ctx context.Context, userID string, limit int) ([]models.MatchRecord, error)
	GetPlayerStats(ctx context.Context, userID string) (*models.PlayerStats, error)
	Close() error
}

// 错误定义
var (
	ErrRecordNotFound = fmt.Errorf("record not found")
)

func postgresDSN(host string, port int, user, password, dbname string) string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		host, port, user, password, dbname)
}

// configurePool 连接池参数, shared by both stores.
func configurePool(db *sql.DB) {
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
}

// statsQuery aggregates one user's results; $1 is the user id.
const statsQuery = `
    SELECT
        COUNT(*) AS total_games,
        COALESCE(SUM(CASE WHEN result = 'win' AND winner_id = $1 THEN 1 ELSE 0 END), 0) AS wins,
        COALESCE(SUM(CASE WHEN result = 'win' AND winner_id <> $1 THEN 1 ELSE 0 END), 0) AS losses,
        COALESCE(SUM(CASE WHEN result = 'draw' THEN 1 ELSE 0 END), 0) AS draws,
        COALESCE(SUM(CASE WHEN result = 'aborted' THEN 1 ELSE 0 END), 0) AS aborted
    FROM match_records
    WHERE $1 = ANY(user_ids)`
