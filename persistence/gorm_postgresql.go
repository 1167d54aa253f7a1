package persistence

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/wfunc/arcaderoom/logger"
	"github.com/wfunc/arcaderoom/models"
)

// GormPostgreSQL stores match records through GORM.
type GormPostgreSQL struct {
	db *gorm.DB
}

func NewGormPostgreSQL(host string, port int, user, password, dbname string) (*GormPostgreSQL, error) {
	db, err := gorm.Open(postgres.Open(postgresDSN(host, port, user, password, dbname)), &gorm.Config{
		Logger: newZapGormLogger(logger.Log, time.Second),
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	configurePool(sqlDB)

	if err := db.AutoMigrate(&models.GormMatchRecord{}); err != nil {
		return nil, err
	}
	return &GormPostgreSQL{db: db}, nil
}

func (p *GormPostgreSQL) SaveMatchRecord(ctx context.Context, rec *models.MatchRecord) error {
	return p.db.WithContext(ctx).Create(models.NewGormMatchRecord(rec)).Error
}

// ListMatchRecords returns userID's most recent matches.
func (p *GormPostgreSQL) ListMatchRecords(ctx context.Context, userID string, limit int) ([]models.MatchRecord, error) {
	var rows []models.GormMatchRecord
	err := p.db.WithContext(ctx).
		Where("? = ANY(user_ids)", userID).
		Order("ended_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	records := make([]models.MatchRecord, 0, len(rows))
	for i := range rows {
		records = append(records, rows[i].Record())
	}
	return records, nil
}

// GetPlayerStats 玩家统计
func (p *GormPostgreSQL) GetPlayerStats(ctx context.Context, userID string) (*models.PlayerStats, error) {
	var stats models.PlayerStats
	query := strings.ReplaceAll(statsQuery, "$1", "@user")
	if err := p.db.WithContext(ctx).Raw(query, sql.Named("user", userID)).Scan(&stats).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	stats.UserID = userID
	return &stats, nil
}

func (p *GormPostgreSQL) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// zapGormLogger sends GORM output to the process logger. Only slow or failed
// statements are logged at the default level.
type zapGormLogger struct {
	log   *zap.SugaredLogger
	level gormlogger.LogLevel
	slow  time.Duration
}

func newZapGormLogger(log *zap.SugaredLogger, slow time.Duration) *zapGormLogger {
	return &zapGormLogger{log: log.With("component", "gorm"), level: gormlogger.Warn, slow: slow}
}

func (l *zapGormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	clone := *l
	clone.level = level
	return &clone
}

func (l *zapGormLogger) Info(_ context.Context, msg string, args ...any) {
	if l.level >= gormlogger.Info {
		l.log.Infof(msg, args...)
	}
}

func (l *zapGormLogger) Warn(_ context.Context, msg string, args ...any) {
	if l.level >= gormlogger.Warn {
		l.log.Warnf(msg, args...)
	}
}

func (l *zapGormLogger) Error(_ context.Context, msg string, args ...any) {
	if l.level >= gormlogger.Error {
		l.log.Errorf(msg, args...)
	}
}

func (l *zapGormLogger) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= gormlogger.Silent {
		return
	}
	took := time.Since(begin)
	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound) && l.level >= gormlogger.Error:
		query, rows := fc()
		l.log.Errorw("sql failed", "error", err, "took", took, "rows", rows, "sql", query)
	case l.slow > 0 && took > l.slow && l.level >= gormlogger.Warn:
		query, rows := fc()
		l.log.Warnw("slow sql", "took", took, "rows", rows, "sql", query)
	case l.level >= gormlogger.Info:
		query, rows := fc()
		l.log.Debugw("sql", "took", took, "rows", rows, "sql", query)
	}
}
