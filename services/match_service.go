// services/match_service.go
package services

import (
	"context"
	"time"

	"github.com/wfunc/arcaderoom/game"
	"github.com/wfunc/arcaderoom/logger"
	"github.com/wfunc/arcaderoom/models"
	"github.com/wfunc/arcaderoom/persistence"
	"github.com/wfunc/arcaderoom/ranking"
	"github.com/wfunc/arcaderoom/room"
)

// ResultPublisher announces stored match records.
type ResultPublisher interface {
	PublishResult(rec *models.MatchRecord) error
}

// MatchService records outcomes reported by rooms. Every match is stored;
// only decided matches move the leaderboard.
type MatchService struct {
	db        persistence.Database
	board     ranking.Leaderboard
	publisher ResultPublisher
	timeout   time.Duration
}

var _ room.OutcomeRecorder = (*MatchService)(nil)

// NewMatchService wires the collaborators; board and publisher may be nil.
func NewMatchService(db persistence.Database, board ranking.Leaderboard, publisher ResultPublisher) *MatchService {
	return &MatchService{
		db:        db,
		board:     board,
		publisher: publisher,
		timeout:   5 * time.Second,
	}
}

func (s *MatchService) OnGameOver(result room.MatchResult) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	rec := NewMatchRecord(result)
	s.store(ctx, rec)

	if s.board != nil {
		for _, p := range rec.Participants {
			points := 0
			switch p.Outcome {
			case "win":
				points = ranking.PointsWin
			case "draw":
				points = ranking.PointsDraw
			}
			if points == 0 {
				continue
			}
			if err := s.board.AddScore(ctx, rec.GameType, p.UserID, float64(points)); err != nil {
				logger.Log.Errorf("Leaderboard update for %s failed: %v", p.UserID, err)
			}
		}
	}
	s.publish(rec)
}

func (s *MatchService) OnAborted(result room.MatchResult) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	rec := NewMatchRecord(result)
	s.store(ctx, rec)
	s.publish(rec)
}

func (s *MatchService) store(ctx context.Context, rec *models.MatchRecord) {
	if err := s.db.SaveMatchRecord(ctx, rec); err != nil {
		logger.Log.Errorf("Save match record for room %s failed: %v", rec.RoomID, err)
	}
}

func (s *MatchService) publish(rec *models.MatchRecord) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishResult(rec); err != nil {
		logger.Log.Warnf("Publish result for room %s failed: %v", rec.RoomID, err)
	}
}

// PlayerStats 获取玩家统计
func (s *MatchService) PlayerStats(ctx context.Context, userID string) (*models.PlayerStats, error) {
	return s.db.GetPlayerStats(ctx, userID)
}

// RecentMatches returns userID's latest records.
func (s *MatchService) RecentMatches(ctx context.Context, userID string, limit int) ([]models.MatchRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.db.ListMatchRecords(ctx, userID, limit)
}

// Leaderboard returns the top n of gameType; empty without a leaderboard.
func (s *MatchService) Leaderboard(ctx context.Context, gameType string, n int) ([]ranking.Entry, error) {
	if s.board == nil {
		return nil, nil
	}
	return s.board.Top(ctx, gameType, n)
}

// Rank is userID's 1-based leaderboard position in gameType, 0 when unranked
// or when the leaderboard cannot rank.
func (s *MatchService) Rank(ctx context.Context, gameType, userID string) (int64, error) {
	ranker, ok := s.board.(ranking.Ranker)
	if !ok {
		return 0, nil
	}
	return ranker.Rank(ctx, gameType, userID)
}

// NewMatchRecord converts a room result into its stored form.
func NewMatchRecord(result room.MatchResult) *models.MatchRecord {
	rec := &models.MatchRecord{
		RoomID:    result.RoomID,
		GameType:  result.Game,
		Result:    string(result.Outcome.Kind),
		Reason:    result.Outcome.Reason,
		MoveCount: len(result.Moves),
		StartedAt: result.StartedAt,
		EndedAt:   result.EndedAt,
	}
	for _, seat := range result.Seats {
		if result.Outcome.Kind == game.ResultWin && seat.Side == result.Outcome.Winner {
			rec.WinnerID = seat.UserID
		}
		rec.Participants = append(rec.Participants, models.PlayerInfo{
			UserID:  seat.UserID,
			Name:    seat.DisplayName,
			Side:    int(seat.Side),
			Outcome: result.Outcome.KindFor(seat.Side),
		})
	}
	return rec
}
