// Package ranking keeps per-game leaderboards in Redis sorted sets.
package ranking

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Points awarded per decided match.
const (
	PointsWin  = 3
	PointsDraw = 1
)

type Entry struct {
	UserID string  `json:"userId"`
	Score  float64 `json:"score"`
}

type Leaderboard interface {
	AddScore(ctx context.Context, gameType, userID string, points float64) error
	Top(ctx context.Context, gameType string, n int) ([]Entry, error)
}

// Ranker is implemented by leaderboards that can place a single user.
type Ranker interface {
	Rank(ctx context.Context, gameType, userID string) (int64, error)
}

// RedisLeaderboard stores one sorted set per game type.
type RedisLeaderboard struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisLeaderboard(client redis.UniversalClient, prefix string) *RedisLeaderboard {
	if prefix == "" {
		prefix = "arcade"
	}
	return &RedisLeaderboard{client: client, prefix: prefix}
}

func (l *RedisLeaderboard) key(gameType string) string {
	return fmt.Sprintf("%s:leaderboard:%s", l.prefix, gameType)
}

func (l *RedisLeaderboard) AddScore(ctx context.Context, gameType, userID string, points float64) error {
	return l.client.ZIncrBy(ctx, l.key(gameType), points, userID).Err()
}

func (l *RedisLeaderboard) Top(ctx context.Context, gameType string, n int) ([]Entry, error) {
	if n <= 0 {
		return nil, nil
	}
	zs, err := l.client.ZRevRangeWithScores(ctx, l.key(gameType), 0, int64(n-1)).Result()
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(zs))
	for _, z := range zs {
		member, ok := z.Member.(string)
		if !ok {
			continue
		}
		entries = append(entries, Entry{UserID: member, Score: z.Score})
	}
	return entries, nil
}

// Rank returns userID's 1-based position, or 0 when unranked.
func (l *RedisLeaderboard) Rank(ctx context.Context, gameType, userID string) (int64, error) {
	rank, err := l.client.ZRevRank(ctx, l.key(gameType), userID).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return rank + 1, nil
}
