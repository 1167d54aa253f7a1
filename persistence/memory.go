package persistence

import (
	"context"
	"sort"
	"sync"

	"github.com/wfunc/arcaderoom/models"
)

// Memory keeps records in process. It backs the "none" driver and tests.
type Memory struct {
	mu      sync.RWMutex
	records []models.MatchRecord
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) SaveMatchRecord(ctx context.Context, rec *models.MatchRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, *rec)
	return nil
}

func (m *Memory) ListMatchRecords(ctx context.Context, userID string, limit int) ([]models.MatchRecord, error) {
	m.mu.RLock()
	var out []models.MatchRecord
	for _, rec := range m.records {
		for _, id := range rec.UserIDs() {
			if id == userID {
				out = append(out, rec)
				break
			}
		}
	}
	m.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].EndedAt.After(out[j].EndedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) GetPlayerStats(ctx context.Context, userID string) (*models.PlayerStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return models.Tally(userID, m.records), nil
}

func (m *Memory) Close() error { return nil }
