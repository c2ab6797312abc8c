// Package history keeps the most recent answered questions per connection nickname in Redis.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"nlquery/internal/common/logger"
	"nlquery/internal/models"
)

const keyPrefix = "nlq:history:"

// Store is a capped, expiring list per nickname, newest first.
type Store struct {
	rdb        redis.Cmdable
	maxEntries int64
	ttl        time.Duration
	logger     logger.Logger
	now        func() time.Time
}

func NewStore(rdb redis.Cmdable, maxEntries int, ttl time.Duration, log logger.Logger) *Store {
	if maxEntries <= 0 {
		maxEntries = 50
	}
	return &Store{
		rdb:        rdb,
		maxEntries: int64(maxEntries),
		ttl:        ttl,
		logger:     logger.Component(log, "history"),
		now:        time.Now,
	}
}

func key(nickname string) string {
	return keyPrefix + nickname
}

// Record stores entry, assigning its id and timestamp when missing.
func (s *Store) Record(ctx context.Context, entry models.HistoryEntry) (models.HistoryEntry, error) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now().UTC()
	}

	payload, err := json.Marshal(entry)
	if err != nil {
		return entry, fmt.Errorf("marshal history entry: %w", err)
	}

	k := key(entry.Nickname)
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, k, payload)
		pipe.LTrim(ctx, k, 0, s.maxEntries-1)
		if s.ttl > 0 {
			pipe.Expire(ctx, k, s.ttl)
		}
		return nil
	})
	if err != nil {
		return entry, fmt.Errorf("record history: %w", err)
	}
	return entry, nil
}

// List returns up to limit entries, newest first. A non-positive limit returns all of them.
func (s *Store) List(ctx context.Context, nickname string, limit int) ([]models.HistoryEntry, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}

	raw, err := s.rdb.LRange(ctx, key(nickname), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}

	out := make([]models.HistoryEntry, 0, len(raw))
	for _, item := range raw {
		var e models.HistoryEntry
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			s.logger.Warn("skipping corrupt history entry", map[string]interface{}{
				"nickname": nickname,
				"error":    err.Error(),
			})
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// Clear removes every entry of nickname.
func (s *Store) Clear(ctx context.Context, nickname string) error {
	if err := s.rdb.Del(ctx, key(nickname)).Err(); err != nil {
		return fmt.Errorf("clear history: %w", err)
	}
	return nil
}
