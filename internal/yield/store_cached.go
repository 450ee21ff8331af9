package yield

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/p-n-ai/pai-portal/internal/curriculum"
	"github.com/p-n-ai/pai-portal/internal/platform/cache"
)

const (
	defaultCacheTTL = 24 * time.Hour

	// completeField marks a hash that holds every average of the user, so
	// lists can be served from it.
	completeField = "_complete"
)

// CachedStore keeps the averages of each user in a Redis hash in front of
// another store. The wrapped store stays the source of truth; cache failures
// are logged and never returned.
type CachedStore struct {
	next   AverageStore
	cache  *cache.Cache
	ttl    time.Duration
	logger *slog.Logger
}

// NewCachedStore wraps next with a Redis cache. A nil logger uses
// slog.Default.
func NewCachedStore(next AverageStore, c *cache.Cache, logger *slog.Logger) *CachedStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedStore{next: next, cache: c, ttl: defaultCacheTTL, logger: logger}
}

type cachedAverage struct {
	Average   float64   `json:"average"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SaveSemesterAverage writes through and refreshes the cached entry from the
// stored row, so the cache carries the row's own timestamp.
func (s *CachedStore) SaveSemesterAverage(ctx context.Context, userID string, key curriculum.SemesterKey, avg float64) error {
	if err := s.next.SaveSemesterAverage(ctx, userID, key, avg); err != nil {
		return err
	}

	a, err := s.next.GetSemesterAverage(ctx, userID, key)
	if err != nil {
		s.logger.Warn("re-reading saved average failed, dropping cached averages",
			"user_id", userID,
			"semester", key.String(),
			"error", err,
		)
		s.drop(ctx, userID)
		return nil
	}
	s.put(ctx, a)
	return nil
}

func (s *CachedStore) GetSemesterAverage(ctx context.Context, userID string, key curriculum.SemesterKey) (Average, error) {
	raw, err := s.cache.Client.HGet(ctx, s.key(userID), key.String()).Result()
	switch {
	case err == nil:
		if a, ok := s.decode(userID, key.String(), raw); ok {
			return a, nil
		}
	case errors.Is(err, redis.Nil):
	default:
		s.logger.Warn("average cache read failed", "user_id", userID, "error", err)
	}

	a, err := s.next.GetSemesterAverage(ctx, userID, key)
	if err != nil {
		return Average{}, err
	}
	s.put(ctx, a)
	return a, nil
}

// ListSemesterAverages serves the hash when it holds the complete list and
// otherwise reads the wrapped store and fills the hash.
func (s *CachedStore) ListSemesterAverages(ctx context.Context, userID string) ([]Average, error) {
	fields, err := s.cache.Client.HGetAll(ctx, s.key(userID)).Result()
	if err != nil {
		s.logger.Warn("average cache read failed", "user_id", userID, "error", err)
	}
	if _, ok := fields[completeField]; ok {
		if out, ok := s.decodeAll(userID, fields); ok {
			return out, nil
		}
	}

	list, err := s.next.ListSemesterAverages(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.putAll(ctx, userID, list)
	return list, nil
}

func (s *CachedStore) decode(userID, field, raw string) (Average, bool) {
	key, err := curriculum.ParseSemesterKey(field)
	if err != nil {
		s.logger.Warn("discarding cached average with bad key", "user_id", userID, "field", field)
		return Average{}, false
	}
	var c cachedAverage
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		s.logger.Warn("discarding malformed cached average", "user_id", userID, "semester", field)
		return Average{}, false
	}
	return Average{UserID: userID, Semester: key, Average: c.Average, UpdatedAt: c.UpdatedAt}, true
}

func (s *CachedStore) decodeAll(userID string, fields map[string]string) ([]Average, bool) {
	out := make([]Average, 0, len(fields)-1)
	for field, raw := range fields {
		if field == completeField {
			continue
		}
		a, ok := s.decode(userID, field, raw)
		if !ok {
			return nil, false
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Semester.String() < out[j].Semester.String()
	})
	return out, true
}

func (s *CachedStore) put(ctx context.Context, a Average) {
	data, err := json.Marshal(cachedAverage{Average: a.Average, UpdatedAt: a.UpdatedAt})
	if err != nil {
		return
	}

	k := s.key(a.UserID)
	pipe := s.cache.Client.TxPipeline()
	pipe.HSet(ctx, k, a.Semester.String(), data)
	pipe.Expire(ctx, k, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		s.logger.Warn("average cache write failed", "user_id", a.UserID, "error", err)
	}
}

// putAll replaces the user's hash with list and marks it complete.
func (s *CachedStore) putAll(ctx context.Context, userID string, list []Average) {
	values := make([]any, 0, 2*len(list)+2)
	for _, a := range list {
		data, err := json.Marshal(cachedAverage{Average: a.Average, UpdatedAt: a.UpdatedAt})
		if err != nil {
			return
		}
		values = append(values, a.Semester.String(), data)
	}
	values = append(values, completeField, "1")

	k := s.key(userID)
	pipe := s.cache.Client.TxPipeline()
	pipe.Del(ctx, k)
	pipe.HSet(ctx, k, values...)
	pipe.Expire(ctx, k, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		s.logger.Warn("average cache write failed", "user_id", userID, "error", err)
	}
}

func (s *CachedStore) drop(ctx context.Context, userID string) {
	if err := s.cache.Client.Del(ctx, s.key(userID)).Err(); err != nil {
		s.logger.Warn("average cache delete failed", "user_id", userID, "error", err)
	}
}

func (s *CachedStore) key(userID string) string {
	return s.cache.Key("yield", "avg", userID)
}
