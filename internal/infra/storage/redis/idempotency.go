package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"charterpay/internal/app/middleware"
)

// IdempotencyStore keeps command results in Redis with a TTL, for deployments
// that want replay protection without touching the primary database.
type IdempotencyStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewIdempotencyStore(client *redis.Client, ttl time.Duration) *IdempotencyStore {
	if ttl <= 0 {
		ttl = time.Hour * 24 * 7
	}
	return &IdempotencyStore{client: client, ttl: ttl}
}

type storedRecord struct {
	Key        string    `json:"key"`
	Payload    []byte    `json:"payload"`
	Error      string    `json:"error,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

func (s *IdempotencyStore) Get(ctx context.Context, key string) (middleware.IdempotencyRecord, bool, error) {
	raw, err := s.client.Get(ctx, s.redisKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return middleware.IdempotencyRecord{}, false, nil
		}
		return middleware.IdempotencyRecord{}, false, err
	}
	var doc storedRecord
	if err := json.Unmarshal(raw, &doc); err != nil {
		return middleware.IdempotencyRecord{}, false, err
	}
	return middleware.IdempotencyRecord{
		Key:        doc.Key,
		Payload:    doc.Payload,
		Error:      doc.Error,
		OccurredAt: doc.OccurredAt,
	}, true, nil
}

func (s *IdempotencyStore) Save(ctx context.Context, rec middleware.IdempotencyRecord) error {
	raw, err := json.Marshal(storedRecord{
		Key:        rec.Key,
		Payload:    rec.Payload,
		Error:      rec.Error,
		OccurredAt: rec.OccurredAt,
	})
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.redisKey(rec.Key), raw, s.ttl).Err()
}

func (s *IdempotencyStore) redisKey(key string) string {
	return "idemp:" + key
}

var _ middleware.IdempotencyStore = (*IdempotencyStore)(nil)
