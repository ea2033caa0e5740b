// Package recovery persists a small rolling record of the live session so an
// interrupted run can be offered back to the user after a process restart.
package recovery

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound means no recovery record exists.
var ErrNotFound = errors.New("no recovery record")

// Record is the full persisted snapshot consulted at cold start. Written on
// a short interval while recording and on every hibernation event; deleted
// after the user accepts or discards it, or silently when stale.
type Record struct {
	Session     json.RawMessage `json:"session"`
	IsRecording bool            `json:"isRecording"`
	DistanceM   float64         `json:"distanceM"`
	Status      string          `json:"status"`
	SavedAt     time.Time       `json:"savedAt"`
}

// Repository is the keyed blob store boundary. The medium (redis here,
// device storage on clients) is swappable without touching session logic.
type Repository interface {
	Save(ctx context.Context, rec Record) error
	Load(ctx context.Context) (Record, error)
	Clear(ctx context.Context) error
}

const recordKey = "recovery:session"

// RedisRepository stores the record as a single JSON blob.
type RedisRepository struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisRepository keeps records for twice the recovery window; anything
// older can never be offered, so letting redis expire it is free cleanup.
func NewRedisRepository(client *redis.Client, window time.Duration) *RedisRepository {
	return &RedisRepository{client: client, ttl: 2 * window}
}

func (r *RedisRepository) Save(ctx context.Context, rec Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, recordKey, payload, r.ttl).Err()
}

func (r *RedisRepository) Load(ctx context.Context) (Record, error) {
	payload, err := r.client.Get(ctx, recordKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, err
	}

	var rec Record
	if err := json.Unmarshal(payload, &rec); err != nil {
		// A corrupt record reads as "no recovery available".
		return Record{}, ErrNotFound
	}
	return rec, nil
}

func (r *RedisRepository) Clear(ctx context.Context) error {
	return r.client.Del(ctx, recordKey).Err()
}
