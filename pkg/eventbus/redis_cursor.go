package eventbus

import (
	"context"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/opsmail/emailpipeline/pkg/shared/errors"
)

// RedisCursorStore persists subscriber cursors as events:cursor:<subscriber>
// keys, per spec.md §4.10/SPEC_FULL.md §4.10.
type RedisCursorStore struct {
	client *redis.Client
}

// NewRedisCursorStore wraps an already-constructed go-redis client.
func NewRedisCursorStore(client *redis.Client) *RedisCursorStore {
	return &RedisCursorStore{client: client}
}

func cursorKey(subscriber string) string {
	return "events:cursor:" + subscriber
}

// GetCursor returns the persisted cursor for subscriber, or 0 if none has
// been set yet.
func (r *RedisCursorStore) GetCursor(ctx context.Context, subscriber string) (uint64, error) {
	val, err := r.client.Get(ctx, cursorKey(subscriber)).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, errors.NetworkError("get subscriber cursor", "redis", err)
	}
	cursor, err := strconv.ParseUint(val, 10, 64)
	if err != nil {
		return 0, errors.ParseError("subscriber cursor", "uint64", err)
	}
	return cursor, nil
}

// SetCursor persists eventID as subscriber's new cursor.
func (r *RedisCursorStore) SetCursor(ctx context.Context, subscriber string, eventID uint64) error {
	if err := r.client.Set(ctx, cursorKey(subscriber), strconv.FormatUint(eventID, 10), 0).Err(); err != nil {
		return errors.NetworkError("set subscriber cursor", "redis", err)
	}
	return nil
}
