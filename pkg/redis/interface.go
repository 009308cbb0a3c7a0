package redis

import (
	"context"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// ClientInterface is the seam presence and dispatch code depend on,
// so tests can substitute a mock.
type ClientInterface interface {
	SetWithExpiration(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, key, nonce string) (bool, error)
	GetString(ctx context.Context, key string) (string, error)
	Delete(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, key string) (bool, error)
	Expire(ctx context.Context, key string, expiration time.Duration) error

	SetAdd(ctx context.Context, key string, members ...interface{}) error
	SetRemove(ctx context.Context, key string, members ...interface{}) error
	SetIsMember(ctx context.Context, key, member string) (bool, error)
	SetMembers(ctx context.Context, key string) ([]string, error)

	HashSet(ctx context.Context, key string, values map[string]interface{}) error
	HashGetAll(ctx context.Context, key string) (map[string]string, error)

	GeoAdd(ctx context.Context, key string, longitude, latitude float64, member string) error
	GeoRemove(ctx context.Context, key string, member string) error
	GeoRadius(ctx context.Context, key string, longitude, latitude, radiusKm float64, count int) ([]GeoMember, error)

	Batch(ctx context.Context, fn func(pipe goredis.Pipeliner) error) error
	Close() error
}

var _ ClientInterface = (*Client)(nil)
