package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/camride/dispatch/pkg/config"
)

// Nil is re-exported so callers can test for missing keys without importing go-redis.
const Nil = redis.Nil

// GeoMember is a geo index member annotated with its distance from the query point.
type GeoMember struct {
	Name       string
	DistanceKm float64
}

// Client wraps the go-redis client with the typed operations the core needs.
type Client struct {
	*redis.Client
}

// NewClient connects to Redis and verifies the connection.
func NewClient(cfg *config.RedisConfig) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("unable to connect to redis: %w", err)
	}

	return &Client{Client: client}, nil
}

// Wrap adapts an existing go-redis client (used by tests with redismock).
func Wrap(client *redis.Client) *Client {
	return &Client{Client: client}
}

// SetWithExpiration sets a key-value pair with a TTL.
func (c *Client) SetWithExpiration(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	return c.Set(ctx, key, value, expiration).Err()
}

// SetNX sets key to value with a TTL only if the key does not exist.
// This is the acquisition primitive for distributed locks.
func (c *Client) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error) {
	return c.Client.SetNX(ctx, key, value, expiration).Result()
}

// releaseScript deletes the key only when it still holds the caller's nonce,
// so a lock that expired and was re-acquired by another process is never released.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// ReleaseLock releases a SetNX lock if the stored nonce matches.
func (c *Client) ReleaseLock(ctx context.Context, key, nonce string) (bool, error) {
	n, err := releaseScript.Run(ctx, c.Client, []string{key}, nonce).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// GetString gets a string value by key. Returns redis.Nil when absent.
func (c *Client) GetString(ctx context.Context, key string) (string, error) {
	return c.Get(ctx, key).Result()
}

// Delete deletes one or more keys.
func (c *Client) Delete(ctx context.Context, keys ...string) error {
	return c.Del(ctx, keys...).Err()
}

// Exists checks if a key exists.
func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	n, err := c.Client.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Expire sets an expiration on a key.
func (c *Client) Expire(ctx context.Context, key string, expiration time.Duration) error {
	return c.Client.Expire(ctx, key, expiration).Err()
}

// SetAdd adds members to a set.
func (c *Client) SetAdd(ctx context.Context, key string, members ...interface{}) error {
	return c.SAdd(ctx, key, members...).Err()
}

// SetRemove removes members from a set.
func (c *Client) SetRemove(ctx context.Context, key string, members ...interface{}) error {
	return c.SRem(ctx, key, members...).Err()
}

// SetIsMember reports set membership.
func (c *Client) SetIsMember(ctx context.Context, key, member string) (bool, error) {
	return c.SIsMember(ctx, key, member).Result()
}

// SetMembers returns every member of a set.
func (c *Client) SetMembers(ctx context.Context, key string) ([]string, error) {
	return c.SMembers(ctx, key).Result()
}

// HashSet writes fields to a hash.
func (c *Client) HashSet(ctx context.Context, key string, values map[string]interface{}) error {
	return c.HSet(ctx, key, values).Err()
}

// HashGetAll reads every field of a hash. Empty map when the key is absent.
func (c *Client) HashGetAll(ctx context.Context, key string) (map[string]string, error) {
	return c.HGetAll(ctx, key).Result()
}

// GeoAdd adds a member to a geospatial index.
func (c *Client) GeoAdd(ctx context.Context, key string, longitude, latitude float64, member string) error {
	return c.Client.GeoAdd(ctx, key, &redis.GeoLocation{
		Longitude: longitude,
		Latitude:  latitude,
		Name:      member,
	}).Err()
}

// GeoRemove removes a member from a geospatial index.
func (c *Client) GeoRemove(ctx context.Context, key string, member string) error {
	return c.ZRem(ctx, key, member).Err()
}

// GeoRadius returns members within radiusKm of the point, closest first,
// annotated with great-circle distance.
func (c *Client) GeoRadius(ctx context.Context, key string, longitude, latitude, radiusKm float64, count int) ([]GeoMember, error) {
	locs, err := c.Client.GeoRadius(ctx, key, longitude, latitude, &redis.GeoRadiusQuery{
		Radius:   radiusKm,
		Unit:     "km",
		WithDist: true,
		Count:    count,
		Sort:     "ASC",
	}).Result()
	if err != nil {
		return nil, err
	}

	members := make([]GeoMember, 0, len(locs))
	for _, loc := range locs {
		members = append(members, GeoMember{Name: loc.Name, DistanceKm: loc.Dist})
	}
	return members, nil
}

// Batch runs fn against a transactional pipeline and executes it atomically.
func (c *Client) Batch(ctx context.Context, fn func(pipe redis.Pipeliner) error) error {
	_, err := c.TxPipelined(ctx, fn)
	return err
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.Client.Close()
}
