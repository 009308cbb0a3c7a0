// Package mocks holds testify mocks shared across service tests.
package mocks

import (
	"context"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/mock"

	redisClient "github.com/camride/dispatch/pkg/redis"
)

// MockRedisClient is a testify mock of redis.ClientInterface.
type MockRedisClient struct {
	mock.Mock
}

func (m *MockRedisClient) SetWithExpiration(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	args := m.Called(ctx, key, value, expiration)
	return args.Error(0)
}

func (m *MockRedisClient) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error) {
	args := m.Called(ctx, key, value, expiration)
	return args.Bool(0), args.Error(1)
}

func (m *MockRedisClient) ReleaseLock(ctx context.Context, key, nonce string) (bool, error) {
	args := m.Called(ctx, key, nonce)
	return args.Bool(0), args.Error(1)
}

func (m *MockRedisClient) GetString(ctx context.Context, key string) (string, error) {
	args := m.Called(ctx, key)
	return args.String(0), args.Error(1)
}

func (m *MockRedisClient) Delete(ctx context.Context, keys ...string) error {
	callArgs := make([]interface{}, 0, len(keys)+1)
	callArgs = append(callArgs, ctx)
	for _, k := range keys {
		callArgs = append(callArgs, k)
	}
	args := m.Called(callArgs...)
	return args.Error(0)
}

func (m *MockRedisClient) Exists(ctx context.Context, key string) (bool, error) {
	args := m.Called(ctx, key)
	return args.Bool(0), args.Error(1)
}

func (m *MockRedisClient) Expire(ctx context.Context, key string, expiration time.Duration) error {
	args := m.Called(ctx, key, expiration)
	return args.Error(0)
}

func (m *MockRedisClient) SetAdd(ctx context.Context, key string, members ...interface{}) error {
	callArgs := make([]interface{}, 0, len(members)+2)
	callArgs = append(callArgs, ctx, key)
	callArgs = append(callArgs, members...)
	args := m.Called(callArgs...)
	return args.Error(0)
}

func (m *MockRedisClient) SetRemove(ctx context.Context, key string, members ...interface{}) error {
	callArgs := make([]interface{}, 0, len(members)+2)
	callArgs = append(callArgs, ctx, key)
	callArgs = append(callArgs, members...)
	args := m.Called(callArgs...)
	return args.Error(0)
}

func (m *MockRedisClient) SetIsMember(ctx context.Context, key, member string) (bool, error) {
	args := m.Called(ctx, key, member)
	return args.Bool(0), args.Error(1)
}

func (m *MockRedisClient) SetMembers(ctx context.Context, key string) ([]string, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockRedisClient) HashSet(ctx context.Context, key string, values map[string]interface{}) error {
	args := m.Called(ctx, key, values)
	return args.Error(0)
}

func (m *MockRedisClient) HashGetAll(ctx context.Context, key string) (map[string]string, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]string), args.Error(1)
}

func (m *MockRedisClient) GeoAdd(ctx context.Context, key string, longitude, latitude float64, member string) error {
	args := m.Called(ctx, key, longitude, latitude, member)
	return args.Error(0)
}

func (m *MockRedisClient) GeoRemove(ctx context.Context, key string, member string) error {
	args := m.Called(ctx, key, member)
	return args.Error(0)
}

func (m *MockRedisClient) GeoRadius(ctx context.Context, key string, longitude, latitude, radiusKm float64, count int) ([]redisClient.GeoMember, error) {
	args := m.Called(ctx, key, longitude, latitude, radiusKm, count)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]redisClient.GeoMember), args.Error(1)
}

func (m *MockRedisClient) Batch(ctx context.Context, fn func(pipe goredis.Pipeliner) error) error {
	args := m.Called(ctx, fn)
	return args.Error(0)
}

func (m *MockRedisClient) Close() error {
	args := m.Called()
	return args.Error(0)
}

var _ redisClient.ClientInterface = (*MockRedisClient)(nil)
