package redis

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockedClient(t *testing.T) (*Client, redismock.ClientMock) {
	t.Helper()
	db, mock := redismock.NewClientMock()
	return Wrap(db), mock
}

func TestSetNX(t *testing.T) {
	client, mock := newMockedClient(t)
	mock.ExpectSetNX("trip:lock:abc", "nonce-1", 10*time.Second).SetVal(true)

	ok, err := client.SetNX(context.Background(), "trip:lock:abc", "nonce-1", 10*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReleaseLock_OnlyWithMatchingNonce(t *testing.T) {
	client, mock := newMockedClient(t)
	mock.ExpectEvalSha(releaseScript.Hash(), []string{"trip:lock:abc"}, "nonce-1").SetVal(int64(1))

	released, err := client.ReleaseLock(context.Background(), "trip:lock:abc", "nonce-1")
	require.NoError(t, err)
	assert.True(t, released)
}

func TestReleaseLock_StaleNonceIsNoOp(t *testing.T) {
	client, mock := newMockedClient(t)
	mock.ExpectEvalSha(releaseScript.Hash(), []string{"trip:lock:abc"}, "nonce-stale").SetVal(int64(0))

	released, err := client.ReleaseLock(context.Background(), "trip:lock:abc", "nonce-stale")
	require.NoError(t, err)
	assert.False(t, released)
}

func TestGetString_MissingKeyReturnsNil(t *testing.T) {
	client, mock := newMockedClient(t)
	mock.ExpectGet("driver:online:x").RedisNil()

	_, err := client.GetString(context.Background(), "driver:online:x")
	assert.Equal(t, Nil, err)
}

func TestExists(t *testing.T) {
	client, mock := newMockedClient(t)
	mock.ExpectExists("driver:online:x").SetVal(1)

	ok, err := client.Exists(context.Background(), "driver:online:x")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSetMembers(t *testing.T) {
	client, mock := newMockedClient(t)
	mock.ExpectSMembers("drivers:online").SetVal([]string{"a", "b"})

	members, err := client.SetMembers(context.Background(), "drivers:online")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, members)
}

func TestHashGetAll_AbsentKeyIsEmptyMap(t *testing.T) {
	client, mock := newMockedClient(t)
	mock.ExpectHGetAll("driver:location:x").SetVal(map[string]string{})

	fields, err := client.HashGetAll(context.Background(), "driver:location:x")
	require.NoError(t, err)
	assert.Empty(t, fields)
}

func TestGeoRadius_SortedWithDistance(t *testing.T) {
	client, mock := newMockedClient(t)
	mock.ExpectGeoRadius("drivers:geo:locations", 9.7, 4.05, &goredis.GeoRadiusQuery{
		Radius:   5,
		Unit:     "km",
		WithDist: true,
		Count:    2,
		Sort:     "ASC",
	}).SetVal([]goredis.GeoLocation{
		{Name: "near", Dist: 0.4},
		{Name: "far", Dist: 3.1},
	})

	members, err := client.GeoRadius(context.Background(), "drivers:geo:locations", 9.7, 4.05, 5, 2)
	require.NoError(t, err)
	require.Len(t, members, 2)
	assert.Equal(t, "near", members[0].Name)
	assert.InDelta(t, 0.4, members[0].DistanceKm, 1e-9)
	assert.Equal(t, "far", members[1].Name)
}
