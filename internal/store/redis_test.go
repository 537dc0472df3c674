package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/kiranshivaraju/casebridge/internal/store"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedis spins up a Redis container and returns a connected client.
func setupRedis(t *testing.T) *redis.Client {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, container.Terminate(ctx)) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	opts, err := redis.ParseURL("redis://" + host + ":" + port.Port())
	require.NoError(t, err)
	rdb := redis.NewClient(opts)
	t.Cleanup(func() { rdb.Close() })

	return rdb
}

func TestRedisStore(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	runStoreSuite(t, store.NewRedisStore(setupRedis(t)))
}

func TestRedisStore_FailedCreateReleasesID(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	ctx := context.Background()
	rdb := setupRedis(t)
	s := store.NewRedisStore(rdb)

	// A string at the pending index makes SADD fail inside EXEC.
	require.NoError(t, rdb.Set(ctx, "casebridge:jobs:pending", "not-a-set", 0).Err())

	id := newID()
	_, err := s.Create(ctx, id, testPayload())
	require.Error(t, err)
	assert.NotErrorIs(t, err, store.ErrDuplicateID)

	_, err = s.Get(ctx, id)
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, rdb.Del(ctx, "casebridge:jobs:pending").Err())

	job, err := s.Create(ctx, id, testPayload())
	require.NoError(t, err)
	assert.Equal(t, id, job.ID)
}
