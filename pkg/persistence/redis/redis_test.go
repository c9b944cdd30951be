package redis_test

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/nexuspro/flows/pkg/persistence"
	"github.com/nexuspro/flows/pkg/persistence/persistencetest"
	redisstore "github.com/nexuspro/flows/pkg/persistence/redis"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

var redisContainer testcontainers.Container

func setupRedis(t *testing.T) (*redisstore.Persistence, context.Context) {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)

	if redisContainer == nil || !redisContainer.IsRunning() {
		var err error

		redisContainer, err = testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
			ContainerRequest: testcontainers.ContainerRequest{
				Image:        "redis:7-alpine",
				ExposedPorts: []string{"6379/tcp"},
				WaitingFor:   wait.ForLog("Ready to accept connections"),
			},
			Started: true,
		})
		require.NoError(t, err)
	}

	endpoint, err := redisContainer.Endpoint(ctx, "")
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	p, err := redisstore.NewPersistence(ctx, logger, fmt.Sprintf("redis://%s/0", endpoint))
	require.NoError(t, err)

	// Subtests share one server; start each from an empty database.
	client := goredis.NewClient(&goredis.Options{Addr: endpoint})
	require.NoError(t, client.FlushDB(ctx).Err())
	require.NoError(t, client.Close())

	t.Cleanup(func() {
		err := p.Close(ctx)
		require.NoError(t, err)

		cancel()
	})

	return p, ctx
}

func TestRedisPersistence(t *testing.T) {
	persistencetest.Run(t, func(t *testing.T) persistence.Persistence {
		p, _ := setupRedis(t)

		return p
	})
}

func TestRedisPersistence_HealthCheck(t *testing.T) {
	p, ctx := setupRedis(t)

	assert.NoError(t, p.HealthCheck(ctx))
}

func TestNewPersistence_InvalidURL(t *testing.T) {
	_, err := redisstore.NewPersistence(t.Context(), slog.Default(), "not a url")
	assert.Error(t, err)
}
