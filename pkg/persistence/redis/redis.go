// Package redis stores workflow graphs and runs in Redis. Entities are Hashes,
// graph versions are plain JSON strings and runs are indexed by Sets plus a
// Sorted Set of suspended runs ordered by resume time. Conditional writes use
// WATCH/MULTI.
package redis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nexuspro/flows/pkg/persistence"
	goredis "github.com/redis/go-redis/v9"
)

// maxWatchRetries bounds optimistic retries of graph writes.
const maxWatchRetries = 10

// Persistence implements persistence.Persistence on top of a Redis client.
type Persistence struct {
	client *goredis.Client
	logger *slog.Logger
	graphs *GraphRepository
	runs   *RunRepository
}

// NewPersistence connects to the Redis server at url (redis://host:port/db).
func NewPersistence(ctx context.Context, logger *slog.Logger, url string) (*Persistence, error) {
	options, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := goredis.NewClient(options)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return New(client, logger), nil
}

// New wraps an existing client. Close closes it.
func New(client *goredis.Client, logger *slog.Logger) *Persistence {
	return &Persistence{
		client: client,
		logger: logger,
		graphs: &GraphRepository{client: client, logger: logger},
		runs:   &RunRepository{client: client, logger: logger},
	}
}

func (p *Persistence) GraphRepository() persistence.GraphRepository {
	return p.graphs
}

func (p *Persistence) RunRepository() persistence.RunRepository {
	return p.runs
}

func (p *Persistence) HealthCheck(ctx context.Context) error {
	if err := p.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to ping redis: %w", err)
	}

	return nil
}

func (p *Persistence) Close(_ context.Context) error {
	if err := p.client.Close(); err != nil {
		return fmt.Errorf("failed to close redis client: %w", err)
	}

	return nil
}
