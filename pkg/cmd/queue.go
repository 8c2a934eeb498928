package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dukex/jobflow/pkg/queue"
	"github.com/dukex/jobflow/pkg/queue/memory"
	"github.com/dukex/jobflow/pkg/queue/redis"
)

var supportedQueueProviders = []string{"memory", "redis", "rediss"}

// NewQueue selects the task queue by the scheme of queueURL. An empty URL
// selects the in-process queue.
func NewQueue(ctx context.Context, logger *slog.Logger, queueURL string) (queue.Queue, error) {
	provider := parseProvider(queueURL, supportedQueueProviders, "memory")

	logger.InfoContext(ctx, "initializing task queue", "provider", provider)

	switch provider {
	case "redis", "rediss":
		q, err := redis.New(ctx, logger, queueURL)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize redis queue: %w", err)
		}

		return q, nil
	default:
		return memory.New(), nil
	}
}

// IsInProcessQueue reports whether queueURL selects the in-process queue,
// which only workers of the same process can drain.
func IsInProcessQueue(queueURL string) bool {
	return parseProvider(queueURL, supportedQueueProviders, "memory") == "memory"
}
