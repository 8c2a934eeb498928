// Package redis provides a shared task queue on Redis, so several worker
// processes can lease from the same lanes.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	redis "github.com/redis/go-redis/v9"

	"github.com/dukex/jobflow/pkg/models"
	"github.com/dukex/jobflow/pkg/queue"
)

const (
	defaultPrefix = "jobflow"
	pollInterval  = 100 * time.Millisecond
	scanBatch     = 16
)

// Lane items are stored as "<available-at-ms>|<task-json>" so the scripts
// can keep the ready index in sync without decoding JSON.

// KEYS: ready, lane, lease. ARGV: instance id, available-at ms, item.
var enqueueScript = redis.NewScript(`
local size = redis.call('RPUSH', KEYS[2], ARGV[3])
if size == 1 and redis.call('EXISTS', KEYS[3]) == 0 then
	redis.call('ZADD', KEYS[1], ARGV[2], ARGV[1])
end
return size
`)

// KEYS: ready. ARGV: prefix, now ms, lease token, lease ttl ms, scan batch.
// Lanes are picked out of the ready index, so their lane and lease keys are
// built from the prefix the same way laneKey and leaseKey build them.
var acquireScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[2], 'LIMIT', 0, ARGV[5])
for _, id in ipairs(ids) do
	local leaseKey = ARGV[1] .. ':lease:' .. id
	local head = redis.call('LINDEX', ARGV[1] .. ':lane:' .. id, 0)
	if not head then
		redis.call('ZREM', KEYS[1], id)
	else
		local now = tonumber(ARGV[2])
		local at = tonumber(string.match(head, '^(%d+)|'))
		if at > now then
			redis.call('ZADD', KEYS[1], at, id)
		elseif redis.call('SET', leaseKey, ARGV[3], 'NX', 'PX', ARGV[4]) then
			redis.call('ZADD', KEYS[1], now + tonumber(ARGV[4]), id)
			return {id, head}
		else
			redis.call('ZADD', KEYS[1], now + math.max(redis.call('PTTL', leaseKey), 1), id)
		end
	end
end
return false
`)

// KEYS: ready, lease, lane. ARGV: instance id, lease token.
var completeScript = redis.NewScript(`
if redis.call('GET', KEYS[2]) ~= ARGV[2] then
	return 0
end
redis.call('DEL', KEYS[2])
redis.call('LPOP', KEYS[3])
local head = redis.call('LINDEX', KEYS[3], 0)
if head then
	redis.call('ZADD', KEYS[1], tonumber(string.match(head, '^(%d+)|')), ARGV[1])
else
	redis.call('ZREM', KEYS[1], ARGV[1])
end
return 1
`)

// KEYS: ready, lease, lane. ARGV: instance id, lease token, available-at ms,
// item.
var failScript = redis.NewScript(`
if redis.call('GET', KEYS[2]) ~= ARGV[2] then
	return 0
end
redis.call('DEL', KEYS[2])
redis.call('LSET', KEYS[3], 0, ARGV[4])
redis.call('ZADD', KEYS[1], ARGV[3], ARGV[1])
return 1
`)

// Queue implements queue.Queue on Redis lists, a sorted set of ready lanes
// and one lease key per leased lane. It needs a single node or a primary
// with replicas; Redis Cluster is not supported.
type Queue struct {
	client   *redis.Client
	prefix   string
	leaseTTL time.Duration
	clock    clockwork.Clock
	logger   *slog.Logger
}

type Option func(*Queue)

// WithPrefix namespaces every key used by the queue.
func WithPrefix(prefix string) Option {
	return func(q *Queue) { q.prefix = prefix }
}

// WithLeaseTTL sets how long a lease is held.
func WithLeaseTTL(ttl time.Duration) Option {
	return func(q *Queue) { q.leaseTTL = ttl }
}

// WithClock sets the clock used for availability times.
func WithClock(clock clockwork.Clock) Option {
	return func(q *Queue) { q.clock = clock }
}

// New connects to Redis at a redis:// URL.
func New(ctx context.Context, logger *slog.Logger, redisURL string, opts ...Option) (*Queue, error) {
	options, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(options)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err = client.Ping(pingCtx).Err()
	if err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.InfoContext(ctx, "Connected to Redis", "addr", options.Addr, "db", options.DB)

	return NewWithClient(client, logger, opts...), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *redis.Client, logger *slog.Logger, opts ...Option) *Queue {
	q := &Queue{
		client:   client,
		prefix:   defaultPrefix,
		leaseTTL: queue.DefaultLeaseTTL,
		clock:    clockwork.NewRealClock(),
		logger:   logger.With("module", "redis_queue"),
	}

	for _, opt := range opts {
		opt(q)
	}

	return q
}

func (q *Queue) readyKey() string {
	return q.prefix + ":ready"
}

func (q *Queue) laneKey(instanceID string) string {
	return q.prefix + ":lane:" + instanceID
}

func (q *Queue) leaseKey(instanceID string) string {
	return q.prefix + ":lease:" + instanceID
}

func encodeItem(task models.Task) (string, error) {
	data, err := json.Marshal(task)
	if err != nil {
		return "", fmt.Errorf("failed to encode task: %w", err)
	}

	return strconv.FormatInt(task.AvailableAt.UnixMilli(), 10) + "|" + string(data), nil
}

func decodeItem(item string) (models.Task, error) {
	var task models.Task

	_, data, ok := strings.Cut(item, "|")
	if !ok {
		return task, fmt.Errorf("malformed queue item %q", item)
	}

	err := json.Unmarshal([]byte(data), &task)
	if err != nil {
		return task, fmt.Errorf("failed to decode task: %w", err)
	}

	return task, nil
}

func (q *Queue) Enqueue(ctx context.Context, task models.Task) error {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}

	now := q.clock.Now()
	if task.EnqueuedAt.IsZero() {
		task.EnqueuedAt = now
	}

	if task.AvailableAt.IsZero() {
		task.AvailableAt = now
	}

	item, err := encodeItem(task)
	if err != nil {
		return err
	}

	keys := []string{q.readyKey(), q.laneKey(task.InstanceID), q.leaseKey(task.InstanceID)}

	err = enqueueScript.Run(ctx, q.client, keys,
		task.InstanceID, task.AvailableAt.UnixMilli(), item,
	).Err()
	if err != nil {
		return fmt.Errorf("failed to enqueue task for %s: %w", task.InstanceID, err)
	}

	return nil
}

func (q *Queue) Poll(ctx context.Context, workerID string, timeout time.Duration) (*queue.Lease, error) {
	deadline := q.clock.Now().Add(timeout)

	for {
		lease, err := q.acquire(ctx, workerID)
		if err != nil || lease != nil {
			return lease, err
		}

		remaining := deadline.Sub(q.clock.Now())
		if remaining <= 0 {
			return nil, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.clock.After(min(remaining, pollInterval)):
		}
	}
}

func (q *Queue) acquire(ctx context.Context, workerID string) (*queue.Lease, error) {
	now := q.clock.Now()
	token := uuid.NewString()

	result, err := acquireScript.Run(ctx, q.client, []string{q.readyKey()},
		q.prefix, now.UnixMilli(), token, q.leaseTTL.Milliseconds(), scanBatch,
	).StringSlice()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to acquire task: %w", err)
	}

	if len(result) != 2 {
		return nil, nil
	}

	task, err := decodeItem(result[1])
	if err != nil {
		return nil, err
	}

	return &queue.Lease{
		Task:      task,
		WorkerID:  workerID,
		Token:     token,
		ExpiresAt: now.Add(q.leaseTTL),
	}, nil
}

func (q *Queue) Complete(ctx context.Context, lease *queue.Lease) error {
	id := lease.Task.InstanceID

	held, err := completeScript.Run(ctx, q.client, []string{q.readyKey(), q.leaseKey(id), q.laneKey(id)},
		id, lease.Token,
	).Int()
	if err != nil {
		return fmt.Errorf("failed to complete task %s: %w", lease.Task.ID, err)
	}

	if held == 0 {
		return queue.ErrLeaseExpired
	}

	return nil
}

func (q *Queue) Fail(ctx context.Context, lease *queue.Lease, retryAfter time.Duration) error {
	task := lease.Task
	task.Attempt++
	task.AvailableAt = q.clock.Now().Add(retryAfter)

	item, err := encodeItem(task)
	if err != nil {
		return err
	}

	keys := []string{q.readyKey(), q.leaseKey(task.InstanceID), q.laneKey(task.InstanceID)}

	held, err := failScript.Run(ctx, q.client, keys,
		task.InstanceID, lease.Token, task.AvailableAt.UnixMilli(), item,
	).Int()
	if err != nil {
		return fmt.Errorf("failed to release task %s: %w", task.ID, err)
	}

	if held == 0 {
		return queue.ErrLeaseExpired
	}

	q.logger.Debug("task released for retry", "task_id", task.ID, "attempt", task.Attempt, "retry_after", retryAfter)

	return nil
}

func (q *Queue) Close() error {
	return q.client.Close()
}
