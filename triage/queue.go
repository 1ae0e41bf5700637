package triage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultQueueKey is the Redis list analysis workers consume
const DefaultQueueKey = "crits:triage:jobs"

// maxJobSize bounds a single encoded job
const maxJobSize = 64 * 1024

// RedisQueue is a FIFO job queue on a Redis list. Producers LPUSH, consumers BRPOP.
type RedisQueue struct {
	client *redis.Client
	key    string
	logger *zap.SugaredLogger
}

// NewRedisQueue creates a queue on a new Redis client
func NewRedisQueue(addr, password string, db, poolSize int, key string, logger *zap.SugaredLogger) *RedisQueue {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
		PoolSize: poolSize,
	})
	return NewRedisQueueWithClient(client, key, logger)
}

// NewRedisQueueWithClient creates a queue on an existing client
func NewRedisQueueWithClient(client *redis.Client, key string, logger *zap.SugaredLogger) *RedisQueue {
	if key == "" {
		key = DefaultQueueKey
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &RedisQueue{client: client, key: key, logger: logger}
}

// Ping tests the Redis connection
func (q *RedisQueue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (q *RedisQueue) Close() error {
	return q.client.Close()
}

// Enqueue pushes a job onto the queue
func (q *RedisQueue) Enqueue(ctx context.Context, job Job) error {
	data, err := job.Encode()
	if err != nil {
		return err
	}
	if len(data) > maxJobSize {
		return fmt.Errorf("triage job %s is %d bytes, limit is %d", job.ID, len(data), maxJobSize)
	}
	if err := q.client.LPush(ctx, q.key, data).Err(); err != nil {
		return fmt.Errorf("failed to enqueue triage job %s: %w", job.ID, err)
	}
	return nil
}

// Dequeue blocks up to timeout for the oldest job. It returns ErrQueueEmpty on timeout.
// Undecodable entries are dropped and reported as ErrMalformedJob.
func (q *RedisQueue) Dequeue(ctx context.Context, timeout time.Duration) (Job, error) {
	res, err := q.client.BRPop(ctx, timeout, q.key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Job{}, ErrQueueEmpty
		}
		return Job{}, fmt.Errorf("failed to dequeue triage job: %w", err)
	}
	// BRPOP replies with [key, value]
	if len(res) != 2 {
		return Job{}, ErrMalformedJob
	}
	job, err := DecodeJob([]byte(res[1]))
	if err != nil {
		q.logger.Warnw("Dropping undecodable triage job", "queue", q.key, "error", err)
		return Job{}, err
	}
	return job, nil
}

// Len returns the number of queued jobs
func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.key).Result()
}
