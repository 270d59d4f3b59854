package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// jobsKey is the Redis list the scheduler and workers share.
const jobsKey = "imageflow:jobs"

// ErrEmpty is returned by Dequeue when no job arrived within the
// timeout. Not an error condition; the worker just polls again.
var ErrEmpty = errors.New("queue empty")

// Queue hands image IDs from the upload path to the worker pool. The
// payload is the image ID only — the job row in the metadata repository
// is the source of truth for the transform snapshot.
type Queue interface {
	Enqueue(ctx context.Context, imageID string) error
	Dequeue(ctx context.Context, timeout time.Duration) (string, error)
}

// Compile-time check that Redis implements Queue.
var _ Queue = (*Redis)(nil)

// Redis implements Queue on a Redis list (LPUSH producer, BRPOP consumer).
type Redis struct {
	client *redis.Client
}

// NewRedis creates a queue against the Redis server at addr.
func NewRedis(addr string) *Redis {
	return &Redis{client: redis.NewClient(&redis.Options{Addr: addr})}
}

// Ping verifies the connection, for startup checks.
func (q *Redis) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

func (q *Redis) Enqueue(ctx context.Context, imageID string) error {
	if err := q.client.LPush(ctx, jobsKey, imageID).Err(); err != nil {
		return fmt.Errorf("enqueue job: %w", err)
	}
	return nil
}

func (q *Redis) Dequeue(ctx context.Context, timeout time.Duration) (string, error) {
	vals, err := q.client.BRPop(ctx, timeout, jobsKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrEmpty
		}
		return "", fmt.Errorf("dequeue job: %w", err)
	}
	// BRPOP returns [key, value].
	if len(vals) != 2 {
		return "", fmt.Errorf("dequeue job: unexpected reply %v", vals)
	}
	return vals[1], nil
}
