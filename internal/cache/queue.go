package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// CatchupCreated announces a newly synthesised catchup stream to the
// recorder service, which starts capturing it.
type CatchupCreated struct {
	CatchupID string `json:"catchup_id"`
	SourceID  string `json:"source_id"`
	UserID    string `json:"user_id"`
	Title     string `json:"title"`
	Start     int64  `json:"start"`
	Stop      int64  `json:"stop"`
}

// CatchupQueue is the Redis list key for catchup events.
const CatchupQueue = "popcorngate:events:catchups"

// Enqueue pushes an event onto the left side of the list.
func Enqueue(ctx context.Context, r *Redis, queue string, ev CatchupCreated) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("queue marshal: %w", err)
	}
	return r.client.LPush(ctx, queue, data).Err()
}

// Dequeue blocks until an event is available on the right side of the
// list or the timeout expires. A timeout or cancelled ctx yields (nil, nil).
func Dequeue(ctx context.Context, r *Redis, queue string, timeout time.Duration) (*CatchupCreated, error) {
	result, err := r.client.BRPop(ctx, timeout, queue).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) || ctx.Err() != nil {
			return nil, nil
		}
		return nil, fmt.Errorf("queue dequeue: %w", err)
	}
	if len(result) < 2 {
		return nil, nil
	}
	var ev CatchupCreated
	if err := json.Unmarshal([]byte(result[1]), &ev); err != nil {
		return nil, fmt.Errorf("queue unmarshal: %w", err)
	}
	return &ev, nil
}
