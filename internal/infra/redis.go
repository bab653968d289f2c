// README: Redis client initialization for conversation snapshots, locks and the outbound queue.
package infra

import (
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
)

func NewRedis(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{Addr: addr})
}

// NewQueueOpt returns the asynq connection option for the same Redis instance.
func NewQueueOpt(addr string) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{Addr: addr}
}
