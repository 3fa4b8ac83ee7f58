package moderation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const spamKeyPrefix = "goose:chat_spam:"

// RedisSpamLimiter keeps each sender's window in a sorted set scored by
// arrival time, so several server processes share one limit.
type RedisSpamLimiter struct {
	rdb    *redis.Client
	limit  int
	window time.Duration
}

func NewRedisSpamLimiter(rdb *redis.Client, limit int, window time.Duration) *RedisSpamLimiter {
	return &RedisSpamLimiter{rdb: rdb, limit: limit, window: window}
}

func spamKey(lobby, user string) string {
	return spamKeyPrefix + lobby + ":" + user
}

// Allow records the message optimistically and takes it back when the
// window was already full.
func (r *RedisSpamLimiter) Allow(ctx context.Context, lobby, user string, at time.Time) (bool, error) {
	key := spamKey(lobby, user)
	minScore := float64(at.Add(-r.window).UnixMicro())
	member := uuid.NewString()

	pipe := r.rdb.TxPipeline()
	// 清理窗口外的记录，恰好满一个窗口的也算过期
	pipe.ZRemRangeByScore(ctx, key, "-inf", fmt.Sprintf("%f", minScore))
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(at.UnixMicro()), Member: member})
	pipe.Expire(ctx, key, r.window+time.Minute)
	countCmd := pipe.ZCard(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("spam window update: %w", err)
	}

	count, err := countCmd.Result()
	if err != nil {
		r.rdb.ZRem(ctx, key, member)
		return false, fmt.Errorf("spam window count: %w", err)
	}
	if count > int64(r.limit) {
		// 被拦截的消息不计入窗口
		if err := r.rdb.ZRem(ctx, key, member).Err(); err != nil {
			return false, fmt.Errorf("spam window rollback: %w", err)
		}
		return false, nil
	}
	return true, nil
}

// ForgetLobby is a no-op: keys expire on their own.
func (r *RedisSpamLimiter) ForgetLobby(string) {}
