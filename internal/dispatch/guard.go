package dispatch

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Cooper3516833584/Cooper-bot/internal/transport"
)

// GuardStore 去重与限流的存储（*redis.Client 实现）
type GuardStore interface {
	MarkOnce(ctx context.Context, id string, ttl time.Duration) (bool, error)
	CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// GuardOptions 去重与限流参数；RateLimit<=0 时不限流
type GuardOptions struct {
	RateLimit       int
	RateLimitWindow time.Duration
	DedupeTTL       time.Duration
}

// RedisGuard 基于 Redis 的入站过滤；Redis 不可用时放行
type RedisGuard struct {
	store  GuardStore
	opts   GuardOptions
	logger *zap.Logger
}

// NewRedisGuard 创建入站过滤
func NewRedisGuard(store GuardStore, opts GuardOptions, logger *zap.Logger) *RedisGuard {
	if opts.DedupeTTL <= 0 {
		opts.DedupeTTL = 10 * time.Minute
	}
	if opts.RateLimitWindow <= 0 {
		opts.RateLimitWindow = time.Minute
	}
	return &RedisGuard{store: store, opts: opts, logger: logger}
}

// Allow 重复事件与超出限流的用户消息返回 false
func (g *RedisGuard) Allow(ctx context.Context, msg transport.Message) bool {
	if msg.EventID != "" {
		first, err := g.store.MarkOnce(ctx, msg.EventID, g.opts.DedupeTTL)
		if err != nil {
			g.logger.Warn("事件去重失败，放行", zap.Error(err))
		} else if !first {
			g.logger.Debug("丢弃重复事件", zap.String("event_id", msg.EventID))
			return false
		}
	}

	if g.opts.RateLimit <= 0 {
		return true
	}
	key := fmt.Sprintf("ratelimit:onebot:%d", msg.Conv.UserID)
	ok, err := g.store.CheckRateLimit(ctx, key, g.opts.RateLimit, g.opts.RateLimitWindow)
	if err != nil {
		g.logger.Warn("限流检查失败，放行", zap.Error(err))
		return true
	}
	if !ok {
		g.logger.Warn("用户消息超出限流，已丢弃",
			zap.Int64("user_id", msg.Conv.UserID),
			zap.Int("limit", g.opts.RateLimit),
		)
	}
	return ok
}
