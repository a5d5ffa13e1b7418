package adapter

import (
	"context"
	"fmt"
	"time"

	"nexus-stock/internal/pkg/redis"
)

const releaseLockScriptName = "release_lock"

// LockRedisAdapter 是 port.LockStore 的 Redis 实现：SET NX PX 加锁，Lua 比较 token 后删除。
type LockRedisAdapter struct {
	redisClient *redis.Client
}

// NewLockRedisAdapter 创建时加载释放锁的 Lua 脚本。
// scriptPath 为空时使用内置脚本，否则从文件加载（例如 scripts/release_lock.lua）。
func NewLockRedisAdapter(redisClient *redis.Client, scriptPath string) (*LockRedisAdapter, error) {
	var err error
	if scriptPath != "" {
		err = redisClient.LoadScriptFromFile(releaseLockScriptName, scriptPath)
	} else {
		err = redisClient.LoadScriptFromContent(releaseLockScriptName, releaseLockScript)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load release lock script: %w", err)
	}
	return &LockRedisAdapter{redisClient: redisClient}, nil
}

func (a *LockRedisAdapter) SetIfAbsent(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	ok, err := a.redisClient.GetClient().SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis lock adapter: set %s: %w", key, err)
	}
	return ok, nil
}

func (a *LockRedisAdapter) CompareAndDelete(ctx context.Context, key, token string) (bool, error) {
	result, err := a.redisClient.RunScript(ctx, releaseLockScriptName, []string{key}, token)
	if err != nil {
		return false, fmt.Errorf("redis lock adapter: release %s: %w", key, err)
	}
	code, ok := result.(int64)
	if !ok {
		return false, fmt.Errorf("unexpected result type from Lua script: %T", result)
	}
	return code == 1, nil
}

var releaseLockScript = `
-- KEYS[1]: 锁的 key, 例如: lock:stock:{p1:s1:shop1:w1}
-- ARGV[1]: 加锁时写入的 token

if redis.call('get', KEYS[1]) == ARGV[1] then
    return redis.call('del', KEYS[1])
end
return 0
`
