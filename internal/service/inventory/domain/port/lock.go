package port

import (
	"context"
	"time"
)

// LockStore 协调存储需要提供的两个原子原语。
type LockStore interface {
	// SetIfAbsent key 不存在时写入 token 并设置过期时间，返回是否写入成功。
	SetIfAbsent(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	// CompareAndDelete 仅当 key 当前的值等于 token 时删除，返回是否删除。
	CompareAndDelete(ctx context.Context, key, token string) (bool, error)
}
