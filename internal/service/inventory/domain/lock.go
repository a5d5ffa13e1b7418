package domain

import (
	"fmt"
	"time"
)

// Lock 一次成功的加锁。Token 是随机值，只有持有相同 Token 的调用方才能释放。
type Lock struct {
	ResourceKey string
	Token       string
	TTL         time.Duration
	AcquiredAt  time.Time
}

// LockOptions 加锁参数：最多尝试 MaxRetries 次，每次间隔 RetryDelay。
type LockOptions struct {
	TTL        time.Duration
	MaxRetries int
	RetryDelay time.Duration
}

// DefaultLockOptions 锁 TTL 3s，最多 10 次、每次间隔 50ms。
func DefaultLockOptions() LockOptions {
	return LockOptions{
		TTL:        3 * time.Second,
		MaxRetries: 10,
		RetryDelay: 50 * time.Millisecond,
	}
}

// HolderLockKey 同一持有者的结账互斥锁，和库存单元锁不在同一个命名空间。
func HolderLockKey(holderRef string) string {
	return fmt.Sprintf("lock:holder:{%s}", holderRef)
}
