package zookeeper

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-zookeeper/zk"
)

const lockRoot = "/inventory_locks" // 所有库存锁的根节点

// LockStore 是 port.LockStore 的 ZooKeeper 实现。
// 每个锁是一个临时节点，数据为 "token|过期时间毫秒"；会话断开时节点自动消失，
// 持有者进程存活但超过 TTL 的锁由下一个竞争者按版本号删除后接管。
type LockStore struct {
	conn *Conn
	now  func() time.Time
}

func NewLockStore(conn *Conn) (*LockStore, error) {
	if err := conn.ensurePath(lockRoot); err != nil {
		return nil, err
	}
	return &LockStore{conn: conn, now: time.Now}, nil
}

// nodePath zk 节点名不能包含 '/'。
func nodePath(key string) string {
	return lockRoot + "/" + strings.ReplaceAll(key, "/", "_")
}

func encodeLock(token string, expiresAt time.Time) []byte {
	return []byte(token + "|" + strconv.FormatInt(expiresAt.UnixMilli(), 10))
}

func decodeLock(data []byte) (string, time.Time, error) {
	token, deadline, ok := strings.Cut(string(data), "|")
	if !ok {
		return "", time.Time{}, fmt.Errorf("malformed lock node payload %q", data)
	}
	ms, err := strconv.ParseInt(deadline, 10, 64)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("malformed lock deadline %q: %w", deadline, err)
	}
	return token, time.UnixMilli(ms), nil
}

func (s *LockStore) SetIfAbsent(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	path := nodePath(key)
	// 至多两轮：第二轮发生在删除了一个过期的锁之后
	for range 2 {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		_, err := s.conn.Create(path, encodeLock(token, s.now().Add(ttl)), zk.FlagEphemeral, zk.WorldACL(zk.PermAll))
		if err == nil {
			return true, nil
		}
		if !errors.Is(err, zk.ErrNodeExists) {
			return false, fmt.Errorf("zookeeper lock: create %s: %w", path, err)
		}

		data, stat, err := s.conn.Get(path)
		if errors.Is(err, zk.ErrNoNode) {
			continue
		}
		if err != nil {
			return false, fmt.Errorf("zookeeper lock: get %s: %w", path, err)
		}
		_, expiresAt, err := decodeLock(data)
		if err == nil && s.now().Before(expiresAt) {
			return false, nil
		}
		// 已过期或数据损坏，按版本删除，失败说明别人抢先接管了
		if err := s.conn.Delete(path, stat.Version); err != nil && !errors.Is(err, zk.ErrNoNode) {
			if errors.Is(err, zk.ErrBadVersion) {
				return false, nil
			}
			return false, fmt.Errorf("zookeeper lock: delete stale %s: %w", path, err)
		}
	}
	return false, nil
}

func (s *LockStore) CompareAndDelete(ctx context.Context, key, token string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	path := nodePath(key)
	data, stat, err := s.conn.Get(path)
	if errors.Is(err, zk.ErrNoNode) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("zookeeper lock: get %s: %w", path, err)
	}
	owner, expiresAt, err := decodeLock(data)
	if err != nil || owner != token {
		return false, nil
	}
	if err := s.conn.Delete(path, stat.Version); err != nil {
		if errors.Is(err, zk.ErrNoNode) || errors.Is(err, zk.ErrBadVersion) {
			return false, nil
		}
		return false, fmt.Errorf("zookeeper lock: delete %s: %w", path, err)
	}
	// 过期后才释放的锁同样视为未持有，节点仍然删除
	return s.now().Before(expiresAt), nil
}
