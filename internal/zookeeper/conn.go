package zookeeper

import (
	"fmt"
	"time"

	"github.com/go-zookeeper/zk"
	"github.com/rs/zerolog/log"
)

// Conn 包装 zk 连接。
type Conn struct {
	*zk.Conn
}

// Connect 建立会话并在后台记录会话状态变化。
func Connect(servers []string, sessionTimeout time.Duration) (*Conn, error) {
	if len(servers) == 0 {
		return nil, fmt.Errorf("zookeeper: no servers configured")
	}
	c, events, err := zk.Connect(servers, sessionTimeout)
	if err != nil {
		return nil, fmt.Errorf("zookeeper: connect %v: %w", servers, err)
	}
	go func() {
		for evt := range events {
			if evt.Type == zk.EventSession {
				log.Info().Str("state", evt.State.String()).Msg("zookeeper session state changed")
			}
		}
	}()
	return &Conn{Conn: c}, nil
}

// ensurePath 逐级创建持久节点，已存在的忽略。
func (c *Conn) ensurePath(path string) error {
	exists, _, err := c.Exists(path)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	_, err = c.Create(path, []byte(""), 0, zk.WorldACL(zk.PermAll))
	if err != nil && err != zk.ErrNodeExists {
		return fmt.Errorf("failed to create node %s: %w", path, err)
	}
	return nil
}
