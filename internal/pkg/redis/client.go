// internal/pkg/redis/client.go
package redis

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	goredis "github.com/redis/go-redis/v9"
)

// Client 封装 go-redis，统一管理 Lua 脚本。
// 多个地址时自动使用集群客户端，key 需要带 hash tag 保证落在同一个 slot。
type Client struct {
	client  goredis.UniversalClient
	scripts map[string]*goredis.Script
	mu      sync.RWMutex
}

// NewClient addrs 格式为 "host1:port1,host2:port2"。
func NewClient(addrs string) (*Client, error) {
	list := strings.Split(addrs, ",")
	for i := range list {
		list[i] = strings.TrimSpace(list[i])
	}
	if len(list) == 0 || list[0] == "" {
		return nil, fmt.Errorf("redis: empty address list")
	}
	rdb := goredis.NewUniversalClient(&goredis.UniversalOptions{Addrs: list})
	return NewClientFrom(rdb), nil
}

// NewClientFrom 包装一个已有的客户端，测试中配合 miniredis 使用。
func NewClientFrom(rdb goredis.UniversalClient) *Client {
	return &Client{
		client:  rdb,
		scripts: make(map[string]*goredis.Script),
	}
}

// Ping 检查连接是否可用。
func (c *Client) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// LoadScriptFromContent 以名字注册一段 Lua 脚本。
func (c *Client) LoadScriptFromContent(name, content string) error {
	if strings.TrimSpace(content) == "" {
		return fmt.Errorf("redis: script %q is empty", name)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scripts[name] = goredis.NewScript(content)
	return nil
}

// LoadScriptFromFile 从文件加载 Lua 脚本。
func (c *Client) LoadScriptFromFile(name, path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("redis: read script %s: %w", path, err)
	}
	return c.LoadScriptFromContent(name, string(content))
}

// RunScript 通过 EVALSHA 执行脚本，服务端没有缓存时自动回退到 EVAL。
func (c *Client) RunScript(ctx context.Context, name string, keys []string, args ...interface{}) (interface{}, error) {
	c.mu.RLock()
	script, ok := c.scripts[name]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("redis: script %q not loaded", name)
	}
	return script.Run(ctx, c.client, keys, args...).Result()
}

func (c *Client) GetClient() goredis.UniversalClient {
	return c.client
}

func (c *Client) Close() error {
	return c.client.Close()
}
