// internal/pkg/nacos/client.go
package nacos

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/nacos-group/nacos-sdk-go/v2/clients"
	"github.com/nacos-group/nacos-sdk-go/v2/clients/config_client"
	"github.com/nacos-group/nacos-sdk-go/v2/clients/naming_client"
	"github.com/nacos-group/nacos-sdk-go/v2/common/constant"
	"github.com/nacos-group/nacos-sdk-go/v2/vo"
	"github.com/rs/zerolog/log"
)

const defaultGroup = "DEFAULT_GROUP"

// Client 封装了 Nacos 命名客户端
type Client struct {
	namingClient naming_client.INamingClient

	namespaceId string
	groupName   string

	mu         sync.Mutex
	registered []Instance
}

// ServerConfigs 解析 "ip1:port1,ip2:port2" 格式的地址列表。
func ServerConfigs(addrs string) ([]constant.ServerConfig, error) {
	var serverConfigs []constant.ServerConfig
	for _, addr := range strings.Split(addrs, ",") {
		addr = strings.TrimSpace(addr)
		parts := strings.Split(addr, ":")
		if len(parts) != 2 || parts[0] == "" {
			return nil, fmt.Errorf("invalid nacos address format: %q", addr)
		}
		port, err := strconv.ParseUint(parts[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid port in nacos address: %s", parts[1])
		}
		serverConfigs = append(serverConfigs, *constant.NewServerConfig(parts[0], port))
	}
	return serverConfigs, nil
}

// ClientConfig 命名客户端和配置客户端共用的客户端配置。
func ClientConfig(namespaceId string) constant.ClientConfig {
	return *constant.NewClientConfig(
		constant.WithNotLoadCacheAtStart(true),
		constant.WithLogDir("/tmp/nacos/log"),
		constant.WithCacheDir("/tmp/nacos/cache"),
		constant.WithLogLevel("warn"),
		constant.WithNamespaceId(namespaceId),
	)
}

// NewNamingClient 创建命名客户端，groupName 为空时使用 DEFAULT_GROUP。
func NewNamingClient(addrs string, namespaceId, groupName string) (*Client, error) {
	if namespaceId == "" {
		log.Warn().Msg("⚠️ NACOS_NAMESPACE is not set. Using default public namespace.")
	}
	if groupName == "" {
		groupName = defaultGroup
	}

	serverConfigs, err := ServerConfigs(addrs)
	if err != nil {
		return nil, err
	}
	clientConfig := ClientConfig(namespaceId)

	namingClient, err := clients.NewNamingClient(
		vo.NacosClientParam{
			ClientConfig:  &clientConfig,
			ServerConfigs: serverConfigs,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create nacos naming client: %w", err)
	}

	log.Info().Str("addrs", addrs).Msg("✅ Successfully connected to Nacos.")
	return &Client{
		namingClient: namingClient,
		namespaceId:  namespaceId,
		groupName:    groupName,
	}, nil
}

// NewConfigClient 创建配置中心客户端。
func NewConfigClient(addrs, namespaceId string) (config_client.IConfigClient, error) {
	serverConfigs, err := ServerConfigs(addrs)
	if err != nil {
		return nil, err
	}
	clientConfig := ClientConfig(namespaceId)
	cc, err := clients.NewConfigClient(vo.NacosClientParam{
		ClientConfig:  &clientConfig,
		ServerConfigs: serverConfigs,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create nacos config client: %w", err)
	}
	return cc, nil
}

// Instance 注册到 Nacos 的一个实例。Metadata 用来标出锁后端、存储等部署差异。
type Instance struct {
	Service  string
	IP       string
	Port     int
	Metadata map[string]string
}

// Register 注册临时实例，心跳断开后由 Nacos 自动摘除。注册成功的实例会在 Deregister 时注销。
func (c *Client) Register(inst Instance) error {
	ok, err := c.namingClient.RegisterInstance(vo.RegisterInstanceParam{
		Ip:          inst.IP,
		Port:        uint64(inst.Port),
		ServiceName: inst.Service,
		Weight:      10,
		Enable:      true,
		Healthy:     true,
		Ephemeral:   true,
		GroupName:   c.groupName,
		Metadata:    inst.Metadata,
	})
	if err != nil {
		return fmt.Errorf("register %s with nacos: %w", inst.Service, err)
	}
	if !ok {
		return fmt.Errorf("nacos refused registration of %s", inst.Service)
	}
	c.mu.Lock()
	c.registered = append(c.registered, inst)
	c.mu.Unlock()
	log.Info().Str("service", inst.Service).Str("ip", inst.IP).Int("port", inst.Port).Interface("metadata", inst.Metadata).Msg("✅ Service registered to Nacos")
	return nil
}

// Deregister 注销本客户端注册过的全部实例，返回遇到的第一个错误。
func (c *Client) Deregister() error {
	c.mu.Lock()
	insts := c.registered
	c.registered = nil
	c.mu.Unlock()

	var first error
	for _, inst := range insts {
		_, err := c.namingClient.DeregisterInstance(vo.DeregisterInstanceParam{
			Ip:          inst.IP,
			Port:        uint64(inst.Port),
			ServiceName: inst.Service,
			Ephemeral:   true,
			GroupName:   c.groupName,
		})
		if err != nil {
			if first == nil {
				first = fmt.Errorf("deregister %s from nacos: %w", inst.Service, err)
			}
			continue
		}
		log.Info().Str("service", inst.Service).Msg("ℹ️ Service deregistered from Nacos")
	}
	return first
}

// Discover 按权重选一个健康实例
func (c *Client) Discover(serviceName string) (string, int, error) {
	instance, err := c.namingClient.SelectOneHealthyInstance(vo.SelectOneHealthInstanceParam{
		ServiceName: serviceName,
		GroupName:   c.groupName,
	})
	if err != nil {
		return "", 0, fmt.Errorf("discover %s: %w", serviceName, err)
	}
	if instance == nil {
		return "", 0, fmt.Errorf("discover %s: no healthy instance", serviceName)
	}
	return instance.Ip, int(instance.Port), nil
}

// ServiceURL 把发现到的实例拼成 http 基础地址。
func (c *Client) ServiceURL(serviceName string) (string, error) {
	ip, port, err := c.Discover(serviceName)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("http://%s:%d", ip, port), nil
}

func (c *Client) Close() {
	if c.namingClient != nil {
		c.namingClient.CloseClient()
	}
}
