// internal/pkg/bootstrap/app.go
package bootstrap

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/nacos-group/nacos-sdk-go/v2/clients/config_client"
	"github.com/nacos-group/nacos-sdk-go/v2/vo"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"nexus-stock/internal/pkg/logger"
	"nexus-stock/internal/pkg/nacos"
	"nexus-stock/internal/pkg/tracing"
)

var nacosConfigClient config_client.IConfigClient

type AppCtx struct {
	Mux    *http.ServeMux
	Nacos  *nacos.Client // 未启用 Nacos 时为 nil
	Config *Config
}

// Worker 是随服务启动的后台任务（消费者、清扫器等），ctx 在关停时取消。
type Worker func(ctx context.Context)

// AppInfo 包含了启动一个微服务所需的所有特定信息。
type AppInfo struct {
	ServiceName      string
	Port             int
	Metadata         map[string]string // 注册到 Nacos 的实例元数据
	RegisterHandlers func(appCtx AppCtx) []Worker
	OnShutdown       func(ctx context.Context)
}

// Init 加载配置（文件、环境变量、配置中心）并设为当前配置。
func Init() (*Config, error) {
	cfg, err := LoadConfig(getEnv("CONFIG_FILE", "configs/inventory.yaml"))
	if err != nil {
		return nil, err
	}
	SetCurrentConfig(cfg)

	if cfg.Infra.Nacos.Enabled && cfg.Infra.Nacos.DataID != "" {
		if err := loadRemoteConfig(cfg); err != nil {
			return nil, err
		}
	}
	return GetCurrentConfig(), nil
}

// loadRemoteConfig 拉取配置中心的 YAML 覆盖本地配置，并监听后续变更。
func loadRemoteConfig(base *Config) error {
	cc, err := nacos.NewConfigClient(base.Infra.Nacos.Addrs, base.Infra.Nacos.Namespace)
	if err != nil {
		return err
	}
	nacosConfigClient = cc

	param := vo.ConfigParam{DataId: base.Infra.Nacos.DataID, Group: base.Infra.Nacos.Group}
	content, err := cc.GetConfig(param)
	if err != nil {
		return err
	}
	if content != "" {
		next, err := ParseOverlay(base, []byte(content))
		if err != nil {
			return err
		}
		SetCurrentConfig(next)
	}

	param.OnChange = func(namespace, group, dataId, data string) {
		next, err := ParseOverlay(GetCurrentConfig(), []byte(data))
		if err != nil {
			log.Error().Err(err).Str("data_id", dataId).Msg("rejected config update from nacos")
			return
		}
		SetCurrentConfig(next)
		log.Info().Str("data_id", dataId).Msg("config reloaded from nacos")
	}
	return cc.ListenConfig(param)
}

// StartService 封装了所有微服务的通用启动和优雅关停逻辑。
func StartService(info AppInfo) {
	cfg := GetCurrentConfig()
	logger.Init(info.ServiceName, cfg.App.LogLevel)

	tp, err := tracing.InitTracerProvider(info.ServiceName, cfg.Infra.Jaeger.Endpoint)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize tracer provider")
	}

	var (
		namingClient *nacos.Client
		ip           string
	)
	if cfg.Infra.Nacos.Enabled {
		namingClient, err = nacos.NewNamingClient(cfg.Infra.Nacos.Addrs, cfg.Infra.Nacos.Namespace, cfg.Infra.Nacos.Group)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize nacos client")
		}
		ip, err = outboundIP()
		if err != nil {
			log.Fatal().Err(err).Msg("failed to get outbound IP address")
		}
		inst := nacos.Instance{Service: info.ServiceName, IP: ip, Port: info.Port, Metadata: info.Metadata}
		if err := namingClient.Register(inst); err != nil {
			log.Fatal().Err(err).Msg("failed to register service with nacos")
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.Handle("/metrics", promhttp.Handler())

	var workers []Worker
	if info.RegisterHandlers != nil {
		workers = info.RegisterHandlers(AppCtx{Mux: mux, Nacos: namingClient, Config: cfg})
	}

	workerCtx, stopWorkers := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	for _, w := range workers {
		wg.Add(1)
		go func(w Worker) {
			defer wg.Done()
			w(workerCtx)
		}(w)
	}

	server := &http.Server{Addr: ":" + strconv.Itoa(info.Port), Handler: mux}
	go func() {
		log.Info().Str("service", info.ServiceName).Int("port", info.Port).Msg("listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Str("addr", server.Addr).Msg("could not listen")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Str("service", info.ServiceName).Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// 关停顺序：注销 -> 停止接流量 -> 停后台任务 -> 刷 trace
	if namingClient != nil {
		if err := namingClient.Deregister(); err != nil {
			log.Error().Err(err).Msg("error deregistering from nacos")
		}
		namingClient.Close()
	}
	if nacosConfigClient != nil {
		nacosConfigClient.CloseClient()
	}

	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("error shutting down http server")
	}

	stopWorkers()
	wg.Wait()
	if info.OnShutdown != nil {
		info.OnShutdown(ctx)
	}

	if err := tp.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("error shutting down tracer provider")
	}
	log.Info().Str("service", info.ServiceName).Msg("gracefully shut down")
}

// outboundIP 通过一次 UDP "连接" 拿到本机对外的地址，不会真正发包。
func outboundIP() (string, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", err
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String(), nil
}
