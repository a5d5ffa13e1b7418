// cmd/expiry-sweeper 独立部署的过期预占清扫进程，与 inventory-service 共用存储。
package main

import (
	"context"

	"github.com/rs/zerolog/log"

	"nexus-stock/internal/pkg/bootstrap"
	"nexus-stock/internal/service/inventory"
)

const serviceName = "expiry-sweeper"

func main() {
	cfg, err := bootstrap.Init()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	var components *inventory.Components
	bootstrap.StartService(bootstrap.AppInfo{
		ServiceName: serviceName,
		Port:        cfg.App.Port,
		Metadata:    inventory.InstanceMetadata(cfg),
		RegisterHandlers: func(appCtx bootstrap.AppCtx) []bootstrap.Worker {
			components, err = inventory.Build(context.Background(), serviceName, appCtx.Config, appCtx.Nacos)
			if err != nil {
				log.Fatal().Err(err).Msg("failed to build inventory components")
			}
			return []bootstrap.Worker{components.Sweeper.Run}
		},
		OnShutdown: func(ctx context.Context) {
			if components != nil {
				components.Close(ctx)
			}
		},
	})
}
