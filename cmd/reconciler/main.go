// cmd/reconciler 消费补偿失败事件，重试释放遗留的预占。
package main

import (
	"context"

	"github.com/rs/zerolog/log"

	"nexus-stock/internal/pkg/bootstrap"
	"nexus-stock/internal/service/inventory"
	"nexus-stock/internal/service/inventory/interfaces"
)

const serviceName = "inventory-reconciler"

func main() {
	cfg, err := bootstrap.Init()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if len(cfg.Infra.Kafka.Brokers) == 0 {
		log.Fatal().Msg("reconciler needs kafka brokers")
	}

	var (
		components *inventory.Components
		closeDLT   func() error
	)
	bootstrap.StartService(bootstrap.AppInfo{
		ServiceName: serviceName,
		Port:        cfg.App.Port,
		Metadata:    inventory.InstanceMetadata(cfg),
		RegisterHandlers: func(appCtx bootstrap.AppCtx) []bootstrap.Worker {
			components, err = inventory.Build(context.Background(), serviceName, appCtx.Config, appCtx.Nacos)
			if err != nil {
				log.Fatal().Err(err).Msg("failed to build inventory components")
			}
			topic := appCtx.Config.Inventory.Topics.Reconciliation
			dlt, closer := inventory.DLTHandler(appCtx.Config, topic+"-dlt")
			closeDLT = closer

			consumer := interfaces.NewReconciliationConsumer(
				inventory.Reader(appCtx.Config, topic, serviceName),
				components.Checkout,
				dlt,
			)
			return []bootstrap.Worker{consumer.Run}
		},
		OnShutdown: func(ctx context.Context) {
			if closeDLT != nil {
				_ = closeDLT()
			}
			if components != nil {
				components.Close(ctx)
			}
		},
	})
}
