package main

import (
	"context"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"

	"nexus-stock/internal/pkg/bootstrap"
	"nexus-stock/internal/service/inventory"
	"nexus-stock/internal/service/inventory/interfaces"
)

const serviceName = "inventory-service"

func main() {
	cfg, err := bootstrap.Init()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	var components *inventory.Components
	var closeDLT func() error

	bootstrap.StartService(bootstrap.AppInfo{
		ServiceName: serviceName,
		Port:        cfg.App.Port,
		Metadata:    inventory.InstanceMetadata(cfg),
		RegisterHandlers: func(appCtx bootstrap.AppCtx) []bootstrap.Worker {
			components, err = inventory.Build(context.Background(), serviceName, appCtx.Config, appCtx.Nacos)
			if err != nil {
				log.Fatal().Err(err).Msg("failed to build inventory components")
			}

			handler := interfaces.NewInventoryHandler(components.Checkout, components.Admin, components.Sweeper, otel.Tracer(serviceName))
			handler.RegisterRoutes(appCtx.Mux)

			var workers []bootstrap.Worker
			if appCtx.Config.Inventory.SweepEnabled {
				workers = append(workers, components.Sweeper.Run)
			}
			if len(appCtx.Config.Infra.Kafka.Brokers) > 0 {
				topics := appCtx.Config.Inventory.Topics
				dlt, closer := inventory.DLTHandler(appCtx.Config, topics.CheckoutDLT)
				closeDLT = closer
				checkoutConsumer := interfaces.NewCheckoutConsumer(
					inventory.Reader(appCtx.Config, topics.CheckoutRequests, serviceName+"-checkout"),
					components.Checkout,
					dlt,
				)
				dltConsumer := interfaces.NewDltConsumer(inventory.Reader(appCtx.Config, topics.CheckoutDLT, serviceName+"-dlt"))
				workers = append(workers, checkoutConsumer.Run, dltConsumer.Run)
			}
			return workers
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
