// cmd/stock-feed 把库存事件通过 WebSocket 推给运营看板。
package main

import (
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"nexus-stock/internal/pkg/bootstrap"
	"nexus-stock/internal/service/inventory"
	"nexus-stock/internal/service/inventory/interfaces"
)

const serviceName = "stock-feed"

func main() {
	cfg, err := bootstrap.Init()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	// 每个节点独立消费组，保证每个节点都收到全部事件
	nodeID := serviceName + "-" + uuid.NewString()[:8]

	bootstrap.StartService(bootstrap.AppInfo{
		ServiceName: serviceName,
		Port:        cfg.App.Port,
		RegisterHandlers: func(appCtx bootstrap.AppCtx) []bootstrap.Worker {
			hub := interfaces.NewHub()
			appCtx.Mux.HandleFunc("GET /ws", hub.ServeWs)

			feed := interfaces.NewStockFeed(inventory.Reader(appCtx.Config, appCtx.Config.Inventory.Topics.Events, nodeID), hub)
			return []bootstrap.Worker{hub.Run, feed.Run}
		},
	})
}
