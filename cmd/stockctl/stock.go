package main

import (
	"net/url"

	"github.com/spf13/cobra"

	"nexus-stock/internal/service/inventory/application"
	"nexus-stock/internal/service/inventory/domain"
)

var stockCmd = &cobra.Command{
	Use:   "stock",
	Short: "Stock unit administration",
}

var (
	stockInQty     int64
	stockInReorder int64
	stockInName    string
	adjustDelta    int64
	adjustReason   string
	statusReason   string
	sweepKey       string
)

var stockInCmd = &cobra.Command{
	Use:   "in <product:sku:shop:warehouse>",
	Short: "Receive stock, creating the unit if it does not exist",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := domain.ParseStockUnitKey(args[0])
		if err != nil {
			return err
		}
		return call(cmd, "POST", "/stock/in", application.StockInRequest{
			StockUnit:     id,
			Quantity:      stockInQty,
			WarehouseName: stockInName,
			ReorderLevel:  stockInReorder,
		})
	},
}

var stockAdjustCmd = &cobra.Command{
	Use:   "adjust <product:sku:shop:warehouse>",
	Short: "Correct the on-hand count by a signed delta",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := domain.ParseStockUnitKey(args[0])
		if err != nil {
			return err
		}
		return call(cmd, "POST", "/stock/adjust", application.AdjustStockRequest{StockUnit: id, Delta: adjustDelta, Reason: adjustReason})
	},
}

var stockStatusCmd = &cobra.Command{
	Use:   "status <product:sku:shop:warehouse> <active|inactive|blocked>",
	Short: "Change whether a stock unit accepts new reservations",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := domain.ParseStockUnitKey(args[0])
		if err != nil {
			return err
		}
		return call(cmd, "POST", "/stock/status", application.SetStatusRequest{StockUnit: id, Status: domain.UnitStatus(args[1]), Reason: statusReason})
	},
}

var stockGetCmd = &cobra.Command{
	Use:   "get <product:sku:shop:warehouse>",
	Short: "Show counters and reservations of a stock unit",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := domain.ParseStockUnitKey(args[0]); err != nil {
			return err
		}
		return call(cmd, "GET", "/stock?key="+url.QueryEscape(args[0]), nil)
	},
}

var stockSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Reclaim expired reservations now",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "/stock/sweep"
		if sweepKey != "" {
			path += "?key=" + url.QueryEscape(sweepKey)
		}
		return call(cmd, "POST", path, struct{}{})
	},
}

func init() {
	stockInCmd.Flags().Int64VarP(&stockInQty, "quantity", "q", 0, "units received")
	stockInCmd.Flags().Int64Var(&stockInReorder, "reorder-level", 0, "low stock threshold, only applied on creation")
	stockInCmd.Flags().StringVar(&stockInName, "warehouse-name", "", "warehouse display name, only applied on creation")
	_ = stockInCmd.MarkFlagRequired("quantity")

	stockAdjustCmd.Flags().Int64VarP(&adjustDelta, "delta", "d", 0, "signed adjustment")
	stockAdjustCmd.Flags().StringVarP(&adjustReason, "reason", "r", "manual adjustment", "audit reason")
	_ = stockAdjustCmd.MarkFlagRequired("delta")

	stockStatusCmd.Flags().StringVarP(&statusReason, "reason", "r", "", "audit reason")
	stockSweepCmd.Flags().StringVar(&sweepKey, "key", "", "only sweep this stock unit")

	stockCmd.AddCommand(stockInCmd, stockAdjustCmd, stockStatusCmd, stockGetCmd, stockSweepCmd)
	rootCmd.AddCommand(stockCmd)
}
