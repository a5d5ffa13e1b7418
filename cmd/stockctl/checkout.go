package main

import (
	"github.com/spf13/cobra"

	"nexus-stock/internal/service/inventory/application"
)

var (
	checkoutItems  []string
	checkoutHolder string
)

var checkoutCmd = &cobra.Command{
	Use:   "checkout",
	Short: "Review or place a multi-item checkout",
}

var checkoutReviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Preview availability without reserving",
	RunE: func(cmd *cobra.Command, args []string) error {
		items, err := parseItems(checkoutItems)
		if err != nil {
			return err
		}
		return call(cmd, "POST", "/checkout/review", application.CheckoutRequest{Items: items})
	},
}

var checkoutOrderCmd = &cobra.Command{
	Use:   "order",
	Short: "Reserve every item atomically for a holder",
	RunE: func(cmd *cobra.Command, args []string) error {
		items, err := parseItems(checkoutItems)
		if err != nil {
			return err
		}
		return call(cmd, "POST", "/checkout/order", application.CheckoutRequest{HolderRef: checkoutHolder, Items: items})
	},
}

var orderCmd = &cobra.Command{
	Use:   "order",
	Short: "Settle a placed order",
}

var orderConfirmCmd = &cobra.Command{
	Use:   "confirm <holder>",
	Short: "Consume the holder's reservations after payment",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return call(cmd, "POST", "/orders/confirm", application.HolderRequest{HolderRef: args[0]})
	},
}

var orderCancelCmd = &cobra.Command{
	Use:   "cancel <holder>",
	Short: "Release the holder's reservations",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return call(cmd, "POST", "/orders/cancel", application.HolderRequest{HolderRef: args[0]})
	},
}

func init() {
	for _, c := range []*cobra.Command{checkoutReviewCmd, checkoutOrderCmd} {
		c.Flags().StringArrayVarP(&checkoutItems, "item", "i", nil, "line item as product:sku:shop:warehouse=qty, repeatable")
		_ = c.MarkFlagRequired("item")
	}
	checkoutOrderCmd.Flags().StringVar(&checkoutHolder, "holder", "", "cart or order reference")
	_ = checkoutOrderCmd.MarkFlagRequired("holder")

	checkoutCmd.AddCommand(checkoutReviewCmd, checkoutOrderCmd)
	orderCmd.AddCommand(orderConfirmCmd, orderCancelCmd)
	rootCmd.AddCommand(checkoutCmd, orderCmd)
}
