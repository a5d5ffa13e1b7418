package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	"nexus-stock/internal/pkg/httpclient"
	"nexus-stock/internal/service/inventory/domain"
)

var (
	serverURL string
	timeout   time.Duration
)

var rootCmd = &cobra.Command{
	Use:           "stockctl",
	Short:         "Operate the inventory reservation service",
	Long:          `stockctl talks to a running inventory-service over HTTP to stock in, adjust, inspect and check out.`,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", envOr("INVENTORY_URL", "http://localhost:8082"), "inventory-service base URL")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second, "request timeout")
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

// call 发送请求并把响应原样格式化输出，非 2xx 时同样输出响应体
func call(cmd *cobra.Command, method, path string, in interface{}) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	client := httpclient.NewClient(otel.Tracer("stockctl"))
	url := strings.TrimRight(serverURL, "/") + path

	var out json.RawMessage
	var err error
	if method == "GET" {
		err = client.GetJSON(ctx, url, nil, &out)
	} else {
		err = client.PostJSON(ctx, url, in, &out)
	}

	var statusErr *httpclient.StatusError
	if errors.As(err, &statusErr) {
		fmt.Fprintln(cmd.OutOrStdout(), statusErr.Body)
		return fmt.Errorf("server returned %d", statusErr.StatusCode)
	}
	if err != nil {
		return err
	}
	return printJSON(cmd, out)
}

func printJSON(cmd *cobra.Command, raw json.RawMessage) error {
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		fmt.Fprintln(cmd.OutOrStdout(), string(raw))
		return nil
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// parseItem 解析 "product:sku:shop:warehouse=qty"
func parseItem(s string) (domain.CheckoutLineItem, error) {
	key, qty, ok := strings.Cut(s, "=")
	if !ok {
		return domain.CheckoutLineItem{}, fmt.Errorf("item %q must look like product:sku:shop:warehouse=qty", s)
	}
	id, err := domain.ParseStockUnitKey(key)
	if err != nil {
		return domain.CheckoutLineItem{}, err
	}
	n, err := strconv.ParseInt(qty, 10, 64)
	if err != nil {
		return domain.CheckoutLineItem{}, fmt.Errorf("item %q: bad quantity: %w", s, err)
	}
	return domain.CheckoutLineItem{StockUnit: id, Quantity: n}, nil
}

func parseItems(raw []string) ([]domain.CheckoutLineItem, error) {
	items := make([]domain.CheckoutLineItem, 0, len(raw))
	for _, s := range raw {
		item, err := parseItem(s)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}
