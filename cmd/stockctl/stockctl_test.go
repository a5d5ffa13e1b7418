package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nexus-stock/internal/service/inventory/application"
	"nexus-stock/internal/service/inventory/domain"
)

// executeCommand 执行命令并返回合并后的输出
func executeCommand(root *cobra.Command, args ...string) (string, error) {
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}

// inventoryStub 记录收到的请求体，按路径返回预设的状态码和响应
type inventoryStub struct {
	mu       sync.Mutex
	requests map[string][]byte
}

func newInventoryStub(t *testing.T, routes map[string]func(w http.ResponseWriter)) *httptest.Server {
	t.Helper()
	stub := &inventoryStub{requests: map[string][]byte{}}
	mux := http.NewServeMux()
	for pattern, respond := range routes {
		respond := respond
		mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
			var body bytes.Buffer
			_, _ = body.ReadFrom(r.Body)
			stub.mu.Lock()
			stub.requests[r.Method+" "+r.URL.Path] = body.Bytes()
			stub.mu.Unlock()
			respond(w)
		})
	}
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	lastStub = stub
	return srv
}

var lastStub *inventoryStub

func (s *inventoryStub) body(t *testing.T, key string, v interface{}) {
	t.Helper()
	s.mu.Lock()
	raw, ok := s.requests[key]
	s.mu.Unlock()
	require.True(t, ok, "no request for %s", key)
	require.NoError(t, json.Unmarshal(raw, v))
}

func writeJSONStatus(status int, v interface{}) func(w http.ResponseWriter) {
	return func(w http.ResponseWriter) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(v)
	}
}

func TestRootCommandHasSubcommands(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"stock", "checkout", "order"} {
		assert.True(t, names[want], "missing subcommand %s", want)
	}
}

func TestStockInPostsRequest(t *testing.T) {
	srv := newInventoryStub(t, map[string]func(http.ResponseWriter){
		"POST /stock/in": writeJSONStatus(http.StatusOK, map[string]interface{}{"totalStock": 5, "availableStock": 5}),
	})

	out, err := executeCommand(rootCmd, "--server", srv.URL, "stock", "in", "p1:s1:shop1:w1", "-q", "5", "--reorder-level", "2")
	require.NoError(t, err)
	assert.Contains(t, out, `"totalStock": 5`)

	var req application.StockInRequest
	lastStub.body(t, "POST /stock/in", &req)
	assert.Equal(t, domain.StockUnitID{ProductID: "p1", SkuID: "s1", ShopID: "shop1", WarehouseID: "w1"}, req.StockUnit)
	assert.Equal(t, int64(5), req.Quantity)
	assert.Equal(t, int64(2), req.ReorderLevel)
}

func TestStockGetRejectsBadKeyWithoutCallingServer(t *testing.T) {
	srv := newInventoryStub(t, map[string]func(http.ResponseWriter){
		"GET /stock": writeJSONStatus(http.StatusOK, map[string]interface{}{}),
	})

	_, err := executeCommand(rootCmd, "--server", srv.URL, "stock", "get", "not-a-key")
	assert.Error(t, err)
	lastStub.mu.Lock()
	defer lastStub.mu.Unlock()
	assert.Empty(t, lastStub.requests)
}

func TestCheckoutOrderReportsAbort(t *testing.T) {
	aborted := application.CheckoutResult{
		Status:    application.CheckoutAborted,
		HolderRef: "cart-9",
		Reason:    application.AbortInsufficientStock,
	}
	srv := newInventoryStub(t, map[string]func(http.ResponseWriter){
		"POST /checkout/order": writeJSONStatus(http.StatusConflict, aborted),
	})

	out, err := executeCommand(rootCmd, "--server", srv.URL, "checkout", "order",
		"--holder", "cart-9", "-i", "p2:s1:shop1:w1=1", "-i", "p1:s1:shop1:w1=3")
	assert.EqualError(t, err, "server returned 409")
	assert.Contains(t, out, string(application.AbortInsufficientStock))

	var req application.CheckoutRequest
	lastStub.body(t, "POST /checkout/order", &req)
	assert.Equal(t, "cart-9", req.HolderRef)
	require.Len(t, req.Items, 2)
	assert.Equal(t, "p2", req.Items[0].StockUnit.ProductID)
	assert.Equal(t, int64(3), req.Items[1].Quantity)
}

func TestParseItem(t *testing.T) {
	item, err := parseItem("p1:s1:shop1:w1=4")
	require.NoError(t, err)
	assert.Equal(t, int64(4), item.Quantity)
	assert.Equal(t, "w1", item.StockUnit.WarehouseID)

	for _, bad := range []string{"p1:s1:shop1:w1", "p1:s1:shop1:w1=x", "p1=2"} {
		_, err := parseItem(bad)
		assert.Error(t, err, bad)
	}
}
