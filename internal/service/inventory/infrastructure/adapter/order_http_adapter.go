package adapter

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"nexus-stock/internal/pkg/httpclient"
	"nexus-stock/internal/service/inventory/domain"
)

const (
	orderSavePath  = "/orders"
	orderFindPath  = "/orders/by-holder"
	orderStatePath = "/orders/state"
)

// OrderHTTPAdapter 把订单落到外部订单服务，实现 domain.OrderRepository。
type OrderHTTPAdapter struct {
	client *httpclient.Client
	// baseURL 每次调用时解析，配合服务发现使用
	baseURL func() (string, error)
}

func NewOrderHTTPAdapter(client *httpclient.Client, baseURL func() (string, error)) *OrderHTTPAdapter {
	return &OrderHTTPAdapter{client: client, baseURL: baseURL}
}

// StaticURL 固定地址。
func StaticURL(u string) func() (string, error) {
	return func() (string, error) { return u, nil }
}

func (a *OrderHTTPAdapter) url(path string) (string, error) {
	base, err := a.baseURL()
	if err != nil {
		return "", err
	}
	return base + path, nil
}

func (a *OrderHTTPAdapter) Save(ctx context.Context, order *domain.Order) error {
	u, err := a.url(orderSavePath)
	if err != nil {
		return err
	}
	err = a.client.PostJSON(ctx, u, order, nil)
	var statusErr *httpclient.StatusError
	if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusConflict {
		return fmt.Errorf("%w: %s", domain.ErrOrderExists, order.HolderRef)
	}
	return err
}

func (a *OrderHTTPAdapter) FindByHolder(ctx context.Context, holderRef string) (*domain.Order, error) {
	u, err := a.url(orderFindPath)
	if err != nil {
		return nil, err
	}
	params := url.Values{}
	params.Set("holderRef", holderRef)
	var order domain.Order
	if err := a.client.GetJSON(ctx, u, params, &order); err != nil {
		return nil, mapNotFound(err)
	}
	return &order, nil
}

func (a *OrderHTTPAdapter) UpdateState(ctx context.Context, orderRef string, state domain.OrderState) error {
	u, err := a.url(orderStatePath)
	if err != nil {
		return err
	}
	req := struct {
		OrderRef string            `json:"orderRef"`
		State    domain.OrderState `json:"state"`
	}{orderRef, state}
	return mapNotFound(a.client.PostJSON(ctx, u, req, nil))
}

func mapNotFound(err error) error {
	var statusErr *httpclient.StatusError
	if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound {
		return domain.ErrOrderNotFound
	}
	return err
}
