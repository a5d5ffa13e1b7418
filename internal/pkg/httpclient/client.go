// internal/pkg/httpclient/client.go

package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// StatusError 表示下游返回了非 2xx 状态码。
type StatusError struct {
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("service %s returned status %d: %s", e.URL, e.StatusCode, strings.TrimSpace(e.Body))
}

// Client 是一个可追踪的、可注入的HTTP客户端
type Client struct {
	Tracer     trace.Tracer
	HTTPClient *http.Client
}

// NewClient 不设置 Timeout，超时完全由每次请求的 context 控制。
func NewClient(tracer trace.Tracer) *Client {
	httpClient := &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 100,
		},
	}
	return &Client{
		Tracer:     tracer,
		HTTPClient: httpClient,
	}
}

// PostJSON 发送 JSON 请求体，out 非 nil 时解析响应体。
func (c *Client) PostJSON(ctx context.Context, serviceURL string, in, out interface{}) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPost, serviceURL, bytes.NewReader(body), out)
}

// GetJSON 发送 GET 请求并解析 JSON 响应。
func (c *Client) GetJSON(ctx context.Context, serviceURL string, params url.Values, out interface{}) error {
	if len(params) > 0 {
		parsed, err := url.Parse(serviceURL)
		if err != nil {
			return err
		}
		q := parsed.Query()
		for key, values := range params {
			for _, v := range values {
				q.Add(key, v)
			}
		}
		parsed.RawQuery = q.Encode()
		serviceURL = parsed.String()
	}
	return c.do(ctx, http.MethodGet, serviceURL, nil, out)
}

func (c *Client) do(ctx context.Context, method, serviceURL string, body io.Reader, out interface{}) error {
	parsedURL, err := url.Parse(serviceURL)
	if err != nil {
		return err
	}
	spanName := fmt.Sprintf("call-%s", strings.Split(parsedURL.Host, ":")[0])

	ctx, span := c.Tracer.Start(ctx, spanName, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, method, parsedURL.String(), body)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	span.SetAttributes(
		attribute.String("http.url", parsedURL.String()),
		attribute.String("http.method", method),
	)
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		err := &StatusError{URL: serviceURL, StatusCode: resp.StatusCode, Body: string(raw)}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
		span.RecordError(err)
		return fmt.Errorf("decode response from %s: %w", serviceURL, err)
	}
	return nil
}
