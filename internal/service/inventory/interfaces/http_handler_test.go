package interfaces

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.opentelemetry.io/otel/trace/noop"

	"nexus-stock/internal/service/inventory/application"
	"nexus-stock/internal/service/inventory/domain"
)

type HandlerSuite struct {
	suite.Suite
	svc *services
	mux *http.ServeMux
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	s.svc = newServices(s.T())
	s.mux = http.NewServeMux()
	NewInventoryHandler(s.svc.checkout, s.svc.admin, s.svc.sweeper, noop.NewTracerProvider().Tracer("test")).RegisterRoutes(s.mux)
}

func (s *HandlerSuite) do(method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			s.Require().NoError(json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)
	return rec
}

func (s *HandlerSuite) decode(rec *httptest.ResponseRecorder, v interface{}) {
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func (s *HandlerSuite) TestStockInAndInspect() {
	rec := s.do(http.MethodPost, "/stock/in", application.StockInRequest{StockUnit: testUnit, Quantity: 5, WarehouseName: "east"})
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
	var snap domain.StockSnapshot
	s.decode(rec, &snap)
	s.Equal(int64(5), snap.AvailableStock)

	rec = s.do(http.MethodGet, "/stock?key="+testUnit.Key(), nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	var view struct {
		AvailableStock int64  `json:"availableStock"`
		Status         string `json:"status"`
	}
	s.decode(rec, &view)
	s.Equal(int64(5), view.AvailableStock)
	s.Equal("active", view.Status)
}

func (s *HandlerSuite) TestInspectErrors() {
	s.Equal(http.StatusBadRequest, s.do(http.MethodGet, "/stock?key=bad", nil).Code)
	s.Equal(http.StatusNotFound, s.do(http.MethodGet, "/stock?key="+testUnit.Key(), nil).Code)
}

func (s *HandlerSuite) TestOrderCommitted() {
	s.svc.seed(s.T(), testUnit, 3)
	rec := s.do(http.MethodPost, "/checkout/order", application.CheckoutRequest{
		HolderRef: "cart-1",
		Items:     []domain.CheckoutLineItem{{StockUnit: testUnit, Quantity: 2}},
	})
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
	var result application.CheckoutResult
	s.decode(rec, &result)
	s.Equal(application.CheckoutCommitted, result.Status)
	s.NotEmpty(result.OrderRef)

	rec = s.do(http.MethodPost, "/orders/confirm", application.HolderRequest{HolderRef: "cart-1"})
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
	var order domain.Order
	s.decode(rec, &order)
	s.Equal(domain.OrderConfirmed, order.State)
}

func (s *HandlerSuite) TestOrderAbortedIsConflict() {
	s.svc.seed(s.T(), testUnit, 1)
	rec := s.do(http.MethodPost, "/checkout/order", application.CheckoutRequest{
		HolderRef: "cart-1",
		Items:     []domain.CheckoutLineItem{{StockUnit: testUnit, Quantity: 2}},
	})
	s.Equal(http.StatusConflict, rec.Code)
	var result application.CheckoutResult
	s.decode(rec, &result)
	s.Equal(application.CheckoutAborted, result.Status)
	s.Equal(application.AbortInsufficientStock, result.Reason)
	s.Require().NotNil(result.FailedItem)
	s.Equal(testUnit, result.FailedItem.StockUnit)
}

func (s *HandlerSuite) TestMalformedBodies() {
	s.Equal(http.StatusBadRequest, s.do(http.MethodPost, "/checkout/order", "{not json").Code)
	s.Equal(http.StatusBadRequest, s.do(http.MethodPost, "/checkout/order", `{"holderRef":"c","extra":1}`).Code)
	s.Equal(http.StatusBadRequest, s.do(http.MethodPost, "/checkout/order", application.CheckoutRequest{HolderRef: "c"}).Code)
	s.Equal(http.StatusBadRequest, s.do(http.MethodPost, "/stock/in", application.StockInRequest{StockUnit: testUnit}).Code)

	big := `{"holderRef":"` + strings.Repeat("x", maxBodyBytes) + `"}`
	s.Equal(http.StatusBadRequest, s.do(http.MethodPost, "/checkout/order", big).Code)
}

func (s *HandlerSuite) TestReview() {
	s.svc.seed(s.T(), testUnit, 1)
	rec := s.do(http.MethodPost, "/checkout/review", application.CheckoutRequest{
		Items: []domain.CheckoutLineItem{{StockUnit: testUnit, Quantity: 2}},
	})
	s.Require().Equal(http.StatusOK, rec.Code)
	var review application.ReviewResult
	s.decode(rec, &review)
	s.False(review.AllAvailable)
}

func (s *HandlerSuite) TestUnknownOrderIsNotFound() {
	s.Equal(http.StatusNotFound, s.do(http.MethodPost, "/orders/cancel", application.HolderRequest{HolderRef: "ghost"}).Code)
}

func (s *HandlerSuite) TestLockTimeoutIsUnavailable() {
	s.svc.seed(s.T(), testUnit, 1)
	_, err := s.svc.lockStore.SetIfAbsent(context.Background(), testUnit.LockKey(), "other", time.Minute)
	s.Require().NoError(err)

	rec := s.do(http.MethodPost, "/stock/adjust", application.AdjustStockRequest{StockUnit: testUnit, Delta: 1})
	s.Equal(http.StatusServiceUnavailable, rec.Code)
}

func (s *HandlerSuite) TestAdjustBelowReservedIsConflict() {
	s.svc.seed(s.T(), testUnit, 2)
	rec := s.do(http.MethodPost, "/stock/adjust", application.AdjustStockRequest{StockUnit: testUnit, Delta: -3})
	s.Equal(http.StatusConflict, rec.Code)
}

func (s *HandlerSuite) TestStatusAndSweep() {
	s.svc.seed(s.T(), testUnit, 2)
	rec := s.do(http.MethodPost, "/stock/status", application.SetStatusRequest{StockUnit: testUnit, Status: domain.UnitBlocked})
	s.Require().Equal(http.StatusOK, rec.Code)
	s.Equal(http.StatusBadRequest, s.do(http.MethodPost, "/stock/status", application.SetStatusRequest{StockUnit: testUnit, Status: "gone"}).Code)

	rec = s.do(http.MethodPost, "/stock/sweep", nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	var report application.SweepReport
	s.decode(rec, &report)
	s.Zero(report.Units)

	rec = s.do(http.MethodPost, "/stock/sweep?key="+testUnit.Key(), nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	s.decode(rec, &report)
	s.Equal(1, report.Units)
}

func (s *HandlerSuite) TestMethodNotAllowed() {
	s.Equal(http.StatusMethodNotAllowed, s.do(http.MethodGet, "/checkout/order", nil).Code)
}
