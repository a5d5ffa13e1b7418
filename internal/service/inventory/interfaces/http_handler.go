package interfaces

import (
	"encoding/json"
	"net/http"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"nexus-stock/internal/pkg/logger"
	"nexus-stock/internal/service/inventory/application"
	"nexus-stock/internal/service/inventory/domain"
)

const maxBodyBytes = 1 << 20

// InventoryHandler 库存服务的 HTTP 入口
type InventoryHandler struct {
	checkout *application.CheckoutService
	admin    *application.StockAdminService
	sweeper  *application.ExpirySweeper
	tracer   trace.Tracer
}

func NewInventoryHandler(checkout *application.CheckoutService, admin *application.StockAdminService, sweeper *application.ExpirySweeper, tracer trace.Tracer) *InventoryHandler {
	return &InventoryHandler{checkout: checkout, admin: admin, sweeper: sweeper, tracer: tracer}
}

// RegisterRoutes 在 ServeMux 上注册所有路由，/healthz 和 /metrics 由 bootstrap 注册
func (h *InventoryHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /checkout/review", h.reviewHandler)
	mux.HandleFunc("POST /checkout/order", h.orderHandler)
	mux.HandleFunc("POST /orders/confirm", h.confirmHandler)
	mux.HandleFunc("POST /orders/cancel", h.cancelHandler)
	mux.HandleFunc("POST /stock/in", h.stockInHandler)
	mux.HandleFunc("POST /stock/adjust", h.adjustHandler)
	mux.HandleFunc("POST /stock/status", h.statusHandler)
	mux.HandleFunc("GET /stock", h.inspectHandler)
	mux.HandleFunc("POST /stock/sweep", h.sweepHandler)
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor 把领域错误映射为 HTTP 状态码
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidCheckout),
		errors.Is(err, domain.ErrInvalidQuantity),
		errors.Is(err, domain.ErrInvalidStockUnitID),
		errors.Is(err, domain.ErrInvalidStatus),
		errors.Is(err, errMalformedBody):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrStockUnitNotFound), errors.Is(err, domain.ErrOrderNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrStockUnitExists),
		errors.Is(err, domain.ErrInsufficientStock),
		errors.Is(err, domain.ErrVersionConflict):
		return http.StatusConflict
	case errors.Is(err, domain.ErrLockTimeout):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *InventoryHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

var errMalformedBody = errors.New("malformed request body")

func decode(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.Wrap(errMalformedBody, err.Error())
	}
	return nil
}

// startSpan 从请求头恢复链路后开始服务端 span
func (h *InventoryHandler) startSpan(r *http.Request, name string) (*http.Request, trace.Span) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	ctx, span := h.tracer.Start(ctx, name, trace.WithSpanKind(trace.SpanKindServer))
	return r.WithContext(ctx), span
}

func (h *InventoryHandler) reviewHandler(w http.ResponseWriter, r *http.Request) {
	r, span := h.startSpan(r, "http.CheckoutReview")
	defer span.End()

	var req application.CheckoutRequest
	if err := decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	result, err := h.checkout.CheckoutReview(r.Context(), req.Items)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// orderHandler COMMITTED 返回 200，ABORTED 返回 409 并携带原因。
func (h *InventoryHandler) orderHandler(w http.ResponseWriter, r *http.Request) {
	r, span := h.startSpan(r, "http.OrderByUser")
	defer span.End()

	var req application.CheckoutRequest
	if err := decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	span.SetAttributes(attribute.String("holder", req.HolderRef))

	result, err := h.checkout.OrderByUser(r.Context(), req.HolderRef, req.Items)
	if result == nil {
		h.fail(w, r, err)
		return
	}
	if err != nil {
		// 补偿失败：结果仍然是 ABORTED，额外返回 500 提示需要对账
		logger.Ctx(r.Context()).Error().Err(err).Str("holder", req.HolderRef).Msg("checkout left reservations behind")
		writeJSON(w, http.StatusInternalServerError, result)
		return
	}
	if result.Status == application.CheckoutAborted {
		writeJSON(w, http.StatusConflict, result)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *InventoryHandler) confirmHandler(w http.ResponseWriter, r *http.Request) {
	r, span := h.startSpan(r, "http.ConfirmOrder")
	defer span.End()

	var req application.HolderRequest
	if err := decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	order, err := h.checkout.ConfirmOrder(r.Context(), req.HolderRef)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (h *InventoryHandler) cancelHandler(w http.ResponseWriter, r *http.Request) {
	r, span := h.startSpan(r, "http.CancelOrder")
	defer span.End()

	var req application.HolderRequest
	if err := decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	order, err := h.checkout.CancelOrder(r.Context(), req.HolderRef)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (h *InventoryHandler) stockInHandler(w http.ResponseWriter, r *http.Request) {
	r, span := h.startSpan(r, "http.StockIn")
	defer span.End()

	var req application.StockInRequest
	if err := decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	unit, err := h.admin.StockIn(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, unit.Snapshot())
}

func (h *InventoryHandler) adjustHandler(w http.ResponseWriter, r *http.Request) {
	r, span := h.startSpan(r, "http.AdjustStock")
	defer span.End()

	var req application.AdjustStockRequest
	if err := decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	unit, err := h.admin.AdjustStock(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, unit.Snapshot())
}

func (h *InventoryHandler) statusHandler(w http.ResponseWriter, r *http.Request) {
	r, span := h.startSpan(r, "http.SetStatus")
	defer span.End()

	var req application.SetStatusRequest
	if err := decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	unit, err := h.admin.SetStatus(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"stockUnit": unit.ID, "status": unit.Status})
}

// stockView GET /stock 的响应
type stockView struct {
	domain.StockSnapshot
	Status       domain.UnitStatus    `json:"status"`
	Version      int64                `json:"version"`
	Reservations []domain.Reservation `json:"reservations"`
}

func (h *InventoryHandler) inspectHandler(w http.ResponseWriter, r *http.Request) {
	r, span := h.startSpan(r, "http.Inspect")
	defer span.End()

	id, err := domain.ParseStockUnitKey(r.URL.Query().Get("key"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	unit, err := h.admin.Inspect(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stockView{
		StockSnapshot: unit.Snapshot(),
		Status:        unit.Status,
		Version:       unit.Version,
		Reservations:  unit.Reservations,
	})
}

func (h *InventoryHandler) sweepHandler(w http.ResponseWriter, r *http.Request) {
	r, span := h.startSpan(r, "http.Sweep")
	defer span.End()

	var (
		report application.SweepReport
		err    error
	)
	if key := r.URL.Query().Get("key"); key != "" {
		id, parseErr := domain.ParseStockUnitKey(key)
		if parseErr != nil {
			h.fail(w, r, parseErr)
			return
		}
		report, err = h.sweeper.SweepUnit(r.Context(), id)
	} else {
		report, err = h.sweeper.SweepOnce(r.Context())
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
