package httppresentation

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	appOrder "github.com/schooleats/orderflow/internal/application/order"
	domorder "github.com/schooleats/orderflow/internal/domain/order"
	dompay "github.com/schooleats/orderflow/internal/domain/payment"
	domres "github.com/schooleats/orderflow/internal/domain/reservation"
	domhook "github.com/schooleats/orderflow/internal/domain/webhook"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const (
	headerRequestID = "X-Request-ID"
	headerSignature = "X-Gateway-Signature"

	maxWebhookBody = 1 << 20
)

type Handler struct {
	orders *appOrder.Service
	log    *zap.Logger

	httpRequests *prometheus.CounterVec   // labels: method, route, status
	httpDuration *prometheus.HistogramVec // labels: method, route
}

func NewHandler(orders *appOrder.Service, logger *zap.Logger, requests *prometheus.CounterVec, duration *prometheus.HistogramVec) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		orders:       orders,
		log:          logger.With(zap.String("component", "http_server")),
		httpRequests: requests,
		httpDuration: duration,
	}
}

func (h *Handler) Router() http.Handler {
	mux := http.NewServeMux()

	// Each route runs: trace → request logger → metrics → access log → handler.
	h.handle(mux, "POST /orders", h.handleCreateOrder)
	h.handle(mux, "GET /orders/{id}", h.handleGetOrder)
	h.handle(mux, "POST /orders/{id}/cancel", h.handleCancelOrder)
	h.handle(mux, "POST /webhooks/payment", h.handleWebhook)
	h.handle(mux, "GET /health", h.handleHealth)

	return mux
}

func (h *Handler) handle(mux *http.ServeMux, route string, handler http.HandlerFunc) {
	mux.Handle(route, h.wrap(route, handler))
}

type lineItemPayload struct {
	MenuItemID string `json:"menu_item_id"`
	Quantity   int    `json:"quantity"`
	UnitPrice  int64  `json:"unit_price"`
}

type createOrderRequest struct {
	StudentID       string            `json:"student_id"`
	SchoolID        string            `json:"school_id"`
	Items           []lineItemPayload `json:"items"`
	Currency        string            `json:"currency"`
	PaymentMethod   string            `json:"payment_method"`
	DeliveryAt      time.Time         `json:"delivery_at"`
	DeliveryAddress string            `json:"delivery_address"`
}

type paymentPayload struct {
	AttemptID     string `json:"attempt_id,omitempty"`
	TransactionID string `json:"transaction_id,omitempty"`
	Outcome       string `json:"outcome"`
	Retryable     bool   `json:"retryable,omitempty"`
}

type orderPayload struct {
	OrderID       string            `json:"order_id"`
	Status        domorder.Status   `json:"status"`
	TotalAmount   int64             `json:"total_amount"`
	Currency      string            `json:"currency"`
	DeliveryAt    time.Time         `json:"delivery_at"`
	FailureReason string            `json:"failure_reason,omitempty"`
	Items         []lineItemPayload `json:"items"`
}

type createOrderResponse struct {
	Order   orderPayload    `json:"order"`
	Payment *paymentPayload `json:"payment,omitempty"`
}

func (h *Handler) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	items := make([]appOrder.ItemInput, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, appOrder.ItemInput{MenuItemID: it.MenuItemID, Quantity: it.Quantity, UnitPrice: it.UnitPrice})
	}

	result, err := h.orders.CreateOrder(r.Context(), appOrder.CreateOrderInput{
		StudentID:       req.StudentID,
		SchoolID:        req.SchoolID,
		Items:           items,
		Currency:        req.Currency,
		PaymentMethod:   req.PaymentMethod,
		DeliveryAt:      req.DeliveryAt,
		DeliveryAddress: req.DeliveryAddress,
	})
	if err != nil {
		// Payment errors still carry the cancelled order in the result.
		h.writeCreateFailure(w, result, err)
		return
	}

	writeJSON(w, http.StatusCreated, buildCreateResponse(result, false))
}

func (h *Handler) writeCreateFailure(w http.ResponseWriter, result *appOrder.CreateOrderResult, err error) {
	switch {
	case errors.Is(err, dompay.ErrPaymentFailed):
		writeJSONError(w, http.StatusPaymentRequired, err, buildCreateResponse(result, false))
	case errors.Is(err, dompay.ErrGatewayUnavailable):
		writeJSONError(w, http.StatusBadGateway, err, buildCreateResponse(result, true))
	default:
		writeDomainError(w, err)
	}
}

func buildCreateResponse(result *appOrder.CreateOrderResult, retryable bool) *createOrderResponse {
	if result == nil || result.Order == nil {
		return nil
	}
	resp := &createOrderResponse{Order: toOrderPayload(result.Order)}
	if result.Payment != nil {
		resp.Payment = &paymentPayload{
			AttemptID:     result.Payment.ID,
			TransactionID: result.Payment.TransactionID,
			Outcome:       string(result.Payment.Outcome),
			Retryable:     retryable,
		}
	} else if retryable {
		resp.Payment = &paymentPayload{Outcome: "unavailable", Retryable: true}
	}
	return resp
}

func toOrderPayload(o *domorder.Order) orderPayload {
	items := make([]lineItemPayload, 0, len(o.Items))
	for _, li := range o.Items {
		items = append(items, lineItemPayload{MenuItemID: li.MenuItemID, Quantity: li.Quantity, UnitPrice: li.UnitPrice})
	}
	return orderPayload{
		OrderID:       o.ID,
		Status:        o.Status,
		TotalAmount:   o.TotalAmount,
		Currency:      o.Currency,
		DeliveryAt:    o.DeliveryAt,
		FailureReason: o.FailureReason,
		Items:         items,
	}
}

func (h *Handler) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.GetOrder(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderPayload(o))
}

type cancelOrderRequest struct {
	Reason string `json:"reason"`
	Refund bool   `json:"refund"`
}

func (h *Handler) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	var req cancelOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	o, err := h.orders.CancelOrder(r.Context(), r.PathValue("id"), req.Reason, req.Refund)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderPayload(o))
}

// handleWebhook hands the untouched raw body to the orchestrator; signature
// verification runs over exactly these bytes. Gateways treat any non-2xx as
// a retry signal, so business rejections answer 4xx and 5xx is kept for
// genuine internal failure.
func (h *Handler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	rawBody, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := h.orders.HandleWebhook(r.Context(), rawBody, r.Header.Get(headerSignature)); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func decodeJSON(r *http.Request, dst any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dst)
}

func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, appOrder.ErrValidation),
		errors.Is(err, domhook.ErrMissingSignature),
		errors.Is(err, domhook.ErrInvalidSignature),
		errors.Is(err, domhook.ErrMalformedPayload):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, domorder.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, domres.ErrInsufficientInventory),
		errors.Is(err, domorder.ErrInvalidTransition),
		errors.Is(err, domorder.ErrConflict):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, dompay.ErrPaymentFailed):
		writeError(w, http.StatusPaymentRequired, err)
	case errors.Is(err, dompay.ErrGatewayUnavailable):
		writeError(w, http.StatusBadGateway, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSONError(w http.ResponseWriter, status int, err error, payload any) {
	if payload == nil {
		writeError(w, status, err)
		return
	}
	writeJSON(w, status, map[string]any{
		"error":  err.Error(),
		"result": payload,
	})
}
