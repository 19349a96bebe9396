package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/dkorolev/commerce/internal/domain"
	orderssvc "github.com/dkorolev/commerce/internal/service/orders"
)

// OrdersHandler — HTTP API orders-сервиса. Создание заказа требует
// подписанный снапшот корзины и Idempotency-Key.
type OrdersHandler struct {
	service  *orderssvc.Service
	verifier domain.TokenVerifier
}

// NewOrdersHandler создаёт обработчик orders-сервиса.
func NewOrdersHandler(service *orderssvc.Service, verifier domain.TokenVerifier) *OrdersHandler {
	return &OrdersHandler{service: service, verifier: verifier}
}

// Register вешает маршруты на engine.
func (h *OrdersHandler) Register(r gin.IRouter) {
	orders := r.Group("/orders", Auth(h.verifier))
	orders.POST("", h.createOrder)
	orders.GET("", h.listOrders)
	orders.GET("/:id", h.getOrder)
	orders.POST("/:id/cancel", h.cancelOrder)
}

type createOrderRequest struct {
	CartSnapshot domain.CartSnapshot `json:"cartSnapshot" binding:"required"`
}

type orderResponse struct {
	ID                 string              `json:"id"`
	UserID             string              `json:"userId"`
	Status             string              `json:"status"`
	Currency           string              `json:"currency"`
	AmountCents        int64               `json:"amountCents"`
	Snapshot           domain.CartSnapshot `json:"cartSnapshot"`
	CancellationReason string              `json:"cancellationReason,omitempty"`
	CreatedAt          time.Time           `json:"createdAt"`
	UpdatedAt          time.Time           `json:"updatedAt"`
}

func toOrderResponse(o domain.Order) orderResponse {
	return orderResponse{
		ID:                 o.ID,
		UserID:             o.UserID,
		Status:             string(o.Status),
		Currency:           o.Currency,
		AmountCents:        o.AmountCents,
		Snapshot:           o.Snapshot,
		CancellationReason: o.CancellationReason,
		CreatedAt:          o.CreatedAt,
		UpdatedAt:          o.UpdatedAt,
	}
}

func (h *OrdersHandler) createOrder(c *gin.Context) {
	key, ok := RequireIdempotencyKey(c)
	if !ok {
		return
	}
	claims, _ := UserClaims(c)

	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody("invalid request body", "BAD_REQUEST", nil))
		return
	}

	order, err := h.service.CreateOrder(c.Request.Context(), orderssvc.CreateOrderInput{
		UserID:         claims.UserID,
		Snapshot:       req.CartSnapshot,
		IdempotencyKey: key,
		CorrelationID:  CorrelationID(c),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toOrderResponse(order))
}

type cancelOrderRequest struct {
	Reason string `json:"reason"`
}

func (h *OrdersHandler) cancelOrder(c *gin.Context) {
	var req cancelOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		c.JSON(http.StatusBadRequest, errorBody("invalid request body", "BAD_REQUEST", nil))
		return
	}

	order, err := h.service.CancelOrder(c.Request.Context(), c.Param("id"), req.Reason, CorrelationID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toOrderResponse(order))
}

func (h *OrdersHandler) getOrder(c *gin.Context) {
	order, err := h.service.GetOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toOrderResponse(order))
}

func (h *OrdersHandler) listOrders(c *gin.Context) {
	claims, _ := UserClaims(c)

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 && parsed <= 200 {
			limit = parsed
		}
	}

	orders, err := h.service.ListOrders(c.Request.Context(), claims.UserID, limit)
	if err != nil {
		writeError(c, err)
		return
	}

	out := make([]orderResponse, 0, len(orders))
	for _, o := range orders {
		out = append(out, toOrderResponse(o))
	}
	c.JSON(http.StatusOK, gin.H{"orders": out})
}
