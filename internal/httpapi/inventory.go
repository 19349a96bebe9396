package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/dkorolev/commerce/internal/domain"
	inventorysvc "github.com/dkorolev/commerce/internal/service/inventory"
)

// InventoryHandler — внутренний HTTP API inventory-сервиса. Все мутации
// закрыты межсервисным секретом; Idempotency-Key служит message id для
// dedup-а на уровне движка резервирования.
type InventoryHandler struct {
	engine *inventorysvc.Engine
	store  domain.InventoryStore
	secret string
}

// NewInventoryHandler создаёт обработчик inventory-сервиса.
func NewInventoryHandler(engine *inventorysvc.Engine, store domain.InventoryStore, secret string) *InventoryHandler {
	return &InventoryHandler{engine: engine, store: store, secret: secret}
}

// Register вешает маршруты на engine.
func (h *InventoryHandler) Register(r gin.IRouter) {
	internal := r.Group("/internal/inventory", InternalOnly(h.secret))
	internal.POST("/reserve", h.reserve)
	internal.POST("/commit", h.commit)
	internal.POST("/release", h.release)
	internal.PUT("/stock/:sku", h.adjustStock)
	internal.GET("/stock/:sku", h.getStock)
}

type reserveItemRequest struct {
	SKU string `json:"sku" binding:"required"`
	Qty int32  `json:"qty" binding:"required"`
}

type reserveRequest struct {
	OrderID    string               `json:"orderId" binding:"required"`
	Items      []reserveItemRequest `json:"items" binding:"required"`
	TTLSeconds int64                `json:"ttlSeconds"`
}

type reserveResponse struct {
	Outcome           string                    `json:"status"`
	Reason            string                    `json:"reason,omitempty"`
	InsufficientItems []domain.InsufficientItem `json:"insufficientItems,omitempty"`
	ExpiresAt         *time.Time                `json:"expiresAt,omitempty"`
}

func (h *InventoryHandler) reserve(c *gin.Context) {
	key, ok := RequireIdempotencyKey(c)
	if !ok {
		return
	}

	var req reserveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody("invalid request body", "BAD_REQUEST", nil))
		return
	}

	items := make([]domain.ReservationItem, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, domain.ReservationItem{SKU: it.SKU, Qty: it.Qty})
	}

	result, err := h.engine.Reserve(c.Request.Context(), inventorysvc.ReserveCommand{
		OrderID:       req.OrderID,
		Items:         items,
		TTL:           time.Duration(req.TTLSeconds) * time.Second,
		MessageID:     key,
		Source:        "http",
		CorrelationID: CorrelationID(c),
	})
	if err != nil {
		writeError(c, err)
		return
	}

	resp := reserveResponse{
		Outcome:           string(result.Outcome),
		Reason:            result.Reason,
		InsufficientItems: result.InsufficientItems,
	}
	if !result.ExpiresAt.IsZero() {
		resp.ExpiresAt = &result.ExpiresAt
	}
	c.JSON(http.StatusOK, resp)
}

type transitionRequest struct {
	OrderID string `json:"orderId" binding:"required"`
	Reason  string `json:"reason"`
}

type transitionResponse struct {
	Outcome string `json:"status"`
	Marked  int    `json:"marked"`
}

func (h *InventoryHandler) commit(c *gin.Context) {
	h.transition(c, func(cmd inventorysvc.TransitionCommand) (inventorysvc.TransitionResult, error) {
		return h.engine.Commit(c.Request.Context(), cmd)
	})
}

func (h *InventoryHandler) release(c *gin.Context) {
	h.transition(c, func(cmd inventorysvc.TransitionCommand) (inventorysvc.TransitionResult, error) {
		cmd.Mode = inventorysvc.ReleaseModeRelease
		return h.engine.Release(c.Request.Context(), cmd)
	})
}

func (h *InventoryHandler) transition(c *gin.Context, run func(inventorysvc.TransitionCommand) (inventorysvc.TransitionResult, error)) {
	key, ok := RequireIdempotencyKey(c)
	if !ok {
		return
	}

	var req transitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody("invalid request body", "BAD_REQUEST", nil))
		return
	}

	result, err := run(inventorysvc.TransitionCommand{
		OrderID:       req.OrderID,
		Reason:        req.Reason,
		MessageID:     key,
		Source:        "http",
		CorrelationID: CorrelationID(c),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, transitionResponse{Outcome: string(result.Outcome), Marked: result.Marked})
}

type adjustStockRequest struct {
	OnHand int64 `json:"onHand" binding:"min=0"`
}

type balanceResponse struct {
	SKU       string `json:"sku"`
	OnHand    int64  `json:"onHand"`
	Reserved  int64  `json:"reserved"`
	Available int64  `json:"available"`
}

func (h *InventoryHandler) adjustStock(c *gin.Context) {
	var req adjustStockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody("invalid request body", "BAD_REQUEST", nil))
		return
	}

	balance, err := h.engine.Adjust(c.Request.Context(), c.Param("sku"), req.OnHand)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, balanceResponse{
		SKU:       balance.SKU,
		OnHand:    balance.OnHand,
		Reserved:  balance.Reserved,
		Available: balance.Available(),
	})
}

func (h *InventoryHandler) getStock(c *gin.Context) {
	balance, err := h.store.GetBalance(c.Request.Context(), c.Param("sku"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, balanceResponse{
		SKU:       balance.SKU,
		OnHand:    balance.OnHand,
		Reserved:  balance.Reserved,
		Available: balance.Available(),
	})
}
