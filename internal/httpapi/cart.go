package httpapi

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/dkorolev/commerce/internal/domain"
	"github.com/dkorolev/commerce/internal/idempotency"
	cartsvc "github.com/dkorolev/commerce/internal/service/cart"
)

// CartHandler — HTTP API cart-сервиса. Мутации идемпотентны на уровне
// HTTP replay-хранилища; корзины доступны и гостям, поэтому авторизация
// опциональна.
type CartHandler struct {
	service  *cartsvc.Service
	verifier domain.TokenVerifier
	replay   idempotency.ReplayStore
}

// NewCartHandler создаёт обработчик cart-сервиса.
func NewCartHandler(service *cartsvc.Service, verifier domain.TokenVerifier, replay idempotency.ReplayStore) *CartHandler {
	return &CartHandler{service: service, verifier: verifier, replay: replay}
}

// Register вешает маршруты на engine.
func (h *CartHandler) Register(r gin.IRouter) {
	carts := r.Group("/carts", OptionalAuth(h.verifier))
	carts.POST("", Replay(h.replay, ""), h.createCart)
	carts.GET("/:id", h.getCart)
	carts.GET("/:id/snapshot", h.getSnapshot)
	carts.POST("/:id/items", Replay(h.replay, "id"), h.addItem)
	carts.PATCH("/:id/items/:sku", Replay(h.replay, "id"), h.updateItem)
	carts.DELETE("/:id/items/:sku", Replay(h.replay, "id"), h.removeItem)
	carts.POST("/:id/checkout", Replay(h.replay, "id"), h.checkout)
}

type createCartRequest struct {
	Currency string `json:"currency" binding:"required"`
}

type cartItemResponse struct {
	SKU             string            `json:"sku"`
	Qty             int32             `json:"qty"`
	VariantID       string            `json:"variantId,omitempty"`
	SelectedOptions map[string]string `json:"selectedOptions,omitempty"`
}

type cartResponse struct {
	ID        string             `json:"id"`
	UserID    string             `json:"userId,omitempty"`
	Currency  string             `json:"currency"`
	Status    string             `json:"status"`
	Items     []cartItemResponse `json:"items"`
	Version   int64              `json:"version"`
	CreatedAt time.Time          `json:"createdAt"`
	UpdatedAt time.Time          `json:"updatedAt"`
}

func toCartResponse(cart domain.Cart) cartResponse {
	items := make([]cartItemResponse, 0, len(cart.Items))
	for _, it := range cart.Items {
		items = append(items, cartItemResponse{
			SKU:             it.SKU,
			Qty:             it.Qty,
			VariantID:       it.VariantID,
			SelectedOptions: it.SelectedOptions,
		})
	}
	return cartResponse{
		ID:        cart.ID,
		UserID:    cart.UserID,
		Currency:  cart.Currency,
		Status:    string(cart.Status),
		Items:     items,
		Version:   cart.Version,
		CreatedAt: cart.CreatedAt,
		UpdatedAt: cart.UpdatedAt,
	}
}

// setCartHeaders выставляет x-cart-id, x-cart-version и etag ответа.
func setCartHeaders(c *gin.Context, cart domain.Cart) {
	c.Header(HeaderCartID, cart.ID)
	c.Header(HeaderCartVersion, fmt.Sprintf("%d", cart.Version))
	c.Header("Etag", fmt.Sprintf("%q", fmt.Sprintf("%s-v%d", cart.ID, cart.Version)))
}

func (h *CartHandler) createCart(c *gin.Context) {
	var req createCartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody("invalid request body", "BAD_REQUEST", nil))
		return
	}

	var userID string
	if claims, ok := UserClaims(c); ok {
		userID = claims.UserID
	}

	cart, err := h.service.CreateCart(c.Request.Context(), userID, req.Currency)
	if err != nil {
		writeError(c, err)
		return
	}
	setCartHeaders(c, cart)
	c.JSON(http.StatusCreated, toCartResponse(cart))
}

func (h *CartHandler) getCart(c *gin.Context) {
	cart, err := h.service.GetCart(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	setCartHeaders(c, cart)
	c.JSON(http.StatusOK, toCartResponse(cart))
}

func (h *CartHandler) getSnapshot(c *gin.Context) {
	snapshot, err := h.service.GetSnapshot(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

type addItemRequest struct {
	SKU             string            `json:"sku" binding:"required"`
	Qty             int32             `json:"qty" binding:"required"`
	VariantID       string            `json:"variantId"`
	SelectedOptions map[string]string `json:"selectedOptions"`
}

func (h *CartHandler) addItem(c *gin.Context) {
	var req addItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody("invalid request body", "BAD_REQUEST", nil))
		return
	}

	cart, err := h.service.AddItem(c.Request.Context(), c.Param("id"), domain.CartItem{
		SKU:             req.SKU,
		Qty:             req.Qty,
		VariantID:       req.VariantID,
		SelectedOptions: req.SelectedOptions,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	setCartHeaders(c, cart)
	c.JSON(http.StatusOK, toCartResponse(cart))
}

type updateItemRequest struct {
	Qty int32 `json:"qty" binding:"required"`
}

func (h *CartHandler) updateItem(c *gin.Context) {
	var req updateItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody("invalid request body", "BAD_REQUEST", nil))
		return
	}

	cart, err := h.service.UpdateItem(c.Request.Context(), c.Param("id"), c.Param("sku"), req.Qty)
	if err != nil {
		writeError(c, err)
		return
	}
	setCartHeaders(c, cart)
	c.JSON(http.StatusOK, toCartResponse(cart))
}

func (h *CartHandler) removeItem(c *gin.Context) {
	cart, err := h.service.RemoveItem(c.Request.Context(), c.Param("id"), c.Param("sku"))
	if err != nil {
		writeError(c, err)
		return
	}
	setCartHeaders(c, cart)
	c.JSON(http.StatusOK, toCartResponse(cart))
}

func (h *CartHandler) checkout(c *gin.Context) {
	snapshot, err := h.service.Checkout(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.Header(HeaderCartID, snapshot.CartID)
	c.Header(HeaderCartVersion, fmt.Sprintf("%d", snapshot.CartVersion))
	c.Header("Etag", fmt.Sprintf("%q", fmt.Sprintf("%s-v%d", snapshot.CartID, snapshot.CartVersion)))
	c.JSON(http.StatusCreated, snapshot)
}
