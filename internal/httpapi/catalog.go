package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/dkorolev/commerce/internal/domain"
	catalogsvc "github.com/dkorolev/commerce/internal/service/catalog"
)

// CatalogHandler — HTTP API catalog-сервиса. Мутации требуют авторизации
// и Idempotency-Key; replay делает DB-уровневая идемпотентность сервиса.
type CatalogHandler struct {
	service  *catalogsvc.Service
	verifier domain.TokenVerifier
}

// NewCatalogHandler создаёт обработчик catalog-сервиса.
func NewCatalogHandler(service *catalogsvc.Service, verifier domain.TokenVerifier) *CatalogHandler {
	return &CatalogHandler{service: service, verifier: verifier}
}

// Register вешает маршруты на engine.
func (h *CatalogHandler) Register(r gin.IRouter) {
	r.GET("/products/:id", h.getProduct)

	protected := r.Group("/products", Auth(h.verifier))
	protected.POST("", h.createProduct)
	protected.PATCH("/:id", h.updateProduct)
}

type createProductRequest struct {
	SKU         string `json:"sku" binding:"required"`
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
	PriceCents  int64  `json:"priceCents" binding:"required"`
	Currency    string `json:"currency" binding:"required"`
}

type updateProductRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	PriceCents  *int64  `json:"priceCents"`
	Currency    *string `json:"currency"`
	Active      *bool   `json:"active"`
}

type productResponse struct {
	ID          string    `json:"id"`
	SKU         string    `json:"sku"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	PriceCents  int64     `json:"priceCents"`
	Currency    string    `json:"currency"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func toProductResponse(p domain.Product) productResponse {
	return productResponse{
		ID:          p.ID,
		SKU:         p.SKU,
		Name:        p.Name,
		Description: p.Description,
		PriceCents:  p.PriceCents,
		Currency:    p.Currency,
		Active:      p.Active,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}

func (h *CatalogHandler) createProduct(c *gin.Context) {
	key, ok := RequireIdempotencyKey(c)
	if !ok {
		return
	}

	var req createProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody("invalid request body", "BAD_REQUEST", nil))
		return
	}

	product, err := h.service.CreateProduct(c.Request.Context(), catalogsvc.CreateProductInput{
		SKU:            req.SKU,
		Name:           req.Name,
		Description:    req.Description,
		PriceCents:     req.PriceCents,
		Currency:       req.Currency,
		IdempotencyKey: key,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toProductResponse(product))
}

func (h *CatalogHandler) updateProduct(c *gin.Context) {
	key, ok := RequireIdempotencyKey(c)
	if !ok {
		return
	}

	var req updateProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody("invalid request body", "BAD_REQUEST", nil))
		return
	}

	product, err := h.service.UpdateProduct(c.Request.Context(), c.Param("id"), catalogsvc.UpdateProductInput{
		Name:           req.Name,
		Description:    req.Description,
		PriceCents:     req.PriceCents,
		Currency:       req.Currency,
		Active:         req.Active,
		IdempotencyKey: key,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toProductResponse(product))
}

func (h *CatalogHandler) getProduct(c *gin.Context) {
	product, err := h.service.GetProduct(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toProductResponse(product))
}
