package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/dkorolev/commerce/internal/client"
	"github.com/dkorolev/commerce/internal/domain"
	fulfillmentsvc "github.com/dkorolev/commerce/internal/service/fulfillment"
)

// FulfillmentHandler — внутренний HTTP API fulfillment-сервиса.
type FulfillmentHandler struct {
	service *fulfillmentsvc.Service
	secret  string
}

// NewFulfillmentHandler создаёт обработчик fulfillment-сервиса.
func NewFulfillmentHandler(service *fulfillmentsvc.Service, secret string) *FulfillmentHandler {
	return &FulfillmentHandler{service: service, secret: secret}
}

// Register вешает маршруты на engine.
func (h *FulfillmentHandler) Register(r gin.IRouter) {
	internal := r.Group("/internal/shipments", InternalOnly(h.secret))
	internal.POST("", h.createShipment)
	internal.GET("/:id", h.getShipment)
	internal.GET("/by-order/:orderId", h.shipmentByOrder)
}

type shipmentResponse struct {
	ID        string    `json:"shipmentId"`
	OrderID   string    `json:"orderId"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func toShipmentResponse(s domain.Shipment) shipmentResponse {
	return shipmentResponse{
		ID:        s.ID,
		OrderID:   s.OrderID,
		Status:    string(s.Status),
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
}

func (h *FulfillmentHandler) createShipment(c *gin.Context) {
	key, ok := RequireIdempotencyKey(c)
	if !ok {
		return
	}

	var req client.CreateShipmentRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.OrderID == "" {
		c.JSON(http.StatusBadRequest, errorBody("invalid request body", "BAD_REQUEST", nil))
		return
	}

	shipment, err := h.service.CreateShipment(c.Request.Context(), fulfillmentsvc.CreateShipmentInput{
		OrderID:        req.OrderID,
		IdempotencyKey: key,
		CorrelationID:  CorrelationID(c),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toShipmentResponse(shipment))
}

func (h *FulfillmentHandler) getShipment(c *gin.Context) {
	shipment, err := h.service.GetShipment(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toShipmentResponse(shipment))
}

func (h *FulfillmentHandler) shipmentByOrder(c *gin.Context) {
	shipment, err := h.service.ShipmentByOrder(c.Request.Context(), c.Param("orderId"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toShipmentResponse(shipment))
}
