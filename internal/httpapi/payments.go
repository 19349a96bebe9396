package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/dkorolev/commerce/internal/client"
	"github.com/dkorolev/commerce/internal/domain"
	paymentssvc "github.com/dkorolev/commerce/internal/service/payments"
)

type paymentResponse struct {
	ID           string     `json:"id"`
	OrderID      string     `json:"orderId"`
	Status       string     `json:"status"`
	AmountCents  int64      `json:"amountCents"`
	Currency     string     `json:"currency"`
	AuthorizedAt *time.Time `json:"authorizedAt,omitempty"`
	CapturedAt   *time.Time `json:"capturedAt,omitempty"`
	FailedAt     *time.Time `json:"failedAt,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

func toPaymentResponse(p domain.Payment) paymentResponse {
	return paymentResponse{
		ID:           p.ID,
		OrderID:      p.OrderID,
		Status:       string(p.Status),
		AmountCents:  p.AmountCents,
		Currency:     p.Currency,
		AuthorizedAt: p.AuthorizedAt,
		CapturedAt:   p.CapturedAt,
		FailedAt:     p.FailedAt,
		CreatedAt:    p.CreatedAt,
		UpdatedAt:    p.UpdatedAt,
	}
}

// PaymentsHandler — внутренний HTTP API payments-сервиса. Внешнего API у
// платежей нет: authorize-and-capture зовёт только оркестрация саги.
type PaymentsHandler struct {
	service *paymentssvc.Service
	secret  string
}

// NewPaymentsHandler создаёт обработчик payments-сервиса.
func NewPaymentsHandler(service *paymentssvc.Service, secret string) *PaymentsHandler {
	return &PaymentsHandler{service: service, secret: secret}
}

// Register вешает маршруты на engine.
func (h *PaymentsHandler) Register(r gin.IRouter) {
	internal := r.Group("/internal/payments", InternalOnly(h.secret))
	internal.POST("/authorize-and-capture", h.authorizeAndCapture)
	internal.POST("/:id/fail", h.fail)
	internal.GET("/:id", h.getPayment)
	internal.GET("/by-order/:orderId", h.paymentByOrder)
}

func (h *PaymentsHandler) authorizeAndCapture(c *gin.Context) {
	key, ok := RequireIdempotencyKey(c)
	if !ok {
		return
	}

	var req client.AuthorizeAndCaptureRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.OrderID == "" {
		c.JSON(http.StatusBadRequest, errorBody("invalid request body", "BAD_REQUEST", nil))
		return
	}

	payment, err := h.service.AuthorizeAndCapture(c.Request.Context(), paymentssvc.AuthorizeInput{
		OrderID:        req.OrderID,
		AmountCents:    req.AmountCents,
		Currency:       req.Currency,
		IdempotencyKey: key,
		CorrelationID:  CorrelationID(c),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, client.AuthorizeAndCaptureResponse{
		PaymentID: payment.ID,
		Status:    string(payment.Status),
	})
}

type failPaymentRequest struct {
	Reason string `json:"reason"`
}

func (h *PaymentsHandler) fail(c *gin.Context) {
	var req failPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		c.JSON(http.StatusBadRequest, errorBody("invalid request body", "BAD_REQUEST", nil))
		return
	}

	payment, err := h.service.Fail(c.Request.Context(), c.Param("id"), req.Reason, CorrelationID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toPaymentResponse(payment))
}

func (h *PaymentsHandler) getPayment(c *gin.Context) {
	payment, err := h.service.GetPayment(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toPaymentResponse(payment))
}

func (h *PaymentsHandler) paymentByOrder(c *gin.Context) {
	payment, err := h.service.PaymentByOrder(c.Request.Context(), c.Param("orderId"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toPaymentResponse(payment))
}
