package client

import (
	"context"
	"errors"
)

// ErrClientDisabled возвращается, когда BaseURL downstream-сервиса не задан.
var ErrClientDisabled = errors.New("downstream client is disabled")

// AuthorizeAndCaptureRequest — запрос внутреннего эндпоинта payments-сервиса.
type AuthorizeAndCaptureRequest struct {
	OrderID     string `json:"orderId"`
	AmountCents int64  `json:"amountCents"`
	Currency    string `json:"currency"`
}

// AuthorizeAndCaptureResponse — результат авторизации и списания.
type AuthorizeAndCaptureResponse struct {
	PaymentID string `json:"paymentId"`
	Status    string `json:"status"`
}

// PaymentsClient вызывает внутренние эндпоинты payments-сервиса.
type PaymentsClient struct {
	*httpClient
}

// NewPaymentsClient создаёт клиент payments-сервиса.
func NewPaymentsClient(cfg ServiceConfig) *PaymentsClient {
	return &PaymentsClient{httpClient: newHTTPClient("payments", cfg)}
}

// AuthorizeAndCapture авторизует и сразу списывает оплату заказа.
// Ключ идемпотентности выводится из id заказа, поэтому повтор вызова
// саги не создаёт второй платёж.
func (c *PaymentsClient) AuthorizeAndCapture(ctx context.Context, req AuthorizeAndCaptureRequest) (AuthorizeAndCaptureResponse, error) {
	if !c.enabled() {
		return AuthorizeAndCaptureResponse{}, ErrClientDisabled
	}

	var resp AuthorizeAndCaptureResponse
	err := c.postJSON(ctx, "/internal/payments/authorize-and-capture", "saga:payment:"+req.OrderID, req, &resp)
	if err != nil {
		return AuthorizeAndCaptureResponse{}, err
	}
	return resp, nil
}
