package client

import "context"

// CreateShipmentRequest — запрос внутреннего эндпоинта fulfillment-сервиса.
type CreateShipmentRequest struct {
	OrderID string `json:"orderId"`
}

// CreateShipmentResponse — созданная (или уже существующая) отгрузка.
type CreateShipmentResponse struct {
	ShipmentID string `json:"shipmentId"`
	OrderID    string `json:"orderId"`
	Status     string `json:"status"`
}

// FulfillmentClient вызывает внутренние эндпоинты fulfillment-сервиса.
type FulfillmentClient struct {
	*httpClient
}

// NewFulfillmentClient создаёт клиент fulfillment-сервиса.
func NewFulfillmentClient(cfg ServiceConfig) *FulfillmentClient {
	return &FulfillmentClient{httpClient: newHTTPClient("fulfillment", cfg)}
}

// CreateShipment регистрирует отгрузку по заказу.
func (c *FulfillmentClient) CreateShipment(ctx context.Context, req CreateShipmentRequest) (CreateShipmentResponse, error) {
	if !c.enabled() {
		return CreateShipmentResponse{}, ErrClientDisabled
	}

	var resp CreateShipmentResponse
	err := c.postJSON(ctx, "/internal/shipments", "saga:shipment:"+req.OrderID, req, &resp)
	if err != nil {
		return CreateShipmentResponse{}, err
	}
	return resp, nil
}
