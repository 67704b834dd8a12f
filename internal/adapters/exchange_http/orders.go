package exchange_http

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mkondo/cryptoexec/internal/telemetry"
)

// CreateOrderRequest is the payload for POST /v1/me/sendchildorder.
type CreateOrderRequest struct {
	Instrument  string  `json:"product_code"`
	Type        string  `json:"child_order_type"` // "LIMIT" or "MARKET"
	Side        string  `json:"side"`             // "BUY" or "SELL"
	Price       float64 `json:"price,omitempty"`
	Amount      float64 `json:"size"`
	TimeInForce string  `json:"time_in_force,omitempty"` // "GTC" unless specified
}

type CreateOrderResponse struct {
	ID     string `json:"child_order_acceptance_id"`
	Status string `json:"status,omitempty"`
}

// OrderStatus is the exchange's view of one order.
type OrderStatus struct {
	ID     string  `json:"child_order_acceptance_id"`
	Status string  `json:"child_order_state"` // ACTIVE, COMPLETED, CANCELED, EXPIRED, REJECTED
	Filled float64 `json:"executed_size"`
	Price  float64 `json:"average_price"`
}

func (c *Client) CreateOrder(ctx context.Context, req CreateOrderRequest) (*CreateOrderResponse, error) {
	body, status, err := c.Post(ctx, "/v1/me/sendchildorder", req)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, fmt.Errorf("order rejected: status=%d body=%s", status, string(body))
	}

	var resp CreateOrderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal order response: %w", err)
	}

	telemetry.Infof("exchange: order placed instrument=%s side=%s size=%v -> %s",
		req.Instrument, req.Side, req.Amount, resp.ID)

	return &resp, nil
}

func (c *Client) CancelOrder(ctx context.Context, id, instrument string) error {
	payload := map[string]string{
		"product_code":              instrument,
		"child_order_acceptance_id": id,
	}
	body, status, err := c.Post(ctx, "/v1/me/cancelchildorder", payload)
	if err != nil {
		return err
	}
	if status < 200 || status >= 300 {
		return fmt.Errorf("cancel failed: status=%d body=%s", status, string(body))
	}
	return nil
}

// FetchOrder returns the exchange's view of one order. Concurrent polls
// for the same ID collapse into a single upstream call.
func (c *Client) FetchOrder(ctx context.Context, id, instrument string) (*OrderStatus, error) {
	v, err, _ := c.fetchGroup.Do(id, func() (any, error) {
		path := fmt.Sprintf("/v1/me/getchildorders?product_code=%s&child_order_acceptance_id=%s", instrument, id)
		body, status, err := c.Get(ctx, path)
		if err != nil {
			return nil, err
		}
		if status != 200 {
			return nil, fmt.Errorf("fetch order: status=%d", status)
		}

		var orders []OrderStatus
		if err := json.Unmarshal(body, &orders); err != nil {
			return nil, fmt.Errorf("unmarshal orders: %w", err)
		}
		if len(orders) == 0 {
			return nil, fmt.Errorf("order %s not found", id)
		}
		return &orders[0], nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*OrderStatus), nil
}
