package admission

import (
	"context"

	"github.com/mkondo/cryptoexec/internal/adapters/exchange_http"
)

// Exchange abstracts the ability to place, cancel, and inspect orders.
// Satisfied by *exchange_http.Client and the paper exchange.
type Exchange interface {
	CreateOrder(ctx context.Context, req exchange_http.CreateOrderRequest) (*exchange_http.CreateOrderResponse, error)
	CancelOrder(ctx context.Context, id, instrument string) error
	FetchOrder(ctx context.Context, id, instrument string) (*exchange_http.OrderStatus, error)
}

var _ Exchange = (*exchange_http.Client)(nil)
