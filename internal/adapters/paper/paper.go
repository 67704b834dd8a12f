package paper

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mkondo/cryptoexec/internal/adapters/exchange_http"
	"github.com/mkondo/cryptoexec/internal/events"
)

// Exchange is an in-memory stand-in for the real exchange, used by the
// paper entrypoint and the test suite. Orders are accepted instantly;
// fills are driven explicitly through FillOrder so tests control timing.
type Exchange struct {
	mu     sync.Mutex
	seq    int
	orders map[string]*exchange_http.OrderStatus
	insts  map[string]string // order ID → instrument

	// failures remaining to inject before accepting again
	failing int
	bus     *events.Bus
}

// New creates a paper exchange. bus may be nil; FillOrder then only
// updates local state.
func New(bus *events.Bus) *Exchange {
	return &Exchange{
		orders: make(map[string]*exchange_http.OrderStatus),
		insts:  make(map[string]string),
		bus:    bus,
	}
}

// FailNext makes the next n CreateOrder calls fail, for retry testing.
func (e *Exchange) FailNext(n int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failing = n
}

func (e *Exchange) CreateOrder(_ context.Context, req exchange_http.CreateOrderRequest) (*exchange_http.CreateOrderResponse, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.failing > 0 {
		e.failing--
		return nil, fmt.Errorf("paper: injected dispatch failure")
	}

	e.seq++
	id := fmt.Sprintf("PAPER-%06d", e.seq)
	e.orders[id] = &exchange_http.OrderStatus{
		ID:     id,
		Status: "ACTIVE",
		Price:  req.Price,
	}
	e.insts[id] = req.Instrument
	return &exchange_http.CreateOrderResponse{ID: id, Status: "ACTIVE"}, nil
}

func (e *Exchange) CancelOrder(_ context.Context, id, _ string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	o, ok := e.orders[id]
	if !ok {
		return fmt.Errorf("paper: unknown order %s", id)
	}
	if o.Status != "ACTIVE" {
		return fmt.Errorf("paper: order %s is %s", id, o.Status)
	}
	o.Status = "CANCELED"
	return nil
}

func (e *Exchange) FetchOrder(_ context.Context, id, _ string) (*exchange_http.OrderStatus, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	o, ok := e.orders[id]
	if !ok {
		return nil, fmt.Errorf("paper: unknown order %s", id)
	}
	c := *o
	return &c, nil
}

// FillOrder marks an active order as fully filled and publishes the fill
// the way the live execution feed would. fee follows the feed convention:
// positive cost, negative rebate.
func (e *Exchange) FillOrder(id string, amount, price, fee float64) error {
	e.mu.Lock()
	o, ok := e.orders[id]
	if !ok || o.Status != "ACTIVE" {
		e.mu.Unlock()
		return fmt.Errorf("paper: order %s not fillable", id)
	}
	o.Status = "COMPLETED"
	o.Filled = amount
	o.Price = price
	inst := e.insts[id]
	bus := e.bus
	e.mu.Unlock()

	if bus != nil {
		bus.Publish(events.Event{
			ID:         id,
			Type:       events.EventOrderFilled,
			Instrument: inst,
			Timestamp:  time.Now(),
			Payload: events.Fill{
				ExchangeID: id,
				Instrument: inst,
				Price:      price,
				Amount:     amount,
				Fee:        fee,
			},
		})
	}
	return nil
}

// OpenOrders returns the IDs of all ACTIVE orders, oldest first.
func (e *Exchange) OpenOrders() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	var ids []string
	for i := 1; i <= e.seq; i++ {
		id := fmt.Sprintf("PAPER-%06d", i)
		if o, ok := e.orders[id]; ok && o.Status == "ACTIVE" {
			ids = append(ids, id)
		}
	}
	return ids
}
