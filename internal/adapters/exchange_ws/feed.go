package exchange_ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/mkondo/cryptoexec/internal/adapters/exchange_auth"
	"github.com/mkondo/cryptoexec/internal/events"
	"github.com/mkondo/cryptoexec/internal/telemetry"
)

// Feed connects to the exchange's private execution stream and publishes
// Fill and cancel notices onto the event bus. Fills are the only place
// the exchange tells us an order completed, so the control plane's
// open-order accounting depends on this feed staying connected.
//
// Gorilla/websocket supports one concurrent reader and one concurrent
// writer, so all writes are serialized through mu.
type Feed struct {
	url    string
	signer *exchange_auth.Signer
	bus    *events.Bus
	done   chan struct{}

	mu   sync.Mutex
	conn *websocket.Conn
}

func NewFeed(wsURL string, signer *exchange_auth.Signer, bus *events.Bus) *Feed {
	return &Feed{
		url:    wsURL,
		signer: signer,
		bus:    bus,
		done:   make(chan struct{}),
	}
}

func (f *Feed) Connect(ctx context.Context) error {
	if err := f.dial(ctx); err != nil {
		return err
	}
	go f.runLoop(ctx)
	return nil
}

// Done is closed when the read loop exits for good.
func (f *Feed) Done() <-chan struct{} {
	return f.done
}

func (f *Feed) dial(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return err
	}

	f.mu.Lock()
	f.conn = conn
	f.mu.Unlock()

	if err := f.authenticate(); err != nil {
		conn.Close()
		return err
	}
	return f.subscribe()
}

func (f *Feed) authenticate() error {
	auth := f.signer.AuthPayload()
	if auth == nil {
		// public connection: execution events for our own orders
		// require auth, so warn loudly but keep the socket open
		telemetry.Warnf("exchange_ws: no credentials, execution feed will be silent")
		return nil
	}
	return f.send(map[string]any{
		"jsonrpc": "2.0",
		"method":  "auth",
		"params":  auth,
		"id":      1,
	})
}

func (f *Feed) subscribe() error {
	return f.send(map[string]any{
		"jsonrpc": "2.0",
		"method":  "subscribe",
		"params":  map[string]string{"channel": "child_order_events"},
		"id":      2,
	})
}

func (f *Feed) send(v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conn.WriteJSON(v)
}

// runLoop reads messages and reconnects on failure with exponential backoff.
func (f *Feed) runLoop(ctx context.Context) {
	defer close(f.done)

	backoff := time.Second
	for {
		if err := f.readUntilError(ctx); err != nil {
			telemetry.Warnf("exchange_ws: read loop ended: %v", err)
		}
		if ctx.Err() != nil {
			return
		}

		telemetry.Metrics.FeedReconnects.Inc()
		telemetry.Infof("exchange_ws: reconnecting in %s", backoff)
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}

		if err := f.dial(ctx); err != nil {
			telemetry.Errorf("exchange_ws: reconnect failed: %v", err)
			continue
		}
		backoff = time.Second
	}
}

func (f *Feed) readUntilError(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_, data, err := f.conn.ReadMessage()
		if err != nil {
			return err
		}
		f.handleMessage(data)
	}
}

// message is the feed's envelope for channel notifications.
type message struct {
	Method string `json:"method"`
	Params struct {
		Channel string            `json:"channel"`
		Message []childOrderEvent `json:"message"`
	} `json:"params"`
}

type childOrderEvent struct {
	EventType  string  `json:"event_type"` // ORDER, EXECUTION, CANCEL, EXPIRE
	OrderID    string  `json:"child_order_acceptance_id"`
	Instrument string  `json:"product_code"`
	Side       string  `json:"side"`
	Price      float64 `json:"price"`
	Size       float64 `json:"size"`
	Commission float64 `json:"commission"` // positive cost, negative rebate
	EventDate  string  `json:"event_date"`
}

func (f *Feed) handleMessage(data []byte) {
	var msg message
	if err := json.Unmarshal(data, &msg); err != nil {
		telemetry.Debugf("exchange_ws: skipping unparseable frame: %v", err)
		return
	}
	if msg.Method != "channelMessage" || msg.Params.Channel != "child_order_events" {
		return
	}

	for _, ev := range msg.Params.Message {
		switch ev.EventType {
		case "EXECUTION":
			f.bus.Publish(events.Event{
				ID:         uuid.NewString(),
				Type:       events.EventOrderFilled,
				Instrument: ev.Instrument,
				Timestamp:  time.Now(),
				Payload: events.Fill{
					ExchangeID: ev.OrderID,
					Instrument: ev.Instrument,
					Side:       ev.Side,
					Price:      ev.Price,
					Amount:     ev.Size,
					Fee:        ev.Commission,
				},
			})
		case "CANCEL", "EXPIRE":
			f.bus.Publish(events.Event{
				ID:         uuid.NewString(),
				Type:       events.EventOrderCancelled,
				Instrument: ev.Instrument,
				Timestamp:  time.Now(),
				Payload: events.OrderNotice{
					ExchangeID: ev.OrderID,
					Instrument: ev.Instrument,
					Side:       ev.Side,
					State:      "CANCELLED",
					Reason:     "exchange " + ev.EventType,
				},
			})
		}
	}
}
