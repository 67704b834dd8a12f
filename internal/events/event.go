package events

import "time"

// Event is the envelope that flows through the event bus.
// Every domain event (order lifecycle, fill, risk alert) is wrapped in one.
type Event struct {
	ID         string
	Type       EventType
	Instrument string
	Timestamp  time.Time
	Payload    any
}

type EventType string

const (
	// Order lifecycle events published by the admission queue / worker.
	EventOrderQueued    EventType = "order_queued"
	EventOrderSubmitted EventType = "order_submitted"
	EventOrderRejected  EventType = "order_rejected"
	EventOrderCancelled EventType = "order_cancelled"
	EventOrderExpired   EventType = "order_expired"

	// Exchange execution-feed events.
	EventOrderFilled EventType = "order_filled"

	// Risk events published by the fee-risk guard.
	EventRiskAlert     EventType = "risk_alert"
	EventEmergencyStop EventType = "emergency_stop"
)
