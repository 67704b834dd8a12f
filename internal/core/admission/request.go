package admission

import (
	"time"

	"github.com/mkondo/cryptoexec/internal/core/fees"
)

// State tracks the lifecycle of an order request.
type State int

const (
	StatePending State = iota
	StateSubmitted
	StateFilled
	StateCancelled
	StateRejected
	StateExpired
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "PENDING"
	case StateSubmitted:
		return "SUBMITTED"
	case StateFilled:
		return "FILLED"
	case StateCancelled:
		return "CANCELLED"
	case StateRejected:
		return "REJECTED"
	case StateExpired:
		return "EXPIRED"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	switch s {
	case StateFilled, StateCancelled, StateRejected, StateExpired:
		return true
	default:
		return false
	}
}

// Priority orders dispatch. Higher tiers always dispatch first.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityUrgent
)

func (p Priority) String() string {
	switch p {
	case PriorityUrgent:
		return "urgent"
	case PriorityHigh:
		return "high"
	case PriorityLow:
		return "low"
	default:
		return "normal"
	}
}

// Request is one order request owned by the queue until it reaches a
// terminal state, after which it lives in history until the retention
// sweep drops it.
type Request struct {
	ID         string
	Instrument string
	Side       string
	Kind       fees.Kind
	Amount     float64
	// Price is the limit price; zero for market (taker) orders.
	Price       float64
	Priority    Priority
	SubmittedAt time.Time
	State       State
	RetryCount  int
	Err         string
	// ExchangeID is set once the exchange accepts the order.
	ExchangeID string

	// seq breaks ties within a priority tier: highest seq dispatches
	// first, and retries are requeued below every live entry.
	seq int64
	// inflight marks a popped request the worker is dispatching; it
	// cannot be cancelled in place until the dispatch settles.
	inflight bool
}

func (r *Request) clone() *Request {
	c := *r
	return &c
}
