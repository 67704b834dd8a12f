package events

// OrderNotice is the payload for order lifecycle events. State carries the
// admission queue's state name at publish time.
type OrderNotice struct {
	RequestID  string `json:"request_id"`
	ExchangeID string `json:"exchange_id,omitempty"`
	Instrument string `json:"instrument"`
	Side       string `json:"side"`
	State      string `json:"state"`
	Reason     string `json:"reason,omitempty"`
}

// Fill is published when the execution feed reports a filled order.
// Fee is positive for a cost, negative for a maker rebate.
type Fill struct {
	ExchangeID string  `json:"exchange_id"`
	Instrument string  `json:"instrument"`
	Side       string  `json:"side"`
	Price      float64 `json:"price"`
	Amount     float64 `json:"amount"`
	Fee        float64 `json:"fee"`
}

// RiskAlert is published when the fee-risk guard crosses a warning
// threshold or trips/resets the emergency stop.
type RiskAlert struct {
	Reason           string  `json:"reason"`
	CumulativeImpact float64 `json:"cumulative_impact"`
	SessionImpact    float64 `json:"session_impact"`
	EmergencyActive  bool    `json:"emergency_active"`
}
