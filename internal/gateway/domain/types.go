package domain

import (
	"strings"
	"time"
)

// Credentials is the opaque, provider-specific key/value bag a partner
// connects an integration with. It is passed by value into an adapter at
// construction and never persisted by the gateway itself.
type Credentials map[string]string

// Get returns a trimmed credential value.
func (c Credentials) Get(key string) string {
	return strings.TrimSpace(c[key])
}

// Environment reports the provider environment flag, defaulting to sandbox.
func (c Credentials) Environment() string {
	if env := c.Get("environment"); env != "" {
		return strings.ToLower(env)
	}
	return "sandbox"
}

// IsProduction reports whether the integration points at the live endpoint.
func (c Credentials) IsProduction() bool {
	return c.Environment() == "production"
}

// Status is the gateway's canonical transaction status. Every provider
// status maps onto exactly one of these values.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusSucceeded  Status = "succeeded"
	StatusFailed     Status = "failed"
	StatusCanceled   Status = "canceled"
	StatusRefunded   Status = "refunded"
)

// Transaction is the canonical representation of one monetary movement.
// Amounts are major-unit decimals at this boundary; unit conversion happens
// inside adapters.
type Transaction struct {
	ID             string         `json:"id"`
	Provider       string         `json:"provider"`
	Amount         float64        `json:"amount"`
	Currency       string         `json:"currency"`
	Status         Status         `json:"status"`
	CustomerRef    string         `json:"customer_ref,omitempty"`
	Discount       float64        `json:"discount,omitempty"`
	DiscountAmount float64        `json:"discount_amount,omitempty"`
	CardNumber     string         `json:"card_number,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// Result reports the outcome of a confirm operation.
type Result struct {
	Success  bool           `json:"success"`
	IntentID string         `json:"intent_id,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Error    string         `json:"error,omitempty"`
}

// RefundResult reports the outcome of a refund, full or partial.
type RefundResult struct {
	Success  bool    `json:"success"`
	RefundID string  `json:"refund_id,omitempty"`
	Amount   float64 `json:"amount"`
	Error    string  `json:"error,omitempty"`
}

// WebhookEvent is one inbound provider notification. EventType preserves
// the provider's own vocabulary verbatim for audit.
type WebhookEvent struct {
	Provider   string
	EventType  string
	Payload    []byte
	Signature  string
	ReceivedAt time.Time
}
