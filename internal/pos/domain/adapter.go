// Package domain defines the contract every POS provider adapter implements.
// POS integrations surface the partner's till: fetching checks, applying
// BoomCard discounts and reversing transactions.
package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/edoardok-cmd/BoomCard-sub001/internal/gateway/domain"
	"go.uber.org/zap"
)

// Adapter is one configured POS integration, bound to a single partner's
// credentials at construction.
type Adapter interface {
	// Provider returns the canonical lowercase provider tag.
	Provider() string

	// Initialize probes the provider with the bound credentials.
	// Idempotent.
	Initialize(ctx context.Context) error

	// FetchTransactions returns the partner's transactions in [start, end].
	FetchTransactions(ctx context.Context, start, end time.Time) ([]domain.Transaction, error)

	// ApplyDiscount applies a BoomCard percentage discount to an open
	// transaction.
	ApplyDiscount(ctx context.Context, txID string, percentage float64, cardNumber string) (*domain.Transaction, error)

	GetTransaction(ctx context.Context, txID string) (*domain.Transaction, error)

	// RefundTransaction reverses a transaction. A nil amount means full
	// refund. Providers without a refund operation return
	// domain.ErrUnsupported.
	RefundTransaction(ctx context.Context, txID string, amount *float64) (*domain.Transaction, error)

	// VerifyWebhook authenticates a raw inbound payload. Pure.
	VerifyWebhook(payload []byte, signature string) bool

	// HandleWebhook applies a verified event. Unknown event types are
	// logged and ignored.
	HandleWebhook(ctx context.Context, event *domain.WebhookEvent) error
}

// Deps carries the shared collaborators adapters are built with.
type Deps struct {
	Log     *zap.Logger
	GenID   *snowflake.Node
	Timeout time.Duration
}

// Factory builds an adapter from a partner's credential bag without
// touching the network.
type Factory func(creds domain.Credentials, deps Deps) (Adapter, error)
