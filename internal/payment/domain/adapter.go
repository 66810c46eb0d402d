// Package domain defines the contract every payment provider adapter
// implements. The gateway talks to providers only through this interface;
// provider-specific wire formats never leak past an adapter.
package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/edoardok-cmd/BoomCard-sub001/internal/gateway/domain"
	"go.uber.org/zap"
)

// IntentRequest describes a payment to be created. Amount is in major
// currency units; adapters convert to the provider's unit convention.
type IntentRequest struct {
	Amount      float64
	Currency    string
	CustomerRef string
	Description string
	Metadata    map[string]any
}

// Adapter is one configured payment provider integration, bound to a single
// partner's credentials at construction.
type Adapter interface {
	// Provider returns the canonical lowercase provider tag.
	Provider() string

	// Initialize probes the provider with the bound credentials. It is
	// idempotent and safe to call repeatedly.
	Initialize(ctx context.Context) error

	CreatePaymentIntent(ctx context.Context, req IntentRequest) (*domain.Transaction, error)
	ConfirmPayment(ctx context.Context, intentID, methodRef string) (*domain.Result, error)

	// Refund reverses a payment. A nil amount means full refund.
	Refund(ctx context.Context, intentID string, amount *float64, reason string) (*domain.RefundResult, error)

	GetStatus(ctx context.Context, intentID string) (domain.Status, error)
	GetTransaction(ctx context.Context, intentID string) (*domain.Transaction, error)

	// CreateCustomer registers a customer with the provider and returns the
	// provider-side customer id.
	CreateCustomer(ctx context.Context, email, name string, metadata map[string]any) (string, error)

	// VerifyWebhook authenticates a raw inbound payload. It is pure: no
	// network access, no side effects.
	VerifyWebhook(payload []byte, signature string) bool

	// HandleWebhook applies a verified event. Unknown event types are
	// logged and ignored, never errors.
	HandleWebhook(ctx context.Context, event *domain.WebhookEvent) error
}

// Deps carries the shared collaborators adapters are built with.
type Deps struct {
	Log     *zap.Logger
	GenID   *snowflake.Node
	Timeout time.Duration
}

// Factory builds an adapter from a partner's credential bag. It validates
// credential presence but performs no network calls; that is Initialize's
// job.
type Factory func(creds domain.Credentials, deps Deps) (Adapter, error)
