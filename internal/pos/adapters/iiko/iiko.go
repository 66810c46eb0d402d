// Package iiko implements the POS adapter for the iiko restaurant platform.
// Access tokens come from an apiLogin exchange and live for about an hour;
// renewal is cached and single-flighted.
package iiko

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	gw "github.com/edoardok-cmd/BoomCard-sub001/internal/gateway/domain"
	"github.com/edoardok-cmd/BoomCard-sub001/internal/gateway/session"
	"github.com/edoardok-cmd/BoomCard-sub001/internal/httpx"
	posdomain "github.com/edoardok-cmd/BoomCard-sub001/internal/pos/domain"
	"github.com/edoardok-cmd/BoomCard-sub001/internal/sign"
	"go.uber.org/zap"
)

const ProviderName = "iiko"

const defaultBaseURL = "https://api-ru.iiko.services"

// Tokens are declared valid for 60 minutes.
const tokenTTL = 60 * time.Minute

type Adapter struct {
	log            *zap.Logger
	http           *httpx.Client
	baseURL        string
	apiLogin       string
	organizationID string
	webhookSecret  string
	sessions       *session.Cache
}

func New(creds gw.Credentials, deps posdomain.Deps) (posdomain.Adapter, error) {
	apiLogin := creds.Get("api_login")
	organizationID := creds.Get("organization_id")
	if apiLogin == "" || organizationID == "" {
		return nil, fmt.Errorf("%s: %w: api_login, organization_id", ProviderName, gw.ErrMissingCredentials)
	}

	baseURL := creds.Get("base_url")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	return &Adapter{
		log:            deps.Log.Named("pos.iiko"),
		http:           httpx.New(ProviderName, deps.Timeout),
		baseURL:        strings.TrimRight(baseURL, "/"),
		apiLogin:       apiLogin,
		organizationID: organizationID,
		webhookSecret:  creds.Get("webhook_secret"),
		sessions:       &session.Cache{Skew: time.Minute},
	}, nil
}

func (a *Adapter) Provider() string { return ProviderName }

func (a *Adapter) Initialize(ctx context.Context) error {
	if _, err := a.token(ctx); err != nil {
		return err
	}
	a.log.Info("connection verified")
	return nil
}

func (a *Adapter) token(ctx context.Context) (string, error) {
	return a.sessions.Token(ctx, func(ctx context.Context, prev *session.Session) (*session.Session, error) {
		var out struct {
			Token string `json:"token"`
		}
		_, err := a.http.JSON(ctx, "iiko.access_token", http.MethodPost,
			a.baseURL+"/api/1/access_token", nil,
			map[string]string{"apiLogin": a.apiLogin}, &out)
		if err != nil {
			return nil, err
		}
		return &session.Session{Token: out.Token, ExpiresAt: time.Now().Add(tokenTTL)}, nil
	})
}

type orderPayload struct {
	ID          string  `json:"id"`
	Timestamp   int64   `json:"timestamp"`
	Status      string  `json:"status"`
	FullSum     float64 `json:"fullSum"`
	DiscountSum float64 `json:"discountSum"`
	ResultSum   float64 `json:"resultSum"`
	Customer    *struct {
		Name  string `json:"name"`
		Phone string `json:"phone"`
	} `json:"customer"`
}

func (a *Adapter) FetchTransactions(ctx context.Context, start, end time.Time) ([]gw.Transaction, error) {
	query := url.Values{}
	query.Set("organization", a.organizationID)
	query.Set("dateFrom", start.UTC().Format(time.RFC3339))
	query.Set("dateTo", end.UTC().Format(time.RFC3339))

	var out struct {
		Orders []orderPayload `json:"orders"`
	}
	if err := a.call(ctx, "iiko.fetch_orders", http.MethodGet, "/api/1/order/by_date?"+query.Encode(), nil, &out); err != nil {
		return nil, err
	}

	transactions := make([]gw.Transaction, 0, len(out.Orders))
	for i := range out.Orders {
		transactions = append(transactions, *toTransaction(&out.Orders[i]))
	}
	return transactions, nil
}

// ApplyDiscount is not available: iiko applies discounts at order creation,
// not on an existing check.
func (a *Adapter) ApplyDiscount(ctx context.Context, txID string, percentage float64, cardNumber string) (*gw.Transaction, error) {
	return nil, fmt.Errorf("%s: apply discount: %w", ProviderName, gw.ErrUnsupported)
}

func (a *Adapter) GetTransaction(ctx context.Context, txID string) (*gw.Transaction, error) {
	query := url.Values{}
	query.Set("organization", a.organizationID)
	query.Set("orderId", txID)

	var out orderPayload
	if err := a.call(ctx, "iiko.get_order", http.MethodGet, "/api/1/order/by_id?"+query.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return toTransaction(&out), nil
}

// RefundTransaction cancels the whole order. iiko has no partial returns.
func (a *Adapter) RefundTransaction(ctx context.Context, txID string, amount *float64) (*gw.Transaction, error) {
	if amount != nil {
		return nil, fmt.Errorf("%s: partial refund: %w", ProviderName, gw.ErrUnsupported)
	}

	body := map[string]string{
		"organizationId": a.organizationID,
		"orderId":        txID,
	}
	if err := a.call(ctx, "iiko.delete_order", http.MethodPost, "/api/1/order/delete", body, nil); err != nil {
		return nil, err
	}
	return a.GetTransaction(ctx, txID)
}

func (a *Adapter) VerifyWebhook(payload []byte, signature string) bool {
	if a.webhookSecret == "" || signature == "" {
		return false
	}
	return sign.VerifyHMACSHA256(payload, a.webhookSecret, signature)
}

func (a *Adapter) HandleWebhook(ctx context.Context, event *gw.WebhookEvent) error {
	var body struct {
		Order struct {
			ID string `json:"id"`
		} `json:"order"`
	}
	if err := json.Unmarshal(event.Payload, &body); err != nil {
		return fmt.Errorf("iiko webhook payload: %w", err)
	}

	switch event.EventType {
	case "OrderCreated", "OrderClosed", "OrderDeleted":
		a.log.Info("order event applied",
			zap.String("event_type", event.EventType),
			zap.String("order_id", body.Order.ID),
		)
		return nil
	default:
		a.log.Info("unhandled event type ignored", zap.String("event_type", event.EventType))
		return nil
	}
}

func toTransaction(p *orderPayload) *gw.Transaction {
	ts := time.UnixMilli(p.Timestamp).UTC()
	var discount float64
	if p.FullSum > 0 {
		discount = p.DiscountSum / p.FullSum * 100
	}
	tx := &gw.Transaction{
		ID:             p.ID,
		Provider:       ProviderName,
		Amount:         p.FullSum,
		Currency:       "BGN",
		Status:         mapStatus(p.Status),
		Discount:       discount,
		DiscountAmount: p.DiscountSum,
		Metadata:       map[string]any{"provider_status": p.Status},
		CreatedAt:      ts,
		UpdatedAt:      ts,
	}
	if p.Customer != nil {
		tx.CustomerRef = p.Customer.Phone
	}
	return tx
}

func mapStatus(status string) gw.Status {
	switch status {
	case "New", "Bill":
		return gw.StatusPending
	case "Closed":
		return gw.StatusSucceeded
	case "Deleted":
		return gw.StatusFailed
	default:
		return gw.StatusPending
	}
}

func (a *Adapter) call(ctx context.Context, operation, method, path string, in, out any) error {
	token, err := a.token(ctx)
	if err != nil {
		return err
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	resp, err := a.http.JSON(ctx, operation, method, a.baseURL+path, header, in, out)
	if err != nil {
		// An expired token yields 401; drop it so the next call renews.
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			a.sessions.Invalidate()
		}
		return err
	}
	return nil
}
