// Package sumup implements the POS adapter for SumUp card terminals. OAuth2
// access tokens are cached with the provider-declared lifetime and renewed
// just in time under single-flight.
package sumup

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	gw "github.com/edoardok-cmd/BoomCard-sub001/internal/gateway/domain"
	"github.com/edoardok-cmd/BoomCard-sub001/internal/gateway/session"
	"github.com/edoardok-cmd/BoomCard-sub001/internal/httpx"
	posdomain "github.com/edoardok-cmd/BoomCard-sub001/internal/pos/domain"
	"github.com/edoardok-cmd/BoomCard-sub001/internal/sign"
	"go.uber.org/zap"
)

const ProviderName = "sumup"

const (
	defaultBaseURL = "https://api.sumup.com/v0.1"
	tokenURL       = "https://api.sumup.com/token"
)

type Adapter struct {
	log           *zap.Logger
	http          *httpx.Client
	baseURL       string
	tokenURL      string
	clientID      string
	clientSecret  string
	refreshToken  string
	merchantCode  string
	webhookSecret string
	sessions      *session.Cache
}

func New(creds gw.Credentials, deps posdomain.Deps) (posdomain.Adapter, error) {
	clientID := creds.Get("client_id")
	clientSecret := creds.Get("client_secret")
	if clientID == "" || clientSecret == "" {
		return nil, fmt.Errorf("%s: %w: client_id, client_secret", ProviderName, gw.ErrMissingCredentials)
	}

	baseURL := creds.Get("base_url")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	tokURL := creds.Get("token_url")
	if tokURL == "" {
		tokURL = tokenURL
	}

	return &Adapter{
		log:           deps.Log.Named("pos.sumup"),
		http:          httpx.New(ProviderName, deps.Timeout),
		baseURL:       strings.TrimRight(baseURL, "/"),
		tokenURL:      tokURL,
		clientID:      clientID,
		clientSecret:  clientSecret,
		refreshToken:  creds.Get("refresh_token"),
		merchantCode:  creds.Get("merchant_code"),
		webhookSecret: creds.Get("webhook_secret"),
		sessions:      &session.Cache{Skew: time.Minute},
	}, nil
}

func (a *Adapter) Provider() string { return ProviderName }

func (a *Adapter) Initialize(ctx context.Context) error {
	if err := a.call(ctx, "sumup.me", http.MethodGet, "/me", nil, nil); err != nil {
		return err
	}
	a.log.Info("connection verified")
	return nil
}

// token renews through the refresh-token grant when one was connected,
// otherwise client credentials. The new refresh token, if any, is chained
// into the next renewal.
func (a *Adapter) token(ctx context.Context) (string, error) {
	return a.sessions.Token(ctx, func(ctx context.Context, prev *session.Session) (*session.Session, error) {
		values := url.Values{}
		values.Set("client_id", a.clientID)
		values.Set("client_secret", a.clientSecret)

		refresh := a.refreshToken
		if prev != nil && prev.Refresh != "" {
			refresh = prev.Refresh
		}
		if refresh != "" {
			values.Set("grant_type", "refresh_token")
			values.Set("refresh_token", refresh)
		} else {
			values.Set("grant_type", "client_credentials")
		}

		resp, err := a.http.Form(ctx, "sumup.token", a.tokenURL, values)
		if err != nil {
			return nil, err
		}

		var out struct {
			AccessToken  string `json:"access_token"`
			RefreshToken string `json:"refresh_token"`
			ExpiresIn    int    `json:"expires_in"`
		}
		if err := json.Unmarshal(resp.Body, &out); err != nil {
			return nil, &gw.TransportError{Provider: ProviderName, Operation: "sumup.token", Err: err}
		}
		if out.AccessToken == "" {
			return nil, &gw.ProviderError{Provider: ProviderName, Message: "empty access token"}
		}
		return &session.Session{
			Token:     out.AccessToken,
			Refresh:   out.RefreshToken,
			ExpiresAt: time.Now().Add(time.Duration(out.ExpiresIn) * time.Second),
		}, nil
	})
}

type checkoutPayload struct {
	ID                string  `json:"id"`
	CheckoutReference string  `json:"checkout_reference"`
	Amount            float64 `json:"amount"`
	Currency          string  `json:"currency"`
	Status            string  `json:"status"`
	Date              string  `json:"date"`
}

// FetchTransactions pages the merchant history and filters client-side: the
// history endpoint has no date range parameters.
func (a *Adapter) FetchTransactions(ctx context.Context, start, end time.Time) ([]gw.Transaction, error) {
	query := url.Values{}
	query.Set("limit", "100")
	query.Set("order", "descending")

	var out struct {
		Items []struct {
			ID              string  `json:"id"`
			Amount          float64 `json:"amount"`
			Currency        string  `json:"currency"`
			Status          string  `json:"status"`
			Timestamp       string  `json:"timestamp"`
			TransactionCode string  `json:"transaction_code"`
			PaymentType     string  `json:"payment_type"`
		} `json:"items"`
	}
	if err := a.call(ctx, "sumup.history", http.MethodGet, "/me/transactions/history?"+query.Encode(), nil, &out); err != nil {
		return nil, err
	}

	transactions := make([]gw.Transaction, 0, len(out.Items))
	for _, item := range out.Items {
		ts, err := time.Parse(time.RFC3339, item.Timestamp)
		if err != nil || ts.Before(start) || ts.After(end) {
			continue
		}
		status := gw.StatusFailed
		if item.Status == "SUCCESSFUL" {
			status = gw.StatusSucceeded
		}
		transactions = append(transactions, gw.Transaction{
			ID:       item.ID,
			Provider: ProviderName,
			Amount:   item.Amount,
			Currency: item.Currency,
			Status:   status,
			Metadata: map[string]any{
				"transaction_code": item.TransactionCode,
				"payment_type":     item.PaymentType,
			},
			CreatedAt: ts,
			UpdatedAt: ts,
		})
	}
	sort.Slice(transactions, func(i, j int) bool {
		return transactions[i].CreatedAt.After(transactions[j].CreatedAt)
	})
	return transactions, nil
}

// ApplyDiscount computes the BoomCard discount locally; SumUp checkouts
// carry a single amount with no line items.
func (a *Adapter) ApplyDiscount(ctx context.Context, txID string, percentage float64, cardNumber string) (*gw.Transaction, error) {
	tx, err := a.GetTransaction(ctx, txID)
	if err != nil {
		return nil, err
	}
	tx.Discount = percentage
	tx.DiscountAmount = tx.Amount * percentage / 100
	tx.CardNumber = cardNumber
	return tx, nil
}

func (a *Adapter) GetTransaction(ctx context.Context, txID string) (*gw.Transaction, error) {
	var out checkoutPayload
	if err := a.call(ctx, "sumup.get_checkout", http.MethodGet, "/checkouts/"+txID, nil, &out); err != nil {
		return nil, err
	}
	return toTransaction(&out), nil
}

func (a *Adapter) RefundTransaction(ctx context.Context, txID string, amount *float64) (*gw.Transaction, error) {
	body := map[string]any{}
	if amount != nil {
		body["amount"] = *amount
	}
	if err := a.call(ctx, "sumup.refund", http.MethodPost, "/me/refund/"+txID, body, nil); err != nil {
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
		Resource struct {
			ID string `json:"id"`
		} `json:"resource"`
	}
	if err := json.Unmarshal(event.Payload, &body); err != nil {
		return fmt.Errorf("sumup webhook payload: %w", err)
	}

	switch event.EventType {
	case "checkout.status.updated", "payment.successful", "payment.failed":
		a.log.Info("checkout event applied",
			zap.String("event_type", event.EventType),
			zap.String("resource_id", body.Resource.ID),
		)
		return nil
	default:
		a.log.Info("unhandled event type ignored", zap.String("event_type", event.EventType))
		return nil
	}
}

func toTransaction(p *checkoutPayload) *gw.Transaction {
	ts, _ := time.Parse(time.RFC3339, p.Date)
	return &gw.Transaction{
		ID:       p.ID,
		Provider: ProviderName,
		Amount:   p.Amount,
		Currency: p.Currency,
		Status:   mapStatus(p.Status),
		Metadata: map[string]any{
			"checkout_reference": p.CheckoutReference,
		},
		CreatedAt: ts,
		UpdatedAt: ts,
	}
}

func mapStatus(status string) gw.Status {
	switch status {
	case "PENDING":
		return gw.StatusPending
	case "PAID":
		return gw.StatusSucceeded
	case "FAILED", "CANCELLED":
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
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			a.sessions.Invalidate()
		}
		return err
	}
	return nil
}
