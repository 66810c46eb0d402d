// Package barsy implements the POS adapter for Barsy, used by Bulgarian
// cafes, bars and retail stores.
package barsy

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	gw "github.com/edoardok-cmd/BoomCard-sub001/internal/gateway/domain"
	"github.com/edoardok-cmd/BoomCard-sub001/internal/httpx"
	posdomain "github.com/edoardok-cmd/BoomCard-sub001/internal/pos/domain"
	"github.com/edoardok-cmd/BoomCard-sub001/internal/sign"
	"go.uber.org/zap"
)

const ProviderName = "barsy"

const (
	productionURL = "https://api.barsy.bg/v1"
	sandboxURL    = "https://sandbox-api.barsy.bg/v1"
)

type Adapter struct {
	log           *zap.Logger
	http          *httpx.Client
	baseURL       string
	apiKey        string
	merchantID    string
	webhookSecret string
}

func New(creds gw.Credentials, deps posdomain.Deps) (posdomain.Adapter, error) {
	apiKey := creds.Get("api_key")
	merchantID := creds.Get("merchant_id")
	if apiKey == "" || merchantID == "" {
		return nil, fmt.Errorf("%s: %w: api_key, merchant_id", ProviderName, gw.ErrMissingCredentials)
	}

	baseURL := creds.Get("base_url")
	if baseURL == "" {
		if creds.IsProduction() {
			baseURL = productionURL
		} else {
			baseURL = sandboxURL
		}
	}

	return &Adapter{
		log:           deps.Log.Named("pos.barsy"),
		http:          httpx.New(ProviderName, deps.Timeout),
		baseURL:       strings.TrimRight(baseURL, "/"),
		apiKey:        apiKey,
		merchantID:    merchantID,
		webhookSecret: creds.Get("webhook_secret"),
	}, nil
}

func (a *Adapter) Provider() string { return ProviderName }

func (a *Adapter) Initialize(ctx context.Context) error {
	var out struct {
		Version string `json:"version"`
	}
	if err := a.get(ctx, "barsy.health", "/health", &out); err != nil {
		return err
	}
	a.log.Info("connection verified", zap.String("version", out.Version))
	return nil
}

type txPayload struct {
	ID                 string         `json:"id"`
	TransactionID      string         `json:"transaction_id"`
	Amount             float64        `json:"amount"`
	Currency           string         `json:"currency"`
	Status             string         `json:"status"`
	DiscountPercentage float64        `json:"discount_percentage"`
	DiscountAmount     float64        `json:"discount_amount"`
	CreatedAt          time.Time      `json:"created_at"`
	Metadata           map[string]any `json:"metadata"`
}

func (a *Adapter) FetchTransactions(ctx context.Context, start, end time.Time) ([]gw.Transaction, error) {
	query := url.Values{}
	query.Set("start", start.UTC().Format(time.RFC3339))
	query.Set("end", end.UTC().Format(time.RFC3339))

	var out struct {
		Transactions []txPayload `json:"transactions"`
	}
	if err := a.get(ctx, "barsy.fetch_transactions", "/transactions?"+query.Encode(), &out); err != nil {
		return nil, err
	}

	transactions := make([]gw.Transaction, 0, len(out.Transactions))
	for i := range out.Transactions {
		transactions = append(transactions, *a.toTransaction(&out.Transactions[i]))
	}
	return transactions, nil
}

func (a *Adapter) ApplyDiscount(ctx context.Context, txID string, percentage float64, cardNumber string) (*gw.Transaction, error) {
	body := map[string]any{
		"discountPercentage": percentage,
		"metadata": map[string]any{
			"boomCardNumber": cardNumber,
			"merchantId":     a.merchantID,
		},
	}
	var out txPayload
	if err := a.post(ctx, "barsy.apply_discount", "/transactions/"+txID+"/discount", body, &out); err != nil {
		return nil, err
	}
	tx := a.toTransaction(&out)
	tx.CardNumber = cardNumber
	return tx, nil
}

func (a *Adapter) GetTransaction(ctx context.Context, txID string) (*gw.Transaction, error) {
	var out txPayload
	if err := a.get(ctx, "barsy.get_transaction", "/transactions/"+txID, &out); err != nil {
		return nil, err
	}
	return a.toTransaction(&out), nil
}

func (a *Adapter) RefundTransaction(ctx context.Context, txID string, amount *float64) (*gw.Transaction, error) {
	body := map[string]any{}
	if amount != nil {
		body["amount"] = *amount
	}
	var out txPayload
	if err := a.post(ctx, "barsy.refund", "/transactions/"+txID+"/refund", body, &out); err != nil {
		return nil, err
	}
	return a.toTransaction(&out), nil
}

func (a *Adapter) VerifyWebhook(payload []byte, signature string) bool {
	if a.webhookSecret == "" || signature == "" {
		return false
	}
	return sign.VerifyHMACSHA256(payload, a.webhookSecret, signature)
}

func (a *Adapter) HandleWebhook(ctx context.Context, event *gw.WebhookEvent) error {
	var body struct {
		Data txPayload `json:"data"`
	}
	if err := json.Unmarshal(event.Payload, &body); err != nil {
		return fmt.Errorf("barsy webhook payload: %w", err)
	}

	switch event.EventType {
	case "transaction.created", "transaction.updated", "transaction.refunded":
		a.log.Info("transaction event applied",
			zap.String("event_type", event.EventType),
			zap.String("transaction_id", body.Data.ID),
		)
		return nil
	default:
		a.log.Info("unhandled event type ignored", zap.String("event_type", event.EventType))
		return nil
	}
}

func (a *Adapter) toTransaction(p *txPayload) *gw.Transaction {
	id := p.ID
	if id == "" {
		id = p.TransactionID
	}
	currency := p.Currency
	if currency == "" {
		currency = "BGN"
	}
	var cardNumber string
	if card, ok := p.Metadata["boomCardNumber"].(string); ok {
		cardNumber = card
	}
	return &gw.Transaction{
		ID:             id,
		Provider:       ProviderName,
		Amount:         p.Amount,
		Currency:       currency,
		Status:         mapStatus(p.Status),
		Discount:       p.DiscountPercentage,
		DiscountAmount: p.DiscountAmount,
		CardNumber:     cardNumber,
		Metadata:       p.Metadata,
		CreatedAt:      p.CreatedAt,
		UpdatedAt:      p.CreatedAt,
	}
}

func mapStatus(status string) gw.Status {
	switch strings.ToLower(status) {
	case "completed", "success":
		return gw.StatusSucceeded
	case "failed", "error":
		return gw.StatusFailed
	case "refunded", "cancelled":
		return gw.StatusRefunded
	case "pending":
		return gw.StatusPending
	default:
		return gw.StatusPending
	}
}

func (a *Adapter) get(ctx context.Context, operation, path string, out any) error {
	_, err := a.http.JSON(ctx, operation, http.MethodGet, a.baseURL+path, a.headers(), nil, out)
	return err
}

func (a *Adapter) post(ctx context.Context, operation, path string, in, out any) error {
	_, err := a.http.JSON(ctx, operation, http.MethodPost, a.baseURL+path, a.headers(), in, out)
	return err
}

func (a *Adapter) headers() http.Header {
	header := http.Header{}
	header.Set("X-API-Key", a.apiKey)
	header.Set("X-Merchant-ID", a.merchantID)
	return header
}
