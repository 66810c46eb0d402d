// Package poster implements the POS adapter for Poster, a restaurant and
// cafe POS. Amounts on the wire are in kopecks.
package poster

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	gw "github.com/edoardok-cmd/BoomCard-sub001/internal/gateway/domain"
	"github.com/edoardok-cmd/BoomCard-sub001/internal/httpx"
	"github.com/edoardok-cmd/BoomCard-sub001/internal/money"
	posdomain "github.com/edoardok-cmd/BoomCard-sub001/internal/pos/domain"
	"github.com/edoardok-cmd/BoomCard-sub001/internal/sign"
	"go.uber.org/zap"
)

const ProviderName = "poster"

const (
	productionURL = "https://joinposter.com/api"
	sandboxURL    = "https://demo.joinposter.com/api"
)

type Adapter struct {
	log           *zap.Logger
	http          *httpx.Client
	baseURL       string
	apiKey        string
	webhookSecret string
}

func New(creds gw.Credentials, deps posdomain.Deps) (posdomain.Adapter, error) {
	apiKey := creds.Get("api_key")
	if apiKey == "" {
		return nil, fmt.Errorf("%s: %w: api_key", ProviderName, gw.ErrMissingCredentials)
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
		log:           deps.Log.Named("pos.poster"),
		http:          httpx.New(ProviderName, deps.Timeout),
		baseURL:       strings.TrimRight(baseURL, "/"),
		apiKey:        apiKey,
		webhookSecret: creds.Get("webhook_secret"),
	}, nil
}

func (a *Adapter) Provider() string { return ProviderName }

func (a *Adapter) Initialize(ctx context.Context) error {
	var out struct {
		Response struct {
			Version string `json:"version"`
		} `json:"response"`
	}
	if err := a.get(ctx, "poster.settings", "/settings.getAllSettings", &out); err != nil {
		return err
	}
	a.log.Info("connection verified", zap.String("version", out.Response.Version))
	return nil
}

// txPayload mirrors Poster's transaction shape. Sums are kopeck strings.
type txPayload struct {
	TransactionID json.Number `json:"transaction_id"`
	Sum           string      `json:"sum"`
	TotalSum      string      `json:"total_sum"`
	DiscountSum   string      `json:"discount_sum"`
	LoyaltyCode   string      `json:"loyalty_code"`
	Status        json.Number `json:"status"`
	DateClose     string      `json:"date_close"`
	TableName     string      `json:"table_name"`
	WaiterName    string      `json:"waiter_name"`
	SpotID        json.Number `json:"spot_id"`
}

func (a *Adapter) FetchTransactions(ctx context.Context, start, end time.Time) ([]gw.Transaction, error) {
	query := url.Values{}
	query.Set("dateFrom", start.UTC().Format("2006-01-02"))
	query.Set("dateTo", end.UTC().Format("2006-01-02"))

	var out struct {
		Response []txPayload `json:"response"`
	}
	if err := a.get(ctx, "poster.fetch_transactions", "/dash.getTransactions?"+query.Encode(), &out); err != nil {
		return nil, err
	}

	transactions := make([]gw.Transaction, 0, len(out.Response))
	for i := range out.Response {
		transactions = append(transactions, *a.toTransaction(&out.Response[i]))
	}
	return transactions, nil
}

func (a *Adapter) ApplyDiscount(ctx context.Context, txID string, percentage float64, cardNumber string) (*gw.Transaction, error) {
	body := map[string]any{
		"transaction_id": txID,
		"discount":       percentage,
		"loyalty_code":   cardNumber,
	}
	var out struct {
		Response txPayload `json:"response"`
	}
	if err := a.post(ctx, "poster.apply_discount", "/transactions.changeTransaction", body, &out); err != nil {
		return nil, err
	}
	tx := a.toTransaction(&out.Response)
	tx.CardNumber = cardNumber
	return tx, nil
}

func (a *Adapter) GetTransaction(ctx context.Context, txID string) (*gw.Transaction, error) {
	var out struct {
		Response txPayload `json:"response"`
	}
	if err := a.get(ctx, "poster.get_transaction", "/transactions.getTransaction?transaction_id="+url.QueryEscape(txID), &out); err != nil {
		return nil, err
	}
	return a.toTransaction(&out.Response), nil
}

func (a *Adapter) RefundTransaction(ctx context.Context, txID string, amount *float64) (*gw.Transaction, error) {
	body := map[string]any{
		"transaction_id": txID,
		"remove_payment": true,
	}
	if amount != nil {
		body["return_amount"] = money.ToMinorUnits(*amount, "BGN")
	}
	var out struct {
		Response txPayload `json:"response"`
	}
	if err := a.post(ctx, "poster.refund", "/transactions.removeTransaction", body, &out); err != nil {
		return nil, err
	}
	return a.toTransaction(&out.Response), nil
}

// VerifyWebhook checks the HMAC when a webhook secret is configured.
// Poster's own protocol carries no signature; without a secret every
// delivery is accepted. That policy is per provider, set here.
func (a *Adapter) VerifyWebhook(payload []byte, signature string) bool {
	if a.webhookSecret == "" {
		return true
	}
	if signature == "" {
		return false
	}
	return sign.VerifyHMACSHA256(payload, a.webhookSecret, signature)
}

func (a *Adapter) HandleWebhook(ctx context.Context, event *gw.WebhookEvent) error {
	var body struct {
		Data txPayload `json:"data"`
	}
	if err := json.Unmarshal(event.Payload, &body); err != nil {
		return fmt.Errorf("poster webhook payload: %w", err)
	}

	switch event.EventType {
	case "transaction.created", "transaction.updated", "transaction.refunded":
		a.log.Info("transaction event applied",
			zap.String("event_type", event.EventType),
			zap.String("transaction_id", body.Data.TransactionID.String()),
		)
		return nil
	default:
		a.log.Info("unhandled event type ignored", zap.String("event_type", event.EventType))
		return nil
	}
}

func (a *Adapter) toTransaction(p *txPayload) *gw.Transaction {
	sum := p.Sum
	if sum == "" {
		sum = p.TotalSum
	}
	amount := money.FromMinorUnits(parseKopecks(sum), "BGN")
	discountAmount := money.FromMinorUnits(parseKopecks(p.DiscountSum), "BGN")
	var discount float64
	if amount > 0 {
		discount = discountAmount / amount * 100
	}

	var closed time.Time
	if p.DateClose != "" {
		if parsed, err := time.Parse("2006-01-02 15:04:05", p.DateClose); err == nil {
			closed = parsed
		}
	}

	return &gw.Transaction{
		ID:             p.TransactionID.String(),
		Provider:       ProviderName,
		Amount:         amount,
		Currency:       "BGN",
		Status:         mapStatus(p.Status.String()),
		Discount:       discount,
		DiscountAmount: discountAmount,
		CardNumber:     p.LoyaltyCode,
		Metadata: map[string]any{
			"table":   p.TableName,
			"waiter":  p.WaiterName,
			"spot_id": p.SpotID.String(),
		},
		CreatedAt: closed,
		UpdatedAt: closed,
	}
}

// mapStatus is total over Poster's numeric status codes.
func mapStatus(status string) gw.Status {
	switch status {
	case "0":
		return gw.StatusPending
	case "1", "2":
		return gw.StatusSucceeded
	case "3":
		return gw.StatusRefunded
	default:
		return gw.StatusFailed
	}
}

func parseKopecks(value string) int64 {
	if value == "" {
		return 0
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0
	}
	return int64(parsed)
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
	header.Set("Authorization", "Bearer "+a.apiKey)
	return header
}
