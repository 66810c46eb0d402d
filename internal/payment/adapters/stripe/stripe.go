// Package stripe implements the payment adapter for Stripe's JSON API.
package stripe

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	gw "github.com/edoardok-cmd/BoomCard-sub001/internal/gateway/domain"
	"github.com/edoardok-cmd/BoomCard-sub001/internal/httpx"
	"github.com/edoardok-cmd/BoomCard-sub001/internal/money"
	paymentdomain "github.com/edoardok-cmd/BoomCard-sub001/internal/payment/domain"
	"github.com/edoardok-cmd/BoomCard-sub001/internal/sign"
	"go.uber.org/zap"
)

const ProviderName = "stripe"

const defaultBaseURL = "https://api.stripe.com/v1"

type Adapter struct {
	log           *zap.Logger
	http          *httpx.Client
	baseURL       string
	secretKey     string
	webhookSecret string
}

// New validates the credential bag and builds the adapter. base_url is
// honored for test and sandbox endpoints.
func New(creds gw.Credentials, deps paymentdomain.Deps) (paymentdomain.Adapter, error) {
	secretKey := creds.Get("secret_key")
	if secretKey == "" {
		return nil, fmt.Errorf("%s: %w: secret_key", ProviderName, gw.ErrMissingCredentials)
	}

	baseURL := creds.Get("base_url")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	return &Adapter{
		log:           deps.Log.Named("payment.stripe"),
		http:          httpx.New(ProviderName, deps.Timeout),
		baseURL:       strings.TrimRight(baseURL, "/"),
		secretKey:     secretKey,
		webhookSecret: creds.Get("webhook_secret"),
	}, nil
}

func (a *Adapter) Provider() string { return ProviderName }

func (a *Adapter) Initialize(ctx context.Context) error {
	var out struct {
		ID string `json:"id"`
	}
	if _, err := a.get(ctx, "stripe.account", "/account", &out); err != nil {
		return err
	}
	a.log.Info("connection verified", zap.String("account", out.ID))
	return nil
}

type intentPayload struct {
	ID       string         `json:"id"`
	Amount   int64          `json:"amount"`
	Currency string         `json:"currency"`
	Status   string         `json:"status"`
	Customer string         `json:"customer"`
	Metadata map[string]any `json:"metadata"`
	Created  int64          `json:"created"`
}

func (a *Adapter) CreatePaymentIntent(ctx context.Context, req paymentdomain.IntentRequest) (*gw.Transaction, error) {
	body := map[string]any{
		"amount":   money.ToMinorUnits(req.Amount, req.Currency),
		"currency": strings.ToLower(req.Currency),
	}
	if req.CustomerRef != "" {
		body["customer"] = req.CustomerRef
	}
	if req.Description != "" {
		body["description"] = req.Description
	}
	if len(req.Metadata) > 0 {
		body["metadata"] = req.Metadata
	}

	var out intentPayload
	if _, err := a.post(ctx, "stripe.create_intent", "/payment_intents", body, &out); err != nil {
		return nil, err
	}
	return a.toTransaction(&out), nil
}

func (a *Adapter) ConfirmPayment(ctx context.Context, intentID, methodRef string) (*gw.Result, error) {
	body := map[string]any{}
	if methodRef != "" {
		body["payment_method"] = methodRef
	}

	var out intentPayload
	if _, err := a.post(ctx, "stripe.confirm", "/payment_intents/"+intentID+"/confirm", body, &out); err != nil {
		return nil, err
	}

	status := mapStatus(out.Status)
	return &gw.Result{
		Success:  status == gw.StatusSucceeded || status == gw.StatusProcessing,
		IntentID: out.ID,
		Metadata: map[string]any{"status": string(status)},
	}, nil
}

func (a *Adapter) Refund(ctx context.Context, intentID string, amount *float64, reason string) (*gw.RefundResult, error) {
	tx, err := a.GetTransaction(ctx, intentID)
	if err != nil {
		return nil, err
	}

	body := map[string]any{"payment_intent": intentID}
	refunded := tx.Amount
	if amount != nil {
		body["amount"] = money.ToMinorUnits(*amount, tx.Currency)
		refunded = *amount
	}
	if reason != "" {
		body["reason"] = reason
	}

	var out struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if _, err := a.post(ctx, "stripe.refund", "/refunds", body, &out); err != nil {
		return nil, err
	}
	return &gw.RefundResult{
		Success:  out.Status == "succeeded" || out.Status == "pending",
		RefundID: out.ID,
		Amount:   refunded,
	}, nil
}

func (a *Adapter) GetStatus(ctx context.Context, intentID string) (gw.Status, error) {
	tx, err := a.GetTransaction(ctx, intentID)
	if err != nil {
		return "", err
	}
	return tx.Status, nil
}

func (a *Adapter) GetTransaction(ctx context.Context, intentID string) (*gw.Transaction, error) {
	var out intentPayload
	if _, err := a.get(ctx, "stripe.get_intent", "/payment_intents/"+intentID, &out); err != nil {
		return nil, err
	}
	return a.toTransaction(&out), nil
}

func (a *Adapter) CreateCustomer(ctx context.Context, email, name string, metadata map[string]any) (string, error) {
	body := map[string]any{"email": email}
	if name != "" {
		body["name"] = name
	}
	if len(metadata) > 0 {
		body["metadata"] = metadata
	}

	var out struct {
		ID string `json:"id"`
	}
	if _, err := a.post(ctx, "stripe.create_customer", "/customers", body, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

func (a *Adapter) VerifyWebhook(payload []byte, signature string) bool {
	if a.webhookSecret == "" || signature == "" {
		return false
	}
	return sign.VerifyHMACSHA256(payload, a.webhookSecret, signature)
}

func (a *Adapter) HandleWebhook(ctx context.Context, event *gw.WebhookEvent) error {
	switch event.EventType {
	case "payment_intent.succeeded", "payment_intent.payment_failed",
		"invoice.paid", "invoice.payment_failed":
		var body struct {
			Data struct {
				Object struct {
					ID string `json:"id"`
				} `json:"object"`
			} `json:"data"`
		}
		if err := json.Unmarshal(event.Payload, &body); err != nil {
			return fmt.Errorf("stripe webhook payload: %w", err)
		}
		a.log.Info("payment event applied",
			zap.String("event_type", event.EventType),
			zap.String("object_id", body.Data.Object.ID),
		)
		return nil
	default:
		if strings.HasPrefix(event.EventType, "customer.subscription.") {
			a.log.Info("subscription event ignored", zap.String("event_type", event.EventType))
			return nil
		}
		a.log.Info("unhandled event type ignored", zap.String("event_type", event.EventType))
		return nil
	}
}

func (a *Adapter) toTransaction(p *intentPayload) *gw.Transaction {
	created := time.Unix(p.Created, 0).UTC()
	return &gw.Transaction{
		ID:          p.ID,
		Provider:    ProviderName,
		Amount:      money.FromMinorUnits(p.Amount, p.Currency),
		Currency:    strings.ToUpper(p.Currency),
		Status:      mapStatus(p.Status),
		CustomerRef: p.Customer,
		Metadata:    p.Metadata,
		CreatedAt:   created,
		UpdatedAt:   created,
	}
}

// mapStatus is total: every provider status, known or not, lands on a
// canonical value. Unknown statuses are treated as still in progress.
func mapStatus(status string) gw.Status {
	switch status {
	case "succeeded":
		return gw.StatusSucceeded
	case "processing":
		return gw.StatusProcessing
	case "canceled":
		return gw.StatusCanceled
	case "requires_payment_method", "requires_confirmation", "requires_action", "requires_capture":
		return gw.StatusPending
	case "failed":
		return gw.StatusFailed
	default:
		return gw.StatusPending
	}
}

func (a *Adapter) get(ctx context.Context, operation, path string, out any) (*httpx.Response, error) {
	return a.call(ctx, operation, http.MethodGet, path, nil, out)
}

func (a *Adapter) post(ctx context.Context, operation, path string, in, out any) (*httpx.Response, error) {
	return a.call(ctx, operation, http.MethodPost, path, in, out)
}

func (a *Adapter) call(ctx context.Context, operation, method, path string, in, out any) (*httpx.Response, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+a.secretKey)

	resp, err := a.http.JSON(ctx, operation, method, a.baseURL+path, header, in, out)
	if err != nil {
		return resp, a.promote(resp, err)
	}
	return resp, nil
}

// promote lifts provider-declared failures out of the transport bucket:
// a 4xx with a decoded error body is a decline, not a retryable fault.
func (a *Adapter) promote(resp *httpx.Response, err error) error {
	if resp == nil || resp.StatusCode < 400 || resp.StatusCode >= 500 {
		return err
	}
	var body struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if jsonErr := json.Unmarshal(resp.Body, &body); jsonErr != nil || body.Error.Message == "" {
		return err
	}
	return &gw.ProviderError{Provider: ProviderName, Code: body.Error.Code, Message: body.Error.Message}
}
