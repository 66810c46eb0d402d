// Package epay implements the payment adapter for ePay.bg, a form-encoded
// gateway authenticated with an MD5 checksum over request values.
package epay

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	gw "github.com/edoardok-cmd/BoomCard-sub001/internal/gateway/domain"
	"github.com/edoardok-cmd/BoomCard-sub001/internal/httpx"
	"github.com/edoardok-cmd/BoomCard-sub001/internal/money"
	paymentdomain "github.com/edoardok-cmd/BoomCard-sub001/internal/payment/domain"
	"github.com/edoardok-cmd/BoomCard-sub001/internal/sign"
	"go.uber.org/zap"
)

const ProviderName = "epay"

const (
	productionURL = "https://www.epay.bg"
	sandboxURL    = "https://demo.epay.bg"
)

type Adapter struct {
	log        *zap.Logger
	http       *httpx.Client
	genID      *snowflake.Node
	baseURL    string
	merchantID string
	secretKey  string
}

func New(creds gw.Credentials, deps paymentdomain.Deps) (paymentdomain.Adapter, error) {
	merchantID := creds.Get("merchant_id")
	secretKey := creds.Get("secret_key")
	if merchantID == "" || secretKey == "" {
		return nil, fmt.Errorf("%s: %w: merchant_id, secret_key", ProviderName, gw.ErrMissingCredentials)
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
		log:        deps.Log.Named("payment.epay"),
		http:       httpx.New(ProviderName, deps.Timeout),
		genID:      deps.GenID,
		baseURL:    strings.TrimRight(baseURL, "/"),
		merchantID: merchantID,
		secretKey:  secretKey,
	}, nil
}

func (a *Adapter) Provider() string { return ProviderName }

// Initialize validates the bound credentials. ePay has no probe endpoint;
// the first real request is the connectivity check.
func (a *Adapter) Initialize(ctx context.Context) error {
	if a.merchantID == "" || a.secretKey == "" {
		return fmt.Errorf("%s: %w", ProviderName, gw.ErrMissingCredentials)
	}
	return nil
}

// CreatePaymentIntent builds a hosted-payment invoice locally. The customer
// completes payment on ePay's page; the outcome arrives via webhook.
func (a *Adapter) CreatePaymentIntent(ctx context.Context, req paymentdomain.IntentRequest) (*gw.Transaction, error) {
	invoice := fmt.Sprintf("INV-%d", a.genID.Generate())
	description := req.Description
	if description == "" {
		description = "BoomCard Payment"
	}

	params := map[string]string{
		"MIN":      a.merchantID,
		"INVOICE":  invoice,
		"AMOUNT":   money.FormatDecimal(req.Amount, req.Currency),
		"CURRENCY": strings.ToUpper(req.Currency),
		"DESCR":    description,
		"ENCODING": "UTF-8",
	}
	checksum := sign.Checksum(params, a.secretKey)

	now := time.Now().UTC()
	return &gw.Transaction{
		ID:          invoice,
		Provider:    ProviderName,
		Amount:      req.Amount,
		Currency:    strings.ToUpper(req.Currency),
		Status:      gw.StatusPending,
		CustomerRef: req.CustomerRef,
		Metadata: map[string]any{
			"checksum":    checksum,
			"payment_url": a.baseURL + "/ezp/reg_bill.cgi",
		},
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// ConfirmPayment polls the invoice status. ePay confirms via customer
// redirect, so this reports where the invoice currently stands.
func (a *Adapter) ConfirmPayment(ctx context.Context, intentID, methodRef string) (*gw.Result, error) {
	status, err := a.GetStatus(ctx, intentID)
	if err != nil {
		return nil, err
	}
	return &gw.Result{
		Success:  status == gw.StatusSucceeded,
		IntentID: intentID,
		Metadata: map[string]any{"status": string(status)},
	}, nil
}

func (a *Adapter) Refund(ctx context.Context, intentID string, amount *float64, reason string) (*gw.RefundResult, error) {
	params := map[string]string{
		"MIN":     a.merchantID,
		"INVOICE": intentID,
	}
	var refunded float64
	if amount != nil {
		params["AMOUNT"] = money.FormatDecimal(*amount, "BGN")
		refunded = *amount
	}

	values := url.Values{}
	for key, value := range params {
		values.Set(key, value)
	}
	values.Set("CHECKSUM", sign.Checksum(params, a.secretKey))

	resp, err := a.http.Form(ctx, "epay.refund", a.baseURL+"/api/refund", values)
	if err != nil {
		return nil, err
	}

	ok := strings.Contains(resp.Text(), "OK")
	result := &gw.RefundResult{Success: ok, RefundID: intentID, Amount: refunded}
	if !ok {
		result.Error = "refund rejected"
	}
	return result, nil
}

func (a *Adapter) GetStatus(ctx context.Context, intentID string) (gw.Status, error) {
	params := map[string]string{
		"MIN":     a.merchantID,
		"INVOICE": intentID,
	}
	values := url.Values{}
	for key, value := range params {
		values.Set(key, value)
	}
	values.Set("CHECKSUM", sign.Checksum(params, a.secretKey))

	resp, err := a.http.Form(ctx, "epay.status", a.baseURL+"/api/status", values)
	if err != nil {
		return "", err
	}
	return statusFromBody(resp.Text()), nil
}

func (a *Adapter) GetTransaction(ctx context.Context, intentID string) (*gw.Transaction, error) {
	status, err := a.GetStatus(ctx, intentID)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	return &gw.Transaction{
		ID:        intentID,
		Provider:  ProviderName,
		Currency:  "BGN",
		Status:    status,
		UpdatedAt: now,
	}, nil
}

// CreateCustomer mints a gateway-local reference. ePay has no customer
// objects.
func (a *Adapter) CreateCustomer(ctx context.Context, email, name string, metadata map[string]any) (string, error) {
	buf := make([]byte, 12)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return "cust_" + hex.EncodeToString(buf), nil
}

// VerifyWebhook recomputes the checksum over every notification field except
// CHECKSUM itself.
func (a *Adapter) VerifyWebhook(payload []byte, signature string) bool {
	values, err := url.ParseQuery(string(payload))
	if err != nil {
		return false
	}
	supplied := values.Get("CHECKSUM")
	if supplied == "" {
		supplied = signature
	}
	if supplied == "" {
		return false
	}

	params := make(map[string]string, len(values))
	for key := range values {
		if key == "CHECKSUM" {
			continue
		}
		params[key] = values.Get(key)
	}
	return sign.VerifyChecksum(params, a.secretKey, supplied)
}

func (a *Adapter) HandleWebhook(ctx context.Context, event *gw.WebhookEvent) error {
	values, err := url.ParseQuery(string(event.Payload))
	if err != nil {
		return fmt.Errorf("epay webhook payload: %w", err)
	}
	invoice := values.Get("INVOICE")

	switch values.Get("STATUS") {
	case "PAID":
		a.log.Info("payment succeeded", zap.String("invoice", invoice))
	case "DENIED":
		a.log.Info("payment denied", zap.String("invoice", invoice))
	case "EXPIRED":
		a.log.Info("payment expired", zap.String("invoice", invoice))
	default:
		a.log.Info("unhandled notification ignored", zap.String("status", values.Get("STATUS")))
	}
	return nil
}

func statusFromBody(body string) gw.Status {
	switch {
	case strings.Contains(body, "PAID"):
		return gw.StatusSucceeded
	case strings.Contains(body, "DENIED"):
		return gw.StatusFailed
	case strings.Contains(body, "EXPIRED"):
		return gw.StatusCanceled
	default:
		return gw.StatusPending
	}
}
