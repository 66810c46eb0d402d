// Package mypos implements the POS adapter for the myPOS IPC checkout
// protocol. Requests are form-encoded and RSA-SHA256 signed with the
// integrator's private key; responses and webhooks carry the provider's
// signature, verified with its public key.
package mypos

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	gw "github.com/edoardok-cmd/BoomCard-sub001/internal/gateway/domain"
	"github.com/edoardok-cmd/BoomCard-sub001/internal/httpx"
	posdomain "github.com/edoardok-cmd/BoomCard-sub001/internal/pos/domain"
	"github.com/edoardok-cmd/BoomCard-sub001/internal/sign"
	"go.uber.org/zap"
)

const ProviderName = "mypos"

const (
	productionURL = "https://www.mypos.com/vmp/checkout"
	sandboxURL    = "https://www.mypos.com/vmp/checkout-test"
)

const ipcVersion = "1.4"

type Adapter struct {
	log          *zap.Logger
	http         *httpx.Client
	baseURL      string
	storeID      string
	walletNumber string
	keyIndex     string
	privateKey   string
	publicKey    string
}

func New(creds gw.Credentials, deps posdomain.Deps) (posdomain.Adapter, error) {
	storeID := creds.Get("sid")
	walletNumber := creds.Get("wallet_number")
	privateKey := creds.Get("private_key")
	publicKey := creds.Get("public_key")
	if storeID == "" || walletNumber == "" || privateKey == "" || publicKey == "" {
		return nil, fmt.Errorf("%s: %w: sid, wallet_number, private_key, public_key", ProviderName, gw.ErrMissingCredentials)
	}

	keyIndex := creds.Get("key_index")
	if keyIndex == "" {
		keyIndex = "1"
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
		log:          deps.Log.Named("pos.mypos"),
		http:         httpx.New(ProviderName, deps.Timeout),
		baseURL:      strings.TrimRight(baseURL, "/"),
		storeID:      storeID,
		walletNumber: walletNumber,
		keyIndex:     keyIndex,
		privateKey:   privateKey,
		publicKey:    publicKey,
	}, nil
}

func (a *Adapter) Provider() string { return ProviderName }

func (a *Adapter) Initialize(ctx context.Context) error {
	params := a.baseParams("IPCGetPaymentMethods")
	if _, err := a.send(ctx, "mypos.payment_methods", params); err != nil {
		return err
	}
	a.log.Info("connection verified")
	return nil
}

// FetchTransactions is not available: the IPC protocol has no bulk history
// query. Transactions are accumulated from webhooks instead.
func (a *Adapter) FetchTransactions(ctx context.Context, start, end time.Time) ([]gw.Transaction, error) {
	return nil, fmt.Errorf("%s: fetch transactions: %w", ProviderName, gw.ErrUnsupported)
}

// ApplyDiscount computes the BoomCard discount locally; myPOS is a payment
// terminal with no line-item model to push the discount into.
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

type statusPayload struct {
	IPCmethod        string `json:"IPCmethod"`
	OrderID          string `json:"OrderID"`
	IPCTransactionID string `json:"IPCTransactionID"`
	Amount           string `json:"Amount"`
	Currency         string `json:"Currency"`
	Status           string `json:"Status"`
	StatusMsg        string `json:"StatusMsg"`
	Signature        string `json:"Signature"`
}

func (a *Adapter) GetTransaction(ctx context.Context, txID string) (*gw.Transaction, error) {
	params := a.baseParams("IPCGetTransactionStatus")
	params["OrderID"] = txID

	body, err := a.send(ctx, "mypos.transaction_status", params)
	if err != nil {
		return nil, err
	}

	var out statusPayload
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, &gw.TransportError{Provider: ProviderName, Operation: "mypos.transaction_status", Err: err}
	}
	if !a.verifyResponse(&out) {
		return nil, fmt.Errorf("%s: response signature: %w", ProviderName, gw.ErrVerificationFailed)
	}
	return toTransaction(&out), nil
}

func (a *Adapter) RefundTransaction(ctx context.Context, txID string, amount *float64) (*gw.Transaction, error) {
	params := a.baseParams("IPCRefund")
	params["OrderID"] = txID
	if amount != nil {
		params["Amount"] = fmt.Sprintf("%.2f", *amount)
	}

	if _, err := a.send(ctx, "mypos.refund", params); err != nil {
		return nil, err
	}
	return a.GetTransaction(ctx, txID)
}

// VerifyWebhook checks the provider's RSA signature over the notification
// values. The signature rides in the payload itself or in the header.
func (a *Adapter) VerifyWebhook(payload []byte, signature string) bool {
	var body map[string]any
	if err := json.Unmarshal(payload, &body); err != nil {
		return false
	}

	supplied := signature
	if raw, ok := body["Signature"].(string); ok && raw != "" {
		supplied = raw
	}
	if supplied == "" {
		return false
	}

	params := make(map[string]string, len(body))
	for key, value := range body {
		if key == "Signature" {
			continue
		}
		params[key] = fmt.Sprint(value)
	}
	return sign.RSAVerify(params, a.publicKey, supplied) == nil
}

func (a *Adapter) HandleWebhook(ctx context.Context, event *gw.WebhookEvent) error {
	var body statusPayload
	if err := json.Unmarshal(event.Payload, &body); err != nil {
		return fmt.Errorf("mypos webhook payload: %w", err)
	}

	switch body.IPCmethod {
	case "IPCPurchaseNotify", "IPCPurchase", "IPCRefund":
		a.log.Info("notification applied",
			zap.String("ipc_method", body.IPCmethod),
			zap.String("order_id", body.OrderID),
			zap.String("status", body.Status),
		)
		return nil
	default:
		a.log.Info("unhandled notification ignored", zap.String("ipc_method", body.IPCmethod))
		return nil
	}
}

func toTransaction(p *statusPayload) *gw.Transaction {
	var amount float64
	fmt.Sscanf(p.Amount, "%f", &amount)

	currency := p.Currency
	if currency == "" {
		currency = "EUR"
	}
	now := time.Now().UTC()
	return &gw.Transaction{
		ID:       p.OrderID,
		Provider: ProviderName,
		Amount:   amount,
		Currency: currency,
		Status:   mapStatus(p.Status),
		Metadata: map[string]any{
			"ipc_transaction_id": p.IPCTransactionID,
			"status_message":     p.StatusMsg,
		},
		UpdatedAt: now,
	}
}

// mapStatus is total over the IPC numeric codes: 0 Denied, 1 Approved,
// 2 Cancelled, 3 Refunded.
func mapStatus(status string) gw.Status {
	switch status {
	case "1":
		return gw.StatusSucceeded
	case "0", "2":
		return gw.StatusFailed
	case "3":
		return gw.StatusRefunded
	default:
		return gw.StatusPending
	}
}

func (a *Adapter) baseParams(method string) map[string]string {
	return map[string]string{
		"IPCmethod":    method,
		"IPCversion":   ipcVersion,
		"SID":          a.storeID,
		"WalletNumber": a.walletNumber,
	}
}

func (a *Adapter) send(ctx context.Context, operation string, params map[string]string) ([]byte, error) {
	signature, err := sign.RSASign(params, a.privateKey)
	if err != nil {
		return nil, err
	}

	values := url.Values{}
	for key, value := range params {
		values.Set(key, value)
	}
	values.Set("Signature", signature)
	values.Set("KeyIndex", a.keyIndex)

	resp, err := a.http.Form(ctx, operation, a.baseURL, values)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

func (a *Adapter) verifyResponse(p *statusPayload) bool {
	if p.Signature == "" {
		return false
	}
	params := map[string]string{
		"IPCmethod":        p.IPCmethod,
		"OrderID":          p.OrderID,
		"IPCTransactionID": p.IPCTransactionID,
		"Amount":           p.Amount,
		"Currency":         p.Currency,
		"Status":           p.Status,
		"StatusMsg":        p.StatusMsg,
	}
	for key, value := range params {
		if value == "" {
			delete(params, key)
		}
	}
	return sign.RSAVerify(params, a.publicKey, p.Signature) == nil
}
