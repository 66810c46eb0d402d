package stripe

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	gw "github.com/edoardok-cmd/BoomCard-sub001/internal/gateway/domain"
	paymentdomain "github.com/edoardok-cmd/BoomCard-sub001/internal/payment/domain"
	"github.com/edoardok-cmd/BoomCard-sub001/internal/sign"
	"go.uber.org/zap/zaptest"
)

func newTestAdapter(t *testing.T, baseURL string) paymentdomain.Adapter {
	t.Helper()
	adapter, err := New(gw.Credentials{
		"secret_key":     "sk_test_123",
		"webhook_secret": "whsec_test",
		"base_url":       baseURL,
	}, paymentdomain.Deps{Log: zaptest.NewLogger(t), Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	return adapter
}

func TestNewRequiresSecretKey(t *testing.T) {
	_, err := New(gw.Credentials{}, paymentdomain.Deps{Log: zaptest.NewLogger(t)})
	if err == nil {
		t.Fatal("expected missing credential error")
	}
}

func TestCreatePaymentIntentConvertsToMinorUnits(t *testing.T) {
	var gotAuth string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/payment_intents" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"id":       "pi_123",
			"amount":   1250,
			"currency": "bgn",
			"status":   "requires_payment_method",
			"created":  1700000000,
		})
	}))
	defer srv.Close()

	adapter := newTestAdapter(t, srv.URL)
	tx, err := adapter.CreatePaymentIntent(context.Background(), paymentdomain.IntentRequest{
		Amount:   12.50,
		Currency: "BGN",
	})
	if err != nil {
		t.Fatalf("create intent: %v", err)
	}

	if gotAuth != "Bearer sk_test_123" {
		t.Fatalf("unexpected auth header %q", gotAuth)
	}
	if got := gotBody["amount"].(float64); got != 1250 {
		t.Fatalf("amount not converted to minor units: %v", got)
	}
	if tx.ID != "pi_123" || tx.Status != gw.StatusPending {
		t.Fatalf("unexpected transaction: %+v", tx)
	}
	if tx.Amount != 12.50 || tx.Currency != "BGN" {
		t.Fatalf("amount not converted back to major units: %+v", tx)
	}
}

func TestStatusMappingIsTotal(t *testing.T) {
	cases := map[string]gw.Status{
		"succeeded":               gw.StatusSucceeded,
		"processing":              gw.StatusProcessing,
		"canceled":                gw.StatusCanceled,
		"requires_payment_method": gw.StatusPending,
		"requires_confirmation":   gw.StatusPending,
		"requires_action":         gw.StatusPending,
		"requires_capture":        gw.StatusPending,
		"failed":                  gw.StatusFailed,
		"some_future_status":      gw.StatusPending,
		"":                        gw.StatusPending,
	}
	for in, want := range cases {
		if got := mapStatus(in); got != want {
			t.Errorf("mapStatus(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestDeclinePromotedToProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"code": "card_declined", "message": "Your card was declined."},
		})
	}))
	defer srv.Close()

	adapter := newTestAdapter(t, srv.URL)
	_, err := adapter.ConfirmPayment(context.Background(), "pi_123", "pm_456")
	if !gw.IsProviderDeclined(err) {
		t.Fatalf("expected provider decline, got %v", err)
	}
	if gw.IsTransport(err) {
		t.Fatal("decline must not be classified as transport")
	}
}

func TestServerErrorStaysTransport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	adapter := newTestAdapter(t, srv.URL)
	_, err := adapter.GetStatus(context.Background(), "pi_123")
	if !gw.IsTransport(err) {
		t.Fatalf("expected transport error, got %v", err)
	}
}

func TestVerifyWebhook(t *testing.T) {
	adapter := newTestAdapter(t, "http://unused")
	payload := []byte(`{"type":"payment_intent.succeeded"}`)
	good := sign.HMACSHA256Hex(payload, "whsec_test")

	if !adapter.VerifyWebhook(payload, good) {
		t.Fatal("valid signature rejected")
	}
	if adapter.VerifyWebhook(payload, "deadbeef") {
		t.Fatal("invalid signature accepted")
	}
	if adapter.VerifyWebhook(payload, "") {
		t.Fatal("empty signature accepted")
	}
}

func TestHandleWebhookIgnoresUnknownTypes(t *testing.T) {
	adapter := newTestAdapter(t, "http://unused")
	for _, eventType := range []string{"customer.subscription.updated", "charge.disputed", "whatever.new"} {
		err := adapter.HandleWebhook(context.Background(), &gw.WebhookEvent{
			Provider:  ProviderName,
			EventType: eventType,
			Payload:   []byte(`{}`),
		})
		if err != nil {
			t.Fatalf("unknown type %q must be ignored, got %v", eventType, err)
		}
	}
}
