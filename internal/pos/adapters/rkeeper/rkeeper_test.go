package rkeeper

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	gw "github.com/edoardok-cmd/BoomCard-sub001/internal/gateway/domain"
	posdomain "github.com/edoardok-cmd/BoomCard-sub001/internal/pos/domain"
	"github.com/edoardok-cmd/BoomCard-sub001/internal/sign"
	"go.uber.org/zap/zaptest"
)

func newTestAdapter(t *testing.T, baseURL string) posdomain.Adapter {
	t.Helper()
	adapter, err := New(gw.Credentials{
		"base_url":       baseURL,
		"station_id":     "ST01",
		"cashier_id":     "C42",
		"password":       "pw",
		"webhook_secret": "whsec",
	}, posdomain.Deps{Log: zaptest.NewLogger(t), Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	return adapter
}

// rk7Stub answers CreateSession and GetCheck, counting sessions.
func rk7Stub(t *testing.T, sessions *int32) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rk7api/v0/xmlinterface.xml" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		request := string(body)

		switch {
		case strings.Contains(request, `CMD="CreateSession"`):
			if !strings.Contains(request, "<Station>ST01</Station>") ||
				!strings.Contains(request, "<Cashier>C42</Cashier>") {
				t.Errorf("login fields missing: %s", request)
			}
			atomic.AddInt32(sessions, 1)
			w.Write([]byte(`<RK7QueryResult><SessionId>sess-1</SessionId></RK7QueryResult>`))
		case strings.Contains(request, `CMD="GetCheck"`):
			if !strings.Contains(request, "<SessionId>sess-1</SessionId>") {
				t.Errorf("session id missing: %s", request)
			}
			w.Write([]byte(`<RK7QueryResult>
				<CheckId>CHK-9</CheckId>
				<TableId>7</TableId>
				<Status>CLOSED</Status>
				<OpenTime>2025-06-01T12:00:00Z</OpenTime>
				<TotalSum>40</TotalSum>
				<DiscountSum>4</DiscountSum>
				<ResultSum>36</ResultSum>
			</RK7QueryResult>`))
		default:
			w.Write([]byte(`<RK7QueryResult></RK7QueryResult>`))
		}
	}
}

func TestGetTransactionReusesSession(t *testing.T) {
	var sessions int32
	srv := httptest.NewServer(rk7Stub(t, &sessions))
	defer srv.Close()

	adapter := newTestAdapter(t, srv.URL)
	for i := 0; i < 3; i++ {
		tx, err := adapter.GetTransaction(context.Background(), "CHK-9")
		if err != nil {
			t.Fatalf("get transaction: %v", err)
		}
		if tx.ID != "CHK-9" || tx.Status != gw.StatusSucceeded {
			t.Fatalf("unexpected transaction: %+v", tx)
		}
		if tx.Amount != 40 || tx.DiscountAmount != 4 || tx.Discount != 10 {
			t.Fatalf("sums wrong: %+v", tx)
		}
	}
	if got := atomic.LoadInt32(&sessions); got != 1 {
		t.Fatalf("expected 1 CreateSession, got %d", got)
	}
}

func TestPartialRefundUnsupported(t *testing.T) {
	var sessions int32
	srv := httptest.NewServer(rk7Stub(t, &sessions))
	defer srv.Close()

	adapter := newTestAdapter(t, srv.URL)
	amount := 5.0
	_, err := adapter.RefundTransaction(context.Background(), "CHK-9", &amount)
	if !errors.Is(err, gw.ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
}

func TestVerifyWebhookBase64(t *testing.T) {
	adapter := newTestAdapter(t, "http://unused")
	payload := []byte(`{"eventType":"CheckClosed","checkId":"CHK-9"}`)
	good := sign.HMACSHA256Base64(payload, "whsec")

	if !adapter.VerifyWebhook(payload, good) {
		t.Fatal("valid base64 signature rejected")
	}
	if adapter.VerifyWebhook(payload, "AAAA") {
		t.Fatal("invalid signature accepted")
	}
}

func TestStatusMappingIsTotal(t *testing.T) {
	cases := map[string]gw.Status{
		"OPEN":      gw.StatusPending,
		"CLOSED":    gw.StatusSucceeded,
		"CANCELLED": gw.StatusFailed,
		"WEIRD":     gw.StatusPending,
		"":          gw.StatusPending,
	}
	for in, want := range cases {
		if got := mapStatus(in); got != want {
			t.Errorf("mapStatus(%q) = %q, want %q", in, got, want)
		}
	}
}
