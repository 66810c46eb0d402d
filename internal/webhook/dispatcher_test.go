package webhook

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync/atomic"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/edoardok-cmd/BoomCard-sub001/internal/config"
	"github.com/edoardok-cmd/BoomCard-sub001/internal/credentials"
	gw "github.com/edoardok-cmd/BoomCard-sub001/internal/gateway/domain"
	"github.com/edoardok-cmd/BoomCard-sub001/internal/payment"
	"github.com/edoardok-cmd/BoomCard-sub001/internal/pos"
	"github.com/edoardok-cmd/BoomCard-sub001/internal/sign"
	"go.uber.org/zap/zaptest"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	glogger "gorm.io/gorm/logger"
)

const epaySecret = "epay-secret"

// newTestDispatcher wires a real ePay adapter (its probe is offline) behind
// real managers, with an in-memory event store.
func newTestDispatcher(t *testing.T) *Dispatcher {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: glogger.Default.LogMode(glogger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&EventRecord{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake: %v", err)
	}
	log := zaptest.NewLogger(t)

	payments := payment.NewManager(payment.Params{Log: log, GenID: node, Cfg: config.Config{}})
	payments.InitializeProviders(context.Background(), []credentials.Config{{
		Provider: "epay",
		Credentials: gw.Credentials{
			"merchant_id": "D123456",
			"secret_key":  epaySecret,
		},
	}})

	posManager := pos.NewManager(pos.Params{Log: log, GenID: node, Cfg: config.Config{}})

	return NewDispatcher(Params{
		Log:      log,
		GenID:    node,
		DB:       db,
		Payments: payments,
		POS:      posManager,
	})
}

func epayNotification(t *testing.T, status string) []byte {
	t.Helper()
	params := map[string]string{
		"INVOICE": "INV-1",
		"STATUS":  status,
		"AMOUNT":  "12.50",
	}
	values := url.Values{}
	for key, value := range params {
		values.Set(key, value)
	}
	values.Set("CHECKSUM", sign.Checksum(params, epaySecret))
	return []byte(values.Encode())
}

func TestProcessUnknownProvider(t *testing.T) {
	d := newTestDispatcher(t)
	result := d.Process(context.Background(), "nopeco", []byte(`{}`), "")
	if result.Success {
		t.Fatal("unknown provider must not succeed")
	}
	if !errors.Is(result.Err, gw.ErrProviderNotFound) {
		t.Fatalf("expected ErrProviderNotFound, got %v", result.Err)
	}
}

func TestProcessRejectsTamperedPayloadOpaquely(t *testing.T) {
	d := newTestDispatcher(t)

	var callbackRuns int32
	defer d.Register("epay", func(ctx context.Context, event *gw.WebhookEvent) {
		atomic.AddInt32(&callbackRuns, 1)
	})()

	payload := epayNotification(t, "PAID")
	tampered := []byte(string(payload) + "&EXTRA=1")

	result := d.Process(context.Background(), "epay", tampered, "")
	if result.Success {
		t.Fatal("tampered payload must be rejected")
	}
	if result.Message != "rejected" {
		t.Fatalf("rejection message must stay opaque, got %q", result.Message)
	}
	if !errors.Is(result.Err, gw.ErrVerificationFailed) {
		t.Fatalf("expected ErrVerificationFailed, got %v", result.Err)
	}
	if atomic.LoadInt32(&callbackRuns) != 0 {
		t.Fatal("callbacks must not run for rejected deliveries")
	}
}

func TestProcessRoutesAndDeduplicates(t *testing.T) {
	d := newTestDispatcher(t)

	var callbackRuns int32
	var gotEventType atomic.Value
	defer d.Register("epay", func(ctx context.Context, event *gw.WebhookEvent) {
		atomic.AddInt32(&callbackRuns, 1)
		gotEventType.Store(event.EventType)
	})()

	payload := epayNotification(t, "PAID")

	result := d.Process(context.Background(), "epay", payload, "")
	if !result.Success {
		t.Fatalf("valid delivery failed: %+v", result)
	}
	if got := gotEventType.Load(); got != "PAID" {
		t.Fatalf("event type projection wrong: %v", got)
	}

	// Provider redelivery: acknowledged without re-routing.
	again := d.Process(context.Background(), "epay", payload, "")
	if !again.Success || again.Message != "duplicate" {
		t.Fatalf("redelivery should be acknowledged as duplicate: %+v", again)
	}
	if got := atomic.LoadInt32(&callbackRuns); got != 1 {
		t.Fatalf("callbacks should run once, ran %d times", got)
	}
}

func TestCallbackPanicDoesNotStopOthers(t *testing.T) {
	d := newTestDispatcher(t)

	var secondRan int32
	defer d.Register("epay", func(ctx context.Context, event *gw.WebhookEvent) {
		panic("boom")
	})()
	defer d.Register("epay", func(ctx context.Context, event *gw.WebhookEvent) {
		atomic.AddInt32(&secondRan, 1)
	})()

	result := d.Process(context.Background(), "epay", epayNotification(t, "PAID"), "")
	if !result.Success {
		t.Fatalf("panicking callback must not fail the delivery: %+v", result)
	}
	if atomic.LoadInt32(&secondRan) != 1 {
		t.Fatal("second callback should still run")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	d := newTestDispatcher(t)

	var runs int32
	unsubscribe := d.Register("epay", func(ctx context.Context, event *gw.WebhookEvent) {
		atomic.AddInt32(&runs, 1)
	})
	unsubscribe()

	if result := d.Process(context.Background(), "epay", epayNotification(t, "DENIED"), ""); !result.Success {
		t.Fatalf("delivery failed: %+v", result)
	}
	if atomic.LoadInt32(&runs) != 0 {
		t.Fatal("unsubscribed callback must not run")
	}
}
