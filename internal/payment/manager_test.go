package payment

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/edoardok-cmd/BoomCard-sub001/internal/credentials"
	gw "github.com/edoardok-cmd/BoomCard-sub001/internal/gateway/domain"
	paymentdomain "github.com/edoardok-cmd/BoomCard-sub001/internal/payment/domain"
	"go.uber.org/zap/zaptest"
)

type fakeAdapter struct {
	provider   string
	initErr    error
	customerID string

	confirmDelay time.Duration
	inFlight     int32
	overlapped   int32
}

func (f *fakeAdapter) Provider() string                     { return f.provider }
func (f *fakeAdapter) Initialize(ctx context.Context) error { return f.initErr }

func (f *fakeAdapter) CreatePaymentIntent(ctx context.Context, req paymentdomain.IntentRequest) (*gw.Transaction, error) {
	return &gw.Transaction{ID: "intent-1", Provider: f.provider, Amount: req.Amount, Currency: req.Currency, Status: gw.StatusPending}, nil
}

func (f *fakeAdapter) ConfirmPayment(ctx context.Context, intentID, methodRef string) (*gw.Result, error) {
	if atomic.AddInt32(&f.inFlight, 1) > 1 {
		atomic.StoreInt32(&f.overlapped, 1)
	}
	if f.confirmDelay > 0 {
		time.Sleep(f.confirmDelay)
	}
	atomic.AddInt32(&f.inFlight, -1)
	return &gw.Result{Success: true, IntentID: intentID}, nil
}

func (f *fakeAdapter) Refund(ctx context.Context, intentID string, amount *float64, reason string) (*gw.RefundResult, error) {
	return &gw.RefundResult{Success: true, RefundID: intentID}, nil
}

func (f *fakeAdapter) GetStatus(ctx context.Context, intentID string) (gw.Status, error) {
	return gw.StatusPending, nil
}

func (f *fakeAdapter) GetTransaction(ctx context.Context, intentID string) (*gw.Transaction, error) {
	return &gw.Transaction{ID: intentID, Provider: f.provider}, nil
}

func (f *fakeAdapter) CreateCustomer(ctx context.Context, email, name string, metadata map[string]any) (string, error) {
	if f.customerID == "" {
		return "", errors.New("customer api down")
	}
	return f.customerID, nil
}

func (f *fakeAdapter) VerifyWebhook(payload []byte, signature string) bool { return true }

func (f *fakeAdapter) HandleWebhook(ctx context.Context, event *gw.WebhookEvent) error { return nil }

func newTestManager(t *testing.T, fakes ...*fakeAdapter) *Manager {
	t.Helper()
	m := NewManager(Params{Log: zaptest.NewLogger(t)})
	m.factories = map[string]paymentdomain.Factory{}
	configs := make([]credentials.Config, 0, len(fakes))
	for _, fake := range fakes {
		fake := fake
		m.factories[fake.provider] = func(creds gw.Credentials, deps paymentdomain.Deps) (paymentdomain.Adapter, error) {
			return fake, nil
		}
		configs = append(configs, credentials.Config{Provider: fake.provider, Credentials: gw.Credentials{}})
	}
	m.InitializeProviders(context.Background(), configs)
	return m
}

func TestInitializeProvidersIsBestEffort(t *testing.T) {
	good := &fakeAdapter{provider: "stripe"}
	bad := &fakeAdapter{provider: "epay", initErr: errors.New("bad credentials")}
	m := newTestManager(t, good, bad)

	enabled := m.EnabledProviders()
	if len(enabled) != 1 || enabled[0] != "stripe" {
		t.Fatalf("expected only stripe enabled, got %v", enabled)
	}
}

func TestAdapterResolvesDefaultAndMissing(t *testing.T) {
	m := newTestManager(t, &fakeAdapter{provider: "stripe"})

	if _, err := m.Adapter(""); !errors.Is(err, gw.ErrProviderNotFound) {
		t.Fatalf("no default set: expected ErrProviderNotFound, got %v", err)
	}
	if err := m.SetDefaultProvider("stripe"); err != nil {
		t.Fatalf("set default: %v", err)
	}
	adapter, err := m.Adapter("")
	if err != nil {
		t.Fatalf("default lookup: %v", err)
	}
	if adapter.Provider() != "stripe" {
		t.Fatalf("default resolved to %q", adapter.Provider())
	}

	if _, err := m.Adapter("mypos"); !errors.Is(err, gw.ErrProviderNotFound) {
		t.Fatalf("missing provider must not substitute, got %v", err)
	}
	if err := m.SetDefaultProvider("missing"); !errors.Is(err, gw.ErrProviderNotFound) {
		t.Fatalf("setting absent default must fail, got %v", err)
	}
}

func TestConfirmSerializedPerIntent(t *testing.T) {
	fake := &fakeAdapter{provider: "stripe", confirmDelay: 10 * time.Millisecond}
	m := newTestManager(t, fake)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.ConfirmPayment(context.Background(), "stripe", "intent-1", "pm"); err != nil {
				t.Errorf("confirm: %v", err)
			}
		}()
	}
	wg.Wait()

	if atomic.LoadInt32(&fake.overlapped) != 0 {
		t.Fatal("confirms for the same intent overlapped")
	}
}

func TestCreateCustomerCollectsPartialResults(t *testing.T) {
	ok := &fakeAdapter{provider: "stripe", customerID: "cus_1"}
	failing := &fakeAdapter{provider: "epay"}
	m := newTestManager(t, ok, failing)

	results := m.CreateCustomer(context.Background(), "a@b.bg", "A", nil)
	if len(results) != 1 || results["stripe"] != "cus_1" {
		t.Fatalf("expected partial results with stripe only, got %v", results)
	}
}

func TestDisconnectClearsDefault(t *testing.T) {
	m := newTestManager(t, &fakeAdapter{provider: "stripe"})
	if err := m.SetDefaultProvider("stripe"); err != nil {
		t.Fatalf("set default: %v", err)
	}
	if err := m.Disconnect("stripe"); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	if m.DefaultProvider() != "" {
		t.Fatal("default should be cleared with its provider")
	}
	if err := m.Disconnect("stripe"); !errors.Is(err, gw.ErrProviderNotFound) {
		t.Fatalf("second disconnect must fail, got %v", err)
	}
}

func TestTestConnections(t *testing.T) {
	good := &fakeAdapter{provider: "stripe"}
	bad := &fakeAdapter{provider: "epay"}
	m := newTestManager(t, good, bad)
	bad2 := errors.New("probe failed")
	bad.initErr = bad2

	results := m.TestConnections(context.Background())
	if results["stripe"] != nil {
		t.Fatalf("stripe should be healthy: %v", results["stripe"])
	}
	if !errors.Is(results["epay"], bad2) {
		t.Fatalf("epay should report probe failure, got %v", results["epay"])
	}
}
