// Package payment owns the registry of configured payment providers and the
// operations routed through them.
package payment

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/bwmarrin/snowflake"
	"github.com/edoardok-cmd/BoomCard-sub001/internal/config"
	"github.com/edoardok-cmd/BoomCard-sub001/internal/credentials"
	gw "github.com/edoardok-cmd/BoomCard-sub001/internal/gateway/domain"
	"github.com/edoardok-cmd/BoomCard-sub001/internal/payment/adapters/epay"
	"github.com/edoardok-cmd/BoomCard-sub001/internal/payment/adapters/stripe"
	paymentdomain "github.com/edoardok-cmd/BoomCard-sub001/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Factories maps provider tags to their adapter constructors.
func Factories() map[string]paymentdomain.Factory {
	return map[string]paymentdomain.Factory{
		stripe.ProviderName: stripe.New,
		epay.ProviderName:   epay.New,
	}
}

type Params struct {
	fx.In

	Log   *zap.Logger
	GenID *snowflake.Node
	Cfg   config.Config
}

// Manager holds the live payment adapters. The registry map is replaced
// wholesale under the mutex, never mutated in place, so concurrent readers
// always observe a complete registry.
type Manager struct {
	log       *zap.Logger
	deps      paymentdomain.Deps
	factories map[string]paymentdomain.Factory

	mu              sync.RWMutex
	adapters        map[string]paymentdomain.Adapter
	defaultProvider string

	intents keyedMutex
}

func NewManager(p Params) *Manager {
	return &Manager{
		log: p.Log.Named("payment.manager"),
		deps: paymentdomain.Deps{
			Log:     p.Log,
			GenID:   p.GenID,
			Timeout: p.Cfg.ProviderTimeout,
		},
		factories: Factories(),
		adapters:  map[string]paymentdomain.Adapter{},
	}
}

// InitializeProviders brings up every configured provider. A provider that
// fails to construct or probe is logged and skipped; the others still come
// up. Replaces the whole registry on each call.
func (m *Manager) InitializeProviders(ctx context.Context, configs []credentials.Config) {
	next := make(map[string]paymentdomain.Adapter, len(configs))
	defaultProvider := ""

	for _, cfg := range configs {
		factory, ok := m.factories[cfg.Provider]
		if !ok {
			m.log.Warn("unknown payment provider skipped", zap.String("provider", cfg.Provider))
			continue
		}
		adapter, err := factory(cfg.Credentials, m.deps)
		if err != nil {
			m.log.Error("payment provider construction failed",
				zap.String("provider", cfg.Provider), zap.Error(err))
			continue
		}
		if err := adapter.Initialize(ctx); err != nil {
			m.log.Error("payment provider initialization failed",
				zap.String("provider", cfg.Provider), zap.Error(err))
			continue
		}
		next[cfg.Provider] = adapter
		if cfg.Default {
			defaultProvider = cfg.Provider
		}
		m.log.Info("payment provider initialized", zap.String("provider", cfg.Provider))
	}

	m.mu.Lock()
	m.adapters = next
	if defaultProvider != "" {
		m.defaultProvider = defaultProvider
	} else if _, ok := next[m.defaultProvider]; !ok {
		m.defaultProvider = ""
	}
	m.mu.Unlock()
}

// Adapter resolves a provider tag, falling back to the configured default
// when the tag is empty. A missing provider is an error, never a substitute.
func (m *Manager) Adapter(provider string) (paymentdomain.Adapter, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if provider == "" {
		provider = m.defaultProvider
	}
	if provider == "" {
		return nil, fmt.Errorf("no default payment provider: %w", gw.ErrProviderNotFound)
	}
	adapter, ok := m.adapters[provider]
	if !ok {
		return nil, fmt.Errorf("%s: %w", provider, gw.ErrProviderNotFound)
	}
	return adapter, nil
}

func (m *Manager) CreatePayment(ctx context.Context, provider string, req paymentdomain.IntentRequest) (*gw.Transaction, error) {
	adapter, err := m.Adapter(provider)
	if err != nil {
		return nil, err
	}
	return adapter.CreatePaymentIntent(ctx, req)
}

// ConfirmPayment serializes per intent id so a confirm and a refund for the
// same intent never interleave.
func (m *Manager) ConfirmPayment(ctx context.Context, provider, intentID, methodRef string) (*gw.Result, error) {
	adapter, err := m.Adapter(provider)
	if err != nil {
		return nil, err
	}
	unlock := m.intents.lock(intentID)
	defer unlock()
	return adapter.ConfirmPayment(ctx, intentID, methodRef)
}

func (m *Manager) Refund(ctx context.Context, provider, intentID string, amount *float64, reason string) (*gw.RefundResult, error) {
	adapter, err := m.Adapter(provider)
	if err != nil {
		return nil, err
	}
	unlock := m.intents.lock(intentID)
	defer unlock()
	return adapter.Refund(ctx, intentID, amount, reason)
}

func (m *Manager) GetStatus(ctx context.Context, provider, intentID string) (gw.Status, error) {
	adapter, err := m.Adapter(provider)
	if err != nil {
		return "", err
	}
	return adapter.GetStatus(ctx, intentID)
}

func (m *Manager) GetTransaction(ctx context.Context, provider, intentID string) (*gw.Transaction, error) {
	adapter, err := m.Adapter(provider)
	if err != nil {
		return nil, err
	}
	return adapter.GetTransaction(ctx, intentID)
}

// CreateCustomer registers the customer with every enabled provider
// concurrently. Per-provider failures are logged and omitted from the
// result; the caller gets whatever succeeded.
func (m *Manager) CreateCustomer(ctx context.Context, email, name string, metadata map[string]any) map[string]string {
	m.mu.RLock()
	snapshot := m.adapters
	m.mu.RUnlock()

	var mu sync.Mutex
	results := make(map[string]string, len(snapshot))

	g, ctx := errgroup.WithContext(ctx)
	for provider, adapter := range snapshot {
		provider, adapter := provider, adapter
		g.Go(func() error {
			id, err := adapter.CreateCustomer(ctx, email, name, metadata)
			if err != nil {
				m.log.Warn("customer creation failed",
					zap.String("provider", provider), zap.Error(err))
				return nil
			}
			mu.Lock()
			results[provider] = id
			mu.Unlock()
			return nil
		})
	}
	g.Wait()
	return results
}

// Disconnect removes a provider from the registry. Copy-on-write: readers
// holding the old map are unaffected.
func (m *Manager) Disconnect(provider string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.adapters[provider]; !ok {
		return fmt.Errorf("%s: %w", provider, gw.ErrProviderNotFound)
	}
	next := make(map[string]paymentdomain.Adapter, len(m.adapters)-1)
	for tag, adapter := range m.adapters {
		if tag != provider {
			next[tag] = adapter
		}
	}
	m.adapters = next
	if m.defaultProvider == provider {
		m.defaultProvider = ""
	}
	return nil
}

// EnabledProviders lists the live provider tags, sorted.
func (m *Manager) EnabledProviders() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	providers := make([]string, 0, len(m.adapters))
	for tag := range m.adapters {
		providers = append(providers, tag)
	}
	sort.Strings(providers)
	return providers
}

// DefaultProvider returns the current default tag, possibly empty.
func (m *Manager) DefaultProvider() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.defaultProvider
}

// SetDefaultProvider fails if the target is not enabled.
func (m *Manager) SetDefaultProvider(provider string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.adapters[provider]; !ok {
		return fmt.Errorf("%s: %w", provider, gw.ErrProviderNotFound)
	}
	m.defaultProvider = provider
	return nil
}

// TestConnections probes every enabled provider concurrently and reports
// per-provider health.
func (m *Manager) TestConnections(ctx context.Context) map[string]error {
	m.mu.RLock()
	snapshot := m.adapters
	m.mu.RUnlock()

	var mu sync.Mutex
	results := make(map[string]error, len(snapshot))

	g, ctx := errgroup.WithContext(ctx)
	for provider, adapter := range snapshot {
		provider, adapter := provider, adapter
		g.Go(func() error {
			err := adapter.Initialize(ctx)
			mu.Lock()
			results[provider] = err
			mu.Unlock()
			return nil
		})
	}
	g.Wait()
	return results
}

// keyedMutex hands out one mutex per key. Entries are not reaped; intent
// ids are low-cardinality within a process lifetime.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = map[string]*sync.Mutex{}
	}
	lock, ok := k.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		k.locks[key] = lock
	}
	k.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}

var Module = fx.Module("payment",
	fx.Provide(NewManager),
	fx.Invoke(func(lc fx.Lifecycle, m *Manager, store credentials.Store) {
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				configs, err := store.List(ctx, credentials.FamilyPayment)
				if err != nil {
					return err
				}
				m.InitializeProviders(ctx, configs)
				return nil
			},
		})
	}),
)
