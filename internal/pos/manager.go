// Package pos owns the registry of configured POS providers and the
// operations routed through them.
package pos

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/edoardok-cmd/BoomCard-sub001/internal/config"
	"github.com/edoardok-cmd/BoomCard-sub001/internal/credentials"
	gw "github.com/edoardok-cmd/BoomCard-sub001/internal/gateway/domain"
	"github.com/edoardok-cmd/BoomCard-sub001/internal/pos/adapters/barsy"
	"github.com/edoardok-cmd/BoomCard-sub001/internal/pos/adapters/iiko"
	"github.com/edoardok-cmd/BoomCard-sub001/internal/pos/adapters/mypos"
	"github.com/edoardok-cmd/BoomCard-sub001/internal/pos/adapters/poster"
	"github.com/edoardok-cmd/BoomCard-sub001/internal/pos/adapters/rkeeper"
	"github.com/edoardok-cmd/BoomCard-sub001/internal/pos/adapters/sumup"
	posdomain "github.com/edoardok-cmd/BoomCard-sub001/internal/pos/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Factories maps provider tags to their adapter constructors.
func Factories() map[string]posdomain.Factory {
	return map[string]posdomain.Factory{
		barsy.ProviderName:   barsy.New,
		poster.ProviderName:  poster.New,
		iiko.ProviderName:    iiko.New,
		rkeeper.ProviderName: rkeeper.New,
		mypos.ProviderName:   mypos.New,
		sumup.ProviderName:   sumup.New,
	}
}

type Params struct {
	fx.In

	Log   *zap.Logger
	GenID *snowflake.Node
	Cfg   config.Config
}

// Manager holds the live POS adapters. The registry map is replaced
// wholesale under the mutex, never mutated in place.
type Manager struct {
	log       *zap.Logger
	deps      posdomain.Deps
	factories map[string]posdomain.Factory

	mu       sync.RWMutex
	adapters map[string]posdomain.Adapter
}

func NewManager(p Params) *Manager {
	return &Manager{
		log: p.Log.Named("pos.manager"),
		deps: posdomain.Deps{
			Log:     p.Log,
			GenID:   p.GenID,
			Timeout: p.Cfg.ProviderTimeout,
		},
		factories: Factories(),
		adapters:  map[string]posdomain.Adapter{},
	}
}

// InitializeProviders brings up every configured provider, best effort.
func (m *Manager) InitializeProviders(ctx context.Context, configs []credentials.Config) {
	next := make(map[string]posdomain.Adapter, len(configs))

	for _, cfg := range configs {
		factory, ok := m.factories[cfg.Provider]
		if !ok {
			m.log.Warn("unknown pos provider skipped", zap.String("provider", cfg.Provider))
			continue
		}
		adapter, err := factory(cfg.Credentials, m.deps)
		if err != nil {
			m.log.Error("pos provider construction failed",
				zap.String("provider", cfg.Provider), zap.Error(err))
			continue
		}
		if err := adapter.Initialize(ctx); err != nil {
			m.log.Error("pos provider initialization failed",
				zap.String("provider", cfg.Provider), zap.Error(err))
			continue
		}
		next[cfg.Provider] = adapter
		m.log.Info("pos provider initialized", zap.String("provider", cfg.Provider))
	}

	m.mu.Lock()
	m.adapters = next
	m.mu.Unlock()
}

// Adapter resolves a provider tag. No default fallback: POS operations are
// always addressed to a specific till.
func (m *Manager) Adapter(provider string) (posdomain.Adapter, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	adapter, ok := m.adapters[provider]
	if !ok {
		return nil, fmt.Errorf("%s: %w", provider, gw.ErrProviderNotFound)
	}
	return adapter, nil
}

// FetchAllTransactions fans out to every enabled provider, merges the
// results and sorts them newest first. A provider that fails or does not
// support history is logged and skipped.
func (m *Manager) FetchAllTransactions(ctx context.Context, start, end time.Time) []gw.Transaction {
	m.mu.RLock()
	snapshot := m.adapters
	m.mu.RUnlock()

	var mu sync.Mutex
	var merged []gw.Transaction

	g, ctx := errgroup.WithContext(ctx)
	for provider, adapter := range snapshot {
		provider, adapter := provider, adapter
		g.Go(func() error {
			transactions, err := adapter.FetchTransactions(ctx, start, end)
			if err != nil {
				if errors.Is(err, gw.ErrUnsupported) {
					m.log.Debug("transaction history unsupported", zap.String("provider", provider))
				} else {
					m.log.Warn("transaction fetch failed",
						zap.String("provider", provider), zap.Error(err))
				}
				return nil
			}
			mu.Lock()
			merged = append(merged, transactions...)
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	sort.Slice(merged, func(i, j int) bool {
		return merged[i].CreatedAt.After(merged[j].CreatedAt)
	})
	return merged
}

func (m *Manager) ApplyDiscount(ctx context.Context, provider, txID string, percentage float64, cardNumber string) (*gw.Transaction, error) {
	adapter, err := m.Adapter(provider)
	if err != nil {
		return nil, err
	}
	return adapter.ApplyDiscount(ctx, txID, percentage, cardNumber)
}

func (m *Manager) GetTransaction(ctx context.Context, provider, txID string) (*gw.Transaction, error) {
	adapter, err := m.Adapter(provider)
	if err != nil {
		return nil, err
	}
	return adapter.GetTransaction(ctx, txID)
}

func (m *Manager) RefundTransaction(ctx context.Context, provider, txID string, amount *float64) (*gw.Transaction, error) {
	adapter, err := m.Adapter(provider)
	if err != nil {
		return nil, err
	}
	return adapter.RefundTransaction(ctx, txID, amount)
}

// Disconnect removes a provider from the registry, copy-on-write.
func (m *Manager) Disconnect(provider string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.adapters[provider]; !ok {
		return fmt.Errorf("%s: %w", provider, gw.ErrProviderNotFound)
	}
	next := make(map[string]posdomain.Adapter, len(m.adapters)-1)
	for tag, adapter := range m.adapters {
		if tag != provider {
			next[tag] = adapter
		}
	}
	m.adapters = next
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

// TestConnections probes every enabled provider concurrently.
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

var Module = fx.Module("pos",
	fx.Provide(NewManager),
	fx.Invoke(func(lc fx.Lifecycle, m *Manager, store credentials.Store) {
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				configs, err := store.List(ctx, credentials.FamilyPOS)
				if err != nil {
					return err
				}
				m.InitializeProviders(ctx, configs)
				return nil
			},
		})
	}),
)
