// Package webhook receives provider notifications and pushes them through a
// fixed pipeline: identify the provider, verify authenticity, classify the
// event, route it to the adapter and registered callbacks, acknowledge.
// There are no gateway-side retries; providers redeliver on non-2xx.
package webhook

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	gw "github.com/edoardok-cmd/BoomCard-sub001/internal/gateway/domain"
	"github.com/edoardok-cmd/BoomCard-sub001/internal/payment"
	"github.com/edoardok-cmd/BoomCard-sub001/internal/pos"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Handler is the slice of the adapter contract the dispatcher needs. Both
// payment and POS adapters satisfy it.
type Handler interface {
	VerifyWebhook(payload []byte, signature string) bool
	HandleWebhook(ctx context.Context, event *gw.WebhookEvent) error
}

// Callback observes verified events for one provider. Callback failures
// never affect acknowledgement.
type Callback func(ctx context.Context, event *gw.WebhookEvent)

// Result reports the outcome of processing one delivery. A verification
// failure carries only an opaque message.
type Result struct {
	Success bool
	Message string
	Err     error
}

type Params struct {
	fx.In

	Log      *zap.Logger
	GenID    *snowflake.Node
	DB       *gorm.DB
	Payments *payment.Manager
	POS      *pos.Manager
}

type Dispatcher struct {
	log      *zap.Logger
	genID    *snowflake.Node
	db       *gorm.DB
	payments *payment.Manager
	pos      *pos.Manager

	mu        sync.RWMutex
	callbacks map[string]map[int64]Callback
	nextID    int64
}

func NewDispatcher(p Params) *Dispatcher {
	return &Dispatcher{
		log:       p.Log.Named("webhook.dispatcher"),
		genID:     p.GenID,
		db:        p.DB,
		payments:  p.Payments,
		pos:       p.POS,
		callbacks: map[string]map[int64]Callback{},
	}
}

// Register subscribes fn to verified events from the given provider. The
// returned function removes the subscription.
func (d *Dispatcher) Register(provider string, fn Callback) func() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.nextID++
	id := d.nextID
	if d.callbacks[provider] == nil {
		d.callbacks[provider] = map[int64]Callback{}
	}
	d.callbacks[provider][id] = fn

	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		delete(d.callbacks[provider], id)
	}
}

// Process runs one delivery through the pipeline. The raw body is passed to
// verification untouched; any reshaping happens after authenticity is
// established.
func (d *Dispatcher) Process(ctx context.Context, providerTag string, body []byte, signature string) Result {
	provider := strings.ToLower(strings.TrimSpace(providerTag))

	handler, ok := d.resolve(provider)
	if !ok {
		return Result{Success: false, Message: "unknown provider", Err: gw.ErrProviderNotFound}
	}

	if !handler.VerifyWebhook(body, signature) {
		d.log.Warn("webhook rejected", zap.String("provider", provider))
		return Result{Success: false, Message: "rejected", Err: gw.ErrVerificationFailed}
	}

	eventType := classify(provider, body)
	event := &gw.WebhookEvent{
		Provider:   provider,
		EventType:  eventType,
		Payload:    body,
		Signature:  signature,
		ReceivedAt: time.Now().UTC(),
	}

	record, alreadyProcessed := d.recordEvent(ctx, provider, eventType, body)
	if alreadyProcessed {
		d.log.Info("duplicate delivery acknowledged",
			zap.String("provider", provider), zap.String("event_type", eventType))
		return Result{Success: true, Message: "duplicate"}
	}

	if err := handler.HandleWebhook(ctx, event); err != nil {
		d.log.Error("webhook handling failed",
			zap.String("provider", provider),
			zap.String("event_type", eventType),
			zap.Error(err))
		return Result{Success: false, Message: "processing failed", Err: err}
	}

	d.notify(ctx, provider, event)
	d.markProcessed(ctx, record)

	return Result{Success: true, Message: "ok"}
}

func (d *Dispatcher) resolve(provider string) (Handler, bool) {
	if provider == "" {
		return nil, false
	}
	if adapter, err := d.payments.Adapter(provider); err == nil {
		return adapter, true
	}
	if adapter, err := d.pos.Adapter(provider); err == nil {
		return adapter, true
	}
	return nil, false
}

// notify runs every registered callback for the provider. A panicking or
// slow callback is isolated; the rest still run.
func (d *Dispatcher) notify(ctx context.Context, provider string, event *gw.WebhookEvent) {
	d.mu.RLock()
	subscribed := make([]Callback, 0, len(d.callbacks[provider]))
	for _, fn := range d.callbacks[provider] {
		subscribed = append(subscribed, fn)
	}
	d.mu.RUnlock()

	for _, fn := range subscribed {
		func() {
			defer func() {
				if r := recover(); r != nil {
					d.log.Error("webhook callback panicked",
						zap.String("provider", provider), zap.Any("panic", r))
				}
			}()
			fn(ctx, event)
		}()
	}
}

// classify projects the provider's own event vocabulary out of the payload.
// The raw value is preserved verbatim; mapping to canonical semantics is the
// adapter's job.
func classify(provider string, body []byte) string {
	switch provider {
	case "epay":
		if values, err := url.ParseQuery(string(body)); err == nil {
			return values.Get("STATUS")
		}
		return ""
	case "stripe":
		return jsonField(body, "type")
	case "barsy", "poster":
		return jsonField(body, "event")
	case "iiko", "rkeeper":
		return jsonField(body, "eventType")
	case "mypos":
		return jsonField(body, "IPCmethod")
	case "sumup":
		return jsonField(body, "event_type")
	default:
		return jsonField(body, "type")
	}
}

func jsonField(body []byte, field string) string {
	var payload map[string]json.RawMessage
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	var value string
	if err := json.Unmarshal(payload[field], &value); err != nil {
		return ""
	}
	return value
}

var Module = fx.Module("webhook",
	fx.Provide(NewDispatcher),
	fx.Invoke(func(db *gorm.DB) error {
		return db.AutoMigrate(&EventRecord{})
	}),
)
