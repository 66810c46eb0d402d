package webhook

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// EventRecord is the persisted trace of one inbound webhook: audit trail
// plus the dedup key that short-circuits provider redeliveries.
type EventRecord struct {
	ID          snowflake.ID   `gorm:"primaryKey;autoIncrement:false"`
	Provider    string         `gorm:"size:32;index"`
	EventType   string         `gorm:"size:128"`
	DedupKey    string         `gorm:"size:96;uniqueIndex"`
	Payload     datatypes.JSON `gorm:"column:payload"`
	ReceivedAt  time.Time
	ProcessedAt *time.Time
}

func (EventRecord) TableName() string { return "webhook_events" }

func dedupKey(provider string, payload []byte) string {
	sum := sha256.Sum256(payload)
	return provider + ":" + hex.EncodeToString(sum[:])
}

// recordEvent inserts the event row. Returns the row and whether an
// identical event was already processed. Persistence is best-effort: any
// storage failure is logged and the event still flows.
func (d *Dispatcher) recordEvent(ctx context.Context, provider, eventType string, payload []byte) (*EventRecord, bool) {
	if d.db == nil {
		return nil, false
	}

	key := dedupKey(provider, payload)

	var existing EventRecord
	err := d.db.WithContext(ctx).Where("dedup_key = ?", key).First(&existing).Error
	switch {
	case err == nil:
		return &existing, existing.ProcessedAt != nil
	case !errors.Is(err, gorm.ErrRecordNotFound):
		d.log.Warn("event lookup failed", zap.String("provider", provider), zap.Error(err))
		return nil, false
	}

	// Form-encoded notifications are stored as a JSON string so the
	// column stays valid JSON.
	stored := payload
	if !json.Valid(payload) {
		stored, _ = json.Marshal(string(payload))
	}

	record := EventRecord{
		ID:         d.genID.Generate(),
		Provider:   provider,
		EventType:  eventType,
		DedupKey:   key,
		Payload:    datatypes.JSON(stored),
		ReceivedAt: time.Now().UTC(),
	}
	if err := d.db.WithContext(ctx).Create(&record).Error; err != nil {
		d.log.Warn("event record insert failed", zap.String("provider", provider), zap.Error(err))
		return nil, false
	}
	return &record, false
}

func (d *Dispatcher) markProcessed(ctx context.Context, record *EventRecord) {
	if d.db == nil || record == nil {
		return
	}
	now := time.Now().UTC()
	if err := d.db.WithContext(ctx).Model(&EventRecord{}).
		Where("id = ?", record.ID).
		Update("processed_at", now).Error; err != nil {
		d.log.Warn("event record update failed", zap.Error(err))
	}
}
