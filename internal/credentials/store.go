// Package credentials persists the provider credential bags partners connect
// with. Rows carry an AES-GCM sealed JSON envelope; plaintext credentials
// exist only in memory, inside adapter instances.
package credentials

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/edoardok-cmd/BoomCard-sub001/internal/config"
	"github.com/edoardok-cmd/BoomCard-sub001/internal/gateway/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	FamilyPayment = "payment"
	FamilyPOS     = "pos"
)

var ErrNotFound = errors.New("credential row not found")

// Config is one decrypted provider connection.
type Config struct {
	Provider    string
	Default     bool
	Credentials domain.Credentials
}

// Store reads and mutates provider connections for one gateway deployment.
type Store interface {
	List(ctx context.Context, family string) ([]Config, error)
	Save(ctx context.Context, family, provider string, creds domain.Credentials) error
	SetDefault(ctx context.Context, family, provider string) error
	Delete(ctx context.Context, family, provider string) error
}

// Row is the persisted shape. Config holds the sealed envelope, never
// plaintext.
type Row struct {
	ID        snowflake.ID   `gorm:"primaryKey;autoIncrement:false"`
	Family    string         `gorm:"size:16;index:idx_family_provider,unique"`
	Provider  string         `gorm:"size:32;index:idx_family_provider,unique"`
	IsDefault bool           `gorm:"column:is_default"`
	Config    datatypes.JSON `gorm:"column:config"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (Row) TableName() string { return "provider_credentials" }

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Cfg   config.Config
}

type gormStore struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	key   []byte
}

func NewStore(p Params) Store {
	return &gormStore{
		db:    p.DB,
		log:   p.Log.Named("credentials.store"),
		genID: p.GenID,
		key:   DeriveKey(strings.TrimSpace(p.Cfg.CredentialSecret)),
	}
}

func (s *gormStore) List(ctx context.Context, family string) ([]Config, error) {
	var rows []Row
	if err := s.db.WithContext(ctx).
		Where("family = ?", family).
		Order("provider asc").
		Find(&rows).Error; err != nil {
		return nil, err
	}

	configs := make([]Config, 0, len(rows))
	for _, row := range rows {
		creds, err := Decrypt(s.key, row.Config)
		if err != nil {
			// A row we cannot open is skipped, not fatal: the remaining
			// providers still initialize.
			s.log.Warn("skipping undecryptable credential row",
				zap.String("family", row.Family),
				zap.String("provider", row.Provider),
				zap.Error(err),
			)
			continue
		}
		configs = append(configs, Config{
			Provider:    row.Provider,
			Default:     row.IsDefault,
			Credentials: creds,
		})
	}
	return configs, nil
}

func (s *gormStore) Save(ctx context.Context, family, provider string, creds domain.Credentials) error {
	sealed, err := Encrypt(s.key, creds)
	if err != nil {
		return err
	}

	var existing Row
	err = s.db.WithContext(ctx).
		Where("family = ? AND provider = ?", family, provider).
		First(&existing).Error
	switch {
	case err == nil:
		return s.db.WithContext(ctx).Model(&Row{}).
			Where("id = ?", existing.ID).
			Updates(map[string]any{"config": datatypes.JSON(sealed), "updated_at": time.Now().UTC()}).Error
	case errors.Is(err, gorm.ErrRecordNotFound):
		row := Row{
			ID:       s.genID.Generate(),
			Family:   family,
			Provider: provider,
			Config:   datatypes.JSON(sealed),
		}
		return s.db.WithContext(ctx).Create(&row).Error
	default:
		return err
	}
}

func (s *gormStore) SetDefault(ctx context.Context, family, provider string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row Row
		if err := tx.Where("family = ? AND provider = ?", family, provider).First(&row).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if err := tx.Model(&Row{}).
			Where("family = ? AND is_default = ?", family, true).
			Update("is_default", false).Error; err != nil {
			return err
		}
		return tx.Model(&Row{}).
			Where("id = ?", row.ID).
			Update("is_default", true).Error
	})
}

func (s *gormStore) Delete(ctx context.Context, family, provider string) error {
	result := s.db.WithContext(ctx).
		Where("family = ? AND provider = ?", family, provider).
		Delete(&Row{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

var Module = fx.Module("credentials",
	fx.Provide(NewStore),
	fx.Invoke(func(db *gorm.DB) error {
		return db.AutoMigrate(&Row{})
	}),
)
