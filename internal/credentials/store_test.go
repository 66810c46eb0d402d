package credentials

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/edoardok-cmd/BoomCard-sub001/internal/config"
	"github.com/edoardok-cmd/BoomCard-sub001/internal/gateway/domain"
	"go.uber.org/zap/zaptest"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	glogger "gorm.io/gorm/logger"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: glogger.Default.LogMode(glogger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Row{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func newTestStore(t *testing.T) (Store, *gorm.DB) {
	t.Helper()
	db := openTestDB(t)
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake: %v", err)
	}
	store := NewStore(Params{
		DB:    db,
		Log:   zaptest.NewLogger(t),
		GenID: node,
		Cfg:   config.Config{CredentialSecret: "test-secret"},
	})
	return store, db
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key := DeriveKey("s3cret")
	in := map[string]string{"api_key": "sk_test_123", "environment": "sandbox"}

	sealed, err := Encrypt(key, in)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	out, err := Decrypt(key, sealed)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if out["api_key"] != "sk_test_123" || out["environment"] != "sandbox" {
		t.Fatalf("round trip mismatch: %#v", out)
	}

	if _, err := Decrypt(DeriveKey("wrong"), sealed); !errors.Is(err, ErrInvalidEnvelope) {
		t.Fatalf("wrong key must fail with ErrInvalidEnvelope, got %v", err)
	}
	if _, err := Encrypt(nil, in); !errors.Is(err, ErrEncryptionKeyMissing) {
		t.Fatalf("expected ErrEncryptionKeyMissing, got %v", err)
	}
}

func TestSaveAndList(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	creds := domain.Credentials{"secret_key": "sk_test_abc"}
	if err := store.Save(ctx, FamilyPayment, "stripe", creds); err != nil {
		t.Fatalf("save: %v", err)
	}

	configs, err := store.List(ctx, FamilyPayment)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(configs) != 1 {
		t.Fatalf("expected 1 config, got %d", len(configs))
	}
	if configs[0].Provider != "stripe" {
		t.Fatalf("unexpected provider %q", configs[0].Provider)
	}
	if got := configs[0].Credentials.Get("secret_key"); got != "sk_test_abc" {
		t.Fatalf("credentials not round-tripped: %q", got)
	}

	// Save again updates in place rather than duplicating.
	if err := store.Save(ctx, FamilyPayment, "stripe", domain.Credentials{"secret_key": "sk_test_new"}); err != nil {
		t.Fatalf("update: %v", err)
	}
	configs, err = store.List(ctx, FamilyPayment)
	if err != nil {
		t.Fatalf("list after update: %v", err)
	}
	if len(configs) != 1 || configs[0].Credentials.Get("secret_key") != "sk_test_new" {
		t.Fatalf("update not applied: %#v", configs)
	}
}

func TestListSkipsUndecryptableRows(t *testing.T) {
	store, db := newTestStore(t)
	ctx := context.Background()

	if err := store.Save(ctx, FamilyPOS, "barsy", domain.Credentials{"api_key": "k"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	node, _ := snowflake.NewNode(2)
	bad := Row{ID: node.Generate(), Family: FamilyPOS, Provider: "poster", Config: []byte(`{"version":9}`)}
	if err := db.Create(&bad).Error; err != nil {
		t.Fatalf("seed bad row: %v", err)
	}

	configs, err := store.List(ctx, FamilyPOS)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(configs) != 1 || configs[0].Provider != "barsy" {
		t.Fatalf("bad row should be skipped: %#v", configs)
	}
}

func TestSetDefaultIsExclusive(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	for _, provider := range []string{"stripe", "epay"} {
		if err := store.Save(ctx, FamilyPayment, provider, domain.Credentials{"k": "v"}); err != nil {
			t.Fatalf("save %s: %v", provider, err)
		}
	}

	if err := store.SetDefault(ctx, FamilyPayment, "stripe"); err != nil {
		t.Fatalf("set default: %v", err)
	}
	if err := store.SetDefault(ctx, FamilyPayment, "epay"); err != nil {
		t.Fatalf("move default: %v", err)
	}

	configs, err := store.List(ctx, FamilyPayment)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	defaults := 0
	for _, c := range configs {
		if c.Default {
			defaults++
			if c.Provider != "epay" {
				t.Fatalf("default should be epay, got %s", c.Provider)
			}
		}
	}
	if defaults != 1 {
		t.Fatalf("expected exactly one default, got %d", defaults)
	}

	if err := store.SetDefault(ctx, FamilyPayment, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDelete(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	if err := store.Save(ctx, FamilyPayment, "stripe", domain.Credentials{"k": "v"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.Delete(ctx, FamilyPayment, "stripe"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := store.Delete(ctx, FamilyPayment, "stripe"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
