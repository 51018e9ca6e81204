package preferences

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ErinHernandez/TopDog-sub011/internal/draft"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "preferences.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Device{}, &AlertSetting{}); err != nil {
		t.Fatalf("failed to migrate preference schema: %v", err)
	}
	store, err := NewStore(StoreConfig{
		Database: db,
		Clock: func() time.Time {
			return time.Unix(1760000000, 0)
		},
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return store
}

func TestLookupDefaultsForUnknownUser(t *testing.T) {
	store := newTestStore(t)

	preference, err := store.Lookup(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if preference.Capability != CapabilityNone {
		t.Fatalf("expected unknown user to be unreachable, got %q", preference.Capability)
	}
	for _, kind := range draft.AlertKinds {
		if !preference.Enabled(kind) {
			t.Fatalf("expected %s to default to enabled", kind)
		}
	}
}

func TestLookupReflectsDeviceAndSettings(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.RegisterDevice(ctx, "user-1", CapabilityPush, "token-a"); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if err := store.RegisterDevice(ctx, "user-1", CapabilityNative, "token-b"); err != nil {
		t.Fatalf("re-register failed: %v", err)
	}
	if err := store.SetAlertEnabled(ctx, "user-1", draft.AlertOnTheClock, false); err != nil {
		t.Fatalf("disable failed: %v", err)
	}

	preference, err := store.Lookup(ctx, "user-1")
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if preference.Capability != CapabilityNative || preference.ChannelToken != "token-b" {
		t.Fatalf("expected latest device registration, got %+v", preference)
	}
	if preference.Enabled(draft.AlertOnTheClock) {
		t.Fatalf("expected on-the-clock alert to be disabled")
	}
	if !preference.Enabled(draft.AlertTwoPicksAway) {
		t.Fatalf("expected untouched kinds to stay enabled")
	}

	if err := store.SetAlertEnabled(ctx, "user-1", draft.AlertOnTheClock, true); err != nil {
		t.Fatalf("enable failed: %v", err)
	}
	preference, err = store.Lookup(ctx, "user-1")
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if !preference.Enabled(draft.AlertOnTheClock) {
		t.Fatalf("expected re-enabled alert to take effect immediately")
	}
}

func TestRemoveChannelTokenOnlyClearsMatchingToken(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.RegisterDevice(ctx, "user-1", CapabilityPush, "token-new"); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if err := store.RemoveChannelToken(ctx, "user-1", "token-old"); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	preference, _ := store.Lookup(ctx, "user-1")
	if preference.ChannelToken != "token-new" {
		t.Fatalf("expected newer token to survive, got %q", preference.ChannelToken)
	}

	if err := store.RemoveChannelToken(ctx, "user-1", "token-new"); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	preference, _ = store.Lookup(ctx, "user-1")
	if preference.HasChannelToken() {
		t.Fatalf("expected token to be cleared, got %q", preference.ChannelToken)
	}
}

func TestParseCapability(t *testing.T) {
	testCases := map[string]Capability{
		"native": CapabilityNative,
		" PUSH ": CapabilityPush,
		"":       CapabilityNone,
		"none":   CapabilityNone,
	}
	for input, expected := range testCases {
		capability, err := ParseCapability(input)
		if err != nil || capability != expected {
			t.Fatalf("ParseCapability(%q) = %q, %v", input, capability, err)
		}
	}
	if _, err := ParseCapability("sms"); err == nil {
		t.Fatalf("expected unknown capability to fail")
	}
}
