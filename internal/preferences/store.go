package preferences

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ErinHernandez/TopDog-sub011/internal/draft"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrMissingDatabase indicates that the store was constructed without a database handle.
var ErrMissingDatabase = errors.New("preferences: database connection required")

// StoreConfig describes the dependencies of the preference store.
type StoreConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
}

// Store reads delivery preferences on behalf of the dispatcher and lets it drop stale tokens.
// Reads are never cached so that a re-enabled alert takes effect on the next occasion.
type Store struct {
	db  *gorm.DB
	now func() time.Time
}

// NewStore constructs the preference store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Database == nil {
		return nil, ErrMissingDatabase
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Store{db: cfg.Database, now: clock}, nil
}

// Lookup returns the preference of userID. Users without a registered device are unreachable.
func (s *Store) Lookup(ctx context.Context, userID draft.UserID) (Preference, error) {
	preference := Preference{
		UserID:     userID,
		Capability: CapabilityNone,
		Disabled:   map[draft.AlertKind]bool{},
	}

	var device Device
	err := s.db.WithContext(ctx).Where("user_id = ?", userID.String()).Take(&device).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
	case err != nil:
		return Preference{}, fmt.Errorf("preferences: load device for %s: %w", userID, err)
	default:
		capability, parseErr := ParseCapability(device.Capability)
		if parseErr != nil {
			capability = CapabilityNone
		}
		preference.Capability = capability
		preference.ChannelToken = device.ChannelToken
	}

	var settings []AlertSetting
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID.String()).Find(&settings).Error; err != nil {
		return Preference{}, fmt.Errorf("preferences: load alert settings for %s: %w", userID, err)
	}
	for _, setting := range settings {
		kind, parseErr := draft.ParseAlertKind(setting.AlertKind)
		if parseErr != nil {
			continue
		}
		if !setting.Enabled {
			preference.Disabled[kind] = true
		}
	}
	return preference, nil
}

// RemoveChannelToken clears token from the user's device if it is still the registered one.
// A token re-registered in the meantime is left untouched.
func (s *Store) RemoveChannelToken(ctx context.Context, userID draft.UserID, token string) error {
	err := s.db.WithContext(ctx).
		Model(&Device{}).
		Where("user_id = ? AND channel_token = ?", userID.String(), token).
		Updates(map[string]interface{}{
			"channel_token": "",
			"updated_at":    s.now(),
		}).Error
	if err != nil {
		return fmt.Errorf("preferences: remove channel token for %s: %w", userID, err)
	}
	return nil
}

// RegisterDevice records the delivery endpoint of a user, replacing any previous one.
func (s *Store) RegisterDevice(ctx context.Context, userID draft.UserID, capability Capability, token string) error {
	device := Device{
		UserID:       userID.String(),
		Capability:   string(capability),
		ChannelToken: token,
		UpdatedAt:    s.now(),
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"capability", "channel_token", "updated_at"}),
	}).Create(&device).Error
	if err != nil {
		return fmt.Errorf("preferences: register device for %s: %w", userID, err)
	}
	return nil
}

// SetAlertEnabled toggles one alert kind for a user.
func (s *Store) SetAlertEnabled(ctx context.Context, userID draft.UserID, kind draft.AlertKind, enabled bool) error {
	setting := AlertSetting{
		UserID:    userID.String(),
		AlertKind: kind.String(),
		Enabled:   enabled,
		UpdatedAt: s.now(),
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "alert_kind"}},
		DoUpdates: clause.AssignmentColumns([]string{"enabled", "updated_at"}),
	}).Create(&setting).Error
	if err != nil {
		return fmt.Errorf("preferences: set %s for %s: %w", kind, userID, err)
	}
	return nil
}
