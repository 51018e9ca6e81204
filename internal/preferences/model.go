package preferences

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ErinHernandez/TopDog-sub011/internal/draft"
)

// ErrUnknownCapability indicates a device capability outside the supported set.
var ErrUnknownCapability = errors.New("preferences: unknown device capability")

// Capability describes which delivery channel a recipient's device supports.
type Capability string

const (
	// CapabilityNative devices can show an in-place, short-lived on-device alert.
	CapabilityNative Capability = "native"
	// CapabilityPush devices only receive remote push notifications.
	CapabilityPush Capability = "push"
	// CapabilityNone devices cannot be reached by this service.
	CapabilityNone Capability = "none"
)

// ParseCapability converts a stored or wire value into a Capability. Empty input means none.
func ParseCapability(value string) (Capability, error) {
	switch capability := Capability(strings.ToLower(strings.TrimSpace(value))); capability {
	case CapabilityNative, CapabilityPush, CapabilityNone:
		return capability, nil
	case "":
		return CapabilityNone, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownCapability, value)
	}
}

// Preference is the read-only delivery profile of one user.
type Preference struct {
	UserID       draft.UserID
	Capability   Capability
	ChannelToken string
	Disabled     map[draft.AlertKind]bool
}

// Enabled reports whether the user wants the alert kind. Kinds default to enabled.
func (p Preference) Enabled(kind draft.AlertKind) bool {
	return !p.Disabled[kind]
}

// HasChannelToken reports whether a remote push token is on file.
func (p Preference) HasChannelToken() bool {
	return strings.TrimSpace(p.ChannelToken) != ""
}

// Device captures the registered delivery endpoint of a user.
type Device struct {
	UserID       string    `gorm:"column:user_id;primaryKey;size:190;not null"`
	Capability   string    `gorm:"column:capability;size:16;not null"`
	ChannelToken string    `gorm:"column:channel_token;size:512;not null"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing registered devices.
func (Device) TableName() string {
	return "alert_devices"
}

// AlertSetting stores an explicit per-kind enable flag. Missing rows mean enabled.
type AlertSetting struct {
	UserID    string    `gorm:"column:user_id;primaryKey;size:190;not null"`
	AlertKind string    `gorm:"column:alert_kind;primaryKey;size:32;not null"`
	Enabled   bool      `gorm:"column:enabled;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing alert settings.
func (AlertSetting) TableName() string {
	return "alert_settings"
}
