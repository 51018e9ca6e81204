package delivery

import (
	"github.com/ErinHernandez/TopDog-sub011/internal/draft"
	"github.com/ErinHernandez/TopDog-sub011/internal/preferences"
)

// Channel identifies the route an alert takes to a device.
type Channel string

const (
	ChannelNative Channel = "native"
	ChannelPush   Channel = "push"
	ChannelNone   Channel = "none"
)

// Select picks the delivery channel for one recipient and alert kind.
// Native devices get the on-device alert while a live session is open and fall back to push
// when a token is on file. A disabled kind or an unreachable user yields ChannelNone.
func Select(preference preferences.Preference, kind draft.AlertKind, liveReachable bool, pushEnabled bool) Channel {
	if !preference.Enabled(kind) {
		return ChannelNone
	}
	pushable := pushEnabled && preference.HasChannelToken()
	switch preference.Capability {
	case preferences.CapabilityNative:
		if liveReachable {
			return ChannelNative
		}
		if pushable {
			return ChannelPush
		}
	case preferences.CapabilityPush:
		if pushable {
			return ChannelPush
		}
	}
	return ChannelNone
}
