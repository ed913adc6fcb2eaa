package models

// ChannelConfig is read-only reference data per event key.
type ChannelConfig struct {
	Channel       Channel    `json:"channel"`
	Enabled       bool       `json:"enabled"`
	Mandatory     bool       `json:"mandatory"`
	DefaultOn     bool       `json:"default_on"`
	MinImportance Importance `json:"min_importance,omitempty"`
}

// ChannelOverride is a partial ChannelConfig; nil fields pass through.
type ChannelOverride struct {
	Channel   Channel `json:"channel"`
	Enabled   *bool   `json:"enabled,omitempty"`
	Mandatory *bool   `json:"mandatory,omitempty"`
	DefaultOn *bool   `json:"default_on,omitempty"`
}

// SectorOverride applies to users whose sector privilege matches.
type SectorOverride struct {
	SectorPrivilege string            `json:"sector_privilege"`
	Channels        []ChannelOverride `json:"channels,omitempty"`
	Importance      *Importance       `json:"importance,omitempty"`
}

// NotificationConfiguration is the channel setup for one type+event key.
type NotificationConfiguration struct {
	Key             string           `json:"key"`
	Type            string           `json:"type"`
	EventType       string           `json:"event_type,omitempty"`
	Importance      Importance       `json:"importance"`
	Channels        []ChannelConfig  `json:"channels"`
	SectorOverrides []SectorOverride `json:"sector_overrides,omitempty"`
}

// UserNotificationPreference is mutated by the user. Type and EventType are empty
// for the user's global preference.
type UserNotificationPreference struct {
	UserID            string    `json:"user_id"`
	Type              string    `json:"type,omitempty"`
	EventType         string    `json:"event_type,omitempty"`
	Enabled           bool      `json:"enabled"`
	Channels          []Channel `json:"channels"`
	MandatoryChannels []Channel `json:"mandatory_channels,omitempty"`
}

// ResolvedChannel is the final decision for one channel and one user.
type ResolvedChannel struct {
	Channel      Channel `json:"channel"`
	Mandatory    bool    `json:"mandatory"`
	FromOverride bool    `json:"from_override"`
}
