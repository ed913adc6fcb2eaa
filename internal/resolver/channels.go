package resolver

import (
	"context"
	"fmt"

	"notification-engine/internal/logging"
	"notification-engine/internal/models"
)

// PreferenceStore loads user preferences for a batch of users in one query.
type PreferenceStore interface {
	PreferencesForUsers(ctx context.Context, userIDs []string, typ, eventType string) (map[string][]models.UserNotificationPreference, error)
}

// effectiveChannel is a ChannelConfig after zero or more override stages.
type effectiveChannel struct {
	models.ChannelConfig
	fromOverride bool
}

// stage is one layer of the config -> sector -> user precedence pipeline.
type stage func(effectiveChannel) effectiveChannel

func sectorStage(o models.ChannelOverride) stage {
	return func(ec effectiveChannel) effectiveChannel {
		if o.Enabled != nil {
			ec.Enabled = *o.Enabled
			ec.fromOverride = true
		}
		if o.Mandatory != nil {
			ec.Mandatory = *o.Mandatory
			ec.fromOverride = true
		}
		if o.DefaultOn != nil {
			ec.DefaultOn = *o.DefaultOn
			ec.fromOverride = true
		}
		return ec
	}
}

// stagesFor returns the override stages that apply to channel for user.
func stagesFor(cfg models.NotificationConfiguration, user models.User, channel models.Channel) []stage {
	var stages []stage
	privilege := user.SectorPrivilege()
	if privilege == "" {
		return nil
	}
	for _, so := range cfg.SectorOverrides {
		if so.SectorPrivilege != privilege {
			continue
		}
		for _, o := range so.Channels {
			if o.Channel == channel {
				stages = append(stages, sectorStage(o))
			}
		}
	}
	return stages
}

// effectiveImportance applies a matching sector importance override.
func effectiveImportance(cfg models.NotificationConfiguration, user models.User) models.Importance {
	importance := cfg.Importance
	privilege := user.SectorPrivilege()
	for _, so := range cfg.SectorOverrides {
		if privilege != "" && so.SectorPrivilege == privilege && so.Importance != nil {
			importance = *so.Importance
		}
	}
	return importance
}

// pickPreference chooses the most specific preference: type+event, then type,
// then global.
func pickPreference(prefs []models.UserNotificationPreference, typ, eventType string) *models.UserNotificationPreference {
	var best *models.UserNotificationPreference
	bestScore := -1
	for i := range prefs {
		p := &prefs[i]
		score := -1
		switch {
		case p.Type == "" && p.EventType == "":
			score = 0
		case p.Type == typ && p.EventType == "":
			score = 1
		case p.Type == typ && p.EventType == eventType:
			score = 2
		}
		if score > bestScore {
			best, bestScore = p, score
		}
	}
	return best
}

func containsChannel(list []models.Channel, c models.Channel) bool {
	for _, x := range list {
		if x == c {
			return true
		}
	}
	return false
}

// decide applies the inclusion predicate in fixed order: disabled, mandatory
// (config or user-declared), importance threshold, explicit preference, default.
func decide(ec effectiveChannel, importance models.Importance, pref *models.UserNotificationPreference) (models.ResolvedChannel, bool) {
	rc := models.ResolvedChannel{Channel: ec.Channel, FromOverride: ec.fromOverride}
	if !ec.Enabled {
		return rc, false
	}
	if ec.Mandatory {
		rc.Mandatory = true
		return rc, true
	}
	if pref != nil && containsChannel(pref.MandatoryChannels, ec.Channel) {
		rc.Mandatory = true
		return rc, true
	}
	if !importance.AtLeast(ec.MinImportance) {
		return rc, false
	}
	if pref != nil {
		if !pref.Enabled {
			return rc, false
		}
		return rc, containsChannel(pref.Channels, ec.Channel)
	}
	return rc, ec.DefaultOn
}

// Resolve computes the enabled channels for one user. pref may be nil.
func Resolve(cfg models.NotificationConfiguration, user models.User, pref *models.UserNotificationPreference) []models.ResolvedChannel {
	importance := effectiveImportance(cfg, user)
	out := make([]models.ResolvedChannel, 0, len(cfg.Channels))
	for _, base := range cfg.Channels {
		ec := effectiveChannel{ChannelConfig: base}
		for _, s := range stagesFor(cfg, user, base.Channel) {
			ec = s(ec)
		}
		if rc, ok := decide(ec, importance, pref); ok {
			out = append(out, rc)
		}
	}
	return out
}

// ChannelResolver resolves channels against stored user preferences.
type ChannelResolver struct {
	prefs  PreferenceStore
	logger *logging.Logger
}

func NewChannelResolver(prefs PreferenceStore, logger *logging.Logger) *ChannelResolver {
	return &ChannelResolver{prefs: prefs, logger: logger}
}

func (c *ChannelResolver) ResolveForUser(ctx context.Context, cfg models.NotificationConfiguration, user models.User) ([]models.ResolvedChannel, error) {
	byUser, err := c.ResolveForUsers(ctx, cfg, []models.User{user})
	if err != nil {
		return nil, err
	}
	return byUser[user.ID], nil
}

// ResolveForUsers resolves channels for every user with a single preference query.
func (c *ChannelResolver) ResolveForUsers(ctx context.Context, cfg models.NotificationConfiguration, users []models.User) (map[string][]models.ResolvedChannel, error) {
	out := make(map[string][]models.ResolvedChannel, len(users))
	if len(users) == 0 {
		return out, nil
	}

	prefs, err := c.prefs.PreferencesForUsers(ctx, ids(users), cfg.Type, cfg.EventType)
	if err != nil {
		return nil, fmt.Errorf("failed to load preferences: %w", err)
	}

	for _, u := range users {
		out[u.ID] = Resolve(cfg, u, pickPreference(prefs[u.ID], cfg.Type, cfg.EventType))
	}
	c.logger.Debugf("Resolved channels for %d users on %s", len(users), cfg.Key)
	return out, nil
}
