package models

import "time"

// NotifyRequest is what an originating module sends to create and deliver a
// notification to a resolved audience.
type NotifyRequest struct {
	RequestID   string            `json:"request_id,omitempty"`
	Type        string            `json:"type"`
	EventKey    string            `json:"event_key"`
	Title       string            `json:"title"`
	Body        string            `json:"body"`
	Importance  Importance        `json:"importance,omitempty"`
	Channels    []Channel         `json:"channels,omitempty"`
	ActionURL   string            `json:"action_url,omitempty"`
	ActionType  string            `json:"action_type,omitempty"`
	ScheduledAt *time.Time        `json:"scheduled_at,omitempty"`
	Rule        TargetingRule     `json:"rule"`
	Context     ResolutionContext `json:"context"`
}

// NotifyResult lists what Notify created.
type NotifyResult struct {
	NotificationIDs []string `json:"notification_ids"`
	Recipients      int      `json:"recipients"`
	Skipped         int      `json:"skipped"`
}
