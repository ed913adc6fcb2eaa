package models

import "time"

// ChannelBreakdown is the per-channel row of DeliveryStats.
type ChannelBreakdown struct {
	Channel      Channel        `json:"channel"`
	DeliveryID   string         `json:"delivery_id,omitempty"`
	Status       DeliveryStatus `json:"status"`
	SentAt       *time.Time     `json:"sent_at,omitempty"`
	DeliveredAt  *time.Time     `json:"delivered_at,omitempty"`
	FailedAt     *time.Time     `json:"failed_at,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	RetryCount   int            `json:"retry_count"`
}

// DeliveryStats summarises delivery and engagement of one notification.
// Rates are percentages rounded to two decimals.
type DeliveryStats struct {
	NotificationID string             `json:"notification_id"`
	TotalChannels  int                `json:"total_channels"`
	Delivered      int                `json:"delivered"`
	Failed         int                `json:"failed"`
	Pending        int                `json:"pending"`
	Seen           int                `json:"seen"`
	DeliveryRate   float64            `json:"delivery_rate"`
	SeenRate       float64            `json:"seen_rate"`
	Channels       []ChannelBreakdown `json:"channels"`
}

// RetryResult is returned by an explicit delivery retry.
type RetryResult struct {
	Success    bool   `json:"success"`
	Message    string `json:"message"`
	RetryCount int    `json:"retry_count"`
}
