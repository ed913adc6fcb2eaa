package models

import "time"

type DeliveryStatus string

const (
	DeliveryPending    DeliveryStatus = "PENDING"
	DeliveryProcessing DeliveryStatus = "PROCESSING"
	DeliveryDelivered  DeliveryStatus = "DELIVERED"
	DeliveryFailed     DeliveryStatus = "FAILED"
	DeliveryRetrying   DeliveryStatus = "RETRYING"
)

// Metadata keys stored on a delivery row.
const (
	MetaRetryCount = "retryCount"
	MetaAttempts   = "attempts"
	MetaJobID      = "jobId"
	MetaProvider   = "providerMessageId"
)

// Delivery tracks one notification over one channel. There is at most one row
// per (NotificationID, Channel).
type Delivery struct {
	ID             string                 `json:"id"`
	NotificationID string                 `json:"notification_id"`
	Channel        Channel                `json:"channel"`
	Status         DeliveryStatus         `json:"status"`
	SentAt         *time.Time             `json:"sent_at,omitempty"`
	DeliveredAt    *time.Time             `json:"delivered_at,omitempty"`
	FailedAt       *time.Time             `json:"failed_at,omitempty"`
	ErrorMessage   string                 `json:"error_message,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
	UpdatedAt      time.Time              `json:"updated_at"`
}

// RetryCount reads the explicit-retry counter from metadata. JSON round trips
// turn numbers into float64, so both shapes are accepted.
func (d Delivery) RetryCount() int {
	return metaInt(d.Metadata, MetaRetryCount)
}

func (d Delivery) Attempts() int {
	return metaInt(d.Metadata, MetaAttempts)
}

func (d *Delivery) SetMeta(key string, value interface{}) {
	if d.Metadata == nil {
		d.Metadata = map[string]interface{}{}
	}
	d.Metadata[key] = value
}

func metaInt(m map[string]interface{}, key string) int {
	switch v := m[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}
