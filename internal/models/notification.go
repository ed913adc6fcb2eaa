package models

import "time"

// Notification is immutable after dispatch except for SentAt.
type Notification struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Body        string     `json:"body"`
	Type        string     `json:"type"`
	EventKey    string     `json:"event_key,omitempty"`
	Importance  Importance `json:"importance"`
	Channels    []Channel  `json:"channels"`
	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`
	ActionURL   string     `json:"action_url,omitempty"`
	ActionType  string     `json:"action_type,omitempty"`
	UserID      *string    `json:"user_id,omitempty"`
	SentAt      *time.Time `json:"sent_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func (n Notification) IsUrgent() bool {
	return n.Importance == ImportanceUrgent
}

// AddressedTo reports whether userID receives n. A notification without an
// owning user is a broadcast and addresses everyone.
func (n Notification) AddressedTo(userID string) bool {
	return n.UserID == nil || *n.UserID == userID
}
