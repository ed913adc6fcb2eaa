package models

import "time"

// SeenRecord is unique per (NotificationID, UserID). RemindAt carries the whole
// reminder lifecycle; nil means no pending reminder.
type SeenRecord struct {
	ID             string     `json:"id"`
	NotificationID string     `json:"notification_id"`
	UserID         string     `json:"user_id"`
	SeenAt         time.Time  `json:"seen_at"`
	RemindAt       *time.Time `json:"remind_at,omitempty"`
	ReminderCount  int        `json:"reminder_count"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Reminder is the caller-facing view of a scheduled reminder.
type Reminder struct {
	NotificationID     string     `json:"notification_id"`
	UserID             string     `json:"user_id"`
	RemindAt           *time.Time `json:"remind_at"`
	ReminderCount      int        `json:"reminder_count"`
	RemainingReminders int        `json:"remaining_reminders"`
	Adjusted           bool       `json:"adjusted"`
}
