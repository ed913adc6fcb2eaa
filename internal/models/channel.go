package models

import (
	"fmt"
	"strings"
)

// Channel identifies a delivery transport.
type Channel string

const (
	ChannelInApp    Channel = "IN_APP"
	ChannelEmail    Channel = "EMAIL"
	ChannelPush     Channel = "PUSH"
	ChannelWhatsApp Channel = "WHATSAPP"
)

// Channels lists every supported channel in a stable order.
var Channels = []Channel{ChannelInApp, ChannelEmail, ChannelPush, ChannelWhatsApp}

// ParseChannel accepts the canonical name case-insensitively.
func ParseChannel(s string) (Channel, error) {
	c := Channel(strings.ToUpper(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", fmt.Errorf("unknown channel %q", s)
	}
	return c, nil
}

func (c Channel) Valid() bool {
	for _, known := range Channels {
		if c == known {
			return true
		}
	}
	return false
}

// Importance is the notification urgency tier. Ordering matters: thresholds
// compare by rank.
type Importance string

const (
	ImportanceLow    Importance = "LOW"
	ImportanceNormal Importance = "NORMAL"
	ImportanceHigh   Importance = "HIGH"
	ImportanceUrgent Importance = "URGENT"
)

var importanceRank = map[Importance]int{
	ImportanceLow:    0,
	ImportanceNormal: 1,
	ImportanceHigh:   2,
	ImportanceUrgent: 3,
}

func ParseImportance(s string) (Importance, error) {
	i := Importance(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := importanceRank[i]; !ok {
		return "", fmt.Errorf("unknown importance %q", s)
	}
	return i, nil
}

func (i Importance) Valid() bool {
	_, ok := importanceRank[i]
	return ok
}

// AtLeast reports whether i ranks at or above min. An empty min always passes.
func (i Importance) AtLeast(min Importance) bool {
	if min == "" {
		return true
	}
	return importanceRank[i] >= importanceRank[min]
}

// Priority is the queue priority derived from importance.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// PriorityFor maps an importance tier to its queue priority.
func PriorityFor(i Importance) Priority {
	switch i {
	case ImportanceLow:
		return PriorityLow
	case ImportanceHigh:
		return PriorityHigh
	case ImportanceUrgent:
		return PriorityCritical
	default:
		return PriorityNormal
	}
}

// MaxAttempts is the attempt ceiling for a job of this priority.
func (p Priority) MaxAttempts() int {
	switch p {
	case PriorityLow:
		return 2
	case PriorityHigh:
		return 4
	case PriorityCritical:
		return 5
	default:
		return 3
	}
}

// Rank orders priorities for the queue; lower runs first.
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityLow:
		return 3
	default:
		return 2
	}
}
