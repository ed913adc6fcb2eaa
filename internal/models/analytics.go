package models

import "time"

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

type ChannelStat struct {
	Channel   Channel `json:"channel"`
	Total     int     `json:"total"`
	Delivered int     `json:"delivered"`
	Failed    int     `json:"failed"`
	Rate      float64 `json:"delivery_rate"`
}

type SeriesPoint struct {
	Day       time.Time `json:"day"`
	Created   int       `json:"created"`
	Delivered int       `json:"delivered"`
	Failed    int       `json:"failed"`
}

type FailureReason struct {
	Reason string `json:"reason"`
	Count  int    `json:"count"`
}

type Engagement struct {
	Delivered        int     `json:"delivered"`
	Seen             int     `json:"seen"`
	SeenRate         float64 `json:"seen_rate"`
	AvgSecondsToSeen float64 `json:"avg_seconds_to_seen"`
	RemindersSet     int     `json:"reminders_set"`
}

type AnalyticsOverview struct {
	Range          TimeRange       `json:"range"`
	Total          int             `json:"total"`
	ByType         map[string]int  `json:"by_type"`
	ByChannel      []ChannelStat   `json:"by_channel"`
	Series         []SeriesPoint   `json:"series"`
	FailureReasons []FailureReason `json:"failure_reasons"`
	Engagement     Engagement      `json:"engagement"`
	GeneratedAt    time.Time       `json:"generated_at"`
}
