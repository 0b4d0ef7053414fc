package models

import "time"

// ReportThresholds are the report counts at which a post is shown as normal,
// warning or urgent on the admin dashboard. They must be strictly ascending.
type ReportThresholds struct {
	Normal  int `json:"normal" firestore:"normal" validate:"gte=1"`
	Warning int `json:"warning" firestore:"warning" validate:"gte=1,gtfield=Normal"`
	Urgent  int `json:"urgent" firestore:"urgent" validate:"gte=1,gtfield=Warning"`
}

// Configuration is the singleton document holding moderation tunables.
type Configuration struct {
	PostVisibilityDurationHours int              `json:"post_visibility_duration_hours" firestore:"postVisibilityDurationHours" validate:"gte=1"`
	DailyFreePostLimit          int              `json:"daily_free_post_limit" firestore:"dailyFreePostLimit" validate:"gte=0"`
	ReportThresholds            ReportThresholds `json:"report_thresholds" firestore:"reportThresholds"`
	BanThreshold                int              `json:"ban_threshold" firestore:"banThreshold" validate:"gte=1"`
	BanDurationDays             int              `json:"ban_duration_days" firestore:"banDurationDays" validate:"gte=1"`
	EmojiPinPrice               float64          `json:"emoji_pin_price" firestore:"emojiPinPrice" validate:"gte=0.01,lte=99.99"`
	LastUpdated                 time.Time        `json:"last_updated" firestore:"lastUpdated"`
	UpdatedBy                   string           `json:"updated_by" firestore:"updatedBy"`
}

// DefaultConfiguration is written the first time the configuration is read and
// no document exists yet.
func DefaultConfiguration() Configuration {
	return Configuration{
		PostVisibilityDurationHours: 24,
		DailyFreePostLimit:          3,
		ReportThresholds: ReportThresholds{
			Normal:  1,
			Warning: 5,
			Urgent:  10,
		},
		BanThreshold:    5,
		BanDurationDays: 7,
		EmojiPinPrice:   0.99,
		UpdatedBy:       "system",
	}
}

// ConfigurationUpdate is a partial update; nil fields are left unchanged.
type ConfigurationUpdate struct {
	PostVisibilityDurationHours *int              `json:"post_visibility_duration_hours"`
	DailyFreePostLimit          *int              `json:"daily_free_post_limit"`
	ReportThresholds            *ReportThresholds `json:"report_thresholds"`
	BanThreshold                *int              `json:"ban_threshold"`
	BanDurationDays             *int              `json:"ban_duration_days"`
	EmojiPinPrice               *float64          `json:"emoji_pin_price"`
}

// ConfigurationChangeLog records a single field change made through the
// audited update path. Entries are append-only.
type ConfigurationChangeLog struct {
	ID        string    `json:"id" firestore:"-"`
	Field     string    `json:"field" firestore:"field"`
	OldValue  string    `json:"old_value" firestore:"oldValue"`
	NewValue  string    `json:"new_value" firestore:"newValue"`
	ChangedBy string    `json:"changed_by" firestore:"changedBy"`
	ChangedAt time.Time `json:"changed_at" firestore:"changedAt"`
}
