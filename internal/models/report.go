package models

import (
	"strings"
	"time"
)

type ReportStatus string

const (
	ReportPending   ReportStatus = "pending"
	ReportResolved  ReportStatus = "resolved"
	ReportDismissed ReportStatus = "dismissed"
)

func (s ReportStatus) Valid() bool {
	switch s {
	case ReportPending, ReportResolved, ReportDismissed:
		return true
	}
	return false
}

// ReportCategory is the reason a reporter picked. Each category has a fixed
// severity tier.
type ReportCategory string

const (
	CategoryThreatsViolence     ReportCategory = "threats_violence"
	CategoryNudityInappropriate ReportCategory = "nudity_inappropriate"
	CategoryHateSpeech          ReportCategory = "hate_speech"
	CategoryScam                ReportCategory = "scam"
	CategoryHarassment          ReportCategory = "harassment"
	CategorySelfHarm            ReportCategory = "self_harm"
	CategoryImpersonation       ReportCategory = "impersonation"
	CategorySpam                ReportCategory = "spam"
	CategoryMisinformation      ReportCategory = "misinformation"
	CategoryOffTopic            ReportCategory = "off_topic"
	CategoryOther               ReportCategory = "other"
)

var categoryAliases = map[string]ReportCategory{
	"threats/violence":     CategoryThreatsViolence,
	"threats":              CategoryThreatsViolence,
	"violence":             CategoryThreatsViolence,
	"nudity/inappropriate": CategoryNudityInappropriate,
	"nudity":               CategoryNudityInappropriate,
	"inappropriate":        CategoryNudityInappropriate,
	"hate speech":          CategoryHateSpeech,
	"scam/fraud":           CategoryScam,
	"fraud":                CategoryScam,
	"bullying":             CategoryHarassment,
	"harassment/bullying":  CategoryHarassment,
	"self-harm":            CategorySelfHarm,
	"off-topic":            CategoryOffTopic,
	"false information":    CategoryMisinformation,
}

// NormalizeCategory maps display labels used by older clients onto the
// canonical category values. Unrecognised input is returned lower-cased.
func NormalizeCategory(raw string) ReportCategory {
	key := strings.ToLower(strings.TrimSpace(raw))
	if c, ok := categoryAliases[key]; ok {
		return c
	}
	return ReportCategory(strings.ReplaceAll(key, " ", "_"))
}

type Report struct {
	ID             string         `json:"id" firestore:"-"`
	ReporterID     string         `json:"reporter_id" firestore:"reporterId"`
	ReportedUserID string         `json:"reported_user_id" firestore:"reportedUserId"`
	PostID         string         `json:"post_id" firestore:"postId"`
	Category       ReportCategory `json:"category" firestore:"category"`
	Description    string         `json:"description" firestore:"description"`
	ReportCount    int            `json:"report_count" firestore:"reportCount"`
	Status         ReportStatus   `json:"status" firestore:"status"`
	AutoRemoved    bool           `json:"auto_removed" firestore:"autoRemoved"`
	// Counted is set once the report has been added to the post's reportCount.
	Counted   bool      `json:"-" firestore:"counted"`
	CreatedAt time.Time `json:"created_at" firestore:"createdAt"`
	UpdatedAt time.Time `json:"updated_at" firestore:"updatedAt"`
}

// ReportUpdate carries the fields the lifecycle manager and admins may change.
type ReportUpdate struct {
	Status      ReportStatus
	AutoRemoved *bool
	UpdatedAt   time.Time
}

type UpdateReportStatusRequest struct {
	Status ReportStatus `json:"status"`
}

func (r *UpdateReportStatusRequest) Validate() map[string]string {
	errors := make(map[string]string)

	if r.Status != ReportResolved && r.Status != ReportDismissed {
		errors["status"] = "Status must be resolved or dismissed"
	}

	return errors
}
