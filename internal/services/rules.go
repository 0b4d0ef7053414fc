package services

import (
	"time"

	"github.com/campuspulse/console/internal/models"
)

// Severity is the fixed tier of a report category.
type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
	SeverityLow    Severity = "low"
	SeverityOther  Severity = "other"
)

// AggregateSeverity is the report-count urgency shown on the admin dashboard.
type AggregateSeverity string

const (
	AggregateNormal  AggregateSeverity = "normal"
	AggregateWarning AggregateSeverity = "warning"
	AggregateUrgent  AggregateSeverity = "urgent"
)

var categorySeverity = map[models.ReportCategory]Severity{
	models.CategoryThreatsViolence:     SeverityHigh,
	models.CategoryNudityInappropriate: SeverityHigh,
	models.CategoryHateSpeech:          SeverityHigh,
	models.CategoryScam:                SeverityHigh,
	models.CategoryHarassment:          SeverityMedium,
	models.CategorySelfHarm:            SeverityMedium,
	models.CategoryImpersonation:       SeverityMedium,
	models.CategorySpam:                SeverityLow,
	models.CategoryMisinformation:      SeverityLow,
	models.CategoryOffTopic:            SeverityLow,
	models.CategoryOther:               SeverityOther,
}

// Rules holds the pure moderation rules. It has no state; one value is built
// at startup and passed to the services that need it.
type Rules struct{}

func NewRules() *Rules {
	return &Rules{}
}

// Classify maps a category to its severity. Unknown categories are other.
func (r *Rules) Classify(category models.ReportCategory) Severity {
	if s, ok := categorySeverity[models.NormalizeCategory(string(category))]; ok {
		return s
	}
	return SeverityOther
}

// AutoRemovable reports whether a single report in category removes the post.
func (r *Rules) AutoRemovable(category models.ReportCategory) bool {
	return r.Classify(category) == SeverityHigh
}

// AggregateSeverity classifies a post's report count against the configured
// thresholds.
func (r *Rules) AggregateSeverity(reportCount int, t models.ReportThresholds) AggregateSeverity {
	switch {
	case reportCount >= t.Urgent:
		return AggregateUrgent
	case reportCount >= t.Warning:
		return AggregateWarning
	default:
		return AggregateNormal
	}
}

// CrossedUrgent reports whether going from count-1 to count reached the
// urgent threshold.
func (r *Rules) CrossedUrgent(count int, t models.ReportThresholds) bool {
	return count >= t.Urgent && count-1 < t.Urgent
}

// PostExpiresAt is when a post created at createdAt stops being visible.
func (r *Rules) PostExpiresAt(createdAt time.Time, visibilityHours int) time.Time {
	return createdAt.Add(time.Duration(visibilityHours) * time.Hour)
}

// BanRecommended reports whether a user's warning count has reached the ban
// threshold. It is advisory only.
func (r *Rules) BanRecommended(warningCount, banThreshold int) bool {
	return banThreshold > 0 && warningCount >= banThreshold
}

// RemovalReason is the removedReason stamped on auto-removed posts.
func (r *Rules) RemovalReason(category models.ReportCategory) string {
	return "auto-removed due to high-severity report: " + string(category)
}

// chunkIDs splits ids into groups of at most size.
func chunkIDs(ids []string, size int) [][]string {
	if size <= 0 {
		size = 1
	}
	out := make([][]string, 0, (len(ids)+size-1)/size)
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		out = append(out, ids[start:end])
	}
	return out
}
