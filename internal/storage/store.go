package storage

import (
	"context"
	"time"

	"github.com/campuspulse/console/internal/models"
)

// Collection names shared by every backend.
const (
	ColConfiguration     = "configuration"
	ColConfigurationLogs = "configuration_logs"
	ColReports           = "reports"
	ColPosts             = "posts"
	ColAnnouncements     = "announcements"
	ColUsers             = "users"
	ColNotifications     = "notifications"
	ColNotificationLogs  = "notification_logs"

	configurationDocID = "current"
)

// InQueryLimit is the largest id set a single "in" filter may carry.
const InQueryLimit = 10

// Store is the persistence port of the moderation engine. Every conditional
// write re-checks current state inside the backend so callers never rely on a
// previous read still being valid.
type Store interface {
	// Configuration. GetConfiguration returns ErrNotFound when no document
	// exists yet.
	GetConfiguration(ctx context.Context) (*models.Configuration, error)
	SaveConfiguration(ctx context.Context, cfg *models.Configuration, changes []models.ConfigurationChangeLog) error
	WatchConfiguration(ctx context.Context, onChange func(*models.Configuration), onError func(error)) (stop func(), err error)
	ListConfigurationLogs(ctx context.Context, limit int) ([]*models.ConfigurationChangeLog, error)

	// Posts. RemovePost only transitions a post that is not already removed
	// and reports whether it did. byReport is stamped as RemovedByReport.
	GetPost(ctx context.Context, id string) (*models.Post, error)
	RemovePost(ctx context.Context, id, byReport, reason string, at time.Time) (bool, error)
	ListPostIDsByUser(ctx context.Context, userID string) ([]string, error)
	ListActivePostsCreatedBefore(ctx context.Context, cutoff time.Time, limit int) ([]*models.Post, error)
	ExpirePosts(ctx context.Context, ids []string, cutoff, at time.Time) ([]string, error)

	// Reports. CountReport atomically increments the target post's report
	// count the first time it sees a report and returns the post's count.
	// ResolvePendingReportsForPosts accepts at most InQueryLimit post ids.
	CreateReport(ctx context.Context, r *models.Report) error
	GetReport(ctx context.Context, id string) (*models.Report, error)
	UpdateReport(ctx context.Context, id string, upd models.ReportUpdate) error
	CountReport(ctx context.Context, reportID string) (count int, counted bool, err error)
	ResolvePendingReportsForPosts(ctx context.Context, postIDs []string, at time.Time) (int, error)
	WatchNewReports(ctx context.Context, onReport func(*models.Report), onError func(error)) (stop func(), err error)

	// Announcements. TransitionAnnouncement fails with ErrConflict when the
	// current status is not one of from. TransitionDueAnnouncements commits
	// the whole batch or nothing and returns the ids it moved.
	CreateAnnouncement(ctx context.Context, a *models.Announcement) error
	GetAnnouncement(ctx context.Context, id string) (*models.Announcement, error)
	TransitionAnnouncement(ctx context.Context, id string, from []models.AnnouncementStatus, to models.AnnouncementStatus, at time.Time) (*models.Announcement, error)
	ListDueAnnouncements(ctx context.Context, status models.AnnouncementStatus, now time.Time, limit int) ([]*models.Announcement, error)
	TransitionDueAnnouncements(ctx context.Context, ids []string, from, to models.AnnouncementStatus, now, at time.Time) ([]string, error)

	// Users
	GetUser(ctx context.Context, id string) (*models.User, error)
	IncrementWarningCount(ctx context.Context, id string, at time.Time) (*models.User, error)
	ApplySanction(ctx context.Context, id string, s models.UserSanction) (*models.User, error)
	ClearPushToken(ctx context.Context, id string) error
	ListAdminIDs(ctx context.Context) ([]string, error)

	// Notifications. CreateNotification fails with ErrAlreadyExists when the
	// id is taken.
	CreateNotification(ctx context.Context, n *models.Notification) error
	GetNotification(ctx context.Context, id string) (*models.Notification, error)
	CountUnreadNotifications(ctx context.Context, userID string) (int, error)
	AppendNotificationLog(ctx context.Context, l *models.NotificationLog) error
}

// dueTime returns the date a sweep compares against for announcements in
// the given status.
func dueTime(a *models.Announcement, status models.AnnouncementStatus) time.Time {
	if status == models.AnnouncementActive {
		return a.EndDate
	}
	return a.StartDate
}

// isDue reports whether a still sits in status and its relevant date has
// passed.
func isDue(a *models.Announcement, status models.AnnouncementStatus, now time.Time) bool {
	if models.ParseAnnouncementStatus(string(a.Status)) != status {
		return false
	}
	return !dueTime(a, status).After(now)
}

func containsStatus(list []models.AnnouncementStatus, s models.AnnouncementStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// stampAnnouncement sets the timestamp that belongs to entering status to.
func stampAnnouncement(a *models.Announcement, to models.AnnouncementStatus, at time.Time) {
	t := at
	switch to {
	case models.AnnouncementScheduled:
		a.ApprovedAt = &t
	case models.AnnouncementDeclined:
		a.RejectedAt = &t
	case models.AnnouncementActive:
		a.ActivatedAt = &t
	case models.AnnouncementExpired:
		a.ExpiredAt = &t
	case models.AnnouncementRemoved:
		a.RemovedAt = &t
	}
	a.Status = to
	a.UpdatedAt = at
}

// announcementStampField is the document field stampAnnouncement writes for
// a status, in the firestore naming.
func announcementStampField(to models.AnnouncementStatus) string {
	switch to {
	case models.AnnouncementScheduled:
		return "approvedAt"
	case models.AnnouncementDeclined:
		return "rejectedAt"
	case models.AnnouncementActive:
		return "activatedAt"
	case models.AnnouncementExpired:
		return "expiredAt"
	case models.AnnouncementRemoved:
		return "removedAt"
	}
	return ""
}
