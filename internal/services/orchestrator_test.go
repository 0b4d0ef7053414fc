package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campuspulse/console/internal/models"
	"github.com/campuspulse/console/internal/storage"
)

func TestHandleReportCreated_UrgentNoticeOncePerAdmin(t *testing.T) {
	e := newMemoryEngine(t)
	ctx := context.Background()
	e.mem.PutUser(&models.User{ID: "admin-a", Role: models.RoleAdmin, FCMToken: "token-admin-a"})
	e.mem.PutUser(&models.User{ID: "admin-b", Role: models.RoleAdmin})
	e.mem.PutPost(&models.Post{ID: "p1", UserID: "author", CreatedAt: testNow})

	for i := 1; i <= 9; i++ {
		id := fmt.Sprintf("r%02d", i)
		e.createReport(t, id, "p1", "author", models.CategorySpam)
		out, err := e.HandleReportCreated(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, i, out.ReportCount)
		assert.Empty(t, out.UrgentNotified)
	}
	assert.Empty(t, e.mem.Notifications("admin-a"))

	e.createReport(t, "r10", "p1", "author", models.CategorySpam)
	out, err := e.HandleReportCreated(ctx, "r10")
	require.NoError(t, err)
	assert.Equal(t, AggregateUrgent, out.Severity)
	assert.Equal(t, []string{"admin-a", "admin-b"}, out.UrgentNotified)
	require.Len(t, e.mailer.Alerts(), 1)
	assert.Equal(t, "p1", e.mailer.Alerts()[0].PostID)
	assert.Equal(t, 10, e.mailer.Alerts()[0].Threshold)

	// Redelivery of the same event does not count twice or notify again.
	out, err = e.HandleReportCreated(ctx, "r10")
	require.NoError(t, err)
	assert.Equal(t, 10, out.ReportCount)
	assert.Empty(t, out.UrgentNotified)

	// Neither does the next report on an already urgent post.
	e.createReport(t, "r11", "p1", "author", models.CategorySpam)
	out, err = e.HandleReportCreated(ctx, "r11")
	require.NoError(t, err)
	assert.Equal(t, 11, out.ReportCount)
	assert.Empty(t, out.UrgentNotified)

	assert.Len(t, e.mem.Notifications("admin-a"), 1)
	assert.Len(t, e.mem.Notifications("admin-b"), 1)
	assert.Len(t, e.mailer.Alerts(), 1)

	post, _ := e.mem.GetPost(ctx, "p1")
	assert.Equal(t, 11, post.ReportCount)
	assert.Equal(t, models.PostActive, post.Status)
}

func TestStart_ProcessesReportsFromSubscription(t *testing.T) {
	e := newMemoryEngine(t)
	ctx := context.Background()
	e.mem.PutPost(&models.Post{ID: "p1", UserID: "author", CreatedAt: testNow})
	e.mem.PutPost(&models.Post{ID: "p2", UserID: "author", CreatedAt: testNow})

	// Reports created before the subscription are replayed.
	e.createReport(t, "early", "p1", "author", models.CategoryNudityInappropriate)
	require.NoError(t, e.Start(ctx))

	e.createReport(t, "late", "p2", "author", models.CategoryScam)

	for _, id := range []string{"p1", "p2"} {
		post, err := e.mem.GetPost(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.PostRemoved, post.Status, id)
		assert.Equal(t, 1, post.ReportCount, id)
	}
	assert.Len(t, e.mem.Notifications("author"), 2)
}

func TestWarnUser_RecommendsBanWithoutBanning(t *testing.T) {
	e := newMemoryEngine(t)
	ctx := context.Background()
	e.mem.PutUser(&models.User{ID: "u1", Status: models.UserWarning, WarningCount: 4})
	seedUserReports(t, e, "u1", 3, 4)

	res, err := e.WarnUser(ctx, "admin-1", "u1", models.WarnUserRequest{PostID: "post-01", Message: "Please stop"})
	require.NoError(t, err)
	assert.Equal(t, 5, res.User.WarningCount)
	assert.Equal(t, models.UserWarning, res.User.Status)
	assert.True(t, res.BanRecommended)
	assert.NotEmpty(t, res.NotificationID)
	require.NotNil(t, res.Resolution)
	assert.Equal(t, 4, res.Resolution.Resolved)

	u, _ := e.mem.GetUser(ctx, "u1")
	assert.NotEqual(t, models.UserBanned, u.Status)

	notes := e.mem.Notifications("u1")
	require.Len(t, notes, 1)
	assert.Equal(t, "Please stop", notes[0].Message)
	assert.Equal(t, "admin-1", notes[0].AdminID)
}

func TestWarnUser_FirstWarning(t *testing.T) {
	e := newMemoryEngine(t)
	e.mem.PutUser(&models.User{ID: "u1"})

	res, err := e.WarnUser(context.Background(), "admin-1", "u1", models.WarnUserRequest{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.User.WarningCount)
	assert.Equal(t, models.UserWarning, res.User.Status)
	assert.False(t, res.BanRecommended)

	_, err = e.WarnUser(context.Background(), "admin-1", "ghost", models.WarnUserRequest{})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestSuspendUser_DefaultDuration(t *testing.T) {
	e := newMemoryEngine(t)
	ctx := context.Background()
	e.mem.PutUser(&models.User{ID: "u1"})

	res, err := e.SuspendUser(ctx, "admin-1", "u1", models.SuspendUserRequest{Reason: "spam"})
	require.NoError(t, err)
	assert.Equal(t, models.UserSuspended, res.User.Status)
	assert.Equal(t, 1, res.User.SuspendCount)
	require.NotNil(t, res.User.SuspendedUntil)
	assert.Equal(t, testNow.AddDate(0, 0, 7), *res.User.SuspendedUntil)
	assert.Equal(t, "spam", res.User.SuspensionReason)

	notes := e.mem.Notifications("u1")
	require.Len(t, notes, 1)
	assert.Equal(t, models.NotificationTemporaryBan, notes[0].Type)
	assert.Contains(t, notes[0].Message, "7 days")

	_, err = e.SuspendUser(ctx, "admin-1", "u1", models.SuspendUserRequest{DurationDays: -1, Reason: "x"})
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestBanUser(t *testing.T) {
	e := newMemoryEngine(t)
	ctx := context.Background()
	e.mem.PutUser(&models.User{ID: "u1", Status: models.UserSuspended})

	_, err := e.BanUser(ctx, "admin-1", "u1", models.BanUserRequest{})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)

	res, err := e.BanUser(ctx, "admin-1", "u1", models.BanUserRequest{Reason: "threats"})
	require.NoError(t, err)
	assert.Equal(t, models.UserBanned, res.User.Status)
	assert.Equal(t, "threats", res.User.BanReason)
	require.NotNil(t, res.User.BannedAt)

	_, err = e.BanUser(ctx, "admin-1", "u1", models.BanUserRequest{Reason: "again"})
	assert.ErrorIs(t, err, ErrInvalidTransition)
	_, err = e.SuspendUser(ctx, "admin-1", "u1", models.SuspendUserRequest{Reason: "x"})
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestSanction_PartialResolution(t *testing.T) {
	mem := storage.NewMemoryStore()
	store := &flakyStore{MemoryStore: mem, failChunkWith: "post-12"}
	e := newTestEngine(t, store, mem)
	ctx := context.Background()
	mem.PutUser(&models.User{ID: "u1"})
	seedUserReports(t, e, "u1", 15, 25)

	res, err := e.BanUser(ctx, "admin-1", "u1", models.BanUserRequest{Reason: "spam ring"})
	require.Error(t, err)
	var pbe *PartialBatchError
	require.ErrorAs(t, err, &pbe)
	assert.Len(t, pbe.Failures, 1)

	require.NotNil(t, res)
	assert.Equal(t, models.UserBanned, res.User.Status)
	assert.NotEmpty(t, res.NotificationID)
	assert.Equal(t, 20, res.Resolution.Resolved)

	u, _ := mem.GetUser(ctx, "u1")
	assert.Equal(t, models.UserBanned, u.Status)
}

func TestSanction_NotifyFailureKeepsStatus(t *testing.T) {
	mem := storage.NewMemoryStore()
	store := &flakyStore{MemoryStore: mem, failNotify: true}
	e := newTestEngine(t, store, mem)
	ctx := context.Background()
	mem.PutUser(&models.User{ID: "u1"})
	seedUserReports(t, e, "u1", 2, 2)

	res, err := e.SuspendUser(ctx, "admin-1", "u1", models.SuspendUserRequest{DurationDays: 3, Reason: "spam"})
	var serr *StepError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, stepNotifyUser, serr.Step)
	assert.Equal(t, []string{stepApplySanction}, serr.Completed)

	assert.Equal(t, models.UserSuspended, res.User.Status)
	assert.Equal(t, 2, res.Resolution.Resolved)
}

func TestResetWarnings(t *testing.T) {
	e := newMemoryEngine(t)
	ctx := context.Background()
	e.mem.PutUser(&models.User{ID: "u1", Status: models.UserWarning, WarningCount: 6})
	e.mem.PutUser(&models.User{ID: "u2", Status: models.UserSuspended, WarningCount: 2})

	u, err := e.ResetWarnings(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, u.WarningCount)
	assert.Equal(t, models.UserActive, u.Status)

	u, err = e.ResetWarnings(ctx, "u2")
	require.NoError(t, err)
	assert.Zero(t, u.WarningCount)
	assert.Equal(t, models.UserSuspended, u.Status)
}

func TestUpdateConfiguration_RefreshesThresholds(t *testing.T) {
	e := newMemoryEngine(t)
	ctx := context.Background()
	e.mem.PutPost(&models.Post{ID: "p1", UserID: "author", ReportCount: 4, CreatedAt: testNow})

	sev, err := e.PostSeverity(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, AggregateNormal, sev.Severity)

	_, err = e.UpdateConfiguration(ctx, models.ConfigurationUpdate{
		ReportThresholds: &models.ReportThresholds{Normal: 1, Warning: 2, Urgent: 4},
	}, "admin-1")
	require.NoError(t, err)

	sev, err = e.PostSeverity(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, AggregateUrgent, sev.Severity)

	logs, err := e.ConfigurationLog(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, logs, 2)
}

func TestPostExpiryFollowsConfiguredWindow(t *testing.T) {
	e := newMemoryEngine(t)
	ctx := context.Background()
	e.mem.PutPost(&models.Post{ID: "p1", UserID: "u", CreatedAt: testNow.Add(-3 * time.Hour)})

	res, err := e.SweepPostExpiry(ctx)
	require.NoError(t, err)
	assert.Empty(t, res.Transitioned)

	_, err = e.UpdateConfiguration(ctx, models.ConfigurationUpdate{PostVisibilityDurationHours: intPtr(2)}, "admin-1")
	require.NoError(t, err)

	res, err = e.SweepPostExpiry(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"p1"}, res.Transitioned)
}
