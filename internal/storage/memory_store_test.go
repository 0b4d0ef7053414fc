package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campuspulse/console/internal/models"
)

var base = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func TestCountReport_OnlyOnce(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	s.PutPost(&models.Post{ID: "p1", UserID: "u1", CreatedAt: base})
	require.NoError(t, s.CreateReport(ctx, &models.Report{ID: "r1", PostID: "p1"}))

	n, counted, err := s.CountReport(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.True(t, counted)

	n, counted, err = s.CountReport(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.False(t, counted)

	require.NoError(t, s.CreateReport(ctx, &models.Report{ID: "orphan", PostID: "gone"}))
	_, _, err = s.CountReport(ctx, "orphan")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, s.CreateReport(ctx, &models.Report{ID: "r1", PostID: "p1"}), ErrAlreadyExists)
}

func TestRemovePost_StampsOnce(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	s.PutPost(&models.Post{ID: "p1", UserID: "u1", CreatedAt: base})

	removed, err := s.RemovePost(ctx, "p1", "r1", "first", base)
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = s.RemovePost(ctx, "p1", "r2", "second", base.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, removed)

	p, _ := s.GetPost(ctx, "p1")
	assert.Equal(t, "first", p.RemovedReason)
	assert.Equal(t, "r1", p.RemovedByReport)
	assert.Equal(t, base, *p.RemovedAt)
}

func TestResolvePendingReportsForPosts(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.CreateReport(ctx, &models.Report{ID: "a", PostID: "p1"}))
	require.NoError(t, s.CreateReport(ctx, &models.Report{ID: "b", PostID: "p2", Status: models.ReportDismissed}))
	require.NoError(t, s.CreateReport(ctx, &models.Report{ID: "c", PostID: "p3"}))

	n, err := s.ResolvePendingReportsForPosts(ctx, []string{"p1", "p2"}, base)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	b, _ := s.GetReport(ctx, "b")
	assert.Equal(t, models.ReportDismissed, b.Status)
	c, _ := s.GetReport(ctx, "c")
	assert.Equal(t, models.ReportPending, c.Status)

	ids := make([]string, InQueryLimit+1)
	for i := range ids {
		ids[i] = fmt.Sprintf("p%d", i)
	}
	_, err = s.ResolvePendingReportsForPosts(ctx, ids, base)
	assert.ErrorIs(t, err, ErrConflict)
}

func TestTransitionDueAnnouncements_Rechecks(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	for id, st := range map[string]models.AnnouncementStatus{
		"due":      models.AnnouncementScheduled,
		"declined": models.AnnouncementDeclined,
	} {
		require.NoError(t, s.CreateAnnouncement(ctx, &models.Announcement{
			ID: id, Status: st, StartDate: base.Add(-time.Hour), EndDate: base.Add(time.Hour),
		}))
	}

	moved, err := s.TransitionDueAnnouncements(ctx, []string{"due", "declined", "missing"}, models.AnnouncementScheduled, models.AnnouncementActive, base, base)
	require.NoError(t, err)
	assert.Equal(t, []string{"due"}, moved)

	// A second overlapping batch finds nothing left to move.
	moved, err = s.TransitionDueAnnouncements(ctx, []string{"due"}, models.AnnouncementScheduled, models.AnnouncementActive, base, base)
	require.NoError(t, err)
	assert.Empty(t, moved)

	a, _ := s.GetAnnouncement(ctx, "due")
	assert.Equal(t, models.AnnouncementActive, a.Status)
	require.NotNil(t, a.ActivatedAt)
}

func TestTransitionAnnouncement_LegacyRejected(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.CreateAnnouncement(ctx, &models.Announcement{ID: "a1", Status: "rejected"}))

	a, err := s.GetAnnouncement(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, models.AnnouncementDeclined, a.Status)

	_, err = s.TransitionAnnouncement(ctx, "a1", []models.AnnouncementStatus{models.AnnouncementPending}, models.AnnouncementScheduled, base)
	assert.ErrorIs(t, err, ErrConflict)
	_, err = s.TransitionAnnouncement(ctx, "nope", []models.AnnouncementStatus{models.AnnouncementPending}, models.AnnouncementScheduled, base)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestWatchNewReports_ReplaysPending(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.CreateReport(ctx, &models.Report{ID: "old", PostID: "p1", CreatedAt: base}))
	require.NoError(t, s.CreateReport(ctx, &models.Report{ID: "done", PostID: "p1", Status: models.ReportResolved, CreatedAt: base}))

	var seen []string
	stop, err := s.WatchNewReports(ctx, func(r *models.Report) { seen = append(seen, r.ID) }, nil)
	require.NoError(t, err)

	require.NoError(t, s.CreateReport(ctx, &models.Report{ID: "new", PostID: "p1", CreatedAt: base}))
	stop()
	require.NoError(t, s.CreateReport(ctx, &models.Report{ID: "after", PostID: "p1", CreatedAt: base}))

	assert.Equal(t, []string{"old", "new"}, seen)
}

func TestFileStore_PersistsAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := NewFileStore(dir)
	require.NoError(t, err)
	s.PutUser(&models.User{ID: "u1", Role: models.RoleAdmin, FCMToken: "device-token"})
	s.PutPost(&models.Post{ID: "p1", UserID: "u1", CreatedAt: base})
	cfg := models.DefaultConfiguration()
	require.NoError(t, s.SaveConfiguration(ctx, &cfg, []models.ConfigurationChangeLog{{Field: "banThreshold", OldValue: "5", NewValue: "5"}}))
	require.NoError(t, s.CreateNotification(ctx, &models.Notification{ID: "n1", UserID: "u1", Type: models.NotificationWarning}))
	require.NoError(t, s.CreateReport(ctx, &models.Report{ID: "r1", PostID: "p1", CreatedAt: base}))
	n, counted, err := s.CountReport(ctx, "r1")
	require.NoError(t, err)
	require.True(t, counted)
	require.Equal(t, 1, n)

	reopened, err := NewFileStore(dir)
	require.NoError(t, err)

	u, err := reopened.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "device-token", u.FCMToken)

	admins, err := reopened.ListAdminIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, admins)

	// A report replayed after the restart is not counted again.
	n, counted, err = reopened.CountReport(ctx, "r1")
	require.NoError(t, err)
	assert.False(t, counted)
	assert.Equal(t, 1, n)
	p, err := reopened.GetPost(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 1, p.ReportCount)
	got, err := reopened.GetConfiguration(ctx)
	require.NoError(t, err)
	assert.Equal(t, cfg.BanThreshold, got.BanThreshold)

	logs, err := reopened.ListConfigurationLogs(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, logs, 1)

	assert.ErrorIs(t, reopened.CreateNotification(ctx, &models.Notification{ID: "n1", UserID: "u1"}), ErrAlreadyExists)
	unread, err := reopened.CountUnreadNotifications(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, unread)
}

func TestJSONStore(t *testing.T) {
	dir := t.TempDir()
	js, err := NewJSONStore(dir, "state.json")
	require.NoError(t, err)

	var empty map[string]int
	require.NoError(t, js.Load(&empty))
	assert.Nil(t, empty)

	require.NoError(t, js.Save(map[string]int{"a": 1}))
	assert.FileExists(t, filepath.Join(dir, "state.json"))
	leftovers, err := filepath.Glob(filepath.Join(dir, "*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)

	var got map[string]int
	require.NoError(t, js.Load(&got))
	assert.Equal(t, map[string]int{"a": 1}, got)
}
