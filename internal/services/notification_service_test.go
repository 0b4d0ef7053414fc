package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/campuspulse/console/internal/models"
	"github.com/campuspulse/console/internal/storage"
)

func newTestNotifier(push PushSender) (*NotificationService, *storage.MemoryStore) {
	mem := storage.NewMemoryStore()
	s := NewNotificationService(mem, push, NewMetrics(prometheus.NewRegistry()), zap.NewNop(), 0)
	return s, mem
}

func TestTruncatePushBody(t *testing.T) {
	short := strings.Repeat("a", 100)
	assert.Equal(t, short, TruncatePushBody(short))

	long := strings.Repeat("b", 101)
	got := TruncatePushBody(long)
	assert.Equal(t, 100, utf8.RuneCountInString(got))
	assert.True(t, strings.HasSuffix(got, "..."))
	assert.Equal(t, strings.Repeat("b", 97), strings.TrimSuffix(got, "..."))

	multi := strings.Repeat("é", 150)
	assert.Equal(t, 100, utf8.RuneCountInString(TruncatePushBody(multi)))
}

func TestDispatch_DeliversAndLogs(t *testing.T) {
	push := &fakePush{}
	s, mem := newTestNotifier(push)
	ctx := context.Background()
	mem.PutUser(&models.User{ID: "u1", FCMToken: "fcm-token-0123456789"})

	id, err := s.Dispatch(ctx, DispatchRequest{
		UserID:  "u1",
		Type:    models.NotificationWarning,
		Title:   "Heads up",
		Message: strings.Repeat("x", 150),
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	sent := push.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "fcm-token-0123456789", sent[0].Token)
	assert.Equal(t, 1, sent[0].Badge)
	assert.Equal(t, 100, utf8.RuneCountInString(sent[0].Body))

	logs := mem.NotificationLogs()
	require.Len(t, logs, 1)
	assert.Equal(t, models.DeliverySent, logs[0].Status)
	assert.Equal(t, "fcm-token-01...", logs[0].TokenPreview)
	assert.Len(t, logs[0].TokenHash, 64)
	assert.Equal(t, "msg-1", logs[0].MessageID)

	// The stored record keeps the full message.
	n, err := mem.GetNotification(ctx, id)
	require.NoError(t, err)
	assert.Len(t, n.Message, 150)
	assert.False(t, n.IsRead)
}

func TestDispatch_NoTokenIsSkipped(t *testing.T) {
	push := &fakePush{}
	s, mem := newTestNotifier(push)
	mem.PutUser(&models.User{ID: "u1"})

	_, err := s.Dispatch(context.Background(), DispatchRequest{UserID: "u1", Type: models.NotificationWarning, Title: "t"})
	require.NoError(t, err)
	assert.Empty(t, push.Sent())

	logs := mem.NotificationLogs()
	require.Len(t, logs, 1)
	assert.Equal(t, models.DeliverySkipped, logs[0].Status)
	assert.Len(t, mem.Notifications("u1"), 1)
}

func TestDispatch_PermanentFailureClearsToken(t *testing.T) {
	push := &fakePush{err: &DeliveryError{Permanent: true, Err: errors.New("unregistered")}}
	s, mem := newTestNotifier(push)
	ctx := context.Background()
	mem.PutUser(&models.User{ID: "u1", FCMToken: "stale-token-xyz"})

	_, err := s.Dispatch(ctx, DispatchRequest{UserID: "u1", Type: models.NotificationWarning, Title: "t"})
	require.NoError(t, err)

	u, err := mem.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, u.FCMToken)

	logs := mem.NotificationLogs()
	require.Len(t, logs, 1)
	assert.Equal(t, models.DeliveryFailed, logs[0].Status)
	assert.True(t, logs[0].TokenRemoved)
	assert.Contains(t, logs[0].Error, "unregistered")
}

func TestDispatch_TransientFailureKeepsToken(t *testing.T) {
	push := &fakePush{err: errors.New("timeout")}
	s, mem := newTestNotifier(push)
	ctx := context.Background()
	mem.PutUser(&models.User{ID: "u1", FCMToken: "good-token"})

	_, err := s.Dispatch(ctx, DispatchRequest{UserID: "u1", Type: models.NotificationWarning, Title: "t"})
	require.NoError(t, err)

	u, _ := mem.GetUser(ctx, "u1")
	assert.Equal(t, "good-token", u.FCMToken)
	assert.False(t, mem.NotificationLogs()[0].TokenRemoved)
}

func TestDispatch_IdempotencyKey(t *testing.T) {
	push := &fakePush{}
	s, mem := newTestNotifier(push)
	ctx := context.Background()
	mem.PutUser(&models.User{ID: "admin", FCMToken: "admin-token"})

	id1, created, err := s.SendUrgentReport(ctx, "admin", "posts/p1", 10)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "urgent_posts-p1_admin", id1)

	id2, created, err := s.SendUrgentReport(ctx, "admin", "posts/p1", 11)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, id1, id2)

	assert.Len(t, mem.Notifications("admin"), 1)
	assert.Len(t, push.Sent(), 1)
}

func TestDispatch_Validation(t *testing.T) {
	s, _ := newTestNotifier(nil)
	_, err := s.Dispatch(context.Background(), DispatchRequest{})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "user_id")
	assert.Contains(t, verr.Fields, "type")
	assert.Contains(t, verr.Fields, "title")
}

func TestCannedNotices(t *testing.T) {
	s, mem := newTestNotifier(nil)
	ctx := context.Background()

	_, err := s.SendWarning(ctx, "u1", "p1", "", "admin")
	require.NoError(t, err)
	_, err = s.SendTemporaryBan(ctx, "u1", 1, "spam", "admin")
	require.NoError(t, err)
	_, err = s.SendPermanentBan(ctx, "u1", "threats", "admin")
	require.NoError(t, err)

	notes := mem.Notifications("u1")
	require.Len(t, notes, 3)
	byType := map[models.NotificationType]*models.Notification{}
	for _, n := range notes {
		byType[n.Type] = n
	}
	assert.Equal(t, defaultWarningText, byType[models.NotificationWarning].Message)
	assert.Equal(t, "p1", byType[models.NotificationWarning].RelatedPostID)
	assert.Contains(t, byType[models.NotificationTemporaryBan].Message, "1 day.")
	assert.Contains(t, byType[models.NotificationPermanentBan].Message, "threats")
	assert.Equal(t, "admin", byType[models.NotificationPermanentBan].AdminID)

	_, err = s.SendAnnouncementStatus(ctx, &models.Announcement{ID: "a1", AnnouncerID: "u2", Status: models.AnnouncementPending})
	assert.Error(t, err)
}
