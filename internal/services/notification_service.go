package services

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"

	"github.com/campuspulse/console/internal/models"
	"github.com/campuspulse/console/internal/storage"
)

const (
	pushBodyLimit       = 100
	tokenPreviewLength  = 12
	defaultWarningTitle = "Community Guidelines Warning"
	defaultWarningText  = "Your recent activity was reported and reviewed by our moderators. Please review the community guidelines; repeated violations may lead to a suspension."
)

// DispatchRequest is a notification to record and deliver. When
// IdempotencyKey is set it becomes the notification id, so dispatching the
// same key twice yields one record and one delivery.
type DispatchRequest struct {
	UserID         string
	Type           models.NotificationType
	Title          string
	Message        string
	RelatedPostID  string
	AdminID        string
	IdempotencyKey string
}

// NotificationService records notifications and makes a best-effort push
// delivery for each one.
type NotificationService struct {
	store   storage.Store
	push    PushSender
	metrics *Metrics
	logger  *zap.Logger
	timeout time.Duration
	now     func() time.Time
}

// NewNotificationService builds the dispatcher. push may be nil, in which
// case notifications are recorded but never delivered.
func NewNotificationService(store storage.Store, push PushSender, metrics *Metrics, logger *zap.Logger, deliveryTimeout time.Duration) *NotificationService {
	if deliveryTimeout <= 0 {
		deliveryTimeout = 10 * time.Second
	}
	return &NotificationService{
		store:   store,
		push:    push,
		metrics: metrics,
		logger:  logger,
		timeout: deliveryTimeout,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// notificationKey joins parts into a document-safe deterministic id.
func notificationKey(parts ...string) string {
	clean := make([]string, 0, len(parts))
	for _, p := range parts {
		clean = append(clean, strings.ReplaceAll(p, "/", "-"))
	}
	return strings.Join(clean, "_")
}

// Dispatch creates the notification record and then attempts delivery.
// Delivery problems are logged and never returned.
func (s *NotificationService) Dispatch(ctx context.Context, req DispatchRequest) (string, error) {
	id, _, err := s.dispatch(ctx, req)
	return id, err
}

// dispatch also reports whether this call created the record, as opposed to
// finding one already stored under the idempotency key.
func (s *NotificationService) dispatch(ctx context.Context, req DispatchRequest) (string, bool, error) {
	fields := make(map[string]string)
	if strings.TrimSpace(req.UserID) == "" {
		fields["user_id"] = "User is required"
	}
	if req.Type == "" {
		fields["type"] = "Type is required"
	}
	if strings.TrimSpace(req.Title) == "" {
		fields["title"] = "Title is required"
	}
	if len(fields) > 0 {
		return "", false, NewValidationError(fields)
	}

	id := req.IdempotencyKey
	if id == "" {
		id = uuid.New().String()
	}
	n := &models.Notification{
		ID:            id,
		UserID:        req.UserID,
		Type:          req.Type,
		Title:         req.Title,
		Message:       req.Message,
		RelatedPostID: req.RelatedPostID,
		AdminID:       req.AdminID,
		CreatedAt:     s.now(),
		IsRead:        false,
	}

	if err := s.store.CreateNotification(ctx, n); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) && req.IdempotencyKey != "" {
			s.logger.Debug("notification already recorded",
				zap.String("notification_id", id),
				zap.String("type", string(req.Type)),
			)
			return id, false, nil
		}
		return "", false, fmt.Errorf("create notification: %w", err)
	}
	s.metrics.NotificationCreated(string(n.Type))

	s.deliver(ctx, n)
	return n.ID, true, nil
}

func (s *NotificationService) deliver(ctx context.Context, n *models.Notification) {
	log := s.logger.With(
		zap.String("notification_id", n.ID),
		zap.String("user_id", n.UserID),
		zap.String("type", string(n.Type)),
	)

	user, err := s.store.GetUser(ctx, n.UserID)
	if err != nil {
		log.Warn("push skipped: user lookup failed", zap.Error(err))
		s.appendLog(ctx, n, models.DeliverySkipped, "", "", err.Error(), false)
		return
	}
	if user.FCMToken == "" || s.push == nil {
		log.Debug("push skipped: no token")
		s.appendLog(ctx, n, models.DeliverySkipped, "", "", "no push token", false)
		return
	}

	badge, err := s.store.CountUnreadNotifications(ctx, n.UserID)
	if err != nil {
		log.Warn("unread count failed", zap.Error(err))
		badge = 0
	}

	sendCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	msgID, err := s.push.Send(sendCtx, PushMessage{
		Token:          user.FCMToken,
		NotificationID: n.ID,
		Type:           n.Type,
		Title:          n.Title,
		Body:           TruncatePushBody(n.Message),
		Badge:          badge,
		RelatedPostID:  n.RelatedPostID,
	})
	if err == nil {
		s.metrics.PushDelivery(string(models.DeliverySent))
		s.appendLog(ctx, n, models.DeliverySent, user.FCMToken, msgID, "", false)
		log.Debug("push delivered", zap.String("message_id", msgID))
		return
	}

	s.metrics.PushDelivery(string(models.DeliveryFailed))
	removed := false
	if isPermanentDeliveryError(err) {
		if cerr := s.store.ClearPushToken(ctx, n.UserID); cerr != nil {
			log.Error("push token cleanup failed", zap.Error(cerr))
		} else {
			removed = true
			s.metrics.PushTokenRemoved()
		}
	}
	log.Warn("push delivery failed", zap.Error(err), zap.Bool("token_removed", removed))
	s.appendLog(ctx, n, models.DeliveryFailed, user.FCMToken, "", err.Error(), removed)
}

func (s *NotificationService) appendLog(ctx context.Context, n *models.Notification, status models.DeliveryStatus, token, msgID, errMsg string, removed bool) {
	entry := &models.NotificationLog{
		NotificationID: n.ID,
		UserID:         n.UserID,
		Type:           n.Type,
		Status:         status,
		MessageID:      msgID,
		Error:          errMsg,
		TokenRemoved:   removed,
		CreatedAt:      s.now(),
	}
	if token != "" {
		entry.TokenPreview = tokenPreview(token)
		entry.TokenHash = tokenHash(token)
	}
	if err := s.store.AppendNotificationLog(ctx, entry); err != nil {
		s.logger.Warn("notification log write failed",
			zap.String("notification_id", n.ID),
			zap.Error(err),
		)
	}
}

// TruncatePushBody caps a push body at 100 runes, ending long bodies with an
// ellipsis.
func TruncatePushBody(body string) string {
	if utf8.RuneCountInString(body) <= pushBodyLimit {
		return body
	}
	r := []rune(body)
	return string(r[:pushBodyLimit-3]) + "..."
}

func tokenPreview(token string) string {
	if len(token) <= tokenPreviewLength {
		return token
	}
	return token[:tokenPreviewLength] + "..."
}

func tokenHash(token string) string {
	sum := blake2b.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Canned notices

// SendWarning sends a community-guidelines warning. An empty message uses
// the default text.
func (s *NotificationService) SendWarning(ctx context.Context, userID, postID, message, adminID string) (string, error) {
	text := strings.TrimSpace(message)
	if text == "" {
		text = defaultWarningText
	}
	return s.Dispatch(ctx, DispatchRequest{
		UserID:        userID,
		Type:          models.NotificationWarning,
		Title:         defaultWarningTitle,
		Message:       text,
		RelatedPostID: postID,
		AdminID:       adminID,
	})
}

func (s *NotificationService) SendTemporaryBan(ctx context.Context, userID string, durationDays int, reason, adminID string) (string, error) {
	unit := "days"
	if durationDays == 1 {
		unit = "day"
	}
	return s.Dispatch(ctx, DispatchRequest{
		UserID:  userID,
		Type:    models.NotificationTemporaryBan,
		Title:   "Account Temporarily Suspended",
		Message: fmt.Sprintf("Your account has been suspended for %d %s. Reason: %s", durationDays, unit, reason),
		AdminID: adminID,
	})
}

func (s *NotificationService) SendPermanentBan(ctx context.Context, userID, reason, adminID string) (string, error) {
	return s.Dispatch(ctx, DispatchRequest{
		UserID:  userID,
		Type:    models.NotificationPermanentBan,
		Title:   "Account Permanently Banned",
		Message: fmt.Sprintf("Your account has been permanently banned. Reason: %s", reason),
		AdminID: adminID,
	})
}

// SendPostRemoved tells the author a post was taken down. It is keyed by
// post, so an author hears about each removed post once.
func (s *NotificationService) SendPostRemoved(ctx context.Context, userID, postID, reason string) (string, error) {
	return s.Dispatch(ctx, DispatchRequest{
		UserID:         userID,
		Type:           models.NotificationPostRemoved,
		Title:          "Post Removed",
		Message:        "Your post was removed: " + reason,
		RelatedPostID:  postID,
		IdempotencyKey: notificationKey("post-removed", postID),
	})
}

// SendUrgentReport alerts one admin that a post reached the urgent
// threshold. One record exists per (post, admin); created is false when the
// admin had already been told.
func (s *NotificationService) SendUrgentReport(ctx context.Context, adminID, postID string, count int) (id string, created bool, err error) {
	return s.dispatch(ctx, DispatchRequest{
		UserID:         adminID,
		Type:           models.NotificationUrgentReport,
		Title:          "Urgent: post needs review",
		Message:        fmt.Sprintf("Post %s has received %d reports and needs immediate review.", postID, count),
		RelatedPostID:  postID,
		IdempotencyKey: notificationKey("urgent", postID, adminID),
	})
}

var announcementNotices = map[models.AnnouncementStatus]struct {
	typ   models.NotificationType
	title string
	text  string
}{
	models.AnnouncementScheduled: {models.NotificationAnnouncementApproved, "Announcement approved", "Your announcement %q was approved and will go live on schedule."},
	models.AnnouncementDeclined:  {models.NotificationAnnouncementDeclined, "Announcement declined", "Your announcement %q was declined by a moderator."},
	models.AnnouncementRemoved:   {models.NotificationAnnouncementRemoved, "Announcement removed", "Your announcement %q was removed by a moderator."},
	models.AnnouncementActive:    {models.NotificationAnnouncementLive, "Announcement is live", "Your announcement %q is now live."},
	models.AnnouncementExpired:   {models.NotificationAnnouncementExpired, "Announcement expired", "Your announcement %q has ended."},
}

// SendAnnouncementStatus tells the announcer that their announcement entered
// its current status. One record exists per (announcement, status).
func (s *NotificationService) SendAnnouncementStatus(ctx context.Context, a *models.Announcement) (string, error) {
	notice, ok := announcementNotices[a.Status]
	if !ok {
		return "", fmt.Errorf("no notice for announcement status %q", a.Status)
	}
	return s.Dispatch(ctx, DispatchRequest{
		UserID:         a.AnnouncerID,
		Type:           notice.typ,
		Title:          notice.title,
		Message:        fmt.Sprintf(notice.text, a.Title),
		IdempotencyKey: notificationKey("announcement", a.ID, string(a.Status)),
	})
}
