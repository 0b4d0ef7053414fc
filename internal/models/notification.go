package models

import "time"

type NotificationType string

const (
	NotificationWarning              NotificationType = "warning"
	NotificationTemporaryBan         NotificationType = "temporary_ban"
	NotificationPermanentBan         NotificationType = "permanent_ban"
	NotificationPostRemoved          NotificationType = "post_removed"
	NotificationUrgentReport         NotificationType = "urgent_report"
	NotificationAnnouncementApproved NotificationType = "announcement_approved"
	NotificationAnnouncementDeclined NotificationType = "announcement_declined"
	NotificationAnnouncementRemoved  NotificationType = "announcement_removed"
	NotificationAnnouncementLive     NotificationType = "announcement_live"
	NotificationAnnouncementExpired  NotificationType = "announcement_expired"
)

// Notification is immutable once written except for IsRead, which belongs to
// the recipient.
type Notification struct {
	ID            string           `json:"id" firestore:"-"`
	UserID        string           `json:"user_id" firestore:"userId"`
	Type          NotificationType `json:"type" firestore:"type"`
	Title         string           `json:"title" firestore:"title"`
	Message       string           `json:"message" firestore:"message"`
	RelatedPostID string           `json:"related_post_id,omitempty" firestore:"relatedPostId,omitempty"`
	AdminID       string           `json:"admin_id,omitempty" firestore:"adminId,omitempty"`
	CreatedAt     time.Time        `json:"created_at" firestore:"createdAt"`
	IsRead        bool             `json:"is_read" firestore:"isRead"`
}

type DeliveryStatus string

const (
	DeliverySent    DeliveryStatus = "sent"
	DeliveryFailed  DeliveryStatus = "failed"
	DeliverySkipped DeliveryStatus = "skipped"
)

// NotificationLog is the append-only audit trail of push delivery attempts.
type NotificationLog struct {
	ID             string           `json:"id" firestore:"-"`
	NotificationID string           `json:"notification_id" firestore:"notificationId"`
	UserID         string           `json:"user_id" firestore:"userId"`
	Type           NotificationType `json:"type" firestore:"type"`
	Status         DeliveryStatus   `json:"status" firestore:"status"`
	TokenPreview   string           `json:"token_preview,omitempty" firestore:"tokenPreview,omitempty"`
	TokenHash      string           `json:"token_hash,omitempty" firestore:"tokenHash,omitempty"`
	MessageID      string           `json:"message_id,omitempty" firestore:"messageId,omitempty"`
	Error          string           `json:"error,omitempty" firestore:"error,omitempty"`
	TokenRemoved   bool             `json:"token_removed" firestore:"tokenRemoved"`
	CreatedAt      time.Time        `json:"created_at" firestore:"createdAt"`
}
