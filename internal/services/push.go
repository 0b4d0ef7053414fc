package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"firebase.google.com/go/v4/errorutils"
	"firebase.google.com/go/v4/messaging"

	"github.com/campuspulse/console/internal/models"
)

// PushMessage is one platform push for a single device token.
type PushMessage struct {
	Token          string
	NotificationID string
	Type           models.NotificationType
	Title          string
	Body           string
	Badge          int
	RelatedPostID  string
}

// PushSender delivers a push and returns the transport's message id.
// Failures should be returned as *DeliveryError so permanent token problems
// can be told apart from transient ones.
type PushSender interface {
	Send(ctx context.Context, msg PushMessage) (string, error)
}

// DeliveryError is a failed push. Permanent means the token will never work
// again and should be deleted.
type DeliveryError struct {
	Permanent bool
	Err       error
}

func (e *DeliveryError) Error() string {
	kind := "transient"
	if e.Permanent {
		kind = "permanent"
	}
	return fmt.Sprintf("push delivery failed (%s): %v", kind, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

func isPermanentDeliveryError(err error) bool {
	var de *DeliveryError
	return errors.As(err, &de) && de.Permanent
}

// pushChannel returns the Android channel and APNS category for a type.
func pushChannel(t models.NotificationType) (channel, category string) {
	switch t {
	case models.NotificationWarning:
		return "moderation", "WARNING"
	case models.NotificationTemporaryBan, models.NotificationPermanentBan:
		return "moderation", "ACCOUNT_STATUS"
	case models.NotificationPostRemoved:
		return "moderation", "POST_REMOVED"
	case models.NotificationUrgentReport:
		return "admin_alerts", "URGENT_REPORT"
	default:
		return "announcements", "ANNOUNCEMENT"
	}
}

// FCMSender delivers pushes through Firebase Cloud Messaging.
type FCMSender struct {
	client *messaging.Client
}

func NewFCMSender(client *messaging.Client) *FCMSender {
	return &FCMSender{client: client}
}

func (s *FCMSender) Send(ctx context.Context, msg PushMessage) (string, error) {
	channel, category := pushChannel(msg.Type)
	badge := msg.Badge

	data := map[string]string{
		"notificationId": msg.NotificationID,
		"type":           string(msg.Type),
		"badge":          strconv.Itoa(badge),
	}
	if msg.RelatedPostID != "" {
		data["relatedPostId"] = msg.RelatedPostID
	}

	id, err := s.client.Send(ctx, &messaging.Message{
		Token: msg.Token,
		Notification: &messaging.Notification{
			Title: msg.Title,
			Body:  msg.Body,
		},
		Data: data,
		Android: &messaging.AndroidConfig{
			Priority: "high",
			Notification: &messaging.AndroidNotification{
				ChannelID: channel,
			},
		},
		APNS: &messaging.APNSConfig{
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{
					Badge:    &badge,
					Category: category,
					Sound:    "default",
				},
			},
		},
	})
	if err != nil {
		permanent := messaging.IsUnregistered(err) ||
			messaging.IsSenderIDMismatch(err) ||
			errorutils.IsInvalidArgument(err)
		return "", &DeliveryError{Permanent: permanent, Err: err}
	}
	return id, nil
}
