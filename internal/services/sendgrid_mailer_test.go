package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campuspulse/console/internal/models"
)

func TestSendGridMailer_Configured(t *testing.T) {
	assert.False(t, NewSendGridMailer("", "ops@campus.edu", []string{"a@campus.edu"}).Configured())
	assert.False(t, NewSendGridMailer("key", "", []string{"a@campus.edu"}).Configured())
	assert.False(t, NewSendGridMailer("key", "ops@campus.edu", []string{" ", ""}).Configured())
	assert.True(t, NewSendGridMailer(" key ", "ops@campus.edu", []string{"a@campus.edu"}).Configured())

	var nilMailer *SendGridMailer
	assert.False(t, nilMailer.Configured())
	assert.Error(t, nilMailer.SendUrgentAlert(context.Background(), UrgentAlert{}))

	err := NewSendGridMailer("", "ops@campus.edu", nil).SendUrgentAlert(context.Background(), UrgentAlert{})
	assert.ErrorContains(t, err, "SENDGRID_API_KEY")
}

func TestBuildUrgentAlertMail(t *testing.T) {
	msg := buildUrgentAlertMail("ops@campus.edu", []string{"a@campus.edu", "b@campus.edu"}, UrgentAlert{
		PostID:      "p1",
		AuthorID:    "author",
		ReportCount: 12,
		Threshold:   10,
		Category:    "spam",
	})

	assert.Equal(t, "Urgent moderation: post p1 has 12 reports", msg.Subject)
	assert.Equal(t, "ops@campus.edu", msg.From.Address)
	require.Len(t, msg.Personalizations, 1)
	assert.Len(t, msg.Personalizations[0].To, 2)
	assert.Equal(t, "p1", msg.Personalizations[0].CustomArgs["post_id"])
	require.Len(t, msg.Content, 1)
	assert.Contains(t, msg.Content[0].Value, "threshold (10)")
	assert.Contains(t, msg.Content[0].Value, "Latest category: spam")
}

func TestPushChannel(t *testing.T) {
	ch, cat := pushChannel(models.NotificationUrgentReport)
	assert.Equal(t, "admin_alerts", ch)
	assert.Equal(t, "URGENT_REPORT", cat)

	ch, _ = pushChannel(models.NotificationAnnouncementLive)
	assert.Equal(t, "announcements", ch)
}

func TestDeliveryError(t *testing.T) {
	err := &DeliveryError{Permanent: true, Err: assert.AnError}
	assert.True(t, isPermanentDeliveryError(err))
	assert.ErrorIs(t, err, assert.AnError)
	assert.Contains(t, err.Error(), "permanent")
	assert.False(t, isPermanentDeliveryError(&DeliveryError{Err: assert.AnError}))
	assert.False(t, isPermanentDeliveryError(assert.AnError))
}
