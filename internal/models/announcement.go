package models

import (
	"strings"
	"time"
)

type AnnouncementStatus string

const (
	AnnouncementPending   AnnouncementStatus = "pending"
	AnnouncementScheduled AnnouncementStatus = "scheduled"
	AnnouncementActive    AnnouncementStatus = "active"
	AnnouncementExpired   AnnouncementStatus = "expired"
	AnnouncementDeclined  AnnouncementStatus = "declined"
	AnnouncementRemoved   AnnouncementStatus = "removed"

	// announcementRejectedAlias is the legacy name some documents still carry
	// for the declined state.
	announcementRejectedAlias = "rejected"
)

// ParseAnnouncementStatus normalises a stored status, folding the legacy
// "rejected" value into declined.
func ParseAnnouncementStatus(raw string) AnnouncementStatus {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == announcementRejectedAlias {
		return AnnouncementDeclined
	}
	return AnnouncementStatus(s)
}

// Terminal reports whether no further transition is possible.
func (s AnnouncementStatus) Terminal() bool {
	return s == AnnouncementDeclined || s == AnnouncementRemoved
}

type Announcement struct {
	ID          string             `json:"id" firestore:"-"`
	AnnouncerID string             `json:"announcer_id" firestore:"announcerId"`
	Title       string             `json:"title" firestore:"title"`
	Body        string             `json:"body" firestore:"body"`
	Status      AnnouncementStatus `json:"status" firestore:"status"`
	IsUrgent    bool               `json:"is_urgent" firestore:"isUrgent"`
	StartDate   time.Time          `json:"start_date" firestore:"startDate"`
	EndDate     time.Time          `json:"end_date" firestore:"endDate"`
	CreatedAt   time.Time          `json:"created_at" firestore:"createdAt"`
	UpdatedAt   time.Time          `json:"updated_at" firestore:"updatedAt"`
	ApprovedAt  *time.Time         `json:"approved_at,omitempty" firestore:"approvedAt"`
	RejectedAt  *time.Time         `json:"rejected_at,omitempty" firestore:"rejectedAt"`
	ActivatedAt *time.Time         `json:"activated_at,omitempty" firestore:"activatedAt"`
	ExpiredAt   *time.Time         `json:"expired_at,omitempty" firestore:"expiredAt"`
	RemovedAt   *time.Time         `json:"removed_at,omitempty" firestore:"removedAt"`
}

type CreateAnnouncementRequest struct {
	AnnouncerID string    `json:"announcer_id"`
	Title       string    `json:"title"`
	Body        string    `json:"body"`
	IsUrgent    bool      `json:"is_urgent"`
	StartDate   time.Time `json:"start_date"`
	EndDate     time.Time `json:"end_date"`
}

func (r *CreateAnnouncementRequest) Validate() map[string]string {
	errors := make(map[string]string)

	if strings.TrimSpace(r.AnnouncerID) == "" {
		errors["announcer_id"] = "Announcer is required"
	}
	if strings.TrimSpace(r.Title) == "" {
		errors["title"] = "Title is required"
	}
	if r.StartDate.IsZero() {
		errors["start_date"] = "Start date is required"
	}
	if r.EndDate.IsZero() {
		errors["end_date"] = "End date is required"
	}
	if !r.EndDate.IsZero() && !r.StartDate.IsZero() && !r.StartDate.Before(r.EndDate) {
		errors["end_date"] = "End date must be after start date"
	}

	return errors
}
