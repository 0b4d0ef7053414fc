package models

import "time"

type PostStatus string

const (
	PostActive  PostStatus = "active"
	PostRemoved PostStatus = "removed"
	PostExpired PostStatus = "expired"
)

type Post struct {
	ID            string     `json:"id" firestore:"-"`
	UserID        string     `json:"user_id" firestore:"userId"`
	Content       string     `json:"content" firestore:"content"`
	Status        PostStatus `json:"status" firestore:"status"`
	ReportCount   int        `json:"report_count" firestore:"reportCount"`
	CreatedAt     time.Time  `json:"created_at" firestore:"createdAt"`
	RemovedAt     *time.Time `json:"removed_at,omitempty" firestore:"removedAt"`
	RemovedReason string     `json:"removed_reason,omitempty" firestore:"removedReason"`
	// RemovedByReport is the report whose auto-removal took the post down.
	// Empty for admin removals.
	RemovedByReport string     `json:"removed_by_report,omitempty" firestore:"removedByReport"`
	ExpiredAt       *time.Time `json:"expired_at,omitempty" firestore:"expiredAt"`
}
