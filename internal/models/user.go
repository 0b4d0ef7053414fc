package models

import (
	"time"
)

type UserStatus string

const (
	UserActive    UserStatus = "active"
	UserWarning   UserStatus = "warning"
	UserSuspended UserStatus = "suspended"
	UserBanned    UserStatus = "banned"
)

const RoleAdmin = "admin"

type User struct {
	ID               string     `json:"id" firestore:"-"`
	Email            string     `json:"email" firestore:"email"`
	DisplayName      string     `json:"display_name" firestore:"displayName"`
	Role             string     `json:"role" firestore:"role"`
	Status           UserStatus `json:"status" firestore:"status"`
	WarningCount     int        `json:"warning_count" firestore:"warningCount"`
	SuspendCount     int        `json:"suspend_count" firestore:"suspendCount"`
	LastWarningAt    *time.Time `json:"last_warning_at,omitempty" firestore:"lastWarningAt"`
	SuspendedAt      *time.Time `json:"suspended_at,omitempty" firestore:"suspendedAt"`
	SuspendedUntil   *time.Time `json:"suspended_until,omitempty" firestore:"suspendedUntil"`
	SuspensionReason string     `json:"suspension_reason,omitempty" firestore:"suspensionReason"`
	BannedAt         *time.Time `json:"banned_at,omitempty" firestore:"bannedAt"`
	BanReason        string     `json:"ban_reason,omitempty" firestore:"banReason"`
	FCMToken         string     `json:"-" firestore:"fcmToken"`
	UpdatedAt        time.Time  `json:"updated_at" firestore:"updatedAt"`
}

// UserSanction is applied by the sanction flows. Nil pointers are left
// unchanged.
type UserSanction struct {
	Status           UserStatus
	SuspendedAt      *time.Time
	SuspendedUntil   *time.Time
	SuspensionReason *string
	BannedAt         *time.Time
	BanReason        *string
	IncSuspendCount  bool
	ResetWarnings    bool
	UpdatedAt        time.Time
}

type WarnUserRequest struct {
	PostID  string `json:"post_id"`
	Message string `json:"message"`
}

type SuspendUserRequest struct {
	DurationDays int    `json:"duration_days"`
	Reason       string `json:"reason"`
}

func (r *SuspendUserRequest) Validate() map[string]string {
	errors := make(map[string]string)

	if r.DurationDays < 0 {
		errors["duration_days"] = "Duration cannot be negative"
	}
	if r.Reason == "" {
		errors["reason"] = "Reason is required"
	}

	return errors
}

type BanUserRequest struct {
	Reason string `json:"reason"`
}

func (r *BanUserRequest) Validate() map[string]string {
	errors := make(map[string]string)

	if r.Reason == "" {
		errors["reason"] = "Reason is required"
	}

	return errors
}
